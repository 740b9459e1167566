package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"gazette-pipeline/internal/model"
)

type ocrJobRow struct {
	ID               string         `db:"id"`
	DocumentID       string         `db:"document_id"`
	Status           string         `db:"status"`
	PagesProcessed   sql.NullInt64  `db:"pages_processed"`
	ProcessingTimeMs sql.NullInt64  `db:"processing_time_ms"`
	TextLength       sql.NullInt64  `db:"text_length"`
	ErrorCode        sql.NullString `db:"error_code"`
	ErrorMessage     sql.NullString `db:"error_message"`
	CreatedAt        sql.NullTime   `db:"created_at"`
	CompletedAt      sql.NullTime   `db:"completed_at"`
	Metadata         []byte         `db:"metadata"`
}

func (r ocrJobRow) toModel() model.OcrJob {
	j := model.OcrJob{
		ID:         r.ID,
		DocumentID: r.DocumentID,
		Status:     model.OcrJobStatus(r.Status),
		CreatedAt:  r.CreatedAt.Time,
		Metadata:   unmarshalMap(r.Metadata),
	}
	if r.PagesProcessed.Valid {
		v := int(r.PagesProcessed.Int64)
		j.PagesProcessed = &v
	}
	if r.ProcessingTimeMs.Valid {
		j.ProcessingTimeMs = &r.ProcessingTimeMs.Int64
	}
	if r.TextLength.Valid {
		v := int(r.TextLength.Int64)
		j.TextLength = &v
	}
	if r.ErrorCode.Valid {
		j.ErrorCode = &r.ErrorCode.String
	}
	if r.ErrorMessage.Valid {
		j.ErrorMessage = &r.ErrorMessage.String
	}
	if r.CompletedAt.Valid {
		j.CompletedAt = &r.CompletedAt.Time
	}
	return j
}

const ocrJobColumns = `id, document_id, status, pages_processed, processing_time_ms, text_length, error_code, error_message, created_at, completed_at, metadata`

// InsertOcrJob creates an OcrJob at status=processing, unique on
// (document_id, metadata->>'jobId'). On conflict it returns the existing
// row — the "race survivor" reuse path from spec §4.3.
func (s *Store) InsertOcrJob(ctx context.Context, documentID, messageJobID string, isRetry bool) (model.OcrJob, error) {
	meta, err := jsonMap(map[string]any{"jobId": messageJobID, "isRetry": isRetry})
	if err != nil {
		return model.OcrJob{}, wrap("InsertOcrJob marshal metadata", err)
	}
	id := uuid.New().String()

	var row ocrJobRow
	err = s.DB.GetContext(ctx, &row, `
		INSERT INTO ocr_jobs (id, document_id, status, created_at, metadata)
		VALUES ($1, $2, 'processing', now(), $3)
		ON CONFLICT (document_id, (metadata->>'jobId')) DO NOTHING
		RETURNING `+ocrJobColumns, id, documentID, meta)
	if err != nil {
		if err == sql.ErrNoRows {
			return s.GetOcrJobByMessageID(ctx, documentID, messageJobID)
		}
		return model.OcrJob{}, wrap("InsertOcrJob", err)
	}
	return row.toModel(), nil
}

// GetOcrJobByMessageID looks up the OcrJob for (documentID, messageJobID).
func (s *Store) GetOcrJobByMessageID(ctx context.Context, documentID, messageJobID string) (model.OcrJob, error) {
	var row ocrJobRow
	err := s.DB.GetContext(ctx, &row, `
		SELECT `+ocrJobColumns+` FROM ocr_jobs WHERE document_id = $1 AND metadata->>'jobId' = $2
	`, documentID, messageJobID)
	if err != nil {
		return model.OcrJob{}, wrap("GetOcrJobByMessageID", err)
	}
	return row.toModel(), nil
}

// CompleteOcrJob records the terminal state of an OcrJob.
func (s *Store) CompleteOcrJob(ctx context.Context, id string, status model.OcrJobStatus, pagesProcessed int, processingTimeMs int64, textLength int, errCode, errMsg *string) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE ocr_jobs
		SET status = $2, pages_processed = $3, processing_time_ms = $4, text_length = $5,
		    error_code = $6, error_message = $7, completed_at = now()
		WHERE id = $1
	`, id, status, pagesProcessed, processingTimeMs, textLength, errCode, errMsg)
	return wrap("CompleteOcrJob", err)
}

// --- OcrResult ---

type ocrResultRow struct {
	ID               string          `db:"id"`
	DocumentID       string          `db:"document_id"`
	ExtractedText    string          `db:"extracted_text"`
	TextLength       int             `db:"text_length"`
	ConfidenceScore  sql.NullFloat64 `db:"confidence_score"`
	LanguageDetected string          `db:"language_detected"`
	ProcessingMethod string          `db:"processing_method"`
	CreatedAt        sql.NullTime    `db:"created_at"`
	Metadata         []byte          `db:"metadata"`
}

func (r ocrResultRow) toModel() model.OcrResult {
	res := model.OcrResult{
		ID:               r.ID,
		DocumentID:       r.DocumentID,
		ExtractedText:    r.ExtractedText,
		TextLength:       r.TextLength,
		LanguageDetected: r.LanguageDetected,
		ProcessingMethod: r.ProcessingMethod,
		CreatedAt:        r.CreatedAt.Time,
		Metadata:         unmarshalMap(r.Metadata),
	}
	if r.ConfidenceScore.Valid {
		res.ConfidenceScore = &r.ConfidenceScore.Float64
	}
	return res
}

const ocrResultColumns = `id, document_id, extracted_text, text_length, confidence_score, language_detected, processing_method, created_at, metadata`

// InsertOcrResult stores the extracted text for a document. Callers retry
// this themselves per spec §4.3 step 4; this method performs a single
// attempt and returns any error untouched.
func (s *Store) InsertOcrResult(ctx context.Context, res model.OcrResult) (model.OcrResult, error) {
	meta, err := jsonMap(res.Metadata)
	if err != nil {
		return model.OcrResult{}, wrap("InsertOcrResult marshal metadata", err)
	}
	id := uuid.New().String()

	var row ocrResultRow
	err = s.DB.GetContext(ctx, &row, `
		INSERT INTO ocr_results (id, document_id, extracted_text, text_length, confidence_score, language_detected, processing_method, created_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), $8)
		RETURNING `+ocrResultColumns, id, res.DocumentID, res.ExtractedText, res.TextLength, res.ConfidenceScore, res.LanguageDetected, res.ProcessingMethod, meta)
	if err != nil {
		return model.OcrResult{}, wrap("InsertOcrResult", err)
	}
	return row.toModel(), nil
}

// GetOcrResultByDocument returns the (at most one, per invariant) success
// OcrResult for a document.
func (s *Store) GetOcrResultByDocument(ctx context.Context, documentID string) (model.OcrResult, error) {
	var row ocrResultRow
	err := s.DB.GetContext(ctx, &row, `
		SELECT `+ocrResultColumns+` FROM ocr_results WHERE document_id = $1 ORDER BY created_at DESC LIMIT 1
	`, documentID)
	if err != nil {
		return model.OcrResult{}, wrap("GetOcrResultByDocument", err)
	}
	return row.toModel(), nil
}

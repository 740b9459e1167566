package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"gazette-pipeline/internal/model"
)

type gazetteRow struct {
	ID              string         `db:"id"`
	PublicationDate sql.NullTime   `db:"publication_date"`
	EditionNumber   sql.NullString `db:"edition_number"`
	PDFURL          string         `db:"pdf_url"`
	PDFObjectKey    sql.NullString `db:"pdf_object_key"`
	IsExtraEdition  bool           `db:"is_extra_edition"`
	Power           string         `db:"power"`
	CreatedAt       sql.NullTime   `db:"created_at"`
	Status          string         `db:"status"`
	Metadata        []byte         `db:"metadata"`
}

func (r gazetteRow) toModel() model.GazetteRegistry {
	g := model.GazetteRegistry{
		ID:              r.ID,
		PublicationDate: r.PublicationDate.Time,
		PDFURL:          r.PDFURL,
		IsExtraEdition:  r.IsExtraEdition,
		Power:           model.GazettePower(r.Power),
		CreatedAt:       r.CreatedAt.Time,
		Status:          model.GazetteStatus(r.Status),
		Metadata:        unmarshalMap(r.Metadata),
	}
	if r.EditionNumber.Valid {
		g.EditionNumber = &r.EditionNumber.String
	}
	if r.PDFObjectKey.Valid {
		g.PDFObjectKey = &r.PDFObjectKey.String
	}
	return g
}

const gazetteColumns = `id, publication_date, edition_number, pdf_url, pdf_object_key,
	is_extra_edition, power, created_at, status, metadata`

// GetGazetteByURL looks up a GazetteRegistry row by its unique pdf_url.
func (s *Store) GetGazetteByURL(ctx context.Context, pdfURL string) (model.GazetteRegistry, error) {
	var row gazetteRow
	err := s.DB.GetContext(ctx, &row, `SELECT `+gazetteColumns+` FROM gazette_registry WHERE pdf_url = $1`, pdfURL)
	if err != nil {
		return model.GazetteRegistry{}, wrap("GetGazetteByURL", err)
	}
	return row.toModel(), nil
}

// GetGazette looks up a GazetteRegistry row by id.
func (s *Store) GetGazette(ctx context.Context, id string) (model.GazetteRegistry, error) {
	var row gazetteRow
	err := s.DB.GetContext(ctx, &row, `SELECT `+gazetteColumns+` FROM gazette_registry WHERE id = $1`, id)
	if err != nil {
		return model.GazetteRegistry{}, wrap("GetGazette", err)
	}
	return row.toModel(), nil
}

// InsertGazette creates a new registry row at status=pending. Callers are
// expected to have already checked GetGazetteByURL returned ErrNotFound;
// the unique index on pdf_url is the final backstop against a race, and a
// conflict here means another worker won — the caller should re-read.
func (s *Store) InsertGazette(ctx context.Context, c model.GazetteRegistry) (model.GazetteRegistry, error) {
	meta, err := jsonMap(c.Metadata)
	if err != nil {
		return model.GazetteRegistry{}, wrap("InsertGazette marshal metadata", err)
	}
	id := uuid.New().String()

	var row gazetteRow
	err = s.DB.GetContext(ctx, &row, `
		INSERT INTO gazette_registry (id, publication_date, edition_number, pdf_url, is_extra_edition, power, created_at, status, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, now(), 'pending', $7)
		ON CONFLICT (pdf_url) DO NOTHING
		RETURNING `+gazetteColumns, id, c.PublicationDate, c.EditionNumber, c.PDFURL, c.IsExtraEdition, c.Power, meta)
	if err != nil {
		if err == sql.ErrNoRows {
			// Conflict: someone else inserted this pdf_url concurrently.
			return s.GetGazetteByURL(ctx, c.PDFURL)
		}
		return model.GazetteRegistry{}, wrap("InsertGazette", err)
	}
	return row.toModel(), nil
}

// CASGazetteStatus updates status only if the current value is one of
// fromAny, implementing the conditional-UPDATE claim protocol from spec
// §4.3 / §9 without any application-level lock. Returns true if this call
// won the race.
func (s *Store) CASGazetteStatus(ctx context.Context, id string, fromAny []model.GazetteStatus, to model.GazetteStatus) (bool, error) {
	query, args := buildCASQuery(id, fromAny, to)
	res, err := s.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return false, wrap("CASGazetteStatus", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("CASGazetteStatus rows affected", err)
	}
	return n == 1, nil
}

func buildCASQuery(id string, fromAny []model.GazetteStatus, to model.GazetteStatus) (string, []any) {
	args := []any{id, to}
	placeholders := make([]string, 0, len(fromAny))
	for _, st := range fromAny {
		args = append(args, st)
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}
	query := `UPDATE gazette_registry SET status = $2 WHERE id = $1 AND status IN (` + strings.Join(placeholders, ", ") + `)`
	return query, args
}

// SetGazetteStatus force-sets status unconditionally (used for terminal
// transitions driven by the OCR result itself, e.g. success/failure, where
// no concurrent writer can disagree because the claim already serialized
// access).
func (s *Store) SetGazetteStatus(ctx context.Context, id string, status model.GazetteStatus) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE gazette_registry SET status = $2 WHERE id = $1`, id, status)
	return wrap("SetGazetteStatus", err)
}

// SetGazettePDFObjectKey records the object-store key once OCR has staged
// the PDF's canonical bytes.
func (s *Store) SetGazettePDFObjectKey(ctx context.Context, id, key string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE gazette_registry SET pdf_object_key = $2 WHERE id = $1`, id, key)
	return wrap("SetGazettePDFObjectKey", err)
}

// --- GazetteCrawl ---

type gazetteCrawlRow struct {
	ID               string         `db:"id"`
	JobID            string         `db:"job_id"`
	TerritoryID      string         `db:"territory_id"`
	SpiderID         string         `db:"spider_id"`
	GazetteID        string         `db:"gazette_id"`
	AnalysisResultID sql.NullString `db:"analysis_result_id"`
	Status           string         `db:"status"`
	ScrapedAt        sql.NullTime   `db:"scraped_at"`
	CreatedAt        sql.NullTime   `db:"created_at"`
}

func (r gazetteCrawlRow) toModel() model.GazetteCrawl {
	gc := model.GazetteCrawl{
		ID:          r.ID,
		JobID:       r.JobID,
		TerritoryID: r.TerritoryID,
		SpiderID:    r.SpiderID,
		GazetteID:   r.GazetteID,
		Status:      model.GazetteCrawlStatus(r.Status),
		ScrapedAt:   r.ScrapedAt.Time,
		CreatedAt:   r.CreatedAt.Time,
	}
	if r.AnalysisResultID.Valid {
		gc.AnalysisResultID = &r.AnalysisResultID.String
	}
	return gc
}

const gazetteCrawlColumns = `id, job_id, territory_id, spider_id, gazette_id, analysis_result_id, status, scraped_at, created_at`

// InsertGazetteCrawl creates a new GazetteCrawl row. job_id is unique; a
// redelivered CrawlMessage that already produced a GazetteCrawl for this
// candidate is a no-op reusing the existing row.
func (s *Store) InsertGazetteCrawl(ctx context.Context, gc model.GazetteCrawl) (model.GazetteCrawl, error) {
	id := uuid.New().String()
	var row gazetteCrawlRow
	err := s.DB.GetContext(ctx, &row, `
		INSERT INTO gazette_crawls (id, job_id, territory_id, spider_id, gazette_id, status, scraped_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (job_id) DO NOTHING
		RETURNING `+gazetteCrawlColumns, id, gc.JobID, gc.TerritoryID, gc.SpiderID, gc.GazetteID, gc.Status, gc.ScrapedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return s.GetGazetteCrawlByJobID(ctx, gc.JobID)
		}
		return model.GazetteCrawl{}, wrap("InsertGazetteCrawl", err)
	}
	return row.toModel(), nil
}

// GetGazetteCrawlByJobID looks up the (unique) GazetteCrawl for a given
// originating message jobId.
func (s *Store) GetGazetteCrawlByJobID(ctx context.Context, jobID string) (model.GazetteCrawl, error) {
	var row gazetteCrawlRow
	err := s.DB.GetContext(ctx, &row, `SELECT `+gazetteCrawlColumns+` FROM gazette_crawls WHERE job_id = $1`, jobID)
	if err != nil {
		return model.GazetteCrawl{}, wrap("GetGazetteCrawlByJobID", err)
	}
	return row.toModel(), nil
}

// GetGazetteCrawl looks up a GazetteCrawl by its own id.
func (s *Store) GetGazetteCrawl(ctx context.Context, id string) (model.GazetteCrawl, error) {
	var row gazetteCrawlRow
	err := s.DB.GetContext(ctx, &row, `SELECT `+gazetteCrawlColumns+` FROM gazette_crawls WHERE id = $1`, id)
	if err != nil {
		return model.GazetteCrawl{}, wrap("GetGazetteCrawl", err)
	}
	return row.toModel(), nil
}

// SetGazetteCrawlStatus updates the status of a single GazetteCrawl.
func (s *Store) SetGazetteCrawlStatus(ctx context.Context, id string, status model.GazetteCrawlStatus) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE gazette_crawls SET status = $2 WHERE id = $1`, id, status)
	return wrap("SetGazetteCrawlStatus", err)
}

// BulkFailGazetteCrawlsForGazette sets every GazetteCrawl referencing a
// gazette to failed, used when OCR produces no usable text.
func (s *Store) BulkFailGazetteCrawlsForGazette(ctx context.Context, gazetteID string) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `
		UPDATE gazette_crawls SET status = 'failed'
		WHERE gazette_id = $1 AND status NOT IN ('success', 'failed')
	`, gazetteID)
	if err != nil {
		return 0, wrap("BulkFailGazetteCrawlsForGazette", err)
	}
	n, err := res.RowsAffected()
	return n, wrap("BulkFailGazetteCrawlsForGazette rows affected", err)
}

// ListGazetteCrawlsForGazette returns every crawl referencing a gazette
// (used to fan out AnalysisMessages after a successful OCR).
func (s *Store) ListGazetteCrawlsForGazette(ctx context.Context, gazetteID string) ([]model.GazetteCrawl, error) {
	var rows []gazetteCrawlRow
	err := s.DB.SelectContext(ctx, &rows, `SELECT `+gazetteCrawlColumns+` FROM gazette_crawls WHERE gazette_id = $1`, gazetteID)
	if err != nil {
		return nil, wrap("ListGazetteCrawlsForGazette", err)
	}
	out := make([]model.GazetteCrawl, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// LinkGazetteCrawlAnalysis records the AnalysisResult that resolved a
// GazetteCrawl and flips it to success.
func (s *Store) LinkGazetteCrawlAnalysis(ctx context.Context, gazetteCrawlID, analysisResultID string) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE gazette_crawls SET analysis_result_id = $2, status = 'success' WHERE id = $1
	`, gazetteCrawlID, analysisResultID)
	return wrap("LinkGazetteCrawlAnalysis", err)
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	"gazette-pipeline/internal/model"
)

type analysisResultRow struct {
	ID                     string        `db:"id"`
	JobID                  string        `db:"job_id"`
	GazetteID              string        `db:"gazette_id"`
	TerritoryID            string        `db:"territory_id"`
	PublicationDate        sql.NullTime  `db:"publication_date"`
	TotalFindings          int           `db:"total_findings"`
	HighConfidenceFindings int           `db:"high_confidence_findings"`
	Categories             []byte        `db:"categories"`
	Keywords               []byte        `db:"keywords"`
	Findings               []byte        `db:"findings"`
	Summary                string        `db:"summary"`
	ProcessingTimeMs       sql.NullInt64 `db:"processing_time_ms"`
	AnalyzedAt             sql.NullTime  `db:"analyzed_at"`
	Metadata               []byte        `db:"metadata"`
}

func (r analysisResultRow) toModel() model.AnalysisResult {
	var findings []model.Finding
	_ = json.Unmarshal(r.Findings, &findings)

	res := model.AnalysisResult{
		ID:                     r.ID,
		JobID:                  r.JobID,
		GazetteID:              r.GazetteID,
		TerritoryID:            r.TerritoryID,
		PublicationDate:        r.PublicationDate.Time,
		TotalFindings:          r.TotalFindings,
		HighConfidenceFindings: r.HighConfidenceFindings,
		Categories:             unmarshalStrings(r.Categories),
		Keywords:               unmarshalStrings(r.Keywords),
		Findings:               findings,
		Summary:                r.Summary,
		AnalyzedAt:             r.AnalyzedAt.Time,
		Metadata:               unmarshalMap(r.Metadata),
	}
	if r.ProcessingTimeMs.Valid {
		res.ProcessingTimeMs = &r.ProcessingTimeMs.Int64
	}
	return res
}

const analysisResultColumns = `id, job_id, gazette_id, territory_id, publication_date, total_findings,
	high_confidence_findings, categories, keywords, findings, summary, processing_time_ms, analyzed_at, metadata`

// UpsertAnalysisResult inserts an AnalysisResult, or is a no-op if jobId
// already exists — the deterministic-id + unique-constraint idempotence
// law from spec §8. Returns the row that ended up persisted (the new one,
// or whichever earlier insert won the race).
func (s *Store) UpsertAnalysisResult(ctx context.Context, a model.AnalysisResult) (model.AnalysisResult, bool, error) {
	categories, err := jsonStrings(a.Categories)
	if err != nil {
		return model.AnalysisResult{}, false, wrap("UpsertAnalysisResult marshal categories", err)
	}
	keywords, err := jsonStrings(a.Keywords)
	if err != nil {
		return model.AnalysisResult{}, false, wrap("UpsertAnalysisResult marshal keywords", err)
	}
	findings, err := json.Marshal(a.Findings)
	if err != nil {
		return model.AnalysisResult{}, false, wrap("UpsertAnalysisResult marshal findings", err)
	}
	meta, err := jsonMap(a.Metadata)
	if err != nil {
		return model.AnalysisResult{}, false, wrap("UpsertAnalysisResult marshal metadata", err)
	}
	id := uuid.New().String()

	var row analysisResultRow
	err = s.DB.GetContext(ctx, &row, `
		INSERT INTO analysis_results (id, job_id, gazette_id, territory_id, publication_date,
			total_findings, high_confidence_findings, categories, keywords, findings, summary,
			processing_time_ms, analyzed_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), $13)
		ON CONFLICT (job_id) DO NOTHING
		RETURNING `+analysisResultColumns,
		id, a.JobID, a.GazetteID, a.TerritoryID, a.PublicationDate, a.TotalFindings,
		a.HighConfidenceFindings, categories, keywords, findings, a.Summary, a.ProcessingTimeMs, meta)
	if err != nil {
		if err == sql.ErrNoRows {
			existing, getErr := s.GetAnalysisResultByJobID(ctx, a.JobID)
			return existing, false, getErr
		}
		return model.AnalysisResult{}, false, wrap("UpsertAnalysisResult", err)
	}
	return row.toModel(), true, nil
}

// GetAnalysisResultByJobID fetches the (unique) AnalysisResult for a
// deterministic jobId.
func (s *Store) GetAnalysisResultByJobID(ctx context.Context, jobID string) (model.AnalysisResult, error) {
	var row analysisResultRow
	err := s.DB.GetContext(ctx, &row, `SELECT `+analysisResultColumns+` FROM analysis_results WHERE job_id = $1`, jobID)
	if err != nil {
		return model.AnalysisResult{}, wrap("GetAnalysisResultByJobID", err)
	}
	return row.toModel(), nil
}

// FindAnalysisResultByConfig scans candidate rows by (territoryId,
// gazetteId) and compares metadata.configSignature.configHash in Go, per
// spec §4.4 step 3b (the store-level dedup fallback when the cache
// misses).
func (s *Store) FindAnalysisResultByConfig(ctx context.Context, territoryID, gazetteID, configHash string) (model.AnalysisResult, error) {
	var rows []analysisResultRow
	err := s.DB.SelectContext(ctx, &rows, `
		SELECT `+analysisResultColumns+` FROM analysis_results
		WHERE territory_id = $1 AND gazette_id = $2
		ORDER BY analyzed_at DESC
	`, territoryID, gazetteID)
	if err != nil {
		return model.AnalysisResult{}, wrap("FindAnalysisResultByConfig", err)
	}
	for _, r := range rows {
		m := unmarshalMap(r.Metadata)
		sig, ok := m["configSignature"].(map[string]any)
		if !ok {
			continue
		}
		if hash, _ := sig["configHash"].(string); hash == configHash {
			return r.toModel(), nil
		}
	}
	return model.AnalysisResult{}, ErrNotFound
}

// ListRecentFindingsForTerritory returns findings metadata from the last
// windowHours of AnalysisResults for a territory, bounded to maxRows, used
// by the duplicate-finding detector's store-backed scan (spec §4.4 step 5,
// §9 bullet "Duplicate finding detection").
func (s *Store) ListRecentFindingsForTerritory(ctx context.Context, territoryID string, windowHours, maxRows int) ([]model.AnalysisResult, error) {
	var rows []analysisResultRow
	err := s.DB.SelectContext(ctx, &rows, `
		SELECT `+analysisResultColumns+` FROM analysis_results
		WHERE territory_id = $1 AND analyzed_at >= now() - ($2 || ' hours')::interval
		ORDER BY analyzed_at DESC
		LIMIT $3
	`, territoryID, windowHours, maxRows)
	if err != nil {
		return nil, wrap("ListRecentFindingsForTerritory", err)
	}
	out := make([]model.AnalysisResult, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

// --- ConcursoFinding ---

type concursoFindingRow struct {
	ID               string         `db:"id"`
	AnalysisJobID    string         `db:"analysis_job_id"`
	GazetteID        string         `db:"gazette_id"`
	TerritoryID      string         `db:"territory_id"`
	DocumentType     sql.NullString `db:"document_type"`
	Confidence       float64        `db:"confidence"`
	Orgao            sql.NullString `db:"orgao"`
	EditalNumero     sql.NullString `db:"edital_numero"`
	TotalVagas       int            `db:"total_vagas"`
	Cargos           []byte         `db:"cargos"`
	Datas            []byte         `db:"datas"`
	Taxas            []byte         `db:"taxas"`
	Banca            string         `db:"banca"`
	ExtractionMethod string         `db:"extraction_method"`
	CreatedAt        sql.NullTime   `db:"created_at"`
}

func (r concursoFindingRow) toModel() model.ConcursoFinding {
	f := model.ConcursoFinding{
		ID:               r.ID,
		AnalysisJobID:    r.AnalysisJobID,
		GazetteID:        r.GazetteID,
		TerritoryID:      r.TerritoryID,
		Confidence:       r.Confidence,
		TotalVagas:       r.TotalVagas,
		Cargos:           unmarshalStrings(r.Cargos),
		Datas:            unmarshalStrings(r.Datas),
		Taxas:            unmarshalStrings(r.Taxas),
		Banca:            r.Banca,
		ExtractionMethod: r.ExtractionMethod,
		CreatedAt:        r.CreatedAt.Time,
	}
	if r.DocumentType.Valid {
		f.DocumentType = &r.DocumentType.String
	}
	if r.Orgao.Valid {
		f.Orgao = &r.Orgao.String
	}
	if r.EditalNumero.Valid {
		f.EditalNumero = &r.EditalNumero.String
	}
	return f
}

const concursoColumns = `id, analysis_job_id, gazette_id, territory_id, document_type, confidence,
	orgao, edital_numero, total_vagas, cargos, datas, taxas, banca, extraction_method, created_at`

// InsertConcursoFinding persists a single ConcursoFinding row. Callers
// retry this themselves per spec §4.4 step 6.
func (s *Store) InsertConcursoFinding(ctx context.Context, f model.ConcursoFinding) (model.ConcursoFinding, error) {
	cargos, err := jsonStrings(f.Cargos)
	if err != nil {
		return model.ConcursoFinding{}, wrap("InsertConcursoFinding marshal cargos", err)
	}
	datas, err := jsonStrings(f.Datas)
	if err != nil {
		return model.ConcursoFinding{}, wrap("InsertConcursoFinding marshal datas", err)
	}
	taxas, err := jsonStrings(f.Taxas)
	if err != nil {
		return model.ConcursoFinding{}, wrap("InsertConcursoFinding marshal taxas", err)
	}
	id := uuid.New().String()

	var row concursoFindingRow
	err = s.DB.GetContext(ctx, &row, `
		INSERT INTO concurso_findings (id, analysis_job_id, gazette_id, territory_id, document_type,
			confidence, orgao, edital_numero, total_vagas, cargos, datas, taxas, banca, extraction_method, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, now())
		RETURNING `+concursoColumns,
		id, f.AnalysisJobID, f.GazetteID, f.TerritoryID, f.DocumentType, f.Confidence, f.Orgao,
		f.EditalNumero, f.TotalVagas, cargos, datas, taxas, f.Banca, f.ExtractionMethod)
	if err != nil {
		return model.ConcursoFinding{}, wrap("InsertConcursoFinding", err)
	}
	return row.toModel(), nil
}

// CountConcursoFindings re-queries the true stored count for an analysis,
// so downstream webhook payloads report storedCount from the store and
// never an assumed in-memory count (spec §4.4 step 6, §8 scenario 4).
func (s *Store) CountConcursoFindings(ctx context.Context, analysisJobID string) (int, error) {
	var n int
	err := s.DB.GetContext(ctx, &n, `SELECT count(*) FROM concurso_findings WHERE analysis_job_id = $1`, analysisJobID)
	return n, wrap("CountConcursoFindings", err)
}

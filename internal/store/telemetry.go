package store

import (
	"context"

	"github.com/google/uuid"

	"gazette-pipeline/internal/model"
)

// InsertErrorLog appends a diagnostic row. Errors inserting the log itself
// are swallowed by callers (best-effort observability must never block the
// pipeline), but the method itself reports failures so callers can decide.
func (s *Store) InsertErrorLog(ctx context.Context, e model.ErrorLog) error {
	ctxJSON, err := jsonMap(e.Context)
	if err != nil {
		return wrap("InsertErrorLog marshal context", err)
	}
	id := uuid.New().String()
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO error_logs (id, worker, operation, severity, message, context, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
	`, id, e.Worker, e.Operation, e.Severity, e.Message, ctxJSON)
	return wrap("InsertErrorLog", err)
}

// InsertTelemetryEvent appends a per-city step event.
func (s *Store) InsertTelemetryEvent(ctx context.Context, e model.TelemetryEvent) error {
	detail, err := jsonMap(e.Detail)
	if err != nil {
		return wrap("InsertTelemetryEvent marshal detail", err)
	}
	id := uuid.New().String()
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO telemetry_events (id, crawl_job_id, territory_id, step, status, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
	`, id, e.CrawlJobID, e.TerritoryID, e.Step, e.Status, detail)
	return wrap("InsertTelemetryEvent", err)
}

// CountTelemetryProcessedCities counts distinct territories that reached a
// crawl_end step for a CrawlJob, used by the Crawl worker's batch
// completion check (spec §4.2 step 6 and §8 scenario 6) as an
// observability cross-check alongside IncrementCrawlJobProgress.
func (s *Store) CountTelemetryProcessedCities(ctx context.Context, crawlJobID string) (int, error) {
	var n int
	err := s.DB.GetContext(ctx, &n, `
		SELECT count(DISTINCT territory_id) FROM telemetry_events
		WHERE crawl_job_id = $1 AND step = 'crawl_end'
	`, crawlJobID)
	return n, wrap("CountTelemetryProcessedCities", err)
}

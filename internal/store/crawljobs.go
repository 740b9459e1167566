package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"gazette-pipeline/internal/model"
)

type crawlJobRow struct {
	ID              string         `db:"id"`
	JobType         string         `db:"job_type"`
	Status          string         `db:"status"`
	TotalCities     int            `db:"total_cities"`
	CompletedCities int            `db:"completed_cities"`
	FailedCities    int            `db:"failed_cities"`
	StartDate       sql.NullTime   `db:"start_date"`
	EndDate         sql.NullTime   `db:"end_date"`
	PlatformFilter  sql.NullString `db:"platform_filter"`
	CreatedAt       sql.NullTime   `db:"created_at"`
	StartedAt       sql.NullTime   `db:"started_at"`
	CompletedAt     sql.NullTime   `db:"completed_at"`
	Metadata        []byte         `db:"metadata"`
}

func (r crawlJobRow) toModel() model.CrawlJob {
	cj := model.CrawlJob{
		ID:              r.ID,
		JobType:         model.CrawlJobType(r.JobType),
		Status:          model.CrawlJobStatus(r.Status),
		TotalCities:     r.TotalCities,
		CompletedCities: r.CompletedCities,
		FailedCities:    r.FailedCities,
		StartDate:       r.StartDate.Time,
		EndDate:         r.EndDate.Time,
		CreatedAt:       r.CreatedAt.Time,
		Metadata:        unmarshalMap(r.Metadata),
	}
	if r.PlatformFilter.Valid {
		cj.PlatformFilter = &r.PlatformFilter.String
	}
	if r.StartedAt.Valid {
		cj.StartedAt = &r.StartedAt.Time
	}
	if r.CompletedAt.Valid {
		cj.CompletedAt = &r.CompletedAt.Time
	}
	return cj
}

// CreateCrawlJob inserts a new CrawlJob at status=running, as dispatched
// by the Dispatcher.
func (s *Store) CreateCrawlJob(ctx context.Context, jobType model.CrawlJobType, totalCities int, startDate, endDate sql.NullTime, platformFilter *string, metadata map[string]any) (model.CrawlJob, error) {
	meta, err := jsonMap(metadata)
	if err != nil {
		return model.CrawlJob{}, wrap("CreateCrawlJob marshal metadata", err)
	}

	id := uuid.New().String()
	var row crawlJobRow
	err = s.DB.GetContext(ctx, &row, `
		INSERT INTO crawl_jobs (id, job_type, status, total_cities, completed_cities, failed_cities,
			start_date, end_date, platform_filter, created_at, started_at, metadata)
		VALUES ($1, $2, 'running', $3, 0, 0, $4, $5, $6, now(), now(), $7)
		RETURNING id, job_type, status, total_cities, completed_cities, failed_cities,
			start_date, end_date, platform_filter, created_at, started_at, completed_at, metadata
	`, id, jobType, totalCities, startDate, endDate, platformFilter, meta)
	if err != nil {
		return model.CrawlJob{}, wrap("CreateCrawlJob", err)
	}
	return row.toModel(), nil
}

// IncrementCrawlJobProgress atomically bumps completed/failed city counters
// and, if the job has now seen every city, flips status to completed or
// failed and stamps completedAt. Safe under many concurrent Crawl workers.
func (s *Store) IncrementCrawlJobProgress(ctx context.Context, jobID string, completedDelta, failedDelta int) (model.CrawlJob, error) {
	var row crawlJobRow
	err := s.DB.GetContext(ctx, &row, `
		UPDATE crawl_jobs
		SET completed_cities = completed_cities + $2,
		    failed_cities = failed_cities + $3
		WHERE id = $1
		RETURNING id, job_type, status, total_cities, completed_cities, failed_cities,
			start_date, end_date, platform_filter, created_at, started_at, completed_at, metadata
	`, jobID, completedDelta, failedDelta)
	if err != nil {
		return model.CrawlJob{}, wrap("IncrementCrawlJobProgress", err)
	}

	cj := row.toModel()
	if cj.Status == model.CrawlJobRunning && cj.CompletedCities+cj.FailedCities >= cj.TotalCities {
		status := model.CrawlJobCompleted
		if cj.CompletedCities == 0 && cj.FailedCities > 0 {
			status = model.CrawlJobFailed
		}
		return s.finalizeCrawlJob(ctx, jobID, status)
	}
	return cj, nil
}

func (s *Store) finalizeCrawlJob(ctx context.Context, jobID string, status model.CrawlJobStatus) (model.CrawlJob, error) {
	var row crawlJobRow
	err := s.DB.GetContext(ctx, &row, `
		UPDATE crawl_jobs
		SET status = $2, completed_at = now()
		WHERE id = $1 AND status = 'running'
		RETURNING id, job_type, status, total_cities, completed_cities, failed_cities,
			start_date, end_date, platform_filter, created_at, started_at, completed_at, metadata
	`, jobID, status)
	if err != nil {
		if err == sql.ErrNoRows {
			// Another worker already finalized it; re-read the current row.
			return s.GetCrawlJob(ctx, jobID)
		}
		return model.CrawlJob{}, wrap("finalizeCrawlJob", err)
	}
	return row.toModel(), nil
}

// GetCrawlJob fetches a CrawlJob by id.
func (s *Store) GetCrawlJob(ctx context.Context, id string) (model.CrawlJob, error) {
	var row crawlJobRow
	err := s.DB.GetContext(ctx, &row, `
		SELECT id, job_type, status, total_cities, completed_cities, failed_cities,
			start_date, end_date, platform_filter, created_at, started_at, completed_at, metadata
		FROM crawl_jobs WHERE id = $1
	`, id)
	if err != nil {
		return model.CrawlJob{}, wrap("GetCrawlJob", err)
	}
	return row.toModel(), nil
}

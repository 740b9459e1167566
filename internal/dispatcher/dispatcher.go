// Package dispatcher implements the Dispatcher (C5): the HTTP surface
// that turns a crawl request into a CrawlJob row plus one CrawlMessage
// per city, fanned out in bounded batches. It never crawls itself.
package dispatcher

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"gazette-pipeline/internal/crawler"
	"gazette-pipeline/internal/model"
	"gazette-pipeline/internal/pipeline"
	"gazette-pipeline/internal/queue"
	"gazette-pipeline/internal/store"
)

// ErrNoValidCities is returned when a submission resolves to zero cities,
// mapped to HTTP 400 by the handler.
var ErrNoValidCities = fmt.Errorf("dispatcher: no valid cities to crawl")

// SubmitResult carries everything the HTTP handlers need to build a
// CrawlResponse, including which HTTP status it implies.
type SubmitResult struct {
	CrawlJobID    string
	Cities        []string
	TasksEnqueued int
	FailedCount   int
}

// Dispatcher encapsulates crawl submission so HTTP handlers stay thin,
// mirroring the teacher's services layer split from its http handlers.
type Dispatcher struct {
	store      *store.Store
	queue      queue.Queue
	crawlers   *crawler.Registry
	batchSize  int
	webhookURL string
}

func New(st *store.Store, q queue.Queue, crawlers *crawler.Registry, batchSize int, webhookURL string) *Dispatcher {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Dispatcher{store: st, queue: q, crawlers: crawlers, batchSize: batchSize, webhookURL: webhookURL}
}

// Submit implements spec §4.1 Submit(cities | all | range): it resolves
// the requested cities against the crawler registry, creates the parent
// CrawlJob, and fans out one CrawlMessage per city in batches.
func (d *Dispatcher) Submit(ctx context.Context, jobType model.CrawlJobType, cities any, startDate, endDate *time.Time, platform string) (SubmitResult, error) {
	descriptors, err := d.resolveCities(cities, platform)
	if err != nil {
		return SubmitResult{}, err
	}
	if len(descriptors) == 0 {
		return SubmitResult{}, ErrNoValidCities
	}

	sqlStart, sqlEnd := toNullTime(startDate), toNullTime(endDate)
	var platformFilter *string
	if platform != "" {
		platformFilter = &platform
	}

	job, err := d.store.CreateCrawlJob(ctx, jobType, len(descriptors), sqlStart, sqlEnd, platformFilter, map[string]any{})
	if err != nil {
		return SubmitResult{}, fmt.Errorf("create crawl job: %w", err)
	}

	dr := crawler.DateRange{}
	if startDate != nil {
		dr.Start = *startDate
	}
	if endDate != nil {
		dr.End = *endDate
	}

	payloads := make([]any, 0, len(descriptors))
	cityIDs := make([]string, 0, len(descriptors))
	for _, desc := range descriptors {
		cityIDs = append(cityIDs, desc.TerritoryID)
		payloads = append(payloads, pipeline.CrawlMessage{
			SpiderID:    desc.TerritoryID,
			TerritoryID: desc.TerritoryID,
			SpiderType:  desc.SpiderType,
			Config:      map[string]any{},
			DateRange:   dr,
			Metadata:    pipeline.CrawlMetadata{CrawlJobID: job.ID},
		})
	}

	enqueued, sendErr := d.sendBatched(ctx, payloads)
	failed := len(payloads) - enqueued
	if failed > 0 {
		// Best effort: the job's totals still reflect every requested city;
		// IncrementCrawlJobProgress(failed) lets it finalize even if no
		// Crawl worker ever sees the cities that failed to enqueue.
		if _, err := d.store.IncrementCrawlJobProgress(ctx, job.ID, 0, failed); err != nil {
			return SubmitResult{}, fmt.Errorf("record enqueue failures: %w", err)
		}
	}

	result := SubmitResult{CrawlJobID: job.ID, Cities: cityIDs, TasksEnqueued: enqueued, FailedCount: failed}
	if sendErr != nil && enqueued == 0 {
		return result, fmt.Errorf("enqueue crawl messages: %w", sendErr)
	}
	return result, nil
}

// sendBatched implements the ≤100-per-batch fan-out with a per-item
// fallback on full-batch failure, per spec §4.1.
func (d *Dispatcher) sendBatched(ctx context.Context, payloads []any) (int, error) {
	enqueued := 0
	var firstErr error
	for start := 0; start < len(payloads); start += d.batchSize {
		end := start + d.batchSize
		if end > len(payloads) {
			end = len(payloads)
		}
		batch := payloads[start:end]
		n, err := d.queue.SendBatch(ctx, queue.Crawl, batch)
		if err != nil && n == 0 {
			err = nil
			for _, p := range batch {
				if sendErr := d.queue.Send(ctx, queue.Crawl, p); sendErr != nil {
					err = sendErr
					continue
				}
				n++
			}
		}
		enqueued += n
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return enqueued, firstErr
}

// resolveCities turns the request's "cities" field into crawler
// descriptors: "all" (optionally platform-filtered), or an explicit list
// of territory ids resolved one by one.
func (d *Dispatcher) resolveCities(cities any, platform string) ([]crawler.Descriptor, error) {
	if s, ok := cities.(string); ok && s == "all" {
		return d.crawlers.AllTerritories(platform), nil
	}

	var ids []string
	switch v := cities.(type) {
	case []string:
		ids = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				ids = append(ids, s)
			}
		}
	}

	descriptors := make([]crawler.Descriptor, 0, len(ids))
	for _, id := range ids {
		if desc, ok := d.crawlers.ResolveTerritory(id, platform); ok {
			descriptors = append(descriptors, desc)
		}
	}
	return descriptors, nil
}

// TodayYesterday implements spec §4.1 TodayYesterday(platform?).
func (d *Dispatcher) TodayYesterday(ctx context.Context, platform string) (SubmitResult, time.Time, time.Time, error) {
	now := time.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	yesterday := today.AddDate(0, 0, -1)

	result, err := d.Submit(ctx, model.CrawlJobScheduled, "all", &yesterday, &today, platform)
	return result, yesterday, today, err
}

// Stats implements spec §4.1 Health/Stats: registered crawler count,
// per-platform totals, and webhook presence.
func (d *Dispatcher) Stats() StatsResponse {
	return StatsResponse{
		Total:             d.crawlers.Count(),
		Platforms:         d.crawlers.PlatformTotals(),
		WebhookConfigured: d.webhookURL != "",
		Endpoint:          d.webhookURL,
	}
}

// Spiders implements GET /spiders?type=...
func (d *Dispatcher) Spiders(spiderType string) []SpiderDescriptor {
	descs := d.crawlers.Descriptors(spiderType)
	out := make([]SpiderDescriptor, 0, len(descs))
	for _, desc := range descs {
		out = append(out, SpiderDescriptor{SpiderType: desc.SpiderType, Territory: desc.TerritoryID, Platform: desc.Platform})
	}
	return out
}

// QueueHealth implements GET /health/queue.
func (d *Dispatcher) QueueHealth(ctx context.Context) QueueHealthResponse {
	health := d.queue.Health(ctx)
	return QueueHealthResponse{
		Queues: QueueHealth{
			Crawl:    health[queue.Crawl],
			OCR:      health[queue.OCR],
			Analysis: health[queue.Analysis],
			Webhook: WebhookQueueHealth{
				Reachable:  health[queue.Webhook],
				Configured: d.webhookURL != "",
			},
		},
		Worker: map[string]any{
			"crawlersRegistered": d.crawlers.Count(),
		},
	}
}

func toNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

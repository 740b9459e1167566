package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gazette-pipeline/internal/crawler"
	"gazette-pipeline/internal/model"
	"gazette-pipeline/internal/queue"
	"gazette-pipeline/internal/store"
)

// CrawlWorker implements the Crawl stage (C4a): resolves a Crawler for
// each message, records every discovered gazette, and enqueues OCR work.
type CrawlWorker struct {
	store      *store.Store
	queue      queue.Queue
	crawlers   *crawler.Registry
	maxRetries int
	log        *slog.Logger
}

func NewCrawlWorker(st *store.Store, q queue.Queue, crawlers *crawler.Registry, maxRetries int, log *slog.Logger) *CrawlWorker {
	return &CrawlWorker{store: st, queue: q, crawlers: crawlers, maxRetries: maxRetries, log: log}
}

// Handle processes one CrawlMessage delivery, per spec §4.2.
func (w *CrawlWorker) Handle(ctx context.Context, msg queue.Message) error {
	var m CrawlMessage
	if err := msg.Unmarshal(&m); err != nil {
		w.recordCritical(ctx, "crawl.unmarshal", err.Error())
		return w.queue.Ack(ctx, msg)
	}

	started := time.Now()
	w.telemetry(ctx, m.Metadata.CrawlJobID, m.TerritoryID, model.StepCrawlStart, "started", nil)

	candidates, err := w.crawl(ctx, m)
	if err != nil {
		w.log.Error("crawl failed", "spiderId", m.SpiderID, "territoryId", m.TerritoryID, "error", err)
		if msg.Deliveries < w.maxRetries {
			return w.queue.Retry(ctx, msg, backoffFor(msg.Deliveries))
		}
		w.recordCritical(ctx, "crawl.exhausted", err.Error())
		w.incrementFailedProgress(ctx, m.Metadata.CrawlJobID)
		return w.queue.Ack(ctx, msg)
	}

	for _, c := range candidates {
		if err := w.handleCandidate(ctx, m, c); err != nil {
			w.recordCritical(ctx, "crawl.candidate", err.Error())
		}
	}

	w.telemetry(ctx, m.Metadata.CrawlJobID, m.TerritoryID, model.StepCrawlEnd, "completed", map[string]any{
		"gazettesFound":   len(candidates),
		"executionTimeMs": time.Since(started).Milliseconds(),
	})
	w.incrementSucceededProgress(ctx, m.Metadata.CrawlJobID)

	return w.queue.Ack(ctx, msg)
}

func (w *CrawlWorker) crawl(ctx context.Context, m CrawlMessage) ([]crawler.GazetteCandidate, error) {
	cfg := crawler.Config{TerritoryID: m.TerritoryID, SpiderID: m.SpiderID, Raw: m.Config}
	inst, err := w.crawlers.Resolve(m.SpiderType, cfg, m.DateRange)
	if err != nil {
		return nil, fmt.Errorf("resolve crawler: %w", err)
	}
	return inst.Crawl(ctx)
}

// handleCandidate implements spec §4.2 step 4: lookup-or-insert the
// registry row and create the corresponding GazetteCrawl + OcrMessage.
func (w *CrawlWorker) handleCandidate(ctx context.Context, m CrawlMessage, c crawler.GazetteCandidate) error {
	existing, err := w.store.GetGazetteByURL(ctx, c.PDFURL)

	var (
		registry model.GazetteRegistry
		crawlStatus model.GazetteCrawlStatus
		skipOcr bool
	)

	switch {
	case err == store.ErrNotFound:
		registry, err = w.store.InsertGazette(ctx, model.GazetteRegistry{
			PublicationDate: c.PublicationDate,
			EditionNumber:   optionalString(c.EditionNumber),
			PDFURL:          c.PDFURL,
			IsExtraEdition:  c.IsExtraEdition,
			Power:           model.GazettePower(c.Power),
			Metadata:        map[string]any{},
		})
		if err != nil {
			return fmt.Errorf("insert gazette: %w", err)
		}
		crawlStatus = model.CrawlCreated
	case err != nil:
		return fmt.Errorf("lookup gazette: %w", err)
	case existing.Status == model.GazetteOCRSuccess:
		registry = existing
		crawlStatus = model.CrawlSuccess
	case existing.Status == model.GazetteOCRFailure:
		registry = existing
		crawlStatus = model.CrawlFailed
		skipOcr = true
	default:
		registry = existing
		crawlStatus = model.CrawlProcessing
	}

	jobID := crawlMessageJobID(m.Metadata.CrawlJobID, registry.ID)
	gc, err := w.store.InsertGazetteCrawl(ctx, model.GazetteCrawl{
		JobID:       jobID,
		TerritoryID: m.TerritoryID,
		SpiderID:    m.SpiderID,
		GazetteID:   registry.ID,
		Status:      crawlStatus,
		ScrapedAt:   c.ScrapedAt,
	})
	if err != nil {
		return fmt.Errorf("insert gazette crawl: %w", err)
	}

	if skipOcr {
		return nil
	}

	ocrMsg := OcrMessage{
		JobID:           jobID,
		PdfURL:          c.PDFURL,
		TerritoryID:     m.TerritoryID,
		PublicationDate: c.PublicationDate,
		EditionNumber:   optionalString(c.EditionNumber),
		SpiderID:        m.SpiderID,
		QueuedAt:        time.Now().UTC(),
		Metadata: OcrMetadata{
			Power:          optionalString(c.Power),
			IsExtraEdition: &c.IsExtraEdition,
			SourceText:     optionalString(c.SourceText),
			CrawlJobID:     m.Metadata.CrawlJobID,
			GazetteCrawlID: gc.ID,
		},
	}
	return w.queue.Send(ctx, queue.OCR, ocrMsg)
}

func crawlMessageJobID(crawlJobID, gazetteID string) string {
	return crawlJobID + ":" + gazetteID
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (w *CrawlWorker) incrementSucceededProgress(ctx context.Context, crawlJobID string) {
	if crawlJobID == "" {
		return
	}
	if _, err := w.store.IncrementCrawlJobProgress(ctx, crawlJobID, 1, 0); err != nil {
		w.log.Error("increment crawl job progress failed", "crawlJobId", crawlJobID, "error", err)
	}
}

func (w *CrawlWorker) incrementFailedProgress(ctx context.Context, crawlJobID string) {
	if crawlJobID == "" {
		return
	}
	if _, err := w.store.IncrementCrawlJobProgress(ctx, crawlJobID, 0, 1); err != nil {
		w.log.Error("increment crawl job progress failed", "crawlJobId", crawlJobID, "error", err)
	}
}

func (w *CrawlWorker) telemetry(ctx context.Context, crawlJobID, territoryID string, step model.TelemetryStep, status string, detail map[string]any) {
	if err := w.store.InsertTelemetryEvent(ctx, model.TelemetryEvent{
		CrawlJobID:  optionalString(crawlJobID),
		TerritoryID: territoryID,
		Step:        step,
		Status:      status,
		Detail:      detail,
	}); err != nil {
		w.log.Error("telemetry insert failed", "step", step, "error", err)
	}
}

func (w *CrawlWorker) recordCritical(ctx context.Context, operation, message string) {
	if err := w.store.InsertErrorLog(ctx, model.ErrorLog{
		Worker:    "crawl",
		Operation: operation,
		Severity:  model.SeverityCritical,
		Message:   message,
		Context:   map[string]any{},
	}); err != nil {
		w.log.Error("error log insert failed", "operation", operation, "error", err)
	}
}

// backoffFor computes the redelivery backoff a worker requests from the
// queue when retrying, exponential from a 1s base.
func backoffFor(deliveries int) time.Duration {
	if deliveries < 1 {
		deliveries = 1
	}
	return time.Duration(1<<uint(deliveries-1)) * time.Second
}

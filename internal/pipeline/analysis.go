package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"gazette-pipeline/internal/analyzer"
	"gazette-pipeline/internal/cache"
	"gazette-pipeline/internal/model"
	"gazette-pipeline/internal/queue"
	"gazette-pipeline/internal/retryutil"
	"gazette-pipeline/internal/store"
	"gazette-pipeline/internal/webhook"
)

// AnalysisWorker implements the Analysis stage (C4c): runs every enabled
// analyzer against the OCR text, deduplicates findings, and persists the
// aggregated result under a deterministic, config-scoped jobId.
type AnalysisWorker struct {
	store      *store.Store
	cache      *cache.Cache
	queue      queue.Queue
	analyzers  []analyzer.Analyzer
	configHash string
	dedup      *analyzer.Deduplicator
	maxRetries int
	log        *slog.Logger
}

func NewAnalysisWorker(st *store.Store, c *cache.Cache, q queue.Queue, analyzers []analyzer.Analyzer, configHash string, dedup *analyzer.Deduplicator, maxRetries int, log *slog.Logger) *AnalysisWorker {
	return &AnalysisWorker{
		store:      st,
		cache:      c,
		queue:      q,
		analyzers:  analyzers,
		configHash: configHash,
		dedup:      dedup,
		maxRetries: maxRetries,
		log:        log,
	}
}

// ConfigHash derives the stable hash identifying an analyzer configuration,
// used both as the store/cache dedup key and folded into the deterministic
// jobId, per spec §4.4 step 2.
func ConfigHash(cfg map[string]any) string {
	keys := make([]string, 0, len(cfg))
	for k := range cfg {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "%s=%v;", k, cfg[k])
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return hex.EncodeToString(sum[:])[:16]
}

// analysisJobID derives the deterministic jobId "analysis-" + shortHash(...)
// per spec §4.4 step 2: same inputs always fold to the same id, so the
// store's unique constraint on jobId makes double-insertion a no-op.
func analysisJobID(territoryID, gazetteID, configHash string) string {
	sum := sha256.Sum256([]byte(territoryID + gazetteID + configHash))
	return "analysis-" + hex.EncodeToString(sum[:])[:16]
}

func (w *AnalysisWorker) Handle(ctx context.Context, msg queue.Message) error {
	var m AnalysisMessage
	if err := msg.Unmarshal(&m); err != nil {
		w.recordCritical(ctx, "analysis.unmarshal", err.Error())
		return w.queue.Ack(ctx, msg)
	}
	if m.GazetteID == "" {
		w.recordCritical(ctx, "analysis.validate", "gazetteId missing from AnalysisMessage")
		return w.queue.Ack(ctx, msg)
	}

	started := time.Now()
	w.telemetry(ctx, m.Metadata.CrawlJobID, m.TerritoryID, model.StepAnalysisStart, "started", nil)

	jobID := analysisJobID(m.TerritoryID, m.GazetteID, w.configHash)
	dedupKey := cache.AnalysisDedupKey(m.TerritoryID, m.GazetteID, w.configHash)

	if result, found := w.lookupExisting(ctx, dedupKey, m.TerritoryID, m.GazetteID); found {
		if err := w.store.LinkGazetteCrawlAnalysis(ctx, m.GazetteCrawlID, result.ID); err != nil {
			w.log.Error("analysis: link gazette crawl for reused result failed", "error", err)
		}
		storedCount, err := w.store.CountConcursoFindings(ctx, result.JobID)
		if err != nil {
			w.log.Error("analysis: count concurso findings for reused result failed", "error", err)
		}
		webhookMsgs, err := w.dispatchWebhooks(ctx, m, result, storedCount)
		if err != nil {
			w.log.Error("analysis: dispatch webhooks for cached result failed", "error", err)
		}
		w.telemetry(ctx, m.Metadata.CrawlJobID, m.TerritoryID, model.StepAnalysisEnd, "reused", nil)
		_ = webhookMsgs
		return w.queue.Ack(ctx, msg)
	}

	text, err := w.loadText(ctx, m)
	if err != nil {
		return w.retryOrFail(ctx, msg, m, err)
	}

	result, err := w.runAnalyzers(ctx, m, jobID, text)
	if err != nil {
		return w.retryOrFail(ctx, msg, m, err)
	}

	persisted, inserted, err := w.store.UpsertAnalysisResult(ctx, result)
	if err != nil {
		return w.retryOrFail(ctx, msg, m, err)
	}

	var storedCount int
	if inserted {
		n, err := w.persistConcursoFindings(ctx, persisted)
		if err != nil {
			w.log.Error("analysis: persist concurso findings failed", "error", err)
		}
		storedCount = n
	} else {
		n, err := w.store.CountConcursoFindings(ctx, persisted.JobID)
		if err != nil {
			w.log.Error("analysis: count concurso findings failed", "error", err)
		}
		storedCount = n
	}

	w.cache.PutJSON(ctx, dedupKey, persisted, cache.AnalysisDedupTTL)

	if err := w.store.LinkGazetteCrawlAnalysis(ctx, m.GazetteCrawlID, persisted.ID); err != nil {
		w.log.Error("analysis: link gazette crawl failed", "error", err)
	}

	if _, err := w.dispatchWebhooks(ctx, m, persisted, storedCount); err != nil {
		w.log.Error("analysis: dispatch webhooks failed", "error", err)
	}

	w.telemetry(ctx, m.Metadata.CrawlJobID, m.TerritoryID, model.StepAnalysisEnd, "completed", map[string]any{
		"totalFindings":   persisted.TotalFindings,
		"executionTimeMs": time.Since(started).Milliseconds(),
	})

	return w.queue.Ack(ctx, msg)
}

// lookupExisting performs the three-level lookup from spec §4.4 step 3:
// cache dedup key, then the store-level config scan.
func (w *AnalysisWorker) lookupExisting(ctx context.Context, dedupKey, territoryID, gazetteID string) (model.AnalysisResult, bool) {
	var cached model.AnalysisResult
	if found, _ := w.cache.GetJSON(ctx, dedupKey, &cached); found {
		return cached, true
	}
	result, err := w.store.FindAnalysisResultByConfig(ctx, territoryID, gazetteID, w.configHash)
	if err == nil {
		w.cache.PutJSON(ctx, dedupKey, result, cache.AnalysisDedupTTL)
		return result, true
	}
	return model.AnalysisResult{}, false
}

func (w *AnalysisWorker) loadText(ctx context.Context, m AnalysisMessage) (string, error) {
	var cached struct {
		ExtractedText string `json:"extractedText"`
	}
	if found, _ := w.cache.GetJSON(ctx, cache.OcrKey(m.PdfURL), &cached); found && cached.ExtractedText != "" {
		return cached.ExtractedText, nil
	}
	res, err := w.store.GetOcrResultByDocument(ctx, m.GazetteID)
	if err != nil {
		return "", fmt.Errorf("load ocr text: %w", err)
	}
	return res.ExtractedText, nil
}

func (w *AnalysisWorker) runAnalyzers(ctx context.Context, m AnalysisMessage, jobID, text string) (model.AnalysisResult, error) {
	in := analyzer.Input{Text: text, TerritoryID: m.TerritoryID, GazetteID: m.GazetteID, PublicationDate: m.GazetteDate}

	var all []model.Finding
	var processingTimeMs int64
	for _, a := range w.analyzers {
		out, err := a.Analyze(ctx, in)
		if err != nil {
			w.log.Error("analyzer failed", "analyzer", a.Name(), "error", err)
			continue
		}
		all = append(all, out.Findings...)
		processingTimeMs += out.TimingMs
	}

	survivors, _, err := w.dedup.Filter(ctx, m.TerritoryID, all)
	if err != nil {
		w.log.Error("analysis: dedup filter failed", "error", err)
		survivors = all
	}

	categories := map[string]struct{}{}
	keywords := map[string]struct{}{}
	highConfidence := 0
	for _, f := range survivors {
		categories[f.Category] = struct{}{}
		if f.Type == model.FindingKeyword {
			keywords[f.Category] = struct{}{}
		}
		if f.Confidence >= 0.8 {
			highConfidence++
		}
	}

	result := model.AnalysisResult{
		JobID:                  jobID,
		GazetteID:              m.GazetteID,
		TerritoryID:            m.TerritoryID,
		PublicationDate:        m.GazetteDate,
		TotalFindings:          len(survivors),
		HighConfidenceFindings: highConfidence,
		Categories:             sortedKeys(categories),
		Keywords:               sortedKeys(keywords),
		Findings:               survivors,
		Summary:                summarize(survivors),
		ProcessingTimeMs:       &processingTimeMs,
		Metadata: map[string]any{
			"configSignature": map[string]any{"configHash": w.configHash},
		},
	}
	return result, nil
}

func summarize(findings []model.Finding) string {
	if len(findings) == 0 {
		return "no findings"
	}
	return fmt.Sprintf("%d findings across %d categories", len(findings), len(uniqueCategories(findings)))
}

func uniqueCategories(findings []model.Finding) map[string]struct{} {
	out := map[string]struct{}{}
	for _, f := range findings {
		out[f.Category] = struct{}{}
	}
	return out
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// persistConcursoFindings inserts one row per concurso finding, retried per
// finding per spec §4.4 step 6, then re-confirms the stored count so
// downstream webhook payloads never report an assumed in-memory count.
func (w *AnalysisWorker) persistConcursoFindings(ctx context.Context, result model.AnalysisResult) (int, error) {
	for _, f := range result.Findings {
		if f.Type != model.FindingConcurso {
			continue
		}
		cf := analyzer.ToConcursoFinding(f, result.JobID, result.GazetteID, result.TerritoryID)
		err := retryutil.Do(ctx, "analysis.persistConcursoFinding", 3, time.Second, func(ctx context.Context) error {
			_, err := w.store.InsertConcursoFinding(ctx, cf)
			return err
		})
		if err != nil {
			w.log.Error("analysis: concurso finding insert exhausted retries", "jobId", result.JobID, "error", err)
		}
	}
	count, err := w.store.CountConcursoFindings(ctx, result.JobID)
	if err != nil {
		return 0, fmt.Errorf("count concurso findings: %w", err)
	}
	return count, nil
}

// dispatchWebhooks builds one WebhookMessage per active subscription
// interested in "analysis.completed" and enqueues it for the Webhook
// worker (C4d) to deliver, per spec §4.4 step 7. storedCount is the
// store-observed concurso finding count (spec §8 scenario 4), never the
// in-memory survivor count.
func (w *AnalysisWorker) dispatchWebhooks(ctx context.Context, m AnalysisMessage, result model.AnalysisResult, storedCount int) ([]WebhookMessage, error) {
	const eventType = "analysis.completed"

	subs, err := w.store.ListActiveWebhookSubscriptions(ctx, eventType)
	if err != nil {
		return nil, fmt.Errorf("list active subscriptions: %w", err)
	}

	notification := webhook.Notification{
		EventType:     eventType,
		TerritoryID:   m.TerritoryID,
		GazetteID:     m.GazetteID,
		AnalysisJobID: result.JobID,
		Summary:       result.Summary,
		TotalFindings: result.TotalFindings,
		StoredCount:   storedCount,
		OccurredAt:    time.Now().UTC(),
	}

	sent := make([]WebhookMessage, 0, len(subs))
	for _, sub := range subs {
		msg := WebhookMessage{
			MessageID:      result.JobID + ":" + sub.ID,
			SubscriptionID: sub.ID,
			Notification:   notification,
			Metadata: WebhookMetadata{
				CrawlJobID:  optionalString(m.Metadata.CrawlJobID),
				TerritoryID: optionalString(m.TerritoryID),
			},
		}
		if err := w.queue.Send(ctx, queue.Webhook, msg); err != nil {
			return sent, fmt.Errorf("send webhook message: %w", err)
		}
		sent = append(sent, msg)
	}
	return sent, nil
}

func (w *AnalysisWorker) retryOrFail(ctx context.Context, msg queue.Message, m AnalysisMessage, cause error) error {
	w.log.Error("analysis: stage error", "gazetteId", m.GazetteID, "error", cause)
	if msg.Deliveries < w.maxRetries {
		return w.queue.Retry(ctx, msg, backoffFor(msg.Deliveries))
	}
	if err := w.store.SetGazetteCrawlStatus(ctx, m.GazetteCrawlID, model.CrawlFailed); err != nil {
		w.log.Error("analysis: set crawl failed status failed", "error", err)
	}
	w.recordCritical(ctx, "analysis.exhausted", cause.Error())
	return w.queue.Ack(ctx, msg)
}

func (w *AnalysisWorker) telemetry(ctx context.Context, crawlJobID, territoryID string, step model.TelemetryStep, status string, detail map[string]any) {
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

func (w *AnalysisWorker) recordCritical(ctx context.Context, operation, message string) {
	if err := w.store.InsertErrorLog(ctx, model.ErrorLog{
		Worker:    "analysis",
		Operation: operation,
		Severity:  model.SeverityCritical,
		Message:   message,
		Context:   map[string]any{},
	}); err != nil {
		w.log.Error("error log insert failed", "operation", operation, "error", err)
	}
}

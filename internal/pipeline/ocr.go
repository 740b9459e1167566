package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gazette-pipeline/internal/cache"
	"gazette-pipeline/internal/model"
	"gazette-pipeline/internal/ocr"
	"gazette-pipeline/internal/queue"
	"gazette-pipeline/internal/retryutil"
	"gazette-pipeline/internal/store"
)

// claimableStatuses are the registry states from which a fresh OCR claim
// may be taken, per spec §4.3 step 2.
var claimableStatuses = []model.GazetteStatus{model.GazettePending, model.GazetteUploaded}

// OcrWorker implements the OCR stage (C4b): the claim protocol that keeps
// at-least-once delivery safe under concurrent workers racing on the same
// PDF.
type OcrWorker struct {
	store            *store.Store
	cache            *cache.Cache
	queue            queue.Queue
	ocr              ocr.Client
	maxRetries       int
	storageRetries   int
	storageBaseDelay time.Duration
	log              *slog.Logger
}

func NewOcrWorker(st *store.Store, c *cache.Cache, q queue.Queue, provider ocr.Client, maxRetries, storageRetries int, storageBaseDelay time.Duration, log *slog.Logger) *OcrWorker {
	return &OcrWorker{
		store:            st,
		cache:            c,
		queue:            q,
		ocr:              provider,
		maxRetries:       maxRetries,
		storageRetries:   storageRetries,
		storageBaseDelay: storageBaseDelay,
		log:              log,
	}
}

func (w *OcrWorker) Handle(ctx context.Context, msg queue.Message) error {
	var m OcrMessage
	if err := msg.Unmarshal(&m); err != nil {
		w.recordCritical(ctx, "ocr.unmarshal", err.Error())
		return w.queue.Ack(ctx, msg)
	}

	started := time.Now()
	w.telemetry(ctx, m.Metadata.CrawlJobID, m.TerritoryID, model.StepOcrStart, "started", nil)

	registry, err := w.store.GetGazetteByURL(ctx, m.PdfURL)
	if err != nil {
		w.log.Error("ocr: registry lookup failed", "pdfUrl", m.PdfURL, "error", err)
		return w.retryOrDeadLetter(ctx, msg, err)
	}

	switch registry.Status {
	case model.GazetteOCRSuccess:
		return w.reuseSuccess(ctx, msg, m, registry)
	case model.GazetteOCRProcessing, model.GazetteOCRRetrying:
		// Another worker already holds the claim; back off and redeliver.
		return w.queue.Retry(ctx, msg, backoffFor(msg.Deliveries))
	case model.GazetteOCRFailure:
		return w.retryIntentional(ctx, msg, m, registry, started)
	default:
		return w.claimAndProcess(ctx, msg, m, registry, started)
	}
}

func (w *OcrWorker) reuseSuccess(ctx context.Context, msg queue.Message, m OcrMessage, registry model.GazetteRegistry) error {
	result, err := w.fetchResult(ctx, registry.ID, m.PdfURL)
	if err != nil {
		// Documented success but no stored text: mark the row ocr_processing
		// and reprocess it under this delivery.
		if err := w.store.SetGazetteStatus(ctx, registry.ID, model.GazetteOCRProcessing); err != nil {
			return w.retryOrDeadLetter(ctx, msg, err)
		}
		job, err := w.store.InsertOcrJob(ctx, registry.ID, m.JobID, false)
		if err != nil {
			return w.retryOrDeadLetter(ctx, msg, err)
		}
		return w.invokeAndReconcile(ctx, msg, m, registry, job.ID, time.Now())
	}
	if err := w.fanOutAnalysis(ctx, m, registry, ""); err != nil {
		return w.retryOrDeadLetter(ctx, msg, err)
	}
	_ = result
	return w.queue.Ack(ctx, msg)
}

func (w *OcrWorker) retryIntentional(ctx context.Context, msg queue.Message, m OcrMessage, registry model.GazetteRegistry, started time.Time) error {
	job, err := w.store.InsertOcrJob(ctx, registry.ID, m.JobID, true)
	if err != nil {
		return w.retryOrDeadLetter(ctx, msg, err)
	}
	if err := w.store.SetGazetteStatus(ctx, registry.ID, model.GazetteOCRRetrying); err != nil {
		return w.retryOrDeadLetter(ctx, msg, err)
	}
	return w.invokeAndReconcile(ctx, msg, m, registry, job.ID, started)
}

func (w *OcrWorker) claimAndProcess(ctx context.Context, msg queue.Message, m OcrMessage, registry model.GazetteRegistry, started time.Time) error {
	job, err := w.store.InsertOcrJob(ctx, registry.ID, m.JobID, false)
	if err != nil {
		return w.retryOrDeadLetter(ctx, msg, err)
	}

	won, err := w.store.CASGazetteStatus(ctx, registry.ID, claimableStatuses, model.GazetteOCRProcessing)
	if err != nil {
		return w.retryOrDeadLetter(ctx, msg, err)
	}
	if !won {
		// Lost the race: re-read and route as whichever branch now applies.
		fresh, err := w.store.GetGazette(ctx, registry.ID)
		if err != nil {
			return w.retryOrDeadLetter(ctx, msg, err)
		}
		if fresh.Status == model.GazetteOCRSuccess {
			return w.reuseSuccess(ctx, msg, m, fresh)
		}
		return w.queue.Retry(ctx, msg, backoffFor(msg.Deliveries))
	}

	return w.invokeAndReconcile(ctx, msg, m, registry, job.ID, started)
}

// invokeAndReconcile runs the OCR provider, persists the result with
// retries, and performs the deterministic status reconciliation from spec
// §4.3 steps 3-6 regardless of which branch claimed the work.
func (w *OcrWorker) invokeAndReconcile(ctx context.Context, msg queue.Message, m OcrMessage, registry model.GazetteRegistry, jobID string, started time.Time) error {
	result, err := w.ocr.Process(ctx, m.PdfURL, map[string]any{"territoryId": m.TerritoryID})
	if err != nil {
		// Transport failure: leave registry claimed, let redelivery retry.
		return w.retryOrDeadLetter(ctx, msg, err)
	}

	success := result.Status == ocr.StatusSuccess && result.ExtractedText != ""

	var storeErr error
	if success {
		storeErr = retryutil.Do(ctx, "ocr.persistResult", w.storageRetries, w.storageBaseDelay, func(ctx context.Context) error {
			_, err := w.store.InsertOcrResult(ctx, model.OcrResult{
				DocumentID:       registry.ID,
				ExtractedText:    result.ExtractedText,
				TextLength:       len(result.ExtractedText),
				LanguageDetected: "pt",
				ProcessingMethod: "provider",
				Metadata:         map[string]any{},
			})
			return err
		})
		if storeErr != nil {
			success = false
		}
	}

	var errCode, errMsg *string
	if !success {
		code := "STORAGE_FAILED"
		msgText := "ocr result could not be persisted"
		if result.Error != nil {
			code = result.Error.Code
			msgText = result.Error.Message
		}
		if storeErr != nil {
			code = "STORAGE_FAILED"
			msgText = storeErr.Error()
		}
		errCode, errMsg = &code, &msgText
	}

	if err := w.store.CompleteOcrJob(ctx, jobID, ocrJobStatus(success), result.PagesProcessed, result.ProcessingTimeMs, len(result.ExtractedText), errCode, errMsg); err != nil {
		w.log.Error("ocr: complete job failed", "error", err)
	}

	if success {
		if err := w.store.SetGazetteStatus(ctx, registry.ID, model.GazetteOCRSuccess); err != nil {
			w.log.Error("ocr: set success status failed", "error", err)
		}
		w.cache.PutJSON(ctx, cache.OcrKey(m.PdfURL), result, cache.OcrTTL)
		if result.PDFObjectKey != "" {
			if err := w.store.SetGazettePDFObjectKey(ctx, registry.ID, result.PDFObjectKey); err != nil {
				w.log.Error("ocr: set pdf object key failed", "error", err)
			}
		}
		if err := w.fanOutAnalysis(ctx, m, registry, jobID); err != nil {
			w.log.Error("ocr: fan out analysis failed", "error", err)
		}
	} else {
		if err := w.store.SetGazetteStatus(ctx, registry.ID, model.GazetteOCRFailure); err != nil {
			w.log.Error("ocr: set failure status failed", "error", err)
		}
		if _, err := w.store.BulkFailGazetteCrawlsForGazette(ctx, registry.ID); err != nil {
			w.log.Error("ocr: bulk fail crawls failed", "error", err)
		}
		w.recordCritical(ctx, "ocr.failure", derefOr(errMsg, "ocr failed"))
	}

	w.telemetry(ctx, m.Metadata.CrawlJobID, m.TerritoryID, model.StepOcrEnd, outcomeLabel(success), map[string]any{
		"executionTimeMs": time.Since(started).Milliseconds(),
	})

	return w.queue.Ack(ctx, msg)
}

func ocrJobStatus(success bool) model.OcrJobStatus {
	if success {
		return model.OcrJobSuccess
	}
	return model.OcrJobFailure
}

func outcomeLabel(success bool) string {
	if success {
		return "completed"
	}
	return "failed"
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}

// fanOutAnalysis enqueues one AnalysisMessage per GazetteCrawl referencing
// this gazette, per spec §4.3 step 6.
func (w *OcrWorker) fanOutAnalysis(ctx context.Context, m OcrMessage, registry model.GazetteRegistry, ocrJobID string) error {
	crawls, err := w.store.ListGazetteCrawlsForGazette(ctx, registry.ID)
	if err != nil {
		return fmt.Errorf("list gazette crawls: %w", err)
	}
	for _, gc := range crawls {
		analysisMsg := AnalysisMessage{
			JobID:          gc.JobID,
			OcrJobID:       ocrJobID,
			GazetteCrawlID: gc.ID,
			GazetteID:      registry.ID,
			TerritoryID:    gc.TerritoryID,
			GazetteDate:    registry.PublicationDate,
			PdfURL:         m.PdfURL,
			QueuedAt:       time.Now().UTC(),
			Metadata: AnalysisMetadata{
				CrawlJobID: m.Metadata.CrawlJobID,
				SpiderID:   gc.SpiderID,
			},
		}
		if err := w.queue.Send(ctx, queue.Analysis, analysisMsg); err != nil {
			return fmt.Errorf("send analysis message: %w", err)
		}
		if err := w.store.SetGazetteCrawlStatus(ctx, gc.ID, model.CrawlAnalysisPending); err != nil {
			w.log.Error("ocr: set crawl status failed", "error", err)
		}
	}
	return nil
}

func (w *OcrWorker) fetchResult(ctx context.Context, documentID, pdfURL string) (ocr.Result, error) {
	var cached ocr.Result
	if found, _ := w.cache.GetJSON(ctx, cache.OcrKey(pdfURL), &cached); found {
		return cached, nil
	}
	res, err := w.store.GetOcrResultByDocument(ctx, documentID)
	if err != nil {
		return ocr.Result{}, err
	}
	result := ocr.Result{Status: ocr.StatusSuccess, ExtractedText: res.ExtractedText, PagesProcessed: 0}
	w.cache.PutJSON(ctx, cache.OcrKey(pdfURL), result, cache.OcrTTL)
	return result, nil
}

func (w *OcrWorker) retryOrDeadLetter(ctx context.Context, msg queue.Message, err error) error {
	w.log.Error("ocr: stage error", "error", err)
	if msg.Deliveries < w.maxRetries {
		return w.queue.Retry(ctx, msg, backoffFor(msg.Deliveries))
	}
	w.recordCritical(ctx, "ocr.exhausted", err.Error())
	return w.queue.Ack(ctx, msg)
}

func (w *OcrWorker) telemetry(ctx context.Context, crawlJobID, territoryID string, step model.TelemetryStep, status string, detail map[string]any) {
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

func (w *OcrWorker) recordCritical(ctx context.Context, operation, message string) {
	if err := w.store.InsertErrorLog(ctx, model.ErrorLog{
		Worker:    "ocr",
		Operation: operation,
		Severity:  model.SeverityCritical,
		Message:   message,
		Context:   map[string]any{},
	}); err != nil {
		w.log.Error("error log insert failed", "operation", operation, "error", err)
	}
}

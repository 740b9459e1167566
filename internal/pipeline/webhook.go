package pipeline

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"gazette-pipeline/internal/model"
	"gazette-pipeline/internal/queue"
	"gazette-pipeline/internal/store"
	"gazette-pipeline/internal/webhook"
)

// WebhookWorker implements the Webhook stage (C4d): delivers one
// notification to one subscription, recording every attempt.
type WebhookWorker struct {
	store       *store.Store
	queue       queue.Queue
	deliverer   *webhook.Deliverer
	maxAttempts int
	log         *slog.Logger
}

func NewWebhookWorker(st *store.Store, q queue.Queue, deliverer *webhook.Deliverer, maxAttempts int, log *slog.Logger) *WebhookWorker {
	return &WebhookWorker{store: st, queue: q, deliverer: deliverer, maxAttempts: maxAttempts, log: log}
}

// Handle processes one WebhookMessage delivery, per spec §4.5.
func (w *WebhookWorker) Handle(ctx context.Context, msg queue.Message) error {
	var m WebhookMessage
	if err := msg.Unmarshal(&m); err != nil {
		w.recordCritical(ctx, "webhook.unmarshal", err.Error())
		return w.queue.Ack(ctx, msg)
	}

	sub, err := w.store.GetWebhookSubscription(ctx, m.SubscriptionID)
	if err != nil {
		// Missing or inactive subscription: nothing to deliver to, ack and move on.
		w.log.Warn("webhook: subscription lookup failed", "subscriptionId", m.SubscriptionID, "error", err)
		return w.queue.Ack(ctx, msg)
	}
	if !sub.Active {
		return w.queue.Ack(ctx, msg)
	}

	eventType, _ := notificationField(m.Notification, "eventType")
	delivery, err := w.store.GetOrCreateWebhookDelivery(ctx, m.MessageID, sub.ID, eventType, nil)
	if err != nil {
		w.log.Error("webhook: get or create delivery failed", "error", err)
		return w.retryOrDeadLetter(ctx, msg)
	}

	// msg.Deliveries tracks redelivery count at the queue layer, which is
	// the authoritative attempt counter: Retry() re-enqueues the original
	// payload verbatim, so a WebhookMessage.Attempts field set here would
	// never round-trip back to us.
	attempt := msg.Deliveries
	result := w.deliverer.Deliver(ctx, sub, m.Notification, attempt)

	status := outcomeToStatus(result.Outcome)
	var nextRetry *sql.NullTime
	if result.Outcome == webhook.OutcomeRetriable && attempt < w.maxAttempts {
		t := time.Now().UTC().Add(webhook.NextRetryDelay(attempt))
		nextRetry = &sql.NullTime{Time: t, Valid: true}
	}
	if err := w.store.RecordWebhookAttempt(ctx, delivery.ID, status, result.StatusCode, result.ResponseBody, result.ErrorMessage, result.DeliveryTimeMs, nextRetry); err != nil {
		w.log.Error("webhook: record attempt failed", "error", err)
	}

	w.telemetry(ctx, m.Metadata.CrawlJobID, m.Metadata.TerritoryID, model.StepWebhookSent, string(result.Outcome), map[string]any{
		"attempt":        attempt,
		"deliveryTimeMs": result.DeliveryTimeMs,
	})

	switch result.Outcome {
	case webhook.OutcomeSent:
		return w.queue.Ack(ctx, msg)
	case webhook.OutcomeRetriable:
		if attempt >= w.maxAttempts {
			w.recordCritical(ctx, "webhook.exhausted", derefOr(result.ErrorMessage, "webhook delivery exhausted retries"))
			return w.queue.Ack(ctx, msg)
		}
		return w.queue.Retry(ctx, msg, webhook.NextRetryDelay(attempt))
	default:
		w.recordCritical(ctx, "webhook.failed", derefOr(result.ErrorMessage, "webhook delivery failed"))
		return w.queue.Ack(ctx, msg)
	}
}

func outcomeToStatus(o webhook.Outcome) model.WebhookDeliveryStatus {
	switch o {
	case webhook.OutcomeSent:
		return model.WebhookSent
	case webhook.OutcomeRetriable:
		return model.WebhookRetry
	default:
		return model.WebhookFailed
	}
}

// notificationField reads a string field out of the notification payload
// regardless of whether it arrived as a webhook.Notification (same
// process) or as a map[string]any (redelivered through the queue).
func notificationField(notification any, field string) (string, bool) {
	switch n := notification.(type) {
	case webhook.Notification:
		if field == "eventType" {
			return n.EventType, true
		}
	case map[string]any:
		if v, ok := n[field].(string); ok {
			return v, true
		}
	}
	return "", false
}

func (w *WebhookWorker) retryOrDeadLetter(ctx context.Context, msg queue.Message) error {
	if msg.Deliveries < w.maxAttempts {
		return w.queue.Retry(ctx, msg, backoffFor(msg.Deliveries))
	}
	w.recordCritical(ctx, "webhook.exhausted", "webhook delivery row could not be created")
	return w.queue.Ack(ctx, msg)
}

func (w *WebhookWorker) telemetry(ctx context.Context, crawlJobID, territoryID *string, step model.TelemetryStep, status string, detail map[string]any) {
	event := model.TelemetryEvent{
		CrawlJobID: crawlJobID,
		Step:       step,
		Status:     status,
		Detail:     detail,
	}
	if territoryID != nil {
		event.TerritoryID = *territoryID
	}
	if err := w.store.InsertTelemetryEvent(ctx, event); err != nil {
		w.log.Error("telemetry insert failed", "step", step, "error", err)
	}
}

func (w *WebhookWorker) recordCritical(ctx context.Context, operation, message string) {
	if err := w.store.InsertErrorLog(ctx, model.ErrorLog{
		Worker:    "webhook",
		Operation: operation,
		Severity:  model.SeverityCritical,
		Message:   message,
		Context:   map[string]any{},
	}); err != nil {
		w.log.Error("error log insert failed", "operation", operation, "error", err)
	}
}

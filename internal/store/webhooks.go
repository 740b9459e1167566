package store

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"gazette-pipeline/internal/model"
)

type webhookDeliveryRow struct {
	ID             string         `db:"id"`
	NotificationID string         `db:"notification_id"`
	SubscriptionID string         `db:"subscription_id"`
	AnalysisJobID  sql.NullString `db:"analysis_job_id"`
	EventType      string         `db:"event_type"`
	Status         string         `db:"status"`
	StatusCode     sql.NullInt64  `db:"status_code"`
	Attempts       int            `db:"attempts"`
	ResponseBody   sql.NullString `db:"response_body"`
	ErrorMessage   sql.NullString `db:"error_message"`
	CreatedAt      sql.NullTime   `db:"created_at"`
	DeliveredAt    sql.NullTime   `db:"delivered_at"`
	NextRetryAt    sql.NullTime   `db:"next_retry_at"`
}

func (r webhookDeliveryRow) toModel() model.WebhookDelivery {
	d := model.WebhookDelivery{
		ID:             r.ID,
		NotificationID: r.NotificationID,
		SubscriptionID: r.SubscriptionID,
		EventType:      r.EventType,
		Status:         model.WebhookDeliveryStatus(r.Status),
		Attempts:       r.Attempts,
		CreatedAt:      r.CreatedAt.Time,
	}
	if r.AnalysisJobID.Valid {
		d.AnalysisJobID = &r.AnalysisJobID.String
	}
	if r.StatusCode.Valid {
		v := int(r.StatusCode.Int64)
		d.StatusCode = &v
	}
	if r.ResponseBody.Valid {
		d.ResponseBody = &r.ResponseBody.String
	}
	if r.ErrorMessage.Valid {
		d.ErrorMessage = &r.ErrorMessage.String
	}
	if r.DeliveredAt.Valid {
		d.DeliveredAt = &r.DeliveredAt.Time
	}
	if r.NextRetryAt.Valid {
		d.NextRetryAt = &r.NextRetryAt.Time
	}
	return d
}

const webhookDeliveryColumns = `id, notification_id, subscription_id, analysis_job_id, event_type,
	status, status_code, attempts, response_body, error_message, created_at, delivered_at, next_retry_at`

// GetOrCreateWebhookDelivery returns the existing delivery row for
// notificationID, or creates a new pending one. attempts is monotone
// non-decreasing per spec §8 invariant 5: this only ever creates the row
// once, subsequent calls from RecordWebhookAttempt increment in place.
func (s *Store) GetOrCreateWebhookDelivery(ctx context.Context, notificationID, subscriptionID, eventType string, analysisJobID *string) (model.WebhookDelivery, error) {
	id := uuid.New().String()
	var row webhookDeliveryRow
	err := s.DB.GetContext(ctx, &row, `
		INSERT INTO webhook_deliveries (id, notification_id, subscription_id, analysis_job_id, event_type, status, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', 0, now())
		ON CONFLICT (notification_id) DO NOTHING
		RETURNING `+webhookDeliveryColumns, id, notificationID, subscriptionID, analysisJobID, eventType)
	if err != nil {
		if err == sql.ErrNoRows {
			return s.GetWebhookDeliveryByNotification(ctx, notificationID)
		}
		return model.WebhookDelivery{}, wrap("GetOrCreateWebhookDelivery", err)
	}
	return row.toModel(), nil
}

// GetWebhookDeliveryByNotification looks up a delivery by its unique
// notificationID.
func (s *Store) GetWebhookDeliveryByNotification(ctx context.Context, notificationID string) (model.WebhookDelivery, error) {
	var row webhookDeliveryRow
	err := s.DB.GetContext(ctx, &row, `SELECT `+webhookDeliveryColumns+` FROM webhook_deliveries WHERE notification_id = $1`, notificationID)
	if err != nil {
		return model.WebhookDelivery{}, wrap("GetWebhookDeliveryByNotification", err)
	}
	return row.toModel(), nil
}

// RecordWebhookAttempt appends the outcome of one delivery attempt,
// incrementing attempts and setting status/deliveredAt/nextRetryAt.
func (s *Store) RecordWebhookAttempt(ctx context.Context, id string, status model.WebhookDeliveryStatus, statusCode *int, responseBody, errMsg *string, deliveryTimeMs int64, nextRetryAt *sql.NullTime) error {
	var delivered sql.NullTime
	if status == model.WebhookSent {
		delivered = sql.NullTime{Time: nowUTC(), Valid: true}
	}
	var nextRetry sql.NullTime
	if nextRetryAt != nil {
		nextRetry = *nextRetryAt
	}

	_, err := s.DB.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status = $2, status_code = $3, response_body = $4, error_message = $5,
		    attempts = attempts + 1, delivered_at = COALESCE($6, delivered_at), next_retry_at = $7
		WHERE id = $1
	`, id, status, statusCode, responseBody, errMsg, delivered, nextRetry)
	return wrap("RecordWebhookAttempt", err)
}

// --- WebhookSubscription ---

type webhookSubscriptionRow struct {
	ID               string         `db:"id"`
	TenantLabel      string         `db:"tenant_label"`
	URL              string         `db:"url"`
	EventTypes       []byte         `db:"event_types"`
	AuthType         string         `db:"auth_type"`
	AuthSecret       string         `db:"auth_secret"`
	CustomHeaderName sql.NullString `db:"custom_header_name"`
	Active           bool           `db:"active"`
	CreatedAt        sql.NullTime   `db:"created_at"`
}

func (r webhookSubscriptionRow) toModel() model.WebhookSubscription {
	sub := model.WebhookSubscription{
		ID:          r.ID,
		TenantLabel: r.TenantLabel,
		URL:         r.URL,
		EventTypes:  unmarshalStrings(r.EventTypes),
		AuthType:    model.WebhookAuthType(r.AuthType),
		AuthSecret:  r.AuthSecret,
		Active:      r.Active,
		CreatedAt:   r.CreatedAt.Time,
	}
	if r.CustomHeaderName.Valid {
		sub.CustomHeaderName = &r.CustomHeaderName.String
	}
	return sub
}

const webhookSubscriptionColumns = `id, tenant_label, url, event_types, auth_type, auth_secret, custom_header_name, active, created_at`

// GetWebhookSubscription loads a subscription by id. Returns ErrNotFound if
// missing — the Webhook worker acks and returns in that case per §4.5.
func (s *Store) GetWebhookSubscription(ctx context.Context, id string) (model.WebhookSubscription, error) {
	var row webhookSubscriptionRow
	err := s.DB.GetContext(ctx, &row, `SELECT `+webhookSubscriptionColumns+` FROM webhook_subscriptions WHERE id = $1`, id)
	if err != nil {
		return model.WebhookSubscription{}, wrap("GetWebhookSubscription", err)
	}
	return row.toModel(), nil
}

// ListActiveWebhookSubscriptions returns every active subscription
// interested in eventType, used by the Analysis worker to fan out
// WebhookMessages.
func (s *Store) ListActiveWebhookSubscriptions(ctx context.Context, eventType string) ([]model.WebhookSubscription, error) {
	var rows []webhookSubscriptionRow
	err := s.DB.SelectContext(ctx, &rows, `
		SELECT `+webhookSubscriptionColumns+` FROM webhook_subscriptions
		WHERE active AND event_types @> to_jsonb($1::text)
	`, eventType)
	if err != nil {
		return nil, wrap("ListActiveWebhookSubscriptions", err)
	}
	out := make([]model.WebhookSubscription, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toModel())
	}
	return out, nil
}

package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gazette-pipeline/internal/model"
)

func subscription(url string, authType model.WebhookAuthType) model.WebhookSubscription {
	return model.WebhookSubscription{
		ID:       "sub-1",
		URL:      url,
		AuthType: authType,
		AuthSecret: "secret-token",
		Active:   true,
	}
}

func TestDeliver_2xxIsSent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		require.Equal(t, "1", r.Header.Get("X-Webhook-Attempt"))
		require.Equal(t, "sub-1", r.Header.Get("X-Webhook-Subscription-Id"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDeliverer(5*time.Second, "test")
	result := d.Deliver(context.Background(), subscription(srv.URL, model.WebhookAuthBearer), Notification{EventType: "analysis.completed"}, 1)
	require.Equal(t, OutcomeSent, result.Outcome)
	require.Equal(t, 200, *result.StatusCode)
}

func TestDeliver_5xxIsRetriable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := NewDeliverer(5*time.Second, "test")
	result := d.Deliver(context.Background(), subscription(srv.URL, model.WebhookAuthNone), Notification{}, 1)
	require.Equal(t, OutcomeRetriable, result.Outcome)
}

func TestDeliver_429IsRetriable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	d := NewDeliverer(5*time.Second, "test")
	result := d.Deliver(context.Background(), subscription(srv.URL, model.WebhookAuthNone), Notification{}, 1)
	require.Equal(t, OutcomeRetriable, result.Outcome)
}

func TestDeliver_4xxIsPermanentFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	d := NewDeliverer(5*time.Second, "test")
	result := d.Deliver(context.Background(), subscription(srv.URL, model.WebhookAuthNone), Notification{}, 1)
	require.Equal(t, OutcomeFailed, result.Outcome)
}

func TestDeliver_TransportErrorIsRetriable(t *testing.T) {
	d := NewDeliverer(100*time.Millisecond, "test")
	result := d.Deliver(context.Background(), subscription("http://127.0.0.1:1", model.WebhookAuthNone), Notification{}, 1)
	require.Equal(t, OutcomeRetriable, result.Outcome)
}

func TestDeliver_ResponseBodyTruncated(t *testing.T) {
	longBody := make([]byte, 5000)
	for i := range longBody {
		longBody[i] = 'x'
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write(longBody)
	}))
	defer srv.Close()

	d := NewDeliverer(5*time.Second, "test")
	result := d.Deliver(context.Background(), subscription(srv.URL, model.WebhookAuthNone), Notification{}, 1)
	require.LessOrEqual(t, len(*result.ResponseBody), responseBodyTruncateLimit)
}

func TestDeliver_CustomAuthHeader(t *testing.T) {
	headerName := "X-Custom-Secret"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "secret-token", r.Header.Get(headerName))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sub := subscription(srv.URL, model.WebhookAuthCustom)
	sub.CustomHeaderName = &headerName

	d := NewDeliverer(5*time.Second, "test")
	result := d.Deliver(context.Background(), sub, Notification{}, 1)
	require.Equal(t, OutcomeSent, result.Outcome)
}

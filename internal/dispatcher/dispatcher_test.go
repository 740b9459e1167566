package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gazette-pipeline/internal/crawler"
	"gazette-pipeline/internal/queue"
)

// fakeQueue is an in-memory queue.Queue used to exercise Dispatcher
// without a real Redis instance; Submit never reads back what it sends,
// so SendBatch/Health are the only methods exercised here.
type fakeQueue struct {
	sent       map[string][]any
	sendErr    error
	healthyMap map[string]bool
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{sent: make(map[string][]any), healthyMap: map[string]bool{
		queue.Crawl: true, queue.OCR: true, queue.Analysis: true, queue.Webhook: true,
	}}
}

func (f *fakeQueue) Send(ctx context.Context, q string, payload any) error {
	f.sent[q] = append(f.sent[q], payload)
	return nil
}

func (f *fakeQueue) SendBatch(ctx context.Context, q string, payloads []any) (int, error) {
	if f.sendErr != nil {
		return 0, f.sendErr
	}
	f.sent[q] = append(f.sent[q], payloads...)
	return len(payloads), nil
}

func (f *fakeQueue) Receive(ctx context.Context, q string, batchSize int) ([]queue.Message, error) {
	return nil, nil
}

func (f *fakeQueue) Ack(ctx context.Context, msg queue.Message) error { return nil }

func (f *fakeQueue) Retry(ctx context.Context, msg queue.Message, backoff time.Duration) error {
	return nil
}

func (f *fakeQueue) Health(ctx context.Context) map[string]bool { return f.healthyMap }

func newTestDispatcherRegistry() *crawler.Registry {
	r := crawler.NewRegistry()
	r.Register("htmlspider", nil,
		crawler.Descriptor{SpiderType: "htmlspider", TerritoryID: "city-1", Platform: "platform-x"},
		crawler.Descriptor{SpiderType: "htmlspider", TerritoryID: "city-2", Platform: "platform-x"},
	)
	return r
}

func TestResolveCities_AllReturnsEveryTerritory(t *testing.T) {
	d := &Dispatcher{crawlers: newTestDispatcherRegistry(), batchSize: 100}

	descs, err := d.resolveCities("all", "")
	require.NoError(t, err)
	require.Len(t, descs, 2)
}

func TestResolveCities_ExplicitListSkipsUnknownIDs(t *testing.T) {
	d := &Dispatcher{crawlers: newTestDispatcherRegistry(), batchSize: 100}

	descs, err := d.resolveCities([]any{"city-1", "nowhere"}, "")
	require.NoError(t, err)
	require.Len(t, descs, 1)
	require.Equal(t, "city-1", descs[0].TerritoryID)
}

func TestResolveCities_StringSliceWorksToo(t *testing.T) {
	d := &Dispatcher{crawlers: newTestDispatcherRegistry(), batchSize: 100}

	descs, err := d.resolveCities([]string{"city-2"}, "")
	require.NoError(t, err)
	require.Len(t, descs, 1)
}

func TestResolveCities_EmptyOrUnresolvedListReturnsEmpty(t *testing.T) {
	d := &Dispatcher{crawlers: newTestDispatcherRegistry(), batchSize: 100}

	descs, err := d.resolveCities([]any{"nowhere"}, "")
	require.NoError(t, err)
	require.Empty(t, descs)
}

func TestSendBatched_SplitsIntoConfiguredBatchSize(t *testing.T) {
	fq := newFakeQueue()
	d := &Dispatcher{queue: fq, batchSize: 2}

	payloads := []any{1, 2, 3, 4, 5}
	enqueued, err := d.sendBatched(context.Background(), payloads)
	require.NoError(t, err)
	require.Equal(t, 5, enqueued)
	require.Len(t, fq.sent[queue.Crawl], 5)
}

func TestStats_ReportsRegistryTotalsAndWebhookPresence(t *testing.T) {
	d := &Dispatcher{crawlers: newTestDispatcherRegistry(), webhookURL: "https://example.com/hook"}

	stats := d.Stats()
	require.Equal(t, 1, stats.Total)
	require.True(t, stats.WebhookConfigured)
	require.Equal(t, 2, stats.Platforms["platform-x"])
}

func TestStats_NoWebhookConfigured(t *testing.T) {
	d := &Dispatcher{crawlers: newTestDispatcherRegistry()}

	require.False(t, d.Stats().WebhookConfigured)
}

func TestSpiders_FiltersBySpiderType(t *testing.T) {
	d := &Dispatcher{crawlers: newTestDispatcherRegistry()}

	descs := d.Spiders("htmlspider")
	require.Len(t, descs, 2)

	require.Empty(t, d.Spiders("unknown-type"))
}

func TestQueueHealth_MapsPerQueueReachability(t *testing.T) {
	fq := newFakeQueue()
	fq.healthyMap[queue.Webhook] = false
	d := &Dispatcher{crawlers: newTestDispatcherRegistry(), queue: fq, webhookURL: "https://example.com/hook"}

	health := d.QueueHealth(context.Background())
	require.True(t, health.Queues.Crawl)
	require.False(t, health.Queues.Webhook.Reachable)
	require.True(t, health.Queues.Webhook.Configured)
}

func TestToNullTime_NilIsInvalid(t *testing.T) {
	nt := toNullTime(nil)
	require.False(t, nt.Valid)
}

func TestToNullTime_NonNilIsValid(t *testing.T) {
	now := time.Now()
	nt := toNullTime(&now)
	require.True(t, nt.Valid)
	require.Equal(t, now, nt.Time)
}

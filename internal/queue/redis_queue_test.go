package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T, maxRetries int) (*RedisQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisQueue(rdb, NewConsumerName("test"), maxRetries, 30*time.Second), mr
}

type examplePayload struct {
	JobID string `json:"jobId"`
}

func TestSendAndReceive_RoundTrips(t *testing.T) {
	q, _ := newTestQueue(t, 3)
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, Crawl, examplePayload{JobID: "job-1"}))

	msgs, err := q.Receive(ctx, Crawl, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, 1, msgs[0].Deliveries)

	var got examplePayload
	require.NoError(t, msgs[0].Unmarshal(&got))
	require.Equal(t, "job-1", got.JobID)
}

func TestAck_PreventsRedelivery(t *testing.T) {
	q, _ := newTestQueue(t, 3)
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, OCR, examplePayload{JobID: "job-2"}))
	msgs, err := q.Receive(ctx, OCR, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	require.NoError(t, q.Ack(ctx, msgs[0]))

	again, err := q.Receive(ctx, OCR, 10)
	require.NoError(t, err)
	require.Empty(t, again)
}

func TestRetry_IncrementsDeliveriesUntilDeadLetter(t *testing.T) {
	q, _ := newTestQueue(t, 2)
	ctx := context.Background()

	require.NoError(t, q.Send(ctx, Analysis, examplePayload{JobID: "job-3"}))

	msgs, err := q.Receive(ctx, Analysis, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, 1, msgs[0].Deliveries)

	require.NoError(t, q.Retry(ctx, msgs[0], time.Second))

	msgs, err = q.Receive(ctx, Analysis, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	require.Equal(t, 2, msgs[0].Deliveries)

	err = q.Retry(ctx, msgs[0], time.Second)
	require.ErrorIs(t, err, ErrDeadLettered)

	msgs, err = q.Receive(ctx, Analysis, 10)
	require.NoError(t, err)
	require.Empty(t, msgs)
}

func TestSendBatch_ReportsEnqueuedCount(t *testing.T) {
	q, _ := newTestQueue(t, 3)
	ctx := context.Background()

	payloads := []any{
		examplePayload{JobID: "a"},
		examplePayload{JobID: "b"},
		examplePayload{JobID: "c"},
	}
	enqueued, err := q.SendBatch(ctx, Webhook, payloads)
	require.NoError(t, err)
	require.Equal(t, 3, enqueued)

	msgs, err := q.Receive(ctx, Webhook, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
}

func TestHealth_ReportsAllQueuesReachable(t *testing.T) {
	q, mr := newTestQueue(t, 3)
	health := q.Health(context.Background())
	require.True(t, health[Crawl])
	require.True(t, health[OCR])

	mr.Close()
	health = q.Health(context.Background())
	require.False(t, health[Webhook])
}

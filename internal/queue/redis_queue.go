package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisQueue implements Queue on top of Redis Streams: one stream per
// queue name, a single consumer group ("workers") per stream, and a
// `{queue}:dlq` stream that dead-lettered messages are moved to. Claim
// recovery for crashed consumers uses XAUTOCLAIM against entries idle
// longer than visibilityTimeout, which is how the at-least-once
// redelivery guarantee in spec §5 is met without a separate scheduler.
type RedisQueue struct {
	rdb               *redis.Client
	group             string
	consumer          string
	maxRetries        int
	visibilityTimeout time.Duration
}

const group = "workers"

// NewRedisQueue wraps rdb. consumerName should be unique per worker
// process (e.g. hostname-pid) so XAUTOCLAIM can tell crashed consumers
// apart from slow-but-alive ones.
func NewRedisQueue(rdb *redis.Client, consumerName string, maxRetries int, visibilityTimeout time.Duration) *RedisQueue {
	return &RedisQueue{
		rdb:               rdb,
		group:             group,
		consumer:          consumerName,
		maxRetries:        maxRetries,
		visibilityTimeout: visibilityTimeout,
	}
}

func dlqName(queueName string) string { return queueName + ":dlq" }

// ensureGroup creates the stream and consumer group if they don't exist
// yet. MKSTREAM lets this run safely before any message has ever been sent.
func (q *RedisQueue) ensureGroup(ctx context.Context, stream string) error {
	err := q.rdb.XGroupCreateMkStream(ctx, stream, q.group, "0").Err()
	if err != nil && !isBusyGroupErr(err) {
		return err
	}
	return nil
}

func isBusyGroupErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}

type envelope struct {
	Payload    json.RawMessage `json:"payload"`
	Deliveries int             `json:"deliveries"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
}

func (q *RedisQueue) Send(ctx context.Context, queueName string, payload any) error {
	if err := q.ensureGroup(ctx, queueName); err != nil {
		return fmt.Errorf("queue: send %s: %w", queueName, err)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("queue: marshal payload for %s: %w", queueName, err)
	}
	env := envelope{Payload: raw, Deliveries: 0, EnqueuedAt: time.Now().UTC()}
	envRaw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("queue: marshal envelope for %s: %w", queueName, err)
	}
	err = q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: queueName,
		Values: map[string]any{"env": envRaw},
	}).Err()
	if err != nil {
		return fmt.Errorf("queue: send %s: %w", queueName, err)
	}
	return nil
}

func (q *RedisQueue) SendBatch(ctx context.Context, queueName string, payloads []any) (int, error) {
	var firstErr error
	enqueued := 0
	for _, p := range payloads {
		if err := q.Send(ctx, queueName, p); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		enqueued++
	}
	return enqueued, firstErr
}

// Receive first reclaims any pending entries idle past the visibility
// timeout (crashed-consumer recovery), then fills the rest of batchSize
// with fresh entries via XREADGROUP.
func (q *RedisQueue) Receive(ctx context.Context, queueName string, batchSize int) ([]Message, error) {
	if err := q.ensureGroup(ctx, queueName); err != nil {
		return nil, fmt.Errorf("queue: receive %s: %w", queueName, err)
	}

	var out []Message

	claimed, _, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   queueName,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  q.visibilityTimeout,
		Start:    "0-0",
		Count:    int64(batchSize),
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("queue: autoclaim %s: %w", queueName, err)
	}
	for _, xm := range claimed {
		if msg, ok := toMessage(queueName, xm); ok {
			out = append(out, msg)
		}
	}
	if len(out) >= batchSize {
		return out[:batchSize], nil
	}

	streams, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{queueName, ">"},
		Count:    int64(batchSize - len(out)),
		Block:    2 * time.Second,
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("queue: readgroup %s: %w", queueName, err)
	}
	for _, s := range streams {
		for _, xm := range s.Messages {
			if msg, ok := toMessage(queueName, xm); ok {
				out = append(out, msg)
			}
		}
	}
	return out, nil
}

func toMessage(queueName string, xm redis.XMessage) (Message, bool) {
	raw, ok := xm.Values["env"].(string)
	if !ok {
		return Message{}, false
	}
	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return Message{}, false
	}
	return Message{
		ID:         xm.ID,
		Queue:      queueName,
		Payload:    env.Payload,
		Deliveries: env.Deliveries + 1,
		EnqueuedAt: env.EnqueuedAt,
	}, true
}

func (q *RedisQueue) Ack(ctx context.Context, msg Message) error {
	if err := q.rdb.XAck(ctx, msg.Queue, q.group, msg.ID).Err(); err != nil {
		return fmt.Errorf("queue: ack %s/%s: %w", msg.Queue, msg.ID, err)
	}
	return nil
}

// Retry waits out backoff, then acks the current delivery and, if
// msg.Deliveries is still under the configured max, re-adds the message to
// the tail of the stream with an incremented delivery count. Redis Streams
// has no native delayed-delivery primitive, so the wait happens here, in
// the calling consumer, while the delivery is still pending; a message
// that has reached the max is dead-lettered without waiting. If ctx ends
// during the wait, the delivery stays pending and is reclaimed once it
// has been idle past the visibility timeout.
func (q *RedisQueue) Retry(ctx context.Context, msg Message, backoff time.Duration) error {
	if msg.Deliveries < q.maxRetries && backoff > 0 {
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := q.Ack(ctx, msg); err != nil {
		return err
	}
	if msg.Deliveries >= q.maxRetries {
		return q.deadLetter(ctx, msg)
	}
	env := envelope{Payload: msg.Payload, Deliveries: msg.Deliveries, EnqueuedAt: msg.EnqueuedAt}
	envRaw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("queue: marshal retry envelope: %w", err)
	}
	if err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: msg.Queue,
		Values: map[string]any{"env": envRaw},
	}).Err(); err != nil {
		return fmt.Errorf("queue: retry re-add %s: %w", msg.Queue, err)
	}
	return nil
}

func (q *RedisQueue) deadLetter(ctx context.Context, msg Message) error {
	if err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: dlqName(msg.Queue),
		Values: map[string]any{
			"env":        string(msg.Payload),
			"deliveries": strconv.Itoa(msg.Deliveries),
			"originalId": msg.ID,
		},
	}).Err(); err != nil {
		return fmt.Errorf("queue: dead-letter %s: %w", msg.Queue, err)
	}
	return ErrDeadLettered
}

// Health pings Redis once and reports the same reachability for every
// named queue — they all share one connection.
func (q *RedisQueue) Health(ctx context.Context) map[string]bool {
	reachable := q.rdb.Ping(ctx).Err() == nil
	return map[string]bool{
		Crawl:    reachable,
		OCR:      reachable,
		Analysis: reachable,
		Webhook:  reachable,
	}
}

// NewConsumerName builds a unique-enough consumer identity for this
// process, used as RedisQueue's consumer argument.
func NewConsumerName(role string) string {
	return role + "-" + uuid.New().String()
}

// Package queue is the durable queue fabric (C3): four named queues
// (crawl, ocr, analysis, webhook) with at-least-once delivery, explicit
// per-message ack/retry, bounded redelivery and a dead-letter stream.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Names of the four pipeline queues, per spec §2/§6.
const (
	Crawl    = "crawl"
	OCR      = "ocr"
	Analysis = "analysis"
	Webhook  = "webhook"
)

// ErrDeadLettered is returned by Retry when a message has exhausted its
// retry budget and has been moved to the dead-letter stream instead.
var ErrDeadLettered = errors.New("queue: message dead-lettered")

// Message is one delivery of a queue entry. ID identifies this specific
// delivery (used to Ack/Retry it); Deliveries counts how many times this
// logical message has been attempted, starting at 1.
type Message struct {
	ID         string
	Queue      string
	Payload    []byte
	Deliveries int
	EnqueuedAt time.Time
}

// Unmarshal decodes the message payload into dest.
func (m Message) Unmarshal(dest any) error {
	return json.Unmarshal(m.Payload, dest)
}

// Queue is the contract every stage worker programs against. Implementations
// must guarantee at-least-once delivery: a message is redelivered whenever
// it is neither acked nor explicitly retried within the visibility timeout
// (e.g. a worker crashes mid-processing).
type Queue interface {
	// Send enqueues a single payload, marshaled to JSON.
	Send(ctx context.Context, queue string, payload any) error

	// SendBatch enqueues many payloads. It does not abort on a partial
	// failure — it returns how many succeeded and the first error seen,
	// so dispatcher-style callers can fall back to per-item Send and
	// report an accurate enqueued/failed split (spec §4.1).
	SendBatch(ctx context.Context, queue string, payloads []any) (enqueued int, err error)

	// Receive reads up to batchSize pending messages for queue, claiming
	// them for this consumer. Blocks up to the implementation's poll
	// timeout if the queue is empty; returns an empty slice rather than
	// an error in that case.
	Receive(ctx context.Context, queue string, batchSize int) ([]Message, error)

	// Ack confirms successful processing of msg; it will not be redelivered.
	Ack(ctx context.Context, msg Message) error

	// Retry requeues msg for redelivery after backoff. Once msg.Deliveries
	// reaches the queue's configured max retries, Retry dead-letters the
	// message instead and returns ErrDeadLettered (the message is still
	// acked from the original stream in that case — callers should treat
	// ErrDeadLettered as terminal, not as a failure to propagate further).
	Retry(ctx context.Context, msg Message, backoff time.Duration) error

	// Health reports, per queue name, whether the queue is reachable.
	Health(ctx context.Context) map[string]bool
}

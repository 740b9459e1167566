// Package retryutil provides a small exponential-backoff retry helper used
// wherever the pipeline must retry a single fallible operation a bounded
// number of times before downgrading the result to a failure (spec §4.3
// OcrResult persistence, §4.4 ConcursoFinding inserts).
package retryutil

import (
	"context"
	"fmt"
	"time"
)

// Do calls fn up to attempts times, sleeping baseDelay*2^(i) between
// attempts (i starting at 0), and returns the first nil-error result. If
// every attempt fails, it returns the last error wrapped with name and the
// attempt count so logs can tell which operation gave up.
func Do(ctx context.Context, name string, attempts int, baseDelay time.Duration, fn func(ctx context.Context) error) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if i == attempts-1 {
			break
		}
		delay := baseDelay * time.Duration(1<<uint(i))
		select {
		case <-ctx.Done():
			return fmt.Errorf("retryutil: %s: %w", name, ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("retryutil: %s: gave up after %d attempts: %w", name, attempts, lastErr)
}

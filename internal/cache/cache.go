// Package cache is the read-through cache layer (C2) in front of the
// store: a miss or a Redis error here never fails the caller, it just
// means "go read the authoritative copy from PostgreSQL". Callers
// populate the cache themselves after a store read or a fresh result.
package cache

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// OcrTTL is how long an OCR text blob stays cached, per spec §7.
	OcrTTL = 7 * 24 * time.Hour
	// AnalysisDedupTTL is how long a dedup lookup result stays cached.
	AnalysisDedupTTL = 24 * time.Hour
)

// Cache wraps a Redis client. A nil *redis.Client is valid: every method
// degrades to a cache miss so the pipeline keeps working with Redis down
// entirely, matching the teacher's rateLimitMiddleware's "best effort,
// never block the request" posture toward Redis.
type Cache struct {
	rdb *redis.Client
}

// New wraps an already-connected *redis.Client.
func New(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

// OcrKey builds the `ocr:{base64url(pdfUrl, no padding)}` key from spec §7.
func OcrKey(pdfURL string) string {
	return "ocr:" + base64.RawURLEncoding.EncodeToString([]byte(pdfURL))
}

// AnalysisDedupKey builds the `analysis:dedup:{territoryId}:{gazetteId}:{configHash}` key from spec §7.
func AnalysisDedupKey(territoryID, gazetteID, configHash string) string {
	return fmt.Sprintf("analysis:dedup:%s:%s:%s", territoryID, gazetteID, configHash)
}

// GetJSON fetches key and unmarshals it into dest. It returns (false, nil)
// on a cache miss or any Redis error — the caller is expected to fall
// through to the store. A true error is returned only for malformed JSON
// already sitting in the cache, a condition a caller may want to log.
func (c *Cache) GetJSON(ctx context.Context, key string, dest any) (bool, error) {
	if c == nil || c.rdb == nil {
		return false, nil
	}
	raw, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("cache: unmarshal %s: %w", key, err)
	}
	return true, nil
}

// PutJSON marshals value and stores it under key with the given TTL. Write
// failures are swallowed: a cache PUT is an optimization, never a
// requirement for correctness, so callers don't need to branch on it.
func (c *Cache) PutJSON(ctx context.Context, key string, value any, ttl time.Duration) {
	if c == nil || c.rdb == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	c.rdb.Set(ctx, key, raw, ttl)
}

// Invalidate removes key, used when a downstream failure means a cached
// value can no longer be trusted (read-through-invalidate-on-failure).
func (c *Cache) Invalidate(ctx context.Context, key string) {
	if c == nil || c.rdb == nil {
		return
	}
	c.rdb.Del(ctx, key)
}

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return New(rdb)
}

type ocrPayload struct {
	ExtractedText string `json:"extractedText"`
}

func TestGetJSON_MissReturnsFalse(t *testing.T) {
	c := newTestCache(t)
	var dest ocrPayload
	found, err := c.GetJSON(context.Background(), OcrKey("https://example.com/a.pdf"), &dest)
	require.NoError(t, err)
	require.False(t, found)
}

func TestPutThenGetJSON_RoundTrips(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	key := OcrKey("https://example.com/a.pdf")

	c.PutJSON(ctx, key, ocrPayload{ExtractedText: "hello world"}, OcrTTL)

	var dest ocrPayload
	found, err := c.GetJSON(ctx, key, &dest)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "hello world", dest.ExtractedText)
}

func TestInvalidate_RemovesKey(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	key := AnalysisDedupKey("terr-1", "gaz-1", "hash-1")

	c.PutJSON(ctx, key, ocrPayload{ExtractedText: "cached"}, AnalysisDedupTTL)
	c.Invalidate(ctx, key)

	var dest ocrPayload
	found, err := c.GetJSON(ctx, key, &dest)
	require.NoError(t, err)
	require.False(t, found)
}

func TestNilCache_IsAlwaysAMiss(t *testing.T) {
	var c *Cache
	ctx := context.Background()
	var dest ocrPayload

	found, err := c.GetJSON(ctx, "ocr:x", &dest)
	require.NoError(t, err)
	require.False(t, found)

	c.PutJSON(ctx, "ocr:x", ocrPayload{}, time.Second)
	c.Invalidate(ctx, "ocr:x")
}

func TestOcrKey_IsURLSafeNoPadding(t *testing.T) {
	key := OcrKey("https://example.com/gazette.pdf")
	require.Regexp(t, `^ocr:[A-Za-z0-9_-]+$`, key)
}

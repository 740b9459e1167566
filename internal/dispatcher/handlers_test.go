package dispatcher

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"gazette-pipeline/internal/crawler"
	"gazette-pipeline/internal/model"
)

func newTestApp(d *Dispatcher) *fiber.App {
	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("dispatcher", d)
		return c.Next()
	})
	app.Get("/", rootHandler)
	app.Post("/crawl", crawlHandler)
	app.Post("/crawl/today-yesterday", crawlTodayYesterdayHandler)
	app.Post("/crawl/cities", crawlCitiesHandler)
	app.Get("/spiders", spidersHandler)
	app.Get("/stats", statsHandler)
	app.Get("/health/queue", queueHealthHandler)
	return app
}

func TestRootHandler_ListsRegisteredHandlers(t *testing.T) {
	d := &Dispatcher{crawlers: newTestDispatcherRegistry()}
	app := newTestApp(d)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body RootResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, 1, body.CrawlersRegistered)
	require.Contains(t, body.Handlers, "/crawl")
}

func TestCrawlHandler_MissingCitiesIsBadRequest(t *testing.T) {
	d := &Dispatcher{crawlers: newTestDispatcherRegistry()}
	app := newTestApp(d)

	req := httptest.NewRequest(http.MethodPost, "/crawl", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCrawlHandler_MalformedBodyIsBadRequest(t *testing.T) {
	d := &Dispatcher{crawlers: newTestDispatcherRegistry()}
	app := newTestApp(d)

	req := httptest.NewRequest(http.MethodPost, "/crawl", bytes.NewReader([]byte(`not-json`)))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCrawlHandler_NoValidCitiesIsBadRequest(t *testing.T) {
	d := &Dispatcher{crawlers: crawler.NewRegistry(), batchSize: 100}
	app := newTestApp(d)

	req := httptest.NewRequest(http.MethodPost, "/crawl", bytes.NewReader([]byte(`{"cities":["nowhere"]}`)))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSpidersHandler_FiltersByQueryParam(t *testing.T) {
	d := &Dispatcher{crawlers: newTestDispatcherRegistry()}
	app := newTestApp(d)

	req := httptest.NewRequest(http.MethodGet, "/spiders?type=htmlspider", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body []SpiderDescriptor
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body, 2)
}

func TestStatsHandler_ReturnsRegistrySnapshot(t *testing.T) {
	d := &Dispatcher{crawlers: newTestDispatcherRegistry(), webhookURL: "https://example.com/hook"}
	app := newTestApp(d)

	req := httptest.NewRequest(http.MethodGet, "/stats", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	var body StatsResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.True(t, body.WebhookConfigured)
	require.Equal(t, 1, body.Total)
}

func TestQueueHealthHandler_ReturnsPerQueueState(t *testing.T) {
	fq := newFakeQueue()
	d := &Dispatcher{crawlers: newTestDispatcherRegistry(), queue: fq}
	app := newTestApp(d)

	req := httptest.NewRequest(http.MethodGet, "/health/queue", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)

	var body QueueHealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.True(t, body.Queues.Crawl)
	require.True(t, body.Queues.OCR)
}

func TestJobTypeFor_AllStringIsScheduled(t *testing.T) {
	require.Equal(t, model.CrawlJobScheduled, jobTypeFor("all"))
}

func TestJobTypeFor_ExplicitListIsManual(t *testing.T) {
	require.Equal(t, model.CrawlJobManual, jobTypeFor([]string{"city-1"}))
}

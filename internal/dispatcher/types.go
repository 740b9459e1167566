package dispatcher

import "time"

// CrawlRequest is the body of POST /crawl and POST /crawl/cities.
type CrawlRequest struct {
	Cities    any        `json:"cities"` // "all" or []string
	StartDate *time.Time `json:"startDate,omitempty"`
	EndDate   *time.Time `json:"endDate,omitempty"`
}

// TodayYesterdayRequest is the body of POST /crawl/today-yesterday.
type TodayYesterdayRequest struct {
	Platform string `json:"platform,omitempty"`
}

// CrawlResponse is the shared response envelope for every /crawl* endpoint.
type CrawlResponse struct {
	Success            bool       `json:"success"`
	Code               string     `json:"code,omitempty"`
	Error              string     `json:"error,omitempty"`
	TasksEnqueued      int        `json:"tasksEnqueued"`
	Cities             []string   `json:"cities"`
	CrawlJobID         string     `json:"crawlJobId,omitempty"`
	FailedCount        int        `json:"failedCount,omitempty"`
	DateRange          *dateRange `json:"dateRange,omitempty"`
	EstimatedTimeMins  float64    `json:"estimatedTimeMinutes,omitempty"`
}

type dateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// RootResponse is the body of GET /.
type RootResponse struct {
	Service            string   `json:"service"`
	Version            string   `json:"version"`
	CrawlersRegistered int      `json:"crawlersRegistered"`
	Handlers           []string `json:"handlers"`
}

// SpiderDescriptor is one entry of GET /spiders.
type SpiderDescriptor struct {
	SpiderType string `json:"spiderType"`
	Territory  string `json:"territoryId"`
	Platform   string `json:"platform"`
}

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	Total             int            `json:"total"`
	Platforms         map[string]int `json:"platforms"`
	WebhookConfigured bool           `json:"webhookConfigured"`
	Endpoint          string         `json:"endpoint,omitempty"`
}

// QueueHealthResponse is the body of GET /health/queue.
type QueueHealthResponse struct {
	Queues QueueHealth    `json:"queues"`
	Worker map[string]any `json:"worker"`
}

type QueueHealth struct {
	Crawl    bool            `json:"crawl"`
	OCR      bool            `json:"ocr"`
	Analysis bool            `json:"analysis"`
	Webhook  WebhookQueueHealth `json:"webhook"`
}

type WebhookQueueHealth struct {
	Reachable bool `json:"reachable"`
	Configured bool `json:"configured"`
}

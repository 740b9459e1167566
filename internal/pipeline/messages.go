// Package pipeline implements the four stage workers (C4) that consume
// the queue fabric: Crawl, OCR, Analysis, Webhook. Each worker reads its
// queue's message envelope, performs its stage against Store/Cache/
// external collaborators, and enqueues the next stage's messages.
package pipeline

import (
	"time"

	"gazette-pipeline/internal/crawler"
)

// CrawlMessage drives the Crawl worker (C4a), per spec §6.
type CrawlMessage struct {
	SpiderID    string            `json:"spiderId"`
	TerritoryID string            `json:"territoryId"`
	SpiderType  string            `json:"spiderType"`
	Config      map[string]any    `json:"config"`
	DateRange   crawler.DateRange `json:"dateRange"`
	Metadata    CrawlMetadata     `json:"metadata"`
}

type CrawlMetadata struct {
	CrawlJobID string `json:"crawlJobId"`
}

// OcrMessage drives the OCR worker (C4b), per spec §6.
type OcrMessage struct {
	JobID           string      `json:"jobId"`
	PdfURL          string      `json:"pdfUrl"`
	TerritoryID     string      `json:"territoryId"`
	PublicationDate time.Time   `json:"publicationDate"`
	EditionNumber   *string     `json:"editionNumber,omitempty"`
	SpiderID        string      `json:"spiderId"`
	QueuedAt        time.Time   `json:"queuedAt"`
	Metadata        OcrMetadata `json:"metadata"`
}

type OcrMetadata struct {
	Power          *string `json:"power,omitempty"`
	IsExtraEdition *bool   `json:"isExtraEdition,omitempty"`
	SourceText     *string `json:"sourceText,omitempty"`
	CrawlJobID     string  `json:"crawlJobId"`
	GazetteCrawlID string  `json:"gazetteCrawlId"`
}

// AnalysisMessage drives the Analysis worker (C4c), per spec §6.
type AnalysisMessage struct {
	JobID          string           `json:"jobId"`
	OcrJobID       string           `json:"ocrJobId"`
	GazetteCrawlID string           `json:"gazetteCrawlId"`
	GazetteID      string           `json:"gazetteId"`
	TerritoryID    string           `json:"territoryId"`
	GazetteDate    time.Time        `json:"gazetteDate"`
	PdfURL         string           `json:"pdfUrl"`
	QueuedAt       time.Time        `json:"queuedAt"`
	Metadata       AnalysisMetadata `json:"metadata"`
}

type AnalysisMetadata struct {
	CrawlJobID string  `json:"crawlJobId"`
	SpiderID   string  `json:"spiderId"`
	SpiderType *string `json:"spiderType,omitempty"`
}

// WebhookMessage drives the Webhook worker (C4d), per spec §6.
type WebhookMessage struct {
	MessageID      string          `json:"messageId"`
	SubscriptionID string          `json:"subscriptionId"`
	Notification   any             `json:"notification"`
	Attempts       int             `json:"attempts"`
	Metadata       WebhookMetadata `json:"metadata"`
}

type WebhookMetadata struct {
	CrawlJobID  *string `json:"crawlJobId,omitempty"`
	TerritoryID *string `json:"territoryId,omitempty"`
}

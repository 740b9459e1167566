// Package model defines the persistent entities shared by every pipeline
// stage. Entities are identified by opaque string ids (uuid.UUID.String())
// and all timestamps are UTC.
package model

import "time"

// CrawlJobType enumerates how a CrawlJob was created.
type CrawlJobType string

const (
	CrawlJobScheduled CrawlJobType = "scheduled"
	CrawlJobManual    CrawlJobType = "manual"
	CrawlJobCities    CrawlJobType = "cities"
)

// CrawlJobStatus is the lifecycle state of a CrawlJob.
type CrawlJobStatus string

const (
	CrawlJobPending   CrawlJobStatus = "pending"
	CrawlJobRunning   CrawlJobStatus = "running"
	CrawlJobCompleted CrawlJobStatus = "completed"
	CrawlJobFailed    CrawlJobStatus = "failed"
)

// CrawlJob is a dispatched unit of work spanning many cities.
type CrawlJob struct {
	ID              string
	JobType         CrawlJobType
	Status          CrawlJobStatus
	TotalCities     int
	CompletedCities int
	FailedCities    int
	StartDate       time.Time
	EndDate         time.Time
	PlatformFilter  *string
	CreatedAt       time.Time
	StartedAt       *time.Time
	CompletedAt     *time.Time
	Metadata        map[string]any
}

// GazettePower is the branch of government a gazette covers.
type GazettePower string

const (
	PowerExecutive            GazettePower = "executive"
	PowerLegislative          GazettePower = "legislative"
	PowerExecutiveLegislative GazettePower = "executive_legislative"
)

// GazetteStatus tracks the OCR lifecycle of a registered gazette PDF.
type GazetteStatus string

const (
	GazettePending       GazetteStatus = "pending"
	GazetteUploaded      GazetteStatus = "uploaded"
	GazetteOCRProcessing GazetteStatus = "ocr_processing"
	GazetteOCRRetrying   GazetteStatus = "ocr_retrying"
	GazetteOCRFailure    GazetteStatus = "ocr_failure"
	GazetteOCRSuccess    GazetteStatus = "ocr_success"
)

// GazetteRegistry is the permanent, deduplicated record of a gazette PDF.
// Invariant: at most one row per PDFURL.
type GazetteRegistry struct {
	ID              string
	PublicationDate time.Time
	EditionNumber   *string
	PDFURL          string
	PDFObjectKey    *string
	IsExtraEdition  bool
	Power           GazettePower
	CreatedAt       time.Time
	Status          GazetteStatus
	Metadata        map[string]any
}

// GazetteCrawlStatus tracks a single crawl of an existing gazette.
type GazetteCrawlStatus string

const (
	CrawlCreated         GazetteCrawlStatus = "created"
	CrawlProcessing      GazetteCrawlStatus = "processing"
	CrawlSuccess         GazetteCrawlStatus = "success"
	CrawlFailed          GazetteCrawlStatus = "failed"
	CrawlAnalysisPending GazetteCrawlStatus = "analysis_pending"
)

// GazetteCrawl is a single discovery of an existing gazette by a CrawlJob.
type GazetteCrawl struct {
	ID               string
	JobID            string // unique: the originating CrawlMessage jobId
	TerritoryID      string
	SpiderID         string
	GazetteID        string
	AnalysisResultID *string
	Status           GazetteCrawlStatus
	ScrapedAt        time.Time
	CreatedAt        time.Time
}

// OcrJobStatus is the lifecycle of a single OCR attempt.
type OcrJobStatus string

const (
	OcrJobPending    OcrJobStatus = "pending"
	OcrJobProcessing OcrJobStatus = "processing"
	OcrJobSuccess    OcrJobStatus = "success"
	OcrJobFailure    OcrJobStatus = "failure"
	OcrJobPartial    OcrJobStatus = "partial"
)

// OcrJob is a single OCR attempt against a registry row.
type OcrJob struct {
	ID                string
	DocumentID        string // -> GazetteRegistry.ID
	Status            OcrJobStatus
	PagesProcessed    *int
	ProcessingTimeMs  *int64
	TextLength        *int
	ErrorCode         *string
	ErrorMessage      *string
	CreatedAt         time.Time
	CompletedAt       *time.Time
	Metadata          map[string]any // includes jobId (the originating message's jobId), isRetry
}

// OcrResult is the extracted text for a registry row.
// Invariant: at most one row per DocumentID with Status == success.
type OcrResult struct {
	ID                string
	DocumentID        string
	ExtractedText     string
	TextLength        int
	ConfidenceScore   *float64
	LanguageDetected  string
	ProcessingMethod  string
	CreatedAt         time.Time
	Metadata          map[string]any
}

// FindingType enumerates the structured findings an analyzer can produce.
type FindingType string

const (
	FindingKeyword  FindingType = "keyword"
	FindingConcurso FindingType = "concurso"
	FindingEntity   FindingType = "entity"
	FindingAI       FindingType = "ai"
)

// Finding is a single structured datum extracted by an analyzer.
type Finding struct {
	Type       FindingType
	Category   string
	Confidence float64
	Data       map[string]any
	Context    string
}

// AnalysisResult is the aggregated findings for one gazette under one
// analyzer configuration. Invariant: unique by (TerritoryID, GazetteID,
// ConfigHash), enforced via the deterministic JobID.
type AnalysisResult struct {
	ID                     string
	JobID                  string // deterministic, unique
	GazetteID              string
	TerritoryID            string
	PublicationDate        time.Time
	TotalFindings          int
	HighConfidenceFindings int
	Categories             []string
	Keywords               []string
	Findings               []Finding
	Summary                string
	ProcessingTimeMs       *int64
	AnalyzedAt             time.Time
	Metadata               map[string]any // includes configSignature{configHash,...}
}

// ConcursoFinding is a first-class row per public-competition finding.
type ConcursoFinding struct {
	ID               string
	AnalysisJobID    string
	GazetteID        string
	TerritoryID      string
	DocumentType     *string
	Confidence       float64
	Orgao            *string
	EditalNumero     *string
	TotalVagas       int
	Cargos           []string
	Datas            []string
	Taxas            []string
	Banca            string
	ExtractionMethod string
	CreatedAt        time.Time
}

// WebhookDeliveryStatus is the outcome of a single delivery attempt.
// Unified per the spec's own preference: {pending, sent, failed, retry}.
type WebhookDeliveryStatus string

const (
	WebhookPending WebhookDeliveryStatus = "pending"
	WebhookSent    WebhookDeliveryStatus = "sent"
	WebhookFailed  WebhookDeliveryStatus = "failed"
	WebhookRetry   WebhookDeliveryStatus = "retry"
)

// WebhookDelivery is one subscriber notification for one analysis.
type WebhookDelivery struct {
	ID             string
	NotificationID string // unique
	SubscriptionID string
	AnalysisJobID  *string
	EventType      string
	Status         WebhookDeliveryStatus
	StatusCode     *int
	Attempts       int
	ResponseBody   *string
	ErrorMessage   *string
	CreatedAt      time.Time
	DeliveredAt    *time.Time
	NextRetryAt    *time.Time
}

// WebhookAuthType enumerates supported outbound auth schemes.
type WebhookAuthType string

const (
	WebhookAuthNone   WebhookAuthType = "none"
	WebhookAuthBearer WebhookAuthType = "bearer"
	WebhookAuthBasic  WebhookAuthType = "basic"
	WebhookAuthCustom WebhookAuthType = "custom"
)

// WebhookSubscription is a registered subscriber endpoint.
type WebhookSubscription struct {
	ID                string
	TenantLabel       string
	URL               string
	EventTypes        []string
	AuthType          WebhookAuthType
	AuthSecret        string
	CustomHeaderName  *string
	Active            bool
	CreatedAt         time.Time
}

// ErrorSeverity classifies an ErrorLog row.
type ErrorSeverity string

const (
	SeverityWarning  ErrorSeverity = "warning"
	SeverityError    ErrorSeverity = "error"
	SeverityCritical ErrorSeverity = "critical"
)

// ErrorLog is an append-only diagnostic row.
type ErrorLog struct {
	ID        string
	Worker    string
	Operation string
	Severity  ErrorSeverity
	Message   string
	Context   map[string]any
	CreatedAt time.Time
}

// TelemetryStep enumerates the per-city step events tracked for observability.
type TelemetryStep string

const (
	StepCrawlStart     TelemetryStep = "crawl_start"
	StepCrawlEnd       TelemetryStep = "crawl_end"
	StepOcrStart       TelemetryStep = "ocr_start"
	StepOcrEnd         TelemetryStep = "ocr_end"
	StepAnalysisStart  TelemetryStep = "analysis_start"
	StepAnalysisEnd    TelemetryStep = "analysis_end"
	StepWebhookSent    TelemetryStep = "webhook_sent"
)

// TelemetryEvent is one append-only step event.
type TelemetryEvent struct {
	ID          string
	CrawlJobID  *string
	TerritoryID string
	Step        TelemetryStep
	Status      string
	Detail      map[string]any
	CreatedAt   time.Time
}

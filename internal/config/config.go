// Package config loads and validates the pipeline's YAML configuration,
// following the flat nested-struct + yaml.v3 convention the rest of this
// module is built around.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	DSN             string `yaml:"dsn"`
	MaxOpenConns    int    `yaml:"maxOpenConns"`
	MaxIdleConns    int    `yaml:"maxIdleConns"`
	ConnMaxLifeMins int    `yaml:"connMaxLifetimeMinutes"`
}

type RedisConfig struct {
	URL string `yaml:"url"`
}

// QueueConfig controls the Redis Streams-backed queue fabric shared by all
// four named queues.
type QueueConfig struct {
	BatchSize          int `yaml:"batchSize"`            // queueBatchSize, default 100
	MaxRetriesPerMsg   int `yaml:"maxRetriesPerMessage"` // default 3
	VisibilityTimeoutS int `yaml:"visibilityTimeoutSeconds"`
	ClaimStaleAfterS   int `yaml:"claimStaleAfterSeconds"`
}

type OcrConfig struct {
	ProviderURL        string `yaml:"providerURL"`
	MistralAPIKey      string `yaml:"mistralApiKey"`
	TimeoutSeconds     int    `yaml:"timeoutSeconds"`     // default 120
	StorageRetries     int    `yaml:"storageRetries"`     // default 3
	StorageBaseDelayMs int    `yaml:"storageBaseDelayMs"` // default 1000
}

type AnalyzerEntryConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Priority        int    `yaml:"priority"`
	TimeoutSeconds  int    `yaml:"timeoutSeconds"`
	UseAIExtraction bool   `yaml:"useAIExtraction"`
	Model           string `yaml:"model"`
}

type AnalyzersConfig struct {
	Keyword  AnalyzerEntryConfig `yaml:"keyword"`
	Entity   AnalyzerEntryConfig `yaml:"entity"`
	Concurso AnalyzerEntryConfig `yaml:"concurso"`
	AI       AnalyzerEntryConfig `yaml:"ai"`
}

type AnalysisConfig struct {
	OpenAIAPIKey       string          `yaml:"openAiApiKey"`
	DedupSimilarityMin float64         `yaml:"dedupSimilarityMin"` // default 0.85
	DedupWindowHours   int             `yaml:"dedupWindowHours"`   // default 24
	DedupStoreScanMax  int             `yaml:"dedupStoreScanMax"`  // default 1000
	Enabled            AnalyzersConfig `yaml:"enabledAnalyzers"`
}

type WebhookConfig struct {
	Endpoint       string `yaml:"webhookEndpoint"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
	MaxAttempts    int    `yaml:"maxAttempts"` // default 3
}

type PDFStoreConfig struct {
	PublicURL string `yaml:"pdfObjectStorePublicUrl"`
}

// WorkerConfig controls concurrency of the stage consumer pools.
type WorkerConfig struct {
	CrawlConcurrency    int `yaml:"crawlConcurrency"`
	OcrConcurrency      int `yaml:"ocrConcurrency"`
	AnalysisConcurrency int `yaml:"analysisConcurrency"`
	WebhookConcurrency  int `yaml:"webhookConcurrency"`
}

type CrawlConfig struct {
	FanoutBatchSize int `yaml:"fanoutBatchSize"` // default 100
}

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Queue    QueueConfig    `yaml:"queue"`
	Crawl    CrawlConfig    `yaml:"crawl"`
	Ocr      OcrConfig      `yaml:"ocr"`
	Analysis AnalysisConfig `yaml:"analysis"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	PDFStore PDFStoreConfig `yaml:"pdfStore"`
	Worker   WorkerConfig   `yaml:"worker"`
}

// Load reads and decodes the YAML file at path, exiting the process on any
// failure (matching the teacher's fail-fast startup behavior).
func Load(path string) *Config {
	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed to open config file: %v", err)
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		log.Fatalf("failed to decode config: %v", err)
	}

	cfg.applyDefaults()
	return &cfg
}

func (cfg *Config) applyDefaults() {
	if cfg.Queue.BatchSize <= 0 {
		cfg.Queue.BatchSize = 100
	}
	if cfg.Queue.MaxRetriesPerMsg <= 0 {
		cfg.Queue.MaxRetriesPerMsg = 3
	}
	if cfg.Queue.VisibilityTimeoutS <= 0 {
		cfg.Queue.VisibilityTimeoutS = 30
	}
	if cfg.Queue.ClaimStaleAfterS <= 0 {
		cfg.Queue.ClaimStaleAfterS = 60
	}
	if cfg.Ocr.TimeoutSeconds <= 0 {
		cfg.Ocr.TimeoutSeconds = 120
	}
	if cfg.Ocr.StorageRetries <= 0 {
		cfg.Ocr.StorageRetries = 3
	}
	if cfg.Ocr.StorageBaseDelayMs <= 0 {
		cfg.Ocr.StorageBaseDelayMs = 1000
	}
	if cfg.Analysis.DedupSimilarityMin <= 0 {
		cfg.Analysis.DedupSimilarityMin = 0.85
	}
	if cfg.Analysis.DedupWindowHours <= 0 {
		cfg.Analysis.DedupWindowHours = 24
	}
	if cfg.Analysis.DedupStoreScanMax <= 0 {
		cfg.Analysis.DedupStoreScanMax = 1000
	}
	if cfg.Webhook.MaxAttempts <= 0 {
		cfg.Webhook.MaxAttempts = 3
	}
	if cfg.Webhook.TimeoutSeconds <= 0 {
		cfg.Webhook.TimeoutSeconds = 15
	}
	if cfg.Crawl.FanoutBatchSize <= 0 {
		cfg.Crawl.FanoutBatchSize = 100
	}
	if cfg.Database.MaxOpenConns <= 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns <= 0 {
		cfg.Database.MaxIdleConns = 10
	}
	if cfg.Database.ConnMaxLifeMins <= 0 {
		cfg.Database.ConnMaxLifeMins = 30
	}
}

// ConnMaxLifetime returns the configured connection lifetime as a duration.
func (cfg *Config) ConnMaxLifetime() time.Duration {
	return time.Duration(cfg.Database.ConnMaxLifeMins) * time.Minute
}

// OcrTimeout returns the configured OCR call timeout as a duration.
func (cfg *Config) OcrTimeout() time.Duration {
	return time.Duration(cfg.Ocr.TimeoutSeconds) * time.Second
}

// Validate performs basic sanity checks so misconfiguration fails fast at
// startup instead of surfacing as a confusing runtime error deep in the
// pipeline.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if strings.TrimSpace(cfg.Database.DSN) == "" {
		return errors.New("database.dsn must be set")
	}
	if strings.TrimSpace(cfg.Redis.URL) == "" {
		return errors.New("redis.url must be set")
	}
	if !cfg.Analysis.Enabled.Keyword.Enabled &&
		!cfg.Analysis.Enabled.Concurso.Enabled &&
		!cfg.Analysis.Enabled.Entity.Enabled &&
		!cfg.Analysis.Enabled.AI.Enabled {
		return errors.New("analysis.enabledAnalyzers must enable at least one analyzer")
	}
	if cfg.Analysis.Enabled.AI.Enabled && strings.TrimSpace(cfg.Analysis.OpenAIAPIKey) == "" {
		return fmt.Errorf("analysis.enabledAnalyzers.ai is enabled but analysis.openAiApiKey is missing")
	}
	if cfg.Analysis.Enabled.Concurso.UseAIExtraction && strings.TrimSpace(cfg.Analysis.OpenAIAPIKey) == "" {
		return errors.New("analysis.enabledAnalyzers.concurso.useAIExtraction is set but analysis.openAiApiKey is missing")
	}
	return nil
}

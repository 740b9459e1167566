package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"gazette-pipeline/internal/analyzer"
	"gazette-pipeline/internal/cache"
	"gazette-pipeline/internal/config"
	"gazette-pipeline/internal/crawler"
	"gazette-pipeline/internal/crawler/htmlspider"
	"gazette-pipeline/internal/migrate"
	"gazette-pipeline/internal/ocr"
	"gazette-pipeline/internal/pipeline"
	"gazette-pipeline/internal/queue"
	"gazette-pipeline/internal/store"
	"gazette-pipeline/internal/webhook"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	stagesFlag := flag.String("stages", "crawl,ocr,analysis,webhook", "comma-separated stage pools to run in this process")
	flag.Parse()

	stages := parseStages(*stagesFlag)

	cfg := config.Load(*configPath)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	if err := migrate.Run(cfg.Database.DSN); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	db, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		log.Fatalf("open db failed: %v", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime())
	st := store.New(db)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))

	redisOpt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		log.Fatalf("parse redis url failed: %v", err)
	}
	rdb := redis.NewClient(redisOpt)
	ch := cache.New(rdb)

	registry := crawler.NewRegistry()
	registerCrawlers(registry)

	crawlQueue := queue.NewRedisQueue(rdb, queue.NewConsumerName("crawl"), cfg.Queue.MaxRetriesPerMsg, time.Duration(cfg.Queue.VisibilityTimeoutS)*time.Second)
	ocrQueue := queue.NewRedisQueue(rdb, queue.NewConsumerName("ocr"), cfg.Queue.MaxRetriesPerMsg, time.Duration(cfg.Queue.VisibilityTimeoutS)*time.Second)
	analysisQueue := queue.NewRedisQueue(rdb, queue.NewConsumerName("analysis"), cfg.Queue.MaxRetriesPerMsg, time.Duration(cfg.Queue.VisibilityTimeoutS)*time.Second)
	webhookQueue := queue.NewRedisQueue(rdb, queue.NewConsumerName("webhook"), cfg.Queue.MaxRetriesPerMsg, time.Duration(cfg.Queue.VisibilityTimeoutS)*time.Second)

	ocrProvider := ocr.NewHTTPClient(cfg.Ocr)
	analyzers, configHash := buildAnalyzers(cfg, st)
	dedup := analyzer.NewDeduplicator(st, cfg.Analysis.DedupSimilarityMin, cfg.Analysis.DedupWindowHours, cfg.Analysis.DedupStoreScanMax)
	deliverer := webhook.NewDeliverer(time.Duration(cfg.Webhook.TimeoutSeconds)*time.Second, "1.0.0")

	crawlWorker := pipeline.NewCrawlWorker(st, crawlQueue, registry, cfg.Queue.MaxRetriesPerMsg, logger)
	ocrWorker := pipeline.NewOcrWorker(st, ch, ocrQueue, ocrProvider, cfg.Queue.MaxRetriesPerMsg, cfg.Ocr.StorageRetries, time.Duration(cfg.Ocr.StorageBaseDelayMs)*time.Millisecond, logger)
	analysisWorker := pipeline.NewAnalysisWorker(st, ch, analysisQueue, analyzers, configHash, dedup, cfg.Queue.MaxRetriesPerMsg, logger)
	webhookWorker := pipeline.NewWebhookWorker(st, webhookQueue, deliverer, cfg.Webhook.MaxAttempts, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	if stages[queue.Crawl] {
		runPool(ctx, &wg, crawlQueue, queue.Crawl, cfg.Worker.CrawlConcurrency, cfg.Queue.BatchSize, crawlWorker.Handle, logger)
	}
	if stages[queue.OCR] {
		runPool(ctx, &wg, ocrQueue, queue.OCR, cfg.Worker.OcrConcurrency, cfg.Queue.BatchSize, ocrWorker.Handle, logger)
	}
	if stages[queue.Analysis] {
		runPool(ctx, &wg, analysisQueue, queue.Analysis, cfg.Worker.AnalysisConcurrency, cfg.Queue.BatchSize, analysisWorker.Handle, logger)
	}
	if stages[queue.Webhook] {
		runPool(ctx, &wg, webhookQueue, queue.Webhook, cfg.Worker.WebhookConcurrency, cfg.Queue.BatchSize, webhookWorker.Handle, logger)
	}

	logger.Info("worker started", "stages", *stagesFlag, "crawlConcurrency", cfg.Worker.CrawlConcurrency,
		"ocrConcurrency", cfg.Worker.OcrConcurrency, "analysisConcurrency", cfg.Worker.AnalysisConcurrency,
		"webhookConcurrency", cfg.Worker.WebhookConcurrency)

	<-ctx.Done()
	logger.Info("shutting down, waiting for in-flight messages")
	wg.Wait()
}

// parseStages turns "-stages=crawl,ocr" into the set of queue pools this
// process should run, letting each stage scale independently per deployment.
func parseStages(flagValue string) map[string]bool {
	stages := make(map[string]bool, 4)
	for _, s := range strings.Split(flagValue, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			stages[s] = true
		}
	}
	return stages
}

// registerCrawlers wires every Crawler factory the process knows about.
// Only the generic htmlspider reference implementation ships here; real
// per-source adapters are external collaborators registered the same way.
func registerCrawlers(registry *crawler.Registry) {
	registry.Register("htmlspider", htmlspider.New)
}

func buildAnalyzers(cfg *config.Config, st *store.Store) ([]analyzer.Analyzer, string) {
	enabled := cfg.Analysis.Enabled
	var analyzers []analyzer.Analyzer
	var aiExtractor analyzer.AIExtractor

	if enabled.AI.Enabled {
		ai := analyzer.NewAIAnalyzer(cfg.Analysis.OpenAIAPIKey, "", enabled.AI.Model)
		analyzers = append(analyzers, ai)
		aiExtractor = ai
	}
	if enabled.Keyword.Enabled {
		analyzers = append(analyzers, analyzer.NewKeywordAnalyzer(defaultKeywords()))
	}
	if enabled.Entity.Enabled {
		analyzers = append(analyzers, analyzer.NewEntityAnalyzer())
	}
	if enabled.Concurso.Enabled {
		concursoCfg := analyzer.Config{
			Enabled:         enabled.Concurso.Enabled,
			Priority:        enabled.Concurso.Priority,
			Timeout:         time.Duration(enabled.Concurso.TimeoutSeconds) * time.Second,
			UseAIExtraction: enabled.Concurso.UseAIExtraction,
			Model:           enabled.Concurso.Model,
		}
		analyzers = append(analyzers, analyzer.NewConcursoAnalyzer(concursoCfg, aiExtractor))
	}

	configHash := pipeline.ConfigHash(map[string]any{
		"keyword":  enabled.Keyword.Enabled,
		"entity":   enabled.Entity.Enabled,
		"concurso": enabled.Concurso.Enabled,
		"ai":       enabled.AI.Enabled,
		"model":    enabled.AI.Model,
	})
	return analyzers, configHash
}

// defaultKeywords seeds the keyword analyzer; a real deployment loads
// this mapping from its own configuration source.
func defaultKeywords() map[string]string {
	return map[string]string{
		"concurso público": "concurso",
		"licitação":        "licitacao",
		"pregão":           "licitacao",
		"dispensa de licitação": "licitacao",
	}
}

type handlerFunc func(ctx context.Context, msg queue.Message) error

// runPool starts concurrency consumer goroutines polling queueName in a
// loop, each handling messages with handle and respecting ctx cancellation,
// per spec §5's "pool of consumers running concurrently" model.
func runPool(ctx context.Context, wg *sync.WaitGroup, q queue.Queue, queueName string, concurrency, batchSize int, handle handlerFunc, logger *slog.Logger) {
	if concurrency <= 0 {
		concurrency = 1
	}
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(consumer int) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}

				msgs, err := q.Receive(ctx, queueName, batchSize)
				if err != nil {
					if ctx.Err() != nil {
						return
					}
					logger.Error("queue receive failed", "queue", queueName, "error", err)
					time.Sleep(time.Second)
					continue
				}
				for _, msg := range msgs {
					if err := handle(ctx, msg); err != nil {
						logger.Error("message handling failed", "queue", queueName, "error", err)
					}
				}
			}
		}(i)
	}
}

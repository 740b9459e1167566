package main

import (
	"database/sql"
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"gazette-pipeline/internal/config"
	"gazette-pipeline/internal/crawler"
	"gazette-pipeline/internal/crawler/htmlspider"
	"gazette-pipeline/internal/dispatcher"
	"gazette-pipeline/internal/migrate"
	"gazette-pipeline/internal/queue"
	"gazette-pipeline/internal/store"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

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
	q := queue.NewRedisQueue(rdb, queue.NewConsumerName("dispatcher"), cfg.Queue.MaxRetriesPerMsg, time.Duration(cfg.Queue.VisibilityTimeoutS)*time.Second)

	registry := crawler.NewRegistry()
	registry.Register("htmlspider", htmlspider.New)

	d := dispatcher.New(st, q, registry, cfg.Crawl.FanoutBatchSize, cfg.Webhook.Endpoint)

	s := dispatcher.NewServer(cfg, d, logger)
	if err := s.Listen(); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

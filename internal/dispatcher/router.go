package dispatcher

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"gazette-pipeline/internal/config"
)

// Server wraps the fiber app exposing the Dispatcher's HTTP surface.
type Server struct {
	app    *fiber.App
	config *config.Config
	log    *slog.Logger
}

// NewServer wires request-scoped middleware and registers every route of
// spec §6's Dispatcher HTTP surface.
func NewServer(cfg *config.Config, d *Dispatcher, logger *slog.Logger) *Server {
	app := fiber.New()

	app.Use(func(c *fiber.Ctx) error {
		c.Locals("dispatcher", d)
		return c.Next()
	})

	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()
		reqID := c.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Locals("request_id", reqID)

		err := c.Next()

		if logger != nil {
			logger.Info("request",
				"request_id", reqID,
				"method", c.Method(),
				"path", c.Path(),
				"status", c.Response().StatusCode(),
				"latency_ms", time.Since(start).Milliseconds(),
			)
		}
		return err
	})

	app.Get("/", rootHandler)
	app.Post("/crawl", crawlHandler)
	app.Post("/crawl/today-yesterday", crawlTodayYesterdayHandler)
	app.Post("/crawl/cities", crawlCitiesHandler)
	app.Get("/spiders", spidersHandler)
	app.Get("/stats", statsHandler)
	app.Get("/health/queue", queueHealthHandler)

	return &Server{app: app, config: cfg, log: logger}
}

// Listen starts serving on the configured host:port.
func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	return s.app.Listen(addr)
}

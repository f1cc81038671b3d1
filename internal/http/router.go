// Package http exposes the engine over a small fiber API: agent runs,
// scrapes, health, and metrics.
package http

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"auspex/internal/agent"
	"auspex/internal/config"
	"auspex/internal/metrics"
	"auspex/internal/scrape"
)

// Runner is the agent surface the API needs; *agent.Agent satisfies it.
type Runner interface {
	Run(ctx context.Context, opts agent.RunOptions) (*agent.Result, error)
}

// Scraper is the cascade surface the API needs.
type Scraper interface {
	Scrape(ctx context.Context, req scrape.Request) (*scrape.Result, error)
	ScrapeMany(ctx context.Context, reqs []scrape.Request, concurrency int) []scrape.BatchItem
}

type Server struct {
	app     *fiber.App
	config  *config.Config
	runner  Runner
	scraper Scraper
	logger  *slog.Logger
	rdb     *redis.Client
}

func NewServer(cfg *config.Config, runner Runner, scraper Scraper, logger *slog.Logger) *Server {
	app := fiber.New(fiber.Config{
		ReadTimeout: 30 * time.Second,
	})

	s := &Server{
		app:     app,
		config:  cfg,
		runner:  runner,
		scraper: scraper,
		logger:  logger,
	}

	if cfg.Redis.URL != "" {
		if opt, err := redis.ParseURL(cfg.Redis.URL); err == nil {
			s.rdb = redis.NewClient(opt)
		}
	}

	// Request logging + metrics middleware
	app.Use(func(c *fiber.Ctx) error {
		start := time.Now()

		// Ensure a request ID exists
		reqID := c.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Locals("request_id", reqID)

		err := c.Next()

		latency := time.Since(start)
		status := c.Response().StatusCode()
		method := c.Method()
		path := c.Path()

		metrics.RecordRequest(method, path, status, latency.Milliseconds())

		if logger != nil {
			logger.Info("request",
				"request_id", reqID,
				"method", method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}

		return err
	})

	// Health endpoints
	app.Get("/healthz", func(c *fiber.Ctx) error {
		// Shallow health: process is up
		if c.Query("deep") != "true" {
			return c.JSON(fiber.Map{"status": "ok"})
		}

		ctx, cancel := context.WithTimeout(c.Context(), 2*time.Second)
		defer cancel()

		redisStatus := "disabled"
		if s.rdb != nil {
			if err := s.rdb.Ping(ctx).Err(); err != nil {
				redisStatus = "error"
			} else {
				redisStatus = "ok"
			}
		}

		return c.JSON(fiber.Map{
			"status": "ok",
			"redis":  redisStatus,
		})
	})

	app.Get("/metrics", func(c *fiber.Ctx) error {
		c.Set("Content-Type", "text/plain; version=0.0.4")
		return c.SendString(metrics.Export())
	})

	v1 := app.Group("/v1")
	v1.Post("/run", s.handleRun)
	v1.Post("/scrape", s.handleScrape)
	v1.Post("/scrape/batch", s.handleScrapeBatch)

	return s
}

// Listen blocks serving the API.
func (s *Server) Listen() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	if s.logger != nil {
		s.logger.Info("api listening", "addr", addr)
	}
	return s.app.Listen(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// App exposes the fiber app for tests.
func (s *Server) App() *fiber.App {
	return s.app
}

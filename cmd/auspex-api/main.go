package main

import (
	"flag"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"auspex/internal/agent"
	"auspex/internal/browser"
	"auspex/internal/browserpool"
	"auspex/internal/config"
	server "auspex/internal/http"
	"auspex/internal/llm"
	"auspex/internal/scrape"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	flag.Parse()

	cfg := config.Load(*configPath)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{}))

	launcher := browser.NewLauncher()

	maxBrowsers := cfg.Pool.MaxBrowsers
	if maxBrowsers <= 0 {
		maxBrowsers = 2
	}
	pool := browserpool.New(launcher, maxBrowsers)
	if cfg.Pool.AcquireTimeoutMs > 0 {
		pool.SetAcquireTimeout(time.Duration(cfg.Pool.AcquireTimeoutMs) * time.Millisecond)
	}
	defer pool.Close()

	agentCfg := agent.Config{
		LLM: llm.Config{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			Temperature: cfg.LLM.Temperature,
			MaxTokens:   cfg.LLM.MaxTokens,
		},
		MaxIterations:  cfg.Agent.MaxIterations,
		Timeout:        time.Duration(cfg.Agent.TimeoutMs) * time.Millisecond,
		ActionDelay:    time.Duration(cfg.Agent.ActionDelayMs) * time.Millisecond,
		MaxTotalTokens: cfg.Agent.MaxTotalTokens,
		Vision:         cfg.Agent.Vision,
		JPEGQuality:    cfg.Agent.JpegQuality,
		LogDir:         cfg.Agent.LogDir,
		AllowedDomains: cfg.Agent.AllowedDomains,
		BlockedDomains: cfg.Agent.BlockedDomains,
	}

	ag, err := agent.New(agentCfg, agent.WithPool(pool), agent.WithLogger(logger))
	if err != nil {
		log.Fatalf("agent setup failed: %v", err)
	}

	scrapeCfg := scrape.Config{
		UserAgent:      cfg.Scraper.UserAgent,
		AllowedDomains: cfg.Agent.AllowedDomains,
		BlockedDomains: cfg.Agent.BlockedDomains,
		RespectRobots:  cfg.Scraper.RespectRobots,
		Logger:         logger,
		Launcher:       launcher,
	}
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("invalid redis url: %v", err)
		}
		ttl := time.Duration(cfg.Scraper.CacheTTLMinutes) * time.Minute
		scrapeCfg.Cache = scrape.NewCache(redis.NewClient(opt), ttl)
	}
	cascade := scrape.NewCascade(scrapeCfg)
	defer cascade.Close()

	s := server.NewServer(cfg, ag, cascade, logger)
	if err := s.Listen(); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

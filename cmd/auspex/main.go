// Command auspex runs a single agent task from the terminal and prints
// the run report.
//
//	LLM_API_KEY=... auspex -url https://example.com -prompt "find the price"
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"auspex/internal/agent"
	"auspex/internal/llm"
)

func main() {
	url := flag.String("url", "", "starting URL")
	prompt := flag.String("prompt", "", "task for the agent")
	maxIterations := flag.Int("max-iterations", 0, "iteration cap (0 = default)")
	timeout := flag.Duration("timeout", 0, "overall run timeout (0 = default)")
	vision := flag.Bool("vision", false, "allow screenshot escalation")
	logDir := flag.String("log-dir", "logs", "directory for run logs")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	if *url == "" || *prompt == "" {
		fmt.Fprintln(os.Stderr, "usage: auspex -url <url> -prompt <task>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	apiKey := os.Getenv("LLM_API_KEY")
	if apiKey == "" {
		log.Fatal("LLM_API_KEY is not set")
	}
	baseURL := os.Getenv("LLM_BASE_URL")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := os.Getenv("LLM_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg := agent.Config{
		LLM: llm.Config{
			APIKey:  apiKey,
			BaseURL: baseURL,
			Model:   model,
		},
		MaxIterations: *maxIterations,
		Timeout:       *timeout,
		Vision:        *vision,
		LogDir:        *logDir,
	}

	ag, err := agent.New(cfg, agent.WithLogger(logger))
	if err != nil {
		log.Fatalf("agent setup failed: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	start := time.Now()
	res, err := ag.Run(ctx, agent.RunOptions{URL: *url, Prompt: *prompt})
	if err != nil {
		log.Fatalf("run rejected: %v", err)
	}

	fmt.Println(res.Report)
	logger.Info("run finished",
		"status", res.Status,
		"tier", res.Tier,
		"duration", time.Since(start).Round(time.Millisecond),
	)

	if res.Status != agent.StatusDone {
		os.Exit(1)
	}
}

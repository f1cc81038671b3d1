package http

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"auspex/internal/action"
	"auspex/internal/agent"
	"auspex/internal/metrics"
	"auspex/internal/scrape"
)

const maxBatchURLs = 50

func (s *Server) handleRun(c *fiber.Ctx) error {
	var req runRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "invalid JSON body"})
	}
	if req.URL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "url is required"})
	}
	if req.Prompt == "" {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "prompt is required"})
	}

	opts := agent.RunOptions{
		URL:           req.URL,
		Prompt:        req.Prompt,
		MaxIterations: req.MaxIterations,
		Vision:        req.Vision,
		OutputSchema:  req.OutputSchema,
	}
	if req.TimeoutMs > 0 {
		opts.Timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}

	res, err := s.runner.Run(c.Context(), opts)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("run rejected", "url", req.URL, "error", err)
		}
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: err.Error()})
	}

	metrics.RecordRun(string(res.Status), string(res.Tier), len(res.Actions))
	metrics.RecordLLM(s.config.LLM.Model, res.Usage.Calls, res.Usage.TotalTokens)

	actions := make([]actionItem, 0, len(res.Actions))
	for _, rec := range res.Actions {
		actions = append(actions, actionItem{
			Iteration:   rec.Iteration,
			Description: action.Describe(rec.Action),
		})
	}

	return c.JSON(runResponse{
		Status:     string(res.Status),
		Tier:       string(res.Tier),
		Data:       res.Data,
		Error:      res.Error,
		Report:     res.Report,
		DurationMs: res.DurationMs,
		Actions:    actions,
		Usage: usageInfo{
			Calls:            res.Usage.Calls,
			PromptTokens:     res.Usage.PromptTokens,
			CompletionTokens: res.Usage.CompletionTokens,
			TotalTokens:      res.Usage.TotalTokens,
		},
	})
}

func (s *Server) handleScrape(c *fiber.Ctx) error {
	var req scrapeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "invalid JSON body"})
	}
	if req.URL == "" {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "url is required"})
	}

	res, err := s.scraper.Scrape(c.Context(), scrape.Request{
		URL:             req.URL,
		ForceTier:       scrape.Tier(req.ForceTier),
		Timeout:         time.Duration(req.TimeoutMs) * time.Millisecond,
		WaitForSelector: req.WaitForSelector,
		MainOnly:        req.MainOnly,
		CaptureJSON:     req.CaptureJSON,
		Headers:         req.Headers,
	})
	if err != nil {
		metrics.RecordScrape(req.ForceTier, false)
		if s.logger != nil {
			s.logger.Error("scrape failed", "url", req.URL, "error", err)
		}
		return c.Status(fiber.StatusBadGateway).JSON(errorResponse{Error: err.Error()})
	}

	if res.Cached {
		metrics.RecordScrapeCacheHit()
	}
	metrics.RecordScrape(string(res.Tier), true)
	return c.JSON(res)
}

func (s *Server) handleScrapeBatch(c *fiber.Ctx) error {
	var req batchScrapeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "invalid JSON body"})
	}
	if len(req.URLs) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "urls is required"})
	}
	if len(req.URLs) > maxBatchURLs {
		return c.Status(fiber.StatusBadRequest).JSON(errorResponse{Error: "too many urls"})
	}

	reqs := make([]scrape.Request, 0, len(req.URLs))
	for _, u := range req.URLs {
		reqs = append(reqs, scrape.Request{
			URL:             u,
			ForceTier:       scrape.Tier(req.ForceTier),
			Timeout:         time.Duration(req.TimeoutMs) * time.Millisecond,
			WaitForSelector: req.WaitForSelector,
			MainOnly:        req.MainOnly,
		})
	}

	items := s.scraper.ScrapeMany(c.Context(), reqs, req.Concurrency)

	out := batchScrapeResponse{Results: make([]batchScrapeItem, 0, len(items))}
	for _, it := range items {
		item := batchScrapeItem{URL: it.Request.URL, Result: it.Result}
		if it.Err != nil {
			item.Error = it.Err.Error()
			metrics.RecordScrape(req.ForceTier, false)
		} else if it.Result != nil {
			metrics.RecordScrape(string(it.Result.Tier), true)
		}
		out.Results = append(out.Results, item)
	}

	return c.JSON(out)
}

// Package scrape implements the tiered scraping cascade: plain HTTP,
// stealth HTTP, and a full headless browser, each feeding the shared
// content extractor. Tiers advance automatically when a lighter one
// returns too little usable content.
package scrape

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"auspex/internal/browser"
	"auspex/internal/content"
	"auspex/internal/urlcheck"
)

// Tier identifies one fetcher implementation.
type Tier string

const (
	TierHTTP    Tier = "http"
	TierStealth Tier = "stealth"
	TierBrowser Tier = "browser"
)

// minMarkdownLen is the advance threshold: a tier whose markdown is
// shorter and that found no SSR payload did not really get the page.
const minMarkdownLen = 200

// DefaultTimeout bounds one tier attempt when the request carries none.
const DefaultTimeout = 30 * time.Second

// DefaultConcurrency is the ScrapeMany fan-out bound.
const DefaultConcurrency = 3

// Request describes one scrape.
type Request struct {
	URL string

	// ForceTier dispatches exactly one tier instead of the cascade.
	ForceTier Tier

	Timeout         time.Duration
	WaitForSelector string
	MainOnly        bool
	CaptureJSON     bool

	Headers map[string]string
	Proxy   *browser.Proxy
	Cookies []browser.Cookie
}

// Result is the unified scrape output across tiers.
type Result struct {
	URL        string `json:"url"`
	Tier       Tier   `json:"tier"`
	StatusCode int    `json:"statusCode"`

	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Markdown    string   `json:"markdown,omitempty"`
	HTML        string   `json:"html,omitempty"`
	RawHTML     string   `json:"rawHtml,omitempty"`
	Text        string   `json:"text,omitempty"`
	Links       []string `json:"links,omitempty"`

	SSR          *content.SSRData           `json:"ssr,omitempty"`
	CapturedJSON []browser.CapturedResponse `json:"capturedJson,omitempty"`

	// Cached marks a result served from the result cache.
	Cached bool `json:"cached,omitempty"`
}

// TierError reports why one tier failed.
type TierError struct {
	Tier       Tier
	StatusCode int
	Reason     string
}

func (e *TierError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("tier %s: %s (status %d)", e.Tier, e.Reason, e.StatusCode)
	}
	return fmt.Sprintf("tier %s: %s", e.Tier, e.Reason)
}

// CascadeError aggregates every tier's cause when all of them failed.
type CascadeError struct {
	URL    string
	Causes []error
}

func (e *CascadeError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "all tiers failed for %s:", e.URL)
	for _, c := range e.Causes {
		b.WriteString("\n  ")
		b.WriteString(c.Error())
	}
	return b.String()
}

// fetcher is one tier implementation.
type fetcher interface {
	Name() Tier
	Fetch(ctx context.Context, req Request) (*Result, error)
}

// Config assembles a Cascade.
type Config struct {
	UserAgent      string
	AllowedDomains []string
	BlockedDomains []string
	Resolver       urlcheck.Resolver

	// RespectRobots consults robots.txt before fetching.
	RespectRobots bool

	// Cache, when set, serves repeated scrapes of the same URL.
	Cache *Cache

	Logger   *slog.Logger
	Launcher browser.Launcher
}

// Cascade runs requests through the tier progression.
type Cascade struct {
	cfg    Config
	tiers  []fetcher
	robots *RobotsPolicy
	logger *slog.Logger
}

// NewCascade builds the standard three-tier cascade.
func NewCascade(cfg Config) *Cascade {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Launcher == nil {
		cfg.Launcher = browser.NewLauncher()
	}
	c := &Cascade{
		cfg: cfg,
		tiers: []fetcher{
			newHTTPFetcher(cfg.UserAgent),
			newStealthFetcher(cfg.UserAgent),
			newBrowserFetcher(cfg.Launcher, cfg.UserAgent),
		},
		logger: cfg.Logger,
	}
	if cfg.RespectRobots {
		c.robots = NewRobotsPolicy(cfg.UserAgent)
	}
	return c
}

// newCascadeWithTiers is the test seam.
func newCascadeWithTiers(cfg Config, tiers ...fetcher) *Cascade {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Cascade{cfg: cfg, tiers: tiers, logger: cfg.Logger}
}

// Scrape runs one request through the cascade (or the forced tier).
// When every tier fails, the returned Result has StatusCode 0 and the
// error lists each tier's cause.
func (c *Cascade) Scrape(ctx context.Context, req Request) (*Result, error) {
	canonical, err := urlcheck.Validate(ctx, req.URL, urlcheck.Options{
		AllowedDomains: c.cfg.AllowedDomains,
		BlockedDomains: c.cfg.BlockedDomains,
		Resolver:       c.cfg.Resolver,
	})
	if err != nil {
		return nil, err
	}
	req.URL = canonical
	if req.Timeout == 0 {
		req.Timeout = DefaultTimeout
	}

	if c.robots != nil {
		allowed, err := c.robots.Allowed(ctx, canonical)
		if err == nil && !allowed {
			return nil, fmt.Errorf("disallowed by robots.txt: %s", canonical)
		}
	}

	if c.cfg.Cache != nil {
		if cached, ok := c.cfg.Cache.Get(ctx, req); ok {
			c.logger.Debug("scrape cache hit", "url", canonical)
			cached.Cached = true
			return cached, nil
		}
	}

	res, err := c.dispatch(ctx, req)
	if err == nil && c.cfg.Cache != nil {
		c.cfg.Cache.Set(ctx, req, res)
	}
	return res, err
}

func (c *Cascade) dispatch(ctx context.Context, req Request) (*Result, error) {
	if req.ForceTier != "" {
		for _, t := range c.tiers {
			if t.Name() == req.ForceTier {
				return t.Fetch(ctx, req)
			}
		}
		return nil, fmt.Errorf("unknown tier %q", req.ForceTier)
	}

	var causes []error
	for i, t := range c.tiers {
		res, err := t.Fetch(ctx, req)
		if err != nil {
			causes = append(causes, err)
			c.logger.Debug("tier failed", "tier", t.Name(), "url", req.URL, "error", err)
			continue
		}
		if i < len(c.tiers)-1 && len(res.Markdown) < minMarkdownLen && res.SSR == nil {
			causes = append(causes, &TierError{
				Tier:   t.Name(),
				Reason: fmt.Sprintf("insufficient content (%d markdown chars, no SSR data)", len(res.Markdown)),
			})
			c.logger.Debug("tier advanced", "tier", t.Name(), "url", req.URL, "markdown_len", len(res.Markdown))
			continue
		}
		return res, nil
	}
	return &Result{URL: req.URL, StatusCode: 0}, &CascadeError{URL: req.URL, Causes: causes}
}

// BatchItem pairs one ScrapeMany input with its outcome.
type BatchItem struct {
	Request Request
	Result  *Result
	Err     error
}

// ScrapeMany scrapes independent URLs with bounded concurrency. A
// failure in one URL never aborts the batch; results keep input order.
func (c *Cascade) ScrapeMany(ctx context.Context, reqs []Request, concurrency int) []BatchItem {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	items := make([]BatchItem, len(reqs))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req Request) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			res, err := c.Scrape(ctx, req)
			items[i] = BatchItem{Request: req, Result: res, Err: err}
		}(i, req)
	}
	wg.Wait()
	return items
}

// Close releases tier resources (the browser tier's shared instance).
func (c *Cascade) Close() error {
	var firstErr error
	for _, t := range c.tiers {
		if closer, ok := t.(interface{ Close() error }); ok {
			if err := closer.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Package agent implements the LLM-guided web interaction engine: a
// static single-shot attempt over plain HTTP, escalating to a headless
// browser driven by a perception-decision-action loop with loop
// detection, budget guards, and optional vision escalation.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"auspex/internal/action"
	"auspex/internal/browser"
	"auspex/internal/browserpool"
	"auspex/internal/llm"
	"auspex/internal/urlcheck"
)

// Status is the terminal state of a run.
type Status string

const (
	StatusDone          Status = "done"
	StatusMaxIterations Status = "max_iterations"
	StatusError         Status = "error"
	StatusTimeout       Status = "timeout"
	StatusAborted       Status = "aborted"
)

// Tier names the execution path that produced the result.
type Tier string

const (
	TierHTTP       Tier = "http"
	TierPlaywright Tier = "playwright"
)

// Defaults applied by Config.Validate.
const (
	DefaultMaxIterations        = 30
	DefaultTimeout              = 120 * time.Second
	DefaultNavTimeout           = 15 * time.Second
	DefaultActionDelay          = 500 * time.Millisecond
	DefaultJPEGQuality          = 75
	DefaultBlockedTextThreshold = 2000
)

// Config holds everything an Agent needs. Immutable after Validate.
type Config struct {
	LLM llm.Config

	MaxIterations  int
	Timeout        time.Duration
	NavTimeout     time.Duration
	ActionDelay    time.Duration
	MaxTotalTokens int

	AllowedDomains []string
	BlockedDomains []string

	// Resolver overrides DNS lookups in the URL policy; nil uses the
	// system resolver.
	Resolver urlcheck.Resolver

	UserAgent    string
	Proxy        *browser.Proxy
	Cookies      []browser.Cookie
	ExtraHeaders map[string]string

	Vision      bool
	JPEGQuality int

	// BlockedTextThreshold is the body-text length below which the
	// challenge-phrase heuristic applies.
	BlockedTextThreshold int

	// LogDir, when set, enables the per-run trace file.
	LogDir string

	// RSSSample, when set, reports current RSS in kB; the loop tracks
	// the peak. Defaults to sampling this process.
	RSSSample func() int64
}

// ConfigError reports a malformed Config or RunOptions.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "invalid config: " + e.Reason }

// Validate fills defaults and rejects unusable values.
func (c *Config) Validate() error {
	if c.LLM.Model == "" {
		return &ConfigError{Reason: "model is required"}
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.MaxIterations < 0 {
		return &ConfigError{Reason: "maxIterations must be positive"}
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.NavTimeout == 0 {
		c.NavTimeout = DefaultNavTimeout
	}
	if c.ActionDelay == 0 {
		c.ActionDelay = DefaultActionDelay
	}
	if c.JPEGQuality == 0 {
		c.JPEGQuality = DefaultJPEGQuality
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return &ConfigError{Reason: "jpegQuality must be in 1..100"}
	}
	if c.BlockedTextThreshold == 0 {
		c.BlockedTextThreshold = DefaultBlockedTextThreshold
	}
	if c.MaxTotalTokens < 0 {
		return &ConfigError{Reason: "maxTotalTokens must be >= 0"}
	}
	return nil
}

// RunOptions parameterizes a single run.
type RunOptions struct {
	URL    string
	Prompt string

	// Per-run overrides; zero values fall back to the config.
	MaxIterations int
	Timeout       time.Duration
	ActionDelay   time.Duration
	Vision        *bool

	// OutputSchema describes the required shape of the final result.
	// When set it is shown to the model verbatim on every turn.
	OutputSchema string

	Observer Observer
}

// ActionRecord is one dispatched action. Append-only per run.
type ActionRecord struct {
	Action    action.Action `json:"action"`
	Iteration int           `json:"iteration"`
	Timestamp time.Time     `json:"timestamp"`
}

// MemoryStats reports the run's resource footprint.
type MemoryStats struct {
	PeakRSSKB int64   `json:"peakRssKb"`
	HeapMB    float64 `json:"heapMb"`
}

// Result is the immutable terminal outcome of one run.
type Result struct {
	Status     Status         `json:"status"`
	Tier       Tier           `json:"tier"`
	Data       string         `json:"data,omitempty"`
	Report     string         `json:"report"`
	DurationMs int64          `json:"durationMs"`
	Actions    []ActionRecord `json:"actions"`
	Usage      llm.Usage      `json:"usage"`
	Memory     MemoryStats    `json:"memory"`
	Error      string         `json:"error,omitempty"`
}

// decider is the LLM surface the loop needs; *llm.Client satisfies it.
type decider interface {
	Decide(ctx context.Context, system, user string, screenshot []byte) (json.RawMessage, llm.Usage, error)
}

// Agent runs tasks. Safe for concurrent runs when backed by a pool;
// without a pool, runs share one lazily-launched browser sequentially.
type Agent struct {
	cfg      Config
	llm      decider
	pool     *browserpool.Pool
	launcher browser.Launcher
	logger   *slog.Logger
	fetch    func(ctx context.Context, url string) (string, error)
}

// Option customizes an Agent.
type Option func(*Agent)

// WithPool shares a browser pool across agents.
func WithPool(p *browserpool.Pool) Option {
	return func(a *Agent) { a.pool = p }
}

// WithLauncher overrides the browser launcher (tests use fakes).
func WithLauncher(l browser.Launcher) Option {
	return func(a *Agent) { a.launcher = l }
}

// WithLogger overrides the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// WithDecider overrides the LLM client (tests use scripted deciders).
func WithDecider(d decider) Option {
	return func(a *Agent) { a.llm = d }
}

// New validates the config and builds an Agent.
func New(cfg Config, opts ...Option) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Agent{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.llm == nil {
		a.llm = llm.NewClient(cfg.LLM)
	}
	if a.launcher == nil && a.pool == nil {
		a.launcher = browser.NewLauncher()
	}
	if a.fetch == nil {
		a.fetch = a.fetchHTML
	}
	return a, nil
}

// Run executes one task to a terminal Result. Config, URL, and pool
// errors are returned as errors; everything else becomes a Result.
func (a *Agent) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, &ConfigError{Reason: "url is required"}
	}
	if strings.TrimSpace(opts.Prompt) == "" {
		return nil, &ConfigError{Reason: "prompt is required"}
	}

	canonical, err := urlcheck.Validate(ctx, opts.URL, a.urlOptions())
	if err != nil {
		return nil, err
	}

	r := a.newRun(canonical, opts)
	defer r.rlog.Close()

	a.logger.Info("run starting", "url", canonical, "model", a.cfg.LLM.Model)

	// Static path first: one plain fetch, one LLM call.
	r.emitTier(TierHTTP)
	if html, ferr := a.fetch(ctx, canonical); ferr == nil {
		if res, done := r.staticAttempt(ctx, html); done {
			return res, nil
		}
	} else {
		a.logger.Debug("static fetch failed, escalating to browser", "error", ferr)
	}

	// Browser path.
	r.emitTier(TierPlaywright)
	br, release, err := a.acquireBrowser(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	page, err := br.NewPage(ctx, browser.PageOptions{
		UserAgent:    a.cfg.UserAgent,
		ViewportW:    1280,
		ViewportH:    900,
		Proxy:        a.cfg.Proxy,
		Cookies:      a.cfg.Cookies,
		ExtraHeaders: a.cfg.ExtraHeaders,
		InitScript:   browser.StealthInitScript,
	})
	if err != nil {
		return r.finish(StatusError, TierPlaywright, "", "browser page creation failed: "+err.Error()), nil
	}
	defer page.Close()

	if err := page.Goto(canonical, a.cfg.NavTimeout); err != nil {
		return r.finish(StatusError, TierPlaywright, "", "initial navigation failed: "+err.Error()), nil
	}

	return r.loop(ctx, page), nil
}

func (a *Agent) urlOptions() urlcheck.Options {
	return urlcheck.Options{
		AllowedDomains: a.cfg.AllowedDomains,
		BlockedDomains: a.cfg.BlockedDomains,
		Resolver:       a.cfg.Resolver,
	}
}

// acquireBrowser borrows from the pool when one is attached, otherwise
// launches via the agent's own launcher.
func (a *Agent) acquireBrowser(ctx context.Context) (browser.Browser, func(), error) {
	if a.pool != nil {
		br, err := a.pool.Acquire(ctx)
		if err != nil {
			return nil, nil, err
		}
		return br, func() { a.pool.Release(br) }, nil
	}
	br, err := a.launcher.Launch(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("browser launch: %w", err)
	}
	return br, func() { _ = br.Close() }, nil
}

// fetchHTML is the static tier's plain GET. Browser-like headers, body
// capped, HTML or plain text only.
func (a *Agent) fetchHTML(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.NavTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	ua := a.cfg.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "pt-BR,pt;q=0.9,en-US;q=0.8,en;q=0.7")
	for k, v := range a.cfg.ExtraHeaders {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch returned status %d", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.Contains(ct, "text/html") && !strings.Contains(ct, "text/plain") {
		return "", fmt.Errorf("unsupported content type %q", ct)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxStaticBodyBytes))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

const (
	defaultUserAgent   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"
	maxStaticBodyBytes = 5 << 20
)

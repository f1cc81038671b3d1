package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"auspex/internal/action"
	"auspex/internal/agent"
	"auspex/internal/config"
	"auspex/internal/metrics"
	"auspex/internal/scrape"
)

type fakeRunner struct {
	lastOpts agent.RunOptions
	res      *agent.Result
	err      error
}

func (f *fakeRunner) Run(ctx context.Context, opts agent.RunOptions) (*agent.Result, error) {
	f.lastOpts = opts
	return f.res, f.err
}

type fakeScraper struct {
	res  *scrape.Result
	err  error
	many []scrape.BatchItem
}

func (f *fakeScraper) Scrape(ctx context.Context, req scrape.Request) (*scrape.Result, error) {
	return f.res, f.err
}

func (f *fakeScraper) ScrapeMany(ctx context.Context, reqs []scrape.Request, concurrency int) []scrape.BatchItem {
	return f.many
}

func testServer(t *testing.T, runner Runner, scraper Scraper) *Server {
	t.Helper()
	metrics.Reset()
	t.Cleanup(metrics.Reset)
	cfg := &config.Config{}
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.LLM.Model = "gpt-4o"
	return NewServer(cfg, runner, scraper, nil)
}

func postJSON(t *testing.T, s *Server, path string, body any) (int, []byte) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req := httptest.NewRequest("POST", path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.App().Test(req, -1)
	if err != nil {
		t.Fatalf("request %s: %v", path, err)
	}
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp.StatusCode, out
}

func TestHandleRunSuccess(t *testing.T) {
	runner := &fakeRunner{res: &agent.Result{
		Status:     agent.StatusDone,
		Tier:       agent.TierPlaywright,
		Data:       "Price: $42",
		Report:     "=== Auspex Run Report ===",
		DurationMs: 1234,
		Actions: []agent.ActionRecord{
			{Action: action.Action{Type: "click", Selector: "#buy"}, Iteration: 1},
			{Action: action.Action{Type: "done", Result: "Price: $42"}, Iteration: 2},
		},
	}}
	runner.res.Usage.Calls = 2
	runner.res.Usage.TotalTokens = 900

	s := testServer(t, runner, &fakeScraper{})

	status, body := postJSON(t, s, "/v1/run", map[string]any{
		"url":       "https://example.com",
		"prompt":    "find the price",
		"timeoutMs": 60000,
	})
	if status != 200 {
		t.Fatalf("status = %d, body %s", status, body)
	}

	var out runResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Status != "done" || out.Tier != "playwright" {
		t.Fatalf("unexpected result: %+v", out)
	}
	if len(out.Actions) != 2 {
		t.Fatalf("actions = %d, want 2", len(out.Actions))
	}
	if out.Usage.TotalTokens != 900 {
		t.Fatalf("totalTokens = %d, want 900", out.Usage.TotalTokens)
	}
	if runner.lastOpts.Timeout.Milliseconds() != 60000 {
		t.Fatalf("timeout not forwarded: %v", runner.lastOpts.Timeout)
	}
}

func TestHandleRunValidation(t *testing.T) {
	s := testServer(t, &fakeRunner{}, &fakeScraper{})

	status, _ := postJSON(t, s, "/v1/run", map[string]any{"prompt": "no url"})
	if status != 400 {
		t.Fatalf("missing url: status = %d, want 400", status)
	}

	status, _ = postJSON(t, s, "/v1/run", map[string]any{"url": "https://example.com"})
	if status != 400 {
		t.Fatalf("missing prompt: status = %d, want 400", status)
	}
}

func TestHandleRunRejectedURL(t *testing.T) {
	runner := &fakeRunner{err: errors.New("domain not allowed: internal.corp")}
	s := testServer(t, runner, &fakeScraper{})

	status, body := postJSON(t, s, "/v1/run", map[string]any{
		"url":    "https://internal.corp",
		"prompt": "task",
	})
	if status != 400 {
		t.Fatalf("status = %d, want 400", status)
	}
	var out errorResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Error == "" {
		t.Fatal("expected error message in body")
	}
}

func TestHandleScrapeSuccess(t *testing.T) {
	scraper := &fakeScraper{res: &scrape.Result{
		URL:        "https://example.com",
		Tier:       scrape.TierStealth,
		StatusCode: 200,
		Title:      "Example",
		Markdown:   "# Example",
	}}
	s := testServer(t, &fakeRunner{}, scraper)

	status, body := postJSON(t, s, "/v1/scrape", map[string]any{"url": "https://example.com"})
	if status != 200 {
		t.Fatalf("status = %d, body %s", status, body)
	}
	var out scrape.Result
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.Tier != scrape.TierStealth || out.Title != "Example" {
		t.Fatalf("unexpected result: %+v", out)
	}
}

func TestHandleScrapeFailure(t *testing.T) {
	scraper := &fakeScraper{err: &scrape.CascadeError{
		URL:    "https://example.com",
		Causes: []error{errors.New("tier http: anti-bot response")},
	}}
	s := testServer(t, &fakeRunner{}, scraper)

	status, body := postJSON(t, s, "/v1/scrape", map[string]any{"url": "https://example.com"})
	if status != 502 {
		t.Fatalf("status = %d, want 502, body %s", status, body)
	}
}

func TestHandleScrapeBatch(t *testing.T) {
	scraper := &fakeScraper{many: []scrape.BatchItem{
		{Request: scrape.Request{URL: "https://a.example"}, Result: &scrape.Result{URL: "https://a.example", Tier: scrape.TierHTTP, StatusCode: 200}},
		{Request: scrape.Request{URL: "https://b.example"}, Err: errors.New("all tiers failed")},
	}}
	s := testServer(t, &fakeRunner{}, scraper)

	status, body := postJSON(t, s, "/v1/scrape/batch", map[string]any{
		"urls": []string{"https://a.example", "https://b.example"},
	})
	if status != 200 {
		t.Fatalf("status = %d, body %s", status, body)
	}
	var out batchScrapeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out.Results) != 2 {
		t.Fatalf("results = %d, want 2", len(out.Results))
	}
	if out.Results[0].URL != "https://a.example" || out.Results[0].Result == nil {
		t.Fatalf("first item wrong: %+v", out.Results[0])
	}
	if out.Results[1].Error == "" {
		t.Fatalf("second item should carry the error: %+v", out.Results[1])
	}
}

func TestHandleScrapeBatchLimits(t *testing.T) {
	s := testServer(t, &fakeRunner{}, &fakeScraper{})

	status, _ := postJSON(t, s, "/v1/scrape/batch", map[string]any{"urls": []string{}})
	if status != 400 {
		t.Fatalf("empty urls: status = %d, want 400", status)
	}

	urls := make([]string, maxBatchURLs+1)
	for i := range urls {
		urls[i] = "https://example.com/p"
	}
	status, _ = postJSON(t, s, "/v1/scrape/batch", map[string]any{"urls": urls})
	if status != 400 {
		t.Fatalf("oversize batch: status = %d, want 400", status)
	}
}

func TestHealthzShallow(t *testing.T) {
	s := testServer(t, &fakeRunner{}, &fakeScraper{})

	req := httptest.NewRequest("GET", "/healthz", nil)
	resp, err := s.App().Test(req, -1)
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := testServer(t, &fakeRunner{}, &fakeScraper{})

	req := httptest.NewRequest("GET", "/metrics", nil)
	resp, err := s.App().Test(req, -1)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(out, []byte("auspex_scrape_cache_hits_total")) {
		t.Fatalf("metrics output missing series:\n%s", out)
	}
}

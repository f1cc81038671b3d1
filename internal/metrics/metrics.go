package metrics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Simple Prometheus-style metrics for the API service and the engine.
// This is intentionally minimal and in-memory only.

var (
	mu             sync.RWMutex
	requestsTotal  = make(map[reqKey]int64)
	latencyMsSum   = make(map[latKey]int64)
	latencyMsCount = make(map[latKey]int64)

	runsTotal       = make(map[runKey]int64)
	runActions      = make(map[runKey]int64)
	llmCallsTotal   = make(map[string]int64)
	llmTokensTotal  = make(map[string]int64)
	scrapesTotal    = make(map[scrapeKey]int64)
	scrapeCacheHits int64
)

type reqKey struct {
	Method string
	Path   string
	Status int
}

type latKey struct {
	Method string
	Path   string
}

type runKey struct {
	Status string
	Tier   string
}

type scrapeKey struct {
	Tier    string
	Success string
}

// RecordRequest increments the request counter and records latency.
func RecordRequest(method, path string, status int, latencyMs int64) {
	mu.Lock()
	defer mu.Unlock()

	rk := reqKey{Method: method, Path: path, Status: status}
	requestsTotal[rk]++

	lk := latKey{Method: method, Path: path}
	latencyMsSum[lk] += latencyMs
	latencyMsCount[lk]++
}

// RecordRun records one terminal agent run.
func RecordRun(status, tier string, actions int) {
	mu.Lock()
	defer mu.Unlock()

	k := runKey{Status: status, Tier: tier}
	runsTotal[k]++
	runActions[k] += int64(actions)
}

// RecordLLM accumulates decision-call counts and token usage per model.
func RecordLLM(model string, calls, totalTokens int) {
	mu.Lock()
	defer mu.Unlock()
	llmCallsTotal[model] += int64(calls)
	llmTokensTotal[model] += int64(totalTokens)
}

// RecordScrape records the terminal tier of one scrape.
func RecordScrape(tier string, success bool) {
	mu.Lock()
	defer mu.Unlock()

	s := "false"
	if success {
		s = "true"
	}
	scrapesTotal[scrapeKey{Tier: tier, Success: s}]++
}

// RecordScrapeCacheHit counts scrapes served from the result cache.
func RecordScrapeCacheHit() {
	mu.Lock()
	defer mu.Unlock()
	scrapeCacheHits++
}

// Export returns Prometheus-style metrics text.
func Export() string {
	mu.RLock()
	defer mu.RUnlock()

	var b strings.Builder

	b.WriteString("# HELP auspex_http_requests_total Total HTTP requests\n")
	b.WriteString("# TYPE auspex_http_requests_total counter\n")

	// Sort keys for stable output
	var reqKeys []reqKey
	for k := range requestsTotal {
		reqKeys = append(reqKeys, k)
	}
	sort.Slice(reqKeys, func(i, j int) bool {
		if reqKeys[i].Method != reqKeys[j].Method {
			return reqKeys[i].Method < reqKeys[j].Method
		}
		if reqKeys[i].Path != reqKeys[j].Path {
			return reqKeys[i].Path < reqKeys[j].Path
		}
		return reqKeys[i].Status < reqKeys[j].Status
	})

	for _, k := range reqKeys {
		fmt.Fprintf(&b, "auspex_http_requests_total{method=\"%s\",path=\"%s\",status=\"%d\"} %d\n",
			k.Method, k.Path, k.Status, requestsTotal[k])
	}

	b.WriteString("# HELP auspex_http_request_duration_ms_sum Total request duration in milliseconds\n")
	b.WriteString("# TYPE auspex_http_request_duration_ms_sum counter\n")
	b.WriteString("# HELP auspex_http_request_duration_ms_count Request count for latency metric\n")
	b.WriteString("# TYPE auspex_http_request_duration_ms_count counter\n")

	var latKeys []latKey
	for k := range latencyMsSum {
		latKeys = append(latKeys, k)
	}
	sort.Slice(latKeys, func(i, j int) bool {
		if latKeys[i].Method != latKeys[j].Method {
			return latKeys[i].Method < latKeys[j].Method
		}
		return latKeys[i].Path < latKeys[j].Path
	})

	for _, k := range latKeys {
		fmt.Fprintf(&b, "auspex_http_request_duration_ms_sum{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, latencyMsSum[k])
		fmt.Fprintf(&b, "auspex_http_request_duration_ms_count{method=\"%s\",path=\"%s\"} %d\n",
			k.Method, k.Path, latencyMsCount[k])
	}

	b.WriteString("# HELP auspex_runs_total Terminal agent runs by status and tier\n")
	b.WriteString("# TYPE auspex_runs_total counter\n")
	b.WriteString("# HELP auspex_run_actions_total Dispatched actions by status and tier\n")
	b.WriteString("# TYPE auspex_run_actions_total counter\n")

	var runKeys []runKey
	for k := range runsTotal {
		runKeys = append(runKeys, k)
	}
	sort.Slice(runKeys, func(i, j int) bool {
		if runKeys[i].Status != runKeys[j].Status {
			return runKeys[i].Status < runKeys[j].Status
		}
		return runKeys[i].Tier < runKeys[j].Tier
	})

	for _, k := range runKeys {
		fmt.Fprintf(&b, "auspex_runs_total{status=\"%s\",tier=\"%s\"} %d\n",
			k.Status, k.Tier, runsTotal[k])
		fmt.Fprintf(&b, "auspex_run_actions_total{status=\"%s\",tier=\"%s\"} %d\n",
			k.Status, k.Tier, runActions[k])
	}

	b.WriteString("# HELP auspex_llm_calls_total Decision calls by model\n")
	b.WriteString("# TYPE auspex_llm_calls_total counter\n")
	b.WriteString("# HELP auspex_llm_tokens_total Total tokens by model\n")
	b.WriteString("# TYPE auspex_llm_tokens_total counter\n")

	var models []string
	for m := range llmCallsTotal {
		models = append(models, m)
	}
	sort.Strings(models)
	for _, m := range models {
		fmt.Fprintf(&b, "auspex_llm_calls_total{model=\"%s\"} %d\n", m, llmCallsTotal[m])
		fmt.Fprintf(&b, "auspex_llm_tokens_total{model=\"%s\"} %d\n", m, llmTokensTotal[m])
	}

	b.WriteString("# HELP auspex_scrapes_total Scrapes by terminal tier and outcome\n")
	b.WriteString("# TYPE auspex_scrapes_total counter\n")

	var scrapeKeys []scrapeKey
	for k := range scrapesTotal {
		scrapeKeys = append(scrapeKeys, k)
	}
	sort.Slice(scrapeKeys, func(i, j int) bool {
		if scrapeKeys[i].Tier != scrapeKeys[j].Tier {
			return scrapeKeys[i].Tier < scrapeKeys[j].Tier
		}
		return scrapeKeys[i].Success < scrapeKeys[j].Success
	})

	for _, k := range scrapeKeys {
		fmt.Fprintf(&b, "auspex_scrapes_total{tier=\"%s\",success=\"%s\"} %d\n",
			k.Tier, k.Success, scrapesTotal[k])
	}

	b.WriteString("# HELP auspex_scrape_cache_hits_total Scrapes served from the result cache\n")
	b.WriteString("# TYPE auspex_scrape_cache_hits_total counter\n")
	fmt.Fprintf(&b, "auspex_scrape_cache_hits_total %d\n", scrapeCacheHits)

	return b.String()
}

// Reset clears every counter. Test helper.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	requestsTotal = make(map[reqKey]int64)
	latencyMsSum = make(map[latKey]int64)
	latencyMsCount = make(map[latKey]int64)
	runsTotal = make(map[runKey]int64)
	runActions = make(map[runKey]int64)
	llmCallsTotal = make(map[string]int64)
	llmTokensTotal = make(map[string]int64)
	scrapesTotal = make(map[scrapeKey]int64)
	scrapeCacheHits = 0
}

package metrics

import (
	"strings"
	"testing"
)

func TestExportContainsRecordedSeries(t *testing.T) {
	Reset()
	defer Reset()

	RecordRequest("POST", "/v1/run", 200, 1500)
	RecordRequest("POST", "/v1/run", 200, 500)
	RecordRun("done", "playwright", 4)
	RecordLLM("gpt-4o", 5, 3200)
	RecordScrape("stealth", true)
	RecordScrapeCacheHit()

	out := Export()
	for _, want := range []string{
		`auspex_http_requests_total{method="POST",path="/v1/run",status="200"} 2`,
		`auspex_http_request_duration_ms_sum{method="POST",path="/v1/run"} 2000`,
		`auspex_http_request_duration_ms_count{method="POST",path="/v1/run"} 2`,
		`auspex_runs_total{status="done",tier="playwright"} 1`,
		`auspex_run_actions_total{status="done",tier="playwright"} 4`,
		`auspex_llm_calls_total{model="gpt-4o"} 5`,
		`auspex_llm_tokens_total{model="gpt-4o"} 3200`,
		`auspex_scrapes_total{tier="stealth",success="true"} 1`,
		`auspex_scrape_cache_hits_total 1`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("export missing %q:\n%s", want, out)
		}
	}
}

func TestExportStableOrdering(t *testing.T) {
	Reset()
	defer Reset()

	RecordRun("error", "http", 1)
	RecordRun("done", "playwright", 2)
	RecordRun("done", "http", 1)

	out := Export()
	first := strings.Index(out, `auspex_runs_total{status="done",tier="http"}`)
	second := strings.Index(out, `auspex_runs_total{status="done",tier="playwright"}`)
	third := strings.Index(out, `auspex_runs_total{status="error",tier="http"}`)
	if first == -1 || second == -1 || third == -1 || !(first < second && second < third) {
		t.Fatalf("series not sorted:\n%s", out)
	}
}

package agent

import (
	"bufio"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"auspex/internal/action"
)

// maxReportData caps the result payload embedded in the report.
const maxReportData = 10000

// finish builds the terminal Result, renders the report, and emits the
// closing events. Every terminal branch of a run goes through here
// exactly once.
func (r *run) finish(status Status, tier Tier, data, errMsg string) *Result {
	r.sampleMemory()
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	res := &Result{
		Status:     status,
		Tier:       tier,
		Data:       data,
		DurationMs: time.Since(r.start).Milliseconds(),
		Actions:    r.actions,
		Usage:      r.usage,
		Memory: MemoryStats{
			PeakRSSKB: r.peakRSSKB,
			HeapMB:    float64(ms.HeapAlloc) / (1 << 20),
		},
		Error: errMsg,
	}
	res.Report = r.buildReport(res)

	if errMsg != "" {
		r.observer.OnError(errMsg)
		r.agent.logger.Warn("run finished", "status", status, "tier", tier, "error", errMsg)
	} else {
		r.agent.logger.Info("run finished", "status", status, "tier", tier, "duration_ms", res.DurationMs)
	}
	r.observer.OnDone(res)
	r.rlog.Final(string(status), time.Since(r.start), r.usage.TotalTokens, len(r.actions), truncateData(data))
	return res
}

func truncateData(data string) string {
	if len(data) <= maxReportData {
		return data
	}
	return data[:maxReportData] + "… (truncated)"
}

func (r *run) buildReport(res *Result) string {
	var b strings.Builder

	b.WriteString("=== Auspex Run Report ===\n")
	fmt.Fprintf(&b, "URL: %s\n", r.url)
	fmt.Fprintf(&b, "Prompt: %s\n", r.prompt)
	fmt.Fprintf(&b, "Status: %s\n", res.Status)
	fmt.Fprintf(&b, "Method: %s\n", res.Tier)
	fmt.Fprintf(&b, "Duration: %dms\n", res.DurationMs)

	if len(res.Actions) > 0 {
		b.WriteString("\nActions:\n")
		for n, rec := range res.Actions {
			fmt.Fprintf(&b, "  %d. [iter %d] %s\n", n+1, rec.Iteration, action.Describe(rec.Action))
		}
	}

	b.WriteString("\nResult:\n")
	switch {
	case res.Error != "":
		fmt.Fprintf(&b, "  error: %s\n", res.Error)
	case res.Data != "":
		fmt.Fprintf(&b, "  %s\n", truncateData(res.Data))
	default:
		b.WriteString("  (no data)\n")
	}

	b.WriteString("\nResource Usage:\n")
	fmt.Fprintf(&b, "  LLM calls: %d\n", res.Usage.Calls)
	fmt.Fprintf(&b, "  Tokens: %d total (%d prompt, %d completion)\n",
		res.Usage.TotalTokens, res.Usage.PromptTokens, res.Usage.CompletionTokens)
	fmt.Fprintf(&b, "  Heap: %.1f MB\n", res.Memory.HeapMB)
	if res.Tier == TierPlaywright && res.Memory.PeakRSSKB > 0 {
		fmt.Fprintf(&b, "  Peak RSS: %d kB\n", res.Memory.PeakRSSKB)
	} else if res.Tier != TierPlaywright {
		b.WriteString("  Browser: not used\n")
	} else {
		b.WriteString("  Peak RSS: not available\n")
	}

	return b.String()
}

// readSelfRSSKB reads the current process RSS from /proc. Returns 0 on
// platforms without procfs.
func readSelfRSSKB() int64 {
	f, err := os.Open("/proc/self/status")
	if err != nil {
		return 0
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0
		}
		return kb
	}
	return 0
}

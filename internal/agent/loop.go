package agent

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"auspex/internal/action"
	"auspex/internal/browser"
	"auspex/internal/llm"
	"auspex/internal/runlog"
	"auspex/internal/snapshot"
)

// Sliding-window constants for history trimming and loop detection.
const (
	historyWindow  = 8
	recentWindow   = 9
	maxOccurrences = 3
)

// visionEscalationThreshold is the consecutive-failure count that turns
// screenshots on for the rest of the run.
const visionEscalationThreshold = 3

// run holds all loop-local state. Owned exclusively by one goroutine.
type run struct {
	agent  *Agent
	url    string
	prompt string
	schema string

	maxIterations   int
	timeout         time.Duration
	actionDelay     time.Duration
	visionAvailable bool

	observer Observer
	rlog     *runlog.Logger

	start        time.Time
	history      []string
	actions      []ActionRecord
	recentKeys   []string
	failures     int
	visionActive bool
	usage        llm.Usage
	peakRSSKB    int64
}

func (a *Agent) newRun(url string, opts RunOptions) *run {
	r := &run{
		agent:         a,
		url:           url,
		prompt:        opts.Prompt,
		schema:        opts.OutputSchema,
		maxIterations: a.cfg.MaxIterations,
		timeout:       a.cfg.Timeout,
		actionDelay:   a.cfg.ActionDelay,
		observer:      opts.Observer,
		start:         time.Now(),
	}
	if opts.MaxIterations > 0 {
		r.maxIterations = opts.MaxIterations
	}
	if opts.Timeout > 0 {
		r.timeout = opts.Timeout
	}
	if opts.ActionDelay > 0 {
		r.actionDelay = opts.ActionDelay
	}
	if r.observer == nil {
		r.observer = NopObserver{}
	}

	vision := a.cfg.Vision
	if opts.Vision != nil {
		vision = *opts.Vision
	}
	if vision {
		if llm.SupportsVision(a.cfg.LLM.Model) {
			r.visionAvailable = true
		} else {
			llm.WarnNoVision(a.logger, a.cfg.LLM.Model)
		}
	}

	if a.cfg.LogDir != "" {
		if rlog, err := runlog.New(a.cfg.LogDir); err == nil {
			r.rlog = rlog
			r.rlog.Header(url, opts.Prompt)
		} else {
			a.logger.Warn("run log disabled", "error", err)
		}
	}
	return r
}

func (r *run) emitTier(tier Tier) {
	r.observer.OnTier(tier)
	r.rlog.Tier(string(tier))
}

// loop drives the perception-decision-action cycle until a terminal
// state is reached.
func (r *run) loop(ctx context.Context, page browser.Page) *Result {
	for i := 0; i < r.maxIterations; i++ {
		if ctx.Err() != nil {
			return r.finish(StatusAborted, TierPlaywright, "", "run aborted by caller")
		}
		r.sampleMemory()
		if time.Since(r.start) > r.timeout {
			return r.finish(StatusTimeout, TierPlaywright, "", fmt.Sprintf("deadline of %v exceeded", r.timeout))
		}
		if budget := r.agent.cfg.MaxTotalTokens; budget > 0 && r.usage.TotalTokens >= budget {
			return r.finish(StatusError, TierPlaywright, "",
				fmt.Sprintf("Token budget exceeded: %d >= %d", r.usage.TotalTokens, budget))
		}

		snap := snapshot.FromPage(page, true)
		r.observer.OnIteration(i, snap.URL)
		r.rlog.Iteration(i, snap.URL, snap.Title, len(snap.Text), len(snap.Links), len(snap.Forms))

		if r.isBlockedPage(snap.URL, snap.Text) {
			return r.finish(StatusError, TierPlaywright, "", "Blocked by target site (CAPTCHA or rate limit)")
		}

		var screenshot []byte
		if r.visionActive {
			if img, err := page.Screenshot(r.agent.cfg.JPEGQuality); err == nil {
				screenshot = img
			}
		}

		system := llm.SystemPrompt(len(screenshot) > 0)
		user := llm.BuildUserMessage(r.prompt, snapshot.FormatForLLM(snap), r.schema, r.windowedHistory())

		raw, usage, err := r.agent.llm.Decide(ctx, system, user, screenshot)
		r.usage.Add(usage)
		if err != nil {
			if ctx.Err() != nil {
				return r.finish(StatusAborted, TierPlaywright, "", "run aborted by caller")
			}
			return r.finish(StatusError, TierPlaywright, "", "llm decision failed: "+err.Error())
		}

		act, err := action.Parse(raw)
		if err != nil {
			r.failures++
			r.addHistory(fmt.Sprintf("[%d] INVALID ACTION: %s. Use shorter, simpler CSS selectors and only target elements present in the page state.", i, err))
			r.maybeEscalateVision(i)
			continue
		}

		if r.detectLoop(i, act) {
			r.record(i, act)
			continue
		}
		r.record(i, act)

		if act.Type == action.TypeDone {
			if strings.HasPrefix(act.Result, action.FailedPrefix) {
				msg := strings.TrimSpace(strings.TrimPrefix(act.Result, action.FailedPrefix))
				if msg == "" {
					msg = "task reported failure without a reason"
				}
				return r.finish(StatusError, TierPlaywright, "", msg)
			}
			return r.finish(StatusDone, TierPlaywright, act.Result, "")
		}

		n := len(r.actions)
		if err := r.agent.execute(ctx, page, act); err != nil {
			r.failures++
			r.addHistory(fmt.Sprintf("[%d] ERROR executing %s: %s. Try a different approach.", i, act.Type, err))
			r.rlog.ActionResult(n, false, err.Error())
			r.maybeEscalateVision(i)
		} else {
			r.failures = 0
			r.addHistory(fmt.Sprintf("[%d] %s -> OK", i, action.Describe(act)))
			r.rlog.ActionResult(n, true, "")
		}

		// wait and goto are self-timed.
		if act.Type != action.TypeWait && act.Type != action.TypeGoto {
			select {
			case <-ctx.Done():
			case <-time.After(r.actionDelay):
			}
		}
	}
	return r.finish(StatusMaxIterations, TierPlaywright, "",
		fmt.Sprintf("no terminal action after %d iterations", r.maxIterations))
}

// record appends the action and emits the observer event.
func (r *run) record(i int, act action.Action) {
	r.actions = append(r.actions, ActionRecord{
		Action:    act,
		Iteration: i,
		Timestamp: time.Now(),
	})
	r.observer.OnAction(i, act)
	r.rlog.Action(len(r.actions), action.Describe(act))
}

// detectLoop pushes the action key into the recent window and reports
// whether the same key just occurred for the third time. On detection
// the window is cleared so recovery gets a clean slate.
func (r *run) detectLoop(i int, act action.Action) bool {
	key := action.Key(act)
	r.recentKeys = append(r.recentKeys, key)
	if len(r.recentKeys) > recentWindow {
		r.recentKeys = r.recentKeys[1:]
	}

	count := 0
	for _, k := range r.recentKeys {
		if k == key {
			count++
		}
	}
	if count < maxOccurrences {
		return false
	}

	r.failures++
	r.recentKeys = r.recentKeys[:0]
	r.addHistory(fmt.Sprintf("[%d] STUCK: action %s repeated %d times with no progress. Take a completely different approach: try another element, scroll, or navigate elsewhere.", i, action.Describe(act), count))
	r.rlog.Note("STUCK: " + action.Describe(act))
	r.maybeEscalateVision(i)
	return true
}

// maybeEscalateVision turns screenshots on after repeated failures.
// Once on, vision stays on for the rest of the run.
func (r *run) maybeEscalateVision(i int) {
	if !r.visionAvailable || r.visionActive || r.failures < visionEscalationThreshold {
		return
	}
	r.visionActive = true
	r.addHistory(fmt.Sprintf("[%d] Vision mode activated: screenshots will be attached to help locate elements.", i))
	r.rlog.Note("vision mode activated")
	r.agent.logger.Info("vision escalation", "iteration", i, "failures", r.failures)
}

func (r *run) addHistory(line string) {
	r.history = append(r.history, line)
}

// windowedHistory keeps the first line plus the most recent 7 when the
// history outgrows the window, preserving initial context while capping
// prompt size.
func (r *run) windowedHistory() []string {
	if len(r.history) <= historyWindow {
		return r.history
	}
	out := make([]string, 0, historyWindow)
	out = append(out, r.history[0])
	out = append(out, r.history[len(r.history)-(historyWindow-1):]...)
	return out
}

var blockedURLMarkers = []string{"/sorry/", "/captcha", "/challenge", "/recaptcha", "/blocked"}

var blockedTextRe = regexp.MustCompile(`(?i)unusual traffic|not a robot|captcha|blocked your ip|access denied|rate limit`)

// isBlockedPage recognizes interstitial challenge pages by URL shape
// or, for short pages, by phrase matching.
func (r *run) isBlockedPage(url, text string) bool {
	lower := strings.ToLower(url)
	for _, m := range blockedURLMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return len(text) < r.agent.cfg.BlockedTextThreshold && blockedTextRe.MatchString(text)
}

func (r *run) sampleMemory() {
	sample := r.agent.cfg.RSSSample
	if sample == nil {
		sample = readSelfRSSKB
	}
	if rss := sample(); rss > r.peakRSSKB {
		r.peakRSSKB = rss
	}
}

package agent

import (
	"context"
	"strings"

	"auspex/internal/action"
	"auspex/internal/content"
	"auspex/internal/llm"
	"auspex/internal/snapshot"
)

// staticAttempt tries to resolve the task in a single LLM call over the
// fetched HTML, without a browser. The second return value reports
// whether the run is terminal; false means escalate to the browser with
// any accumulated usage preserved.
func (r *run) staticAttempt(ctx context.Context, html string) (*Result, bool) {
	if ctx.Err() != nil {
		return r.finish(StatusAborted, TierHTTP, "", "run aborted by caller"), true
	}
	if !content.HasEnoughContent(html) {
		return nil, false
	}

	snap, err := snapshot.FromHTML(html, r.url)
	if err != nil {
		return nil, false
	}

	system := llm.SystemPrompt(false)
	user := llm.BuildUserMessage(r.prompt, snapshot.FormatForLLM(snap), r.schema, nil)

	raw, usage, err := r.agent.llm.Decide(ctx, system, user, nil)
	r.usage.Add(usage)
	if err != nil {
		r.agent.logger.Debug("static decision failed, escalating to browser", "error", err)
		return nil, false
	}

	act, err := action.Parse(raw)
	if err != nil {
		return nil, false
	}
	if act.Type != action.TypeDone {
		return nil, false
	}

	r.record(0, act)
	if strings.HasPrefix(act.Result, action.FailedPrefix) {
		msg := strings.TrimSpace(strings.TrimPrefix(act.Result, action.FailedPrefix))
		if msg == "" {
			msg = "task reported failure without a reason"
		}
		return r.finish(StatusError, TierHTTP, "", msg), true
	}
	return r.finish(StatusDone, TierHTTP, act.Result, ""), true
}

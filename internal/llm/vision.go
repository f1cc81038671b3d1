package llm

import (
	"log/slog"
	"strings"
	"sync"
)

// visionModelPrefixes lists model identifiers known to accept image
// content parts. Matching is by prefix so dated variants qualify.
var visionModelPrefixes = []string{
	"gpt-4o",
	"gpt-4o-mini",
	"gpt-4-turbo",
	"gpt-4.1",
	"gpt-4.1-mini",
	"gpt-4.1-nano",
	"meta-llama/llama-4-scout",
	"meta-llama/llama-4-maverick",
}

// SupportsVision reports whether screenshots may be attached for the
// given model.
func SupportsVision(model string) bool {
	m := strings.ToLower(strings.TrimSpace(model))
	for _, p := range visionModelPrefixes {
		if strings.HasPrefix(m, p) {
			return true
		}
	}
	return false
}

var warnedModels sync.Map

// WarnNoVision logs, once per model per process, that screenshots are
// requested but the model cannot consume them.
func WarnNoVision(logger *slog.Logger, model string) {
	if _, loaded := warnedModels.LoadOrStore(model, struct{}{}); loaded {
		return
	}
	logger.Warn("model does not support vision, screenshots will be skipped", "model", model)
}

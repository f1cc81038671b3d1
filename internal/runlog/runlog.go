// Package runlog writes the optional per-run trace file. One file per
// run, plain text, one line per event, cheap enough to leave on.
package runlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Logger appends run events to a single trace file. Safe for use from
// one run at a time; writes are serialized anyway.
type Logger struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// New creates logs under dir named auspex-<iso-timestamp>.txt. The
// directory is created if missing.
func New(dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	stamp := strings.ReplaceAll(time.Now().UTC().Format("2006-01-02T15:04:05.000Z"), ":", "-")
	path := filepath.Join(dir, "auspex-"+stamp+".txt")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	return &Logger{f: f, path: path}, nil
}

// Path returns the trace file location.
func (l *Logger) Path() string { return l.path }

func (l *Logger) line(format string, args ...any) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintf(l.f, format+"\n", args...)
}

// Header opens the trace with the run identity block.
func (l *Logger) Header(url, prompt string) {
	l.line("=== Auspex Run — %s ===", time.Now().UTC().Format(time.RFC3339))
	l.line("URL: %s", url)
	l.line("Prompt: %s", prompt)
}

// Tier records a tier transition.
func (l *Logger) Tier(tier string) {
	l.line("[%s]", tier)
}

// Iteration records one perception sample.
func (l *Logger) Iteration(i int, url, title string, textLen, links, forms int) {
	l.line("[iter %d] %s", i, url)
	l.line("  title: %s", title)
	l.line("  text (%d chars) | %d links | %d forms", textLen, links, forms)
}

// Action records a dispatched action.
func (l *Logger) Action(n int, desc string) {
	l.line("  [action %d] %s", n, desc)
}

// ActionResult records the outcome of a dispatched action.
func (l *Logger) ActionResult(n int, ok bool, msg string) {
	if ok {
		l.line("  [action %d] -> OK", n)
		return
	}
	l.line("  [action %d] -> ERROR: %s", n, msg)
}

// Note records a free-form loop event (stuck, vision activation).
func (l *Logger) Note(msg string) {
	l.line("  %s", msg)
}

// Final closes the trace with the terminal summary block.
func (l *Logger) Final(status string, duration time.Duration, totalTokens, actions int, data string) {
	l.line("Status: %s", status)
	l.line("Duration: %dms", duration.Milliseconds())
	l.line("Tokens: %d", totalTokens)
	l.line("Actions: %d", actions)
	if data != "" {
		l.line("Data: %s", data)
	}
}

// Close flushes and closes the trace file.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.f.Close()
}

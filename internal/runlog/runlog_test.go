package runlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoggerWritesEventSections(t *testing.T) {
	dir := t.TempDir()
	l, err := New(filepath.Join(dir, "logs"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	l.Header("https://example.com", "find the price")
	l.Tier("playwright")
	l.Iteration(0, "https://example.com", "Example", 1234, 5, 1)
	l.Action(1, `click "#buy"`)
	l.ActionResult(1, true, "")
	l.Action(2, `click "#missing"`)
	l.ActionResult(2, false, "element not found")
	l.Final("done", 1500*time.Millisecond, 820, 2, "price is 9.99")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if !strings.Contains(filepath.Base(l.Path()), "auspex-") {
		t.Fatalf("unexpected log name: %s", l.Path())
	}
	raw, err := os.ReadFile(l.Path())
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(raw)
	for _, want := range []string{
		"=== Auspex Run —",
		"URL: https://example.com",
		"Prompt: find the price",
		"[playwright]",
		"[iter 0] https://example.com",
		"  title: Example",
		"  text (1234 chars) | 5 links | 1 forms",
		"  [action 1] -> OK",
		"  [action 2] -> ERROR: element not found",
		"Status: done",
		"Tokens: 820",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("log missing %q:\n%s", want, out)
		}
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *Logger
	l.Header("u", "p")
	l.Tier("http")
	l.Note("x")
	if err := l.Close(); err != nil {
		t.Fatalf("Close on nil: %v", err)
	}
}

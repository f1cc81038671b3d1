// Package browser defines the narrow driver contract the engine needs
// from a headless browser, plus the playwright-backed implementation.
// The agent loop, executor, snapshot builder, and scraper tiers all
// program against these interfaces so tests can substitute fakes.
package browser

import (
	"context"
	"time"

	"auspex/internal/action"
)

// LoadState mirrors the page lifecycle states the engine waits on.
type LoadState string

const (
	LoadDOMContentLoaded LoadState = "domcontentloaded"
	LoadNetworkIdle      LoadState = "networkidle"
)

// Proxy configures an upstream proxy for a page context.
type Proxy struct {
	Server   string
	Username string
	Password string
}

// Cookie seeds a page context before navigation.
type Cookie struct {
	Name   string
	Value  string
	Domain string
	Path   string
	URL    string
}

// CapturedResponse is a JSON API response recorded during navigation.
type CapturedResponse struct {
	URL  string
	Body string
}

// PageOptions configures a fresh page context.
type PageOptions struct {
	UserAgent    string
	Locale       string
	TimezoneID   string
	ViewportW    int
	ViewportH    int
	Proxy        *Proxy
	Cookies      []Cookie
	ExtraHeaders map[string]string

	// InitScript runs in every frame before any page script.
	InitScript string

	// BlockHeavyResources aborts font/media/image loads and requests to
	// known analytics trackers.
	BlockHeavyResources bool

	// CaptureJSON, when set, receives intercepted application/json
	// responses (subject to the size and URL filters of the driver).
	CaptureJSON func(CapturedResponse)
}

// Page is one live tab. All operations are blocking; timeouts are
// passed explicitly where the engine bounds them.
type Page interface {
	URL() string
	Title() (string, error)
	Content() (string, error)
	Goto(url string, timeout time.Duration) error
	Evaluate(js string) (any, error)

	Click(t action.Target, timeout time.Duration) error
	Fill(t action.Target, text string, timeout time.Duration) error
	SelectValue(t action.Target, value string, timeout time.Duration) error
	Hover(t action.Target, timeout time.Duration) error
	Press(key string) error

	WaitForSelector(selector string, timeout time.Duration) error
	WaitForLoadState(state LoadState, timeout time.Duration) error
	Sleep(d time.Duration)

	Screenshot(jpegQuality int) ([]byte, error)

	// AriaSnapshot returns the accessibility tree rooted at body in YAML
	// form.
	AriaSnapshot() (string, error)

	Close() error
}

// Browser is one running browser instance. Pages are cheap; browsers
// are pooled and reused.
type Browser interface {
	IsConnected() bool
	NewPage(ctx context.Context, opts PageOptions) (Page, error)
	OnDisconnected(fn func())
	Close() error
}

// Launcher creates browsers. The playwright launcher owns the driver
// process; Close tears it down.
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
	Close() error
}

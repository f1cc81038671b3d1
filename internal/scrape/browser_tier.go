package scrape

import (
	"context"
	"sync"
	"time"

	"auspex/internal/browser"
)

// Browser-tier timing. The networkidle wait is capped so a chatty page
// cannot eat the whole request budget.
const (
	networkIdleCap      = 15 * time.Second
	navRetryDelay       = 1500 * time.Millisecond
	selectorWaitTimeout = 10 * time.Second
)

// humanScrollJS steps down the page in uneven intervals, then jumps
// back to the top. Lazy loaders and some bot checks want to see it.
const humanScrollJS = `() => new Promise(resolve => {
	const total = document.body ? document.body.scrollHeight : 0;
	const step = Math.max(300, Math.floor(total / 6));
	let pos = 0;
	const tick = () => {
		if (pos >= total) {
			window.scrollTo(0, 0);
			resolve(true);
			return;
		}
		pos += step;
		window.scrollBy(0, step);
		setTimeout(tick, 120 + Math.random() * 130);
	};
	tick();
})`

// browserFetcher is the heaviest tier: a shared, lazily launched
// browser with a fresh stealth context per request.
type browserFetcher struct {
	launcher  browser.Launcher
	userAgent string

	mu sync.Mutex
	br browser.Browser
}

func newBrowserFetcher(l browser.Launcher, userAgent string) *browserFetcher {
	return &browserFetcher{launcher: l, userAgent: userAgent}
}

func (f *browserFetcher) Name() Tier { return TierBrowser }

// instance returns the shared browser, launching or relaunching as
// needed.
func (f *browserFetcher) instance(ctx context.Context) (browser.Browser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.br != nil && f.br.IsConnected() {
		return f.br, nil
	}
	br, err := f.launcher.Launch(ctx)
	if err != nil {
		return nil, err
	}
	f.br = br
	return br, nil
}

func (f *browserFetcher) Fetch(ctx context.Context, req Request) (*Result, error) {
	br, err := f.instance(ctx)
	if err != nil {
		return nil, &TierError{Tier: TierBrowser, Reason: "launch: " + err.Error()}
	}

	ua := f.userAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	// Response events arrive on the driver's goroutine.
	var capturedMu sync.Mutex
	var captured []browser.CapturedResponse

	opts := browser.PageOptions{
		UserAgent:           ua,
		Locale:              "pt-BR",
		TimezoneID:          "America/Sao_Paulo",
		ViewportW:           1920,
		ViewportH:           1080,
		Proxy:               req.Proxy,
		Cookies:             req.Cookies,
		ExtraHeaders:        req.Headers,
		InitScript:          browser.StealthInitScript,
		BlockHeavyResources: true,
	}
	if req.CaptureJSON {
		opts.CaptureJSON = func(r browser.CapturedResponse) {
			capturedMu.Lock()
			captured = append(captured, r)
			capturedMu.Unlock()
		}
	}

	page, err := br.NewPage(ctx, opts)
	if err != nil {
		return nil, &TierError{Tier: TierBrowser, Reason: "new page: " + err.Error()}
	}
	defer page.Close()

	if err := page.Goto(req.URL, req.Timeout); err != nil {
		sleepCtx(ctx, navRetryDelay)
		if err := page.Goto(req.URL, req.Timeout); err != nil {
			return nil, &TierError{Tier: TierBrowser, Reason: "navigation: " + err.Error()}
		}
	}

	idle := networkIdleCap
	if half := req.Timeout / 2; half > 0 && half < idle {
		idle = half
	}
	_ = page.WaitForLoadState(browser.LoadNetworkIdle, idle)

	if req.WaitForSelector != "" {
		_ = page.WaitForSelector(req.WaitForSelector, selectorWaitTimeout)
	}

	_, _ = page.Evaluate(humanScrollJS)

	html, err := page.Content()
	if err != nil {
		return nil, &TierError{Tier: TierBrowser, Reason: "content: " + err.Error()}
	}

	res, err := buildResult(TierBrowser, req, html, 200)
	if err != nil {
		return nil, err
	}
	capturedMu.Lock()
	res.CapturedJSON = captured
	capturedMu.Unlock()
	return res, nil
}

// Close shuts the shared browser down. The launcher belongs to the
// caller.
func (f *browserFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.br == nil {
		return nil
	}
	err := f.br.Close()
	f.br = nil
	return err
}

var _ fetcher = (*browserFetcher)(nil)

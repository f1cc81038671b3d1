package browser

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	pw "github.com/playwright-community/playwright-go"

	"auspex/internal/action"
)

// launchArgs are the anti-automation flags applied to every browser.
var launchArgs = []string{
	"--disable-blink-features=AutomationControlled",
	"--no-sandbox",
	"--disable-dev-shm-usage",
	"--disable-infobars",
	"--no-first-run",
	"--no-default-browser-check",
	"--mute-audio",
	"--window-size=1920,1080",
}

// trackerHosts is the analytics/tracker blocklist applied when a page
// context blocks heavy resources.
var trackerHosts = []string{
	"google-analytics.com",
	"googletagmanager.com",
	"connect.facebook.net",
	"facebook.com/tr",
	"hotjar.com",
	"fullstory.com",
	"segment.com",
	"segment.io",
	"mixpanel.com",
	"amplitude.com",
	"sentry.io",
	"clarity.ms",
	"doubleclick.net",
	"adnxs.com",
	"criteo.com",
	"taboola.com",
	"outbrain.com",
}

var assetURLRe = regexp.MustCompile(`(?i)\.(png|jpe?g|gif|svg|ico|webp|css|js|woff2?|ttf|eot|mp4|webm)(\?.*)?$`)

// maxCapturedJSONBytes caps intercepted API responses.
const maxCapturedJSONBytes = 500000

// PlaywrightLauncher launches Chromium through the playwright driver.
type PlaywrightLauncher struct {
	Headless bool

	mu     sync.Mutex
	driver *pw.Playwright
}

// NewLauncher returns a headless Chromium launcher.
func NewLauncher() *PlaywrightLauncher {
	return &PlaywrightLauncher{Headless: true}
}

// Launch starts (or reuses) the playwright driver and launches a fresh
// browser instance with the anti-automation args applied.
func (l *PlaywrightLauncher) Launch(_ context.Context) (Browser, error) {
	l.mu.Lock()
	if l.driver == nil {
		driver, err := pw.Run()
		if err != nil {
			l.mu.Unlock()
			return nil, fmt.Errorf("start playwright driver: %w", err)
		}
		l.driver = driver
	}
	driver := l.driver
	l.mu.Unlock()

	b, err := driver.Chromium.Launch(pw.BrowserTypeLaunchOptions{
		Headless: pw.Bool(l.Headless),
		Args:     launchArgs,
	})
	if err != nil {
		return nil, fmt.Errorf("launch chromium: %w", err)
	}
	return &pwBrowser{raw: b}, nil
}

// Close stops the playwright driver. Browsers launched from it must be
// closed first.
func (l *PlaywrightLauncher) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.driver == nil {
		return nil
	}
	err := l.driver.Stop()
	l.driver = nil
	return err
}

type pwBrowser struct {
	raw pw.Browser
}

func (b *pwBrowser) IsConnected() bool { return b.raw.IsConnected() }

func (b *pwBrowser) OnDisconnected(fn func()) {
	b.raw.OnDisconnected(func(pw.Browser) { fn() })
}

func (b *pwBrowser) Close() error { return b.raw.Close() }

func (b *pwBrowser) NewPage(_ context.Context, opts PageOptions) (Page, error) {
	ctxOpts := pw.BrowserNewContextOptions{}
	if opts.ViewportW > 0 && opts.ViewportH > 0 {
		ctxOpts.Viewport = &pw.Size{Width: opts.ViewportW, Height: opts.ViewportH}
	}
	if opts.UserAgent != "" {
		ctxOpts.UserAgent = pw.String(opts.UserAgent)
	}
	if opts.Locale != "" {
		ctxOpts.Locale = pw.String(opts.Locale)
	}
	if opts.TimezoneID != "" {
		ctxOpts.TimezoneId = pw.String(opts.TimezoneID)
	}
	if len(opts.ExtraHeaders) > 0 {
		ctxOpts.ExtraHttpHeaders = opts.ExtraHeaders
	}
	if opts.Proxy != nil {
		ctxOpts.Proxy = &pw.Proxy{Server: opts.Proxy.Server}
		if opts.Proxy.Username != "" {
			ctxOpts.Proxy.Username = pw.String(opts.Proxy.Username)
		}
		if opts.Proxy.Password != "" {
			ctxOpts.Proxy.Password = pw.String(opts.Proxy.Password)
		}
	}

	bctx, err := b.raw.NewContext(ctxOpts)
	if err != nil {
		return nil, fmt.Errorf("new browser context: %w", err)
	}

	if len(opts.Cookies) > 0 {
		cookies := make([]pw.OptionalCookie, 0, len(opts.Cookies))
		for _, c := range opts.Cookies {
			oc := pw.OptionalCookie{Name: c.Name, Value: c.Value}
			if c.URL != "" {
				oc.URL = pw.String(c.URL)
			}
			if c.Domain != "" {
				oc.Domain = pw.String(c.Domain)
			}
			if c.Path != "" {
				oc.Path = pw.String(c.Path)
			}
			cookies = append(cookies, oc)
		}
		if err := bctx.AddCookies(cookies); err != nil {
			_ = bctx.Close()
			return nil, fmt.Errorf("add cookies: %w", err)
		}
	}

	if opts.InitScript != "" {
		if err := bctx.AddInitScript(pw.Script{Content: pw.String(opts.InitScript)}); err != nil {
			_ = bctx.Close()
			return nil, fmt.Errorf("add init script: %w", err)
		}
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		return nil, fmt.Errorf("new page: %w", err)
	}

	// Dialogs would otherwise block navigation indefinitely.
	page.OnDialog(func(d pw.Dialog) { _ = d.Dismiss() })

	if opts.BlockHeavyResources {
		err := page.Route("**/*", func(route pw.Route) {
			req := route.Request()
			switch req.ResourceType() {
			case "font", "media", "image":
				_ = route.Abort()
				return
			}
			if req.ResourceType() == "script" && isTrackerURL(req.URL()) {
				_ = route.Abort()
				return
			}
			_ = route.Continue()
		})
		if err != nil {
			_ = bctx.Close()
			return nil, fmt.Errorf("install route interception: %w", err)
		}
	}

	if opts.CaptureJSON != nil {
		capture := opts.CaptureJSON
		page.OnResponse(func(resp pw.Response) {
			headers := resp.Headers()
			if !strings.Contains(strings.ToLower(headers["content-type"]), "application/json") {
				return
			}
			if assetURLRe.MatchString(resp.URL()) {
				return
			}
			if cl := headers["content-length"]; cl != "" {
				if n, err := strconv.Atoi(cl); err == nil && n > maxCapturedJSONBytes {
					return
				}
			}
			body, err := resp.Text()
			if err != nil || len(body) > maxCapturedJSONBytes {
				return
			}
			capture(CapturedResponse{URL: resp.URL(), Body: body})
		})
	}

	return &pwPage{raw: page, bctx: bctx}, nil
}

func isTrackerURL(url string) bool {
	lower := strings.ToLower(url)
	for _, host := range trackerHosts {
		if strings.Contains(lower, host) {
			return true
		}
	}
	return false
}

type pwPage struct {
	raw  pw.Page
	bctx pw.BrowserContext
}

func (p *pwPage) URL() string { return p.raw.URL() }

func (p *pwPage) Title() (string, error) { return p.raw.Title() }

func (p *pwPage) Content() (string, error) { return p.raw.Content() }

func (p *pwPage) Goto(url string, timeout time.Duration) error {
	_, err := p.raw.Goto(url, pw.PageGotoOptions{
		WaitUntil: pw.WaitUntilStateDomcontentloaded,
		Timeout:   pw.Float(float64(timeout.Milliseconds())),
	})
	return err
}

func (p *pwPage) Evaluate(js string) (any, error) {
	return p.raw.Evaluate(js)
}

func (p *pwPage) locator(t action.Target) pw.Locator {
	if t.IsRole() {
		opts := pw.PageGetByRoleOptions{}
		if t.Name != "" {
			opts.Name = t.Name
		}
		return p.raw.GetByRole(pw.AriaRole(t.Role), opts).First()
	}
	return p.raw.Locator(t.CSS).First()
}

func (p *pwPage) Click(t action.Target, timeout time.Duration) error {
	return p.locator(t).Click(pw.LocatorClickOptions{Timeout: pw.Float(float64(timeout.Milliseconds()))})
}

func (p *pwPage) Fill(t action.Target, text string, timeout time.Duration) error {
	return p.locator(t).Fill(text, pw.LocatorFillOptions{Timeout: pw.Float(float64(timeout.Milliseconds()))})
}

func (p *pwPage) SelectValue(t action.Target, value string, timeout time.Duration) error {
	values := []string{value}
	_, err := p.locator(t).SelectOption(pw.SelectOptionValues{Values: &values},
		pw.LocatorSelectOptionOptions{Timeout: pw.Float(float64(timeout.Milliseconds()))})
	return err
}

func (p *pwPage) Hover(t action.Target, timeout time.Duration) error {
	return p.locator(t).Hover(pw.LocatorHoverOptions{Timeout: pw.Float(float64(timeout.Milliseconds()))})
}

func (p *pwPage) Press(key string) error {
	return p.raw.Keyboard().Press(key)
}

func (p *pwPage) WaitForSelector(selector string, timeout time.Duration) error {
	_, err := p.raw.WaitForSelector(selector, pw.PageWaitForSelectorOptions{
		Timeout: pw.Float(float64(timeout.Milliseconds())),
	})
	return err
}

func (p *pwPage) WaitForLoadState(state LoadState, timeout time.Duration) error {
	opts := pw.PageWaitForLoadStateOptions{Timeout: pw.Float(float64(timeout.Milliseconds()))}
	switch state {
	case LoadNetworkIdle:
		opts.State = pw.LoadStateNetworkidle
	default:
		opts.State = pw.LoadStateDomcontentloaded
	}
	return p.raw.WaitForLoadState(opts)
}

func (p *pwPage) Sleep(d time.Duration) {
	p.raw.WaitForTimeout(float64(d.Milliseconds()))
}

func (p *pwPage) Screenshot(jpegQuality int) ([]byte, error) {
	if jpegQuality < 1 || jpegQuality > 100 {
		jpegQuality = 75
	}
	return p.raw.Screenshot(pw.PageScreenshotOptions{
		Type:    pw.ScreenshotTypeJpeg,
		Quality: pw.Int(jpegQuality),
	})
}

func (p *pwPage) AriaSnapshot() (string, error) {
	return p.raw.Locator("body").AriaSnapshot()
}

// Close tears down the page together with its dedicated context.
func (p *pwPage) Close() error {
	_ = p.raw.Close()
	return p.bctx.Close()
}

package scrape

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"auspex/internal/content"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// maxBodyBytes caps a fetched document.
const maxBodyBytes = 10 << 20

// stealthRetries is the extra-attempt budget of the stealth tier.
const stealthRetries = 2

// antiBotStatus are the codes bot-mitigation layers answer with.
var antiBotStatus = map[int]bool{403: true, 429: true, 503: true}

// httpFetcher serves both HTTP tiers; stealth mode adds the full
// realistic header set and retries.
type httpFetcher struct {
	tier      Tier
	client    *http.Client
	userAgent string
	stealth   bool
}

func newHTTPFetcher(userAgent string) *httpFetcher {
	return &httpFetcher{
		tier:      TierHTTP,
		client:    &http.Client{},
		userAgent: userAgent,
	}
}

func newStealthFetcher(userAgent string) *httpFetcher {
	return &httpFetcher{
		tier:      TierStealth,
		client:    &http.Client{},
		userAgent: userAgent,
		stealth:   true,
	}
}

func (f *httpFetcher) Name() Tier { return f.tier }

func (f *httpFetcher) Fetch(ctx context.Context, req Request) (*Result, error) {
	attempts := 1
	if f.stealth {
		attempts += stealthRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		res, err := f.fetchOnce(ctx, req)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (f *httpFetcher) fetchOnce(ctx context.Context, req Request) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, &TierError{Tier: f.tier, Reason: err.Error()}
	}
	f.setHeaders(httpReq, req)

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, &TierError{Tier: f.tier, Reason: err.Error()}
	}
	defer resp.Body.Close()

	if antiBotStatus[resp.StatusCode] {
		return nil, &TierError{Tier: f.tier, StatusCode: resp.StatusCode, Reason: "anti-bot response"}
	}
	if resp.StatusCode >= 400 {
		return nil, &TierError{Tier: f.tier, StatusCode: resp.StatusCode, Reason: "http error"}
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.Contains(ct, "text/html") && !strings.Contains(ct, "text/plain") {
		return nil, &TierError{Tier: f.tier, StatusCode: resp.StatusCode, Reason: fmt.Sprintf("unsupported content type %q", ct)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &TierError{Tier: f.tier, Reason: "read body: " + err.Error()}
	}
	rawHTML := string(body)

	if !content.HasEnoughContent(rawHTML) && content.DetectSSRData(rawHTML) == nil {
		return nil, &TierError{Tier: f.tier, StatusCode: resp.StatusCode, Reason: "insufficient content or challenge page"}
	}

	return buildResult(f.tier, req, rawHTML, resp.StatusCode)
}

func (f *httpFetcher) setHeaders(httpReq *http.Request, req Request) {
	ua := f.userAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	httpReq.Header.Set("User-Agent", ua)
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	httpReq.Header.Set("Accept-Language", "pt-BR,pt;q=0.9,en-US;q=0.8,en;q=0.7")
	httpReq.Header.Set("Cache-Control", "no-cache")
	httpReq.Header.Set("Pragma", "no-cache")

	if f.stealth {
		httpReq.Header.Set("Sec-Fetch-Dest", "document")
		httpReq.Header.Set("Sec-Fetch-Mode", "navigate")
		httpReq.Header.Set("Sec-Fetch-Site", "none")
		httpReq.Header.Set("Sec-Fetch-User", "?1")
		httpReq.Header.Set("Upgrade-Insecure-Requests", "1")
		httpReq.Header.Set("Sec-Ch-Ua", `"Chromium";v="131", "Not_A Brand";v="24"`)
		httpReq.Header.Set("Sec-Ch-Ua-Mobile", "?0")
		httpReq.Header.Set("Sec-Ch-Ua-Platform", `"Windows"`)
	}

	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
}

// buildResult runs the shared extraction pipeline over fetched HTML.
// SSR detection and content extraction both read the same document.
func buildResult(tier Tier, req Request, rawHTML string, statusCode int) (*Result, error) {
	extracted, err := content.Extract(rawHTML, req.URL, req.MainOnly)
	if err != nil {
		return nil, &TierError{Tier: tier, Reason: "extraction failed: " + err.Error()}
	}

	return &Result{
		URL:         req.URL,
		Tier:        tier,
		StatusCode:  statusCode,
		Title:       extracted.Title,
		Description: extracted.Description,
		Markdown:    extracted.Markdown,
		HTML:        extracted.HTML,
		RawHTML:     rawHTML,
		Text:        extracted.Text,
		Links:       extracted.Links,
		SSR:         content.DetectSSRData(rawHTML),
	}, nil
}

// ensure the interface stays satisfied.
var _ fetcher = (*httpFetcher)(nil)

// sleepCtx sleeps unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

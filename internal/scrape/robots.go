package scrape

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
)

// robotsFetchTimeout bounds the robots.txt request itself.
const robotsFetchTimeout = 10 * time.Second

// RobotsPolicy answers whether a URL may be fetched under the target
// site's robots.txt. Rule sets are cached per host; a missing or
// unreachable robots.txt fails open.
type RobotsPolicy struct {
	client    *http.Client
	userAgent string

	mu    sync.Mutex
	cache map[string]*robotstxt.RobotsData
}

// NewRobotsPolicy builds a policy for the given crawler user agent.
func NewRobotsPolicy(userAgent string) *RobotsPolicy {
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	return &RobotsPolicy{
		client:    &http.Client{Timeout: robotsFetchTimeout},
		userAgent: userAgent,
		cache:     map[string]*robotstxt.RobotsData{},
	}
}

// Allowed reports whether rawURL may be fetched.
func (p *RobotsPolicy) Allowed(ctx context.Context, rawURL string) (bool, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false, err
	}

	data, err := p.rules(ctx, u)
	if err != nil || data == nil {
		// Fail open: robots.txt absent or unreachable.
		return true, nil
	}
	return data.TestAgent(u.Path, p.userAgent), nil
}

func (p *RobotsPolicy) rules(ctx context.Context, u *url.URL) (*robotstxt.RobotsData, error) {
	host := u.Scheme + "://" + u.Host

	p.mu.Lock()
	if data, ok := p.cache[host]; ok {
		p.mu.Unlock()
		return data, nil
	}
	p.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, host+"/robots.txt", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.cache[host] = data
	p.mu.Unlock()
	return data, nil
}

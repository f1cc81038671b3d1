package scrape

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"auspex/internal/content"
)

type publicResolver struct{}

func (publicResolver) LookupIPAddr(context.Context, string) ([]net.IPAddr, error) {
	return []net.IPAddr{{IP: net.ParseIP("93.184.216.34")}}, nil
}

type fakeTier struct {
	tier   Tier
	res    *Result
	err    error
	calls  int32
	fetchF func(Request) (*Result, error)
}

func (t *fakeTier) Name() Tier { return t.tier }

func (t *fakeTier) Fetch(_ context.Context, req Request) (*Result, error) {
	atomic.AddInt32(&t.calls, 1)
	if t.fetchF != nil {
		return t.fetchF(req)
	}
	return t.res, t.err
}

func testCascade(tiers ...fetcher) *Cascade {
	return newCascadeWithTiers(Config{Resolver: publicResolver{}}, tiers...)
}

func richResult(tier Tier) *Result {
	return &Result{
		URL:        "https://example.com/",
		Tier:       tier,
		StatusCode: 200,
		Markdown:   strings.Repeat("markdown content ", 20),
	}
}

func TestCascadeFirstTierWins(t *testing.T) {
	t1 := &fakeTier{tier: TierHTTP, res: richResult(TierHTTP)}
	t2 := &fakeTier{tier: TierStealth, res: richResult(TierStealth)}
	c := testCascade(t1, t2)

	res, err := c.Scrape(context.Background(), Request{URL: "https://example.com/"})
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if res.Tier != TierHTTP {
		t.Fatalf("tier = %s", res.Tier)
	}
	if atomic.LoadInt32(&t2.calls) != 0 {
		t.Fatal("second tier must not run")
	}
}

func TestCascadeAdvancesOnThinContent(t *testing.T) {
	thin := &Result{URL: "https://example.com/", Tier: TierHTTP, StatusCode: 200, Markdown: "tiny"}
	t1 := &fakeTier{tier: TierHTTP, res: thin}
	t2 := &fakeTier{tier: TierStealth, res: richResult(TierStealth)}
	t3 := &fakeTier{tier: TierBrowser, res: richResult(TierBrowser)}
	c := testCascade(t1, t2, t3)

	res, err := c.Scrape(context.Background(), Request{URL: "https://example.com/"})
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if res.Tier != TierStealth {
		t.Fatalf("tier = %s", res.Tier)
	}
}

func TestCascadeThinContentWithSSRDataIsEnough(t *testing.T) {
	thin := &Result{
		URL: "https://example.com/", Tier: TierHTTP, StatusCode: 200,
		Markdown: "tiny",
		SSR:      &content.SSRData{Framework: "next", Data: []byte(`{"x":1}`)},
	}
	t1 := &fakeTier{tier: TierHTTP, res: thin}
	t2 := &fakeTier{tier: TierStealth, res: richResult(TierStealth)}
	c := testCascade(t1, t2)

	res, err := c.Scrape(context.Background(), Request{URL: "https://example.com/"})
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if res.Tier != TierHTTP {
		t.Fatalf("tier = %s, SSR data should satisfy tier 1", res.Tier)
	}
}

func TestCascadeConsolidatedFailure(t *testing.T) {
	t1 := &fakeTier{tier: TierHTTP, err: &TierError{Tier: TierHTTP, StatusCode: 403, Reason: "anti-bot response"}}
	t2 := &fakeTier{tier: TierStealth, err: &TierError{Tier: TierStealth, Reason: "timeout"}}
	t3 := &fakeTier{tier: TierBrowser, err: &TierError{Tier: TierBrowser, Reason: "navigation: crash"}}
	c := testCascade(t1, t2, t3)

	res, err := c.Scrape(context.Background(), Request{URL: "https://example.com/"})
	if err == nil {
		t.Fatal("expected consolidated error")
	}
	if res == nil || res.StatusCode != 0 {
		t.Fatalf("res = %+v, want statusCode 0", res)
	}
	var cascadeErr *CascadeError
	if !errors.As(err, &cascadeErr) || len(cascadeErr.Causes) != 3 {
		t.Fatalf("err = %v", err)
	}
	msg := err.Error()
	for _, want := range []string{"tier http", "tier stealth", "tier browser"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("error missing %q: %s", want, msg)
		}
	}
}

func TestCascadeForceTier(t *testing.T) {
	t1 := &fakeTier{tier: TierHTTP, res: richResult(TierHTTP)}
	t3 := &fakeTier{tier: TierBrowser, res: &Result{URL: "https://example.com/", Tier: TierBrowser, Markdown: "x"}}
	c := testCascade(t1, t3)

	// The forced tier's thin result comes back as-is, no advancement.
	res, err := c.Scrape(context.Background(), Request{URL: "https://example.com/", ForceTier: TierBrowser})
	if err != nil {
		t.Fatalf("Scrape: %v", err)
	}
	if res.Tier != TierBrowser || atomic.LoadInt32(&t1.calls) != 0 {
		t.Fatalf("tier=%s t1calls=%d", res.Tier, t1.calls)
	}

	if _, err := c.Scrape(context.Background(), Request{URL: "https://example.com/", ForceTier: "warp"}); err == nil {
		t.Fatal("unknown tier must fail")
	}
}

func TestCascadeRejectsPrivateURL(t *testing.T) {
	c := testCascade(&fakeTier{tier: TierHTTP, res: richResult(TierHTTP)})
	if _, err := c.Scrape(context.Background(), Request{URL: "http://127.0.0.1/"}); err == nil {
		t.Fatal("private URL must be rejected before any tier runs")
	}
}

func TestScrapeManyKeepsOrderAndSurvivesFailures(t *testing.T) {
	var inFlight, peak int32
	tier := &fakeTier{tier: TierHTTP, fetchF: func(req Request) (*Result, error) {
		cur := atomic.AddInt32(&inFlight, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if cur <= p || atomic.CompareAndSwapInt32(&peak, p, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		if strings.Contains(req.URL, "fail") {
			return nil, &TierError{Tier: TierHTTP, Reason: "boom"}
		}
		r := richResult(TierHTTP)
		r.URL = req.URL
		return r, nil
	}}
	c := testCascade(tier)

	reqs := make([]Request, 8)
	for i := range reqs {
		if i == 3 {
			reqs[i] = Request{URL: fmt.Sprintf("https://example.com/fail/%d", i)}
		} else {
			reqs[i] = Request{URL: fmt.Sprintf("https://example.com/page/%d", i)}
		}
	}

	items := c.ScrapeMany(context.Background(), reqs, 3)
	if len(items) != 8 {
		t.Fatalf("items = %d", len(items))
	}
	for i, item := range items {
		if item.Request.URL != reqs[i].URL {
			t.Fatalf("order broken at %d: %s", i, item.Request.URL)
		}
		if i == 3 {
			if item.Err == nil {
				t.Fatal("item 3 must fail")
			}
			continue
		}
		if item.Err != nil || item.Result == nil || item.Result.URL != reqs[i].URL {
			t.Fatalf("item %d = %+v err=%v", i, item.Result, item.Err)
		}
	}
	if p := atomic.LoadInt32(&peak); p > 3 {
		t.Fatalf("concurrency peak = %d, want <= 3", p)
	}
}

func longHTML() string {
	return fmt.Sprintf("<html><head><title>Doc</title></head><body><article><p>%s</p></article></body></html>",
		strings.Repeat("A sentence with enough words to matter. ", 40))
}

func TestHTTPFetcherExtractsContent(t *testing.T) {
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, longHTML())
	}))
	defer srv.Close()

	f := newHTTPFetcher("")
	res, err := f.Fetch(context.Background(), Request{URL: srv.URL, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.Tier != TierHTTP || res.StatusCode != 200 {
		t.Fatalf("res = %+v", res)
	}
	if res.Title != "Doc" || len(res.Markdown) < minMarkdownLen {
		t.Fatalf("title=%q markdown=%d", res.Title, len(res.Markdown))
	}

	if al := gotHeaders.Get("Accept-Language"); al != "pt-BR,pt;q=0.9,en-US;q=0.8,en;q=0.7" {
		t.Fatalf("Accept-Language = %q", al)
	}
	if gotHeaders.Get("Cache-Control") != "no-cache" || gotHeaders.Get("Pragma") != "no-cache" {
		t.Fatalf("cache headers = %v", gotHeaders)
	}
	if gotHeaders.Get("Sec-Fetch-Mode") != "" {
		t.Fatal("plain tier must not send stealth headers")
	}
}

func TestHTTPFetcherRejections(t *testing.T) {
	cases := []struct {
		name   string
		status int
		ctype  string
		body   string
		reason string
	}{
		{"anti-bot 403", 403, "text/html", "denied", "anti-bot"},
		{"anti-bot 429", 429, "text/html", "slow down", "anti-bot"},
		{"anti-bot 503", 503, "text/html", "unavailable", "anti-bot"},
		{"plain 404", 404, "text/html", "nope", "http error"},
		{"wrong type", 200, "application/pdf", "%PDF", "content type"},
		{"challenge page", 200, "text/html", "<html><body>Just a moment... checking your browser</body></html>", "insufficient"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tc.ctype)
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			}))
			defer srv.Close()

			f := newHTTPFetcher("")
			_, err := f.Fetch(context.Background(), Request{URL: srv.URL, Timeout: 5 * time.Second})
			if err == nil || !strings.Contains(err.Error(), tc.reason) {
				t.Fatalf("err = %v, want %q", err, tc.reason)
			}
		})
	}
}

func TestStealthFetcherRetriesAndHeaders(t *testing.T) {
	var calls int32
	var gotHeaders http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		gotHeaders = r.Header.Clone()
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, longHTML())
	}))
	defer srv.Close()

	f := newStealthFetcher("")
	res, err := f.Fetch(context.Background(), Request{URL: srv.URL, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.Tier != TierStealth {
		t.Fatalf("tier = %s", res.Tier)
	}
	if atomic.LoadInt32(&calls) != 3 {
		t.Fatalf("calls = %d, want 3 (two retries)", calls)
	}
	if gotHeaders.Get("Sec-Fetch-Mode") != "navigate" || gotHeaders.Get("Upgrade-Insecure-Requests") != "1" {
		t.Fatalf("stealth headers missing: %v", gotHeaders)
	}
}

func TestHTTPFetcherSSRSatisfiesThinPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><body><div id="app"></div><script id="__NEXT_DATA__" type="application/json">{"props":{"pageProps":{"title":"hydrated"}}}</script></body></html>`)
	}))
	defer srv.Close()

	f := newHTTPFetcher("")
	res, err := f.Fetch(context.Background(), Request{URL: srv.URL, Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if res.SSR == nil || res.SSR.Framework != "next" {
		t.Fatalf("ssr = %+v", res.SSR)
	}
}

func TestRobotsPolicy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			fmt.Fprint(w, "User-agent: *\nDisallow: /private/\n")
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	p := NewRobotsPolicy("auspex-test")

	if ok, err := p.Allowed(context.Background(), srv.URL+"/public/page"); err != nil || !ok {
		t.Fatalf("public: ok=%v err=%v", ok, err)
	}
	if ok, _ := p.Allowed(context.Background(), srv.URL+"/private/secret"); ok {
		t.Fatal("private path must be disallowed")
	}

	// Unreachable robots.txt fails open.
	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()
	if ok, _ := p.Allowed(context.Background(), dead.URL+"/anything"); !ok {
		t.Fatal("unreachable robots.txt must fail open")
	}
}

package content

import (
	"fmt"
	"strings"
	"testing"
)

func TestExtractArticle(t *testing.T) {
	para := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 12)
	html := fmt.Sprintf(`<html><head>
		<title>Fox News Daily</title>
		<meta name="description" content="Daily fox reporting">
	</head><body>
		<nav><a href="/home">Home</a></nav>
		<article><h1>Fox jumps</h1><p>%s</p></article>
		<footer><a href="mailto:x@y.z">mail</a></footer>
	</body></html>`, para)

	got, err := Extract(html, "https://example.com/news", true)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.Title != "Fox News Daily" {
		t.Fatalf("title = %q", got.Title)
	}
	if got.Description != "Daily fox reporting" {
		t.Fatalf("description = %q", got.Description)
	}
	if !strings.Contains(got.Text, "quick brown fox") {
		t.Fatalf("text missing article body: %.120s", got.Text)
	}
	if got.Markdown == "" {
		t.Fatal("expected markdown output")
	}
}

func TestExtractLinksResolvedAndDeduplicated(t *testing.T) {
	html := `<html><body>
		<a href="/a">A</a>
		<a href="/a">A again</a>
		<a href="https://other.com/b">B</a>
		<a href="#frag">skip</a>
		<a href="javascript:void(0)">skip</a>
		<a href="mailto:a@b.c">skip</a>
		<a href="tel:+123">skip</a>
	</body></html>`

	got, err := Extract(html, "https://example.com/base/", false)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := []string{"https://example.com/a", "https://other.com/b"}
	if len(got.Links) != len(want) {
		t.Fatalf("links = %v, want %v", got.Links, want)
	}
	for i := range want {
		if got.Links[i] != want[i] {
			t.Fatalf("links[%d] = %q, want %q", i, got.Links[i], want[i])
		}
	}
}

func TestExtractMetadataFallbacks(t *testing.T) {
	html := `<html><head>
		<meta property="og:title" content="OG Title">
		<meta property="og:description" content="OG Desc">
	</head><body><h1>H1 Title</h1></body></html>`

	got, err := Extract(html, "https://example.com/", false)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if got.Title != "OG Title" {
		t.Fatalf("title = %q, want og:title fallback", got.Title)
	}
	if got.Description != "OG Desc" {
		t.Fatalf("description = %q, want og:description fallback", got.Description)
	}
}

func TestHasEnoughContent(t *testing.T) {
	short := "<html><body><p>tiny</p></body></html>"
	if HasEnoughContent(short) {
		t.Fatal("short body should not count as enough content")
	}

	challenge := fmt.Sprintf("<html><body><p>Just a moment... checking your browser %s</p></body></html>",
		strings.Repeat("please wait ", 30))
	if HasEnoughContent(challenge) {
		t.Fatal("challenge page should not count as enough content")
	}

	real := fmt.Sprintf("<html><body><p>%s</p><script>ignored()</script></body></html>",
		strings.Repeat("real words here ", 40))
	if !HasEnoughContent(real) {
		t.Fatal("real content should pass")
	}

	// Long pages pass even when a suspicious word appears.
	long := fmt.Sprintf("<html><body><p>%s captcha mention in an article</p></body></html>",
		strings.Repeat("lots of genuine text ", 150))
	if !HasEnoughContent(long) {
		t.Fatal("long page should pass despite phrase match")
	}
}

func TestDetectSSRDataNext(t *testing.T) {
	html := `<html><body>
		<script id="__NEXT_DATA__" type="application/json">{"props":{"pageProps":{"id":7}}}</script>
	</body></html>`
	got := DetectSSRData(html)
	if got == nil || got.Framework != "next" {
		t.Fatalf("got %+v, want next framework", got)
	}
	if !strings.Contains(string(got.Data), `"id":7`) {
		t.Fatalf("data = %s", got.Data)
	}
}

func TestDetectSSRDataNuxtAndGeneric(t *testing.T) {
	nuxt := `<html><body><script>window.__NUXT__ = {"state":{"n":1}};</script></body></html>`
	got := DetectSSRData(nuxt)
	if got == nil || got.Framework != "nuxt" {
		t.Fatalf("got %+v, want nuxt", got)
	}

	generic := `<html><body><script>window.__REDUX_STATE__ = {"cart":[]}</script></body></html>`
	got = DetectSSRData(generic)
	if got == nil || got.Framework != "generic" {
		t.Fatalf("got %+v, want generic", got)
	}
}

func TestDetectSSRDataMalformedYieldsNil(t *testing.T) {
	html := `<html><body><script id="__NEXT_DATA__">{not json</script></body></html>`
	if got := DetectSSRData(html); got != nil {
		t.Fatalf("expected nil for malformed JSON, got %+v", got)
	}
}

// Package content turns raw HTML into clean article content, metadata,
// links, and markdown, and detects framework-embedded SSR state. It is
// shared by every scraper tier.
package content

import (
	"net/url"
	"regexp"
	"strings"

	htmlmd "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// Extracted is the output of Extract.
type Extracted struct {
	HTML        string
	Text        string
	Markdown    string
	Title       string
	Description string
	Links       []string
}

// readabilityCharThreshold is passed to the readability parser; results
// under minReadableText characters are rejected and the heuristic DOM
// pass takes over.
const (
	readabilityCharThreshold = 50
	minReadableText          = 100
	minCandidateText         = 150
)

// noiseSelectors are removed wholesale before the heuristic pass.
var noiseSelectors = []string{
	"script", "style", "noscript", "iframe", "svg",
	"nav", "header", "footer", "aside",
	"[class*='sidebar']", "[id*='sidebar']",
	"[class*='advert']", "[id*='advert']", "[class*='banner']",
	"[class*='cookie']", "[id*='cookie']",
	"[class*='modal']", "[id*='modal']", "[class*='popup']",
	"[class*='social-share']", "[class*='share-button']",
	"[class*='comment']", "[id*='comments']",
	"[class*='newsletter']", "[id*='newsletter']",
}

// mainCandidates are probed in order; the first whose text exceeds
// minCandidateText chars wins.
var mainCandidates = []string{
	"main", "article", "[role=main]",
	"#main-content", "#content", "#main",
	".main-content", ".content", ".post-content", ".article-content",
	".entry-content", ".page-content", ".blog-post", ".blog-content",
	".post-body", ".article-body",
}

// Extract pulls the main article (when mainOnly is set) or the whole
// body from html, along with title, description, and deduplicated
// absolute links. A readability pass runs first; when it yields too
// little text the heuristic DOM pass takes over.
func Extract(html, baseURL string, mainOnly bool) (*Extracted, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	base, _ := url.Parse(baseURL)

	out := &Extracted{
		Title:       extractTitle(doc),
		Description: extractDescription(doc),
		Links:       extractLinks(doc, base),
	}

	contentHTML, contentText := "", ""
	if mainOnly {
		contentHTML, contentText = readableContent(html, baseURL)
		if contentHTML == "" {
			contentHTML, contentText = heuristicContent(doc)
		}
	}
	if contentHTML == "" {
		// Whole-body fallback with scripts and styles removed.
		body := doc.Find("body")
		body.Find("script, style, noscript").Remove()
		contentHTML, _ = body.Html()
		contentText = collapseWhitespace(body.Text())
	}

	out.HTML = contentHTML
	out.Text = contentText

	host := ""
	if base != nil {
		host = base.Hostname()
	}
	converter := htmlmd.NewConverter(host, true, nil)
	if md, err := converter.ConvertString(contentHTML); err == nil {
		out.Markdown = md
	} else {
		out.Markdown = contentText
	}

	return out, nil
}

// readableContent runs the readability parser and returns ("", "") when
// the result is below the acceptance threshold.
func readableContent(html, baseURL string) (string, string) {
	u, err := url.Parse(baseURL)
	if err != nil {
		u = &url.URL{}
	}
	parser := readability.NewParser()
	parser.CharThresholds = readabilityCharThreshold
	article, err := parser.Parse(strings.NewReader(html), u)
	if err != nil {
		return "", ""
	}
	text := collapseWhitespace(article.TextContent)
	if len(text) < minReadableText {
		return "", ""
	}
	return article.Content, text
}

// heuristicContent strips the fixed noise set and probes the
// main-content candidates in order.
func heuristicContent(doc *goquery.Document) (string, string) {
	for _, sel := range noiseSelectors {
		doc.Find(sel).Remove()
	}

	for _, sel := range mainCandidates {
		node := doc.Find(sel).First()
		if node.Length() == 0 {
			continue
		}
		text := collapseWhitespace(node.Text())
		if len(text) <= minCandidateText {
			continue
		}
		node.Find("[style]").RemoveAttr("style")
		node.Find("[onclick]").RemoveAttr("onclick")
		node.Find("[class]").RemoveAttr("class")
		html, err := node.Html()
		if err != nil {
			continue
		}
		return html, text
	}
	return "", ""
}

func extractTitle(doc *goquery.Document) string {
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		return t
	}
	if t := strings.TrimSpace(doc.Find(`meta[property="og:title"]`).AttrOr("content", "")); t != "" {
		return t
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}

func extractDescription(doc *goquery.Document) string {
	if d := strings.TrimSpace(doc.Find(`meta[name="description"]`).AttrOr("content", "")); d != "" {
		return d
	}
	if d := strings.TrimSpace(doc.Find(`meta[property="og:description"]`).AttrOr("content", "")); d != "" {
		return d
	}
	return strings.TrimSpace(doc.Find(`meta[name="twitter:description"]`).AttrOr("content", ""))
}

// extractLinks resolves anchors against base and deduplicates them,
// skipping fragments and non-navigational schemes.
func extractLinks(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]struct{})
	links := make([]string, 0)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		lower := strings.ToLower(href)
		if strings.HasPrefix(lower, "javascript:") ||
			strings.HasPrefix(lower, "mailto:") ||
			strings.HasPrefix(lower, "tel:") {
			return
		}
		linkURL, err := url.Parse(href)
		if err != nil {
			return
		}
		if base != nil && !linkURL.IsAbs() {
			linkURL = base.ResolveReference(linkURL)
		}
		if linkURL.Scheme != "http" && linkURL.Scheme != "https" {
			return
		}
		linkURL.Fragment = ""
		final := linkURL.String()
		if _, ok := seen[final]; ok {
			return
		}
		seen[final] = struct{}{}
		links = append(links, final)
	})
	return links
}

var whitespaceRe = regexp.MustCompile(`\s+`)

func collapseWhitespace(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

// antiBotPhrases indicate a challenge or block page rather than real
// content.
var antiBotPhrases = []string{
	"just a moment",
	"checking your browser",
	"ray id",
	"ddos-guard",
	"incapsula",
	"imperva",
	"datadome",
	"captcha",
	"verify you are human",
	"are you a robot",
	"enable javascript",
	"access denied",
	"bot detected",
}

// HasEnoughContent reports whether html carries real page content. Very
// short bodies fail outright; short bodies matching an anti-bot phrase
// fail too. The check strips markup destructively, so callers hand it
// the raw HTML rather than a shared parsed document.
func HasEnoughContent(html string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	doc.Find("script, style, noscript, iframe, svg, img").Remove()
	text := collapseWhitespace(doc.Find("body").Text())

	if len(text) < 200 {
		return false
	}
	if len(text) < 2000 {
		lower := strings.ToLower(text)
		for _, phrase := range antiBotPhrases {
			if strings.Contains(lower, phrase) {
				return false
			}
		}
	}
	return true
}

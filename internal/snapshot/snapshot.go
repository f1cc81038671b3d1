// Package snapshot renders a live page or raw HTML into a bounded,
// token-economical view an LLM can act on: trimmed body text, indexed
// links, form inventory, and optionally the accessibility tree.
package snapshot

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Bounds applied to every snapshot regardless of mode.
const (
	MaxTitleLen  = 200
	MaxTextLen   = 3500
	MaxLinks     = 25
	MaxForms     = 5
	MaxInputs    = 10
	MaxLinkText  = 80
	MaxAriaLen   = 3000
	maxURLRender = 150
)

// Link is one navigable anchor. Index is dense 0..n-1 after noise
// filtering.
type Link struct {
	Text  string
	Href  string
	Index int
}

// FormInput describes one input/textarea/select inside a form.
type FormInput struct {
	Name        string
	Type        string
	Placeholder string
	Selector    string
}

// Form groups the inputs of one <form>.
type Form struct {
	Inputs []FormInput
}

// Snapshot is the bounded page view shared by static and live modes.
type Snapshot struct {
	URL        string
	Title      string
	Text       string
	Links      []Link
	Forms      []Form
	AriaYAML   string
	Screenshot []byte
}

// socialHosts are dropped from link lists; they are rarely useful to a
// task and burn tokens.
var socialHosts = map[string]struct{}{
	"twitter.com":   {},
	"x.com":         {},
	"facebook.com":  {},
	"instagram.com": {},
	"linkedin.com":  {},
	"youtube.com":   {},
	"tiktok.com":    {},
	"t.me":          {},
	"wa.me":         {},
	"discord.gg":    {},
	"github.com":    {},
}

var assetExtRe = regexp.MustCompile(`(?i)\.(png|jpe?g|gif|svg|ico|webp|css|js|woff2?|ttf|eot)(\?.*)?$`)

// isNoiseLink reports whether an already-resolved absolute href (plus
// its visible text) should be dropped from the snapshot.
func isNoiseLink(absHref, text string) bool {
	if strings.TrimSpace(text) == "" {
		return true
	}
	trimmed := strings.TrimSpace(absHref)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return true
	}
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "javascript:") ||
		strings.HasPrefix(lower, "mailto:") ||
		strings.HasPrefix(lower, "tel:") {
		return true
	}
	if assetExtRe.MatchString(trimmed) {
		return true
	}
	if u, err := url.Parse(trimmed); err == nil {
		host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
		if _, ok := socialHosts[host]; ok {
			return true
		}
	}
	return false
}

var whitespaceRe = regexp.MustCompile(`\s+`)

func collapse(s string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(s, " "))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

// FromHTML builds a snapshot from raw HTML without a browser (static
// mode). Relative links are resolved against baseURL.
func FromHTML(html, baseURL string) (*Snapshot, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	base, _ := url.Parse(baseURL)

	doc.Find("script, style, noscript").Remove()

	snap := &Snapshot{
		URL:   baseURL,
		Title: truncate(collapse(doc.Find("title").First().Text()), MaxTitleLen),
		Text:  truncate(collapse(doc.Find("body").Text()), MaxTextLen),
	}
	if snap.Title == "" {
		snap.Title = baseURL
	}

	doc.Find("a[href]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if len(snap.Links) >= MaxLinks {
			return false
		}
		href := strings.TrimSpace(sel.AttrOr("href", ""))
		if href == "" {
			return true
		}
		abs := href
		if base != nil {
			if rel, err := url.Parse(href); err == nil {
				abs = base.ResolveReference(rel).String()
			}
		}
		text := collapse(sel.Text())
		if isNoiseLink(abs, text) {
			return true
		}
		snap.Links = append(snap.Links, Link{
			Text:  truncate(text, MaxLinkText),
			Href:  abs,
			Index: len(snap.Links),
		})
		return true
	})

	doc.Find("form").EachWithBreak(func(_ int, formSel *goquery.Selection) bool {
		if len(snap.Forms) >= MaxForms {
			return false
		}
		form := Form{}
		formSel.Find("input, textarea, select").EachWithBreak(func(_ int, in *goquery.Selection) bool {
			if len(form.Inputs) >= MaxInputs {
				return false
			}
			form.Inputs = append(form.Inputs, describeInput(in))
			return true
		})
		snap.Forms = append(snap.Forms, form)
		return true
	})

	return snap, nil
}

func describeInput(in *goquery.Selection) FormInput {
	tag := goquery.NodeName(in)
	name := in.AttrOr("name", "")
	id := in.AttrOr("id", "")
	typ := in.AttrOr("type", "")
	if typ == "" {
		typ = tag
	}

	fi := FormInput{
		Name:        name,
		Type:        typ,
		Placeholder: in.AttrOr("placeholder", ""),
	}
	if fi.Name == "" {
		fi.Name = id
	}

	switch {
	case id != "":
		fi.Selector = "#" + id
	case name != "":
		fi.Selector = fmt.Sprintf(`%s[name="%s"]`, tag, name)
	default:
		fi.Selector = tag
	}
	return fi
}

// renderURL shortens very long URLs to origin+path, keeping a marker
// when a query string existed.
func renderURL(raw string) string {
	if len(raw) <= maxURLRender {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return truncate(raw, maxURLRender)
	}
	short := u.Scheme + "://" + u.Host + u.Path
	if u.RawQuery != "" {
		short += "?..."
	}
	return short
}

// FormatForLLM renders the snapshot as the prompt section the decision
// model sees.
func FormatForLLM(s *Snapshot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "## Current Page\nURL: %s\nTitle: %s\n", renderURL(s.URL), s.Title)

	b.WriteString("\n### Page Text\n")
	if s.Text == "" {
		b.WriteString("(empty)\n")
	} else {
		b.WriteString(s.Text)
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\n### Links (%d)\n", len(s.Links))
	for _, l := range s.Links {
		fmt.Fprintf(&b, "[%d] %s -> %s\n", l.Index, l.Text, renderURL(l.Href))
	}

	fmt.Fprintf(&b, "\n### Forms (%d)\n", len(s.Forms))
	for i, f := range s.Forms {
		fmt.Fprintf(&b, "Form %d:\n", i)
		for _, in := range f.Inputs {
			fmt.Fprintf(&b, "  - %s (%s) selector=%s", in.Name, in.Type, in.Selector)
			if in.Placeholder != "" {
				fmt.Fprintf(&b, " placeholder=%q", in.Placeholder)
			}
			b.WriteString("\n")
		}
	}

	if s.AriaYAML != "" {
		b.WriteString("\n### Accessibility Tree\n")
		b.WriteString(s.AriaYAML)
		b.WriteString("\n")
	}

	return b.String()
}

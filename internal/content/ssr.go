package content

import (
	"encoding/json"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// SSRData is framework-embedded JSON state found in raw HTML.
type SSRData struct {
	Framework string
	Data      json.RawMessage
}

type ssrParser struct {
	framework string
	parse     func(doc *goquery.Document, html string) json.RawMessage
}

// ssrParsers are attempted in order; the first one yielding valid JSON
// wins. Malformed payloads are skipped, never surfaced as errors.
var ssrParsers = []ssrParser{
	{"next", func(doc *goquery.Document, _ string) json.RawMessage {
		return validJSON(doc.Find("script#__NEXT_DATA__").First().Text())
	}},
	{"angular", func(doc *goquery.Document, _ string) json.RawMessage {
		return validJSON(doc.Find("script#ng-state").First().Text())
	}},
	{"sveltekit", func(doc *goquery.Document, _ string) json.RawMessage {
		return validJSON(doc.Find("script[data-sveltekit-fetched]").First().Text())
	}},
	{"nuxt", func(_ *goquery.Document, html string) json.RawMessage {
		return validJSON(matchScriptAssignment(html, nuxtRe))
	}},
	{"nuxt3", func(_ *goquery.Document, html string) json.RawMessage {
		m := nuxt3Re.FindStringSubmatch(html)
		if m == nil {
			return nil
		}
		decoded, err := url.QueryUnescape(m[1])
		if err != nil {
			return nil
		}
		return validJSON(decoded)
	}},
	{"gatsby", func(_ *goquery.Document, html string) json.RawMessage {
		return validJSON(matchScriptAssignment(html, gatsbyRe))
	}},
	{"remix", func(_ *goquery.Document, html string) json.RawMessage {
		return validJSON(matchScriptAssignment(html, remixRe))
	}},
	{"tanstack", func(_ *goquery.Document, html string) json.RawMessage {
		return validJSON(matchScriptAssignment(html, tanstackRe))
	}},
	{"vue", func(_ *goquery.Document, html string) json.RawMessage {
		return validJSON(matchScriptAssignment(html, vueRe))
	}},
	{"sveltekit-legacy", func(_ *goquery.Document, html string) json.RawMessage {
		return validJSON(matchScriptAssignment(html, svelteLegacyRe))
	}},
	{"generic", func(_ *goquery.Document, html string) json.RawMessage {
		return validJSON(matchScriptAssignment(html, genericRe))
	}},
}

var (
	nuxtRe         = regexp.MustCompile(`(?s)window\.__NUXT__\s*=\s*(.+?)\s*</script>`)
	nuxt3Re        = regexp.MustCompile(`window\.__nuxt_state__\s*=\s*'([^']*)'`)
	gatsbyRe       = regexp.MustCompile(`(?s)window\.___GATSBY_INITIAL_STATE__\s*=\s*(.+?)\s*</script>`)
	remixRe        = regexp.MustCompile(`(?s)window\.__remixContext\s*=\s*(.+?)\s*</script>`)
	tanstackRe     = regexp.MustCompile(`(?s)window\.__TSR__\s*=\s*(.+?)\s*</script>`)
	vueRe          = regexp.MustCompile(`(?s)window\.__INITIAL_STATE__\s*=\s*(.+?)\s*</script>`)
	svelteLegacyRe = regexp.MustCompile(`(?s)__sveltekit_\w+\s*=\s*(.+?)\s*</script>`)
	genericRe      = regexp.MustCompile(`(?s)window\.(?:__APP_STATE__|__REDUX_STATE__|__STORE_STATE__|__DATA__|__STATE__|__PROPS__)\s*=\s*(.+?)\s*</script>`)
)

func matchScriptAssignment(html string, re *regexp.Regexp) string {
	m := re.FindStringSubmatch(html)
	if m == nil {
		return ""
	}
	return strings.TrimSuffix(strings.TrimSpace(m[1]), ";")
}

func validJSON(s string) json.RawMessage {
	s = strings.TrimSpace(s)
	if s == "" || !json.Valid([]byte(s)) {
		return nil
	}
	return json.RawMessage(s)
}

// DetectSSRData scans raw HTML for embedded server-side-rendered state.
// Returns nil when no framework signature yields valid JSON.
func DetectSSRData(html string) *SSRData {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}
	for _, p := range ssrParsers {
		if data := p.parse(doc, html); data != nil {
			return &SSRData{Framework: p.framework, Data: data}
		}
	}
	return nil
}

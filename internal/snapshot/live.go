package snapshot

import (
	"fmt"
	"time"

	"auspex/internal/browser"
)

// pageProbeJS gathers text, anchors, and forms in a single evaluate
// round trip. Bounds are re-applied Go-side after noise filtering.
const pageProbeJS = `() => {
	const text = document.body ? document.body.innerText : "";
	const links = Array.from(document.querySelectorAll("a[href]")).slice(0, 200).map(a => ({
		text: (a.innerText || "").trim(),
		href: a.href,
	}));
	const forms = Array.from(document.querySelectorAll("form")).slice(0, 5).map(f => ({
		inputs: Array.from(f.querySelectorAll("input, textarea, select")).slice(0, 10).map(el => ({
			name: el.name || "",
			id: el.id || "",
			type: el.type || "",
			tag: el.tagName.toLowerCase(),
			placeholder: el.placeholder || "",
		})),
	}));
	return { text, links, forms };
}`

const probeRetryWait = 5 * time.Second

// FromPage builds a snapshot from a live page. A navigation racing the
// probe destroys the execution context; in that case we wait for
// domcontentloaded and retry once. If the page still cannot be probed,
// a minimal snapshot is returned so the loop can continue.
func FromPage(page browser.Page, includeAria bool) *Snapshot {
	finalURL := page.URL()

	title, err := page.Title()
	if err != nil || title == "" {
		title = finalURL
	}

	snap := &Snapshot{
		URL:   finalURL,
		Title: truncate(collapse(title), MaxTitleLen),
	}

	probe, err := page.Evaluate(pageProbeJS)
	if err != nil {
		_ = page.WaitForLoadState(browser.LoadDOMContentLoaded, probeRetryWait)
		probe, err = page.Evaluate(pageProbeJS)
	}
	if err != nil {
		// Minimal snapshot: URL only, empty everything else.
		snap.Title = finalURL
		return snap
	}

	fillFromProbe(snap, probe)

	if includeAria {
		if yaml, err := page.AriaSnapshot(); err == nil {
			snap.AriaYAML = truncate(yaml, MaxAriaLen)
		}
	}

	return snap
}

// fillFromProbe maps the evaluate result onto the snapshot, applying
// the same noise filter and bounds as static mode.
func fillFromProbe(snap *Snapshot, probe any) {
	root, ok := probe.(map[string]any)
	if !ok {
		return
	}

	if text, ok := root["text"].(string); ok {
		snap.Text = truncate(collapse(text), MaxTextLen)
	}

	if rawLinks, ok := root["links"].([]any); ok {
		for _, rl := range rawLinks {
			if len(snap.Links) >= MaxLinks {
				break
			}
			link, ok := rl.(map[string]any)
			if !ok {
				continue
			}
			text, _ := link["text"].(string)
			href, _ := link["href"].(string)
			text = collapse(text)
			if isNoiseLink(href, text) {
				continue
			}
			snap.Links = append(snap.Links, Link{
				Text:  truncate(text, MaxLinkText),
				Href:  href,
				Index: len(snap.Links),
			})
		}
	}

	if rawForms, ok := root["forms"].([]any); ok {
		for _, rf := range rawForms {
			if len(snap.Forms) >= MaxForms {
				break
			}
			formMap, ok := rf.(map[string]any)
			if !ok {
				continue
			}
			form := Form{}
			if rawInputs, ok := formMap["inputs"].([]any); ok {
				for _, ri := range rawInputs {
					if len(form.Inputs) >= MaxInputs {
						break
					}
					in, ok := ri.(map[string]any)
					if !ok {
						continue
					}
					form.Inputs = append(form.Inputs, liveInput(in))
				}
			}
			snap.Forms = append(snap.Forms, form)
		}
	}
}

func liveInput(in map[string]any) FormInput {
	name, _ := in["name"].(string)
	id, _ := in["id"].(string)
	typ, _ := in["type"].(string)
	tag, _ := in["tag"].(string)
	placeholder, _ := in["placeholder"].(string)

	if typ == "" {
		typ = tag
	}
	fi := FormInput{Name: name, Type: typ, Placeholder: placeholder}
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

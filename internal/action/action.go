// Package action defines the bounded vocabulary of browser actions an
// LLM may request, and the strict parser that turns raw model output
// into a validated Action. Everything the interactive loop executes
// goes through Parse first.
package action

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Type discriminates the action variants. The set is closed.
type Type string

const (
	TypeClick    Type = "click"
	TypeType     Type = "type"
	TypeSelect   Type = "select"
	TypePressKey Type = "pressKey"
	TypeHover    Type = "hover"
	TypeGoto     Type = "goto"
	TypeWait     Type = "wait"
	TypeScroll   Type = "scroll"
	TypeDone     Type = "done"
)

// Field bounds enforced by Parse.
const (
	MaxSelectorLen      = 500
	MaxTextLen          = 1000
	MaxValueLen         = 500
	MaxResultLen        = 50000
	MaxWaitMs           = 5000
	MaxScrollAmount     = 5000
	DefaultScrollAmount = 500
)

// FailedPrefix marks a done result the model uses to signal it gave up.
const FailedPrefix = "FAILED:"

// Action is the validated, tagged representation of one model decision.
// Exactly the fields belonging to Type are set.
type Action struct {
	Type      Type   `json:"type"`
	Selector  string `json:"selector,omitempty"`
	Text      string `json:"text,omitempty"`
	Value     string `json:"value,omitempty"`
	Key       string `json:"key,omitempty"`
	URL       string `json:"url,omitempty"`
	Ms        int    `json:"ms,omitempty"`
	Direction string `json:"direction,omitempty"`
	Amount    int    `json:"amount,omitempty"`
	Result    string `json:"result,omitempty"`
}

// ValidationError describes why raw model output was rejected.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid action: " + e.Reason
}

func invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// allowedKeys is the closed set of keyboard keys pressKey may dispatch.
var allowedKeys = map[string]struct{}{}

// AllowedKeys lists every key accepted by pressKey, in a stable order
// suitable for embedding in the system prompt.
var AllowedKeys = []string{
	"Enter", "Tab", "Escape", "Backspace", "Delete",
	"ArrowUp", "ArrowDown", "ArrowLeft", "ArrowRight",
	"Home", "End", "PageUp", "PageDown", "Space",
	"F1", "F2", "F3", "F4", "F5", "F6", "F7", "F8", "F9", "F10", "F11", "F12",
}

func init() {
	for _, k := range AllowedKeys {
		allowedKeys[k] = struct{}{}
	}
}

// fieldsByType lists, per variant, which JSON keys are permitted besides
// "type". Anything else in the payload is rejected.
var fieldsByType = map[Type][]string{
	TypeClick:    {"selector"},
	TypeType:     {"selector", "text"},
	TypeSelect:   {"selector", "value"},
	TypePressKey: {"key"},
	TypeHover:    {"selector"},
	TypeGoto:     {"url"},
	TypeWait:     {"ms"},
	TypeScroll:   {"direction", "amount"},
	TypeDone:     {"result"},
}

var roleSelectorRe = regexp.MustCompile(`^role=(\w+)(?:\[name="(.*)"\])?$`)

// Parse validates raw JSON from the model against the action schema and
// returns the corresponding Action. goto URLs are NOT validated here;
// the executor submits them to the URL policy at execution time because
// allow/block lists are runtime parameters.
func Parse(raw []byte) (Action, error) {
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Action{}, invalid("response is not a JSON object: %v", err)
	}

	typeRaw, ok := payload["type"]
	if !ok {
		return Action{}, invalid(`missing "type" field`)
	}
	var typeStr string
	if err := json.Unmarshal(typeRaw, &typeStr); err != nil {
		return Action{}, invalid(`"type" must be a string`)
	}

	t := Type(typeStr)
	allowed, ok := fieldsByType[t]
	if !ok {
		return Action{}, invalid("unknown action type %q", typeStr)
	}

	for key := range payload {
		if key == "type" {
			continue
		}
		permitted := false
		for _, f := range allowed {
			if key == f {
				permitted = true
				break
			}
		}
		if !permitted {
			return Action{}, invalid("unexpected field %q for action %q", key, typeStr)
		}
	}

	var a Action
	if err := json.Unmarshal(raw, &a); err != nil {
		return Action{}, invalid("malformed action payload: %v", err)
	}
	a.Type = t

	switch t {
	case TypeClick, TypeHover:
		if err := validateSelector(a.Selector); err != nil {
			return Action{}, err
		}
	case TypeType:
		if err := validateSelector(a.Selector); err != nil {
			return Action{}, err
		}
		if len(a.Text) > MaxTextLen {
			return Action{}, invalid("text exceeds %d characters", MaxTextLen)
		}
	case TypeSelect:
		if err := validateSelector(a.Selector); err != nil {
			return Action{}, err
		}
		if len(a.Value) > MaxValueLen {
			return Action{}, invalid("value exceeds %d characters", MaxValueLen)
		}
	case TypePressKey:
		if _, ok := allowedKeys[a.Key]; !ok {
			return Action{}, invalid("key %q is not in the allowed key set", a.Key)
		}
	case TypeGoto:
		if strings.TrimSpace(a.URL) == "" {
			return Action{}, invalid("goto requires a url")
		}
	case TypeWait:
		if a.Ms < 1 || a.Ms > MaxWaitMs {
			return Action{}, invalid("wait ms must be between 1 and %d", MaxWaitMs)
		}
	case TypeScroll:
		if a.Direction != "up" && a.Direction != "down" {
			return Action{}, invalid(`scroll direction must be "up" or "down"`)
		}
		if a.Amount != 0 && (a.Amount < 1 || a.Amount > MaxScrollAmount) {
			return Action{}, invalid("scroll amount must be between 1 and %d", MaxScrollAmount)
		}
	case TypeDone:
		if len(a.Result) > MaxResultLen {
			return Action{}, invalid("result exceeds %d characters", MaxResultLen)
		}
	}

	return a, nil
}

// validateSelector enforces the selector rules: non-empty trimmed
// string up to 500 chars that is either a role selector or a CSS
// selector without script-injection vectors.
func validateSelector(sel string) error {
	trimmed := strings.TrimSpace(sel)
	if trimmed == "" {
		return invalid("selector must not be empty")
	}
	if len(trimmed) > MaxSelectorLen {
		return invalid("selector exceeds %d characters", MaxSelectorLen)
	}
	if roleSelectorRe.MatchString(trimmed) {
		return nil
	}
	lower := strings.ToLower(trimmed)
	if strings.Contains(lower, "javascript:") ||
		strings.Contains(lower, "<script") ||
		strings.Contains(lower, "data:") {
		return invalid("selector contains a disallowed pattern")
	}
	if onEventRe.MatchString(lower) {
		return invalid("selector contains a disallowed pattern")
	}
	return nil
}

var onEventRe = regexp.MustCompile(`\bon\w+\s*=`)

// Target is a selector parsed into its locator form. Role selectors
// carry Role (and optionally Name); everything else is a CSS selector.
type Target struct {
	CSS  string
	Role string
	Name string
}

// IsRole reports whether the target uses a role locator.
func (t Target) IsRole() bool { return t.Role != "" }

// ParseTarget splits a validated selector into a Target. The name part
// of a role selector may contain escaped quotes (\"), which are
// unescaped here; other escape sequences pass through untouched.
func ParseTarget(sel string) Target {
	sel = strings.TrimSpace(sel)
	if m := roleSelectorRe.FindStringSubmatch(sel); m != nil {
		return Target{
			Role: m[1],
			Name: strings.ReplaceAll(m[2], `\"`, `"`),
		}
	}
	return Target{CSS: sel}
}

// Format renders the action as canonical JSON: stable key order, double
// quotes, no internal whitespace. Parse(Format(a)) reproduces a, and
// the output doubles as the loop-detection action key.
func Format(a Action) string {
	parts := []string{fmt.Sprintf(`"type":%s`, quote(string(a.Type)))}
	add := func(key, val string) {
		parts = append(parts, fmt.Sprintf("%s:%s", quote(key), val))
	}
	switch a.Type {
	case TypeClick, TypeHover:
		add("selector", quote(a.Selector))
	case TypeType:
		add("selector", quote(a.Selector))
		add("text", quote(a.Text))
	case TypeSelect:
		add("selector", quote(a.Selector))
		add("value", quote(a.Value))
	case TypePressKey:
		add("key", quote(a.Key))
	case TypeGoto:
		add("url", quote(a.URL))
	case TypeWait:
		add("ms", fmt.Sprintf("%d", a.Ms))
	case TypeScroll:
		add("direction", quote(a.Direction))
		if a.Amount != 0 {
			add("amount", fmt.Sprintf("%d", a.Amount))
		}
	case TypeDone:
		add("result", quote(a.Result))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// Describe renders a short human-readable line for history entries and
// the final report.
func Describe(a Action) string {
	switch a.Type {
	case TypeClick:
		return fmt.Sprintf("click %s", a.Selector)
	case TypeType:
		return fmt.Sprintf("type %q into %s", truncate(a.Text, 60), a.Selector)
	case TypeSelect:
		return fmt.Sprintf("select %q in %s", a.Value, a.Selector)
	case TypePressKey:
		return fmt.Sprintf("press %s", a.Key)
	case TypeHover:
		return fmt.Sprintf("hover %s", a.Selector)
	case TypeGoto:
		return fmt.Sprintf("goto %s", a.URL)
	case TypeWait:
		return fmt.Sprintf("wait %dms", a.Ms)
	case TypeScroll:
		amount := a.Amount
		if amount == 0 {
			amount = DefaultScrollAmount
		}
		return fmt.Sprintf("scroll %s %dpx", a.Direction, amount)
	case TypeDone:
		return fmt.Sprintf("done: %s", truncate(a.Result, 120))
	}
	return string(a.Type)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// Key canonicalizes the action for loop detection: Format already
// normalizes quote style and whitespace, so the two are the same string.
func Key(a Action) string {
	return Format(a)
}

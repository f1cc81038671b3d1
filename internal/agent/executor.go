package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"auspex/internal/action"
	"auspex/internal/browser"
	"auspex/internal/urlcheck"
)

// Per-action timeouts. Clicks get longer because they often trigger
// navigation; a post-action settle wait is best-effort.
const (
	clickTimeout  = 10 * time.Second
	inputTimeout  = 5 * time.Second
	gotoTimeout   = 30 * time.Second
	settleTimeout = 5 * time.Second
)

// execute translates one validated action into browser operations.
func (a *Agent) execute(ctx context.Context, page browser.Page, act action.Action) error {
	switch act.Type {
	case action.TypeClick:
		if err := page.Click(action.ParseTarget(act.Selector), clickTimeout); err != nil {
			return err
		}
		_ = page.WaitForLoadState(browser.LoadDOMContentLoaded, settleTimeout)
		return nil

	case action.TypeType:
		return page.Fill(action.ParseTarget(act.Selector), act.Text, inputTimeout)

	case action.TypeSelect:
		return page.SelectValue(action.ParseTarget(act.Selector), act.Value, inputTimeout)

	case action.TypePressKey:
		if err := page.Press(act.Key); err != nil {
			return err
		}
		if strings.EqualFold(act.Key, "Enter") {
			_ = page.WaitForLoadState(browser.LoadDOMContentLoaded, settleTimeout)
		}
		return nil

	case action.TypeHover:
		return page.Hover(action.ParseTarget(act.Selector), inputTimeout)

	case action.TypeGoto:
		// Runtime allow/block lists apply here, not at parse time.
		canonical, err := urlcheck.Validate(ctx, act.URL, a.urlOptions())
		if err != nil {
			return err
		}
		return page.Goto(canonical, gotoTimeout)

	case action.TypeWait:
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(act.Ms) * time.Millisecond):
		}
		return nil

	case action.TypeScroll:
		amount := act.Amount
		if amount == 0 {
			amount = action.DefaultScrollAmount
		}
		if act.Direction == "up" {
			amount = -amount
		}
		_, err := page.Evaluate(fmt.Sprintf("() => window.scrollBy(0, %d)", amount))
		return err

	case action.TypeDone:
		// Terminal; handled by the loop.
		return nil
	}
	return fmt.Errorf("unhandled action type %q", act.Type)
}

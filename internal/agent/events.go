package agent

import "auspex/internal/action"

// Observer receives run lifecycle events. Callbacks fire on the
// goroutine driving the loop, in iteration order; implementations must
// not block.
type Observer interface {
	OnTier(tier Tier)
	OnIteration(i int, url string)
	OnAction(i int, act action.Action)
	OnDone(res *Result)
	OnError(msg string)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) OnTier(Tier)                 {}
func (NopObserver) OnIteration(int, string)     {}
func (NopObserver) OnAction(int, action.Action) {}
func (NopObserver) OnDone(*Result)              {}
func (NopObserver) OnError(string)              {}

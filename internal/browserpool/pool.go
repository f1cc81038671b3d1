// Package browserpool provides a bounded set of reusable browser
// instances shared across concurrent agent runs. Idle browsers are
// reused most-recently-released first; when the pool is at capacity,
// acquirers wait in FIFO order with a per-wait deadline.
package browserpool

import (
	"context"
	"errors"
	"sync"
	"time"

	"auspex/internal/browser"
)

var (
	// ErrClosed is returned by Acquire after Close.
	ErrClosed = errors.New("browser pool is closed")
	// ErrAcquireTimeout is returned when no browser becomes available
	// within the acquire deadline.
	ErrAcquireTimeout = errors.New("browser pool acquire timeout")
)

// DefaultAcquireTimeout bounds how long Acquire waits at capacity.
const DefaultAcquireTimeout = 30 * time.Second

type waiter struct {
	ch    chan browser.Browser
	retry chan struct{}
}

// Pool owns all live browsers; callers borrow one at a time via
// Acquire/Release. All state transitions happen under a single mutex.
type Pool struct {
	launcher       browser.Launcher
	max            int
	acquireTimeout time.Duration

	mu        sync.Mutex
	live      map[browser.Browser]struct{}
	idle      []browser.Browser // LIFO
	waiters   []*waiter         // FIFO
	launching int
	closed    bool
}

// New creates a pool of at most max browsers backed by the launcher.
func New(launcher browser.Launcher, max int) *Pool {
	if max < 1 {
		max = 1
	}
	return &Pool{
		launcher:       launcher,
		max:            max,
		acquireTimeout: DefaultAcquireTimeout,
		live:           make(map[browser.Browser]struct{}),
	}
}

// SetAcquireTimeout overrides the default per-wait deadline.
func (p *Pool) SetAcquireTimeout(d time.Duration) {
	if d > 0 {
		p.acquireTimeout = d
	}
}

// Acquire returns a connected browser, launching one lazily while under
// capacity. The caller must Release it on every exit path.
func (p *Pool) Acquire(ctx context.Context) (browser.Browser, error) {
	timer := time.NewTimer(p.acquireTimeout)
	defer timer.Stop()

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrClosed
		}

		// Reuse the most recently released browser that is still connected.
		for len(p.idle) > 0 {
			b := p.idle[len(p.idle)-1]
			p.idle = p.idle[:len(p.idle)-1]
			if b.IsConnected() {
				p.mu.Unlock()
				return b, nil
			}
			delete(p.live, b)
		}

		if len(p.live)+p.launching < p.max {
			p.launching++
			p.mu.Unlock()
			return p.launch(ctx)
		}

		w := &waiter{
			ch:    make(chan browser.Browser, 1),
			retry: make(chan struct{}, 1),
		}
		p.waiters = append(p.waiters, w)
		p.mu.Unlock()

		select {
		case b := <-w.ch:
			if b == nil {
				return nil, ErrClosed
			}
			return b, nil
		case <-w.retry:
			// A failed launch freed a capacity slot; re-attempt under
			// the same deadline.
		case <-ctx.Done():
			p.abandonWaiter(w)
			return nil, ctx.Err()
		case <-timer.C:
			p.abandonWaiter(w)
			return nil, ErrAcquireTimeout
		}
	}
}

// abandonWaiter removes w from the queue; if a browser was handed over
// concurrently it is returned to the pool.
func (p *Pool) abandonWaiter(w *waiter) {
	p.mu.Lock()
	for i, cand := range p.waiters {
		if cand == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			break
		}
	}
	p.mu.Unlock()

	select {
	case b := <-w.ch:
		if b != nil {
			p.Release(b)
		}
	default:
	}
}

func (p *Pool) launch(ctx context.Context) (browser.Browser, error) {
	b, err := p.launcher.Launch(ctx)

	p.mu.Lock()
	p.launching--
	if err != nil {
		// The slot this launch held is free again; wake the head
		// waiter so it retries instead of sitting out its deadline.
		if len(p.waiters) > 0 {
			w := p.waiters[0]
			p.waiters = p.waiters[1:]
			w.retry <- struct{}{}
		}
		p.mu.Unlock()
		return nil, err
	}
	if p.closed {
		p.mu.Unlock()
		_ = b.Close()
		return nil, ErrClosed
	}
	p.live[b] = struct{}{}
	p.mu.Unlock()

	b.OnDisconnected(func() { p.remove(b) })
	return b, nil
}

// remove drops a disconnected browser from both the live set and the
// idle stack.
func (p *Pool) remove(b browser.Browser) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.live, b)
	for i, cand := range p.idle {
		if cand == b {
			p.idle = append(p.idle[:i], p.idle[i+1:]...)
			break
		}
	}
}

// Release returns a borrowed browser. A pending waiter receives it
// directly; otherwise it joins the idle stack.
func (p *Pool) Release(b browser.Browser) {
	if b == nil {
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		_ = b.Close()
		return
	}
	if !b.IsConnected() {
		delete(p.live, b)
		p.mu.Unlock()
		return
	}
	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.mu.Unlock()
		w.ch <- b
		return
	}
	p.idle = append(p.idle, b)
	p.mu.Unlock()
}

// Size reports the number of live browsers.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}

// Close rejects all waiters and closes every live browser. It is
// idempotent; individual close errors are ignored.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	waiters := p.waiters
	p.waiters = nil
	browsers := make([]browser.Browser, 0, len(p.live))
	for b := range p.live {
		browsers = append(browsers, b)
	}
	p.live = make(map[browser.Browser]struct{})
	p.idle = nil
	p.mu.Unlock()

	for _, w := range waiters {
		w.ch <- nil
	}

	var wg sync.WaitGroup
	for _, b := range browsers {
		wg.Add(1)
		go func(b browser.Browser) {
			defer wg.Done()
			_ = b.Close()
		}(b)
	}
	wg.Wait()
}

package browserpool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"auspex/internal/browser"
)

// fakeBrowser implements just enough of browser.Browser for pool tests.
type fakeBrowser struct {
	mu           sync.Mutex
	connected    bool
	closed       bool
	onDisconnect func()
}

func newFakeBrowser() *fakeBrowser { return &fakeBrowser{connected: true} }

func (f *fakeBrowser) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeBrowser) NewPage(context.Context, browser.PageOptions) (browser.Page, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeBrowser) OnDisconnected(fn func()) {
	f.mu.Lock()
	f.onDisconnect = fn
	f.mu.Unlock()
}

func (f *fakeBrowser) Close() error {
	f.mu.Lock()
	f.closed = true
	f.connected = false
	f.mu.Unlock()
	return nil
}

func (f *fakeBrowser) disconnect() {
	f.mu.Lock()
	f.connected = false
	fn := f.onDisconnect
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

type fakeLauncher struct {
	mu       sync.Mutex
	launched []*fakeBrowser
	err      error
}

func (l *fakeLauncher) Launch(context.Context) (browser.Browser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	b := newFakeBrowser()
	l.launched = append(l.launched, b)
	return b, nil
}

func (l *fakeLauncher) Close() error { return nil }

func (l *fakeLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.launched)
}

func TestPoolLaunchesLazilyAndReuses(t *testing.T) {
	launcher := &fakeLauncher{}
	pool := New(launcher, 2)
	defer pool.Close()

	ctx := context.Background()
	b1, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	pool.Release(b1)

	b2, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if b2 != b1 {
		t.Fatal("expected idle browser to be reused")
	}
	if launcher.count() != 1 {
		t.Fatalf("launched %d browsers, want 1", launcher.count())
	}
	pool.Release(b2)
}

func TestPoolCapacityAndWaiterHandoff(t *testing.T) {
	launcher := &fakeLauncher{}
	pool := New(launcher, 1)
	defer pool.Close()

	ctx := context.Background()
	b1, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	got := make(chan browser.Browser, 1)
	go func() {
		b, err := pool.Acquire(ctx)
		if err != nil {
			t.Errorf("waiter acquire: %v", err)
		}
		got <- b
	}()

	// The waiter must receive the released browser directly.
	time.Sleep(50 * time.Millisecond)
	pool.Release(b1)

	select {
	case b := <-got:
		if b != b1 {
			t.Fatal("waiter received a different browser")
		}
		pool.Release(b)
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never received browser")
	}
	if launcher.count() != 1 {
		t.Fatalf("launched %d browsers, want 1", launcher.count())
	}
}

func TestPoolAcquireTimeout(t *testing.T) {
	launcher := &fakeLauncher{}
	pool := New(launcher, 1)
	defer pool.Close()
	pool.SetAcquireTimeout(50 * time.Millisecond)

	ctx := context.Background()
	b1, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer pool.Release(b1)

	if _, err := pool.Acquire(ctx); !errors.Is(err, ErrAcquireTimeout) {
		t.Fatalf("expected ErrAcquireTimeout, got %v", err)
	}
}

// gatedLauncher fails its first launch after a gate opens; later
// launches succeed immediately.
type gatedLauncher struct {
	mu    sync.Mutex
	calls int
	gate  chan struct{}
}

func (l *gatedLauncher) Launch(context.Context) (browser.Browser, error) {
	l.mu.Lock()
	l.calls++
	n := l.calls
	l.mu.Unlock()
	if n == 1 {
		<-l.gate
		return nil, errors.New("launch failed")
	}
	return newFakeBrowser(), nil
}

func (l *gatedLauncher) Close() error { return nil }

func (l *gatedLauncher) count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func TestPoolWakesWaiterAfterFailedLaunch(t *testing.T) {
	launcher := &gatedLauncher{gate: make(chan struct{})}
	pool := New(launcher, 1)
	defer pool.Close()
	pool.SetAcquireTimeout(500 * time.Millisecond)

	ctx := context.Background()

	// First acquirer occupies the only slot inside a launch that will
	// fail once the gate opens.
	firstErr := make(chan error, 1)
	go func() {
		_, err := pool.Acquire(ctx)
		firstErr <- err
	}()

	// Second acquirer queues at apparent capacity, then the launch
	// fails. It must be woken to retry, not left to its deadline.
	time.Sleep(50 * time.Millisecond)
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(launcher.gate)
	}()

	b, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("waiter acquire after failed launch: %v", err)
	}
	if b == nil {
		t.Fatal("waiter received nil browser")
	}
	pool.Release(b)

	if err := <-firstErr; err == nil {
		t.Fatal("first acquire should surface the launch error")
	}
	if launcher.count() != 2 {
		t.Fatalf("launch attempts = %d, want 2", launcher.count())
	}
}

func TestPoolDropsDisconnectedBrowsers(t *testing.T) {
	launcher := &fakeLauncher{}
	pool := New(launcher, 1)
	defer pool.Close()

	ctx := context.Background()
	b1, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	pool.Release(b1)

	b1.(*fakeBrowser).disconnect()
	if pool.Size() != 0 {
		t.Fatalf("disconnected browser still tracked, size=%d", pool.Size())
	}

	b2, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire after disconnect: %v", err)
	}
	if b2 == b1 {
		t.Fatal("pool handed out a disconnected browser")
	}
	pool.Release(b2)
}

func TestPoolClose(t *testing.T) {
	launcher := &fakeLauncher{}
	pool := New(launcher, 2)

	ctx := context.Background()
	b1, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	pool.Release(b1)

	pool.Close()
	pool.Close() // idempotent

	if !b1.(*fakeBrowser).closed {
		t.Fatal("close did not close live browsers")
	}
	if _, err := pool.Acquire(ctx); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed after close, got %v", err)
	}
}

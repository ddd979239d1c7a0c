// Package gate turns a candidate signal into a confirmed one only after it
// survives a verification window without being cancelled.
package gate

import (
	"sync"
	"time"

	"sosguard/internal/platform/clock"
)

type Gate struct {
	clock  clock.Clock
	window time.Duration

	mu    sync.Mutex
	gen   uint64
	open  bool
	since time.Time
	timer clock.Timer
}

func New(clk clock.Clock, window time.Duration) *Gate {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Gate{clock: clk, window: window}
}

func (g *Gate) Window() time.Duration {
	return g.window
}

// Open starts a verification window and reports whether one was started.
// It is a no-op while a window is already open. onConfirm runs once, on the
// clock's timer goroutine, when the window elapses without Cancel or Reset.
// A non-positive window confirms synchronously, so callers must not hold
// locks that onConfirm needs.
func (g *Gate) Open(onConfirm func(at time.Time)) bool {
	g.mu.Lock()
	if g.open {
		g.mu.Unlock()
		return false
	}
	now := g.clock.Now()
	if g.window <= 0 {
		g.mu.Unlock()
		onConfirm(now)
		return true
	}
	g.gen++
	gen := g.gen
	g.open = true
	g.since = now
	g.timer = g.clock.AfterFunc(g.window, func() {
		g.mu.Lock()
		if !g.open || g.gen != gen {
			g.mu.Unlock()
			return
		}
		g.open = false
		g.timer = nil
		g.mu.Unlock()
		onConfirm(g.clock.Now())
	})
	g.mu.Unlock()
	return true
}

// Cancel discards an open window and reports whether one was open.
func (g *Gate) Cancel() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.open {
		return false
	}
	g.open = false
	g.gen++
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
	return true
}

// Pending reports whether a window is open and when it started.
func (g *Gate) Pending() (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.since, g.open
}

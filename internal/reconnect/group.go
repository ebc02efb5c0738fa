package reconnect

import (
	"context"
	"sync"
	"time"
)

type bits uint8

const (
	bitReconnect bits = 1 << iota
	bitConnected
	// Negative state so the loop can block on "down" without polling
	bitNotConnected
)

func (b bits) has(mask bits) bool {
	return b&mask == mask
}

// eventGroup is a set of flags with blocking waits on predicates over them.
// Every change closes the current changed channel to wake waiters.
type eventGroup struct {
	mu      sync.Mutex
	bits    bits
	changed chan struct{}
}

func newEventGroup(initial bits) *eventGroup {
	return &eventGroup{bits: initial, changed: make(chan struct{})}
}

func (g *eventGroup) get() bits {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bits
}

// update sets and clears flags atomically.
func (g *eventGroup) update(set, clear bits) {
	g.mu.Lock()
	defer g.mu.Unlock()

	next := (g.bits | set) &^ clear
	if next == g.bits {
		return
	}
	g.bits = next
	close(g.changed)
	g.changed = make(chan struct{})
}

// waitUntil blocks until pred holds, the timeout expires or ctx is done.
// A negative timeout waits forever. It returns the flags last observed and
// whether pred held for them.
func (g *eventGroup) waitUntil(ctx context.Context, pred func(bits) bool, timeout time.Duration) (bits, bool) {
	var expired <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}

	for {
		g.mu.Lock()
		current, changed := g.bits, g.changed
		g.mu.Unlock()

		if pred(current) {
			return current, true
		}

		select {
		case <-changed:
		case <-expired:
			current = g.get()
			return current, pred(current)
		case <-ctx.Done():
			return current, false
		}
	}
}

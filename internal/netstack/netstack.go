// Package netstack adapts station-mode network stacks for the reconnect supervisor.
//
// Two stacks are provided: WPA drives a Linux wpa_supplicant through wpa_cli,
// and Sim is an in-memory stack used for development and tests. Both deliver
// link notifications to listeners from a single goroutine, in order.
package netstack

import (
	"errors"
	"sync"
)

// ErrNotRunning is returned by Connect while the radio is stopped.
var ErrNotRunning = errors.New("netstack: radio not running")

// Credentials is the persisted station configuration.
type Credentials struct {
	SSID string
}

// Listener receives link notifications. Nil callbacks are skipped.
type Listener struct {
	OnLinkLost        func()
	OnAddressAcquired func(addr string)
}

type notification struct {
	lost bool
	addr string
}

// dispatcher delivers notifications to listeners in emit order from one goroutine.
type dispatcher struct {
	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int
	pending   []notification
	kick      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newDispatcher() *dispatcher {
	d := &dispatcher{
		listeners: make(map[int]Listener),
		kick:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *dispatcher) subscribe(l Listener) func() {
	d.mu.Lock()
	id := d.nextID
	d.nextID++
	d.listeners[id] = l
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.listeners, id)
		d.mu.Unlock()
	}
}

func (d *dispatcher) emit(n notification) {
	d.mu.Lock()
	d.pending = append(d.pending, n)
	d.mu.Unlock()

	select {
	case d.kick <- struct{}{}:
	default:
	}
}

func (d *dispatcher) run() {
	for {
		select {
		case <-d.done:
			return
		case <-d.kick:
		}

		d.mu.Lock()
		batch := d.pending
		d.pending = nil
		listeners := make([]Listener, 0, len(d.listeners))
		for id := 0; id < d.nextID; id++ {
			if l, ok := d.listeners[id]; ok {
				listeners = append(listeners, l)
			}
		}
		d.mu.Unlock()

		for _, n := range batch {
			for _, l := range listeners {
				if n.lost && l.OnLinkLost != nil {
					l.OnLinkLost()
				} else if !n.lost && l.OnAddressAcquired != nil {
					l.OnAddressAcquired(n.addr)
				}
			}
		}
	}
}

func (d *dispatcher) close() {
	d.closeOnce.Do(func() { close(d.done) })
}

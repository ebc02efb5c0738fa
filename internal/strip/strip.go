// Package strip provides pixel strip drivers: a WS2812 ring on SPI, an
// in-memory strip for development and tests, and a strip that discards output.
package strip

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrBusy is returned when the driver stayed busy past the caller's timeout.
var ErrBusy = errors.New("strip: driver busy")

// Color is one pixel value.
type Color struct {
	R, G, B uint8
}

// buffer is the pixel storage shared by the drivers.
type buffer struct {
	mu     sync.Mutex
	pixels []Color
}

func newBuffer(n int) buffer {
	return buffer{pixels: make([]Color, n)}
}

// Len returns the pixel count.
func (b *buffer) Len() int {
	return len(b.pixels)
}

// SetPixel stores a pixel value for the next refresh.
func (b *buffer) SetPixel(i int, r, g, bl uint8) error {
	if i < 0 || i >= len(b.pixels) {
		return fmt.Errorf("strip: pixel %d out of range [0,%d)", i, len(b.pixels))
	}
	b.mu.Lock()
	b.pixels[i] = Color{R: r, G: g, B: bl}
	b.mu.Unlock()
	return nil
}

func (b *buffer) snapshot() []Color {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Color(nil), b.pixels...)
}

func (b *buffer) blank() {
	b.mu.Lock()
	clear(b.pixels)
	b.mu.Unlock()
}

// gate serialises refreshes and gives up after a timeout.
type gate chan struct{}

func newGate() gate {
	return make(gate, 1)
}

func (g gate) acquire(timeout time.Duration) error {
	select {
	case g <- struct{}{}:
		return nil
	default:
	}
	if timeout <= 0 {
		return ErrBusy
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case g <- struct{}{}:
		return nil
	case <-t.C:
		return ErrBusy
	}
}

func (g gate) release() {
	<-g
}

// Noop accepts pixels and never shows them.
type Noop struct {
	buffer
}

// NewNoop creates a strip of n pixels with no output.
func NewNoop(n int) *Noop {
	return &Noop{buffer: newBuffer(n)}
}

// Refresh does nothing.
func (s *Noop) Refresh(time.Duration) error { return nil }

// Clear blanks the buffer.
func (s *Noop) Clear(time.Duration) error {
	s.blank()
	return nil
}

// Close does nothing.
func (s *Noop) Close() error { return nil }

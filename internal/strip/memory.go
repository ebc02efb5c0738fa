package strip

import (
	"sync"
	"time"
)

// Memory records what a real strip would show.
type Memory struct {
	buffer
	gate gate

	mu        sync.Mutex
	shown     []Color
	refreshes int
	clears    int
	failNext  error
	onRefresh func(frame []Color)
}

// NewMemory creates an in-memory strip of n pixels.
func NewMemory(n int) *Memory {
	return &Memory{
		buffer: newBuffer(n),
		gate:   newGate(),
		shown:  make([]Color, n),
	}
}

// OnRefresh registers a callback receiving each shown frame.
func (s *Memory) OnRefresh(fn func(frame []Color)) {
	s.mu.Lock()
	s.onRefresh = fn
	s.mu.Unlock()
}

// FailNextRefresh makes the next Refresh return err.
func (s *Memory) FailNextRefresh(err error) {
	s.mu.Lock()
	s.failNext = err
	s.mu.Unlock()
}

// Refresh latches the buffer as the shown frame.
func (s *Memory) Refresh(timeout time.Duration) error {
	if err := s.gate.acquire(timeout); err != nil {
		return err
	}
	defer s.gate.release()

	frame := s.snapshot()

	s.mu.Lock()
	if err := s.failNext; err != nil {
		s.failNext = nil
		s.mu.Unlock()
		return err
	}
	s.shown = frame
	s.refreshes++
	hook := s.onRefresh
	s.mu.Unlock()

	if hook != nil {
		hook(append([]Color(nil), frame...))
	}
	return nil
}

// Clear blanks the buffer and the shown frame.
func (s *Memory) Clear(timeout time.Duration) error {
	if err := s.gate.acquire(timeout); err != nil {
		return err
	}
	defer s.gate.release()

	s.blank()
	s.mu.Lock()
	s.shown = make([]Color, s.Len())
	s.clears++
	s.mu.Unlock()
	return nil
}

// Shown returns the last latched frame.
func (s *Memory) Shown() []Color {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Color(nil), s.shown...)
}

// Refreshes returns the number of successful refreshes.
func (s *Memory) Refreshes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshes
}

// Clears returns the number of clears.
func (s *Memory) Clears() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clears
}

// Close does nothing.
func (s *Memory) Close() error { return nil }

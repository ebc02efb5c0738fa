// Package reconnect keeps a station-mode Wi-Fi link alive.
//
// A Supervisor listens for link-lost and address-acquired notifications and,
// while armed and disconnected, issues connect requests spaced by a backoff
// schedule. It never retries without stored credentials or while paused.
package reconnect

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/noded/internal/netstack"
)

// Station is the network stack the supervisor drives.
type Station interface {
	Connect(ctx context.Context) error
	Stop(ctx context.Context) error
	Start(ctx context.Context) error
	StoredCredentials(ctx context.Context) (netstack.Credentials, bool, error)
	Subscribe(l netstack.Listener) (cancel func(), err error)
}

// Phase is the supervisor's coarse state.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhaseWaitingBackoff Phase = "waiting_backoff"
	PhaseConnecting     Phase = "connecting"
	PhaseConnected      Phase = "connected"
)

// EventKind identifies an observer notification.
type EventKind string

const (
	EventAttempt         EventKind = "attempt"
	EventConnectError    EventKind = "connect_error"
	EventTimeout         EventKind = "timeout"
	EventLinkLost        EventKind = "link_lost"
	EventAddressAcquired EventKind = "address_acquired"
)

// Event describes something the supervisor did or observed.
type Event struct {
	Kind      EventKind
	AttemptID string
	SSID      string
	Address   string
	Failures  int
	Delay     time.Duration
	Err       error
}

// Config tunes the supervisor.
type Config struct {
	Schedule       Schedule
	ConnectTimeout time.Duration
	IdleInterval   time.Duration

	// RestartOnConnectError bounces the radio when Connect fails immediately.
	// Some drivers stay wedged otherwise; others do not need it.
	RestartOnConnectError bool
}

// DefaultConfig returns the stock timings.
func DefaultConfig() Config {
	return Config{
		Schedule:              DefaultSchedule,
		ConnectTimeout:        15 * time.Second,
		IdleInterval:          time.Second,
		RestartOnConnectError: true,
	}
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithObserver registers a callback invoked synchronously for every Event.
// It must not block.
func WithObserver(fn func(Event)) Option {
	return func(s *Supervisor) { s.observer = fn }
}

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// Supervisor owns the reconnect loop for one station.
type Supervisor struct {
	station  Station
	cfg      Config
	group    *eventGroup
	observer func(Event)
	logger   zerolog.Logger

	mu        sync.Mutex
	failures  int
	phase     Phase
	attemptID string

	done chan struct{}
}

// New creates a disarmed supervisor that considers the link down. It arms
// itself on Resume or on the first acquired address.
func New(station Station, cfg Config, opts ...Option) *Supervisor {
	if len(cfg.Schedule) == 0 {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 15 * time.Second
	}
	if cfg.IdleInterval <= 0 {
		cfg.IdleInterval = time.Second
	}

	s := &Supervisor{
		station: station,
		cfg:     cfg,
		group:   newEventGroup(bitNotConnected),
		phase:   PhaseIdle,
		logger:  log.With().Str("component", "reconnect").Logger(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start registers the link listeners and runs the loop until ctx is done.
// It must be called once.
func (s *Supervisor) Start(ctx context.Context) error {
	cancel, err := s.station.Subscribe(netstack.Listener{
		OnLinkLost:        s.onLinkLost,
		OnAddressAcquired: s.onAddressAcquired,
	})
	if err != nil {
		return fmt.Errorf("failed to register link listeners: %w", err)
	}

	go func() {
		defer close(s.done)
		defer cancel()
		s.loop(ctx)
	}()

	s.logger.Info().
		Dur("connect_timeout", s.cfg.ConnectTimeout).
		Int("schedule_len", len(s.cfg.Schedule)).
		Msg("Reconnect supervisor started")
	return nil
}

// Done is closed after the loop exits.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Enable arms or disarms automatic reconnection.
func (s *Supervisor) Enable(enable bool) {
	if enable {
		s.group.update(bitReconnect, 0)
		s.logger.Info().Msg("Reconnect enabled")
	} else {
		s.group.update(0, bitReconnect)
		s.logger.Info().Msg("Reconnect disabled")
	}
}

// Pause disarms reconnection.
func (s *Supervisor) Pause() error {
	s.Enable(false)
	return nil
}

// Resume arms reconnection.
func (s *Supervisor) Resume() error {
	s.Enable(true)
	return nil
}

// Enabled reports whether reconnection is armed.
func (s *Supervisor) Enabled() bool {
	return s.group.get().has(bitReconnect)
}

// IsCredentialStored reports whether the station has a non-empty SSID.
func (s *Supervisor) IsCredentialStored(ctx context.Context) bool {
	_, ok := s.storedSSID(ctx)
	return ok
}

// IsConnected reports whether an address was acquired and not lost since.
func (s *Supervisor) IsConnected() bool {
	return s.group.get().has(bitConnected)
}

// WaitForConnection blocks up to timeout for the link to come up and
// returns the connection state at that point.
func (s *Supervisor) WaitForConnection(ctx context.Context, timeout time.Duration) bool {
	_, ok := s.group.waitUntil(ctx, func(b bits) bool { return b.has(bitConnected) }, timeout)
	return ok
}

// Failures returns the consecutive failure count.
func (s *Supervisor) Failures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures
}

// Phase returns the current coarse state.
func (s *Supervisor) Phase() Phase {
	if s.IsConnected() {
		return PhaseConnected
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Supervisor) onLinkLost() {
	s.group.update(bitNotConnected, bitConnected)
	s.logger.Info().Msg("Link lost")
	s.notify(Event{Kind: EventLinkLost, Failures: s.Failures()})
}

func (s *Supervisor) onAddressAcquired(addr string) {
	s.mu.Lock()
	s.failures = 0
	attemptID := s.attemptID
	s.mu.Unlock()

	// Any association arms reconnection, however it was made
	s.group.update(bitConnected|bitReconnect, bitNotConnected)

	s.logger.Info().Str("address", addr).Msg("Address acquired")
	s.notify(Event{Kind: EventAddressAcquired, AttemptID: attemptID, Address: addr})
}

func armedAndDown(b bits) bool {
	return b.has(bitReconnect | bitNotConnected)
}

func (s *Supervisor) loop(ctx context.Context) {
	for {
		s.setPhase(PhaseIdle, "")

		if _, ok := s.group.waitUntil(ctx, armedAndDown, -1); !ok {
			return
		}

		ssid, stored := s.storedSSID(ctx)
		if !stored {
			if !sleepCtx(ctx, s.cfg.IdleInterval) {
				return
			}
			continue
		}

		delay := s.cfg.Schedule.Delay(s.Failures())
		if delay > 0 {
			s.setPhase(PhaseWaitingBackoff, "")
			s.logger.Info().Dur("delay", delay).Int("failures", s.Failures()).Msg("Waiting before reconnect")

			// Abandoned when disarmed or when the link comes up meanwhile
			_, interrupted := s.group.waitUntil(ctx, func(b bits) bool { return !armedAndDown(b) }, delay)
			if ctx.Err() != nil {
				return
			}
			if interrupted {
				s.logger.Debug().Msg("Backoff wait abandoned")
				continue
			}
		}

		failures := s.incrementFailures()
		attemptID := uuid.NewString()
		s.setPhase(PhaseConnecting, attemptID)

		s.logger.Info().
			Str("ssid", ssid).
			Str("attempt_id", attemptID).
			Dur("timeout", s.cfg.ConnectTimeout).
			Msg("Connecting")
		s.notify(Event{Kind: EventAttempt, AttemptID: attemptID, SSID: ssid, Failures: failures, Delay: delay})

		if err := s.station.Connect(ctx); err != nil {
			s.logger.Error().Err(err).Str("attempt_id", attemptID).Msg("Connect request failed")
			s.notify(Event{Kind: EventConnectError, AttemptID: attemptID, SSID: ssid, Failures: failures, Err: err})
			if s.cfg.RestartOnConnectError {
				s.bounceRadio(ctx)
			}
		}

		_, connected := s.group.waitUntil(ctx, func(b bits) bool { return b.has(bitConnected) }, s.cfg.ConnectTimeout)
		if ctx.Err() != nil {
			return
		}
		if connected {
			s.mu.Lock()
			s.failures = 0
			s.mu.Unlock()
			s.logger.Info().Str("attempt_id", attemptID).Msg("Connected successfully")
			continue
		}

		s.logger.Info().Str("attempt_id", attemptID).Int("failures", failures).Msg("Connect timeout")
		s.notify(Event{Kind: EventTimeout, AttemptID: attemptID, SSID: ssid, Failures: failures})
	}
}

func (s *Supervisor) bounceRadio(ctx context.Context) {
	if err := s.station.Stop(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Radio stop failed")
	}
	if err := s.station.Start(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Radio start failed")
	}
}

func (s *Supervisor) storedSSID(ctx context.Context) (string, bool) {
	creds, ok, err := s.station.StoredCredentials(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to read stored credentials")
		return "", false
	}
	return creds.SSID, ok && creds.SSID != ""
}

func (s *Supervisor) incrementFailures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures < s.cfg.Schedule.Cap() {
		s.failures++
	}
	return s.failures
}

func (s *Supervisor) setPhase(p Phase, attemptID string) {
	s.mu.Lock()
	s.phase = p
	s.attemptID = attemptID
	s.mu.Unlock()
}

func (s *Supervisor) notify(e Event) {
	if s.observer != nil {
		s.observer(e)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

package netstack

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// SimConfig configures the simulated stack.
type SimConfig struct {
	SSID         string
	Address      string
	ConnectDelay time.Duration
	FailAttempts int // connect requests that never complete before one succeeds
}

// Sim is an in-memory station. Connect requests complete after ConnectDelay
// unless failures are queued, and link events can be injected.
type Sim struct {
	mu           sync.Mutex
	cfg          SimConfig
	running      bool
	connected    bool
	failAttempts int
	connectErr   error
	generation   uint64
	attempts     int
	restarts     int

	events *dispatcher
}

// NewSim creates a running simulated station.
func NewSim(cfg SimConfig) *Sim {
	if cfg.Address == "" {
		cfg.Address = "192.168.4.2"
	}
	return &Sim{
		cfg:          cfg,
		running:      true,
		failAttempts: cfg.FailAttempts,
		events:       newDispatcher(),
	}
}

// Connect requests association with the stored network.
func (s *Sim) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts++
	if !s.running {
		return ErrNotRunning
	}
	if s.connectErr != nil {
		return s.connectErr
	}
	if s.cfg.SSID == "" || s.connected {
		return nil
	}
	if s.failAttempts > 0 {
		s.failAttempts--
		log.Debug().Int("remaining", s.failAttempts).Msg("Sim connect request will not complete")
		return nil
	}

	gen := s.generation
	time.AfterFunc(s.cfg.ConnectDelay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if gen != s.generation || !s.running || s.connected {
			return
		}
		s.connected = true
		s.events.emit(notification{addr: s.cfg.Address})
	})
	return nil
}

// Stop turns the radio off, dropping the link if it is up.
func (s *Sim) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false
	s.generation++
	s.restarts++
	if s.connected {
		s.connected = false
		s.events.emit(notification{lost: true})
	}
	return nil
}

// Start turns the radio on.
func (s *Sim) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = true
	return nil
}

// StoredCredentials reports the configured SSID.
func (s *Sim) StoredCredentials(ctx context.Context) (Credentials, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Credentials{SSID: s.cfg.SSID}, s.cfg.SSID != "", nil
}

// Subscribe registers a link listener.
func (s *Sim) Subscribe(l Listener) (func(), error) {
	return s.events.subscribe(l), nil
}

// Close stops event delivery.
func (s *Sim) Close() error {
	s.events.close()
	return nil
}

// SetCredentials replaces the stored SSID. Empty clears it.
func (s *Sim) SetCredentials(ssid string) {
	s.mu.Lock()
	s.cfg.SSID = ssid
	s.mu.Unlock()
}

// SetConnectError makes every Connect call fail immediately with err. Nil clears it.
func (s *Sim) SetConnectError(err error) {
	s.mu.Lock()
	s.connectErr = err
	s.mu.Unlock()
}

// FailNext makes the next n connect requests never complete.
func (s *Sim) FailNext(n int) {
	s.mu.Lock()
	s.failAttempts = n
	s.mu.Unlock()
}

// DropLink simulates an access point going away.
func (s *Sim) DropLink() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	s.connected = false
	s.events.emit(notification{lost: true})
}

// AcquireAddress simulates an association made outside the supervisor.
func (s *Sim) AcquireAddress() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connected = true
	s.events.emit(notification{addr: s.cfg.Address})
}

// Attempts returns the number of Connect calls seen.
func (s *Sim) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Restarts returns the number of radio stops seen.
func (s *Sim) Restarts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// Connected reports the simulated link state.
func (s *Sim) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Package pixel renders procedural animations on an addressable pixel strip
// and falls back to a static HSV colour when a timed animation ends.
package pixel

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrNotInitialized is returned before Init succeeded.
var ErrNotInitialized = errors.New("pixel: engine not initialized")

// Strip is the pixel driver the engine renders to.
type Strip interface {
	Len() int
	SetPixel(i int, r, g, b uint8) error
	Refresh(timeout time.Duration) error
	Clear(timeout time.Duration) error
}

// Opener brings up a strip of the given length.
type Opener func(pixels int) (Strip, error)

// State is the static colour shown outside animations.
type State struct {
	Power      bool   `json:"power"`
	Hue        uint16 `json:"hue"`
	Saturation uint16 `json:"saturation"`
	Brightness uint16 `json:"brightness"`
}

// Config holds the engine timings and the colour shown after Init.
type Config struct {
	Pixels            int
	TickPeriod        time.Duration
	AnimationDuration time.Duration
	RefreshTimeout    time.Duration
	Initial           State
}

// DefaultConfig matches a 24 pixel ring.
func DefaultConfig() Config {
	return Config{
		Pixels:            24,
		TickPeriod:        40 * time.Millisecond,
		AnimationDuration: 3 * time.Second,
		RefreshTimeout:    100 * time.Millisecond,
		Initial:           State{Power: false, Hue: 180, Saturation: 100, Brightness: 15},
	}
}

// Option configures an Engine.
type Option func(*Engine)

// WithStateHook is called with the new static state after every setter.
func WithStateHook(fn func(State)) Option {
	return func(e *Engine) { e.onState = fn }
}

// WithRevertHook is called after a timed animation reverted to static.
func WithRevertHook(fn func(Style)) Option {
	return func(e *Engine) { e.onRevert = fn }
}

// WithLogger replaces the component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// Engine owns one strip. Setters, ticks and the revert are serialised by mu.
type Engine struct {
	open   Opener
	cfg    Config
	logger zerolog.Logger

	onState  func(State)
	onRevert func(Style)

	// held across a setter and its state hook so hooks see states in order
	updateMu sync.Mutex

	mu      sync.Mutex
	strip   Strip
	state   State
	style   Style
	phase   int
	forward bool
	frame   []RGB
	ticks   uint64

	ticking  bool
	stopTick chan struct{}

	revertSeq     uint64
	revertTimer   *time.Timer
	revertPending bool
}

// New creates an engine. Nothing touches the hardware until Init.
func New(open Opener, cfg Config, opts ...Option) *Engine {
	def := DefaultConfig()
	if cfg.Pixels <= 0 {
		cfg.Pixels = def.Pixels
	}
	if cfg.TickPeriod <= 0 {
		cfg.TickPeriod = def.TickPeriod
	}
	if cfg.AnimationDuration <= 0 {
		cfg.AnimationDuration = def.AnimationDuration
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = def.RefreshTimeout
	}

	e := &Engine{
		open:    open,
		cfg:     cfg,
		state:   normalize(cfg.Initial),
		forward: true,
		logger:  log.With().Str("component", "pixel").Logger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Init brings up the strip and shows the static state.
func (e *Engine) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.strip != nil {
		return nil
	}
	s, err := e.open(e.cfg.Pixels)
	if err != nil {
		return fmt.Errorf("strip bring-up: %w", err)
	}
	e.strip = s
	e.frame = make([]RGB, s.Len())

	if err := e.showStaticLocked(); err != nil {
		e.logger.Warn().Err(err).Msg("Initial frame not shown")
	}
	e.logger.Info().
		Int("pixels", s.Len()).
		Bool("power", e.state.Power).
		Uint16("hue", e.state.Hue).
		Uint16("saturation", e.state.Saturation).
		Uint16("brightness", e.state.Brightness).
		Msg("Pixel strip ready")
	return nil
}

// StartAnimation switches to style and keeps the phase. With once the
// animation reverts to static after the configured duration, replacing any
// pending revert; without it any pending revert is cancelled.
func (e *Engine) StartAnimation(style Style, once bool) error {
	if style == nil {
		return ErrUnknownStyle
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.strip == nil {
		return ErrNotInitialized
	}

	e.style = style
	if !e.ticking {
		e.ticking = true
		e.stopTick = make(chan struct{})
		go e.tickLoop(e.stopTick)
	}

	e.cancelRevertLocked()
	if once {
		seq := e.revertSeq
		e.revertTimer = time.AfterFunc(e.cfg.AnimationDuration, func() { e.revert(seq) })
		e.revertPending = true
	}

	e.logger.Debug().Str("style", NameOf(style)).Bool("once", once).Msg("Animation started")
	return nil
}

// StartAnimationByName starts a registered style.
func (e *Engine) StartAnimationByName(name string, once bool) error {
	style, err := StyleByName(name)
	if err != nil {
		return err
	}
	return e.StartAnimation(style, once)
}

// SetColor stores a static colour, turns power on and shows it.
func (e *Engine) SetColor(hue, saturation, brightness uint16) error {
	return e.update(func(s *State) {
		s.Hue, s.Saturation, s.Brightness = hue, saturation, brightness
		s.Power = true
	})
}

// SetHue changes the hue and shows the static colour.
func (e *Engine) SetHue(hue uint16) error {
	return e.update(func(s *State) { s.Hue, s.Power = hue, true })
}

// SetSaturation changes the saturation and shows the static colour.
func (e *Engine) SetSaturation(saturation uint16) error {
	return e.update(func(s *State) { s.Saturation, s.Power = saturation, true })
}

// SetBrightness changes the brightness and shows the static colour.
func (e *Engine) SetBrightness(brightness uint16) error {
	return e.update(func(s *State) { s.Brightness, s.Power = brightness, true })
}

// SetPowerState shows the static colour when on and blanks the strip when off.
func (e *Engine) SetPowerState(on bool) error {
	return e.update(func(s *State) { s.Power = on })
}

func (e *Engine) update(apply func(*State)) error {
	e.updateMu.Lock()
	defer e.updateMu.Unlock()

	e.mu.Lock()
	if e.strip == nil {
		e.mu.Unlock()
		return ErrNotInitialized
	}
	apply(&e.state)
	e.state = normalize(e.state)
	err := e.showStaticLocked()
	snapshot := e.state
	e.mu.Unlock()

	if e.onState != nil {
		e.onState(snapshot)
	}
	return err
}

// Power returns the stored power state.
func (e *Engine) Power() bool { return e.Snapshot().Power }

// Hue returns the stored hue.
func (e *Engine) Hue() uint16 { return e.Snapshot().Hue }

// Saturation returns the stored saturation.
func (e *Engine) Saturation() uint16 { return e.Snapshot().Saturation }

// Brightness returns the stored brightness.
func (e *Engine) Brightness() uint16 { return e.Snapshot().Brightness }

// Snapshot returns the stored static state.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Animating reports whether ticks are running.
func (e *Engine) Animating() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ticking
}

// RevertPending reports whether a timed revert is armed.
func (e *Engine) RevertPending() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.revertPending
}

// Style returns the current or last animation style, nil if none ran.
func (e *Engine) Style() Style {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.style
}

// Ticks returns the number of rendered animation frames.
func (e *Engine) Ticks() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ticks
}

// Close stops animations and releases the strip.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stopTickingLocked()
	e.cancelRevertLocked()
	if e.strip == nil {
		return nil
	}
	var err error
	if c, ok := e.strip.(io.Closer); ok {
		err = c.Close()
	}
	e.strip = nil
	return err
}

func (e *Engine) tickLoop(stop chan struct{}) {
	ticker := time.NewTicker(e.cfg.TickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		e.mu.Lock()
		// A revert may have won the lock after this tick fired
		select {
		case <-stop:
			e.mu.Unlock()
			return
		default:
		}
		e.tickLocked()
		e.mu.Unlock()
	}
}

func (e *Engine) tickLocked() {
	e.phase = (e.phase + 1) % phaseSteps
	if e.phase == 0 {
		e.forward = !e.forward
	}
	e.ticks++

	e.style.render(e.frame, e.phase, e.forward)
	for i, c := range e.frame {
		c = c.Scale(e.state.Brightness)
		if err := e.strip.SetPixel(i, c.R, c.G, c.B); err != nil {
			e.logger.Warn().Err(err).Int("pixel", i).Msg("Set pixel failed")
			return
		}
	}
	if err := e.strip.Refresh(e.cfg.RefreshTimeout); err != nil {
		e.logger.Warn().Err(err).Msg("Animation frame dropped")
	}
}

func (e *Engine) revert(seq uint64) {
	e.mu.Lock()
	if seq != e.revertSeq || e.strip == nil {
		e.mu.Unlock()
		return
	}
	e.revertPending = false
	e.revertTimer = nil
	e.stopTickingLocked()
	if err := e.showStaticLocked(); err != nil {
		e.logger.Warn().Err(err).Msg("Static frame after animation not shown")
	}
	style := e.style
	e.mu.Unlock()

	e.logger.Info().Str("style", NameOf(style)).Msg("Animation ended")
	if e.onRevert != nil {
		e.onRevert(style)
	}
}

func (e *Engine) stopTickingLocked() {
	if !e.ticking {
		return
	}
	close(e.stopTick)
	e.ticking = false
}

// cancelRevertLocked invalidates any armed revert, including one whose timer
// already fired and is waiting for the lock.
func (e *Engine) cancelRevertLocked() {
	e.revertSeq++
	if e.revertTimer != nil {
		e.revertTimer.Stop()
		e.revertTimer = nil
	}
	e.revertPending = false
}

func (e *Engine) showStaticLocked() error {
	if !e.state.Power {
		return e.strip.Clear(e.cfg.RefreshTimeout)
	}
	c := HSVToRGB(e.state.Hue, e.state.Saturation, e.state.Brightness)
	for i := 0; i < e.strip.Len(); i++ {
		if err := e.strip.SetPixel(i, c.R, c.G, c.B); err != nil {
			return err
		}
	}
	return e.strip.Refresh(e.cfg.RefreshTimeout)
}

func normalize(s State) State {
	s.Hue %= 360
	s.Saturation = min(s.Saturation, 100)
	s.Brightness = min(s.Brightness, 100)
	return s
}

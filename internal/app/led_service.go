package app

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/noded/internal/config"
	"github.com/dokzlo13/noded/internal/eventbus"
	"github.com/dokzlo13/noded/internal/metrics"
	"github.com/dokzlo13/noded/internal/pixel"
	"github.com/dokzlo13/noded/internal/storage"
	"github.com/dokzlo13/noded/internal/strip"
)

// Persisted static colour location in resource_state
const (
	ledStateKind = "pixel"
	ledStateID   = "ring"
)

// LEDService owns the pixel engine, restores its static colour and
// persists every change.
type LEDService struct {
	*pixel.Engine

	cfg    *config.StripConfig
	bus    *eventbus.Bus
	states *storage.Typed[pixel.State]

	// set when the memory driver is in use
	memory *strip.Memory
}

// NewLEDService creates the engine with the persisted or configured colour.
// With reset the persisted colour is dropped first. The strip is not opened
// until Start.
func NewLEDService(cfg *config.StripConfig, store *storage.Store, bus *eventbus.Bus, reset bool) (*LEDService, error) {
	s := &LEDService{
		cfg:    cfg,
		bus:    bus,
		states: storage.NewTyped[pixel.State](store, ledStateKind),
	}

	if reset {
		if err := s.resetState(); err != nil {
			return nil, fmt.Errorf("failed to clear LED state: %w", err)
		}
	}

	open, err := s.opener()
	if err != nil {
		return nil, err
	}

	initial, err := s.initialState()
	if err != nil {
		return nil, err
	}

	s.Engine = pixel.New(open, pixel.Config{
		Pixels:            cfg.Pixels,
		TickPeriod:        cfg.TickPeriod.Duration(),
		AnimationDuration: cfg.AnimationDuration.Duration(),
		RefreshTimeout:    cfg.RefreshTimeout.Duration(),
		Initial:           initial,
	},
		pixel.WithStateHook(s.saveState),
		pixel.WithRevertHook(s.animationFinished),
	)
	return s, nil
}

func (s *LEDService) opener() (pixel.Opener, error) {
	switch s.cfg.Driver {
	case "ws2812":
		port := s.cfg.SPIPort
		return func(n int) (pixel.Strip, error) {
			return strip.OpenWS2812(port, n)
		}, nil
	case "memory":
		return func(n int) (pixel.Strip, error) {
			s.memory = strip.NewMemory(n)
			return s.memory, nil
		}, nil
	case "noop":
		return func(n int) (pixel.Strip, error) {
			return strip.NewNoop(n), nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown strip driver %q", s.cfg.Driver)
	}
}

// initialState prefers the persisted colour over the configured default
func (s *LEDService) initialState() (pixel.State, error) {
	saved, ok, err := s.states.Load(ledStateID)
	if err != nil {
		return pixel.State{}, fmt.Errorf("failed to load LED state: %w", err)
	}
	if ok {
		log.Info().
			Bool("power", saved.Power).
			Uint16("hue", saved.Hue).
			Uint16("saturation", saved.Saturation).
			Uint16("brightness", saved.Brightness).
			Msg("Restored LED state")
		return saved, nil
	}

	state := pixel.DefaultConfig().Initial
	def := s.cfg.Default
	state.Power = def.Power
	if def.Hue != nil {
		state.Hue = *def.Hue
	}
	if def.Saturation != nil {
		state.Saturation = *def.Saturation
	}
	if def.Brightness != nil {
		state.Brightness = *def.Brightness
	}
	return state, nil
}

// Start opens the strip and shows the static colour.
func (s *LEDService) Start() error {
	return s.Engine.Init()
}

// StartAnimationByName starts a named animation and counts it.
func (s *LEDService) StartAnimationByName(name string, once bool) error {
	if err := s.Engine.StartAnimationByName(name, once); err != nil {
		return err
	}
	metrics.RecordAnimation(name)
	return nil
}

func (s *LEDService) resetState() error {
	n, err := s.states.Reset()
	if err != nil {
		return err
	}
	log.Info().Int64("removed", n).Msg("LED state cleared")
	return nil
}

// Close stops animations and releases the strip.
func (s *LEDService) Close() {
	if err := s.Engine.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close pixel strip")
	}
}

func (s *LEDService) saveState(state pixel.State) {
	if err := s.states.Save(ledStateID, state); err != nil {
		log.Error().Err(err).Msg("Failed to persist LED state")
	}
}

func (s *LEDService) animationFinished(style pixel.Style) {
	publish(s.bus, eventbus.EventAnimationFinished, map[string]any{
		"style": pixel.NameOf(style),
	})
}

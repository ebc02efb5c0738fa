package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/noded/internal/eventbus"
)

// Animator starts named animations.
type Animator interface {
	StartAnimationByName(name string, once bool) error
}

// Dispatcher hands an event to script handlers and reports whether any
// took it.
type Dispatcher interface {
	Dispatch(ctx context.Context, event eventbus.Event) bool
}

type indication struct {
	style string
	once  bool
}

// defaultIndications is the built-in event to animation table
var defaultIndications = map[eventbus.EventType]indication{
	eventbus.EventNodeStarted:     {style: "loading", once: false},
	eventbus.EventAddressAcquired: {style: "connected", once: true},
	eventbus.EventLinkLost:        {style: "disconnected", once: false},
	eventbus.EventConnectError:    {style: "error", once: true},
}

// Indicator shows bus events on the pixel ring. A script handler for an
// event replaces the built-in indication for it.
type Indicator struct {
	led    Animator
	script Dispatcher
}

// NewIndicator creates an indicator. script may be nil.
func NewIndicator(led Animator, script Dispatcher) *Indicator {
	return &Indicator{led: led, script: script}
}

// Register subscribes the indicator to every event type.
func (i *Indicator) Register(ctx context.Context, bus *eventbus.Bus) {
	bus.SubscribeAll(func(e eventbus.Event) {
		i.Handle(ctx, e)
	})
}

// Handle shows one event.
func (i *Indicator) Handle(ctx context.Context, e eventbus.Event) {
	if i.script != nil && i.script.Dispatch(ctx, e) {
		return
	}

	ind, ok := defaultIndications[e.Type]
	if !ok {
		return
	}
	if err := i.led.StartAnimationByName(ind.style, ind.once); err != nil {
		log.Warn().
			Err(err).
			Str("event_type", string(e.Type)).
			Str("style", ind.style).
			Msg("Failed to start indication")
	}
}

package app

import (
	"github.com/dokzlo13/noded/internal/eventbus"
	"github.com/dokzlo13/noded/internal/metrics"
)

// publish counts the event and hands it to the bus
func publish(bus *eventbus.Bus, eventType eventbus.EventType, data map[string]any) {
	metrics.RecordEvent(string(eventType))
	bus.Publish(eventbus.Event{Type: eventType, Data: data})
}

// eventSource names the component an event originates from
func eventSource(eventType eventbus.EventType) string {
	switch eventType {
	case eventbus.EventNodeStarted:
		return "node"
	case eventbus.EventAnimationFinished:
		return "pixel"
	default:
		return "wifi"
	}
}

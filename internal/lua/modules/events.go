package modules

import (
	"slices"
	"sync"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/noded/internal/eventbus"
)

// EventsModule lets scripts register handlers for bus events
type EventsModule struct {
	mu       sync.RWMutex
	handlers map[eventbus.EventType][]*lua.LFunction
}

// NewEventsModule creates a new events module
func NewEventsModule() *EventsModule {
	return &EventsModule{handlers: make(map[eventbus.EventType][]*lua.LFunction)}
}

// Loader is the module loader for Lua
func (m *EventsModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "on", L.NewFunction(m.on))

	types := L.NewTable()
	for _, t := range eventbus.AllEventTypes {
		L.SetField(types, string(t), lua.LString(t))
	}
	L.SetField(mod, "types", types)

	L.Push(mod)
	return 1
}

// on(event_type, fn) - Register a handler
func (m *EventsModule) on(L *lua.LState) int {
	eventType := eventbus.EventType(L.CheckString(1))
	fn := L.CheckFunction(2)

	if !slices.Contains(eventbus.AllEventTypes, eventType) {
		L.ArgError(1, "unknown event type "+string(eventType))
	}
	m.mu.Lock()
	m.handlers[eventType] = append(m.handlers[eventType], fn)
	m.mu.Unlock()
	return 0
}

// Handles reports whether any handler is registered for eventType
func (m *EventsModule) Handles(eventType eventbus.EventType) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handlers[eventType]) > 0
}

// Dispatch calls every handler for the event with a table of its data and
// returns how many completed. Must run on the Lua goroutine.
func (m *EventsModule) Dispatch(L *lua.LState, event eventbus.Event) int {
	m.mu.RLock()
	handlers := slices.Clone(m.handlers[event.Type])
	m.mu.RUnlock()
	if len(handlers) == 0 {
		return 0
	}

	data := map[string]any{"type": string(event.Type)}
	for k, v := range event.Data {
		data[k] = v
	}

	called := 0
	for _, fn := range handlers {
		err := L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, MapToLuaTable(L, data))
		if err != nil {
			log.Error().Err(err).Str("event_type", string(event.Type)).Msg("Lua event handler failed")
			continue
		}
		called++
	}
	return called
}

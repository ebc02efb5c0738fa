package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/noded/internal/eventbus"
	luart "github.com/dokzlo13/noded/internal/lua"
)

// LuaService wraps the Lua runtime running the indicator script.
type LuaService struct {
	script  string
	Runtime *luart.Runtime
}

// NewLuaService creates the runtime with the led and wifi modules bound.
func NewLuaService(script string, deps luart.Deps) *LuaService {
	return &LuaService{
		script:  script,
		Runtime: luart.NewRuntime(deps),
	}
}

// LoadScript executes the script. Must be called before Start.
func (s *LuaService) LoadScript() error {
	return s.Runtime.LoadScript(s.script)
}

// Start begins the Lua worker goroutine.
func (s *LuaService) Start(ctx context.Context) {
	go s.Runtime.Run(ctx)

	handled := 0
	for _, t := range eventbus.AllEventTypes {
		if s.Runtime.HasHandlers(t) {
			handled++
		}
	}
	log.Info().Str("script", s.script).Int("handled_event_types", handled).Msg("Lua worker started")
}

// Dispatch queues the event for the script's handlers.
func (s *LuaService) Dispatch(ctx context.Context, event eventbus.Event) bool {
	return s.Runtime.Dispatch(ctx, event)
}

// Close closes the Lua runtime.
func (s *LuaService) Close() {
	if s.Runtime != nil {
		s.Runtime.Close()
	}
}

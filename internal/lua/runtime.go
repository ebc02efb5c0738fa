package lua

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/noded/internal/eventbus"
	"github.com/dokzlo13/noded/internal/lua/modules"
)

// ErrRuntimeClosed is returned when the Lua runtime is closed
var ErrRuntimeClosed = fmt.Errorf("lua runtime closed")

const (
	workQueueSize = 100
	closeWait     = 5 * time.Second
)

// LuaWork represents work to be executed on the Lua VM.
// All Lua execution goes through the work queue.
type LuaWork func(ctx context.Context)

// Deps holds the services exposed to scripts
type Deps struct {
	LED  modules.LED
	WiFi modules.WiFi
	KV   modules.KV
}

// Runtime manages the Lua VM with single-threaded execution
type Runtime struct {
	L *lua.LState

	events *modules.EventsModule

	workQueue chan LuaWork

	// Closing this channel signals senders to stop
	closing   chan struct{}
	closeOnce sync.Once

	running atomic.Bool
	stopped chan struct{}
}

// NewRuntime creates a new Lua runtime. The log and events modules are always
// preloaded, led, wifi and kv when their dependency is set.
func NewRuntime(deps Deps) *Runtime {
	r := &Runtime{
		L:         lua.NewState(),
		events:    modules.NewEventsModule(),
		workQueue: make(chan LuaWork, workQueueSize),
		closing:   make(chan struct{}),
		stopped:   make(chan struct{}),
	}

	r.L.PreloadModule("log", modules.NewLogModule().Loader)
	r.L.PreloadModule("events", r.events.Loader)
	if deps.LED != nil {
		r.L.PreloadModule("led", modules.NewLEDModule(deps.LED).Loader)
	}
	if deps.WiFi != nil {
		r.L.PreloadModule("wifi", modules.NewWiFiModule(deps.WiFi).Loader)
	}
	if deps.KV != nil {
		r.L.PreloadModule("kv", modules.NewKVModule(deps.KV).Loader)
	}

	return r
}

// Close signals the runtime to stop accepting new work, waits briefly for
// the worker to leave the VM and closes the Lua state.
// The work queue is left open so concurrent senders never panic.
func (r *Runtime) Close() {
	r.closeOnce.Do(func() {
		close(r.closing)
		if r.running.Load() {
			select {
			case <-r.stopped:
			case <-time.After(closeWait):
				log.Warn().Msg("Lua worker still busy, closing state anyway")
			}
		}
		r.L.Close()
	})
}

func (r *Runtime) isClosing() bool {
	select {
	case <-r.closing:
		return true
	default:
		return false
	}
}

// Do queues work without blocking. Returns false if the runtime is closing,
// the queue is full, or ctx is done.
func (r *Runtime) Do(ctx context.Context, work LuaWork) bool {
	if r.isClosing() {
		log.Warn().Msg("Lua runtime closing, dropping work")
		return false
	}
	select {
	case <-r.closing:
		log.Warn().Msg("Lua runtime closing, dropping work")
		return false
	case <-ctx.Done():
		log.Warn().Msg("Context cancelled, dropping Lua work")
		return false
	case r.workQueue <- work:
		return true
	default:
		log.Warn().Msg("Lua work queue full, dropping work")
		return false
	}
}

// DoSync queues work, blocking until there is space
func (r *Runtime) DoSync(ctx context.Context, work LuaWork) error {
	if r.isClosing() {
		return ErrRuntimeClosed
	}
	select {
	case <-r.closing:
		return ErrRuntimeClosed
	case <-ctx.Done():
		return ctx.Err()
	case r.workQueue <- work:
		return nil
	}
}

// DoSyncWithResult queues work and waits for its result
func (r *Runtime) DoSyncWithResult(ctx context.Context, work func(context.Context) error) error {
	done := make(chan error, 1)
	wrapped := LuaWork(func(c context.Context) {
		done <- work(c)
	})

	if r.isClosing() {
		return ErrRuntimeClosed
	}
	select {
	case <-r.closing:
		return ErrRuntimeClosed
	case <-ctx.Done():
		return ctx.Err()
	case r.workQueue <- wrapped:
	}

	select {
	case <-r.closing:
		return ErrRuntimeClosed
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// Run is the only goroutine that touches Lua. It exits when ctx is
// cancelled or the runtime is closed, after draining queued work.
func (r *Runtime) Run(ctx context.Context) {
	r.running.Store(true)
	defer close(r.stopped)
	if r.isClosing() {
		return
	}

	for {
		select {
		case <-ctx.Done():
			// Queued handlers still run, without the cancelled context
			r.drainQueue(context.WithoutCancel(ctx))
			return
		case <-r.closing:
			return
		case work := <-r.workQueue:
			r.executeWork(ctx, work)
		}
	}
}

func (r *Runtime) drainQueue(ctx context.Context) {
	for {
		select {
		case work := <-r.workQueue:
			r.executeWork(ctx, work)
		default:
			return
		}
	}
}

// executeWork runs a single work item with panic recovery
func (r *Runtime) executeWork(ctx context.Context, work LuaWork) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().
				Interface("panic", rec).
				Msg("Lua work panicked - worker continuing")
		}
	}()
	// Modules read the context through L.Context()
	r.L.SetContext(ctx)
	work(ctx)
}

// LoadScript executes a script file. Must be called before Run.
func (r *Runtime) LoadScript(path string) error {
	log.Info().Str("path", path).Msg("Loading Lua script")

	if err := r.L.DoFile(path); err != nil {
		return fmt.Errorf("failed to execute Lua script: %w", err)
	}

	log.Info().Msg("Lua script loaded successfully")
	return nil
}

// LoadString executes script source. Must be called before Run.
func (r *Runtime) LoadString(src string) error {
	if err := r.L.DoString(src); err != nil {
		return fmt.Errorf("failed to execute Lua script: %w", err)
	}
	return nil
}

// HasHandlers reports whether the script registered a handler for eventType
func (r *Runtime) HasHandlers(eventType eventbus.EventType) bool {
	return r.events.Handles(eventType)
}

// Dispatch queues the event for the script's handlers. Returns false when
// no handler is registered or the work was dropped.
func (r *Runtime) Dispatch(ctx context.Context, event eventbus.Event) bool {
	if !r.events.Handles(event.Type) {
		return false
	}
	return r.Do(ctx, func(context.Context) {
		r.events.Dispatch(r.L, event)
	})
}

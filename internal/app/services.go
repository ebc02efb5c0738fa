package app

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/noded/internal/config"
	"github.com/dokzlo13/noded/internal/db"
	"github.com/dokzlo13/noded/internal/eventbus"
	"github.com/dokzlo13/noded/internal/ledger"
	luart "github.com/dokzlo13/noded/internal/lua"
	"github.com/dokzlo13/noded/internal/storage"
)

// Script values from the kv module live under this kind in resource_state
const scriptStateKind = "script"

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB     *db.DB
	Ledger *ledger.Ledger
	Store  *storage.Store
	Bus    *eventbus.Bus

	// Supervisors
	WiFi *WiFiService
	LED  *LEDService

	// Lua is nil when no script is configured
	Lua       *LuaService
	Indicator *Indicator
	History   *LedgerService
	Health    *HealthService
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config, opts Options) (*Services, error) {
	s := &Services{cfg: cfg}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	s.Ledger = ledger.New(database.DB)
	s.Store = storage.NewStore(database.DB)
	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())

	s.WiFi, err = NewWiFiService(&cfg.WiFi, s.Bus)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.LED, err = NewLEDService(&cfg.Strip, s.Store, s.Bus, opts.ResetState)
	if err != nil {
		s.Close()
		return nil, err
	}

	var script Dispatcher
	if cfg.Script != "" {
		s.Lua = NewLuaService(cfg.Script, luart.Deps{
			LED:  s.LED,
			WiFi: s.WiFi.Supervisor,
			KV:   storage.NewTyped[any](s.Store, scriptStateKind),
		})
		script = s.Lua
	}
	s.Indicator = NewIndicator(s.LED, script)

	s.History, err = NewLedgerService(&cfg.Ledger, s.Ledger)
	if err != nil {
		s.Close()
		return nil, err
	}

	s.Health = NewHealthService(cfg, s.WiFi, s.LED, s.Ledger)

	return s, nil
}

// Start starts all services in the correct order.
func (s *Services) Start(ctx context.Context) error {
	// Strip bring-up failures are fatal
	if err := s.LED.Start(); err != nil {
		return err
	}

	// Load Lua script before starting worker
	if s.Lua != nil {
		if err := s.Lua.LoadScript(); err != nil {
			return err
		}
		s.Lua.Start(ctx)
	}

	// Subscribers go first so node_started is seen by all of them
	s.History.Register(s.Bus)
	s.Indicator.Register(ctx, s.Bus)
	publish(s.Bus, eventbus.EventNodeStarted, map[string]any{
		"wifi_driver":  s.cfg.WiFi.Driver,
		"strip_driver": s.cfg.Strip.Driver,
	})

	if err := s.WiFi.Start(ctx); err != nil {
		return err
	}

	s.History.Start()
	s.Health.Start(ctx)

	return nil
}

// Stop waits for the supervisor loop, drains the bus and releases all
// resources. The context passed to Start must already be cancelled.
func (s *Services) Stop() error {
	timeout := s.cfg.GetShutdownTimeout()

	s.WiFi.Wait(timeout)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.Bus.Close(ctx)

	s.History.Stop()

	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Lua != nil {
		s.Lua.Close()
	}
	if s.LED != nil {
		s.LED.Close()
	}
	if s.WiFi != nil {
		s.WiFi.Close()
	}
	if s.Bus != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		s.Bus.Close(ctx)
		cancel()
	}
	if s.DB != nil {
		if err := s.DB.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close database")
		}
	}
}

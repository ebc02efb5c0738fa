package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/noded/internal/config"
	"github.com/dokzlo13/noded/internal/eventbus"
	"github.com/dokzlo13/noded/internal/metrics"
	"github.com/dokzlo13/noded/internal/netstack"
	"github.com/dokzlo13/noded/internal/reconnect"
)

// WiFiService owns the station and its reconnect supervisor, and republishes
// supervisor events on the bus.
type WiFiService struct {
	cfg *config.WiFiConfig
	bus *eventbus.Bus

	station reconnect.Station
	wpa     *netstack.WPA
	sim     *netstack.Sim

	Supervisor *reconnect.Supervisor
	started    bool
}

// NewWiFiService creates the station for the configured driver.
func NewWiFiService(cfg *config.WiFiConfig, bus *eventbus.Bus) (*WiFiService, error) {
	s := &WiFiService{cfg: cfg, bus: bus}

	switch cfg.Driver {
	case "wpa":
		s.wpa = netstack.NewWPA(netstack.WPAConfig{
			Interface:    cfg.Interface,
			PollInterval: cfg.PollInterval.Duration(),
		})
		s.station = s.wpa
	case "sim":
		s.sim = netstack.NewSim(netstack.SimConfig{
			SSID:         cfg.Sim.SSID,
			Address:      cfg.Sim.Address,
			ConnectDelay: cfg.Sim.ConnectDelay.Duration(),
			FailAttempts: cfg.Sim.FailAttempts,
		})
		s.station = s.sim
	default:
		return nil, fmt.Errorf("unknown wifi driver %q", cfg.Driver)
	}

	s.Supervisor = reconnect.New(s.station, reconnect.Config{
		Schedule:              reconnect.Schedule(cfg.BackoffDurations()),
		ConnectTimeout:        cfg.ConnectTimeout.Duration(),
		IdleInterval:          cfg.IdleInterval.Duration(),
		RestartOnConnectError: cfg.GetRestartOnConnectError(),
	}, reconnect.WithObserver(s.observe))

	return s, nil
}

// Start runs the status poller (wpa driver), starts the supervisor and arms it.
func (s *WiFiService) Start(ctx context.Context) error {
	if s.wpa != nil {
		go func() {
			if err := s.wpa.Run(ctx); err != nil {
				log.Error().Err(err).Msg("wpa_supplicant poller stopped")
			}
		}()
	}

	if err := s.Supervisor.Start(ctx); err != nil {
		return err
	}
	s.started = true
	return s.Supervisor.Resume()
}

// Wait blocks until the supervisor loop exited or timeout elapsed.
func (s *WiFiService) Wait(timeout time.Duration) {
	if !s.started {
		return
	}
	select {
	case <-s.Supervisor.Done():
	case <-time.After(timeout):
		log.Warn().Msg("Reconnect supervisor did not stop in time")
	}
}

// Close releases the simulated station.
func (s *WiFiService) Close() {
	if s.sim != nil {
		s.sim.Close()
	}
}

// observe runs on the supervisor goroutines and must not block.
func (s *WiFiService) observe(e reconnect.Event) {
	data := map[string]any{"failures": e.Failures}
	if e.AttemptID != "" {
		data["attempt_id"] = e.AttemptID
	}
	if e.SSID != "" {
		data["ssid"] = e.SSID
	}

	var eventType eventbus.EventType
	switch e.Kind {
	case reconnect.EventAttempt:
		eventType = eventbus.EventConnectAttempt
		data["delay_ms"] = e.Delay.Milliseconds()
		metrics.RecordConnectAttempt()
	case reconnect.EventConnectError:
		eventType = eventbus.EventConnectError
		if e.Err != nil {
			data["error"] = e.Err.Error()
		}
		metrics.RecordConnectFailure("connect_error", e.Failures)
	case reconnect.EventTimeout:
		eventType = eventbus.EventConnectTimeout
		metrics.RecordConnectFailure("timeout", e.Failures)
	case reconnect.EventLinkLost:
		eventType = eventbus.EventLinkLost
		metrics.SetLinkUp(false)
	case reconnect.EventAddressAcquired:
		eventType = eventbus.EventAddressAcquired
		data["address"] = e.Address
		metrics.SetLinkUp(true)
	default:
		return
	}

	publish(s.bus, eventType, data)
}

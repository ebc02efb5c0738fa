package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/noded/internal/config"
	"github.com/dokzlo13/noded/internal/ledger"
	"github.com/dokzlo13/noded/internal/metrics"
	"github.com/dokzlo13/noded/internal/pixel"
)

const recentEventsLimit = 20

// HealthService provides the health, status and metrics endpoints.
type HealthService struct {
	cfg     *config.Config
	wifi    *WiFiService
	led     *LEDService
	ledger  *ledger.Ledger
	limiter *rate.Limiter
	server  *http.Server
}

// NewHealthService creates a new HealthService.
func NewHealthService(cfg *config.Config, wifi *WiFiService, led *LEDService, l *ledger.Ledger) *HealthService {
	perSecond := rate.Limit(float64(cfg.Healthcheck.RequestsPerMinute) / 60)
	return &HealthService{
		cfg:     cfg,
		wifi:    wifi,
		led:     led,
		ledger:  l,
		limiter: rate.NewLimiter(perSecond, cfg.Healthcheck.Burst),
	}
}

// Start begins the server if enabled.
func (s *HealthService) Start(ctx context.Context) {
	if !s.cfg.Healthcheck.Enabled {
		return
	}

	go s.run(ctx)
}

func (s *HealthService) run(ctx context.Context) {
	addr := fmt.Sprintf("%s:%d", s.cfg.Healthcheck.GetHost(), s.cfg.Healthcheck.GetPort())

	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("Starting status server")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.GetShutdownTimeout())
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Status server shutdown error")
		}
	}()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("Status server error")
	}
}

func (s *HealthService) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	// Ready once the link is up
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if !s.wifi.Supervisor.IsConnected() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "disconnected"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		status, err := s.status(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("Failed to build status")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, status)
	})

	mux.Handle("/metrics", metrics.Handler())

	return s.limit(mux)
}

// limit rejects requests above the configured rate
func (s *HealthService) limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type wifiStatus struct {
	Connected         bool   `json:"connected"`
	Enabled           bool   `json:"enabled"`
	CredentialsStored bool   `json:"credentials_stored"`
	Phase             string `json:"phase"`
	Failures          int    `json:"failures"`
}

type ledStatus struct {
	pixel.State
	Animating     bool   `json:"animating"`
	RevertPending bool   `json:"revert_pending"`
	Style         string `json:"style,omitempty"`
}

type eventStatus struct {
	Type          string         `json:"type"`
	Timestamp     time.Time      `json:"timestamp"`
	Source        string         `json:"source,omitempty"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
}

type statusResponse struct {
	WiFi   wifiStatus    `json:"wifi"`
	LED    ledStatus     `json:"led"`
	Events []eventStatus `json:"recent_events"`
}

func (s *HealthService) status(ctx context.Context) (*statusResponse, error) {
	sup := s.wifi.Supervisor
	resp := &statusResponse{
		WiFi: wifiStatus{
			Connected:         sup.IsConnected(),
			Enabled:           sup.Enabled(),
			CredentialsStored: sup.IsCredentialStored(ctx),
			Phase:             string(sup.Phase()),
			Failures:          sup.Failures(),
		},
		LED: ledStatus{
			State:         s.led.Snapshot(),
			Animating:     s.led.Animating(),
			RevertPending: s.led.RevertPending(),
		},
		Events: []eventStatus{},
	}
	if style := s.led.Style(); style != nil {
		resp.LED.Style = pixel.NameOf(style)
	}

	entries, err := s.ledger.Recent(recentEventsLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	for _, e := range entries {
		resp.Events = append(resp.Events, eventStatus{
			Type:          string(e.EventType),
			Timestamp:     e.Timestamp,
			Source:        e.Source,
			CorrelationID: e.CorrelationID,
			Payload:       e.Payload,
		})
	}
	return resp, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`{}`))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.GetLevel())
	assert.Equal(t, "./noded.sqlite", cfg.Database.Path)

	assert.Equal(t, "wpa", cfg.WiFi.Driver)
	assert.Equal(t, "wlan0", cfg.WiFi.Interface)
	assert.Equal(t, 15*time.Second, cfg.WiFi.ConnectTimeout.Duration())
	assert.True(t, cfg.WiFi.GetRestartOnConnectError())
	assert.Nil(t, cfg.WiFi.BackoffDurations())

	assert.Equal(t, "ws2812", cfg.Strip.Driver)
	assert.Equal(t, 24, cfg.Strip.Pixels)
	assert.Equal(t, 40*time.Millisecond, cfg.Strip.TickPeriod.Duration())
	assert.Equal(t, 3*time.Second, cfg.Strip.AnimationDuration.Duration())

	assert.Equal(t, "@daily", cfg.Ledger.CleanupSchedule)
	assert.Equal(t, 30*24*time.Hour, cfg.Ledger.Retention())

	assert.Equal(t, 1, cfg.EventBus.GetWorkers())
	assert.Equal(t, 100, cfg.EventBus.GetQueueSize())
	assert.Equal(t, "0.0.0.0", cfg.Healthcheck.GetHost())
	assert.Equal(t, 9090, cfg.Healthcheck.GetPort())
	assert.Equal(t, 5*time.Second, cfg.GetShutdownTimeout())
}

func TestParseOverrides(t *testing.T) {
	cfg, err := Parse([]byte(`
wifi:
  driver: sim
  backoff: [0s, 2s, 2s, 10s]
  restart_on_connect_error: false
  sim:
    ssid: lab
strip:
  driver: memory
  default:
    power: true
    hue: 200
    brightness: 40
`))
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{0, 2 * time.Second, 2 * time.Second, 10 * time.Second}, cfg.WiFi.BackoffDurations())
	assert.False(t, cfg.WiFi.GetRestartOnConnectError())
	assert.Equal(t, "lab", cfg.WiFi.Sim.SSID)

	def := cfg.Strip.Default
	assert.True(t, def.Power)
	require.NotNil(t, def.Hue)
	assert.Equal(t, uint16(200), *def.Hue)
	assert.Nil(t, def.Saturation)
	require.NotNil(t, def.Brightness)
	assert.Equal(t, uint16(40), *def.Brightness)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown wifi driver", "wifi: {driver: nm}"},
		{"unknown strip driver", "strip: {driver: apa102}"},
		{"decreasing backoff", "wifi: {backoff: [5s, 1s]}"},
		{"saturation above 100", "strip: {default: {saturation: 101}}"},
		{"brightness above 100", "strip: {default: {brightness: 250}}"},
		{"too many pixels", "strip: {pixels: 5000}"},
		{"negative retention", "ledger: {retention_days: -1}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestBadDuration(t *testing.T) {
	_, err := Parse([]byte("wifi: {connect_timeout: soon}"))
	assert.Error(t, err)
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("NODED_IFACE", "wlp2s0")

	tests := []struct {
		in   string
		want string
	}{
		{"${NODED_IFACE}", "wlp2s0"},
		{"${NODED_IFACE:wlan0}", "wlp2s0"},
		{"${NODED_UNSET_VAR:wlan0}", "wlan0"},
		{"${NODED_UNSET_VAR}", ""},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExpandEnvString(tt.in), tt.in)
	}
}

func TestLoad(t *testing.T) {
	t.Setenv("NODED_DB", "/var/lib/noded/state.sqlite")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("database:\n  path: ${NODED_DB:./x.sqlite}\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/noded/state.sqlite", cfg.Database.Path)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

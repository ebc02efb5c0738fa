package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Log             LogConfig         `yaml:"log"`
	Database        DatabaseConfig    `yaml:"database"`
	WiFi            WiFiConfig        `yaml:"wifi"`
	Strip           StripConfig       `yaml:"strip"`
	Ledger          LedgerConfig      `yaml:"ledger"`
	Healthcheck     HealthcheckConfig `yaml:"healthcheck"`
	EventBus        EventBusConfig    `yaml:"eventbus"`
	Script          string            `yaml:"script"`           // Optional Lua script mapping events to indicator actions
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	Colors  bool   `yaml:"colors"`
	UseJSON bool   `yaml:"json"`
	Journal bool   `yaml:"journal"` // Write to the systemd journal instead of stderr
}

// GetLevel returns the log level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return c.Level
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// WiFiConfig contains station link and reconnect supervisor settings
type WiFiConfig struct {
	Driver    string `yaml:"driver"`    // "wpa" or "sim"
	Interface string `yaml:"interface"` // Wireless interface for the wpa driver

	ConnectTimeout        Duration   `yaml:"connect_timeout"`          // Wait for an address after each connect request
	IdleInterval          Duration   `yaml:"idle_interval"`            // Sleep while no credentials are stored
	PollInterval          Duration   `yaml:"poll_interval"`            // wpa_cli status poll period
	Backoff               []Duration `yaml:"backoff"`                  // Overrides the default backoff table
	RestartOnConnectError *bool      `yaml:"restart_on_connect_error"` // Bounce the radio when connect fails immediately (default: true)

	Sim SimConfig `yaml:"sim"`
}

// SimConfig configures the simulated network stack
type SimConfig struct {
	SSID         string   `yaml:"ssid"`
	Address      string   `yaml:"address"`
	ConnectDelay Duration `yaml:"connect_delay"` // Delay between connect request and address acquired
	FailAttempts int      `yaml:"fail_attempts"` // Number of initial connect requests that never complete
}

// GetRestartOnConnectError returns the radio bounce policy with default
func (c *WiFiConfig) GetRestartOnConnectError() bool {
	if c.RestartOnConnectError == nil {
		return true
	}
	return *c.RestartOnConnectError
}

// BackoffDurations returns the configured backoff table, nil if unset
func (c *WiFiConfig) BackoffDurations() []time.Duration {
	if len(c.Backoff) == 0 {
		return nil
	}
	out := make([]time.Duration, len(c.Backoff))
	for i, d := range c.Backoff {
		out[i] = d.Duration()
	}
	return out
}

// StripConfig contains pixel strip and animation settings
type StripConfig struct {
	Driver            string      `yaml:"driver"`   // "ws2812", "memory" or "noop"
	SPIPort           string      `yaml:"spi_port"` // periph.io SPI port name, empty for the first one
	Pixels            int         `yaml:"pixels"`
	TickPeriod        Duration    `yaml:"tick_period"`
	AnimationDuration Duration    `yaml:"animation_duration"`
	RefreshTimeout    Duration    `yaml:"refresh_timeout"`
	Default           ColorConfig `yaml:"default"`
}

// ColorConfig is the static colour used when no persisted state exists
type ColorConfig struct {
	Power      bool    `yaml:"power"`
	Hue        *uint16 `yaml:"hue"`
	Saturation *uint16 `yaml:"saturation"`
	Brightness *uint16 `yaml:"brightness"`
}

// LedgerConfig contains event ledger settings
type LedgerConfig struct {
	CleanupSchedule string `yaml:"cleanup_schedule"` // Cron expression or duration (default: "@daily")
	RetentionDays   int    `yaml:"retention_days"`
}

// Retention returns the retention window
func (c *LedgerConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled           bool   `yaml:"enabled"`
	Host              string `yaml:"host"`
	Port              int    `yaml:"port"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
	Burst             int    `yaml:"burst"`
}

// GetHost returns host with default
func (c *HealthcheckConfig) GetHost() string {
	if c.Host == "" {
		return "0.0.0.0"
	}
	return c.Host
}

// GetPort returns port with default
func (c *HealthcheckConfig) GetPort() int {
	if c.Port == 0 {
		return 9090
	}
	return c.Port
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 1, keeps link events ordered)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 1
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// GetShutdownTimeout returns the shutdown timeout as time.Duration
func (c *Config) GetShutdownTimeout() time.Duration {
	return c.ShutdownTimeout.Duration()
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration bytes, applies defaults and validates the result
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./noded.sqlite"
	}

	// WiFi defaults
	if cfg.WiFi.Driver == "" {
		cfg.WiFi.Driver = "wpa"
	}
	if cfg.WiFi.Interface == "" {
		cfg.WiFi.Interface = "wlan0"
	}
	if cfg.WiFi.ConnectTimeout == 0 {
		cfg.WiFi.ConnectTimeout = Duration(15 * time.Second)
	}
	if cfg.WiFi.IdleInterval == 0 {
		cfg.WiFi.IdleInterval = Duration(1 * time.Second)
	}
	if cfg.WiFi.PollInterval == 0 {
		cfg.WiFi.PollInterval = Duration(2 * time.Second)
	}
	if cfg.WiFi.Sim.Address == "" {
		cfg.WiFi.Sim.Address = "192.168.4.2"
	}
	if cfg.WiFi.Sim.ConnectDelay == 0 {
		cfg.WiFi.Sim.ConnectDelay = Duration(500 * time.Millisecond)
	}

	// Strip defaults mirror the ring hardware: 24 pixels, 40ms frames, 3s timed animations
	if cfg.Strip.Driver == "" {
		cfg.Strip.Driver = "ws2812"
	}
	if cfg.Strip.Pixels == 0 {
		cfg.Strip.Pixels = 24
	}
	if cfg.Strip.TickPeriod == 0 {
		cfg.Strip.TickPeriod = Duration(40 * time.Millisecond)
	}
	if cfg.Strip.AnimationDuration == 0 {
		cfg.Strip.AnimationDuration = Duration(3 * time.Second)
	}
	if cfg.Strip.RefreshTimeout == 0 {
		cfg.Strip.RefreshTimeout = Duration(100 * time.Millisecond)
	}

	// Ledger defaults
	if cfg.Ledger.CleanupSchedule == "" {
		cfg.Ledger.CleanupSchedule = "@daily"
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// Healthcheck defaults
	if cfg.Healthcheck.Port == 0 {
		cfg.Healthcheck.Port = 9090
	}
	if cfg.Healthcheck.Host == "" {
		cfg.Healthcheck.Host = "0.0.0.0"
	}
	if cfg.Healthcheck.RequestsPerMinute == 0 {
		cfg.Healthcheck.RequestsPerMinute = 120
	}
	if cfg.Healthcheck.Burst == 0 {
		cfg.Healthcheck.Burst = 20
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate checks values that defaults cannot repair
func (c *Config) Validate() error {
	switch c.WiFi.Driver {
	case "wpa", "sim":
	default:
		return fmt.Errorf("wifi.driver: unknown driver %q", c.WiFi.Driver)
	}

	var prev time.Duration
	for i, d := range c.WiFi.Backoff {
		if d < 0 {
			return fmt.Errorf("wifi.backoff[%d]: negative delay", i)
		}
		if d.Duration() < prev {
			return fmt.Errorf("wifi.backoff[%d]: delays must be non-decreasing", i)
		}
		prev = d.Duration()
	}

	switch c.Strip.Driver {
	case "ws2812", "memory", "noop":
	default:
		return fmt.Errorf("strip.driver: unknown driver %q", c.Strip.Driver)
	}
	if c.Strip.Pixels < 0 || c.Strip.Pixels > 1024 {
		return fmt.Errorf("strip.pixels: %d out of range", c.Strip.Pixels)
	}
	if sat := c.Strip.Default.Saturation; sat != nil && *sat > 100 {
		return fmt.Errorf("strip.default.saturation: %d above 100", *sat)
	}
	if bri := c.Strip.Default.Brightness; bri != nil && *bri > 100 {
		return fmt.Errorf("strip.default.brightness: %d above 100", *bri)
	}
	if c.Ledger.RetentionDays < 0 {
		return fmt.Errorf("ledger.retention_days: negative retention")
	}
	return nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}

// ExpandEnvString expands a single string with environment variables
func ExpandEnvString(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return expandEnvVars(s)
	}
	return s
}

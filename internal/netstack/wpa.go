package netstack

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Runner executes an external command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		return out, fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	return out, nil
}

// WPAConfig configures the wpa_supplicant station.
type WPAConfig struct {
	Interface    string
	PollInterval time.Duration
	Runner       Runner
}

// WPA controls a wpa_supplicant managed interface. Link notifications are
// derived from polling `wpa_cli status`, so Run must be started for listeners
// to hear anything.
type WPA struct {
	iface    string
	interval time.Duration
	run      Runner

	mu      sync.Mutex
	up      bool
	address string

	events *dispatcher
}

// NewWPA creates a station for cfg.Interface.
func NewWPA(cfg WPAConfig) *WPA {
	if cfg.Runner == nil {
		cfg.Runner = ExecRunner
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &WPA{
		iface:    cfg.Interface,
		interval: cfg.PollInterval,
		run:      cfg.Runner,
		events:   newDispatcher(),
	}
}

func (w *WPA) cli(ctx context.Context, args ...string) ([]byte, error) {
	return w.run(ctx, "wpa_cli", append([]string{"-i", w.iface}, args...)...)
}

// Connect asks wpa_supplicant to reassociate.
func (w *WPA) Connect(ctx context.Context) error {
	out, err := w.cli(ctx, "reconnect")
	if err != nil {
		return err
	}
	if reply := strings.TrimSpace(string(out)); reply != "OK" {
		return fmt.Errorf("wpa_cli reconnect: %q", reply)
	}
	return nil
}

// Stop takes the interface down.
func (w *WPA) Stop(ctx context.Context) error {
	_, err := w.run(ctx, "ip", "link", "set", "dev", w.iface, "down")
	return err
}

// Start brings the interface up.
func (w *WPA) Start(ctx context.Context) error {
	_, err := w.run(ctx, "ip", "link", "set", "dev", w.iface, "up")
	return err
}

// StoredCredentials returns the current network, or the first configured one.
func (w *WPA) StoredCredentials(ctx context.Context) (Credentials, bool, error) {
	out, err := w.cli(ctx, "list_networks")
	if err != nil {
		return Credentials{}, false, err
	}
	ssid := parseNetworks(out)
	return Credentials{SSID: ssid}, ssid != "", nil
}

// Subscribe registers a link listener.
func (w *WPA) Subscribe(l Listener) (func(), error) {
	return w.events.subscribe(l), nil
}

// Run polls the interface status until ctx is cancelled.
func (w *WPA) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	defer w.events.close()

	for {
		w.poll(ctx)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *WPA) poll(ctx context.Context) {
	out, err := w.cli(ctx, "status")
	if err != nil {
		if ctx.Err() == nil {
			log.Warn().Err(err).Str("interface", w.iface).Msg("wpa_cli status failed")
		}
		return
	}
	status := parseStatus(out)
	up := status["wpa_state"] == "COMPLETED" && status["ip_address"] != ""

	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case up && (!w.up || status["ip_address"] != w.address):
		w.up = true
		w.address = status["ip_address"]
		w.events.emit(notification{addr: w.address})
	case !up && w.up:
		w.up = false
		w.address = ""
		w.events.emit(notification{lost: true})
	}
}

// parseStatus parses key=value lines of `wpa_cli status`.
func parseStatus(out []byte) map[string]string {
	status := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if ok {
			status[key] = value
		}
	}
	return status
}

// parseNetworks picks an SSID from `wpa_cli list_networks` output, preferring
// the [CURRENT] network.
func parseNetworks(out []byte) string {
	first := ""
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Split(sc.Text(), "\t")
		if len(fields) < 2 || fields[0] == "network id / ssid / bssid / flags" {
			continue
		}
		ssid := fields[1]
		if ssid == "" {
			continue
		}
		if len(fields) >= 4 && strings.Contains(fields[3], "[CURRENT]") {
			return ssid
		}
		if first == "" {
			first = ssid
		}
	}
	return first
}

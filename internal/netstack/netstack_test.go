package netstack

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu     sync.Mutex
	events []string
	signal chan struct{}
}

func newRecorder() *recorder {
	return &recorder{signal: make(chan struct{}, 64)}
}

func (r *recorder) listener() Listener {
	return Listener{
		OnLinkLost: func() { r.add("lost") },
		OnAddressAcquired: func(addr string) {
			r.add("up " + addr)
		},
	}
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	r.signal <- struct{}{}
}

func (r *recorder) wait(t *testing.T, n int) []string {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-r.signal:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i+1)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func TestSim_ConnectDeliversAddress(t *testing.T) {
	sim := NewSim(SimConfig{SSID: "home", Address: "10.0.0.5", ConnectDelay: 5 * time.Millisecond})
	defer sim.Close()

	rec := newRecorder()
	sim.Subscribe(rec.listener())

	if err := sim.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	got := rec.wait(t, 1)
	if got[0] != "up 10.0.0.5" {
		t.Errorf("event = %q, want %q", got[0], "up 10.0.0.5")
	}
	if !sim.Connected() {
		t.Error("Connected() = false after address acquired")
	}
}

func TestSim_OrderedDelivery(t *testing.T) {
	sim := NewSim(SimConfig{SSID: "home"})
	defer sim.Close()

	rec := newRecorder()
	sim.Subscribe(rec.listener())

	for i := 0; i < 10; i++ {
		sim.AcquireAddress()
		sim.DropLink()
	}
	got := rec.wait(t, 20)
	for i, e := range got {
		want := "lost"
		if i%2 == 0 {
			want = "up 192.168.4.2"
		}
		if e != want {
			t.Fatalf("event %d = %q, want %q", i, e, want)
		}
	}
}

func TestSim_StopCancelsPendingConnect(t *testing.T) {
	sim := NewSim(SimConfig{SSID: "home", ConnectDelay: 20 * time.Millisecond})
	defer sim.Close()

	sim.Connect(context.Background())
	sim.Stop(context.Background())

	if err := sim.Connect(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Connect() while stopped = %v, want ErrNotRunning", err)
	}
	time.Sleep(50 * time.Millisecond)
	if sim.Connected() {
		t.Error("pending connect completed after Stop")
	}
	if sim.Restarts() != 1 {
		t.Errorf("Restarts() = %d, want 1", sim.Restarts())
	}
}

func TestSim_FailNextAndCredentials(t *testing.T) {
	sim := NewSim(SimConfig{ConnectDelay: time.Millisecond})
	defer sim.Close()

	if _, ok, _ := sim.StoredCredentials(context.Background()); ok {
		t.Error("StoredCredentials() ok with empty SSID")
	}
	sim.SetCredentials("home")
	creds, ok, err := sim.StoredCredentials(context.Background())
	if err != nil || !ok || creds.SSID != "home" {
		t.Errorf("StoredCredentials() = %+v, %v, %v", creds, ok, err)
	}

	sim.FailNext(1)
	sim.Connect(context.Background())
	time.Sleep(20 * time.Millisecond)
	if sim.Connected() {
		t.Error("first connect should not complete")
	}
	if sim.Attempts() != 1 {
		t.Errorf("Attempts() = %d, want 1", sim.Attempts())
	}
}

func TestSim_Unsubscribe(t *testing.T) {
	sim := NewSim(SimConfig{SSID: "home"})
	defer sim.Close()

	rec := newRecorder()
	cancel, _ := sim.Subscribe(rec.listener())
	other := newRecorder()
	sim.Subscribe(other.listener())

	cancel()
	sim.DropLink()
	other.wait(t, 1)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.events) != 0 {
		t.Errorf("cancelled listener got %v", rec.events)
	}
}

type fakeCLI struct {
	mu     sync.Mutex
	status string
	calls  []string
}

func (f *fakeCLI) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, cmd)

	switch {
	case strings.HasSuffix(cmd, " status"):
		return []byte(f.status), nil
	case strings.HasSuffix(cmd, " reconnect"):
		return []byte("OK\n"), nil
	case strings.HasSuffix(cmd, " list_networks"):
		return []byte("network id / ssid / bssid / flags\n0\tguest\tany\t[DISABLED]\n1\thome\tany\t[CURRENT]\n"), nil
	}
	return nil, nil
}

func (f *fakeCLI) setStatus(s string) {
	f.mu.Lock()
	f.status = s
	f.mu.Unlock()
}

func TestWPA_PollTransitions(t *testing.T) {
	cli := &fakeCLI{status: "wpa_state=SCANNING\n"}
	w := NewWPA(WPAConfig{Interface: "wlan0", PollInterval: 5 * time.Millisecond, Runner: cli.run})

	rec := newRecorder()
	w.Subscribe(rec.listener())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	cli.setStatus("bssid=aa:bb\nwpa_state=COMPLETED\nip_address=10.1.1.7\n")
	got := rec.wait(t, 1)
	if got[0] != "up 10.1.1.7" {
		t.Fatalf("first event = %q", got[0])
	}

	cli.setStatus("wpa_state=DISCONNECTED\n")
	got = rec.wait(t, 1)
	if got[1] != "lost" {
		t.Fatalf("second event = %q, want lost", got[1])
	}
}

func TestWPA_Commands(t *testing.T) {
	cli := &fakeCLI{}
	w := NewWPA(WPAConfig{Interface: "wlan1", Runner: cli.run})
	ctx := context.Background()

	if err := w.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	w.Stop(ctx)
	w.Start(ctx)
	creds, ok, err := w.StoredCredentials(ctx)
	if err != nil || !ok || creds.SSID != "home" {
		t.Errorf("StoredCredentials() = %+v, %v, %v, want current network", creds, ok, err)
	}

	want := []string{
		"wpa_cli -i wlan1 reconnect",
		"ip link set dev wlan1 down",
		"ip link set dev wlan1 up",
		"wpa_cli -i wlan1 list_networks",
	}
	for i, c := range want {
		if cli.calls[i] != c {
			t.Errorf("call %d = %q, want %q", i, cli.calls[i], c)
		}
	}
}

func TestParseNetworks(t *testing.T) {
	tests := []struct {
		name string
		out  string
		want string
	}{
		{"empty", "network id / ssid / bssid / flags\n", ""},
		{"first", "network id / ssid / bssid / flags\n0\toffice\tany\t\n1\thome\tany\t\n", "office"},
		{"current", "0\toffice\tany\t\n1\thome\tany\t[CURRENT]\n", "home"},
		{"blank ssid", "0\t\tany\t\n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseNetworks([]byte(tt.out)); got != tt.want {
				t.Errorf("parseNetworks() = %q, want %q", got, tt.want)
			}
		})
	}
}

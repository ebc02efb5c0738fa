package pixel

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dokzlo13/noded/internal/strip"
)

func TestHSVToRGB(t *testing.T) {
	tests := []struct {
		h, s, v uint16
		want    RGB
	}{
		{0, 100, 100, RGB{255, 0, 0}},
		{120, 100, 100, RGB{0, 255, 0}},
		{240, 100, 100, RGB{0, 0, 255}},
		{360, 100, 100, RGB{255, 0, 0}},
		{60, 100, 100, RGB{255, 255, 0}},
		{180, 100, 15, RGB{0, 38, 38}},
		{30, 100, 100, RGB{255, 127, 0}},
		{300, 100, 100, RGB{255, 0, 255}},
		{0, 250, 250, RGB{255, 0, 0}},
	}
	for _, tt := range tests {
		if got := HSVToRGB(tt.h, tt.s, tt.v); got != tt.want {
			t.Errorf("HSVToRGB(%d, %d, %d) = %+v, want %+v", tt.h, tt.s, tt.v, got, tt.want)
		}
	}
}

func TestHSVToRGB_ZeroSaturationIsGrey(t *testing.T) {
	for v := uint16(0); v <= 100; v++ {
		want := uint8((uint32(v)*255 + 50) / 100)
		for h := uint16(0); h < 360; h += 7 {
			got := HSVToRGB(h, 0, v)
			if got.R != want || got.G != want || got.B != want {
				t.Fatalf("HSVToRGB(%d, 0, %d) = %+v, want grey %d", h, v, got, want)
			}
		}
	}
}

func TestInterpolate_Endpoints(t *testing.T) {
	for a := 0; a < 256; a += 15 {
		for b := 0; b < 256; b += 17 {
			ca := RGB{uint8(a), uint8(255 - a), uint8(b)}
			cb := RGB{uint8(b), uint8(a), uint8(255 - b)}
			if got := Interpolate(ca, cb, 0); got != ca {
				t.Fatalf("Interpolate(%+v, %+v, 0) = %+v", ca, cb, got)
			}
			if got := Interpolate(ca, cb, 1); got != cb {
				t.Fatalf("Interpolate(%+v, %+v, 1) = %+v", ca, cb, got)
			}
		}
	}
	if got := Interpolate(RGB{0, 0, 0}, RGB{255, 255, 255}, 0.5); got != (RGB{127, 127, 127}) {
		t.Errorf("Interpolate midpoint = %+v", got)
	}
}

func TestStyles_Render(t *testing.T) {
	frame := make([]RGB, 8)

	Spinner{Background: blue, Foreground: cyan, Width: 2}.render(frame, 7, true)
	for i, c := range frame {
		want := blue
		if i == 7 || i == 0 {
			want = cyan
		}
		if c != want {
			t.Errorf("spinner pixel %d = %+v, want %+v", i, c, want)
		}
	}

	p := Pulse{Min: RGB{0, 17, 0}, Max: RGB{0, 255, 0}}
	p.render(frame, 0, true)
	if frame[3] != p.Min {
		t.Errorf("pulse forward phase 0 = %+v, want min", frame[3])
	}
	p.render(frame, phaseSteps-1, true)
	if frame[3] != p.Max {
		t.Errorf("pulse forward last phase = %+v, want max", frame[3])
	}
	p.render(frame, 0, false)
	if frame[3] != p.Max {
		t.Errorf("pulse reverse phase 0 = %+v, want max", frame[3])
	}
}

func TestStyleByName(t *testing.T) {
	for _, name := range StyleNames() {
		s, err := StyleByName(name)
		if err != nil {
			t.Fatalf("StyleByName(%q) error = %v", name, err)
		}
		if name != "ota" && NameOf(s) != name {
			t.Errorf("NameOf(StyleByName(%q)) = %q", name, NameOf(s))
		}
	}
	if _, err := StyleByName("disco"); !errors.Is(err, ErrUnknownStyle) {
		t.Errorf("StyleByName(disco) error = %v, want ErrUnknownStyle", err)
	}
	if got := NameOf(Pulse{}); got != "custom" {
		t.Errorf("NameOf(Pulse{}) = %q, want custom", got)
	}
}

type rig struct {
	engine  *Engine
	strip   *strip.Memory
	mu      sync.Mutex
	reverts int
	states  []State
	revert  chan Style
}

func newRig(t *testing.T, cfg Config) *rig {
	t.Helper()
	r := &rig{revert: make(chan Style, 16)}
	open := func(n int) (Strip, error) {
		r.strip = strip.NewMemory(n)
		return r.strip, nil
	}
	r.engine = New(open, cfg,
		WithRevertHook(func(s Style) {
			r.mu.Lock()
			r.reverts++
			r.mu.Unlock()
			r.revert <- s
		}),
		WithStateHook(func(s State) {
			r.mu.Lock()
			r.states = append(r.states, s)
			r.mu.Unlock()
		}),
	)
	if err := r.engine.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { r.engine.Close() })
	return r
}

func (r *rig) revertCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reverts
}

func (r *rig) waitRevert(t *testing.T) Style {
	t.Helper()
	select {
	case s := <-r.revert:
		return s
	case <-time.After(r.engine.cfg.AnimationDuration + 2*time.Second):
		t.Fatal("revert did not fire")
		return nil
	}
}

func fastConfig() Config {
	return Config{
		Pixels:            8,
		TickPeriod:        2 * time.Millisecond,
		AnimationDuration: 60 * time.Millisecond,
		RefreshTimeout:    10 * time.Millisecond,
		Initial:           State{Hue: 180, Saturation: 100, Brightness: 15},
	}
}

func allPixels(t *testing.T, frame []strip.Color, want RGB) {
	t.Helper()
	for i, c := range frame {
		if c.R != want.R || c.G != want.G || c.B != want.B {
			t.Fatalf("pixel %d = %+v, want %+v", i, c, want)
		}
	}
}

func TestEngine_InitShowsStoredState(t *testing.T) {
	r := newRig(t, fastConfig())
	if r.strip.Clears() != 1 {
		t.Errorf("Clears() = %d, power-off init should blank the strip", r.strip.Clears())
	}
	if r.engine.Animating() {
		t.Error("Animating() = true right after Init")
	}

	cfg := fastConfig()
	cfg.Initial.Power = true
	on := newRig(t, cfg)
	allPixels(t, on.strip.Shown(), HSVToRGB(180, 100, 15))
}

func TestEngine_InitFailure(t *testing.T) {
	boom := errors.New("no spi")
	e := New(func(int) (Strip, error) { return nil, boom }, fastConfig())

	if err := e.Init(); !errors.Is(err, boom) {
		t.Fatalf("Init() = %v, want %v", err, boom)
	}
	if err := e.StartAnimationByName("loading", true); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("StartAnimation() after failed Init = %v, want ErrNotInitialized", err)
	}
	if err := e.SetColor(1, 2, 3); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("SetColor() after failed Init = %v, want ErrNotInitialized", err)
	}
	if e.Animating() {
		t.Error("nothing should run after a failed Init")
	}
}

func TestEngine_StateHookSeesLatestStateLast(t *testing.T) {
	r := newRig(t, fastConfig())

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(hue uint16) {
			defer wg.Done()
			for n := uint16(0); n < 20; n++ {
				r.engine.SetColor((hue*20+n)%360, 100, 50)
			}
		}(uint16(i))
	}
	wg.Wait()

	r.mu.Lock()
	last := r.states[len(r.states)-1]
	count := len(r.states)
	r.mu.Unlock()

	if count != 16*20 {
		t.Errorf("state hook calls = %d, want %d", count, 16*20)
	}
	if got := r.engine.Snapshot(); last != got {
		t.Errorf("last persisted state = %+v, engine state = %+v", last, got)
	}
}

func TestEngine_SettersForcePowerOn(t *testing.T) {
	r := newRig(t, fastConfig())

	if err := r.engine.SetHue(120); err != nil {
		t.Fatalf("SetHue() error = %v", err)
	}
	if !r.engine.Power() {
		t.Error("SetHue() should turn power on")
	}
	r.engine.SetSaturation(150)
	r.engine.SetBrightness(100)

	want := State{Power: true, Hue: 120, Saturation: 100, Brightness: 100}
	if got := r.engine.Snapshot(); got != want {
		t.Errorf("Snapshot() = %+v, want %+v", got, want)
	}
	allPixels(t, r.strip.Shown(), RGB{0, 255, 0})

	r.engine.SetPowerState(false)
	allPixels(t, r.strip.Shown(), RGB{})
	if r.engine.Hue() != 120 || r.engine.Brightness() != 100 {
		t.Error("power off must keep the stored colour")
	}

	r.engine.SetPowerState(true)
	allPixels(t, r.strip.Shown(), RGB{0, 255, 0})

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.states) != 5 {
		t.Errorf("state hook called %d times, want 5", len(r.states))
	}
}

func TestEngine_RevertShowsStaticColour(t *testing.T) {
	r := newRig(t, fastConfig())
	r.engine.SetColor(180, 100, 15)

	if err := r.engine.StartAnimationByName("loading", true); err != nil {
		t.Fatalf("StartAnimation() error = %v", err)
	}
	style := r.waitRevert(t)
	if NameOf(style) != "loading" {
		t.Errorf("revert style = %q, want loading", NameOf(style))
	}
	if r.engine.Animating() {
		t.Error("Animating() = true after revert")
	}
	if r.engine.Ticks() == 0 {
		t.Error("no frames rendered before revert")
	}
	allPixels(t, r.strip.Shown(), HSVToRGB(180, 100, 15))

	// No frame after the revert
	refreshes := r.strip.Refreshes()
	time.Sleep(20 * time.Millisecond)
	if got := r.strip.Refreshes(); got != refreshes {
		t.Errorf("refreshes grew from %d to %d after revert", refreshes, got)
	}
}

func TestEngine_IndefiniteCancelsPendingRevert(t *testing.T) {
	r := newRig(t, fastConfig())

	r.engine.StartAnimationByName("loading", true)
	time.Sleep(10 * time.Millisecond)
	r.engine.StartAnimationByName("move", false)

	if r.engine.RevertPending() {
		t.Error("RevertPending() = true after indefinite start")
	}
	time.Sleep(150 * time.Millisecond)
	if n := r.revertCount(); n != 0 {
		t.Fatalf("revert fired %d times after cancellation", n)
	}
	if !r.engine.Animating() {
		t.Error("indefinite animation stopped")
	}
}

func TestEngine_RearmResetsDeadline(t *testing.T) {
	cfg := fastConfig()
	cfg.AnimationDuration = 80 * time.Millisecond
	r := newRig(t, cfg)

	start := time.Now()
	r.engine.StartAnimationByName("loading", true)
	time.Sleep(50 * time.Millisecond)
	r.engine.StartAnimationByName("connected", true)

	r.waitRevert(t)
	if elapsed := time.Since(start); elapsed < 120*time.Millisecond {
		t.Errorf("revert after %s, the re-arm should have pushed it past 130ms", elapsed)
	}
	time.Sleep(100 * time.Millisecond)
	if n := r.revertCount(); n != 1 {
		t.Errorf("revert fired %d times, want 1", n)
	}
}

func TestEngine_PowerOffDuringAnimationBlanksOnRevert(t *testing.T) {
	r := newRig(t, fastConfig())
	r.engine.SetColor(0, 100, 100)

	r.engine.StartAnimationByName("error", true)
	time.Sleep(10 * time.Millisecond)
	r.engine.SetPowerState(false)

	ticks := r.engine.Ticks()
	time.Sleep(20 * time.Millisecond)
	if r.engine.Ticks() <= ticks {
		t.Error("power off should not stop the animation")
	}

	r.waitRevert(t)
	allPixels(t, r.strip.Shown(), RGB{})
}

func TestEngine_StyleChangeKeepsPhase(t *testing.T) {
	cfg := fastConfig()
	cfg.TickPeriod = time.Hour
	cfg.Initial.Brightness = 100
	r := newRig(t, cfg)

	r.engine.StartAnimation(Spinner{Background: blue, Foreground: cyan, Width: 1}, false)
	r.engine.mu.Lock()
	for i := 0; i < 5; i++ {
		r.engine.tickLocked()
	}
	r.engine.mu.Unlock()

	r.engine.StartAnimation(Spinner{Background: RGB{}, Foreground: white, Width: 1}, false)
	r.engine.mu.Lock()
	r.engine.tickLocked()
	phase := r.engine.phase
	r.engine.mu.Unlock()

	if phase != 6 {
		t.Errorf("phase after style change = %d, want 6", phase)
	}
	shown := r.strip.Shown()
	if shown[6] != (strip.Color{R: 255, G: 255, B: 255}) {
		t.Errorf("spinner head = %+v, want white at pixel 6", shown[6])
	}
}

func TestEngine_PhaseWrapFlipsDirection(t *testing.T) {
	cfg := fastConfig()
	cfg.TickPeriod = time.Hour
	r := newRig(t, cfg)
	r.engine.StartAnimationByName("move", false)

	r.engine.mu.Lock()
	defer r.engine.mu.Unlock()
	for i := 0; i < phaseSteps-1; i++ {
		r.engine.tickLocked()
	}
	if !r.engine.forward || r.engine.phase != phaseSteps-1 {
		t.Fatalf("phase = %d forward = %v before wrap", r.engine.phase, r.engine.forward)
	}
	r.engine.tickLocked()
	if r.engine.forward || r.engine.phase != 0 {
		t.Errorf("phase = %d forward = %v after wrap, want 0 and reversed", r.engine.phase, r.engine.forward)
	}
}

func TestEngine_FramesDimmedByBrightness(t *testing.T) {
	cfg := fastConfig()
	cfg.TickPeriod = time.Hour
	cfg.Initial.Brightness = 50
	r := newRig(t, cfg)
	r.engine.StartAnimation(Pulse{Min: RGB{200, 100, 0}, Max: RGB{200, 100, 0}}, false)

	r.engine.mu.Lock()
	r.engine.tickLocked()
	r.engine.mu.Unlock()

	allPixels(t, r.strip.Shown(), RGB{100, 50, 0})
}

func TestEngine_DriverErrorDoesNotStopTicks(t *testing.T) {
	r := newRig(t, fastConfig())
	r.strip.FailNextRefresh(errors.New("busy"))
	r.engine.StartAnimationByName("loading", false)

	deadline := time.Now().Add(time.Second)
	for r.engine.Ticks() < 5 {
		if time.Now().After(deadline) {
			t.Fatal("ticks stopped after a driver error")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestEngine_ThreeSecondScenario(t *testing.T) {
	if testing.Short() {
		t.Skip("runs for three seconds")
	}
	r := newRig(t, Config{
		Pixels:            24,
		TickPeriod:        40 * time.Millisecond,
		AnimationDuration: 3 * time.Second,
		RefreshTimeout:    100 * time.Millisecond,
	})
	r.engine.SetColor(180, 100, 15)
	r.engine.StartAnimation(Spinner{Background: blue, Foreground: cyan, Width: 2}, true)

	r.waitRevert(t)
	ticks := r.engine.Ticks()
	if ticks < 60 || ticks > 77 {
		t.Errorf("ticks = %d, want about 75", ticks)
	}

	time.Sleep(100 * time.Millisecond)
	if n := r.revertCount(); n != 1 {
		t.Errorf("revert fired %d times, want 1", n)
	}
	allPixels(t, r.strip.Shown(), HSVToRGB(180, 100, 15))
}

package pixel

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownStyle is returned for style names that are not registered.
var ErrUnknownStyle = errors.New("pixel: unknown animation style")

// phaseSteps is the length of one animation cycle in ticks.
const phaseSteps = 24

// Style is an animation pattern. Implementations are Spinner and Pulse.
type Style interface {
	render(frame []RGB, phase int, forward bool)
}

// Spinner paints Width foreground pixels over a background, advancing one
// pixel per tick.
type Spinner struct {
	Background RGB
	Foreground RGB
	Width      int
}

func (s Spinner) render(frame []RGB, phase int, _ bool) {
	n := len(frame)
	if n == 0 {
		return
	}
	for i := range frame {
		frame[i] = s.Background
	}
	start := phase % n
	for i := 0; i < s.Width && i < n; i++ {
		frame[(start+i)%n] = s.Foreground
	}
}

// Pulse fills the strip with a colour swinging between Min and Max.
type Pulse struct {
	Min RGB
	Max RGB
}

func (p Pulse) render(frame []RGB, phase int, forward bool) {
	t := float64(phase) / float64(phaseSteps-1)
	if !forward {
		t = 1 - t
	}
	c := Interpolate(p.Min, p.Max, t)
	for i := range frame {
		frame[i] = c
	}
}

var (
	blue  = RGB{0, 0, 255}
	cyan  = RGB{0, 255, 255}
	white = RGB{255, 255, 255}
)

var styles = map[string]Style{
	"loading":      Spinner{Background: blue, Foreground: cyan, Width: 2},
	"provisioning": Spinner{Background: blue, Foreground: white, Width: 6},
	"move":         Pulse{Min: blue, Max: cyan},
	"connected":    Pulse{Min: RGB{0, 17, 0}, Max: RGB{0, 255, 0}},
	"error":        Pulse{Min: RGB{40, 17, 0}, Max: RGB{255, 17, 0}},
	"ota":          Pulse{Min: RGB{40, 17, 0}, Max: RGB{255, 17, 0}},
	"disconnected": Pulse{Min: RGB{40, 17, 0}, Max: RGB{255, 120, 0}},
}

// StyleByName looks up a named style.
func StyleByName(name string) (Style, error) {
	s, ok := styles[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStyle, name)
	}
	return s, nil
}

// StyleNames lists the registered style names in order.
func StyleNames() []string {
	names := make([]string, 0, len(styles))
	for name := range styles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NameOf returns the registered name of s, or "custom". Styles sharing a
// palette resolve to the alphabetically first name.
func NameOf(s Style) string {
	for _, name := range StyleNames() {
		if styles[name] == s {
			return name
		}
	}
	return "custom"
}

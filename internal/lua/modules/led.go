package modules

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/noded/internal/pixel"
)

// LED is the indicator surface exposed to scripts.
type LED interface {
	StartAnimationByName(name string, once bool) error
	SetColor(hue, saturation, brightness uint16) error
	SetPowerState(on bool) error
	SetHue(hue uint16) error
	SetSaturation(saturation uint16) error
	SetBrightness(brightness uint16) error
	Snapshot() pixel.State
	Animating() bool
}

// LEDModule provides the led module to Lua
type LEDModule struct {
	led LED
}

// NewLEDModule creates a new led module
func NewLEDModule(led LED) *LEDModule {
	return &LEDModule{led: led}
}

// Loader is the module loader for Lua
func (m *LEDModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetFuncs(mod, map[string]lua.LGFunction{
		"animate":        m.animate,
		"set_color":      m.setColor,
		"set_power":      m.setPower,
		"set_hue":        m.setHue,
		"set_saturation": m.setSaturation,
		"set_brightness": m.setBrightness,
		"state":          m.state,
	})

	styles := L.NewTable()
	for i, name := range pixel.StyleNames() {
		styles.RawSetInt(i+1, lua.LString(name))
	}
	L.SetField(mod, "styles", styles)

	L.Push(mod)
	return 1
}

// animate(name, once?) -> true | nil, err
func (m *LEDModule) animate(L *lua.LState) int {
	name := L.CheckString(1)
	once := L.OptBool(2, true)
	return pushResult(L, m.led.StartAnimationByName(name, once))
}

// set_color(hue, saturation, brightness) -> true | nil, err
func (m *LEDModule) setColor(L *lua.LState) int {
	hue := L.CheckInt(1)
	if hue < 0 {
		L.ArgError(1, "hue must not be negative")
	}
	return pushResult(L, m.led.SetColor(uint16(hue%360), checkPercent(L, 2), checkPercent(L, 3)))
}

func (m *LEDModule) setPower(L *lua.LState) int {
	return pushResult(L, m.led.SetPowerState(L.CheckBool(1)))
}

func (m *LEDModule) setHue(L *lua.LState) int {
	hue := L.CheckInt(1)
	if hue < 0 {
		L.ArgError(1, "hue must not be negative")
	}
	return pushResult(L, m.led.SetHue(uint16(hue%360)))
}

func (m *LEDModule) setSaturation(L *lua.LState) int {
	return pushResult(L, m.led.SetSaturation(checkPercent(L, 1)))
}

func (m *LEDModule) setBrightness(L *lua.LState) int {
	return pushResult(L, m.led.SetBrightness(checkPercent(L, 1)))
}

// state() -> {power, hue, saturation, brightness, animating}
func (m *LEDModule) state(L *lua.LState) int {
	s := m.led.Snapshot()
	L.Push(MapToLuaTable(L, map[string]any{
		"power":      s.Power,
		"hue":        s.Hue,
		"saturation": s.Saturation,
		"brightness": s.Brightness,
		"animating":  m.led.Animating(),
	}))
	return 1
}

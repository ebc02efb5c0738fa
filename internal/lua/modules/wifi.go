package modules

import (
	"context"

	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/noded/internal/reconnect"
)

// WiFi is the reconnect supervisor surface exposed to scripts.
type WiFi interface {
	IsConnected() bool
	IsCredentialStored(ctx context.Context) bool
	Failures() int
	Enabled() bool
	Phase() reconnect.Phase
	Pause() error
	Resume() error
}

// WiFiModule provides the wifi module to Lua
type WiFiModule struct {
	wifi WiFi
}

// NewWiFiModule creates a new wifi module
func NewWiFiModule(wifi WiFi) *WiFiModule {
	return &WiFiModule{wifi: wifi}
}

// Loader is the module loader for Lua
func (m *WiFiModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetFuncs(mod, map[string]lua.LGFunction{
		"connected": func(L *lua.LState) int {
			L.Push(lua.LBool(m.wifi.IsConnected()))
			return 1
		},
		"credentials_stored": func(L *lua.LState) int {
			ctx := L.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			L.Push(lua.LBool(m.wifi.IsCredentialStored(ctx)))
			return 1
		},
		"failures": func(L *lua.LState) int {
			L.Push(lua.LNumber(m.wifi.Failures()))
			return 1
		},
		"enabled": func(L *lua.LState) int {
			L.Push(lua.LBool(m.wifi.Enabled()))
			return 1
		},
		"phase": func(L *lua.LState) int {
			L.Push(lua.LString(m.wifi.Phase()))
			return 1
		},
		"pause": func(L *lua.LState) int {
			return pushResult(L, m.wifi.Pause())
		},
		"resume": func(L *lua.LState) int {
			return pushResult(L, m.wifi.Resume())
		},
	})

	L.Push(mod)
	return 1
}

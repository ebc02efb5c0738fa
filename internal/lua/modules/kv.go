package modules

import (
	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"
)

// KV is the persistent document store scripts read and write.
type KV interface {
	Load(key string) (any, bool, error)
	Save(key string, value any) error
	Delete(key string) error
	IDs() ([]string, error)
}

// KVModule provides the kv module to Lua. Values survive restarts.
type KVModule struct {
	kv KV
}

// NewKVModule creates a new kv module
func NewKVModule(kv KV) *KVModule {
	return &KVModule{kv: kv}
}

// Loader is the module loader for Lua
func (m *KVModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetFuncs(mod, map[string]lua.LGFunction{
		"get":    m.get,
		"set":    m.set,
		"delete": m.delete,
		"keys":   m.keys,
	})

	L.Push(mod)
	return 1
}

// get(key, default?) -> value | default
func (m *KVModule) get(L *lua.LState) int {
	key := L.CheckString(1)
	def := L.Get(2)

	value, ok, err := m.kv.Load(key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to get value")
	}
	if err != nil || !ok || value == nil {
		L.Push(def)
		return 1
	}
	L.Push(GoToLuaValue(L, value))
	return 1
}

// set(key, value) -> true | nil, err
func (m *KVModule) set(L *lua.LState) int {
	key := L.CheckString(1)
	value := L.CheckAny(2)
	return pushResult(L, m.kv.Save(key, LuaToGo(value)))
}

// delete(key) -> true | nil, err
func (m *KVModule) delete(L *lua.LState) int {
	return pushResult(L, m.kv.Delete(L.CheckString(1)))
}

// keys() -> {key, ...}
func (m *KVModule) keys(L *lua.LState) int {
	ids, err := m.kv.IDs()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list keys")
		ids = nil
	}
	L.Push(GoToLuaValue(L, ids))
	return 1
}

package modules

import (
	"time"

	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"
)

// KVStore is the persistence used by the store module.
// *kv.Store implements it.
type KVStore interface {
	Set(key string, value any, ttl time.Duration) error
	Get(key string) (any, error)
	Delete(key string) (bool, error)
	Keys() ([]string, error)
}

// StoreModule gives scripts values that survive restarts:
//
//	local store = require("store")
//	store.set("last_close", os.time())
//	store.set("snooze", true, { ttl = 600 })
//	local v = store.get("last_close")
type StoreModule struct {
	store KVStore
}

// NewStoreModule creates a new store module.
func NewStoreModule(store KVStore) *StoreModule {
	return &StoreModule{store: store}
}

// Loader is the module loader for Lua
func (m *StoreModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "set", L.NewFunction(m.set))
	L.SetField(mod, "get", L.NewFunction(m.get))
	L.SetField(mod, "delete", L.NewFunction(m.delete))
	L.SetField(mod, "keys", L.NewFunction(m.keys))

	L.Push(mod)
	return 1
}

// set(key, value, opts) -> true | nil, err
// opts: { ttl = seconds }
func (m *StoreModule) set(L *lua.LState) int {
	key := L.CheckString(1)
	value := fromLua(L.Get(2))

	var ttl time.Duration
	if opts := L.OptTable(3, nil); opts != nil {
		if n, ok := L.GetField(opts, "ttl").(lua.LNumber); ok {
			ttl = time.Duration(float64(n) * float64(time.Second))
		}
	}

	if err := m.store.Set(key, value, ttl); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to store value")
		return pushResult(L, err)
	}
	return pushResult(L, nil)
}

// get(key) -> value | nil
func (m *StoreModule) get(L *lua.LState) int {
	key := L.CheckString(1)

	value, err := m.store.Get(key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to get value")
		L.Push(lua.LNil)
		return 1
	}

	L.Push(toLua(L, value))
	return 1
}

// delete(key) -> bool
func (m *StoreModule) delete(L *lua.LState) int {
	key := L.CheckString(1)

	deleted, err := m.store.Delete(key)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to delete key")
	}
	L.Push(lua.LBool(deleted))
	return 1
}

// keys() -> table
func (m *StoreModule) keys(L *lua.LState) int {
	keys, err := m.store.Keys()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list keys")
	}

	tbl := L.NewTable()
	for i, key := range keys {
		tbl.RawSetInt(i+1, lua.LString(key))
	}
	L.Push(tbl)
	return 1
}

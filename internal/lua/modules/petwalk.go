package modules

import (
	"context"

	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/petwalkd/internal/coordinator"
	"github.com/dokzlo13/petwalkd/internal/entity"
)

// Device is the coordinator surface exposed to scripts.
// *coordinator.Coordinator implements it.
type Device interface {
	State() *coordinator.State
	LastUpdateSuccess() bool
	RequestRefresh(ctx context.Context) error
	SetMode(ctx context.Context, key string, value bool) error
	SetState(ctx context.Context, key string, value bool) error
}

// PetwalkModule provides device access to Lua:
//
//	local petwalk = require("petwalk")
//	local s = petwalk.state()            -- nil before the first refresh
//	if s.door == "open" then petwalk.set_state("door", false) end
//	petwalk.set_mode("rfid", true)
//	local ok, err = petwalk.refresh()
type PetwalkModule struct {
	device Device
	name   string
}

// NewPetwalkModule creates a new petwalk module for the named device.
func NewPetwalkModule(device Device, name string) *PetwalkModule {
	return &PetwalkModule{device: device, name: name}
}

// Loader is the module loader for Lua
func (m *PetwalkModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "name", lua.LString(m.name))
	L.SetField(mod, "state", L.NewFunction(m.state))
	L.SetField(mod, "available", L.NewFunction(m.available))
	L.SetField(mod, "is_on", L.NewFunction(m.isOn))
	L.SetField(mod, "door_closed", L.NewFunction(m.doorClosed))
	L.SetField(mod, "set_mode", L.NewFunction(m.setMode))
	L.SetField(mod, "set_state", L.NewFunction(m.setState))
	L.SetField(mod, "refresh", L.NewFunction(m.refresh))

	L.Push(mod)
	return 1
}

// state() -> table|nil
func (m *PetwalkModule) state(L *lua.LState) int {
	L.Push(StateToLua(L, m.device.State()))
	return 1
}

// available() -> bool
func (m *PetwalkModule) available(L *lua.LState) int {
	L.Push(lua.LBool(m.device.LastUpdateSuccess()))
	return 1
}

// is_on(key) -> bool
func (m *PetwalkModule) isOn(L *lua.LState) int {
	key := L.CheckString(1)
	L.Push(lua.LBool(entity.IsOn(m.device.State(), key)))
	return 1
}

// door_closed() -> bool
func (m *PetwalkModule) doorClosed(L *lua.LState) int {
	L.Push(lua.LBool(entity.DoorClosed(m.device.State())))
	return 1
}

// set_mode(key, bool) -> true | nil, err
func (m *PetwalkModule) setMode(L *lua.LState) int {
	key := L.CheckString(1)
	value := L.CheckBool(2)
	return pushResult(L, m.device.SetMode(m.ctx(L), key, value))
}

// set_state(key, bool) -> true | nil, err
func (m *PetwalkModule) setState(L *lua.LState) int {
	key := L.CheckString(1)
	value := L.CheckBool(2)
	return pushResult(L, m.device.SetState(m.ctx(L), key, value))
}

// refresh() -> true | nil, err
func (m *PetwalkModule) refresh(L *lua.LState) int {
	return pushResult(L, m.device.RequestRefresh(m.ctx(L)))
}

func (m *PetwalkModule) ctx(L *lua.LState) context.Context {
	ctx := L.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return coordinator.WithSource(ctx, "lua")
}

func pushResult(L *lua.LState, err error) int {
	if err != nil {
		L.Push(lua.LNil)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

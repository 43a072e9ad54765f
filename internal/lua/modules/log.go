package modules

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"
)

// LogModule forwards script log lines to zerolog, tagged with the device:
//
//	local log = require("log")
//	log.info("door closed by curfew", { hour = 21 })
type LogModule struct {
	device string
}

// NewLogModule creates a log module for the named device.
func NewLogModule(device string) *LogModule {
	return &LogModule{device: device}
}

// Loader is the module loader for Lua
func (m *LogModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "debug", L.NewFunction(m.at(zerolog.DebugLevel)))
	L.SetField(mod, "info", L.NewFunction(m.at(zerolog.InfoLevel)))
	L.SetField(mod, "warn", L.NewFunction(m.at(zerolog.WarnLevel)))
	L.SetField(mod, "error", L.NewFunction(m.at(zerolog.ErrorLevel)))

	L.Push(mod)
	return 1
}

// at returns log.<level>(msg, fields?).
func (m *LogModule) at(level zerolog.Level) lua.LGFunction {
	return func(L *lua.LState) int {
		msg := L.CheckString(1)

		event := log.WithLevel(level).
			Str("source", "lua").
			Str("device", m.device)
		if fields, ok := L.Get(2).(*lua.LTable); ok {
			fields.ForEach(func(k, v lua.LValue) {
				event = event.Interface(lua.LVAsString(k), fromLua(v))
			})
		}
		event.Msg(msg)

		return 0
	}
}

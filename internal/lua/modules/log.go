package modules

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"
)

// LogModule provides logging functions to Lua
type LogModule struct{}

// NewLogModule creates a new log module
func NewLogModule() *LogModule {
	return &LogModule{}
}

// Loader is the module loader for Lua
func (m *LogModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "debug", L.NewFunction(m.level(zerolog.DebugLevel)))
	L.SetField(mod, "info", L.NewFunction(m.level(zerolog.InfoLevel)))
	L.SetField(mod, "warn", L.NewFunction(m.level(zerolog.WarnLevel)))
	L.SetField(mod, "error", L.NewFunction(m.level(zerolog.ErrorLevel)))

	L.Push(mod)
	return 1
}

func (m *LogModule) level(lvl zerolog.Level) lua.LGFunction {
	return func(L *lua.LState) int {
		msg := L.CheckString(1)

		event := log.WithLevel(lvl).Str("source", "lua")
		if fields, ok := L.Get(2).(*lua.LTable); ok {
			fields.ForEach(func(k, v lua.LValue) {
				event = event.Interface(k.String(), luaToGo(v))
			})
		}
		event.Msg(msg)
		return 0
	}
}

// luaToGo converts scalar Lua values for structured log fields.
func luaToGo(v lua.LValue) interface{} {
	switch v := v.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		return string(v)
	default:
		return v.String()
	}
}

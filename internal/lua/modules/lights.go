package modules

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/dmoravec/glowd/internal/controller"
	"github.com/dmoravec/glowd/internal/device"
	"github.com/dmoravec/glowd/internal/session"
)

// LightsModule exposes the controller's intent surface to Lua scripts.
//
// All mutating functions take an optional trailing options table:
//
//	lights.set_brightness(70, { device = "AA:BB:...", all = false })
//	lights.turn_on({ brightness = 40, all = true })
type LightsModule struct {
	ctrl *controller.Controller
}

// NewLightsModule creates the lights module bound to a controller.
func NewLightsModule(ctrl *controller.Controller) *LightsModule {
	return &LightsModule{ctrl: ctrl}
}

// Loader is the module loader for Lua
func (m *LightsModule) Loader(L *lua.LState) int {
	mod := L.NewTable()

	L.SetField(mod, "list", L.NewFunction(m.list))
	L.SetField(mod, "selected", L.NewFunction(m.selected))
	L.SetField(mod, "select", L.NewFunction(m.selectDevice))
	L.SetField(mod, "state", L.NewFunction(m.state))
	L.SetField(mod, "set_brightness", L.NewFunction(m.setBrightness))
	L.SetField(mod, "set_ct", L.NewFunction(m.setColorTemp))
	L.SetField(mod, "turn_on", L.NewFunction(m.turnOn))
	L.SetField(mod, "turn_off", L.NewFunction(m.turnOff))

	L.Push(mod)
	return 1
}

// lights.list() -> { "AA:BB:..", ... }
func (m *LightsModule) list(L *lua.LState) int {
	tbl := L.NewTable()
	for _, id := range m.ctrl.Devices() {
		tbl.Append(lua.LString(id))
	}
	L.Push(tbl)
	return 1
}

// lights.selected() -> string | nil
func (m *LightsModule) selected(L *lua.LState) int {
	id, ok := m.ctrl.Selected()
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(id))
	return 1
}

// lights.select(id) -> bool
func (m *LightsModule) selectDevice(L *lua.LState) int {
	id := L.CheckString(1)
	L.Push(lua.LBool(m.ctrl.Select(device.Identity(id))))
	return 1
}

// lights.state(id) -> table | nil
func (m *LightsModule) state(L *lua.LState) int {
	id := L.CheckString(1)
	st, ok := m.ctrl.DeviceState(device.Identity(id))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}

	tbl := L.NewTable()
	L.SetField(tbl, "is_on", lua.LBool(st.IsOn))
	L.SetField(tbl, "brightness", lua.LNumber(st.Brightness))
	L.SetField(tbl, "color_temp_k", lua.LNumber(st.ColorTempK))
	L.SetField(tbl, "name", lua.LString(st.Name))
	L.SetField(tbl, "model", lua.LString(st.ModelName))
	L.SetField(tbl, "firmware", lua.LString(st.Firmware))
	L.Push(tbl)
	return 1
}

// lights.set_brightness(value [, opts])
func (m *LightsModule) setBrightness(L *lua.LState) int {
	v := float32(L.CheckNumber(1))
	m.ctrl.SetBrightness(optsTarget(L, 2), v)
	return 0
}

// lights.set_ct(kelvin [, opts])
func (m *LightsModule) setColorTemp(L *lua.LState) int {
	k := uint16(L.CheckNumber(1))
	m.ctrl.SetColorTemperature(optsTarget(L, 2), k)
	return 0
}

// lights.turn_on([opts]) -- opts may carry brightness
func (m *LightsModule) turnOn(L *lua.LState) int {
	var brightness *float32
	if opts, ok := L.Get(1).(*lua.LTable); ok {
		if n, ok := L.GetField(opts, "brightness").(lua.LNumber); ok {
			v := float32(n)
			brightness = &v
		}
	}
	m.ctrl.TurnOn(optsTarget(L, 1), brightness)
	return 0
}

// lights.turn_off([opts])
func (m *LightsModule) turnOff(L *lua.LState) int {
	m.ctrl.TurnOff(optsTarget(L, 1))
	return 0
}

// optsTarget reads the device/all scoping fields from an options table.
func optsTarget(L *lua.LState, idx int) session.Target {
	var t session.Target
	opts, ok := L.Get(idx).(*lua.LTable)
	if !ok {
		return t
	}
	if s, ok := L.GetField(opts, "device").(lua.LString); ok {
		t.Device = device.Identity(s)
	}
	if b, ok := L.GetField(opts, "all").(lua.LBool); ok {
		t.All = bool(b)
	}
	return t
}

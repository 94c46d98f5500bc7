// Package lua hosts the optional automation script. The script gets a
// `lights` module bound to the controller and a `log` module; it runs once at
// startup and may register no hooks at all.
package lua

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/dmoravec/glowd/internal/controller"
	"github.com/dmoravec/glowd/internal/lua/modules"
)

// Runtime owns the Lua state. gopher-lua states are not goroutine-safe; the
// script runs on the caller's goroutine only.
type Runtime struct {
	state *lua.LState
}

// NewRuntime creates a state with the glowd modules preloaded.
func NewRuntime(ctrl *controller.Controller) *Runtime {
	L := lua.NewState()
	L.PreloadModule("log", modules.NewLogModule().Loader)
	L.PreloadModule("lights", modules.NewLightsModule(ctrl).Loader)
	return &Runtime{state: L}
}

// Run executes the automation script.
func (r *Runtime) Run(script string) error {
	if err := r.state.DoFile(script); err != nil {
		return fmt.Errorf("lua script %s: %w", script, err)
	}
	return nil
}

// Close releases the Lua state.
func (r *Runtime) Close() {
	r.state.Close()
}

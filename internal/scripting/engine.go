package scripting

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/l1jgo/cellapp/internal/core/ecs"
	"github.com/l1jgo/cellapp/internal/world"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Engine wraps a single gopher-lua VM running entity scripts.
// Single-goroutine access only (tick loop). It implements world.Hooks:
// every callback maps to a global Lua function of the same snake_case name,
// and missing functions are skipped.
type Engine struct {
	vm   *lua.LState
	log  *zap.Logger
	cell *world.Cell

	props   func(en *world.Entity, name, value string)
	migrate func(id ecs.EntityID, dst ecs.ComponentID, keepGhost bool)
	errors  int
}

// NewEngine creates a Lua engine and loads all scripts from the given directory.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	// Set API version global
	vm.SetGlobal("API_VERSION", lua.LNumber(2))

	e := &Engine{vm: vm, log: log}
	e.registerCellAPI()

	// Load core scripts first, then entity scripts
	for _, sub := range []string{"core", "entity"} {
		p := filepath.Join(scriptsDir, sub)
		if err := e.loadDir(p); err != nil {
			vm.Close()
			return nil, fmt.Errorf("load %s scripts: %w", sub, err)
		}
	}

	return e, nil
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// DoString runs a chunk in the engine's VM.
func (e *Engine) DoString(src string) error {
	return e.vm.DoString(src)
}

// Bind points the cell API at c and installs the engine as c's hooks.
func (e *Engine) Bind(c *world.Cell) {
	e.cell = c
	c.SetHooks(e)
}

// SetPropertySink routes cell.set_property through fn.
func (e *Engine) SetPropertySink(fn func(en *world.Entity, name, value string)) {
	e.props = fn
}

// SetMigrator enables cell.migrate. Requests are queued by fn and carried
// out later in the tick.
func (e *Engine) SetMigrator(fn func(id ecs.EntityID, dst ecs.ComponentID, keepGhost bool)) {
	e.migrate = fn
}

// Errors returns how many script calls have failed.
func (e *Engine) Errors() int { return e.errors }

func (e *Engine) Close() {
	e.vm.Close()
}

// call invokes a global Lua function if it exists. Script errors are logged
// and swallowed: a broken script must not take the tick down.
func (e *Engine) call(name string, args ...lua.LValue) {
	fn := e.vm.GetGlobal(name)
	if fn.Type() != lua.LTFunction {
		return
	}
	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}, args...); err != nil {
		e.errors++
		e.log.Error("腳本錯誤", zap.String("fn", name), zap.Error(err))
	}
}

func entityArg(en *world.Entity) lua.LValue {
	if en == nil {
		return lua.LNil
	}
	return lua.LNumber(en.ID())
}

func (e *Engine) OnEnteredView(observer, other *world.Entity) {
	e.call("on_entered_view", entityArg(observer), entityArg(other))
}

func (e *Engine) OnLeftView(observer, other *world.Entity) {
	e.call("on_left_view", entityArg(observer), entityArg(other))
}

func (e *Engine) OnWitnessed(en *world.Entity, witnessed bool) {
	e.call("on_witnessed", entityArg(en), lua.LBool(witnessed))
}

func (e *Engine) OnEnterTrap(en, other *world.Entity, trapID uint32, userArg int32) {
	e.call("on_enter_trap", entityArg(en), entityArg(other), lua.LNumber(trapID), lua.LNumber(userArg))
}

func (e *Engine) OnLeaveTrap(en, other *world.Entity, trapID uint32, userArg int32) {
	e.call("on_leave_trap", entityArg(en), entityArg(other), lua.LNumber(trapID), lua.LNumber(userArg))
}

func (e *Engine) OnMoveOver(en *world.Entity, controllerID uint32, userArg int32) {
	e.call("on_move_over", entityArg(en), lua.LNumber(controllerID), lua.LNumber(userArg))
}

func (e *Engine) OnTurn(en *world.Entity, controllerID uint32, userArg int32) {
	e.call("on_turn", entityArg(en), lua.LNumber(controllerID), lua.LNumber(userArg))
}

func (e *Engine) OnDestroy(en *world.Entity) {
	e.call("on_destroy", entityArg(en))
}

// OnRemoteCall delivers a method call from the entity's own client.
func (e *Engine) OnRemoteCall(en *world.Entity, method string, args []byte) {
	e.call("on_remote_call", entityArg(en), lua.LString(method), lua.LString(args))
}

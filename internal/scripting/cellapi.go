package scripting

import (
	"github.com/l1jgo/cellapp/internal/coord"
	"github.com/l1jgo/cellapp/internal/core/ecs"
	"github.com/l1jgo/cellapp/internal/world"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// registerCellAPI installs the global `cell` table. Entities are addressed
// by id; calls on an unknown or ghost entity return nil (or false).
func (e *Engine) registerCellAPI() {
	api := map[string]lua.LGFunction{
		"tick":              e.luaTick,
		"exists":            e.luaExists,
		"is_real":           e.luaIsReal,
		"type":              e.luaType,
		"space":             e.luaSpace,
		"position":          e.luaPosition,
		"set_position":      e.luaSetPosition,
		"teleport":          e.luaTeleport,
		"destroy":           e.luaDestroy,
		"destroy_later":     e.luaDestroyLater,
		"move_to":           e.luaMoveTo,
		"rotate":            e.luaRotate,
		"cancel_controller": e.luaCancelController,
		"add_proximity":     e.luaAddProximity,
		"cancel_proximity":  e.luaCancelProximity,
		"entities_in_range": e.luaEntitiesInRange,
		"property":          e.luaProperty,
		"set_property":      e.luaSetProperty,
		"call_clients":      e.luaCallClients,
		"set_view_radius":   e.luaSetViewRadius,
		"in_view":           e.luaInView,
		"migrate":           e.luaMigrate,
		"log":               e.luaLog,
	}
	e.vm.SetGlobal("cell", e.vm.SetFuncs(e.vm.NewTable(), api))
}

func (e *Engine) entity(L *lua.LState, n int) *world.Entity {
	if e.cell == nil {
		return nil
	}
	en := e.cell.EntityByID(ecs.EntityID(L.CheckInt(n)))
	if en == nil || en.IsDestroyed() {
		return nil
	}
	return en
}

func (e *Engine) realEntity(L *lua.LState, n int) *world.Entity {
	en := e.entity(L, n)
	if en == nil || !en.IsReal() {
		return nil
	}
	return en
}

func (e *Engine) luaTick(L *lua.LState) int {
	if e.cell == nil {
		L.Push(lua.LNumber(0))
		return 1
	}
	L.Push(lua.LNumber(e.cell.Tick()))
	return 1
}

func (e *Engine) luaExists(L *lua.LState) int {
	L.Push(lua.LBool(e.entity(L, 1) != nil))
	return 1
}

func (e *Engine) luaIsReal(L *lua.LState) int {
	L.Push(lua.LBool(e.realEntity(L, 1) != nil))
	return 1
}

func (e *Engine) luaType(L *lua.LState) int {
	en := e.entity(L, 1)
	if en == nil {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(en.Type().Name))
	return 1
}

func (e *Engine) luaSpace(L *lua.LState) int {
	en := e.entity(L, 1)
	if en == nil {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LNumber(en.SpaceID()))
	return 1
}

func (e *Engine) luaPosition(L *lua.LState) int {
	en := e.entity(L, 1)
	if en == nil {
		L.Push(lua.LNil)
		return 1
	}
	p := en.Position()
	L.Push(lua.LNumber(p.X))
	L.Push(lua.LNumber(p.Y))
	L.Push(lua.LNumber(p.Z))
	return 3
}

func checkVector(L *lua.LState, n int) coord.Vector3 {
	return coord.Vector3{
		X: float32(L.CheckNumber(n)),
		Y: float32(L.CheckNumber(n + 1)),
		Z: float32(L.CheckNumber(n + 2)),
	}
}

func (e *Engine) luaSetPosition(L *lua.LState) int {
	en := e.realEntity(L, 1)
	if en == nil {
		L.Push(lua.LFalse)
		return 1
	}
	en.SetPosition(checkVector(L, 2))
	L.Push(lua.LTrue)
	return 1
}

// cell.teleport(id, space, x, y, z)
func (e *Engine) luaTeleport(L *lua.LState) int {
	en := e.realEntity(L, 1)
	if en == nil {
		L.Push(lua.LFalse)
		return 1
	}
	space := uint32(L.CheckInt(2))
	if err := en.Teleport(space, checkVector(L, 3), en.Direction()); err != nil {
		e.log.Warn("腳本傳送失敗", zap.Int32("entity", int32(en.ID())), zap.Error(err))
		L.Push(lua.LFalse)
		return 1
	}
	L.Push(lua.LTrue)
	return 1
}

// cell.destroy(id) tears the entity down now, even from inside a callback.
func (e *Engine) luaDestroy(L *lua.LState) int {
	en := e.entity(L, 1)
	if en == nil {
		L.Push(lua.LFalse)
		return 1
	}
	L.Push(lua.LBool(e.cell.DestroyEntity(en.ID()) == nil))
	return 1
}

func (e *Engine) luaDestroyLater(L *lua.LState) int {
	en := e.entity(L, 1)
	if en != nil {
		e.cell.MarkForDestruction(en.ID())
	}
	return 0
}

// cell.move_to(id, x, y, z, speed, distance[, face, vertical, arg]) -> controller id
func (e *Engine) luaMoveTo(L *lua.LState) int {
	en := e.realEntity(L, 1)
	if en == nil {
		L.Push(lua.LNil)
		return 1
	}
	dest := checkVector(L, 2)
	speed := float32(L.CheckNumber(5))
	dist := float32(L.OptNumber(6, 0))
	face := L.OptBool(7, true)
	vertical := L.OptBool(8, false)
	arg := int32(L.OptInt(9, 0))
	id, err := en.MoveToPoint(dest, speed, dist, face, vertical, arg)
	if err != nil {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LNumber(id))
	return 1
}

// cell.rotate(id, yaw, speed[, arg]) -> controller id
func (e *Engine) luaRotate(L *lua.LState) int {
	en := e.realEntity(L, 1)
	if en == nil {
		L.Push(lua.LNil)
		return 1
	}
	id, err := en.Rotate(float32(L.CheckNumber(2)), float32(L.CheckNumber(3)), int32(L.OptInt(4, 0)))
	if err != nil {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LNumber(id))
	return 1
}

func (e *Engine) luaCancelController(L *lua.LState) int {
	en := e.realEntity(L, 1)
	if en == nil {
		L.Push(lua.LFalse)
		return 1
	}
	L.Push(lua.LBool(en.CancelController(uint32(L.CheckInt(2)))))
	return 1
}

// cell.add_proximity(id, xz, y[, arg]) -> trap id
func (e *Engine) luaAddProximity(L *lua.LState) int {
	en := e.realEntity(L, 1)
	if en == nil {
		L.Push(lua.LNil)
		return 1
	}
	id, err := en.AddProximity(float32(L.CheckNumber(2)), float32(L.CheckNumber(3)), int32(L.OptInt(4, 0)))
	if err != nil {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LNumber(id))
	return 1
}

func (e *Engine) luaCancelProximity(L *lua.LState) int {
	en := e.realEntity(L, 1)
	if en == nil {
		L.Push(lua.LFalse)
		return 1
	}
	L.Push(lua.LBool(en.CancelProximity(uint32(L.CheckInt(2)))))
	return 1
}

// cell.entities_in_range(id, radius[, type]) -> {ids...}
func (e *Engine) luaEntitiesInRange(L *lua.LState) int {
	en := e.entity(L, 1)
	if en == nil {
		L.Push(lua.LNil)
		return 1
	}
	found := en.EntitiesInRange(float32(L.CheckNumber(2)), L.OptString(3, ""))
	t := L.CreateTable(len(found), 0)
	for _, o := range found {
		t.Append(lua.LNumber(o.ID()))
	}
	L.Push(t)
	return 1
}

func (e *Engine) luaProperty(L *lua.LState) int {
	en := e.entity(L, 1)
	if en == nil {
		L.Push(lua.LNil)
		return 1
	}
	v, ok := en.Property(L.CheckString(2))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(v))
	return 1
}

// cell.set_property(id, name, value). With a property sink installed the
// change also reaches ghosts, and a ghost passes it to its real.
func (e *Engine) luaSetProperty(L *lua.LState) int {
	name, value := L.CheckString(2), L.CheckString(3)
	if e.props != nil {
		if en := e.entity(L, 1); en != nil {
			e.props(en, name, value)
			L.Push(lua.LTrue)
			return 1
		}
		L.Push(lua.LFalse)
		return 1
	}
	en := e.realEntity(L, 1)
	if en == nil {
		L.Push(lua.LFalse)
		return 1
	}
	en.SetProperty(name, value)
	L.Push(lua.LTrue)
	return 1
}

// cell.migrate(id, cell_id[, keep_ghost]) -> queued
func (e *Engine) luaMigrate(L *lua.LState) int {
	en := e.realEntity(L, 1)
	dst := ecs.ComponentID(L.CheckInt64(2))
	if en == nil || e.migrate == nil || dst == 0 || (e.cell != nil && dst == e.cell.ID()) {
		L.Push(lua.LFalse)
		return 1
	}
	e.migrate(en.ID(), dst, L.OptBool(3, false))
	L.Push(lua.LTrue)
	return 1
}

// cell.call_clients(id, method, args[, others_only]) -> number of clients
func (e *Engine) luaCallClients(L *lua.LState) int {
	en := e.realEntity(L, 1)
	if en == nil {
		L.Push(lua.LNumber(0))
		return 1
	}
	n := en.CallClients(L.CheckString(2), []byte(L.OptString(3, "")), L.OptBool(4, false))
	L.Push(lua.LNumber(n))
	return 1
}

func (e *Engine) luaSetViewRadius(L *lua.LState) int {
	en := e.realEntity(L, 1)
	if en == nil || en.Witness() == nil {
		L.Push(lua.LFalse)
		return 1
	}
	en.Witness().SetViewRadius(float32(L.CheckNumber(2)), float32(L.OptNumber(3, 0)))
	L.Push(lua.LTrue)
	return 1
}

// cell.in_view(observer, other)
func (e *Engine) luaInView(L *lua.LState) int {
	en := e.realEntity(L, 1)
	if en == nil || en.Witness() == nil {
		L.Push(lua.LFalse)
		return 1
	}
	L.Push(lua.LBool(en.Witness().EntityInView(ecs.EntityID(L.CheckInt(2)))))
	return 1
}

func (e *Engine) luaLog(L *lua.LState) int {
	e.log.Info(L.CheckString(1), zap.String("source", "lua"))
	return 0
}

package world

import (
	"math"

	"github.com/l1jgo/cellapp/internal/coord"
	"github.com/l1jgo/cellapp/internal/core/ecs"
)

// Direction is yaw/pitch/roll in radians, each within [-π, π].
type Direction struct {
	Yaw   float32
	Pitch float32
	Roll  float32
}

func (d Direction) sub(o Direction) coord.Vector3 {
	return coord.Vector3{X: d.Roll - o.Roll, Y: d.Pitch - o.Pitch, Z: d.Yaw - o.Yaw}
}

// VolatileInfo selects which volatile fields of a type are synced to
// observers. A value > 0 enables the field. Optimized lets entities on the
// ground drop y from position updates.
type VolatileInfo struct {
	Position  float32 `yaml:"position"`
	Yaw       float32 `yaml:"yaw"`
	Pitch     float32 `yaml:"pitch"`
	Roll      float32 `yaml:"roll"`
	Optimized bool    `yaml:"optimized"`
}

var DefaultVolatile = VolatileInfo{Position: 1, Yaw: 1, Pitch: 1, Roll: 1, Optimized: true}

// EntityType is one row of the entity definition table.
type EntityType struct {
	UType    uint16
	Name     string
	Volatile VolatileInfo
}

// ClientChannel is the outbound side of a client connection. Send buffers a
// frame; it is written out by the output phase.
type ClientChannel interface {
	Send(data []byte)
	IsClosed() bool
}

// Hooks are the script callbacks the cell raises. They run on the tick
// goroutine, often inside a coordinate cascade, and may create, move or
// destroy entities.
type Hooks interface {
	OnEnteredView(observer, other *Entity)
	OnLeftView(observer, other *Entity)
	OnWitnessed(e *Entity, witnessed bool)
	OnEnterTrap(e, other *Entity, trapID uint32, userArg int32)
	OnLeaveTrap(e, other *Entity, trapID uint32, userArg int32)
	OnMoveOver(e *Entity, controllerID uint32, userArg int32)
	OnTurn(e *Entity, controllerID uint32, userArg int32)
	OnDestroy(e *Entity)
}

// NopHooks ignores every callback.
type NopHooks struct{}

func (NopHooks) OnEnteredView(*Entity, *Entity)              {}
func (NopHooks) OnLeftView(*Entity, *Entity)                 {}
func (NopHooks) OnWitnessed(*Entity, bool)                   {}
func (NopHooks) OnEnterTrap(*Entity, *Entity, uint32, int32) {}
func (NopHooks) OnLeaveTrap(*Entity, *Entity, uint32, int32) {}
func (NopHooks) OnMoveOver(*Entity, uint32, int32)           {}
func (NopHooks) OnTurn(*Entity, uint32, int32)               {}
func (NopHooks) OnDestroy(*Entity)                           {}

// Options are the cell tunables read from the [cell] config section.
type Options struct {
	HasY                    bool
	DefaultViewRadius       float32
	DefaultViewLag          float32
	PosDirAdditionalUpdates uint64 // 0: sync volatile data every tick
	AliasEntityID           bool
	RestoreViewEntities     bool
	MaxPackRange            float32
}

func DefaultOptions() Options {
	return Options{
		DefaultViewRadius:       80,
		DefaultViewLag:          5,
		PosDirAdditionalUpdates: 2,
		AliasEntityID:           true,
		RestoreViewEntities:     true,
		MaxPackRange:            512,
	}
}

// lastUnset marks the base position/direction as never sent.
const lastUnset = -math.MaxFloat32

// weakRef resolves an entity by id and incarnation.
type weakRef struct {
	id  ecs.EntityID
	gen uint32
}

func (r weakRef) get(c *Cell) *Entity {
	e := c.entities[r.id]
	if e == nil || (r.gen != 0 && e.gen != r.gen) || e.destroyed {
		return nil
	}
	return e
}

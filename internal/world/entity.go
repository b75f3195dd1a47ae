package world

import (
	"fmt"

	"github.com/l1jgo/cellapp/internal/coord"
	"github.com/l1jgo/cellapp/internal/core/ecs"
	"github.com/l1jgo/cellapp/internal/net/packet"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

// Entity is a simulated object placed in a space. A real entity is owned by
// this cell; a ghost mirrors one owned by realCell.
type Entity struct {
	id   ecs.EntityID
	gen  uint32 // incarnation, tells a re-created id apart
	typ  *EntityType
	cell *Cell

	space *Space
	node  ecs.Handle

	pos        coord.Vector3
	dir        Direction
	posChanged uint64
	dirChanged uint64
	onGround   bool
	volatile   *VolatileInfo

	props        map[string]string
	controlledBy ecs.EntityID

	real     bool
	realCell ecs.ComponentID

	witness     *Witness
	witnessedBy []ecs.EntityID

	traps       map[uint32]*proximity
	controllers map[uint32]controller

	destroying bool
	destroyed  bool
}

func (e *Entity) ID() ecs.EntityID           { return e.id }
func (e *Entity) Type() *EntityType          { return e.typ }
func (e *Entity) Cell() *Cell                { return e.cell }
func (e *Entity) Space() *Space              { return e.space }
func (e *Entity) IsReal() bool               { return e.real }
func (e *Entity) RealCell() ecs.ComponentID  { return e.realCell }
func (e *Entity) Position() coord.Vector3    { return e.pos }
func (e *Entity) Direction() Direction       { return e.dir }
func (e *Entity) OnGround() bool             { return e.onGround }
func (e *Entity) PosChangedTick() uint64     { return e.posChanged }
func (e *Entity) DirChangedTick() uint64     { return e.dirChanged }
func (e *Entity) IsDestroyed() bool          { return e.destroyed || e.destroying }
func (e *Entity) Witness() *Witness          { return e.witness }
func (e *Entity) ControlledBy() ecs.EntityID { return e.controlledBy }

func (e *Entity) SpaceID() uint32 {
	if e.space == nil {
		return 0
	}
	return e.space.id
}

// VolatileInfo returns the per-entity override or the type default.
func (e *Entity) VolatileInfo() VolatileInfo {
	if e.volatile != nil {
		return *e.volatile
	}
	return e.typ.Volatile
}

func (e *Entity) SetVolatileInfo(v VolatileInfo) { e.volatile = &v }

// SetPosition moves the entity and runs the coordinate cascade, which may
// fire view and trap callbacks before it returns.
func (e *Entity) SetPosition(pos coord.Vector3) {
	if e.destroyed || pos == e.pos {
		return
	}
	e.pos = pos
	e.posChanged = e.cell.tick
	if e.space != nil && !e.node.IsZero() {
		e.space.coords.MoveEntity(e.node, pos)
	}
}

func (e *Entity) SetDirection(dir Direction) {
	if e.destroyed || dir == e.dir {
		return
	}
	e.dir = dir
	e.dirChanged = e.cell.tick
}

func (e *Entity) SetPositionAndDirection(pos coord.Vector3, dir Direction) {
	e.SetDirection(dir)
	e.SetPosition(pos)
}

func (e *Entity) SetOnGround(v bool) { e.onGround = v }

// SetControlledBy names the entity whose client drives this one. 0 clears.
func (e *Entity) SetControlledBy(id ecs.EntityID) { e.controlledBy = id }

// IsControlledNotSelfClient reports whether another entity's client drives
// this entity.
func (e *Entity) IsControlledNotSelfClient() bool {
	return e.controlledBy != 0 && e.controlledBy != e.id
}

func (e *Entity) Property(name string) (string, bool) {
	v, ok := e.props[name]
	return v, ok
}

// PropertyNames lists client property names in sorted order.
func (e *Entity) PropertyNames() []string {
	names := make([]string, 0, len(e.props))
	for k := range e.props {
		names = append(names, k)
	}
	slices.Sort(names)
	return names
}

// SetProperty changes a client property and pushes it to every client that
// currently sees the entity on this cell. Ghosts broadcast too: their
// observers never see the real.
func (e *Entity) SetProperty(name, value string) {
	if old, ok := e.props[name]; ok && old == value {
		return
	}
	e.props[name] = value
	e.broadcastProperty(name, value)
}

// WitnessedBy lists the observers whose view contains this entity.
func (e *Entity) WitnessedBy() []ecs.EntityID {
	return slices.Clone(e.witnessedBy)
}

func (e *Entity) IsWitnessed() bool { return len(e.witnessedBy) > 0 }

func (e *Entity) addWitnessed(observer ecs.EntityID) {
	e.witnessedBy = append(e.witnessedBy, observer)
	if len(e.witnessedBy) == 1 {
		e.cell.hooks.OnWitnessed(e, true)
	}
}

func (e *Entity) delWitnessed(observer ecs.EntityID) {
	i := slices.Index(e.witnessedBy, observer)
	if i < 0 {
		return
	}
	e.witnessedBy = slices.Delete(e.witnessedBy, i, i+1)
	if len(e.witnessedBy) == 0 {
		e.cell.hooks.OnWitnessed(e, false)
	}
}

// EntitiesInRange returns the entities around this one, itself excluded.
func (e *Entity) EntitiesInRange(radius float32, typeName string) []*Entity {
	if e.space == nil {
		return nil
	}
	all := e.space.inRange(e.node, e.pos, radius, typeName)
	out := all[:0]
	for _, o := range all {
		if o != e {
			out = append(out, o)
		}
	}
	return out
}

// AttachWitness gives the entity an observer bound to ch. The client is told
// about the entity itself and, if it is in a space, about the space, then
// the default view triggers are installed.
func (e *Entity) AttachWitness(ch ClientChannel) *Witness {
	if e.witness != nil {
		e.witness.client = ch
		return e.witness
	}
	w := e.cell.allocWitness(e, ch)
	if e.controlledBy == 0 {
		e.controlledBy = e.id
	}
	w.onAttach()
	if e.space != nil {
		w.sendEnterSpace(e.space)
	}
	w.SetViewRadius(e.cell.opts.DefaultViewRadius, e.cell.opts.DefaultViewLag)
	return w
}

// DetachWitness tells the client the entity left the world and releases the
// witness. Every visible entity gets its leave first.
func (e *Entity) DetachWitness() {
	w := e.witness
	if w == nil {
		return
	}
	w.detach()
}

// Teleport moves a real entity, possibly into another space on this cell.
func (e *Entity) Teleport(spaceID uint32, pos coord.Vector3, dir Direction) error {
	if !e.real {
		return fmt.Errorf("teleport %d: %w", e.id, ErrNotReal)
	}
	dst := e.cell.spaces[spaceID]
	if dst == nil {
		return fmt.Errorf("teleport %d: %w: %d", e.id, ErrSpaceNotFound, spaceID)
	}
	if dst == e.space {
		e.SetPositionAndDirection(pos, dir)
		return nil
	}
	if e.space != nil {
		e.space.removeEntity(e)
	}
	if e.destroying {
		return nil
	}
	e.pos, e.dir = pos, dir
	e.posChanged, e.dirChanged = e.cell.tick, e.cell.tick
	dst.addEntity(e)
	e.reinstallProximities()
	e.cell.log.Debug("實體傳送",
		zap.Int32("entity", int32(e.id)),
		zap.Uint32("space", spaceID),
	)
	return nil
}

// BecomeGhost demotes a real entity after its ownership moved to owner. The
// caller serializes witness and controllers first; both are dropped here.
func (e *Entity) BecomeGhost(owner ecs.ComponentID) {
	if !e.real {
		return
	}
	e.cancelControllers()
	e.cancelProximities()
	if e.witness != nil {
		e.witness.release()
	}
	e.real = false
	e.realCell = owner
}

// SetRealCell records where the real of a ghost lives now.
func (e *Entity) SetRealCell(owner ecs.ComponentID) {
	if !e.real {
		e.realCell = owner
	}
}

// NotifyHandoff tells the entity's own client that the entity now lives on
// cell dst. The client keeps its view and binds there.
func (e *Entity) NotifyHandoff(dst ecs.ComponentID) {
	if e.witness == nil {
		return
	}
	out := packet.NewWriter()
	out.BeginMessage(packet.S_OPCODE_ENTITY_GONE)
	out.WriteD(int32(e.id))
	out.WriteQ(uint64(dst))
	out.EndMessage()
	e.witness.send(out.Bytes())
}

// BecomeReal promotes a ghost once ownership arrived here.
func (e *Entity) BecomeReal() {
	e.real = true
	e.realCell = e.cell.id
}

// ApplyGhostUpdate copies volatile state pushed by the real entity.
func (e *Entity) ApplyGhostUpdate(pos coord.Vector3, dir Direction, onGround bool) {
	e.onGround = onGround
	e.SetPositionAndDirection(pos, dir)
}

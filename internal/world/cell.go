package world

import (
	"fmt"
	"time"

	"github.com/l1jgo/cellapp/internal/coord"
	"github.com/l1jgo/cellapp/internal/core/ecs"
	"github.com/l1jgo/cellapp/internal/core/event"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

// Cell is the process context: entity table, spaces, witnesses and the
// destroy queue. Accessed only from the tick goroutine, no locks.
type Cell struct {
	id   ecs.ComponentID
	opts Options
	log  *zap.Logger
	bus  *event.Bus

	entities  map[ecs.EntityID]*Entity
	spaces    map[uint32]*Space
	types     map[string]*EntityType
	utypes    map[uint16]*EntityType
	witnesses *ecs.Arena[Witness]
	hooks     Hooks

	tick     uint64
	nextGen  uint32
	nextCtrl uint32
	destroyQ []ecs.EntityID
}

func NewCell(id ecs.ComponentID, opts Options, bus *event.Bus, log *zap.Logger) *Cell {
	if opts.MaxPackRange <= 0 {
		opts.MaxPackRange = 512
	}
	if bus == nil {
		bus = event.NewBus()
	}
	return &Cell{
		id:        id,
		opts:      opts,
		log:       log,
		bus:       bus,
		entities:  make(map[ecs.EntityID]*Entity),
		spaces:    make(map[uint32]*Space),
		types:     make(map[string]*EntityType),
		utypes:    make(map[uint16]*EntityType),
		witnesses: ecs.NewArena[Witness](64),
		hooks:     NopHooks{},
	}
}

func (c *Cell) ID() ecs.ComponentID { return c.id }
func (c *Cell) Options() Options    { return c.opts }
func (c *Cell) Log() *zap.Logger    { return c.log }
func (c *Cell) Bus() *event.Bus     { return c.bus }
func (c *Cell) Tick() uint64        { return c.tick }
func (c *Cell) Hooks() Hooks        { return c.hooks }

// AdvanceTick starts a new tick. Change stamps of positions and directions
// are compared against this counter.
func (c *Cell) AdvanceTick() { c.tick++ }

func (c *Cell) SetHooks(h Hooks) {
	if h == nil {
		h = NopHooks{}
	}
	c.hooks = h
}

// RegisterType adds or replaces an entity type.
func (c *Cell) RegisterType(t EntityType) {
	tt := t
	c.types[t.Name] = &tt
	c.utypes[t.UType] = &tt
}

func (c *Cell) Type(name string) *EntityType     { return c.types[name] }
func (c *Cell) TypeByUType(u uint16) *EntityType { return c.utypes[u] }

// CreateSpace returns the space with this id, creating it if needed.
func (c *Cell) CreateSpace(id uint32) *Space {
	if s := c.spaces[id]; s != nil {
		return s
	}
	s := &Space{
		id:       id,
		cell:     c,
		coords:   coord.NewSystem(c.opts.HasY, c.log.With(zap.Uint32("space", id))),
		entities: make(map[ecs.EntityID]*Entity),
	}
	c.spaces[id] = s
	c.log.Info(fmt.Sprintf("空間建立  space=%d", id))
	return s
}

func (c *Cell) Space(id uint32) *Space { return c.spaces[id] }

// SpaceIDs lists the spaces in id order.
func (c *Cell) SpaceIDs() []uint32 {
	ids := make([]uint32, 0, len(c.spaces))
	for id := range c.spaces {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// EntityByID returns the live entity or nil.
func (c *Cell) EntityByID(id ecs.EntityID) *Entity {
	e := c.entities[id]
	if e == nil || e.destroyed {
		return nil
	}
	return e
}

func (c *Cell) EntityCount() int { return len(c.entities) }

// EntityIDs lists live entities in id order.
func (c *Cell) EntityIDs() []ecs.EntityID {
	ids := make([]ecs.EntityID, 0, len(c.entities))
	for id, e := range c.entities {
		if !e.destroyed {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

// CreateEntity creates a real entity and places it in a space.
func (c *Cell) CreateEntity(id ecs.EntityID, typeName string, spaceID uint32, pos coord.Vector3, dir Direction) (*Entity, error) {
	e, err := c.newEntity(id, typeName, pos, dir)
	if err != nil {
		return nil, err
	}
	e.real = true
	e.realCell = c.id
	return e, c.place(e, spaceID)
}

// CreateGhost creates a mirror of an entity that is real on owner.
func (c *Cell) CreateGhost(id ecs.EntityID, typeName string, owner ecs.ComponentID, spaceID uint32, pos coord.Vector3, dir Direction) (*Entity, error) {
	e, err := c.newEntity(id, typeName, pos, dir)
	if err != nil {
		return nil, err
	}
	e.realCell = owner
	return e, c.place(e, spaceID)
}

func (c *Cell) newEntity(id ecs.EntityID, typeName string, pos coord.Vector3, dir Direction) (*Entity, error) {
	if c.EntityByID(id) != nil {
		return nil, fmt.Errorf("create entity %d: already exists", id)
	}
	t := c.types[typeName]
	if t == nil {
		return nil, fmt.Errorf("create entity %d: %w: %q", id, ErrUnknownType, typeName)
	}
	c.nextGen++
	e := &Entity{
		id:         id,
		gen:        c.nextGen,
		typ:        t,
		cell:       c,
		pos:        pos,
		dir:        dir,
		onGround:   true,
		posChanged: c.tick,
		dirChanged: c.tick,
		props:      make(map[string]string),
	}
	c.entities[id] = e
	return e, nil
}

func (c *Cell) place(e *Entity, spaceID uint32) error {
	s := c.spaces[spaceID]
	if s == nil {
		delete(c.entities, e.id)
		return fmt.Errorf("place entity %d: %w: %d", e.id, ErrSpaceNotFound, spaceID)
	}
	event.Emit(c.bus, event.EntityCreated{EntityID: e.id, SpaceID: spaceID, Real: e.real})
	s.addEntity(e)
	return nil
}

// DestroyEntity tears an entity down immediately: controllers and traps are
// cancelled, its witness is detached and it leaves its space, which sends a
// leave to every trigger that contained it. Safe to call from callbacks.
func (c *Cell) DestroyEntity(id ecs.EntityID) error {
	e := c.entities[id]
	if e == nil {
		return fmt.Errorf("destroy entity %d: %w", id, ErrEntityNotFound)
	}
	if e.destroying {
		return nil
	}
	e.destroying = true
	c.hooks.OnDestroy(e)

	e.cancelControllers()
	e.cancelProximities()
	if e.witness != nil {
		e.DetachWitness()
	}
	if e.space != nil {
		e.space.removeEntity(e)
	}
	e.destroyed = true
	if c.entities[id] == e {
		delete(c.entities, id)
	}
	event.Emit(c.bus, event.EntityDestroyed{EntityID: id, Real: e.real})
	c.log.Debug("實體銷毀", zap.Int32("entity", int32(id)), zap.Bool("real", e.real))
	return nil
}

// MarkForDestruction queues an entity for the cleanup phase.
func (c *Cell) MarkForDestruction(id ecs.EntityID) {
	c.destroyQ = append(c.destroyQ, id)
}

// FlushDestroyQueue destroys every queued entity and returns how many went.
func (c *Cell) FlushDestroyQueue() int {
	n := 0
	for len(c.destroyQ) > 0 {
		q := c.destroyQ
		c.destroyQ = nil
		for _, id := range q {
			if c.DestroyEntity(id) == nil {
				n++
			}
		}
	}
	return n
}

// UpdateWitnesses runs the per-tick delta encoder of every witness.
func (c *Cell) UpdateWitnesses() {
	c.witnesses.Each(func(_ ecs.Handle, w *Witness) {
		w.Update()
	})
}

// UpdateControllers advances movement and rotation controllers by dt.
func (c *Cell) UpdateControllers(dt time.Duration) {
	for _, id := range c.EntityIDs() {
		e := c.EntityByID(id)
		if e != nil && len(e.controllers) > 0 {
			e.updateControllers(dt)
		}
	}
}

func (c *Cell) nextControllerID() uint32 {
	c.nextCtrl++
	return c.nextCtrl
}

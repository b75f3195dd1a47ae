package world

import (
	"github.com/l1jgo/cellapp/internal/coord"
	"github.com/l1jgo/cellapp/internal/core/ecs"
	"golang.org/x/exp/slices"
)

// Space is one partition of the world on this cell, indexed by its own
// coordinate system.
type Space struct {
	id       uint32
	cell     *Cell
	coords   *coord.System
	entities map[ecs.EntityID]*Entity
}

func (s *Space) ID() uint32                     { return s.id }
func (s *Space) Coords() *coord.System          { return s.coords }
func (s *Space) EntityCount() int               { return len(s.entities) }
func (s *Space) Entity(id ecs.EntityID) *Entity { return s.entities[id] }

// EntityIDs lists the entities in this space in id order.
func (s *Space) EntityIDs() []ecs.EntityID {
	ids := make([]ecs.EntityID, 0, len(s.entities))
	for id := range s.entities {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// EntitiesInRange returns the entities whose offset from origin is within
// radius on every tracked axis, optionally restricted to one type name.
func (s *Space) EntitiesInRange(origin coord.Vector3, radius float32, typeName string) []*Entity {
	var from ecs.Handle
	for _, e := range s.entities {
		from = e.node
		break
	}
	return s.inRange(from, origin, radius, typeName)
}

func (s *Space) inRange(from ecs.Handle, origin coord.Vector3, radius float32, typeName string) []*Entity {
	if from.IsZero() {
		return nil
	}
	var filter func(ecs.EntityID) bool
	if typeName != "" {
		filter = func(id ecs.EntityID) bool {
			e := s.entities[id]
			return e != nil && e.typ.Name == typeName
		}
	}
	ids := s.coords.EntitiesInRange(from, origin, radius, filter)
	out := make([]*Entity, 0, len(ids))
	for _, id := range ids {
		if e := s.entities[id]; e != nil && !e.destroyed {
			out = append(out, e)
		}
	}
	return out
}

func (s *Space) addEntity(e *Entity) {
	s.entities[e.id] = e
	e.space = s
	h := s.coords.InsertEntity(e.id, e.pos)
	if e.space != s {
		// destroyed or moved away by a callback during the insert
		if n := s.coords.Node(h); n != nil && !n.HasFlags(coord.FlagRemoved|coord.FlagRemoving) {
			s.coords.Remove(h)
		}
		return
	}
	e.node = h
	if e.witness != nil && !e.destroying {
		e.witness.onEnterSpace(s)
	}
}

func (s *Space) removeEntity(e *Entity) {
	if e.witness != nil {
		e.witness.onLeaveSpace(s)
	}
	if node := e.node; !node.IsZero() {
		e.node = 0
		if n := s.coords.Node(node); n != nil && !n.HasFlags(coord.FlagRemoved|coord.FlagRemoving) {
			s.coords.Remove(node)
		}
	}
	delete(s.entities, e.id)
	e.space = nil
}

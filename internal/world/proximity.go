package world

import (
	"fmt"

	"github.com/l1jgo/cellapp/internal/coord"
	"github.com/l1jgo/cellapp/internal/core/ecs"
	"golang.org/x/exp/slices"
)

// proximity is a range trigger whose events go to the trap hooks.
type proximity struct {
	id      uint32
	owner   *Entity
	userArg int32
	trig    *coord.Trigger
}

func (p *proximity) OnEnter(_ *coord.Trigger, id ecs.EntityID) {
	if other := p.owner.cell.EntityByID(id); other != nil {
		p.owner.cell.hooks.OnEnterTrap(p.owner, other, p.id, p.userArg)
	}
}

func (p *proximity) OnLeave(_ *coord.Trigger, id ecs.EntityID) {
	if other := p.owner.cell.EntityByID(id); other != nil {
		p.owner.cell.hooks.OnLeaveTrap(p.owner, other, p.id, p.userArg)
	}
}

// AddProximity installs a trap of half-extent xz (and y when the space
// tracks height) around the entity. Entities already inside enter at once.
func (e *Entity) AddProximity(xz, y float32, userArg int32) (uint32, error) {
	if e.space == nil || e.node.IsZero() {
		return 0, fmt.Errorf("add proximity to %d: not in a space", e.id)
	}
	p := &proximity{
		id:      e.cell.nextControllerID(),
		owner:   e,
		userArg: userArg,
	}
	p.trig = coord.NewTrigger(coord.TriggerRange, xz, y, p)
	if e.traps == nil {
		e.traps = make(map[uint32]*proximity)
	}
	e.traps[p.id] = p
	p.trig.Install(e.space.coords, e.node)
	return p.id, nil
}

// CancelProximity removes a trap; entities inside get their leave.
func (e *Entity) CancelProximity(id uint32) bool {
	p := e.traps[id]
	if p == nil {
		return false
	}
	delete(e.traps, id)
	p.trig.Uninstall()
	return true
}

// Proximities lists trap ids in creation order.
func (e *Entity) Proximities() []uint32 {
	ids := make([]uint32, 0, len(e.traps))
	for id := range e.traps {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (e *Entity) cancelProximities() {
	for _, id := range e.Proximities() {
		e.CancelProximity(id)
	}
}

func (e *Entity) reinstallProximities() {
	for _, id := range e.Proximities() {
		p := e.traps[id]
		if p == nil || e.space == nil || e.node.IsZero() {
			continue
		}
		p.trig.Reinstall(e.space.coords, e.node)
	}
}

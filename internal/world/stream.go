package world

import (
	"fmt"

	"github.com/l1jgo/cellapp/internal/coord"
	"github.com/l1jgo/cellapp/internal/core/ecs"
	"github.com/l1jgo/cellapp/internal/net/packet"
	"go.uber.org/zap"
)

// AddToStream serializes the entity for a handoff or a ghost creation:
// identity, placement, client properties, controllers, traps and witness.
func (e *Entity) AddToStream(out *packet.Writer) {
	out.WriteD(int32(e.id))
	out.WriteH(e.typ.UType)
	out.WriteDU(e.SpaceID())
	out.WriteF(e.pos.X)
	out.WriteF(e.pos.Y)
	out.WriteF(e.pos.Z)
	out.WriteF(e.dir.Yaw)
	out.WriteF(e.dir.Pitch)
	out.WriteF(e.dir.Roll)
	out.WriteBool(e.onGround)
	out.WriteD(int32(e.controlledBy))

	names := e.PropertyNames()
	out.WriteH(uint16(len(names)))
	for _, k := range names {
		out.WriteU(k)
		out.WriteU(e.props[k])
	}

	ids := e.controllerIDs()
	out.WriteH(uint16(len(ids)))
	for _, id := range ids {
		switch c := e.controllers[id].(type) {
		case *moveToPoint:
			out.WriteC(ctrlMoveToPoint)
			out.WriteF(c.dest.X)
			out.WriteF(c.dest.Y)
			out.WriteF(c.dest.Z)
			out.WriteF(c.speed)
			out.WriteF(c.distance)
			out.WriteBool(c.faceMovement)
			out.WriteBool(c.moveVertically)
			out.WriteD(c.userArg)
		case *rotator:
			out.WriteC(ctrlRotator)
			out.WriteF(c.yaw)
			out.WriteF(c.speed)
			out.WriteD(c.userArg)
		}
	}

	traps := e.Proximities()
	out.WriteH(uint16(len(traps)))
	for _, id := range traps {
		p := e.traps[id]
		xz, y := p.trig.Range()
		out.WriteF(xz)
		out.WriteF(y)
		out.WriteD(p.userArg)
	}

	out.WriteBool(e.witness != nil)
	if e.witness != nil {
		e.witness.AddToStream(out)
	}
}

// AddToStream writes the view radius, the lag area and, when restoring view
// entities is enabled, the ids the client currently knows in alias order.
// With it disabled no entity is written and the new cell rebuilds the view
// from scratch.
func (w *Witness) AddToStream(out *packet.Writer) {
	out.WriteF(w.viewRadius)
	out.WriteF(w.viewLag)
	if !w.cell.opts.RestoreViewEntities {
		out.WriteH(0)
		out.WriteDU(0)
		return
	}
	known := make([]ecs.EntityID, 0, w.clientViewSize)
	for _, r := range w.refs {
		if r.flags&RefNormal != 0 {
			known = append(known, r.id)
		}
	}
	out.WriteH(uint16(len(known)))
	out.WriteDU(uint32(len(known)))
	for _, id := range known {
		out.WriteD(int32(id))
	}
}

type entitySnapshot struct {
	id           ecs.EntityID
	utype        uint16
	space        uint32
	pos          coord.Vector3
	dir          Direction
	onGround     bool
	controlledBy ecs.EntityID
	props        map[string]string
	controllers  []controller
	traps        []trapSnapshot
	witness      *witnessSnapshot
}

type trapSnapshot struct {
	xz, y   float32
	userArg int32
}

type witnessSnapshot struct {
	radius, lag float32
	viewSize    int
	known       []ecs.EntityID
}

func readSnapshot(r *packet.Reader) (*entitySnapshot, error) {
	s := &entitySnapshot{
		id:    ecs.EntityID(r.ReadD()),
		utype: r.ReadH(),
		space: r.ReadDU(),
		pos:   coord.Vector3{X: r.ReadF(), Y: r.ReadF(), Z: r.ReadF()},
		dir:   Direction{Yaw: r.ReadF(), Pitch: r.ReadF(), Roll: r.ReadF()},
	}
	s.onGround = r.ReadBool()
	s.controlledBy = ecs.EntityID(r.ReadD())

	n := int(r.ReadH())
	s.props = make(map[string]string, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		k := r.ReadU()
		s.props[k] = r.ReadU()
	}

	n = int(r.ReadH())
	for i := 0; i < n && r.Err() == nil; i++ {
		switch kind := r.ReadC(); kind {
		case ctrlMoveToPoint:
			s.controllers = append(s.controllers, &moveToPoint{
				dest:           coord.Vector3{X: r.ReadF(), Y: r.ReadF(), Z: r.ReadF()},
				speed:          r.ReadF(),
				distance:       r.ReadF(),
				faceMovement:   r.ReadBool(),
				moveVertically: r.ReadBool(),
				userArg:        r.ReadD(),
			})
		case ctrlRotator:
			s.controllers = append(s.controllers, &rotator{yaw: r.ReadF(), speed: r.ReadF(), userArg: r.ReadD()})
		default:
			return nil, fmt.Errorf("entity %d: unknown controller kind %d", s.id, kind)
		}
	}

	n = int(r.ReadH())
	for i := 0; i < n && r.Err() == nil; i++ {
		s.traps = append(s.traps, trapSnapshot{xz: r.ReadF(), y: r.ReadF(), userArg: r.ReadD()})
	}

	if r.ReadBool() {
		ws := &witnessSnapshot{radius: r.ReadF(), lag: r.ReadF(), viewSize: int(r.ReadH())}
		count := int(r.ReadDU())
		if count*4 > r.Remaining() {
			return nil, fmt.Errorf("entity %d witness (%d refs): %w", s.id, count, ErrShortStream)
		}
		ws.known = make([]ecs.EntityID, count)
		for i := range ws.known {
			ws.known[i] = ecs.EntityID(r.ReadD())
		}
		s.witness = ws
	}
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("entity %d: %w", s.id, ErrShortStream)
	}
	return s, nil
}

// RestoreEntity rebuilds an entity written by AddToStream. When owner is
// this cell the entity becomes real here (a ghost of it is promoted in
// place) with its controllers, traps and witness; ch is the client channel
// for the witness and may be nil. Otherwise a ghost owned by owner is
// created or refreshed.
func (c *Cell) RestoreEntity(data []byte, owner ecs.ComponentID, ch ClientChannel) (*Entity, error) {
	s, err := readSnapshot(packet.NewBodyReader(data))
	if err != nil {
		return nil, err
	}
	t := c.utypes[s.utype]
	if t == nil {
		return nil, fmt.Errorf("restore entity %d: %w: utype %d", s.id, ErrUnknownType, s.utype)
	}
	if c.spaces[s.space] == nil {
		c.CreateSpace(s.space)
	}
	real := owner == c.id

	e := c.EntityByID(s.id)
	switch {
	case e != nil && e.real:
		return nil, fmt.Errorf("restore entity %d: already real here", s.id)
	case e != nil:
		e.props = s.props
		e.onGround = s.onGround
		e.controlledBy = s.controlledBy
		if real {
			e.BecomeReal()
		} else {
			e.realCell = owner
		}
		if e.SpaceID() != s.space {
			e.space.removeEntity(e)
			e.pos, e.dir = s.pos, s.dir
			e.posChanged, e.dirChanged = c.tick, c.tick
			c.spaces[s.space].addEntity(e)
		} else {
			e.SetPositionAndDirection(s.pos, s.dir)
		}
	default:
		if real {
			e, err = c.CreateEntity(s.id, t.Name, s.space, s.pos, s.dir)
		} else {
			e, err = c.CreateGhost(s.id, t.Name, owner, s.space, s.pos, s.dir)
		}
		if err != nil {
			return nil, err
		}
		e.props = s.props
		e.onGround = s.onGround
		e.controlledBy = s.controlledBy
	}
	if !real || e.IsDestroyed() {
		return e, nil
	}

	for _, ctrl := range s.controllers {
		e.addController(ctrl)
	}
	for _, tp := range s.traps {
		if _, err := e.AddProximity(tp.xz, tp.y, tp.userArg); err != nil {
			c.log.Warn("陷阱還原失敗", zap.Int32("entity", int32(e.id)), zap.Error(err))
		}
	}
	if s.witness != nil && !e.IsDestroyed() {
		e.restoreWitness(s.witness, ch)
	}
	return e, nil
}

// restoreWitness rebuilds the view of a migrated entity. Ids the client
// already knows come back flagged leave-pending: the triggers re-enter the
// ones still in view, which turns them back to normal, and the rest get a
// leave-world on the next update. Nothing is ever updated on the client
// before it was told about it.
func (e *Entity) restoreWitness(ws *witnessSnapshot, ch ClientChannel) {
	w := e.cell.allocWitness(e, ch)
	if e.controlledBy == 0 {
		e.controlledBy = e.id
	}
	if e.cell.opts.RestoreViewEntities {
		for i, id := range ws.known {
			r := &EntityRef{
				weakRef: weakRef{id: id},
				flags:   RefLeavePending | RefNormal,
				alias:   i,
			}
			w.refs = append(w.refs, r)
			w.byID[id] = r
		}
		w.clientViewSize = len(w.refs)
	}
	w.SetViewRadius(ws.radius, ws.lag)
}

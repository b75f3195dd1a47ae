package world

import (
	"bytes"
	"fmt"

	"github.com/l1jgo/cellapp/internal/coord"
	"github.com/l1jgo/cellapp/internal/core/ecs"
	"github.com/l1jgo/cellapp/internal/net/packet"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

// RefFlags is the client-side state of a viewed entity.
type RefFlags uint8

const (
	RefEnterPending RefFlags = 1 << iota // inside the view, client not told yet
	RefLeavePending                      // left the lag area, client not told yet
	RefNormal                            // client knows the entity
)

// Largest alias that fits the one-byte id form.
const maxAliasID = 255

// EntityRef is a witness's entry for one viewed entity. The entity is held by
// id and incarnation and resolved on every use.
type EntityRef struct {
	weakRef
	attached bool
	flags    RefFlags
	alias    int
}

func (r *EntityRef) ID() ecs.EntityID { return r.id }
func (r *EntityRef) Flags() RefFlags  { return r.flags }
func (r *EntityRef) AliasID() int     { return r.alias }

func (r *EntityRef) entity(c *Cell) *Entity {
	if !r.attached {
		return nil
	}
	return r.get(c)
}

// Witness tracks what the client of one entity can see and turns view
// changes and movement into one bundle per tick.
//
// Two view triggers are installed on the owner: the view itself and a wider
// lag area. Entering the view creates a ref; only leaving the lag area
// removes it, so entities hovering on the edge do not flicker.
type Witness struct {
	cell   *Cell
	owner  *Entity
	client ClientChannel
	self   ecs.Handle
	log    *zap.Logger

	viewRadius float32
	viewLag    float32
	view       *coord.Trigger
	lag        *coord.Trigger

	refs           []*EntityRef // alias id = position in this list
	byID           map[ecs.EntityID]*EntityRef
	clientViewSize int

	lastBasePos coord.Vector3
	lastBaseDir Direction
	out         *packet.Writer
}

func (c *Cell) allocWitness(e *Entity, ch ClientChannel) *Witness {
	h, w := c.witnesses.Alloc()
	w.cell = c
	w.owner = e
	w.client = ch
	w.self = h
	w.log = c.log.With(zap.Int32("witness", int32(e.id)))
	w.viewLag = 5
	w.byID = make(map[ecs.EntityID]*EntityRef)
	w.out = packet.NewWriter()
	w.resetBase()
	e.witness = w
	return w
}

func (w *Witness) Owner() *Entity             { return w.owner }
func (w *Witness) Client() ClientChannel      { return w.client }
func (w *Witness) ViewRadius() float32        { return w.viewRadius }
func (w *Witness) ViewLag() float32           { return w.viewLag }
func (w *Witness) ClientViewSize() int        { return w.clientViewSize }
func (w *Witness) Len() int                   { return len(w.refs) }
func (w *Witness) SetClient(ch ClientChannel) { w.client = ch }

// Refs returns copies of the entries in alias order.
func (w *Witness) Refs() []EntityRef {
	out := make([]EntityRef, len(w.refs))
	for i, r := range w.refs {
		out[i] = *r
	}
	return out
}

func (w *Witness) Ref(id ecs.EntityID) (EntityRef, bool) {
	r := w.byID[id]
	if r == nil {
		return EntityRef{}, false
	}
	return *r, true
}

func (w *Witness) resetBase() {
	w.lastBasePos = coord.Vector3{Z: lastUnset}
	w.lastBaseDir = Direction{Yaw: lastUnset}
}

// SetViewRadius sets the view radius and the lag area beyond it. Relative
// positions are packed within ±MaxPackRange, so radius+lag above that is
// clamped to MaxPackRange-5 and 5.
func (w *Witness) SetViewRadius(radius, lag float32) {
	if limit := w.cell.opts.MaxPackRange; radius+lag > limit {
		w.log.Error(fmt.Sprintf("視野範圍超過封包上限  size=%.1f  max=%.0f", radius+lag, limit))
		radius, lag = limit-5, 5
	}
	w.viewRadius, w.viewLag = radius, lag

	if radius <= 0 {
		w.uninstallViewTrigger()
		return
	}
	if w.view == nil {
		w.view = coord.NewTrigger(coord.TriggerView, radius, radius, w)
	} else {
		w.view.Update(radius, radius)
	}
	if w.owner == nil {
		return
	}
	if w.lag == nil {
		if lag > 0.01 {
			w.lag = coord.NewTrigger(coord.TriggerViewLag, radius+lag, radius+lag, w)
		}
	} else {
		// once a lag trigger exists leaves are judged by it, so keep it in step
		w.lag.Update(radius+lag, radius+lag)
	}
	w.installViewTrigger()
}

// installViewTrigger puts the lag trigger in before the view trigger. Its
// enters are ignored, and an entity destroyed by an enter-view callback while
// the view trigger goes in is already tracked by it and gets its leave.
func (w *Witness) installViewTrigger() {
	if w.view == nil || w.viewRadius <= 0 {
		return
	}
	e := w.owner
	if e == nil || e.space == nil || e.node.IsZero() {
		return
	}
	if w.lag != nil && !w.lag.IsInstalled() {
		w.lag.Install(e.space.coords, e.node)
	}
	if w.owner == nil || e.space == nil || e.node.IsZero() {
		return
	}
	if !w.view.IsInstalled() {
		w.view.Install(e.space.coords, e.node)
	}
}

func (w *Witness) uninstallViewTrigger() {
	if w.view != nil {
		w.view.Uninstall()
	}
	if w.lag != nil {
		w.lag.Uninstall()
	}
	for _, r := range w.refs {
		w.leaveRef(r)
	}
}

// OnEnter implements coord.Listener.
func (w *Witness) OnEnter(t *coord.Trigger, id ecs.EntityID) {
	if t == w.lag || w.owner == nil {
		return
	}
	other := w.cell.EntityByID(id)
	if other == nil {
		return
	}
	if r := w.byID[id]; r != nil {
		if r.flags&RefLeavePending != 0 {
			// came back before the leave was flushed
			if r.flags&RefNormal != 0 {
				r.flags = RefNormal
			} else {
				r.flags = RefEnterPending
			}
			r.weakRef = weakRef{id: id, gen: other.gen}
			if !r.attached {
				r.attached = true
				other.addWitnessed(w.owner.id)
			}
		}
		return
	}

	r := &EntityRef{
		weakRef:  weakRef{id: id, gen: other.gen},
		attached: true,
		flags:    RefEnterPending,
		alias:    len(w.refs),
	}
	w.refs = append(w.refs, r)
	w.byID[id] = r
	other.addWitnessed(w.owner.id)
	w.cell.hooks.OnEnteredView(w.owner, other)
}

// OnLeave implements coord.Listener. With a lag area only its leave counts.
func (w *Witness) OnLeave(t *coord.Trigger, id ecs.EntityID) {
	if w.lag != nil && t != w.lag {
		return
	}
	if r := w.byID[id]; r != nil {
		w.leaveRef(r)
	}
}

func (w *Witness) leaveRef(r *EntityRef) {
	r.flags = (r.flags | RefLeavePending) &^ RefEnterPending
	if !r.attached {
		return
	}
	r.attached = false
	if other := r.get(w.cell); other != nil && w.owner != nil {
		other.delWitnessed(w.owner.id)
		w.cell.hooks.OnLeftView(w.owner, other)
	}
}

func (w *Witness) removeRef(i int) {
	delete(w.byID, w.refs[i].id)
	w.refs = slices.Delete(w.refs, i, i+1)
	w.updateAliasIDs()
}

func (w *Witness) updateAliasIDs() {
	for i, r := range w.refs {
		r.alias = i
	}
}

// ResetViewEntities makes every tracked entity pending again, as for a
// client that reconnected and knows nothing.
func (w *Witness) ResetViewEntities() {
	w.clientViewSize = 0
	kept := w.refs[:0]
	for _, r := range w.refs {
		if r.flags&RefLeavePending != 0 {
			delete(w.byID, r.id)
			continue
		}
		r.flags = RefEnterPending
		kept = append(kept, r)
	}
	clear(w.refs[len(kept):])
	w.refs = kept
	w.updateAliasIDs()
	w.resetBase()
}

// EntityInView reports whether the client currently knows entity id.
func (w *Witness) EntityInView(id ecs.EntityID) bool {
	r := w.byID[id]
	return r != nil && r.entity(w.cell) != nil && r.flags == RefNormal
}

// EntityIDToAliasID returns the one-byte alias of id when it may be used.
func (w *Witness) EntityIDToAliasID(id ecs.EntityID) (uint8, bool) {
	r := w.byID[id]
	if r == nil {
		return 0, false
	}
	return w.aliasOf(r)
}

func (w *Witness) aliasOf(r *EntityRef) (uint8, bool) {
	if !w.cell.opts.AliasEntityID || w.clientViewSize > maxAliasID {
		return 0, false
	}
	if r.flags&RefNormal == 0 || r.alias >= maxAliasID {
		return 0, false
	}
	return uint8(r.alias), true
}

// writeRefID writes the alias when usable, else the full id. The client
// tells the two apart by message length.
func (w *Witness) writeRefID(out *packet.Writer, r *EntityRef) {
	if a, ok := w.aliasOf(r); ok {
		out.WriteC(a)
		return
	}
	out.WriteD(int32(r.id))
}

// Update writes this tick's bundle for the client: the owner's own base
// position, then per viewed entity an enter, a leave or a volatile update.
func (w *Witness) Update() {
	e := w.owner
	if e == nil || e.destroyed || w.client == nil || w.client.IsClosed() {
		return
	}
	if len(w.refs) == 0 && !e.IsControlledNotSelfClient() {
		return
	}

	out := w.out
	out.Reset()
	w.addBaseData(out)

	for i := 0; i < len(w.refs); {
		r := w.refs[i]
		switch {
		case r.flags&RefEnterPending != 0:
			// looked up by id: an enter callback may have destroyed it
			other := w.cell.EntityByID(r.id)
			if other == nil {
				w.leaveRef(r)
				w.log.Debug("待進入視野的實體已消失", zap.Int32("entity", int32(r.id)))
				w.removeRef(i)
				continue
			}
			r.weakRef = weakRef{id: r.id, gen: other.gen}
			w.writeEnter(out, other)
			r.flags = RefNormal
			w.clientViewSize++

		case r.flags&RefLeavePending != 0:
			if r.flags&RefNormal != 0 {
				out.BeginMessage(packet.S_OPCODE_LEAVE_WORLD)
				w.writeRefID(out, r)
				out.EndMessage()
				w.clientViewSize--
			}
			w.removeRef(i)
			continue

		default:
			other := r.entity(w.cell)
			if other == nil {
				out.BeginMessage(packet.S_OPCODE_LEAVE_WORLD)
				w.writeRefID(out, r)
				out.EndMessage()
				w.clientViewSize--
				w.removeRef(i)
				continue
			}
			w.writeVolatile(out, r, other)
		}
		i++
	}

	if out.Len() > 0 {
		w.client.Send(bytes.Clone(out.Bytes()))
	}
}

func (w *Witness) writeEnter(out *packet.Writer, other *Entity) {
	out.BeginMessage(packet.S_OPCODE_UPDATE_PROPERTY)
	out.WriteD(int32(other.id))
	writePosDir(out, other)
	names := other.PropertyNames()
	out.WriteH(uint16(len(names)))
	for _, k := range names {
		out.WriteS(k)
		out.WriteS(other.props[k])
	}
	out.EndMessage()

	out.BeginMessage(packet.S_OPCODE_ENTER_WORLD)
	out.WriteD(int32(other.id))
	out.WriteH(other.typ.UType)
	if !other.onGround {
		out.WriteBool(false)
	}
	out.EndMessage()
}

func writePosDir(out *packet.Writer, e *Entity) {
	out.WriteF(e.pos.X)
	out.WriteF(e.pos.Y)
	out.WriteF(e.pos.Z)
	out.WriteF(e.dir.Yaw)
	out.WriteF(e.dir.Pitch)
	out.WriteF(e.dir.Roll)
}

const baseEpsilon = 0.0004

// addBaseData sends the owner's own position when it moved, and its
// direction when some other entity's client is driving it.
func (w *Witness) addBaseData(out *packet.Writer) {
	e := w.owner
	if e.IsControlledNotSelfClient() {
		if e.dir.sub(w.lastBaseDir).Length() > baseEpsilon {
			out.BeginMessage(packet.S_OPCODE_BASE_DIR)
			out.WriteF(e.dir.Yaw)
			out.WriteF(e.dir.Pitch)
			out.WriteF(e.dir.Roll)
			out.EndMessage()
			w.lastBaseDir = e.dir
		}
	}

	pos := e.pos
	if pos.Sub(w.lastBasePos).Length() < baseEpsilon {
		return
	}
	if abs32(w.lastBasePos.Y-pos.Y) > baseEpsilon {
		out.BeginMessage(packet.S_OPCODE_BASE_POS)
		out.WriteF(pos.X)
		out.WriteF(pos.Y)
		out.WriteF(pos.Z)
		out.EndMessage()
	} else {
		out.BeginMessage(packet.S_OPCODE_BASE_POS_XZ)
		out.WriteF(pos.X)
		out.WriteF(pos.Z)
		out.EndMessage()
	}
	w.lastBasePos = pos
}

func (w *Witness) onAttach() {
	e := w.owner
	out := packet.NewWriter()
	w.writeEnter(out, e)
	w.send(out.Bytes())
}

func (w *Witness) sendEnterSpace(s *Space) {
	e := w.owner
	out := packet.NewWriter()
	out.BeginMessage(packet.S_OPCODE_SET_POSITION)
	out.WriteD(int32(e.id))
	out.WriteF(e.pos.X)
	out.WriteF(e.pos.Y)
	out.WriteF(e.pos.Z)
	out.EndMessage()
	out.BeginMessage(packet.S_OPCODE_SET_DIRECTION)
	out.WriteD(int32(e.id))
	out.WriteF(e.dir.Yaw)
	out.WriteF(e.dir.Pitch)
	out.WriteF(e.dir.Roll)
	out.EndMessage()
	out.BeginMessage(packet.S_OPCODE_ENTER_SPACE)
	out.WriteDU(s.id)
	out.EndMessage()
	w.send(out.Bytes())
}

func (w *Witness) onEnterSpace(s *Space) {
	w.sendEnterSpace(s)
	w.installViewTrigger()
}

func (w *Witness) onLeaveSpace(s *Space) {
	w.uninstallViewTrigger()

	out := packet.NewWriter()
	out.BeginMessage(packet.S_OPCODE_LEAVE_SPACE)
	out.WriteDU(s.id)
	out.EndMessage()
	w.send(out.Bytes())

	w.resetBase()
	w.dropRefs()
}

func (w *Witness) dropRefs() {
	for _, r := range w.refs {
		if other := r.entity(w.cell); other != nil && w.owner != nil {
			other.delWitnessed(w.owner.id)
		}
	}
	clear(w.refs)
	w.refs = w.refs[:0]
	clear(w.byID)
	w.clientViewSize = 0
}

func (w *Witness) send(b []byte) {
	if w.client == nil || w.client.IsClosed() || len(b) == 0 {
		return
	}
	w.client.Send(bytes.Clone(b))
}

// detach tells the client its entity left the world, then clears.
func (w *Witness) detach() {
	e := w.owner
	out := packet.NewWriter()
	out.BeginMessage(packet.S_OPCODE_LEAVE_WORLD)
	out.WriteD(int32(e.id))
	out.EndMessage()
	w.send(out.Bytes())
	w.release()
}

// release uninstalls the triggers, forgets every viewed entity and returns the
// witness to the arena.
func (w *Witness) release() {
	e := w.owner
	if e == nil {
		return
	}
	w.uninstallViewTrigger()
	if w.owner == nil {
		return // released by a leave callback
	}
	w.dropRefs()
	if e.controlledBy == e.id {
		e.controlledBy = 0
	}
	e.witness = nil
	w.owner = nil
	w.client = nil
	w.cell.witnesses.Free(w.self)
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

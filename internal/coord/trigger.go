package coord

import (
	"math"

	"github.com/l1jgo/cellapp/internal/core/ecs"
	"golang.org/x/exp/slices"
)

// TriggerKind tells listeners which of their triggers fired.
type TriggerKind uint8

const (
	TriggerRange TriggerKind = iota
	TriggerView
	TriggerViewLag
)

func (k TriggerKind) String() string {
	switch k {
	case TriggerRange:
		return "range"
	case TriggerView:
		return "view"
	case TriggerViewLag:
		return "view-lag"
	}
	return "unknown"
}

// Listener receives enter and leave events of a trigger. Callbacks run inside
// the cascade that caused them and may move or remove anything.
type Listener interface {
	OnEnter(t *Trigger, id ecs.EntityID)
	OnLeave(t *Trigger, id ecs.EntityID)
}

// Trigger is a box of half-extent rangeXZ (and rangeY when the system tracks
// height) centred on an origin entity node, bounded by a negative and a
// positive boundary node. Membership is tracked explicitly, so every enter is
// paired with exactly one leave.
type Trigger struct {
	sys      *System
	kind     TriggerKind
	origin   ecs.Handle
	rangeXZ  float32
	rangeY   float32
	neg, pos *Node
	listener Listener
	removing bool

	members []*Node
	idx     map[*Node]int
}

func NewTrigger(kind TriggerKind, xz, y float32, l Listener) *Trigger {
	return &Trigger{
		kind:     kind,
		rangeXZ:  abs32(xz),
		rangeY:   abs32(y),
		listener: l,
		idx:      make(map[*Node]int),
	}
}

func (t *Trigger) Kind() TriggerKind      { return t.kind }
func (t *Trigger) Origin() ecs.Handle     { return t.origin }
func (t *Trigger) Range() (xz, y float32) { return t.rangeXZ, t.rangeY }
func (t *Trigger) IsInstalled() bool      { return t.neg != nil && t.pos != nil }
func (t *Trigger) System() *System        { return t.sys }
func (t *Trigger) SetListener(l Listener) { t.listener = l }
func (t *Trigger) active() bool           { return t.neg != nil && t.pos != nil && !t.removing }

// contains tests every tracked axis. Nodes that are moving count at their
// start (after=false) or target (after=true) coordinate.
func (t *Trigger) contains(e *Node, after bool) bool {
	for _, a := range t.sys.axes {
		if !t.containsOn(e, a, after) {
			return false
		}
	}
	return true
}

func (t *Trigger) containsOn(e *Node, a Axis, after bool) bool {
	c := snap(e, a, after)
	return snap(t.neg, a, after) <= c && c <= snap(t.pos, a, after)
}

func snap(n *Node, a Axis, after bool) float32 {
	if !n.moving {
		return n.key[a]
	}
	if after {
		return n.target[a]
	}
	return n.start[a]
}

// Inside reports whether the entity node h is currently a member.
func (t *Trigger) Inside(h ecs.Handle) bool {
	if t.sys == nil {
		return false
	}
	n := t.sys.Node(h)
	if n == nil {
		return false
	}
	_, ok := t.idx[n]
	return ok
}

// Members lists the entities currently inside, sorted by id.
func (t *Trigger) Members() []ecs.EntityID {
	ids := make([]ecs.EntityID, 0, len(t.members))
	for _, n := range t.members {
		ids = append(ids, n.entity)
	}
	slices.Sort(ids)
	return ids
}

// Install links the boundaries around origin. The negative boundary goes in
// first: it produces no events, so by the time enter callbacks run (while the
// positive one walks in) both boundaries are linked and a callback that
// destroys an entity still finds it inside this trigger. Returns false when a
// callback uninstalled the trigger or removed the origin meanwhile.
func (t *Trigger) Install(sys *System, origin ecs.Handle) bool {
	if t.IsInstalled() {
		return true
	}
	o := sys.Node(origin)
	if o == nil || o.gone() || o.kind != KindEntity {
		return false
	}
	t.sys = sys
	t.origin = origin

	sys.IncUpdating()
	defer sys.DecUpdating()

	t.neg = sys.newBoundary(t, false)
	o.addWatcher(t.neg)
	sys.moveBoundaries(t.neg)
	if t.neg == nil {
		return false
	}
	t.neg.flags &^= FlagInstalling

	t.pos = sys.newBoundary(t, true)
	o.addWatcher(t.pos)
	sys.moveBoundaries(t.pos)
	if t.pos == nil {
		return false
	}
	t.pos.flags &^= FlagInstalling
	return true
}

// Uninstall sends a leave for every member, then removes both boundaries.
func (t *Trigger) Uninstall() bool {
	if t.removing || (t.neg == nil && t.pos == nil) {
		return false
	}
	sys := t.sys
	t.removing = true
	sys.IncUpdating()

	for len(t.members) > 0 {
		t.setInside(t.members[len(t.members)-1], false)
	}

	origin := sys.Node(t.origin)
	for _, b := range [2]*Node{t.pos, t.neg} {
		if b == nil {
			continue
		}
		if origin != nil {
			origin.delWatcher(b)
		}
		if !b.gone() {
			sys.Remove(b.self)
		}
	}
	t.neg, t.pos = nil, nil
	t.removing = false
	sys.DecUpdating()
	return true
}

// Reinstall moves the trigger onto a new origin, possibly in another system.
func (t *Trigger) Reinstall(sys *System, origin ecs.Handle) bool {
	t.Uninstall()
	return t.Install(sys, origin)
}

// Update changes the ranges and walks both boundaries to match.
func (t *Trigger) Update(xz, y float32) {
	t.rangeXZ, t.rangeY = abs32(xz), abs32(y)
	if !t.IsInstalled() || t.removing {
		return
	}
	t.sys.moveBoundaries(t.pos, t.neg)
}

func (t *Trigger) boundaryTarget(origin *Node, positive bool) Vector3 {
	xz, y := t.rangeXZ, t.rangeY
	if !positive {
		xz, y = -xz, -y
	}
	return Vector3{
		X: origin.key[AxisX] + xz,
		Y: origin.key[AxisY] + y,
		Z: origin.key[AxisZ] + xz,
	}
}

func (t *Trigger) setInside(e *Node, in bool) {
	i, member := t.idx[e]
	if in == member {
		return
	}
	if in {
		t.idx[e] = len(t.members)
		t.members = append(t.members, e)
		e.within = append(e.within, t)
		if t.listener != nil {
			t.listener.OnEnter(t, e.entity)
		}
		return
	}
	last := len(t.members) - 1
	t.members[i] = t.members[last]
	t.idx[t.members[i]] = i
	t.members[last] = nil
	t.members = t.members[:last]
	delete(t.idx, e)
	e.removeWithin(t)
	if t.listener != nil {
		t.listener.OnLeave(t, e.entity)
	}
}

func (s *System) newBoundary(t *Trigger, positive bool) *Node {
	h, n := s.nodes.Alloc()
	n.self = h
	n.kind = KindBoundary
	n.flags = FlagInstalling
	n.trigger = t
	n.positive = positive
	n.weight = weightNegative
	if positive {
		n.weight = weightPositive
	}
	s.linkHead(n)
	return n
}

func abs32(f float32) float32 { return float32(math.Abs(float64(f))) }

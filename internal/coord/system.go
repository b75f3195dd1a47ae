package coord

import (
	"fmt"

	"github.com/l1jgo/cellapp/internal/core/ecs"
	"go.uber.org/zap"
)

// maxPendingPasses bounds how often a node re-walks because a callback moved
// it again while it was still walking.
const maxPendingPasses = 8

// System keeps every node of one space in three lists sorted by x, y and z.
// Moving a node walks its current neighbours, so a small displacement costs a
// few swaps. Each swap between an entity and a trigger boundary is reported to
// the trigger.
//
// Accessed only from the tick goroutine, no locks.
type System struct {
	log   *zap.Logger
	hasY  bool
	axes  []Axis
	nodes *ecs.Arena[Node]
	first [numAxes]*Node
	size  int

	// updating counts nested walks; physical unlinking of removed nodes waits
	// until it drops back to zero.
	updating int
	dels     []*Node
	scratch  [][]*Node
}

// NewSystem creates an empty coordinate system. Without hasY the y list is not
// maintained and triggers and queries ignore height.
func NewSystem(hasY bool, log *zap.Logger) *System {
	axes := []Axis{AxisX, AxisZ}
	if hasY {
		axes = []Axis{AxisX, AxisY, AxisZ}
	}
	return &System{
		log:   log,
		hasY:  hasY,
		axes:  axes,
		nodes: ecs.NewArena[Node](256),
	}
}

func (s *System) HasY() bool { return s.hasY }

// Size is the number of linked nodes that are not removed, boundaries included.
func (s *System) Size() int { return s.size }

func (s *System) Updating() int { return s.updating }

// Node resolves a handle. Released nodes resolve to nil; removed nodes that are
// still waiting for the cascade to finish are returned with FlagRemoved set.
func (s *System) Node(h ecs.Handle) *Node { return s.nodes.Get(h) }

// IncUpdating opens a scope in which removals are only flagged. Pair with
// DecUpdating.
func (s *System) IncUpdating() { s.updating++ }

func (s *System) DecUpdating() {
	s.updating--
	if s.updating > 0 {
		return
	}
	if s.updating < 0 {
		s.log.DPanic("coord: updating counter underflow")
		s.updating = 0
	}
	s.releaseNodes()
}

// InsertEntity links a node for entity id and walks it from -inf to pos, which
// fires an enter on every trigger whose box contains pos.
func (s *System) InsertEntity(id ecs.EntityID, pos Vector3) ecs.Handle {
	h, n := s.nodes.Alloc()
	n.self = h
	n.kind = KindEntity
	n.flags = FlagEntity
	n.weight = weightEntity
	n.entity = id
	n.pos = pos
	s.linkHead(n)
	s.updateEntity(n)
	return h
}

// MoveEntity repositions an entity node and every boundary anchored to it.
// A move requested while the node is already cascading is folded into that
// cascade.
func (s *System) MoveEntity(h ecs.Handle, pos Vector3) {
	n := s.nodes.Get(h)
	if n == nil || n.kind != KindEntity || n.gone() {
		return
	}
	n.pos = pos
	if n.flags&FlagEntityNodeUpdating != 0 {
		n.pending = true
		return
	}
	s.updateEntity(n)
}

// Remove takes a node out of the system. For an entity node every trigger
// anchored to it is uninstalled and every trigger containing it gets a leave
// before the node is flagged removed. Unlinking waits for the enclosing
// cascade.
func (s *System) Remove(h ecs.Handle) {
	n := s.nodes.Get(h)
	if n == nil {
		s.log.DPanic("coord: remove of released node", zap.Uint64("handle", uint64(h)))
		return
	}
	if n.gone() {
		s.log.DPanic("coord: node removed twice",
			zap.Uint64("handle", uint64(h)),
			zap.Int32("entity", int32(n.entity)),
		)
		return
	}
	if s.size == 0 {
		s.log.DPanic("coord: remove from empty system", zap.Uint64("handle", uint64(h)))
		return
	}

	s.updating++
	n.flags |= FlagRemoving | FlagHideOrRemoved
	if n.kind == KindEntity {
		watchers := append([]*Node(nil), n.watchers...)
		for _, w := range watchers {
			if w != nil && w.trigger != nil {
				w.trigger.Uninstall()
			}
		}
		for len(n.within) > 0 {
			n.within[len(n.within)-1].setInside(n, false)
		}
	}
	n.flags = n.flags&^FlagRemoving | FlagRemoved
	s.size--
	s.dels = append(s.dels, n)
	s.DecUpdating()
}

func (s *System) releaseNodes() {
	for len(s.dels) > 0 {
		dels := s.dels
		s.dels = nil
		for _, n := range dels {
			for _, a := range s.axes {
				s.unlink(n, a)
			}
			n.watchers = nil
			n.within = nil
			n.trigger = nil
			s.nodes.Free(n.self)
		}
	}
}

func (s *System) updateEntity(n *Node) {
	s.updating++
	n.flags |= FlagEntityNodeUpdating
	for pass := 0; ; pass++ {
		n.pending = false
		s.beginMove(n, n.pos)
		s.walk(n)
		n.moving = false
		if !n.gone() {
			s.moveBoundaries(n.watchers...)
		}
		if !n.pending || n.gone() {
			break
		}
		if pass >= maxPendingPasses {
			s.log.Warn("coord: entity keeps moving inside its own cascade",
				zap.Int32("entity", int32(n.entity)))
			break
		}
	}
	n.flags &^= FlagEntityNodeUpdating
	n.compactWatchers()
	s.DecUpdating()
}

// moveBoundaries walks boundaries to origin ± range as one group: until the
// last of them finishes, every pass is judged against where all of them end
// up, so a trigger whose origin moves diagonally never reports an enter and a
// leave for an entity that stays outside. Boundaries already walking are
// flagged pending and walked again afterwards.
func (s *System) moveBoundaries(bs ...*Node) {
	s.updating++
	group := s.borrow()
	for _, b := range bs {
		if b != nil {
			group = append(group, b)
		}
	}
	for pass := 0; len(group) > 0; pass++ {
		moving := group[:0]
		for _, b := range group {
			if b.gone() || b.trigger == nil {
				continue
			}
			if b.walking || b.moving {
				b.pending = true
				continue
			}
			origin := s.nodes.Get(b.trigger.origin)
			if origin == nil || origin.HasFlags(FlagRemoved) {
				continue
			}
			b.pending = false
			s.beginMove(b, b.trigger.boundaryTarget(origin, b.positive))
			moving = append(moving, b)
		}
		for _, b := range moving {
			if !b.gone() {
				s.walk(b)
			}
		}
		again := moving[:0]
		for _, b := range moving {
			b.moving = false
			if b.pending && !b.gone() {
				again = append(again, b)
			}
		}
		group = again
		if pass >= maxPendingPasses {
			break
		}
	}
	s.giveBack(group)
	s.DecUpdating()
}

// beginMove records where n starts and where it is going. Until moving is
// cleared, pass callbacks judge containment with these two snapshots.
func (s *System) beginMove(n *Node, target Vector3) {
	n.start = n.key
	n.target = [numAxes]float32{target.X, target.Y, target.Z}
	n.moving = true
	if !s.hasY {
		n.key[AxisY] = target.Y
	}
}

// walk moves n to its target one axis at a time, x then y then z.
func (s *System) walk(n *Node) {
	n.walking = true
	for _, a := range s.axes {
		s.moveAxis(n, a)
		if n.gone() {
			break
		}
	}
	n.walking = false
}

// moveAxis relinks n at its target position on axis a in one step, then
// reports every node it stepped over. Relinking first keeps the list
// consistent for anything the callbacks do.
func (s *System) moveAxis(n *Node, a Axis) {
	t, w := n.target[a], n.weight
	passed := s.borrow()
	if p := n.prev[a]; p != nil && less(t, w, p.key[a], p.weight) {
		for p != nil && less(t, w, p.key[a], p.weight) {
			passed = append(passed, p)
			p = p.prev[a]
		}
		s.unlink(n, a)
		s.linkBefore(n, passed[len(passed)-1], a)
	} else if q := n.next[a]; q != nil && less(q.key[a], q.weight, t, w) {
		for q != nil && less(q.key[a], q.weight, t, w) {
			passed = append(passed, q)
			q = q.next[a]
		}
		s.unlink(n, a)
		s.linkAfter(n, passed[len(passed)-1], a)
	}
	n.key[a] = t

	for _, o := range passed {
		if n.gone() {
			break
		}
		s.onPass(n, o, a)
	}
	s.giveBack(passed)
}

// onPass handles mover m stepping over o on axis a. Only entity/boundary pairs
// matter. Membership is set to the containment at the end of the move, and
// when m will step over the same trigger again on a later axis (z outranks y
// outranks x) that later pass reports instead.
func (s *System) onPass(m, o *Node, a Axis) {
	var e, b *Node
	switch {
	case m.kind == KindEntity && o.kind == KindBoundary:
		e, b = m, o
	case m.kind == KindBoundary && o.kind == KindEntity:
		e, b = o, m
	default:
		return
	}
	if e.flags&FlagHideOrRemoved != 0 || b.gone() {
		return
	}
	t := b.trigger
	if t == nil || !t.active() || t.origin == e.self {
		return
	}
	for _, later := range s.axes {
		if later <= a {
			continue
		}
		if m == e && (sweeps(m, later, t.neg) || sweeps(m, later, t.pos)) {
			return
		}
		if m == b && sweeps(m, later, e) {
			return
		}
	}
	t.setInside(e, t.contains(e, true))
}

// sweeps reports whether moving m from start to target on axis a steps over q.
func sweeps(m *Node, a Axis, q *Node) bool {
	qk, qw := q.key[a], q.weight
	from, to, w := m.start[a], m.target[a], m.weight
	return (less(from, w, qk, qw) && less(qk, qw, to, w)) ||
		(less(to, w, qk, qw) && less(qk, qw, from, w))
}

func (s *System) linkHead(n *Node) {
	for a := Axis(0); a < numAxes; a++ {
		n.key[a] = negInf
	}
	for _, a := range s.axes {
		var p *Node
		c := s.first[a]
		for c != nil && less(c.key[a], c.weight, negInf, n.weight) {
			p = c
			c = c.next[a]
		}
		if p == nil {
			n.prev[a] = nil
			n.next[a] = s.first[a]
			if s.first[a] != nil {
				s.first[a].prev[a] = n
			}
			s.first[a] = n
		} else {
			s.linkAfter(n, p, a)
		}
	}
	s.size++
}

func (s *System) unlink(n *Node, a Axis) {
	if n.prev[a] != nil {
		n.prev[a].next[a] = n.next[a]
	} else if s.first[a] == n {
		s.first[a] = n.next[a]
	}
	if n.next[a] != nil {
		n.next[a].prev[a] = n.prev[a]
	}
	n.prev[a] = nil
	n.next[a] = nil
}

func (s *System) linkAfter(n, p *Node, a Axis) {
	n.prev[a] = p
	n.next[a] = p.next[a]
	if p.next[a] != nil {
		p.next[a].prev[a] = n
	}
	p.next[a] = n
}

func (s *System) linkBefore(n, q *Node, a Axis) {
	n.next[a] = q
	n.prev[a] = q.prev[a]
	if q.prev[a] != nil {
		q.prev[a].next[a] = n
	} else {
		s.first[a] = n
	}
	q.prev[a] = n
}

func (s *System) borrow() []*Node {
	if k := len(s.scratch); k > 0 {
		b := s.scratch[k-1]
		s.scratch = s.scratch[:k-1]
		return b[:0]
	}
	return make([]*Node, 0, 16)
}

func (s *System) giveBack(b []*Node) {
	clear(b)
	s.scratch = append(s.scratch, b[:0])
}

// Validate checks link symmetry, ordering and node count on every axis.
func (s *System) Validate() error {
	for _, a := range s.axes {
		count := 0
		var prev *Node
		for n := s.first[a]; n != nil; n = n.next[a] {
			if n.prev[a] != prev {
				return fmt.Errorf("axis %s: broken prev link at node %d", a, n.self)
			}
			if prev != nil && less(n.key[a], n.weight, prev.key[a], prev.weight) {
				return fmt.Errorf("axis %s: node %d (%v) sorted after %d (%v)",
					a, n.self, n.key[a], prev.self, prev.key[a])
			}
			if !n.gone() {
				count++
			}
			prev = n
		}
		if count != s.size {
			return fmt.Errorf("axis %s: %d live nodes linked, size is %d", a, count, s.size)
		}
	}
	return nil
}

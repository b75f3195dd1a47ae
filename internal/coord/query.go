package coord

import (
	"github.com/l1jgo/cellapp/internal/core/ecs"
	"golang.org/x/exp/slices"
)

// EntitiesInRange returns the ids of entities whose offset from origin is at
// most radius on every tracked axis, sorted. The search starts from the node
// behind from (any node when from is stale) and only touches the neighbourhood
// of origin on each axis; per-axis candidate sets are intersected. filter
// rejects candidates without stopping the walk.
func (s *System) EntitiesInRange(from ecs.Handle, origin Vector3, radius float32, filter func(ecs.EntityID) bool) []ecs.EntityID {
	start := s.nodes.Get(from)
	if start == nil || start.HasFlags(FlagRemoved) {
		start = s.first[AxisX]
	}
	if start == nil || radius < 0 {
		return nil
	}

	var found map[*Node]struct{}
	for i, a := range s.axes {
		c := origin.axis(a)
		cands := make(map[*Node]struct{}, len(found))
		accept := func(n *Node) {
			if n.kind != KindEntity || n.flags&FlagHideOrRemoved != 0 {
				return
			}
			if i > 0 {
				if _, ok := found[n]; !ok {
					return
				}
			}
			if filter != nil && !filter(n.entity) {
				return
			}
			cands[n] = struct{}{}
		}

		near := nearest(start, a, c)
		for n := near; n != nil && c-n.key[a] <= radius; n = n.prev[a] {
			if n.key[a]-c <= radius {
				accept(n)
			}
		}
		for n := near.next[a]; n != nil && n.key[a]-c <= radius; n = n.next[a] {
			if c-n.key[a] <= radius {
				accept(n)
			}
		}
		found = cands
		if len(found) == 0 {
			break
		}
	}

	ids := make([]ecs.EntityID, 0, len(found))
	for n := range found {
		ids = append(ids, n.entity)
	}
	slices.Sort(ids)
	return ids
}

// nearest walks from n to the last node whose key on a is <= c, or the head
// when every key is larger.
func nearest(n *Node, a Axis, c float32) *Node {
	for n.prev[a] != nil && n.key[a] > c {
		n = n.prev[a]
	}
	for n.next[a] != nil && n.next[a].key[a] <= c {
		n = n.next[a]
	}
	return n
}

package coord

import "github.com/l1jgo/cellapp/internal/core/ecs"

// Flags is the state bit set of a node.
type Flags uint16

const (
	FlagEntity Flags = 1 << iota
	FlagHideOrRemoved
	FlagRemoved
	FlagRemoving
	FlagInstalling
	FlagEntityNodeUpdating
)

// Kind tags what a node stands for. The set is closed.
type Kind uint8

const (
	KindEntity Kind = iota
	KindBoundary
)

// Tie-break weights for nodes sharing a coordinate: negative boundary first,
// then entities, then positive boundary. This makes "between the two
// boundaries in list order" the same as an inclusive range test.
const (
	weightNegative int8 = -1
	weightEntity   int8 = 0
	weightPositive int8 = 1
)

// Node is a point linked into the three axis lists of a System.
type Node struct {
	self   ecs.Handle
	kind   Kind
	flags  Flags
	weight int8

	// key is what the list order reflects on each axis.
	key  [numAxes]float32
	prev [numAxes]*Node
	next [numAxes]*Node

	// move snapshot, valid while moving is set
	start   [numAxes]float32
	target  [numAxes]float32
	moving  bool
	walking bool
	pending bool

	// entity nodes
	entity   ecs.EntityID
	pos      Vector3
	watchers []*Node
	within   []*Trigger

	// boundary nodes
	trigger  *Trigger
	positive bool
}

func (n *Node) Handle() ecs.Handle     { return n.self }
func (n *Node) Kind() Kind             { return n.kind }
func (n *Node) Flags() Flags           { return n.flags }
func (n *Node) HasFlags(f Flags) bool  { return n.flags&f != 0 }
func (n *Node) EntityID() ecs.EntityID { return n.entity }

// Position is the last requested position of an entity node.
func (n *Node) Position() Vector3 { return n.pos }

// Key is the coordinate the node is currently sorted by on axis a.
func (n *Node) Key(a Axis) float32 { return n.key[a] }

func (n *Node) gone() bool { return n.flags&(FlagRemoved|FlagRemoving) != 0 }

func (n *Node) addWatcher(w *Node) {
	n.watchers = append(n.watchers, w)
}

// delWatcher nils the slot while the node is cascading so the running loop
// keeps its indices; the slice is compacted afterwards.
func (n *Node) delWatcher(w *Node) {
	for i, x := range n.watchers {
		if x != w {
			continue
		}
		if n.flags&FlagEntityNodeUpdating != 0 {
			n.watchers[i] = nil
		} else {
			n.watchers = append(n.watchers[:i], n.watchers[i+1:]...)
		}
		return
	}
}

func (n *Node) compactWatchers() {
	out := n.watchers[:0]
	for _, w := range n.watchers {
		if w != nil {
			out = append(out, w)
		}
	}
	for i := len(out); i < len(n.watchers); i++ {
		n.watchers[i] = nil
	}
	n.watchers = out
}

func (n *Node) removeWithin(t *Trigger) {
	for i, x := range n.within {
		if x == t {
			last := len(n.within) - 1
			n.within[i] = n.within[last]
			n.within[last] = nil
			n.within = n.within[:last]
			return
		}
	}
}

func less(ak float32, aw int8, bk float32, bw int8) bool {
	return ak < bk || (ak == bk && aw < bw)
}

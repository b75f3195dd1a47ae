package world

import (
	"testing"

	"github.com/l1jgo/cellapp/internal/coord"
	"github.com/l1jgo/cellapp/internal/core/ecs"
	"github.com/l1jgo/cellapp/internal/net/packet"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClient struct {
	frames [][]byte
	closed bool
}

func (f *fakeClient) Send(b []byte)  { f.frames = append(f.frames, b) }
func (f *fakeClient) IsClosed() bool { return f.closed }
func (f *fakeClient) reset()         { f.frames = nil }

func (f *fakeClient) messages(t *testing.T) []packet.Message {
	t.Helper()
	var out []packet.Message
	for _, fr := range f.frames {
		msgs, err := packet.SplitMessages(fr)
		require.NoError(t, err)
		out = append(out, msgs...)
	}
	return out
}

func (f *fakeClient) count(t *testing.T, op byte) int {
	n := 0
	for _, m := range f.messages(t) {
		if m.Opcode == op {
			n++
		}
	}
	return n
}

func (f *fakeClient) volatile(t *testing.T) []packet.Message {
	var out []packet.Message
	for _, m := range f.messages(t) {
		if _, _, ok := packet.SplitUpdateData(m.Opcode); ok {
			out = append(out, m)
		}
	}
	return out
}

type hookRecorder struct {
	NopHooks
	entered, left []ecs.EntityID
	trapIn        []int32
	trapOut       []int32
	moveOver      []int32
	turned        []int32
	witnessed     map[ecs.EntityID]bool

	onEnteredView func(observer, other *Entity)
}

func (h *hookRecorder) OnEnteredView(observer, other *Entity) {
	h.entered = append(h.entered, other.ID())
	if h.onEnteredView != nil {
		h.onEnteredView(observer, other)
	}
}

func (h *hookRecorder) OnLeftView(_, other *Entity) { h.left = append(h.left, other.ID()) }

func (h *hookRecorder) OnWitnessed(e *Entity, v bool) {
	if h.witnessed == nil {
		h.witnessed = make(map[ecs.EntityID]bool)
	}
	h.witnessed[e.ID()] = v
}

func (h *hookRecorder) OnEnterTrap(_, other *Entity, _ uint32, arg int32) {
	h.trapIn = append(h.trapIn, int32(other.ID())*100+arg)
}

func (h *hookRecorder) OnLeaveTrap(_, other *Entity, _ uint32, arg int32) {
	h.trapOut = append(h.trapOut, int32(other.ID())*100+arg)
}

func (h *hookRecorder) OnMoveOver(_ *Entity, _ uint32, arg int32) { h.moveOver = append(h.moveOver, arg) }
func (h *hookRecorder) OnTurn(_ *Entity, _ uint32, arg int32)     { h.turned = append(h.turned, arg) }

func newTestCell(t *testing.T, id ecs.ComponentID) *Cell {
	t.Helper()
	opts := DefaultOptions()
	opts.DefaultViewRadius = 10
	opts.DefaultViewLag = 5
	c := NewCell(id, opts, nil, zap.NewNop())
	c.RegisterType(EntityType{UType: 1, Name: "Avatar", Volatile: DefaultVolatile})
	c.RegisterType(EntityType{UType: 2, Name: "Monster", Volatile: DefaultVolatile})
	c.CreateSpace(1)
	return c
}

func v3(x, z float32) coord.Vector3 { return coord.Vector3{X: x, Z: z} }

func mustCreate(t *testing.T, c *Cell, id ecs.EntityID, typ string, pos coord.Vector3) *Entity {
	t.Helper()
	e, err := c.CreateEntity(id, typ, 1, pos, Direction{})
	require.NoError(t, err)
	return e
}

// tick advances the cell and runs one witness pass with a clean client log.
func tick(c *Cell, clients ...*fakeClient) {
	c.AdvanceTick()
	for _, cl := range clients {
		cl.reset()
	}
	c.UpdateWitnesses()
}

func requireValid(t *testing.T, c *Cell) {
	t.Helper()
	for _, id := range c.SpaceIDs() {
		require.NoError(t, c.Space(id).Coords().Validate())
	}
}

package world

import (
	"testing"

	"github.com/l1jgo/cellapp/internal/core/ecs"
	"github.com/l1jgo/cellapp/internal/net/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// handoff builds A seeing B and C on cell 1 and returns A's stream.
func handoff(t *testing.T, restore bool) []byte {
	t.Helper()
	c := newTestCell(t, 1)
	c.opts.RestoreViewEntities = restore
	a := mustCreate(t, c, 1, "Avatar", v3(0, 0))
	mustCreate(t, c, 2, "Monster", v3(3, 0))
	mustCreate(t, c, 3, "Monster", v3(-3, 0))
	cl := &fakeClient{}
	a.AttachWitness(cl)
	tick(c, cl)
	require.Equal(t, 2, a.Witness().ClientViewSize())

	a.SetProperty("name", "knight")
	a.SetOnGround(false)
	_, err := a.MoveToPoint(v3(0, 9), 2, 0, true, false, 4)
	require.NoError(t, err)
	_, err = a.AddProximity(2, 2, 6)
	require.NoError(t, err)

	out := packet.NewWriter()
	a.AddToStream(out)
	return out.Bytes()
}

func TestRestoreEntityRoundTrip(t *testing.T) {
	data := handoff(t, true)
	c := newTestCell(t, 2)
	cl := &fakeClient{}
	e, err := c.RestoreEntity(data, c.ID(), cl)
	require.NoError(t, err)

	assert.True(t, e.IsReal())
	assert.Equal(t, "Avatar", e.Type().Name)
	assert.Equal(t, uint32(1), e.SpaceID())
	assert.False(t, e.OnGround())
	v, _ := e.Property("name")
	assert.Equal(t, "knight", v)
	assert.Len(t, e.controllers, 1)
	assert.Len(t, e.Proximities(), 1)
	require.NotNil(t, e.Witness())
	assert.Equal(t, float32(10), e.Witness().ViewRadius())
	assert.Equal(t, e.ID(), e.ControlledBy())
	assert.Equal(t, 2, e.Witness().ClientViewSize())
	requireValid(t, c)
}

// B is present on the new cell, C is not. The client keeps B, is told C
// left, and nothing is re-entered. C at -x is met first by the view
// boundary, so it holds alias 0 and B alias 1 until C's leave compacts them.
func TestRestoreWitnessKeepsClientView(t *testing.T) {
	data := handoff(t, true)
	c := newTestCell(t, 2)
	b, err := c.CreateGhost(2, "Monster", 1, 1, v3(3, 0), Direction{})
	require.NoError(t, err)

	cl := &fakeClient{}
	e, err := c.RestoreEntity(data, c.ID(), cl)
	require.NoError(t, err)
	w := e.Witness()

	rb, ok := w.Ref(2)
	require.True(t, ok)
	assert.Equal(t, RefNormal, rb.Flags())
	assert.Equal(t, 1, rb.AliasID())
	rc, ok := w.Ref(3)
	require.True(t, ok)
	assert.Equal(t, RefLeavePending|RefNormal, rc.Flags())
	assert.Equal(t, 0, rc.AliasID())
	assert.True(t, b.IsWitnessed())

	tick(c, cl)
	assert.Equal(t, 0, cl.count(t, packet.S_OPCODE_ENTER_WORLD))
	var leaves []packet.Message
	for _, m := range cl.messages(t) {
		if m.Opcode == packet.S_OPCODE_LEAVE_WORLD {
			leaves = append(leaves, m)
		}
		if _, _, ok := packet.SplitUpdateData(m.Opcode); ok {
			assert.Equal(t, byte(0), m.Body[0], "only B may be updated")
		}
	}
	require.Len(t, leaves, 1)
	assert.Equal(t, []byte{0}, leaves[0].Body)
	assert.Equal(t, 1, w.ClientViewSize())
	assert.Equal(t, []EntityRef{{weakRef: weakRef{id: 2, gen: b.gen}, attached: true, flags: RefNormal}}, w.Refs())
}

func TestStreamPropertiesIgnoreClientCharset(t *testing.T) {
	require.NoError(t, packet.UseCharset("big5"))
	t.Cleanup(func() { _ = packet.UseCharset("utf-8") })

	src := newTestCell(t, 1)
	a := mustCreate(t, src, 1, "Avatar", v3(0, 0))
	a.SetProperty("title", "騎士 ⚔ 😀")
	out := packet.NewWriter()
	a.AddToStream(out)

	dst := newTestCell(t, 2)
	e, err := dst.RestoreEntity(out.Bytes(), 1, nil)
	require.NoError(t, err)
	v, ok := e.Property("title")
	require.True(t, ok)
	assert.Equal(t, "騎士 ⚔ 😀", v)
}

func TestRestoreWithoutViewEntitiesRebuildsView(t *testing.T) {
	data := handoff(t, false)
	c := newTestCell(t, 2)
	c.opts.RestoreViewEntities = false
	_, err := c.CreateGhost(2, "Monster", 1, 1, v3(3, 0), Direction{})
	require.NoError(t, err)

	cl := &fakeClient{}
	e, err := c.RestoreEntity(data, c.ID(), cl)
	require.NoError(t, err)
	assert.Equal(t, 0, e.Witness().ClientViewSize())

	tick(c, cl)
	assert.Equal(t, 1, cl.count(t, packet.S_OPCODE_ENTER_WORLD))
	assert.Equal(t, 0, cl.count(t, packet.S_OPCODE_LEAVE_WORLD))
}

func TestRestoreAsGhost(t *testing.T) {
	data := handoff(t, true)
	c := newTestCell(t, 2)
	e, err := c.RestoreEntity(data, 1, nil)
	require.NoError(t, err)

	assert.False(t, e.IsReal())
	assert.Equal(t, ecs.ComponentID(1), e.RealCell())
	assert.Nil(t, e.Witness())
	assert.Empty(t, e.controllers)
	assert.Empty(t, e.Proximities())

	// a later handoff promotes the ghost in place
	e2, err := c.RestoreEntity(data, c.ID(), &fakeClient{})
	require.NoError(t, err)
	assert.Same(t, e, e2)
	assert.True(t, e2.IsReal())
	assert.NotNil(t, e2.Witness())

	_, err = c.RestoreEntity(data, c.ID(), nil)
	assert.Error(t, err)
	requireValid(t, c)
}

func TestRestoreTruncatedStream(t *testing.T) {
	data := handoff(t, true)
	for _, n := range []int{0, 3, 20, len(data) - 1} {
		c := newTestCell(t, 2)
		_, err := c.RestoreEntity(data[:n], c.ID(), nil)
		assert.ErrorIs(t, err, ErrShortStream, "cut at %d", n)
		assert.Equal(t, 0, c.EntityCount())
	}
}

func TestRestoreUnknownType(t *testing.T) {
	data := handoff(t, true)
	c := newTestCell(t, 2)
	c.utypes = map[uint16]*EntityType{}
	_, err := c.RestoreEntity(data, c.ID(), nil)
	assert.ErrorIs(t, err, ErrUnknownType)
}

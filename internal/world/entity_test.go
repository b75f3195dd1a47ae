package world

import (
	"math"
	"testing"
	"time"

	"github.com/l1jgo/cellapp/internal/core/ecs"
	"github.com/l1jgo/cellapp/internal/core/event"
	"github.com/l1jgo/cellapp/internal/net/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateEntityErrors(t *testing.T) {
	c := newTestCell(t, 1)
	mustCreate(t, c, 1, "Avatar", v3(0, 0))

	_, err := c.CreateEntity(1, "Avatar", 1, v3(0, 0), Direction{})
	assert.Error(t, err)
	_, err = c.CreateEntity(2, "Dragon", 1, v3(0, 0), Direction{})
	assert.ErrorIs(t, err, ErrUnknownType)
	_, err = c.CreateEntity(3, "Avatar", 9, v3(0, 0), Direction{})
	assert.ErrorIs(t, err, ErrSpaceNotFound)
	assert.Nil(t, c.EntityByID(3))
	assert.ErrorIs(t, c.DestroyEntity(42), ErrEntityNotFound)
	assert.Equal(t, []ecs.EntityID{1}, c.EntityIDs())
}

func TestEntityEventsOnBus(t *testing.T) {
	c := newTestCell(t, 1)
	var created, destroyed []ecs.EntityID
	event.Subscribe(c.Bus(), func(ev event.EntityCreated) { created = append(created, ev.EntityID) })
	event.Subscribe(c.Bus(), func(ev event.EntityDestroyed) { destroyed = append(destroyed, ev.EntityID) })

	mustCreate(t, c, 1, "Avatar", v3(0, 0))
	mustCreate(t, c, 2, "Monster", v3(1, 0))
	require.NoError(t, c.DestroyEntity(2))

	c.Bus().SwapBuffers()
	c.Bus().DispatchAll()
	assert.Equal(t, []ecs.EntityID{1, 2}, created)
	assert.Equal(t, []ecs.EntityID{2}, destroyed)
}

func TestEntitiesInRange(t *testing.T) {
	c := newTestCell(t, 1)
	a := mustCreate(t, c, 1, "Avatar", v3(0, 0))
	mustCreate(t, c, 2, "Monster", v3(3, 0))
	mustCreate(t, c, 3, "Avatar", v3(-4, 1))
	mustCreate(t, c, 4, "Monster", v3(30, 0))

	ids := func(es []*Entity) []ecs.EntityID {
		out := []ecs.EntityID{}
		for _, e := range es {
			out = append(out, e.ID())
		}
		return out
	}
	assert.ElementsMatch(t, []ecs.EntityID{2, 3}, ids(a.EntitiesInRange(5, "")))
	assert.ElementsMatch(t, []ecs.EntityID{2}, ids(a.EntitiesInRange(5, "Monster")))
	assert.ElementsMatch(t, []ecs.EntityID{1, 2, 3}, ids(c.Space(1).EntitiesInRange(v3(0, 0), 5, "")))
	assert.ElementsMatch(t, []ecs.EntityID{4}, ids(c.Space(1).EntitiesInRange(v3(29, 0), 2, "")))
}

func TestDestroyQueueIsDeferred(t *testing.T) {
	c := newTestCell(t, 1)
	mustCreate(t, c, 1, "Avatar", v3(0, 0))
	mustCreate(t, c, 2, "Monster", v3(1, 0))
	c.MarkForDestruction(2)
	c.MarkForDestruction(2)
	assert.NotNil(t, c.EntityByID(2))

	assert.Equal(t, 1, c.FlushDestroyQueue())
	assert.Nil(t, c.EntityByID(2))
	assert.Equal(t, 1, c.EntityCount())
	requireValid(t, c)
}

func TestTeleportBetweenSpaces(t *testing.T) {
	c := newTestCell(t, 1)
	c.CreateSpace(2)
	a := mustCreate(t, c, 1, "Avatar", v3(0, 0))
	b := mustCreate(t, c, 2, "Monster", v3(2, 0))
	cl := &fakeClient{}
	a.AttachWitness(cl)
	tick(c, cl)
	require.True(t, a.Witness().EntityInView(2))

	cl.reset()
	require.NoError(t, a.Teleport(2, v3(5, 5), Direction{Yaw: 1}))
	assert.Equal(t, uint32(2), a.SpaceID())
	assert.False(t, b.IsWitnessed())
	assert.Equal(t, 0, a.Witness().Len())

	var ops []byte
	for _, m := range cl.messages(t) {
		ops = append(ops, m.Opcode)
	}
	assert.Equal(t, []byte{
		packet.S_OPCODE_LEAVE_SPACE,
		packet.S_OPCODE_SET_POSITION,
		packet.S_OPCODE_SET_DIRECTION,
		packet.S_OPCODE_ENTER_SPACE,
	}, ops)

	assert.ErrorIs(t, a.Teleport(7, v3(0, 0), Direction{}), ErrSpaceNotFound)
	requireValid(t, c)
}

func TestProximityFiresTrapHooks(t *testing.T) {
	c := newTestCell(t, 1)
	h := &hookRecorder{}
	c.SetHooks(h)
	a := mustCreate(t, c, 1, "Avatar", v3(0, 0))
	b := mustCreate(t, c, 2, "Monster", v3(3, 0))

	id, err := a.AddProximity(5, 5, 7)
	require.NoError(t, err)
	assert.Equal(t, []int32{207}, h.trapIn, "entities already inside enter on install")
	assert.Equal(t, []uint32{id}, a.Proximities())

	b.SetPosition(v3(20, 0))
	assert.Equal(t, []int32{207}, h.trapOut)
	b.SetPosition(v3(1, 1))
	assert.Equal(t, []int32{207, 207}, h.trapIn)

	assert.True(t, a.CancelProximity(id))
	assert.Equal(t, []int32{207, 207}, h.trapOut)
	assert.False(t, a.CancelProximity(id))
	assert.Empty(t, a.Proximities())
	requireValid(t, c)
}

func TestProximityOutsideSpace(t *testing.T) {
	c := newTestCell(t, 1)
	a := mustCreate(t, c, 1, "Avatar", v3(0, 0))
	require.NoError(t, c.DestroyEntity(1))
	_, err := a.AddProximity(5, 5, 0)
	assert.Error(t, err)
}

func TestMoveToPoint(t *testing.T) {
	c := newTestCell(t, 1)
	h := &hookRecorder{}
	c.SetHooks(h)
	a := mustCreate(t, c, 1, "Avatar", v3(0, 0))
	_, err := a.MoveToPoint(v3(10, 0), 4, 0, true, false, 11)
	require.NoError(t, err)

	c.UpdateControllers(time.Second)
	assert.InDelta(t, 4, a.Position().X, 1e-4)
	assert.InDelta(t, math.Pi/2, a.Direction().Yaw, 1e-4)
	c.UpdateControllers(time.Second)
	assert.InDelta(t, 8, a.Position().X, 1e-4)
	assert.Empty(t, h.moveOver)

	c.UpdateControllers(time.Second)
	assert.Equal(t, float32(10), a.Position().X)
	assert.Equal(t, []int32{11}, h.moveOver)
	assert.Empty(t, a.controllers)
}

func TestMoveToPointStopsShort(t *testing.T) {
	c := newTestCell(t, 1)
	a := mustCreate(t, c, 1, "Avatar", v3(0, 0))
	_, err := a.MoveToPoint(v3(0, 10), 100, 2, false, false, 0)
	require.NoError(t, err)
	c.UpdateControllers(time.Second)
	assert.InDelta(t, 8, a.Position().Z, 1e-4)
	assert.Equal(t, float32(0), a.Direction().Yaw)
}

func TestRotator(t *testing.T) {
	c := newTestCell(t, 1)
	h := &hookRecorder{}
	c.SetHooks(h)
	a := mustCreate(t, c, 1, "Avatar", v3(0, 0))
	id, err := a.Rotate(1, 0.5, 3)
	require.NoError(t, err)

	c.UpdateControllers(time.Second)
	assert.InDelta(t, 0.5, a.Direction().Yaw, 1e-5)
	assert.Empty(t, h.turned)
	c.UpdateControllers(time.Second)
	assert.Equal(t, float32(1), a.Direction().Yaw)
	assert.Equal(t, []int32{3}, h.turned)
	assert.False(t, a.CancelController(id))
}

func TestControllersRequireReal(t *testing.T) {
	c := newTestCell(t, 1)
	g, err := c.CreateGhost(5, "Monster", 2, 1, v3(0, 0), Direction{})
	require.NoError(t, err)
	assert.False(t, g.IsReal())
	assert.Equal(t, ecs.ComponentID(2), g.RealCell())

	_, err = g.MoveToPoint(v3(1, 1), 1, 0, false, false, 0)
	assert.ErrorIs(t, err, ErrNotReal)
	_, err = g.Rotate(1, 1, 0)
	assert.ErrorIs(t, err, ErrNotReal)
	assert.ErrorIs(t, g.Teleport(1, v3(0, 0), Direction{}), ErrNotReal)
}

func TestBecomeGhostDropsRealState(t *testing.T) {
	c := newTestCell(t, 1)
	a := mustCreate(t, c, 1, "Avatar", v3(0, 0))
	mustCreate(t, c, 2, "Monster", v3(1, 0))
	a.AttachWitness(&fakeClient{})
	_, err := a.AddProximity(3, 3, 0)
	require.NoError(t, err)
	_, err = a.Rotate(1, 1, 0)
	require.NoError(t, err)

	a.BecomeGhost(3)
	assert.False(t, a.IsReal())
	assert.Nil(t, a.Witness())
	assert.Empty(t, a.Proximities())
	assert.Empty(t, a.controllers)

	a.BecomeReal()
	assert.True(t, a.IsReal())
	assert.Equal(t, c.ID(), a.RealCell())
	requireValid(t, c)
}

func TestCallClients(t *testing.T) {
	c := newTestCell(t, 1)
	a := mustCreate(t, c, 1, "Avatar", v3(0, 0))
	b := mustCreate(t, c, 2, "Avatar", v3(3, 0))
	ca, cb := &fakeClient{}, &fakeClient{}
	a.AttachWitness(ca)
	b.AttachWitness(cb)

	// nobody knows b yet
	ca.reset()
	cb.reset()
	assert.Equal(t, 1, b.CallClients("wave", []byte{1, 2}, false))
	assert.Equal(t, 0, ca.count(t, packet.S_OPCODE_REMOTE_CALL))
	assert.Equal(t, 1, cb.count(t, packet.S_OPCODE_REMOTE_CALL))

	tick(c, ca, cb)
	ca.reset()
	cb.reset()
	assert.Equal(t, 1, b.CallClients("wave", []byte{1, 2}, true))
	assert.Empty(t, cb.frames)
	msgs := ca.messages(t)
	require.Len(t, msgs, 1)
	assert.Equal(t, packet.S_OPCODE_REMOTE_CALL_OPT, msgs[0].Opcode)
	r := packet.NewBodyReader(msgs[0].Body)
	assert.Equal(t, byte(0), r.ReadC())
	assert.Equal(t, "wave", r.ReadS())
	assert.Equal(t, []byte{1, 2}, r.ReadBlob())
	require.NoError(t, r.Err())

	assert.Equal(t, 2, b.CallClients("wave", nil, false))
}

func TestSetPropertyBroadcasts(t *testing.T) {
	c := newTestCell(t, 1)
	a := mustCreate(t, c, 1, "Avatar", v3(0, 0))
	b := mustCreate(t, c, 2, "Monster", v3(3, 0))
	cl := &fakeClient{}
	a.AttachWitness(cl)
	tick(c, cl)

	cl.reset()
	b.SetProperty("hp", "90")
	b.SetProperty("hp", "90")
	assert.Equal(t, 1, cl.count(t, packet.S_OPCODE_UPDATE_PROPERTY))
	v, ok := b.Property("hp")
	assert.True(t, ok)
	assert.Equal(t, "90", v)

	b.SetProperty("name", "slime")
	assert.Equal(t, []string{"hp", "name"}, b.PropertyNames())
}

func TestClosedClientGetsNothing(t *testing.T) {
	c := newTestCell(t, 1)
	a := mustCreate(t, c, 1, "Avatar", v3(0, 0))
	mustCreate(t, c, 2, "Monster", v3(3, 0))
	cl := &fakeClient{}
	a.AttachWitness(cl)
	cl.closed = true
	tick(c, cl)
	assert.Empty(t, cl.frames)
	assert.Equal(t, 0, a.Witness().ClientViewSize())
}

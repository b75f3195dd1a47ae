package system

import (
	gonet "net"
	"testing"
	"time"

	"github.com/l1jgo/cellapp/internal/coord"
	"github.com/l1jgo/cellapp/internal/core/ecs"
	coresys "github.com/l1jgo/cellapp/internal/core/system"
	"github.com/l1jgo/cellapp/internal/ghost"
	"github.com/l1jgo/cellapp/internal/handler"
	"github.com/l1jgo/cellapp/internal/interconnect"
	"github.com/l1jgo/cellapp/internal/net"
	"github.com/l1jgo/cellapp/internal/net/packet"
	"github.com/l1jgo/cellapp/internal/persist"
	"github.com/l1jgo/cellapp/internal/viewer"
	"github.com/l1jgo/cellapp/internal/world"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSource struct {
	newCh  chan *net.Session
	deadCh chan uint64
	dead   []uint64
}

func newFakeSource() *fakeSource {
	return &fakeSource{newCh: make(chan *net.Session, 8), deadCh: make(chan uint64, 8)}
}

func (s *fakeSource) NewSessions() <-chan *net.Session { return s.newCh }
func (s *fakeSource) DeadSessions() <-chan uint64      { return s.deadCh }
func (s *fakeSource) NotifyDead(id uint64)             { s.dead = append(s.dead, id) }

type sent struct {
	dst   ecs.ComponentID
	batch []byte
}

type recordTransport struct{ sent []sent }

func (t *recordTransport) Send(dst ecs.ComponentID, b []byte) error {
	t.sent = append(t.sent, sent{dst, b})
	return nil
}

type memJournal struct {
	handoffs      []persist.HandoffRecord
	undeliverable []persist.UndeliverableRecord
}

func (j *memJournal) RecordHandoff(h persist.HandoffRecord) { j.handoffs = append(j.handoffs, h) }
func (j *memJournal) RecordUndeliverable(u persist.UndeliverableRecord) {
	j.undeliverable = append(j.undeliverable, u)
}

type fixture struct {
	cell      *world.Cell
	deps      *handler.Deps
	reg       *packet.Registry
	src       *fakeSource
	transport *recordTransport
	ghosts    *ghost.Manager
	journal   *memJournal
	inbox     chan interconnect.Inbound
	input     *InputSystem
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	opts := world.DefaultOptions()
	opts.DefaultViewRadius = 10
	c := world.NewCell(1, opts, nil, zap.NewNop())
	c.RegisterType(world.EntityType{UType: 1, Name: "Avatar", Volatile: world.DefaultVolatile})
	c.CreateSpace(1)

	f := &fixture{
		cell:      c,
		deps:      &handler.Deps{Log: zap.NewNop(), Cell: c, Sessions: net.NewSessionStore()},
		reg:       packet.NewRegistry(zap.NewNop()),
		src:       newFakeSource(),
		transport: &recordTransport{},
		journal:   &memJournal{},
		inbox:     make(chan interconnect.Inbound, 4),
	}
	handler.RegisterAll(f.reg, f.deps)
	f.ghosts = ghost.NewManager(c, f.transport, ghost.Config{
		SyncInterval:  100 * time.Millisecond,
		RouteTimeout:  10 * time.Second,
		CheckInterval: time.Second,
	}, zap.NewNop())
	f.input = NewInputSystem(f.src, f.reg, f.deps, f.ghosts, f.inbox, InputConfig{HeartbeatTimeout: time.Minute}, zap.NewNop())
	SubscribeCellEvents(c, f.ghosts, f.journal, zap.NewNop())
	return f
}

func (f *fixture) session(t *testing.T, id uint64) *net.Session {
	t.Helper()
	client, server := gonet.Pipe()
	t.Cleanup(func() { client.Close() })
	sess := net.NewSession(server, id, 8, 64, 0, zap.NewNop())
	t.Cleanup(sess.Close)
	f.src.newCh <- sess
	return sess
}

func (f *fixture) avatar(t *testing.T, id ecs.EntityID, x float32) *world.Entity {
	t.Helper()
	e, err := f.cell.CreateEntity(id, "Avatar", 1, coord.Vector3{X: x}, world.Direction{})
	require.NoError(t, err)
	return e
}

func bindPacket(id ecs.EntityID) []byte {
	w := packet.NewWriterWithOpcode(packet.C_OPCODE_BIND)
	w.WriteD(int32(id))
	return w.Bytes()
}

func TestInputAcceptsAndDispatches(t *testing.T) {
	f := newFixture(t)
	e := f.avatar(t, 1, 0)
	sess := f.session(t, 5)
	sess.InQueue <- bindPacket(1)

	f.input.Update(0)

	assert.Same(t, sess, f.deps.Sessions.Get(5))
	assert.Equal(t, packet.StateBound, sess.State())
	require.NotNil(t, e.Witness())
	assert.Empty(t, sess.InQueue)
}

func TestInputRespectsPacketLimit(t *testing.T) {
	f := newFixture(t)
	f.input.cfg.MaxPacketsPerTick = 2
	sess := f.session(t, 5)
	for i := 0; i < 5; i++ {
		sess.InQueue <- []byte{packet.C_OPCODE_HEARTBEAT}
	}
	f.input.Update(0)
	assert.Len(t, sess.InQueue, 3)
}

func TestInputClosedSessionDisconnects(t *testing.T) {
	f := newFixture(t)
	e := f.avatar(t, 1, 0)
	sess := f.session(t, 5)
	sess.InQueue <- bindPacket(1)
	f.input.Update(0)
	require.NotNil(t, e.Witness())

	sess.Close()
	f.input.Update(0)

	assert.Nil(t, e.Witness())
	assert.Zero(t, f.deps.Sessions.Len())
	assert.Nil(t, f.deps.Sessions.ByEntity(1))
	assert.Equal(t, []uint64{5}, f.src.dead)
	assert.NotNil(t, f.cell.EntityByID(1))
}

func TestInputHeartbeatTimeout(t *testing.T) {
	f := newFixture(t)
	now := time.Unix(5000, 0)
	f.input.now = func() time.Time { return now }
	stale := f.session(t, 5)
	fresh := f.session(t, 6)
	f.input.Update(0)

	stale.LastHeartbeat = now.Add(-2 * time.Minute)
	fresh.LastHeartbeat = now.Add(-time.Second)
	f.input.Update(0)

	assert.True(t, stale.IsClosed())
	assert.False(t, fresh.IsClosed())

	f.input.Update(0)
	assert.Nil(t, f.deps.Sessions.Get(5))
	assert.NotNil(t, f.deps.Sessions.Get(6))
}

func TestInputReceivesBatchesAndJournalsUndeliverable(t *testing.T) {
	f := newFixture(t)
	events := NewEventSystem(f.cell)
	f.inbox <- interconnect.Inbound{
		From:  2,
		Batch: ghost.EncodeBatch([]ghost.Message{{Entity: 77, Kind: ghost.MsgDestroyGhost}}),
	}
	f.inbox <- interconnect.Inbound{From: 3, Batch: []byte{9}}

	f.input.Update(0)
	assert.Equal(t, uint64(1), f.ghosts.Stats().Undeliverable)
	assert.Empty(t, f.journal.undeliverable)

	events.Update(0)
	require.Len(t, f.journal.undeliverable, 1)
	u := f.journal.undeliverable[0]
	assert.Equal(t, int32(77), u.EntityID)
	assert.Equal(t, ghost.MsgDestroyGhost, u.Kind)
	assert.Equal(t, uint64(2), u.From)
	assert.Equal(t, uint64(1), u.Cell)
}

func TestMigrationSystem(t *testing.T) {
	f := newFixture(t)
	e := f.avatar(t, 1, 0)
	mig := NewMigrationSystem(f.cell, f.ghosts, f.journal, zap.NewNop())

	mig.Request(1, 2, true)
	mig.Request(1, 3, false)
	mig.Request(9, 2, false)
	assert.Equal(t, 2, mig.Pending())

	mig.Update(0)
	assert.Zero(t, mig.Pending())
	assert.False(t, e.IsReal())
	assert.Equal(t, ecs.ComponentID(2), e.RealCell())

	require.Len(t, f.journal.handoffs, 1)
	h := f.journal.handoffs[0]
	assert.Equal(t, int32(1), h.EntityID)
	assert.Equal(t, uint64(1), h.From)
	assert.Equal(t, uint64(2), h.To)
	assert.Positive(t, h.Bytes)

	// the local EntityMigrated event is not journaled a second time
	NewEventSystem(f.cell).Update(0)
	assert.Len(t, f.journal.handoffs, 1)

	f.ghosts.Flush(true)
	require.Len(t, f.transport.sent, 1)
	assert.Equal(t, ecs.ComponentID(2), f.transport.sent[0].dst)
}

func TestDestroyedRealDropsGhosts(t *testing.T) {
	f := newFixture(t)
	e := f.avatar(t, 1, 0)
	require.NoError(t, f.ghosts.AddGhost(e, 3))
	f.ghosts.Flush(true)
	require.Zero(t, f.ghosts.Pending(3))

	require.NoError(t, f.cell.DestroyEntity(1))
	NewEventSystem(f.cell).Update(0)

	assert.Equal(t, 1, f.ghosts.Pending(3))
	assert.Empty(t, f.ghosts.Ghosts(1))
}

type countPublisher struct{ snaps []*viewer.Snapshot }

func (p *countPublisher) Publish(s *viewer.Snapshot) { p.snaps = append(p.snaps, s) }

func TestSnapshotInterval(t *testing.T) {
	f := newFixture(t)
	f.avatar(t, 1, 0)
	pub := &countPublisher{}
	s := NewSnapshotSystem(f.cell, pub, 3)
	for i := 0; i < 7; i++ {
		s.Update(0)
	}
	require.Len(t, pub.snaps, 2)
	require.NotNil(t, pub.snaps[0].Space(1))
}

func TestFullTick(t *testing.T) {
	f := newFixture(t)
	f.avatar(t, 1, 0)
	f.avatar(t, 2, 3)
	doomed := f.avatar(t, 3, 50)
	sess := f.session(t, 5)
	sess.InQueue <- bindPacket(1)

	r := coresys.NewRunner()
	r.Register(NewCleanupSystem(f.cell))
	r.Register(NewOutputSystem(f.cell, f.deps.Sessions))
	r.Register(NewGhostSystem(f.ghosts))
	r.Register(NewEventSystem(f.cell))
	r.Register(NewControllerSystem(f.cell))
	r.Register(f.input)
	assert.Equal(t, 6, r.Len())

	f.cell.MarkForDestruction(doomed.ID())
	r.Tick(100 * time.Millisecond)

	assert.Equal(t, uint64(1), f.cell.Tick())
	assert.True(t, f.cell.EntityByID(1).Witness().EntityInView(2))
	assert.Zero(t, sess.Buffered())
	assert.NotEmpty(t, sess.OutQueue)
	assert.Nil(t, f.cell.EntityByID(3))
	assert.True(t, doomed.IsDestroyed())
}

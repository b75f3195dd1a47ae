package ghost

import (
	"fmt"
	"time"

	"github.com/l1jgo/cellapp/internal/coord"
	"github.com/l1jgo/cellapp/internal/core/ecs"
	"github.com/l1jgo/cellapp/internal/core/event"
	"github.com/l1jgo/cellapp/internal/net/packet"
	"github.com/l1jgo/cellapp/internal/world"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

// Transport hands an encoded batch to another cell. It must not block the
// tick goroutine.
type Transport interface {
	Send(dst ecs.ComponentID, batch []byte) error
}

// Result of dispatching one inbound message.
type Result int

const (
	Delivered Result = iota
	Forwarded
	Undeliverable
)

func (r Result) String() string {
	switch r {
	case Delivered:
		return "delivered"
	case Forwarded:
		return "forwarded"
	}
	return "undeliverable"
}

type route struct {
	dst  ecs.ComponentID
	last time.Time
}

// Config holds the [ghost] tunables.
type Config struct {
	SyncInterval  time.Duration // outbound flush and ghost sync
	RouteTimeout  time.Duration // idle time before a route is dropped
	CheckInterval time.Duration // how often routes are scanned
}

// Stats are running counters since start.
type Stats struct {
	Batches       uint64
	Sent          uint64
	Delivered     uint64
	Forwarded     uint64
	Undeliverable uint64
	SendErrors    uint64
	Dropped       uint64 // messages discarded after the outbox hit maxOutbox
}

// Manager keeps the ghosts of this cell's real entities in step and routes
// messages for entities that migrated away. Tick goroutine only.
type Manager struct {
	cell      *world.Cell
	transport Transport
	cfg       Config
	log       *zap.Logger
	now       func() time.Time

	// real entity -> cells holding a ghost of it
	ghosts map[ecs.EntityID][]ecs.ComponentID
	routes map[ecs.EntityID]*route
	outbox map[ecs.ComponentID][]Message

	syncedTick uint64
	lastFlush  time.Time
	lastCheck  time.Time
	stats      Stats
}

func NewManager(cell *world.Cell, t Transport, cfg Config, log *zap.Logger) *Manager {
	return &Manager{
		cell:      cell,
		transport: t,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
		ghosts:    make(map[ecs.EntityID][]ecs.ComponentID),
		routes:    make(map[ecs.EntityID]*route),
		outbox:    make(map[ecs.ComponentID][]Message),
	}
}

// SetClock replaces time.Now, for tests.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

func (m *Manager) Stats() Stats          { return m.stats }
func (m *Manager) Self() ecs.ComponentID { return m.cell.ID() }

// Push queues a message for dst. It goes out with the next flush.
func (m *Manager) Push(dst ecs.ComponentID, msg Message) {
	if dst == m.cell.ID() || dst == 0 {
		m.log.Warn("訊息目的地無效",
			zap.Uint64("dst", uint64(dst)),
			zap.Int32("entity", int32(msg.Entity)),
			zap.String("kind", kindName(msg.Kind)),
		)
		return
	}
	m.outbox[dst] = append(m.outbox[dst], msg)
}

// Update runs the periodic work: ghost sync and outbound flush once per
// sync interval, route eviction once per check interval.
func (m *Manager) Update() {
	if m.now().Sub(m.lastFlush) >= m.cfg.SyncInterval {
		m.SyncGhosts()
		m.Flush(true)
	}
	m.CheckRoutes(false)
}

// Pending returns the number of queued messages for dst.
func (m *Manager) Pending(dst ecs.ComponentID) int { return len(m.outbox[dst]) }

// Flush sends one batch per destination if the sync interval elapsed, or
// always when force is set. Returns the number of batches handed over.
// When the transport refuses a batch, it and everything after it for that
// destination stay queued for the next flush, in order.
func (m *Manager) Flush(force bool) int {
	now := m.now()
	if !force && now.Sub(m.lastFlush) < m.cfg.SyncInterval {
		return 0
	}
	m.lastFlush = now

	dsts := make([]ecs.ComponentID, 0, len(m.outbox))
	for dst, q := range m.outbox {
		if len(q) > 0 {
			dsts = append(dsts, dst)
		}
	}
	slices.Sort(dsts)

	n := 0
	for _, dst := range dsts {
		q := m.outbox[dst]
		sent := 0
		for sent < len(q) {
			chunk := q[sent:min(len(q), sent+maxBatch)]
			if err := m.transport.Send(dst, EncodeBatch(chunk)); err != nil {
				m.stats.SendErrors++
				m.log.Error("批次發送失敗，保留待重送",
					zap.Uint64("dst", uint64(dst)),
					zap.Int("messages", len(q)-sent),
					zap.Error(err),
				)
				break
			}
			sent += len(chunk)
			m.stats.Batches++
			m.stats.Sent += uint64(len(chunk))
			n++
		}
		left := copy(q, q[sent:])
		clear(q[left:])
		if left > maxOutbox {
			m.stats.Dropped += uint64(left)
			m.log.Error("目的地佇列過長，已丟棄", zap.Uint64("dst", uint64(dst)), zap.Int("messages", left))
			clear(q[:left])
			left = 0
		}
		m.outbox[dst] = q[:left]
	}
	return n
}

// ---- ghost registry ----

// AddGhost creates a ghost of the real entity e on dst.
func (m *Manager) AddGhost(e *world.Entity, dst ecs.ComponentID) error {
	if !e.IsReal() {
		return fmt.Errorf("add ghost of %d: %w", e.ID(), world.ErrNotReal)
	}
	if dst == m.cell.ID() || slices.Contains(m.ghosts[e.ID()], dst) {
		return nil
	}
	w := packet.NewWriter()
	e.AddToStream(w)
	m.Push(dst, Message{Entity: e.ID(), Kind: MsgCreateGhost, Payload: w.Bytes()})
	m.ghosts[e.ID()] = append(m.ghosts[e.ID()], dst)
	return nil
}

// RemoveGhost destroys the ghost of id on dst.
func (m *Manager) RemoveGhost(id ecs.EntityID, dst ecs.ComponentID) bool {
	hs := m.ghosts[id]
	i := slices.Index(hs, dst)
	if i < 0 {
		return false
	}
	m.Push(dst, Message{Entity: id, Kind: MsgDestroyGhost})
	m.dropHolder(id, i)
	return true
}

func (m *Manager) dropHolder(id ecs.EntityID, i int) {
	hs := slices.Delete(m.ghosts[id], i, i+1)
	if len(hs) == 0 {
		delete(m.ghosts, id)
		return
	}
	m.ghosts[id] = hs
}

// Ghosts lists the cells holding a ghost of id.
func (m *Manager) Ghosts(id ecs.EntityID) []ecs.ComponentID {
	return slices.Clone(m.ghosts[id])
}

// SetGhosts replaces the holder list of id, for an entity that just
// arrived by handoff.
func (m *Manager) SetGhosts(id ecs.EntityID, holders []ecs.ComponentID) {
	hs := make([]ecs.ComponentID, 0, len(holders))
	for _, h := range holders {
		if h != m.cell.ID() && !slices.Contains(hs, h) {
			hs = append(hs, h)
		}
	}
	if len(hs) == 0 {
		delete(m.ghosts, id)
		return
	}
	m.ghosts[id] = hs
}

// SyncGhosts pushes the volatile state of every real entity that moved or
// turned since the last sync to each of its ghost holders.
func (m *Manager) SyncGhosts() int {
	tick := m.cell.Tick()
	ids := make([]ecs.EntityID, 0, len(m.ghosts))
	for id := range m.ghosts {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	n := 0
	for _, id := range ids {
		e := m.cell.EntityByID(id)
		if e == nil {
			// destroyed earlier this tick; the holders still need to hear it
			m.log.Debug("ghost 登記的實體已銷毀", zap.Int32("entity", int32(id)))
			m.OnRealDestroyed(id)
			continue
		}
		if !e.IsReal() {
			m.log.Debug("ghost 登記的實體已不在本地", zap.Int32("entity", int32(id)))
			delete(m.ghosts, id)
			continue
		}
		if e.PosChangedTick() < m.syncedTick && e.DirChangedTick() < m.syncedTick {
			continue
		}
		p, d := e.Position(), e.Direction()
		payload := ghostUpdatePayload(p.X, p.Y, p.Z, d.Yaw, d.Pitch, d.Roll, e.OnGround())
		for _, dst := range m.ghosts[id] {
			m.Push(dst, Message{Entity: id, Kind: MsgGhostUpdate, Payload: payload})
			n++
		}
	}
	m.syncedTick = tick
	return n
}

// OnRealDestroyed tells every ghost holder to drop its ghost.
func (m *Manager) OnRealDestroyed(id ecs.EntityID) {
	for _, dst := range m.ghosts[id] {
		m.Push(dst, Message{Entity: id, Kind: MsgDestroyGhost})
	}
	delete(m.ghosts, id)
}

// OnMigrated records that the real of id now lives on dst: a route is
// added and the other ghost holders learn the new owner. The registry entry
// moves with the handoff.
func (m *Manager) OnMigrated(id ecs.EntityID, dst ecs.ComponentID) {
	m.AddRoute(id, dst)
	w := packet.NewWriter()
	w.WriteQ(uint64(dst))
	for _, h := range m.ghosts[id] {
		if h != dst {
			m.Push(h, Message{Entity: id, Kind: MsgRealMoved, Payload: w.Bytes()})
		}
	}
	delete(m.ghosts, id)
}

// ---- routing ----

func (m *Manager) AddRoute(id ecs.EntityID, dst ecs.ComponentID) {
	m.routes[id] = &route{dst: dst, last: m.now()}
}

// Route returns where a departed entity went. Using a route keeps it alive;
// an expired one counts as absent even before CheckRoutes drops it.
func (m *Manager) Route(id ecs.EntityID) (ecs.ComponentID, bool) {
	r := m.routes[id]
	if r == nil {
		return 0, false
	}
	now := m.now()
	if now.Sub(r.last) > m.cfg.RouteTimeout {
		return 0, false
	}
	r.last = now
	return r.dst, true
}

func (m *Manager) RouteCount() int { return len(m.routes) }

// CheckRoutes drops routes idle for longer than the route timeout. Runs at
// most once per check interval unless forced.
func (m *Manager) CheckRoutes(force bool) int {
	now := m.now()
	if !force && now.Sub(m.lastCheck) < m.cfg.CheckInterval {
		return 0
	}
	m.lastCheck = now
	n := 0
	for id, r := range m.routes {
		if now.Sub(r.last) > m.cfg.RouteTimeout {
			delete(m.routes, id)
			n++
		}
	}
	if n > 0 {
		m.log.Debug(fmt.Sprintf("清除過期路由  count=%d  remaining=%d", n, len(m.routes)))
	}
	return n
}

// ---- inbound ----

// Receive decodes a batch from another cell and dispatches every message.
func (m *Manager) Receive(from ecs.ComponentID, batch []byte) error {
	msgs, err := DecodeBatch(batch)
	for _, msg := range msgs {
		m.Dispatch(from, msg)
	}
	if err != nil {
		return fmt.Errorf("receive from %d: %w", from, err)
	}
	return nil
}

// Dispatch applies msg to the local entity, forwards it along a route or to
// the real, or reports it undeliverable.
func (m *Manager) Dispatch(from ecs.ComponentID, msg Message) Result {
	switch msg.Kind {
	case MsgCreateGhost:
		if _, err := m.cell.RestoreEntity(msg.Payload, from, nil); err != nil {
			m.log.Warn("ghost 建立失敗", zap.Int32("entity", int32(msg.Entity)), zap.Error(err))
		}
		m.stats.Delivered++
		return Delivered
	case MsgHandoff:
		m.acceptHandoff(from, msg)
		m.stats.Delivered++
		return Delivered
	}

	e := m.cell.EntityByID(msg.Entity)
	if e == nil {
		return m.forward(from, msg)
	}
	switch msg.Kind {
	case MsgGhostUpdate, MsgDestroyGhost, MsgRealMoved, MsgGhostProperty:
		if e.IsReal() {
			// the real came back here; the message was meant for a ghost
			m.log.Debug("real 收到 ghost 訊息",
				zap.Int32("entity", int32(e.ID())),
				zap.String("kind", kindName(msg.Kind)),
			)
			m.stats.Delivered++
			return Delivered
		}
		m.applyGhost(e, msg)
	case MsgCallClients, MsgSetProperty:
		if !e.IsReal() {
			// a ghost passes entity calls on to its real
			m.Push(e.RealCell(), msg)
			m.stats.Forwarded++
			return Forwarded
		}
		m.applyEntity(e, msg)
	default:
		m.log.Warn("未知的跨 cell 訊息", zap.Uint8("kind", msg.Kind), zap.Int32("entity", int32(msg.Entity)))
	}
	m.stats.Delivered++
	return Delivered
}

func (m *Manager) forward(from ecs.ComponentID, msg Message) Result {
	if dst, ok := m.Route(msg.Entity); ok && dst != m.cell.ID() {
		m.Push(dst, msg)
		m.stats.Forwarded++
		return Forwarded
	}
	m.stats.Undeliverable++
	m.log.Warn("訊息無法投遞",
		zap.Int32("entity", int32(msg.Entity)),
		zap.String("kind", kindName(msg.Kind)),
		zap.Uint64("from", uint64(from)),
	)
	event.Emit(m.cell.Bus(), event.MessageUndeliverable{EntityID: msg.Entity, Kind: msg.Kind, From: from})
	return Undeliverable
}

func (m *Manager) applyGhost(e *world.Entity, msg Message) {
	r := packet.NewBodyReader(msg.Payload)
	switch msg.Kind {
	case MsgGhostUpdate:
		pos := coord.Vector3{X: r.ReadF(), Y: r.ReadF(), Z: r.ReadF()}
		dir := world.Direction{Yaw: r.ReadF(), Pitch: r.ReadF(), Roll: r.ReadF()}
		onGround := r.ReadBool()
		if r.Err() != nil {
			m.log.Warn("ghost 更新格式錯誤", zap.Int32("entity", int32(e.ID())))
			return
		}
		e.ApplyGhostUpdate(pos, dir, onGround)
	case MsgDestroyGhost:
		if err := m.cell.DestroyEntity(e.ID()); err != nil {
			m.log.Warn("ghost 銷毀失敗", zap.Int32("entity", int32(e.ID())), zap.Error(err))
		}
	case MsgRealMoved:
		owner := ecs.ComponentID(r.ReadQ())
		if r.Err() == nil {
			e.SetRealCell(owner)
		}
	case MsgGhostProperty:
		name, value := r.ReadU(), r.ReadU()
		if r.Err() == nil {
			e.SetProperty(name, value)
		}
	}
}

func (m *Manager) applyEntity(e *world.Entity, msg Message) {
	r := packet.NewBodyReader(msg.Payload)
	switch msg.Kind {
	case MsgCallClients:
		method, args, others := r.ReadU(), r.ReadBlob(), r.ReadBool()
		if r.Err() == nil {
			e.CallClients(method, args, others)
		}
	case MsgSetProperty:
		name, value := r.ReadU(), r.ReadU()
		if r.Err() == nil {
			m.SetProperty(e, name, value)
		}
	}
}

// SetProperty changes a property of a real entity and mirrors it to every
// ghost. On a ghost the change goes to the real first.
func (m *Manager) SetProperty(e *world.Entity, name, value string) {
	w := packet.NewWriter()
	w.WriteU(name)
	w.WriteU(value)
	msg := Message{Entity: e.ID(), Kind: MsgSetProperty, Payload: w.Bytes()}
	if !e.IsReal() {
		m.Push(e.RealCell(), msg)
		return
	}
	e.SetProperty(name, value)
	for _, dst := range m.ghosts[e.ID()] {
		m.Push(dst, Message{Entity: e.ID(), Kind: MsgGhostProperty, Payload: msg.Payload})
	}
}

func (m *Manager) acceptHandoff(from ecs.ComponentID, msg Message) {
	r := packet.NewBodyReader(msg.Payload)
	n := int(r.ReadH())
	holders := make([]ecs.ComponentID, 0, n)
	for i := 0; i < n; i++ {
		holders = append(holders, ecs.ComponentID(r.ReadQ()))
	}
	if r.Err() != nil {
		m.log.Warn("交接資料格式錯誤", zap.Int32("entity", int32(msg.Entity)), zap.Uint64("from", uint64(from)))
		return
	}
	e, err := m.cell.RestoreEntity(msg.Payload[len(msg.Payload)-r.Remaining():], m.cell.ID(), nil)
	if err != nil {
		m.log.Error("交接還原失敗", zap.Int32("entity", int32(msg.Entity)), zap.Error(err))
		return
	}
	delete(m.routes, e.ID())
	m.SetGhosts(e.ID(), holders)
	event.Emit(m.cell.Bus(), event.EntityMigrated{EntityID: e.ID(), From: from, To: m.cell.ID()})
	m.log.Info(fmt.Sprintf("實體交接完成  entity=%d  from=%d", e.ID(), from))
}

// Migrate hands the real entity id to dst. The stream carries the ghost
// holders so dst keeps them in step; with keepGhost this cell becomes one of
// them, otherwise the local copy is destroyed. Returns the handoff size.
func (m *Manager) Migrate(id ecs.EntityID, dst ecs.ComponentID, keepGhost bool) (int, error) {
	e := m.cell.EntityByID(id)
	if e == nil {
		return 0, fmt.Errorf("migrate %d: %w", id, world.ErrEntityNotFound)
	}
	if !e.IsReal() {
		return 0, fmt.Errorf("migrate %d: %w", id, world.ErrNotReal)
	}
	if dst == m.cell.ID() || dst == 0 {
		return 0, fmt.Errorf("migrate %d: bad destination %d", id, dst)
	}

	holders := make([]ecs.ComponentID, 0, len(m.ghosts[id])+1)
	for _, h := range m.ghosts[id] {
		if h != dst {
			holders = append(holders, h)
		}
	}
	if keepGhost {
		holders = append(holders, m.cell.ID())
	}
	w := packet.NewWriter()
	w.WriteH(uint16(len(holders)))
	for _, h := range holders {
		w.WriteQ(uint64(h))
	}
	e.AddToStream(w)
	size := w.Len()
	m.Push(dst, Message{Entity: id, Kind: MsgHandoff, Payload: w.Bytes()})

	m.OnMigrated(id, dst)
	e.NotifyHandoff(dst)
	e.BecomeGhost(dst)
	if !keepGhost {
		if err := m.cell.DestroyEntity(id); err != nil {
			m.log.Warn("交接後銷毀失敗", zap.Int32("entity", int32(id)), zap.Error(err))
		}
	}
	event.Emit(m.cell.Bus(), event.EntityMigrated{EntityID: id, From: m.cell.ID(), To: dst})
	m.log.Info(fmt.Sprintf("實體交接  entity=%d  to=%d  bytes=%d  ghost=%t", id, dst, size, keepGhost))
	return size, nil
}

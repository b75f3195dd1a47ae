package system

import (
	"time"

	"github.com/l1jgo/cellapp/internal/core/ecs"
	coresys "github.com/l1jgo/cellapp/internal/core/system"
	"github.com/l1jgo/cellapp/internal/ghost"
	"github.com/l1jgo/cellapp/internal/persist"
	"github.com/l1jgo/cellapp/internal/world"
	"go.uber.org/zap"
)

// Journal receives handoff and undeliverable records. *persist.Journal
// implements it; without a database NopJournal is used.
type Journal interface {
	RecordHandoff(h persist.HandoffRecord)
	RecordUndeliverable(u persist.UndeliverableRecord)
}

type NopJournal struct{}

func (NopJournal) RecordHandoff(persist.HandoffRecord)             {}
func (NopJournal) RecordUndeliverable(persist.UndeliverableRecord) {}

// MigrationRequest asks for the real entity to move to Dst.
type MigrationRequest struct {
	Entity    ecs.EntityID
	Dst       ecs.ComponentID
	KeepGhost bool
}

// MigrationSystem carries out queued handoffs. Requests made during the
// tick (usually from scripts) run together in Phase 2 (Update), before the
// ghost manager syncs and flushes.
type MigrationSystem struct {
	cell    *world.Cell
	ghosts  *ghost.Manager
	journal Journal
	queue   []MigrationRequest
	now     func() time.Time
	log     *zap.Logger
}

func NewMigrationSystem(c *world.Cell, ghosts *ghost.Manager, journal Journal, log *zap.Logger) *MigrationSystem {
	if journal == nil {
		journal = NopJournal{}
	}
	return &MigrationSystem{cell: c, ghosts: ghosts, journal: journal, now: time.Now, log: log}
}

func (s *MigrationSystem) Phase() coresys.Phase { return coresys.PhaseUpdate }

// Request queues a handoff. Duplicate requests for one entity keep the first.
func (s *MigrationSystem) Request(id ecs.EntityID, dst ecs.ComponentID, keepGhost bool) {
	for _, r := range s.queue {
		if r.Entity == id {
			return
		}
	}
	s.queue = append(s.queue, MigrationRequest{Entity: id, Dst: dst, KeepGhost: keepGhost})
}

func (s *MigrationSystem) Pending() int { return len(s.queue) }

func (s *MigrationSystem) Update(_ time.Duration) {
	if len(s.queue) == 0 {
		return
	}
	q := s.queue
	s.queue = nil
	for _, r := range q {
		size, err := s.ghosts.Migrate(r.Entity, r.Dst, r.KeepGhost)
		if err != nil {
			s.log.Warn("實體交接失敗",
				zap.Int32("entity", int32(r.Entity)),
				zap.Uint64("dst", uint64(r.Dst)),
				zap.Error(err),
			)
			continue
		}
		s.journal.RecordHandoff(persist.HandoffRecord{
			EntityID: int32(r.Entity),
			From:     uint64(s.cell.ID()),
			To:       uint64(r.Dst),
			Bytes:    size,
			Tick:     s.cell.Tick(),
			At:       s.now(),
		})
	}
}

// GhostSystem runs the ghost manager's periodic work: ghost sync and
// outbound batches once per sync interval, route eviction once per check
// interval. Phase 2 (Update).
type GhostSystem struct {
	ghosts *ghost.Manager
}

func NewGhostSystem(ghosts *ghost.Manager) *GhostSystem {
	return &GhostSystem{ghosts: ghosts}
}

func (s *GhostSystem) Phase() coresys.Phase { return coresys.PhaseUpdate }

func (s *GhostSystem) Update(_ time.Duration) {
	s.ghosts.Update()
}

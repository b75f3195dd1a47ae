package system

import (
	"time"

	coresys "github.com/l1jgo/cellapp/internal/core/system"
	"github.com/l1jgo/cellapp/internal/viewer"
	"github.com/l1jgo/cellapp/internal/world"
)

// Publisher receives cell snapshots. *viewer.Server implements it.
type Publisher interface {
	Publish(snap *viewer.Snapshot)
}

// SnapshotSystem captures the cell for the space viewer every N ticks.
// Phase 5 (Persist).
type SnapshotSystem struct {
	cell      *world.Cell
	pub       Publisher
	tickCount int
	interval  int // publish every N ticks
}

func NewSnapshotSystem(c *world.Cell, pub Publisher, intervalTicks int) *SnapshotSystem {
	if intervalTicks <= 0 {
		intervalTicks = 1
	}
	return &SnapshotSystem{cell: c, pub: pub, interval: intervalTicks}
}

func (s *SnapshotSystem) Phase() coresys.Phase { return coresys.PhasePersist }

func (s *SnapshotSystem) Update(_ time.Duration) {
	s.tickCount++
	if s.tickCount < s.interval {
		return
	}
	s.tickCount = 0
	s.pub.Publish(viewer.Capture(s.cell))
}

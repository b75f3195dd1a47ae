package system

import (
	"time"

	coresys "github.com/l1jgo/cellapp/internal/core/system"
	"github.com/l1jgo/cellapp/internal/world"
)

// CleanupSystem flushes the deferred entity destruction queue at tick end.
// Phase 6 (Cleanup).
type CleanupSystem struct {
	cell *world.Cell
}

func NewCleanupSystem(c *world.Cell) *CleanupSystem {
	return &CleanupSystem{cell: c}
}

func (s *CleanupSystem) Phase() coresys.Phase { return coresys.PhaseCleanup }

func (s *CleanupSystem) Update(_ time.Duration) {
	s.cell.FlushDestroyQueue()
}

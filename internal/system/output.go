package system

import (
	"time"

	coresys "github.com/l1jgo/cellapp/internal/core/system"
	"github.com/l1jgo/cellapp/internal/net"
	"github.com/l1jgo/cellapp/internal/world"
)

// OutputSystem runs every witness's delta encoder and hands the buffered
// frames to the writer goroutines. Phase 4 (Output).
type OutputSystem struct {
	cell  *world.Cell
	store *net.SessionStore
}

func NewOutputSystem(c *world.Cell, store *net.SessionStore) *OutputSystem {
	return &OutputSystem{cell: c, store: store}
}

func (s *OutputSystem) Phase() coresys.Phase { return coresys.PhaseOutput }

func (s *OutputSystem) Update(_ time.Duration) {
	s.cell.UpdateWitnesses()
	for _, sess := range s.store.Raw() {
		sess.FlushOutput()
	}
}

package system

import (
	"time"

	coresys "github.com/l1jgo/cellapp/internal/core/system"
	"github.com/l1jgo/cellapp/internal/world"
)

// EventSystem delivers last tick's events and starts the new tick.
// Phase 1 (PreUpdate), registered before ControllerSystem.
type EventSystem struct {
	cell *world.Cell
}

func NewEventSystem(c *world.Cell) *EventSystem {
	return &EventSystem{cell: c}
}

func (s *EventSystem) Phase() coresys.Phase { return coresys.PhasePreUpdate }

func (s *EventSystem) Update(_ time.Duration) {
	bus := s.cell.Bus()
	bus.SwapBuffers()
	bus.DispatchAll()
	s.cell.AdvanceTick()
}

// ControllerSystem advances movement and rotation controllers.
// Phase 1 (PreUpdate).
type ControllerSystem struct {
	cell *world.Cell
}

func NewControllerSystem(c *world.Cell) *ControllerSystem {
	return &ControllerSystem{cell: c}
}

func (s *ControllerSystem) Phase() coresys.Phase { return coresys.PhasePreUpdate }

func (s *ControllerSystem) Update(dt time.Duration) {
	s.cell.UpdateControllers(dt)
}

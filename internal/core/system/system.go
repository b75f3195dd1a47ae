package system

import "time"

// Phase defines execution ordering within a single tick.
type Phase int

const (
	PhaseInput      Phase = iota // 0: client packets, inbound cell batches
	PhasePreUpdate               // 1: last tick's events, controllers
	PhaseUpdate                  // 2: migration, ghost sync
	PhasePostUpdate              // 3: route eviction
	PhaseOutput                  // 4: witness bundles, outbound batches
	PhasePersist                 // 5: journal flush, viewer snapshot
	PhaseCleanup                 // 6: destroy queued entities

	phaseCount
)

func (p Phase) String() string {
	switch p {
	case PhaseInput:
		return "input"
	case PhasePreUpdate:
		return "pre-update"
	case PhaseUpdate:
		return "update"
	case PhasePostUpdate:
		return "post-update"
	case PhaseOutput:
		return "output"
	case PhasePersist:
		return "persist"
	case PhaseCleanup:
		return "cleanup"
	}
	return "unknown"
}

// System is one step of the tick.
type System interface {
	Phase() Phase
	Update(dt time.Duration)
}

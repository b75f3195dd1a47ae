package system

import (
	"sort"
	"time"
)

// Runner executes systems in phase order each tick and times each phase.
type Runner struct {
	systems []System
	sorted  bool
	now     func() time.Time
	phases  [phaseCount]time.Duration
}

func NewRunner() *Runner {
	return &Runner{
		systems: make([]System, 0, 16),
		now:     time.Now,
	}
}

// SetClock replaces time.Now, for tests.
func (r *Runner) SetClock(now func() time.Time) { r.now = now }

// Len returns the number of registered systems.
func (r *Runner) Len() int { return len(r.systems) }

func (r *Runner) Register(s System) {
	r.systems = append(r.systems, s)
	r.sorted = false
}

// Tick runs every system once and returns the wall time it took.
func (r *Runner) Tick(dt time.Duration) time.Duration {
	r.ensureSorted()
	r.phases = [phaseCount]time.Duration{}
	start := r.now()
	mark := start
	for _, s := range r.systems {
		s.Update(dt)
		t := r.now()
		if p := s.Phase(); p >= 0 && p < phaseCount {
			r.phases[p] += t.Sub(mark)
		}
		mark = t
	}
	return mark.Sub(start)
}

// PhaseTime returns how long phase p took in the last tick.
func (r *Runner) PhaseTime(p Phase) time.Duration {
	if p < 0 || p >= phaseCount {
		return 0
	}
	return r.phases[p]
}

// SlowestPhase returns the phase that took longest in the last tick.
func (r *Runner) SlowestPhase() (Phase, time.Duration) {
	var slow Phase
	for p := Phase(1); p < phaseCount; p++ {
		if r.phases[p] > r.phases[slow] {
			slow = p
		}
	}
	return slow, r.phases[slow]
}

func (r *Runner) ensureSorted() {
	if !r.sorted {
		// registration order is kept within a phase
		sort.SliceStable(r.systems, func(i, j int) bool {
			return r.systems[i].Phase() < r.systems[j].Phase()
		})
		r.sorted = true
	}
}

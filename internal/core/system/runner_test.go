package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type recorder struct {
	name  string
	phase Phase
	log   *[]string
}

func (r *recorder) Phase() Phase            { return r.phase }
func (r *recorder) Update(dt time.Duration) { *r.log = append(*r.log, r.name) }

func TestRunnerPhaseOrder(t *testing.T) {
	var log []string
	r := NewRunner()
	r.Register(&recorder{"cleanup", PhaseCleanup, &log})
	r.Register(&recorder{"output", PhaseOutput, &log})
	r.Register(&recorder{"input-a", PhaseInput, &log})
	r.Register(&recorder{"update", PhaseUpdate, &log})
	r.Register(&recorder{"input-b", PhaseInput, &log})
	assert.Equal(t, 5, r.Len())

	r.Tick(time.Millisecond)
	assert.Equal(t, []string{"input-a", "input-b", "update", "output", "cleanup"}, log)
}

type sleeper struct {
	phase Phase
	cost  time.Duration
	clk   *time.Time
}

func (s *sleeper) Phase() Phase          { return s.phase }
func (s *sleeper) Update(_ time.Duration) { *s.clk = s.clk.Add(s.cost) }

func TestRunnerTimesPhases(t *testing.T) {
	clk := time.Unix(100, 0)
	r := NewRunner()
	r.SetClock(func() time.Time { return clk })
	r.Register(&sleeper{PhaseOutput, 7 * time.Millisecond, &clk})
	r.Register(&sleeper{PhaseInput, 2 * time.Millisecond, &clk})
	r.Register(&sleeper{PhaseInput, time.Millisecond, &clk})

	assert.Equal(t, 10*time.Millisecond, r.Tick(100*time.Millisecond))
	assert.Equal(t, 3*time.Millisecond, r.PhaseTime(PhaseInput))
	assert.Equal(t, 7*time.Millisecond, r.PhaseTime(PhaseOutput))
	assert.Zero(t, r.PhaseTime(PhaseCleanup))
	p, d := r.SlowestPhase()
	assert.Equal(t, PhaseOutput, p)
	assert.Equal(t, 7*time.Millisecond, d)
	assert.Equal(t, "output", p.String())

	// the next tick starts from zero
	r.Register(&sleeper{PhaseCleanup, time.Millisecond, &clk})
	assert.Equal(t, 11*time.Millisecond, r.Tick(0))
	assert.Equal(t, 3*time.Millisecond, r.PhaseTime(PhaseInput))
}

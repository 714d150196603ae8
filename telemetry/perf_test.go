package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPerfCollector_BasicTiming(t *testing.T) {
	pc := NewPerfCollector(10, 0)

	for i := 0; i < 5; i++ {
		pc.StartTick()
		pc.StartPhase(PhaseDangerSubmit)
		time.Sleep(100 * time.Microsecond)
		pc.StartPhase(PhaseWanderAdvance)
		time.Sleep(200 * time.Microsecond)
		pc.EndTick()
	}

	stats := pc.Stats()
	assert.Equal(t, 5, stats.Ticks)
	assert.Positive(t, stats.AvgTick)
	assert.LessOrEqual(t, stats.AvgTick, stats.MaxTick)
	assert.LessOrEqual(t, stats.P95Tick, stats.MaxTick)
	assert.Positive(t, stats.PhasePct[PhaseDangerSubmit])
	assert.Greater(t, stats.PhasePct[PhaseWanderAdvance], stats.PhasePct[PhaseDangerSubmit])
	assert.Zero(t, stats.PhasePct[PhaseAgentMove])
	assert.Zero(t, stats.OverBudget, "zero budget disables the count")
}

func TestPerfCollector_RollingWindow(t *testing.T) {
	pc := NewPerfCollector(5, 0)

	for i := 0; i < 10; i++ {
		pc.StartTick()
		pc.StartPhase(PhaseAgentMove)
		pc.EndTick()
	}

	assert.Equal(t, 5, pc.Stats().Ticks)
}

func TestPerfCollector_OverBudget(t *testing.T) {
	pc := NewPerfCollector(10, time.Millisecond)

	for _, d := range []time.Duration{0, 3 * time.Millisecond, 0} {
		pc.StartTick()
		pc.StartPhase(PhaseWorld)
		time.Sleep(d)
		pc.EndTick()
	}

	stats := pc.Stats()
	assert.Equal(t, 1, stats.OverBudget)
	assert.GreaterOrEqual(t, stats.MaxTick, 3*time.Millisecond)
}

func TestPerfCollector_EmptyStats(t *testing.T) {
	stats := NewPerfCollector(10, time.Millisecond).Stats()

	assert.Zero(t, stats.Ticks)
	assert.Zero(t, stats.AvgTick)
	assert.Zero(t, stats.PhasePct)
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "wander_advance", PhaseWanderAdvance.String())
	assert.Equal(t, "unknown", numPhases.String())
}

func TestPerfStats_ToCSV(t *testing.T) {
	stats := PerfStats{Ticks: 30, AvgTick: 1500 * time.Microsecond, OverBudget: 2}
	stats.PhasePct[PhaseWanderAdvance] = 40
	stats.PhasePct[PhaseAgentMove] = 25
	row := stats.ToCSV(120)

	assert.Equal(t, int32(120), row.WindowEnd)
	assert.Equal(t, 30, row.Ticks)
	assert.Equal(t, int64(1500), row.AvgTickUS)
	assert.Equal(t, 2, row.OverBudget)
	assert.Equal(t, 40.0, row.WanderAdvancePct)
	assert.Equal(t, 25.0, row.AgentMovePct)
	assert.Zero(t, row.DangerPollPct)
}

package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCollector_FlushAndReset(t *testing.T) {
	c := NewCollector("run-1", 60, 60)
	assert.False(t, c.ShouldFlush(59))
	assert.True(t, c.ShouldFlush(60))

	c.RecordMove(MoveWander)
	c.RecordMove(MoveWander)
	c.RecordMove(MoveAvoid)
	c.RecordMove(MoveStuck)
	var tally MoveTally
	tally.Add(MoveWander)
	tally.Add(MoveOther)
	c.MergeMoves(tally)
	c.RecordGateToggle()
	c.RecordDangerResult(2 * time.Millisecond)
	c.RecordDangerResult(4 * time.Millisecond)
	c.RecordDangerFailures(1)
	c.RecordWanderGeneration()

	s := c.Flush(60, WorldCounts{Maps: 2, Agents: 10, Pending: 1, Danger: []float64{0, 100}})

	assert.Equal(t, "run-1", s.RunID)
	assert.Equal(t, int32(0), s.WindowStartTick)
	assert.Equal(t, int32(60), s.WindowEndTick)
	assert.Equal(t, 1.0, s.SimTimeSec)
	assert.Equal(t, 5, s.Moves)
	assert.Equal(t, 3, s.WanderMoves)
	assert.Equal(t, 1, s.AvoidMoves)
	assert.Equal(t, 1, s.StuckAgents)
	assert.InDelta(t, 0.6, s.WanderRate, 1e-9)
	assert.Equal(t, 1, s.GateToggles)
	assert.Equal(t, 2, s.DangerGenerations)
	assert.InDelta(t, 3.0, s.DangerComputeMean, 1e-9)
	assert.Equal(t, 1, s.DangerFailures)
	assert.Equal(t, 1, s.WanderGenerations)
	assert.Equal(t, 2, s.Maps)
	assert.InDelta(t, 50.0, s.DangerAtAgentsMean, 1e-9)

	next := c.Flush(120, WorldCounts{})
	assert.Equal(t, int32(60), next.WindowStartTick)
	assert.Zero(t, next.Moves)
	assert.Zero(t, next.DangerGenerations)
	assert.Zero(t, next.WanderRate)
}

package telemetry

import "time"

// MoveKind classifies one agent step.
type MoveKind uint8

const (
	MoveWander MoveKind = iota // followed a wander field
	MoveAvoid                  // stepped down the danger gradient
	MoveOther                  // threat patrol or random step
	MoveStuck                  // nowhere to go
)

// Collector accumulates events within time windows and produces WindowStats.
type Collector struct {
	runID               string
	windowDurationTicks int32
	ticksPerSecond      int

	windowStartTick int32

	// Event counters for current window
	moves             int
	wanderMoves       int
	avoidMoves        int
	stuck             int
	gateToggles       int
	dangerGenerations int
	dangerFailures    int
	wanderGenerations int
	computeMS         []float64
}

// NewCollector creates a new stats collector.
// windowTicks: ticks per stats window
// ticksPerSecond: used for tick-to-time conversion
func NewCollector(runID string, windowTicks int32, ticksPerSecond int) *Collector {
	if windowTicks < 1 {
		windowTicks = 1
	}
	if ticksPerSecond < 1 {
		ticksPerSecond = 60
	}
	return &Collector{
		runID:               runID,
		windowDurationTicks: windowTicks,
		ticksPerSecond:      ticksPerSecond,
	}
}

// RecordMove records one agent step. Safe only from the host goroutine;
// parallel movers accumulate a MoveTally and merge it.
func (c *Collector) RecordMove(kind MoveKind) {
	switch kind {
	case MoveWander:
		c.moves++
		c.wanderMoves++
	case MoveAvoid:
		c.moves++
		c.avoidMoves++
	case MoveOther:
		c.moves++
	case MoveStuck:
		c.stuck++
	}
}

// MoveTally counts steps on one worker goroutine.
type MoveTally [MoveStuck + 1]int

// Add counts one step of kind.
func (t *MoveTally) Add(kind MoveKind) { t[kind]++ }

// MergeMoves folds a worker tally into the window.
func (c *Collector) MergeMoves(t MoveTally) {
	c.moves += t[MoveWander] + t[MoveAvoid] + t[MoveOther]
	c.wanderMoves += t[MoveWander]
	c.avoidMoves += t[MoveAvoid]
	c.stuck += t[MoveStuck]
}

// RecordGateToggle records a door opening or closing.
func (c *Collector) RecordGateToggle() {
	c.gateToggles++
}

// RecordDangerResult records one published danger generation.
func (c *Collector) RecordDangerResult(d time.Duration) {
	c.dangerGenerations++
	c.computeMS = append(c.computeMS, float64(d)/float64(time.Millisecond))
}

// RecordDangerFailures adds failures observed since the last call.
func (c *Collector) RecordDangerFailures(n int) {
	c.dangerFailures += n
}

// RecordWanderGeneration records one published wander field.
func (c *Collector) RecordWanderGeneration() {
	c.wanderGenerations++
}

// ShouldFlush returns true if enough ticks have passed to flush the window.
func (c *Collector) ShouldFlush(currentTick int32) bool {
	return currentTick-c.windowStartTick >= c.windowDurationTicks
}

// WorldCounts is the population snapshot taken at flush time.
type WorldCounts struct {
	Maps       int
	Agents     int
	Threats    int
	Attractors int
	Pending    int       // queued danger requests
	Danger     []float64 // danger cost at each wanderer
}

// Flush produces a WindowStats and resets counters for the next window.
func (c *Collector) Flush(currentTick int32, world WorldCounts) WindowStats {
	var wanderRate float64
	if c.moves > 0 {
		wanderRate = float64(c.wanderMoves) / float64(c.moves)
	}
	computeMean, _, _, computeP90 := ComputeSampleStats(c.computeMS)
	dangerMean, _, _, dangerP90 := ComputeSampleStats(world.Danger)

	stats := WindowStats{
		RunID:           c.runID,
		WindowStartTick: c.windowStartTick,
		WindowEndTick:   currentTick,
		SimTimeSec:      float64(currentTick) / float64(c.ticksPerSecond),

		Maps:       world.Maps,
		Agents:     world.Agents,
		Threats:    world.Threats,
		Attractors: world.Attractors,

		Moves:       c.moves,
		WanderMoves: c.wanderMoves,
		AvoidMoves:  c.avoidMoves,
		StuckAgents: c.stuck,
		WanderRate:  wanderRate,
		GateToggles: c.gateToggles,

		DangerGenerations: c.dangerGenerations,
		DangerFailures:    c.dangerFailures,
		DangerComputeMean: computeMean,
		DangerComputeP90:  computeP90,
		DangerPending:     world.Pending,
		WanderGenerations: c.wanderGenerations,

		DangerAtAgentsMean: dangerMean,
		DangerAtAgentsP90:  dangerP90,
	}

	// Reset for next window
	c.windowStartTick = currentTick
	c.moves = 0
	c.wanderMoves = 0
	c.avoidMoves = 0
	c.stuck = 0
	c.gateToggles = 0
	c.dangerGenerations = 0
	c.dangerFailures = 0
	c.wanderGenerations = 0
	c.computeMS = c.computeMS[:0]

	return stats
}

// WindowDurationTicks returns the number of ticks per window.
func (c *Collector) WindowDurationTicks() int32 {
	return c.windowDurationTicks
}

// RunID returns the identifier stamped into flushed windows.
func (c *Collector) RunID() string {
	return c.runID
}

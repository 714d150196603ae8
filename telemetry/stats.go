package telemetry

import (
	"log/slog"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// WindowStats holds aggregated statistics for a time window.
type WindowStats struct {
	RunID           string  `csv:"run_id"`
	WindowStartTick int32   `csv:"-"`
	WindowEndTick   int32   `csv:"window_end"`
	SimTimeSec      float64 `csv:"sim_time"`

	// World state at window end
	Maps       int `csv:"maps"`
	Agents     int `csv:"agents"`
	Threats    int `csv:"threats"`
	Attractors int `csv:"attractors"`

	// Movement during window
	Moves        int     `csv:"moves"`
	WanderMoves  int     `csv:"wander_moves"`  // steps taken along a wander field
	AvoidMoves   int     `csv:"avoid_moves"`   // steps taken down the danger gradient
	StuckAgents  int     `csv:"stuck"`         // move attempts with nowhere to go
	WanderRate   float64 `csv:"wander_rate"`   // WanderMoves / Moves
	GateToggles  int     `csv:"gate_toggles"`

	// Field production during window
	DangerGenerations int     `csv:"danger_generations"`
	DangerFailures    int     `csv:"danger_failures"`
	DangerComputeMean float64 `csv:"danger_compute_ms_mean"`
	DangerComputeP90  float64 `csv:"danger_compute_ms_p90"`
	DangerPending     int     `csv:"danger_pending"`
	WanderGenerations int     `csv:"wander_generations"`

	// Danger at agent positions (sampled at window end)
	DangerAtAgentsMean float64 `csv:"danger_at_agents_mean"`
	DangerAtAgentsP90  float64 `csv:"danger_at_agents_p90"`
}

// Percentile calculates the p-th percentile of a sorted slice.
// p should be in [0, 1]. Returns 0 if slice is empty.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}

	// Linear interpolation
	idx := p * float64(n-1)
	lo := int(idx)
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

// ComputeSampleStats calculates mean and percentiles from sample values.
func ComputeSampleStats(values []float64) (mean, p10, p50, p90 float64) {
	if len(values) == 0 {
		return 0, 0, 0, 0
	}
	mean = stat.Mean(values, nil)

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	return mean, Percentile(sorted, 0.10), Percentile(sorted, 0.50), Percentile(sorted, 0.90)
}

// FieldStats summarises one published danger grid.
type FieldStats struct {
	RunID      string  `csv:"run_id"`
	Tick       int32   `csv:"tick"`
	Map        int32   `csv:"map"`
	Generation uint64  `csv:"generation"`
	Cells      int     `csv:"cells"`
	Covered    int     `csv:"covered"`  // cells with non-zero cost
	Coverage   float64 `csv:"coverage"` // Covered / Cells
	Max        float64 `csv:"max"`
	Mean       float64 `csv:"mean"` // over covered cells
	Std        float64 `csv:"std"`  // over covered cells
	P50        float64 `csv:"p50"`
	P90        float64 `csv:"p90"`
}

// ComputeFieldStats summarises the non-zero cells of a cost grid.
func ComputeFieldStats(cells []int32) FieldStats {
	fs := FieldStats{Cells: len(cells)}
	covered := make([]float64, 0, len(cells)/4)
	for _, c := range cells {
		if c > 0 {
			covered = append(covered, float64(c))
		}
	}
	fs.Covered = len(covered)
	if fs.Cells > 0 {
		fs.Coverage = float64(fs.Covered) / float64(fs.Cells)
	}
	if len(covered) == 0 {
		return fs
	}

	fs.Max = floats.Max(covered)
	if len(covered) > 1 {
		fs.Mean, fs.Std = stat.MeanStdDev(covered, nil)
	} else {
		fs.Mean = covered[0]
	}
	sort.Float64s(covered)
	fs.P50 = Percentile(covered, 0.50)
	fs.P90 = Percentile(covered, 0.90)
	return fs
}

// LogValue implements slog.LogValuer for structured logging.
func (s FieldStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("map", int(s.Map)),
		slog.Uint64("generation", s.Generation),
		slog.Int("covered", s.Covered),
		slog.Float64("coverage", s.Coverage),
		slog.Float64("max", s.Max),
		slog.Float64("mean", s.Mean),
		slog.Float64("std", s.Std),
		slog.Float64("p90", s.P90),
	)
}

// LogValue implements slog.LogValuer for structured logging.
func (s WindowStats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("window_start", int(s.WindowStartTick)),
		slog.Int("window_end", int(s.WindowEndTick)),
		slog.Float64("sim_time", s.SimTimeSec),
		slog.Int("maps", s.Maps),
		slog.Int("agents", s.Agents),
		slog.Int("threats", s.Threats),
		slog.Int("attractors", s.Attractors),
		slog.Int("moves", s.Moves),
		slog.Int("wander_moves", s.WanderMoves),
		slog.Int("avoid_moves", s.AvoidMoves),
		slog.Int("stuck", s.StuckAgents),
		slog.Float64("wander_rate", s.WanderRate),
		slog.Int("gate_toggles", s.GateToggles),
		slog.Int("danger_generations", s.DangerGenerations),
		slog.Int("danger_failures", s.DangerFailures),
		slog.Float64("danger_compute_ms_mean", s.DangerComputeMean),
		slog.Float64("danger_compute_ms_p90", s.DangerComputeP90),
		slog.Int("danger_pending", s.DangerPending),
		slog.Int("wander_generations", s.WanderGenerations),
		slog.Float64("danger_at_agents_mean", s.DangerAtAgentsMean),
		slog.Float64("danger_at_agents_p90", s.DangerAtAgentsP90),
	)
}

// LogStats logs the window stats using logger.
func (s WindowStats) LogStats(logger *slog.Logger) {
	logger.Info("stats", "window", s)
}

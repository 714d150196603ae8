package telemetry

import (
	"log/slog"
	"slices"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Phase is one timed section of a simulation step.
type Phase uint8

// Step phases, in execution order.
const (
	PhaseWorld Phase = iota
	PhaseDangerSubmit
	PhaseDangerPoll
	PhaseWanderAdvance
	PhaseAgentMove
	PhaseTelemetry
	numPhases
)

var phaseNames = [numPhases]string{
	"world", "danger_submit", "danger_poll", "wander_advance", "agent_move", "telemetry",
}

func (p Phase) String() string {
	if p < numPhases {
		return phaseNames[p]
	}
	return "unknown"
}

type tickSample struct {
	total  time.Duration
	phases [numPhases]time.Duration
}

// PerfCollector times step phases over a ring of the last windowSize ticks
// and compares each tick against the real-time budget of one tick period.
type PerfCollector struct {
	budget  time.Duration
	samples []tickSample
	next    int
	count   int

	current    tickSample
	tickStart  time.Time
	phaseStart time.Time
	phase      Phase
	inPhase    bool
}

// NewPerfCollector creates a collector averaging over windowSize ticks.
// budget is the wall time one tick may take at the configured tick rate;
// zero disables the over-budget count.
func NewPerfCollector(windowSize int, budget time.Duration) *PerfCollector {
	if windowSize < 1 {
		windowSize = 60
	}
	return &PerfCollector{
		budget:  budget,
		samples: make([]tickSample, windowSize),
	}
}

// StartTick begins timing a new step.
func (p *PerfCollector) StartTick() {
	p.tickStart = time.Now()
	p.current = tickSample{}
	p.inPhase = false
}

// StartPhase closes the running phase, if any, and starts timing phase.
func (p *PerfCollector) StartPhase(phase Phase) {
	now := time.Now()
	p.closePhase(now)
	p.phase = phase
	p.phaseStart = now
	p.inPhase = phase < numPhases
}

// EndTick closes the running phase and records the step.
func (p *PerfCollector) EndTick() {
	now := time.Now()
	p.closePhase(now)
	p.current.total = now.Sub(p.tickStart)

	p.samples[p.next] = p.current
	p.next = (p.next + 1) % len(p.samples)
	p.count = min(p.count+1, len(p.samples))
}

func (p *PerfCollector) closePhase(now time.Time) {
	if p.inPhase {
		p.current.phases[p.phase] += now.Sub(p.phaseStart)
		p.inPhase = false
	}
}

// PerfStats summarises the ticks currently in the window.
type PerfStats struct {
	Ticks      int
	AvgTick    time.Duration
	P95Tick    time.Duration
	MaxTick    time.Duration
	OverBudget int // ticks that took longer than the tick period

	// Share of the average tick spent in each phase, in percent.
	PhasePct [numPhases]float64
}

// Stats aggregates the window.
func (p *PerfCollector) Stats() PerfStats {
	st := PerfStats{Ticks: p.count}
	if p.count == 0 {
		return st
	}

	totals := make([]float64, p.count)
	var phaseSum [numPhases]time.Duration
	var sum time.Duration
	for i, s := range p.samples[:p.count] {
		totals[i] = float64(s.total)
		sum += s.total
		st.MaxTick = max(st.MaxTick, s.total)
		if p.budget > 0 && s.total > p.budget {
			st.OverBudget++
		}
		for ph, d := range s.phases {
			phaseSum[ph] += d
		}
	}
	slices.Sort(totals)
	st.AvgTick = sum / time.Duration(p.count)
	st.P95Tick = time.Duration(stat.Quantile(0.95, stat.Empirical, totals, nil))

	if sum > 0 {
		for ph, d := range phaseSum {
			st.PhasePct[ph] = float64(d) / float64(sum) * 100
		}
	}
	return st
}

// LogStats logs the window at Info, listing phases above 0.1%.
func (s PerfStats) LogStats(logger *slog.Logger) {
	attrs := []any{
		"avg_tick_us", s.AvgTick.Microseconds(),
		"p95_tick_us", s.P95Tick.Microseconds(),
		"max_tick_us", s.MaxTick.Microseconds(),
		"over_budget", s.OverBudget,
	}
	for ph, pct := range s.PhasePct {
		if pct > 0.1 {
			attrs = append(attrs, Phase(ph).String()+"_pct", int(pct*10)/10.0)
		}
	}
	logger.Info("perf", attrs...)
}

// PerfStatsCSV is one row of perf.csv.
type PerfStatsCSV struct {
	RunID            string  `csv:"run_id"`
	WindowEnd        int32   `csv:"window_end"`
	Ticks            int     `csv:"ticks"`
	AvgTickUS        int64   `csv:"avg_tick_us"`
	P95TickUS        int64   `csv:"p95_tick_us"`
	MaxTickUS        int64   `csv:"max_tick_us"`
	OverBudget       int     `csv:"over_budget"`
	WorldPct         float64 `csv:"world_pct"`
	DangerSubmitPct  float64 `csv:"danger_submit_pct"`
	DangerPollPct    float64 `csv:"danger_poll_pct"`
	WanderAdvancePct float64 `csv:"wander_advance_pct"`
	AgentMovePct     float64 `csv:"agent_move_pct"`
	TelemetryPct     float64 `csv:"telemetry_pct"`
}

// ToCSV flattens the stats for the window ending at windowEnd.
func (s PerfStats) ToCSV(windowEnd int32) PerfStatsCSV {
	return PerfStatsCSV{
		WindowEnd:        windowEnd,
		Ticks:            s.Ticks,
		AvgTickUS:        s.AvgTick.Microseconds(),
		P95TickUS:        s.P95Tick.Microseconds(),
		MaxTickUS:        s.MaxTick.Microseconds(),
		OverBudget:       s.OverBudget,
		WorldPct:         s.PhasePct[PhaseWorld],
		DangerSubmitPct:  s.PhasePct[PhaseDangerSubmit],
		DangerPollPct:    s.PhasePct[PhaseDangerPoll],
		WanderAdvancePct: s.PhasePct[PhaseWanderAdvance],
		AgentMovePct:     s.PhasePct[PhaseAgentMove],
		TelemetryPct:     s.PhasePct[PhaseTelemetry],
	}
}

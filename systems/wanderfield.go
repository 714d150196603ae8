package systems

import (
	"log/slog"
	"time"

	"github.com/pthm-cable/fieldworks/components"
)

// AttractorSource supplies the current attractor positions of a map.
type AttractorSource interface {
	Attractors(mapID components.MapID, v components.Variant) []components.Cell
}

// AttractorFunc adapts a function to AttractorSource.
type AttractorFunc func(mapID components.MapID, v components.Variant) []components.Cell

// Attractors implements AttractorSource.
func (f AttractorFunc) Attractors(mapID components.MapID, v components.Variant) []components.Cell {
	return f(mapID, v)
}

// Load describes host pressure used to size the per-tick budget.
type Load struct {
	Speed    float64 // simulation speed multiplier (1 = normal)
	Spawning int     // agents being created this tick
}

// WanderConfig tunes the wander engine.
type WanderConfig struct {
	RebuildTicks uint64        // ticks between full rebuilds of a map
	MinBudget    time.Duration // per-Advance floor
	MaxBudget    time.Duration // per-Advance budget when idle
	Logger       *slog.Logger
}

// DefaultWanderConfig returns 30 s rebuilds at 60 ticks per second and a
// 0.25–2 ms budget.
func DefaultWanderConfig() WanderConfig {
	return WanderConfig{
		RebuildTicks: 30 * 60,
		MinBudget:    250 * time.Microsecond,
		MaxBudget:    2 * time.Millisecond,
	}
}

type wanderVariant struct {
	buf  *DoubleBuffer[components.Backpointer]
	job  *floodJob
	want bool // a rebuild is due but has not started yet

	targetsKey uint64
	keyed      bool
}

// wanderState holds both wander variants of one map.
type wanderState struct {
	mapID       components.MapID
	source      MapSource
	variants    [components.NumVariants]wanderVariant
	nextRebuild uint64
}

func newWanderState(mapID components.MapID, source MapSource, tick uint64, logger *slog.Logger) *wanderState {
	w, h := source.Dimensions()
	st := &wanderState{mapID: mapID, source: source, nextRebuild: tick}
	for v := range st.variants {
		st.variants[v].buf = NewDoubleBuffer[components.Backpointer](w, h)
		warnOnStall(st.variants[v].buf, logger, "wander_"+components.Variant(v).String(), mapID)
	}
	return st
}

// WanderFieldEngine builds per-map direction fields toward attractors,
// spreading the work over host ticks. All methods must be called from the
// host goroutine except LookupNextStep, which may be called concurrently
// with other lookups.
type WanderFieldEngine struct {
	coord      *GridCoordinator
	attractors AttractorSource
	cfg        WanderConfig
	logger     *slog.Logger

	load   Load
	tick   uint64
	cursor int
	now    func() time.Time
}

// NewWanderFieldEngine creates an engine reading attractors from src.
func NewWanderFieldEngine(coord *GridCoordinator, src AttractorSource, cfg WanderConfig) *WanderFieldEngine {
	def := DefaultWanderConfig()
	if cfg.RebuildTicks == 0 {
		cfg.RebuildTicks = def.RebuildTicks
	}
	if cfg.MaxBudget <= 0 {
		cfg.MaxBudget = def.MaxBudget
	}
	if cfg.MinBudget <= 0 || cfg.MinBudget > cfg.MaxBudget {
		cfg.MinBudget = min(def.MinBudget, cfg.MaxBudget)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WanderFieldEngine{
		coord:      coord,
		attractors: src,
		cfg:        cfg,
		logger:     logger,
		load:       Load{Speed: 1},
		now:        time.Now,
	}
}

// SetLoad updates the host pressure used for subsequent budgets.
func (e *WanderFieldEngine) SetLoad(l Load) { e.load = l }

// Tick returns the number of Advance calls so far.
func (e *WanderFieldEngine) Tick() uint64 { return e.tick }

// BudgetFor returns the wall-clock budget for one Advance under load l.
// Higher speed and more concurrent spawning shrink it.
func (e *WanderFieldEngine) BudgetFor(l Load) time.Duration {
	b := float64(e.cfg.MaxBudget)
	if l.Speed > 1 {
		b /= l.Speed
	}
	if l.Spawning > 0 {
		b /= float64(1 + l.Spawning)
	}
	d := time.Duration(b)
	return max(e.cfg.MinBudget, min(d, e.cfg.MaxBudget))
}

// RequestRebuild schedules a full rebuild of every variant of mapID.
func (e *WanderFieldEngine) RequestRebuild(mapID components.MapID) {
	if st := e.coord.wander(mapID, e.tick); st != nil {
		for v := range st.variants {
			st.variants[v].want = true
		}
	}
}

// Advance progresses incremental work by one host tick. Skipping it freezes
// the fields at their last generation.
func (e *WanderFieldEngine) Advance() {
	e.tick++
	ids := e.coord.Maps()
	if len(ids) == 0 {
		return
	}

	// New maps take their first rebuild one tick apart.
	states := make([]*wanderState, 0, len(ids))
	for k, id := range ids {
		if st := e.coord.wander(id, e.tick+uint64(k)); st != nil {
			e.schedule(st)
			states = append(states, st)
		}
	}

	deadline := e.now().Add(e.BudgetFor(e.load))
	first := true
	for k := range states {
		st := states[(e.cursor+k)%len(states)]
		for v := range st.variants {
			wv := &st.variants[v]
			if wv.job == nil {
				continue
			}
			if !first && !e.now().Before(deadline) {
				e.cursor = (e.cursor + k) % len(states)
				return
			}
			first = false
			if wv.job.Step(deadline) == StepDone {
				gen := wv.buf.Swap()
				e.logger.Debug("wander field published",
					"map", st.mapID,
					"variant", components.Variant(v),
					"generation", gen,
					"visited", wv.job.Visited(),
				)
				wv.job = nil
			}
		}
	}
	e.cursor = (e.cursor + 1) % len(states)
}

// schedule marks due rebuilds and starts jobs that can start.
func (e *WanderFieldEngine) schedule(st *wanderState) {
	if e.tick >= st.nextRebuild {
		st.nextRebuild = e.tick + e.cfg.RebuildTicks
		for v := range st.variants {
			st.variants[v].want = true
		}
	}

	piercing := &st.variants[components.VariantPiercing]
	targets := e.attractors.Attractors(st.mapID, components.VariantPiercing)
	if key := cellSetKey(targets); !piercing.keyed || key != piercing.targetsKey {
		piercing.targetsKey = key
		piercing.keyed = true
		piercing.want = true
		// A changed target set invalidates any build in progress.
		piercing.job = nil
	}

	for v := range st.variants {
		wv := &st.variants[v]
		if !wv.want || wv.job != nil {
			continue
		}
		if e.start(st, components.Variant(v)) {
			wv.want = false
		}
	}
}

// start begins a rebuild of one variant. It returns false when the map is not
// ready or there is nothing to seed; the rebuild stays due and is retried on
// the next Advance.
func (e *WanderFieldEngine) start(st *wanderState, v components.Variant) bool {
	w, h := st.source.Dimensions()
	if w <= 0 || h <= 0 || !st.source.Ready() {
		return false
	}

	targets := e.eligible(st.source, e.attractors.Attractors(st.mapID, v))
	if len(targets) == 0 {
		return false
	}

	wv := &st.variants[v]
	job := newFloodJob(v, st.source, wv.buf.Back(), e.tick)
	if job.seed(targets) == 0 {
		return false
	}
	wv.job = job
	return true
}

func (e *WanderFieldEngine) eligible(src MapSource, cells []components.Cell) []components.Cell {
	rooms, ok := src.(RoomFilter)
	if !ok {
		return cells
	}
	out := make([]components.Cell, 0, len(cells))
	for _, c := range cells {
		if rooms.EligibleRoom(c) {
			out = append(out, c)
		}
	}
	return out
}

// LookupNextStep returns the neighbour of c that leads toward an attractor in
// the latest published generation. ok is false for unknown maps, unvisited
// cells and the attractor cells themselves.
func (e *WanderFieldEngine) LookupNextStep(mapID components.MapID, c components.Cell, v components.Variant) (next components.Cell, ok bool) {
	if v >= components.NumVariants {
		return components.Cell{}, false
	}
	st := e.coord.wanderIfExists(mapID)
	if st == nil {
		return components.Cell{}, false
	}
	buf := st.variants[v].buf
	g := buf.Acquire()
	bp := g.Get(c)
	buf.Release(g)

	if bp.IsRoot() {
		return components.Cell{}, false
	}
	dx, dz, visited := bp.Delta()
	if !visited {
		return components.Cell{}, false
	}
	return c.Add(dx, dz), true
}

// Backpointers returns a pinned view of the published field. Call release
// when done; an unreleased view blocks the next rebuild of this variant.
func (e *WanderFieldEngine) Backpointers(mapID components.MapID, v components.Variant) (g *Grid[components.Backpointer], release func()) {
	st := e.coord.wanderIfExists(mapID)
	if st == nil || v >= components.NumVariants {
		return nil, func() {}
	}
	buf := st.variants[v].buf
	g = buf.Acquire()
	return g, func() { buf.Release(g) }
}

// Generation returns the published generation of a variant (0 = none yet).
func (e *WanderFieldEngine) Generation(mapID components.MapID, v components.Variant) uint64 {
	st := e.coord.wanderIfExists(mapID)
	if st == nil || v >= components.NumVariants {
		return 0
	}
	return st.variants[v].buf.Generation()
}

// Progress reports how many cells the in-flight build has reached and
// whether a build is running.
func (e *WanderFieldEngine) Progress(mapID components.MapID, v components.Variant) (visited int, building bool) {
	st := e.coord.wanderIfExists(mapID)
	if st == nil || v >= components.NumVariants {
		return 0, false
	}
	if job := st.variants[v].job; job != nil {
		return job.Visited(), true
	}
	return 0, false
}

package systems

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/bits"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pthm-cable/fieldworks/components"
	"github.com/pthm-cable/fieldworks/queue"
)

var (
	// ErrUnknownMap is returned for maps the coordinator has not been told about.
	ErrUnknownMap = errors.New("unknown map")
	// ErrMapNotReady is returned while a map has no usable walkability data.
	ErrMapNotReady = errors.New("map not ready")
)

// DangerResult describes one published danger generation.
type DangerResult struct {
	Map        components.MapID
	Generation uint64
	Threats    int
	Cells      int // cells that received a non-zero cost
	Duration   time.Duration
	Sync       bool // computed on the caller's goroutine
}

// DangerWorkerConfig tunes the background worker.
type DangerWorkerConfig struct {
	QueueCapacity int           // pending requests across all maps (0 = unbounded)
	ErrorPause    time.Duration // sleep after a failed computation
	Logger        *slog.Logger
}

type dangerRequest struct {
	state   *dangerState
	seq     uint64
	threats []components.ThreatSpec
}

// dangerState is the per-map danger field.
type dangerState struct {
	mapID  components.MapID
	source MapSource
	buf    *DoubleBuffer[int32]

	// writer is a one-slot token held by whoever is producing the next
	// generation; it also guards scratch and publishedSeq.
	writer       chan struct{}
	scratch      floodScratch
	publishedSeq uint64

	results  *queue.Bounded[DangerResult]
	unloaded atomic.Bool
}

func newDangerState(mapID components.MapID, source MapSource, logger *slog.Logger) *dangerState {
	w, h := source.Dimensions()
	st := &dangerState{
		mapID:   mapID,
		source:  source,
		buf:     NewDoubleBuffer[int32](w, h),
		writer:  make(chan struct{}, 1),
		results: queue.New[DangerResult](1),
	}
	warnOnStall(st.buf, logger, "danger", mapID)
	return st
}

// floodScratch holds per-flood visit marks. The epoch counter avoids
// clearing the stamp array between floods.
type floodScratch struct {
	stamp    []uint32
	epoch    uint32
	frontier []int32
}

func (s *floodScratch) reset(n int) {
	if len(s.stamp) != n {
		s.stamp = make([]uint32, n)
		s.epoch = 0
	}
	s.epoch++
	if s.epoch == 0 {
		clear(s.stamp)
		s.epoch = 1
	}
	s.frontier = s.frontier[:0]
}

// CostView is a pinned, read-only view of one danger generation. The zero
// value reads as an empty field.
type CostView struct {
	grid *Grid[int32]
	buf  *DoubleBuffer[int32]
}

// Cost returns the danger cost at c, or 0 when out of range or empty.
func (v CostView) Cost(c components.Cell) int {
	if v.grid == nil {
		return 0
	}
	return int(v.grid.Get(c))
}

// Generation returns the generation of the view (0 = nothing computed yet).
func (v CostView) Generation() uint64 {
	if v.grid == nil {
		return 0
	}
	return v.grid.Generation()
}

// Grid exposes the underlying grid for bulk readers. Nil for empty views.
func (v CostView) Grid() *Grid[int32] { return v.grid }

// Release unpins the view. Safe to call on the zero value.
func (v CostView) Release() {
	if v.buf != nil {
		v.buf.Release(v.grid)
	}
}

// DangerFieldWorker maintains per-map cost grids on one background goroutine.
type DangerFieldWorker struct {
	coord    *GridCoordinator
	requests *queue.Bounded[dangerRequest]
	logger   *slog.Logger
	pause    time.Duration

	seq      atomic.Uint64
	computed atomic.Uint64
	failures atomic.Uint64

	wg       sync.WaitGroup
	started  atomic.Bool
	done     chan struct{}
	stopOnce sync.Once
}

// NewDangerFieldWorker creates a worker bound to coord. Call Start to launch
// the background goroutine.
func NewDangerFieldWorker(coord *GridCoordinator, cfg DangerWorkerConfig) *DangerFieldWorker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pause := cfg.ErrorPause
	if pause <= 0 {
		pause = 100 * time.Millisecond
	}
	return &DangerFieldWorker{
		coord:    coord,
		requests: queue.New[dangerRequest](cfg.QueueCapacity),
		logger:   logger,
		pause:    pause,
		done:     make(chan struct{}),
	}
}

// Start launches the worker goroutine. Cancelling ctx stops it.
func (w *DangerFieldWorker) Start(ctx context.Context) {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	w.wg.Add(1)
	go w.run()

	go func() {
		select {
		case <-ctx.Done():
			w.requests.Close()
		case <-w.done:
		}
	}()
}

// Stop closes the request queue and waits for the worker to exit.
func (w *DangerFieldWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.requests.Close()
	})
	w.wg.Wait()
}

func (w *DangerFieldWorker) run() {
	defer w.wg.Done()
	for {
		req, ok := w.requests.Dequeue(true)
		if !ok {
			return
		}
		w.process(req)
	}
}

// process computes one request. A failing computation is logged and followed
// by a pause; it never ends the worker loop.
func (w *DangerFieldWorker) process(req dangerRequest) {
	defer func() {
		if r := recover(); r != nil {
			w.failures.Add(1)
			w.logger.Error("danger field computation panicked",
				"map", req.state.mapID,
				"panic", fmt.Sprint(r),
			)
			time.Sleep(w.pause)
		}
	}()

	if req.state.unloaded.Load() {
		return
	}
	_, err := w.compute(req.state, req.seq, req.threats, false, nil)
	switch {
	case err == nil:
	case errors.Is(err, ErrMapNotReady):
		w.logger.Debug("danger field skipped", "map", req.state.mapID, "reason", err)
	default:
		w.failures.Add(1)
		w.logger.Error("danger field computation failed", "map", req.state.mapID, "error", err)
		time.Sleep(w.pause)
	}
}

// SubmitThreats queues a recompute for mapID. A request still pending for the
// same map is overwritten, so only the latest threat set is computed.
func (w *DangerFieldWorker) SubmitThreats(mapID components.MapID, threats []components.ThreatSpec) error {
	state := w.coord.danger(mapID)
	if state == nil {
		return fmt.Errorf("submit threats for map %d: %w", mapID, ErrUnknownMap)
	}
	req := dangerRequest{
		state:   state,
		seq:     w.seq.Add(1),
		threats: append([]components.ThreatSpec(nil), threats...),
	}
	w.requests.Enqueue(req, func(p dangerRequest) bool { return p.state == state })
	return nil
}

// SubmitThreatsSync computes the field for mapID on the calling goroutine and
// returns a pinned view of the result. Any pending queued request for the map
// is dropped. The caller must Release the view.
func (w *DangerFieldWorker) SubmitThreatsSync(mapID components.MapID, threats []components.ThreatSpec) (CostView, error) {
	state := w.coord.danger(mapID)
	if state == nil {
		return CostView{}, fmt.Errorf("submit threats for map %d: %w", mapID, ErrUnknownMap)
	}
	w.requests.Remove(func(p dangerRequest) bool { return p.state == state })

	var view CostView
	_, err := w.compute(state, w.seq.Add(1), threats, true, &view)
	if err != nil {
		return w.Query(mapID), err
	}
	return view, nil
}

// Query returns a pinned view of the latest published generation for mapID,
// or an empty view if none exists. It never blocks on computation.
//
// Every view must be released. The worker cannot reuse a grid while a view
// of it is pinned, so a leaked view stalls all later generations of the map.
func (w *DangerFieldWorker) Query(mapID components.MapID) CostView {
	state := w.coord.danger(mapID)
	if state == nil {
		return CostView{}
	}
	return CostView{grid: state.buf.Acquire(), buf: state.buf}
}

// CostAt reads a single cell of the latest generation.
func (w *DangerFieldWorker) CostAt(mapID components.MapID, c components.Cell) int {
	view := w.Query(mapID)
	cost := view.Cost(c)
	view.Release()
	return cost
}

// PollResult returns the most recent unread result for mapID without blocking.
func (w *DangerFieldWorker) PollResult(mapID components.MapID) (DangerResult, bool) {
	state := w.coord.danger(mapID)
	if state == nil {
		return DangerResult{}, false
	}
	return state.results.Dequeue(false)
}

// Pending returns the number of queued requests.
func (w *DangerFieldWorker) Pending() int {
	return w.requests.Count(nil)
}

// Computed returns the number of generations published so far.
func (w *DangerFieldWorker) Computed() uint64 { return w.computed.Load() }

// Failures returns the number of failed computations.
func (w *DangerFieldWorker) Failures() uint64 { return w.failures.Load() }

// compute produces and publishes one generation. When view is non-nil it is
// filled with a pinned view of the new generation before the writer token is
// released.
func (w *DangerFieldWorker) compute(state *dangerState, seq uint64, threats []components.ThreatSpec, onCaller bool, view *CostView) (DangerResult, error) {
	width, height := state.source.Dimensions()
	if width <= 0 || height <= 0 || !state.source.Ready() {
		return DangerResult{}, ErrMapNotReady
	}

	state.writer <- struct{}{}
	defer func() { <-state.writer }()

	if seq < state.publishedSeq {
		// A newer threat set has already been published.
		if view != nil {
			*view = CostView{grid: state.buf.Acquire(), buf: state.buf}
		}
		return DangerResult{}, nil
	}

	start := time.Now()
	back := state.buf.Back()
	for i, t := range threats {
		floodThreat(back, state.source, &state.scratch, t)
		if !onCaller && i+1 < len(threats) {
			runtime.Gosched()
		}
	}

	touched := 0
	for _, c := range back.Cells() {
		if c > 0 {
			touched++
		}
	}

	gen := state.buf.Swap()
	state.publishedSeq = seq
	if view != nil {
		*view = CostView{grid: state.buf.Acquire(), buf: state.buf}
	}
	w.computed.Add(1)

	result := DangerResult{
		Map:        state.mapID,
		Generation: gen,
		Threats:    len(threats),
		Cells:      touched,
		Duration:   time.Since(start),
		Sync:       onCaller,
	}
	state.results.Enqueue(result, func(DangerResult) bool { return true })
	return result, nil
}

// floodThreat spreads one threat over dst by breadth-first search through
// walkable cells within the threat radius. Each reached cell takes the max of
// its current cost and peak × (1 − distSq/radius²). Closed gates take a cost
// but stop the flood; solid or impassable cells are skipped.
func floodThreat(dst *Grid[int32], src MapSource, sc *floodScratch, t components.ThreatSpec) int {
	if t.Radius <= 0 || t.PeakCost <= 0 || !dst.InBounds(t.Pos) {
		return 0
	}
	peak := t.PeakCost
	if peak > math.MaxInt32 {
		peak = math.MaxInt32
	}
	radius := uint64(min(t.Radius, math.MaxUint32))
	r2 := radius * radius
	sc.reset(len(dst.cells))

	reached := 0
	visit := func(c components.Cell) {
		idx := dst.Index(c)
		if sc.stamp[idx] == sc.epoch {
			return
		}
		sc.stamp[idx] = sc.epoch

		d2 := uint64(c.DistSq(t.Pos))
		if d2 >= r2 {
			return
		}
		closedGate := src.ClassifyObstacle(c) == components.ObstacleGateClosed
		if !closedGate && !src.IsWalkable(c) {
			return
		}

		// peak < 2^31, so the 128-bit product over r2 cannot overflow Div64.
		hi, lo := bits.Mul64(uint64(peak), r2-d2)
		q, _ := bits.Div64(hi, lo, r2)
		cost := int32(q)
		if cost > dst.cells[idx] {
			dst.cells[idx] = cost
		}
		reached++
		if !closedGate {
			sc.frontier = append(sc.frontier, int32(idx))
		}
	}

	visit(t.Pos)
	for head := 0; head < len(sc.frontier); head++ {
		c := dst.CellAt(int(sc.frontier[head]))
		for _, d := range cardinalDirs {
			n := c.Add(d[0], d[1])
			if dst.InBounds(n) {
				visit(n)
			}
		}
	}
	return reached
}

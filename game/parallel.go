package game

import (
	"runtime"
	"sync"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/fieldworks/components"
	"github.com/pthm-cable/fieldworks/systems"
	"github.com/pthm-cable/fieldworks/telemetry"
)

// parallelThreshold is the minimum mover count to use parallel processing.
// Below this, single-threaded is faster due to goroutine overhead.
const parallelThreshold = 64

// stepDirs lists the eight neighbour offsets, cardinals first.
var stepDirs = [8][2]int{
	{0, -1}, {1, 0}, {0, 1}, {-1, 0},
	{1, -1}, {1, 1}, {-1, 1}, {-1, -1},
}

// moveSnapshot captures read-only state for parallel processing.
type moveSnapshot struct {
	Entity  ecs.Entity
	ID      uint32
	Pos     components.Position
	Roles   components.Role
	Variant components.Variant
}

// moveIntent is the computed step, applied after the parallel phase.
type moveIntent struct {
	Next components.Cell
	Kind telemetry.MoveKind
}

// workerScratch holds per-worker counters.
type workerScratch struct {
	tally telemetry.MoveTally
}

// workChunk represents a range of movers for a worker to process.
type workChunk struct {
	start, end int
}

// movementState holds resources for parallel movement.
type movementState struct {
	snapshots  []moveSnapshot
	intents    []moveIntent
	scratches  []workerScratch
	numWorkers int

	// Danger views pinned for the duration of one movement phase.
	views map[components.MapID]systems.CostView

	// Worker pool channels
	workChan chan workChunk // sends work to workers
	doneChan chan struct{}  // workers signal completion
	stopChan chan struct{}  // signals workers to exit
	wg       sync.WaitGroup // tracks active workers
	running  bool           // true if workers are running
}

func newMovementState(workers int) *movementState {
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &movementState{
		numWorkers: workers,
		scratches:  make([]workerScratch, workers),
		snapshots:  make([]moveSnapshot, 0, 512),
		intents:    make([]moveIntent, 0, 512),
		views:      make(map[components.MapID]systems.CostView),
	}
}

// startWorkers launches persistent worker goroutines.
func (p *movementState) startWorkers(s *Simulation) {
	if p.running {
		return
	}

	p.workChan = make(chan workChunk, p.numWorkers)
	p.doneChan = make(chan struct{}, p.numWorkers)
	p.stopChan = make(chan struct{})
	p.running = true

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(s, i)
	}
}

// stopWorkers signals all workers to exit and waits for them.
func (p *movementState) stopWorkers() {
	if !p.running {
		return
	}

	close(p.stopChan)
	p.wg.Wait()
	close(p.workChan)
	close(p.doneChan)
	p.running = false
}

// worker runs in a goroutine, processing chunks until stopped.
func (p *movementState) worker(s *Simulation, workerID int) {
	defer p.wg.Done()
	scratch := &p.scratches[workerID]

	for {
		select {
		case <-p.stopChan:
			return
		case chunk, ok := <-p.workChan:
			if !ok {
				return
			}
			s.computeChunk(chunk.start, chunk.end, scratch)
			p.doneChan <- struct{}{}
		}
	}
}

// moveAgents steps every agent whose cooldown has expired.
func (s *Simulation) moveAgents() {
	mv := s.movement

	// Phase A: Build snapshots (single-threaded)
	mv.snapshots = mv.snapshots[:0]
	query := s.agentFilter.Query()
	for query.Next() {
		pos, agent := query.Get()
		if agent.Roles.Has(components.RoleAttractor) {
			continue
		}
		if agent.MoveCooldown--; agent.MoveCooldown > 0 {
			continue
		}
		agent.MoveCooldown = agent.MoveInterval

		mv.snapshots = append(mv.snapshots, moveSnapshot{
			Entity:  query.Entity(),
			ID:      agent.ID,
			Pos:     *pos,
			Roles:   agent.Roles,
			Variant: agent.Variant(),
		})
	}

	n := len(mv.snapshots)
	if n == 0 {
		return
	}

	if cap(mv.intents) < n {
		mv.intents = make([]moveIntent, n)
	}
	mv.intents = mv.intents[:n]

	for id := range s.maps {
		mv.views[id] = s.danger.Query(id)
	}
	defer func() {
		for id, v := range mv.views {
			v.Release()
			delete(mv.views, id)
		}
	}()

	// Phase B: Compute - choose single or parallel based on mover count
	if n < parallelThreshold {
		s.computeChunk(0, n, &mv.scratches[0])
	} else {
		s.computeParallel(n)
	}

	// Phase C: Apply intents (single-threaded, preserves determinism)
	s.applyIntents()
}

// computeParallel dispatches work to the worker pool.
func (s *Simulation) computeParallel(n int) {
	mv := s.movement
	if !mv.running {
		mv.startWorkers(s)
	}

	chunkSize := (n + mv.numWorkers - 1) / mv.numWorkers

	chunksDispatched := 0
	for w := 0; w < mv.numWorkers; w++ {
		start := w * chunkSize
		end := min(start+chunkSize, n)
		if start >= end {
			continue
		}
		mv.workChan <- workChunk{start: start, end: end}
		chunksDispatched++
	}

	for i := 0; i < chunksDispatched; i++ {
		<-mv.doneChan
	}
}

// applyIntents writes computed steps back to the ECS and merges the tallies.
func (s *Simulation) applyIntents() {
	mv := s.movement
	for i, snap := range mv.snapshots {
		pos := s.posMap.Get(snap.Entity)
		if pos == nil {
			continue
		}
		pos.Cell = mv.intents[i].Next
	}
	for i := range mv.scratches {
		s.collector.MergeMoves(mv.scratches[i].tally)
		mv.scratches[i].tally = telemetry.MoveTally{}
	}
}

// computeChunk processes a range of movers for a single worker. It only
// reads shared state: nav grids, pinned danger views and wander lookups.
func (s *Simulation) computeChunk(i0, i1 int, scratch *workerScratch) {
	mv := s.movement
	for i := i0; i < i1; i++ {
		snap := &mv.snapshots[i]
		intent := &mv.intents[i]
		intent.Next, intent.Kind = s.chooseStep(snap, mv.views[snap.Pos.Map])
		scratch.tally.Add(intent.Kind)
	}
}

// chooseStep picks one agent's next cell. Wanderers standing in danger step
// down the cost gradient; otherwise they follow their wander field, and fall
// back to a random step when the field has nothing for them.
func (s *Simulation) chooseStep(snap *moveSnapshot, view systems.CostView) (components.Cell, telemetry.MoveKind) {
	cur := snap.Pos.Cell
	layout, ok := s.maps[snap.Pos.Map]
	if !ok {
		return cur, telemetry.MoveStuck
	}
	nav := layout.Nav
	h := stepHash(s.opts.Seed, s.tick, snap.ID)

	if !snap.Roles.Has(components.RoleThreat) {
		if view.Cost(cur) >= s.cfg.Danger.AvoidThreshold {
			if next, ok := downhillStep(nav, view, cur, snap.Variant, h); ok {
				return next, telemetry.MoveAvoid
			}
		}
		if next, ok := s.wander.LookupNextStep(snap.Pos.Map, cur, snap.Variant); ok && next != cur && canStep(nav, cur, next, snap.Variant) {
			return next, telemetry.MoveWander
		}
	}

	if next, ok := randomStep(nav, cur, snap.Variant, h); ok {
		return next, telemetry.MoveOther
	}
	return cur, telemetry.MoveStuck
}

// downhillStep returns the neighbour with the lowest danger cost, if it is
// strictly cheaper than cur. Ties keep the first in a hashed order.
func downhillStep(nav *systems.NavGrid, view systems.CostView, cur components.Cell, v components.Variant, h uint64) (components.Cell, bool) {
	best, bestCost := cur, view.Cost(cur)
	off := int(h % 8)
	for k := 0; k < 8; k++ {
		d := stepDirs[(off+k)%8]
		next := cur.Add(d[0], d[1])
		if !canStep(nav, cur, next, v) {
			continue
		}
		if c := view.Cost(next); c < bestCost {
			best, bestCost = next, c
		}
	}
	return best, best != cur
}

// randomStep returns the first enterable neighbour in a hashed order.
func randomStep(nav *systems.NavGrid, cur components.Cell, v components.Variant, h uint64) (components.Cell, bool) {
	off := int(h % 8)
	stride := 1 + 2*int((h>>8)%4) // odd, so every direction is visited
	for k := 0; k < 8; k++ {
		d := stepDirs[(off+k*stride)%8]
		next := cur.Add(d[0], d[1])
		if canStep(nav, cur, next, v) {
			return next, true
		}
	}
	return cur, false
}

// canEnter reports whether an agent following variant v may stand on c.
// Piercing agents walk through building walls but never through rock or
// closed gates.
func canEnter(nav *systems.NavGrid, c components.Cell, v components.Variant) bool {
	if nav.IsWalkable(c) {
		return true
	}
	return v == components.VariantPiercing &&
		nav.ClassifyObstacle(c) == components.ObstacleSolid &&
		!nav.IsImpassable(c)
}

// canStep applies canEnter to the destination and, for diagonals, requires
// one of the two adjoining orthogonal cells to be enterable and not a gate.
func canStep(nav *systems.NavGrid, from, to components.Cell, v components.Variant) bool {
	if !canEnter(nav, to, v) {
		return false
	}
	if from.X == to.X || from.Z == to.Z {
		return true
	}
	a := components.Cell{X: to.X, Z: from.Z}
	b := components.Cell{X: from.X, Z: to.Z}
	return (canEnter(nav, a, v) && !nav.ClassifyObstacle(a).IsGate()) ||
		(canEnter(nav, b, v) && !nav.ClassifyObstacle(b).IsGate())
}

// stepHash mixes seed, tick and agent id into a per-step random value, so a
// run is reproducible regardless of how movers are split across workers.
func stepHash(seed int64, tick int32, id uint32) uint64 {
	z := uint64(seed) ^ uint64(uint32(tick))<<32 ^ uint64(id)*0x9e3779b97f4a7c15
	z ^= z >> 30
	z *= 0xbf58476d1ce4e5b9
	z ^= z >> 27
	z *= 0x94d049bb133111eb
	z ^= z >> 31
	return z
}

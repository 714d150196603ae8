package systems

import (
	"time"

	"github.com/pthm-cable/fieldworks/components"
)

// StepStatus reports whether a resumable job has more work.
type StepStatus uint8

const (
	StepContinue StepStatus = iota
	StepDone
)

func (s StepStatus) String() string {
	if s == StepDone {
		return "done"
	}
	return "continue"
}

// stepChunk is how many cells are expanded between clock checks. A Step
// always expands at least one chunk so a zero budget still makes progress.
const stepChunk = 32

// floodJob is one resumable multi-source BFS writing backpointers into the
// unpublished grid of a wander field.
//
// Cells entered through a gate (or, for the piercing variant, through a
// building) go to the low queue, which is only drained one cell at a time
// when the high queue is empty.
type floodJob struct {
	variant components.Variant
	src     MapSource
	grid    *Grid[components.Backpointer]
	tick    uint64

	high, low         []int32
	highHead, lowHead int

	visited int
	seeded  int
}

func newFloodJob(variant components.Variant, src MapSource, grid *Grid[components.Backpointer], tick uint64) *floodJob {
	return &floodJob{
		variant: variant,
		src:     src,
		grid:    grid,
		tick:    tick,
		high:    make([]int32, 0, 256),
	}
}

// seed marks every usable attractor as a root. It returns the number seeded.
func (j *floodJob) seed(attractors []components.Cell) int {
	for _, c := range attractors {
		if !j.grid.InBounds(c) || j.grid.Get(c) != components.BackpointerNone {
			continue
		}
		enter, _, expand := j.classify(c)
		if !enter || !expand {
			continue
		}
		j.grid.Set(c, components.BackpointerRoot)
		j.high = append(j.high, int32(j.grid.Index(c)))
		j.visited++
		j.seeded++
	}
	return j.seeded
}

// Step expands cells until the queues empty or deadline passes.
func (j *floodJob) Step(deadline time.Time) StepStatus {
	processed := 0
	for {
		idx, ok := j.pop()
		if !ok {
			return StepDone
		}
		j.expand(idx)
		processed++
		if processed%stepChunk == 0 && !time.Now().Before(deadline) {
			return StepContinue
		}
	}
}

// Visited returns how many cells carry a backpointer so far.
func (j *floodJob) Visited() int { return j.visited }

func (j *floodJob) pop() (int32, bool) {
	if j.highHead < len(j.high) {
		idx := j.high[j.highHead]
		j.highHead++
		if j.highHead == len(j.high) {
			j.high = j.high[:0]
			j.highHead = 0
		}
		return idx, true
	}
	if j.lowHead < len(j.low) {
		idx := j.low[j.lowHead]
		j.lowHead++
		if j.lowHead == len(j.low) {
			j.low = j.low[:0]
			j.lowHead = 0
		}
		return idx, true
	}
	return 0, false
}

// classify decides how the flood treats a cell in this variant: whether it
// may receive a backpointer, whether entering it is the costly kind, and
// whether it expands further.
func (j *floodJob) classify(c components.Cell) (enter, low, expand bool) {
	switch j.src.ClassifyObstacle(c) {
	case components.ObstacleGateClosed:
		return true, false, false
	case components.ObstacleGateOpen:
		return true, true, true
	case components.ObstacleSolid:
		if j.variant == components.VariantPiercing {
			return true, true, true
		}
		return false, false, false
	}
	if !j.src.IsWalkable(c) {
		return false, false, false
	}
	return true, false, true
}

// cornerOpen reports whether c can be brushed past on a diagonal step.
func (j *floodJob) cornerOpen(c components.Cell) bool {
	if !j.grid.InBounds(c) {
		return false
	}
	switch j.src.ClassifyObstacle(c) {
	case components.ObstacleGateOpen, components.ObstacleGateClosed:
		return false
	case components.ObstacleSolid:
		return j.variant == components.VariantPiercing
	}
	return j.src.IsWalkable(c)
}

func (j *floodJob) expand(idx int32) {
	c := j.grid.CellAt(int(idx))

	for _, k := range shuffledOrder(c, j.tick, 0) {
		d := cardinalDirs[k]
		j.visit(c, c.Add(d[0], d[1]))
	}
	for _, k := range shuffledOrder(c, j.tick, 1) {
		d := diagonalDirs[k]
		if !j.cornerOpen(c.Add(d[0], 0)) && !j.cornerOpen(c.Add(0, d[1])) {
			continue
		}
		j.visit(c, c.Add(d[0], d[1]))
	}
}

func (j *floodJob) visit(from, to components.Cell) {
	if !j.grid.InBounds(to) {
		return
	}
	ti := j.grid.Index(to)
	if j.grid.cells[ti] != components.BackpointerNone {
		return
	}
	enter, low, expand := j.classify(to)
	if !enter {
		return
	}
	j.grid.cells[ti] = components.PackBackpointer(from.X-to.X, from.Z-to.Z)
	j.visited++
	if !expand {
		return
	}
	if low {
		j.low = append(j.low, int32(ti))
	} else {
		j.high = append(j.high, int32(ti))
	}
}

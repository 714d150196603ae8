package systems

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/pthm-cable/fieldworks/components"
)

// Grid is a fixed-size flat 2D array addressed by (x, z).
type Grid[T any] struct {
	width, height int
	cells         []T
	generation    uint64
}

// NewGrid allocates a zeroed width × height grid.
func NewGrid[T any](width, height int) *Grid[T] {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return &Grid[T]{
		width:  width,
		height: height,
		cells:  make([]T, width*height),
	}
}

// Width returns the grid width in cells.
func (g *Grid[T]) Width() int { return g.width }

// Height returns the grid height in cells.
func (g *Grid[T]) Height() int { return g.height }

// Generation returns the generation stamped when the grid was published.
// Zero means it was never published.
func (g *Grid[T]) Generation() uint64 { return g.generation }

// InBounds reports whether c lies inside the grid.
func (g *Grid[T]) InBounds(c components.Cell) bool {
	return c.X >= 0 && c.Z >= 0 && c.X < g.width && c.Z < g.height
}

// Index returns the flat index of c. c must be in bounds.
func (g *Grid[T]) Index(c components.Cell) int {
	return c.Z*g.width + c.X
}

// CellAt converts a flat index back to a cell.
func (g *Grid[T]) CellAt(idx int) components.Cell {
	return components.Cell{X: idx % g.width, Z: idx / g.width}
}

// Get returns the value at c, or the zero value when c is out of bounds.
func (g *Grid[T]) Get(c components.Cell) T {
	if !g.InBounds(c) {
		var zero T
		return zero
	}
	return g.cells[c.Z*g.width+c.X]
}

// Set stores v at c. Out-of-bounds writes are ignored.
func (g *Grid[T]) Set(c components.Cell, v T) {
	if g.InBounds(c) {
		g.cells[c.Z*g.width+c.X] = v
	}
}

// Cells exposes the backing slice in row-major order.
func (g *Grid[T]) Cells() []T { return g.cells }

// Clear zeroes every cell.
func (g *Grid[T]) Clear() {
	clear(g.cells)
}

// DoubleBuffer holds two grids of which exactly one is published.
//
// Readers pin the published grid with Acquire and unpin it with Release.
// The writer only ever touches the unpublished grid and waits for that grid's
// pins to drain before reusing it, so a reader never sees a grid change under
// it and never sees cells from two generations. Grid memory itself is not
// locked.
type DoubleBuffer[T any] struct {
	grids      [2]*Grid[T]
	pins       [2]atomic.Int32
	published  atomic.Int32
	generation atomic.Uint64

	stallAfter time.Duration
	onStall    func(waited time.Duration, pins int32)
}

// stallCheckSpins is how many yields Back takes between clock reads.
const stallCheckSpins = 1024

// NewDoubleBuffer allocates both grids. Generation 0 (all zero) is published.
func NewDoubleBuffer[T any](width, height int) *DoubleBuffer[T] {
	b := &DoubleBuffer[T]{}
	b.grids[0] = NewGrid[T](width, height)
	b.grids[1] = NewGrid[T](width, height)
	return b
}

// Acquire pins and returns the published grid. Each Acquire must be paired
// with Release on the returned grid.
func (b *DoubleBuffer[T]) Acquire() *Grid[T] {
	for {
		i := b.published.Load()
		b.pins[i].Add(1)
		if b.published.Load() == i {
			return b.grids[i]
		}
		// Swapped between the load and the pin; retry on the new front.
		b.pins[i].Add(-1)
	}
}

// Release unpins a grid obtained from Acquire.
func (b *DoubleBuffer[T]) Release(g *Grid[T]) {
	if g == b.grids[0] {
		b.pins[0].Add(-1)
	} else if g == b.grids[1] {
		b.pins[1].Add(-1)
	}
}

// Published returns the front grid without pinning it. Only safe for callers
// on the writer's goroutine.
func (b *DoubleBuffer[T]) Published() *Grid[T] {
	return b.grids[b.published.Load()]
}

// OnStall registers fn to be called once per Back call that has waited at
// least after for readers to release the back grid.
func (b *DoubleBuffer[T]) OnStall(after time.Duration, fn func(waited time.Duration, pins int32)) {
	b.stallAfter = after
	b.onStall = fn
}

// Back waits until no reader still holds the unpublished grid, clears it and
// returns it for writing. Only one writer may use a buffer at a time.
//
// A grid pinned by Acquire and never released blocks Back forever.
func (b *DoubleBuffer[T]) Back() *Grid[T] {
	i := 1 - b.published.Load()
	if b.pins[i].Load() != 0 {
		b.waitPins(i)
	}
	g := b.grids[i]
	g.Clear()
	return g
}

func (b *DoubleBuffer[T]) waitPins(i int32) {
	start := time.Now()
	warned := b.onStall == nil
	for spins := 1; b.pins[i].Load() != 0; spins++ {
		runtime.Gosched()
		if warned || spins%stallCheckSpins != 0 {
			continue
		}
		if waited := time.Since(start); waited >= b.stallAfter {
			warned = true
			b.onStall(waited, b.pins[i].Load())
		}
	}
}

// Swap stamps the back grid with the next generation and publishes it.
// It returns the new generation.
func (b *DoubleBuffer[T]) Swap() uint64 {
	i := 1 - b.published.Load()
	gen := b.generation.Add(1)
	b.grids[i].generation = gen
	b.published.Store(i)
	return gen
}

// Generation returns the generation currently published.
func (b *DoubleBuffer[T]) Generation() uint64 {
	return b.generation.Load()
}

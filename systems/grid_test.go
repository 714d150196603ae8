package systems

import (
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/fieldworks/components"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestGrid_OutOfBoundsIsZero(t *testing.T) {
	g := NewGrid[int32](4, 3)
	g.Set(components.Cell{X: 1, Z: 2}, 7)

	assert.Equal(t, int32(7), g.Get(components.Cell{X: 1, Z: 2}))
	assert.Equal(t, int32(0), g.Get(components.Cell{X: -1, Z: 0}))
	assert.Equal(t, int32(0), g.Get(components.Cell{X: 4, Z: 0}))
	assert.Equal(t, int32(0), g.Get(components.Cell{X: 0, Z: 3}))

	g.Set(components.Cell{X: 9, Z: 9}, 1) // ignored
	assert.Equal(t, components.Cell{X: 1, Z: 2}, g.CellAt(g.Index(components.Cell{X: 1, Z: 2})))
}

func TestDoubleBuffer_SwapPublishesBack(t *testing.T) {
	b := NewDoubleBuffer[int32](2, 2)
	front := b.Acquire()
	assert.Equal(t, uint64(0), front.Generation())
	b.Release(front)

	back := b.Back()
	require.NotSame(t, front, back)
	back.Set(components.Cell{X: 1, Z: 1}, 5)
	gen := b.Swap()

	view := b.Acquire()
	defer b.Release(view)
	assert.Equal(t, uint64(1), gen)
	assert.Equal(t, gen, view.Generation())
	assert.Equal(t, int32(5), view.Get(components.Cell{X: 1, Z: 1}))
}

func TestDoubleBuffer_BackIsClearedForReuse(t *testing.T) {
	b := NewDoubleBuffer[int32](2, 2)
	for i := int32(1); i <= 3; i++ {
		back := b.Back()
		for _, v := range back.Cells() {
			require.Equal(t, int32(0), v, "write target must start cleared")
		}
		back.Set(components.Cell{X: 0, Z: 0}, i)
		b.Swap()
	}
}

// TestDoubleBuffer_NoMixedGenerations drives a writer that stamps every cell
// with the generation it is about to publish, while readers check that every
// cell of each snapshot carries the snapshot's own generation.
func TestDoubleBuffer_NoMixedGenerations(t *testing.T) {
	const (
		width       = 32
		height      = 32
		generations = 300
		readers     = 4
	)
	b := NewDoubleBuffer[uint64](width, height)

	var stop atomic.Bool
	var wg sync.WaitGroup
	var mixed atomic.Int64
	var snapshots atomic.Int64

	for r := 0; r < readers; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				g := b.Acquire()
				gen := g.Generation()
				for _, v := range g.Cells() {
					if v != gen {
						mixed.Add(1)
						break
					}
				}
				b.Release(g)
				snapshots.Add(1)
			}
		}()
	}

	for i := 0; i < generations; i++ {
		back := b.Back()
		next := b.Generation() + 1
		cells := back.Cells()
		for j := range cells {
			cells[j] = next
		}
		require.Equal(t, next, b.Swap())
	}
	stop.Store(true)
	wg.Wait()

	assert.Zero(t, mixed.Load(), "a reader observed cells from two generations")
	assert.Positive(t, snapshots.Load())
	assert.Equal(t, uint64(generations), b.Generation())
}

func TestDoubleBuffer_ReportsStalledWriter(t *testing.T) {
	b := NewDoubleBuffer[int32](2, 2)
	var stalls atomic.Int32
	reported := make(chan int32, 4)
	b.OnStall(10*time.Millisecond, func(_ time.Duration, pins int32) {
		stalls.Add(1)
		reported <- pins
	})

	held := b.Acquire()
	b.Back()
	b.Swap()

	// The next back grid is the one still held.
	done := make(chan struct{})
	go func() {
		b.Back()
		close(done)
	}()

	select {
	case pins := <-reported:
		assert.Equal(t, int32(1), pins)
	case <-time.After(time.Second):
		t.Fatal("stalled writer was not reported")
	}
	select {
	case <-done:
		t.Fatal("Back returned while the grid was pinned")
	default:
	}

	b.Release(held)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Back did not return after release")
	}
	assert.Equal(t, int32(1), stalls.Load(), "one report per wait")
}

package systems

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/fieldworks/components"
)

// attractorSet is a mutable AttractorSource for tests.
type attractorSet struct {
	mu    sync.Mutex
	cells map[components.Variant][]components.Cell
}

func newAttractorSet(cells ...components.Cell) *attractorSet {
	s := &attractorSet{cells: make(map[components.Variant][]components.Cell)}
	s.Set(components.VariantNormal, cells...)
	s.Set(components.VariantPiercing, cells...)
	return s
}

func (s *attractorSet) Set(v components.Variant, cells ...components.Cell) {
	s.mu.Lock()
	s.cells[v] = append([]components.Cell(nil), cells...)
	s.mu.Unlock()
}

func (s *attractorSet) Attractors(_ components.MapID, v components.Variant) []components.Cell {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]components.Cell(nil), s.cells[v]...)
}

func newWanderFixture(t *testing.T, nav MapSource, attractors AttractorSource) (*GridCoordinator, *WanderFieldEngine) {
	t.Helper()
	coord := NewGridCoordinator(quietLogger())
	coord.OnMapCreated(testMap, nav)
	e := NewWanderFieldEngine(coord, attractors, WanderConfig{
		RebuildTicks: 1_000_000,
		MinBudget:    time.Millisecond,
		MaxBudget:    50 * time.Millisecond,
		Logger:       quietLogger(),
	})
	return coord, e
}

// buildUntilPublished advances e until variant v of testMap publishes a new
// generation.
func buildUntilPublished(t *testing.T, e *WanderFieldEngine, v components.Variant) {
	t.Helper()
	start := e.Generation(testMap, v)
	for i := 0; i < 10_000 && e.Generation(testMap, v) == start; i++ {
		e.Advance()
	}
	require.Greater(t, e.Generation(testMap, v), start, "variant %v never published", v)
}

// buildAll advances e until every variant of testMap has published once.
func buildAll(t *testing.T, e *WanderFieldEngine) {
	t.Helper()
	built := func() bool {
		for v := components.Variant(0); v < components.NumVariants; v++ {
			if e.Generation(testMap, v) == 0 {
				return false
			}
		}
		return true
	}
	for i := 0; i < 10_000 && !built(); i++ {
		e.Advance()
	}
	require.True(t, built(), "not every variant published")
}

// followChain walks backpointers from c until a root. It fails the test on a
// cycle or a dead end.
func followChain(t *testing.T, e *WanderFieldEngine, c components.Cell, v components.Variant) []components.Cell {
	t.Helper()
	g, release := e.Backpointers(testMap, v)
	defer release()
	require.NotNil(t, g)

	path := []components.Cell{c}
	limit := g.Width() * g.Height()
	for steps := 0; ; steps++ {
		require.LessOrEqual(t, steps, limit, "backpointer chain from %v does not terminate", path[0])
		bp := g.Get(c)
		require.NotEqual(t, components.BackpointerNone, bp, "chain from %v hits unvisited cell %v", path[0], c)
		if bp.IsRoot() {
			return path
		}
		dx, dz, _ := bp.Delta()
		c = c.Add(dx, dz)
		path = append(path, c)
	}
}

func TestWanderField_OpenFieldStepsCloser(t *testing.T) {
	nav := NewNavGrid(10, 10)
	target := components.Cell{X: 5, Z: 5}
	_, e := newWanderFixture(t, nav, newAttractorSet(target))
	buildUntilPublished(t, e, components.VariantNormal)

	next, ok := e.LookupNextStep(testMap, components.Cell{X: 0, Z: 0}, components.VariantNormal)
	require.True(t, ok)
	assert.Less(t, next.Chebyshev(target), 5)
	assert.Equal(t, 1, next.Chebyshev(components.Cell{}))

	// Every visited cell moves strictly closer each step.
	for z := 0; z < 10; z++ {
		for x := 0; x < 10; x++ {
			c := components.Cell{X: x, Z: z}
			if c == target {
				continue
			}
			n, ok := e.LookupNextStep(testMap, c, components.VariantNormal)
			require.True(t, ok, "cell %v unreached", c)
			assert.Equal(t, c.Chebyshev(target)-1, n.Chebyshev(target), "cell %v", c)
		}
	}

	_, ok = e.LookupNextStep(testMap, target, components.VariantNormal)
	assert.False(t, ok, "attractor cell is a root")
}

func TestWanderField_LookupEdgeCases(t *testing.T) {
	nav := NewNavGrid(6, 6)
	_, e := newWanderFixture(t, nav, newAttractorSet(components.Cell{X: 1, Z: 1}))

	_, ok := e.LookupNextStep(testMap, components.Cell{X: 3, Z: 3}, components.VariantNormal)
	assert.False(t, ok, "nothing published yet")

	buildUntilPublished(t, e, components.VariantNormal)

	_, ok = e.LookupNextStep(testMap, components.Cell{X: -1, Z: 3}, components.VariantNormal)
	assert.False(t, ok)
	_, ok = e.LookupNextStep(testMap, components.Cell{X: 3, Z: 30}, components.VariantNormal)
	assert.False(t, ok)
	_, ok = e.LookupNextStep(42, components.Cell{X: 3, Z: 3}, components.VariantNormal)
	assert.False(t, ok)
	_, ok = e.LookupNextStep(testMap, components.Cell{X: 3, Z: 3}, components.NumVariants)
	assert.False(t, ok)
}

func TestWanderField_ClosedGateThenOpened(t *testing.T) {
	nav := wallWithGate(components.ObstacleGateClosed)
	target := components.Cell{X: 1, Z: 2}
	_, e := newWanderFixture(t, nav, newAttractorSet(target))
	buildUntilPublished(t, e, components.VariantNormal)

	far := components.Cell{X: 8, Z: 2}
	_, ok := e.LookupNextStep(testMap, far, components.VariantNormal)
	assert.False(t, ok, "closed gate must stop the flood")

	gate := components.Cell{X: 5, Z: 2}
	next, ok := e.LookupNextStep(testMap, gate, components.VariantNormal)
	require.True(t, ok, "the closed gate itself is reached")
	assert.Equal(t, 4, next.X)

	nav.SetObstacle(gate, components.ObstacleGateOpen)
	e.RequestRebuild(testMap)
	buildUntilPublished(t, e, components.VariantNormal)

	_, ok = e.LookupNextStep(testMap, far, components.VariantNormal)
	require.True(t, ok)
	path := followChain(t, e, far, components.VariantNormal)
	assert.Equal(t, target, path[len(path)-1])
	assert.Contains(t, path, gate)
}

func TestWanderField_LowQueueDrainsLast(t *testing.T) {
	// Two routes into the right half: an open gate at x=5 and a long detour
	// around the bottom of a wall that stops one row short.
	nav := NewNavGrid(11, 7)
	for z := 0; z < 6; z++ {
		nav.SetObstacle(components.Cell{X: 5, Z: z}, components.ObstacleSolid)
	}
	gate := components.Cell{X: 5, Z: 1}
	nav.SetObstacle(gate, components.ObstacleGateOpen)

	_, e := newWanderFixture(t, nav, newAttractorSet(components.Cell{X: 4, Z: 1}))
	buildUntilPublished(t, e, components.VariantNormal)

	// Cells right of the wall near the bottom are claimed by the detour
	// before the gate cell is expanded.
	path := followChain(t, e, components.Cell{X: 6, Z: 5}, components.VariantNormal)
	assert.NotContains(t, path, gate)

	// The gate itself is still reachable.
	next, ok := e.LookupNextStep(testMap, gate, components.VariantNormal)
	require.True(t, ok)
	assert.Equal(t, components.Cell{X: 4, Z: 1}, next)
}

func TestWanderField_PiercingCrossesBuildings(t *testing.T) {
	nav := NewNavGrid(9, 9)
	for z := 3; z <= 5; z++ {
		for x := 3; x <= 5; x++ {
			nav.SetObstacle(components.Cell{X: x, Z: z}, components.ObstacleSolid)
		}
	}
	// Rock is impassable for every variant.
	nav.SetImpassable(components.Cell{X: 8, Z: 8}, true)

	_, e := newWanderFixture(t, nav, newAttractorSet(components.Cell{X: 0, Z: 0}))
	buildAll(t, e)

	inside := components.Cell{X: 4, Z: 4}
	_, ok := e.LookupNextStep(testMap, inside, components.VariantNormal)
	assert.False(t, ok, "normal variant cannot enter buildings")

	_, ok = e.LookupNextStep(testMap, inside, components.VariantPiercing)
	require.True(t, ok)
	path := followChain(t, e, inside, components.VariantPiercing)
	assert.Equal(t, components.Cell{X: 0, Z: 0}, path[len(path)-1])

	for _, v := range []components.Variant{components.VariantNormal, components.VariantPiercing} {
		_, ok = e.LookupNextStep(testMap, components.Cell{X: 8, Z: 8}, v)
		assert.False(t, ok, "impassable terrain in %v", v)
	}
}

// cornerPassable mirrors the diagonal rule: a cell can be brushed past when
// it is walkable and not a gate (solid counts as walkable when piercing).
func cornerPassable(nav *NavGrid, c components.Cell, v components.Variant) bool {
	w, h := nav.Dimensions()
	if c.X < 0 || c.Z < 0 || c.X >= w || c.Z >= h {
		return false
	}
	switch nav.ClassifyObstacle(c) {
	case components.ObstacleGateOpen, components.ObstacleGateClosed:
		return false
	case components.ObstacleSolid:
		return v == components.VariantPiercing
	}
	return nav.IsWalkable(c)
}

func randomMap(seed int64, w, h int) *NavGrid {
	rng := rand.New(rand.NewSource(seed))
	nav := NewNavGrid(w, h)
	for z := 0; z < h; z++ {
		for x := 0; x < w; x++ {
			c := components.Cell{X: x, Z: z}
			switch r := rng.Float64(); {
			case r < 0.18:
				nav.SetObstacle(c, components.ObstacleSolid)
			case r < 0.21:
				nav.SetObstacle(c, components.ObstacleGateOpen)
			case r < 0.23:
				nav.SetObstacle(c, components.ObstacleGateClosed)
			case r < 0.26:
				nav.SetImpassable(c, true)
			}
		}
	}
	return nav
}

func TestWanderField_ChainsTerminateAndRespectCorners(t *testing.T) {
	for _, seed := range []int64{1, 7, 42} {
		nav := randomMap(seed, 24, 24)
		attractors := []components.Cell{{X: 2, Z: 2}, {X: 20, Z: 5}, {X: 12, Z: 19}}
		for _, a := range attractors {
			nav.SetObstacle(a, components.ObstacleNone)
			nav.SetImpassable(a, false)
		}
		_, e := newWanderFixture(t, nav, newAttractorSet(attractors...))
		buildAll(t, e)

		for _, v := range []components.Variant{components.VariantNormal, components.VariantPiercing} {

			g, release := e.Backpointers(testMap, v)
			visited := 0
			for i, bp := range g.Cells() {
				if bp == components.BackpointerNone {
					continue
				}
				visited++
				c := g.CellAt(i)
				dx, dz, _ := bp.Delta()
				if dx != 0 && dz != 0 {
					assert.True(t,
						cornerPassable(nav, components.Cell{X: c.X + dx, Z: c.Z}, v) ||
							cornerPassable(nav, components.Cell{X: c.X, Z: c.Z + dz}, v),
						"seed %d %v: diagonal step from %v cuts a blocked corner", seed, v, c)
				}
			}
			release()
			assert.Positive(t, visited)

			g, release = e.Backpointers(testMap, v)
			cells := make([]components.Cell, 0, visited)
			for i, bp := range g.Cells() {
				if bp != components.BackpointerNone {
					cells = append(cells, g.CellAt(i))
				}
			}
			release()
			for _, c := range cells {
				path := followChain(t, e, c, v)
				assert.Contains(t, attractors, path[len(path)-1])
			}
		}
	}
}

func TestWanderField_DiagonalPastBlockedCorners(t *testing.T) {
	nav := NewNavGrid(5, 5)
	nav.SetObstacle(components.Cell{X: 2, Z: 1}, components.ObstacleSolid)
	nav.SetObstacle(components.Cell{X: 1, Z: 2}, components.ObstacleGateOpen)

	_, e := newWanderFixture(t, nav, newAttractorSet(components.Cell{X: 1, Z: 1}))
	buildUntilPublished(t, e, components.VariantNormal)

	next, ok := e.LookupNextStep(testMap, components.Cell{X: 2, Z: 2}, components.VariantNormal)
	require.True(t, ok)
	assert.NotEqual(t, components.Cell{X: 1, Z: 1}, next, "diagonal between a wall and a gate is not allowed")
}

func TestWanderField_ResumesAcrossTicks(t *testing.T) {
	nav := NewNavGrid(48, 48)
	_, e := newWanderFixture(t, nav, newAttractorSet(components.Cell{X: 0, Z: 0}))
	// Deadlines in the past: each job gets exactly one chunk per Advance.
	e.now = func() time.Time { return time.Now().Add(-time.Hour) }

	e.Advance()
	visited, building := e.Progress(testMap, components.VariantNormal)
	assert.True(t, building)
	assert.Positive(t, visited)
	assert.Less(t, visited, 48*48)
	assert.Zero(t, e.Generation(testMap, components.VariantNormal), "partial work is never published")

	advances := 1
	for e.Generation(testMap, components.VariantNormal) == 0 {
		prev := visited
		e.Advance()
		advances++
		visited, _ = e.Progress(testMap, components.VariantNormal)
		if e.Generation(testMap, components.VariantNormal) == 0 {
			require.GreaterOrEqual(t, visited, prev)
		}
		require.Less(t, advances, 48*48)
	}
	assert.Greater(t, advances, 10)

	_, building = e.Progress(testMap, components.VariantNormal)
	assert.False(t, building)
}

func TestWanderField_PeriodicRebuild(t *testing.T) {
	nav := NewNavGrid(6, 6)
	coord := NewGridCoordinator(quietLogger())
	coord.OnMapCreated(testMap, nav)
	e := NewWanderFieldEngine(coord, newAttractorSet(components.Cell{X: 2, Z: 2}), WanderConfig{
		RebuildTicks: 5,
		MaxBudget:    50 * time.Millisecond,
		Logger:       quietLogger(),
	})

	for i := 0; i < 12; i++ {
		e.Advance()
	}
	// Rebuilds are due at ticks 1, 6 and 11; each completes in its tick.
	assert.Equal(t, uint64(3), e.Generation(testMap, components.VariantNormal))
	assert.Equal(t, uint64(12), e.Tick())
}

func TestWanderField_PiercingTargetChangeRestarts(t *testing.T) {
	nav := NewNavGrid(12, 12)
	attractors := newAttractorSet(components.Cell{X: 1, Z: 1})
	_, e := newWanderFixture(t, nav, attractors)
	buildUntilPublished(t, e, components.VariantNormal)
	require.Equal(t, uint64(1), e.Generation(testMap, components.VariantPiercing))

	// Unchanged targets do not rebuild.
	for i := 0; i < 5; i++ {
		e.Advance()
	}
	assert.Equal(t, uint64(1), e.Generation(testMap, components.VariantPiercing))

	attractors.Set(components.VariantPiercing, components.Cell{X: 10, Z: 10})
	buildUntilPublished(t, e, components.VariantPiercing)
	assert.Equal(t, uint64(1), e.Generation(testMap, components.VariantNormal), "normal variant keeps its schedule")

	_, ok := e.LookupNextStep(testMap, components.Cell{X: 10, Z: 10}, components.VariantPiercing)
	assert.False(t, ok, "new target is the root")
}

func TestWanderField_SkipsUntilBuildable(t *testing.T) {
	t.Run("map not ready", func(t *testing.T) {
		nav := NewNavGrid(6, 6)
		nav.SetReady(false)
		_, e := newWanderFixture(t, nav, newAttractorSet(components.Cell{X: 3, Z: 3}))
		for i := 0; i < 10; i++ {
			e.Advance()
		}
		assert.Zero(t, e.Generation(testMap, components.VariantNormal))

		nav.SetReady(true)
		buildUntilPublished(t, e, components.VariantNormal)
	})

	t.Run("no attractors", func(t *testing.T) {
		nav := NewNavGrid(6, 6)
		attractors := newAttractorSet()
		_, e := newWanderFixture(t, nav, attractors)
		for i := 0; i < 10; i++ {
			e.Advance()
		}
		assert.Zero(t, e.Generation(testMap, components.VariantNormal))

		attractors.Set(components.VariantNormal, components.Cell{X: 3, Z: 3})
		buildUntilPublished(t, e, components.VariantNormal)
	})

	t.Run("attractor on a wall", func(t *testing.T) {
		nav := NewNavGrid(6, 6)
		nav.SetObstacle(components.Cell{X: 3, Z: 3}, components.ObstacleSolid)
		_, e := newWanderFixture(t, nav, newAttractorSet(components.Cell{X: 3, Z: 3}))
		for i := 0; i < 10; i++ {
			e.Advance()
		}
		assert.Zero(t, e.Generation(testMap, components.VariantNormal))
	})
}

func TestWanderField_RoomEligibility(t *testing.T) {
	tests := []struct {
		name     string
		flags    RoomFlags
		cells    int
		maxCells int
		eligible bool
	}{
		{"ordinary room", 0, 4, 0, true},
		{"hidden room", RoomHidden, 4, 0, false},
		{"doorway only", RoomDoorwayOnly, 1, 0, false},
		{"outdoor area", RoomOutdoor, 4, 0, false},
		{"oversized room", 0, 9, 8, false},
		{"room at size limit", 0, 8, 8, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nav := NewNavGrid(8, 8)
			nav.SetMaxRoomCells(tt.maxCells)
			id := nav.AddRoom(tt.flags)
			for i := 0; i < tt.cells; i++ {
				nav.AssignRoom(components.Cell{X: i % 8, Z: 4 + i/8}, id)
			}
			attractor := components.Cell{X: 0, Z: 4}
			require.Equal(t, tt.eligible, nav.EligibleRoom(attractor))

			_, e := newWanderFixture(t, nav, newAttractorSet(attractor))
			for i := 0; i < 5; i++ {
				e.Advance()
			}
			if tt.eligible {
				assert.Equal(t, uint64(1), e.Generation(testMap, components.VariantNormal))
			} else {
				assert.Zero(t, e.Generation(testMap, components.VariantNormal))
			}
		})
	}
}

func TestWanderField_BudgetFor(t *testing.T) {
	coord := NewGridCoordinator(quietLogger())
	e := NewWanderFieldEngine(coord, newAttractorSet(), WanderConfig{
		MinBudget: 250 * time.Microsecond,
		MaxBudget: 2 * time.Millisecond,
	})

	tests := []struct {
		name string
		load Load
		want time.Duration
	}{
		{"idle", Load{Speed: 1}, 2 * time.Millisecond},
		{"slow motion keeps max", Load{Speed: 0.5}, 2 * time.Millisecond},
		{"fast forward", Load{Speed: 4}, 500 * time.Microsecond},
		{"spawning", Load{Speed: 1, Spawning: 3}, 500 * time.Microsecond},
		{"both", Load{Speed: 2, Spawning: 1}, 500 * time.Microsecond},
		{"clamped to floor", Load{Speed: 100, Spawning: 10}, 250 * time.Microsecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, e.BudgetFor(tt.load))
		})
	}
}

func TestWanderField_ConcurrentLookups(t *testing.T) {
	nav := NewNavGrid(20, 20)
	_, e := newWanderFixture(t, nav, newAttractorSet(components.Cell{X: 10, Z: 10}))
	buildUntilPublished(t, e, components.VariantNormal)

	var wg sync.WaitGroup
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				c := components.Cell{X: (i + r) % 20, Z: (i / 20) % 20}
				e.LookupNextStep(testMap, c, components.VariantNormal)
			}
		}(r)
	}
	for i := 0; i < 20; i++ {
		e.RequestRebuild(testMap)
		e.Advance()
	}
	wg.Wait()
	assert.Greater(t, e.Generation(testMap, components.VariantNormal), uint64(1))
}

func TestWanderField_FirstBuildsStaggered(t *testing.T) {
	coord, e := newWanderFixture(t, NewNavGrid(4, 4), newAttractorSet(components.Cell{}))
	const other components.MapID = testMap + 1
	coord.OnMapCreated(other, NewNavGrid(4, 4))

	e.Advance()
	assert.Equal(t, uint64(1), e.Generation(testMap, components.VariantNormal))
	assert.Zero(t, e.Generation(other, components.VariantNormal), "second map starts a tick later")
	_, building := e.Progress(other, components.VariantNormal)
	assert.False(t, building)

	e.Advance()
	assert.Equal(t, uint64(1), e.Generation(other, components.VariantNormal))
}

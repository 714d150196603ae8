package systems

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pthm-cable/fieldworks/components"
)

func TestGridCoordinator_Maps(t *testing.T) {
	c := NewGridCoordinator(quietLogger())
	c.OnMapCreated(3, NewNavGrid(2, 2))
	c.OnMapCreated(1, NewNavGrid(2, 2))
	c.OnMapCreated(2, NewNavGrid(2, 2))

	if diff := cmp.Diff([]components.MapID{1, 2, 3}, c.Maps()); diff != "" {
		t.Errorf("Maps() mismatch (-want +got):\n%s", diff)
	}

	c.OnMapUnloaded(2)
	c.OnMapUnloaded(99) // unknown ids are ignored
	assert.Equal(t, []components.MapID{1, 3}, c.Maps())

	_, ok := c.Source(2)
	assert.False(t, ok)
	src, ok := c.Source(3)
	require.True(t, ok)
	w, h := src.Dimensions()
	assert.Equal(t, [2]int{2, 2}, [2]int{w, h})
}

func TestGridCoordinator_StateCreatedOnceAndLazily(t *testing.T) {
	c := NewGridCoordinator(quietLogger())
	c.OnMapCreated(testMap, NewNavGrid(4, 4))

	assert.Nil(t, c.wanderIfExists(testMap))
	assert.Nil(t, c.danger(5), "unknown maps get no state")
	assert.Nil(t, c.wander(5, 1))

	d := c.danger(testMap)
	require.NotNil(t, d)
	assert.Same(t, d, c.danger(testMap))

	w := c.wander(testMap, 1)
	require.NotNil(t, w)
	assert.Same(t, w, c.wander(testMap, 9))
	assert.Same(t, w, c.wanderIfExists(testMap))
	assert.Equal(t, uint64(1), w.nextRebuild)
}

func TestGridCoordinator_UnloadAndReload(t *testing.T) {
	c := NewGridCoordinator(quietLogger())
	c.OnMapCreated(testMap, NewNavGrid(6, 6))

	worker := NewDangerFieldWorker(c, DangerWorkerConfig{Logger: quietLogger()})
	t.Cleanup(worker.Stop)
	engine := NewWanderFieldEngine(c, newAttractorSet(components.Cell{X: 1, Z: 1}), WanderConfig{
		MaxBudget: 50 * time.Millisecond,
		Logger:    quietLogger(),
	})

	view, err := worker.SubmitThreatsSync(testMap, []components.ThreatSpec{{Pos: components.Cell{X: 3, Z: 3}, Radius: 2, PeakCost: 10}})
	require.NoError(t, err)
	view.Release()
	buildUntilPublished(t, engine, components.VariantNormal)

	old := c.danger(testMap)
	c.OnMapUnloaded(testMap)
	assert.True(t, old.unloaded.Load())
	assert.Zero(t, worker.CostAt(testMap, components.Cell{X: 3, Z: 3}))
	_, ok := engine.LookupNextStep(testMap, components.Cell{X: 3, Z: 3}, components.VariantNormal)
	assert.False(t, ok)
	assert.Zero(t, engine.Generation(testMap, components.VariantNormal))

	// Re-created maps start from empty fields.
	c.OnMapCreated(testMap, NewNavGrid(6, 6))
	assert.NotSame(t, old, c.danger(testMap))
	assert.Zero(t, worker.Query(testMap).Generation())
}

func TestGridCoordinator_DuplicateCreateReplaces(t *testing.T) {
	c := NewGridCoordinator(quietLogger())
	first := NewNavGrid(4, 4)
	c.OnMapCreated(testMap, first)
	old := c.danger(testMap)

	second := NewNavGrid(8, 8)
	c.OnMapCreated(testMap, second)
	assert.True(t, old.unloaded.Load())

	src, ok := c.Source(testMap)
	require.True(t, ok)
	assert.Same(t, second, src)
	buf := c.danger(testMap).buf
	g := buf.Acquire()
	assert.Equal(t, 8, g.Width())
	buf.Release(g)
}

package systems

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/pthm-cable/fieldworks/components"
)

type mapEntry struct {
	source MapSource
	danger *dangerState
	wander *wanderState
}

// GridCoordinator tracks the loaded maps and owns the per-map state of both
// field engines. State is created on first access and dropped when the map
// is unloaded; there is exactly one state of each kind per map.
//
// A coordinator belongs to one simulation root. Independent worlds use
// independent coordinators.
type GridCoordinator struct {
	mu     sync.RWMutex
	maps   map[components.MapID]*mapEntry
	logger *slog.Logger
}

// NewGridCoordinator creates an empty coordinator.
func NewGridCoordinator(logger *slog.Logger) *GridCoordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &GridCoordinator{
		maps:   make(map[components.MapID]*mapEntry),
		logger: logger,
	}
}

// OnMapCreated registers a map. Registering an id twice replaces the old map
// and discards its fields.
func (c *GridCoordinator) OnMapCreated(mapID components.MapID, source MapSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.maps[mapID]; ok {
		c.release(old)
		c.logger.Warn("map registered twice, replacing", "map", mapID)
	}
	c.maps[mapID] = &mapEntry{source: source}
	w, h := source.Dimensions()
	c.logger.Debug("map created", "map", mapID, "width", w, "height", h)
}

// OnMapUnloaded drops every field of the map. Work already queued for it is
// discarded when it reaches the worker.
func (c *GridCoordinator) OnMapUnloaded(mapID components.MapID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.maps[mapID]
	if !ok {
		return
	}
	c.release(e)
	delete(c.maps, mapID)
	c.logger.Debug("map unloaded", "map", mapID)
}

func (c *GridCoordinator) release(e *mapEntry) {
	if e.danger != nil {
		e.danger.unloaded.Store(true)
	}
}

// Maps returns the registered map ids in ascending order.
func (c *GridCoordinator) Maps() []components.MapID {
	c.mu.RLock()
	ids := make([]components.MapID, 0, len(c.maps))
	for id := range c.maps {
		ids = append(ids, id)
	}
	c.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// Source returns the map data registered for mapID.
func (c *GridCoordinator) Source(mapID components.MapID) (MapSource, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.maps[mapID]
	if !ok {
		return nil, false
	}
	return e.source, true
}

// danger returns the danger state of mapID, creating it on first use.
func (c *GridCoordinator) danger(mapID components.MapID) *dangerState {
	c.mu.RLock()
	e, ok := c.maps[mapID]
	if ok && e.danger != nil {
		st := e.danger
		c.mu.RUnlock()
		return st
	}
	c.mu.RUnlock()
	if !ok {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok = c.maps[mapID]
	if !ok {
		return nil
	}
	if e.danger == nil {
		e.danger = newDangerState(mapID, e.source, c.logger)
	}
	return e.danger
}

// wander returns the wander state of mapID, creating it on first use with its
// first rebuild due at tick.
func (c *GridCoordinator) wander(mapID components.MapID, tick uint64) *wanderState {
	if st := c.wanderIfExists(mapID); st != nil {
		return st
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.maps[mapID]
	if !ok {
		return nil
	}
	if e.wander == nil {
		e.wander = newWanderState(mapID, e.source, tick, c.logger)
	}
	return e.wander
}

// bufferStallWarning is how long a field writer waits on unreleased readers
// before logging.
const bufferStallWarning = time.Second

// warnOnStall logs when a writer is held up by a reader that has not
// released its view.
func warnOnStall[T any](buf *DoubleBuffer[T], logger *slog.Logger, field string, mapID components.MapID) {
	buf.OnStall(bufferStallWarning, func(waited time.Duration, pins int32) {
		logger.Warn("field writer waiting on unreleased readers",
			"field", field,
			"map", mapID,
			"waited", waited,
			"pins", pins,
		)
	})
}

func (c *GridCoordinator) wanderIfExists(mapID components.MapID) *wanderState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.maps[mapID]; ok {
		return e.wander
	}
	return nil
}

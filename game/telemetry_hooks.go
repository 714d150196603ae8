package game

import (
	"fmt"

	"github.com/pthm-cable/fieldworks/components"
	"github.com/pthm-cable/fieldworks/systems"
	"github.com/pthm-cable/fieldworks/telemetry"
)

// flushTelemetry closes the stats window when it is due.
func (s *Simulation) flushTelemetry() {
	if !s.collector.ShouldFlush(s.tick) {
		return
	}

	stats := s.collector.Flush(s.tick, s.worldCounts())
	perfStats := s.perf.Stats()
	fields := s.FieldStats()

	if s.opts.StatsCallback != nil {
		s.opts.StatsCallback(stats)
	}

	if s.opts.LogStats {
		stats.LogStats(s.logger)
		perfStats.LogStats(s.logger)
		s.logWorldState()
		for _, fs := range fields {
			s.logger.Debug("danger field", "stats", fs)
		}
	}

	if err := s.output.WriteTelemetry(stats); err != nil {
		s.logger.Error("failed to write telemetry", "error", err)
	}
	if err := s.output.WritePerf(perfStats, stats.WindowEndTick); err != nil {
		s.logger.Error("failed to write perf", "error", err)
	}
	if err := s.output.WriteFields(fields); err != nil {
		s.logger.Error("failed to write fields", "error", err)
	}
}

// worldCounts samples populations and the danger under every wanderer.
func (s *Simulation) worldCounts() telemetry.WorldCounts {
	wc := telemetry.WorldCounts{
		Maps:    len(s.maps),
		Pending: s.danger.Pending(),
	}

	views := make(map[components.MapID]systems.CostView, len(s.maps))
	defer func() {
		for _, v := range views {
			v.Release()
		}
	}()

	query := s.agentFilter.Query()
	for query.Next() {
		pos, agent := query.Get()
		wc.Agents++
		switch {
		case agent.Roles.Has(components.RoleThreat):
			wc.Threats++
		case agent.Roles.Has(components.RoleAttractor):
			wc.Attractors++
		default:
			view, ok := views[pos.Map]
			if !ok {
				view = s.danger.Query(pos.Map)
				views[pos.Map] = view
			}
			wc.Danger = append(wc.Danger, float64(view.Cost(pos.Cell)))
		}
	}
	return wc
}

// FieldStats summarises the latest danger generation of every map.
func (s *Simulation) FieldStats() []telemetry.FieldStats {
	ids := s.Maps()
	out := make([]telemetry.FieldStats, 0, len(ids))
	for _, id := range ids {
		view := s.danger.Query(id)
		var cells []int32
		if g := view.Grid(); g != nil {
			cells = g.Cells()
		}
		fs := telemetry.ComputeFieldStats(cells)
		fs.Tick = s.tick
		fs.Map = int32(id)
		fs.Generation = view.Generation()
		view.Release()
		out = append(out, fs)
	}
	return out
}

// Snapshot captures one map's terrain, danger field and agents.
func (s *Simulation) Snapshot(mapID components.MapID) (*telemetry.Snapshot, error) {
	layout, ok := s.maps[mapID]
	if !ok {
		return nil, fmt.Errorf("snapshot map %d: %w", mapID, systems.ErrUnknownMap)
	}
	w, h := layout.Nav.Dimensions()

	snap := &telemetry.Snapshot{
		Version:   telemetry.SnapshotVersion,
		RunID:     s.RunID(),
		RNGSeed:   s.opts.Seed,
		Tick:      s.tick,
		Map:       int32(mapID),
		Width:     w,
		Height:    h,
		Obstacles: make([]uint8, w*h),
		Danger:    make([]int32, w*h),
	}

	for z := 0; z < h; z++ {
		for x := 0; x < w; x++ {
			c := components.Cell{X: x, Z: z}
			i := z*w + x
			if layout.Nav.IsImpassable(c) {
				snap.Obstacles[i] = telemetry.TerrainRock
			} else {
				snap.Obstacles[i] = uint8(layout.Nav.ClassifyObstacle(c))
			}
		}
	}

	view := s.danger.Query(mapID)
	if g := view.Grid(); g != nil {
		copy(snap.Danger, g.Cells())
	}
	snap.DangerGeneration = view.Generation()
	view.Release()

	for v := range snap.WanderGeneration {
		snap.WanderGeneration[v] = s.wander.Generation(mapID, components.Variant(v))
	}

	for _, a := range s.Agents(mapID) {
		snap.Agents = append(snap.Agents, telemetry.AgentState{
			ID:    a.ID,
			X:     a.Cell.X,
			Z:     a.Cell.Z,
			Roles: uint8(a.Roles),
		})
	}
	return snap, nil
}

// SaveSnapshots writes a snapshot of every map to the output directory and
// returns the file paths. It does nothing when output is disabled.
func (s *Simulation) SaveSnapshots() ([]string, error) {
	if s.output == nil {
		return nil, nil
	}
	var paths []string
	for _, id := range s.Maps() {
		snap, err := s.Snapshot(id)
		if err != nil {
			return paths, err
		}
		path, err := s.output.WriteSnapshot(snap)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

package game

import (
	"log/slog"

	"github.com/pthm-cable/fieldworks/components"
)

// logWorldState logs one line per map with its field generations and build
// progress.
func (s *Simulation) logWorldState() {
	perMap := make(map[components.MapID]int, len(s.maps))
	query := s.agentFilter.Query()
	for query.Next() {
		pos, _ := query.Get()
		perMap[pos.Map]++
	}

	for _, id := range s.Maps() {
		normalVisited, normalBuilding := s.wander.Progress(id, components.VariantNormal)
		piercingVisited, piercingBuilding := s.wander.Progress(id, components.VariantPiercing)
		s.logger.Info("map state",
			"tick", s.tick,
			"map", id,
			"agents", perMap[id],
			"threats", len(s.threats[id]),
			"attractors", len(s.attractors[id]),
			"danger_gen", s.dangerGeneration(id),
			slog.Group("wander",
				"normal_gen", s.wander.Generation(id, components.VariantNormal),
				"normal_visited", normalVisited,
				"normal_building", normalBuilding,
				"piercing_gen", s.wander.Generation(id, components.VariantPiercing),
				"piercing_visited", piercingVisited,
				"piercing_building", piercingBuilding,
			),
		)
	}
}

func (s *Simulation) dangerGeneration(mapID components.MapID) uint64 {
	view := s.danger.Query(mapID)
	defer view.Release()
	return view.Generation()
}

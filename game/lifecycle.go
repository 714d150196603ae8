package game

import (
	"errors"
	"fmt"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/fieldworks/components"
	"github.com/pthm-cable/fieldworks/systems"
)

// LoadMap generates a new map, registers it with the field core and spawns
// its agents. With danger.sync_on_load the first danger generation is
// computed before LoadMap returns.
func (s *Simulation) LoadMap() (components.MapID, error) {
	s.nextMapID++
	id := s.nextMapID

	layout := GenerateMap(id, s.cfg.World, s.opts.Seed+int64(id))
	s.maps[id] = layout
	s.coord.OnMapCreated(id, layout.Nav)
	s.spawnPopulation(layout)
	s.indexAgents()

	if s.cfg.Danger.SyncOnLoad {
		view, err := s.danger.SubmitThreatsSync(id, s.threats[id])
		if err != nil {
			return id, fmt.Errorf("initial danger field for map %d: %w", id, err)
		}
		s.logger.Debug("initial danger field", "map", id, "generation", view.Generation())
		view.Release()
	}

	s.logger.Info("map loaded",
		"map", id,
		"buildings", len(layout.Buildings),
		"gates", len(layout.Gates),
		"threats", len(s.threats[id]),
		"attractors", len(s.attractors[id]),
	)
	return id, nil
}

// UnloadMap removes a map's agents and releases its field state.
func (s *Simulation) UnloadMap(mapID components.MapID) error {
	if _, ok := s.maps[mapID]; !ok {
		return fmt.Errorf("unload map %d: %w", mapID, systems.ErrUnknownMap)
	}

	// Collect first; entities cannot be removed while a query is open.
	var toRemove []ecs.Entity
	query := s.agentFilter.Query()
	for query.Next() {
		pos, _ := query.Get()
		if pos.Map == mapID {
			toRemove = append(toRemove, query.Entity())
		}
	}
	for _, e := range toRemove {
		s.world.RemoveEntity(e)
	}

	s.coord.OnMapUnloaded(mapID)
	delete(s.maps, mapID)
	delete(s.threats, mapID)
	delete(s.attractors, mapID)
	delete(s.wanderGens, mapID)

	s.logger.Info("map unloaded", "map", mapID, "agents_removed", len(toRemove))
	return nil
}

// spawnPopulation places the configured agents on open cells of layout.
func (s *Simulation) spawnPopulation(layout *MapLayout) {
	ac := s.cfg.Agents

	for i := 0; i < ac.Attractors; i++ {
		s.spawnAgent(layout, components.RoleAttractor)
	}
	for i := 0; i < ac.Threats; i++ {
		s.spawnAgent(layout, components.RoleThreat)
	}
	for i := 0; i < ac.Wanderers; i++ {
		var roles components.Role
		if s.rng.Float64() < ac.PiercingFraction {
			roles |= components.RoleIgnoresObstacles
		}
		s.spawnAgent(layout, roles)
	}
}

// spawnAgent creates one agent. It is skipped when the map has no open cell.
func (s *Simulation) spawnAgent(layout *MapLayout, roles components.Role) (ecs.Entity, bool) {
	cell, ok := randomOpenCell(s.rng, layout.Nav)
	if !ok {
		s.logger.Warn("no open cell for agent", "map", layout.ID, "roles", roles)
		return ecs.Entity{}, false
	}

	ac := s.cfg.Agents
	s.nextAgentID++
	agent := components.Agent{
		ID:           s.nextAgentID,
		Roles:        roles,
		MoveInterval: int32(ac.MoveInterval),
	}
	if roles.Has(components.RoleThreat) {
		jitter := 1 + s.rng.Float64()*s.cfg.Danger.ThreatJitter
		agent.ThreatRadius = int(float64(ac.ThreatRadius) * jitter)
		agent.ThreatPeak = ac.ThreatPeak
		agent.MoveInterval = int32(ac.ThreatInterval)
	}
	// Stagger first steps so movers do not all act on the same tick.
	agent.MoveCooldown = 1 + s.rng.Int31n(agent.MoveInterval)

	pos := components.Position{Map: layout.ID, Cell: cell}
	s.spawning++
	return s.agentMapper.NewEntity(&pos, &agent), true
}

// indexAgents rebuilds the per-map threat and attractor lists the field core
// reads this tick.
func (s *Simulation) indexAgents() {
	for id := range s.maps {
		s.threats[id] = s.threats[id][:0]
		s.attractors[id] = s.attractors[id][:0]
	}

	query := s.agentFilter.Query()
	for query.Next() {
		pos, agent := query.Get()
		if _, ok := s.maps[pos.Map]; !ok {
			continue
		}
		if agent.Roles.Has(components.RoleThreat) {
			s.threats[pos.Map] = append(s.threats[pos.Map], agent.Threat(pos.Cell))
		}
		if agent.Roles.Has(components.RoleAttractor) {
			s.attractors[pos.Map] = append(s.attractors[pos.Map], pos.Cell)
		}
	}
}

// toggleGates flips one random gate on every map and asks for a wander
// rebuild there. The danger field catches up on the next submission.
func (s *Simulation) toggleGates() {
	every := s.cfg.Derived.GateToggleTicks
	if every <= 0 || s.tick%every != 0 {
		return
	}
	for _, id := range s.Maps() {
		layout := s.maps[id]
		if len(layout.Gates) == 0 {
			continue
		}
		gate := layout.Gates[s.rng.Intn(len(layout.Gates))]
		class := components.ObstacleGateClosed
		if layout.Nav.ClassifyObstacle(gate) == components.ObstacleGateClosed {
			class = components.ObstacleGateOpen
		}
		layout.Nav.SetObstacle(gate, class)
		s.wander.RequestRebuild(id)
		s.collector.RecordGateToggle()
		s.logger.Debug("gate toggled", "map", id, "cell", gate, "state", class)
	}
}

// relocateAttractors moves every attractor to a fresh open cell. The changed
// target set restarts piercing builds immediately.
func (s *Simulation) relocateAttractors() {
	every := s.cfg.Derived.AttractorTicks
	if every <= 0 || s.tick%every != 0 {
		return
	}
	query := s.agentFilter.Query()
	for query.Next() {
		pos, agent := query.Get()
		if !agent.Roles.Has(components.RoleAttractor) {
			continue
		}
		layout, ok := s.maps[pos.Map]
		if !ok {
			continue
		}
		if cell, ok := randomOpenCell(s.rng, layout.Nav); ok {
			pos.Cell = cell
		}
	}
}

// submitThreats hands every map's threats to the danger worker.
func (s *Simulation) submitThreats() {
	if s.tick%int32(s.cfg.Danger.SubmitInterval) != 0 {
		return
	}
	for _, id := range s.Maps() {
		err := s.danger.SubmitThreats(id, s.threats[id])
		switch {
		case err == nil:
		case errors.Is(err, systems.ErrMapNotReady):
			s.logger.Debug("danger submit skipped", "map", id, "error", err)
		default:
			s.logger.Warn("danger submit failed", "map", id, "error", err)
		}
	}
}

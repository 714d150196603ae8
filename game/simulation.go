package game

import (
	"github.com/pthm-cable/fieldworks/components"
	"github.com/pthm-cable/fieldworks/systems"
	"github.com/pthm-cable/fieldworks/telemetry"
)

// Step advances the simulation by one tick.
func (s *Simulation) Step() {
	s.tick++
	s.perf.StartTick()

	s.perf.StartPhase(telemetry.PhaseWorld)
	s.toggleGates()
	s.relocateAttractors()
	s.indexAgents()

	s.perf.StartPhase(telemetry.PhaseDangerSubmit)
	s.submitThreats()

	s.perf.StartPhase(telemetry.PhaseDangerPoll)
	s.pollDanger()

	s.perf.StartPhase(telemetry.PhaseWanderAdvance)
	s.wander.SetLoad(systems.Load{Speed: s.cfg.Wander.Speed, Spawning: s.spawning})
	s.wander.Advance()
	s.trackWanderGenerations()
	s.spawning = 0

	s.perf.StartPhase(telemetry.PhaseAgentMove)
	s.moveAgents()

	s.perf.StartPhase(telemetry.PhaseTelemetry)
	s.flushTelemetry()

	s.perf.EndTick()
}

// Run steps until ticks have passed or stop returns true. A nil stop never
// fires.
func (s *Simulation) Run(ticks int32, stop func() bool) {
	for i := int32(0); i < ticks; i++ {
		if stop != nil && stop() {
			return
		}
		s.Step()
	}
}

// pollDanger drains published danger results into the collector.
func (s *Simulation) pollDanger() {
	for _, id := range s.Maps() {
		for {
			res, ok := s.danger.PollResult(id)
			if !ok {
				break
			}
			s.collector.RecordDangerResult(res.Duration)
			s.logger.Debug("danger field published",
				"map", res.Map,
				"generation", res.Generation,
				"threats", res.Threats,
				"cells", res.Cells,
				"duration", res.Duration,
				"sync", res.Sync,
			)
		}
	}

	if failures := s.danger.Failures(); failures > s.lastFailures {
		s.collector.RecordDangerFailures(int(failures - s.lastFailures))
		s.lastFailures = failures
	}
}

// trackWanderGenerations counts wander generations published this tick.
func (s *Simulation) trackWanderGenerations() {
	for id := range s.maps {
		prev := s.wanderGens[id]
		var cur [components.NumVariants]uint64
		for v := range cur {
			cur[v] = s.wander.Generation(id, components.Variant(v))
			for g := prev[v]; g < cur[v]; g++ {
				s.collector.RecordWanderGeneration()
			}
		}
		s.wanderGens[id] = cur
	}
}

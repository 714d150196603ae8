// Package game hosts the field core: generated maps, agents stored in an ECS
// world, and a fixed-rate step that feeds threats to the danger worker,
// advances the wander engine and moves agents along both fields.
package game

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"slices"
	"time"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/fieldworks/components"
	"github.com/pthm-cable/fieldworks/config"
	"github.com/pthm-cable/fieldworks/systems"
	"github.com/pthm-cable/fieldworks/telemetry"
)

// Options configures a Simulation beyond the YAML config.
type Options struct {
	Seed      int64
	LogStats  bool         // log window stats at Info
	OutputDir string       // CSV and snapshot output (empty = disabled)
	Logger    *slog.Logger // defaults to slog.Default()

	// StatsCallback is called with every flushed window.
	StatsCallback func(telemetry.WindowStats)
}

// Simulation holds the complete host state.
type Simulation struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger
	rng    *rand.Rand

	world       *ecs.World
	agentMapper *ecs.Map2[components.Position, components.Agent]
	agentFilter *ecs.Filter2[components.Position, components.Agent]
	posMap      *ecs.Map1[components.Position]

	coord  *systems.GridCoordinator
	danger *systems.DangerFieldWorker
	wander *systems.WanderFieldEngine
	cancel context.CancelFunc

	maps       map[components.MapID]*MapLayout
	threats    map[components.MapID][]components.ThreatSpec
	attractors map[components.MapID][]components.Cell
	wanderGens map[components.MapID][components.NumVariants]uint64

	movement *movementState

	perf      *telemetry.PerfCollector
	collector *telemetry.Collector
	output    *telemetry.OutputManager

	tick         int32
	nextMapID    components.MapID
	nextAgentID  uint32
	spawning     int
	lastFailures uint64
	closed       bool
}

// New builds a simulation with cfg.World.Maps generated maps and starts the
// danger worker. Call Close when done.
func New(cfg *config.Config, opts Options) (*Simulation, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	runID := telemetry.NewRunID()
	output, err := telemetry.NewOutputManager(opts.OutputDir, runID)
	if err != nil {
		return nil, fmt.Errorf("output: %w", err)
	}
	if err := output.WriteConfig(cfg); err != nil {
		output.Close()
		return nil, fmt.Errorf("output: %w", err)
	}

	world := ecs.NewWorld()
	s := &Simulation{
		cfg:    cfg,
		opts:   opts,
		logger: logger,
		rng:    rand.New(rand.NewSource(opts.Seed)),

		world:       world,
		agentMapper: ecs.NewMap2[components.Position, components.Agent](world),
		agentFilter: ecs.NewFilter2[components.Position, components.Agent](world),
		posMap:      ecs.NewMap1[components.Position](world),

		maps:       make(map[components.MapID]*MapLayout),
		threats:    make(map[components.MapID][]components.ThreatSpec),
		attractors: make(map[components.MapID][]components.Cell),
		wanderGens: make(map[components.MapID][components.NumVariants]uint64),

		perf:      telemetry.NewPerfCollector(cfg.Telemetry.PerfCollectorWindow, time.Second/time.Duration(cfg.Wander.TicksPerSecond)),
		collector: telemetry.NewCollector(runID, cfg.Derived.StatsWindowTicks, cfg.Wander.TicksPerSecond),
		output:    output,
	}
	s.movement = newMovementState(cfg.Agents.Workers)

	s.coord = systems.NewGridCoordinator(logger)
	s.danger = systems.NewDangerFieldWorker(s.coord, systems.DangerWorkerConfig{
		QueueCapacity: cfg.Danger.QueueCapacity,
		ErrorPause:    cfg.Derived.ErrorPause,
		Logger:        logger,
	})
	s.wander = systems.NewWanderFieldEngine(s.coord, systems.AttractorFunc(s.attractorsOn), systems.WanderConfig{
		RebuildTicks: cfg.Derived.RebuildTicks,
		MinBudget:    cfg.Derived.MinBudget,
		MaxBudget:    cfg.Derived.MaxBudget,
		Logger:       logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.danger.Start(ctx)

	for i := 0; i < cfg.World.Maps; i++ {
		if _, err := s.LoadMap(); err != nil {
			s.Close()
			return nil, err
		}
	}

	logger.Info("simulation ready",
		"run_id", runID,
		"seed", opts.Seed,
		"maps", len(s.maps),
		"agents", s.AgentCount(),
		"workers", s.movement.numWorkers,
	)
	return s, nil
}

// Close stops the danger worker and the movement workers and flushes output.
// It is safe to call more than once.
func (s *Simulation) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	s.danger.Stop()
	s.movement.stopWorkers()
	return s.output.Close()
}

// Tick returns the number of completed steps.
func (s *Simulation) Tick() int32 { return s.tick }

// RunID returns the identifier stamped into every output row.
func (s *Simulation) RunID() string { return s.collector.RunID() }

// Maps returns the loaded map ids in ascending order.
func (s *Simulation) Maps() []components.MapID {
	ids := make([]components.MapID, 0, len(s.maps))
	for id := range s.maps {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Layout returns the generated layout of a loaded map.
func (s *Simulation) Layout(mapID components.MapID) (*MapLayout, bool) {
	m, ok := s.maps[mapID]
	return m, ok
}

// Danger returns the danger field worker.
func (s *Simulation) Danger() *systems.DangerFieldWorker { return s.danger }

// Wander returns the wander field engine.
func (s *Simulation) Wander() *systems.WanderFieldEngine { return s.wander }

// Output returns the output manager, nil when output is disabled.
func (s *Simulation) Output() *telemetry.OutputManager { return s.output }

// AgentCount returns the number of live agents across all maps.
func (s *Simulation) AgentCount() int {
	n := 0
	query := s.agentFilter.Query()
	for query.Next() {
		n++
	}
	return n
}

// Agents returns a copy of every agent on mapID.
func (s *Simulation) Agents(mapID components.MapID) []AgentInfo {
	var out []AgentInfo
	query := s.agentFilter.Query()
	for query.Next() {
		pos, agent := query.Get()
		if pos.Map == mapID {
			out = append(out, AgentInfo{Position: *pos, Agent: *agent})
		}
	}
	return out
}

// AgentInfo is a read-only copy of one agent.
type AgentInfo struct {
	components.Position
	components.Agent
}

// attractorsOn feeds the wander engine. It reads the per-tick index, which
// only the host goroutine writes.
func (s *Simulation) attractorsOn(mapID components.MapID, _ components.Variant) []components.Cell {
	return s.attractors[mapID]
}

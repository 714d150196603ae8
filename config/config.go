// Package config provides configuration loading and access for the simulation.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// Config holds all simulation configuration parameters.
type Config struct {
	World     WorldConfig     `yaml:"world"`
	Danger    DangerConfig    `yaml:"danger"`
	Wander    WanderConfig    `yaml:"wander"`
	Agents    AgentsConfig    `yaml:"agents"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Derived values computed after loading
	Derived DerivedConfig `yaml:"-"`
}

// WorldConfig holds map generation parameters.
type WorldConfig struct {
	Maps          int     `yaml:"maps"`            // Number of maps loaded at start
	Width         int     `yaml:"width"`           // Map width in cells
	Height        int     `yaml:"height"`          // Map height in cells
	NoiseScale    float64 `yaml:"noise_scale"`     // Base frequency of the terrain noise
	RockThreshold float64 `yaml:"rock_threshold"`  // Noise above this is impassable rock
	Buildings     int     `yaml:"buildings"`       // Buildings placed per map
	BuildingMin   int     `yaml:"building_min"`    // Smallest building side (cells, including walls)
	BuildingMax   int     `yaml:"building_max"`    // Largest building side
	ClosedGates   float64 `yaml:"closed_gates"`    // Fraction of doors that start closed
	HiddenRooms   float64 `yaml:"hidden_rooms"`    // Fraction of buildings flagged hidden
	MaxRoomCells  int     `yaml:"max_room_cells"`  // Rooms larger than this never seed wander fields (0 = no limit)
	GateToggleSec float64 `yaml:"gate_toggle_sec"` // Seconds between random door toggles (0 = never)
}

// DangerConfig holds danger worker parameters.
type DangerConfig struct {
	QueueCapacity  int     `yaml:"queue_capacity"`   // Pending requests across all maps (0 = unbounded)
	ErrorPauseMS   int     `yaml:"error_pause_ms"`   // Worker sleep after a failed computation
	SubmitInterval int     `yaml:"submit_interval"`  // Ticks between threat submissions per map
	AvoidThreshold int     `yaml:"avoid_threshold"`  // Cost above which agents step away from danger
	SyncOnLoad     bool    `yaml:"sync_on_load"`     // Compute the first field on the host goroutine
	ThreatJitter   float64 `yaml:"threat_jitter"`    // Random fraction added to threat radii
}

// WanderConfig holds wander engine parameters.
type WanderConfig struct {
	RebuildSeconds float64 `yaml:"rebuild_seconds"` // Full rebuild period per map
	TicksPerSecond int     `yaml:"ticks_per_second"`
	MinBudgetUS    int     `yaml:"min_budget_us"` // Per-tick budget floor (microseconds)
	MaxBudgetUS    int     `yaml:"max_budget_us"` // Per-tick budget when idle (microseconds)
	Speed          float64 `yaml:"speed"`         // Simulation speed multiplier fed to the budget
}

// AgentsConfig holds agent population parameters. Counts are per map.
type AgentsConfig struct {
	Wanderers        int     `yaml:"wanderers"`
	Threats          int     `yaml:"threats"`
	Attractors       int     `yaml:"attractors"`
	PiercingFraction float64 `yaml:"piercing_fraction"` // Wanderers that ignore buildings
	ThreatRadius     int     `yaml:"threat_radius"`
	ThreatPeak       int     `yaml:"threat_peak"`
	MoveInterval     int     `yaml:"move_interval"`    // Ticks between wanderer steps
	ThreatInterval   int     `yaml:"threat_interval"`  // Ticks between threat steps
	AttractorMoveSec float64 `yaml:"attractor_move_sec"` // Seconds between attractor relocations (0 = static)
	Workers          int     `yaml:"workers"`          // Parallel movement workers (0 = GOMAXPROCS)
}

// TelemetryConfig holds telemetry parameters.
type TelemetryConfig struct {
	StatsWindow         float64 `yaml:"stats_window"`          // Seconds per stats window
	PerfCollectorWindow int     `yaml:"perf_collector_window"` // Ticks averaged by the perf collector
	PlotPalette         string  `yaml:"plot_palette"`          // Heatmap palette for fieldplot
}

// DerivedConfig holds computed values derived from the loaded config.
type DerivedConfig struct {
	RebuildTicks     uint64        // Wander.RebuildSeconds * Wander.TicksPerSecond
	MinBudget        time.Duration // Wander.MinBudgetUS
	MaxBudget        time.Duration // Wander.MaxBudgetUS
	ErrorPause       time.Duration // Danger.ErrorPauseMS
	StatsWindowTicks int32         // Telemetry.StatsWindow in ticks
	GateToggleTicks  int32         // World.GateToggleSec in ticks (0 = never)
	AttractorTicks   int32         // Agents.AttractorMoveSec in ticks (0 = static)
}

// global holds the loaded configuration.
var global *Config

// Init loads configuration from the given path, or uses embedded defaults if path is empty.
// Must be called before Cfg().
func Init(path string) error {
	cfg, err := Load(path)
	if err != nil {
		return err
	}
	global = cfg
	return nil
}

// MustInit is like Init but panics on error.
func MustInit(path string) {
	if err := Init(path); err != nil {
		panic(fmt.Sprintf("config: failed to initialize: %v", err))
	}
}

// Cfg returns the global configuration. Panics if Init was not called.
func Cfg() *Config {
	if global == nil {
		panic("config: Cfg() called before Init()")
	}
	return global
}

// Defaults returns a fresh copy of the embedded defaults.
func Defaults() *Config {
	cfg, err := Load("")
	if err != nil {
		panic(fmt.Sprintf("config: embedded defaults invalid: %v", err))
	}
	return cfg
}

// Load loads configuration from a YAML file, merging with embedded defaults.
// If path is empty, only embedded defaults are used.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(defaultsYAML, cfg); err != nil {
		return nil, fmt.Errorf("parsing embedded defaults: %w", err)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Unmarshal into same struct - only overwrites fields present in file
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.computeDerived()

	return cfg, nil
}

// Validate rejects values the engines cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.World.Maps < 0:
		return fmt.Errorf("world.maps must not be negative, got %d", c.World.Maps)
	case c.World.Width <= 0 || c.World.Height <= 0:
		return fmt.Errorf("world size must be positive, got %dx%d", c.World.Width, c.World.Height)
	case c.World.BuildingMin < 3 || c.World.BuildingMax < c.World.BuildingMin:
		return fmt.Errorf("world.building_min must be >= 3 and <= building_max, got %d..%d", c.World.BuildingMin, c.World.BuildingMax)
	case c.Wander.TicksPerSecond <= 0:
		return fmt.Errorf("wander.ticks_per_second must be positive, got %d", c.Wander.TicksPerSecond)
	case c.Wander.MaxBudgetUS <= 0 || c.Wander.MinBudgetUS > c.Wander.MaxBudgetUS:
		return fmt.Errorf("wander budget must satisfy 0 < min <= max, got %d..%d us", c.Wander.MinBudgetUS, c.Wander.MaxBudgetUS)
	case c.Danger.SubmitInterval <= 0:
		return fmt.Errorf("danger.submit_interval must be positive, got %d", c.Danger.SubmitInterval)
	case c.Agents.ThreatRadius < 0 || c.Agents.ThreatPeak < 0:
		return fmt.Errorf("agents threat radius and peak must not be negative")
	}
	return nil
}

// computeDerived calculates values derived from loaded config.
func (c *Config) computeDerived() {
	tps := float64(c.Wander.TicksPerSecond)

	rebuild := c.Wander.RebuildSeconds * tps
	if rebuild < 1 {
		rebuild = 1
	}
	c.Derived.RebuildTicks = uint64(rebuild)
	c.Derived.MinBudget = time.Duration(c.Wander.MinBudgetUS) * time.Microsecond
	c.Derived.MaxBudget = time.Duration(c.Wander.MaxBudgetUS) * time.Microsecond
	c.Derived.ErrorPause = time.Duration(c.Danger.ErrorPauseMS) * time.Millisecond

	c.Derived.StatsWindowTicks = max(1, int32(c.Telemetry.StatsWindow*tps))
	c.Derived.GateToggleTicks = int32(c.World.GateToggleSec * tps)
	c.Derived.AttractorTicks = int32(c.Agents.AttractorMoveSec * tps)

	if c.Agents.MoveInterval < 1 {
		c.Agents.MoveInterval = 1
	}
	if c.Agents.ThreatInterval < 1 {
		c.Agents.ThreatInterval = 1
	}
}

// WriteYAML writes the configuration to a YAML file.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

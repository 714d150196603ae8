package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pthm-cable/fieldworks/config"
	"github.com/pthm-cable/fieldworks/game"
)

func main() {
	// CLI flags
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	logStats := flag.Bool("log-stats", false, "Output stats via slog")
	debug := flag.Bool("debug", false, "Log field publications at debug level")
	statsWindow := flag.Float64("stats-window", 0, "Stats window size in seconds (0 = use config)")
	outputDir := flag.String("output-dir", "", "Output directory for CSV logs, config and snapshots")
	seed := flag.Int64("seed", 0, "RNG seed (0 = time-based)")
	maxTicks := flag.Int("max-ticks", 0, "Stop after N ticks (0 = unlimited)")
	realtime := flag.Bool("realtime", false, "Pace ticks at wander.ticks_per_second instead of running flat out")

	flag.Parse()

	// Initialize config before anything else
	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Cfg()
	if *statsWindow > 0 {
		cfg.Telemetry.StatsWindow = *statsWindow
		cfg.Derived.StatsWindowTicks = max(1, int32(*statsWindow*float64(cfg.Wander.TicksPerSecond)))
	}

	rngSeed := *seed
	if rngSeed == 0 {
		rngSeed = time.Now().UnixNano()
	}

	// Set up slog (JSON to stdout for structured logging)
	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	sim, err := game.New(cfg, game.Options{
		Seed:      rngSeed,
		LogStats:  *logStats,
		OutputDir: *outputDir,
		Logger:    logger,
	})
	if err != nil {
		slog.Error("failed to start simulation", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("starting headless simulation",
		"seed", rngSeed,
		"maps", cfg.World.Maps,
		"max_ticks", *maxTicks,
		"realtime", *realtime,
	)

	var ticker *time.Ticker
	if *realtime {
		ticker = time.NewTicker(time.Second / time.Duration(cfg.Wander.TicksPerSecond))
		defer ticker.Stop()
	}

	for ctx.Err() == nil {
		if ticker != nil {
			select {
			case <-ctx.Done():
				continue
			case <-ticker.C:
			}
		}
		sim.Step()

		if *maxTicks > 0 && int(sim.Tick()) >= *maxTicks {
			slog.Info("max ticks reached", "tick", sim.Tick())
			break
		}
	}

	if paths, err := sim.SaveSnapshots(); err != nil {
		slog.Error("failed to save snapshots", "error", err)
	} else if len(paths) > 0 {
		slog.Info("snapshots saved", "files", paths)
	}
	if err := sim.Close(); err != nil {
		slog.Error("failed to close output", "error", err)
	}
}

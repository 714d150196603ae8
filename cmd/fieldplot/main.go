// Danger field plotter - renders a map's danger field as a PNG heatmap.
//
// Either runs the simulation for a number of ticks and plots the result, or
// plots a snapshot written by the headless runner.
//
// Usage:
//
//	go run ./cmd/fieldplot -ticks 600 -map 1 -out danger.png
//	go run ./cmd/fieldplot -snapshot out/snapshot_map1_600.json
package main

import (
	"flag"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/pthm-cable/fieldworks/components"
	"github.com/pthm-cable/fieldworks/config"
	"github.com/pthm-cable/fieldworks/game"
	"github.com/pthm-cable/fieldworks/telemetry"
)

func main() {
	configPath := flag.String("config", "", "Path to config.yaml (empty = use defaults)")
	snapshotPath := flag.String("snapshot", "", "Plot this snapshot instead of running the simulation")
	seed := flag.Int64("seed", 42, "RNG seed for the simulation run")
	ticks := flag.Int("ticks", 600, "Ticks to simulate before plotting")
	mapID := flag.Int("map", 1, "Map to plot")
	out := flag.String("out", "", "Output image (default: derived from the snapshot name)")
	paletteName := flag.String("palette", "", "Heatmap palette: heat, rainbow or moreland (empty = use config)")
	verbose := flag.Bool("v", false, "Log simulation progress")

	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	if err := config.Init(*configPath); err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg := config.Cfg()

	name := *paletteName
	if name == "" {
		name = cfg.Telemetry.PlotPalette
	}
	pal, err := paletteByName(name)
	if err != nil {
		slog.Error("bad palette", "error", err)
		os.Exit(1)
	}

	var snap *telemetry.Snapshot
	if *snapshotPath != "" {
		snap, err = telemetry.LoadSnapshot(*snapshotPath)
	} else {
		simLogger := slog.New(slog.NewTextHandler(io.Discard, nil))
		if *verbose {
			simLogger = logger
		}
		snap, err = simulate(cfg, *seed, int32(*ticks), components.MapID(*mapID), simLogger)
	}
	if err != nil {
		slog.Error("failed to get danger field", "error", err)
		os.Exit(1)
	}

	path := *out
	if path == "" {
		if *snapshotPath != "" {
			path = strings.TrimSuffix(*snapshotPath, ".json") + ".png"
		} else {
			path = "danger.png"
		}
	}

	p, err := buildPlot(snap, pal)
	if err != nil {
		slog.Error("failed to build plot", "error", err)
		os.Exit(1)
	}
	if err := savePlot(p, path, snap); err != nil {
		slog.Error("failed to write plot", "error", err)
		os.Exit(1)
	}
	slog.Info("plot written", "path", path, "map", snap.Map, "tick", snap.Tick, "generation", snap.DangerGeneration)
}

// simulate runs a fresh simulation and snapshots one map.
func simulate(cfg *config.Config, seed int64, ticks int32, mapID components.MapID, logger *slog.Logger) (*telemetry.Snapshot, error) {
	sim, err := game.New(cfg, game.Options{Seed: seed, Logger: logger})
	if err != nil {
		return nil, err
	}
	defer sim.Close()

	sim.Run(ticks, nil)
	return sim.Snapshot(mapID)
}

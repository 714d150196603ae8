package main

import (
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/pthm-cable/fieldworks/components"
	"github.com/pthm-cable/fieldworks/telemetry"
)

// paletteColors is the number of steps in a heatmap palette.
const paletteColors = 64

// dangerGrid adapts a snapshot's danger field to plotter.GridXYZ. Rows are
// flipped so z=0 is drawn at the top, matching the map's row order.
type dangerGrid struct {
	snap *telemetry.Snapshot
}

func (g dangerGrid) Dims() (c, r int) { return g.snap.Width, g.snap.Height }

func (g dangerGrid) Z(c, r int) float64 {
	z := g.snap.Height - 1 - r
	return float64(g.snap.Danger[z*g.snap.Width+c])
}

func (g dangerGrid) X(c int) float64 { return float64(c) }

func (g dangerGrid) Y(r int) float64 { return float64(r) }

// paletteByName returns a named heatmap palette.
func paletteByName(name string) (palette.Palette, error) {
	switch name {
	case "", "heat":
		return palette.Heat(paletteColors, 1), nil
	case "rainbow":
		return palette.Rainbow(paletteColors, palette.Blue, palette.Red, 1, 1, 1), nil
	case "moreland":
		cm := moreland.SmoothBlueRed()
		cm.SetMin(0)
		cm.SetMax(1)
		return cm.Palette(paletteColors), nil
	default:
		return nil, fmt.Errorf("unknown palette %q (want heat, rainbow or moreland)", name)
	}
}

// overlayPoints returns cell centres for every cell where keep is true, in
// plot coordinates.
func overlayPoints(snap *telemetry.Snapshot, keep func(o uint8) bool) plotter.XYs {
	var pts plotter.XYs
	for i, o := range snap.Obstacles {
		if !keep(o) {
			continue
		}
		x, z := i%snap.Width, i/snap.Width
		pts = append(pts, plotter.XY{X: float64(x), Y: float64(snap.Height - 1 - z)})
	}
	return pts
}

// agentPoints returns agent positions with at least one of roles set, or
// plain wanderers when roles is zero.
func agentPoints(snap *telemetry.Snapshot, roles components.Role) plotter.XYs {
	var pts plotter.XYs
	for _, a := range snap.Agents {
		r := components.Role(a.Roles)
		match := r&roles != 0
		if roles == 0 {
			match = r&(components.RoleThreat|components.RoleAttractor) == 0
		}
		if match {
			pts = append(pts, plotter.XY{X: float64(a.X), Y: float64(snap.Height - 1 - a.Z)})
		}
	}
	return pts
}

// buildPlot renders a danger heatmap with walls, gates and agents on top.
func buildPlot(snap *telemetry.Snapshot, pal palette.Palette) (*plot.Plot, error) {
	if err := snap.Validate(); err != nil {
		return nil, err
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Danger field, map %d, tick %d (gen %d)", snap.Map, snap.Tick, snap.DangerGeneration)
	p.X.Label.Text = "x"
	p.Y.Label.Text = "z (flipped)"

	hm := plotter.NewHeatMap(dangerGrid{snap: snap}, pal)
	hm.Min = 0
	if hm.Max <= 0 {
		hm.Max = 1
	}
	p.Add(hm)

	layers := []struct {
		name  string
		pts   plotter.XYs
		color color.Color
		shape draw.GlyphDrawer
	}{
		{"rock", overlayPoints(snap, func(o uint8) bool { return o == telemetry.TerrainRock }),
			color.RGBA{R: 90, G: 80, B: 70, A: 255}, draw.BoxGlyph{}},
		{"wall", overlayPoints(snap, func(o uint8) bool { return components.ObstacleClass(o) == components.ObstacleSolid }),
			color.RGBA{R: 40, G: 40, B: 40, A: 255}, draw.BoxGlyph{}},
		{"open gate", overlayPoints(snap, func(o uint8) bool { return components.ObstacleClass(o) == components.ObstacleGateOpen }),
			color.RGBA{G: 180, A: 255}, draw.SquareGlyph{}},
		{"closed gate", overlayPoints(snap, func(o uint8) bool { return components.ObstacleClass(o) == components.ObstacleGateClosed }),
			color.RGBA{R: 200, A: 255}, draw.SquareGlyph{}},
		{"wanderer", agentPoints(snap, 0), color.RGBA{B: 220, A: 255}, draw.CircleGlyph{}},
		{"attractor", agentPoints(snap, components.RoleAttractor), color.RGBA{G: 220, B: 220, A: 255}, draw.PyramidGlyph{}},
		{"threat", agentPoints(snap, components.RoleThreat), color.RGBA{R: 255, G: 255, A: 255}, draw.CrossGlyph{}},
	}
	for _, l := range layers {
		if len(l.pts) == 0 {
			continue
		}
		sc, err := plotter.NewScatter(l.pts)
		if err != nil {
			return nil, fmt.Errorf("%s layer: %w", l.name, err)
		}
		sc.GlyphStyle.Color = l.color
		sc.GlyphStyle.Shape = l.shape
		sc.GlyphStyle.Radius = vg.Points(2)
		p.Add(sc)
		p.Legend.Add(l.name, sc)
	}
	p.Legend.Top = true
	return p, nil
}

// savePlot writes p to path; the extension picks the format.
func savePlot(p *plot.Plot, path string, snap *telemetry.Snapshot) error {
	// Keep cells roughly square.
	w := 10 * vg.Inch
	h := w * vg.Length(snap.Height) / vg.Length(snap.Width)
	if err := p.Save(w, h+vg.Inch, path); err != nil {
		return fmt.Errorf("save plot: %w", err)
	}
	return nil
}

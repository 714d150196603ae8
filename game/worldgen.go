package game

import (
	"math/rand"

	"github.com/ojrac/opensimplex-go"

	"github.com/pthm-cable/fieldworks/components"
	"github.com/pthm-cable/fieldworks/config"
	"github.com/pthm-cable/fieldworks/systems"
)

// Building is a walled rectangle with one room inside and doors in its walls.
type Building struct {
	Min, Max components.Cell // inclusive wall bounds
	Doors    []components.Cell
	Room     int32
	Hidden   bool
}

// Contains reports whether c lies on or inside the walls.
func (b *Building) Contains(c components.Cell) bool {
	return c.X >= b.Min.X && c.X <= b.Max.X && c.Z >= b.Min.Z && c.Z <= b.Max.Z
}

// MapLayout is one generated map.
type MapLayout struct {
	ID        components.MapID
	Seed      int64
	Nav       *systems.NavGrid
	Buildings []Building
	Gates     []components.Cell
}

// GenerateMap builds a map from noise-driven rock and randomly placed
// buildings. The same seed always gives the same layout.
func GenerateMap(id components.MapID, wc config.WorldConfig, seed int64) *MapLayout {
	nav := systems.NewNavGrid(wc.Width, wc.Height)
	layout := &MapLayout{ID: id, Seed: seed, Nav: nav}

	noise := opensimplex.NewNormalized(seed)
	for z := 0; z < wc.Height; z++ {
		for x := 0; x < wc.Width; x++ {
			if noise.Eval2(float64(x)*wc.NoiseScale, float64(z)*wc.NoiseScale) > wc.RockThreshold {
				nav.SetImpassable(components.Cell{X: x, Z: z}, true)
			}
		}
	}

	rng := rand.New(rand.NewSource(seed))
	nav.SetMaxRoomCells(wc.MaxRoomCells)
	for attempt := 0; attempt < wc.Buildings*20 && len(layout.Buildings) < wc.Buildings; attempt++ {
		b, ok := layout.placeBuilding(rng, wc)
		if !ok {
			continue
		}
		layout.raise(rng, wc, &b)
		layout.Buildings = append(layout.Buildings, b)
	}
	return layout
}

// placeBuilding picks a footprint that keeps a one-cell street around every
// other building.
func (m *MapLayout) placeBuilding(rng *rand.Rand, wc config.WorldConfig) (Building, bool) {
	w := wc.BuildingMin + rng.Intn(wc.BuildingMax-wc.BuildingMin+1)
	h := wc.BuildingMin + rng.Intn(wc.BuildingMax-wc.BuildingMin+1)
	if w+2 > wc.Width || h+2 > wc.Height {
		return Building{}, false
	}
	x0 := 1 + rng.Intn(wc.Width-w-1)
	z0 := 1 + rng.Intn(wc.Height-h-1)
	b := Building{
		Min: components.Cell{X: x0, Z: z0},
		Max: components.Cell{X: x0 + w - 1, Z: z0 + h - 1},
	}
	for i := range m.Buildings {
		o := &m.Buildings[i]
		if b.Min.X-1 <= o.Max.X && o.Min.X-1 <= b.Max.X && b.Min.Z-1 <= o.Max.Z && o.Min.Z-1 <= b.Max.Z {
			return Building{}, false
		}
	}
	return b, true
}

// raise writes walls, room and doors of b into the nav grid.
func (m *MapLayout) raise(rng *rand.Rand, wc config.WorldConfig, b *Building) {
	nav := m.Nav

	b.Hidden = rng.Float64() < wc.HiddenRooms
	var flags systems.RoomFlags
	if b.Hidden {
		flags |= systems.RoomHidden
	}
	b.Room = nav.AddRoom(flags)

	for z := b.Min.Z - 1; z <= b.Max.Z+1; z++ {
		for x := b.Min.X - 1; x <= b.Max.X+1; x++ {
			c := components.Cell{X: x, Z: z}
			nav.SetImpassable(c, false)
			if !b.Contains(c) {
				continue
			}
			if x == b.Min.X || x == b.Max.X || z == b.Min.Z || z == b.Max.Z {
				nav.SetObstacle(c, components.ObstacleSolid)
			} else {
				nav.AssignRoom(c, b.Room)
			}
		}
	}

	doors := 1 + rng.Intn(2)
	for i := 0; i < doors; i++ {
		door := wallCell(rng, b)
		class := components.ObstacleGateOpen
		if rng.Float64() < wc.ClosedGates {
			class = components.ObstacleGateClosed
		}
		if nav.ClassifyObstacle(door).IsGate() {
			continue
		}
		nav.SetObstacle(door, class)
		b.Doors = append(b.Doors, door)
		m.Gates = append(m.Gates, door)
	}
}

// wallCell picks a non-corner cell on the perimeter of b.
func wallCell(rng *rand.Rand, b *Building) components.Cell {
	w := b.Max.X - b.Min.X - 1
	h := b.Max.Z - b.Min.Z - 1
	switch rng.Intn(4) {
	case 0:
		return components.Cell{X: b.Min.X + 1 + rng.Intn(w), Z: b.Min.Z}
	case 1:
		return components.Cell{X: b.Min.X + 1 + rng.Intn(w), Z: b.Max.Z}
	case 2:
		return components.Cell{X: b.Min.X, Z: b.Min.Z + 1 + rng.Intn(h)}
	default:
		return components.Cell{X: b.Max.X, Z: b.Min.Z + 1 + rng.Intn(h)}
	}
}

// randomOpenCell returns a walkable cell with no obstacle, or false after a
// bounded number of tries.
func randomOpenCell(rng *rand.Rand, nav *systems.NavGrid) (components.Cell, bool) {
	w, h := nav.Dimensions()
	for i := 0; i < 256; i++ {
		c := components.Cell{X: rng.Intn(w), Z: rng.Intn(h)}
		if nav.IsWalkable(c) && nav.ClassifyObstacle(c) == components.ObstacleNone {
			return c, true
		}
	}
	return components.Cell{}, false
}

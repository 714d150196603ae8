package components

import "fmt"

// MapID identifies one loaded map. Values are assigned by the host.
type MapID int32

// Cell addresses a single grid square.
type Cell struct {
	X, Z int
}

func (c Cell) String() string {
	return fmt.Sprintf("(%d,%d)", c.X, c.Z)
}

// Add returns the cell offset by (dx, dz).
func (c Cell) Add(dx, dz int) Cell {
	return Cell{X: c.X + dx, Z: c.Z + dz}
}

// Chebyshev returns the king-move distance between two cells.
func (c Cell) Chebyshev(o Cell) int {
	dx := absInt(c.X - o.X)
	dz := absInt(c.Z - o.Z)
	if dx > dz {
		return dx
	}
	return dz
}

// DistSq returns the squared Euclidean distance between two cells.
func (c Cell) DistSq(o Cell) int {
	dx := c.X - o.X
	dz := c.Z - o.Z
	return dx*dx + dz*dz
}

// ObstacleClass is the external classification of a cell.
type ObstacleClass uint8

const (
	ObstacleNone       ObstacleClass = iota // plain ground
	ObstacleSolid                           // wall or building
	ObstacleGateOpen                        // door currently passable
	ObstacleGateClosed                      // door currently shut
)

// IsGate reports whether the class is a gate in either state.
func (o ObstacleClass) IsGate() bool {
	return o == ObstacleGateOpen || o == ObstacleGateClosed
}

func (o ObstacleClass) String() string {
	switch o {
	case ObstacleNone:
		return "none"
	case ObstacleSolid:
		return "solid"
	case ObstacleGateOpen:
		return "gate_open"
	case ObstacleGateClosed:
		return "gate_closed"
	}
	return "unknown"
}

// Variant selects one of the two wander fields kept per map.
type Variant uint8

const (
	VariantNormal   Variant = iota // gates and buildings block
	VariantPiercing                // only closed gates block
	NumVariants
)

func (v Variant) String() string {
	if v == VariantPiercing {
		return "piercing"
	}
	return "normal"
}

// ThreatSpec is one danger flood source.
type ThreatSpec struct {
	Pos      Cell
	Radius   int // in cells
	PeakCost int // cost at the source cell
}

// Backpointer is a packed per-cell direction toward the parent cell in a
// flood tree. Zero means unvisited. Bits 0-1 hold sign(dx)+2, bits 2-3 hold
// sign(dz)+2, so every visited cell (including roots, which point at
// themselves) has a non-zero code.
type Backpointer uint8

// BackpointerNone marks an unvisited cell.
const BackpointerNone Backpointer = 0

// BackpointerRoot marks a flood source.
var BackpointerRoot = PackBackpointer(0, 0)

// PackBackpointer encodes a step of (dx, dz); only the signs are kept.
func PackBackpointer(dx, dz int) Backpointer {
	return Backpointer(uint8(sign(dx)+2) | uint8(sign(dz)+2)<<2)
}

// Delta decodes the step toward the parent. ok is false for unvisited cells.
func (b Backpointer) Delta() (dx, dz int, ok bool) {
	if b == BackpointerNone {
		return 0, 0, false
	}
	return int(b&3) - 2, int(b>>2&3) - 2, true
}

// IsRoot reports whether the cell is a flood source.
func (b Backpointer) IsRoot() bool {
	return b == BackpointerRoot
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

package components

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBackpointer_PackDelta(t *testing.T) {
	seen := map[Backpointer]bool{}
	for dz := -1; dz <= 1; dz++ {
		for dx := -1; dx <= 1; dx++ {
			bp := PackBackpointer(dx, dz)
			assert.NotEqual(t, BackpointerNone, bp)
			assert.False(t, seen[bp], "code %d reused", bp)
			seen[bp] = true

			gx, gz, ok := bp.Delta()
			assert.True(t, ok)
			assert.Equal(t, [2]int{dx, dz}, [2]int{gx, gz})
			assert.Equal(t, dx == 0 && dz == 0, bp.IsRoot())
		}
	}

	// Only the sign survives.
	assert.Equal(t, PackBackpointer(1, -1), PackBackpointer(7, -3))

	_, _, ok := BackpointerNone.Delta()
	assert.False(t, ok)
	assert.False(t, BackpointerNone.IsRoot())
}

func TestCell_Distances(t *testing.T) {
	a := Cell{X: 1, Z: 2}
	b := Cell{X: 4, Z: -2}
	assert.Equal(t, 4, a.Chebyshev(b))
	assert.Equal(t, 25, a.DistSq(b))
	assert.Equal(t, Cell{X: 0, Z: 3}, a.Add(-1, 1))
	assert.Equal(t, "(1,2)", a.String())
}

func TestAgent_Roles(t *testing.T) {
	a := Agent{Roles: RoleThreat | RoleIgnoresObstacles, ThreatRadius: 6, ThreatPeak: 400}
	assert.True(t, a.Roles.Has(RoleThreat))
	assert.False(t, a.Roles.Has(RoleAttractor))
	assert.False(t, a.Roles.Has(RoleThreat|RoleAttractor))
	assert.Equal(t, VariantPiercing, a.Variant())
	assert.Equal(t, ThreatSpec{Pos: Cell{X: 3, Z: 3}, Radius: 6, PeakCost: 400}, a.Threat(Cell{X: 3, Z: 3}))

	assert.Equal(t, VariantNormal, (&Agent{}).Variant())
	assert.True(t, ObstacleGateClosed.IsGate())
	assert.False(t, ObstacleSolid.IsGate())
	assert.Equal(t, "gate_open", ObstacleGateOpen.String())
}

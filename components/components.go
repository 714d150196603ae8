// Package components defines the shared value types of the field core and the
// ECS components used by the host simulation.
package components

// Role flags describe what an agent contributes to the fields.
type Role uint8

const (
	RoleThreat           Role = 1 << iota // source of a danger flood
	RoleAttractor                         // wander fields lead toward it
	RoleIgnoresObstacles                  // follows the piercing wander variant
)

// Has reports whether all bits of r are set.
func (roles Role) Has(r Role) bool {
	return roles&r == r
}

// Position places an agent on a map.
type Position struct {
	Map  MapID
	Cell Cell
}

// Agent holds per-agent role data.
type Agent struct {
	ID    uint32
	Roles Role

	// Threat parameters, used when RoleThreat is set.
	ThreatRadius int
	ThreatPeak   int

	// Movement
	MoveCooldown int32 // ticks until the next step
	MoveInterval int32 // ticks between steps
}

// Threat returns the agent's danger flood source at its current position.
func (a *Agent) Threat(pos Cell) ThreatSpec {
	return ThreatSpec{Pos: pos, Radius: a.ThreatRadius, PeakCost: a.ThreatPeak}
}

// Variant returns which wander field this agent follows.
func (a *Agent) Variant() Variant {
	if a.Roles.Has(RoleIgnoresObstacles) {
		return VariantPiercing
	}
	return VariantNormal
}

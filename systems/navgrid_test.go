package systems

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pthm-cable/fieldworks/components"
)

func TestNavGrid_Walkability(t *testing.T) {
	g := NewNavGrid(4, 4)
	g.SetObstacle(components.Cell{X: 1, Z: 0}, components.ObstacleSolid)
	g.SetObstacle(components.Cell{X: 2, Z: 0}, components.ObstacleGateOpen)
	g.SetObstacle(components.Cell{X: 3, Z: 0}, components.ObstacleGateClosed)
	g.SetImpassable(components.Cell{X: 0, Z: 1}, true)

	tests := []struct {
		cell     components.Cell
		walkable bool
		class    components.ObstacleClass
	}{
		{components.Cell{X: 0, Z: 0}, true, components.ObstacleNone},
		{components.Cell{X: 1, Z: 0}, false, components.ObstacleSolid},
		{components.Cell{X: 2, Z: 0}, true, components.ObstacleGateOpen},
		{components.Cell{X: 3, Z: 0}, false, components.ObstacleGateClosed},
		{components.Cell{X: 0, Z: 1}, false, components.ObstacleNone},
		{components.Cell{X: -1, Z: 0}, false, components.ObstacleSolid},
		{components.Cell{X: 0, Z: 4}, false, components.ObstacleSolid},
	}
	for _, tt := range tests {
		t.Run(tt.cell.String(), func(t *testing.T) {
			assert.Equal(t, tt.walkable, g.IsWalkable(tt.cell))
			assert.Equal(t, tt.class, g.ClassifyObstacle(tt.cell))
		})
	}
}

func TestNavGrid_Ready(t *testing.T) {
	assert.True(t, NewNavGrid(3, 3).Ready())
	assert.False(t, NewNavGrid(0, 3).Ready())
	assert.False(t, NewNavGrid(-2, -2).Ready())

	g := NewNavGrid(3, 3)
	g.SetReady(false)
	assert.False(t, g.Ready())
}

func TestNavGrid_Rooms(t *testing.T) {
	g := NewNavGrid(6, 6)
	hall := g.AddRoom(0)
	closet := g.AddRoom(RoomHidden)
	assert.Equal(t, int32(1), hall)
	assert.Equal(t, int32(2), closet)

	for x := 0; x < 3; x++ {
		g.AssignRoom(components.Cell{X: x, Z: 0}, hall)
	}
	g.AssignRoom(components.Cell{X: 5, Z: 5}, closet)

	room, ok := g.RoomAt(components.Cell{X: 1, Z: 0})
	assert.True(t, ok)
	assert.Equal(t, Room{Cells: 3}, room)

	// Moving a cell between rooms keeps counts right.
	g.AssignRoom(components.Cell{X: 2, Z: 0}, closet)
	room, _ = g.RoomAt(components.Cell{X: 0, Z: 0})
	assert.Equal(t, 2, room.Cells)
	room, _ = g.RoomAt(components.Cell{X: 5, Z: 5})
	assert.Equal(t, Room{Flags: RoomHidden, Cells: 2}, room)

	_, ok = g.RoomAt(components.Cell{X: 3, Z: 3})
	assert.False(t, ok)

	assert.True(t, g.EligibleRoom(components.Cell{X: 3, Z: 3}), "no room is eligible")
	assert.True(t, g.EligibleRoom(components.Cell{X: 0, Z: 0}))
	assert.False(t, g.EligibleRoom(components.Cell{X: 5, Z: 5}))
	assert.False(t, g.EligibleRoom(components.Cell{X: 9, Z: 9}))

	g.SetMaxRoomCells(1)
	assert.False(t, g.EligibleRoom(components.Cell{X: 0, Z: 0}))
}

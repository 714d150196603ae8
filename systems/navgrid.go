package systems

import (
	"sync"

	"github.com/pthm-cable/fieldworks/components"
)

// MapSource is the walkability and obstacle data of one map, supplied by the
// host. Implementations must tolerate concurrent reads: the danger worker
// reads from its own goroutine.
type MapSource interface {
	Dimensions() (width, height int)
	Ready() bool
	IsWalkable(c components.Cell) bool
	ClassifyObstacle(c components.Cell) components.ObstacleClass
}

// RoomFilter is optionally implemented by a MapSource to exclude attractors
// standing in rooms that should not pull wanderers.
type RoomFilter interface {
	EligibleRoom(c components.Cell) bool
}

// RoomFlags mark rooms that never seed the wander field.
type RoomFlags uint8

const (
	RoomHidden      RoomFlags = 1 << iota // not discoverable by wanderers
	RoomDoorwayOnly                       // a door cell with no interior
	RoomOutdoor                           // open air, not a room
)

// Room describes one enclosed region of a NavGrid.
type Room struct {
	Flags RoomFlags
	Cells int
}

// NavGrid is an in-memory MapSource and RoomFilter.
// Cells default to walkable ground with no room.
type NavGrid struct {
	mu sync.RWMutex

	width, height int
	classes       []components.ObstacleClass
	impassable    []bool  // natural terrain that nothing crosses
	roomIDs       []int32 // 0 = no room
	rooms         []Room  // indexed by room id - 1
	maxRoomCells  int     // rooms larger than this are ineligible (0 = no limit)
	ready         bool
}

// NewNavGrid creates an open width × height grid.
func NewNavGrid(width, height int) *NavGrid {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	n := width * height
	return &NavGrid{
		width:      width,
		height:     height,
		classes:    make([]components.ObstacleClass, n),
		impassable: make([]bool, n),
		roomIDs:    make([]int32, n),
		ready:      width > 0 && height > 0,
	}
}

// Dimensions implements MapSource.
func (g *NavGrid) Dimensions() (int, int) { return g.width, g.height }

// Ready implements MapSource.
func (g *NavGrid) Ready() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.ready
}

// SetReady marks walkability data as usable or not.
func (g *NavGrid) SetReady(ready bool) {
	g.mu.Lock()
	g.ready = ready
	g.mu.Unlock()
}

func (g *NavGrid) index(c components.Cell) (int, bool) {
	if c.X < 0 || c.Z < 0 || c.X >= g.width || c.Z >= g.height {
		return 0, false
	}
	return c.Z*g.width + c.X, true
}

// IsWalkable implements MapSource. Out of bounds is not walkable.
func (g *NavGrid) IsWalkable(c components.Cell) bool {
	i, ok := g.index(c)
	if !ok {
		return false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.impassable[i] {
		return false
	}
	switch g.classes[i] {
	case components.ObstacleSolid, components.ObstacleGateClosed:
		return false
	}
	return true
}

// ClassifyObstacle implements MapSource. Out of bounds reads as solid.
func (g *NavGrid) ClassifyObstacle(c components.Cell) components.ObstacleClass {
	i, ok := g.index(c)
	if !ok {
		return components.ObstacleSolid
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.classes[i]
}

// SetObstacle changes the classification of a cell, e.g. to open a gate.
func (g *NavGrid) SetObstacle(c components.Cell, class components.ObstacleClass) {
	i, ok := g.index(c)
	if !ok {
		return
	}
	g.mu.Lock()
	g.classes[i] = class
	g.mu.Unlock()
}

// IsImpassable reports natural terrain that no variant can cross. Out of
// bounds reads as impassable.
func (g *NavGrid) IsImpassable(c components.Cell) bool {
	i, ok := g.index(c)
	if !ok {
		return true
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.impassable[i]
}

// SetImpassable marks natural terrain (rock, deep water) that no variant can
// cross.
func (g *NavGrid) SetImpassable(c components.Cell, impassable bool) {
	i, ok := g.index(c)
	if !ok {
		return
	}
	g.mu.Lock()
	g.impassable[i] = impassable
	g.mu.Unlock()
}

// AddRoom registers a room and returns its id.
func (g *NavGrid) AddRoom(flags RoomFlags) int32 {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rooms = append(g.rooms, Room{Flags: flags})
	return int32(len(g.rooms))
}

// AssignRoom places a cell inside room id.
func (g *NavGrid) AssignRoom(c components.Cell, id int32) {
	i, ok := g.index(c)
	if !ok {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if old := g.roomIDs[i]; old > 0 {
		g.rooms[old-1].Cells--
	}
	g.roomIDs[i] = id
	if id > 0 && int(id) <= len(g.rooms) {
		g.rooms[id-1].Cells++
	}
}

// SetMaxRoomCells sets the size above which a room no longer seeds wander
// fields. Zero disables the limit.
func (g *NavGrid) SetMaxRoomCells(n int) {
	g.mu.Lock()
	g.maxRoomCells = n
	g.mu.Unlock()
}

// RoomAt returns the room containing c, if any.
func (g *NavGrid) RoomAt(c components.Cell) (Room, bool) {
	i, ok := g.index(c)
	if !ok {
		return Room{}, false
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	id := g.roomIDs[i]
	if id <= 0 || int(id) > len(g.rooms) {
		return Room{}, false
	}
	return g.rooms[id-1], true
}

// EligibleRoom implements RoomFilter. Cells outside any room are eligible.
func (g *NavGrid) EligibleRoom(c components.Cell) bool {
	room, ok := g.RoomAt(c)
	if !ok {
		_, inBounds := g.index(c)
		return inBounds
	}
	if room.Flags&(RoomHidden|RoomDoorwayOnly|RoomOutdoor) != 0 {
		return false
	}
	g.mu.RLock()
	limit := g.maxRoomCells
	g.mu.RUnlock()
	return limit <= 0 || room.Cells <= limit
}

package telemetry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// SnapshotVersion is incremented when the format changes.
const SnapshotVersion = 1

// TerrainRock marks impassable natural terrain in Snapshot.Obstacles; lower
// values are obstacle classes.
const TerrainRock uint8 = 255

// Snapshot holds one map's fields and agents at a tick, for offline plotting.
type Snapshot struct {
	Version int    `json:"version"`
	RunID   string `json:"run_id,omitempty"`
	RNGSeed int64  `json:"rng_seed"`
	Tick    int32  `json:"tick"`

	Map    int32 `json:"map"`
	Width  int   `json:"width"`
	Height int   `json:"height"`

	// Row-major, Width*Height entries each.
	Obstacles []uint8 `json:"obstacles"`
	Danger    []int32 `json:"danger"`

	DangerGeneration uint64    `json:"danger_generation"`
	WanderGeneration [2]uint64 `json:"wander_generation"`

	Agents []AgentState `json:"agents"`
}

// AgentState holds one agent's position and roles.
type AgentState struct {
	ID    uint32 `json:"id"`
	X     int    `json:"x"`
	Z     int    `json:"z"`
	Roles uint8  `json:"roles"`
}

// Validate checks that the grids match the declared size.
func (s *Snapshot) Validate() error {
	n := s.Width * s.Height
	if s.Width <= 0 || s.Height <= 0 {
		return fmt.Errorf("snapshot size %dx%d", s.Width, s.Height)
	}
	if len(s.Obstacles) != n || len(s.Danger) != n {
		return fmt.Errorf("snapshot grids have %d/%d cells, want %d", len(s.Obstacles), len(s.Danger), n)
	}
	return nil
}

// Save writes the snapshot to dir and returns the file path.
func (s *Snapshot) Save(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("snapshot_map%d_%d.json", s.Map, s.Tick))
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	return path, nil
}

// LoadSnapshot reads a snapshot from disk.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	if snapshot.Version != SnapshotVersion {
		return nil, fmt.Errorf("snapshot version %d, want %d", snapshot.Version, SnapshotVersion)
	}
	if err := snapshot.Validate(); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

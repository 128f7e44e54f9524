package research

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// SnapshotVersion is the layout version written by this package.
const SnapshotVersion = 1

// ErrSnapshotVersion is returned when a snapshot was written by a newer layout.
var ErrSnapshotVersion = errors.New("unsupported snapshot version")

// Snapshot is the persisted form of a queue. It is both the crash-recovery
// artifact and the hand-off to report generation.
type Snapshot struct {
	Version      int           `json:"version,omitempty"`
	ResearchID   string        `json:"research_id"`
	Objective    string        `json:"objective,omitempty"`
	Symbols      []string      `json:"symbols,omitempty"`
	BlockCounter int           `json:"block_counter"`
	MaxLength    *int          `json:"max_length"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
	Blocks       []*TopicBlock `json:"blocks"`
}

// Snapshot returns a deep copy of the queue state.
func (q *Queue) Snapshot() *Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.snapshotLocked()
}

func (q *Queue) snapshotLocked() *Snapshot {
	snap := &Snapshot{
		Version:      SnapshotVersion,
		ResearchID:   q.researchID,
		Objective:    q.objective,
		Symbols:      append([]string(nil), q.symbols...),
		BlockCounter: q.blockCounter,
		CreatedAt:    q.createdAt,
		UpdatedAt:    q.updatedAt,
		Blocks:       make([]*TopicBlock, len(q.blocks)),
	}
	if q.maxLength > 0 {
		n := q.maxLength
		snap.MaxLength = &n
	}
	for i, b := range q.blocks {
		snap.Blocks[i] = b.Clone()
	}
	return snap
}

// FromSnapshot rebuilds a queue. The block counter never goes below the
// highest block ordinal present so restored queues never reuse an id.
func FromSnapshot(snap *Snapshot) (*Queue, error) {
	if snap == nil {
		return nil, fmt.Errorf("restore queue: nil snapshot")
	}
	if snap.Version > SnapshotVersion {
		return nil, fmt.Errorf("restore queue %s: version %d: %w", snap.ResearchID, snap.Version, ErrSnapshotVersion)
	}

	maxLength := 0
	if snap.MaxLength != nil {
		maxLength = *snap.MaxLength
	}
	q := NewQueue(snap.ResearchID, maxLength)
	q.objective = snap.Objective
	q.symbols = append([]string(nil), snap.Symbols...)
	q.blockCounter = snap.BlockCounter
	if !snap.CreatedAt.IsZero() {
		q.createdAt = snap.CreatedAt
	}
	if !snap.UpdatedAt.IsZero() {
		q.updatedAt = snap.UpdatedAt
	}

	seen := make(map[string]bool, len(snap.Blocks))
	for _, b := range snap.Blocks {
		if b == nil {
			continue
		}
		if seen[b.BlockID] {
			return nil, fmt.Errorf("restore queue %s: duplicate block id %s", snap.ResearchID, b.BlockID)
		}
		seen[b.BlockID] = true

		block := b.Clone()
		if block.Status == "" {
			block.Status = StatusPending
		}
		if !block.Status.Valid() {
			return nil, fmt.Errorf("restore queue %s: block %s: unknown status %q", snap.ResearchID, b.BlockID, b.Status)
		}
		if block.ToolTraces == nil {
			block.ToolTraces = []ToolTrace{}
		}
		if block.Metadata.Priority == 0 {
			block.Metadata.Priority = DefaultPriority
		}

		var ordinal int
		if _, err := fmt.Sscanf(BlockOrdinal(block.BlockID), "%d", &ordinal); err == nil && ordinal > q.blockCounter {
			q.blockCounter = ordinal
		}
		q.blocks = append(q.blocks, block)
	}
	return q, nil
}

// Traces returns every trace in the snapshot in block order.
func (s *Snapshot) Traces() []ToolTrace {
	var out []ToolTrace
	for _, b := range s.Blocks {
		out = append(out, b.ToolTraces...)
	}
	return out
}

// MarshalSnapshot encodes a snapshot as indented JSON.
func MarshalSnapshot(snap *Snapshot) ([]byte, error) {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return data, nil
}

// UnmarshalSnapshot decodes a snapshot written by MarshalSnapshot.
func UnmarshalSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// SaveFile writes the queue to path.
func (q *Queue) SaveFile(path string) error {
	return writeSnapshotFile(path, q.Snapshot())
}

// LoadFile restores a queue from a file written by SaveFile.
func LoadFile(path string) (*Queue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read queue state: %w", err)
	}
	snap, err := UnmarshalSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return FromSnapshot(snap)
}

// FilePersister writes every snapshot to one JSON file.
type FilePersister struct {
	Path string
}

// Persist implements Persister.
func (p FilePersister) Persist(snap *Snapshot) error {
	return writeSnapshotFile(p.Path, snap)
}

// writeSnapshotFile replaces path via a temp file and rename, so readers see
// either the previous snapshot or the new one.
func writeSnapshotFile(path string, snap *Snapshot) error {
	data, err := MarshalSnapshot(snap)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

var _ Persister = FilePersister{}

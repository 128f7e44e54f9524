// Package storage persists research snapshots and raw tool answers.
//
// Information Hiding:
// - Storage backend details hidden behind SnapshotStore
// - Allows swapping between files, SQLite and Redis without API changes
// - Each backend encapsulates its own schema or key layout
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/richinex/scout/research"
)

// ErrNotFound is returned when no snapshot exists for a research id.
var ErrNotFound = errors.New("snapshot not found")

// SnapshotInfo is the lightweight listing entry for a stored run.
type SnapshotInfo struct {
	ResearchID string    `json:"research_id"`
	Blocks     int       `json:"blocks"`
	Completed  int       `json:"completed"`
	ToolCalls  int       `json:"tool_calls"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// SnapshotStore defines the interface for storing queue snapshots.
type SnapshotStore interface {
	// Save replaces the stored snapshot for snap.ResearchID.
	Save(ctx context.Context, snap *research.Snapshot) error

	// Load returns the snapshot for researchID, or ErrNotFound.
	Load(ctx context.Context, researchID string) (*research.Snapshot, error)

	// List returns every stored run, most recently updated first.
	List(ctx context.Context) ([]SnapshotInfo, error)

	// Delete removes a stored run. Deleting a missing run is not an error.
	Delete(ctx context.Context, researchID string) error

	// Close releases resources.
	Close() error
}

func infoOf(snap *research.Snapshot) SnapshotInfo {
	info := SnapshotInfo{
		ResearchID: snap.ResearchID,
		Blocks:     len(snap.Blocks),
		UpdatedAt:  snap.UpdatedAt,
	}
	for _, b := range snap.Blocks {
		if b.Status == research.StatusCompleted {
			info.Completed++
		}
		info.ToolCalls += len(b.ToolTraces)
	}
	return info
}

// DefaultPersistTimeout bounds one synchronous queue write.
const DefaultPersistTimeout = 10 * time.Second

// Persister adapts a SnapshotStore to research.Persister so a queue can write
// through to any backend on every mutation.
type Persister struct {
	store   SnapshotStore
	timeout time.Duration
}

// NewPersister creates a persister. A non-positive timeout uses DefaultPersistTimeout.
func NewPersister(store SnapshotStore, timeout time.Duration) *Persister {
	if timeout <= 0 {
		timeout = DefaultPersistTimeout
	}
	return &Persister{store: store, timeout: timeout}
}

// Persist implements research.Persister.
func (p *Persister) Persist(snap *research.Snapshot) error {
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()
	if err := p.store.Save(ctx, snap); err != nil {
		return fmt.Errorf("persist %s: %w", snap.ResearchID, err)
	}
	return nil
}

// LoadQueue loads and restores a queue from store.
func LoadQueue(ctx context.Context, store SnapshotStore, researchID string) (*research.Queue, error) {
	snap, err := store.Load(ctx, researchID)
	if err != nil {
		return nil, err
	}
	return research.FromSnapshot(snap)
}

var _ research.Persister = (*Persister)(nil)

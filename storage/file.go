package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/richinex/scout/research"
)

// FileStore keeps one JSON file per research run in a directory.
// The file layout is the same one research.Queue.SaveFile writes.
type FileStore struct {
	dir string
}

// NewFileStore creates a store rooted at dir, creating it if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the file used for researchID.
func (s *FileStore) Path(researchID string) string {
	return filepath.Join(s.dir, safeName(researchID)+".json")
}

// Save implements SnapshotStore.
func (s *FileStore) Save(ctx context.Context, snap *research.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return research.FilePersister{Path: s.Path(snap.ResearchID)}.Persist(snap)
}

// Load implements SnapshotStore.
func (s *FileStore) Load(ctx context.Context, researchID string) (*research.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.Path(researchID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", researchID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return research.UnmarshalSnapshot(data)
}

// List implements SnapshotStore. Unreadable files are skipped.
func (s *FileStore) List(ctx context.Context) ([]SnapshotInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot directory: %w", err)
	}

	infos := []SnapshotInfo{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(s.dir, e.Name()))
		if err != nil {
			continue
		}
		snap, err := research.UnmarshalSnapshot(data)
		if err != nil {
			continue
		}
		infos = append(infos, infoOf(snap))
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].UpdatedAt.After(infos[j].UpdatedAt)
	})
	return infos, nil
}

// Delete implements SnapshotStore.
func (s *FileStore) Delete(ctx context.Context, researchID string) error {
	err := os.Remove(s.Path(researchID))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// Close implements SnapshotStore.
func (s *FileStore) Close() error {
	return nil
}

// safeName keeps ids usable as file names.
func safeName(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, id)
}

var _ SnapshotStore = (*FileStore)(nil)

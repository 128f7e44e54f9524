package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/richinex/scout/research"
)

func sampleQueue(id string) *research.Queue {
	q := research.NewQueue(id, 0)
	a := q.AddBlock("Revenue", "top line", research.Metadata{Priority: 1})
	q.AddBlock("Risks", "downside", research.Metadata{Dependencies: []string{"Revenue"}})
	q.MarkResearching(a.BlockID)
	_ = q.AppendTrace(a.BlockID, research.NewToolTrace("tool_1_1", "CIT-1-01", "web_search", "revenue", `{"x":1}`, "grew 10%", 1024))
	q.MarkCompleted(a.BlockID)
	return q
}

// storeContract runs the behaviour every SnapshotStore must share.
func storeContract(t *testing.T, store SnapshotStore) {
	t.Helper()
	ctx := context.Background()

	if _, err := store.Load(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Load(missing) error = %v, want ErrNotFound", err)
	}

	older := sampleQueue("run-older")
	if err := store.Save(ctx, older.Snapshot()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	newer := sampleQueue("run-newer")
	newer.AddBlock("Outlook", "", research.Metadata{})
	if err := store.Save(ctx, newer.Snapshot()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	snap, err := store.Load(ctx, "run-newer")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	restored, err := research.FromSnapshot(snap)
	if err != nil {
		t.Fatalf("FromSnapshot failed: %v", err)
	}
	if restored.Len() != 3 {
		t.Errorf("expected 3 blocks, got %d", restored.Len())
	}
	if got := restored.AllSummaries(); got != "## Revenue\n\ngrew 10%" {
		t.Errorf("unexpected summaries %q", got)
	}

	infos, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(infos))
	}
	if infos[0].ResearchID != "run-newer" || infos[0].Blocks != 3 || infos[0].Completed != 1 || infos[0].ToolCalls != 1 {
		t.Errorf("unexpected first entry %+v", infos[0])
	}

	if err := store.Delete(ctx, "run-older"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, "run-older"); err != nil {
		t.Errorf("second Delete failed: %v", err)
	}
	if _, err := store.Load(ctx, "run-older"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load after Delete error = %v, want ErrNotFound", err)
	}
}

func TestFileStore(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()
	storeContract(t, store)
}

func TestSqliteStore(t *testing.T) {
	store, err := NewSqliteInMemory()
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()
	storeContract(t, store)
}

func TestSqliteStoreOnDisk(t *testing.T) {
	path := t.TempDir() + "/nested/scout.db"
	store, err := OpenSqlite(path)
	if err != nil {
		t.Fatalf("Failed to open store: %v", err)
	}
	ctx := context.Background()
	if err := store.Save(ctx, sampleQueue("r1").Snapshot()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	store.Close()

	reopened, err := OpenSqlite(path)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer reopened.Close()
	if _, err := reopened.Load(ctx, "r1"); err != nil {
		t.Errorf("Load after reopen failed: %v", err)
	}
}

func TestRedisStore(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer s.Close()

	store := NewRedisStore(redis.NewClient(&redis.Options{Addr: s.Addr()}))
	defer store.Close()
	storeContract(t, store)
}

func TestRedisStoreTTL(t *testing.T) {
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	defer s.Close()

	store := NewRedisStore(redis.NewClient(&redis.Options{Addr: s.Addr()})).
		WithPrefix("test:").
		WithTTL(time.Minute)
	defer store.Close()

	ctx := context.Background()
	if err := store.Save(ctx, sampleQueue("r1").Snapshot()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !s.Exists("test:snapshot:r1") {
		t.Fatal("snapshot key not written under prefix")
	}

	s.FastForward(2 * time.Minute)

	if _, err := store.Load(ctx, "r1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load after expiry error = %v, want ErrNotFound", err)
	}
	infos, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(infos) != 0 {
		t.Errorf("expected expired run to be pruned, got %+v", infos)
	}
}

func TestPersisterWritesThrough(t *testing.T) {
	store, err := NewSqliteInMemory()
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	q := research.NewQueue("live", 0).WithPersister(NewPersister(store, time.Second))
	b := q.AddBlock("Topic", "", research.Metadata{})
	q.MarkResearching(b.BlockID)

	loaded, err := LoadQueue(context.Background(), store, "live")
	if err != nil {
		t.Fatalf("LoadQueue failed: %v", err)
	}
	got, ok := loaded.Get(b.BlockID)
	if !ok || got.Status != research.StatusResearching {
		t.Errorf("persisted block = %+v", got)
	}
}

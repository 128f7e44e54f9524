// SQLite snapshot and raw answer storage.
//
// Information Hiding:
// - SQLite connection management hidden behind SnapshotStore
// - Schema details encapsulated
// - Thread-safe via sql.DB's built-in connection pooling

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/richinex/scout/research"
)

// SqliteStore implements SnapshotStore using SQLite and also backs RawArchive.
// Thread-safe: sql.DB handles connection pooling and concurrent access.
type SqliteStore struct {
	db *sql.DB
}

// OpenSqlite opens or creates a SQLite database at the given path.
// Creates parent directories if they don't exist.
func OpenSqlite(path string) (*SqliteStore, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	store := &SqliteStore{db: db}
	if err := store.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// NewSqliteInMemory creates an in-memory database (useful for testing).
func NewSqliteInMemory() (*SqliteStore, error) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory SQLite: %w", err)
	}
	// Every pooled connection would otherwise get its own empty database.
	db.SetMaxOpenConns(1)

	store := &SqliteStore{db: db}
	if err := store.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SqliteStore) Close() error {
	return s.db.Close()
}

func (s *SqliteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS snapshots (
			research_id TEXT PRIMARY KEY,
			body TEXT NOT NULL,
			blocks INTEGER NOT NULL,
			completed INTEGER NOT NULL,
			tool_calls INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			saved_at TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_snapshots_updated
		ON snapshots(updated_at DESC);

		CREATE TABLE IF NOT EXISTS raw_answers (
			research_id TEXT NOT NULL,
			citation_id TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			content TEXT NOT NULL,
			summary TEXT NOT NULL,
			line_count INTEGER NOT NULL,
			byte_size INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			accessed_at INTEGER NOT NULL,
			access_count INTEGER DEFAULT 1,
			PRIMARY KEY (research_id, citation_id)
		);

		CREATE INDEX IF NOT EXISTS idx_raw_answers_hash
		ON raw_answers(content_hash);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Save implements SnapshotStore.
func (s *SqliteStore) Save(ctx context.Context, snap *research.Snapshot) error {
	body, err := research.MarshalSnapshot(snap)
	if err != nil {
		return err
	}
	info := infoOf(snap)

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO snapshots (research_id, body, blocks, completed, tool_calls, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(research_id) DO UPDATE SET
			body = excluded.body,
			blocks = excluded.blocks,
			completed = excluded.completed,
			tool_calls = excluded.tool_calls,
			updated_at = excluded.updated_at,
			saved_at = datetime('now')`,
		snap.ResearchID, string(body), info.Blocks, info.Completed, info.ToolCalls, snap.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// Load implements SnapshotStore.
func (s *SqliteStore) Load(ctx context.Context, researchID string) (*research.Snapshot, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		"SELECT body FROM snapshots WHERE research_id = ?", researchID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", researchID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshot: %w", err)
	}
	return research.UnmarshalSnapshot([]byte(body))
}

// List implements SnapshotStore.
func (s *SqliteStore) List(ctx context.Context) ([]SnapshotInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT research_id, blocks, completed, tool_calls, updated_at FROM snapshots ORDER BY updated_at DESC")
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	infos := []SnapshotInfo{} // Start with empty slice, not nil
	for rows.Next() {
		var info SnapshotInfo
		var updated int64
		if err := rows.Scan(&info.ResearchID, &info.Blocks, &info.Completed, &info.ToolCalls, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		info.UpdatedAt = time.Unix(0, updated).UTC()
		infos = append(infos, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshots: %w", err)
	}
	return infos, nil
}

// Delete implements SnapshotStore. Archived raw answers for the run go too.
func (s *SqliteStore) Delete(ctx context.Context, researchID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM snapshots WHERE research_id = ?", researchID); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM raw_answers WHERE research_id = ?", researchID); err != nil {
		return fmt.Errorf("failed to delete raw answers: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *SqliteStore) storeRaw(ctx context.Context, e ArchiveEntry, content string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO raw_answers
		(research_id, citation_id, content_hash, content, summary, line_count, byte_size, created_at, accessed_at, access_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Key.ResearchID, e.Key.CitationID, e.ContentHash, content, e.Summary,
		e.LineCount, e.ByteSize, e.CreatedAt.Unix(), e.AccessedAt.Unix(), e.AccessCount)
	if err != nil {
		return fmt.Errorf("failed to store raw answer: %w", err)
	}
	return nil
}

func (s *SqliteStore) loadRaw(ctx context.Context, key ArchiveKey) (*ArchiveEntry, string, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT content_hash, content, summary, line_count, byte_size, created_at, accessed_at, access_count
		FROM raw_answers WHERE research_id = ? AND citation_id = ?`,
		key.ResearchID, key.CitationID)

	var e ArchiveEntry
	var content string
	var created, accessed int64
	err := row.Scan(&e.ContentHash, &content, &e.Summary, &e.LineCount, &e.ByteSize, &created, &accessed, &e.AccessCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to query raw answer: %w", err)
	}
	e.Key = key
	e.CreatedAt = time.Unix(created, 0)
	e.AccessedAt = time.Unix(accessed, 0)
	return &e, content, nil
}

func (s *SqliteStore) touchRaw(ctx context.Context, key ArchiveKey) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE raw_answers SET accessed_at = ?, access_count = access_count + 1 WHERE research_id = ? AND citation_id = ?",
		time.Now().Unix(), key.ResearchID, key.CitationID)
	if err != nil {
		return fmt.Errorf("failed to update raw answer access: %w", err)
	}
	return nil
}

func (s *SqliteStore) listRaw(ctx context.Context, researchID string) ([]ArchiveEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT citation_id, content_hash, summary, line_count, byte_size, created_at, accessed_at, access_count
		FROM raw_answers WHERE research_id = ? ORDER BY citation_id`, researchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query raw answers: %w", err)
	}
	defer rows.Close()

	entries := []ArchiveEntry{}
	for rows.Next() {
		e := ArchiveEntry{Key: ArchiveKey{ResearchID: researchID}}
		var created, accessed int64
		if err := rows.Scan(&e.Key.CitationID, &e.ContentHash, &e.Summary, &e.LineCount, &e.ByteSize, &created, &accessed, &e.AccessCount); err != nil {
			return nil, fmt.Errorf("failed to scan raw answer: %w", err)
		}
		e.CreatedAt = time.Unix(created, 0)
		e.AccessedAt = time.Unix(accessed, 0)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating raw answers: %w", err)
	}
	return entries, nil
}

var _ SnapshotStore = (*SqliteStore)(nil)

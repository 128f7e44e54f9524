// Raw answer archive.
//
// Traces keep at most the configured raw answer size. When a trace is
// truncated the full answer is archived here, keyed by research id and
// citation id, so reports can still cite the complete source.
package storage

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/richinex/scout/internal/dsa"
)

// ArchiveKey identifies one archived answer.
type ArchiveKey struct {
	ResearchID string
	CitationID string
}

// ArchiveEntry describes an archived answer without its content.
type ArchiveEntry struct {
	Key         ArchiveKey `json:"key"`
	ContentHash string     `json:"content_hash"`
	Summary     string     `json:"summary"`
	LineCount   int        `json:"line_count"`
	ByteSize    int        `json:"byte_size"`
	CreatedAt   time.Time  `json:"created_at"`
	AccessedAt  time.Time  `json:"accessed_at"`
	AccessCount int        `json:"access_count"`
}

// ArchivedAnswer is an entry plus its full content.
type ArchivedAnswer struct {
	Entry   ArchiveEntry
	Content string
}

// LineRange selects lines of an archived answer (1-indexed, inclusive).
type LineRange struct {
	Start int
	End   int
}

// RawArchive stores full raw answers in SQLite.
type RawArchive struct {
	db            *SqliteStore
	summaryLength int
	summaryLines  int
}

// NewRawArchive creates an archive over db. The archive does not own db.
func NewRawArchive(db *SqliteStore) *RawArchive {
	return &RawArchive{
		db:            db,
		summaryLength: 200,
		summaryLines:  5,
	}
}

// Archive stores content under the research and citation ids.
func (a *RawArchive) Archive(ctx context.Context, researchID, citationID, content string) error {
	_, err := a.Store(ctx, ArchiveKey{ResearchID: researchID, CitationID: citationID}, content)
	return err
}

// Store saves content and returns its metadata.
func (a *RawArchive) Store(ctx context.Context, key ArchiveKey, content string) (ArchiveEntry, error) {
	now := time.Now()
	entry := ArchiveEntry{
		Key:         key,
		ContentHash: computeContentHash(content),
		Summary:     summarize(content, a.summaryLength, a.summaryLines),
		LineCount:   countLines(content),
		ByteSize:    len(content),
		CreatedAt:   now,
		AccessedAt:  now,
		AccessCount: 1,
	}
	if err := a.db.storeRaw(ctx, entry, content); err != nil {
		return ArchiveEntry{}, err
	}
	return entry, nil
}

// Get returns the archived answer, or nil if none exists.
func (a *RawArchive) Get(ctx context.Context, key ArchiveKey) (*ArchivedAnswer, error) {
	entry, content, err := a.db.loadRaw(ctx, key)
	if err != nil || entry == nil {
		return nil, err
	}

	if err := a.db.touchRaw(ctx, key); err != nil {
		fmt.Fprintf(os.Stderr, "storage: failed to update access tracking: %v\n", err)
	} else {
		entry.AccessCount++
		entry.AccessedAt = time.Now()
	}
	return &ArchivedAnswer{Entry: *entry, Content: content}, nil
}

// GetLines returns a line range of an archived answer.
func (a *RawArchive) GetLines(ctx context.Context, key ArchiveKey, r LineRange) (string, error) {
	answer, err := a.Get(ctx, key)
	if err != nil || answer == nil {
		return "", err
	}

	lines := strings.Split(answer.Content, "\n")
	start := r.Start - 1
	end := r.End
	if start < 0 {
		start = 0
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start >= end {
		return "", nil
	}
	return strings.Join(lines[start:end], "\n"), nil
}

// List returns the entries archived for a run, ordered by citation id.
func (a *RawArchive) List(ctx context.Context, researchID string) ([]ArchiveEntry, error) {
	return a.db.listRaw(ctx, researchID)
}

// Find returns the run's entries whose citation id starts with prefix,
// e.g. "CIT-3-" for every citation of the third block.
func (a *RawArchive) Find(ctx context.Context, researchID, prefix string) ([]ArchiveEntry, error) {
	entries, err := a.List(ctx, researchID)
	if err != nil {
		return nil, err
	}
	idx := dsa.NewPrefixIndex[ArchiveEntry]()
	for _, e := range entries {
		idx.Insert(e.Key.CitationID, e)
	}
	return idx.WithPrefix(prefix), nil
}

// Search returns the lines of an archived answer containing pattern.
// A missing answer yields no matches. limit <= 0 means no limit.
func (a *RawArchive) Search(ctx context.Context, key ArchiveKey, pattern string, limit int) ([]dsa.LineMatch, error) {
	answer, err := a.Get(ctx, key)
	if err != nil || answer == nil {
		return nil, err
	}
	return dsa.NewTextIndex(answer.Content).MatchingLines(pattern, limit), nil
}

// computeContentHash uses xxHash for fast content hashing.
func computeContentHash(content string) string {
	h := xxhash.Sum64String(content)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], h)
	return hex.EncodeToString(buf[:])
}

// summarize keeps the first maxLines lines, capped at maxLen bytes.
func summarize(content string, maxLen, maxLines int) string {
	lines := strings.SplitN(content, "\n", maxLines+1)
	if len(lines) > maxLines {
		lines = lines[:maxLines]
	}
	s := strings.Join(lines, "\n")
	if len(s) > maxLen {
		s = s[:maxLen] + "..."
	}
	return s
}

func countLines(content string) int {
	if content == "" {
		return 0
	}
	n := strings.Count(content, "\n")
	if !strings.HasSuffix(content, "\n") {
		n++
	}
	return n
}

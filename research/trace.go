package research

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// DefaultMaxRawAnswer is the raw answer ceiling used when none is configured.
const DefaultMaxRawAnswer = 50 * 1024

const (
	listKeep        = 5
	stringValueKeep = 1000
	fallbackReserve = 50
	valueMarker     = "... [truncated]"
	tailMarker      = "\n... [truncated]"
)

// ToolTrace records one tool invocation made while researching a block.
// Traces are immutable once appended to a block.
type ToolTrace struct {
	ToolID       string         `json:"tool_id"`
	CitationID   string         `json:"citation_id"`
	ToolType     string         `json:"tool_type"`
	Query        string         `json:"query"`
	RawAnswer    string         `json:"raw_answer"`
	Summary      string         `json:"summary"`
	Timestamp    time.Time      `json:"timestamp"`
	Truncated    bool           `json:"truncated"`
	OriginalSize int            `json:"original_size"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// NewToolTrace builds a trace, truncating raw to maxSize bytes when needed.
// OriginalSize is zero unless truncation happened.
func NewToolTrace(toolID, citationID, toolType, query, raw, summary string, maxSize int) ToolTrace {
	out, truncated := TruncateRaw(raw, maxSize)
	trace := ToolTrace{
		ToolID:     toolID,
		CitationID: citationID,
		ToolType:   toolType,
		Query:      query,
		RawAnswer:  out,
		Summary:    summary,
		Timestamp:  time.Now().UTC(),
		Truncated:  truncated,
		Metadata:   map[string]any{},
	}
	if truncated {
		trace.OriginalSize = len(raw)
	}
	return trace
}

// TruncateRaw shrinks raw to at most max bytes, keeping JSON structure where
// it can. Lists keep their first five items plus a marker item; objects keep
// every key with long string values shortened. Either is hard-cut at max if
// still too big. Anything else is cut with a trailing marker. Inputs already within max are returned unchanged, so
// truncating a truncated answer again is a no-op.
func TruncateRaw(raw string, max int) (string, bool) {
	if max <= 0 {
		max = DefaultMaxRawAnswer
	}
	if len(raw) <= max {
		return raw, false
	}

	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var parsed any
	if err := dec.Decode(&parsed); err == nil && !dec.More() {
		switch v := parsed.(type) {
		case []any:
			if len(v) > listKeep {
				kept := append(v[:listKeep:listKeep], map[string]any{
					"_truncated": fmt.Sprintf("... %d more items", len(v)-listKeep),
				})
				if out, err := encodeJSON(kept); err == nil {
					return cutBytes(out, max), true
				}
			}
		case map[string]any:
			for k, val := range v {
				if s, ok := val.(string); ok && utf8.RuneCountInString(s) > stringValueKeep {
					v[k] = string([]rune(s)[:stringValueKeep]) + valueMarker
				}
			}
			if out, err := encodeJSON(v); err == nil {
				return cutBytes(out, max), true
			}
		}
	}

	if max <= len(tailMarker) {
		return cutBytes(raw, max), true
	}
	keep := max - fallbackReserve
	if keep < 0 {
		keep = 0
	}
	return cutBytes(raw, keep) + tailMarker, true
}

// encodeJSON marshals without HTML escaping so sizes match the source text.
func encodeJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// cutBytes returns the longest prefix of s within n bytes on a rune boundary.
func cutBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 0 {
		return ""
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Citations allocates tool and citation ids for one research run.
// The sequence is shared by every block in the run and restarts on Reset.
type Citations struct {
	mu  sync.Mutex
	seq int
}

// Next returns the ids for the next trace on blockID.
func (c *Citations) Next(blockID string) (toolID, citationID string) {
	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.mu.Unlock()

	num := BlockOrdinal(blockID)
	return fmt.Sprintf("tool_%s_%d", num, seq), fmt.Sprintf("CIT-%s-%02d", num, seq)
}

// Reset restarts the sequence.
func (c *Citations) Reset() {
	c.mu.Lock()
	c.seq = 0
	c.mu.Unlock()
}

// Seed continues numbering after the highest citation already present, so
// resumed runs never reuse an id.
func (c *Citations) Seed(traces []ToolTrace) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range traces {
		i := strings.LastIndex(t.CitationID, "-")
		if i < 0 {
			continue
		}
		if n, err := strconv.Atoi(t.CitationID[i+1:]); err == nil && n > c.seq {
			c.seq = n
		}
	}
}

// BlockOrdinal returns the numeric part of a "block_<n>" id.
func BlockOrdinal(blockID string) string {
	return strings.TrimPrefix(blockID, blockIDPrefix)
}

package research

import (
	"encoding/json"
	"strings"
	"time"
)

// BlockStatus is the lifecycle state of a topic block.
type BlockStatus string

const (
	StatusPending     BlockStatus = "pending"
	StatusResearching BlockStatus = "researching"
	StatusCompleted   BlockStatus = "completed"
	StatusFailed      BlockStatus = "failed"
)

// Valid reports whether s is a known status.
func (s BlockStatus) Valid() bool {
	switch s {
	case StatusPending, StatusResearching, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s BlockStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// DefaultPriority is assigned to blocks added without a priority.
// Lower numbers are more urgent.
const DefaultPriority = 5

const blockIDPrefix = "block_"

// Metadata carries scheduling hints and free-form extras for a block.
// Extra keys are flattened alongside the known keys when serialised.
type Metadata struct {
	Priority     int
	Dependencies []string
	ToolsNeeded  []string
	Symbols      []string
	Extra        map[string]any
}

var knownMetadataKeys = map[string]bool{
	"priority": true, "dependencies": true, "tools_needed": true, "symbols": true,
}

// MarshalJSON flattens Extra into the object.
func (m Metadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+4)
	for k, v := range m.Extra {
		if !knownMetadataKeys[k] {
			out[k] = v
		}
	}
	out["priority"] = m.Priority
	if len(m.Dependencies) > 0 {
		out["dependencies"] = m.Dependencies
	}
	if len(m.ToolsNeeded) > 0 {
		out["tools_needed"] = m.ToolsNeeded
	}
	if len(m.Symbols) > 0 {
		out["symbols"] = m.Symbols
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads the known keys and keeps the rest in Extra.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var known struct {
		Priority     *int     `json:"priority"`
		Dependencies []string `json:"dependencies"`
		ToolsNeeded  []string `json:"tools_needed"`
		Symbols      []string `json:"symbols"`
	}
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}

	*m = Metadata{
		Priority:     DefaultPriority,
		Dependencies: known.Dependencies,
		ToolsNeeded:  known.ToolsNeeded,
		Symbols:      known.Symbols,
	}
	if known.Priority != nil {
		m.Priority = *known.Priority
	}
	for k, v := range all {
		if knownMetadataKeys[k] {
			continue
		}
		if m.Extra == nil {
			m.Extra = make(map[string]any)
		}
		m.Extra[k] = v
	}
	return nil
}

func (m Metadata) clone() Metadata {
	out := Metadata{
		Priority:     m.Priority,
		Dependencies: append([]string(nil), m.Dependencies...),
		ToolsNeeded:  append([]string(nil), m.ToolsNeeded...),
		Symbols:      append([]string(nil), m.Symbols...),
	}
	if m.Extra != nil {
		out.Extra = make(map[string]any, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// TopicBlock is one unit of research work owned by a Queue.
type TopicBlock struct {
	BlockID        string      `json:"block_id"`
	SubTopic       string      `json:"sub_topic"`
	Overview       string      `json:"overview"`
	Status         BlockStatus `json:"status"`
	ToolTraces     []ToolTrace `json:"tool_traces"`
	IterationCount int         `json:"iteration_count"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	Metadata       Metadata    `json:"metadata"`
}

// AddToolTrace appends a trace and touches UpdatedAt.
func (b *TopicBlock) AddToolTrace(t ToolTrace) {
	b.ToolTraces = append(b.ToolTraces, t)
	b.UpdatedAt = time.Now().UTC()
}

// LatestTrace returns the most recent trace, or nil.
func (b *TopicBlock) LatestTrace() *ToolTrace {
	if len(b.ToolTraces) == 0 {
		return nil
	}
	return &b.ToolTraces[len(b.ToolTraces)-1]
}

// Summaries joins the non-empty trace summaries with blank lines.
func (b *TopicBlock) Summaries() string {
	parts := make([]string, 0, len(b.ToolTraces))
	for _, t := range b.ToolTraces {
		if t.Summary != "" {
			parts = append(parts, t.Summary)
		}
	}
	return strings.Join(parts, "\n\n")
}

// TracesByTool returns the traces recorded for toolType.
func (b *TopicBlock) TracesByTool(toolType string) []ToolTrace {
	var out []ToolTrace
	for _, t := range b.ToolTraces {
		if t.ToolType == toolType {
			out = append(out, t)
		}
	}
	return out
}

// Clone returns a deep copy safe to hand outside the queue lock.
func (b *TopicBlock) Clone() *TopicBlock {
	c := *b
	c.ToolTraces = make([]ToolTrace, len(b.ToolTraces))
	for i, t := range b.ToolTraces {
		c.ToolTraces[i] = t
		if t.Metadata != nil {
			c.ToolTraces[i].Metadata = make(map[string]any, len(t.Metadata))
			for k, v := range t.Metadata {
				c.ToolTraces[i].Metadata[k] = v
			}
		}
	}
	c.Metadata = b.Metadata.clone()
	return &c
}

func normalizeTopic(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

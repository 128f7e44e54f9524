// Package research holds the topic queue and the trace model of a research run.
//
// Information Hiding:
// - Block storage, id allocation and deduplication hidden inside Queue
// - Persistence target hidden behind the Persister interface
// - Truncation policy for raw tool answers hidden in TruncateRaw
package research

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrUnknownBlock is returned for operations on a block id the queue does not hold.
var ErrUnknownBlock = errors.New("unknown block")

// Persister receives a full snapshot after every queue mutation.
// Implementations must write the snapshot atomically.
type Persister interface {
	Persist(snap *Snapshot) error
}

// PersisterFunc adapts a function to Persister.
type PersisterFunc func(snap *Snapshot) error

// Persist implements Persister.
func (f PersisterFunc) Persist(snap *Snapshot) error { return f(snap) }

// Stats summarises a queue for reporting and loop termination.
type Stats struct {
	ResearchID     string    `json:"research_id"`
	TotalBlocks    int       `json:"total_blocks"`
	Pending        int       `json:"pending"`
	Researching    int       `json:"researching"`
	Completed      int       `json:"completed"`
	Failed         int       `json:"failed"`
	TotalToolCalls int       `json:"total_tool_calls"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Queue is the ordered, append-only set of topic blocks for one research run.
// Blocks are never removed; ids are never reused.
// Safe for concurrent use, though a run drives it from a single goroutine.
type Queue struct {
	mu sync.Mutex

	researchID   string
	objective    string
	symbols      []string
	blocks       []*TopicBlock
	blockCounter int
	maxLength    int // 0 means unbounded
	createdAt    time.Time
	updatedAt    time.Time

	persister Persister
	logger    *zap.Logger
}

// NewQueue creates an empty queue. maxLength <= 0 means unbounded.
func NewQueue(researchID string, maxLength int) *Queue {
	if maxLength < 0 {
		maxLength = 0
	}
	now := time.Now().UTC()
	return &Queue{
		researchID: researchID,
		maxLength:  maxLength,
		createdAt:  now,
		updatedAt:  now,
		logger:     zap.NewNop(),
	}
}

// WithPersister sets the target written after every mutation.
func (q *Queue) WithPersister(p Persister) *Queue {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.persister = p
	return q
}

// WithLogger sets the logger for rejected inserts and persistence failures.
func (q *Queue) WithLogger(logger *zap.Logger) *Queue {
	if logger != nil {
		q.logger = logger
	}
	return q
}

// ResearchID returns the run identifier.
func (q *Queue) ResearchID() string {
	return q.researchID
}

// SetRun records the run's objective and target symbols. They are
// persisted with the queue so a resumed run sees the same values.
func (q *Queue) SetRun(objective string, symbols []string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.objective = objective
	q.symbols = append([]string(nil), symbols...)
	q.persistLocked()
}

// Objective returns the recorded research objective.
func (q *Queue) Objective() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.objective
}

// Symbols returns a copy of the run's target symbols.
func (q *Queue) Symbols() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.symbols...)
}

// MaxLength returns the capacity, 0 when unbounded.
func (q *Queue) MaxLength() int {
	return q.maxLength
}

// Len returns the number of blocks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.blocks)
}

// AddBlock appends a new pending block. It returns nil when the queue is at
// capacity or a block with the same normalised sub-topic already exists.
// A zero priority becomes DefaultPriority.
func (q *Queue) AddBlock(subTopic, overview string, meta Metadata) *TopicBlock {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.maxLength > 0 && len(q.blocks) >= q.maxLength {
		q.logger.Warn("queue_at_capacity",
			zap.Int("max_length", q.maxLength),
			zap.String("sub_topic", subTopic))
		return nil
	}
	if q.hasTopicLocked(subTopic) {
		q.logger.Debug("topic_already_queued", zap.String("sub_topic", subTopic))
		return nil
	}

	meta = meta.clone()
	if meta.Priority == 0 {
		meta.Priority = DefaultPriority
	}

	q.blockCounter++
	now := time.Now().UTC()
	block := &TopicBlock{
		BlockID:    fmt.Sprintf("%s%d", blockIDPrefix, q.blockCounter),
		SubTopic:   subTopic,
		Overview:   overview,
		Status:     StatusPending,
		ToolTraces: []ToolTrace{},
		CreatedAt:  now,
		UpdatedAt:  now,
		Metadata:   meta,
	}
	q.blocks = append(q.blocks, block)
	q.updatedAt = now
	q.persistLocked()

	q.logger.Debug("topic_block_added",
		zap.String("block_id", block.BlockID),
		zap.String("sub_topic", subTopic))
	return block.Clone()
}

// HasTopic reports whether a block with the same normalised sub-topic exists.
func (q *Queue) HasTopic(subTopic string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.hasTopicLocked(subTopic)
}

func (q *Queue) hasTopicLocked(subTopic string) bool {
	want := normalizeTopic(subTopic)
	for _, b := range q.blocks {
		if normalizeTopic(b.SubTopic) == want {
			return true
		}
	}
	return false
}

// Get returns a copy of the block with id.
func (q *Queue) Get(id string) (*TopicBlock, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	b := q.findLocked(id)
	if b == nil {
		return nil, false
	}
	return b.Clone(), true
}

func (q *Queue) findLocked(id string) *TopicBlock {
	for _, b := range q.blocks {
		if b.BlockID == id {
			return b
		}
	}
	return nil
}

// Blocks returns copies of every block in insertion order.
func (q *Queue) Blocks() []*TopicBlock {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.filterLocked(func(*TopicBlock) bool { return true })
}

// Pending returns copies of the pending blocks in insertion order.
func (q *Queue) Pending() []*TopicBlock {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.filterLocked(func(b *TopicBlock) bool { return b.Status == StatusPending })
}

// Completed returns copies of the completed blocks in insertion order.
func (q *Queue) Completed() []*TopicBlock {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.filterLocked(func(b *TopicBlock) bool { return b.Status == StatusCompleted })
}

func (q *Queue) filterLocked(keep func(*TopicBlock) bool) []*TopicBlock {
	out := make([]*TopicBlock, 0, len(q.blocks))
	for _, b := range q.blocks {
		if keep(b) {
			out = append(out, b.Clone())
		}
	}
	return out
}

// MarkResearching moves a block to researching. False for an unknown id.
func (q *Queue) MarkResearching(id string) bool {
	return q.setStatus(id, StatusResearching)
}

// MarkCompleted moves a block to completed. False for an unknown id.
func (q *Queue) MarkCompleted(id string) bool {
	return q.setStatus(id, StatusCompleted)
}

// MarkFailed moves a block to failed. False for an unknown id.
func (q *Queue) MarkFailed(id string) bool {
	return q.setStatus(id, StatusFailed)
}

func (q *Queue) setStatus(id string, status BlockStatus) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	b := q.findLocked(id)
	if b == nil {
		return false
	}
	b.Status = status
	b.UpdatedAt = time.Now().UTC()
	q.updatedAt = b.UpdatedAt
	q.persistLocked()
	return true
}

// AppendTrace adds a trace to the block with id.
func (q *Queue) AppendTrace(id string, trace ToolTrace) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	b := q.findLocked(id)
	if b == nil {
		return fmt.Errorf("append trace to %s: %w", id, ErrUnknownBlock)
	}
	b.AddToolTrace(trace)
	q.updatedAt = b.UpdatedAt
	q.persistLocked()
	return nil
}

// SetIterationCount records how many research iterations a block has used.
func (q *Queue) SetIterationCount(id string, n int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	b := q.findLocked(id)
	if b == nil {
		return fmt.Errorf("set iteration count on %s: %w", id, ErrUnknownBlock)
	}
	b.IterationCount = n
	b.UpdatedAt = time.Now().UTC()
	q.updatedAt = b.UpdatedAt
	q.persistLocked()
	return nil
}

// NextEligible returns the most urgent pending block whose dependencies are
// all completed sub-topics. Ties keep insertion order. When no pending block
// has its dependencies met it falls back to the most urgent pending block.
// Nil only when nothing is pending.
func (q *Queue) NextEligible() *TopicBlock {
	q.mu.Lock()
	defer q.mu.Unlock()

	var pending []*TopicBlock
	completed := make(map[string]bool)
	for _, b := range q.blocks {
		switch b.Status {
		case StatusPending:
			pending = append(pending, b)
		case StatusCompleted:
			completed[normalizeTopic(b.SubTopic)] = true
		}
	}
	if len(pending) == 0 {
		return nil
	}

	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].Metadata.Priority < pending[j].Metadata.Priority
	})

	for _, b := range pending {
		if dependenciesMet(b, completed) {
			return b.Clone()
		}
	}
	return pending[0].Clone()
}

func dependenciesMet(b *TopicBlock, completed map[string]bool) bool {
	for _, dep := range b.Metadata.Dependencies {
		if !completed[normalizeTopic(dep)] {
			return false
		}
	}
	return true
}

// Statistics summarises the queue.
func (q *Queue) Statistics() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := Stats{
		ResearchID:  q.researchID,
		TotalBlocks: len(q.blocks),
		CreatedAt:   q.createdAt,
		UpdatedAt:   q.updatedAt,
	}
	for _, b := range q.blocks {
		s.TotalToolCalls += len(b.ToolTraces)
		switch b.Status {
		case StatusPending:
			s.Pending++
		case StatusResearching:
			s.Researching++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}

// AllSummaries renders the trace summaries of every completed block that has
// traces, one "## <sub-topic>" section per block.
func (q *Queue) AllSummaries() string {
	q.mu.Lock()
	defer q.mu.Unlock()

	var sections []string
	for _, b := range q.blocks {
		if b.Status != StatusCompleted || len(b.ToolTraces) == 0 {
			continue
		}
		sections = append(sections, fmt.Sprintf("## %s\n\n%s", b.SubTopic, b.Summaries()))
	}
	return strings.Join(sections, "\n\n---\n\n")
}

// RecoverInterrupted marks blocks left researching by an interrupted run as
// failed and returns their ids. Blocks never return to pending.
func (q *Queue) RecoverInterrupted() []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	var ids []string
	now := time.Now().UTC()
	for _, b := range q.blocks {
		if b.Status == StatusResearching {
			b.Status = StatusFailed
			b.UpdatedAt = now
			ids = append(ids, b.BlockID)
		}
	}
	if len(ids) > 0 {
		q.updatedAt = now
		q.persistLocked()
	}
	return ids
}

// Persist writes the current state to the configured persister, if any.
func (q *Queue) Persist() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.persister == nil {
		return nil
	}
	return q.persister.Persist(q.snapshotLocked())
}

// persistLocked writes synchronously. Failures are logged, not returned.
func (q *Queue) persistLocked() {
	if q.persister == nil {
		return
	}
	if err := q.persister.Persist(q.snapshotLocked()); err != nil {
		q.logger.Error("queue_persist_failed",
			zap.String("research_id", q.researchID),
			zap.Error(err))
	}
}

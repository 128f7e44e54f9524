// Package events publishes research progress.
//
// Information Hiding:
// - Delivery mechanism hidden behind the Sink interface
// - NATS connection handling hidden inside NATSSink
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/richinex/scout/internal/logging"
)

// Type names one kind of progress event.
type Type string

const (
	Started          Type = "started"
	StageStart       Type = "stage_start"
	StageComplete    Type = "stage_complete"
	ResearchStart    Type = "research_start"
	ResearchComplete Type = "research_complete"
	ResearchFailed   Type = "research_failed"
	ToolCall         Type = "tool_call"
	Round            Type = "round"
	Completed        Type = "completed"
)

// Pipeline stages.
const (
	StageDecompose = "decompose"
	StageResearch  = "research"
	StageReport    = "report"
)

// Event is one progress notification.
type Event struct {
	Type       Type           `json:"type"`
	ResearchID string         `json:"research_id"`
	Stage      string         `json:"stage,omitempty"`
	BlockID    string         `json:"block_id,omitempty"`
	SubTopic   string         `json:"sub_topic,omitempty"`
	ToolType   string         `json:"tool_type,omitempty"`
	Status     string         `json:"status,omitempty"`
	Message    string         `json:"message,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Sink receives events. Emit must not block the research loop for long
// and never fails the caller.
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event)

// Emit implements Sink.
func (f SinkFunc) Emit(ctx context.Context, e Event) { f(ctx, e) }

// Nop discards events.
type Nop struct{}

// Emit implements Sink.
func (Nop) Emit(context.Context, Event) {}

// Multi fans an event out to every sink in order.
type Multi []Sink

// Emit implements Sink.
func (m Multi) Emit(ctx context.Context, e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, e)
		}
	}
}

// Stamp fills the timestamp if unset.
func Stamp(e Event) Event {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	return e
}

// LogSink writes events to a zap logger at Info, failures at Warn.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a log sink.
func NewLogSink(logger *zap.Logger) *LogSink {
	logger = logging.OrNop(logger)
	return &LogSink{logger: logger}
}

// Emit implements Sink.
func (s *LogSink) Emit(_ context.Context, e Event) {
	fields := []zap.Field{
		zap.String("event", string(e.Type)),
		zap.String("research_id", e.ResearchID),
	}
	if e.Stage != "" {
		fields = append(fields, zap.String("stage", e.Stage))
	}
	if e.BlockID != "" {
		fields = append(fields, zap.String("block_id", e.BlockID), zap.String("sub_topic", e.SubTopic))
	}
	if e.ToolType != "" {
		fields = append(fields, zap.String("tool_type", e.ToolType))
	}
	if e.Status != "" {
		fields = append(fields, zap.String("status", e.Status))
	}
	if len(e.Data) > 0 {
		fields = append(fields, zap.Any("data", e.Data))
	}

	if e.Type == ResearchFailed {
		s.logger.Warn(e.Message, fields...)
		return
	}
	s.logger.Info(e.Message, fields...)
}

// ChannelSink buffers events for a streaming consumer. When the buffer is
// full new events are dropped and counted.
type ChannelSink struct {
	mu      sync.RWMutex
	ch      chan Event
	closed  bool
	dropped atomic.Int64
}

// NewChannelSink creates a sink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelSink{ch: make(chan Event, buffer)}
}

// Events returns the receive side.
func (s *ChannelSink) Events() <-chan Event {
	return s.ch
}

// Dropped returns how many events were discarded.
func (s *ChannelSink) Dropped() int64 {
	return s.dropped.Load()
}

// Emit implements Sink.
func (s *ChannelSink) Emit(_ context.Context, e Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- Stamp(e):
	default:
		s.dropped.Add(1)
	}
}

// Close closes the channel. Later Emits are ignored.
func (s *ChannelSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

var (
	_ Sink = Nop{}
	_ Sink = Multi(nil)
	_ Sink = (*LogSink)(nil)
	_ Sink = (*ChannelSink)(nil)
)

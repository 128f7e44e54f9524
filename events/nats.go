package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/richinex/scout/internal/logging"
)

// DefaultSubject is the subject prefix events are published under.
// The event type is appended, e.g. "scout.events.tool_call".
const DefaultSubject = "scout.events"

// Publisher is the part of a NATS connection the sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes events as JSON.
type NATSSink struct {
	pub     Publisher
	conn    *nats.Conn
	subject string
	logger  *zap.Logger
}

// NewNATSSink publishes through pub.
func NewNATSSink(pub Publisher, subject string) *NATSSink {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATSSink{pub: pub, subject: subject, logger: zap.NewNop()}
}

// NATSOptions tunes the connection made by ConnectNATS.
type NATSOptions struct {
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
}

// ConnectNATS dials url and returns a sink that owns the connection.
func ConnectNATS(url, subject string, opts NATSOptions, logger *zap.Logger) (*NATSSink, error) {
	logger = logging.OrNop(logger)
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 2 * time.Second
	}
	if opts.ReconnectWait <= 0 {
		opts.ReconnectWait = 2 * time.Second
	}
	if opts.MaxReconnects <= 0 {
		opts.MaxReconnects = 60
	}

	conn, err := nats.Connect(
		url,
		nats.Name("scout"),
		nats.Timeout(opts.ConnectTimeout),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats_disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats_reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	sink := NewNATSSink(conn, subject).WithLogger(logger)
	sink.conn = conn
	return sink, nil
}

// WithLogger sets the logger for publish failures.
func (s *NATSSink) WithLogger(logger *zap.Logger) *NATSSink {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Subject returns the subject an event type is published on.
func (s *NATSSink) Subject(t Type) string {
	return s.subject + "." + string(t)
}

// Emit implements Sink. Publish failures are logged and dropped.
func (s *NATSSink) Emit(_ context.Context, e Event) {
	data, err := json.Marshal(Stamp(e))
	if err != nil {
		s.logger.Warn("event_encode_failed", zap.String("event", string(e.Type)), zap.Error(err))
		return
	}
	if err := s.pub.Publish(s.Subject(e.Type), data); err != nil {
		s.logger.Warn("nats_publish_failed", zap.String("event", string(e.Type)), zap.Error(err))
	}
}

// Close drains and closes an owned connection.
func (s *NATSSink) Close() error {
	if s.conn == nil {
		return nil
	}
	if err := s.conn.Drain(); err != nil {
		s.conn.Close()
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}

var _ Sink = (*NATSSink)(nil)

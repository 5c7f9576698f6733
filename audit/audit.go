// Package audit records authentication outcome events. Sinks are injected
// into the components that emit events, so tests can substitute a
// capturing sink without any package-level state.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event is a single authentication outcome.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Method    string    `json:"method,omitempty"`
	UserID    string    `json:"user,omitempty"`
	TokenID   string    `json:"tokenId,omitempty"`
	IP        string    `json:"ip,omitempty"`
	Success   bool      `json:"success"`
	Reason    string    `json:"reason,omitempty"`
}

// Sink receives audit events. Delivery guarantees are the sink's concern;
// emitters never block on or inspect the outcome.
type Sink interface {
	Record(ctx context.Context, ev Event)
}

// LogSink writes events as structured log lines.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a sink logging through the given zerolog logger.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Record implements Sink.
func (s *LogSink) Record(_ context.Context, ev Event) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	s.logger.Info().
		Str("audit_id", ev.ID).
		Time("ts", ev.Timestamp).
		Str("action", ev.Action).
		Str("method", ev.Method).
		Str("user", ev.UserID).
		Str("token_id", ev.TokenID).
		Str("ip", ev.IP).
		Bool("success", ev.Success).
		Str("reason", ev.Reason).
		Msg("audit event")
}

// NopSink discards all events.
type NopSink struct{}

// Record implements Sink.
func (NopSink) Record(context.Context, Event) {}

var (
	_ Sink = (*LogSink)(nil)
	_ Sink = NopSink{}
)

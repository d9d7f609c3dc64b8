package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Alert is the notification published for a security event that needs a
// human or an automated responder: token reuse, account lockout, forced
// session revocation.
type Alert struct {
	EventID   string            `json:"event_id"`
	Action    string            `json:"action"`
	Timestamp time.Time         `json:"timestamp"`
	UserID    string            `json:"user_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	FamilyID  string            `json:"family_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Sink delivers alerts. Deliver may block on I/O; the dispatcher calls it
// from a single goroutine.
type Sink interface {
	Deliver(ctx context.Context, alert Alert) error
}

// NoOpSink drops alerts.
type NoOpSink struct{}

func (NoOpSink) Deliver(context.Context, Alert) error { return nil }

// ChannelSink writes alerts into a buffered channel.
type ChannelSink struct {
	alerts chan Alert
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		alerts: make(chan Alert, buffer),
	}
}

func (s *ChannelSink) Deliver(ctx context.Context, alert Alert) error {
	select {
	case s.alerts <- alert:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ChannelSink) Alerts() <-chan Alert {
	return s.alerts
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Deliver(_ context.Context, alert Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.writer.Write(data)
	return err
}

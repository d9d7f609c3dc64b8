package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestDispatcherDeliversInOrder(t *testing.T) {
	sink := NewChannelSink(8)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink, nil)

	for _, action := range []string{"REUSE_DETECTED", "ACCOUNT_LOCKED"} {
		d.Send(context.Background(), Alert{Action: action})
	}
	d.Close()

	first := <-sink.Alerts()
	second := <-sink.Alerts()
	if first.Action != "REUSE_DETECTED" || second.Action != "ACCOUNT_LOCKED" {
		t.Fatalf("unexpected order: %s, %s", first.Action, second.Action)
	}
	if d.Delivered() != 2 {
		t.Fatalf("expected 2 delivered, got %d", d.Delivered())
	}
}

type blockingSink struct {
	release chan struct{}
}

func (s *blockingSink) Deliver(ctx context.Context, _ Alert) error {
	select {
	case <-s.release:
	case <-ctx.Done():
	}
	return nil
}

func TestDispatcherDropIfFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink, nil)

	for i := 0; i < 10; i++ {
		d.Send(context.Background(), Alert{Action: "X"})
	}
	if d.Dropped() == 0 {
		t.Fatal("expected drops when the buffer is full")
	}
	close(sink.release)
	d.Close()
}

type failingSink struct{}

func (failingSink) Deliver(context.Context, Alert) error { return errors.New("broker down") }

func TestDispatcherReportsFailures(t *testing.T) {
	var (
		mu     sync.Mutex
		failed []string
	)
	d := NewDispatcher(Config{Enabled: true, BufferSize: 4, DeliverTimeout: time.Second}, failingSink{}, func(a Alert, err error) {
		mu.Lock()
		failed = append(failed, a.Action)
		mu.Unlock()
	})
	d.Send(context.Background(), Alert{Action: "SESSION_REVOKED"})
	d.Close()

	if d.Failed() != 1 || len(failed) != 1 || failed[0] != "SESSION_REVOKED" {
		t.Fatalf("expected one failure callback, got failed=%d cb=%v", d.Failed(), failed)
	}
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	d := NewDispatcher(Config{}, NoOpSink{}, nil)
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Send(context.Background(), Alert{})
	d.Close()
	if d.Dropped() != 0 {
		t.Fatal("nil dispatcher must report zero drops")
	}
}

func TestJSONWriterSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	if err := sink.Deliver(context.Background(), Alert{Action: "ACCOUNT_LOCKED", UserID: "u1"}); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	var got Alert
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Action != "ACCOUNT_LOCKED" || got.UserID != "u1" {
		t.Fatalf("unexpected alert: %+v", got)
	}
}

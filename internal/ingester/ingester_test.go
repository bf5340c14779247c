package ingester

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/MikeSquared-Agency/parley/internal/batcher"
	"github.com/MikeSquared-Agency/parley/internal/testutil"
)

func newTestBatcher(ms *testutil.MockStore) *batcher.Batcher {
	return batcher.New(ms, batcher.Config{
		FlushInterval:  1 * time.Hour,
		FlushThreshold: 1000,
		BufferMax:      10000,
	})
}

func TestHandleMessage_BuffersNormalizedEvent(t *testing.T) {
	ms := testutil.NewMockStore()
	bat := newTestBatcher(ms)
	ing := &Ingester{batcher: bat}

	payload, _ := json.Marshal(map[string]any{
		"id":           "e-1",
		"author":       "planner",
		"invocationId": "inv-1",
		"timestamp":    1700000000.5,
		"content":      map[string]any{"parts": []map[string]any{{"text": "hello"}}},
	})

	msg := &fakeMsg{subject: "swarm.session.events.sess-42", data: payload}
	ing.handleMessage(msg)

	if !msg.acked {
		t.Error("expected message to be acked")
	}
	if bat.BufferLen() != 1 {
		t.Fatalf("expected 1 buffered event, got %d", bat.BufferLen())
	}
}

func TestHandleMessage_SessionIDFromSubject(t *testing.T) {
	ms := testutil.NewMockStore()
	// Threshold of 1 flushes each event straight through to the store.
	bat := batcher.New(ms, batcher.Config{
		FlushInterval:  1 * time.Hour,
		FlushThreshold: 1,
		BufferMax:      10000,
	})
	ing := &Ingester{batcher: bat}

	payload, _ := json.Marshal(map[string]any{
		"id":        "e-1",
		"author":    "planner",
		"timestamp": 1.0,
	})
	ing.handleMessage(&fakeMsg{subject: "swarm.session.events.sess-42", data: payload})

	deadline := time.Now().Add(2 * time.Second)
	for ms.GetEventCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("event never flushed to the store")
		}
		time.Sleep(2 * time.Millisecond)
	}

	evts, _ := ms.EventsForSession(context.Background(), "sess-42")
	if len(evts) != 1 {
		t.Fatalf("expected the event filed under sess-42, got %d", len(evts))
	}
	if evts[0].InvocationID != "sess-42" {
		t.Errorf("expected invocation id to inherit the session, got %q", evts[0].InvocationID)
	}
}

func TestHandleMessage_MalformedPayloadAckedAndSkipped(t *testing.T) {
	ms := testutil.NewMockStore()
	bat := newTestBatcher(ms)
	ing := &Ingester{batcher: bat}

	msg := &fakeMsg{subject: "swarm.session.events.sess-1", data: []byte("not json")}
	ing.handleMessage(msg)

	if !msg.acked {
		t.Error("expected malformed message to be acked to stop redelivery")
	}
	if bat.BufferLen() != 0 {
		t.Errorf("expected nothing buffered, got %d", bat.BufferLen())
	}
}

func TestSessionIDFromSubject(t *testing.T) {
	tests := []struct {
		subject string
		want    string
	}{
		{"swarm.session.events.sess-42", "sess-42"},
		{"swarm.session.events.a.b", "b"},
		{"nosubject", ""},
		{"trailing.", ""},
	}

	for _, tt := range tests {
		if got := sessionIDFromSubject(tt.subject); got != tt.want {
			t.Errorf("%s: expected %q, got %q", tt.subject, tt.want, got)
		}
	}
}

type fakeMsg struct {
	subject string
	data    []byte
	acked   bool
}

func (m *fakeMsg) Data() []byte                       { return m.data }
func (m *fakeMsg) Subject() string                    { return m.subject }
func (m *fakeMsg) Ack() error                         { m.acked = true; return nil }
func (m *fakeMsg) Nak() error                         { return nil }
func (m *fakeMsg) NakWithDelay(d time.Duration) error { return nil }
func (m *fakeMsg) InProgress() error                  { return nil }
func (m *fakeMsg) Term() error                        { return nil }
func (m *fakeMsg) TermWithReason(reason string) error { return nil }
func (m *fakeMsg) Metadata() (*jetstream.MsgMetadata, error) {
	return nil, nil
}
func (m *fakeMsg) Headers() nats.Header                { return nil }
func (m *fakeMsg) Reply() string                       { return "" }
func (m *fakeMsg) DoubleAck(ctx context.Context) error { return nil }

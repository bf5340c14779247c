package manager

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/parley/internal/events"
	"github.com/MikeSquared-Agency/parley/internal/sessionctx"
	"github.com/MikeSquared-Agency/parley/internal/transport"
)

// mockInvoker returns a scripted raw event log, optionally blocking until
// released.
type mockInvoker struct {
	mu      sync.Mutex
	raw     []events.RawEvent
	err     error
	block   chan struct{}
	calls   int
	lastReq SendRequest
}

func (m *mockInvoker) SendMessage(ctx context.Context, req SendRequest) ([]events.RawEvent, error) {
	m.mu.Lock()
	m.calls++
	m.lastReq = req
	block := m.block
	m.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.raw, nil
}

func newManager(inv *mockInvoker) (*Manager, *sessionctx.Registry) {
	sessions := sessionctx.NewRegistry(time.Minute)
	return New(inv, sessions), sessions
}

func TestSend(t *testing.T) {
	inv := &mockInvoker{raw: []events.RawEvent{{
		ID:           "e1",
		Author:       "planner",
		InvocationID: "inv-1",
		Timestamp:    2.0,
		Content:      &events.Content{Parts: []events.Part{{Text: "final plan"}}},
	}}}
	m, _ := newManager(inv)

	if err := m.Send(context.Background(), "planner", "sess-1", "hi"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if inv.lastReq.AgentName != "planner" || inv.lastReq.Message != "hi" {
		t.Errorf("unexpected request: %+v", inv.lastReq)
	}

	conv, ok := m.Conversation("sess-1")
	if !ok {
		t.Fatal("expected session to be known")
	}
	if len(conv.Messages) != 2 {
		t.Fatalf("expected user + agent messages, got %d", len(conv.Messages))
	}
	if conv.Messages[0].Content != "hi" {
		t.Errorf("expected user message first, got %q", conv.Messages[0].Content)
	}
	if conv.Messages[1].Content != "**planner:** final plan" {
		t.Errorf("unexpected agent message: %q", conv.Messages[1].Content)
	}
}

func TestSend_InFlightGuard(t *testing.T) {
	inv := &mockInvoker{block: make(chan struct{})}
	m, _ := newManager(inv)

	done := make(chan error, 1)
	go func() {
		done <- m.Send(context.Background(), "planner", "sess-1", "first")
	}()

	// Wait for the first send to reach the invoker.
	deadline := time.Now().Add(2 * time.Second)
	for {
		inv.mu.Lock()
		calls := inv.calls
		inv.mu.Unlock()
		if calls == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first send never reached the invoker")
		}
		time.Sleep(time.Millisecond)
	}

	err := m.Send(context.Background(), "planner", "sess-1", "second")
	if !errors.Is(err, ErrSendInFlight) {
		t.Errorf("expected ErrSendInFlight, got %v", err)
	}

	close(inv.block)
	if err := <-done; err != nil {
		t.Errorf("unexpected error from first send: %v", err)
	}

	// The guard is released; a new send to sess-1 works.
	if err := m.Send(context.Background(), "planner", "sess-1", "third"); err != nil {
		t.Errorf("expected send after completion to pass, got %v", err)
	}
}

func TestSend_InvokerFailureBecomesVisible(t *testing.T) {
	inv := &mockInvoker{err: errors.New("gateway timeout")}
	m, _ := newManager(inv)

	err := m.Send(context.Background(), "planner", "sess-1", "hi")
	if err == nil {
		t.Fatal("expected error")
	}

	conv, _ := m.Conversation("sess-1")
	if len(conv.Messages) != 2 {
		t.Fatalf("expected user message plus error message, got %d", len(conv.Messages))
	}
	if conv.Messages[0].Content != "hi" {
		t.Error("expected the user's message to survive the failure")
	}
	if !strings.Contains(conv.Messages[1].Content, "Message delivery failed: gateway timeout") {
		t.Errorf("expected visible delivery failure, got %q", conv.Messages[1].Content)
	}
}

func TestSend_SessionContextLifecycle(t *testing.T) {
	var during *sessionctx.Context
	inv := &mockInvoker{}
	m, sessions := newManager(inv)

	inv.block = make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- m.Send(context.Background(), "planner", "sess-1", "hi") }()

	deadline := time.Now().Add(2 * time.Second)
	for during == nil {
		during = sessions.Current()
		if time.Now().After(deadline) {
			t.Fatal("session context never set during send")
		}
		time.Sleep(time.Millisecond)
	}
	if during.AgentName != "planner" || during.SessionID != "sess-1" {
		t.Errorf("unexpected session context: %+v", during)
	}

	close(inv.block)
	<-done

	if sessions.Current() != nil {
		t.Error("expected session context cleared after send")
	}
}

func TestActiveView(t *testing.T) {
	m, _ := newManager(&mockInvoker{})

	if m.ActiveView() != nil {
		t.Fatal("expected nil active view initially")
	}

	m.SetActiveView("planner", "sess-1")
	v := m.ActiveView()
	if v == nil || v.AgentName != "planner" || v.SessionID != "sess-1" {
		t.Errorf("unexpected active view: %+v", v)
	}

	m.ClearActiveView()
	if m.ActiveView() != nil {
		t.Error("expected nil after clear")
	}
}

func TestInjectQuestion(t *testing.T) {
	m, _ := newManager(&mockInvoker{})

	m.InjectQuestion("sess-1", transport.Question{
		ID:             "q-1",
		Question:       "Which database?",
		SessionContext: &sessionctx.Context{AgentName: "planner", SessionID: "sess-1"},
	})

	conv, ok := m.Conversation("sess-1")
	if !ok {
		t.Fatal("expected session to exist")
	}
	if len(conv.Messages) != 1 {
		t.Fatalf("expected exactly 1 message, got %d", len(conv.Messages))
	}

	msg := conv.Messages[0]
	if !msg.IsMCPMessage {
		t.Error("expected an MCP question message")
	}
	if msg.MCPQuestionID != "q-1" {
		t.Errorf("expected question id q-1, got %s", msg.MCPQuestionID)
	}
	if msg.Content != "Which database?" {
		t.Errorf("expected bare question text, got %q", msg.Content)
	}
	if msg.FinalAgent != "planner" {
		t.Errorf("expected final agent planner, got %s", msg.FinalAgent)
	}
}

func TestInjectQuestion_SurvivesLaterTraffic(t *testing.T) {
	m, _ := newManager(&mockInvoker{})

	m.InjectQuestion("sess-1", transport.Question{ID: "q-1", Question: "Proceed?"})

	// Later agent revisions share the session-scoped invocation id; the
	// injected question must not be collapsed away.
	m.Process(context.Background(), events.Event{
		ID:           "e1",
		SessionID:    "sess-1",
		InvocationID: "sess-1",
		Author:       "planner",
		Type:         events.TypeAgentResponse,
		Parts:        []events.Part{{Text: "continuing"}},
		Timestamp:    events.Now() + 10,
	})

	conv, _ := m.Conversation("sess-1")
	var sawQuestion bool
	for _, msg := range conv.Messages {
		if msg.MCPQuestionID == "q-1" {
			sawQuestion = true
		}
	}
	if !sawQuestion {
		t.Error("expected injected question to survive collapsing")
	}
}

func TestAppendUserText(t *testing.T) {
	m, _ := newManager(&mockInvoker{})

	m.AppendUserText("sess-1", "my answer")

	conv, _ := m.Conversation("sess-1")
	if len(conv.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(conv.Messages))
	}
	if conv.Messages[0].Role != "user" || conv.Messages[0].Content != "my answer" {
		t.Errorf("unexpected message: %+v", conv.Messages[0])
	}
}

func TestProcess(t *testing.T) {
	m, _ := newManager(&mockInvoker{})

	m.Process(context.Background(), events.Event{
		ID:        "e1",
		SessionID: "sess-1",
		Author:    "planner",
		Type:      events.TypeAgentResponse,
		Parts:     []events.Part{{Text: "from the stream"}},
		Timestamp: 1.0,
	})
	m.Process(context.Background(), events.Event{ID: "e2", Author: "planner"})

	if got := len(m.Sessions()); got != 1 {
		t.Fatalf("expected 1 session, events without one dropped, got %d", got)
	}

	conv, ok := m.Conversation("sess-1")
	if !ok || len(conv.Messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(conv.Messages))
	}
}

func TestConversation_UnknownSession(t *testing.T) {
	m, _ := newManager(&mockInvoker{})

	conv, ok := m.Conversation("nope")
	if ok {
		t.Error("expected unknown session")
	}
	if conv.SessionID != "nope" {
		t.Errorf("expected session id echoed, got %s", conv.SessionID)
	}
}

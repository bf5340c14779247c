// Package manager owns all per-session conversation state: the event logs,
// the active-view binding, and the in-flight send guards. Nothing here is
// ambient; the transport and API hold a reference to one Manager.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MikeSquared-Agency/parley/internal/conversation"
	"github.com/MikeSquared-Agency/parley/internal/events"
	"github.com/MikeSquared-Agency/parley/internal/sessionctx"
	"github.com/MikeSquared-Agency/parley/internal/transport"
)

// ErrSendInFlight is returned when a session already has a send in progress.
var ErrSendInFlight = errors.New("send already in flight")

// SendRequest is a user-authored message bound for an agent.
type SendRequest struct {
	AgentName string `json:"agent_name"`
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// AgentInvoker delivers a user message to an agent backend and returns the
// raw events the agent produced in response.
type AgentInvoker interface {
	SendMessage(ctx context.Context, req SendRequest) ([]events.RawEvent, error)
}

type sessionState struct {
	agentName string
	log       []events.Event
	inFlight  bool
}

// Manager is safe for concurrent use. Sends to the same session are
// serialized by the in-flight guard; sends to different sessions are not.
type Manager struct {
	invoker  AgentInvoker
	sessions *sessionctx.Registry

	mu         sync.Mutex
	convs      map[string]*sessionState
	activeView *sessionctx.Context
}

func New(invoker AgentInvoker, sessions *sessionctx.Registry) *Manager {
	return &Manager{
		invoker:  invoker,
		sessions: sessions,
		convs:    make(map[string]*sessionState),
	}
}

// Send delivers a user message to an agent and folds the response events
// into the session log. The session context is set for the duration of the
// response cycle so inbound questions lacking routing data land here, and is
// cleared when the cycle completes, success or error.
//
// An invoker failure becomes a visible synthetic error event; the user's own
// message is never lost.
func (m *Manager) Send(ctx context.Context, agentName, sessionID, text string) error {
	m.mu.Lock()
	cs := m.stateLocked(sessionID)
	if cs.inFlight {
		m.mu.Unlock()
		return fmt.Errorf("session %s: %w", sessionID, ErrSendInFlight)
	}
	cs.inFlight = true
	cs.agentName = agentName
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		cs.inFlight = false
		m.mu.Unlock()
		m.sessions.Clear()
	}()

	m.sessions.Set(sessionctx.Context{AgentName: agentName, SessionID: sessionID})
	m.appendEvent(sessionID, userEvent(sessionID, text))

	raw, err := m.invoker.SendMessage(ctx, SendRequest{
		AgentName: agentName,
		SessionID: sessionID,
		Message:   text,
	})
	if err != nil {
		slog.Error("agent send failed", "agent", agentName, "session_id", sessionID, "error", err)
		m.appendEvent(sessionID, errorEvent(sessionID, agentName, err))
		return fmt.Errorf("send message to %s: %w", agentName, err)
	}

	norm := events.Normalize(raw, sessionID)
	m.mu.Lock()
	cs.log = append(cs.log, norm...)
	m.mu.Unlock()

	slog.Info("agent responded", "agent", agentName, "session_id", sessionID, "events", len(norm))
	return nil
}

// Conversation rebuilds the message list for a session from its full event
// log. The bool reports whether the session is known to this manager.
func (m *Manager) Conversation(sessionID string) (conversation.Conversation, bool) {
	m.mu.Lock()
	cs, ok := m.convs[sessionID]
	var snapshot []events.Event
	if ok {
		snapshot = make([]events.Event, len(cs.log))
		copy(snapshot, cs.log)
	}
	m.mu.Unlock()

	if !ok {
		return conversation.Conversation{SessionID: sessionID}, false
	}
	return conversation.Reconstruct(snapshot, sessionID), true
}

// SetActiveView records which conversation the human is currently looking
// at. The transport consults this when deciding whether to inject questions.
func (m *Manager) SetActiveView(agentName, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeView = &sessionctx.Context{AgentName: agentName, SessionID: sessionID}
}

// ClearActiveView records that no conversation is visible.
func (m *Manager) ClearActiveView() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeView = nil
}

// ActiveView implements transport.ConversationSink.
func (m *Manager) ActiveView() *sessionctx.Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeView == nil {
		return nil
	}
	c := *m.activeView
	return &c
}

// InjectQuestion implements transport.ConversationSink: the question becomes
// a synthetic event in the session log, shaped as an ask_user call so
// reconstruction surfaces it with its question id, plus a marker text part
// that keeps it protected from collapsing whatever its type ends up as.
func (m *Manager) InjectQuestion(sessionID string, q transport.Question) {
	author := "agent"
	if q.SessionContext != nil && q.SessionContext.AgentName != "" {
		author = q.SessionContext.AgentName
	}
	e := events.Event{
		ID:           events.NewID(),
		SessionID:    sessionID,
		InvocationID: sessionID,
		Author:       author,
		Type:         events.TypeMCPQuestion,
		Parts: []events.Part{
			{Text: fmt.Sprintf("%s %s", events.QuestionMarker, q.Question)},
			{FunctionCall: &events.FunctionCall{
				ID:   q.ID,
				Name: events.AskUserTool,
				Args: map[string]any{"question": q.Question},
			}},
		},
		Timestamp: events.Now(),
	}
	m.appendEvent(sessionID, e)
}

// AppendUserText implements transport.ConversationSink: used to echo a
// submitted answer into the conversation it belongs to.
func (m *Manager) AppendUserText(sessionID, text string) {
	m.appendEvent(sessionID, userEvent(sessionID, text))
}

// Process implements batcher.EventProcessor: ingested events flow into the
// live session logs so reconstruction sees them immediately.
func (m *Manager) Process(_ context.Context, e events.Event) {
	if e.SessionID == "" {
		return
	}
	m.appendEvent(e.SessionID, e)
}

// Sessions returns the ids of every session with a live log.
func (m *Manager) Sessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.convs))
	for id := range m.convs {
		ids = append(ids, id)
	}
	return ids
}

func (m *Manager) appendEvent(sessionID string, e events.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cs := m.stateLocked(sessionID)
	cs.log = append(cs.log, e)
}

func (m *Manager) stateLocked(sessionID string) *sessionState {
	cs, ok := m.convs[sessionID]
	if !ok {
		cs = &sessionState{}
		m.convs[sessionID] = cs
	}
	return cs
}

func userEvent(sessionID, text string) events.Event {
	return events.Event{
		ID:           events.NewID(),
		SessionID:    sessionID,
		InvocationID: sessionID,
		Author:       "user",
		Type:         events.TypeUserMessage,
		Parts:        []events.Part{{Text: text}},
		Timestamp:    events.Now(),
	}
}

// errorEvent is the visible trace of a failed delivery.
func errorEvent(sessionID, agentName string, err error) events.Event {
	return events.Event{
		ID:           events.NewID(),
		SessionID:    sessionID,
		InvocationID: sessionID,
		Author:       agentName,
		Type:         events.TypeSystemEvent,
		Parts:        []events.Part{{Text: fmt.Sprintf("Message delivery failed: %v", err)}},
		Timestamp:    events.Now(),
	}
}

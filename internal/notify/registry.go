// Package notify keeps the question notification registry: an idempotent,
// append-mostly record of every question an agent has asked, independent of
// which conversation is currently visible.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Status is the notification lifecycle state. Transitions are monotonic:
// pending -> displayed -> answered, and displayed may be skipped.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDisplayed Status = "displayed"
	StatusAnswered  Status = "answered"
)

// Notification records one agent question awaiting (or having received) a
// human answer.
type Notification struct {
	ID             string    `json:"id"`
	QuestionID     string    `json:"question_id"`
	Question       string    `json:"question"`
	Status         Status    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
	AgentName      string    `json:"agent_name,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
}

// Store persists notifications. The registry loads once on startup and
// writes through on every change; persistence failures are logged and never
// surfaced to callers.
type Store interface {
	Load(ctx context.Context) ([]Notification, error)
	Put(ctx context.Context, n Notification) error
	Delete(ctx context.Context, id string) error
	Clear(ctx context.Context) error
}

// Registry is the in-memory notification set, newest first. A nil store
// yields a purely in-memory registry.
type Registry struct {
	mu    sync.Mutex
	store Store
	items []Notification
}

func NewRegistry(store Store) *Registry {
	return &Registry{store: store}
}

// Load replaces the in-memory set with the persisted one.
func (r *Registry) Load(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	items, err := r.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load notifications: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = items
	return nil
}

// Add registers a question notification. It is a no-op if one already exists
// for the question id, making delivery retries harmless.
func (r *Registry) Add(questionID, question, agentName, conversationID string) *Notification {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing := r.findByQuestionLocked(questionID); existing != nil {
		n := *existing
		return &n
	}

	now := time.Now().UTC()
	n := Notification{
		ID:             fmt.Sprintf("%s-%d", questionID, now.UnixMilli()),
		QuestionID:     questionID,
		Question:       question,
		Status:         StatusPending,
		Timestamp:      now,
		AgentName:      agentName,
		ConversationID: conversationID,
	}
	r.items = append([]Notification{n}, r.items...)
	r.persist(n)
	out := n
	return &out
}

// MarkDisplayed moves a pending notification to displayed.
func (r *Registry) MarkDisplayed(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.items {
		if r.items[i].ID == id {
			if r.items[i].Status != StatusPending {
				return false
			}
			r.items[i].Status = StatusDisplayed
			r.persist(r.items[i])
			return true
		}
	}
	return false
}

// MarkAnswered closes the notification for a question. Answered is terminal;
// a second call never re-opens or re-transitions anything.
func (r *Registry) MarkAnswered(questionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.findByQuestionLocked(questionID)
	if n == nil || n.Status == StatusAnswered {
		return false
	}
	n.Status = StatusAnswered
	r.persist(*n)
	return true
}

// Remove deletes a notification by its id.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.items {
		if r.items[i].ID == id {
			r.items = append(r.items[:i], r.items[i+1:]...)
			if r.store != nil {
				if err := r.store.Delete(context.Background(), id); err != nil {
					slog.Warn("failed to delete persisted notification", "id", id, "error", err)
				}
			}
			return true
		}
	}
	return false
}

// Clear drops every notification.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items = nil
	if r.store != nil {
		if err := r.store.Clear(context.Background()); err != nil {
			slog.Warn("failed to clear persisted notifications", "error", err)
		}
	}
}

// All returns a snapshot, newest first.
func (r *Registry) All() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Notification, len(r.items))
	copy(out, r.items)
	return out
}

// GetByQuestionID returns the notification for a question id, if any.
func (r *Registry) GetByQuestionID(questionID string) *Notification {
	r.mu.Lock()
	defer r.mu.Unlock()

	if n := r.findByQuestionLocked(questionID); n != nil {
		out := *n
		return &out
	}
	return nil
}

// UnreadCount counts notifications not yet answered.
func (r *Registry) UnreadCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for i := range r.items {
		if r.items[i].Status != StatusAnswered {
			count++
		}
	}
	return count
}

func (r *Registry) findByQuestionLocked(questionID string) *Notification {
	for i := range r.items {
		if r.items[i].QuestionID == questionID {
			return &r.items[i]
		}
	}
	return nil
}

func (r *Registry) persist(n Notification) {
	if r.store == nil {
		return
	}
	if err := r.store.Put(context.Background(), n); err != nil {
		slog.Warn("failed to persist notification", "question_id", n.QuestionID, "error", err)
	}
}

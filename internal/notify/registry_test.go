package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
)

// memStore is a minimal Store for exercising write-through behavior.
type memStore struct {
	mu    sync.Mutex
	items map[string]Notification

	putErr  error
	loadErr error

	putCalls    int
	deleteCalls int
	clearCalls  int
}

func newMemStore() *memStore {
	return &memStore{items: make(map[string]Notification)}
}

func (s *memStore) Load(context.Context) ([]Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	out := make([]Notification, 0, len(s.items))
	for _, n := range s.items {
		out = append(out, n)
	}
	return out, nil
}

func (s *memStore) Put(_ context.Context, n Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putCalls++
	if s.putErr != nil {
		return s.putErr
	}
	s.items[n.QuestionID] = n
	return nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteCalls++
	for qid, n := range s.items {
		if n.ID == id {
			delete(s.items, qid)
		}
	}
	return nil
}

func (s *memStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearCalls++
	s.items = make(map[string]Notification)
	return nil
}

func TestAdd(t *testing.T) {
	r := NewRegistry(nil)

	n := r.Add("q-1", "Which database?", "planner", "sess-1")
	if n == nil {
		t.Fatal("expected a notification")
	}
	if n.Status != StatusPending {
		t.Errorf("expected pending, got %s", n.Status)
	}
	if n.QuestionID != "q-1" || n.AgentName != "planner" || n.ConversationID != "sess-1" {
		t.Errorf("unexpected fields: %+v", n)
	}
	if n.ID == n.QuestionID {
		t.Error("expected notification id distinct from question id")
	}
}

func TestAdd_IdempotentByQuestionID(t *testing.T) {
	r := NewRegistry(nil)

	first := r.Add("q-1", "Which database?", "planner", "sess-1")
	second := r.Add("q-1", "different text", "other", "sess-2")

	if second.ID != first.ID {
		t.Errorf("expected same notification, got %s and %s", first.ID, second.ID)
	}
	if second.Question != "Which database?" {
		t.Errorf("expected original question preserved, got %q", second.Question)
	}
	if len(r.All()) != 1 {
		t.Errorf("expected 1 notification, got %d", len(r.All()))
	}
}

func TestAdd_NewestFirst(t *testing.T) {
	r := NewRegistry(nil)
	r.Add("q-1", "first", "planner", "")
	r.Add("q-2", "second", "planner", "")

	all := r.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(all))
	}
	if all[0].QuestionID != "q-2" {
		t.Errorf("expected newest first, got %s", all[0].QuestionID)
	}
}

func TestStatusTransitions(t *testing.T) {
	r := NewRegistry(nil)
	n := r.Add("q-1", "pick one", "planner", "")

	if !r.MarkDisplayed(n.ID) {
		t.Fatal("expected pending -> displayed to succeed")
	}
	if r.MarkDisplayed(n.ID) {
		t.Error("expected second MarkDisplayed to fail")
	}

	if !r.MarkAnswered("q-1") {
		t.Fatal("expected displayed -> answered to succeed")
	}
	if r.MarkAnswered("q-1") {
		t.Error("expected answered to be terminal")
	}

	got := r.GetByQuestionID("q-1")
	if got.Status != StatusAnswered {
		t.Errorf("expected answered, got %s", got.Status)
	}
}

func TestMarkAnswered_SkipsDisplayed(t *testing.T) {
	r := NewRegistry(nil)
	r.Add("q-1", "pick one", "planner", "")

	if !r.MarkAnswered("q-1") {
		t.Error("expected pending -> answered to succeed directly")
	}
}

func TestMarkAnswered_UnknownQuestion(t *testing.T) {
	r := NewRegistry(nil)
	if r.MarkAnswered("nope") {
		t.Error("expected false for unknown question")
	}
}

func TestUnreadCount(t *testing.T) {
	r := NewRegistry(nil)
	r.Add("q-1", "one", "planner", "")
	n2 := r.Add("q-2", "two", "planner", "")
	r.Add("q-3", "three", "planner", "")

	if got := r.UnreadCount(); got != 3 {
		t.Errorf("expected 3 unread, got %d", got)
	}

	// Displayed still counts as unread; only answered clears it.
	r.MarkDisplayed(n2.ID)
	if got := r.UnreadCount(); got != 3 {
		t.Errorf("expected 3 unread after display, got %d", got)
	}

	r.MarkAnswered("q-1")
	if got := r.UnreadCount(); got != 2 {
		t.Errorf("expected 2 unread after answer, got %d", got)
	}
}

func TestRemoveAndClear(t *testing.T) {
	r := NewRegistry(nil)
	n := r.Add("q-1", "one", "planner", "")
	r.Add("q-2", "two", "planner", "")

	if !r.Remove(n.ID) {
		t.Fatal("expected remove to succeed")
	}
	if r.Remove(n.ID) {
		t.Error("expected second remove to fail")
	}
	if len(r.All()) != 1 {
		t.Errorf("expected 1 left, got %d", len(r.All()))
	}

	r.Clear()
	if len(r.All()) != 0 {
		t.Errorf("expected empty after clear, got %d", len(r.All()))
	}
	if r.UnreadCount() != 0 {
		t.Errorf("expected 0 unread after clear, got %d", r.UnreadCount())
	}
}

func TestWriteThroughPersistence(t *testing.T) {
	s := newMemStore()
	r := NewRegistry(s)

	n := r.Add("q-1", "one", "planner", "sess-1")
	if s.putCalls != 1 {
		t.Errorf("expected 1 put after add, got %d", s.putCalls)
	}

	r.MarkDisplayed(n.ID)
	r.MarkAnswered("q-1")
	if s.putCalls != 3 {
		t.Errorf("expected 3 puts after transitions, got %d", s.putCalls)
	}
	if s.items["q-1"].Status != StatusAnswered {
		t.Errorf("expected persisted status answered, got %s", s.items["q-1"].Status)
	}

	r.Remove(n.ID)
	if s.deleteCalls != 1 {
		t.Errorf("expected 1 delete, got %d", s.deleteCalls)
	}

	r.Clear()
	if s.clearCalls != 1 {
		t.Errorf("expected 1 clear, got %d", s.clearCalls)
	}
}

func TestPersistFailureNeverSurfaces(t *testing.T) {
	s := newMemStore()
	s.putErr = errors.New("db down")
	r := NewRegistry(s)

	n := r.Add("q-1", "one", "planner", "")
	if n == nil {
		t.Fatal("expected add to succeed despite store failure")
	}
	if len(r.All()) != 1 {
		t.Error("expected in-memory state intact despite store failure")
	}
}

func TestLoad(t *testing.T) {
	s := newMemStore()
	s.items["q-1"] = Notification{ID: "n-1", QuestionID: "q-1", Status: StatusPending}

	r := NewRegistry(s)
	if err := r.Load(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(r.All()) != 1 {
		t.Errorf("expected 1 loaded notification, got %d", len(r.All()))
	}

	s.loadErr = errors.New("db down")
	if err := r.Load(context.Background()); err == nil {
		t.Error("expected load error to surface")
	}
}

func TestLoad_NilStore(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Load(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

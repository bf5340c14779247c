package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/parley/internal/events"
	"github.com/MikeSquared-Agency/parley/internal/notify"
)

// MockStore is a thread-safe in-memory implementation of store.DataStore for testing.
type MockStore struct {
	mu sync.Mutex

	Events        []events.Event
	Notifications map[string]notify.Notification
	Usage         map[string]map[string]any // key: "agentName|date"

	InsertErr      error
	PutNotifErr    error
	LoadNotifErr   error
	DeleteNotifErr error
	ClearNotifErr  error
	UpsertUsageErr error

	InsertCalls      int
	PutNotifCalls    int
	DeleteNotifCalls int
	ClearNotifCalls  int
	UpsertUsageCalls int
}

func NewMockStore() *MockStore {
	return &MockStore{
		Events:        make([]events.Event, 0),
		Notifications: make(map[string]notify.Notification),
		Usage:         make(map[string]map[string]any),
	}
}

func (m *MockStore) InsertEvents(_ context.Context, evts []events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InsertCalls++
	if m.InsertErr != nil {
		return m.InsertErr
	}
	m.Events = append(m.Events, evts...)
	return nil
}

func (m *MockStore) EventsForSession(_ context.Context, sessionID string) ([]events.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []events.Event
	for _, e := range m.Events {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MockStore) PutNotification(_ context.Context, n notify.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PutNotifCalls++
	if m.PutNotifErr != nil {
		return m.PutNotifErr
	}
	m.Notifications[n.QuestionID] = n
	return nil
}

func (m *MockStore) LoadNotifications(_ context.Context) ([]notify.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.LoadNotifErr != nil {
		return nil, m.LoadNotifErr
	}
	out := make([]notify.Notification, 0, len(m.Notifications))
	for _, n := range m.Notifications {
		out = append(out, n)
	}
	return out, nil
}

func (m *MockStore) DeleteNotification(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteNotifCalls++
	if m.DeleteNotifErr != nil {
		return m.DeleteNotifErr
	}
	for qid, n := range m.Notifications {
		if n.ID == id {
			delete(m.Notifications, qid)
		}
	}
	return nil
}

func (m *MockStore) ClearNotifications(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ClearNotifCalls++
	if m.ClearNotifErr != nil {
		return m.ClearNotifErr
	}
	m.Notifications = make(map[string]notify.Notification)
	return nil
}

func (m *MockStore) UpsertAgentUsage(_ context.Context, agentName string, date time.Time, prompt, completion, total int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.UpsertUsageCalls++
	if m.UpsertUsageErr != nil {
		return m.UpsertUsageErr
	}
	key := agentName + "|" + date.Format("2006-01-02")
	row := m.Usage[key]
	if row == nil {
		row = map[string]any{
			"agent_name":        agentName,
			"prompt_tokens":     0,
			"completion_tokens": 0,
			"total_tokens":      0,
		}
		m.Usage[key] = row
	}
	row["prompt_tokens"] = row["prompt_tokens"].(int) + prompt
	row["completion_tokens"] = row["completion_tokens"].(int) + completion
	row["total_tokens"] = row["total_tokens"].(int) + total
	return nil
}

func (m *MockStore) GetAgentUsage(_ context.Context, agentName string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, row := range m.Usage {
		if len(key) > len(agentName) && key[:len(agentName)] == agentName {
			cp := make(map[string]any, len(row))
			for k, v := range row {
				cp[k] = v
			}
			return cp, nil
		}
	}
	return nil, fmt.Errorf("no usage for agent %s", agentName)
}

func (m *MockStore) Close() {}

// GetInsertCalls returns how many times InsertEvents was called.
func (m *MockStore) GetInsertCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.InsertCalls
}

// GetEventCount returns the number of stored events.
func (m *MockStore) GetEventCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Events)
}

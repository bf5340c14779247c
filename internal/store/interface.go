package store

import (
	"context"
	"time"

	"github.com/MikeSquared-Agency/parley/internal/events"
	"github.com/MikeSquared-Agency/parley/internal/notify"
)

// DataStore is the interface consumed by the batcher, processors, transport
// wiring, and the API. The concrete implementation is *Store (pgx-backed).
type DataStore interface {
	InsertEvents(ctx context.Context, evts []events.Event) error
	EventsForSession(ctx context.Context, sessionID string) ([]events.Event, error)

	PutNotification(ctx context.Context, n notify.Notification) error
	LoadNotifications(ctx context.Context) ([]notify.Notification, error)
	DeleteNotification(ctx context.Context, id string) error
	ClearNotifications(ctx context.Context) error

	UpsertAgentUsage(ctx context.Context, agentName string, date time.Time, prompt, completion, total int) error
	GetAgentUsage(ctx context.Context, agentName string) (map[string]any, error)

	Close()
}

// Notifications adapts a DataStore to the narrow notify.Store interface.
func Notifications(s DataStore) notify.Store {
	return notifStore{s}
}

type notifStore struct {
	s DataStore
}

func (n notifStore) Load(ctx context.Context) ([]notify.Notification, error) {
	return n.s.LoadNotifications(ctx)
}

func (n notifStore) Put(ctx context.Context, item notify.Notification) error {
	return n.s.PutNotification(ctx, item)
}

func (n notifStore) Delete(ctx context.Context, id string) error {
	return n.s.DeleteNotification(ctx, id)
}

func (n notifStore) Clear(ctx context.Context) error {
	return n.s.ClearNotifications(ctx)
}

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MikeSquared-Agency/parley/internal/events"
	"github.com/MikeSquared-Agency/parley/internal/notify"
)

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// InsertEvents batch-inserts normalized events into parley_events. The
// event_id primary key makes redelivered duplicates harmless.
func (s *Store) InsertEvents(ctx context.Context, evts []events.Event) error {
	if len(evts) == 0 {
		return nil
	}

	rows := make([][]any, len(evts))
	for i, e := range evts {
		parts, err := json.Marshal(e.Parts)
		if err != nil {
			return fmt.Errorf("marshal parts for %s: %w", e.ID, err)
		}
		var usage []byte
		if e.Usage != nil {
			usage, _ = json.Marshal(e.Usage)
		}
		rows[i] = []any{e.ID, e.SessionID, e.InvocationID, e.Author, string(e.Type), e.Timestamp, parts, usage, []byte(e.Actions)}
	}

	_, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"parley_events"},
		[]string{"event_id", "session_id", "invocation_id", "author", "event_type", "timestamp", "parts", "usage", "actions"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy events: %w", err)
	}

	slog.Debug("inserted events", "count", len(evts))
	return nil
}

// EventsForSession returns a session's full event log in chronological
// order, ready for reconstruction.
func (s *Store) EventsForSession(ctx context.Context, sessionID string) ([]events.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT event_id, session_id, invocation_id, author, event_type, timestamp, parts, usage, actions
		 FROM parley_events WHERE session_id = $1 ORDER BY timestamp`,
		sessionID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var (
			e           events.Event
			etype       string
			partsJSON   []byte
			usageJSON   []byte
			actionsJSON []byte
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.InvocationID, &e.Author, &etype, &e.Timestamp, &partsJSON, &usageJSON, &actionsJSON); err != nil {
			return nil, err
		}
		e.Type = events.EventType(etype)
		if err := json.Unmarshal(partsJSON, &e.Parts); err != nil {
			slog.Warn("unparseable event parts, using empty", "event_id", e.ID, "error", err)
			e.Parts = []events.Part{}
		}
		if len(usageJSON) > 0 {
			var u events.Usage
			if err := json.Unmarshal(usageJSON, &u); err == nil {
				e.Usage = &u
			}
		}
		if len(actionsJSON) > 0 {
			e.Actions = json.RawMessage(actionsJSON)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PutNotification upserts one notification keyed by question_id, so retried
// deliveries and status transitions land on the same row.
func (s *Store) PutNotification(ctx context.Context, n notify.Notification) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO parley_notifications (notification_id, question_id, question, status, created_at, agent_name, conversation_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (question_id) DO UPDATE SET status = EXCLUDED.status
	`, n.ID, n.QuestionID, n.Question, string(n.Status), n.Timestamp, n.AgentName, n.ConversationID)
	if err != nil {
		return fmt.Errorf("put notification %s: %w", n.QuestionID, err)
	}
	return nil
}

// LoadNotifications returns every persisted notification, newest first.
func (s *Store) LoadNotifications(ctx context.Context) ([]notify.Notification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT notification_id, question_id, question, status, created_at, agent_name, conversation_id
		FROM parley_notifications ORDER BY created_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []notify.Notification
	for rows.Next() {
		var (
			n      notify.Notification
			status string
		)
		if err := rows.Scan(&n.ID, &n.QuestionID, &n.Question, &status, &n.Timestamp, &n.AgentName, &n.ConversationID); err != nil {
			return nil, err
		}
		n.Status = notify.Status(status)
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) DeleteNotification(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM parley_notifications WHERE notification_id = $1`, id)
	return err
}

func (s *Store) ClearNotifications(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM parley_notifications`)
	return err
}

// UpsertAgentUsage accumulates token counters for an agent on a given date.
func (s *Store) UpsertAgentUsage(ctx context.Context, agentName string, date time.Time, prompt, completion, total int) error {
	d := date.Format("2006-01-02")
	_, err := s.pool.Exec(ctx, `
		INSERT INTO parley_agent_usage (agent_name, usage_date, prompt_tokens, completion_tokens, total_tokens, event_count, updated_at)
		VALUES ($1, $2, $3, $4, $5, 1, now())
		ON CONFLICT (agent_name, usage_date) DO UPDATE SET
			prompt_tokens     = parley_agent_usage.prompt_tokens + EXCLUDED.prompt_tokens,
			completion_tokens = parley_agent_usage.completion_tokens + EXCLUDED.completion_tokens,
			total_tokens      = parley_agent_usage.total_tokens + EXCLUDED.total_tokens,
			event_count       = parley_agent_usage.event_count + 1,
			updated_at        = now()
	`, agentName, d, prompt, completion, total)
	if err != nil {
		return fmt.Errorf("upsert agent usage: %w", err)
	}
	return nil
}

// GetAgentUsage returns the latest usage row for an agent.
func (s *Store) GetAgentUsage(ctx context.Context, agentName string) (map[string]any, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT agent_name, usage_date, prompt_tokens, completion_tokens, total_tokens, event_count
		FROM parley_agent_usage
		WHERE agent_name = $1
		ORDER BY usage_date DESC
		LIMIT 1
	`, agentName)

	var (
		name                               string
		date                               time.Time
		prompt, completion, total, evCount int64
	)
	if err := row.Scan(&name, &date, &prompt, &completion, &total, &evCount); err != nil {
		return nil, err
	}

	return map[string]any{
		"agent_name":        name,
		"usage_date":        date.Format("2006-01-02"),
		"prompt_tokens":     prompt,
		"completion_tokens": completion,
		"total_tokens":      total,
		"event_count":       evCount,
	}, nil
}

package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Alerter posts gateway alerts to a Slack channel via chat.postMessage.
type Alerter struct {
	token   string
	channel string
	client  *http.Client
	apiURL  string

	mu       sync.Mutex
	lastSent time.Time
}

// NewAlerter creates a new Slack alerter.
func NewAlerter(token, channel string) *Alerter {
	return &Alerter{
		token:   token,
		channel: channel,
		client:  &http.Client{Timeout: 10 * time.Second},
		apiURL:  "https://slack.com/api/chat.postMessage",
	}
}

// PostConnectionAlert sends a Block Kit message when the question socket
// exhausts its reconnect budget. It rate-limits to at most one alert per
// 30 seconds to protect against burst storms.
func (a *Alerter) PostConnectionAlert(ctx context.Context, socketURL string, attempts int) error {
	a.mu.Lock()
	if time.Since(a.lastSent) < 30*time.Second {
		a.mu.Unlock()
		return nil
	}
	a.lastSent = time.Now()
	a.mu.Unlock()

	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{
				"type": "plain_text",
				"text": "Question Socket Down",
			},
		},
		{
			"type": "section",
			"fields": []map[string]any{
				{"type": "mrkdwn", "text": fmt.Sprintf("*Socket:*\n%s", socketURL)},
				{"type": "mrkdwn", "text": fmt.Sprintf("*Attempts:*\n%d", attempts)},
			},
		},
		{
			"type": "section",
			"text": map[string]any{
				"type": "mrkdwn",
				"text": "Agent questions will not be routed until the socket recovers. Restart parley or check the gateway.",
			},
		},
		{
			"type": "context",
			"elements": []map[string]any{
				{"type": "mrkdwn", "text": fmt.Sprintf("Sent at %s", time.Now().UTC().Format(time.RFC3339))},
			},
		},
	}

	body, err := json.Marshal(map[string]any{
		"channel": a.channel,
		"blocks":  blocks,
		"text":    fmt.Sprintf("Question socket down after %d reconnect attempts: %s", attempts, socketURL),
	})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("slack post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned %d", resp.StatusCode)
	}

	slog.Info("connection alert posted to Slack", "channel", a.channel, "socket", socketURL)
	return nil
}

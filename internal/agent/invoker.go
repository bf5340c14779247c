package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/MikeSquared-Agency/parley/internal/events"
	"github.com/MikeSquared-Agency/parley/internal/manager"
)

// Invoker delivers user messages to the agent gateway over HTTP and returns
// the raw event log produced by the run.
type Invoker struct {
	baseURL string
	client  *http.Client
}

// NewInvoker creates an Invoker for the given gateway base URL.
func NewInvoker(baseURL string) *Invoker {
	return &Invoker{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Minute},
	}
}

type runRequest struct {
	AppName   string `json:"appName"`
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

// SendMessage posts the message to the gateway's run endpoint. Agent runs
// are long-lived so cancellation is driven by the caller's context.
func (i *Invoker) SendMessage(ctx context.Context, req manager.SendRequest) ([]events.RawEvent, error) {
	body, err := json.Marshal(runRequest{
		AppName:   req.AgentName,
		SessionID: req.SessionID,
		Message:   req.Message,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal run request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/agents/%s/run", i.baseURL, req.AgentName)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := i.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read gateway response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, truncate(data, 256))
	}

	raw, err := events.ParseRawLog(data)
	if err != nil {
		return nil, fmt.Errorf("parse gateway events: %w", err)
	}
	return raw, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

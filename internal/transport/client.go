// Package transport owns the persistent duplex connection to the agent MCP
// endpoint: handshake, heartbeat, capped reconnection, and the routing of
// inbound questions to the right conversation.
package transport

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MikeSquared-Agency/parley/internal/notify"
	"github.com/MikeSquared-Agency/parley/internal/sessionctx"
)

// State is the connection state. The manual-disconnect flag is orthogonal.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return "disconnected"
	}
}

// ConversationSink is what the transport needs from the conversation manager:
// which conversation the human is looking at, and the ability to surface
// questions and answer echoes inside it.
type ConversationSink interface {
	ActiveView() *sessionctx.Context
	InjectQuestion(sessionID string, q Question)
	AppendUserText(sessionID, text string)
}

// Config tunes the client. Zero values fall back to the defaults below.
type Config struct {
	URL               string
	HeartbeatInterval time.Duration
	ReconnectBase     time.Duration
	ReconnectMax      time.Duration
	MaxReconnects     int

	// OnConnectionLost fires once the reconnect budget is exhausted.
	OnConnectionLost func(attempts int)
}

const (
	defaultHeartbeatInterval = 45 * time.Second
	defaultReconnectBase     = 5 * time.Second
	defaultReconnectMax      = 120 * time.Second
	defaultMaxReconnects     = 3
)

// Client is the MCP socket client. All exported methods are safe for
// concurrent use.
type Client struct {
	cfg      Config
	dialer   *websocket.Dialer
	sessions *sessionctx.Registry
	notifs   *notify.Registry
	sink     ConversationSink

	mu               sync.Mutex
	conn             *websocket.Conn
	state            State
	manualDisconnect bool
	attempts         int
	gen              uint64
	reconnectTimer   *time.Timer
	heartbeatStop    chan struct{}
	pending          *Question

	wmu sync.Mutex // serializes socket writes
}

func NewClient(cfg Config, sessions *sessionctx.Registry, notifs *notify.Registry, sink ConversationSink) *Client {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = defaultReconnectBase
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = defaultReconnectMax
	}
	if cfg.MaxReconnects <= 0 {
		cfg.MaxReconnects = defaultMaxReconnects
	}
	return &Client{
		cfg:      cfg,
		dialer:   websocket.DefaultDialer,
		sessions: sessions,
		notifs:   notifs,
		sink:     sink,
	}
}

// ShouldInject decides whether a question may be surfaced inside a visible
// conversation: only when the human is looking at the exact agent the
// question targets. A missing side on either end degrades to
// notification-only routing.
func ShouldInject(target, active *sessionctx.Context) bool {
	if target == nil || active == nil {
		return false
	}
	return target.AgentName == active.AgentName
}

// Connect dials the endpoint, performs the connect handshake, and starts the
// read loop and heartbeat. A dial failure schedules a reconnect attempt
// within the configured budget and returns the error.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateConnecting
	c.manualDisconnect = false
	url := c.cfg.URL
	c.mu.Unlock()

	conn, _, err := c.dialer.Dial(url, nil)
	if err != nil {
		c.mu.Lock()
		c.state = StateDisconnected
		c.mu.Unlock()
		c.scheduleReconnect()
		return fmt.Errorf("dial %s: %w", url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.state = StateOpen
	c.attempts = 0
	c.gen++
	gen := c.gen
	c.heartbeatStop = make(chan struct{})
	stop := c.heartbeatStop
	c.mu.Unlock()

	slog.Info("mcp socket connected", "url", url)

	if err := c.writeFrame(Frame{Type: FrameConnect}); err != nil {
		slog.Warn("failed to send connect frame", "error", err)
	}

	go c.readLoop(conn, gen)
	go c.heartbeat(stop)
	return nil
}

// Disconnect closes the socket deliberately: timers cancelled, session
// context cleared, reconnection suppressed.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.manualDisconnect = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.gen++
	c.mu.Unlock()

	c.sessions.Clear()
	if conn != nil {
		_ = conn.Close()
	}
	slog.Info("mcp socket disconnected manually")
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns how many reconnect attempts have been consumed since the
// last successful open.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Pending returns the question currently awaiting an answer, if any.
func (c *Client) Pending() *Question {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return nil
	}
	q := *c.pending
	return &q
}

// SubmitAnswer sends the human's answer for the pending question and echoes
// it into the target conversation if the human is still viewing it. The echo
// is skipped after navigation away to avoid cross-conversation contamination.
func (c *Client) SubmitAnswer(answer string) error {
	c.mu.Lock()
	q := c.pending
	c.mu.Unlock()
	if q == nil {
		return fmt.Errorf("no pending question to answer")
	}

	err := c.writeFrame(Frame{
		Type:           FrameUserResponse,
		RequestID:      q.ID,
		Answer:         answer,
		SessionContext: q.SessionContext,
	})
	if err != nil {
		return fmt.Errorf("send user_response: %w", err)
	}

	c.notifs.MarkAnswered(q.ID)

	if q.SessionContext != nil && ShouldInject(q.SessionContext, c.sink.ActiveView()) {
		c.sink.AppendUserText(q.SessionContext.SessionID, answer)
	}

	c.mu.Lock()
	if c.pending != nil && c.pending.ID == q.ID {
		c.pending = nil
	}
	c.mu.Unlock()
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("mcp socket read error", "error", err)
			}
			c.handleDisconnect(gen)
			return
		}
		c.handleFrame(f)
	}
}

func (c *Client) handleFrame(f Frame) {
	switch f.Type {
	case FrameConnectAck:
		slog.Debug("mcp connection acknowledged")
	case FramePing:
		if err := c.writeFrame(Frame{Type: FramePong}); err != nil {
			slog.Warn("failed to answer ping", "error", err)
		}
	case FramePong:
		// Liveness is enforced by the peer; a pong is informational here.
		slog.Debug("mcp pong received")
	case FrameAskUser:
		c.handleAskUser(f)
	default:
		slog.Warn("unknown mcp frame type", "type", f.Type)
	}
}

// handleAskUser routes an inbound question: always into the notification
// registry, and into the visible conversation only when the human is looking
// at the target agent right now.
func (c *Client) handleAskUser(f Frame) {
	sc := f.SessionContext
	if sc == nil {
		sc = c.sessions.Current()
	}

	q := Question{ID: f.RequestID, Question: f.Question, SessionContext: sc}

	c.mu.Lock()
	c.pending = &q
	c.mu.Unlock()

	var agentName, conversationID string
	if sc != nil {
		agentName = sc.AgentName
		conversationID = sc.SessionID
	}
	c.notifs.Add(q.ID, q.Question, agentName, conversationID)

	if ShouldInject(sc, c.sink.ActiveView()) {
		c.sink.InjectQuestion(sc.SessionID, q)
		slog.Info("question injected into active conversation",
			"request_id", q.ID,
			"agent", agentName,
		)
	} else {
		slog.Info("question routed to notifications only",
			"request_id", q.ID,
			"agent", agentName,
		)
	}
}

func (c *Client) heartbeat(stop chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.writeFrame(Frame{Type: FramePing}); err != nil {
				slog.Warn("heartbeat send failed", "error", err)
				return
			}
		case <-stop:
			return
		}
	}
}

// handleDisconnect reacts to a closed or failed socket. Stale generations,
// from read loops of connections already replaced, are ignored.
func (c *Client) handleDisconnect(gen uint64) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	if c.heartbeatStop != nil {
		close(c.heartbeatStop)
		c.heartbeatStop = nil
	}
	c.state = StateDisconnected
	manual := c.manualDisconnect
	c.mu.Unlock()

	if manual {
		return
	}
	slog.Warn("mcp socket closed, scheduling reconnect")
	c.scheduleReconnect()
}

// scheduleReconnect arms the next reconnect attempt, or gives up once the
// budget is spent.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.manualDisconnect {
		c.mu.Unlock()
		return
	}
	if c.attempts >= c.cfg.MaxReconnects {
		attempts := c.attempts
		c.mu.Unlock()
		slog.Error("mcp reconnect budget exhausted", "attempts", attempts)
		if c.cfg.OnConnectionLost != nil {
			c.cfg.OnConnectionLost(attempts)
		}
		return
	}
	delay := backoff(c.cfg.ReconnectBase, c.cfg.ReconnectMax, c.attempts)
	c.attempts++
	attempt := c.attempts
	c.reconnectTimer = time.AfterFunc(delay, func() {
		if err := c.Connect(); err != nil {
			slog.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
		}
	})
	c.mu.Unlock()
	slog.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
}

// backoff is the reconnect delay for the given attempt number: base doubled
// per attempt, capped at ceiling.
func backoff(base, ceiling time.Duration, attempt int) time.Duration {
	d := base << uint(attempt)
	if d > ceiling || d <= 0 {
		return ceiling
	}
	return d
}

func (c *Client) writeFrame(f Frame) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()
	return conn.WriteJSON(f)
}

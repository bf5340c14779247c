package events

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AskUserTool is the tool name agents call to ask the human a direct question.
const AskUserTool = "ask_user"

// QuestionMarker prefixes the text of a question injected into a live
// conversation. The deduplicator treats any event carrying it as question
// traffic even when the event arrived mis-typed.
const QuestionMarker = "[agent question]"

// PartKind discriminates the three content part variants.
type PartKind int

const (
	PartEmpty PartKind = iota
	PartText
	PartFunctionCall
	PartFunctionResponse
)

// FunctionCall is a tool invocation emitted by an agent.
type FunctionCall struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// QuestionText extracts the human-facing question from an ask_user call.
// Agents are inconsistent about the argument name, so both are accepted.
func (c *FunctionCall) QuestionText() string {
	for _, key := range []string{"question", "message"} {
		if v, ok := c.Args[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// FunctionResponse carries the result of a completed tool invocation.
type FunctionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response,omitempty"`
}

// Part is one element of an event's content. At most one of the three
// variants is populated; Kind reports which.
type Part struct {
	Text             string            `json:"text,omitempty"`
	FunctionCall     *FunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *FunctionResponse `json:"functionResponse,omitempty"`
}

func (p Part) Kind() PartKind {
	switch {
	case p.FunctionCall != nil:
		return PartFunctionCall
	case p.FunctionResponse != nil:
		return PartFunctionResponse
	case p.Text != "":
		return PartText
	default:
		return PartEmpty
	}
}

// Content wraps the ordered part list of a raw event. Agents sometimes emit
// content: null, which normalization turns into an empty part list.
type Content struct {
	Role  string `json:"role,omitempty"`
	Parts []Part `json:"parts"`
}

// Usage holds the token counters some agents attach to their events.
type Usage struct {
	PromptTokens    int `json:"promptTokenCount"`
	CandidateTokens int `json:"candidatesTokenCount"`
	TotalTokens     int `json:"totalTokenCount"`
}

// RawEvent is the loose wire shape agents emit. Every field except author is
// optional in practice; Normalize fills the gaps.
type RawEvent struct {
	ID            string          `json:"id"`
	Author        string          `json:"author"`
	Content       *Content        `json:"content"`
	Timestamp     float64         `json:"timestamp"`
	InvocationID  string          `json:"invocationId"`
	UsageMetadata *Usage          `json:"usageMetadata,omitempty"`
	Actions       json.RawMessage `json:"actions,omitempty"`
}

// EventType classifies a normalized event.
type EventType string

const (
	TypeUserMessage   EventType = "user_message"
	TypeAgentResponse EventType = "agent_response"
	TypeToolCall      EventType = "tool_call"
	TypeToolResponse  EventType = "tool_response"
	TypeSystemEvent   EventType = "system_event"
	TypeMCPQuestion   EventType = "mcp_question"
	TypeMCPAnswer     EventType = "mcp_answer"
)

// Event is the normalized record the rest of the pipeline consumes.
type Event struct {
	ID           string          `json:"event_id"`
	SessionID    string          `json:"session_id"`
	InvocationID string          `json:"invocation_id"`
	Author       string          `json:"author"`
	Type         EventType       `json:"event_type"`
	Parts        []Part          `json:"parts"`
	Timestamp    float64         `json:"timestamp"`
	Usage        *Usage          `json:"usage,omitempty"`
	Actions      json.RawMessage `json:"actions,omitempty"`
}

// Classify derives the event type from author and content alone, never from
// stream position. The MCP types are assigned only to synthetic injected
// events, never here.
func Classify(author string, parts []Part) EventType {
	for _, p := range parts {
		switch p.Kind() {
		case PartFunctionCall:
			return TypeToolCall
		case PartFunctionResponse:
			return TypeToolResponse
		}
	}
	if author == "user" {
		return TypeUserMessage
	}
	return TypeAgentResponse
}

// ParseRaw unmarshals a single raw event payload.
func ParseRaw(data []byte) (RawEvent, error) {
	var r RawEvent
	if err := json.Unmarshal(data, &r); err != nil {
		return RawEvent{}, err
	}
	return r, nil
}

// ParseRawLog unmarshals a JSON array of raw events, as returned by an
// agent run.
func ParseRawLog(data []byte) ([]RawEvent, error) {
	var raw []RawEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Normalize converts raw events 1:1 into normalized ones, same order, never
// dropping any. Events missing an id or timestamp get one synthesized; events
// missing an invocation id inherit the session's.
func Normalize(raw []RawEvent, sessionID string) []Event {
	out := make([]Event, 0, len(raw))
	for _, r := range raw {
		e := Event{
			ID:           r.ID,
			SessionID:    sessionID,
			InvocationID: r.InvocationID,
			Author:       r.Author,
			Timestamp:    r.Timestamp,
			Usage:        r.UsageMetadata,
			Actions:      r.Actions,
		}
		if r.Content != nil {
			e.Parts = r.Content.Parts
		}
		if e.Parts == nil {
			e.Parts = []Part{}
		}
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		if e.Timestamp == 0 {
			slog.Warn("event missing timestamp, using ingestion time", "event_id", e.ID)
			e.Timestamp = Now()
		}
		if e.InvocationID == "" {
			e.InvocationID = sessionID
		}
		e.Type = Classify(e.Author, e.Parts)
		out = append(out, e)
	}
	return out
}

// Now returns the current wall clock as float seconds, the unit raw events use.
func Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// NewID returns a fresh event id.
func NewID() string {
	return uuid.New().String()
}

// Text concatenates the event's non-empty text parts.
func (e *Event) Text() string {
	var parts []string
	for _, p := range e.Parts {
		if p.Kind() == PartText {
			parts = append(parts, p.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// HasContent reports whether any part carries something at all.
func (e *Event) HasContent() bool {
	for _, p := range e.Parts {
		if p.Kind() != PartEmpty {
			return true
		}
	}
	return false
}

// HasQuestionMarker reports whether any text part carries the question
// injection marker.
func (e *Event) HasQuestionMarker() bool {
	for _, p := range e.Parts {
		if p.Kind() == PartText && strings.Contains(p.Text, QuestionMarker) {
			return true
		}
	}
	return false
}

// AskUserCalls returns the event's ask_user function calls, if any.
func (e *Event) AskUserCalls() []*FunctionCall {
	var calls []*FunctionCall
	for _, p := range e.Parts {
		if p.Kind() == PartFunctionCall && p.FunctionCall.Name == AskUserTool {
			calls = append(calls, p.FunctionCall)
		}
	}
	return calls
}

// Time converts the float-seconds timestamp to a time.Time.
func (e *Event) Time() time.Time {
	sec := int64(e.Timestamp)
	nsec := int64((e.Timestamp - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC()
}

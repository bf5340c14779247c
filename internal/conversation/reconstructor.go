// Package conversation rebuilds an ordered, duplicate-free message list from
// a session's raw multi-agent event log. Reconstruction runs from scratch on
// every call rather than mutating incrementally, which keeps the dedup and
// fallback policies consistent no matter how the log grew.
package conversation

import (
	"encoding/json"
	"fmt"

	"github.com/MikeSquared-Agency/parley/internal/dedup"
	"github.com/MikeSquared-Agency/parley/internal/events"
)

// isCanonicalAssistant reports whether an author renders without a name
// prefix.
func isCanonicalAssistant(author string) bool {
	return author == "assistant" || author == "model"
}

// Reconstruct walks the session's full normalized event log and produces the
// display message list.
//
// User messages and ask_user questions are extracted from the original,
// undeduplicated log first, so a question can never be lost to invocation
// collapsing. Agent messages are then extracted from the collapsed log; any
// non-user author qualifies. If that yields nothing but the agents produced
// some observable output, a single fallback message is synthesized from the
// latest such event.
//
// Pre-extracted messages come first, each group in event order; the consumer
// is responsible for any chronological re-sort.
func Reconstruct(evts []events.Event, sessionID string) Conversation {
	conv := Conversation{SessionID: sessionID, Messages: []Message{}}

	// Pre-extraction over the original log.
	for i := range evts {
		e := &evts[i]
		if e.Author == "user" {
			if txt := e.Text(); txt != "" {
				conv.Messages = append(conv.Messages, Message{
					Role:      RoleUser,
					Content:   txt,
					Timestamp: e.Timestamp,
				})
			}
			continue
		}
		for _, call := range e.AskUserCalls() {
			conv.Messages = append(conv.Messages, Message{
				Role:          RoleAssistant,
				Content:       call.QuestionText(),
				FinalAgent:    e.Author,
				IsMCPMessage:  true,
				MCPQuestionID: call.ID,
				Timestamp:     e.Timestamp,
			})
		}
	}

	collapsed := dedup.Collapse(evts)

	var agentMessages []Message
	for i := range collapsed {
		e := &collapsed[i]
		if skipAgentExtraction(e) {
			continue
		}
		txt := e.Text()
		if txt == "" {
			continue
		}
		if !isCanonicalAssistant(e.Author) {
			txt = fmt.Sprintf("**%s:** %s", e.Author, txt)
		}
		agentMessages = append(agentMessages, Message{
			Role:       RoleAssistant,
			Content:    txt,
			FinalAgent: e.Author,
			Timestamp:  e.Timestamp,
		})
	}

	if len(agentMessages) == 0 {
		if fb, ok := fallbackMessage(collapsed); ok {
			agentMessages = append(agentMessages, fb)
		}
	}

	conv.Messages = append(conv.Messages, agentMessages...)
	return conv
}

// skipAgentExtraction filters out events already handled by pre-extraction.
func skipAgentExtraction(e *events.Event) bool {
	if e.Author == "user" {
		return true
	}
	if e.Type == events.TypeMCPQuestion || e.Type == events.TypeMCPAnswer {
		return true
	}
	return len(e.AskUserCalls()) > 0
}

// fallbackMessage synthesizes one message from the chronologically latest
// non-user event with any content at all. This keeps a conversation from
// rendering empty when the agents produced output that matched no expected
// shape.
func fallbackMessage(collapsed []events.Event) (Message, bool) {
	var latest *events.Event
	for i := range collapsed {
		e := &collapsed[i]
		if skipAgentExtraction(e) || !e.HasContent() {
			continue
		}
		if latest == nil || e.Timestamp >= latest.Timestamp {
			latest = e
		}
	}
	if latest == nil {
		return Message{}, false
	}
	return Message{
		Role:       RoleAssistant,
		Content:    fallbackContent(latest),
		FinalAgent: latest.Author,
		IsFallback: true,
		Timestamp:  latest.Timestamp,
	}, true
}

// fallbackContent renders whatever the event holds into something displayable.
func fallbackContent(e *events.Event) string {
	if txt := e.Text(); txt != "" {
		return txt
	}
	for _, p := range e.Parts {
		switch p.Kind() {
		case events.PartFunctionResponse:
			if body, err := json.Marshal(p.FunctionResponse.Response); err == nil && len(body) > 0 {
				return fmt.Sprintf("%s returned: %s", p.FunctionResponse.Name, body)
			}
			return fmt.Sprintf("%s completed", p.FunctionResponse.Name)
		case events.PartFunctionCall:
			return fmt.Sprintf("called %s", p.FunctionCall.Name)
		}
	}
	return "(no displayable output)"
}

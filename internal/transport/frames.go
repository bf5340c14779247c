package transport

import "github.com/MikeSquared-Agency/parley/internal/sessionctx"

// Frame types exchanged with the MCP endpoint.
const (
	FrameConnect      = "connect"
	FrameConnectAck   = "connect_ack"
	FrameAskUser      = "ask_user"
	FrameUserResponse = "user_response"
	FramePing         = "ping"
	FramePong         = "pong"
)

// Frame is the JSON envelope for every message on the socket. Fields beyond
// Type are populated per frame type.
type Frame struct {
	Type           string             `json:"type"`
	RequestID      string             `json:"request_id,omitempty"`
	Question       string             `json:"question,omitempty"`
	Answer         string             `json:"answer,omitempty"`
	SessionContext *sessionctx.Context `json:"session_context,omitempty"`
}

// Question is an inbound agent question after routing resolution. The
// session context is the frame's own if it carried one, otherwise the active
// session context at arrival time, otherwise nil.
type Question struct {
	ID             string
	Question       string
	SessionContext *sessionctx.Context
}

package conversation

// Message roles. Every reconstructed message is one or the other; tool
// chatter never surfaces directly.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single consumer-facing entry in a conversation.
type Message struct {
	Role          string  `json:"role"`
	Content       string  `json:"content"`
	FinalAgent    string  `json:"final_agent,omitempty"`
	IsMCPMessage  bool    `json:"is_mcp_message,omitempty"`
	MCPQuestionID string  `json:"mcp_question_id,omitempty"`
	IsFallback    bool    `json:"is_fallback,omitempty"`
	Timestamp     float64 `json:"timestamp"`
}

// Conversation is the ordered message list reconstructed for one session.
type Conversation struct {
	SessionID string    `json:"session_id"`
	Messages  []Message `json:"messages"`
}

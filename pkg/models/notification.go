package models

// NotificationType identifies the kind of outward notification sent to the UI
// boundary. One notification is emitted per translated event.
type NotificationType string

const (
	NotifySessionStarted NotificationType = "session-started"
	NotifyMessage        NotificationType = "message"
	NotifyToken          NotificationType = "token"
	NotifyToolCall       NotificationType = "tool-call"
	NotifyToolResult     NotificationType = "tool-result"
	NotifyStatus         NotificationType = "status"
	NotifyError          NotificationType = "error"
)

// Notification is the JSON-serializable envelope delivered to UI clients.
// Exactly one payload field is populated for a given Type.
type Notification struct {
	Type      NotificationType `json:"type"`
	SessionID string           `json:"session_id,omitempty"`

	Session    *Session           `json:"session,omitempty"`
	Message    *Message           `json:"message,omitempty"`
	Token      *TokenPayload      `json:"token,omitempty"`
	ToolCall   *ToolCallPayload   `json:"tool_call,omitempty"`
	ToolResult *ToolResultPayload `json:"tool_result,omitempty"`
	Status     SessionStatus      `json:"status,omitempty"`
	Error      string             `json:"error,omitempty"`
}

// TokenPayload is one simulated streaming chunk of a final answer.
type TokenPayload struct {
	MessageID string `json:"message_id"`
	Token     string `json:"token"`
}

// ToolCallPayload announces a tool invocation.
type ToolCallPayload struct {
	Name  string `json:"name"`
	Input string `json:"input"`
}

// ToolResultPayload carries the textual outcome of a tool invocation.
type ToolResultPayload struct {
	Name   string `json:"name"`
	Output string `json:"output"`
}

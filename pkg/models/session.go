// Package models provides domain types for the dbpilot agent system.
package models

import (
	"time"
)

// SessionStatus tracks the lifecycle state of an agent session.
type SessionStatus string

const (
	StatusRunning   SessionStatus = "running"
	StatusCompleted SessionStatus = "completed"
	StatusError     SessionStatus = "error"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message metadata "type" values. The UI keys its rendering off these.
const (
	MessageTypeUser          = "user"
	MessageTypeThought       = "thought"
	MessageTypeToolCall      = "tool_call"
	MessageTypeToolResult    = "tool_result"
	MessageTypeFinal         = "final"
	MessageTypeSQLSuggestion = "sql_suggestion"
)

// Session represents a persisted, resumable conversation between a user and
// the agent, scoped to one database connection.
type Session struct {
	ID           string         `json:"id"`
	ConnectionID string         `json:"connection_id,omitempty"`
	Title        string         `json:"title,omitempty"`
	Status       SessionStatus  `json:"status"`
	LastMessage  string         `json:"last_message,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Message is a single entry in a session's append-only history.
// Insertion order is the sole source of truth for conversation replay.
type Message struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

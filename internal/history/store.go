// Package history persists agent sessions and their message transcripts.
// Messages are append-only; their insertion order is the sole source of truth
// for conversation replay.
package history

import (
	"context"
	"errors"

	"github.com/haasonsaas/dbpilot/pkg/models"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("session not found")

// CreateSessionInput carries the fields set at session creation.
type CreateSessionInput struct {
	ConnectionID string
	Title        string
	Metadata     map[string]any
}

// AppendMessageInput carries one message to append to a session. ID is
// optional; stores generate one when it is empty. Callers supply an ID when
// the message was already announced under that ID (streaming placeholders).
type AppendMessageInput struct {
	ID       string
	Role     models.Role
	Content  string
	Metadata map[string]any
}

// SessionUpdate is a partial update; nil fields are left unchanged.
type SessionUpdate struct {
	Status      *models.SessionStatus
	LastMessage *string
	Title       *string
	Metadata    map[string]any
}

// Store is the persistence facade for sessions and messages.
type Store interface {
	// CreateSession creates a session and returns the stored record.
	CreateSession(ctx context.Context, input CreateSessionInput) (*models.Session, error)

	// AppendMessage appends one message and touches the session's
	// updated_at timestamp atomically.
	AppendMessage(ctx context.Context, sessionID string, input AppendMessageInput) (*models.Message, error)

	// UpdateSession applies a partial update to a session.
	UpdateSession(ctx context.Context, sessionID string, update SessionUpdate) error

	// GetSessionWithMessages returns a session and its full transcript in
	// insertion order.
	GetSessionWithMessages(ctx context.Context, sessionID string) (*models.Session, []models.Message, error)

	// ListSessions returns sessions ordered by most recent activity.
	ListSessions(ctx context.Context, limit int) ([]*models.Session, error)

	// Close releases store resources.
	Close() error
}

package history

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/dbpilot/pkg/models"
)

// MemoryStore is an in-memory Store for tests and ephemeral runs. All returns
// are deep copies so callers cannot mutate stored state.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.Session
	messages map[string][]models.Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.Session),
		messages: make(map[string][]models.Message),
	}
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

// CreateSession creates a session record with status running.
func (s *MemoryStore) CreateSession(ctx context.Context, input CreateSessionInput) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	session := &models.Session{
		ID:           uuid.NewString(),
		ConnectionID: input.ConnectionID,
		Title:        input.Title,
		Status:       models.StatusRunning,
		Metadata:     cloneMetadata(input.Metadata),
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	s.sessions[session.ID] = session
	return cloneSession(session), nil
}

// AppendMessage appends one message to the session's transcript.
func (s *MemoryStore) AppendMessage(ctx context.Context, sessionID string, input AppendMessageInput) (*models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}

	id := input.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	msg := models.Message{
		ID:        id,
		SessionID: sessionID,
		Role:      input.Role,
		Content:   input.Content,
		Metadata:  cloneMetadata(input.Metadata),
		CreatedAt: now,
	}

	s.messages[sessionID] = append(s.messages[sessionID], msg)
	session.UpdatedAt = now

	out := msg
	out.Metadata = cloneMetadata(msg.Metadata)
	return &out, nil
}

// UpdateSession applies the non-nil fields of the update.
func (s *MemoryStore) UpdateSession(ctx context.Context, sessionID string, update SessionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}

	if update.Status != nil {
		session.Status = *update.Status
	}
	if update.LastMessage != nil {
		session.LastMessage = *update.LastMessage
	}
	if update.Title != nil {
		session.Title = *update.Title
	}
	if update.Metadata != nil {
		session.Metadata = cloneMetadata(update.Metadata)
	}
	session.UpdatedAt = time.Now().UTC()
	return nil
}

// GetSessionWithMessages returns a session and its transcript in insertion order.
func (s *MemoryStore) GetSessionWithMessages(ctx context.Context, sessionID string) (*models.Session, []models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}

	stored := s.messages[sessionID]
	messages := make([]models.Message, len(stored))
	for i, msg := range stored {
		messages[i] = msg
		messages[i].Metadata = cloneMetadata(msg.Metadata)
	}

	return cloneSession(session), messages, nil
}

// ListSessions returns sessions by most recent activity.
func (s *MemoryStore) ListSessions(ctx context.Context, limit int) ([]*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	sessions := make([]*models.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, cloneSession(session))
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	if len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

func cloneSession(session *models.Session) *models.Session {
	out := *session
	out.Metadata = cloneMetadata(session.Metadata)
	return &out
}

func cloneMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}

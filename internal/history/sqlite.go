package history

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/haasonsaas/dbpilot/pkg/models"
)

// SQLiteStore implements Store on an embedded SQLite file. It is the default
// backend for single-machine deployments; timestamps are stored as RFC 3339
// text.
type SQLiteStore struct {
	db *sql.DB
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS agent_sessions (
	id TEXT PRIMARY KEY,
	connection_id TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'running',
	last_message TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS agent_messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES agent_sessions(id),
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_agent_messages_session ON agent_messages(session_id, created_at);
`

// NewSQLiteStore opens (or creates) the history database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite supports one writer; serialize through a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateSession creates a session record with status running.
func (s *SQLiteStore) CreateSession(ctx context.Context, input CreateSessionInput) (*models.Session, error) {
	now := time.Now().UTC()
	session := &models.Session{
		ID:           uuid.NewString(),
		ConnectionID: input.ConnectionID,
		Title:        input.Title,
		Status:       models.StatusRunning,
		Metadata:     input.Metadata,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	metadata, err := mustJSON(session.Metadata)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_sessions (id, connection_id, title, status, last_message, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		session.ID,
		session.ConnectionID,
		session.Title,
		string(session.Status),
		session.LastMessage,
		string(metadata),
		formatTime(session.CreatedAt),
		formatTime(session.UpdatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return session, nil
}

// AppendMessage inserts the message and touches the session timestamp in one
// transaction.
func (s *SQLiteStore) AppendMessage(ctx context.Context, sessionID string, input AppendMessageInput) (*models.Message, error) {
	id := input.ID
	if id == "" {
		id = uuid.NewString()
	}
	msg := &models.Message{
		ID:        id,
		SessionID: sessionID,
		Role:      input.Role,
		Content:   input.Content,
		Metadata:  input.Metadata,
		CreatedAt: time.Now().UTC(),
	}

	metadata, err := mustJSON(msg.Metadata)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO agent_messages (id, session_id, role, content, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.SessionID,
		string(msg.Role),
		msg.Content,
		string(metadata),
		formatTime(msg.CreatedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "UPDATE agent_sessions SET updated_at = ? WHERE id = ?", formatTime(time.Now().UTC()), sessionID); err != nil {
		return nil, fmt.Errorf("failed to update session timestamp: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit message: %w", err)
	}
	return msg, nil
}

// UpdateSession applies the non-nil fields of the update.
func (s *SQLiteStore) UpdateSession(ctx context.Context, sessionID string, update SessionUpdate) error {
	sets := []string{"updated_at = ?"}
	args := []any{formatTime(time.Now().UTC())}

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.LastMessage != nil {
		sets = append(sets, "last_message = ?")
		args = append(args, *update.LastMessage)
	}
	if update.Title != nil {
		sets = append(sets, "title = ?")
		args = append(args, *update.Title)
	}
	if update.Metadata != nil {
		metadata, err := mustJSON(update.Metadata)
		if err != nil {
			return err
		}
		sets = append(sets, "metadata = ?")
		args = append(args, string(metadata))
	}

	query := fmt.Sprintf("UPDATE agent_sessions SET %s WHERE id = ?", strings.Join(sets, ", "))
	args = append(args, sessionID)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	return nil
}

// GetSessionWithMessages returns a session and its transcript in insertion order.
func (s *SQLiteStore) GetSessionWithMessages(ctx context.Context, sessionID string) (*models.Session, []models.Message, error) {
	session, err := s.scanSession(s.db.QueryRowContext(ctx, `
		SELECT id, connection_id, title, status, last_message, metadata, created_at, updated_at
		FROM agent_sessions WHERE id = ?
	`, sessionID))
	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get session: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, metadata, created_at
		FROM agent_messages WHERE session_id = ?
		ORDER BY created_at, id
	`, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		var role, createdAt string
		var metadataJSON []byte
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &metadataJSON, &createdAt); err != nil {
			return nil, nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = models.Role(role)
		msg.CreatedAt = parseTime(createdAt)
		if err := unmarshalMetadata(metadataJSON, &msg.Metadata); err != nil {
			return nil, nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("error iterating messages: %w", err)
	}

	return session, messages, nil
}

// ListSessions returns sessions by most recent activity.
func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]*models.Session, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, connection_id, title, status, last_message, metadata, created_at, updated_at
		FROM agent_sessions
		ORDER BY updated_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session, err := s.scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanSession(row rowScanner) (*models.Session, error) {
	session := &models.Session{}
	var status, createdAt, updatedAt string
	var metadataJSON []byte

	err := row.Scan(
		&session.ID,
		&session.ConnectionID,
		&session.Title,
		&status,
		&session.LastMessage,
		&metadataJSON,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	session.Status = models.SessionStatus(status)
	session.CreatedAt = parseTime(createdAt)
	session.UpdatedAt = parseTime(updatedAt)
	if err := unmarshalMetadata(metadataJSON, &session.Metadata); err != nil {
		return nil, err
	}
	return session, nil
}

func formatTime(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/haasonsaas/dbpilot/pkg/models"
)

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	db *sql.DB

	// Prepared statements for the hot paths
	stmtCreateSession *sql.Stmt
	stmtGetSession    *sql.Stmt
	stmtAppendMessage *sql.Stmt
	stmtGetMessages   *sql.Stmt
}

// PostgresConfig holds connection settings for the history database.
type PostgresConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultPostgresConfig returns default configuration.
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// withDefaults fills unset pool and timeout fields so a config built from just
// a DSN still connects.
func (c *PostgresConfig) withDefaults() *PostgresConfig {
	out := *c
	def := DefaultPostgresConfig()
	if out.MaxOpenConns <= 0 {
		out.MaxOpenConns = def.MaxOpenConns
	}
	if out.MaxIdleConns <= 0 {
		out.MaxIdleConns = def.MaxIdleConns
	}
	if out.ConnMaxLifetime <= 0 {
		out.ConnMaxLifetime = def.ConnMaxLifetime
	}
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = def.ConnectTimeout
	}
	return &out
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS agent_sessions (
	id TEXT PRIMARY KEY,
	connection_id TEXT NOT NULL DEFAULT '',
	title TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'running',
	last_message TEXT NOT NULL DEFAULT '',
	metadata JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS agent_messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES agent_sessions(id),
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	metadata JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_agent_messages_session ON agent_messages(session_id, created_at);
`

// NewPostgresStore opens the history database and prepares statements.
func NewPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	if config == nil || config.DSN == "" {
		return nil, fmt.Errorf("postgres DSN is required")
	}
	config = config.withDefaults()

	db, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	return store, nil
}

// NewPostgresStoreFromDB wraps an existing handle. Used by tests.
func NewPostgresStoreFromDB(db *sql.DB) (*PostgresStore, error) {
	store := &PostgresStore{db: db}
	if err := store.prepareStatements(); err != nil {
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}
	return store, nil
}

func (s *PostgresStore) prepareStatements() error {
	var err error

	s.stmtCreateSession, err = s.db.Prepare(`
		INSERT INTO agent_sessions (id, connection_id, title, status, last_message, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare create session: %w", err)
	}

	s.stmtGetSession, err = s.db.Prepare(`
		SELECT id, connection_id, title, status, last_message, metadata, created_at, updated_at
		FROM agent_sessions WHERE id = $1
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get session: %w", err)
	}

	s.stmtAppendMessage, err = s.db.Prepare(`
		INSERT INTO agent_messages (id, session_id, role, content, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare append message: %w", err)
	}

	s.stmtGetMessages, err = s.db.Prepare(`
		SELECT id, session_id, role, content, metadata, created_at
		FROM agent_messages WHERE session_id = $1
		ORDER BY created_at, id
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare get messages: %w", err)
	}

	return nil
}

// Close closes the prepared statements and the database handle.
func (s *PostgresStore) Close() error {
	var errs []error
	for _, stmt := range []*sql.Stmt{s.stmtCreateSession, s.stmtGetSession, s.stmtAppendMessage, s.stmtGetMessages} {
		if stmt != nil {
			if err := stmt.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("errors closing store: %v", errs)
	}
	return nil
}

// CreateSession creates a session record with status running.
func (s *PostgresStore) CreateSession(ctx context.Context, input CreateSessionInput) (*models.Session, error) {
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

	_, err = s.stmtCreateSession.ExecContext(ctx,
		session.ID,
		session.ConnectionID,
		session.Title,
		string(session.Status),
		session.LastMessage,
		metadata,
		session.CreatedAt,
		session.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return session, nil
}

// AppendMessage inserts the message and touches the session timestamp in one
// transaction so the transcript and the session row never drift apart.
func (s *PostgresStore) AppendMessage(ctx context.Context, sessionID string, input AppendMessageInput) (*models.Message, error) {
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

	_, err = tx.StmtContext(ctx, s.stmtAppendMessage).ExecContext(ctx,
		msg.ID,
		msg.SessionID,
		string(msg.Role),
		msg.Content,
		metadata,
		msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "UPDATE agent_sessions SET updated_at = $1 WHERE id = $2", time.Now().UTC(), sessionID); err != nil {
		return nil, fmt.Errorf("failed to update session timestamp: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit message: %w", err)
	}
	return msg, nil
}

// UpdateSession applies the non-nil fields of the update.
func (s *PostgresStore) UpdateSession(ctx context.Context, sessionID string, update SessionUpdate) error {
	sets := []string{"updated_at = $1"}
	args := []any{time.Now().UTC()}
	pos := 2

	if update.Status != nil {
		sets = append(sets, fmt.Sprintf("status = $%d", pos))
		args = append(args, string(*update.Status))
		pos++
	}
	if update.LastMessage != nil {
		sets = append(sets, fmt.Sprintf("last_message = $%d", pos))
		args = append(args, *update.LastMessage)
		pos++
	}
	if update.Title != nil {
		sets = append(sets, fmt.Sprintf("title = $%d", pos))
		args = append(args, *update.Title)
		pos++
	}
	if update.Metadata != nil {
		metadata, err := mustJSON(update.Metadata)
		if err != nil {
			return err
		}
		sets = append(sets, fmt.Sprintf("metadata = $%d", pos))
		args = append(args, metadata)
		pos++
	}

	query := fmt.Sprintf("UPDATE agent_sessions SET %s WHERE id = $%d", strings.Join(sets, ", "), pos)
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
func (s *PostgresStore) GetSessionWithMessages(ctx context.Context, sessionID string) (*models.Session, []models.Message, error) {
	session := &models.Session{}
	var status string
	var metadataJSON []byte

	err := s.stmtGetSession.QueryRowContext(ctx, sessionID).Scan(
		&session.ID,
		&session.ConnectionID,
		&session.Title,
		&status,
		&session.LastMessage,
		&metadataJSON,
		&session.CreatedAt,
		&session.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, sessionID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get session: %w", err)
	}
	session.Status = models.SessionStatus(status)
	if err := unmarshalMetadata(metadataJSON, &session.Metadata); err != nil {
		return nil, nil, err
	}

	rows, err := s.stmtGetMessages.QueryContext(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var msg models.Message
		var role string
		var msgMetadata []byte
		if err := rows.Scan(&msg.ID, &msg.SessionID, &role, &msg.Content, &msgMetadata, &msg.CreatedAt); err != nil {
			return nil, nil, fmt.Errorf("failed to scan message: %w", err)
		}
		msg.Role = models.Role(role)
		if err := unmarshalMetadata(msgMetadata, &msg.Metadata); err != nil {
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
func (s *PostgresStore) ListSessions(ctx context.Context, limit int) ([]*models.Session, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, connection_id, title, status, last_message, metadata, created_at, updated_at
		FROM agent_sessions
		ORDER BY updated_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		session := &models.Session{}
		var status string
		var metadataJSON []byte
		err := rows.Scan(
			&session.ID,
			&session.ConnectionID,
			&session.Title,
			&status,
			&session.LastMessage,
			&metadataJSON,
			&session.CreatedAt,
			&session.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		session.Status = models.SessionStatus(status)
		if err := unmarshalMetadata(metadataJSON, &session.Metadata); err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}

	return sessions, nil
}

func mustJSON(metadata map[string]any) ([]byte, error) {
	if metadata == nil {
		return []byte("{}"), nil
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return encoded, nil
}

func unmarshalMetadata(raw []byte, dst *map[string]any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return nil
}

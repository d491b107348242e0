package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/haasonsaas/dbpilot/pkg/models"
)

func newPostgresStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mock.ExpectPrepare("INSERT INTO agent_sessions")
	mock.ExpectPrepare("SELECT (.+) FROM agent_sessions WHERE id")
	mock.ExpectPrepare("INSERT INTO agent_messages")
	mock.ExpectPrepare("SELECT (.+) FROM agent_messages WHERE session_id")

	store, err := NewPostgresStoreFromDB(db)
	if err != nil {
		t.Fatalf("NewPostgresStoreFromDB: %v", err)
	}
	return store, mock
}

func TestPostgresConfigWithDefaults(t *testing.T) {
	// A DSN-only config must still get workable pool and timeout settings.
	cfg := (&PostgresConfig{DSN: "postgres://localhost/history"}).withDefaults()
	if cfg.ConnectTimeout != 10*time.Second {
		t.Errorf("ConnectTimeout = %v, want %v", cfg.ConnectTimeout, 10*time.Second)
	}
	if cfg.MaxOpenConns != 25 {
		t.Errorf("MaxOpenConns = %d, want 25", cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns != 5 {
		t.Errorf("MaxIdleConns = %d, want 5", cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime != 5*time.Minute {
		t.Errorf("ConnMaxLifetime = %v, want %v", cfg.ConnMaxLifetime, 5*time.Minute)
	}
	if cfg.DSN != "postgres://localhost/history" {
		t.Errorf("DSN = %q, want original", cfg.DSN)
	}

	// Explicit settings win over defaults.
	custom := (&PostgresConfig{
		DSN:            "postgres://localhost/history",
		MaxOpenConns:   3,
		ConnectTimeout: time.Second,
	}).withDefaults()
	if custom.MaxOpenConns != 3 {
		t.Errorf("MaxOpenConns = %d, want 3", custom.MaxOpenConns)
	}
	if custom.ConnectTimeout != time.Second {
		t.Errorf("ConnectTimeout = %v, want %v", custom.ConnectTimeout, time.Second)
	}
}

func TestPostgresCreateSession(t *testing.T) {
	store, mock := newPostgresStore(t)
	mock.ExpectExec("INSERT INTO agent_sessions").
		WillReturnResult(sqlmock.NewResult(0, 1))

	session, err := store.CreateSession(context.Background(), CreateSessionInput{
		ConnectionID: "conn-1",
		Title:        "orders",
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if session.ID == "" {
		t.Error("CreateSession returned empty ID")
	}
	if session.Status != models.StatusRunning {
		t.Errorf("Status = %q, want running", session.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresAppendMessageTransactional(t *testing.T) {
	store, mock := newPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO agent_messages").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE agent_sessions SET updated_at").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	msg, err := store.AppendMessage(context.Background(), "s1", AppendMessageInput{
		Role:    models.RoleUser,
		Content: "hello",
	})
	if err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if msg.SessionID != "s1" || msg.Role != models.RoleUser {
		t.Errorf("message = %+v, want user message in s1", msg)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresAppendMessageRollsBackOnTouchFailure(t *testing.T) {
	store, mock := newPostgresStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO agent_messages").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE agent_sessions SET updated_at").
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	if _, err := store.AppendMessage(context.Background(), "s1", AppendMessageInput{
		Role:    models.RoleUser,
		Content: "hello",
	}); err == nil {
		t.Fatal("AppendMessage succeeded, want error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresUpdateSessionPartial(t *testing.T) {
	store, mock := newPostgresStore(t)

	mock.ExpectExec(`UPDATE agent_sessions SET updated_at = \$1, status = \$2 WHERE id = \$3`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	status := models.StatusCompleted
	if err := store.UpdateSession(context.Background(), "s1", SessionUpdate{Status: &status}); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPostgresUpdateSessionNotFound(t *testing.T) {
	store, mock := newPostgresStore(t)

	mock.ExpectExec("UPDATE agent_sessions").
		WillReturnResult(sqlmock.NewResult(0, 0))

	status := models.StatusError
	err := store.UpdateSession(context.Background(), "missing", SessionUpdate{Status: &status})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestPostgresGetSessionWithMessages(t *testing.T) {
	store, mock := newPostgresStore(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM agent_sessions WHERE id").
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "connection_id", "title", "status", "last_message", "metadata", "created_at", "updated_at"}).
			AddRow("s1", "conn-1", "orders", "completed", "done", []byte(`{"k":"v"}`), now, now))
	mock.ExpectQuery("SELECT (.+) FROM agent_messages WHERE session_id").
		WithArgs("s1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "session_id", "role", "content", "metadata", "created_at"}).
			AddRow("m1", "s1", "user", "hello", []byte(`{"type":"user"}`), now).
			AddRow("m2", "s1", "assistant", "hi", []byte(`{}`), now))

	session, messages, err := store.GetSessionWithMessages(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetSessionWithMessages: %v", err)
	}
	if session.Status != models.StatusCompleted {
		t.Errorf("Status = %q, want completed", session.Status)
	}
	if session.Metadata["k"] != "v" {
		t.Errorf("Metadata = %v, want k:v", session.Metadata)
	}
	if len(messages) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(messages))
	}
	if messages[0].Role != models.RoleUser || messages[0].Content != "hello" {
		t.Errorf("messages[0] = %+v, want the user message", messages[0])
	}
	if messages[0].Metadata["type"] != "user" {
		t.Errorf("messages[0].Metadata = %v, want type:user", messages[0].Metadata)
	}
}

func TestPostgresGetSessionNotFound(t *testing.T) {
	store, mock := newPostgresStore(t)

	mock.ExpectQuery("SELECT (.+) FROM agent_sessions WHERE id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "connection_id", "title", "status", "last_message", "metadata", "created_at", "updated_at"}))

	_, _, err := store.GetSessionWithMessages(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

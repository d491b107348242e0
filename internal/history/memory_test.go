package history

import (
	"context"
	"errors"
	"testing"

	"github.com/haasonsaas/dbpilot/pkg/models"
)

func TestMemoryStoreSessionLifecycle(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	session, err := store.CreateSession(ctx, CreateSessionInput{
		ConnectionID: "conn-1",
		Title:        "Describe task executions",
	})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if session.ID == "" {
		t.Fatal("CreateSession returned empty ID")
	}
	if session.Status != models.StatusRunning {
		t.Errorf("Status = %q, want running", session.Status)
	}

	completed := models.StatusCompleted
	last := "Here is the query"
	if err := store.UpdateSession(ctx, session.ID, SessionUpdate{Status: &completed, LastMessage: &last}); err != nil {
		t.Fatalf("UpdateSession: %v", err)
	}

	got, _, err := store.GetSessionWithMessages(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSessionWithMessages: %v", err)
	}
	if got.Status != models.StatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if got.LastMessage != last {
		t.Errorf("LastMessage = %q, want %q", got.LastMessage, last)
	}
	// Partial update left the title alone.
	if got.Title != "Describe task executions" {
		t.Errorf("Title = %q, want unchanged", got.Title)
	}
}

func TestMemoryStoreMessagesInInsertionOrder(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	session, err := store.CreateSession(ctx, CreateSessionInput{})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	contents := []string{"first", "second", "third"}
	for _, content := range contents {
		if _, err := store.AppendMessage(ctx, session.ID, AppendMessageInput{
			Role:    models.RoleUser,
			Content: content,
		}); err != nil {
			t.Fatalf("AppendMessage(%q): %v", content, err)
		}
	}

	_, messages, err := store.GetSessionWithMessages(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSessionWithMessages: %v", err)
	}
	if len(messages) != len(contents) {
		t.Fatalf("len(messages) = %d, want %d", len(messages), len(contents))
	}
	for i, content := range contents {
		if messages[i].Content != content {
			t.Errorf("messages[%d].Content = %q, want %q", i, messages[i].Content, content)
		}
	}
}

func TestMemoryStoreNotFound(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.AppendMessage(ctx, "missing", AppendMessageInput{Role: models.RoleUser, Content: "x"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("AppendMessage err = %v, want ErrNotFound", err)
	}
	if err := store.UpdateSession(ctx, "missing", SessionUpdate{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateSession err = %v, want ErrNotFound", err)
	}
	if _, _, err := store.GetSessionWithMessages(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSessionWithMessages err = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	session, err := store.CreateSession(ctx, CreateSessionInput{Metadata: map[string]any{"k": "v"}})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	session.Title = "mutated"
	session.Metadata["k"] = "mutated"

	got, _, err := store.GetSessionWithMessages(ctx, session.ID)
	if err != nil {
		t.Fatalf("GetSessionWithMessages: %v", err)
	}
	if got.Title == "mutated" {
		t.Error("caller mutation leaked into stored title")
	}
	if got.Metadata["k"] != "v" {
		t.Error("caller mutation leaked into stored metadata")
	}
}

func TestMemoryStoreListSessions(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, err := store.CreateSession(ctx, CreateSessionInput{Title: "first"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	second, err := store.CreateSession(ctx, CreateSessionInput{Title: "second"})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	// Touch the first session so it becomes the most recent.
	if _, err := store.AppendMessage(ctx, first.ID, AppendMessageInput{Role: models.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	sessions, err := store.ListSessions(ctx, 0)
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("len(sessions) = %d, want 2", len(sessions))
	}
	if sessions[0].ID != first.ID {
		t.Errorf("sessions[0].ID = %q, want the recently touched session", sessions[0].ID)
	}
	if sessions[1].ID != second.ID {
		t.Errorf("sessions[1].ID = %q, want the idle session", sessions[1].ID)
	}

	limited, err := store.ListSessions(ctx, 1)
	if err != nil {
		t.Fatalf("ListSessions(1): %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("len(limited) = %d, want 1", len(limited))
	}
}

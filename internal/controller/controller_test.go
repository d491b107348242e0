package controller

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/haasonsaas/dbpilot/internal/database"
	"github.com/haasonsaas/dbpilot/internal/history"
	"github.com/haasonsaas/dbpilot/internal/orchestrator"
	"github.com/haasonsaas/dbpilot/internal/tools"
	"github.com/haasonsaas/dbpilot/pkg/models"
)

// recorder captures notifications and signals when a terminal status arrives.
type recorder struct {
	mu    sync.Mutex
	notes []models.Notification
	done  chan struct{}
	once  sync.Once
}

func newRecorder() *recorder {
	return &recorder{done: make(chan struct{})}
}

func (r *recorder) Notify(ctx context.Context, n models.Notification) {
	r.mu.Lock()
	r.notes = append(r.notes, n)
	r.mu.Unlock()
	if n.Type == models.NotifyStatus && n.Status != models.StatusRunning {
		r.once.Do(func() { close(r.done) })
	}
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not reach a terminal status")
	}
}

func (r *recorder) all() []models.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Notification(nil), r.notes...)
}

func (r *recorder) byType(nt models.NotificationType) []models.Notification {
	var out []models.Notification
	for _, n := range r.all() {
		if n.Type == nt {
			out = append(out, n)
		}
	}
	return out
}

// queueProvider replays canned replies and counts calls.
type queueProvider struct {
	replies []string
	calls   int32
}

func (p *queueProvider) Name() string { return "queue" }

func (p *queueProvider) Complete(ctx context.Context, prompt string) (string, error) {
	n := atomic.AddInt32(&p.calls, 1)
	if int(n) > len(p.replies) {
		return "", errors.New("no scripted reply")
	}
	return p.replies[n-1], nil
}

// gateProvider blocks until released or the context is done.
type gateProvider struct {
	release chan struct{}
	calls   int32
}

func (p *gateProvider) Name() string { return "gate" }

func (p *gateProvider) Complete(ctx context.Context, prompt string) (string, error) {
	atomic.AddInt32(&p.calls, 1)
	select {
	case <-p.release:
		return `{"thought":"t","action":null,"finalAnswer":"late answer"}`, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

type cannedTool struct {
	name   string
	result *tools.Result
}

func (t *cannedTool) Name() string        { return t.name }
func (t *cannedTool) Description() string { return "canned" }
func (t *cannedTool) InputSchema() string { return `{"type":"object"}` }
func (t *cannedTool) Run(ctx context.Context, input string, tctx *tools.Context) (*tools.Result, error) {
	return t.result, nil
}

func testConn(t *testing.T) *database.Conn {
	t.Helper()
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return database.NewConn("conn-1", db)
}

func newController(t *testing.T, provider orchestrator.Provider, registry *tools.Registry) (*Controller, *history.MemoryStore) {
	t.Helper()
	if registry == nil {
		registry = tools.NewRegistry()
	}
	store := history.NewMemoryStore()
	c := New(store, orchestrator.New(provider, registry, nil), nil, nil)
	c.SetConnection(testConn(t))
	return c, store
}

func TestStartRequiresConnection(t *testing.T) {
	provider := &queueProvider{}
	store := history.NewMemoryStore()
	c := New(store, orchestrator.New(provider, tools.NewRegistry(), nil), nil, nil)

	_, err := c.StartOrContinueSession(context.Background(), "hello", NopSink{}, "")
	if !errors.Is(err, ErrNoConnection) {
		t.Fatalf("err = %v, want ErrNoConnection", err)
	}
	if atomic.LoadInt32(&provider.calls) != 0 {
		t.Error("model was called despite missing connection")
	}
}

func TestStartNewSessionFullFlow(t *testing.T) {
	answer := strings.Repeat("All task executions succeeded. ", 12) // > 2 chunks
	provider := &queueProvider{replies: []string{
		`{"thought":"Check the schema","action":{"name":"schema_inspector","input":"{}"}}`,
		`{"thought":"Ready","action":null,"finalAnswer":` + jsonString(answer) + `}`,
	}}
	registry := tools.NewRegistry()
	registry.Register(&cannedTool{name: "schema_inspector", result: &tools.Result{
		Summary: "Schema ready",
		Data:    map[string]any{"tables": 3},
		Kind:    "schema",
	}})

	c, store := newController(t, provider, registry)
	rec := newRecorder()

	session, err := c.StartOrContinueSession(context.Background(), "Describe task executions", rec, "")
	if err != nil {
		t.Fatalf("StartOrContinueSession: %v", err)
	}
	if session.ID == "" || session.Status != models.StatusRunning {
		t.Fatalf("session = %+v, want running with an ID", session)
	}
	rec.wait(t)

	// Session-started came before anything else.
	notes := rec.all()
	if notes[0].Type != models.NotifySessionStarted || notes[0].Session == nil {
		t.Errorf("notes[0] = %+v, want session-started with the session", notes[0])
	}

	// Tokens reassemble the full answer and reference the placeholder.
	tokens := rec.byType(models.NotifyToken)
	if len(tokens) < 2 {
		t.Fatalf("token notifications = %d, want several", len(tokens))
	}
	var rebuilt strings.Builder
	for _, n := range tokens {
		if n.Token.MessageID != tokens[0].Token.MessageID {
			t.Error("token notifications reference different message IDs")
		}
		rebuilt.WriteString(n.Token.Token)
	}
	if rebuilt.String() != answer {
		t.Errorf("concatenated tokens != final answer (%d vs %d chars)", rebuilt.Len(), len(answer))
	}

	// The canonical final message was persisted once under the placeholder ID.
	_, messages, err := store.GetSessionWithMessages(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetSessionWithMessages: %v", err)
	}
	var finals []models.Message
	for _, msg := range messages {
		if msg.Metadata["type"] == models.MessageTypeFinal {
			finals = append(finals, msg)
		}
	}
	if len(finals) != 1 {
		t.Fatalf("persisted final messages = %d, want 1", len(finals))
	}
	if finals[0].Content != answer {
		t.Error("persisted final content differs from the answer")
	}
	if finals[0].ID != tokens[0].Token.MessageID {
		t.Error("final message ID differs from the streamed placeholder ID")
	}

	// Transcript contains the user message, thought, tool call, and result.
	wantTypes := []string{
		models.MessageTypeUser,
		models.MessageTypeThought,
		models.MessageTypeToolCall,
		models.MessageTypeToolResult,
		models.MessageTypeThought,
		models.MessageTypeFinal,
	}
	if len(messages) != len(wantTypes) {
		t.Fatalf("persisted messages = %d, want %d", len(messages), len(wantTypes))
	}
	for i, want := range wantTypes {
		if messages[i].Metadata["type"] != want {
			t.Errorf("messages[%d] type = %v, want %q", i, messages[i].Metadata["type"], want)
		}
	}

	// Terminal state.
	got, _, err := store.GetSessionWithMessages(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetSessionWithMessages: %v", err)
	}
	if got.Status != models.StatusCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if got.LastMessage != answer {
		t.Error("LastMessage not set to the final answer")
	}

	if calls := rec.byType(models.NotifyToolCall); len(calls) != 1 || calls[0].ToolCall.Name != "schema_inspector" {
		t.Errorf("tool-call notifications = %+v, want one for schema_inspector", calls)
	}
	if results := rec.byType(models.NotifyToolResult); len(results) != 1 || !strings.Contains(results[0].ToolResult.Output, "Schema ready") {
		t.Errorf("tool-result notifications = %+v, want one containing the summary", results)
	}
}

func TestStartRejectsReentry(t *testing.T) {
	provider := &gateProvider{release: make(chan struct{})}
	c, _ := newController(t, provider, nil)
	rec := newRecorder()

	session, err := c.StartOrContinueSession(context.Background(), "first", rec, "")
	if err != nil {
		t.Fatalf("StartOrContinueSession: %v", err)
	}

	before := atomic.LoadInt32(&provider.calls)
	_, err = c.StartOrContinueSession(context.Background(), "second", rec, session.ID)
	if !errors.Is(err, ErrSessionBusy) {
		t.Fatalf("err = %v, want ErrSessionBusy", err)
	}
	if want := "That session is already running. Please wait."; err.Error() != want {
		t.Errorf("err text = %q, want %q", err.Error(), want)
	}
	if atomic.LoadInt32(&provider.calls) > before+1 {
		t.Error("re-entry triggered an extra model call")
	}

	close(provider.release)
	rec.wait(t)
}

func TestCancelMarksSessionError(t *testing.T) {
	provider := &gateProvider{release: make(chan struct{})}
	c, store := newController(t, provider, nil)
	rec := newRecorder()

	session, err := c.StartOrContinueSession(context.Background(), "slow question", rec, "")
	if err != nil {
		t.Fatalf("StartOrContinueSession: %v", err)
	}

	// Give the run a moment to enter the model call, then cancel.
	waitFor(t, func() bool { return atomic.LoadInt32(&provider.calls) > 0 })
	if err := c.Cancel(session.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	rec.wait(t)

	got, _, err := store.GetSessionWithMessages(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetSessionWithMessages: %v", err)
	}
	if got.Status != models.StatusError {
		t.Errorf("Status = %q, want error", got.Status)
	}

	// The slot is free again: a new run on the same session is accepted.
	waitFor(t, func() bool {
		_, err := c.StartOrContinueSession(context.Background(), "retry", NopSink{}, session.ID)
		return err == nil
	})
}

func TestCancelWithoutRun(t *testing.T) {
	c, _ := newController(t, &queueProvider{}, nil)
	if err := c.Cancel("missing"); !errors.Is(err, ErrNoActiveRun) {
		t.Errorf("err = %v, want ErrNoActiveRun", err)
	}
}

func TestSQLSuggestionPromotion(t *testing.T) {
	provider := &queueProvider{replies: []string{
		`{"thought":"Suggest it","action":{"name":"query_suggestion","input":"{\"sql\":\"SELECT 1\",\"description\":\"probe\"}"}}`,
		`{"thought":"Done","action":null,"finalAnswer":"Suggested."}`,
	}}
	registry := tools.NewRegistry()
	registry.Register(&tools.QuerySuggestion{})

	c, store := newController(t, provider, registry)
	rec := newRecorder()

	session, err := c.StartOrContinueSession(context.Background(), "suggest a probe", rec, "")
	if err != nil {
		t.Fatalf("StartOrContinueSession: %v", err)
	}
	rec.wait(t)

	_, messages, err := store.GetSessionWithMessages(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetSessionWithMessages: %v", err)
	}
	var suggestion *models.Message
	for i := range messages {
		if messages[i].Metadata["type"] == models.MessageTypeSQLSuggestion {
			suggestion = &messages[i]
		}
	}
	if suggestion == nil {
		t.Fatal("no sql_suggestion message persisted")
	}
	if suggestion.Role != models.RoleAssistant {
		t.Errorf("suggestion role = %q, want assistant", suggestion.Role)
	}
	if suggestion.Metadata["sql"] != "SELECT 1" || suggestion.Metadata["description"] != "probe" {
		t.Errorf("suggestion metadata = %v, want sql and description", suggestion.Metadata)
	}
}

func TestProviderErrorMarksSessionError(t *testing.T) {
	provider := &queueProvider{} // no replies: first call errors
	c, store := newController(t, provider, nil)
	rec := newRecorder()

	session, err := c.StartOrContinueSession(context.Background(), "doomed", rec, "")
	if err != nil {
		t.Fatalf("StartOrContinueSession: %v", err)
	}
	rec.wait(t)

	got, _, err := store.GetSessionWithMessages(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetSessionWithMessages: %v", err)
	}
	if got.Status != models.StatusError {
		t.Errorf("Status = %q, want error", got.Status)
	}
	if errs := rec.byType(models.NotifyError); len(errs) != 1 {
		t.Errorf("error notifications = %d, want 1", len(errs))
	}
}

func TestContinueSessionSnapshotsHistory(t *testing.T) {
	provider := &queueProvider{replies: []string{
		`{"thought":"a","action":null,"finalAnswer":"first answer"}`,
		`{"thought":"b","action":null,"finalAnswer":"second answer"}`,
	}}
	c, store := newController(t, provider, nil)

	rec1 := newRecorder()
	session, err := c.StartOrContinueSession(context.Background(), "first question", rec1, "")
	if err != nil {
		t.Fatalf("first StartOrContinueSession: %v", err)
	}
	rec1.wait(t)

	rec2 := newRecorder()
	if _, err := c.StartOrContinueSession(context.Background(), "second question", rec2, session.ID); err != nil {
		t.Fatalf("second StartOrContinueSession: %v", err)
	}
	rec2.wait(t)

	// No session-started on continuation.
	if started := rec2.byType(models.NotifySessionStarted); len(started) != 0 {
		t.Errorf("session-started notifications on continue = %d, want 0", len(started))
	}

	_, messages, err := store.GetSessionWithMessages(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("GetSessionWithMessages: %v", err)
	}
	var users int
	for _, msg := range messages {
		if msg.Role == models.RoleUser {
			users++
		}
	}
	if users != 2 {
		t.Errorf("user messages = %d, want 2", users)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func jsonString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

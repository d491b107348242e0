// Package controller owns session lifecycle: it resolves or creates sessions,
// enforces the single-active-run-per-session invariant, drives orchestrator
// runs, persists every derived message, and fans notifications out to the UI
// boundary.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/dbpilot/internal/database"
	"github.com/haasonsaas/dbpilot/internal/history"
	"github.com/haasonsaas/dbpilot/internal/observability"
	"github.com/haasonsaas/dbpilot/internal/orchestrator"
	"github.com/haasonsaas/dbpilot/internal/tools"
	"github.com/haasonsaas/dbpilot/pkg/models"
)

var (
	// ErrNoConnection is returned when no database connection is active.
	ErrNoConnection = errors.New("no active database connection")

	// ErrSessionBusy rejects re-entry while a run is active for the session.
	// The text is shown to the user verbatim.
	ErrSessionBusy = errors.New("That session is already running. Please wait.")

	// ErrNoActiveRun is returned by Cancel when nothing is running.
	ErrNoActiveRun = errors.New("no active run for session")
)

const (
	// streamChunkSize is the simulated streaming chunk length in characters.
	// Presentation only; concatenating the chunks reproduces the text exactly.
	streamChunkSize = 80

	// titleRuneLimit caps session titles derived from the first intent.
	titleRuneLimit = 60
)

// activeRun tracks one in-flight orchestrator run.
type activeRun struct {
	cancel context.CancelFunc
	sink   Sink
}

// Controller coordinates sessions, runs, persistence, and notifications. The
// active-run registry is its only shared mutable state; it is created at
// process start and torn down at shutdown.
type Controller struct {
	store   history.Store
	orch    *orchestrator.Orchestrator
	logger  *slog.Logger
	metrics *observability.Metrics

	mu     sync.Mutex
	conn   *database.Conn
	active map[string]*activeRun
}

// New creates a controller. metrics may be nil.
func New(store history.Store, orch *orchestrator.Orchestrator, logger *slog.Logger, metrics *observability.Metrics) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		store:   store,
		orch:    orch,
		logger:  logger,
		metrics: metrics,
		active:  make(map[string]*activeRun),
	}
}

// SetConnection swaps the active database connection. Runs already in flight
// keep the connection they started with.
func (c *Controller) SetConnection(conn *database.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
}

// Connection returns the active database connection, or nil.
func (c *Controller) Connection() *database.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// StartOrContinueSession persists the user's intent, launches an orchestrator
// run asynchronously, and returns the session record right away; the caller
// is never blocked on model latency. Notifications for the run flow through
// sink. sessionID is empty for a new conversation.
//
// Configuration errors (no connection, session busy) are returned
// synchronously and never enter the notification stream.
func (c *Controller) StartOrContinueSession(ctx context.Context, intent string, sink Sink, sessionID string) (*models.Session, error) {
	if sink == nil {
		sink = NopSink{}
	}

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		return nil, ErrNoConnection
	}
	if sessionID != "" {
		if _, busy := c.active[sessionID]; busy {
			c.mu.Unlock()
			return nil, ErrSessionBusy
		}
	}
	c.mu.Unlock()

	var session *models.Session
	var prior []models.Message
	if sessionID == "" {
		created, err := c.store.CreateSession(ctx, history.CreateSessionInput{
			ConnectionID: conn.ID(),
			Title:        deriveTitle(intent),
		})
		if err != nil {
			return nil, err
		}
		session = created
		c.notify(ctx, sink, models.Notification{
			Type:      models.NotifySessionStarted,
			SessionID: session.ID,
			Session:   session,
		})
	} else {
		existing, messages, err := c.store.GetSessionWithMessages(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		session = existing
		prior = messages
	}

	// Reserve the run slot before any model interaction. The registry is
	// the single point where the one-run-per-session invariant lives.
	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if _, busy := c.active[session.ID]; busy {
		c.mu.Unlock()
		cancel()
		return nil, ErrSessionBusy
	}
	run := &activeRun{cancel: cancel, sink: sink}
	c.active[session.ID] = run
	c.mu.Unlock()

	release := func() {
		c.mu.Lock()
		delete(c.active, session.ID)
		c.mu.Unlock()
		cancel()
	}

	userMsg, err := c.persist(ctx, sink, session.ID, history.AppendMessageInput{
		Role:     models.RoleUser,
		Content:  intent,
		Metadata: map[string]any{"type": models.MessageTypeUser},
	})
	if err != nil {
		release()
		return nil, err
	}

	if err := c.setStatus(ctx, sink, session.ID, models.StatusRunning); err != nil {
		release()
		return nil, err
	}
	session.Status = models.StatusRunning

	// Snapshot: full prior transcript plus the message just written.
	snapshot := append(prior, *userMsg)

	c.metrics.RunStarted()
	go c.runLoop(runCtx, conn, run, session.ID, intent, snapshot, sink)

	return session, nil
}

// Cancel triggers the session's cancellation signal, releases the run slot,
// and marks the session failed immediately. Cancellation is advisory: an
// in-flight model or tool call finishes before the loop observes it.
func (c *Controller) Cancel(sessionID string) error {
	c.mu.Lock()
	run, ok := c.active[sessionID]
	if !ok {
		c.mu.Unlock()
		return ErrNoActiveRun
	}
	delete(c.active, sessionID)
	c.mu.Unlock()

	run.cancel()
	c.logger.Info("run cancelled", "session_id", sessionID)
	c.metrics.RunFinished("error")

	ctx := context.Background()
	if err := c.setStatus(ctx, run.sink, sessionID, models.StatusError); err != nil {
		return err
	}
	return nil
}

// runLoop drives one orchestrator run to completion, translating each event
// into persisted messages and notifications.
func (c *Controller) runLoop(ctx context.Context, conn *database.Conn, run *activeRun, sessionID, intent string, snapshot []models.Message, sink Sink) {
	log := c.logger.With("session_id", sessionID)
	tctx := tools.NewContext(conn)

	events := c.orch.Run(ctx, sessionID, intent, snapshot, tctx)

	var runErr error
	for ev := range events {
		if runErr != nil {
			continue // drain after a fatal translation error
		}
		if err := c.handleEvent(ctx, sink, sessionID, ev); err != nil {
			log.Error("event translation failed", "event", ev.Type, "error", err)
			runErr = err
		}
	}

	// Cancel already released the slot and reported the error status; the
	// remainder of a cancelled run changes nothing further. The identity
	// check guards against a newer run having taken the slot since.
	c.mu.Lock()
	if c.active[sessionID] != run {
		c.mu.Unlock()
		return
	}
	delete(c.active, sessionID)
	c.mu.Unlock()

	status := models.StatusCompleted
	if runErr != nil {
		status = models.StatusError
	}
	c.metrics.RunFinished(string(status))

	// The run context may already be done; terminal bookkeeping uses a
	// fresh one.
	finishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.setStatus(finishCtx, sink, sessionID, status); err != nil {
		log.Error("terminal status update failed", "error", err)
	}
	if runErr != nil {
		c.notify(finishCtx, sink, models.Notification{
			Type:      models.NotifyError,
			SessionID: sessionID,
			Error:     runErr.Error(),
		})
	}
	log.Info("run finished", "status", status)
}

// handleEvent maps one orchestrator event to zero or more persisted messages
// and zero or more notifications.
func (c *Controller) handleEvent(ctx context.Context, sink Sink, sessionID string, ev orchestrator.Event) error {
	switch ev.Type {
	case orchestrator.EventThought:
		_, err := c.persist(ctx, sink, sessionID, history.AppendMessageInput{
			Role:     models.RoleAssistant,
			Content:  ev.Thought.Text,
			Metadata: map[string]any{"type": models.MessageTypeThought},
		})
		return err

	case orchestrator.EventAction:
		c.notify(ctx, sink, models.Notification{
			Type:      models.NotifyToolCall,
			SessionID: sessionID,
			ToolCall:  &models.ToolCallPayload{Name: ev.Action.Tool, Input: ev.Action.Input},
		})
		_, err := c.persist(ctx, sink, sessionID, history.AppendMessageInput{
			Role:    models.RoleAssistant,
			Content: "Calling tool " + ev.Action.Tool,
			Metadata: map[string]any{
				"type":  models.MessageTypeToolCall,
				"tool":  ev.Action.Tool,
				"input": ev.Action.Input,
			},
		})
		return err

	case orchestrator.EventObservation:
		return c.handleObservation(ctx, sink, sessionID, ev.Observation)

	case orchestrator.EventFinal:
		return c.streamFinal(ctx, sink, sessionID, ev.Final.Text)

	case orchestrator.EventError:
		if ev.Error.Err != nil {
			return ev.Error.Err
		}
		return errors.New(ev.Error.Message)
	}
	return nil
}

func (c *Controller) handleObservation(ctx context.Context, sink Sink, sessionID string, obs *orchestrator.ObservationPayload) error {
	failed := strings.HasPrefix(obs.Output, "Tool failed:") || strings.HasSuffix(obs.Output, "is not available.")
	if failed {
		c.metrics.ToolExecution(obs.Tool, "error")
	} else {
		c.metrics.ToolExecution(obs.Tool, "success")
	}

	c.notify(ctx, sink, models.Notification{
		Type:       models.NotifyToolResult,
		SessionID:  sessionID,
		ToolResult: &models.ToolResultPayload{Name: obs.Tool, Output: obs.Output},
	})

	if _, err := c.persist(ctx, sink, sessionID, history.AppendMessageInput{
		Role:    models.RoleTool,
		Content: obs.Output,
		Metadata: map[string]any{
			"type": models.MessageTypeToolResult,
			"tool": obs.Tool,
		},
	}); err != nil {
		return err
	}

	// SQL suggestions get promoted into a dedicated assistant message so
	// the UI can render insert/run actions.
	if obs.ResultKind == tools.KindSQLSuggestion {
		data, _ := obs.ResultData.(map[string]any)
		sql, _ := data["sql"].(string)
		description, _ := data["description"].(string)
		if _, err := c.persist(ctx, sink, sessionID, history.AppendMessageInput{
			Role:    models.RoleAssistant,
			Content: sql,
			Metadata: map[string]any{
				"type":        models.MessageTypeSQLSuggestion,
				"sql":         sql,
				"description": description,
			},
		}); err != nil {
			return err
		}
	}
	return nil
}

// streamFinal fabricates the UI typing effect for a final answer: announce an
// empty placeholder, emit one token notification per chunk, then write the
// full text once as the canonical message under the placeholder's ID. The
// model returned the whole answer in one response; this is presentation, not
// provider streaming.
func (c *Controller) streamFinal(ctx context.Context, sink Sink, sessionID, text string) error {
	messageID := uuid.NewString()

	placeholder := &models.Message{
		ID:        messageID,
		SessionID: sessionID,
		Role:      models.RoleAssistant,
		Content:   "",
		Metadata:  map[string]any{"type": models.MessageTypeFinal, "streaming": true},
		CreatedAt: time.Now().UTC(),
	}
	c.notify(ctx, sink, models.Notification{
		Type:      models.NotifyMessage,
		SessionID: sessionID,
		Message:   placeholder,
	})

	for _, chunk := range chunkText(text, streamChunkSize) {
		c.notify(ctx, sink, models.Notification{
			Type:      models.NotifyToken,
			SessionID: sessionID,
			Token:     &models.TokenPayload{MessageID: messageID, Token: chunk},
		})
	}

	if _, err := c.persist(ctx, sink, sessionID, history.AppendMessageInput{
		ID:       messageID,
		Role:     models.RoleAssistant,
		Content:  text,
		Metadata: map[string]any{"type": models.MessageTypeFinal},
	}); err != nil {
		return err
	}

	last := text
	return c.store.UpdateSession(ctx, sessionID, history.SessionUpdate{LastMessage: &last})
}

// persist appends one message and notifies the UI about it.
func (c *Controller) persist(ctx context.Context, sink Sink, sessionID string, input history.AppendMessageInput) (*models.Message, error) {
	msg, err := c.store.AppendMessage(ctx, sessionID, input)
	if err != nil {
		return nil, err
	}
	c.notify(ctx, sink, models.Notification{
		Type:      models.NotifyMessage,
		SessionID: sessionID,
		Message:   msg,
	})
	return msg, nil
}

// setStatus updates the stored session status and notifies the UI.
func (c *Controller) setStatus(ctx context.Context, sink Sink, sessionID string, status models.SessionStatus) error {
	if err := c.store.UpdateSession(ctx, sessionID, history.SessionUpdate{Status: &status}); err != nil {
		return err
	}
	c.notify(ctx, sink, models.Notification{
		Type:      models.NotifyStatus,
		SessionID: sessionID,
		Status:    status,
	})
	return nil
}

func (c *Controller) notify(ctx context.Context, sink Sink, n models.Notification) {
	c.metrics.NotificationSent(string(n.Type))
	sink.Notify(ctx, n)
}

// chunkText splits text into fixed-size chunks without breaking UTF-8
// sequences; the last chunk may be shorter. Concatenating the chunks in order
// reproduces the input exactly.
func chunkText(text string, size int) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	chunks := make([]string, 0, (len(runes)+size-1)/size)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

// deriveTitle builds a session title from the first intent.
func deriveTitle(intent string) string {
	title := strings.Join(strings.Fields(intent), " ")
	runes := []rune(title)
	if len(runes) > titleRuneLimit {
		title = string(runes[:titleRuneLimit])
	}
	return title
}

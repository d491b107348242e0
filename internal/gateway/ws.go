package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/haasonsaas/dbpilot/internal/controller"
	"github.com/haasonsaas/dbpilot/pkg/models"
)

const (
	wsMaxPayloadBytes = 1 << 20
	wsPongWait        = 45 * time.Second
	wsWriteWait       = 10 * time.Second
	wsSendBuffer      = 64
)

type wsControlPlane struct {
	server   *Server
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func (s *Server) newWSControlPlane() http.Handler {
	return &wsControlPlane{
		server: s,
		logger: s.logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
	}
}

// wsFrame is the wire envelope for requests, responses, and server events.
type wsFrame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Event   string          `json:"event,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload any             `json:"payload,omitempty"`
	Error   *wsError        `json:"error,omitempty"`
	Seq     *int64          `json:"seq,omitempty"`
}

type wsError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type wsChatSendParams struct {
	SessionID string `json:"sessionId,omitempty"`
	Content   string `json:"content"`
}

type wsChatAbortParams struct {
	SessionID string `json:"sessionId"`
}

type wsChatHistoryParams struct {
	SessionID string `json:"sessionId"`
}

type wsSessionsListParams struct {
	Limit int `json:"limit,omitempty"`
}

type wsClient struct {
	control *wsControlPlane
	conn    *websocket.Conn
	send    chan []byte
	ctx     context.Context
	cancel  context.CancelFunc

	id  string
	seq int64

	// sendMu orders enqueue against close so a run outliving the client
	// cannot write to a closed channel.
	sendMu sync.Mutex
	closed bool
}

func (h *wsControlPlane) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	client := &wsClient{
		control: h,
		conn:    conn,
		send:    make(chan []byte, wsSendBuffer),
		ctx:     ctx,
		cancel:  cancel,
		id:      uuid.NewString(),
	}
	client.run()
}

func (c *wsClient) run() {
	defer c.close()
	go c.writeLoop()
	c.readLoop()
}

func (c *wsClient) close() {
	c.cancel()
	c.sendMu.Lock()
	c.closed = true
	close(c.send)
	c.sendMu.Unlock()
	_ = c.conn.Close()
}

func (c *wsClient) readLoop() {
	c.conn.SetReadLimit(wsMaxPayloadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		frame, err := decodeFrame(data)
		if err != nil {
			c.sendError("", "invalid_frame", err.Error())
			continue
		}
		if err := c.handleRequest(frame); err != nil {
			c.sendError(frame.ID, "request_failed", err.Error())
		}
	}
}

func (c *wsClient) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		}
	}
}

func decodeFrame(raw []byte) (*wsFrame, error) {
	var frame wsFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, err
	}
	if frame.Type == "" {
		frame.Type = "req"
	}
	if frame.Type != "req" {
		return nil, fmt.Errorf("unsupported frame type %q", frame.Type)
	}
	if frame.Method == "" {
		return nil, errors.New("method is required")
	}
	return &frame, nil
}

func (c *wsClient) handleRequest(frame *wsFrame) error {
	switch frame.Method {
	case "ping":
		return c.sendResponse(frame.ID, true, map[string]any{"timestamp": time.Now().UnixMilli()}, nil)
	case "chat.send":
		return c.handleChatSend(frame)
	case "chat.abort":
		return c.handleChatAbort(frame)
	case "chat.history":
		return c.handleChatHistory(frame)
	case "sessions.list":
		return c.handleSessionsList(frame)
	default:
		return fmt.Errorf("unknown method %q", frame.Method)
	}
}

func (c *wsClient) handleChatSend(frame *wsFrame) error {
	if c.control.server.controller == nil {
		return errors.New("agent unavailable")
	}
	var params wsChatSendParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	if strings.TrimSpace(params.Content) == "" {
		return errors.New("content is required")
	}

	notifications := make(chan models.Notification, wsSendBuffer)
	go c.forwardNotifications(notifications)
	sink := controller.NewMultiSink(
		controller.NewChanSink(notifications),
		controller.NewCallbackSink(func(_ context.Context, n models.Notification) {
			c.control.logger.Debug("notification", "type", n.Type, "session_id", n.SessionID)
		}),
	)

	session, err := c.control.server.controller.StartOrContinueSession(c.ctx, params.Content, sink, params.SessionID)
	if err != nil {
		return err
	}
	return c.sendResponse(frame.ID, true, map[string]any{
		"status":    "accepted",
		"sessionId": session.ID,
	}, nil)
}

// forwardNotifications relays run notifications onto the socket until the
// client goes away. The channel itself is drop-on-full, so a slow or dead
// client never blocks the run.
func (c *wsClient) forwardNotifications(ch <-chan models.Notification) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case n := <-ch:
			_ = c.sendEvent("chat."+string(n.Type), n)
		}
	}
}

func (c *wsClient) handleChatAbort(frame *wsFrame) error {
	if c.control.server.controller == nil {
		return errors.New("agent unavailable")
	}
	var params wsChatAbortParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	aborted := true
	if err := c.control.server.controller.Cancel(params.SessionID); err != nil {
		if !errors.Is(err, controller.ErrNoActiveRun) {
			return err
		}
		aborted = false
	}
	return c.sendResponse(frame.ID, true, map[string]any{"aborted": aborted}, nil)
}

func (c *wsClient) handleChatHistory(frame *wsFrame) error {
	if c.control.server.store == nil {
		return errors.New("history store unavailable")
	}
	var params wsChatHistoryParams
	if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	session, messages, err := c.control.server.store.GetSessionWithMessages(c.ctx, params.SessionID)
	if err != nil {
		return err
	}
	return c.sendResponse(frame.ID, true, map[string]any{
		"session":  session,
		"messages": messages,
	}, nil)
}

func (c *wsClient) handleSessionsList(frame *wsFrame) error {
	if c.control.server.store == nil {
		return errors.New("history store unavailable")
	}
	var params wsSessionsListParams
	if err := json.Unmarshal(frame.Params, &params); err != nil && len(frame.Params) > 0 {
		return err
	}
	limit := params.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	list, err := c.control.server.store.ListSessions(c.ctx, limit)
	if err != nil {
		return err
	}
	return c.sendResponse(frame.ID, true, map[string]any{"sessions": list}, nil)
}

func (c *wsClient) sendResponse(id string, ok bool, payload any, wsErr *wsError) error {
	return c.enqueue(wsFrame{
		Type:    "res",
		ID:      id,
		OK:      &ok,
		Payload: payload,
		Error:   wsErr,
	})
}

func (c *wsClient) sendEvent(event string, payload any) error {
	seq := atomic.AddInt64(&c.seq, 1)
	return c.enqueue(wsFrame{
		Type:    "event",
		Event:   event,
		Payload: payload,
		Seq:     &seq,
	})
}

func (c *wsClient) sendError(id string, code string, message string) {
	_ = c.sendResponse(id, false, nil, &wsError{Code: code, Message: message})
}

func (c *wsClient) enqueue(frame wsFrame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return errors.New("client disconnected")
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"github.com/docintake/backend/internal/logging"
	"github.com/docintake/backend/internal/upload"
)

// WebSocket message types for the change stream
const (
	// Client -> Server messages
	MsgTypePing = "ping"

	// Server -> Client messages
	MsgTypeSnapshot = "snapshot"
	MsgTypeChange   = "change"
	MsgTypeError    = "error"
	MsgTypePong     = "pong"
)

// WebSocket message structure
type WSMessage struct {
	Type      string          `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// WebSocket error response
type WSErrorResponse struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// WebSocketHandler pushes onChange emissions of one session to a client
type WebSocketHandler struct {
	manager  *upload.Manager
	upgrader websocket.Upgrader
	logger   *log.Logger
}

// NewWebSocketHandler creates a new change stream handler
func NewWebSocketHandler(manager *upload.Manager) *WebSocketHandler {
	return &WebSocketHandler{
		manager: manager,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
		},
		logger: logging.New("ws"),
	}
}

// HandleChangeStream upgrades the connection, sends the current snapshot and
// then one "change" message per admitted-list change until the session
// closes or the client goes away.
func (wsh *WebSocketHandler) HandleChangeStream(c echo.Context) error {
	id := c.Param("id")
	sess, ok := wsh.manager.Get(id)
	if !ok {
		return NewNotFoundError("intake session", id)
	}

	changes, cancel, err := wsh.manager.Subscribe(id)
	if err != nil {
		if errors.Is(err, upload.ErrSessionNotFound) {
			return NewNotFoundError("intake session", id)
		}
		return NewInternalError("failed to subscribe", err)
	}
	defer cancel()

	ws, err := wsh.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	wsh.logger.Debugf("client connected to %s", id)

	// gorilla allows one concurrent writer
	var writeMu sync.Mutex
	send := func(msg WSMessage) bool {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := ws.WriteJSON(msg); err != nil {
			wsh.logger.Warnf("failed to send %s: %v", msg.Type, err)
			return false
		}
		return true
	}

	if !send(WSMessage{
		Type:      MsgTypeSnapshot,
		ID:        id,
		Payload:   mustJSON(sess.Controller.Snapshot()),
		Timestamp: time.Now().UnixMilli(),
	}) {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var msg WSMessage
			if err := ws.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					wsh.logger.Warnf("connection error: %v", err)
				}
				return
			}
			switch msg.Type {
			case MsgTypePing:
				send(WSMessage{Type: MsgTypePong, Timestamp: time.Now().UnixMilli()})
			default:
				send(WSMessage{
					Type:      MsgTypeError,
					Timestamp: time.Now().UnixMilli(),
					Payload: mustJSON(WSErrorResponse{
						Type:    MsgTypeError,
						Message: "Unknown message type: " + msg.Type,
						Code:    "INVALID_TYPE",
					}),
				})
			}
		}
	}()

	for {
		select {
		case change, ok := <-changes:
			if !ok {
				writeMu.Lock()
				ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"))
				writeMu.Unlock()
				return nil
			}
			if !send(WSMessage{
				Type:      MsgTypeChange,
				ID:        id,
				Payload:   mustJSON(change),
				Timestamp: change.At.UnixMilli(),
			}) {
				return nil
			}
		case <-done:
			wsh.logger.Debugf("client disconnected from %s", id)
			return nil
		}
	}
}

func mustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}

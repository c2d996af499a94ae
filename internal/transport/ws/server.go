// Package ws provides the WebSocket endpoint consoles attach to for live
// turn-stream events.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/luocen99/opsconsole/internal/hub"
	"github.com/luocen99/opsconsole/internal/service"
	"github.com/luocen99/opsconsole/internal/turn"
)

// Message types exchanged with attached consoles.
const (
	TypeAttach    = "attach"
	TypeAttachAck = "attach_ack"
	TypeSend      = "send"
	TypeCancel    = "cancel"
	TypeRetry     = "retry"
	TypeError     = "error"
)

// Error codes sent to attached consoles.
const (
	ErrCodeInvalidMessage  = "invalid_message"
	ErrCodeSessionRequired = "session_required"
	ErrCodeTurnInFlight    = "turn_in_flight"
	ErrCodeNotRetryable    = "not_retryable"
)

// BaseMessage carries the fields shared by every console message.
type BaseMessage struct {
	Type      string `json:"type"`
	Ts        int64  `json:"ts,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// AttachMessage binds a connection to a conversation.
type AttachMessage struct {
	BaseMessage
}

// SendMessage submits a user message to the conversation.
type SendMessage struct {
	BaseMessage
	Content string `json:"content"`
}

// ErrorMessage reports a protocol or upstream failure to the console.
type ErrorMessage struct {
	BaseMessage
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Server handles console WebSocket connections.
type Server struct {
	hub      *hub.Hub
	console  *service.Service
	upgrader websocket.Upgrader
}

// NewServer creates a new WebSocket server.
func NewServer(h *hub.Hub, console *service.Service) *Server {
	return &Server{
		hub:     h,
		console: console,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// HandleWebSocket handles WebSocket upgrade and connection lifecycle.
func (s *Server) HandleWebSocket(c echo.Context) error {
	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("WARN: failed to upgrade websocket: %v", err)
		return err
	}

	conn := s.hub.NewConnection(ws)
	s.hub.Register(conn)

	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

func (s *Server) readPump(conn *hub.Connection) {
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WARN: websocket read: %v", err)
			}
			break
		}
		s.handleMessage(conn, message)
	}
}

func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("WARN: websocket write: %v", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleMessage(conn *hub.Connection, data []byte) {
	var base BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		s.sendError(conn, ErrCodeInvalidMessage, "invalid JSON message")
		return
	}

	switch base.Type {
	case TypeAttach:
		s.handleAttach(conn, data)
	case TypeSend:
		s.handleSend(conn, data)
	case TypeCancel:
		s.handleCancel(conn)
	case TypeRetry:
		s.handleRetry(conn)
	default:
		s.sendError(conn, ErrCodeInvalidMessage, "unknown message type: "+base.Type)
	}
}

func (s *Server) handleAttach(conn *hub.Connection, data []byte) {
	var msg AttachMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, ErrCodeInvalidMessage, "invalid attach message")
		return
	}

	sessionID := msg.SessionID
	if sessionID == "" {
		sessionID = "sess_" + uuid.New().String()[:8]
	}
	s.hub.BindSession(conn, sessionID)

	ack := BaseMessage{
		Type:      TypeAttachAck,
		Ts:        time.Now().UnixMilli(),
		SessionID: sessionID,
	}
	s.hub.SendJSONToConnection(conn, ack)
}

func (s *Server) handleSend(conn *hub.Connection, data []byte) {
	var msg SendMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.sendError(conn, ErrCodeInvalidMessage, "invalid send message")
		return
	}
	if conn.SessionID == "" {
		s.sendError(conn, ErrCodeSessionRequired, "must attach first")
		return
	}
	if msg.Content == "" {
		s.sendError(conn, ErrCodeInvalidMessage, "content is required")
		return
	}

	sessionID := conn.SessionID

	// Send blocks for the whole turn; events reach the console through the
	// hub as they arrive.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		if err := s.console.Send(ctx, sessionID, msg.Content); err != nil {
			if err == turn.ErrTurnInFlight {
				s.sendErrorToSession(sessionID, ErrCodeTurnInFlight, err.Error())
				return
			}
			s.sendErrorToSession(sessionID, ErrCodeInvalidMessage, err.Error())
		}
	}()
}

func (s *Server) handleCancel(conn *hub.Connection) {
	if conn.SessionID == "" {
		s.sendError(conn, ErrCodeSessionRequired, "must attach first")
		return
	}
	s.console.Cancel(context.Background(), conn.SessionID)
}

func (s *Server) handleRetry(conn *hub.Connection) {
	if conn.SessionID == "" {
		s.sendError(conn, ErrCodeSessionRequired, "must attach first")
		return
	}

	sessionID := conn.SessionID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		if err := s.console.Retry(ctx, sessionID); err != nil {
			s.sendErrorToSession(sessionID, ErrCodeNotRetryable, err.Error())
		}
	}()
}

func (s *Server) sendError(conn *hub.Connection, code, message string) {
	errMsg := ErrorMessage{
		BaseMessage: BaseMessage{
			Type:      TypeError,
			Ts:        time.Now().UnixMilli(),
			SessionID: conn.SessionID,
		},
		Code:    code,
		Message: message,
	}
	s.hub.SendJSONToConnection(conn, errMsg)
}

func (s *Server) sendErrorToSession(sessionID, code, message string) {
	errMsg := ErrorMessage{
		BaseMessage: BaseMessage{
			Type:      TypeError,
			Ts:        time.Now().UnixMilli(),
			SessionID: sessionID,
		},
		Code:    code,
		Message: message,
	}
	s.hub.BroadcastJSON(sessionID, errMsg)
}

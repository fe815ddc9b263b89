package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"support-chat/internal/auth"
	"support-chat/internal/chat"
	"support-chat/internal/models"
	"support-chat/internal/observability"
	"support-chat/internal/realtime"
	"support-chat/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// command is one inbound client frame.
type command struct {
	Action   string `json:"action"`
	ChatID   int    `json:"chat_id,omitempty"`
	IsTyping bool   `json:"is_typing,omitempty"`
}

// frame is one outbound event sent to the client.
type frame struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// connSink pushes session output to a websocket connection. Session
// handlers fire from transport goroutines, so writes are serialized.
type connSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *connSink) Send(event string, payload any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.conn.WriteJSON(frame{Event: event, Data: payload}); err != nil {
		log.Printf("websocket write error: %v", err)
	}
}

// SessionHandler upgrades authenticated connections and runs the
// matching session controller for the connection's lifetime.
type SessionHandler struct {
	core      *chat.Core
	transport realtime.Transport
	verifier  *auth.Verifier
}

// NewSessionHandler constructs a SessionHandler.
func NewSessionHandler(core *chat.Core, transport realtime.Transport, verifier *auth.Verifier) *SessionHandler {
	return &SessionHandler{core: core, transport: transport, verifier: verifier}
}

// HandleAdmin runs an admin console session. Admin role required.
func (h *SessionHandler) HandleAdmin(c *gin.Context) {
	identity, conn, info, ok := h.handshake(c, "admin")
	if !ok {
		return
	}
	if !identity.IsAdmin() {
		conn.Close()
		return
	}

	sink := &connSink{conn: conn}
	sess := session.NewAdminSession(h.core, h.transport, sink, identity)
	if err := sess.Start(c.Request.Context()); err != nil {
		sink.Send(session.FrameError, gin.H{"message": "failed to start session"})
		conn.Close()
		return
	}

	h.runLoop(conn, info, "admin", sess.Close, func(cmd command) {
		ctx := context.Background()
		switch cmd.Action {
		case "enter_chat":
			if err := sess.EnterChat(ctx, cmd.ChatID); err != nil {
				sink.Send(session.FrameError, gin.H{"message": "failed to open chat"})
			}
		case "leave_chat":
			sess.LeaveChat()
		case "load_older":
			if err := sess.LoadOlder(ctx); err != nil {
				sink.Send(session.FrameError, gin.H{"message": "failed to load messages"})
			}
		case "typing":
			if cmd.IsTyping {
				sess.Keystroke()
			}
		case "mark_read":
			if err := sess.MarkRead(ctx); err != nil {
				sink.Send(session.FrameError, gin.H{"message": "failed to mark read"})
			}
		}
	})
}

// HandleWidget runs a user chat widget session.
func (h *SessionHandler) HandleWidget(c *gin.Context) {
	identity, conn, info, ok := h.handshake(c, "widget")
	if !ok {
		return
	}
	if identity.Role != models.RoleUser {
		conn.Close()
		return
	}

	sink := &connSink{conn: conn}
	sess := session.NewWidgetSession(h.core, h.transport, sink, identity)
	if err := sess.Start(c.Request.Context()); err != nil {
		sink.Send(session.FrameError, gin.H{"message": "failed to start session"})
		conn.Close()
		return
	}

	h.runLoop(conn, info, "widget", sess.Close, func(cmd command) {
		ctx := context.Background()
		switch cmd.Action {
		case "open":
			if err := sess.Open(ctx); err != nil {
				sink.Send(session.FrameError, gin.H{"message": "failed to open chat"})
			}
		case "close":
			sess.CloseWidget()
		case "load_older":
			if err := sess.LoadOlder(ctx); err != nil {
				sink.Send(session.FrameError, gin.H{"message": "failed to load messages"})
			}
		case "typing":
			if cmd.IsTyping {
				sess.Keystroke()
			}
		case "mark_read":
			if err := sess.MarkRead(ctx); err != nil {
				sink.Send(session.FrameError, gin.H{"message": "failed to mark read"})
			}
		}
	})
}

func (h *SessionHandler) handshake(c *gin.Context, kind string) (auth.Identity, *websocket.Conn, ConnInfo, bool) {
	ctx, span := otel.Tracer("support-chat/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := c.GetHeader("Authorization")
	if token == "" {
		if q := c.Query("token"); q != "" {
			token = "Bearer " + q
		}
	}

	identity, err := h.validateToken(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return auth.Identity{}, nil, ConnInfo{}, false
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return auth.Identity{}, nil, ConnInfo{}, false
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      identity.ID,
		Role:        identity.Role,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}

	observability.IncWSActive(kind)
	emitSessionEvent(ctx, kind, "ws_connect", info, "")
	return identity, conn, info, true
}

// runLoop reads client commands until the connection drops, then tears
// the session down. The read loop is the single writer of session
// commands, so commands apply in the order the client sent them.
func (h *SessionHandler) runLoop(conn *websocket.Conn, info ConnInfo, kind string, closeSession func(), apply func(command)) {
	go func() {
		var closeReason string
		defer func() {
			closeSession()
			conn.Close()
			observability.DecWSActive(kind)
			emitSessionEvent(context.Background(), kind, "ws_disconnect", info, closeReason)
		}()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				closeReason = err.Error()
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					emitSessionEvent(context.Background(), kind, "ws_error", info, closeReason)
				}
				return
			}

			var cmd command
			if err := json.Unmarshal(data, &cmd); err != nil {
				log.Printf("websocket bad command: %v", err)
				continue
			}
			apply(cmd)
		}
	}()
}

func (h *SessionHandler) validateToken(header string) (auth.Identity, error) {
	parts := strings.Split(header, " ")
	if len(parts) != 2 {
		return auth.Identity{}, errors.New("invalid token")
	}
	return h.verifier.Verify(parts[1])
}

func emitSessionEvent(ctx context.Context, kind, event string, info ConnInfo, reason string) {
	observability.IncWSEvent(kind, event)
	_ = observability.PublishEvent(ctx, "ws_events."+kind, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"kind":        kind,
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   info.UserID,
				"role":      info.Role,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	})
}

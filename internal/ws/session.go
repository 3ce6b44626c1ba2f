package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"dm-service/internal/auth"
	"dm-service/internal/broker"
	"dm-service/internal/observability"
	"dm-service/internal/presence"
	"dm-service/internal/topics"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 4096
)

// Frame actions.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// Frame is a control message sent by the client.
type Frame struct {
	Action  string `json:"action"`
	OtherID int    `json:"other_id"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades authenticated requests into event sessions.
type Handler struct {
	hub       *broker.Hub
	presence  *presence.Tracker
	validator auth.Validator
	log       *zap.Logger
	queueSize int
}

// NewHandler constructs a Handler.
func NewHandler(hub *broker.Hub, tracker *presence.Tracker, validator auth.Validator, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{hub: hub, presence: tracker, validator: validator, log: log, queueSize: broker.DefaultQueueSize}
}

// Handle authenticates, upgrades and serves the session until the socket
// closes. The session starts subscribed to the member's notification topic
// and to presence.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("dm-service/ws").Start(c.Request.Context(), "ws.handshake")
	c.Request = c.Request.WithContext(ctx)

	userID, err := h.validator.ValidateToken(ctx, observability.BearerToken(c.Request))
	if err != nil {
		span.End()
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		span.End()
		h.log.Warn("websocket upgrade failed", zap.Int("user_id", userID), zap.Error(err))
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	span.End()

	client := broker.NewClient(info.ConnID, userID, h.queueSize)
	h.hub.Subscribe(client, topics.Notification(userID))
	h.presence.Join(ctx, client)

	observability.IncWSActive()
	publishLifecycle(ctx, info, "ws_connect", "")
	h.log.Info("websocket connected", zap.String("conn_id", info.ConnID), zap.Int("user_id", userID))

	go writePump(conn, client)
	reason := h.readPump(ctx, conn, client, info)

	h.presence.Disconnect(ctx, client)
	client.Close()
	observability.DecWSActive()
	publishLifecycle(ctx, info, "ws_disconnect", reason)
	h.log.Info("websocket disconnected", zap.String("conn_id", info.ConnID), zap.Int("user_id", userID), zap.String("reason", reason))
}

// readPump applies client frames until the socket fails and returns the
// close reason.
func (h *Handler) readPump(ctx context.Context, conn *websocket.Conn, client *broker.Client, info ConnInfo) string {
	conn.SetReadLimit(maxFrameSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				publishLifecycle(ctx, info, "ws_error", err.Error())
			}
			return err.Error()
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			h.log.Debug("ignoring malformed frame", zap.String("conn_id", client.ID), zap.Error(err))
			continue
		}
		h.apply(client, frame)
	}
}

// apply binds or unbinds a thread. The topic is derived from the session's
// own member id, so a session can only follow threads it takes part in.
func (h *Handler) apply(client *broker.Client, frame Frame) {
	if frame.OtherID <= 0 || frame.OtherID == client.UserID {
		h.log.Debug("ignoring frame with invalid counterpart", zap.String("conn_id", client.ID), zap.Int("other_id", frame.OtherID))
		return
	}
	topic := topics.Thread(client.UserID, frame.OtherID)
	switch frame.Action {
	case ActionSubscribe:
		h.hub.Subscribe(client, topic)
	case ActionUnsubscribe:
		h.hub.Unsubscribe(client, topic)
	default:
		h.log.Debug("ignoring unknown action", zap.String("conn_id", client.ID), zap.String("action", frame.Action))
	}
}

// writePump is the only writer of conn. It closes conn on exit, which also
// unblocks the read pump.
func writePump(conn *websocket.Conn, client *broker.Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case env := <-client.Outbound():
			if ownPresence(env, client.UserID) {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-client.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

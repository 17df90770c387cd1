package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"chat-relay/internal/auth"
	"chat-relay/internal/models"
	"chat-relay/internal/observability"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// RelayHandler accepts relay websocket connections.
type RelayHandler struct {
	hub *Hub
}

// NewRelayHandler constructs a RelayHandler.
func NewRelayHandler(hub *Hub) *RelayHandler {
	return &RelayHandler{hub: hub}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection, replays history and registers the client.
// Identity travels as query parameters; the connection keeps it for life.
func (h *RelayHandler) Handle(c *gin.Context) {
	username := c.Query("username")
	fullName := c.Query("fullName")
	if username == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing username"})
		return
	}

	ctx, span := otel.Tracer("chat-relay/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID: uuid.NewString(),
		Identity: models.Identity{
			Username:  username,
			FullName:  fullName,
			AvatarURL: auth.AvatarURL(username),
		},
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}

	// The request context dies with the handler; the connection outlives it.
	connCtx := context.Background()

	client := newClient(info, sendQueueSize)

	// History goes into the queue before registration so it is always the
	// first event the connection sees, ahead of any live broadcast.
	h.hub.sendHistory(connCtx, client)

	if err := h.hub.Registry().Register(info.ConnID, client); err != nil {
		conn.Close()
		return
	}

	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	publishWSEvent(connCtx, "ws_connect", info, "")

	go writeLoop(conn, client)
	go h.readLoop(connCtx, conn, client)
}

// writeLoop is the single writer for the connection. It drains the outbound
// queue and keeps the connection alive with pings; any write error ends the
// loop and the read side notices the closed socket.
func writeLoop(conn *websocket.Conn, c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop handles inbound frames in arrival order and drives the disconnect
// path when the transport reports closure.
func (h *RelayHandler) readLoop(ctx context.Context, conn *websocket.Conn, c *client) {
	info := c.info
	var closeReason string
	defer func() {
		h.hub.Registry().Deregister(info.ConnID)
		observability.DecWSActive()
		observability.IncWSEvent("ws_disconnect")
		publishWSEvent(ctx, "ws_disconnect", info, closeReason)
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent("ws_error")
				publishWSEvent(ctx, "ws_error", info, closeReason)
			}
			return
		}
		h.hub.HandleFrame(ctx, info.ConnID, payload)
	}
}

func publishWSEvent(ctx context.Context, event string, info ConnInfo, reason string) {
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"username":  info.Identity.Username,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}

	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(ctx, "ws_events.relay", observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		Payload:   payload,
	}, headers)
}

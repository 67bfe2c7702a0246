package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"recruit-chat/internal/observability"
	"recruit-chat/internal/session"
	"recruit-chat/internal/telemetry"
)

// Handler admits websocket connections and runs their pumps.
type Handler struct {
	hub      *Hub
	gateway  *Gateway
	auth     *session.Authenticator
	audit    *telemetry.AuditEmitter
	upgrader websocket.Upgrader
}

// NewHandler constructs a Handler. An empty origins list or "*" accepts any origin.
func NewHandler(hub *Hub, gateway *Gateway, auth *session.Authenticator, audit *telemetry.AuditEmitter, origins []string) *Handler {
	return &Handler{
		hub:     hub,
		gateway: gateway,
		auth:    auth,
		audit:   audit,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin(origins),
		},
	}
}

func checkOrigin(origins []string) func(*http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[strings.TrimRight(o, "/")] = struct{}{}
	}
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[strings.TrimRight(origin, "/")]
		return ok
	}
}

// Handle authenticates the caller and upgrades the connection. Callers
// without a valid credential get 401 and no socket.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := observability.StartSpan(c.Request.Context(), "ws.handshake")
	defer span.End()

	requestID := observability.RequestIDFromRequest(c.Request)
	ip := observability.IPFromRequest(c.Request)

	userID, err := h.auth.Authenticate(session.TokenFromRequest(c.Request))
	if err != nil {
		observability.IncWSRejected()
		reason := "invalid token"
		if errors.Is(err, session.ErrMissingToken) {
			reason = "missing token"
		}
		log.Info().Str("request_id", requestID).Str("ip", ip).Str("reason", reason).Msg("ws admission refused")
		h.audit.Emit(ctx, telemetry.LevelWarn, "websocket admission refused: "+reason, requestID, ip, nil)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Str("request_id", requestID).Msg("ws upgrade failed")
		return
	}

	sess := session.New(newConnID(), userID)
	info := ConnInfo{
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          ip,
		RequestID:   requestID,
		TraceID:     span.SpanContext().TraceID().String(),
		UserAgent:   c.Request.UserAgent(),
		ConnectedAt: sess.ConnectedAt,
	}
	client := newClient(conn, sess, info)
	h.hub.Register(client)

	observability.IncWSActive()
	h.publishConnection(client, "ws_connect", "")
	log.Info().Str("conn_id", client.ID()).Str("user_id", userID).Str("ip", ip).Int("clients", h.hub.Count()).Msg("ws connected")

	go client.writePump()
	go func() {
		reason := client.readPump(h.gateway.Dispatch)
		h.gateway.Disconnect(client)
		h.hub.Unregister(client)
		observability.DecWSActive()
		h.publishConnection(client, "ws_disconnect", reason)
		log.Info().
			Str("conn_id", client.ID()).
			Str("user_id", client.UserID()).
			Dur("duration", time.Since(info.ConnectedAt)).
			Msg("ws disconnected")
	}()
}

type connectionEvent struct {
	ConnID     string `json:"conn_id"`
	UserID     string `json:"user_id"`
	DeviceID   string `json:"device_id,omitempty"`
	IP         string `json:"ip,omitempty"`
	RequestID  string `json:"request_id"`
	TraceID    string `json:"trace_id,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Reason     string `json:"reason,omitempty"`
}

func (h *Handler) publishConnection(c *Client, name, reason string) {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()

	event := connectionEvent{
		ConnID:     c.ID(),
		UserID:     c.UserID(),
		DeviceID:   c.info.DeviceID,
		IP:         c.info.IP,
		RequestID:  c.info.RequestID,
		TraceID:    c.info.TraceID,
		DurationMS: time.Since(c.info.ConnectedAt).Milliseconds(),
		Reason:     reason,
	}
	if err := observability.PublishEvent(ctx, observability.RoutingConnection, name, event); err != nil {
		log.Debug().Err(err).Str("conn_id", c.ID()).Msg("publish connection event failed")
	}
}

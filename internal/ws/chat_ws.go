package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"fyzo-chat/internal/identity"
	"fyzo-chat/internal/models"
	"fyzo-chat/internal/observability"
	"fyzo-chat/internal/service"
)

// Pipeline is the part of the chat service the socket surface drives.
type Pipeline interface {
	ChatIDsFor(ctx context.Context, userID string) ([]string, error)
	AuthorizeRoom(ctx context.Context, actor service.Actor, chatID string) error
	AnnounceMessage(ctx context.Context, actor service.Actor, chatID, messageID string) (models.MessageView, error)
	MarkRead(ctx context.Context, actor service.Actor, chatID string, messageIDs []string) (models.ReadEvent, error)
	DeleteMessage(ctx context.Context, actor service.Actor, chatID, messageID string, forEveryone bool) (models.DeleteEvent, error)
}

// TokenVerifier resolves a bearer token to an identity.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (identity.Identity, error)
}

// PresenceTracker turns this instance's connection counts into online and
// offline transitions. firstLocal and lastLocal are the hub's own verdicts.
type PresenceTracker interface {
	Connected(ctx context.Context, userID string, firstLocal bool) bool
	Disconnected(ctx context.Context, userID string, lastLocal bool) bool
}

// LocalPresence trusts the hub alone. It is exact on a single instance.
type LocalPresence struct{}

func (LocalPresence) Connected(_ context.Context, _ string, firstLocal bool) bool {
	return firstLocal
}

func (LocalPresence) Disconnected(_ context.Context, _ string, lastLocal bool) bool {
	return lastLocal
}

// ChatWebSocketHandler serves the live event surface.
type ChatWebSocketHandler struct {
	hub       *Hub
	pipeline  Pipeline
	broadcast service.Broadcaster
	presence  PresenceTracker
	verifier  TokenVerifier
	logger    *slog.Logger
	upgrader  websocket.Upgrader
}

// NewChatWebSocketHandler constructs a ChatWebSocketHandler. broadcast is the
// fan-out used for presence and typing signals; it is the hub itself on a
// single instance and the relay otherwise.
func NewChatWebSocketHandler(hub *Hub, pipeline Pipeline, broadcast service.Broadcaster, verifier TokenVerifier, allowedOrigins []string, logger *slog.Logger) *ChatWebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if broadcast == nil {
		broadcast = hub
	}
	return &ChatWebSocketHandler{
		hub:       hub,
		pipeline:  pipeline,
		broadcast: broadcast,
		presence:  LocalPresence{},
		verifier:  verifier,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

// WithPresence replaces the hub-local presence tracker, typically with one
// shared by every instance behind the relay.
func (h *ChatWebSocketHandler) WithPresence(p PresenceTracker) *ChatWebSocketHandler {
	if p != nil {
		h.presence = p
	}
	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(r *http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(r *http.Request) bool { return true }
		}
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

// Handle authenticates, upgrades the connection and subscribes it to every
// chat its user participates in.
func (h *ChatWebSocketHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("fyzo-chat/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()

	id, err := h.verifier.Verify(ctx, identity.TokenFromRequest(c.Request))
	if err != nil {
		h.logger.Warn("ws auth failed", "error", err, "ip", observability.IPFromRequest(c.Request))
		c.JSON(http.StatusUnauthorized, gin.H{"success": false, "message": "Authentication required"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      id.UserID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	client := NewClient(conn, info)
	// The request context ends with this handler; the connection outlives it.
	connCtx := context.WithoutCancel(ctx)
	actor := service.Actor{UserID: id.UserID, Role: id.Role, ConnID: client.ID}

	firstLocal := h.hub.Register(client)
	observability.IncWSActive()
	publishWSEvent(connCtx, info, "ws_connect", "")
	h.logger.Info("ws connected", "conn_id", client.ID, "user_id", id.UserID)

	go client.writePump()

	h.hub.SendTo(client.ID, models.EventConnected, gin.H{"connectionId": client.ID, "userId": id.UserID})
	h.joinAll(connCtx, client)
	if h.presence.Connected(connCtx, id.UserID, firstLocal) {
		h.broadcast.ToAll(connCtx, models.EventUserOnline, models.PresenceEvent{UserID: id.UserID, At: time.Now().UTC()}, client.ID)
	}

	go func() {
		err := client.readPump(func(frame []byte) { h.dispatch(connCtx, client, actor, frame) })
		reason := ""
		if err != nil {
			reason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				publishWSEvent(connCtx, info, "ws_error", reason)
			}
		}
		client.Close()
		lastLocal := h.hub.Unregister(client)
		if h.presence.Disconnected(connCtx, id.UserID, lastLocal) {
			h.broadcast.ToAll(connCtx, models.EventUserOffline, models.PresenceEvent{UserID: id.UserID, At: time.Now().UTC()}, client.ID)
		}
		observability.DecWSActive()
		publishWSEvent(connCtx, info, "ws_disconnect", reason)
		h.logger.Info("ws disconnected", "conn_id", client.ID, "user_id", id.UserID, "reason", reason)
	}()
}

func (h *ChatWebSocketHandler) joinAll(ctx context.Context, client *Client) {
	chatIDs, err := h.pipeline.ChatIDsFor(ctx, client.UserID)
	if err != nil {
		h.logger.Error("list chats for connection failed", "conn_id", client.ID, "user_id", client.UserID, "error", err)
		h.replyError(client, models.EventUserJoin, err)
		return
	}
	for _, chatID := range chatIDs {
		h.hub.Join(client.ID, chatID)
	}
}

type chatRef struct {
	ChatID string `json:"chatId"`
}

type userJoinData struct {
	UserID string `json:"userId"`
}

type messageRef struct {
	ChatID      string `json:"chatId"`
	MessageID   string `json:"messageId"`
	ForEveryone bool   `json:"forEveryone"`
}

type readData struct {
	ChatID     string   `json:"chatId"`
	MessageIDs []string `json:"messageIds"`
}

var (
	errMalformedFrame = service.NewBadRequest("Malformed event")
	errUnknownEvent   = service.NewBadRequest("Unknown event")
	errNotInRoom      = service.NewForbidden("Join the chat before sending typing events")
	errAccessDenied   = service.NewForbidden("Access denied")
)

// dispatch handles one client frame. Failures are reported to the
// originating connection only.
func (h *ChatWebSocketHandler) dispatch(ctx context.Context, client *Client, actor service.Actor, frame []byte) {
	var in models.InboundEvent
	if err := json.Unmarshal(frame, &in); err != nil || in.Event == "" {
		h.replyError(client, "", errMalformedFrame)
		return
	}
	observability.IncWSEvent("in", in.Event)

	if err := h.handleEvent(ctx, client, actor, in); err != nil {
		h.replyError(client, in.Event, err)
	}
}

func (h *ChatWebSocketHandler) handleEvent(ctx context.Context, client *Client, actor service.Actor, in models.InboundEvent) error {
	switch in.Event {
	case models.EventUserJoin:
		var d userJoinData
		if len(in.Data) > 0 {
			if err := decode(in.Data, &d); err != nil {
				return err
			}
		}
		if d.UserID != "" && d.UserID != client.UserID {
			return errAccessDenied
		}
		h.joinAll(ctx, client)
		return nil

	case models.EventChatJoin:
		var d chatRef
		if err := decode(in.Data, &d); err != nil {
			return err
		}
		if err := h.pipeline.AuthorizeRoom(ctx, actor, d.ChatID); err != nil {
			return err
		}
		h.hub.Join(client.ID, d.ChatID)
		return nil

	case models.EventChatLeave:
		var d chatRef
		if err := decode(in.Data, &d); err != nil {
			return err
		}
		h.hub.Leave(client.ID, d.ChatID)
		return nil

	case models.EventTypingStart, models.EventTypingStop:
		var d chatRef
		if err := decode(in.Data, &d); err != nil {
			return err
		}
		if !h.hub.InRoom(client.ID, d.ChatID) {
			return errNotInRoom
		}
		h.broadcast.ToRoom(ctx, d.ChatID, in.Event, models.TypingEvent{ChatID: d.ChatID, UserID: client.UserID}, client.ID)
		return nil

	case models.EventMessageSend:
		var d messageRef
		if err := decode(in.Data, &d); err != nil {
			return err
		}
		_, err := h.pipeline.AnnounceMessage(ctx, actor, d.ChatID, d.MessageID)
		return err

	case models.EventMessageRead:
		var d readData
		if err := decode(in.Data, &d); err != nil {
			return err
		}
		_, err := h.pipeline.MarkRead(ctx, actor, d.ChatID, d.MessageIDs)
		return err

	case models.EventMessageDelete:
		var d messageRef
		if err := decode(in.Data, &d); err != nil {
			return err
		}
		_, err := h.pipeline.DeleteMessage(ctx, actor, d.ChatID, d.MessageID, d.ForEveryone)
		return err
	}
	return errUnknownEvent
}

func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return errMalformedFrame
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errMalformedFrame
	}
	return nil
}

type errorData struct {
	Event   string `json:"event,omitempty"`
	Message string `json:"message"`
}

func (h *ChatWebSocketHandler) replyError(client *Client, event string, err error) {
	if service.KindOf(err) == service.KindInternal {
		h.logger.Error("ws event failed", "conn_id", client.ID, "event", event, "error", err)
	}
	h.hub.SendTo(client.ID, models.EventError, errorData{Event: event, Message: service.MessageOf(err)})
}

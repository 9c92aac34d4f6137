package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"fyzo-chat/internal/models"
	"fyzo-chat/internal/observability"
)

// Envelope is one event addressed to a room, or to every connection when Room is empty.
type Envelope struct {
	Room   string          `json:"room,omitempty"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data,omitempty"`
	Except string          `json:"except,omitempty"`
}

// Hub is the session directory: it tracks live connections, which user owns
// each one, and which chat rooms each connection is subscribed to.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	users   map[string]map[string]*Client
	rooms   map[string]map[string]*Client
	logger  *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients: make(map[string]*Client),
		users:   make(map[string]map[string]*Client),
		rooms:   make(map[string]map[string]*Client),
		logger:  logger,
	}
}

// Register binds a connection to its user. It reports whether this is the
// user's first live connection.
func (h *Hub) Register(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.ID] = c
	conns, ok := h.users[c.UserID]
	if !ok {
		conns = make(map[string]*Client)
		h.users[c.UserID] = conns
	}
	conns[c.ID] = c
	observability.SetOnlineUsers(len(h.users))
	return len(conns) == 1
}

// Unregister releases every subscription held by the connection. It reports
// whether the user has no live connection left.
func (h *Hub) Unregister(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c.ID]; !ok {
		return false
	}
	delete(h.clients, c.ID)
	for chatID := range c.rooms {
		h.leaveLocked(c, chatID)
	}
	last := false
	if conns, ok := h.users[c.UserID]; ok {
		delete(conns, c.ID)
		if len(conns) == 0 {
			delete(h.users, c.UserID)
			last = true
		}
	}
	observability.SetOnlineUsers(len(h.users))
	return last
}

// Join subscribes the connection to a chat room.
func (h *Hub) Join(connID, chatID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[connID]
	if !ok {
		return false
	}
	room, ok := h.rooms[chatID]
	if !ok {
		room = make(map[string]*Client)
		h.rooms[chatID] = room
	}
	room[connID] = c
	c.rooms[chatID] = struct{}{}
	return true
}

// Leave unsubscribes the connection from a chat room.
func (h *Hub) Leave(connID, chatID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[connID]; ok {
		h.leaveLocked(c, chatID)
	}
}

func (h *Hub) leaveLocked(c *Client, chatID string) {
	delete(c.rooms, chatID)
	if room, ok := h.rooms[chatID]; ok {
		delete(room, c.ID)
		if len(room) == 0 {
			delete(h.rooms, chatID)
		}
	}
}

// InRoom reports whether the connection is subscribed to the chat.
func (h *Hub) InRoom(connID, chatID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.rooms[chatID][connID]
	return ok
}

// IsOnline reports whether the user holds at least one live connection.
func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]) > 0
}

// OnlineUsers returns the number of users with a live connection.
func (h *Hub) OnlineUsers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users)
}

// ToRoom delivers an event to every connection in the chat room except the origin.
func (h *Hub) ToRoom(_ context.Context, chatID, event string, payload any, exceptConnID string) {
	env, err := NewEnvelope(chatID, event, payload, exceptConnID)
	if err != nil {
		h.logger.Error("encode room event failed", "event", event, "chat_id", chatID, "error", err)
		return
	}
	h.Deliver(env)
}

// ToAll delivers an event to every connection except the origin.
func (h *Hub) ToAll(_ context.Context, event string, payload any, exceptConnID string) {
	env, err := NewEnvelope("", event, payload, exceptConnID)
	if err != nil {
		h.logger.Error("encode global event failed", "event", event, "error", err)
		return
	}
	h.Deliver(env)
}

// SendTo writes an event to a single connection.
func (h *Hub) SendTo(connID, event string, payload any) {
	h.mu.RLock()
	c, ok := h.clients[connID]
	h.mu.RUnlock()
	if !ok {
		return
	}
	frame, err := json.Marshal(models.ChatEvent{Event: event, Data: payload})
	if err != nil {
		h.logger.Error("encode direct event failed", "event", event, "error", err)
		return
	}
	h.enqueue(c, frame, event)
}

// Deliver fans an already encoded envelope out to local connections.
func (h *Hub) Deliver(env Envelope) {
	frame, err := json.Marshal(struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data,omitempty"`
	}{Event: env.Event, Data: env.Data})
	if err != nil {
		h.logger.Error("encode frame failed", "event", env.Event, "error", err)
		return
	}

	h.mu.RLock()
	targets := h.clients
	if env.Room != "" {
		targets = h.rooms[env.Room]
	}
	recipients := make([]*Client, 0, len(targets))
	for id, c := range targets {
		if id != env.Except {
			recipients = append(recipients, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range recipients {
		h.enqueue(c, frame, env.Event)
	}
}

// enqueue never blocks: a client whose buffer is full is disconnected and
// expected to reconcile on reconnect.
func (h *Hub) enqueue(c *Client, frame []byte, event string) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- frame:
		observability.IncWSEvent("out", event)
	default:
		observability.IncBroadcastDropped()
		h.logger.Warn("client send buffer full, dropping connection", "conn_id", c.ID, "user_id", c.UserID, "event", event)
		h.publishWSError(c, "send buffer full")
		c.Close()
	}
}

func (h *Hub) publishWSError(c *Client, reason string) {
	publishWSEvent(context.Background(), c.Info, "ws_error", reason)
}

// NewEnvelope encodes payload into an Envelope.
func NewEnvelope(room, event string, payload any, except string) (Envelope, error) {
	env := Envelope{Room: room, Event: event, Except: except}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, err
		}
		env.Data = data
	}
	return env, nil
}

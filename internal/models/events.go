package models

import (
	"encoding/json"
	"time"
)

// Live event names exchanged over websocket connections.
const (
	EventConnected     = "connected"
	EventError         = "error"
	EventUserJoin      = "user:join"
	EventUserOnline    = "user:online"
	EventUserOffline   = "user:offline"
	EventChatJoin      = "chat:join"
	EventChatLeave     = "chat:leave"
	EventTypingStart   = "typing:start"
	EventTypingStop    = "typing:stop"
	EventMessageSend   = "message:send"
	EventMessageNew    = "message:new"
	EventMessageRead   = "message:read"
	EventMessageDelete = "message:delete"
)

// ChatEvent is a frame sent to websocket clients.
type ChatEvent struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// InboundEvent is a frame received from a websocket client.
type InboundEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// PresenceEvent announces a user going online or offline.
type PresenceEvent struct {
	UserID string    `json:"userId"`
	At     time.Time `json:"at"`
}

// TypingEvent is a transient typing indicator.
type TypingEvent struct {
	ChatID string `json:"chatId"`
	UserID string `json:"userId"`
}

// ReadEvent is a batch of read receipts.
type ReadEvent struct {
	ChatID     string    `json:"chatId"`
	UserID     string    `json:"userId"`
	MessageIDs []string  `json:"messageIds"`
	ReadAt     time.Time `json:"readAt"`
}

// DeleteEvent announces a message deletion.
type DeleteEvent struct {
	ChatID      string `json:"chatId"`
	MessageID   string `json:"messageId"`
	UserID      string `json:"userId"`
	ForEveryone bool   `json:"forEveryone"`
	Content     string `json:"content,omitempty"`
}

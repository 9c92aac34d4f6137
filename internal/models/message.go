package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MessageType enumerates the supported message payloads.
type MessageType string

const (
	MessageTypeText  MessageType = "text"
	MessageTypeImage MessageType = "image"
	MessageTypeVideo MessageType = "video"
	MessageTypeAudio MessageType = "audio"
	MessageTypeFile  MessageType = "file"
)

// MaxContentLength bounds message content in characters.
const MaxContentLength = 5000

// TombstoneContent replaces the content of a message deleted for everyone.
const TombstoneContent = "This message was deleted"

var (
	ErrContentRequired  = errors.New("message content is required")
	ErrContentTooLong   = fmt.Errorf("message content exceeds %d characters", MaxContentLength)
	ErrMediaURLRequired = errors.New("media URL is required for non-text messages")
	ErrInvalidType      = errors.New("unsupported message type")
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeVideo, MessageTypeAudio, MessageTypeFile:
		return true
	}
	return false
}

// Dimensions of an image or video attachment.
type Dimensions struct {
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
}

// MediaMetadata describes an attachment.
type MediaMetadata struct {
	FileName   string      `json:"fileName,omitempty"`
	FileSize   int64       `json:"fileSize,omitempty"`
	MimeType   string      `json:"mimeType,omitempty"`
	Duration   float64     `json:"duration,omitempty"`
	Dimensions *Dimensions `json:"dimensions,omitempty"`
}

// ReadReceipt records when a user read a message.
type ReadReceipt struct {
	UserID string    `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

// Message is a single chat message.
type Message struct {
	ID            string         `json:"id"`
	ChatID        string         `json:"chatId"`
	SenderID      string         `json:"senderId"`
	SenderRole    Role           `json:"senderRole"`
	Content       string         `json:"content,omitempty"`
	Type          MessageType    `json:"type"`
	MediaURL      string         `json:"mediaUrl,omitempty"`
	MediaMetadata *MediaMetadata `json:"mediaMetadata,omitempty"`
	ReadBy        []ReadReceipt  `json:"readBy"`
	IsDeleted     bool           `json:"isDeleted"`
	// DeletedFor stays server-side; other participants must not learn who hid a message.
	DeletedFor    []string       `json:"-"`
	ReplyTo       string         `json:"replyTo,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// ValidateContent checks the type-dependent required fields.
func ValidateContent(t MessageType, content, mediaURL string) error {
	if !t.Valid() {
		return ErrInvalidType
	}
	if t == MessageTypeText && strings.TrimSpace(content) == "" {
		return ErrContentRequired
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return ErrContentTooLong
	}
	if t != MessageTypeText && strings.TrimSpace(mediaURL) == "" {
		return ErrMediaURLRequired
	}
	return nil
}

// IsReadBy reports whether userID has a read receipt on the message.
func (m Message) IsReadBy(userID string) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// MarkAsRead appends a receipt for userID unless one already exists.
func (m *Message) MarkAsRead(userID string, at time.Time) bool {
	if m.IsReadBy(userID) {
		return false
	}
	m.ReadBy = append(m.ReadBy, ReadReceipt{UserID: userID, ReadAt: at})
	return true
}

// IsHiddenFor reports whether the message was deleted for userID only.
func (m Message) IsHiddenFor(userID string) bool {
	for _, id := range m.DeletedFor {
		if id == userID {
			return true
		}
	}
	return false
}

// HideFor adds userID to deletedFor unless already present.
func (m *Message) HideFor(userID string) bool {
	if m.IsHiddenFor(userID) {
		return false
	}
	m.DeletedFor = append(m.DeletedFor, userID)
	return true
}

// Tombstone deletes the message for everyone. There is no way back.
func (m *Message) Tombstone() {
	m.IsDeleted = true
	m.Content = TombstoneContent
}

// Preview is the text shown as the chat's last message.
func (m Message) Preview() string {
	if m.Type == MessageTypeText {
		return m.Content
	}
	return "Sent " + string(m.Type)
}

// Snapshot derives the chat summary for this message.
func (m Message) Snapshot() LastMessage {
	return LastMessage{
		Content:   m.Preview(),
		SenderID:  m.SenderID,
		Timestamp: m.CreatedAt,
		Type:      m.Type,
	}
}

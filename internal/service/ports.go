package service

import (
	"context"

	"fyzo-chat/internal/models"
)

//go:generate mockgen -destination=../mocks/broadcaster_mock.go -package=mocks fyzo-chat/internal/service Broadcaster,EventPublisher

// Broadcaster fans events out to live connections. Delivery is best effort;
// exceptConnID names the originating connection, or is empty.
type Broadcaster interface {
	ToRoom(ctx context.Context, chatID, event string, payload any, exceptConnID string)
	ToAll(ctx context.Context, event string, payload any, exceptConnID string)
}

// Presence answers whether a user currently holds a live connection.
type Presence interface {
	IsOnline(userID string) bool
}

// EventPublisher ships domain events to the message broker.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// Actor is the authenticated caller of an operation.
type Actor struct {
	UserID string
	Role   string
	// ConnID is the caller's live connection, excluded from fan-out.
	ConnID string
}

// SendMessageInput is the client-supplied part of a new message.
type SendMessageInput struct {
	Content       string                `json:"content"`
	Type          models.MessageType    `json:"type"`
	MediaURL      string                `json:"mediaUrl"`
	MediaMetadata *models.MediaMetadata `json:"mediaMetadata"`
	ReplyTo       string                `json:"replyTo"`
}

// Page is a normalized page request.
type Page struct {
	Page  int
	Limit int
}

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
	// MaxPage keeps (page-1)*limit far from int overflow.
	MaxPage = 1_000_000
)

// NewPage clamps page and limit to sane bounds.
func NewPage(page, limit int) Page {
	if page < 1 {
		page = 1
	}
	if page > MaxPage {
		page = MaxPage
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return Page{Page: page, Limit: limit}
}

// Skip is the number of items before the page.
func (p Page) Skip() int { return (p.Page - 1) * p.Limit }

package repositories

import (
	"context"
	"errors"
	"time"

	"fyzo-chat/internal/models"
)

var (
	ErrChatNotFound    = errors.New("chat not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrCreatorNotFound = errors.New("creator not found")
	ErrSessionNotFound = errors.New("session not found")
	ErrDuplicateChat   = errors.New("chat already exists for pair")
	ErrInvalidID       = errors.New("invalid id")
)

// ChatRepository abstracts chat persistence.
type ChatRepository interface {
	CreateChat(ctx context.Context, chat models.Chat) (models.Chat, error)
	FindByPair(ctx context.Context, creatorID string, userID string) (models.Chat, error)
	GetChat(ctx context.Context, chatID string) (models.Chat, error)
	ListChats(ctx context.Context, userID string, skip, limit int) ([]models.Chat, int64, error)
	ListChatIDs(ctx context.Context, userID string) ([]string, error)
	// RecordMessage stores the last-message snapshot and bumps the recipient's unread count
	// in a single document update.
	RecordMessage(ctx context.Context, chatID string, last models.LastMessage, recipientID string) error
	ResetUnread(ctx context.Context, chatID string, userID string) error
	SetBlocked(ctx context.Context, chatID string, blocked bool, blockedBy string) error
	UnreadTotal(ctx context.Context, userID string) (int, error)
}

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, msg models.Message) (models.Message, error)
	GetMessage(ctx context.Context, chatID string, messageID string) (models.Message, error)
	GetMessages(ctx context.Context, messageIDs []string) ([]models.Message, error)
	// ListForUser returns the newest messages first, skipping those hidden for userID.
	ListForUser(ctx context.Context, chatID string, userID string, skip, limit int) ([]models.Message, int64, error)
	// MarkRead adds a receipt for userID to the listed messages of the chat that lack one
	// and returns the ids that changed.
	MarkRead(ctx context.Context, chatID string, messageIDs []string, userID string, at time.Time) ([]string, error)
	HideForUser(ctx context.Context, chatID string, messageID string, userID string) error
	Tombstone(ctx context.Context, chatID string, messageID string) error
}

// Directory resolves profiles and sessions owned by the identity and creator services.
type Directory interface {
	GetCreator(ctx context.Context, creatorID string) (models.Creator, error)
	BulkCreators(ctx context.Context, creatorIDs []string) ([]models.Creator, error)
	BulkUsers(ctx context.Context, userIDs []string) ([]models.UserSummary, error)
	FindSession(ctx context.Context, refreshToken string) (models.Session, error)
}

// Store bundles one backend's repositories.
type Store struct {
	Driver    string
	Chats     ChatRepository
	Messages  MessageRepository
	Directory Directory
	Ping      func(ctx context.Context) error
	Close     func(ctx context.Context) error
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

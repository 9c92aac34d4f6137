package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"fyzo-chat/internal/models"
	"fyzo-chat/internal/repositories"
)

type ChatRepositoryMock struct {
	mock.Mock
}

func (m *ChatRepositoryMock) CreateChat(ctx context.Context, chat models.Chat) (models.Chat, error) {
	args := m.Called(ctx, chat)
	var out models.Chat
	if val := args.Get(0); val != nil {
		out = val.(models.Chat)
	}
	return out, args.Error(1)
}

func (m *ChatRepositoryMock) FindByPair(ctx context.Context, creatorID string, userID string) (models.Chat, error) {
	args := m.Called(ctx, creatorID, userID)
	var out models.Chat
	if val := args.Get(0); val != nil {
		out = val.(models.Chat)
	}
	return out, args.Error(1)
}

func (m *ChatRepositoryMock) GetChat(ctx context.Context, chatID string) (models.Chat, error) {
	args := m.Called(ctx, chatID)
	var out models.Chat
	if val := args.Get(0); val != nil {
		out = val.(models.Chat)
	}
	return out, args.Error(1)
}

func (m *ChatRepositoryMock) ListChats(ctx context.Context, userID string, skip, limit int) ([]models.Chat, int64, error) {
	args := m.Called(ctx, userID, skip, limit)
	var list []models.Chat
	if val := args.Get(0); val != nil {
		list = val.([]models.Chat)
	}
	return list, args.Get(1).(int64), args.Error(2)
}

func (m *ChatRepositoryMock) ListChatIDs(ctx context.Context, userID string) ([]string, error) {
	args := m.Called(ctx, userID)
	var ids []string
	if val := args.Get(0); val != nil {
		ids = val.([]string)
	}
	return ids, args.Error(1)
}

func (m *ChatRepositoryMock) RecordMessage(ctx context.Context, chatID string, last models.LastMessage, recipientID string) error {
	args := m.Called(ctx, chatID, last, recipientID)
	return args.Error(0)
}

func (m *ChatRepositoryMock) ResetUnread(ctx context.Context, chatID string, userID string) error {
	args := m.Called(ctx, chatID, userID)
	return args.Error(0)
}

func (m *ChatRepositoryMock) SetBlocked(ctx context.Context, chatID string, blocked bool, blockedBy string) error {
	args := m.Called(ctx, chatID, blocked, blockedBy)
	return args.Error(0)
}

func (m *ChatRepositoryMock) UnreadTotal(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	args := m.Called(ctx, msg)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, chatID string, messageID string) (models.Message, error) {
	args := m.Called(ctx, chatID, messageID)
	var out models.Message
	if val := args.Get(0); val != nil {
		out = val.(models.Message)
	}
	return out, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessages(ctx context.Context, messageIDs []string) ([]models.Message, error) {
	args := m.Called(ctx, messageIDs)
	var list []models.Message
	if val := args.Get(0); val != nil {
		list = val.([]models.Message)
	}
	return list, args.Error(1)
}

func (m *MessageRepositoryMock) ListForUser(ctx context.Context, chatID string, userID string, skip, limit int) ([]models.Message, int64, error) {
	args := m.Called(ctx, chatID, userID, skip, limit)
	var list []models.Message
	if val := args.Get(0); val != nil {
		list = val.([]models.Message)
	}
	return list, args.Get(1).(int64), args.Error(2)
}

func (m *MessageRepositoryMock) MarkRead(ctx context.Context, chatID string, messageIDs []string, userID string, at time.Time) ([]string, error) {
	args := m.Called(ctx, chatID, messageIDs, userID, at)
	var ids []string
	if val := args.Get(0); val != nil {
		ids = val.([]string)
	}
	return ids, args.Error(1)
}

func (m *MessageRepositoryMock) HideForUser(ctx context.Context, chatID string, messageID string, userID string) error {
	args := m.Called(ctx, chatID, messageID, userID)
	return args.Error(0)
}

func (m *MessageRepositoryMock) Tombstone(ctx context.Context, chatID string, messageID string) error {
	args := m.Called(ctx, chatID, messageID)
	return args.Error(0)
}

type DirectoryMock struct {
	mock.Mock
}

func (m *DirectoryMock) GetCreator(ctx context.Context, creatorID string) (models.Creator, error) {
	args := m.Called(ctx, creatorID)
	var out models.Creator
	if val := args.Get(0); val != nil {
		out = val.(models.Creator)
	}
	return out, args.Error(1)
}

func (m *DirectoryMock) BulkCreators(ctx context.Context, creatorIDs []string) ([]models.Creator, error) {
	args := m.Called(ctx, creatorIDs)
	var list []models.Creator
	if val := args.Get(0); val != nil {
		list = val.([]models.Creator)
	}
	return list, args.Error(1)
}

func (m *DirectoryMock) BulkUsers(ctx context.Context, userIDs []string) ([]models.UserSummary, error) {
	args := m.Called(ctx, userIDs)
	var list []models.UserSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.UserSummary)
	}
	return list, args.Error(1)
}

func (m *DirectoryMock) FindSession(ctx context.Context, refreshToken string) (models.Session, error) {
	args := m.Called(ctx, refreshToken)
	var out models.Session
	if val := args.Get(0); val != nil {
		out = val.(models.Session)
	}
	return out, args.Error(1)
}

var (
	_ repositories.ChatRepository    = (*ChatRepositoryMock)(nil)
	_ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
	_ repositories.Directory         = (*DirectoryMock)(nil)
)

package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"fyzo-chat/internal/models"
)

// MemoryStore keeps chats, messages and directory records in process memory.
// It implements ChatRepository, MessageRepository and Directory.
type MemoryStore struct {
	mu       sync.RWMutex
	chats    map[string]models.Chat
	pairs    map[string]string
	messages map[string]models.Message
	users    map[string]models.UserSummary
	creators map[string]models.Creator
	sessions map[string]models.Session
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chats:    make(map[string]models.Chat),
		pairs:    make(map[string]string),
		messages: make(map[string]models.Message),
		users:    make(map[string]models.UserSummary),
		creators: make(map[string]models.Creator),
		sessions: make(map[string]models.Session),
		now:      time.Now,
	}
}

// NewMemoryBackend wraps a MemoryStore as a Store.
func NewMemoryBackend(m *MemoryStore) Store {
	return Store{
		Driver:    "memory",
		Chats:     m,
		Messages:  m,
		Directory: m,
		Ping:      func(context.Context) error { return nil },
		Close:     func(context.Context) error { return nil },
	}
}

// PutUser seeds a user profile.
func (m *MemoryStore) PutUser(u models.UserSummary) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

// PutCreator seeds a creator profile.
func (m *MemoryStore) PutCreator(c models.Creator) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creators[c.ID] = c
}

// PutSession seeds a login session.
func (m *MemoryStore) PutSession(s models.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.RefreshToken] = s
}

func (m *MemoryStore) CreateChat(ctx context.Context, chat models.Chat) (models.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var key string
	for _, p := range chat.Participants {
		if p.Role == models.RoleUser {
			key = models.PairKey(chat.CreatorID, p.UserID)
		}
	}
	if _, ok := m.pairs[key]; ok && key != "" {
		return models.Chat{}, ErrDuplicateChat
	}
	chat.ID = uuid.NewString()
	chat = cloneChat(chat)
	m.chats[chat.ID] = chat
	if key != "" {
		m.pairs[key] = chat.ID
	}
	return cloneChat(chat), nil
}

func (m *MemoryStore) FindByPair(ctx context.Context, creatorID string, userID string) (models.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.pairs[models.PairKey(creatorID, userID)]
	if !ok {
		return models.Chat{}, ErrChatNotFound
	}
	return cloneChat(m.chats[id]), nil
}

func (m *MemoryStore) GetChat(ctx context.Context, chatID string) (models.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	chat, ok := m.chats[chatID]
	if !ok {
		return models.Chat{}, ErrChatNotFound
	}
	return cloneChat(chat), nil
}

func (m *MemoryStore) ListChats(ctx context.Context, userID string, skip, limit int) ([]models.Chat, int64, error) {
	m.mu.RLock()
	var matched []models.Chat
	for _, c := range m.chats {
		if c.IsActive && c.IsParticipant(userID) {
			matched = append(matched, cloneChat(c))
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].ID < matched[j].ID
		}
		return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
	})
	return window(matched, skip, limit), int64(len(matched)), nil
}

func (m *MemoryStore) ListChatIDs(ctx context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, c := range m.chats {
		if c.IsParticipant(userID) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) RecordMessage(ctx context.Context, chatID string, last models.LastMessage, recipientID string) error {
	return m.updateChat(chatID, func(c *models.Chat) {
		c.LastMessage = &last
		if recipientID != "" {
			c.UnreadCount[recipientID]++
		}
		c.UpdatedAt = m.now()
	})
}

func (m *MemoryStore) ResetUnread(ctx context.Context, chatID string, userID string) error {
	return m.updateChat(chatID, func(c *models.Chat) {
		c.UnreadCount[userID] = 0
	})
}

func (m *MemoryStore) SetBlocked(ctx context.Context, chatID string, blocked bool, blockedBy string) error {
	return m.updateChat(chatID, func(c *models.Chat) {
		c.IsBlocked = blocked
		c.BlockedBy = ""
		if blocked {
			c.BlockedBy = blockedBy
		}
		c.UpdatedAt = m.now()
	})
}

func (m *MemoryStore) UnreadTotal(ctx context.Context, userID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := 0
	for _, c := range m.chats {
		if c.IsActive {
			total += c.Unread(userID)
		}
	}
	return total, nil
}

func (m *MemoryStore) updateChat(chatID string, fn func(c *models.Chat)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	chat, ok := m.chats[chatID]
	if !ok {
		return ErrChatNotFound
	}
	if chat.UnreadCount == nil {
		chat.UnreadCount = map[string]int{}
	}
	fn(&chat)
	m.chats[chatID] = chat
	return nil
}

func (m *MemoryStore) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = uuid.NewString()
	if msg.ReadBy == nil {
		msg.ReadBy = []models.ReadReceipt{}
	}
	m.messages[msg.ID] = cloneMessage(msg)
	return cloneMessage(msg), nil
}

func (m *MemoryStore) GetMessage(ctx context.Context, chatID string, messageID string) (models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[messageID]
	if !ok || msg.ChatID != chatID {
		return models.Message{}, ErrMessageNotFound
	}
	return cloneMessage(msg), nil
}

func (m *MemoryStore) GetMessages(ctx context.Context, messageIDs []string) ([]models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Message
	for _, id := range uniqueStrings(messageIDs) {
		if msg, ok := m.messages[id]; ok {
			out = append(out, cloneMessage(msg))
		}
	}
	return out, nil
}

func (m *MemoryStore) ListForUser(ctx context.Context, chatID string, userID string, skip, limit int) ([]models.Message, int64, error) {
	m.mu.RLock()
	var matched []models.Message
	for _, msg := range m.messages {
		if msg.ChatID == chatID && !msg.IsHiddenFor(userID) {
			matched = append(matched, cloneMessage(msg))
		}
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return window(matched, skip, limit), int64(len(matched)), nil
}

func (m *MemoryStore) MarkRead(ctx context.Context, chatID string, messageIDs []string, userID string, at time.Time) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var marked []string
	for _, id := range uniqueStrings(messageIDs) {
		msg, ok := m.messages[id]
		if !ok || msg.ChatID != chatID {
			continue
		}
		if msg.MarkAsRead(userID, at) {
			msg.UpdatedAt = m.now()
			m.messages[id] = msg
			marked = append(marked, id)
		}
	}
	return marked, nil
}

func (m *MemoryStore) HideForUser(ctx context.Context, chatID string, messageID string, userID string) error {
	return m.updateMessage(chatID, messageID, func(msg *models.Message) {
		msg.HideFor(userID)
	})
}

func (m *MemoryStore) Tombstone(ctx context.Context, chatID string, messageID string) error {
	return m.updateMessage(chatID, messageID, func(msg *models.Message) {
		msg.Tombstone()
	})
}

func (m *MemoryStore) updateMessage(chatID, messageID string, fn func(msg *models.Message)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok || msg.ChatID != chatID {
		return ErrMessageNotFound
	}
	fn(&msg)
	msg.UpdatedAt = m.now()
	m.messages[messageID] = msg
	return nil
}

func (m *MemoryStore) GetCreator(ctx context.Context, creatorID string) (models.Creator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.creators[creatorID]
	if !ok {
		return models.Creator{}, ErrCreatorNotFound
	}
	return c, nil
}

func (m *MemoryStore) BulkCreators(ctx context.Context, creatorIDs []string) ([]models.Creator, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Creator
	for _, id := range uniqueStrings(creatorIDs) {
		if c, ok := m.creators[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *MemoryStore) BulkUsers(ctx context.Context, userIDs []string) ([]models.UserSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.UserSummary
	for _, id := range uniqueStrings(userIDs) {
		if u, ok := m.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *MemoryStore) FindSession(ctx context.Context, refreshToken string) (models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[refreshToken]
	if !ok {
		return models.Session{}, ErrSessionNotFound
	}
	return s, nil
}

func window[T any](items []T, skip, limit int) []T {
	if skip < 0 {
		skip = 0
	}
	if skip >= len(items) {
		return []T{}
	}
	end := len(items)
	if limit > 0 && skip+limit < end {
		end = skip + limit
	}
	return items[skip:end]
}

func cloneChat(c models.Chat) models.Chat {
	c.Participants = append([]models.Participant(nil), c.Participants...)
	counts := make(map[string]int, len(c.UnreadCount))
	for k, v := range c.UnreadCount {
		counts[k] = v
	}
	c.UnreadCount = counts
	if c.LastMessage != nil {
		last := *c.LastMessage
		c.LastMessage = &last
	}
	return c
}

func cloneMessage(msg models.Message) models.Message {
	msg.ReadBy = append([]models.ReadReceipt{}, msg.ReadBy...)
	if msg.DeletedFor != nil {
		msg.DeletedFor = append([]string(nil), msg.DeletedFor...)
	}
	if msg.MediaMetadata != nil {
		md := *msg.MediaMetadata
		msg.MediaMetadata = &md
	}
	return msg
}

var (
	_ ChatRepository    = (*MemoryStore)(nil)
	_ MessageRepository = (*MemoryStore)(nil)
	_ Directory         = (*MemoryStore)(nil)
)

package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fyzo-chat/internal/models"
)

// runStoreContract exercises the chat and message repositories of one backend.
// newID mints identifiers in the backend's native format.
func runStoreContract(t *testing.T, store Store, newID func() string) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	missingID := newID()
	creatorA, creatorB := newID(), newID()
	fan, ownerA, ownerB := newID(), newID(), newID()

	chat, err := store.Chats.CreateChat(ctx, models.NewChat(creatorA, fan, ownerA, base))
	require.NoError(t, err)
	require.NotEmpty(t, chat.ID)

	t.Run("pair is unique", func(t *testing.T) {
		_, err := store.Chats.CreateChat(ctx, models.NewChat(creatorA, fan, ownerA, base))
		assert.ErrorIs(t, err, ErrDuplicateChat)

		found, err := store.Chats.FindByPair(ctx, creatorA, fan)
		require.NoError(t, err)
		assert.Equal(t, chat.ID, found.ID)

		_, err = store.Chats.FindByPair(ctx, creatorA, newID())
		assert.ErrorIs(t, err, ErrChatNotFound)
		_, err = store.Chats.GetChat(ctx, missingID)
		assert.ErrorIs(t, err, ErrChatNotFound)
	})

	t.Run("unread counters", func(t *testing.T) {
		last := models.LastMessage{Content: "hi", SenderID: fan, Timestamp: base, Type: models.MessageTypeText}
		require.NoError(t, store.Chats.RecordMessage(ctx, chat.ID, last, ownerA))
		require.NoError(t, store.Chats.RecordMessage(ctx, chat.ID, last, ownerA))

		got, err := store.Chats.GetChat(ctx, chat.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.Unread(ownerA))
		assert.Equal(t, 0, got.Unread(fan))
		require.NotNil(t, got.LastMessage)
		assert.Equal(t, "hi", got.LastMessage.Content)

		total, err := store.Chats.UnreadTotal(ctx, ownerA)
		require.NoError(t, err)
		assert.Equal(t, 2, total)

		require.NoError(t, store.Chats.ResetUnread(ctx, chat.ID, ownerA))
		got, err = store.Chats.GetChat(ctx, chat.ID)
		require.NoError(t, err)
		assert.Equal(t, 0, got.Unread(ownerA))
	})

	t.Run("block flag", func(t *testing.T) {
		require.NoError(t, store.Chats.SetBlocked(ctx, chat.ID, true, ownerA))
		got, err := store.Chats.GetChat(ctx, chat.ID)
		require.NoError(t, err)
		assert.True(t, got.IsBlocked)
		assert.Equal(t, ownerA, got.BlockedBy)

		require.NoError(t, store.Chats.SetBlocked(ctx, chat.ID, false, ownerA))
		got, err = store.Chats.GetChat(ctx, chat.ID)
		require.NoError(t, err)
		assert.False(t, got.IsBlocked)
		assert.Empty(t, got.BlockedBy)
	})

	t.Run("listing", func(t *testing.T) {
		other, err := store.Chats.CreateChat(ctx, models.NewChat(creatorB, fan, ownerB, base.Add(-time.Hour)))
		require.NoError(t, err)

		chats, total, err := store.Chats.ListChats(ctx, fan, 0, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		require.Len(t, chats, 2)
		assert.Equal(t, chat.ID, chats[0].ID, "recently updated chat first")
		assert.Equal(t, other.ID, chats[1].ID)

		page, _, err := store.Chats.ListChats(ctx, fan, 1, 1)
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, other.ID, page[0].ID)

		ids, err := store.Chats.ListChatIDs(ctx, fan)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{chat.ID, other.ID}, ids)

		ids, err = store.Chats.ListChatIDs(ctx, ownerB)
		require.NoError(t, err)
		assert.Equal(t, []string{other.ID}, ids)
	})

	var msgIDs []string
	for i, content := range []string{"first", "second", "third"} {
		at := base.Add(time.Duration(i+1) * time.Minute)
		msg, err := store.Messages.CreateMessage(ctx, models.Message{
			ChatID:     chat.ID,
			SenderID:   fan,
			SenderRole: models.RoleUser,
			Content:    content,
			Type:       models.MessageTypeText,
			ReadBy:     []models.ReadReceipt{{UserID: fan, ReadAt: at}},
			CreatedAt:  at,
			UpdatedAt:  at,
		})
		require.NoError(t, err)
		require.NotEmpty(t, msg.ID)
		msgIDs = append(msgIDs, msg.ID)
	}

	t.Run("messages newest first", func(t *testing.T) {
		msgs, total, err := store.Messages.ListForUser(ctx, chat.ID, ownerA, 0, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(3), total)
		require.Len(t, msgs, 2)
		assert.Equal(t, "third", msgs[0].Content)
		assert.Equal(t, "second", msgs[1].Content)

		_, err = store.Messages.GetMessage(ctx, missingID, msgIDs[0])
		assert.ErrorIs(t, err, ErrMessageNotFound)

		got, err := store.Messages.GetMessages(ctx, []string{msgIDs[0], msgIDs[0]})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "first", got[0].Content)
	})

	t.Run("mark read is idempotent", func(t *testing.T) {
		marked, err := store.Messages.MarkRead(ctx, chat.ID, msgIDs[:2], ownerA, base.Add(time.Hour))
		require.NoError(t, err)
		assert.ElementsMatch(t, msgIDs[:2], marked)

		marked, err = store.Messages.MarkRead(ctx, chat.ID, msgIDs, ownerA, base.Add(2*time.Hour))
		require.NoError(t, err)
		assert.Equal(t, []string{msgIDs[2]}, marked)

		marked, err = store.Messages.MarkRead(ctx, chat.ID, msgIDs, fan, base.Add(2*time.Hour))
		require.NoError(t, err)
		assert.Empty(t, marked)

		msg, err := store.Messages.GetMessage(ctx, chat.ID, msgIDs[0])
		require.NoError(t, err)
		receipts := 0
		for _, r := range msg.ReadBy {
			if r.UserID == ownerA {
				receipts++
			}
		}
		assert.Equal(t, 1, receipts)
	})

	t.Run("hide and tombstone", func(t *testing.T) {
		require.NoError(t, store.Messages.HideForUser(ctx, chat.ID, msgIDs[0], ownerA))
		require.NoError(t, store.Messages.HideForUser(ctx, chat.ID, msgIDs[0], ownerA))

		msg, err := store.Messages.GetMessage(ctx, chat.ID, msgIDs[0])
		require.NoError(t, err)
		assert.Equal(t, []string{ownerA}, msg.DeletedFor)

		visible, total, err := store.Messages.ListForUser(ctx, chat.ID, ownerA, 0, 10)
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		for _, m := range visible {
			assert.NotEqual(t, msgIDs[0], m.ID)
		}

		require.NoError(t, store.Messages.Tombstone(ctx, chat.ID, msgIDs[1]))
		msg, err = store.Messages.GetMessage(ctx, chat.ID, msgIDs[1])
		require.NoError(t, err)
		assert.True(t, msg.IsDeleted)
		assert.Equal(t, models.TombstoneContent, msg.Content)

		assert.ErrorIs(t, store.Messages.Tombstone(ctx, chat.ID, missingID), ErrMessageNotFound)
	})
}

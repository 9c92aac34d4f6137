package repositories

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fyzo-chat/internal/models"
)

func TestMemoryStoreContract(t *testing.T) {
	runStoreContract(t, NewMemoryBackend(NewMemoryStore()), uuid.NewString)
}

func TestMemoryDirectory(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	m.PutUser(models.UserSummary{ID: "u1", Name: "One"})
	m.PutUser(models.UserSummary{ID: "u2", Name: "Two"})
	m.PutCreator(models.Creator{ID: "c1", UserID: "u2", DisplayName: "Two Creates"})
	m.PutSession(models.Session{UserID: "u1", RefreshToken: "tok", IsActive: true, ExpiresAt: time.Now().Add(time.Hour)})

	creator, err := m.GetCreator(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "u2", creator.UserID)
	_, err = m.GetCreator(ctx, "nope")
	assert.ErrorIs(t, err, ErrCreatorNotFound)

	users, err := m.BulkUsers(ctx, []string{"u1", "u1", "", "missing", "u2"})
	require.NoError(t, err)
	assert.Len(t, users, 2)

	creators, err := m.BulkCreators(ctx, []string{"c1"})
	require.NoError(t, err)
	assert.Len(t, creators, 1)

	session, err := m.FindSession(ctx, "tok")
	require.NoError(t, err)
	assert.Equal(t, "u1", session.UserID)
	_, err = m.FindSession(ctx, "other")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	chat, err := m.CreateChat(ctx, models.NewChat("c1", "u1", "u2", time.Now()))
	require.NoError(t, err)

	chat.UnreadCount["u2"] = 99
	chat.Participants[0].UserID = "mallory"

	stored, err := m.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.Unread("u2"))
	assert.True(t, stored.IsParticipant("u1"))
}

func TestMemoryStoreConcurrentRecordMessage(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	chat, err := m.CreateChat(ctx, models.NewChat("c1", "u1", "u2", time.Now()))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.RecordMessage(ctx, chat.ID, models.LastMessage{Content: "x", SenderID: "u1"}, "u2")
		}()
	}
	wg.Wait()

	stored, err := m.GetChat(ctx, chat.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, stored.Unread("u2"))
}

//go:build integration

package repositories

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"fyzo-chat/internal/db"
)

func startPostgres(t *testing.T) *sqlx.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("fyzo_chat"),
		postgres.WithUsername("fyzo"),
		postgres.WithPassword("fyzo"),
		postgres.BasicWaitStrategies(),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate postgres: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	database, err := db.Connect(ctx, dsn, logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return database
}

func TestPostgresStoreContract(t *testing.T) {
	database := startPostgres(t)
	store := NewPostgresBackend(database)
	require.NoError(t, store.Ping(context.Background()))

	runStoreContract(t, store, uuid.NewString)

	_, err := store.Chats.GetChat(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestPostgresDirectory(t *testing.T) {
	ctx := context.Background()
	database := startPostgres(t)
	dir := NewPostgresDirectory(database)

	userID, creatorID := uuid.NewString(), uuid.NewString()
	_, err := database.ExecContext(ctx, `INSERT INTO users (id, name, email) VALUES ($1, 'Nova', 'nova@fyzo.test')`, userID)
	require.NoError(t, err)
	_, err = database.ExecContext(ctx, `INSERT INTO creators (id, user_id, display_name, profile_photo, verification_status, primary_category)
		VALUES ($1, $2, 'Nova Live', 'https://cdn.fyzo.test/nova.png', 'verified', 'music')`, creatorID, userID)
	require.NoError(t, err)
	_, err = database.ExecContext(ctx, `INSERT INTO sessions (refresh_token, user_id, is_active, expires_at) VALUES ('refresh-1', $1, TRUE, $2)`,
		userID, time.Now().Add(time.Hour))
	require.NoError(t, err)

	creator, err := dir.GetCreator(ctx, creatorID)
	require.NoError(t, err)
	assert.Equal(t, userID, creator.UserID)
	assert.Equal(t, "https://cdn.fyzo.test/nova.png", creator.ProfileImage)
	assert.Equal(t, "music", creator.PrimaryCategory)

	_, err = dir.GetCreator(ctx, uuid.NewString())
	assert.ErrorIs(t, err, ErrCreatorNotFound)

	creators, err := dir.BulkCreators(ctx, []string{creatorID, uuid.NewString()})
	require.NoError(t, err)
	require.Len(t, creators, 1)
	assert.Equal(t, "Nova Live", creators[0].DisplayName)

	users, err := dir.BulkUsers(ctx, []string{userID, userID})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "Nova", users[0].Name)

	session, err := dir.FindSession(ctx, "refresh-1")
	require.NoError(t, err)
	assert.Equal(t, userID, session.UserID)
	assert.True(t, session.Live(time.Now()))

	_, err = dir.FindSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

//go:build integration

package repositories

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"fyzo-chat/internal/db"
)

func startMongo(t *testing.T) *mongo.Database {
	t.Helper()
	ctx := context.Background()

	container, err := mongodb.Run(ctx, "mongo:7")
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate mongo: %v", err)
		}
	})

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	database, err := db.ConnectMongo(ctx, uri, "fyzo_chat_test", logger)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Client().Disconnect(context.Background()) })
	return database
}

func TestMongoStoreContract(t *testing.T) {
	database := startMongo(t)
	store := NewMongoBackend(database)
	require.NoError(t, store.Ping(context.Background()))

	runStoreContract(t, store, func() string { return primitive.NewObjectID().Hex() })

	_, err := store.Chats.GetChat(context.Background(), "not-an-object-id")
	assert.ErrorIs(t, err, ErrInvalidID)
}

func TestMongoDirectory(t *testing.T) {
	ctx := context.Background()
	database := startMongo(t)
	dir := NewMongoDirectory(database)

	userID, creatorID, categoryID := primitive.NewObjectID(), primitive.NewObjectID(), primitive.NewObjectID()
	_, err := database.Collection("users").InsertOne(ctx, bson.M{"_id": userID, "name": "Nova", "email": "nova@fyzo.test", "password": "hash"})
	require.NoError(t, err)
	_, err = database.Collection("creators").InsertOne(ctx, bson.M{
		"_id":                creatorID,
		"userId":             userID,
		"displayName":        "Nova Live",
		"profilePhoto":       "https://cdn.fyzo.test/nova.png",
		"verificationStatus": "verified",
		"primaryCategory":    categoryID,
	})
	require.NoError(t, err)
	_, err = database.Collection("sessions").InsertOne(ctx, bson.M{
		"user":         userID,
		"refreshToken": "refresh-1",
		"isActive":     true,
		"expiresAt":    time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	creator, err := dir.GetCreator(ctx, creatorID.Hex())
	require.NoError(t, err)
	assert.Equal(t, userID.Hex(), creator.UserID)
	assert.Equal(t, "https://cdn.fyzo.test/nova.png", creator.ProfileImage)
	assert.Equal(t, categoryID.Hex(), creator.PrimaryCategory)

	_, err = dir.GetCreator(ctx, primitive.NewObjectID().Hex())
	assert.ErrorIs(t, err, ErrCreatorNotFound)

	users, err := dir.BulkUsers(ctx, []string{userID.Hex(), userID.Hex()})
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "Nova", users[0].Name)

	session, err := dir.FindSession(ctx, "refresh-1")
	require.NoError(t, err)
	assert.Equal(t, userID.Hex(), session.UserID)
	assert.True(t, session.Live(time.Now()))

	_, err = dir.FindSession(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

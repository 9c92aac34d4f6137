package db

import (
	"context"
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// ConnectMongo dials MongoDB, verifies the primary and ensures chat indexes.
func ConnectMongo(ctx context.Context, uri, database string, logger *slog.Logger) (*mongo.Database, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri).SetRetryWrites(true))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	db := client.Database(database)
	if err := EnsureIndexes(ctx, db); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}
	logger.Info("mongo indexes ensured", "database", database)
	return db, nil
}

// EnsureIndexes creates the chat and message indexes. It is idempotent.
func EnsureIndexes(ctx context.Context, db *mongo.Database) error {
	chats := []mongo.IndexModel{
		{Keys: bson.D{{Key: "participants.userId", Value: 1}}},
		{Keys: bson.D{{Key: "creatorId", Value: 1}}},
		{Keys: bson.D{{Key: "updatedAt", Value: -1}}},
		{
			Keys: bson.D{{Key: "pairKey", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"pairKey": bson.M{"$type": "string"}}),
		},
	}
	if _, err := db.Collection("chats").Indexes().CreateMany(ctx, chats); err != nil {
		return fmt.Errorf("chats: %w", err)
	}

	messages := []mongo.IndexModel{
		{Keys: bson.D{{Key: "chatId", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "senderId", Value: 1}}},
	}
	if _, err := db.Collection("messages").Indexes().CreateMany(ctx, messages); err != nil {
		return fmt.Errorf("messages: %w", err)
	}
	return nil
}

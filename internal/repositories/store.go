package repositories

import (
	"context"

	"github.com/jmoiron/sqlx"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// NewMongoBackend wires the Mongo repositories over db.
func NewMongoBackend(db *mongo.Database) Store {
	return Store{
		Driver:    "mongo",
		Chats:     NewMongoChatRepo(db),
		Messages:  NewMongoMessageRepo(db),
		Directory: NewMongoDirectory(db),
		Ping: func(ctx context.Context) error {
			return db.Client().Ping(ctx, readpref.Primary())
		},
		Close: func(ctx context.Context) error {
			return db.Client().Disconnect(ctx)
		},
	}
}

// NewPostgresBackend wires the sqlx repositories over db.
func NewPostgresBackend(db *sqlx.DB) Store {
	return Store{
		Driver:    "postgres",
		Chats:     NewPostgresChatRepo(db),
		Messages:  NewPostgresMessageRepo(db),
		Directory: NewPostgresDirectory(db),
		Ping:      db.PingContext,
		Close: func(context.Context) error {
			return db.Close()
		},
	}
}

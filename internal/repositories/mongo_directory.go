package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"fyzo-chat/internal/models"
)

// MongoDirectory reads the users, creators and sessions collections owned by the profile
// and identity services. It never writes to them.
type MongoDirectory struct {
	users    *mongo.Collection
	creators *mongo.Collection
	sessions *mongo.Collection
}

// NewMongoDirectory constructs a MongoDirectory.
func NewMongoDirectory(db *mongo.Database) *MongoDirectory {
	return &MongoDirectory{
		users:    db.Collection("users"),
		creators: db.Collection("creators"),
		sessions: db.Collection("sessions"),
	}
}

type userDocument struct {
	ID           primitive.ObjectID `bson:"_id"`
	Name         string             `bson:"name"`
	Email        string             `bson:"email"`
	ProfileImage string             `bson:"profileImage"`
}

type creatorDocument struct {
	ID                 primitive.ObjectID `bson:"_id"`
	UserID             primitive.ObjectID `bson:"userId"`
	DisplayName        string             `bson:"displayName"`
	ProfilePhoto       string             `bson:"profilePhoto"`
	VerificationStatus string             `bson:"verificationStatus"`
	PrimaryCategory    bson.RawValue      `bson:"primaryCategory"`
}

type sessionDocument struct {
	User         primitive.ObjectID `bson:"user"`
	RefreshToken string             `bson:"refreshToken"`
	IsActive     bool               `bson:"isActive"`
	ExpiresAt    time.Time          `bson:"expiresAt"`
}

var (
	userProjection    = bson.M{"name": 1, "email": 1, "profileImage": 1}
	creatorProjection = bson.M{"userId": 1, "displayName": 1, "profilePhoto": 1, "verificationStatus": 1, "primaryCategory": 1}
)

func (d creatorDocument) toModel() models.Creator {
	c := models.Creator{
		ID:                 d.ID.Hex(),
		UserID:             d.UserID.Hex(),
		DisplayName:        d.DisplayName,
		ProfileImage:       d.ProfilePhoto,
		VerificationStatus: d.VerificationStatus,
	}
	// primaryCategory is either a category reference or a legacy slug.
	if oid, ok := d.PrimaryCategory.ObjectIDOK(); ok {
		c.PrimaryCategory = oid.Hex()
	} else if s, ok := d.PrimaryCategory.StringValueOK(); ok {
		c.PrimaryCategory = s
	}
	return c
}

func (d userDocument) toModel() models.UserSummary {
	return models.UserSummary{ID: d.ID.Hex(), Name: d.Name, Email: d.Email, ProfileImage: d.ProfileImage}
}

func (d *MongoDirectory) GetCreator(ctx context.Context, creatorID string) (models.Creator, error) {
	oid, err := objectID(creatorID)
	if err != nil {
		return models.Creator{}, err
	}
	var doc creatorDocument
	err = d.creators.FindOne(ctx, bson.M{"_id": oid}, options.FindOne().SetProjection(creatorProjection)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Creator{}, ErrCreatorNotFound
	}
	if err != nil {
		return models.Creator{}, fmt.Errorf("find creator: %w", err)
	}
	return doc.toModel(), nil
}

func (d *MongoDirectory) BulkCreators(ctx context.Context, creatorIDs []string) ([]models.Creator, error) {
	oids, err := objectIDs(uniqueStrings(creatorIDs))
	if err != nil {
		return nil, err
	}
	if len(oids) == 0 {
		return nil, nil
	}
	cursor, err := d.creators.Find(ctx, bson.M{"_id": bson.M{"$in": oids}}, options.Find().SetProjection(creatorProjection))
	if err != nil {
		return nil, fmt.Errorf("find creators: %w", err)
	}
	var docs []creatorDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode creators: %w", err)
	}
	out := make([]models.Creator, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toModel())
	}
	return out, nil
}

func (d *MongoDirectory) BulkUsers(ctx context.Context, userIDs []string) ([]models.UserSummary, error) {
	oids, err := objectIDs(uniqueStrings(userIDs))
	if err != nil {
		return nil, err
	}
	if len(oids) == 0 {
		return nil, nil
	}
	cursor, err := d.users.Find(ctx, bson.M{"_id": bson.M{"$in": oids}}, options.Find().SetProjection(userProjection))
	if err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}
	var docs []userDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	out := make([]models.UserSummary, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.toModel())
	}
	return out, nil
}

func (d *MongoDirectory) FindSession(ctx context.Context, refreshToken string) (models.Session, error) {
	var doc sessionDocument
	err := d.sessions.FindOne(ctx, bson.M{"refreshToken": refreshToken}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return models.Session{}, fmt.Errorf("find session: %w", err)
	}
	return models.Session{
		UserID:       doc.User.Hex(),
		RefreshToken: doc.RefreshToken,
		IsActive:     doc.IsActive,
		ExpiresAt:    doc.ExpiresAt,
	}, nil
}

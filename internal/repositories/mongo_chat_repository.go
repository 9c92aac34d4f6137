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

// MongoChatRepo stores chats as documents in the "chats" collection.
type MongoChatRepo struct {
	col *mongo.Collection
	now func() time.Time
}

// NewMongoChatRepo constructs a MongoChatRepo.
func NewMongoChatRepo(db *mongo.Database) *MongoChatRepo {
	return &MongoChatRepo{col: db.Collection("chats"), now: time.Now}
}

// CreateChat inserts a new chat. A second chat for the same pair yields ErrDuplicateChat.
func (r *MongoChatRepo) CreateChat(ctx context.Context, chat models.Chat) (models.Chat, error) {
	doc, err := newChatDocument(chat)
	if err != nil {
		return models.Chat{}, err
	}
	doc.ID = primitive.NewObjectID()
	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return models.Chat{}, ErrDuplicateChat
		}
		return models.Chat{}, fmt.Errorf("insert chat: %w", err)
	}
	return doc.toModel(), nil
}

// FindByPair looks up the chat anchored on creatorID where userID holds the user role.
func (r *MongoChatRepo) FindByPair(ctx context.Context, creatorID string, userID string) (models.Chat, error) {
	creatorOID, err := objectID(creatorID)
	if err != nil {
		return models.Chat{}, err
	}
	userOID, err := objectID(userID)
	if err != nil {
		return models.Chat{}, err
	}
	filter := bson.M{
		"creatorId": creatorOID,
		"participants": bson.M{"$elemMatch": bson.M{
			"userId": userOID,
			"role":   string(models.RoleUser),
		}},
	}
	return r.findOne(ctx, filter)
}

// GetChat fetches a chat by id.
func (r *MongoChatRepo) GetChat(ctx context.Context, chatID string) (models.Chat, error) {
	oid, err := objectID(chatID)
	if err != nil {
		return models.Chat{}, err
	}
	return r.findOne(ctx, bson.M{"_id": oid})
}

func (r *MongoChatRepo) findOne(ctx context.Context, filter bson.M) (models.Chat, error) {
	var doc chatDocument
	if err := r.col.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return models.Chat{}, ErrChatNotFound
		}
		return models.Chat{}, fmt.Errorf("find chat: %w", err)
	}
	return doc.toModel(), nil
}

// ListChats returns the user's active chats, most recently updated first.
func (r *MongoChatRepo) ListChats(ctx context.Context, userID string, skip, limit int) ([]models.Chat, int64, error) {
	userOID, err := objectID(userID)
	if err != nil {
		return nil, 0, err
	}
	filter := bson.M{"participants.userId": userOID, "isActive": true}
	opts := options.Find().
		SetSort(bson.D{{Key: "updatedAt", Value: -1}}).
		SetSkip(int64(skip)).
		SetLimit(int64(limit))

	cursor, err := r.col.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, fmt.Errorf("list chats: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []chatDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, 0, fmt.Errorf("decode chats: %w", err)
	}
	total, err := r.col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count chats: %w", err)
	}

	chats := make([]models.Chat, 0, len(docs))
	for _, d := range docs {
		chats = append(chats, d.toModel())
	}
	return chats, total, nil
}

// ListChatIDs returns the ids of every chat the user participates in.
func (r *MongoChatRepo) ListChatIDs(ctx context.Context, userID string) ([]string, error) {
	userOID, err := objectID(userID)
	if err != nil {
		return nil, err
	}
	opts := options.Find().SetProjection(bson.M{"_id": 1})
	cursor, err := r.col.Find(ctx, bson.M{"participants.userId": userOID}, opts)
	if err != nil {
		return nil, fmt.Errorf("list chat ids: %w", err)
	}
	defer cursor.Close(ctx)

	var ids []string
	for cursor.Next(ctx) {
		var row struct {
			ID primitive.ObjectID `bson:"_id"`
		}
		if err := cursor.Decode(&row); err != nil {
			return nil, fmt.Errorf("decode chat id: %w", err)
		}
		ids = append(ids, row.ID.Hex())
	}
	return ids, cursor.Err()
}

// RecordMessage sets lastMessage and increments unreadCount.<recipient> atomically.
func (r *MongoChatRepo) RecordMessage(ctx context.Context, chatID string, last models.LastMessage, recipientID string) error {
	oid, err := objectID(chatID)
	if err != nil {
		return err
	}
	lastDoc, err := newLastMessageDocument(last)
	if err != nil {
		return err
	}
	update := bson.M{
		"$set": bson.M{"lastMessage": lastDoc, "updatedAt": r.now()},
	}
	if recipientID != "" {
		update["$inc"] = bson.M{"unreadCount." + recipientID: 1}
	}
	return r.updateOne(ctx, oid, update)
}

// ResetUnread zeroes the user's unread counter for the chat.
func (r *MongoChatRepo) ResetUnread(ctx context.Context, chatID string, userID string) error {
	oid, err := objectID(chatID)
	if err != nil {
		return err
	}
	return r.updateOne(ctx, oid, bson.M{"$set": bson.M{"unreadCount." + userID: 0}})
}

// SetBlocked toggles the moderation flags.
func (r *MongoChatRepo) SetBlocked(ctx context.Context, chatID string, blocked bool, blockedBy string) error {
	oid, err := objectID(chatID)
	if err != nil {
		return err
	}
	update := bson.M{"$set": bson.M{"isBlocked": blocked, "updatedAt": r.now()}}
	if blocked {
		byOID, err := objectID(blockedBy)
		if err != nil {
			return err
		}
		update["$set"].(bson.M)["blockedBy"] = byOID
	} else {
		update["$unset"] = bson.M{"blockedBy": ""}
	}
	return r.updateOne(ctx, oid, update)
}

// UnreadTotal sums the user's unread counters across active chats.
func (r *MongoChatRepo) UnreadTotal(ctx context.Context, userID string) (int, error) {
	userOID, err := objectID(userID)
	if err != nil {
		return 0, err
	}
	opts := options.Find().SetProjection(bson.M{"unreadCount": 1})
	cursor, err := r.col.Find(ctx, bson.M{"participants.userId": userOID, "isActive": true}, opts)
	if err != nil {
		return 0, fmt.Errorf("find unread: %w", err)
	}
	defer cursor.Close(ctx)

	total := 0
	for cursor.Next(ctx) {
		var row struct {
			UnreadCount map[string]int `bson:"unreadCount"`
		}
		if err := cursor.Decode(&row); err != nil {
			return 0, fmt.Errorf("decode unread: %w", err)
		}
		total += row.UnreadCount[userID]
	}
	return total, cursor.Err()
}

func (r *MongoChatRepo) updateOne(ctx context.Context, id primitive.ObjectID, update bson.M) error {
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("update chat: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrChatNotFound
	}
	return nil
}

type participantDocument struct {
	UserID   primitive.ObjectID `bson:"userId"`
	Role     string             `bson:"role"`
	JoinedAt time.Time          `bson:"joinedAt"`
}

type lastMessageDocument struct {
	Content   string             `bson:"content"`
	SenderID  primitive.ObjectID `bson:"senderId"`
	Timestamp time.Time          `bson:"timestamp"`
	Type      string             `bson:"type"`
}

type chatDocument struct {
	ID           primitive.ObjectID    `bson:"_id,omitempty"`
	Participants []participantDocument `bson:"participants"`
	CreatorID    primitive.ObjectID    `bson:"creatorId"`
	PairKey      string                `bson:"pairKey,omitempty"`
	LastMessage  *lastMessageDocument  `bson:"lastMessage,omitempty"`
	UnreadCount  map[string]int        `bson:"unreadCount"`
	IsActive     bool                  `bson:"isActive"`
	IsBlocked    bool                  `bson:"isBlocked"`
	BlockedBy    *primitive.ObjectID   `bson:"blockedBy,omitempty"`
	CreatedAt    time.Time             `bson:"createdAt"`
	UpdatedAt    time.Time             `bson:"updatedAt"`
}

func newChatDocument(c models.Chat) (chatDocument, error) {
	creatorOID, err := objectID(c.CreatorID)
	if err != nil {
		return chatDocument{}, err
	}
	doc := chatDocument{
		CreatorID:   creatorOID,
		UnreadCount: map[string]int{},
		IsActive:    c.IsActive,
		IsBlocked:   c.IsBlocked,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
	for k, v := range c.UnreadCount {
		doc.UnreadCount[k] = v
	}
	for _, p := range c.Participants {
		uid, err := objectID(p.UserID)
		if err != nil {
			return chatDocument{}, err
		}
		doc.Participants = append(doc.Participants, participantDocument{UserID: uid, Role: string(p.Role), JoinedAt: p.JoinedAt})
		if p.Role == models.RoleUser {
			doc.PairKey = models.PairKey(c.CreatorID, p.UserID)
		}
	}
	if c.LastMessage != nil {
		last, err := newLastMessageDocument(*c.LastMessage)
		if err != nil {
			return chatDocument{}, err
		}
		doc.LastMessage = &last
	}
	if c.BlockedBy != "" {
		by, err := objectID(c.BlockedBy)
		if err != nil {
			return chatDocument{}, err
		}
		doc.BlockedBy = &by
	}
	return doc, nil
}

func newLastMessageDocument(l models.LastMessage) (lastMessageDocument, error) {
	sender, err := objectID(l.SenderID)
	if err != nil {
		return lastMessageDocument{}, err
	}
	return lastMessageDocument{Content: l.Content, SenderID: sender, Timestamp: l.Timestamp, Type: string(l.Type)}, nil
}

func (d chatDocument) toModel() models.Chat {
	chat := models.Chat{
		ID:          d.ID.Hex(),
		CreatorID:   d.CreatorID.Hex(),
		UnreadCount: map[string]int{},
		IsActive:    d.IsActive,
		IsBlocked:   d.IsBlocked,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	for k, v := range d.UnreadCount {
		chat.UnreadCount[k] = v
	}
	for _, p := range d.Participants {
		chat.Participants = append(chat.Participants, models.Participant{
			UserID:   p.UserID.Hex(),
			Role:     models.Role(p.Role),
			JoinedAt: p.JoinedAt,
		})
	}
	if d.LastMessage != nil {
		chat.LastMessage = &models.LastMessage{
			Content:   d.LastMessage.Content,
			SenderID:  d.LastMessage.SenderID.Hex(),
			Timestamp: d.LastMessage.Timestamp,
			Type:      models.MessageType(d.LastMessage.Type),
		}
	}
	if d.BlockedBy != nil {
		chat.BlockedBy = d.BlockedBy.Hex()
	}
	return chat
}

func objectID(hex string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(hex)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: %q", ErrInvalidID, hex)
	}
	return oid, nil
}

func objectIDs(hexes []string) ([]primitive.ObjectID, error) {
	out := make([]primitive.ObjectID, 0, len(hexes))
	for _, h := range hexes {
		oid, err := objectID(h)
		if err != nil {
			return nil, err
		}
		out = append(out, oid)
	}
	return out, nil
}

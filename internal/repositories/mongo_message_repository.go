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

// MongoMessageRepo stores messages in the "messages" collection.
type MongoMessageRepo struct {
	col *mongo.Collection
	now func() time.Time
}

// NewMongoMessageRepo constructs a MongoMessageRepo.
func NewMongoMessageRepo(db *mongo.Database) *MongoMessageRepo {
	return &MongoMessageRepo{col: db.Collection("messages"), now: time.Now}
}

func (r *MongoMessageRepo) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	doc, err := newMessageDocument(msg)
	if err != nil {
		return models.Message{}, err
	}
	doc.ID = primitive.NewObjectID()
	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return doc.toModel(), nil
}

func (r *MongoMessageRepo) GetMessage(ctx context.Context, chatID string, messageID string) (models.Message, error) {
	chatOID, err := objectID(chatID)
	if err != nil {
		return models.Message{}, err
	}
	msgOID, err := objectID(messageID)
	if err != nil {
		return models.Message{}, err
	}
	var doc messageDocument
	err = r.col.FindOne(ctx, bson.M{"_id": msgOID, "chatId": chatOID}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, fmt.Errorf("find message: %w", err)
	}
	return doc.toModel(), nil
}

// GetMessages loads messages by id in any chat. Unknown ids are skipped.
func (r *MongoMessageRepo) GetMessages(ctx context.Context, messageIDs []string) ([]models.Message, error) {
	ids := uniqueStrings(messageIDs)
	if len(ids) == 0 {
		return nil, nil
	}
	oids, err := objectIDs(ids)
	if err != nil {
		return nil, err
	}
	return r.find(ctx, bson.M{"_id": bson.M{"$in": oids}})
}

func (r *MongoMessageRepo) ListForUser(ctx context.Context, chatID string, userID string, skip, limit int) ([]models.Message, int64, error) {
	chatOID, err := objectID(chatID)
	if err != nil {
		return nil, 0, err
	}
	userOID, err := objectID(userID)
	if err != nil {
		return nil, 0, err
	}
	filter := bson.M{"chatId": chatOID, "deletedFor": bson.M{"$ne": userOID}}
	opts := options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}).
		SetSkip(int64(skip)).
		SetLimit(int64(limit))

	msgs, err := r.find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	total, err := r.col.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}
	return msgs, total, nil
}

// MarkRead pushes a receipt onto every listed message that does not carry one for userID yet.
func (r *MongoMessageRepo) MarkRead(ctx context.Context, chatID string, messageIDs []string, userID string, at time.Time) ([]string, error) {
	ids := uniqueStrings(messageIDs)
	if len(ids) == 0 {
		return nil, nil
	}
	chatOID, err := objectID(chatID)
	if err != nil {
		return nil, err
	}
	userOID, err := objectID(userID)
	if err != nil {
		return nil, err
	}
	oids, err := objectIDs(ids)
	if err != nil {
		return nil, err
	}
	filter := bson.M{
		"_id":           bson.M{"$in": oids},
		"chatId":        chatOID,
		"readBy.userId": bson.M{"$ne": userOID},
	}

	cursor, err := r.col.Find(ctx, filter, options.Find().SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, fmt.Errorf("find unread: %w", err)
	}
	var rows []struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode unread: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	// The receipt guard stays in the update filter so a concurrent reader cannot double-push.
	update := bson.M{
		"$push": bson.M{"readBy": readReceiptDocument{UserID: userOID, ReadAt: at}},
		"$set":  bson.M{"updatedAt": r.now()},
	}
	if _, err := r.col.UpdateMany(ctx, filter, update); err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}

	marked := make([]string, 0, len(rows))
	for _, row := range rows {
		marked = append(marked, row.ID.Hex())
	}
	return marked, nil
}

func (r *MongoMessageRepo) HideForUser(ctx context.Context, chatID string, messageID string, userID string) error {
	userOID, err := objectID(userID)
	if err != nil {
		return err
	}
	return r.updateOne(ctx, chatID, messageID, bson.M{
		"$addToSet": bson.M{"deletedFor": userOID},
		"$set":      bson.M{"updatedAt": r.now()},
	})
}

func (r *MongoMessageRepo) Tombstone(ctx context.Context, chatID string, messageID string) error {
	return r.updateOne(ctx, chatID, messageID, bson.M{"$set": bson.M{
		"isDeleted": true,
		"content":   models.TombstoneContent,
		"updatedAt": r.now(),
	}})
}

func (r *MongoMessageRepo) updateOne(ctx context.Context, chatID, messageID string, update bson.M) error {
	chatOID, err := objectID(chatID)
	if err != nil {
		return err
	}
	msgOID, err := objectID(messageID)
	if err != nil {
		return err
	}
	res, err := r.col.UpdateOne(ctx, bson.M{"_id": msgOID, "chatId": chatOID}, update)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrMessageNotFound
	}
	return nil
}

func (r *MongoMessageRepo) find(ctx context.Context, filter bson.M, opts ...*options.FindOptions) ([]models.Message, error) {
	cursor, err := r.col.Find(ctx, filter, opts...)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []messageDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	msgs := make([]models.Message, 0, len(docs))
	for _, d := range docs {
		msgs = append(msgs, d.toModel())
	}
	return msgs, nil
}

type readReceiptDocument struct {
	UserID primitive.ObjectID `bson:"userId"`
	ReadAt time.Time          `bson:"readAt"`
}

type mediaMetadataDocument struct {
	FileName   string             `bson:"fileName,omitempty"`
	FileSize   int64              `bson:"fileSize,omitempty"`
	MimeType   string             `bson:"mimeType,omitempty"`
	Duration   float64            `bson:"duration,omitempty"`
	Dimensions *models.Dimensions `bson:"dimensions,omitempty"`
}

type messageDocument struct {
	ID            primitive.ObjectID     `bson:"_id,omitempty"`
	ChatID        primitive.ObjectID     `bson:"chatId"`
	SenderID      primitive.ObjectID     `bson:"senderId"`
	SenderRole    string                 `bson:"senderRole"`
	Content       string                 `bson:"content,omitempty"`
	Type          string                 `bson:"type"`
	MediaURL      string                 `bson:"mediaUrl,omitempty"`
	MediaMetadata *mediaMetadataDocument `bson:"mediaMetadata,omitempty"`
	ReadBy        []readReceiptDocument  `bson:"readBy"`
	IsDeleted     bool                   `bson:"isDeleted"`
	DeletedFor    []primitive.ObjectID   `bson:"deletedFor"`
	ReplyTo       *primitive.ObjectID    `bson:"replyTo,omitempty"`
	CreatedAt     time.Time              `bson:"createdAt"`
	UpdatedAt     time.Time              `bson:"updatedAt"`
}

func newMessageDocument(m models.Message) (messageDocument, error) {
	chatOID, err := objectID(m.ChatID)
	if err != nil {
		return messageDocument{}, err
	}
	senderOID, err := objectID(m.SenderID)
	if err != nil {
		return messageDocument{}, err
	}
	doc := messageDocument{
		ChatID:     chatOID,
		SenderID:   senderOID,
		SenderRole: string(m.SenderRole),
		Content:    m.Content,
		Type:       string(m.Type),
		MediaURL:   m.MediaURL,
		ReadBy:     []readReceiptDocument{},
		IsDeleted:  m.IsDeleted,
		DeletedFor: []primitive.ObjectID{},
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
	if md := m.MediaMetadata; md != nil {
		doc.MediaMetadata = &mediaMetadataDocument{
			FileName:   md.FileName,
			FileSize:   md.FileSize,
			MimeType:   md.MimeType,
			Duration:   md.Duration,
			Dimensions: md.Dimensions,
		}
	}
	for _, rr := range m.ReadBy {
		uid, err := objectID(rr.UserID)
		if err != nil {
			return messageDocument{}, err
		}
		doc.ReadBy = append(doc.ReadBy, readReceiptDocument{UserID: uid, ReadAt: rr.ReadAt})
	}
	if doc.DeletedFor, err = objectIDs(m.DeletedFor); err != nil {
		return messageDocument{}, err
	}
	if m.ReplyTo != "" {
		reply, err := objectID(m.ReplyTo)
		if err != nil {
			return messageDocument{}, err
		}
		doc.ReplyTo = &reply
	}
	return doc, nil
}

func (d messageDocument) toModel() models.Message {
	msg := models.Message{
		ID:         d.ID.Hex(),
		ChatID:     d.ChatID.Hex(),
		SenderID:   d.SenderID.Hex(),
		SenderRole: models.Role(d.SenderRole),
		Content:    d.Content,
		Type:       models.MessageType(d.Type),
		MediaURL:   d.MediaURL,
		ReadBy:     make([]models.ReadReceipt, 0, len(d.ReadBy)),
		IsDeleted:  d.IsDeleted,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
	if md := d.MediaMetadata; md != nil {
		msg.MediaMetadata = &models.MediaMetadata{
			FileName:   md.FileName,
			FileSize:   md.FileSize,
			MimeType:   md.MimeType,
			Duration:   md.Duration,
			Dimensions: md.Dimensions,
		}
	}
	for _, rr := range d.ReadBy {
		msg.ReadBy = append(msg.ReadBy, models.ReadReceipt{UserID: rr.UserID.Hex(), ReadAt: rr.ReadAt})
	}
	for _, id := range d.DeletedFor {
		msg.DeletedFor = append(msg.DeletedFor, id.Hex())
	}
	if d.ReplyTo != nil {
		msg.ReplyTo = d.ReplyTo.Hex()
	}
	return msg
}

package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"fyzo-chat/internal/models"
)

// PostgresMessageRepo is a sqlx implementation of MessageRepository.
type PostgresMessageRepo struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewPostgresMessageRepo constructs a PostgresMessageRepo.
func NewPostgresMessageRepo(db *sqlx.DB) *PostgresMessageRepo {
	return &PostgresMessageRepo{db: db, now: time.Now}
}

type messageRow struct {
	ID            string         `db:"id"`
	ChatID        string         `db:"chat_id"`
	SenderID      string         `db:"sender_id"`
	SenderRole    string         `db:"sender_role"`
	Content       string         `db:"content"`
	Type          string         `db:"type"`
	MediaURL      string         `db:"media_url"`
	MediaMetadata []byte         `db:"media_metadata"`
	IsDeleted     bool           `db:"is_deleted"`
	ReplyTo       sql.NullString `db:"reply_to"`
	CreatedAt     time.Time      `db:"created_at"`
	UpdatedAt     time.Time      `db:"updated_at"`
}

type readRow struct {
	MessageID string    `db:"message_id"`
	UserID    string    `db:"user_id"`
	ReadAt    time.Time `db:"read_at"`
}

type hiddenRow struct {
	MessageID string `db:"message_id"`
	UserID    string `db:"user_id"`
}

const messageColumns = `m.id, m.chat_id, m.sender_id, m.sender_role, m.content, m.type, m.media_url,
	m.media_metadata, m.is_deleted, m.reply_to, m.created_at, m.updated_at`

func (r *PostgresMessageRepo) CreateMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	if err := parseUUIDs([]string{msg.ChatID, msg.SenderID}); err != nil {
		return models.Message{}, err
	}
	replyTo := sql.NullString{String: msg.ReplyTo, Valid: msg.ReplyTo != ""}
	if replyTo.Valid {
		if _, err := parseUUID(msg.ReplyTo); err != nil {
			return models.Message{}, err
		}
	}
	var metadata sql.NullString
	if msg.MediaMetadata != nil {
		raw, err := json.Marshal(msg.MediaMetadata)
		if err != nil {
			return models.Message{}, fmt.Errorf("encode media metadata: %w", err)
		}
		metadata = sql.NullString{String: string(raw), Valid: true}
	}
	msg.ID = uuid.NewString()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO messages
		(id, chat_id, sender_id, sender_role, content, type, media_url, media_metadata, is_deleted, reply_to, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		msg.ID, msg.ChatID, msg.SenderID, string(msg.SenderRole), msg.Content, string(msg.Type), msg.MediaURL,
		metadata, msg.IsDeleted, replyTo, msg.CreatedAt, msg.UpdatedAt); err != nil {
		return models.Message{}, fmt.Errorf("insert message: %w", err)
	}
	for _, rr := range msg.ReadBy {
		if _, err := tx.ExecContext(ctx, `INSERT INTO message_reads (message_id, user_id, read_at) VALUES ($1, $2, $3)
			ON CONFLICT DO NOTHING`, msg.ID, rr.UserID, rr.ReadAt); err != nil {
			return models.Message{}, fmt.Errorf("insert receipt: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return models.Message{}, fmt.Errorf("commit: %w", err)
	}
	if msg.ReadBy == nil {
		msg.ReadBy = []models.ReadReceipt{}
	}
	return msg, nil
}

func (r *PostgresMessageRepo) GetMessage(ctx context.Context, chatID string, messageID string) (models.Message, error) {
	if err := parseUUIDs([]string{chatID, messageID}); err != nil {
		return models.Message{}, err
	}
	var row messageRow
	err := r.db.GetContext(ctx, &row, `SELECT `+messageColumns+` FROM messages m WHERE m.id=$1 AND m.chat_id=$2`, messageID, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	if err != nil {
		return models.Message{}, fmt.Errorf("get message: %w", err)
	}
	msgs, err := r.hydrate(ctx, []messageRow{row})
	if err != nil {
		return models.Message{}, err
	}
	return msgs[0], nil
}

func (r *PostgresMessageRepo) GetMessages(ctx context.Context, messageIDs []string) ([]models.Message, error) {
	ids := uniqueStrings(messageIDs)
	if len(ids) == 0 {
		return nil, nil
	}
	if err := parseUUIDs(ids); err != nil {
		return nil, err
	}
	var rows []messageRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT `+messageColumns+` FROM messages m WHERE m.id = ANY($1::uuid[])`, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	return r.hydrate(ctx, rows)
}

func (r *PostgresMessageRepo) ListForUser(ctx context.Context, chatID string, userID string, skip, limit int) ([]models.Message, int64, error) {
	if err := parseUUIDs([]string{chatID, userID}); err != nil {
		return nil, 0, err
	}
	const visible = `m.chat_id=$1 AND NOT EXISTS (
		SELECT 1 FROM message_hidden h WHERE h.message_id = m.id AND h.user_id = $2)`

	var rows []messageRow
	if err := r.db.SelectContext(ctx, &rows, `SELECT `+messageColumns+` FROM messages m WHERE `+visible+`
		ORDER BY m.created_at DESC, m.id DESC LIMIT $3 OFFSET $4`, chatID, userID, limit, skip); err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}
	var total int64
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM messages m WHERE `+visible, chatID, userID); err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}
	msgs, err := r.hydrate(ctx, rows)
	if err != nil {
		return nil, 0, err
	}
	return msgs, total, nil
}

// MarkRead relies on the (message_id, user_id) key so repeated reads never duplicate a receipt.
func (r *PostgresMessageRepo) MarkRead(ctx context.Context, chatID string, messageIDs []string, userID string, at time.Time) ([]string, error) {
	ids := uniqueStrings(messageIDs)
	if len(ids) == 0 {
		return nil, nil
	}
	if err := parseUUIDs(append([]string{chatID, userID}, ids...)); err != nil {
		return nil, err
	}
	var marked []string
	err := r.db.SelectContext(ctx, &marked, `INSERT INTO message_reads (message_id, user_id, read_at)
		SELECT m.id, $3, $4 FROM messages m WHERE m.id = ANY($1::uuid[]) AND m.chat_id=$2
		ON CONFLICT DO NOTHING
		RETURNING message_id`, pq.Array(ids), chatID, userID, at)
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}
	return marked, nil
}

func (r *PostgresMessageRepo) HideForUser(ctx context.Context, chatID string, messageID string, userID string) error {
	if err := parseUUIDs([]string{chatID, messageID, userID}); err != nil {
		return err
	}
	if err := r.exists(ctx, chatID, messageID); err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, `INSERT INTO message_hidden (message_id, user_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, messageID, userID); err != nil {
		return fmt.Errorf("hide message: %w", err)
	}
	return nil
}

func (r *PostgresMessageRepo) Tombstone(ctx context.Context, chatID string, messageID string) error {
	if err := parseUUIDs([]string{chatID, messageID}); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET is_deleted=TRUE, content=$3, updated_at=$4
		WHERE id=$1 AND chat_id=$2`, messageID, chatID, models.TombstoneContent, r.now())
	if err != nil {
		return fmt.Errorf("tombstone message: %w", err)
	}
	return expectRow(res, ErrMessageNotFound)
}

func (r *PostgresMessageRepo) exists(ctx context.Context, chatID, messageID string) error {
	var ok bool
	if err := r.db.GetContext(ctx, &ok, `SELECT EXISTS(SELECT 1 FROM messages WHERE id=$1 AND chat_id=$2)`, messageID, chatID); err != nil {
		return fmt.Errorf("check message: %w", err)
	}
	if !ok {
		return ErrMessageNotFound
	}
	return nil
}

// hydrate loads receipts and per-user hides for rows, preserving row order.
func (r *PostgresMessageRepo) hydrate(ctx context.Context, rows []messageRow) ([]models.Message, error) {
	if len(rows) == 0 {
		return []models.Message{}, nil
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}

	var reads []readRow
	if err := r.db.SelectContext(ctx, &reads, `SELECT message_id, user_id, read_at FROM message_reads
		WHERE message_id = ANY($1::uuid[]) ORDER BY read_at`, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("load receipts: %w", err)
	}
	var hidden []hiddenRow
	if err := r.db.SelectContext(ctx, &hidden, `SELECT message_id, user_id FROM message_hidden
		WHERE message_id = ANY($1::uuid[])`, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("load hidden: %w", err)
	}

	readsBy := make(map[string][]models.ReadReceipt)
	for _, rr := range reads {
		readsBy[rr.MessageID] = append(readsBy[rr.MessageID], models.ReadReceipt{UserID: rr.UserID, ReadAt: rr.ReadAt})
	}
	hiddenBy := make(map[string][]string)
	for _, h := range hidden {
		hiddenBy[h.MessageID] = append(hiddenBy[h.MessageID], h.UserID)
	}

	msgs := make([]models.Message, 0, len(rows))
	for _, row := range rows {
		msg := models.Message{
			ID:         row.ID,
			ChatID:     row.ChatID,
			SenderID:   row.SenderID,
			SenderRole: models.Role(row.SenderRole),
			Content:    row.Content,
			Type:       models.MessageType(row.Type),
			MediaURL:   row.MediaURL,
			ReadBy:     readsBy[row.ID],
			IsDeleted:  row.IsDeleted,
			DeletedFor: hiddenBy[row.ID],
			ReplyTo:    row.ReplyTo.String,
			CreatedAt:  row.CreatedAt,
			UpdatedAt:  row.UpdatedAt,
		}
		if msg.ReadBy == nil {
			msg.ReadBy = []models.ReadReceipt{}
		}
		if len(row.MediaMetadata) > 0 {
			var md models.MediaMetadata
			if err := json.Unmarshal(row.MediaMetadata, &md); err != nil {
				return nil, fmt.Errorf("decode media metadata: %w", err)
			}
			msg.MediaMetadata = &md
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

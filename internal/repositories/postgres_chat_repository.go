package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"fyzo-chat/internal/models"
)

// PostgresChatRepo is a sqlx implementation of ChatRepository.
type PostgresChatRepo struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewPostgresChatRepo constructs a PostgresChatRepo.
func NewPostgresChatRepo(db *sqlx.DB) *PostgresChatRepo {
	return &PostgresChatRepo{db: db, now: time.Now}
}

type chatRow struct {
	ID                  string         `db:"id"`
	CreatorID           string         `db:"creator_id"`
	UserID              string         `db:"user_id"`
	LastMessageContent  sql.NullString `db:"last_message_content"`
	LastMessageSenderID sql.NullString `db:"last_message_sender_id"`
	LastMessageAt       sql.NullTime   `db:"last_message_at"`
	LastMessageType     sql.NullString `db:"last_message_type"`
	IsActive            bool           `db:"is_active"`
	IsBlocked           bool           `db:"is_blocked"`
	BlockedBy           sql.NullString `db:"blocked_by"`
	CreatedAt           time.Time      `db:"created_at"`
	UpdatedAt           time.Time      `db:"updated_at"`
}

type participantRow struct {
	ChatID      string    `db:"chat_id"`
	UserID      string    `db:"user_id"`
	Role        string    `db:"role"`
	UnreadCount int       `db:"unread_count"`
	JoinedAt    time.Time `db:"joined_at"`
}

const chatColumns = `c.id, c.creator_id, c.user_id, c.last_message_content, c.last_message_sender_id,
	c.last_message_at, c.last_message_type, c.is_active, c.is_blocked, c.blocked_by, c.created_at, c.updated_at`

// CreateChat inserts the chat and both participant rows in one transaction.
func (r *PostgresChatRepo) CreateChat(ctx context.Context, chat models.Chat) (models.Chat, error) {
	if _, err := parseUUID(chat.CreatorID); err != nil {
		return models.Chat{}, err
	}
	var userID string
	for _, p := range chat.Participants {
		if _, err := parseUUID(p.UserID); err != nil {
			return models.Chat{}, err
		}
		if p.Role == models.RoleUser {
			userID = p.UserID
		}
	}
	chat.ID = uuid.NewString()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Chat{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO chats (id, creator_id, user_id, is_active, is_blocked, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		chat.ID, chat.CreatorID, userID, chat.IsActive, chat.IsBlocked, chat.CreatedAt, chat.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return models.Chat{}, ErrDuplicateChat
		}
		return models.Chat{}, fmt.Errorf("insert chat: %w", err)
	}
	for i, p := range chat.Participants {
		if _, err := tx.ExecContext(ctx, `INSERT INTO chat_participants (chat_id, user_id, role, position, unread_count, joined_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			chat.ID, p.UserID, string(p.Role), i, chat.Unread(p.UserID), p.JoinedAt); err != nil {
			return models.Chat{}, fmt.Errorf("insert participant: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return models.Chat{}, fmt.Errorf("commit: %w", err)
	}
	return chat, nil
}

func (r *PostgresChatRepo) FindByPair(ctx context.Context, creatorID string, userID string) (models.Chat, error) {
	if _, err := parseUUID(creatorID); err != nil {
		return models.Chat{}, err
	}
	if _, err := parseUUID(userID); err != nil {
		return models.Chat{}, err
	}
	return r.getOne(ctx, `SELECT `+chatColumns+` FROM chats c WHERE c.creator_id=$1 AND c.user_id=$2`, creatorID, userID)
}

func (r *PostgresChatRepo) GetChat(ctx context.Context, chatID string) (models.Chat, error) {
	if _, err := parseUUID(chatID); err != nil {
		return models.Chat{}, err
	}
	return r.getOne(ctx, `SELECT `+chatColumns+` FROM chats c WHERE c.id=$1`, chatID)
}

func (r *PostgresChatRepo) getOne(ctx context.Context, query string, args ...any) (models.Chat, error) {
	var row chatRow
	if err := r.db.GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Chat{}, ErrChatNotFound
		}
		return models.Chat{}, fmt.Errorf("get chat: %w", err)
	}
	chats, err := r.attachParticipants(ctx, []chatRow{row})
	if err != nil {
		return models.Chat{}, err
	}
	return chats[0], nil
}

func (r *PostgresChatRepo) ListChats(ctx context.Context, userID string, skip, limit int) ([]models.Chat, int64, error) {
	if _, err := parseUUID(userID); err != nil {
		return nil, 0, err
	}
	var rows []chatRow
	err := r.db.SelectContext(ctx, &rows, `SELECT `+chatColumns+`
		FROM chats c
		JOIN chat_participants p ON p.chat_id = c.id
		WHERE p.user_id=$1 AND c.is_active
		ORDER BY c.updated_at DESC, c.id
		LIMIT $2 OFFSET $3`, userID, limit, skip)
	if err != nil {
		return nil, 0, fmt.Errorf("list chats: %w", err)
	}
	var total int64
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*)
		FROM chats c
		JOIN chat_participants p ON p.chat_id = c.id
		WHERE p.user_id=$1 AND c.is_active`, userID); err != nil {
		return nil, 0, fmt.Errorf("count chats: %w", err)
	}
	chats, err := r.attachParticipants(ctx, rows)
	if err != nil {
		return nil, 0, err
	}
	return chats, total, nil
}

func (r *PostgresChatRepo) ListChatIDs(ctx context.Context, userID string) ([]string, error) {
	if _, err := parseUUID(userID); err != nil {
		return nil, err
	}
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, `SELECT chat_id FROM chat_participants WHERE user_id=$1`, userID); err != nil {
		return nil, fmt.Errorf("list chat ids: %w", err)
	}
	return ids, nil
}

// RecordMessage updates the summary and the recipient counter in one transaction.
func (r *PostgresChatRepo) RecordMessage(ctx context.Context, chatID string, last models.LastMessage, recipientID string) error {
	if _, err := parseUUID(chatID); err != nil {
		return err
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE chats SET last_message_content=$2, last_message_sender_id=$3,
		last_message_at=$4, last_message_type=$5, updated_at=$6 WHERE id=$1`,
		chatID, last.Content, last.SenderID, last.Timestamp, string(last.Type), r.now())
	if err != nil {
		return fmt.Errorf("update chat summary: %w", err)
	}
	if err := expectRow(res, ErrChatNotFound); err != nil {
		return err
	}
	if recipientID != "" {
		if _, err := tx.ExecContext(ctx, `UPDATE chat_participants SET unread_count = unread_count + 1
			WHERE chat_id=$1 AND user_id=$2`, chatID, recipientID); err != nil {
			return fmt.Errorf("increment unread: %w", err)
		}
	}
	return tx.Commit()
}

func (r *PostgresChatRepo) ResetUnread(ctx context.Context, chatID string, userID string) error {
	if _, err := parseUUID(chatID); err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE chat_participants SET unread_count=0 WHERE chat_id=$1 AND user_id=$2`, chatID, userID)
	if err != nil {
		return fmt.Errorf("reset unread: %w", err)
	}
	return expectRow(res, ErrChatNotFound)
}

func (r *PostgresChatRepo) SetBlocked(ctx context.Context, chatID string, blocked bool, blockedBy string) error {
	if _, err := parseUUID(chatID); err != nil {
		return err
	}
	by := sql.NullString{String: blockedBy, Valid: blocked}
	res, err := r.db.ExecContext(ctx, `UPDATE chats SET is_blocked=$2, blocked_by=$3, updated_at=$4 WHERE id=$1`,
		chatID, blocked, by, r.now())
	if err != nil {
		return fmt.Errorf("set blocked: %w", err)
	}
	return expectRow(res, ErrChatNotFound)
}

func (r *PostgresChatRepo) UnreadTotal(ctx context.Context, userID string) (int, error) {
	if _, err := parseUUID(userID); err != nil {
		return 0, err
	}
	var total int
	err := r.db.GetContext(ctx, &total, `SELECT COALESCE(SUM(p.unread_count), 0)
		FROM chat_participants p
		JOIN chats c ON c.id = p.chat_id
		WHERE p.user_id=$1 AND c.is_active`, userID)
	if err != nil {
		return 0, fmt.Errorf("unread total: %w", err)
	}
	return total, nil
}

func (r *PostgresChatRepo) attachParticipants(ctx context.Context, rows []chatRow) ([]models.Chat, error) {
	if len(rows) == 0 {
		return []models.Chat{}, nil
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	var parts []participantRow
	if err := r.db.SelectContext(ctx, &parts, `SELECT chat_id, user_id, role, unread_count, joined_at
		FROM chat_participants WHERE chat_id = ANY($1::uuid[]) ORDER BY chat_id, position`, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}
	byChat := make(map[string][]participantRow, len(rows))
	for _, p := range parts {
		byChat[p.ChatID] = append(byChat[p.ChatID], p)
	}

	chats := make([]models.Chat, 0, len(rows))
	for _, row := range rows {
		chats = append(chats, row.toModel(byChat[row.ID]))
	}
	return chats, nil
}

func (row chatRow) toModel(parts []participantRow) models.Chat {
	chat := models.Chat{
		ID:          row.ID,
		CreatorID:   row.CreatorID,
		UnreadCount: make(map[string]int, len(parts)),
		IsActive:    row.IsActive,
		IsBlocked:   row.IsBlocked,
		BlockedBy:   row.BlockedBy.String,
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
	for _, p := range parts {
		chat.Participants = append(chat.Participants, models.Participant{
			UserID:   p.UserID,
			Role:     models.Role(p.Role),
			JoinedAt: p.JoinedAt,
		})
		chat.UnreadCount[p.UserID] = p.UnreadCount
	}
	if row.LastMessageAt.Valid {
		chat.LastMessage = &models.LastMessage{
			Content:   row.LastMessageContent.String,
			SenderID:  row.LastMessageSenderID.String,
			Timestamp: row.LastMessageAt.Time,
			Type:      models.MessageType(row.LastMessageType.String),
		}
	}
	return chat
}

func parseUUID(id string) (uuid.UUID, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return u, nil
}

func parseUUIDs(ids []string) error {
	for _, id := range ids {
		if _, err := parseUUID(id); err != nil {
			return err
		}
	}
	return nil
}

func expectRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

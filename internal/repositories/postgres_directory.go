package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"fyzo-chat/internal/models"
)

// PostgresDirectory reads the users, creators and sessions tables.
type PostgresDirectory struct {
	db *sqlx.DB
}

// NewPostgresDirectory constructs a PostgresDirectory.
func NewPostgresDirectory(db *sqlx.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

const creatorSelect = `SELECT id, user_id, display_name, profile_photo AS profile_image,
	verification_status, primary_category FROM creators`

type creatorRow struct {
	ID                 string `db:"id"`
	UserID             string `db:"user_id"`
	DisplayName        string `db:"display_name"`
	ProfileImage       string `db:"profile_image"`
	VerificationStatus string `db:"verification_status"`
	PrimaryCategory    string `db:"primary_category"`
}

func (c creatorRow) toModel() models.Creator {
	return models.Creator(c)
}

func (d *PostgresDirectory) GetCreator(ctx context.Context, creatorID string) (models.Creator, error) {
	if _, err := parseUUID(creatorID); err != nil {
		return models.Creator{}, err
	}
	var row creatorRow
	err := d.db.GetContext(ctx, &row, creatorSelect+` WHERE id=$1`, creatorID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Creator{}, ErrCreatorNotFound
	}
	if err != nil {
		return models.Creator{}, fmt.Errorf("get creator: %w", err)
	}
	return row.toModel(), nil
}

func (d *PostgresDirectory) BulkCreators(ctx context.Context, creatorIDs []string) ([]models.Creator, error) {
	ids := uniqueStrings(creatorIDs)
	if len(ids) == 0 {
		return nil, nil
	}
	if err := parseUUIDs(ids); err != nil {
		return nil, err
	}
	var rows []creatorRow
	if err := d.db.SelectContext(ctx, &rows, creatorSelect+` WHERE id = ANY($1::uuid[])`, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("bulk creators: %w", err)
	}
	out := make([]models.Creator, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toModel())
	}
	return out, nil
}

func (d *PostgresDirectory) BulkUsers(ctx context.Context, userIDs []string) ([]models.UserSummary, error) {
	ids := uniqueStrings(userIDs)
	if len(ids) == 0 {
		return nil, nil
	}
	if err := parseUUIDs(ids); err != nil {
		return nil, err
	}
	var rows []struct {
		ID           string `db:"id"`
		Name         string `db:"name"`
		Email        string `db:"email"`
		ProfileImage string `db:"profile_image"`
	}
	if err := d.db.SelectContext(ctx, &rows, `SELECT id, name, email, profile_image FROM users WHERE id = ANY($1::uuid[])`, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("bulk users: %w", err)
	}
	out := make([]models.UserSummary, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.UserSummary{ID: row.ID, Name: row.Name, Email: row.Email, ProfileImage: row.ProfileImage})
	}
	return out, nil
}

func (d *PostgresDirectory) FindSession(ctx context.Context, refreshToken string) (models.Session, error) {
	var s models.Session
	err := d.db.QueryRowxContext(ctx, `SELECT user_id, refresh_token, is_active, expires_at FROM sessions WHERE refresh_token=$1`, refreshToken).
		Scan(&s.UserID, &s.RefreshToken, &s.IsActive, &s.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return models.Session{}, fmt.Errorf("find session: %w", err)
	}
	return s, nil
}

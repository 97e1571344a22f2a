// Package postgres provides the PostgreSQL recipient directory.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/push-garden/internal/directory"
	"github.com/bissquit/push-garden/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements directory.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL recipient directory.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// GetByID retrieves one recipient.
func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Recipient, error) {
	var rec domain.Recipient
	err := r.db.QueryRow(ctx, `
		SELECT id, COALESCE(device_token, ''), tz_offset_minutes, signed_up_at
		FROM recipients
		WHERE id = $1
	`, id).Scan(&rec.ID, &rec.DeviceToken, &rec.TZOffsetMinutes, &rec.SignedUpAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, directory.ErrRecipientNotFound
		}
		return nil, fmt.Errorf("get recipient: %w", err)
	}
	return &rec, nil
}

// PageBySignup pages the audience newest-signup first using a keyset on
// (signed_up_at, id) so repeated expansion passes never re-read a page.
func (r *Repository) PageBySignup(ctx context.Context, after *directory.Cursor, limit int) ([]domain.Recipient, error) {
	query := `
		SELECT id, COALESCE(device_token, ''), tz_offset_minutes, signed_up_at
		FROM recipients
	`
	args := []any{}
	if after != nil {
		query += ` WHERE (signed_up_at, id) < ($1, $2)`
		args = append(args, after.SignedUpAt, after.ID)
	}
	query += fmt.Sprintf(` ORDER BY signed_up_at DESC, id DESC LIMIT %d`, limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("page recipients: %w", err)
	}
	defer rows.Close()

	recipients := make([]domain.Recipient, 0, limit)
	for rows.Next() {
		var rec domain.Recipient
		if err := rows.Scan(&rec.ID, &rec.DeviceToken, &rec.TZOffsetMinutes, &rec.SignedUpAt); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		recipients = append(recipients, rec)
	}

	return recipients, rows.Err()
}

// EvictToken clears a recipient's delivery token.
func (r *Repository) EvictToken(ctx context.Context, recipientID string) error {
	result, err := r.db.Exec(ctx, `
		UPDATE recipients SET device_token = NULL WHERE id = $1
	`, recipientID)
	if err != nil {
		return fmt.Errorf("evict token: %w", err)
	}
	if result.RowsAffected() == 0 {
		return directory.ErrRecipientNotFound
	}
	return nil
}

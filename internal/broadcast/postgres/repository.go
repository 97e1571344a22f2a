// Package postgres provides the PostgreSQL implementation of the
// broadcast store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/push-garden/internal/broadcast"
	"github.com/bissquit/push-garden/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements broadcast.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL broadcast repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const broadcastColumns = `
	id, category, type, title, body, payload,
	sender_id, sender_name, sender_avatar,
	schedule_mode, at_utc, hour, minute,
	repeat, interval_days, days_of_week, remaining_occurrences,
	status, error,
	cursor_last_id, cursor_last_signup_at, batch_size, total_enqueued,
	created_at, updated_at`

// Create inserts a new pending broadcast.
func (r *Repository) Create(ctx context.Context, b *domain.Broadcast) error {
	var payload []byte
	if len(b.Payload) > 0 {
		var err error
		payload, err = json.Marshal(b.Payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
	}

	repeat := b.Recurrence.Mode
	if repeat == "" {
		repeat = domain.RepeatNone
	}

	err := r.db.QueryRow(ctx, `
		INSERT INTO broadcasts (
			category, type, title, body, payload,
			sender_id, sender_name, sender_avatar,
			schedule_mode, at_utc, hour, minute,
			repeat, interval_days, days_of_week, remaining_occurrences,
			batch_size, status
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,'pending')
		RETURNING id, created_at, updated_at
	`,
		b.Category, b.Type, b.Title, b.Body, payload,
		b.SenderID, b.SenderName, b.SenderAvatar,
		string(b.Schedule.Mode), b.Schedule.AtUTC, b.Schedule.Hour, b.Schedule.Minute,
		string(repeat), b.Recurrence.IntervalDays, b.Recurrence.DaysOfWeek, b.Recurrence.Remaining,
		b.BatchSize,
	).Scan(&b.ID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create broadcast: %w", err)
	}

	b.Status = domain.BroadcastStatusPending
	return nil
}

// GetByID retrieves one broadcast.
func (r *Repository) GetByID(ctx context.Context, id string) (*domain.Broadcast, error) {
	row := r.db.QueryRow(ctx, `SELECT `+broadcastColumns+` FROM broadcasts WHERE id = $1`, id)
	b, err := scanBroadcast(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, broadcast.ErrBroadcastNotFound
		}
		return nil, fmt.Errorf("get broadcast: %w", err)
	}
	return b, nil
}

// List returns broadcasts newest first, optionally filtered by status.
func (r *Repository) List(ctx context.Context, status domain.BroadcastStatus, limit int) ([]domain.Broadcast, error) {
	query := `SELECT ` + broadcastColumns + ` FROM broadcasts`
	args := []any{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, string(status))
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT %d`, limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list broadcasts: %w", err)
	}
	defer rows.Close()

	out := make([]domain.Broadcast, 0, limit)
	for rows.Next() {
		b, err := scanBroadcast(rows)
		if err != nil {
			return nil, fmt.Errorf("scan broadcast: %w", err)
		}
		out = append(out, *b)
	}

	return out, rows.Err()
}

// FetchPending returns pending broadcasts eligible at now, oldest first.
// Future at_utc broadcasts are excluded so they never starve eligible
// ones out of the per-cycle slots; a NULL at_utc passes through and is
// failed by definition validation.
func (r *Repository) FetchPending(ctx context.Context, now time.Time, limit int) ([]*domain.Broadcast, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+broadcastColumns+` FROM broadcasts
		WHERE status = 'pending'
		  AND (schedule_mode <> 'at_utc' OR at_utc IS NULL OR at_utc <= $1)
		ORDER BY created_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch pending broadcasts: %w", err)
	}
	defer rows.Close()

	out := make([]*domain.Broadcast, 0, limit)
	for rows.Next() {
		b, err := scanBroadcast(rows)
		if err != nil {
			return nil, fmt.Errorf("scan broadcast: %w", err)
		}
		out = append(out, b)
	}

	return out, rows.Err()
}

// AdvanceCursor records one expanded page while the broadcast is still
// pending. A concurrent cancel makes this a no-op.
func (r *Repository) AdvanceCursor(ctx context.Context, id string, cursorID string, cursorSignupAt time.Time, created int) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE broadcasts
		SET cursor_last_id = $2, cursor_last_signup_at = $3,
		    total_enqueued = total_enqueued + $4, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id, cursorID, cursorSignupAt, created)
	if err != nil {
		return false, fmt.Errorf("advance broadcast cursor: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkCompleted transitions pending -> completed.
func (r *Repository) MarkCompleted(ctx context.Context, id string) (bool, error) {
	return r.transition(ctx, id, domain.BroadcastStatusCompleted, "")
}

// MarkFailed transitions pending -> failed with a reason.
func (r *Repository) MarkFailed(ctx context.Context, id, errMsg string) (bool, error) {
	return r.transition(ctx, id, domain.BroadcastStatusFailed, errMsg)
}

// Cancel transitions pending -> cancelled.
func (r *Repository) Cancel(ctx context.Context, id string) (bool, error) {
	return r.transition(ctx, id, domain.BroadcastStatusCancelled, "")
}

func (r *Repository) transition(ctx context.Context, id string, to domain.BroadcastStatus, errMsg string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE broadcasts
		SET status = $2, error = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id, string(to), errMsg)
	if err != nil {
		return false, fmt.Errorf("transition broadcast to %s: %w", to, err)
	}
	return tag.RowsAffected() == 1, nil
}

func scanBroadcast(row pgx.Row) (*domain.Broadcast, error) {
	var b domain.Broadcast
	var payload []byte
	var mode, repeat string

	err := row.Scan(
		&b.ID, &b.Category, &b.Type, &b.Title, &b.Body, &payload,
		&b.SenderID, &b.SenderName, &b.SenderAvatar,
		&mode, &b.Schedule.AtUTC, &b.Schedule.Hour, &b.Schedule.Minute,
		&repeat, &b.Recurrence.IntervalDays, &b.Recurrence.DaysOfWeek, &b.Recurrence.Remaining,
		&b.Status, &b.Error,
		&b.CursorLastID, &b.CursorLastSignupAt, &b.BatchSize, &b.TotalEnqueued,
		&b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	b.Schedule.Mode = domain.ScheduleMode(mode)
	b.Recurrence.Mode = domain.RepeatMode(repeat)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &b.Payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
	}

	return &b, nil
}

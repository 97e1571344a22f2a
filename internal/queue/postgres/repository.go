// Package postgres provides the PostgreSQL implementation of the queue
// item store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/push-garden/internal/domain"
	"github.com/bissquit/push-garden/internal/queue"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository implements queue.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL queue repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const itemColumns = `
	id, category, type, title, body, payload,
	recipient_id, sender_id, sender_name, sender_avatar,
	scheduled_at, tz_offset_minutes, hour, minute,
	repeat, interval_days, days_of_week, remaining_occurrences,
	campaign_kind, campaign_id, dedupe_key, dedupe_window_ms,
	status, error, error_code, skipped_reason, retry_after_ms,
	created_at, updated_at, sent_at, last_sent_at`

// insertSQL merges on the partial unique index over pending dedupe keys:
// re-running the same page of a fan-out writes nothing the second time.
const insertSQL = `
	INSERT INTO queue_items (
		category, type, title, body, payload,
		recipient_id, sender_id, sender_name, sender_avatar,
		scheduled_at, tz_offset_minutes, hour, minute,
		repeat, interval_days, days_of_week, remaining_occurrences,
		campaign_kind, campaign_id, dedupe_key, dedupe_window_ms, last_sent_at, status
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,'pending')
	ON CONFLICT (dedupe_key) WHERE status = 'pending' AND dedupe_key <> '' DO NOTHING`

func insertArgs(item *domain.QueueItem) ([]any, error) {
	var payload []byte
	if len(item.Payload) > 0 {
		var err error
		payload, err = json.Marshal(item.Payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
	}

	repeat := item.Recurrence.Mode
	if repeat == "" {
		repeat = domain.RepeatNone
	}

	return []any{
		item.Category, item.Type, item.Title, item.Body, payload,
		item.RecipientID, item.SenderID, item.SenderName, item.SenderAvatar,
		item.ScheduledAt, item.TZOffsetMinutes, item.Hour, item.Minute,
		string(repeat), item.Recurrence.IntervalDays, item.Recurrence.DaysOfWeek, item.Recurrence.Remaining,
		item.CampaignKind, item.CampaignID, item.DedupeKey, item.DedupeWindowMs, item.LastSentAt,
	}, nil
}

// Create inserts one item, merging with an existing pending item that
// carries the same dedupe key.
func (r *Repository) Create(ctx context.Context, item *domain.QueueItem) error {
	args, err := insertArgs(item)
	if err != nil {
		return err
	}

	err = r.db.QueryRow(ctx, insertSQL+` RETURNING id, created_at, updated_at`, args...).
		Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
	if err == nil {
		item.Status = domain.QueueStatusPending
		return nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("create queue item: %w", err)
	}

	// Conflict: adopt the existing pending item instead of duplicating it.
	existing, err := r.getPendingByDedupeKey(ctx, item.DedupeKey)
	if err != nil {
		return err
	}
	*item = *existing
	return nil
}

// CreateBatch writes one fan-out page in a single batched round trip.
func (r *Repository) CreateBatch(ctx context.Context, items []*domain.QueueItem) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, item := range items {
		args, err := insertArgs(item)
		if err != nil {
			return 0, err
		}
		batch.Queue(insertSQL, args...)
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	created := 0
	for range items {
		tag, err := results.Exec()
		if err != nil {
			return created, fmt.Errorf("batch create queue items: %w", err)
		}
		created += int(tag.RowsAffected())
	}

	return created, nil
}

// GetByID retrieves one queue item.
func (r *Repository) GetByID(ctx context.Context, id string) (*domain.QueueItem, error) {
	row := r.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM queue_items WHERE id = $1`, id)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, queue.ErrItemNotFound
		}
		return nil, fmt.Errorf("get queue item: %w", err)
	}
	return item, nil
}

func (r *Repository) getPendingByDedupeKey(ctx context.Context, key string) (*domain.QueueItem, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+itemColumns+` FROM queue_items
		WHERE dedupe_key = $1 AND status = 'pending'
		LIMIT 1
	`, key)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, queue.ErrItemNotFound
		}
		return nil, fmt.Errorf("get pending item by dedupe key: %w", err)
	}
	return item, nil
}

// List returns items matching the filter, scheduled-time ascending, with a
// keyset cursor for the next page.
func (r *Repository) List(ctx context.Context, filter queue.ListFilter) ([]domain.QueueItem, string, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `SELECT ` + itemColumns + ` FROM queue_items WHERE 1=1`
	args := []any{}
	n := 0
	arg := func(v any) string {
		n++
		args = append(args, v)
		return fmt.Sprintf("$%d", n)
	}

	if filter.Status != "" {
		query += ` AND status = ` + arg(string(filter.Status))
	}
	if filter.RecipientID != "" {
		query += ` AND recipient_id = ` + arg(filter.RecipientID)
	}
	if filter.CampaignID != "" {
		query += ` AND campaign_id = ` + arg(filter.CampaignID)
	}
	if filter.Cursor != "" {
		c, err := queue.DecodeCursor(filter.Cursor)
		if err != nil {
			return nil, "", err
		}
		query += fmt.Sprintf(` AND (scheduled_at, id) > (%s, %s)`, arg(c.ScheduledAt), arg(c.ID))
	}

	query += fmt.Sprintf(` ORDER BY scheduled_at ASC, id ASC LIMIT %d`, limit+1)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("list queue items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.QueueItem, 0, limit)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, "", fmt.Errorf("scan queue item: %w", err)
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("list queue items: %w", err)
	}

	next := ""
	if len(items) > limit {
		items = items[:limit]
		last := items[len(items)-1]
		next = queue.EncodeCursor(queue.Cursor{ScheduledAt: last.ScheduledAt, ID: last.ID})
	}

	return items, next, nil
}

// FetchDue selects pending items due at or before now, oldest first.
func (r *Repository) FetchDue(ctx context.Context, now time.Time, limit int) ([]*domain.QueueItem, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+itemColumns+` FROM queue_items
		WHERE status = 'pending' AND scheduled_at <= $1
		ORDER BY scheduled_at ASC
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch due items: %w", err)
	}
	defer rows.Close()

	items := make([]*domain.QueueItem, 0, limit)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due item: %w", err)
		}
		items = append(items, item)
	}

	return items, rows.Err()
}

// MarkSent transitions pending -> sent.
func (r *Repository) MarkSent(ctx context.Context, id string, sentAt time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE queue_items
		SET status = 'sent', sent_at = $2, last_sent_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id, sentAt)
	if err != nil {
		return false, fmt.Errorf("mark sent: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkFailed transitions pending -> failed.
func (r *Repository) MarkFailed(ctx context.Context, id string, errMsg, errCode string, retryAfterMs int64) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE queue_items
		SET status = 'failed', error = $2, error_code = $3, retry_after_ms = $4, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id, errMsg, errCode, retryAfterMs)
	if err != nil {
		return false, fmt.Errorf("mark failed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkSkipped transitions pending -> skipped and strips recurrence so a
// stale in-flight computation can never re-arm the item.
func (r *Repository) MarkSkipped(ctx context.Context, id, reason string) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE queue_items
		SET status = 'skipped', skipped_reason = $2,
		    repeat = 'none', interval_days = 0, days_of_week = NULL, remaining_occurrences = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id, reason)
	if err != nil {
		return false, fmt.Errorf("mark skipped: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// SkipPendingByCampaign purges a cancelled campaign's unsent items.
func (r *Repository) SkipPendingByCampaign(ctx context.Context, campaignID, reason string) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE queue_items
		SET status = 'skipped', skipped_reason = $2,
		    repeat = 'none', interval_days = 0, days_of_week = NULL, remaining_occurrences = NULL,
		    updated_at = NOW()
		WHERE campaign_id = $1 AND status = 'pending'
	`, campaignID, reason)
	if err != nil {
		return 0, fmt.Errorf("skip campaign items: %w", err)
	}
	return tag.RowsAffected(), nil
}

// HasRecentDuplicate reports whether the same dedupe key was already sent
// within the item's window around its scheduled time.
func (r *Repository) HasRecentDuplicate(ctx context.Context, item *domain.QueueItem) (bool, error) {
	if item.DedupeKey == "" || item.DedupeWindowMs <= 0 {
		return false, nil
	}

	window := time.Duration(item.DedupeWindowMs) * time.Millisecond
	lo := item.ScheduledAt.Add(-window)
	hi := item.ScheduledAt.Add(window)

	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM queue_items
			WHERE dedupe_key = $1 AND id <> $2 AND status = 'sent'
			  AND sent_at BETWEEN $3 AND $4
		)
	`, item.DedupeKey, item.ID, lo, hi).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("dedupe check: %w", err)
	}
	return exists, nil
}

// CountByStatus returns queue sizes for metrics.
func (r *Repository) CountByStatus(ctx context.Context) (*queue.Stats, error) {
	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM queue_items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count queue items: %w", err)
	}
	defer rows.Close()

	stats := &queue.Stats{}
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan queue count: %w", err)
		}
		switch domain.QueueStatus(status) {
		case domain.QueueStatusPending:
			stats.Pending = count
		case domain.QueueStatusSent:
			stats.Sent = count
		case domain.QueueStatusFailed:
			stats.Failed = count
		case domain.QueueStatusSkipped:
			stats.Skipped = count
		}
	}

	return stats, rows.Err()
}

// DeleteOldTerminal removes terminal items last touched before the
// retention cutoff.
func (r *Repository) DeleteOldTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().Add(-olderThan)
	tag, err := r.db.Exec(ctx, `
		DELETE FROM queue_items
		WHERE status IN ('sent', 'failed', 'skipped') AND updated_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete old items: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanItem(row pgx.Row) (*domain.QueueItem, error) {
	var item domain.QueueItem
	var payload []byte
	var repeat string

	err := row.Scan(
		&item.ID, &item.Category, &item.Type, &item.Title, &item.Body, &payload,
		&item.RecipientID, &item.SenderID, &item.SenderName, &item.SenderAvatar,
		&item.ScheduledAt, &item.TZOffsetMinutes, &item.Hour, &item.Minute,
		&repeat, &item.Recurrence.IntervalDays, &item.Recurrence.DaysOfWeek, &item.Recurrence.Remaining,
		&item.CampaignKind, &item.CampaignID, &item.DedupeKey, &item.DedupeWindowMs,
		&item.Status, &item.Error, &item.ErrorCode, &item.SkippedReason, &item.RetryAfterMs,
		&item.CreatedAt, &item.UpdatedAt, &item.SentAt, &item.LastSentAt,
	)
	if err != nil {
		return nil, err
	}

	item.Recurrence.Mode = domain.RepeatMode(repeat)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &item.Payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
	}

	return &item, nil
}

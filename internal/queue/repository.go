// Package queue manages the persisted collection of delivery jobs: creation
// with dedupe-key merge semantics, status-filtered listing, due-item
// selection, and the conditional status transitions that make concurrent
// processing safe.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/bissquit/push-garden/internal/domain"
)

// Repository errors.
var (
	ErrItemNotFound = errors.New("queue item not found")
)

// ListFilter selects and pages queue items. Zero-valued fields are ignored.
type ListFilter struct {
	Status      domain.QueueStatus
	RecipientID string
	CampaignID  string
	Cursor      string // opaque token from a previous List call
	Limit       int
}

// Stats holds queue size per status.
type Stats struct {
	Pending int64
	Sent    int64
	Failed  int64
	Skipped int64
}

// Repository defines queue item data access. All status transitions are
// conditional single-row writes guarded on the current status being
// pending, so two racing batches resolve to exactly one effective
// transition per item.
type Repository interface {
	// Create inserts one item. When a pending item with the same dedupe
	// key already exists the call is a merge: the existing item is
	// returned in place of the new one and no row is written.
	Create(ctx context.Context, item *domain.QueueItem) error

	// CreateBatch inserts a page of items in one batched write. Items
	// whose dedupe key collides with an existing pending item are silently
	// merged. Returns the number of rows actually inserted.
	CreateBatch(ctx context.Context, items []*domain.QueueItem) (int, error)

	// GetByID returns one item.
	GetByID(ctx context.Context, id string) (*domain.QueueItem, error)

	// List returns items matching the filter ordered by scheduled time,
	// plus the cursor for the next page ("" when exhausted).
	List(ctx context.Context, filter ListFilter) ([]domain.QueueItem, string, error)

	// FetchDue returns pending items with scheduled_at <= now, ascending
	// by scheduled_at, capped to limit.
	FetchDue(ctx context.Context, now time.Time, limit int) ([]*domain.QueueItem, error)

	// MarkSent transitions pending -> sent. Returns false when the item
	// was no longer pending (lost the race or already terminal).
	MarkSent(ctx context.Context, id string, sentAt time.Time) (bool, error)

	// MarkFailed transitions pending -> failed with error details and an
	// optional retry-after hint.
	MarkFailed(ctx context.Context, id string, errMsg, errCode string, retryAfterMs int64) (bool, error)

	// MarkSkipped transitions pending -> skipped and strips recurrence
	// fields so the item can never re-arm.
	MarkSkipped(ctx context.Context, id, reason string) (bool, error)

	// SkipPendingByCampaign skips every still-pending item of a campaign,
	// stripping recurrence. Sent and failed items are never touched.
	SkipPendingByCampaign(ctx context.Context, campaignID, reason string) (int64, error)

	// HasRecentDuplicate reports whether another item with the same dedupe
	// key was already sent within the item's dedupe window around its
	// scheduled time.
	HasRecentDuplicate(ctx context.Context, item *domain.QueueItem) (bool, error)

	// CountByStatus returns queue sizes for metrics.
	CountByStatus(ctx context.Context) (*Stats, error)

	// DeleteOldTerminal removes terminal items older than the retention
	// window and returns the count.
	DeleteOldTerminal(ctx context.Context, olderThan time.Duration) (int64, error)
}

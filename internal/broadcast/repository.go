// Package broadcast manages fan-out jobs: definitions that materialize
// into per-recipient queue items across repeated, cursor-resumable
// expansion passes.
package broadcast

import (
	"context"
	"errors"
	"time"

	"github.com/bissquit/push-garden/internal/domain"
)

// Repository errors.
var (
	ErrBroadcastNotFound = errors.New("broadcast not found")
)

// Repository defines broadcast data access.
type Repository interface {
	// Create inserts a new pending broadcast.
	Create(ctx context.Context, b *domain.Broadcast) error

	// GetByID returns one broadcast.
	GetByID(ctx context.Context, id string) (*domain.Broadcast, error)

	// List returns broadcasts newest first, optionally filtered by status.
	List(ctx context.Context, status domain.BroadcastStatus, limit int) ([]domain.Broadcast, error)

	// FetchPending returns up to limit pending broadcasts eligible at now,
	// oldest first, for the expander to work through. An at_utc broadcast
	// whose instant is still in the future is not eligible and must not
	// occupy a slot.
	FetchPending(ctx context.Context, now time.Time, limit int) ([]*domain.Broadcast, error)

	// AdvanceCursor stores the fan-out position after one expanded page
	// and adds created to the enqueued total. It only applies while the
	// broadcast is still pending, so a concurrent cancel wins.
	AdvanceCursor(ctx context.Context, id string, cursorID string, cursorSignupAt time.Time, created int) (bool, error)

	// MarkCompleted transitions pending -> completed.
	MarkCompleted(ctx context.Context, id string) (bool, error)

	// MarkFailed transitions pending -> failed with a reason.
	MarkFailed(ctx context.Context, id, errMsg string) (bool, error)

	// Cancel transitions pending -> cancelled. Returns false when the
	// broadcast was not pending.
	Cancel(ctx context.Context, id string) (bool, error)
}

package broadcast

import (
	"context"
	"errors"
	"fmt"

	"github.com/bissquit/push-garden/internal/domain"
	"github.com/bissquit/push-garden/internal/pkg/ctxlog"
	"github.com/bissquit/push-garden/internal/queue"
)

// Service errors.
var (
	ErrNotCancellable = errors.New("broadcast is not pending")
	ErrInvalidInput   = errors.New("invalid broadcast definition")
)

// CreateInput carries a new fan-out job definition.
type CreateInput struct {
	Category string
	Type     string
	Title    string
	Body     string
	Payload  map[string]string

	SenderID     string
	SenderName   string
	SenderAvatar string

	Schedule   domain.Schedule
	Recurrence domain.Recurrence
	BatchSize  int
}

// Service implements broadcast use cases.
type Service struct {
	repo    Repository
	items   queue.Repository
	metrics *Metrics
}

// NewService creates a broadcast service.
func NewService(repo Repository, items queue.Repository, metrics *Metrics) *Service {
	return &Service{repo: repo, items: items, metrics: metrics}
}

// Create validates and stores a new pending broadcast. Expansion happens
// later, on the next cycle.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.Broadcast, error) {
	if in.Title == "" || in.Body == "" || in.Type == "" {
		return nil, fmt.Errorf("%w: title, body and type are required", ErrInvalidInput)
	}
	if in.Schedule.Mode == domain.ScheduleAtUTC && (in.Schedule.AtUTC == nil || in.Schedule.AtUTC.IsZero()) {
		return nil, fmt.Errorf("%w: at_utc schedule requires an instant", ErrInvalidInput)
	}

	b := &domain.Broadcast{
		Category:     in.Category,
		Type:         in.Type,
		Title:        in.Title,
		Body:         in.Body,
		Payload:      in.Payload,
		SenderID:     in.SenderID,
		SenderName:   in.SenderName,
		SenderAvatar: in.SenderAvatar,
		Schedule:     in.Schedule,
		Recurrence:   in.Recurrence,
		BatchSize:    clampBatchSize(in.BatchSize),
		Status:       domain.BroadcastStatusPending,
	}

	if err := s.repo.Create(ctx, b); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.BroadcastsCreated.Inc()
	}
	ctxlog.FromContext(ctx).InfoContext(ctx, "broadcast created",
		"broadcast_id", b.ID,
		"category", b.Category,
		"batch_size", b.BatchSize,
	)

	return b, nil
}

// GetByID returns one broadcast.
func (s *Service) GetByID(ctx context.Context, id string) (*domain.Broadcast, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns broadcasts newest first.
func (s *Service) List(ctx context.Context, status domain.BroadcastStatus, limit int) ([]domain.Broadcast, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.List(ctx, status, limit)
}

// Cancel stops further expansion of a pending broadcast and purges its
// already-materialized, still-pending items. Items already sent stay
// sent. The purge is safe against an in-flight expansion: it only touches
// rows that exist, and the expander's cursor advance is guarded on the
// broadcast still being pending.
//
// Cancelling an already-cancelled broadcast re-runs the purge, so a
// caller that got a purge error back can retry until no pending items
// remain.
func (s *Service) Cancel(ctx context.Context, id string) (*domain.Broadcast, error) {
	ok, err := s.repo.Cancel(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		b, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if b.Status != domain.BroadcastStatusCancelled {
			return nil, ErrNotCancellable
		}
		if _, err := s.items.SkipPendingByCampaign(ctx, id, domain.SkipReasonBroadcastCancelled); err != nil {
			return nil, fmt.Errorf("purge cancelled broadcast items: %w", err)
		}
		return b, nil
	}

	purged, err := s.items.SkipPendingByCampaign(ctx, id, domain.SkipReasonBroadcastCancelled)
	if err != nil {
		// The status row is already cancelled, which stops expansion, but
		// the items are still deliverable until the purge lands. Surface
		// the failure so the caller retries the cancel.
		return nil, fmt.Errorf("purge cancelled broadcast items: %w", err)
	}

	if s.metrics != nil {
		s.metrics.BroadcastsCancelled.Inc()
	}
	ctxlog.FromContext(ctx).InfoContext(ctx, "broadcast cancelled",
		"broadcast_id", id,
		"items_purged", purged,
	)

	return s.repo.GetByID(ctx, id)
}

package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/push-garden/internal/domain"
	"github.com/bissquit/push-garden/internal/pkg/ctxlog"
	"github.com/bissquit/push-garden/internal/routercfg"
	"github.com/bissquit/push-garden/internal/schedule"
)

// Service errors.
var (
	ErrEnqueueDisabled = errors.New("enqueueing is globally disabled")
	ErrItemNotPending  = errors.New("queue item is not pending")
	ErrInvalidRule     = errors.New("invalid recurrence rule")
)

// CreateInput carries everything needed to enqueue one notification.
type CreateInput struct {
	Category string
	Type     string
	Title    string
	Body     string
	Payload  map[string]string

	RecipientID  string
	SenderID     string
	SenderName   string
	SenderAvatar string

	Schedule        domain.Schedule
	TZOffsetMinutes int
	Recurrence      domain.Recurrence

	DedupeKey      string
	DedupeWindowMs int64
}

// Service implements queue item use cases on top of the repository.
type Service struct {
	repo    Repository
	cfg     routercfg.Store
	metrics *Metrics
	now     func() time.Time
}

// NewService creates a queue service. nowFn may be nil, in which case
// time.Now is used.
func NewService(repo Repository, cfg routercfg.Store, metrics *Metrics, nowFn func() time.Time) *Service {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Service{repo: repo, cfg: cfg, metrics: metrics, now: nowFn}
}

// Create resolves the delivery instant and enqueues one item. It fails
// with ErrEnqueueDisabled while the global switch is off, so nothing
// accumulates for a later mass send.
func (s *Service) Create(ctx context.Context, in CreateInput) (*domain.QueueItem, error) {
	cfg, err := s.cfg.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load router config: %w", err)
	}
	if !cfg.GlobalEnabled {
		return nil, ErrEnqueueDisabled
	}

	if err := validateRecurrence(in.Recurrence); err != nil {
		return nil, err
	}

	now := s.now()
	scheduledAt, err := schedule.ResolveScheduledAt(now, in.Schedule, in.TZOffsetMinutes)
	if err != nil {
		return nil, err
	}

	item := &domain.QueueItem{
		Category:        in.Category,
		Type:            in.Type,
		Title:           in.Title,
		Body:            in.Body,
		Payload:         in.Payload,
		RecipientID:     in.RecipientID,
		SenderID:        in.SenderID,
		SenderName:      in.SenderName,
		SenderAvatar:    in.SenderAvatar,
		ScheduledAt:     scheduledAt,
		TZOffsetMinutes: in.TZOffsetMinutes,
		Recurrence:      in.Recurrence,
		DedupeKey:       in.DedupeKey,
		DedupeWindowMs:  in.DedupeWindowMs,
		Status:          domain.QueueStatusPending,
	}
	if in.Schedule.Mode == domain.ScheduleAtUserLocal {
		hour, minute := in.Schedule.Hour, in.Schedule.Minute
		item.Hour, item.Minute = &hour, &minute
	}

	if err := s.repo.Create(ctx, item); err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.ItemsEnqueued.WithLabelValues(item.Category).Inc()
	}
	ctxlog.FromContext(ctx).InfoContext(ctx, "queue item created",
		"item_id", item.ID,
		"recipient_id", item.RecipientID,
		"category", item.Category,
		"scheduled_at", item.ScheduledAt,
	)

	return item, nil
}

// GetByID returns one queue item.
func (s *Service) GetByID(ctx context.Context, id string) (*domain.QueueItem, error) {
	return s.repo.GetByID(ctx, id)
}

// List pages queue items by scheduled time.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]domain.QueueItem, string, error) {
	return s.repo.List(ctx, filter)
}

// Remove skips a still-pending item. Sent, failed and already skipped
// items are immutable history, so removing one is a conflict.
func (s *Service) Remove(ctx context.Context, id string) (*domain.QueueItem, error) {
	ok, err := s.repo.MarkSkipped(ctx, id, domain.SkipReasonManuallyRemoved)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Distinguish missing from already-terminal for the caller.
		if _, err := s.repo.GetByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrItemNotPending
	}

	ctxlog.FromContext(ctx).InfoContext(ctx, "queue item removed", "item_id", id)
	return s.repo.GetByID(ctx, id)
}

// Stats returns queue sizes per status.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	return s.repo.CountByStatus(ctx)
}

// PurgeOldTerminal deletes terminal items past the retention window.
func (s *Service) PurgeOldTerminal(ctx context.Context, retention time.Duration) (int64, error) {
	removed, err := s.repo.DeleteOldTerminal(ctx, retention)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		if s.metrics != nil {
			s.metrics.ItemsPurged.Add(float64(removed))
		}
		ctxlog.FromContext(ctx).InfoContext(ctx, "purged terminal queue items",
			"removed", removed,
			"retention", retention,
		)
	}
	return removed, nil
}

func validateRecurrence(r domain.Recurrence) error {
	switch r.Mode {
	case "", domain.RepeatNone, domain.RepeatDaily:
	case domain.RepeatEveryNDay:
		if r.IntervalDays < 1 {
			return fmt.Errorf("%w: interval_days must be >= 1", ErrInvalidRule)
		}
	case domain.RepeatWeekdays:
		if len(r.DaysOfWeek) == 0 {
			return fmt.Errorf("%w: days_of_week must not be empty", ErrInvalidRule)
		}
		for _, d := range r.DaysOfWeek {
			if d < 0 || d > 6 {
				return fmt.Errorf("%w: day of week %d out of range", ErrInvalidRule, d)
			}
		}
	default:
		return fmt.Errorf("%w: unknown repeat mode %q", ErrInvalidRule, r.Mode)
	}

	if r.Remaining != nil && *r.Remaining < 1 {
		return fmt.Errorf("%w: remaining_occurrences must be >= 1", ErrInvalidRule)
	}

	return nil
}

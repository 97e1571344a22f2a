package broadcast

import (
	"context"
	"fmt"
	"time"

	"github.com/bissquit/push-garden/internal/directory"
	"github.com/bissquit/push-garden/internal/domain"
	"github.com/bissquit/push-garden/internal/pkg/ctxlog"
	"github.com/bissquit/push-garden/internal/queue"
	"github.com/bissquit/push-garden/internal/schedule"
)

// Page size bounds for one expansion pass. An unset batch size falls back
// to the default; explicit sizes are honored up to the store's batched
// write limit.
const (
	DefaultBatchSize = 50
	MaxBatchSize     = 500

	// broadcastsPerCycle bounds how many pending broadcasts one cycle
	// touches; large backlogs drain across repeated invocations.
	broadcastsPerCycle = 5
)

// ExpandResult summarizes one expansion cycle.
type ExpandResult struct {
	ProcessedBroadcasts int `json:"processed_broadcasts"`
	ItemsCreated        int `json:"items_created"`
}

// Expander turns pending broadcasts into per-recipient queue items, one
// audience page per broadcast per cycle. Every step is resumable: the
// stored cursor plus per-recipient dedupe keys make re-running a page a
// no-op.
type Expander struct {
	broadcasts Repository
	recipients directory.Repository
	items      queue.Repository
	metrics    *Metrics
	now        func() time.Time
}

// NewExpander creates an expander. nowFn may be nil, in which case
// time.Now is used.
func NewExpander(broadcasts Repository, recipients directory.Repository, items queue.Repository, metrics *Metrics, nowFn func() time.Time) *Expander {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Expander{
		broadcasts: broadcasts,
		recipients: recipients,
		items:      items,
		metrics:    metrics,
		now:        nowFn,
	}
}

// ExpandPending runs one expansion cycle over a bounded number of pending
// broadcasts. Per-broadcast failures are recorded on the broadcast and do
// not abort the cycle; only a failure to list pending broadcasts does.
func (e *Expander) ExpandPending(ctx context.Context) (ExpandResult, error) {
	var result ExpandResult

	pending, err := e.broadcasts.FetchPending(ctx, e.now(), broadcastsPerCycle)
	if err != nil {
		return result, fmt.Errorf("fetch pending broadcasts: %w", err)
	}

	for _, b := range pending {
		created, processed, err := e.expandOne(ctx, b)
		if err != nil {
			ctxlog.FromContext(ctx).ErrorContext(ctx, "broadcast expansion failed",
				"broadcast_id", b.ID,
				"error", err,
			)
			continue
		}
		if processed {
			result.ProcessedBroadcasts++
		}
		result.ItemsCreated += created
	}

	return result, nil
}

// expandOne processes one audience page of one broadcast. The processed
// result is false when the broadcast was not yet eligible and no work
// happened, so the caller does not count it.
func (e *Expander) expandOne(ctx context.Context, b *domain.Broadcast) (created int, processed bool, err error) {
	log := ctxlog.FromContext(ctx)
	now := e.now()

	if err := validateDefinition(b); err != nil {
		if _, markErr := e.broadcasts.MarkFailed(ctx, b.ID, err.Error()); markErr != nil {
			return 0, true, markErr
		}
		if e.metrics != nil {
			e.metrics.BroadcastsFailed.Inc()
		}
		log.WarnContext(ctx, "broadcast rejected", "broadcast_id", b.ID, "error", err)
		return 0, true, nil
	}

	// An absolute-time broadcast waits for its instant; nothing happened, so
	// it does not count as processed.
	if b.Schedule.Mode == domain.ScheduleAtUTC && b.Schedule.AtUTC.After(now) {
		return 0, false, nil
	}

	var after *directory.Cursor
	if b.CursorLastID != nil && b.CursorLastSignupAt != nil {
		after = &directory.Cursor{SignedUpAt: *b.CursorLastSignupAt, ID: *b.CursorLastID}
	}

	page, err := e.recipients.PageBySignup(ctx, after, clampBatchSize(b.BatchSize))
	if err != nil {
		return 0, true, fmt.Errorf("page recipients: %w", err)
	}

	if len(page) == 0 {
		if _, err := e.broadcasts.MarkCompleted(ctx, b.ID); err != nil {
			return 0, true, err
		}
		if e.metrics != nil {
			e.metrics.BroadcastsCompleted.Inc()
		}
		log.InfoContext(ctx, "broadcast completed",
			"broadcast_id", b.ID,
			"total_enqueued", b.TotalEnqueued,
		)
		return 0, true, nil
	}

	items := make([]*domain.QueueItem, 0, len(page))
	for i := range page {
		item, err := e.buildItem(b, &page[i], now)
		if err != nil {
			if _, markErr := e.broadcasts.MarkFailed(ctx, b.ID, err.Error()); markErr != nil {
				return 0, true, markErr
			}
			if e.metrics != nil {
				e.metrics.BroadcastsFailed.Inc()
			}
			return 0, true, nil
		}
		items = append(items, item)
	}

	created, err = e.items.CreateBatch(ctx, items)
	if err != nil {
		return 0, true, fmt.Errorf("write queue items: %w", err)
	}

	last := page[len(page)-1]
	ok, err := e.broadcasts.AdvanceCursor(ctx, b.ID, last.ID, last.SignedUpAt, created)
	if err != nil {
		return created, true, fmt.Errorf("advance cursor: %w", err)
	}
	if !ok {
		// Cancelled mid-page; the next processing pass skips the purged
		// items, and the cursor stays where the cancel found it.
		log.InfoContext(ctx, "broadcast no longer pending, cursor not advanced", "broadcast_id", b.ID)
		return created, true, nil
	}

	// A short page means the audience is exhausted; finish now instead of
	// spending another cycle to observe the empty page.
	if len(page) < clampBatchSize(b.BatchSize) {
		if _, err := e.broadcasts.MarkCompleted(ctx, b.ID); err != nil {
			return created, true, err
		}
		if e.metrics != nil {
			e.metrics.BroadcastsCompleted.Inc()
		}
		log.InfoContext(ctx, "broadcast completed",
			"broadcast_id", b.ID,
			"total_enqueued", b.TotalEnqueued+created,
		)
	}

	if e.metrics != nil {
		e.metrics.ItemsExpanded.Add(float64(created))
	}
	log.InfoContext(ctx, "broadcast page expanded",
		"broadcast_id", b.ID,
		"page_size", len(page),
		"items_created", created,
	)

	return created, true, nil
}

// buildItem materializes one queue item from the broadcast definition for
// one recipient.
func (e *Expander) buildItem(b *domain.Broadcast, rec *domain.Recipient, now time.Time) (*domain.QueueItem, error) {
	scheduledAt, err := schedule.ResolveScheduledAt(now, b.Schedule, rec.TZOffsetMinutes)
	if err != nil {
		return nil, fmt.Errorf("resolve schedule: %w", err)
	}

	item := &domain.QueueItem{
		Category:        b.Category,
		Type:            b.Type,
		Title:           b.Title,
		Body:            b.Body,
		Payload:         b.Payload,
		RecipientID:     rec.ID,
		SenderID:        b.SenderID,
		SenderName:      b.SenderName,
		SenderAvatar:    b.SenderAvatar,
		ScheduledAt:     scheduledAt,
		TZOffsetMinutes: rec.TZOffsetMinutes,
		Recurrence:      b.Recurrence,
		CampaignKind:    domain.CampaignKindBroadcast,
		CampaignID:      b.ID,
		DedupeKey:       fmt.Sprintf("broadcast:%s:%s", b.ID, rec.ID),
		Status:          domain.QueueStatusPending,
	}
	if b.Schedule.Mode == domain.ScheduleAtUserLocal {
		hour, minute := b.Schedule.Hour, b.Schedule.Minute
		item.Hour, item.Minute = &hour, &minute
	}

	return item, nil
}

func validateDefinition(b *domain.Broadcast) error {
	if b.Title == "" || b.Body == "" || b.Type == "" {
		return fmt.Errorf("broadcast requires title, body and type")
	}
	if b.Schedule.Mode == domain.ScheduleAtUTC && (b.Schedule.AtUTC == nil || b.Schedule.AtUTC.IsZero()) {
		return schedule.ErrMissingInstant
	}
	return nil
}

func clampBatchSize(n int) int {
	if n <= 0 {
		return DefaultBatchSize
	}
	if n > MaxBatchSize {
		return MaxBatchSize
	}
	return n
}

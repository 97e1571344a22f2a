package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/push-garden/internal/directory"
	"github.com/bissquit/push-garden/internal/domain"
	"github.com/bissquit/push-garden/internal/pkg/ctxlog"
	"github.com/bissquit/push-garden/internal/queue"
	"github.com/bissquit/push-garden/internal/routercfg"
	"github.com/bissquit/push-garden/internal/schedule"
)

// Batch limits for one processing pass.
const (
	DefaultBatchLimit = 100
	MaxBatchLimit     = 500
)

// Processor errors.
var (
	ErrProcessingDisabled = errors.New("delivery processing is disabled")
)

// Trigger identifies who invoked a processing pass. Automatic passes are
// additionally gated on the auto-cron switch; manual ones are not.
type Trigger string

// Triggers.
const (
	TriggerCron   Trigger = "cron"
	TriggerManual Trigger = "manual"
)

// Outcome is the per-item result of one processing pass.
type Outcome struct {
	ItemID string             `json:"item_id"`
	Status domain.QueueStatus `json:"status"`
	// Detail carries the skip reason or error code, empty for sent items.
	Detail string `json:"detail,omitempty"`
}

// Result summarizes one processing pass.
type Result struct {
	Processed int       `json:"processed"`
	Sent      int       `json:"sent"`
	Failed    int       `json:"failed"`
	Skipped   int       `json:"skipped"`
	Raced     int       `json:"raced"`
	Outcomes  []Outcome `json:"outcomes,omitempty"`
}

// ForceOptions loosen the per-item policy checks for a manual force-send.
// The scheduled-time gate is always bypassed on force-send.
type ForceOptions struct {
	SkipEnablement bool
	SkipDedupe     bool
}

// Processor dispatches due pending items. It holds no state between
// passes; every pass is a discrete, re-entrant batch call, and each item
// transition is a conditional write guarded on the item still being
// pending, so overlapping passes resolve to one effective transition.
type Processor struct {
	items      queue.Repository
	recipients directory.Repository
	cfg        routercfg.Store
	transport  Transport
	metrics    *Metrics
	now        func() time.Time
}

// NewProcessor creates a processor. nowFn may be nil, in which case
// time.Now is used.
func NewProcessor(items queue.Repository, recipients directory.Repository, cfg routercfg.Store, transport Transport, metrics *Metrics, nowFn func() time.Time) *Processor {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Processor{
		items:      items,
		recipients: recipients,
		cfg:        cfg,
		transport:  transport,
		metrics:    metrics,
		now:        nowFn,
	}
}

// ProcessBatch selects due pending items and works through them in
// scheduled order. A disabled processing or auto-cron switch yields an
// empty result, not an error. Per-item failures never abort the pass;
// only structural failures (config, selection) do.
func (p *Processor) ProcessBatch(ctx context.Context, trigger Trigger, limit int) (Result, error) {
	var result Result

	cfg, err := p.cfg.Load(ctx)
	if err != nil {
		return result, fmt.Errorf("load router config: %w", err)
	}
	if !cfg.ProcessingEnabled || (trigger == TriggerCron && !cfg.AutoCronEnabled) {
		ctxlog.FromContext(ctx).InfoContext(ctx, "processing pass skipped", "trigger", trigger)
		return result, nil
	}

	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	if limit > MaxBatchLimit {
		limit = MaxBatchLimit
	}

	due, err := p.items.FetchDue(ctx, p.now(), limit)
	if err != nil {
		return result, fmt.Errorf("fetch due items: %w", err)
	}

	for _, item := range due {
		outcome := p.processOne(ctx, cfg, item, ForceOptions{})
		result.add(outcome)
	}

	if len(due) > 0 {
		ctxlog.FromContext(ctx).InfoContext(ctx, "processing pass finished",
			"trigger", trigger,
			"processed", result.Processed,
			"sent", result.Sent,
			"failed", result.Failed,
			"skipped", result.Skipped,
		)
	}

	return result, nil
}

// ForceSend re-runs the per-item pipeline for one named item regardless
// of its scheduled time. Policy checks still apply unless opts disables
// them. The processing kill switch is always honored.
func (p *Processor) ForceSend(ctx context.Context, itemID string, opts ForceOptions) (*domain.QueueItem, error) {
	cfg, err := p.cfg.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load router config: %w", err)
	}
	if !cfg.ProcessingEnabled {
		return nil, ErrProcessingDisabled
	}

	item, err := p.items.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.Status != domain.QueueStatusPending {
		return nil, queue.ErrItemNotPending
	}

	p.processOne(ctx, cfg, item, opts)
	return p.items.GetByID(ctx, itemID)
}

// processOne runs policy checks and the transport for a single item and
// records its terminal transition.
func (p *Processor) processOne(ctx context.Context, cfg domain.RouterConfig, item *domain.QueueItem, opts ForceOptions) Outcome {
	log := ctxlog.FromContext(ctx)

	if !opts.SkipEnablement {
		if reason, ok := enablementSkip(cfg, item); ok {
			return p.skip(ctx, item, reason)
		}
	}

	if !opts.SkipDedupe {
		dup, err := p.items.HasRecentDuplicate(ctx, item)
		if err != nil {
			log.ErrorContext(ctx, "dedupe check failed", "item_id", item.ID, "error", err)
			return Outcome{ItemID: item.ID, Status: item.Status, Detail: "dedupe_check_error"}
		}
		if dup {
			return p.skip(ctx, item, domain.SkipReasonDeduped)
		}
	}

	rec, err := p.recipients.GetByID(ctx, item.RecipientID)
	if err != nil && !errors.Is(err, directory.ErrRecipientNotFound) {
		log.ErrorContext(ctx, "recipient lookup failed", "item_id", item.ID, "error", err)
		return Outcome{ItemID: item.ID, Status: item.Status, Detail: "recipient_lookup_error"}
	}
	if rec == nil || !rec.HasToken() {
		return p.fail(ctx, item, "recipient has no delivery token", domain.ErrorCodeNoToken, 0)
	}

	start := time.Now()
	deliveryID, sendErr := p.transport.Send(ctx, rec.DeviceToken, item.Title, item.Body, item.Payload)
	if p.metrics != nil {
		p.metrics.SendDuration.Observe(time.Since(start).Seconds())
	}

	if sendErr != nil {
		se := AsSendError(sendErr)
		if se.InvalidToken {
			if err := p.recipients.EvictToken(ctx, rec.ID); err != nil {
				log.ErrorContext(ctx, "token eviction failed", "recipient_id", rec.ID, "error", err)
			}
			return p.fail(ctx, item, se.Error(), domain.ErrorCodeInvalidToken, 0)
		}
		return p.fail(ctx, item, se.Error(), se.Code, se.RetryAfterMs)
	}

	sentAt := p.now()
	claimed, err := p.items.MarkSent(ctx, item.ID, sentAt)
	if err != nil {
		log.ErrorContext(ctx, "mark sent failed", "item_id", item.ID, "error", err)
		return Outcome{ItemID: item.ID, Status: item.Status, Detail: "transition_error"}
	}
	if !claimed {
		// A concurrent pass already resolved this item; exactly one
		// transition wins and only the winner re-arms recurrence.
		return Outcome{ItemID: item.ID, Status: item.Status, Detail: "raced"}
	}

	if p.metrics != nil {
		p.metrics.ItemsProcessed.WithLabelValues("sent").Inc()
	}
	log.InfoContext(ctx, "item sent",
		"item_id", item.ID,
		"recipient_id", item.RecipientID,
		"delivery_id", deliveryID,
	)

	p.rearm(ctx, item, sentAt)

	return Outcome{ItemID: item.ID, Status: domain.QueueStatusSent}
}

// rearm enqueues the next occurrence of a recurring item.
func (p *Processor) rearm(ctx context.Context, item *domain.QueueItem, sentAt time.Time) {
	next, rule, ok := schedule.AfterFire(item.Recurrence, item.ScheduledAt, item.TZOffsetMinutes)
	if !ok {
		return
	}

	nextItem := &domain.QueueItem{
		Category:        item.Category,
		Type:            item.Type,
		Title:           item.Title,
		Body:            item.Body,
		Payload:         item.Payload,
		RecipientID:     item.RecipientID,
		SenderID:        item.SenderID,
		SenderName:      item.SenderName,
		SenderAvatar:    item.SenderAvatar,
		ScheduledAt:     next,
		TZOffsetMinutes: item.TZOffsetMinutes,
		Hour:            item.Hour,
		Minute:          item.Minute,
		Recurrence:      rule,
		CampaignKind:    item.CampaignKind,
		CampaignID:      item.CampaignID,
		DedupeKey:       item.DedupeKey,
		DedupeWindowMs:  item.DedupeWindowMs,
		Status:          domain.QueueStatusPending,
		LastSentAt:      &sentAt,
	}

	if err := p.items.Create(ctx, nextItem); err != nil {
		ctxlog.FromContext(ctx).ErrorContext(ctx, "failed to enqueue next occurrence",
			"item_id", item.ID,
			"error", err,
		)
		return
	}

	if p.metrics != nil {
		p.metrics.ItemsRearmed.Inc()
	}
	ctxlog.FromContext(ctx).InfoContext(ctx, "next occurrence enqueued",
		"item_id", item.ID,
		"next_item_id", nextItem.ID,
		"scheduled_at", next,
	)
}

func (p *Processor) skip(ctx context.Context, item *domain.QueueItem, reason string) Outcome {
	claimed, err := p.items.MarkSkipped(ctx, item.ID, reason)
	if err != nil {
		ctxlog.FromContext(ctx).ErrorContext(ctx, "mark skipped failed", "item_id", item.ID, "error", err)
		return Outcome{ItemID: item.ID, Status: item.Status, Detail: "transition_error"}
	}
	if !claimed {
		return Outcome{ItemID: item.ID, Status: item.Status, Detail: "raced"}
	}
	if p.metrics != nil {
		p.metrics.ItemsProcessed.WithLabelValues("skipped").Inc()
	}
	return Outcome{ItemID: item.ID, Status: domain.QueueStatusSkipped, Detail: reason}
}

func (p *Processor) fail(ctx context.Context, item *domain.QueueItem, errMsg, errCode string, retryAfterMs int64) Outcome {
	claimed, err := p.items.MarkFailed(ctx, item.ID, errMsg, errCode, retryAfterMs)
	if err != nil {
		ctxlog.FromContext(ctx).ErrorContext(ctx, "mark failed failed", "item_id", item.ID, "error", err)
		return Outcome{ItemID: item.ID, Status: item.Status, Detail: "transition_error"}
	}
	if !claimed {
		return Outcome{ItemID: item.ID, Status: item.Status, Detail: "raced"}
	}
	if p.metrics != nil {
		p.metrics.ItemsProcessed.WithLabelValues("failed").Inc()
	}
	return Outcome{ItemID: item.ID, Status: domain.QueueStatusFailed, Detail: errCode}
}

// enablementSkip returns the skip reason imposed by the kill switches, if
// any. An item re-armed from a previous send counts as recurring for the
// per-category gates.
func enablementSkip(cfg domain.RouterConfig, item *domain.QueueItem) (string, bool) {
	if !cfg.GlobalEnabled {
		return domain.SkipReasonGloballyDisabled, true
	}
	recurring := item.LastSentAt != nil
	if !cfg.CategoryAllows(item.Category, recurring) {
		return domain.SkipReasonCategoryDisabled, true
	}
	return "", false
}

func (r *Result) add(o Outcome) {
	r.Processed++
	r.Outcomes = append(r.Outcomes, o)
	switch {
	case o.Detail == "raced":
		r.Raced++
	case o.Status == domain.QueueStatusSent:
		r.Sent++
	case o.Status == domain.QueueStatusFailed:
		r.Failed++
	case o.Status == domain.QueueStatusSkipped:
		r.Skipped++
	}
}

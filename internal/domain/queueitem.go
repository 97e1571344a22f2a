package domain

import "time"

// QueueStatus is the lifecycle status of a queue item.
type QueueStatus string

// Queue item statuses. Pending items are eligible for delivery; the other
// three are terminal for that occurrence.
const (
	QueueStatusPending QueueStatus = "pending"
	QueueStatusSent    QueueStatus = "sent"
	QueueStatusFailed  QueueStatus = "failed"
	QueueStatusSkipped QueueStatus = "skipped"
)

// RepeatMode describes how an item re-arms after a successful send.
type RepeatMode string

// Repeat modes.
const (
	RepeatNone      RepeatMode = "none"
	RepeatDaily     RepeatMode = "daily"
	RepeatEveryNDay RepeatMode = "every_n_days"
	RepeatWeekdays  RepeatMode = "weekdays"
)

// ScheduleMode describes how a new item's delivery instant is chosen.
type ScheduleMode string

// Schedule modes.
const (
	ScheduleNow         ScheduleMode = "now"
	ScheduleAtUTC       ScheduleMode = "at_utc"
	ScheduleAtUserLocal ScheduleMode = "at_user_local"
)

// CampaignKindBroadcast links a queue item back to the broadcast that
// produced it.
const CampaignKindBroadcast = "broadcast"

// Skip reasons recorded on skipped items.
const (
	SkipReasonGloballyDisabled   = "globally_disabled"
	SkipReasonCategoryDisabled   = "category_disabled"
	SkipReasonDeduped            = "deduped"
	SkipReasonBroadcastCancelled = "broadcast_cancelled"
	SkipReasonManuallyRemoved    = "manually_removed"
)

// Error codes recorded on failed items.
const (
	ErrorCodeNoToken      = "no_token"
	ErrorCodeInvalidToken = "invalid_token"
	ErrorCodeTransport    = "transport_error"
)

// Recurrence is the repeat rule carried by queue items and broadcasts.
// A zero value (Mode empty or RepeatNone) means the item fires once.
type Recurrence struct {
	Mode         RepeatMode `json:"mode"`
	IntervalDays int        `json:"interval_days,omitempty"` // every_n_days only, >= 1
	DaysOfWeek   []int      `json:"days_of_week,omitempty"`  // weekdays only, 0=Sunday..6=Saturday
	// Remaining bounds the number of fires. Nil means unbounded. It is
	// decremented on each successful send; 0 after decrement means no
	// further occurrence is created.
	Remaining *int `json:"remaining_occurrences,omitempty"`
}

// IsZero reports whether the rule produces no further occurrences by
// construction.
func (r Recurrence) IsZero() bool {
	return r.Mode == "" || r.Mode == RepeatNone
}

// QueueItem is one scheduled or delivered notification.
type QueueItem struct {
	ID string `json:"id"`

	Category string            `json:"category"`
	Type     string            `json:"type"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Payload  map[string]string `json:"payload,omitempty"`

	RecipientID  string `json:"recipient_id"`
	SenderID     string `json:"sender_id,omitempty"`
	SenderName   string `json:"sender_name,omitempty"`
	SenderAvatar string `json:"sender_avatar,omitempty"`

	ScheduledAt     time.Time `json:"scheduled_at"`
	TZOffsetMinutes int       `json:"tz_offset_minutes"`
	// Hour/Minute are set when the item was created from a local-time rule
	// and anchor recurring occurrences to the recipient's wall clock.
	Hour   *int `json:"hour,omitempty"`
	Minute *int `json:"minute,omitempty"`

	Recurrence Recurrence `json:"recurrence"`

	CampaignKind string `json:"campaign_kind,omitempty"`
	CampaignID   string `json:"campaign_id,omitempty"`

	DedupeKey      string `json:"dedupe_key"`
	DedupeWindowMs int64  `json:"dedupe_window_ms"`

	Status        QueueStatus `json:"status"`
	Error         string      `json:"error,omitempty"`
	ErrorCode     string      `json:"error_code,omitempty"`
	SkippedReason string      `json:"skipped_reason,omitempty"`
	RetryAfterMs  int64       `json:"retry_after_ms,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
	LastSentAt *time.Time `json:"last_sent_at,omitempty"`
}

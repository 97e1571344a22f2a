package domain

import "time"

// BroadcastStatus is the lifecycle status of a fan-out job.
type BroadcastStatus string

// Broadcast statuses. Only pending broadcasts are eligible for expansion.
const (
	BroadcastStatusPending   BroadcastStatus = "pending"
	BroadcastStatusCompleted BroadcastStatus = "completed"
	BroadcastStatusCancelled BroadcastStatus = "cancelled"
	BroadcastStatusFailed    BroadcastStatus = "failed"
)

// Schedule describes when items produced by a broadcast (or a direct
// enqueue) should be delivered.
type Schedule struct {
	Mode ScheduleMode `json:"mode"`
	// AtUTC is the absolute instant for ScheduleAtUTC.
	AtUTC *time.Time `json:"at_utc,omitempty"`
	// Hour/Minute are the recipient-local wall-clock target for
	// ScheduleAtUserLocal.
	Hour   int `json:"hour,omitempty"`
	Minute int `json:"minute,omitempty"`
}

// Broadcast is one fan-out job definition: a single message materialized
// into per-recipient queue items across repeated expansion passes.
type Broadcast struct {
	ID string `json:"id"`

	Category string            `json:"category"`
	Type     string            `json:"type"`
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Payload  map[string]string `json:"payload,omitempty"`

	SenderID     string `json:"sender_id,omitempty"`
	SenderName   string `json:"sender_name,omitempty"`
	SenderAvatar string `json:"sender_avatar,omitempty"`

	Schedule   Schedule   `json:"schedule"`
	Recurrence Recurrence `json:"recurrence"`

	Status BroadcastStatus `json:"status"`
	Error  string          `json:"error,omitempty"`

	// Fan-out bookkeeping. The cursor identifies the last recipient of the
	// most recently expanded page; both fields are nil/zero until the first
	// page is processed.
	CursorLastID       *string    `json:"cursor_last_doc_id,omitempty"`
	CursorLastSignupAt *time.Time `json:"cursor_last_signup_at,omitempty"`
	BatchSize          int        `json:"batch_size"`
	TotalEnqueued      int        `json:"total_enqueued"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

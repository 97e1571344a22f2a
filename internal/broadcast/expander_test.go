package broadcast

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/bissquit/push-garden/internal/directory"
	"github.com/bissquit/push-garden/internal/domain"
	"github.com/bissquit/push-garden/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memBroadcasts struct {
	byID map[string]*domain.Broadcast
	seq  int
}

func newMemBroadcasts() *memBroadcasts {
	return &memBroadcasts{byID: map[string]*domain.Broadcast{}}
}

func (r *memBroadcasts) Create(ctx context.Context, b *domain.Broadcast) error {
	r.seq++
	b.ID = fmt.Sprintf("bc-%d", r.seq)
	b.Status = domain.BroadcastStatusPending
	b.CreatedAt = time.Now()
	copied := *b
	r.byID[b.ID] = &copied
	return nil
}

func (r *memBroadcasts) GetByID(ctx context.Context, id string) (*domain.Broadcast, error) {
	b, ok := r.byID[id]
	if !ok {
		return nil, ErrBroadcastNotFound
	}
	copied := *b
	return &copied, nil
}

func (r *memBroadcasts) List(ctx context.Context, status domain.BroadcastStatus, limit int) ([]domain.Broadcast, error) {
	var out []domain.Broadcast
	for _, b := range r.byID {
		if status == "" || b.Status == status {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (r *memBroadcasts) FetchPending(ctx context.Context, now time.Time, limit int) ([]*domain.Broadcast, error) {
	var out []*domain.Broadcast
	for _, b := range r.byID {
		if b.Status != domain.BroadcastStatusPending {
			continue
		}
		if b.Schedule.Mode == domain.ScheduleAtUTC && b.Schedule.AtUTC != nil && b.Schedule.AtUTC.After(now) {
			continue
		}
		copied := *b
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memBroadcasts) AdvanceCursor(ctx context.Context, id string, cursorID string, cursorSignupAt time.Time, created int) (bool, error) {
	b, ok := r.byID[id]
	if !ok || b.Status != domain.BroadcastStatusPending {
		return false, nil
	}
	b.CursorLastID = &cursorID
	b.CursorLastSignupAt = &cursorSignupAt
	b.TotalEnqueued += created
	return true, nil
}

func (r *memBroadcasts) MarkCompleted(ctx context.Context, id string) (bool, error) {
	return r.transition(id, domain.BroadcastStatusCompleted, "")
}

func (r *memBroadcasts) MarkFailed(ctx context.Context, id, errMsg string) (bool, error) {
	return r.transition(id, domain.BroadcastStatusFailed, errMsg)
}

func (r *memBroadcasts) Cancel(ctx context.Context, id string) (bool, error) {
	return r.transition(id, domain.BroadcastStatusCancelled, "")
}

func (r *memBroadcasts) transition(id string, to domain.BroadcastStatus, errMsg string) (bool, error) {
	b, ok := r.byID[id]
	if !ok || b.Status != domain.BroadcastStatusPending {
		return false, nil
	}
	b.Status = to
	b.Error = errMsg
	return true, nil
}

type memDirectory struct {
	recipients []domain.Recipient // newest signup first
}

func (d *memDirectory) GetByID(ctx context.Context, id string) (*domain.Recipient, error) {
	for i := range d.recipients {
		if d.recipients[i].ID == id {
			copied := d.recipients[i]
			return &copied, nil
		}
	}
	return nil, directory.ErrRecipientNotFound
}

func (d *memDirectory) PageBySignup(ctx context.Context, after *directory.Cursor, limit int) ([]domain.Recipient, error) {
	start := 0
	if after != nil {
		for i := range d.recipients {
			if d.recipients[i].ID == after.ID {
				start = i + 1
				break
			}
		}
	}
	end := start + limit
	if end > len(d.recipients) {
		end = len(d.recipients)
	}
	return append([]domain.Recipient{}, d.recipients[start:end]...), nil
}

func (d *memDirectory) EvictToken(ctx context.Context, recipientID string) error {
	for i := range d.recipients {
		if d.recipients[i].ID == recipientID {
			d.recipients[i].DeviceToken = ""
			return nil
		}
	}
	return directory.ErrRecipientNotFound
}

// memItems is a minimal queue.Repository fake: batch create with dedupe
// merge, plus campaign purge. The rest is unused by the expander.
type memItems struct {
	items []*domain.QueueItem
	seq   int
}

func (r *memItems) Create(ctx context.Context, item *domain.QueueItem) error {
	_, err := r.CreateBatch(ctx, []*domain.QueueItem{item})
	return err
}

func (r *memItems) CreateBatch(ctx context.Context, items []*domain.QueueItem) (int, error) {
	created := 0
	for _, item := range items {
		if r.hasPendingKey(item.DedupeKey) {
			continue
		}
		r.seq++
		item.ID = fmt.Sprintf("item-%d", r.seq)
		item.Status = domain.QueueStatusPending
		copied := *item
		r.items = append(r.items, &copied)
		created++
	}
	return created, nil
}

func (r *memItems) hasPendingKey(key string) bool {
	if key == "" {
		return false
	}
	for _, item := range r.items {
		if item.DedupeKey == key && item.Status == domain.QueueStatusPending {
			return true
		}
	}
	return false
}

func (r *memItems) SkipPendingByCampaign(ctx context.Context, campaignID, reason string) (int64, error) {
	var n int64
	for _, item := range r.items {
		if item.CampaignID == campaignID && item.Status == domain.QueueStatusPending {
			item.Status = domain.QueueStatusSkipped
			item.SkippedReason = reason
			item.Recurrence = domain.Recurrence{Mode: domain.RepeatNone}
			n++
		}
	}
	return n, nil
}

func (r *memItems) GetByID(ctx context.Context, id string) (*domain.QueueItem, error) {
	return nil, queue.ErrItemNotFound
}

func (r *memItems) List(ctx context.Context, filter queue.ListFilter) ([]domain.QueueItem, string, error) {
	return nil, "", nil
}

func (r *memItems) FetchDue(ctx context.Context, now time.Time, limit int) ([]*domain.QueueItem, error) {
	return nil, nil
}

func (r *memItems) MarkSent(ctx context.Context, id string, sentAt time.Time) (bool, error) {
	return false, nil
}

func (r *memItems) MarkFailed(ctx context.Context, id string, errMsg, errCode string, retryAfterMs int64) (bool, error) {
	return false, nil
}

func (r *memItems) MarkSkipped(ctx context.Context, id, reason string) (bool, error) {
	return false, nil
}

func (r *memItems) HasRecentDuplicate(ctx context.Context, item *domain.QueueItem) (bool, error) {
	return false, nil
}

func (r *memItems) CountByStatus(ctx context.Context) (*queue.Stats, error) {
	return &queue.Stats{}, nil
}

func (r *memItems) DeleteOldTerminal(ctx context.Context, olderThan time.Duration) (int64, error) {
	return 0, nil
}

func threeRecipients() *memDirectory {
	base := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	return &memDirectory{recipients: []domain.Recipient{
		{ID: "r-3", DeviceToken: "tok-3", TZOffsetMinutes: 120, SignedUpAt: base.Add(2 * time.Hour)},
		{ID: "r-2", DeviceToken: "tok-2", TZOffsetMinutes: -300, SignedUpAt: base.Add(time.Hour)},
		{ID: "r-1", DeviceToken: "tok-1", TZOffsetMinutes: 0, SignedUpAt: base},
	}}
}

func pendingBroadcast(t *testing.T, repo *memBroadcasts, batchSize int) *domain.Broadcast {
	t.Helper()
	b := &domain.Broadcast{
		Category:  "announcement",
		Type:      "news",
		Title:     "hello",
		Body:      "world",
		Schedule:  domain.Schedule{Mode: domain.ScheduleAtUserLocal, Hour: 8, Minute: 0},
		Recurrence: domain.Recurrence{Mode: domain.RepeatDaily},
		BatchSize: batchSize,
	}
	require.NoError(t, repo.Create(context.Background(), b))
	return b
}

func TestExpander_FanOutAcrossPages(t *testing.T) {
	ctx := context.Background()
	broadcasts := newMemBroadcasts()
	items := &memItems{}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	b := pendingBroadcast(t, broadcasts, 2)
	e := NewExpander(broadcasts, threeRecipients(), items, nil, func() time.Time { return now })

	// First pass: full page of 2, cursor advanced, still pending.
	res, err := e.ExpandPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ProcessedBroadcasts)
	assert.Equal(t, 2, res.ItemsCreated)

	got, err := broadcasts.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BroadcastStatusPending, got.Status)
	require.NotNil(t, got.CursorLastID)
	assert.Equal(t, "r-2", *got.CursorLastID)
	assert.Equal(t, 2, got.TotalEnqueued)

	// Second pass: short page of 1 finishes the fan-out.
	res, err = e.ExpandPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ItemsCreated)

	got, err = broadcasts.GetByID(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BroadcastStatusCompleted, got.Status)
	assert.Equal(t, 3, got.TotalEnqueued)
	assert.Len(t, items.items, 3)

	// Items carry the broadcast linkage and per-recipient dedupe keys.
	for _, item := range items.items {
		assert.Equal(t, domain.CampaignKindBroadcast, item.CampaignKind)
		assert.Equal(t, b.ID, item.CampaignID)
		assert.Equal(t, fmt.Sprintf("broadcast:%s:%s", b.ID, item.RecipientID), item.DedupeKey)
		assert.Equal(t, domain.RepeatDaily, item.Recurrence.Mode)

		// at_user_local: 08:00 on each recipient's own wall clock.
		local := item.ScheduledAt.Add(time.Duration(item.TZOffsetMinutes) * time.Minute)
		assert.Equal(t, 8, local.Hour())
		assert.Equal(t, 0, local.Minute())
		assert.True(t, item.ScheduledAt.After(now))
	}
}

func TestExpander_RerunSamePageIsIdempotent(t *testing.T) {
	ctx := context.Background()
	broadcasts := newMemBroadcasts()
	items := &memItems{}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	b := pendingBroadcast(t, broadcasts, 2)
	e := NewExpander(broadcasts, threeRecipients(), items, nil, func() time.Time { return now })

	_, err := e.ExpandPending(ctx)
	require.NoError(t, err)

	// Simulate a crash after the batch write but before the cursor write:
	// the same page is expanded again.
	stored := broadcasts.byID[b.ID]
	stored.CursorLastID = nil
	stored.CursorLastSignupAt = nil
	stored.TotalEnqueued = 0

	res, err := e.ExpandPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ItemsCreated, "dedupe keys must absorb the re-run")
	assert.Len(t, items.items, 2)
	assert.Equal(t, 0, broadcasts.byID[b.ID].TotalEnqueued)
}

func TestExpander_FutureInstantNotYetEligible(t *testing.T) {
	ctx := context.Background()
	broadcasts := newMemBroadcasts()
	items := &memItems{}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(2 * time.Hour)

	b := &domain.Broadcast{
		Category: "announcement",
		Type:     "news",
		Title:    "hello",
		Body:     "world",
		Schedule: domain.Schedule{Mode: domain.ScheduleAtUTC, AtUTC: &later},
	}
	require.NoError(t, broadcasts.Create(ctx, b))

	e := NewExpander(broadcasts, threeRecipients(), items, nil, func() time.Time { return now })
	res, err := e.ExpandPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ProcessedBroadcasts)
	assert.Equal(t, 0, res.ItemsCreated)
	assert.Empty(t, items.items)
	assert.Equal(t, domain.BroadcastStatusPending, broadcasts.byID[b.ID].Status)

	// Once the instant arrives, expansion proceeds.
	e = NewExpander(broadcasts, threeRecipients(), items, nil, func() time.Time { return later })
	res, err = e.ExpandPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ProcessedBroadcasts)
	assert.Equal(t, 3, res.ItemsCreated)
}

func TestExpander_FutureInstantsDoNotStarveEligible(t *testing.T) {
	ctx := context.Background()
	broadcasts := newMemBroadcasts()
	items := &memItems{}
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	later := now.Add(24 * time.Hour)

	// Enough waiting at_utc broadcasts to fill a whole fetch page on their
	// own if they were allowed to occupy slots.
	for i := 0; i < broadcastsPerCycle+2; i++ {
		future := &domain.Broadcast{
			Category: "announcement",
			Type:     "news",
			Title:    "later",
			Body:     "patience",
			Schedule: domain.Schedule{Mode: domain.ScheduleAtUTC, AtUTC: &later},
		}
		require.NoError(t, broadcasts.Create(ctx, future))
	}

	eligible := &domain.Broadcast{
		Category: "announcement",
		Type:     "news",
		Title:    "hello",
		Body:     "world",
		Schedule: domain.Schedule{Mode: domain.ScheduleNow},
	}
	require.NoError(t, broadcasts.Create(ctx, eligible))

	e := NewExpander(broadcasts, threeRecipients(), items, nil, func() time.Time { return now })
	res, err := e.ExpandPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ProcessedBroadcasts)
	assert.Equal(t, 3, res.ItemsCreated)
	assert.Len(t, items.items, 3)
}

func TestExpander_InvalidDefinitionFailsBroadcast(t *testing.T) {
	ctx := context.Background()

	cases := map[string]*domain.Broadcast{
		"missing title": {Category: "c", Type: "news", Body: "world"},
		"missing body":  {Category: "c", Type: "news", Title: "hello"},
		"missing type":  {Category: "c", Title: "hello", Body: "world"},
		"at_utc without instant": {
			Category: "c", Type: "news", Title: "hello", Body: "world",
			Schedule: domain.Schedule{Mode: domain.ScheduleAtUTC},
		},
	}

	for name, b := range cases {
		t.Run(name, func(t *testing.T) {
			broadcasts := newMemBroadcasts()
			items := &memItems{}
			require.NoError(t, broadcasts.Create(ctx, b))

			e := NewExpander(broadcasts, threeRecipients(), items, nil, nil)
			res, err := e.ExpandPending(ctx)
			require.NoError(t, err)
			assert.Equal(t, 0, res.ItemsCreated)
			assert.Empty(t, items.items, "no partial expansion")

			got := broadcasts.byID[b.ID]
			assert.Equal(t, domain.BroadcastStatusFailed, got.Status)
			assert.NotEmpty(t, got.Error)
		})
	}
}

func TestExpander_CancelledMidPageDoesNotAdvanceCursor(t *testing.T) {
	ctx := context.Background()
	broadcasts := newMemBroadcasts()
	items := &memItems{}

	b := pendingBroadcast(t, broadcasts, 2)

	// Cancel lands between the batch write and the cursor write.
	cancelling := &cancellingItems{memItems: items, broadcasts: broadcasts, id: b.ID}
	e := NewExpander(broadcasts, threeRecipients(), cancelling, nil, nil)

	_, err := e.ExpandPending(ctx)
	require.NoError(t, err)

	got := broadcasts.byID[b.ID]
	assert.Equal(t, domain.BroadcastStatusCancelled, got.Status)
	assert.Nil(t, got.CursorLastID)
	assert.Equal(t, 0, got.TotalEnqueued)
}

// cancellingItems cancels the broadcast as a side effect of the batch
// write, simulating a concurrent admin cancel.
type cancellingItems struct {
	*memItems
	broadcasts *memBroadcasts
	id         string
}

func (c *cancellingItems) CreateBatch(ctx context.Context, items []*domain.QueueItem) (int, error) {
	created, err := c.memItems.CreateBatch(ctx, items)
	if err != nil {
		return created, err
	}
	_, err = c.broadcasts.Cancel(ctx, c.id)
	return created, err
}

package broadcast

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bissquit/push-garden/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_Create_ClampsBatchSize(t *testing.T) {
	svc := NewService(newMemBroadcasts(), &memItems{}, nil)

	cases := map[string]struct {
		in   int
		want int
	}{
		"unset uses default": {0, DefaultBatchSize},
		"explicit small":     {2, 2},
		"above maximum":      {10000, MaxBatchSize},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			b, err := svc.Create(context.Background(), CreateInput{
				Category: "announcement", Type: "news", Title: "hello", Body: "world",
				BatchSize: tc.in,
			})
			require.NoError(t, err)
			assert.Equal(t, tc.want, b.BatchSize)
		})
	}
}

func TestService_Create_Invalid(t *testing.T) {
	svc := NewService(newMemBroadcasts(), &memItems{}, nil)

	_, err := svc.Create(context.Background(), CreateInput{Category: "c", Type: "news", Title: "no body"})
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = svc.Create(context.Background(), CreateInput{
		Category: "c", Type: "news", Title: "hello", Body: "world",
		Schedule: domain.Schedule{Mode: domain.ScheduleAtUTC},
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestService_Cancel_PurgesPendingItems(t *testing.T) {
	ctx := context.Background()
	broadcasts := newMemBroadcasts()
	items := &memItems{}
	svc := NewService(broadcasts, items, nil)

	b, err := svc.Create(ctx, CreateInput{
		Category: "announcement", Type: "news", Title: "hello", Body: "world", BatchSize: 2,
	})
	require.NoError(t, err)

	// Materialize a page, then mark one item sent before the cancel.
	e := NewExpander(broadcasts, threeRecipients(), items, nil, nil)
	_, err = e.ExpandPending(ctx)
	require.NoError(t, err)
	require.Len(t, items.items, 2)
	sentAt := time.Now()
	items.items[0].Status = domain.QueueStatusSent
	items.items[0].SentAt = &sentAt

	cancelled, err := svc.Cancel(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BroadcastStatusCancelled, cancelled.Status)

	// Sent history stays; the pending item is skipped with its recurrence
	// stripped.
	assert.Equal(t, domain.QueueStatusSent, items.items[0].Status)
	assert.Equal(t, domain.QueueStatusSkipped, items.items[1].Status)
	assert.Equal(t, domain.SkipReasonBroadcastCancelled, items.items[1].SkippedReason)
	assert.True(t, items.items[1].Recurrence.IsZero())

	// A cancelled broadcast is no longer expandable.
	res, err := e.ExpandPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ItemsCreated)
}

func TestService_Cancel_PurgeFailureSurfacesAndIsRetryable(t *testing.T) {
	ctx := context.Background()
	broadcasts := newMemBroadcasts()
	items := &failingItems{}
	svc := NewService(broadcasts, items, nil)

	b, err := svc.Create(ctx, CreateInput{
		Category: "announcement", Type: "news", Title: "hello", Body: "world", BatchSize: 2,
	})
	require.NoError(t, err)

	e := NewExpander(broadcasts, threeRecipients(), items, nil, nil)
	_, err = e.ExpandPending(ctx)
	require.NoError(t, err)
	require.Len(t, items.items, 2)

	// The status row flips before the purge; a purge failure must reach
	// the caller, because the items stay deliverable until it lands.
	items.failPurge = true
	_, err = svc.Cancel(ctx, b.ID)
	require.Error(t, err)
	assert.Equal(t, domain.BroadcastStatusCancelled, broadcasts.byID[b.ID].Status)
	assert.Equal(t, domain.QueueStatusPending, items.items[0].Status)
	assert.Equal(t, domain.QueueStatusPending, items.items[1].Status)

	// Retrying the cancel on the now-cancelled broadcast re-runs the
	// purge once storage recovers.
	items.failPurge = false
	cancelled, err := svc.Cancel(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BroadcastStatusCancelled, cancelled.Status)
	for _, item := range items.items {
		assert.Equal(t, domain.QueueStatusSkipped, item.Status)
		assert.Equal(t, domain.SkipReasonBroadcastCancelled, item.SkippedReason)
	}
}

// failingItems injects a storage failure into the campaign purge.
type failingItems struct {
	memItems
	failPurge bool
}

func (f *failingItems) SkipPendingByCampaign(ctx context.Context, campaignID, reason string) (int64, error) {
	if f.failPurge {
		return 0, fmt.Errorf("connection reset")
	}
	return f.memItems.SkipPendingByCampaign(ctx, campaignID, reason)
}

func TestService_Cancel_NotPending(t *testing.T) {
	ctx := context.Background()
	broadcasts := newMemBroadcasts()
	svc := NewService(broadcasts, &memItems{}, nil)

	b, err := svc.Create(ctx, CreateInput{
		Category: "announcement", Type: "news", Title: "hello", Body: "world",
	})
	require.NoError(t, err)

	_, err = broadcasts.MarkCompleted(ctx, b.ID)
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, b.ID)
	assert.ErrorIs(t, err, ErrNotCancellable)

	_, err = svc.Cancel(ctx, "missing")
	assert.ErrorIs(t, err, ErrBroadcastNotFound)
}

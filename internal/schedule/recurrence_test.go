package schedule

import (
	"testing"
	"time"

	"github.com/bissquit/push-garden/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

func TestNextOccurrence_Daily(t *testing.T) {
	// Anchors on the previous scheduled local time, not on "now".
	prev := time.Date(2025, 6, 4, 6, 0, 0, 0, time.UTC) // Wed 08:00 local at +120
	rule := domain.Recurrence{Mode: domain.RepeatDaily}

	got, ok := NextOccurrence(rule, prev, 120)
	require.True(t, ok)
	assert.Equal(t, prev.AddDate(0, 0, 1), got)
}

func TestNextOccurrence_EveryNDays(t *testing.T) {
	prev := time.Date(2025, 6, 4, 6, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		interval int
		wantDays int
	}{
		{"three days", 3, 3},
		{"one day", 1, 1},
		{"zero clamps to one", 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := domain.Recurrence{Mode: domain.RepeatEveryNDay, IntervalDays: tt.interval}
			got, ok := NextOccurrence(rule, prev, -300)
			require.True(t, ok)
			assert.Equal(t, prev.AddDate(0, 0, tt.wantDays), got)
		})
	}
}

func TestNextOccurrence_Weekdays(t *testing.T) {
	// 2025-06-04 is a Wednesday (local, offset 0).
	wednesday := time.Date(2025, 6, 4, 8, 0, 0, 0, time.UTC)

	t.Run("mon wed fri from wednesday advances to friday", func(t *testing.T) {
		rule := domain.Recurrence{Mode: domain.RepeatWeekdays, DaysOfWeek: []int{1, 3, 5}}
		got, ok := NextOccurrence(rule, wednesday, 0)
		require.True(t, ok)
		assert.Equal(t, time.Friday, got.Weekday())
		assert.Equal(t, wednesday.AddDate(0, 0, 2), got)
	})

	t.Run("set containing only today advances a full week", func(t *testing.T) {
		rule := domain.Recurrence{Mode: domain.RepeatWeekdays, DaysOfWeek: []int{3}}
		got, ok := NextOccurrence(rule, wednesday, 0)
		require.True(t, ok)
		assert.Equal(t, wednesday.AddDate(0, 0, 7), got)
	})

	t.Run("empty set yields no occurrence", func(t *testing.T) {
		rule := domain.Recurrence{Mode: domain.RepeatWeekdays}
		_, ok := NextOccurrence(rule, wednesday, 0)
		assert.False(t, ok)
	})

	t.Run("out of range days are ignored", func(t *testing.T) {
		rule := domain.Recurrence{Mode: domain.RepeatWeekdays, DaysOfWeek: []int{7, -1}}
		_, ok := NextOccurrence(rule, wednesday, 0)
		assert.False(t, ok)
	})

	t.Run("weekday evaluated in recipient local time", func(t *testing.T) {
		// 23:30 UTC Wednesday is already Thursday at +120.
		lateWednesday := time.Date(2025, 6, 4, 23, 30, 0, 0, time.UTC)
		rule := domain.Recurrence{Mode: domain.RepeatWeekdays, DaysOfWeek: []int{5}}
		got, ok := NextOccurrence(rule, lateWednesday, 120)
		require.True(t, ok)
		local := got.Add(120 * time.Minute)
		assert.Equal(t, time.Friday, local.Weekday())
	})
}

func TestNextOccurrence_None(t *testing.T) {
	prev := time.Date(2025, 6, 4, 8, 0, 0, 0, time.UTC)

	_, ok := NextOccurrence(domain.Recurrence{}, prev, 0)
	assert.False(t, ok)

	_, ok = NextOccurrence(domain.Recurrence{Mode: domain.RepeatNone}, prev, 0)
	assert.False(t, ok)
}

func TestAfterFire_DecrementsRemaining(t *testing.T) {
	prev := time.Date(2025, 6, 4, 8, 0, 0, 0, time.UTC)
	rule := domain.Recurrence{Mode: domain.RepeatDaily, Remaining: intPtr(3)}

	at, next, ok := AfterFire(rule, prev, 0)
	require.True(t, ok)
	assert.Equal(t, prev.AddDate(0, 0, 1), at)
	require.NotNil(t, next.Remaining)
	assert.Equal(t, 2, *next.Remaining)

	// Original rule is untouched.
	assert.Equal(t, 3, *rule.Remaining)
}

func TestAfterFire_ExhaustsAtOne(t *testing.T) {
	prev := time.Date(2025, 6, 4, 8, 0, 0, 0, time.UTC)
	rule := domain.Recurrence{Mode: domain.RepeatDaily, Remaining: intPtr(1)}

	_, _, ok := AfterFire(rule, prev, 0)
	assert.False(t, ok, "remaining=1 must never produce a second occurrence")
}

func TestAfterFire_UnboundedKeepsFiring(t *testing.T) {
	prev := time.Date(2025, 6, 4, 8, 0, 0, 0, time.UTC)
	rule := domain.Recurrence{Mode: domain.RepeatDaily}

	at, next, ok := AfterFire(rule, prev, 0)
	require.True(t, ok)
	assert.Nil(t, next.Remaining)
	assert.Equal(t, prev.AddDate(0, 0, 1), at)
}

func TestAfterFire_NoneNeverReArms(t *testing.T) {
	prev := time.Date(2025, 6, 4, 8, 0, 0, 0, time.UTC)
	_, _, ok := AfterFire(domain.Recurrence{Mode: domain.RepeatNone}, prev, 0)
	assert.False(t, ok)
}

package schedule

import (
	"time"

	"github.com/bissquit/push-garden/internal/domain"
)

// NextOccurrence computes the delivery instant following prevScheduled for
// a repeat rule. The advancement anchors on the previous *scheduled* local
// time, never on the wall clock, so late processing does not drift the
// recipient's delivery hour. The second return value is false when the
// rule yields no further occurrence.
func NextOccurrence(rule domain.Recurrence, prevScheduled time.Time, tzOffsetMinutes int) (time.Time, bool) {
	if rule.IsZero() {
		return time.Time{}, false
	}

	offset := time.Duration(tzOffsetMinutes) * time.Minute
	local := prevScheduled.UTC().Add(offset)

	var next time.Time
	switch rule.Mode {
	case domain.RepeatDaily:
		next = local.AddDate(0, 0, 1)
	case domain.RepeatEveryNDay:
		interval := rule.IntervalDays
		if interval < 1 {
			interval = 1
		}
		next = local.AddDate(0, 0, interval)
	case domain.RepeatWeekdays:
		allowed := make(map[int]bool, len(rule.DaysOfWeek))
		for _, d := range rule.DaysOfWeek {
			if d >= 0 && d <= 6 {
				allowed[d] = true
			}
		}
		if len(allowed) == 0 {
			return time.Time{}, false
		}
		// Strictly after the current day: a set containing only today's
		// weekday advances a full week.
		for days := 1; days <= 7; days++ {
			candidate := local.AddDate(0, 0, days)
			if allowed[int(candidate.Weekday())] {
				next = candidate
				break
			}
		}
	default:
		return time.Time{}, false
	}

	return next.Add(-offset), true
}

// AfterFire applies one successful send to a repeat rule: it decrements the
// remaining-occurrence bound, computes the next instant, and reports
// whether a new occurrence should be created at all. The returned rule is
// what the next occurrence carries forward.
func AfterFire(rule domain.Recurrence, prevScheduled time.Time, tzOffsetMinutes int) (time.Time, domain.Recurrence, bool) {
	if rule.IsZero() {
		return time.Time{}, domain.Recurrence{}, false
	}

	next := rule
	if rule.Remaining != nil {
		left := *rule.Remaining - 1
		if left <= 0 {
			return time.Time{}, domain.Recurrence{}, false
		}
		next.Remaining = &left
	}

	at, ok := NextOccurrence(next, prevScheduled, tzOffsetMinutes)
	if !ok {
		return time.Time{}, domain.Recurrence{}, false
	}
	return at, next, true
}

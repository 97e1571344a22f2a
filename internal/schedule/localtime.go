// Package schedule contains the pure scheduling arithmetic shared by the
// broadcast expander and the delivery processor: resolving a recipient's
// local wall-clock target into a UTC instant, and advancing repeat rules.
//
// Offsets are fixed minute values, not time-zone identifiers; daylight
// saving transitions are not modeled.
package schedule

import (
	"errors"
	"time"

	"github.com/bissquit/push-garden/internal/domain"
)

// Resolution errors.
var (
	ErrInvalidLocalTime = errors.New("hour must be in [0,23] and minute in [0,59]")
	ErrMissingInstant   = errors.New("at_utc schedule requires an instant")
	ErrUnknownMode      = errors.New("unknown schedule mode")
)

// NextUTCForLocalTime returns the next UTC instant at which a recipient
// with the given fixed UTC offset experiences hour:minute on their wall
// clock. The result is always strictly after now: a target at or before
// the recipient's current local time rolls over to the next calendar day.
func NextUTCForLocalTime(now time.Time, tzOffsetMinutes, hour, minute int) time.Time {
	offset := time.Duration(tzOffsetMinutes) * time.Minute
	local := now.UTC().Add(offset)

	candidate := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, time.UTC)
	if !candidate.After(local) {
		candidate = candidate.AddDate(0, 0, 1)
	}

	return candidate.Add(-offset)
}

// ResolveScheduledAt computes the first delivery instant for a schedule.
// tzOffsetMinutes is the recipient's stored offset and only matters for
// ScheduleAtUserLocal.
func ResolveScheduledAt(now time.Time, sched domain.Schedule, tzOffsetMinutes int) (time.Time, error) {
	switch sched.Mode {
	case domain.ScheduleNow, "":
		return now.UTC(), nil
	case domain.ScheduleAtUTC:
		if sched.AtUTC == nil || sched.AtUTC.IsZero() {
			return time.Time{}, ErrMissingInstant
		}
		return sched.AtUTC.UTC(), nil
	case domain.ScheduleAtUserLocal:
		if sched.Hour < 0 || sched.Hour > 23 || sched.Minute < 0 || sched.Minute > 59 {
			return time.Time{}, ErrInvalidLocalTime
		}
		return NextUTCForLocalTime(now, tzOffsetMinutes, sched.Hour, sched.Minute), nil
	default:
		return time.Time{}, ErrUnknownMode
	}
}

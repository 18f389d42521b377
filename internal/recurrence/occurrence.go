// Package recurrence computes the next occurrence date of a repeating task.
// It is pure calendar math: no clock reads, no I/O. Both the background
// materializer and the read-only preview endpoint go through Next, so the
// schedule a user is shown is the schedule the generator follows.
package recurrence

import "time"

// Recognized recurrence patterns.
const (
	PatternDaily     = "daily"
	PatternWeekdays  = "weekdays"
	PatternWeekly    = "weekly"
	PatternBiweekly  = "biweekly"
	PatternMonthly   = "monthly"
	PatternQuarterly = "quarterly"
	PatternYearly    = "yearly"
)

// Next returns the occurrence following current for the given pattern.
// interval multiplies the step ("every 2 weeks"); values below 1 are treated
// as 1. weekdays and biweekly ignore interval: weekdays always advances to
// the next working day, biweekly is a fixed 14 days. An unrecognized pattern
// returns nil, which callers treat as "stop scheduling".
//
// Yearly recurrence anchored on Feb 29 lands on Mar 1 in non-leap years
// (time.AddDate normalization); accepted limitation.
func Next(current time.Time, pattern string, interval int) *time.Time {
	if interval < 1 {
		interval = 1
	}

	var next time.Time
	switch pattern {
	case PatternDaily:
		next = current.AddDate(0, 0, interval)
	case PatternWeekdays:
		next = current.AddDate(0, 0, 1)
		for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
			next = next.AddDate(0, 0, 1)
		}
	case PatternWeekly:
		next = current.AddDate(0, 0, 7*interval)
	case PatternBiweekly:
		next = current.AddDate(0, 0, 14)
	case PatternMonthly:
		next = addMonthsClamped(current, interval)
	case PatternQuarterly:
		next = addMonthsClamped(current, 3*interval)
	case PatternYearly:
		next = current.AddDate(interval, 0, 0)
	default:
		return nil
	}
	return &next
}

// Valid reports whether pattern is one of the recognized values.
func Valid(pattern string) bool {
	switch pattern {
	case PatternDaily, PatternWeekdays, PatternWeekly, PatternBiweekly,
		PatternMonthly, PatternQuarterly, PatternYearly:
		return true
	}
	return false
}

// addMonthsClamped adds months to t, clamping at month end instead of letting
// the date spill into the following month (Jan 31 + 1 month is the last day
// of February, not Mar 2/3). Overflow is detected by comparing the resulting
// month against the intended one; day 0 of the overflowed month resolves to
// the last day of the month before it.
func addMonthsClamped(t time.Time, months int) time.Time {
	next := t.AddDate(0, months, 0)
	wantMonth := (int(t.Month())-1+months)%12 + 1
	if int(next.Month()) != wantMonth {
		next = time.Date(next.Year(), next.Month(), 0,
			next.Hour(), next.Minute(), next.Second(), next.Nanosecond(), next.Location())
	}
	return next
}

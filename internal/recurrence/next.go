package recurrence

import (
	"sort"
	"time"
)

// maxMonthSteps bounds the search for a month containing BYMONTHDAY.
const maxMonthSteps = 48

// Next returns the first occurrence of r strictly after after, keeping
// after's time of day. ok is false when the rule is exhausted by UNTIL or
// no further occurrence exists.
func Next(r Rule, after time.Time) (next time.Time, ok bool) {
	interval := r.Interval
	if interval < 1 {
		interval = 1
	}

	switch r.Freq {
	case Daily:
		next = after.AddDate(0, 0, interval)
	case Weekly:
		if len(r.ByDay) > 0 {
			next = nextWeeklyByDay(r.ByDay, interval, after)
		} else {
			next = after.AddDate(0, 0, 7*interval)
		}
	case Monthly:
		next, ok = nextMonthly(r.ByMonthDay, interval, after)
		if !ok {
			return time.Time{}, false
		}
	default:
		return time.Time{}, false
	}

	if r.Until != nil && next.After(*r.Until) {
		return time.Time{}, false
	}
	return next, true
}

// Upcoming returns at most n occurrences after from.
func Upcoming(r Rule, from time.Time, n int) []time.Time {
	var out []time.Time
	cur := from
	for len(out) < n {
		next, ok := Next(r, cur)
		if !ok {
			break
		}
		out = append(out, next)
		cur = next
	}
	return out
}

func nextWeeklyByDay(days []time.Weekday, interval int, after time.Time) time.Time {
	offsets := make([]int, 0, len(days))
	for _, d := range days {
		offsets = append(offsets, mondayOffset(d))
	}
	sort.Ints(offsets)

	monday := weekStart(after)
	for _, off := range offsets {
		c := atClock(monday.AddDate(0, 0, off), after)
		if c.After(after) {
			return c
		}
	}
	return atClock(monday.AddDate(0, 0, 7*interval+offsets[0]), after)
}

func nextMonthly(byMonthDay, interval int, after time.Time) (time.Time, bool) {
	day := byMonthDay
	if day == 0 {
		day = after.Day()
	}

	year, month := after.Year(), after.Month()
	if byMonthDay > 0 && day <= daysInMonth(year, month) {
		c := time.Date(year, month, day, after.Hour(), after.Minute(), after.Second(), after.Nanosecond(), after.Location())
		if c.After(after) {
			return c, true
		}
	}

	// Months without the target day are skipped, not clamped.
	for i := 0; i < maxMonthSteps; i++ {
		month += time.Month(interval)
		for month > 12 {
			month -= 12
			year++
		}
		if day <= daysInMonth(year, month) {
			return time.Date(year, month, day, after.Hour(), after.Minute(), after.Second(), after.Nanosecond(), after.Location()), true
		}
	}
	return time.Time{}, false
}

func mondayOffset(d time.Weekday) int {
	off := int(d) - int(time.Monday)
	if off < 0 {
		off += 7
	}
	return off
}

func weekStart(t time.Time) time.Time {
	monday := t.AddDate(0, 0, -mondayOffset(t.Weekday()))
	return time.Date(monday.Year(), monday.Month(), monday.Day(), 0, 0, 0, 0, t.Location())
}

func atClock(day, clock time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), clock.Hour(), clock.Minute(), clock.Second(), clock.Nanosecond(), clock.Location())
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

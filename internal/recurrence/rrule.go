package recurrence

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidRule is wrapped by every Parse error.
var ErrInvalidRule = errors.New("invalid recurrence rule")

type Freq int

const (
	Daily Freq = iota
	Weekly
	Monthly
)

var freqNames = map[Freq]string{
	Daily:   "DAILY",
	Weekly:  "WEEKLY",
	Monthly: "MONTHLY",
}

var freqFromName = map[string]Freq{
	"DAILY":   Daily,
	"WEEKLY":  Weekly,
	"MONTHLY": Monthly,
}

var dayNames = map[string]time.Weekday{
	"SU": time.Sunday,
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
}

var dayAbbrev = map[time.Weekday]string{
	time.Sunday:    "SU",
	time.Monday:    "MO",
	time.Tuesday:   "TU",
	time.Wednesday: "WE",
	time.Thursday:  "TH",
	time.Friday:    "FR",
	time.Saturday:  "SA",
}

// Rule is the supported RRULE subset. The time of day always comes from the
// occurrence the rule is advanced from.
type Rule struct {
	Freq       Freq
	Interval   int            // default 1
	ByDay      []time.Weekday // WEEKLY only; empty = same weekday
	ByMonthDay int            // MONTHLY only; 0 = same day of month
	Until      *time.Time     // nil = no end
}

// Parse parses an RRULE string like "FREQ=WEEKLY;BYDAY=MO,WE;INTERVAL=2".
// Keys are case-insensitive; an optional "RRULE:" prefix is accepted.
func Parse(rule string) (Rule, error) {
	rule = strings.TrimSpace(rule)
	rule = strings.TrimPrefix(strings.ToUpper(rule), "RRULE:")
	if rule == "" {
		return Rule{}, fmt.Errorf("%w: empty rule", ErrInvalidRule)
	}

	r := Rule{Interval: 1}
	var hasFreq bool

	for _, part := range strings.Split(strings.TrimSuffix(rule, ";"), ";") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return Rule{}, fmt.Errorf("%w: bad part %q", ErrInvalidRule, part)
		}
		key, val := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])

		switch key {
		case "FREQ":
			f, ok := freqFromName[val]
			if !ok {
				return Rule{}, fmt.Errorf("%w: unsupported frequency %q", ErrInvalidRule, val)
			}
			r.Freq = f
			hasFreq = true

		case "INTERVAL":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 {
				return Rule{}, fmt.Errorf("%w: interval %q", ErrInvalidRule, val)
			}
			r.Interval = n

		case "BYDAY":
			seen := make(map[time.Weekday]bool)
			for _, d := range strings.Split(val, ",") {
				wd, ok := dayNames[strings.TrimSpace(d)]
				if !ok {
					return Rule{}, fmt.Errorf("%w: unknown day %q", ErrInvalidRule, d)
				}
				if !seen[wd] {
					seen[wd] = true
					r.ByDay = append(r.ByDay, wd)
				}
			}

		case "BYMONTHDAY":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 || n > 31 {
				return Rule{}, fmt.Errorf("%w: BYMONTHDAY %q", ErrInvalidRule, val)
			}
			r.ByMonthDay = n

		case "UNTIL":
			t, err := time.Parse("20060102T150405Z", val)
			if err != nil {
				t, err = time.Parse("20060102", val)
				if err != nil {
					return Rule{}, fmt.Errorf("%w: UNTIL %q", ErrInvalidRule, val)
				}
				// A date-only UNTIL includes that whole day.
				t = t.Add(24*time.Hour - time.Second)
			}
			r.Until = &t

		default:
			return Rule{}, fmt.Errorf("%w: unsupported key %q", ErrInvalidRule, key)
		}
	}

	if !hasFreq {
		return Rule{}, fmt.Errorf("%w: FREQ is required", ErrInvalidRule)
	}
	if len(r.ByDay) > 0 && r.Freq != Weekly {
		return Rule{}, fmt.Errorf("%w: BYDAY requires FREQ=WEEKLY", ErrInvalidRule)
	}
	if r.ByMonthDay > 0 && r.Freq != Monthly {
		return Rule{}, fmt.Errorf("%w: BYMONTHDAY requires FREQ=MONTHLY", ErrInvalidRule)
	}

	return r, nil
}

// String serializes the rule back to an RRULE string.
func (r Rule) String() string {
	parts := []string{"FREQ=" + freqNames[r.Freq]}

	if r.Interval > 1 {
		parts = append(parts, fmt.Sprintf("INTERVAL=%d", r.Interval))
	}

	if len(r.ByDay) > 0 {
		var days []string
		for _, d := range r.ByDay {
			days = append(days, dayAbbrev[d])
		}
		parts = append(parts, "BYDAY="+strings.Join(days, ","))
	}

	if r.ByMonthDay > 0 {
		parts = append(parts, fmt.Sprintf("BYMONTHDAY=%d", r.ByMonthDay))
	}

	if r.Until != nil {
		parts = append(parts, "UNTIL="+r.Until.UTC().Format("20060102T150405Z"))
	}

	return strings.Join(parts, ";")
}

var dayNamesES = [...]string{"dom", "lun", "mar", "mié", "jue", "vie", "sáb"}

// Describe renders the rule in Spanish for schedule listings, e.g.
// "Cada semana: lun, mié" or "Cada 3 días hasta 01/03/2026".
func (r Rule) Describe() string {
	var b strings.Builder
	switch r.Freq {
	case Daily:
		b.WriteString(every(r.Interval, "Cada día", "días"))
	case Weekly:
		b.WriteString(every(r.Interval, "Cada semana", "semanas"))
		if len(r.ByDay) > 0 {
			names := make([]string, len(r.ByDay))
			for i, d := range r.ByDay {
				names[i] = dayNamesES[d]
			}
			b.WriteString(": " + strings.Join(names, ", "))
		}
	case Monthly:
		b.WriteString(every(r.Interval, "Cada mes", "meses"))
		if r.ByMonthDay > 0 {
			fmt.Fprintf(&b, ", el día %d", r.ByMonthDay)
		}
	}
	if r.Until != nil {
		b.WriteString(" hasta " + r.Until.UTC().Format("02/01/2006"))
	}
	return b.String()
}

func every(interval int, single, plural string) string {
	if interval > 1 {
		return fmt.Sprintf("Cada %d %s", interval, plural)
	}
	return single
}

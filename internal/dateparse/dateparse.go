// Package dateparse turns the human date filters accepted by the CLI into
// the instant a listing should start from.
package dateparse

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseSince parses a lower bound relative to the current time.
func ParseSince(input string) (time.Time, error) {
	return ParseSinceFrom(input, time.Now())
}

// ParseSinceFrom parses a lower bound relative to now. Calendar forms resolve
// to local midnight of the matching day.
//
// Supported formats:
//   - Exact dates: "2026-03-01"
//   - Timestamps: "2026-03-01T09:30:00Z"
//   - Keywords: "today", "yesterday", "this-week", "this-month"
//   - Relative days, weeks and months back: "7d", "-2w", "1m"
//   - Durations back from now: "2h", "90min" ("m" alone means months)
//   - Day names: "monday", "friday" (most recent occurrence, today included)
func ParseSinceFrom(input string, now time.Time) (time.Time, error) {
	input = strings.TrimSpace(strings.ToLower(input))
	if input == "" {
		return time.Time{}, fmt.Errorf("empty date input")
	}
	loc := now.Location()

	if t, err := time.ParseInLocation("2006-01-02", input, loc); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, strings.ToUpper(input)); err == nil {
		return t, nil
	}

	today := midnight(now)
	switch input {
	case "today":
		return today, nil
	case "yesterday":
		return today.AddDate(0, 0, -1), nil
	case "this-week":
		back := (int(now.Weekday()) - int(time.Monday) + 7) % 7
		return today.AddDate(0, 0, -back), nil
	case "this-month":
		year, month, _ := now.Date()
		return time.Date(year, month, 1, 0, 0, 0, 0, loc), nil
	}

	if strings.HasSuffix(input, "min") || strings.HasSuffix(input, "h") {
		d, err := time.ParseDuration(strings.TrimPrefix(strings.Replace(input, "min", "m", 1), "-"))
		if err != nil || d < 0 {
			return time.Time{}, fmt.Errorf("invalid duration %q", input)
		}
		return now.Add(-d), nil
	}

	if rel := strings.TrimPrefix(input, "-"); len(rel) >= 2 {
		suffix := rel[len(rel)-1]
		if n, err := strconv.Atoi(rel[:len(rel)-1]); err == nil {
			if n < 0 {
				return time.Time{}, fmt.Errorf("negative offset in %q", input)
			}
			switch suffix {
			case 'd':
				return today.AddDate(0, 0, -n), nil
			case 'w':
				return today.AddDate(0, 0, -7*n), nil
			case 'm':
				return today.AddDate(0, -n, 0), nil
			default:
				return time.Time{}, fmt.Errorf("unknown relative unit %q in %q (use d, w, or m)", string(suffix), input)
			}
		}
	}

	if target, ok := weekdays[input]; ok {
		back := (int(now.Weekday()) - int(target) + 7) % 7
		return today.AddDate(0, 0, -back), nil
	}

	return time.Time{}, fmt.Errorf("unrecognized date format: %q", input)
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func midnight(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}

package rrule

import (
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// Month-day selectors for MonthDay.
const (
	FirstDay = 1
	LastDay  = -1
)

// ParseRRule parses an RFC 5545 RRULE string anchored at dtstart.
// Occurrences are produced in dtstart's location.
func ParseRRule(ruleStr string, dtstart time.Time) (*rrule.RRule, error) {
	ruleStr = strings.TrimPrefix(ruleStr, "RRULE:")

	opt, err := rrule.StrToROption(ruleStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse RRULE: %w", err)
	}
	opt.Dtstart = dtstart
	return rrule.NewRRule(*opt)
}

// NextOccurrence returns the first occurrence at or after the given time.
// Returns nil if there are no more occurrences.
func NextOccurrence(ruleStr string, dtstart time.Time, after time.Time) (*time.Time, error) {
	rule, err := ParseRRule(ruleStr, dtstart)
	if err != nil {
		return nil, err
	}

	next := rule.After(after, true)
	if next.IsZero() {
		return nil, nil
	}
	return &next, nil
}

// MonthlyByDay renders FREQ=MONTHLY;BYMONTHDAY=<day>.
func MonthlyByDay(day int) string {
	return fmt.Sprintf("FREQ=MONTHLY;BYMONTHDAY=%d", day)
}

// MonthDay returns the given day (1 = first, -1 = last) of the month that
// contains month, at hour:minute in month's location.
func MonthDay(month time.Time, day, hour, minute int) (time.Time, error) {
	y, m, _ := month.Date()
	start := time.Date(y, m, 1, hour, minute, 0, 0, month.Location())
	next, err := NextOccurrence(MonthlyByDay(day), start, start)
	if err != nil {
		return time.Time{}, err
	}
	if next == nil {
		return time.Time{}, fmt.Errorf("no occurrence for day %d in %s", day, start.Format("2006-01"))
	}
	return next.In(month.Location()), nil
}

package models

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Frequency is the generic recurrence interval of a reminder.
type Frequency string

const (
	FrequencyNone    Frequency = ""
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	// FrequencySeconds fires every few seconds. Diagnostic only.
	FrequencySeconds Frequency = "seconds"
)

// DateModifier pins a monthly reminder to a specific day of the month.
type DateModifier string

const (
	DateModifierNone         DateModifier = ""
	DateModifierFirstOfMonth DateModifier = "first-of-month"
	DateModifierLastOfMonth  DateModifier = "last-of-month"
)

type DelayUnit string

const (
	DelaySecond DelayUnit = "second"
	DelayMinute DelayUnit = "minute"
	DelayHour   DelayUnit = "hour"
	DelayDay    DelayUnit = "day"
	DelayMonth  DelayUnit = "month"
)

// Delay is a relative offset such as "in 10 minutes". It only seeds the
// first fire time of a reminder.
type Delay struct {
	Amount int
	Unit   DelayUnit
}

func (d Delay) String() string {
	unit := string(d.Unit)
	if d.Amount != 1 {
		unit += "s"
	}
	return fmt.Sprintf("in %d %s", d.Amount, unit)
}

// delayLimits caps every unit at about a century, which keeps the shifted
// time inside the range of time.Duration.
var delayLimits = map[DelayUnit]int64{
	DelaySecond: 100 * 366 * 24 * 60 * 60,
	DelayMinute: 100 * 366 * 24 * 60,
	DelayHour:   100 * 366 * 24,
	DelayDay:    100 * 366,
	DelayMonth:  100 * 12,
}

// Valid reports whether the unit is known and the amount is within its limit.
func (d Delay) Valid() bool {
	limit, ok := delayLimits[d.Unit]
	return ok && d.Amount >= 0 && int64(d.Amount) <= limit
}

// Apply returns t shifted forward by the delay. Months are calendar months
// with the day clamped to the end of the target month. The delay must be
// Valid.
func (d Delay) Apply(t time.Time) time.Time {
	switch d.Unit {
	case DelaySecond:
		return t.Add(time.Duration(d.Amount) * time.Second)
	case DelayMinute:
		return t.Add(time.Duration(d.Amount) * time.Minute)
	case DelayHour:
		return t.Add(time.Duration(d.Amount) * time.Hour)
	case DelayDay:
		return t.AddDate(0, 0, d.Amount)
	case DelayMonth:
		return AddMonths(t, d.Amount)
	}
	return t
}

var delayRe = regexp.MustCompile(`^in\s+(\d+)\s+(second|minute|hour|day|month)s?$`)

// ParseDelay reads the normalized form produced by Delay.String.
func ParseDelay(s string) (*Delay, error) {
	m := delayRe.FindStringSubmatch(strings.ToLower(strings.TrimSpace(s)))
	if m == nil {
		return nil, fmt.Errorf("invalid delay %q", s)
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil, fmt.Errorf("invalid delay amount %q: %w", m[1], err)
	}
	d := &Delay{Amount: n, Unit: DelayUnit(m[2])}
	if !d.Valid() {
		return nil, fmt.Errorf("delay %q out of range", s)
	}
	return d, nil
}

// AddMonths adds n calendar months to t, keeping the wall clock and clamping
// the day to the last day of the resulting month (Jan 31 + 1 = Feb 28/29).
func AddMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, t.Location())
	if last := DaysIn(first.Year(), first.Month(), t.Location()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func DaysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

type Reminder struct {
	ID            int64
	Task          string
	Frequency     Frequency
	DateModifier  DateModifier
	Delay         *Delay
	NextExecution *time.Time // Next scheduled fire time
	OwnerUserID   int64
	ChatID        int64
	MentionMarkup string // MarkdownV2 mention of the owner, used for one-time group reminders
}

// IsRecurring reports whether the reminder survives its next fire. A date
// modifier always implies a monthly cadence.
func (r *Reminder) IsRecurring() bool {
	return r.Frequency != FrequencyNone || r.DateModifier != DateModifierNone
}

// IsGroupChat reports whether the reminder lives in a group or supergroup.
// Telegram uses negative ids for those.
func (r *Reminder) IsGroupChat() bool {
	return r.ChatID < 0
}

// Kind is the short label shown in listings.
func (r *Reminder) Kind() string {
	if r.Frequency == FrequencyNone {
		return "one-time"
	}
	return string(r.Frequency)
}

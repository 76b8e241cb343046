// Package recurrence computes reminder fire times.
//
// Next implements the per-fire recurrence rules, Initial the fire time of a
// freshly created or edited reminder, and Advance pushes a due reminder
// strictly past "now" after it fired.
package recurrence

import (
	"time"

	"github.com/hray3182/remindbot/internal/models"
	"github.com/hray3182/remindbot/internal/parser"
	"github.com/hray3182/remindbot/internal/rrule"
)

const (
	defaultHour   = 9
	defaultMinute = 0

	// SecondsInterval is the cadence of FrequencySeconds reminders.
	SecondsInterval = 5 * time.Second
	// OneTimeFloor is how far ahead a one-time reminder is pushed when its
	// requested time is already in the past.
	OneTimeFloor = 5 * time.Minute

	maxAdvanceSteps = 10000
)

// State is the part of a reminder that drives recurrence.
type State struct {
	Frequency     models.Frequency
	DateModifier  models.DateModifier
	NextExecution *time.Time
}

func StateOf(r *models.Reminder) State {
	return State{Frequency: r.Frequency, DateModifier: r.DateModifier, NextExecution: r.NextExecution}
}

// Next returns the next fire time for state at now. A nil result means the
// state carries no schedule at all (one-time reminder that was never set).
func Next(state State, now time.Time) *time.Time {
	prev := state.NextExecution
	if prev != nil {
		p := prev.In(now.Location())
		prev = &p
	}

	switch state.DateModifier {
	case models.DateModifierFirstOfMonth:
		t := firstOfMonth(prev, now)
		return &t
	case models.DateModifierLastOfMonth:
		t := lastOfMonth(prev, now)
		return &t
	}

	switch state.Frequency {
	case models.FrequencyDaily, models.FrequencyWeekly, models.FrequencyMonthly:
		if prev == nil {
			t := step(state.Frequency, now)
			return &t
		}
		if !prev.After(now) {
			t := step(state.Frequency, *prev)
			return &t
		}
		return prev
	case models.FrequencySeconds:
		t := now.Add(SecondsInterval)
		return &t
	}
	return prev
}

// Advance applies Next until the result lies strictly after now. Cadence stays
// aligned to the previous fire time, so missed ticks are skipped rather than
// replayed. One-time states are returned unchanged.
func Advance(state State, now time.Time) *time.Time {
	next := Next(state, now)
	if next == nil || (state.Frequency == models.FrequencyNone && state.DateModifier == models.DateModifierNone) {
		return next
	}
	for i := 0; i < maxAdvanceSteps && !next.After(now); i++ {
		state.NextExecution = next
		next = Next(state, now)
	}
	if !next.After(now) {
		t := step(state.Frequency, now)
		return &t
	}
	return next
}

// Initial computes the first fire time for a parsed intent.
func Initial(intent parser.Intent, now time.Time) time.Time {
	if intent.DateModifier != models.DateModifierNone || intent.Frequency == models.FrequencySeconds {
		return *Next(State{Frequency: intent.Frequency, DateModifier: intent.DateModifier}, now)
	}

	if intent.Frequency != models.FrequencyNone {
		if seed, ok := seeded(intent, now); ok {
			return seed
		}
		return *Next(State{Frequency: intent.Frequency}, now)
	}

	target, ok := seeded(intent, now)
	if !ok {
		target = nextClock(now, defaultHour, defaultMinute)
	}
	if !target.After(now) {
		target = now.Add(OneTimeFloor)
	}
	return target
}

// seeded derives a fire time from an explicit delay or time of day.
func seeded(intent parser.Intent, now time.Time) (time.Time, bool) {
	if intent.Delay != nil {
		return intent.Delay.Apply(now), true
	}
	if intent.TimeOfDay != nil {
		return nextClock(now, intent.TimeOfDay.Hour, intent.TimeOfDay.Minute), true
	}
	return time.Time{}, false
}

// nextClock returns the next occurrence of hour:minute strictly after now,
// rolling over to tomorrow if today's has passed.
func nextClock(now time.Time, hour, minute int) time.Time {
	t := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !t.After(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

func step(freq models.Frequency, from time.Time) time.Time {
	switch freq {
	case models.FrequencyDaily:
		return from.AddDate(0, 0, 1)
	case models.FrequencyWeekly:
		return from.AddDate(0, 0, 7)
	case models.FrequencyMonthly:
		return models.AddMonths(from, 1)
	case models.FrequencySeconds:
		return from.Add(SecondsInterval)
	}
	return from
}

func clockOf(prev *time.Time) (int, int) {
	if prev == nil {
		return defaultHour, defaultMinute
	}
	return prev.Hour(), prev.Minute()
}

// firstOfMonth is the 1st of the month after now, at the previous fire's
// clock time or 09:00.
func firstOfMonth(prev *time.Time, now time.Time) time.Time {
	hour, minute := clockOf(prev)
	month := time.Date(now.Year(), now.Month()+1, 1, 0, 0, 0, 0, now.Location())
	return monthDay(month, rrule.FirstDay, hour, minute)
}

// lastOfMonth is the last day of the month after now. When the previous fire
// fell in now's month the target moves one more month out.
//
// TODO: the extra month looks tailored to a single scenario; confirm with
// product before changing it.
func lastOfMonth(prev *time.Time, now time.Time) time.Time {
	hour, minute := clockOf(prev)
	offset := time.Month(1)
	if prev != nil && prev.Year() == now.Year() && prev.Month() == now.Month() {
		offset = 2
	}
	month := time.Date(now.Year(), now.Month()+offset, 1, 0, 0, 0, 0, now.Location())
	return monthDay(month, rrule.LastDay, hour, minute)
}

func monthDay(month time.Time, day, hour, minute int) time.Time {
	t, err := rrule.MonthDay(month, day, hour, minute)
	if err == nil {
		return t
	}
	// The rule is static, so this only triggers on a library regression.
	d := 1
	if day < 0 {
		d = models.DaysIn(month.Year(), month.Month(), month.Location())
	}
	return time.Date(month.Year(), month.Month(), d, hour, minute, 0, 0, month.Location())
}

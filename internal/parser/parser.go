// Package parser turns the free text of a reminder command into a structured
// intent. It recognises a fixed vocabulary of explicit phrases, not arbitrary
// natural language, and never fails: unrecognised input becomes a task with
// no timing information.
package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/hray3182/remindbot/internal/models"
)

// TimeOfDay is an explicit wall-clock time taken from "at HH:MM".
type TimeOfDay struct {
	Hour   int
	Minute int
}

// Intent is the parsed form of a reminder command.
type Intent struct {
	Task         string
	Frequency    models.Frequency
	DateModifier models.DateModifier
	Delay        *models.Delay
	TimeOfDay    *TimeOfDay
}

var (
	firstOfMonthRe = regexp.MustCompile(`(?i)\b(?:on\s+)?(?:the\s+)?(?:first|1st|1th)(?:\s+day)?\s+of\s+(?:(?:every|each|the)\s+)?month\b`)
	lastOfMonthRe  = regexp.MustCompile(`(?i)\b(?:on\s+)?(?:the\s+)?last(?:\s+day)?\s+of\s+(?:(?:every|each|the)\s+)?month\b`)

	frequencyPatterns = []struct {
		re   *regexp.Regexp
		freq models.Frequency
	}{
		{regexp.MustCompile(`(?i)\bevery\s+day\b|\bdaily\b|\beveryday\b`), models.FrequencyDaily},
		{regexp.MustCompile(`(?i)\bevery\s+week\b|\bweekly\b`), models.FrequencyWeekly},
		{regexp.MustCompile(`(?i)\bevery\s+month\b|\bmonthly\b`), models.FrequencyMonthly},
		{regexp.MustCompile(`(?i)\bevery\s+second\b`), models.FrequencySeconds},
	}

	delayRe = regexp.MustCompile(`(?i)\bin\s+(\d+)\s*(seconds?|secs?|s|minutes?|mins?|m|hours?|hrs?|h|days?|months?)\b`)
	timeRe  = regexp.MustCompile(`(?i)\bat\s+(\d{1,2}):(\d{2})\b`)
)

var delayUnits = map[string]models.DelayUnit{
	"s": models.DelaySecond, "sec": models.DelaySecond, "secs": models.DelaySecond,
	"second": models.DelaySecond, "seconds": models.DelaySecond,
	"m": models.DelayMinute, "min": models.DelayMinute, "mins": models.DelayMinute,
	"minute": models.DelayMinute, "minutes": models.DelayMinute,
	"h": models.DelayHour, "hr": models.DelayHour, "hrs": models.DelayHour,
	"hour": models.DelayHour, "hours": models.DelayHour,
	"day": models.DelayDay, "days": models.DelayDay,
	"month": models.DelayMonth, "months": models.DelayMonth,
}

// Parse extracts task, recurrence and timing from text.
//
// Date-modifier phrases are checked first and are terminal: the phrase and
// everything after it are dropped from the task and nothing else is captured,
// so "pay rent on the first day of every month at 10:00" carries no explicit
// time of day.
func Parse(text string) Intent {
	text = strings.TrimSpace(text)
	intent := Intent{Task: text}

	for _, mod := range []struct {
		re  *regexp.Regexp
		mod models.DateModifier
	}{
		{firstOfMonthRe, models.DateModifierFirstOfMonth},
		{lastOfMonthRe, models.DateModifierLastOfMonth},
	} {
		if loc := mod.re.FindStringIndex(text); loc != nil {
			intent.DateModifier = mod.mod
			intent.Frequency = models.FrequencyMonthly
			intent.Task = taskBefore(text, loc[0])
			return intent
		}
	}

	cut := -1
	mark := func(pos int) {
		if cut < 0 || pos < cut {
			cut = pos
		}
	}

	for _, p := range frequencyPatterns {
		if loc := p.re.FindStringIndex(text); loc != nil {
			intent.Frequency = p.freq
			mark(loc[0])
			break
		}
	}

	if m := delayRe.FindStringSubmatchIndex(text); m != nil {
		amount, err := strconv.Atoi(text[m[2]:m[3]])
		unit, ok := delayUnits[strings.ToLower(text[m[4]:m[5]])]
		if delay := (models.Delay{Amount: amount, Unit: unit}); err == nil && ok && delay.Valid() {
			intent.Delay = &delay
			mark(m[0])
		}
	}

	if m := timeRe.FindStringSubmatchIndex(text); m != nil {
		hour, _ := strconv.Atoi(text[m[2]:m[3]])
		minute, _ := strconv.Atoi(text[m[4]:m[5]])
		if hour < 24 && minute < 60 {
			intent.TimeOfDay = &TimeOfDay{Hour: hour, Minute: minute}
			mark(m[0])
		}
	}

	if cut >= 0 {
		intent.Task = taskBefore(text, cut)
	}
	return intent
}

// taskBefore returns the trimmed prefix of text ending at pos. An empty prefix
// falls back to the whole text so a reminder always has something to say.
func taskBefore(text string, pos int) string {
	if task := strings.TrimSpace(text[:pos]); task != "" {
		return task
	}
	return text
}

package recurrence

import (
	"errors"
	"time"
)

// maxIterations bounds one expansion. Windows are normally a few weeks, so a
// well-formed rule never comes close; the cap only matters for degenerate
// input and guarantees expansion terminates.
const maxIterations = 1000

// ErrIterationLimit reports that expansion stopped at the iteration cap. The
// dates collected up to that point are still returned and are valid.
var ErrIterationLimit = errors.New("recurrence: iteration limit reached")

// Expand returns the rule's occurrences within [windowStart, windowEnd], both
// inclusive, ordered ascending. patternEnd (optional) and rule.Until further
// cap the end. The cursor is anchored at patternStart so that INTERVAL>1
// rules keep their phase as the window slides forward day by day; candidates
// before the window are evaluated but not emitted.
//
// When the iteration cap is hit the partial result is returned together with
// ErrIterationLimit.
func Expand(rule Rule, patternStart time.Time, patternEnd *time.Time, windowStart, windowEnd time.Time) ([]time.Time, error) {
	start := Day(patternStart)
	end := Day(windowEnd)
	if patternEnd != nil && Day(*patternEnd).Before(end) {
		end = Day(*patternEnd)
	}
	if rule.Until != nil && rule.Until.Before(end) {
		end = *rule.Until
	}

	// First date eligible for emission.
	lower := Day(windowStart)
	if start.After(lower) {
		lower = start
	}
	if end.Before(lower) {
		return nil, nil
	}

	// The day-of-month anchor survives clamping: a rule anchored on the 31st
	// lands on Feb 28/29 and returns to the 31st in March.
	anchorDay := start.Day()

	cursor := start
	if stride := strideDays(rule); stride > 0 && cursor.Before(lower) {
		cursor = fastForward(cursor, lower, stride)
	}
	if rule.Freq == FreqWeekly && len(rule.ByDay) > 0 {
		// Step is one day, so phase is irrelevant; evaluate every day of the
		// window individually.
		cursor = lower
	}

	var dates []time.Time
	for iter := 0; !cursor.After(end); iter++ {
		if iter >= maxIterations {
			return dates, ErrIterationLimit
		}
		if !cursor.Before(lower) && matches(rule, cursor) {
			dates = append(dates, cursor)
			if rule.Count > 0 && len(dates) >= rule.Count {
				break
			}
		}
		cursor = advance(rule, cursor, anchorDay)
	}

	return dates, nil
}

// strideDays returns the fixed day stride for frequencies that have one, or 0
// for calendar-based advancement.
func strideDays(rule Rule) int {
	switch rule.Freq {
	case FreqDaily:
		return rule.Interval
	case FreqWeekly:
		if len(rule.ByDay) > 0 {
			return 0
		}
		return 7 * rule.Interval
	}
	return 0
}

// fastForward moves the cursor to the first in-phase date >= lower without
// burning iterations on dates far in the past.
func fastForward(cursor, lower time.Time, stride int) time.Time {
	gap := int(lower.Sub(cursor).Hours() / 24)
	steps := gap / stride
	if gap%stride != 0 {
		steps++
	}
	return cursor.AddDate(0, 0, steps*stride)
}

func matches(rule Rule, t time.Time) bool {
	if len(rule.ByDay) > 0 {
		found := false
		for _, wd := range rule.ByDay {
			if t.Weekday() == wd {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if rule.ByMonthDay > 0 && t.Day() != rule.ByMonthDay {
		return false
	}
	return true
}

func advance(rule Rule, cursor time.Time, anchorDay int) time.Time {
	switch rule.Freq {
	case FreqWeekly:
		if len(rule.ByDay) > 0 {
			return cursor.AddDate(0, 0, 1)
		}
		return cursor.AddDate(0, 0, 7*rule.Interval)
	case FreqMonthly:
		// Reset to the first of the month before stepping: plain day
		// arithmetic would overflow Jan 31 into March instead of Feb 28.
		first := time.Date(cursor.Year(), cursor.Month(), 1, 0, 0, 0, 0, time.UTC)
		next := first.AddDate(0, rule.Interval, 0)
		return time.Date(next.Year(), next.Month(), clampDay(anchorDay, next.Year(), next.Month()), 0, 0, 0, 0, time.UTC)
	case FreqYearly:
		year := cursor.Year() + rule.Interval
		return time.Date(year, cursor.Month(), clampDay(anchorDay, year, cursor.Month()), 0, 0, 0, 0, time.UTC)
	default:
		return cursor.AddDate(0, 0, rule.Interval)
	}
}

func clampDay(day int, year int, month time.Month) int {
	if last := daysIn(year, month); day > last {
		return last
	}
	return day
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, -1).Day()
}

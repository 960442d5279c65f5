// Package recurrence parses recurrence rule strings and expands them into
// concrete dates inside a generation window.
package recurrence

import (
	"strconv"
	"strings"
	"time"
)

// Frequencies supported by Parse.
const (
	FreqDaily   = "DAILY"
	FreqWeekly  = "WEEKLY"
	FreqMonthly = "MONTHLY"
	FreqYearly  = "YEARLY"
)

// Rule is the parsed form of a recurrence rule string.
type Rule struct {
	Freq       string
	Interval   int            // step between occurrences, >= 1
	ByDay      []time.Weekday // weekday filter, empty means no filter
	ByMonthDay int            // day-of-month filter, 0 means unset
	Count      int            // max occurrences emitted per expansion, 0 means unset
	Until      *time.Time     // last eligible date, nil means unset
}

var weekdayCodes = map[string]time.Weekday{
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
	"SU": time.Sunday,
}

// Parse reads a rule string of the form "FREQ=WEEKLY;INTERVAL=2;BYDAY=MO,WE",
// with an optional leading "RRULE:" prefix. Rules are stored as free text, so
// Parse never fails: unknown keys are ignored and malformed values fall back
// to their defaults (FREQ=DAILY, INTERVAL=1, everything else unset).
func Parse(raw string) Rule {
	rule := Rule{Freq: FreqDaily, Interval: 1}

	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "RRULE:")

	for _, part := range strings.Split(raw, ";") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.ToUpper(strings.TrimSpace(kv[0]))
		value := strings.TrimSpace(kv[1])

		switch key {
		case "FREQ":
			switch strings.ToUpper(value) {
			case FreqDaily, FreqWeekly, FreqMonthly, FreqYearly:
				rule.Freq = strings.ToUpper(value)
			}
		case "INTERVAL":
			if n, err := strconv.Atoi(value); err == nil && n > 0 {
				rule.Interval = n
			}
		case "BYDAY":
			rule.ByDay = parseByDay(value)
		case "BYMONTHDAY":
			if n, err := strconv.Atoi(value); err == nil && n >= 1 && n <= 31 {
				rule.ByMonthDay = n
			}
		case "COUNT":
			if n, err := strconv.Atoi(value); err == nil && n > 0 {
				rule.Count = n
			}
		case "UNTIL":
			if t, err := time.Parse("20060102", value); err == nil {
				t = Day(t)
				rule.Until = &t
			}
		}
	}

	return rule
}

func parseByDay(value string) []time.Weekday {
	var days []time.Weekday
	for _, code := range strings.Split(value, ",") {
		wd, ok := weekdayCodes[strings.ToUpper(strings.TrimSpace(code))]
		if !ok {
			continue
		}
		days = append(days, wd)
	}
	return days
}

// Day truncates t to midnight UTC. All expansion arithmetic works on these
// normalized dates.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ISO formats a date as YYYY-MM-DD, the form used for document keys and
// exception lookups.
func ISO(t time.Time) string {
	return t.Format("2006-01-02")
}

package materialize

import "time"

// DefaultHolidays returns the fixed holiday calendar applied when a
// deployment does not configure its own. Entries are month-day keys, MM-DD,
// so they recur every year.
func DefaultHolidays() []string {
	return []string{
		"01-01", // New Year's Day
		"05-01", // Labour Day
		"12-24", // Christmas Eve
		"12-25", // Christmas Day
		"12-26", // Boxing Day
		"12-31", // New Year's Eve
	}
}

// holidayShift reports whether a date counts as a holiday shift: weekends
// and the fixed holiday calendar.
func (m *Materializer) holidayShift(date time.Time) bool {
	if wd := date.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return true
	}
	return m.holidays[date.Format("01-02")]
}

package util

import "time"

// IsLeapYear reports whether year is a leap year.
func IsLeapYear(year int) bool {
	if year%400 == 0 {
		return true
	}
	if year%100 == 0 {
		return false
	}
	return year%4 == 0
}

// DaysInMonth returns the number of days for a given month in a year.
func DaysInMonth(year int, month int) int {
	switch month {
	case 2:
		if IsLeapYear(year) {
			return 29
		}
		return 28
	case 4, 6, 9, 11:
		return 30
	default:
		return 31
	}
}

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// MonthEnd returns midnight of the last day of t's month.
func MonthEnd(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, DaysInMonth(y, int(m)), 0, 0, 0, 0, t.Location())
}

// LastWeekday returns midnight of the most recent day (today included)
// that falls on wd.
func LastWeekday(t time.Time, wd time.Weekday) time.Time {
	day := StartOfDay(t)
	back := (int(day.Weekday()) - int(wd) + 7) % 7
	return day.AddDate(0, 0, -back)
}

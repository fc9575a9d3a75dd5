package aggregate

import "time"

// WeekBounds returns the Monday and Sunday of t's ISO week as UTC dates.
func WeekBounds(t time.Time) (start, end time.Time) {
	weekday := int(t.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	start = time.Date(t.Year(), t.Month(), t.Day()-(weekday-1), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 6)
}

// MonthBounds returns the first and last day of t's month as UTC dates.
func MonthBounds(t time.Time) (start, end time.Time) {
	start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, -1)
}

// PreviousWeek returns a day inside the week before now's week.
func PreviousWeek(now time.Time) time.Time {
	start, _ := WeekBounds(now)
	return start.AddDate(0, 0, -7)
}

// PreviousMonth returns the first day of the month before now's month.
func PreviousMonth(now time.Time) time.Time {
	start, _ := MonthBounds(now)
	return start.AddDate(0, -1, 0)
}

// weeksBetween returns the Monday of every week touching [from, to].
func weeksBetween(from, to time.Time) []time.Time {
	var out []time.Time
	start, _ := WeekBounds(from)
	last, _ := WeekBounds(to)
	for d := start; !d.After(last); d = d.AddDate(0, 0, 7) {
		out = append(out, d)
	}
	return out
}

// monthsBetween returns the first of every month touching [from, to].
func monthsBetween(from, to time.Time) []time.Time {
	var out []time.Time
	start, _ := MonthBounds(from)
	last, _ := MonthBounds(to)
	for d := start; !d.After(last); d = d.AddDate(0, 1, 0) {
		out = append(out, d)
	}
	return out
}

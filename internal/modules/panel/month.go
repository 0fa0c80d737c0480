package panel

import "time"

// MonthStart truncates t to the first day of its calendar month in UTC.
func MonthStart(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, time.UTC)
}

// MonthIndex numbers calendar months consecutively (year*12 + month-1).
func MonthIndex(t time.Time) int {
	y, m, _ := t.Date()
	return y*12 + int(m) - 1
}

// MonthsBetween returns the number of calendar months from a to b.
func MonthsBetween(a, b time.Time) int {
	return MonthIndex(b) - MonthIndex(a)
}

// MonthRange lists every month start from the month of from to the month of to, inclusive.
func MonthRange(from, to time.Time) []time.Time {
	start := MonthStart(from)
	n := MonthsBetween(from, to)
	if n < 0 {
		return nil
	}
	out := make([]time.Time, 0, n+1)
	for i := 0; i <= n; i++ {
		out = append(out, start.AddDate(0, i, 0))
	}
	return out
}

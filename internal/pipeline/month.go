package pipeline

import "time"

// lookbackDays is how far into a month runs still target the previous one.
const lookbackDays = 7

// TargetMonth picks the month a run reports on. Explicit values win; a
// missing one is filled from now. With neither given, the first week of a
// month targets the previous month and later days the current one.
func TargetMonth(now time.Time, year, month int) (int, int) {
	switch {
	case year > 0 && month > 0:
		return year, month
	case year > 0:
		return year, int(now.Month())
	case month > 0:
		return now.Year(), month
	}
	if now.Day() <= lookbackDays {
		prev := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location()).AddDate(0, -1, 0)
		return prev.Year(), int(prev.Month())
	}
	return now.Year(), int(now.Month())
}

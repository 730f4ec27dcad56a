package core

import "time"

// DayOf truncates a timestamp to its UTC calendar date.
func DayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// StartOfDay is the midnight boundary used for "has the user already
// checked in today" queries.
func StartOfDay(t time.Time) time.Time { return DayOf(t) }

// StreakLength measures the most recent unbroken run of distinct
// calendar dates. days must be distinct dates sorted descending; a date
// at rank i (0-based) belongs to the run iff it equals the most recent
// date minus i days. The run is not anchored to today: a user idle for
// a week still reports the length of that now-stale run.
func StreakLength(days []time.Time) int {
	if len(days) == 0 {
		return 0
	}
	head := DayOf(days[0])
	streak := 0
	for i, d := range days {
		if !DayOf(d).Equal(head.AddDate(0, 0, -i)) {
			break
		}
		streak++
	}
	return streak
}

package core

import (
	"testing"
	"time"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestStreakLength(t *testing.T) {
	if got := StreakLength(nil); got != 0 {
		t.Fatalf("empty streak = %d", got)
	}

	// three consecutive days, most recent first
	days := []time.Time{
		day(2024, 3, 10),
		day(2024, 3, 9),
		day(2024, 3, 8),
	}
	if got := StreakLength(days); got != 3 {
		t.Fatalf("consecutive run = %d, want 3", got)
	}

	// a gap ends the run
	days = []time.Time{
		day(2024, 3, 10),
		day(2024, 3, 9),
		day(2024, 3, 6),
		day(2024, 3, 5),
	}
	if got := StreakLength(days); got != 2 {
		t.Fatalf("run with gap = %d, want 2", got)
	}

	// the run is not anchored to today; a stale run keeps its length
	days = []time.Time{
		day(2020, 1, 3),
		day(2020, 1, 2),
		day(2020, 1, 1),
	}
	if got := StreakLength(days); got != 3 {
		t.Fatalf("stale run = %d, want 3", got)
	}
}

func TestDayOf(t *testing.T) {
	ts := time.Date(2024, 6, 15, 23, 45, 12, 0, time.FixedZone("UTC+5", 5*3600))
	got := DayOf(ts)
	// 23:45 UTC+5 is 18:45 UTC on the same date
	if !got.Equal(day(2024, 6, 15)) {
		t.Fatalf("DayOf = %v", got)
	}
	if !StartOfDay(ts).Equal(got) {
		t.Fatalf("StartOfDay disagrees with DayOf")
	}
}

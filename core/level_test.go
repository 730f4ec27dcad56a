package core

import "testing"

func TestLevelForExperience(t *testing.T) {
	cases := []struct {
		exp  int64
		want int64
	}{
		{-5, 1},
		{0, 1},
		{99, 1},
		{100, 2},
		{399, 2},
		{400, 3},
		{500, 3},
		{10000, 11},
	}
	for _, c := range cases {
		if got := LevelForExperience(c.exp); got != c.want {
			t.Fatalf("LevelForExperience(%d) = %d, want %d", c.exp, got, c.want)
		}
	}
}

func TestExperienceForLevelInverse(t *testing.T) {
	// the floor for each level maps back to exactly that level
	for level := int64(1); level <= 50; level++ {
		floor := ExperienceForLevel(level)
		if got := LevelForExperience(floor); got != level {
			t.Fatalf("level %d: floor %d maps to %d", level, floor, got)
		}
		if level > 1 {
			if got := LevelForExperience(floor - 1); got != level-1 {
				t.Fatalf("level %d: floor-1 maps to %d", level, got)
			}
		}
	}
}

func TestLevelProgress(t *testing.T) {
	if got := LevelProgress(0); got != 0 {
		t.Fatalf("progress at 0 exp = %d", got)
	}
	if got := LevelProgress(50); got != 50 {
		t.Fatalf("progress halfway through level 1 = %d", got)
	}
	if got := LevelProgress(100); got != 0 {
		t.Fatalf("progress at a level boundary = %d", got)
	}
	if got := LevelProgress(-10); got != 0 {
		t.Fatalf("progress with negative exp = %d", got)
	}
}

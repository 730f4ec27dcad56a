package core

import "testing"

func TestStreakMultiplier(t *testing.T) {
	cases := []struct {
		streak int
		want   float64
	}{
		{0, 1.0},
		{1, 1.0},
		{2, 1.0},
		{3, 1.1},
		{6, 1.1},
		{7, 1.25},
		{13, 1.25},
		{14, 1.5},
		{29, 1.5},
		{30, 2.0},
		{365, 2.0},
	}
	for _, c := range cases {
		if got := StreakMultiplier(c.streak); got != c.want {
			t.Fatalf("StreakMultiplier(%d) = %v, want %v", c.streak, got, c.want)
		}
	}
}

func TestPointsWithBonus(t *testing.T) {
	// truncates toward zero: 5 * 1.25 = 6.25 -> 6
	if got := PointsWithBonus(5, 10); got != 6 {
		t.Fatalf("got %d, want 6", got)
	}
	if got := PointsWithBonus(5, 1); got != 5 {
		t.Fatalf("no-bonus streak changed points: %d", got)
	}
	if got := PointsWithBonus(10, 30); got != 20 {
		t.Fatalf("got %d, want 20", got)
	}
}

func TestTierFor(t *testing.T) {
	cases := []struct {
		points int64
		want   string
	}{
		{0, "Bronze"},
		{499, "Bronze"},
		{500, "Silver"},
		{1999, "Silver"},
		{2000, "Gold"},
		{4999, "Gold"},
		{5000, "Platinum"},
		{9999, "Platinum"},
		{10000, "Diamond"},
		{1000000, "Diamond"},
	}
	for _, c := range cases {
		if got := TierFor(c.points); got.Name != c.want {
			t.Fatalf("TierFor(%d) = %s, want %s", c.points, got.Name, c.want)
		}
	}
}

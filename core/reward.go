package core

import "math"

// Reward is the base value of one activity occurrence.
type Reward struct {
	Points     int64 `json:"points"`
	Experience int64 `json:"experience"`
}

// StreakMultiplier is a non-decreasing step function of the current
// check-in streak, with breakpoints at 3, 7, 14 and 30 days.
func StreakMultiplier(streak int) float64 {
	switch {
	case streak >= 30:
		return 2.0
	case streak >= 14:
		return 1.5
	case streak >= 7:
		return 1.25
	case streak >= 3:
		return 1.1
	default:
		return 1.0
	}
}

// PointsWithBonus applies the streak multiplier to a base point value,
// truncating toward zero.
func PointsWithBonus(base int64, streak int) int64 {
	return int64(math.Floor(float64(base) * StreakMultiplier(streak)))
}

// Tier is a coarse, display-only bucket over cumulative points.
type Tier struct {
	Name     string `json:"name"`
	Level    int    `json:"level"`
	MinScore int64  `json:"min_score"`
}

var tiers = []Tier{
	{Name: "Diamond", Level: 5, MinScore: 10000},
	{Name: "Platinum", Level: 4, MinScore: 5000},
	{Name: "Gold", Level: 3, MinScore: 2000},
	{Name: "Silver", Level: 2, MinScore: 500},
	{Name: "Bronze", Level: 1, MinScore: 0},
}

// TierFor buckets cumulative points into one of five fixed ascending
// ranges. Purely informational, no side effects.
func TierFor(points int64) Tier {
	for _, t := range tiers {
		if points >= t.MinScore {
			return t
		}
	}
	return tiers[len(tiers)-1]
}

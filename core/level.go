package core

import "math"

// LevelForExperience derives the level from cumulative experience:
// level = floor(sqrt(exp/100)) + 1, ensuring at least 1.
// The level is recomputed from scratch on every update, so a single
// large experience gain can skip several levels in one write.
func LevelForExperience(exp int64) int64 {
	if exp <= 0 {
		return 1
	}
	return int64(math.Floor(math.Sqrt(float64(exp)/100.0))) + 1
}

// ExperienceForLevel is the inverse of LevelForExperience at integer
// boundaries: (level-1)^2 * 100. Levels below 1 are clamped to 1.
func ExperienceForLevel(level int64) int64 {
	if level <= 1 {
		return 0
	}
	return (level - 1) * (level - 1) * 100
}

// LevelProgress reports how far exp sits between the current level's
// floor and the next level's floor, as a percentage clamped to [0, 100].
func LevelProgress(exp int64) int64 {
	if exp < 0 {
		exp = 0
	}
	level := LevelForExperience(exp)
	floor := ExperienceForLevel(level)
	ceil := ExperienceForLevel(level + 1)
	if ceil <= floor {
		return 100
	}
	pct := (exp - floor) * 100 / (ceil - floor)
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

package core

import (
	"errors"
	"fmt"
)

// BadgeDefinition is one leveled badge in the static catalog. The
// catalog is seeded externally and read-only to the engine.
type BadgeDefinition struct {
	Code BadgeCode `json:"code"`
	Name string    `json:"name"`
	// LevelThresholds is a strictly ascending progress threshold per
	// tier, 0-indexed by the current level: thresholds[currentLevel] is
	// the progress required to reach currentLevel+1.
	LevelThresholds []int64 `json:"level_thresholds"`
	// RewardPerLevel holds the points granted on reaching level i+1.
	RewardPerLevel []int64 `json:"reward_per_level,omitempty"`
}

// MaxLevel is the terminal tier, equal to the number of thresholds.
func (d BadgeDefinition) MaxLevel() int64 { return int64(len(d.LevelThresholds)) }

// NextThreshold returns the progress needed to leave currentLevel, or
// false when the badge is already at its max level.
func (d BadgeDefinition) NextThreshold(currentLevel int64) (int64, bool) {
	if currentLevel < 0 || currentLevel >= d.MaxLevel() {
		return 0, false
	}
	return d.LevelThresholds[currentLevel], true
}

// RewardForLevel returns the points granted when the badge reaches the
// given level, zero when the catalog defines none.
func (d BadgeDefinition) RewardForLevel(level int64) int64 {
	idx := level - 1
	if idx < 0 || idx >= int64(len(d.RewardPerLevel)) {
		return 0
	}
	return d.RewardPerLevel[idx]
}

// Catalog is the injected, versioned configuration the engine runs on:
// badge definitions, per-kind base rewards, and the single explicit
// activity-kind to badge-codes mapping.
type Catalog struct {
	Version        string                       `json:"version"`
	Badges         []BadgeDefinition            `json:"badges"`
	Rewards        map[ActivityKind]Reward      `json:"rewards"`
	ActivityBadges map[ActivityKind][]BadgeCode `json:"activity_badges"`
}

// Badge looks up a definition by code.
func (c *Catalog) Badge(code BadgeCode) (BadgeDefinition, bool) {
	for _, d := range c.Badges {
		if d.Code == code {
			return d, true
		}
	}
	return BadgeDefinition{}, false
}

// RewardFor returns the base reward for an activity kind. The second
// return distinguishes a kind configured as worth nothing from a kind
// the catalog does not know at all.
func (c *Catalog) RewardFor(kind ActivityKind) (Reward, bool) {
	r, ok := c.Rewards[kind]
	return r, ok
}

// BadgesFor returns the badge codes a given activity kind can advance.
func (c *Catalog) BadgesFor(kind ActivityKind) []BadgeCode {
	return c.ActivityBadges[kind]
}

// Validate checks internal consistency so a bad catalog file fails at
// startup rather than mid-request.
func (c *Catalog) Validate() error {
	if len(c.Badges) == 0 {
		return errors.New("catalog defines no badges")
	}
	seen := make(map[BadgeCode]struct{}, len(c.Badges))
	for _, d := range c.Badges {
		if err := ValidateBadgeCode(d.Code); err != nil {
			return fmt.Errorf("badge %q: %w", d.Code, err)
		}
		if _, dup := seen[d.Code]; dup {
			return fmt.Errorf("badge %q: duplicate code", d.Code)
		}
		seen[d.Code] = struct{}{}
		if len(d.LevelThresholds) == 0 {
			return fmt.Errorf("badge %q: no level thresholds", d.Code)
		}
		prev := int64(0)
		for i, th := range d.LevelThresholds {
			if th <= prev {
				return fmt.Errorf("badge %q: thresholds must be ascending and positive (index %d)", d.Code, i)
			}
			prev = th
		}
		if len(d.RewardPerLevel) > len(d.LevelThresholds) {
			return fmt.Errorf("badge %q: more rewards than levels", d.Code)
		}
	}
	for kind, codes := range c.ActivityBadges {
		if kind == "" {
			return errors.New("activity mapping with empty kind")
		}
		for _, code := range codes {
			if _, ok := seen[code]; !ok {
				return fmt.Errorf("activity %q maps to undefined badge %q", kind, code)
			}
		}
	}
	for kind, r := range c.Rewards {
		if kind == "" {
			return errors.New("reward with empty activity kind")
		}
		if r.Points < 0 || r.Experience < 0 {
			return fmt.Errorf("activity %q: negative reward", kind)
		}
	}
	return nil
}

// DefaultCatalog is the built-in catalog used when no catalog file is
// configured. Deployments normally override it with a seeded file.
func DefaultCatalog() *Catalog {
	return &Catalog{
		Version: "builtin-1",
		Badges: []BadgeDefinition{
			{
				Code:            "content_creator",
				Name:            "Content Creator",
				LevelThresholds: []int64{1, 5, 20, 50},
				RewardPerLevel:  []int64{10, 30, 100, 300},
			},
			{
				Code:            "comment_master",
				Name:            "Comment Master",
				LevelThresholds: []int64{5, 25, 100},
				RewardPerLevel:  []int64{10, 50, 200},
			},
			{
				Code:            "helpful_neighbor",
				Name:            "Helpful Neighbor",
				LevelThresholds: []int64{10, 50, 200},
				RewardPerLevel:  []int64{15, 75, 250},
			},
			{
				Code:            "community_voter",
				Name:            "Community Voter",
				LevelThresholds: []int64{10, 50, 150},
				RewardPerLevel:  []int64{5, 25, 100},
			},
			{
				Code:            "daily_devotee",
				Name:            "Daily Devotee",
				LevelThresholds: []int64{7, 30, 100, 365},
				RewardPerLevel:  []int64{20, 80, 250, 1000},
			},
		},
		Rewards: map[ActivityKind]Reward{
			ActivityPostCreated:    {Points: 10, Experience: 20},
			ActivityCommentCreated: {Points: 5, Experience: 10},
			ActivityLikeGiven:      {Points: 1, Experience: 2},
			ActivityVoteCast:       {Points: 2, Experience: 4},
			ActivityDailyCheckin:   {Points: 5, Experience: 10},
		},
		ActivityBadges: map[ActivityKind][]BadgeCode{
			ActivityPostCreated:    {"content_creator"},
			ActivityCommentCreated: {"comment_master", "helpful_neighbor"},
			ActivityVoteCast:       {"community_voter"},
			ActivityDailyCheckin:   {"daily_devotee"},
		},
	}
}

package core

import (
	"errors"
	"math"
	"strings"
	"time"
)

// UserID uniquely identifies a user in the engagement domain.
type UserID string

// ActivityKind names a discrete user action submitted to the engine.
type ActivityKind string

const (
	ActivityPostCreated    ActivityKind = "post_created"
	ActivityCommentCreated ActivityKind = "comment_created"
	ActivityLikeGiven      ActivityKind = "like_given"
	ActivityVoteCast       ActivityKind = "vote_cast"
	ActivityDailyCheckin   ActivityKind = "daily_checkin"
)

// BadgeCode names a multi-tier badge defined in the catalog.
type BadgeCode string

// ErrNotFound is returned by stores when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyCheckedIn is returned by stores when a same-day check-in
// already exists for the user. The uniqueness check lives in the store,
// not in application code, so two concurrent check-ins cannot both pass.
var ErrAlreadyCheckedIn = errors.New("already checked in today")

// ActivityRecord is one append-only ledger entry. Records are never
// updated or deleted after the append.
type ActivityRecord struct {
	ID          int64             `json:"id,omitempty"`
	UserID      UserID            `json:"user_id"`
	Kind        ActivityKind      `json:"kind"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	ReferenceID string            `json:"reference_id,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

// UserProfile is the one-row-per-user accumulator. Level is always the
// value of LevelForExperience(Experience) after a write; it is stored
// only as a denormalized copy of that derivation.
type UserProfile struct {
	UserID     UserID    `json:"user_id"`
	Experience int64     `json:"experience"`
	Points     int64     `json:"points"`
	Level      int64     `json:"level"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// UserBadgeState tracks per-(user, badge) tiered progress.
// Progress and CurrentLevel are monotonically non-decreasing, and
// CurrentLevel never exceeds the badge's configured max level.
type UserBadgeState struct {
	UserID        UserID     `json:"user_id"`
	Badge         BadgeCode  `json:"badge"`
	CurrentLevel  int64      `json:"current_level"`
	Progress      int64      `json:"progress"`
	FirstEarnedAt *time.Time `json:"first_earned_at,omitempty"`
	LastLevelUpAt *time.Time `json:"last_level_up_at,omitempty"`
}

// UserBadgeAward is the simple all-or-nothing badge registry, separate
// from the leveled badge system. Inserted once, never updated.
type UserBadgeAward struct {
	UserID   UserID    `json:"user_id"`
	Badge    BadgeCode `json:"badge"`
	EarnedAt time.Time `json:"earned_at"`
}

// AddSafe adds delta to base ensuring no signed overflow occurs.
func AddSafe(base int64, delta int64) (int64, error) {
	if (delta > 0 && base > math.MaxInt64-delta) || (delta < 0 && base < math.MinInt64-delta) {
		return 0, errors.New("integer overflow in AddSafe")
	}
	return base + delta, nil
}

// NormalizeUserID trims and lowercases user identifiers.
func NormalizeUserID(id UserID) (UserID, error) {
	s := strings.TrimSpace(string(id))
	if s == "" {
		return "", errors.New("empty user id")
	}
	return UserID(strings.ToLower(s)), nil
}

// ValidateBadgeCode ensures non-empty badge code with simple charset check.
func ValidateBadgeCode(b BadgeCode) error {
	s := strings.TrimSpace(string(b))
	if s == "" {
		return errors.New("empty badge code")
	}
	// simple check: alnum, dash, underscore
	for _, r := range s {
		if r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_' {
			continue
		}
		return errors.New("invalid badge code")
	}
	return nil
}

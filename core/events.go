package core

import "time"

// NotificationType enumerates the facts the engine can surface.
type NotificationType string

const (
	NotificationLevelUp          NotificationType = "level_up"
	NotificationBadgeUnlocked    NotificationType = "badge_unlocked"
	NotificationActivityRecorded NotificationType = "activity_recorded"
)

// Notification is an immutable fact produced while processing one
// activity. The engine returns these synchronously to the caller and
// keeps no record of them afterward; any delivery is the caller's job.
type Notification struct {
	Type         NotificationType `json:"type"`
	At           time.Time        `json:"at"`
	UserID       UserID           `json:"user_id"`
	Kind         ActivityKind     `json:"kind,omitempty"`
	Level        int64            `json:"level,omitempty"`
	Experience   int64            `json:"experience,omitempty"`
	Badge        BadgeCode        `json:"badge,omitempty"`
	RewardPoints int64            `json:"reward_points,omitempty"`
}

func NewLevelUp(user UserID, level, experience int64, at time.Time) Notification {
	return Notification{Type: NotificationLevelUp, At: at, UserID: user, Level: level, Experience: experience}
}

func NewBadgeUnlocked(user UserID, badge BadgeCode, level, rewardPoints int64, at time.Time) Notification {
	return Notification{Type: NotificationBadgeUnlocked, At: at, UserID: user, Badge: badge, Level: level, RewardPoints: rewardPoints}
}

func NewActivityRecorded(user UserID, kind ActivityKind, at time.Time) Notification {
	return Notification{Type: NotificationActivityRecorded, At: at, UserID: user, Kind: kind}
}

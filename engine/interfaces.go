package engine

import (
	"context"
	"time"

	"engagekit/core"
)

// Store abstracts persistence for the engagement engine. Methods that
// mutate shared counters must be atomic in the store (in-place
// increments, compare-and-set promotes, uniqueness-guarded inserts);
// the engine never performs a read-modify-write of its own.
type Store interface {
	// EnsureUserState creates the profile row and one badge-state row
	// per definition with insert-if-absent semantics. Safe to call
	// concurrently for the same user; repeated calls are no-ops.
	EnsureUserState(ctx context.Context, user core.UserID, defs []core.BadgeDefinition) error

	// AppendActivity appends one immutable ledger record.
	AppendActivity(ctx context.Context, rec core.ActivityRecord) error
	// AppendCheckin appends a check-in record, enforcing at most one
	// per (user, calendar day) at the store level. Returns
	// core.ErrAlreadyCheckedIn on the duplicate.
	AppendCheckin(ctx context.Context, rec core.ActivityRecord) error
	// CountActivitiesSince counts matching ledger records at or after since.
	CountActivitiesSince(ctx context.Context, user core.UserID, kind core.ActivityKind, since time.Time) (int64, error)
	// ActivityDays lists the distinct UTC calendar days bearing at
	// least one matching record, most recent first.
	ActivityDays(ctx context.Context, user core.UserID, kind core.ActivityKind) ([]time.Time, error)

	// AddReward atomically increments the profile accumulators and
	// returns the updated row.
	AddReward(ctx context.Context, user core.UserID, exp, points int64) (core.UserProfile, error)
	// SetLevel raises the stored level. The store must ignore the
	// write when the current level is already >= level, keeping the
	// level monotonic under concurrent updates.
	SetLevel(ctx context.Context, user core.UserID, level int64) error
	// GetProfile returns the profile row or core.ErrNotFound.
	GetProfile(ctx context.Context, user core.UserID) (core.UserProfile, error)

	// IncrementBadgeProgress atomically adds one to the badge's
	// progress counter and returns the updated state.
	IncrementBadgeProgress(ctx context.Context, user core.UserID, badge core.BadgeCode) (core.UserBadgeState, error)
	// PromoteBadge advances the badge from tier `from` to `to` with
	// compare-and-set semantics: it reports false when another writer
	// already moved the level, so one event promotes at most one tier.
	PromoteBadge(ctx context.Context, user core.UserID, badge core.BadgeCode, from, to int64, at time.Time) (bool, error)
	// GetBadgeStates returns all badge-state rows for the user.
	GetBadgeStates(ctx context.Context, user core.UserID) ([]core.UserBadgeState, error)

	// AwardBadge inserts into the simple all-or-nothing award registry,
	// reporting whether the row was newly created.
	AwardBadge(ctx context.Context, user core.UserID, badge core.BadgeCode) (bool, error)
	// ListAwards returns the user's simple awards.
	ListAwards(ctx context.Context, user core.UserID) ([]core.UserBadgeAward, error)
}

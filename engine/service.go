package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"engagekit/core"
)

// EngageService wires the store, notification bus, and badge catalog
// into the two write entry points and the two read paths.
type EngageService struct {
	store   Store
	bus     *NotificationBus
	catalog *core.Catalog
	log     *slog.Logger
	now     func() time.Time
}

func NewEngageService(store Store, bus *NotificationBus, catalog *core.Catalog) *EngageService {
	if store == nil || bus == nil || catalog == nil {
		panic("NewEngageService requires non-nil store, bus, and catalog")
	}
	return &EngageService{
		store:   store,
		bus:     bus,
		catalog: catalog,
		log:     slog.Default(),
		now:     time.Now,
	}
}

// SetLogger replaces the service logger.
func (s *EngageService) SetLogger(l *slog.Logger) {
	if l != nil {
		s.log = l
	}
}

// Subscribe convenience method.
func (s *EngageService) Subscribe(typ core.NotificationType, handler func(context.Context, core.Notification)) func() {
	return s.bus.Subscribe(typ, handler)
}

func (s *EngageService) Publish(ctx context.Context, n core.Notification) {
	s.bus.Publish(ctx, n)
}

// Catalog exposes the injected catalog (read-only by convention).
func (s *EngageService) Catalog() *core.Catalog { return s.catalog }

// ProcessActivity runs one activity through the full pipeline: ensure
// rows exist, append to the ledger, credit the reward, recompute the
// level from the new experience total, and advance every badge the
// activity kind maps to. Level-up and badge-unlock facts are returned
// synchronously; the engine retains no record of them.
func (s *EngageService) ProcessActivity(ctx context.Context, user core.UserID, kind core.ActivityKind, metadata map[string]string, referenceID string) ([]core.Notification, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return nil, err
	}
	if kind == "" {
		return nil, errors.New("empty activity kind")
	}
	if err := s.store.EnsureUserState(ctx, normalized, s.catalog.Badges); err != nil {
		return nil, fmt.Errorf("ensure user state: %w", err)
	}

	now := s.now().UTC()
	rec := core.ActivityRecord{
		UserID:      normalized,
		Kind:        kind,
		Metadata:    metadata,
		ReferenceID: referenceID,
		OccurredAt:  now,
	}
	if kind == core.ActivityDailyCheckin {
		err = s.store.AppendCheckin(ctx, rec)
	} else {
		err = s.store.AppendActivity(ctx, rec)
	}
	if err != nil {
		return nil, fmt.Errorf("append activity: %w", err)
	}
	s.bus.Publish(ctx, core.NewActivityRecorded(normalized, kind, now))

	reward, recognized := s.catalog.RewardFor(kind)
	if !recognized {
		s.log.Warn("unrecognized activity kind, applying zero reward",
			"user_id", normalized, "kind", kind)
	}

	points := reward.Points
	if kind == core.ActivityDailyCheckin {
		// The streak includes today because the append happened above.
		streak, err := s.streak(ctx, normalized, kind)
		if err != nil {
			return nil, err
		}
		points = core.PointsWithBonus(reward.Points, streak)
	}

	var notifications []core.Notification
	if reward.Experience != 0 || points != 0 {
		profile, err := s.store.AddReward(ctx, normalized, reward.Experience, points)
		if err != nil {
			return nil, fmt.Errorf("add reward: %w", err)
		}
		newLevel := core.LevelForExperience(profile.Experience)
		if newLevel > profile.Level {
			if err := s.store.SetLevel(ctx, normalized, newLevel); err != nil {
				return nil, fmt.Errorf("set level: %w", err)
			}
			n := core.NewLevelUp(normalized, newLevel, profile.Experience, now)
			notifications = append(notifications, n)
			s.bus.Publish(ctx, n)
		}
	}

	for _, code := range s.catalog.BadgesFor(kind) {
		def, ok := s.catalog.Badge(code)
		if !ok {
			s.log.Warn("activity maps to undefined badge", "kind", kind, "badge", code)
			continue
		}
		n, err := s.advanceBadge(ctx, normalized, def, now)
		if err != nil {
			return notifications, fmt.Errorf("advance badge %s: %w", code, err)
		}
		if n != nil {
			notifications = append(notifications, *n)
			s.bus.Publish(ctx, *n)
		}
	}
	return notifications, nil
}

// advanceBadge applies one qualifying event to one badge: a unit
// progress increment, then at most one tier promotion. The promote is a
// compare-and-set in the store, so concurrent events cannot stack
// promotions from the same observed state.
func (s *EngageService) advanceBadge(ctx context.Context, user core.UserID, def core.BadgeDefinition, now time.Time) (*core.Notification, error) {
	st, err := s.store.IncrementBadgeProgress(ctx, user, def.Code)
	if err != nil {
		return nil, err
	}
	threshold, ok := def.NextThreshold(st.CurrentLevel)
	if !ok || st.Progress < threshold {
		return nil, nil
	}
	next := st.CurrentLevel + 1
	promoted, err := s.store.PromoteBadge(ctx, user, def.Code, st.CurrentLevel, next, now)
	if err != nil {
		return nil, err
	}
	if !promoted {
		// lost the race to a concurrent promote; that event notifies
		return nil, nil
	}
	rewardPoints := def.RewardForLevel(next)
	if rewardPoints > 0 {
		// badge rewards credit display points only, never experience
		if _, err := s.store.AddReward(ctx, user, 0, rewardPoints); err != nil {
			return nil, err
		}
	}
	n := core.NewBadgeUnlocked(user, def.Code, next, rewardPoints, now)
	return &n, nil
}

// CheckinResult is the outcome of one ProcessCheckin call. A duplicate
// same-day check-in is a defined outcome, not an error.
type CheckinResult struct {
	Success          bool                `json:"success"`
	AlreadyCheckedIn bool                `json:"already_checked_in"`
	Streak           int                 `json:"streak"`
	Notifications    []core.Notification `json:"notifications"`
}

// ProcessCheckin records today's check-in exactly once per calendar
// day. The count-since-midnight read is only a fast path; the
// authoritative guard is the store's per-day uniqueness on the append.
func (s *EngageService) ProcessCheckin(ctx context.Context, user core.UserID) (CheckinResult, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return CheckinResult{}, err
	}
	already := CheckinResult{Success: false, AlreadyCheckedIn: true, Streak: 0, Notifications: []core.Notification{}}

	startOfToday := core.StartOfDay(s.now())
	count, err := s.store.CountActivitiesSince(ctx, normalized, core.ActivityDailyCheckin, startOfToday)
	if err != nil {
		return CheckinResult{}, fmt.Errorf("count checkins: %w", err)
	}
	if count > 0 {
		return already, nil
	}

	notifications, err := s.ProcessActivity(ctx, normalized, core.ActivityDailyCheckin, nil, "")
	if errors.Is(err, core.ErrAlreadyCheckedIn) {
		return already, nil
	}
	if err != nil {
		return CheckinResult{}, err
	}
	streak, err := s.streak(ctx, normalized, core.ActivityDailyCheckin)
	if err != nil {
		return CheckinResult{}, err
	}
	if notifications == nil {
		notifications = []core.Notification{}
	}
	return CheckinResult{Success: true, Streak: streak, Notifications: notifications}, nil
}

func (s *EngageService) streak(ctx context.Context, user core.UserID, kind core.ActivityKind) (int, error) {
	days, err := s.store.ActivityDays(ctx, user, kind)
	if err != nil {
		return 0, fmt.Errorf("activity days: %w", err)
	}
	return core.StreakLength(days), nil
}

// UserState is the minimal display snapshot of a user's progression.
type UserState struct {
	UserID     core.UserID `json:"user_id"`
	Level      int64       `json:"level"`
	Experience int64       `json:"experience"`
}

// GetUserState fails open: any store problem degrades to the level-1
// zero-experience default rather than surfacing an error to callers.
func (s *EngageService) GetUserState(ctx context.Context, user core.UserID) UserState {
	fallback := UserState{UserID: user, Level: 1, Experience: 0}
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return fallback
	}
	fallback.UserID = normalized
	profile, err := s.store.GetProfile(ctx, normalized)
	if err != nil {
		if !errors.Is(err, core.ErrNotFound) {
			s.log.Debug("state read degraded to defaults", "user_id", normalized, "error", err)
		}
		return fallback
	}
	return UserState{UserID: normalized, Level: profile.Level, Experience: profile.Experience}
}

// EarnedBadge is a leveled badge the user has unlocked at least once.
type EarnedBadge struct {
	Code          core.BadgeCode `json:"code"`
	Name          string         `json:"name"`
	Level         int64          `json:"level"`
	MaxLevel      int64          `json:"max_level"`
	FirstEarnedAt *time.Time     `json:"first_earned_at,omitempty"`
}

// BadgeProgress is a badge still short of its next tier.
type BadgeProgress struct {
	Code          core.BadgeCode `json:"code"`
	Name          string         `json:"name"`
	CurrentLevel  int64          `json:"current_level"`
	Progress      int64          `json:"progress"`
	NextThreshold int64          `json:"next_threshold"`
}

// ProfileView is the aggregate read model for profile pages.
type ProfileView struct {
	UserID           core.UserID           `json:"user_id"`
	Level            int64                 `json:"level"`
	Experience       int64                 `json:"experience"`
	Points           int64                 `json:"points"`
	NextLevelExp     int64                 `json:"next_level_exp"`
	LevelProgress    int64                 `json:"level_progress"`
	Tier             core.Tier             `json:"tier"`
	EarnedBadges     []EarnedBadge         `json:"earned_badges"`
	InProgressBadges []BadgeProgress       `json:"in_progress_badges"`
	Awards           []core.UserBadgeAward `json:"awards"`
}

// GetUserProfile assembles the profile read model. A missing profile
// row is healed by re-running the initializer; read failures degrade to
// safe defaults (level 1, empty lists) instead of erroring, favoring
// availability on display paths.
func (s *EngageService) GetUserProfile(ctx context.Context, user core.UserID) ProfileView {
	view := ProfileView{
		UserID:           user,
		Level:            1,
		NextLevelExp:     core.ExperienceForLevel(2),
		Tier:             core.TierFor(0),
		EarnedBadges:     []EarnedBadge{},
		InProgressBadges: []BadgeProgress{},
		Awards:           []core.UserBadgeAward{},
	}
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return view
	}
	view.UserID = normalized

	profile, err := s.store.GetProfile(ctx, normalized)
	if errors.Is(err, core.ErrNotFound) {
		if healErr := s.store.EnsureUserState(ctx, normalized, s.catalog.Badges); healErr != nil {
			s.log.Warn("profile heal failed", "user_id", normalized, "error", healErr)
			return view
		}
		profile, err = s.store.GetProfile(ctx, normalized)
	}
	if err != nil {
		s.log.Debug("profile read degraded to defaults", "user_id", normalized, "error", err)
		return view
	}

	view.Level = profile.Level
	view.Experience = profile.Experience
	view.Points = profile.Points
	view.NextLevelExp = core.ExperienceForLevel(profile.Level + 1)
	view.LevelProgress = core.LevelProgress(profile.Experience)
	view.Tier = core.TierFor(profile.Points)

	states, err := s.store.GetBadgeStates(ctx, normalized)
	if err != nil {
		s.log.Debug("badge state read degraded to empty", "user_id", normalized, "error", err)
		states = nil
	}
	for _, st := range states {
		def, ok := s.catalog.Badge(st.Badge)
		if !ok {
			// row from an older catalog version; skip rather than guess
			continue
		}
		if st.CurrentLevel > 0 {
			view.EarnedBadges = append(view.EarnedBadges, EarnedBadge{
				Code:          st.Badge,
				Name:          def.Name,
				Level:         st.CurrentLevel,
				MaxLevel:      def.MaxLevel(),
				FirstEarnedAt: st.FirstEarnedAt,
			})
		}
		if threshold, ok := def.NextThreshold(st.CurrentLevel); ok {
			view.InProgressBadges = append(view.InProgressBadges, BadgeProgress{
				Code:          st.Badge,
				Name:          def.Name,
				CurrentLevel:  st.CurrentLevel,
				Progress:      st.Progress,
				NextThreshold: threshold,
			})
		}
	}

	awards, err := s.store.ListAwards(ctx, normalized)
	if err != nil {
		s.log.Debug("award read degraded to empty", "user_id", normalized, "error", err)
		awards = nil
	}
	if awards != nil {
		view.Awards = awards
	}
	return view
}

// AwardBadge inserts into the simple all-or-nothing registry and emits
// a badge-unlocked notification when the award is new.
func (s *EngageService) AwardBadge(ctx context.Context, user core.UserID, badge core.BadgeCode) error {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return err
	}
	if err := core.ValidateBadgeCode(badge); err != nil {
		return err
	}
	inserted, err := s.store.AwardBadge(ctx, normalized, badge)
	if err != nil {
		return err
	}
	if inserted {
		s.bus.Publish(ctx, core.NewBadgeUnlocked(normalized, badge, 1, 0, s.now().UTC()))
	}
	return nil
}

func (s *EngageService) Close() { s.bus.Close() }

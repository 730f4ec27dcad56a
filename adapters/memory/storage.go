package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"engagekit/core"
)

// Store is a concurrent in-memory Store implementation. Each user's
// state is guarded by its own mutex, so every Store method is atomic
// with respect to that user.
type Store struct {
	users sync.Map // map[core.UserID]*userRecord
}

type userRecord struct {
	mu          sync.Mutex
	initialized bool
	profile     core.UserProfile
	badges      map[core.BadgeCode]*core.UserBadgeState
	awards      map[core.BadgeCode]core.UserBadgeAward
	activities  []core.ActivityRecord
	checkinDays map[time.Time]struct{}
	nextID      int64
}

func New() *Store { return &Store{} }

func (s *Store) getOrCreate(user core.UserID) *userRecord {
	if v, ok := s.users.Load(user); ok {
		return v.(*userRecord)
	}
	rec := &userRecord{
		profile:     core.UserProfile{UserID: user, Level: 1, UpdatedAt: time.Now().UTC()},
		badges:      map[core.BadgeCode]*core.UserBadgeState{},
		awards:      map[core.BadgeCode]core.UserBadgeAward{},
		checkinDays: map[time.Time]struct{}{},
	}
	actual, _ := s.users.LoadOrStore(user, rec)
	return actual.(*userRecord)
}

func (s *Store) EnsureUserState(_ context.Context, user core.UserID, defs []core.BadgeDefinition) error {
	rec := s.getOrCreate(user)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.initialized = true
	for _, def := range defs {
		if _, ok := rec.badges[def.Code]; !ok {
			rec.badges[def.Code] = &core.UserBadgeState{UserID: user, Badge: def.Code}
		}
	}
	return nil
}

func (s *Store) AppendActivity(_ context.Context, ar core.ActivityRecord) error {
	rec := s.getOrCreate(ar.UserID)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.nextID++
	ar.ID = rec.nextID
	rec.activities = append(rec.activities, ar)
	return nil
}

func (s *Store) AppendCheckin(_ context.Context, ar core.ActivityRecord) error {
	rec := s.getOrCreate(ar.UserID)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	day := core.DayOf(ar.OccurredAt)
	if _, dup := rec.checkinDays[day]; dup {
		return core.ErrAlreadyCheckedIn
	}
	rec.checkinDays[day] = struct{}{}
	rec.nextID++
	ar.ID = rec.nextID
	rec.activities = append(rec.activities, ar)
	return nil
}

func (s *Store) CountActivitiesSince(_ context.Context, user core.UserID, kind core.ActivityKind, since time.Time) (int64, error) {
	rec := s.getOrCreate(user)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	var n int64
	for _, ar := range rec.activities {
		if ar.Kind == kind && !ar.OccurredAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *Store) ActivityDays(_ context.Context, user core.UserID, kind core.ActivityKind) ([]time.Time, error) {
	rec := s.getOrCreate(user)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	distinct := map[time.Time]struct{}{}
	for _, ar := range rec.activities {
		if ar.Kind == kind {
			distinct[core.DayOf(ar.OccurredAt)] = struct{}{}
		}
	}
	days := make([]time.Time, 0, len(distinct))
	for d := range distinct {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].After(days[j]) })
	return days, nil
}

func (s *Store) AddReward(_ context.Context, user core.UserID, exp, points int64) (core.UserProfile, error) {
	rec := s.getOrCreate(user)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	nextExp, err := core.AddSafe(rec.profile.Experience, exp)
	if err != nil {
		return core.UserProfile{}, err
	}
	nextPoints, err := core.AddSafe(rec.profile.Points, points)
	if err != nil {
		return core.UserProfile{}, err
	}
	rec.profile.Experience = nextExp
	rec.profile.Points = nextPoints
	rec.profile.UpdatedAt = time.Now().UTC()
	return rec.profile, nil
}

func (s *Store) SetLevel(_ context.Context, user core.UserID, level int64) error {
	rec := s.getOrCreate(user)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if level > rec.profile.Level {
		rec.profile.Level = level
		rec.profile.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (s *Store) GetProfile(_ context.Context, user core.UserID) (core.UserProfile, error) {
	v, ok := s.users.Load(user)
	if !ok {
		return core.UserProfile{}, core.ErrNotFound
	}
	rec := v.(*userRecord)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if !rec.initialized {
		return core.UserProfile{}, core.ErrNotFound
	}
	return rec.profile, nil
}

func (s *Store) IncrementBadgeProgress(_ context.Context, user core.UserID, badge core.BadgeCode) (core.UserBadgeState, error) {
	rec := s.getOrCreate(user)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	st, ok := rec.badges[badge]
	if !ok {
		return core.UserBadgeState{}, core.ErrNotFound
	}
	st.Progress++
	return *st, nil
}

func (s *Store) PromoteBadge(_ context.Context, user core.UserID, badge core.BadgeCode, from, to int64, at time.Time) (bool, error) {
	rec := s.getOrCreate(user)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	st, ok := rec.badges[badge]
	if !ok {
		return false, core.ErrNotFound
	}
	if st.CurrentLevel != from {
		return false, nil
	}
	st.CurrentLevel = to
	ts := at
	if st.FirstEarnedAt == nil {
		st.FirstEarnedAt = &ts
	}
	st.LastLevelUpAt = &ts
	return true, nil
}

func (s *Store) GetBadgeStates(_ context.Context, user core.UserID) ([]core.UserBadgeState, error) {
	rec := s.getOrCreate(user)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]core.UserBadgeState, 0, len(rec.badges))
	for _, st := range rec.badges {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Badge < out[j].Badge })
	return out, nil
}

func (s *Store) AwardBadge(_ context.Context, user core.UserID, badge core.BadgeCode) (bool, error) {
	rec := s.getOrCreate(user)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if _, ok := rec.awards[badge]; ok {
		return false, nil
	}
	rec.awards[badge] = core.UserBadgeAward{UserID: user, Badge: badge, EarnedAt: time.Now().UTC()}
	return true, nil
}

func (s *Store) ListAwards(_ context.Context, user core.UserID) ([]core.UserBadgeAward, error) {
	rec := s.getOrCreate(user)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]core.UserBadgeAward, 0, len(rec.awards))
	for _, a := range rec.awards {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Badge < out[j].Badge })
	return out, nil
}

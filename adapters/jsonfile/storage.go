package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"engagekit/core"
)

// Store persists entire engine state to a single JSON file.
// Suitable for demos and small deployments.
type Store struct {
	path string
	mu   sync.Mutex
	// in-memory cache for speed
	data   map[core.UserID]*userState
	nextID int64
}

type userState struct {
	Initialized bool                                   `json:"initialized"`
	Profile     core.UserProfile                       `json:"profile"`
	Badges      map[core.BadgeCode]core.UserBadgeState `json:"badges"`
	Awards      map[core.BadgeCode]core.UserBadgeAward `json:"awards"`
	Activities  []core.ActivityRecord                  `json:"activities"`
}

func New(path string) (*Store, error) {
	s := &Store{path: path, data: map[core.UserID]*userState{}}
	if err := s.load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var raw map[string]*userState
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	for k, v := range raw {
		s.data[core.UserID(k)] = v
		for _, ar := range v.Activities {
			if ar.ID > s.nextID {
				s.nextID = ar.ID
			}
		}
	}
	return nil
}

func (s *Store) persist() error {
	tmp := s.path + ".tmp"
	raw := make(map[string]*userState, len(s.data))
	for k, v := range s.data {
		raw[string(k)] = v
	}
	b, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) get(user core.UserID) *userState {
	if st, ok := s.data[user]; ok {
		return st
	}
	st := &userState{
		Profile: core.UserProfile{UserID: user, Level: 1, UpdatedAt: time.Now().UTC()},
		Badges:  map[core.BadgeCode]core.UserBadgeState{},
		Awards:  map[core.BadgeCode]core.UserBadgeAward{},
	}
	s.data[user] = st
	return st
}

func (s *Store) EnsureUserState(_ context.Context, user core.UserID, defs []core.BadgeDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.get(user)
	st.Initialized = true
	for _, def := range defs {
		if _, ok := st.Badges[def.Code]; !ok {
			st.Badges[def.Code] = core.UserBadgeState{UserID: user, Badge: def.Code}
		}
	}
	return s.persist()
}

func (s *Store) append(ar core.ActivityRecord) error {
	st := s.get(ar.UserID)
	s.nextID++
	ar.ID = s.nextID
	st.Activities = append(st.Activities, ar)
	return s.persist()
}

func (s *Store) AppendActivity(_ context.Context, ar core.ActivityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.append(ar)
}

func (s *Store) AppendCheckin(_ context.Context, ar core.ActivityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	day := core.DayOf(ar.OccurredAt)
	for _, existing := range s.get(ar.UserID).Activities {
		if existing.Kind == ar.Kind && core.DayOf(existing.OccurredAt).Equal(day) {
			return core.ErrAlreadyCheckedIn
		}
	}
	return s.append(ar)
}

func (s *Store) CountActivitiesSince(_ context.Context, user core.UserID, kind core.ActivityKind, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, ar := range s.get(user).Activities {
		if ar.Kind == kind && !ar.OccurredAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *Store) ActivityDays(_ context.Context, user core.UserID, kind core.ActivityKind) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	distinct := map[time.Time]struct{}{}
	for _, ar := range s.get(user).Activities {
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
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.get(user)
	nextExp, err := core.AddSafe(st.Profile.Experience, exp)
	if err != nil {
		return core.UserProfile{}, err
	}
	nextPoints, err := core.AddSafe(st.Profile.Points, points)
	if err != nil {
		return core.UserProfile{}, err
	}
	st.Profile.Experience = nextExp
	st.Profile.Points = nextPoints
	st.Profile.UpdatedAt = time.Now().UTC()
	if err := s.persist(); err != nil {
		return core.UserProfile{}, err
	}
	return st.Profile, nil
}

func (s *Store) SetLevel(_ context.Context, user core.UserID, level int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.get(user)
	if level <= st.Profile.Level {
		return nil
	}
	st.Profile.Level = level
	st.Profile.UpdatedAt = time.Now().UTC()
	return s.persist()
}

func (s *Store) GetProfile(_ context.Context, user core.UserID) (core.UserProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.data[user]
	if !ok || !st.Initialized {
		return core.UserProfile{}, core.ErrNotFound
	}
	return st.Profile, nil
}

func (s *Store) IncrementBadgeProgress(_ context.Context, user core.UserID, badge core.BadgeCode) (core.UserBadgeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.get(user)
	b, ok := st.Badges[badge]
	if !ok {
		return core.UserBadgeState{}, core.ErrNotFound
	}
	b.Progress++
	st.Badges[badge] = b
	if err := s.persist(); err != nil {
		return core.UserBadgeState{}, err
	}
	return b, nil
}

func (s *Store) PromoteBadge(_ context.Context, user core.UserID, badge core.BadgeCode, from, to int64, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.get(user)
	b, ok := st.Badges[badge]
	if !ok {
		return false, core.ErrNotFound
	}
	if b.CurrentLevel != from {
		return false, nil
	}
	b.CurrentLevel = to
	ts := at
	if b.FirstEarnedAt == nil {
		b.FirstEarnedAt = &ts
	}
	b.LastLevelUpAt = &ts
	st.Badges[badge] = b
	if err := s.persist(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) GetBadgeStates(_ context.Context, user core.UserID) ([]core.UserBadgeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.get(user)
	out := make([]core.UserBadgeState, 0, len(st.Badges))
	for _, b := range st.Badges {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Badge < out[j].Badge })
	return out, nil
}

func (s *Store) AwardBadge(_ context.Context, user core.UserID, badge core.BadgeCode) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.get(user)
	if _, ok := st.Awards[badge]; ok {
		return false, nil
	}
	st.Awards[badge] = core.UserBadgeAward{UserID: user, Badge: badge, EarnedAt: time.Now().UTC()}
	if err := s.persist(); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) ListAwards(_ context.Context, user core.UserID) ([]core.UserBadgeAward, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.get(user)
	out := make([]core.UserBadgeAward, 0, len(st.Awards))
	for _, a := range st.Awards {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Badge < out[j].Badge })
	return out, nil
}

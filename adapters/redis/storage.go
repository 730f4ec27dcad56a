package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"engagekit/core"
)

// Config holds Redis connection configuration
type Config struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// Store implements the engine.Store interface using Redis as the backend.
// Data structure:
// - user:{id}:profile -> hash {experience, points, level, updated_at}
// - user:{id}:badge:{code} -> hash {current_level, progress, first_earned_at, last_level_up_at}
// - user:{id}:badges -> set of badge codes
// - user:{id}:activities:{kind} -> list of JSON ledger records
// - user:{id}:days:{kind} -> set of YYYY-MM-DD day strings
// - user:{id}:daycount:{kind}:{day} -> per-day activity counter
// - user:{id}:awards -> hash code -> unix earned_at
type Store struct {
	client *redis.Client
}

// New creates a new Redis-backed store with the provided configuration
func New(config Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return &Store{client: client}, nil
}

// NewWithClient creates a Store using an existing Redis client (useful for testing)
func NewWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Close closes the Redis connection
func (s *Store) Close() error { return s.client.Close() }

const dayFormat = "2006-01-02"

func profileKey(user core.UserID) string { return fmt.Sprintf("user:%s:profile", user) }

func badgeKey(user core.UserID, badge core.BadgeCode) string {
	return fmt.Sprintf("user:%s:badge:%s", user, badge)
}

func badgeSetKey(user core.UserID) string { return fmt.Sprintf("user:%s:badges", user) }

func activitiesKey(user core.UserID, kind core.ActivityKind) string {
	return fmt.Sprintf("user:%s:activities:%s", user, kind)
}

func daysKey(user core.UserID, kind core.ActivityKind) string {
	return fmt.Sprintf("user:%s:days:%s", user, kind)
}

func dayCountKey(user core.UserID, kind core.ActivityKind, day string) string {
	return fmt.Sprintf("user:%s:daycount:%s:%s", user, kind, day)
}

func awardsKey(user core.UserID) string { return fmt.Sprintf("user:%s:awards", user) }

func (s *Store) EnsureUserState(ctx context.Context, user core.UserID, defs []core.BadgeDefinition) error {
	pipe := s.client.Pipeline()
	pk := profileKey(user)
	pipe.HSetNX(ctx, pk, "experience", 0)
	pipe.HSetNX(ctx, pk, "points", 0)
	pipe.HSetNX(ctx, pk, "level", 1)
	pipe.HSetNX(ctx, pk, "updated_at", time.Now().UTC().Unix())
	for _, def := range defs {
		bk := badgeKey(user, def.Code)
		pipe.SAdd(ctx, badgeSetKey(user), string(def.Code))
		pipe.HSetNX(ctx, bk, "current_level", 0)
		pipe.HSetNX(ctx, bk, "progress", 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ensure user state: %w", err)
	}
	return nil
}

func (s *Store) appendLedger(ctx context.Context, rec core.ActivityRecord, day string) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal activity: %w", err)
	}
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, activitiesKey(rec.UserID, rec.Kind), b)
	pipe.SAdd(ctx, daysKey(rec.UserID, rec.Kind), day)
	pipe.Incr(ctx, dayCountKey(rec.UserID, rec.Kind, day))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

func (s *Store) AppendActivity(ctx context.Context, rec core.ActivityRecord) error {
	return s.appendLedger(ctx, rec, core.DayOf(rec.OccurredAt).Format(dayFormat))
}

// AppendCheckin claims today's member in the day set first. SADD is the
// atomic check-and-set: exactly one concurrent caller gets 1 back.
func (s *Store) AppendCheckin(ctx context.Context, rec core.ActivityRecord) error {
	day := core.DayOf(rec.OccurredAt).Format(dayFormat)
	added, err := s.client.SAdd(ctx, daysKey(rec.UserID, rec.Kind), day).Result()
	if err != nil {
		return fmt.Errorf("claim checkin day: %w", err)
	}
	if added == 0 {
		return core.ErrAlreadyCheckedIn
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal activity: %w", err)
	}
	pipe := s.client.Pipeline()
	pipe.RPush(ctx, activitiesKey(rec.UserID, rec.Kind), b)
	pipe.Incr(ctx, dayCountKey(rec.UserID, rec.Kind, day))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append checkin: %w", err)
	}
	return nil
}

// CountActivitiesSince counts at calendar-day granularity by summing
// per-day counters; callers pass midnight boundaries.
func (s *Store) CountActivitiesSince(ctx context.Context, user core.UserID, kind core.ActivityKind, since time.Time) (int64, error) {
	sinceDay := core.DayOf(since)
	days, err := s.client.SMembers(ctx, daysKey(user, kind)).Result()
	if err != nil {
		return 0, fmt.Errorf("count activities: %w", err)
	}
	var total int64
	for _, d := range days {
		parsed, err := time.ParseInLocation(dayFormat, d, time.UTC)
		if err != nil || parsed.Before(sinceDay) {
			continue
		}
		n, err := s.client.Get(ctx, dayCountKey(user, kind, d)).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return 0, fmt.Errorf("count activities: %w", err)
		}
		total += n
	}
	return total, nil
}

func (s *Store) ActivityDays(ctx context.Context, user core.UserID, kind core.ActivityKind) ([]time.Time, error) {
	members, err := s.client.SMembers(ctx, daysKey(user, kind)).Result()
	if err != nil {
		return nil, fmt.Errorf("activity days: %w", err)
	}
	days := make([]time.Time, 0, len(members))
	for _, m := range members {
		parsed, err := time.ParseInLocation(dayFormat, m, time.UTC)
		if err != nil {
			continue // skip malformed entries
		}
		days = append(days, parsed)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].After(days[j]) })
	return days, nil
}

// Lua script for atomic reward increments returning the updated row.
var addRewardScript = redis.NewScript(`
	local key = KEYS[1]
	local exp = redis.call('HINCRBY', key, 'experience', ARGV[1])
	local points = redis.call('HINCRBY', key, 'points', ARGV[2])
	redis.call('HSET', key, 'updated_at', ARGV[3])
	local level = tonumber(redis.call('HGET', key, 'level') or '1')
	return {exp, points, level}
`)

func (s *Store) AddReward(ctx context.Context, user core.UserID, exp, points int64) (core.UserProfile, error) {
	now := time.Now().UTC()
	result, err := addRewardScript.Run(ctx, s.client, []string{profileKey(user)}, exp, points, now.Unix()).Result()
	if err != nil {
		return core.UserProfile{}, fmt.Errorf("add reward: %w", err)
	}
	vals, ok := result.([]interface{})
	if !ok || len(vals) != 3 {
		return core.UserProfile{}, errors.New("unexpected result type from Redis script")
	}
	return core.UserProfile{
		UserID:     user,
		Experience: toInt64(vals[0]),
		Points:     toInt64(vals[1]),
		Level:      toInt64(vals[2]),
		UpdatedAt:  now,
	}, nil
}

// Lua script raising the level only when it grows, keeping it monotonic.
var setLevelScript = redis.NewScript(`
	local key = KEYS[1]
	local current = tonumber(redis.call('HGET', key, 'level') or '1')
	local next_level = tonumber(ARGV[1])
	if next_level > current then
		redis.call('HSET', key, 'level', next_level)
		redis.call('HSET', key, 'updated_at', ARGV[2])
		return 1
	end
	return 0
`)

func (s *Store) SetLevel(ctx context.Context, user core.UserID, level int64) error {
	err := setLevelScript.Run(ctx, s.client, []string{profileKey(user)}, level, time.Now().UTC().Unix()).Err()
	if err != nil {
		return fmt.Errorf("set level: %w", err)
	}
	return nil
}

func (s *Store) GetProfile(ctx context.Context, user core.UserID) (core.UserProfile, error) {
	fields, err := s.client.HGetAll(ctx, profileKey(user)).Result()
	if err != nil {
		return core.UserProfile{}, fmt.Errorf("get profile: %w", err)
	}
	if len(fields) == 0 {
		return core.UserProfile{}, core.ErrNotFound
	}
	return core.UserProfile{
		UserID:     user,
		Experience: parseInt(fields["experience"]),
		Points:     parseInt(fields["points"]),
		Level:      parseInt(fields["level"]),
		UpdatedAt:  time.Unix(parseInt(fields["updated_at"]), 0).UTC(),
	}, nil
}

func (s *Store) IncrementBadgeProgress(ctx context.Context, user core.UserID, badge core.BadgeCode) (core.UserBadgeState, error) {
	key := badgeKey(user, badge)
	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return core.UserBadgeState{}, fmt.Errorf("increment badge progress: %w", err)
	}
	if exists == 0 {
		return core.UserBadgeState{}, core.ErrNotFound
	}
	progress, err := s.client.HIncrBy(ctx, key, "progress", 1).Result()
	if err != nil {
		return core.UserBadgeState{}, fmt.Errorf("increment badge progress: %w", err)
	}
	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return core.UserBadgeState{}, fmt.Errorf("read badge state: %w", err)
	}
	st := badgeStateFromFields(user, badge, fields)
	st.Progress = progress
	return st, nil
}

// Lua script promoting a badge with compare-and-set on current_level.
var promoteBadgeScript = redis.NewScript(`
	local key = KEYS[1]
	local from = tonumber(ARGV[1])
	local to = tonumber(ARGV[2])
	local current = tonumber(redis.call('HGET', key, 'current_level') or '-1')
	if current ~= from then
		return 0
	end
	redis.call('HSET', key, 'current_level', to)
	redis.call('HSET', key, 'last_level_up_at', ARGV[3])
	redis.call('HSETNX', key, 'first_earned_at', ARGV[3])
	return 1
`)

func (s *Store) PromoteBadge(ctx context.Context, user core.UserID, badge core.BadgeCode, from, to int64, at time.Time) (bool, error) {
	result, err := promoteBadgeScript.Run(ctx, s.client, []string{badgeKey(user, badge)}, from, to, at.UTC().Unix()).Result()
	if err != nil {
		return false, fmt.Errorf("promote badge: %w", err)
	}
	return toInt64(result) == 1, nil
}

func (s *Store) GetBadgeStates(ctx context.Context, user core.UserID) ([]core.UserBadgeState, error) {
	codes, err := s.client.SMembers(ctx, badgeSetKey(user)).Result()
	if err != nil {
		return nil, fmt.Errorf("get badge states: %w", err)
	}
	sort.Strings(codes)
	out := make([]core.UserBadgeState, 0, len(codes))
	for _, code := range codes {
		fields, err := s.client.HGetAll(ctx, badgeKey(user, core.BadgeCode(code))).Result()
		if err != nil {
			return nil, fmt.Errorf("get badge state %s: %w", code, err)
		}
		if len(fields) == 0 {
			continue
		}
		st := badgeStateFromFields(user, core.BadgeCode(code), fields)
		st.Progress = parseInt(fields["progress"])
		out = append(out, st)
	}
	return out, nil
}

func (s *Store) AwardBadge(ctx context.Context, user core.UserID, badge core.BadgeCode) (bool, error) {
	inserted, err := s.client.HSetNX(ctx, awardsKey(user), string(badge), time.Now().UTC().Unix()).Result()
	if err != nil {
		return false, fmt.Errorf("award badge: %w", err)
	}
	return inserted, nil
}

func (s *Store) ListAwards(ctx context.Context, user core.UserID) ([]core.UserBadgeAward, error) {
	fields, err := s.client.HGetAll(ctx, awardsKey(user)).Result()
	if err != nil {
		return nil, fmt.Errorf("list awards: %w", err)
	}
	out := make([]core.UserBadgeAward, 0, len(fields))
	for code, ts := range fields {
		out = append(out, core.UserBadgeAward{
			UserID:   user,
			Badge:    core.BadgeCode(code),
			EarnedAt: time.Unix(parseInt(ts), 0).UTC(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Badge < out[j].Badge })
	return out, nil
}

func badgeStateFromFields(user core.UserID, badge core.BadgeCode, fields map[string]string) core.UserBadgeState {
	st := core.UserBadgeState{
		UserID:       user,
		Badge:        badge,
		CurrentLevel: parseInt(fields["current_level"]),
	}
	if v, ok := fields["first_earned_at"]; ok {
		t := time.Unix(parseInt(v), 0).UTC()
		st.FirstEarnedAt = &t
	}
	if v, ok := fields["last_level_up_at"]; ok {
		t := time.Unix(parseInt(v), 0).UTC()
		st.LastLevelUpAt = &t
	}
	return st
}

func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func toInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case string:
		return parseInt(n)
	default:
		return 0
	}
}

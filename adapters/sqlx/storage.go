package sqlx

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	// database drivers registered for the supported dialects
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"

	"engagekit/core"
)

// Driver selects the SQL dialect.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
)

// Config holds SQL connection configuration.
type Config struct {
	Driver          Driver        `json:"driver"`
	DSN             string        `json:"dsn"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

// DefaultConfig returns sensible defaults for the given driver.
func DefaultConfig(driver Driver) Config {
	return Config{
		Driver:          driver,
		DSN:             "",
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// Store implements the engine.Store interface on a relational database
// via sqlx. All shared counters are mutated with in-place UPDATE
// statements, level raises carry a monotonic guard, and badge promotes
// are compare-and-set on current_level, so concurrent activities for
// the same user cannot lose increments or skip tiers.
type Store struct {
	db     *sqlx.DB
	driver Driver
}

// New opens a connection pool and pings it.
func New(cfg Config) (*Store, error) {
	if cfg.Driver != DriverPostgres && cfg.Driver != DriverMySQL {
		return nil, fmt.Errorf("unsupported sql driver: %s", cfg.Driver)
	}
	db, err := sqlx.Open(string(cfg.Driver), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}
	return &Store{db: db, driver: cfg.Driver}, nil
}

// NewWithDB wraps an existing connection (useful for testing).
func NewWithDB(db *sqlx.DB, driver Driver) *Store {
	return &Store{db: db, driver: driver}
}

func (s *Store) Close() error { return s.db.Close() }

// insertIgnore prefixes/suffixes an INSERT so a duplicate key is a
// silent no-op in both dialects.
func (s *Store) insertIgnore(table, columns, placeholders, conflictKey string) string {
	if s.driver == DriverMySQL {
		return fmt.Sprintf("INSERT IGNORE INTO %s (%s) VALUES (%s)", table, columns, placeholders)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO NOTHING",
		table, columns, placeholders, conflictKey)
}

func (s *Store) rebind(query string) string { return sqlx.Rebind(sqlx.BindType(string(s.driver)), query) }

// EnsureSchema creates the tables when they do not exist yet. Larger
// deployments run their own migrations instead.
func (s *Store) EnsureSchema(ctx context.Context) error {
	serial := "BIGSERIAL PRIMARY KEY"
	if s.driver == DriverMySQL {
		serial = "BIGINT AUTO_INCREMENT PRIMARY KEY"
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS user_profiles (
			user_id VARCHAR(128) PRIMARY KEY,
			experience BIGINT NOT NULL DEFAULT 0,
			points BIGINT NOT NULL DEFAULT 0,
			level BIGINT NOT NULL DEFAULT 1,
			updated_at TIMESTAMP NOT NULL
		)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS activity_log (
			id %s,
			user_id VARCHAR(128) NOT NULL,
			kind VARCHAR(64) NOT NULL,
			metadata TEXT,
			reference_id VARCHAR(128),
			occurred_at TIMESTAMP NOT NULL,
			occurred_on DATE NOT NULL
		)`, serial),
		`CREATE TABLE IF NOT EXISTS user_checkins (
			user_id VARCHAR(128) NOT NULL,
			checkin_day DATE NOT NULL,
			created_at TIMESTAMP NOT NULL,
			PRIMARY KEY (user_id, checkin_day)
		)`,
		`CREATE TABLE IF NOT EXISTS user_badge_states (
			user_id VARCHAR(128) NOT NULL,
			badge_code VARCHAR(64) NOT NULL,
			current_level BIGINT NOT NULL DEFAULT 0,
			progress BIGINT NOT NULL DEFAULT 0,
			first_earned_at TIMESTAMP NULL,
			last_level_up_at TIMESTAMP NULL,
			PRIMARY KEY (user_id, badge_code)
		)`,
		`CREATE TABLE IF NOT EXISTS user_badge_awards (
			user_id VARCHAR(128) NOT NULL,
			badge_code VARCHAR(64) NOT NULL,
			earned_at TIMESTAMP NOT NULL,
			PRIMARY KEY (user_id, badge_code)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *Store) EnsureUserState(ctx context.Context, user core.UserID, defs []core.BadgeDefinition) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	profileQ := s.rebind(s.insertIgnore("user_profiles",
		"user_id, experience, points, level, updated_at", "?, 0, 0, 1, ?", "user_id"))
	if _, err := tx.ExecContext(ctx, profileQ, user, now); err != nil {
		return fmt.Errorf("ensure profile: %w", err)
	}

	badgeQ := s.rebind(s.insertIgnore("user_badge_states",
		"user_id, badge_code, current_level, progress", "?, ?, 0, 0", "user_id, badge_code"))
	for _, def := range defs {
		if _, err := tx.ExecContext(ctx, badgeQ, user, def.Code); err != nil {
			return fmt.Errorf("ensure badge state %s: %w", def.Code, err)
		}
	}
	return tx.Commit()
}

func (s *Store) AppendActivity(ctx context.Context, rec core.ActivityRecord) error {
	meta, err := marshalMetadata(rec.Metadata)
	if err != nil {
		return err
	}
	q := s.rebind(`INSERT INTO activity_log (user_id, kind, metadata, reference_id, occurred_at, occurred_on)
		VALUES (?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, q, rec.UserID, rec.Kind, meta, rec.ReferenceID,
		rec.OccurredAt.UTC(), core.DayOf(rec.OccurredAt))
	if err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	return nil
}

// AppendCheckin claims the (user, day) row before appending the ledger
// record. The primary key on user_checkins is the idempotency guard:
// whichever concurrent request inserts the row wins, the other sees
// zero affected rows and core.ErrAlreadyCheckedIn.
func (s *Store) AppendCheckin(ctx context.Context, rec core.ActivityRecord) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	day := core.DayOf(rec.OccurredAt)
	claimQ := s.rebind(s.insertIgnore("user_checkins",
		"user_id, checkin_day, created_at", "?, ?, ?", "user_id, checkin_day"))
	res, err := tx.ExecContext(ctx, claimQ, rec.UserID, day, rec.OccurredAt.UTC())
	if err != nil {
		return fmt.Errorf("claim checkin day: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return core.ErrAlreadyCheckedIn
	}

	meta, err := marshalMetadata(rec.Metadata)
	if err != nil {
		return err
	}
	logQ := s.rebind(`INSERT INTO activity_log (user_id, kind, metadata, reference_id, occurred_at, occurred_on)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, logQ, rec.UserID, rec.Kind, meta, rec.ReferenceID,
		rec.OccurredAt.UTC(), day); err != nil {
		return fmt.Errorf("append checkin: %w", err)
	}
	return tx.Commit()
}

func (s *Store) CountActivitiesSince(ctx context.Context, user core.UserID, kind core.ActivityKind, since time.Time) (int64, error) {
	q := s.rebind(`SELECT COUNT(*) FROM activity_log WHERE user_id = ? AND kind = ? AND occurred_at >= ?`)
	var n int64
	if err := s.db.GetContext(ctx, &n, q, user, kind, since.UTC()); err != nil {
		return 0, fmt.Errorf("count activities: %w", err)
	}
	return n, nil
}

func (s *Store) ActivityDays(ctx context.Context, user core.UserID, kind core.ActivityKind) ([]time.Time, error) {
	q := s.rebind(`SELECT DISTINCT occurred_on FROM activity_log WHERE user_id = ? AND kind = ? ORDER BY occurred_on DESC`)
	var days []time.Time
	if err := s.db.SelectContext(ctx, &days, q, user, kind); err != nil {
		return nil, fmt.Errorf("activity days: %w", err)
	}
	return days, nil
}

type profileRow struct {
	UserID     string    `db:"user_id"`
	Experience int64     `db:"experience"`
	Points     int64     `db:"points"`
	Level      int64     `db:"level"`
	UpdatedAt  time.Time `db:"updated_at"`
}

func (r profileRow) toDomain() core.UserProfile {
	return core.UserProfile{
		UserID:     core.UserID(r.UserID),
		Experience: r.Experience,
		Points:     r.Points,
		Level:      r.Level,
		UpdatedAt:  r.UpdatedAt,
	}
}

func (s *Store) AddReward(ctx context.Context, user core.UserID, exp, points int64) (core.UserProfile, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return core.UserProfile{}, err
	}
	defer func() { _ = tx.Rollback() }()

	updateQ := s.rebind(`UPDATE user_profiles SET experience = experience + ?, points = points + ?, updated_at = ? WHERE user_id = ?`)
	res, err := tx.ExecContext(ctx, updateQ, exp, points, time.Now().UTC(), user)
	if err != nil {
		return core.UserProfile{}, fmt.Errorf("add reward: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return core.UserProfile{}, err
	}
	if affected == 0 {
		return core.UserProfile{}, core.ErrNotFound
	}

	var row profileRow
	selectQ := s.rebind(`SELECT user_id, experience, points, level, updated_at FROM user_profiles WHERE user_id = ?`)
	if err := tx.GetContext(ctx, &row, selectQ, user); err != nil {
		return core.UserProfile{}, fmt.Errorf("read profile: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return core.UserProfile{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) SetLevel(ctx context.Context, user core.UserID, level int64) error {
	// monotonic: a concurrent writer that already raised the level wins
	q := s.rebind(`UPDATE user_profiles SET level = ?, updated_at = ? WHERE user_id = ? AND level < ?`)
	if _, err := s.db.ExecContext(ctx, q, level, time.Now().UTC(), user, level); err != nil {
		return fmt.Errorf("set level: %w", err)
	}
	return nil
}

func (s *Store) GetProfile(ctx context.Context, user core.UserID) (core.UserProfile, error) {
	var row profileRow
	q := s.rebind(`SELECT user_id, experience, points, level, updated_at FROM user_profiles WHERE user_id = ?`)
	if err := s.db.GetContext(ctx, &row, q, user); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.UserProfile{}, core.ErrNotFound
		}
		return core.UserProfile{}, fmt.Errorf("get profile: %w", err)
	}
	return row.toDomain(), nil
}

type badgeStateRow struct {
	UserID        string       `db:"user_id"`
	BadgeCode     string       `db:"badge_code"`
	CurrentLevel  int64        `db:"current_level"`
	Progress      int64        `db:"progress"`
	FirstEarnedAt sql.NullTime `db:"first_earned_at"`
	LastLevelUpAt sql.NullTime `db:"last_level_up_at"`
}

func (r badgeStateRow) toDomain() core.UserBadgeState {
	st := core.UserBadgeState{
		UserID:       core.UserID(r.UserID),
		Badge:        core.BadgeCode(r.BadgeCode),
		CurrentLevel: r.CurrentLevel,
		Progress:     r.Progress,
	}
	if r.FirstEarnedAt.Valid {
		t := r.FirstEarnedAt.Time
		st.FirstEarnedAt = &t
	}
	if r.LastLevelUpAt.Valid {
		t := r.LastLevelUpAt.Time
		st.LastLevelUpAt = &t
	}
	return st
}

func (s *Store) IncrementBadgeProgress(ctx context.Context, user core.UserID, badge core.BadgeCode) (core.UserBadgeState, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return core.UserBadgeState{}, err
	}
	defer func() { _ = tx.Rollback() }()

	updateQ := s.rebind(`UPDATE user_badge_states SET progress = progress + 1 WHERE user_id = ? AND badge_code = ?`)
	res, err := tx.ExecContext(ctx, updateQ, user, badge)
	if err != nil {
		return core.UserBadgeState{}, fmt.Errorf("increment badge progress: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return core.UserBadgeState{}, err
	}
	if affected == 0 {
		return core.UserBadgeState{}, core.ErrNotFound
	}

	var row badgeStateRow
	selectQ := s.rebind(`SELECT user_id, badge_code, current_level, progress, first_earned_at, last_level_up_at
		FROM user_badge_states WHERE user_id = ? AND badge_code = ?`)
	if err := tx.GetContext(ctx, &row, selectQ, user, badge); err != nil {
		return core.UserBadgeState{}, fmt.Errorf("read badge state: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return core.UserBadgeState{}, err
	}
	return row.toDomain(), nil
}

func (s *Store) PromoteBadge(ctx context.Context, user core.UserID, badge core.BadgeCode, from, to int64, at time.Time) (bool, error) {
	q := s.rebind(`UPDATE user_badge_states
		SET current_level = ?, last_level_up_at = ?, first_earned_at = COALESCE(first_earned_at, ?)
		WHERE user_id = ? AND badge_code = ? AND current_level = ?`)
	res, err := s.db.ExecContext(ctx, q, to, at.UTC(), at.UTC(), user, badge, from)
	if err != nil {
		return false, fmt.Errorf("promote badge: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (s *Store) GetBadgeStates(ctx context.Context, user core.UserID) ([]core.UserBadgeState, error) {
	var rows []badgeStateRow
	q := s.rebind(`SELECT user_id, badge_code, current_level, progress, first_earned_at, last_level_up_at
		FROM user_badge_states WHERE user_id = ? ORDER BY badge_code`)
	if err := s.db.SelectContext(ctx, &rows, q, user); err != nil {
		return nil, fmt.Errorf("get badge states: %w", err)
	}
	out := make([]core.UserBadgeState, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) AwardBadge(ctx context.Context, user core.UserID, badge core.BadgeCode) (bool, error) {
	q := s.rebind(s.insertIgnore("user_badge_awards",
		"user_id, badge_code, earned_at", "?, ?, ?", "user_id, badge_code"))
	res, err := s.db.ExecContext(ctx, q, user, badge, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("award badge: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

type awardRow struct {
	UserID    string    `db:"user_id"`
	BadgeCode string    `db:"badge_code"`
	EarnedAt  time.Time `db:"earned_at"`
}

func (s *Store) ListAwards(ctx context.Context, user core.UserID) ([]core.UserBadgeAward, error) {
	var rows []awardRow
	q := s.rebind(`SELECT user_id, badge_code, earned_at FROM user_badge_awards WHERE user_id = ? ORDER BY earned_at`)
	if err := s.db.SelectContext(ctx, &rows, q, user); err != nil {
		return nil, fmt.Errorf("list awards: %w", err)
	}
	out := make([]core.UserBadgeAward, 0, len(rows))
	for _, r := range rows {
		out = append(out, core.UserBadgeAward{
			UserID:   core.UserID(r.UserID),
			Badge:    core.BadgeCode(r.BadgeCode),
			EarnedAt: r.EarnedAt,
		})
	}
	return out, nil
}

func marshalMetadata(m map[string]string) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal metadata: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

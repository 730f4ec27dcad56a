package sqlx_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	libsqlx "github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	storage "engagekit/adapters/sqlx"
	"engagekit/core"
)

func newMockStore(t *testing.T) (*storage.Store, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	xdb := storage.NewWithDB(libsqlx.NewDb(db, "postgres"), storage.DriverPostgres)
	cleanup := func() {
		_ = db.Close()
	}
	return xdb, mock, cleanup
}

func TestSQLMock_EnsureUserState(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	ctx := context.Background()
	user := core.UserID("u1")
	defs := []core.BadgeDefinition{{Code: "poster", LevelThresholds: []int64{3}}}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO user_profiles`).
		WithArgs(user, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO user_badge_states`).
		WithArgs(user, defs[0].Code).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.EnsureUserState(ctx, user, defs))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_AddReward(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	ctx := context.Background()
	user := core.UserID("u1")

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE user_profiles SET experience = experience \+`).
		WithArgs(int64(100), int64(25), sqlmock.AnyArg(), user).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT user_id, experience, points, level, updated_at FROM user_profiles`).
		WithArgs(user).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "experience", "points", "level", "updated_at"}).
			AddRow("u1", 100, 25, 1, time.Now()))
	mock.ExpectCommit()

	profile, err := store.AddReward(ctx, user, 100, 25)
	require.NoError(t, err)
	require.Equal(t, int64(100), profile.Experience)
	require.Equal(t, int64(25), profile.Points)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_AddReward_MissingRow(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE user_profiles SET experience`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := store.AddReward(context.Background(), "u1", 10, 5)
	require.ErrorIs(t, err, core.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_AppendCheckin_Duplicate(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	rec := core.ActivityRecord{
		UserID:     "u1",
		Kind:       core.ActivityDailyCheckin,
		OccurredAt: time.Date(2024, 5, 20, 8, 0, 0, 0, time.UTC),
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO user_checkins`).
		WithArgs(rec.UserID, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := store.AppendCheckin(context.Background(), rec)
	require.ErrorIs(t, err, core.ErrAlreadyCheckedIn)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_AppendCheckin_FirstOfDay(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	rec := core.ActivityRecord{
		UserID:     "u1",
		Kind:       core.ActivityDailyCheckin,
		OccurredAt: time.Date(2024, 5, 20, 8, 0, 0, 0, time.UTC),
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO user_checkins`).
		WithArgs(rec.UserID, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(`INSERT INTO activity_log`).
		WithArgs(rec.UserID, rec.Kind, sqlmock.AnyArg(), rec.ReferenceID, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, store.AppendCheckin(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_SetLevel_MonotonicNoop(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	user := core.UserID("u1")
	// the guard filters the row out when the stored level is higher
	mock.ExpectExec(`UPDATE user_profiles SET level`).
		WithArgs(int64(3), sqlmock.AnyArg(), user, int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, store.SetLevel(context.Background(), user, 3))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_PromoteBadge_CAS(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	ctx := context.Background()
	user := core.UserID("u1")
	badge := core.BadgeCode("poster")
	at := time.Date(2024, 5, 20, 8, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE user_badge_states`).
		WithArgs(int64(1), sqlmock.AnyArg(), sqlmock.AnyArg(), user, badge, int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	promoted, err := store.PromoteBadge(ctx, user, badge, 0, 1, at)
	require.NoError(t, err)
	require.True(t, promoted)

	// a concurrent writer already moved the level: zero rows, no promote
	mock.ExpectExec(`UPDATE user_badge_states`).
		WithArgs(int64(1), sqlmock.AnyArg(), sqlmock.AnyArg(), user, badge, int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	promoted, err = store.PromoteBadge(ctx, user, badge, 0, 1, at)
	require.NoError(t, err)
	require.False(t, promoted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_IncrementBadgeProgress(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	user := core.UserID("u1")
	badge := core.BadgeCode("poster")

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE user_badge_states SET progress = progress \+ 1`).
		WithArgs(user, badge).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`SELECT user_id, badge_code, current_level, progress`).
		WithArgs(user, badge).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "badge_code", "current_level", "progress", "first_earned_at", "last_level_up_at"}).
			AddRow("u1", "poster", 0, 4, nil, nil))
	mock.ExpectCommit()

	st, err := store.IncrementBadgeProgress(context.Background(), user, badge)
	require.NoError(t, err)
	require.Equal(t, int64(4), st.Progress)
	require.Equal(t, int64(0), st.CurrentLevel)
	require.Nil(t, st.FirstEarnedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_GetProfile_NotFound(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT user_id, experience, points, level, updated_at FROM user_profiles`).
		WithArgs(core.UserID("ghost")).
		WillReturnError(sql.ErrNoRows)

	_, err := store.GetProfile(context.Background(), "ghost")
	require.True(t, errors.Is(err, core.ErrNotFound))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_AwardBadge_Idempotent(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	ctx := context.Background()
	user := core.UserID("u1")
	badge := core.BadgeCode("starter")

	mock.ExpectExec(`INSERT INTO user_badge_awards`).
		WithArgs(user, badge, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	inserted, err := store.AwardBadge(ctx, user, badge)
	require.NoError(t, err)
	require.True(t, inserted)

	mock.ExpectExec(`INSERT INTO user_badge_awards`).
		WithArgs(user, badge, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	inserted, err = store.AwardBadge(ctx, user, badge)
	require.NoError(t, err)
	require.False(t, inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

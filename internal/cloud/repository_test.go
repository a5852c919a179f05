// ABOUTME: Unit tests for the cloud repository against a pgxmock pool.
// ABOUTME: Covers id validation, signed-out behavior, the upsert protocol and tree assembly.
package cloud

import (
	"context"
	"errors"
	"testing"
	"time"

	pgxmock "github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/harperreed/lifts/internal/auth"
	"github.com/harperreed/lifts/internal/models"
)

const (
	testUser    = "user-1"
	sessionID   = "3f2b8c4e-1d2a-4b6c-9e8f-0a1b2c3d4e5f"
	exerciseID  = "7a1c2d3e-4f50-4a6b-8c7d-8e9f0a1b2c3d"
	exercise2ID = "5c4b3a29-1807-4f6e-9d5c-4b3a29180706"
	setID       = "9b8a7c6d-5e4f-4a3b-9c1d-0e1f2a3b4c5d"
	set2ID      = "1a2b3c4d-5e6f-4a7b-8c9d-0e1f2a3b4c5d"
	orphanID    = "0f1e2d3c-4b5a-4968-8776-655443322110"
)

var testTime = time.Date(2024, 12, 18, 12, 0, 0, 0, time.UTC)

func newMockRepo(t *testing.T, users auth.UserSource) (*Repository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	repo := NewRepository(mock, users,
		WithLogger(zaptest.NewLogger(t)),
		WithClock(func() time.Time { return testTime }),
	)
	return repo, mock
}

func testSession() *models.WorkoutSession {
	return &models.WorkoutSession{
		ID:          sessionID,
		PerformedOn: "2024-12-18",
		Exercises: []models.WorkoutExercise{{
			ID:        exerciseID,
			SessionID: sessionID,
			NameRaw:   "Bench Press",
			Sets: []models.WorkoutSet{{
				ID:         setID,
				ExerciseID: exerciseID,
				Reps:       5,
				WeightText: "100kg",
				CreatedAt:  testTime,
				UpdatedAt:  testTime,
			}},
			CreatedAt: testTime,
			UpdatedAt: testTime,
		}},
		CreatedAt: testTime,
		UpdatedAt: testTime,
	}
}

func expectTxStart(mock pgxmock.PgxPoolIface) {
	mock.ExpectBegin()
	mock.ExpectExec(`set_config\('app.user_id'`).
		WithArgs(testUser).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
}

func TestUpsertRejectsInvalidIDsBeforeNetwork(t *testing.T) {
	repo, mock := newMockRepo(t, auth.Static(testUser))

	s := testSession()
	s.Exercises[0].Sets[0].ID = "legacy-set-1"

	err := repo.UpsertSession(context.Background(), s)
	assert.ErrorIs(t, err, models.ErrInvalidID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRequiresUser(t *testing.T) {
	repo, mock := newMockRepo(t, auth.Static(""))

	err := repo.UpsertSession(context.Background(), testSession())
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReadsWithoutUserAreEmpty(t *testing.T) {
	repo, mock := newMockRepo(t, auth.Static(""))
	ctx := context.Background()

	sessions, err := repo.ListSessions(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, sessions)

	got, err := repo.GetWorkoutSession(ctx, sessionID)
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSessionProtocol(t *testing.T) {
	repo, mock := newMockRepo(t, auth.Static(testUser))

	expectTxStart(mock)
	mock.ExpectQuery(`SELECT id::text FROM workout_exercises WHERE session_id`).
		WithArgs(sessionID).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(exerciseID).AddRow(orphanID))
	mock.ExpectExec(`INSERT INTO workout_sessions`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO workout_exercises`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(exerciseID, sessionID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectExec(`DELETE FROM workout_sets\s+WHERE exercise_id = ANY\(\$1::uuid\[\]\) AND NOT`).
		WithArgs([]string{exerciseID}, []string{setID}).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectExec(`INSERT INTO workout_sets`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM workout_sets WHERE exercise_id`).
		WithArgs([]string{orphanID}).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))
	mock.ExpectExec(`DELETE FROM workout_exercises`).
		WithArgs([]string{orphanID}, sessionID).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectCommit()
	mock.ExpectCommit()

	err := repo.UpsertSession(context.Background(), testSession())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSkipsSetsOfUnverifiedExercise(t *testing.T) {
	repo, mock := newMockRepo(t, auth.Static(testUser))

	expectTxStart(mock)
	mock.ExpectQuery(`SELECT id::text FROM workout_exercises`).
		WithArgs(sessionID).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectExec(`INSERT INTO workout_sessions`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO workout_exercises`).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs(exerciseID, sessionID).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectCommit()

	err := repo.UpsertSession(context.Background(), testSession())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertOrphanCleanupFailureDoesNotAbort(t *testing.T) {
	repo, mock := newMockRepo(t, auth.Static(testUser))

	s := testSession()
	s.Exercises = nil

	expectTxStart(mock)
	mock.ExpectQuery(`SELECT id::text FROM workout_exercises`).
		WithArgs(sessionID).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(orphanID))
	mock.ExpectExec(`INSERT INTO workout_sessions`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM workout_sets WHERE exercise_id`).
		WithArgs([]string{orphanID}).
		WillReturnError(errors.New("lock timeout"))
	mock.ExpectRollback()
	mock.ExpectCommit()

	err := repo.UpsertSession(context.Background(), s)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertRollsBackOnSessionWriteFailure(t *testing.T) {
	repo, mock := newMockRepo(t, auth.Static(testUser))

	expectTxStart(mock)
	mock.ExpectQuery(`SELECT id::text FROM workout_exercises`).
		WithArgs(sessionID).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectExec(`INSERT INTO workout_sessions`).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	err := repo.UpsertSession(context.Background(), testSession())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListSessionsAssemblesTrees(t *testing.T) {
	repo, mock := newMockRepo(t, auth.Static(testUser))

	title := "Push"
	kg := 100.0

	expectTxStart(mock)
	mock.ExpectQuery(`SELECT .* FROM workout_sessions WHERE user_id = \$1 AND deleted_at IS NULL`).
		WithArgs(testUser).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "performed_on", "title", "notes", "source",
			"created_at", "updated_at", "deleted_at"}).
			AddRow(sessionID, testUser, "2024-12-18", &title, nil, nil, testTime, testTime, nil))
	mock.ExpectQuery(`SELECT .* FROM workout_exercises WHERE session_id = ANY`).
		WithArgs([]string{sessionID}).
		WillReturnRows(pgxmock.NewRows([]string{"id", "session_id", "name_raw", "name_canonical",
			"primary_muscle_group", "muscle_contributions", "created_at", "updated_at"}).
			AddRow(exerciseID, sessionID, "Bench Press", nil, nil, []byte(`[{"muscle":"chest","weight":0.7}]`), testTime, testTime).
			AddRow(exercise2ID, sessionID, "Dips", nil, nil, nil, testTime, testTime))
	mock.ExpectQuery(`SELECT .* FROM workout_sets WHERE exercise_id = ANY`).
		WithArgs([]string{exerciseID, exercise2ID}).
		WillReturnRows(pgxmock.NewRows([]string{"id", "exercise_id", "set_index", "reps", "weight_text",
			"weight_kg", "is_bodyweight", "created_at", "updated_at"}).
			AddRow(set2ID, exerciseID, 1, 3, "110kg", &kg, false, testTime, testTime).
			AddRow(setID, exerciseID, 0, 5, "100kg", &kg, false, testTime, testTime))
	mock.ExpectCommit()

	sessions, err := repo.ListSessions(context.Background(), false)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	s := sessions[0]
	assert.Equal(t, "2024-12-18", s.PerformedOn)
	require.NotNil(t, s.Title)
	assert.Equal(t, "Push", *s.Title)
	require.Len(t, s.Exercises, 2)

	bench := s.Exercises[0]
	require.Len(t, bench.Sets, 2)
	assert.Equal(t, setID, bench.Sets[0].ID, "sets should be ordered by set index")
	assert.Equal(t, 0.7, bench.MuscleContributions[0].Weight)
	assert.Empty(t, s.Exercises[1].Sets)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetWorkoutSessionMissing(t *testing.T) {
	repo, mock := newMockRepo(t, auth.Static(testUser))

	expectTxStart(mock)
	mock.ExpectQuery(`SELECT .* FROM workout_sessions WHERE user_id = \$1 AND id = \$2`).
		WithArgs(testUser, sessionID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "user_id", "performed_on", "title", "notes", "source",
			"created_at", "updated_at", "deleted_at"}))
	mock.ExpectCommit()

	got, err := repo.GetWorkoutSession(context.Background(), sessionID)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSoftDeleteSession(t *testing.T) {
	repo, mock := newMockRepo(t, auth.Static(testUser))

	expectTxStart(mock)
	mock.ExpectExec(`UPDATE workout_sessions SET deleted_at`).
		WithArgs(sessionID, testTime, testUser).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, repo.SoftDeleteSession(context.Background(), sessionID))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteSessionValidatesID(t *testing.T) {
	repo, mock := newMockRepo(t, auth.Static(testUser))

	err := repo.DeleteSession(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, models.ErrInvalidID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

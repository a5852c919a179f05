// ABOUTME: Tests for LocalRepository over an in-memory Badger KV.
// ABOUTME: Covers first-time migration, upsert replace semantics, tombstones and compaction.
package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/harperreed/lifts/internal/models"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func setupTestKV(t *testing.T) *BadgerKV {
	t.Helper()
	kv, err := OpenInMemory()
	if err != nil {
		t.Fatalf("OpenInMemory failed: %v", err)
	}
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

func setupTestRepo(t *testing.T) (*LocalRepository, *BadgerKV, *testClock) {
	t.Helper()
	kv := setupTestKV(t)
	clock := &testClock{now: time.Date(2024, 12, 18, 12, 0, 0, 0, time.UTC)}
	repo := NewLocalRepository(kv,
		WithClock(clock.Now),
		WithLogger(zaptest.NewLogger(t)),
	)
	return repo, kv, clock
}

func benchSession(performedOn string) *models.WorkoutSession {
	s := models.NewSession(performedOn, nil)
	models.MergeExercises(s, []models.ParsedExercise{
		{Name: "Bench Press", Reps: []int{10, 8}, Weights: []string{"135", "155"}},
		{Name: "Row", Reps: []int{12}, Weights: []string{"60kg"}},
	}, nil, s.CreatedAt)
	return s
}

func TestFirstTimeMigration(t *testing.T) {
	repo, kv, _ := setupTestRepo(t)
	ctx := context.Background()

	if err := kv.Set(SessionsKey, []byte(legacyBlob)); err != nil {
		t.Fatalf("seed legacy blob: %v", err)
	}

	sessions, err := repo.ListSessions(ctx, false)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("expected 1 session, got %d", len(sessions))
	}
	s := sessions[0]
	if s.PerformedOn != "2024-12-18" || len(s.Exercises) != 2 {
		t.Errorf("unexpected migrated session: %+v", s)
	}
	if err := models.ValidateIDs(s); err != nil {
		t.Errorf("migrated ids should be canonical: %v", err)
	}

	marker, err := kv.Get(VersionKey)
	if err != nil {
		t.Fatalf("read marker: %v", err)
	}
	if DataVersion(marker) != CurrentVersion {
		t.Errorf("marker = %s, want %s", marker, CurrentVersion)
	}

	// A second read must not re-migrate and reassign ids.
	again, err := repo.ListSessions(ctx, false)
	if err != nil {
		t.Fatalf("second ListSessions failed: %v", err)
	}
	if again[0].ID != s.ID {
		t.Errorf("session id changed between reads: %s vs %s", s.ID, again[0].ID)
	}
}

func TestMigrationStableAcrossRepositories(t *testing.T) {
	kv := setupTestKV(t)
	ctx := context.Background()
	if err := kv.Set(SessionsKey, []byte(legacyBlob)); err != nil {
		t.Fatalf("seed legacy blob: %v", err)
	}

	first, err := NewLocalRepository(kv).ListSessions(ctx, false)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	second, err := NewLocalRepository(kv).ListSessions(ctx, false)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	if first[0].ID != second[0].ID || first[0].Exercises[0].Sets[0].ID != second[0].Exercises[0].Sets[0].ID {
		t.Error("ids must be stable once migrated")
	}
}

func TestMigrationFromV1CanonicalizesOnly(t *testing.T) {
	repo, kv, _ := setupTestRepo(t)
	ctx := context.Background()

	blob := `[{"id":"s1","performedOn":"2024-12-01","exercises":[{"id":"e1","sessionId":"s1","nameRaw":"Squat","sets":[]}],"createdAt":"2024-12-01T10:00:00Z","updatedAt":"2024-12-01T10:00:00Z"}]`
	_ = kv.Set(SessionsKey, []byte(blob))
	_ = kv.Set(VersionKey, []byte(VersionNormalized))

	version, err := repo.Migrate(ctx)
	if err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	if version != CurrentVersion {
		t.Errorf("version = %s, want %s", version, CurrentVersion)
	}

	sessions, err := repo.ListSessions(ctx, false)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	s := sessions[0]
	if s.ID == "s1" || !models.IsUUIDv4(s.ID) {
		t.Errorf("expected canonical id, got %s", s.ID)
	}
	if s.Exercises[0].SessionID != s.ID {
		t.Error("exercise should reference the canonical session id")
	}
	if !s.UpdatedAt.Equal(time.Date(2024, 12, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("existing timestamps should survive, got %v", s.UpdatedAt)
	}
}

func TestMigrationFailureKeepsBackup(t *testing.T) {
	repo, kv, _ := setupTestRepo(t)
	ctx := context.Background()

	garbage := []byte(`{"this is": "not an array"`)
	_ = kv.Set(SessionsKey, garbage)

	sessions, err := repo.ListSessions(ctx, false)
	if err != nil {
		t.Fatalf("ListSessions should not fail on bad legacy data: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("expected empty list, got %d", len(sessions))
	}

	backup, err := kv.Get(BackupKey)
	if err != nil {
		t.Fatalf("backup missing: %v", err)
	}
	if string(backup) != string(garbage) {
		t.Errorf("backup = %s, want original blob", backup)
	}

	version, _ := repo.DataVersion(ctx)
	if version != CurrentVersion {
		t.Errorf("marker should still advance, got %s", version)
	}
}

func TestMigrationKeepsGoodRecordsWhenOneFails(t *testing.T) {
	repo, kv, _ := setupTestRepo(t)
	ctx := context.Background()

	blob := []byte(`[
	  {"id": "s1", "date": "2024-12-18", "exercises": [{"id": "e1", "exercise": "Bench Press", "reps": [5, 5], "weights": ["80kg"]}]},
	  {"id": "s2", "date": "2024-12-19", "exercises": [{"id": "e2", "exercise": "Squat", "reps": ["ten"]}]}
	]`)
	if err := kv.Set(SessionsKey, blob); err != nil {
		t.Fatalf("seed legacy blob: %v", err)
	}

	sessions, err := repo.ListSessions(ctx, true)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want the one valid record", len(sessions))
	}
	if sessions[0].PerformedOn != "2024-12-18" || sessions[0].SetCount() != 2 {
		t.Errorf("kept session = %s with %d sets", sessions[0].PerformedOn, sessions[0].SetCount())
	}

	backup, err := kv.Get(BackupKey)
	if err != nil {
		t.Fatalf("backup missing: %v", err)
	}
	if !strings.Contains(string(backup), `"ten"`) {
		t.Errorf("backup should hold the record that failed, got %s", backup)
	}

	// A second repository sees the persisted result, not a re-run.
	again, err := NewLocalRepository(kv).ListSessions(ctx, true)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(again) != 1 || again[0].ID != sessions[0].ID {
		t.Errorf("reopened sessions = %+v", again)
	}
}

func TestUpsertStampsAtMicrosecondPrecision(t *testing.T) {
	repo, _, clock := setupTestRepo(t)
	ctx := context.Background()
	clock.Advance(987654321 * time.Nanosecond)

	s := benchSession("2024-12-18")
	if err := repo.UpsertSession(ctx, s); err != nil {
		t.Fatalf("UpsertSession failed: %v", err)
	}
	want := clock.Now().Truncate(time.Microsecond)
	if !s.UpdatedAt.Equal(want) {
		t.Errorf("UpdatedAt = %v, want %v", s.UpdatedAt, want)
	}

	clock.Advance(time.Minute)
	if err := repo.SoftDeleteSession(ctx, s.ID); err != nil {
		t.Fatalf("SoftDeleteSession failed: %v", err)
	}
	got, _ := repo.GetWorkoutSession(ctx, s.ID)
	if got.DeletedAt.Nanosecond()%1000 != 0 {
		t.Errorf("DeletedAt %v carries sub-microsecond digits", got.DeletedAt)
	}
}

func TestEmptyStoreMigratesCleanly(t *testing.T) {
	repo, _, _ := setupTestRepo(t)
	ctx := context.Background()

	before, _ := repo.DataVersion(ctx)
	if before != VersionLegacy {
		t.Errorf("fresh store version = %s, want %s", before, VersionLegacy)
	}

	sessions, err := repo.ListSessions(ctx, true)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 0 {
		t.Errorf("expected no sessions, got %d", len(sessions))
	}
}

func TestUpsertAndGetSession(t *testing.T) {
	repo, _, clock := setupTestRepo(t)
	ctx := context.Background()

	s := benchSession("2024-12-18").WithTitle("Push")
	created := s.CreatedAt
	clock.Advance(time.Minute)

	if err := repo.UpsertSession(ctx, s); err != nil {
		t.Fatalf("UpsertSession failed: %v", err)
	}
	if !s.UpdatedAt.Equal(clock.Now()) {
		t.Errorf("UpdatedAt = %v, want %v", s.UpdatedAt, clock.Now())
	}

	got, err := repo.GetWorkoutSession(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetWorkoutSession failed: %v", err)
	}
	if got == nil {
		t.Fatal("expected session, got nil")
	}
	if got.Title == nil || *got.Title != "Push" {
		t.Errorf("Title = %v, want Push", got.Title)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	if got.SetCount() != 3 {
		t.Errorf("SetCount = %d, want 3", got.SetCount())
	}
}

func TestGetMissingSessionReturnsNil(t *testing.T) {
	repo, _, _ := setupTestRepo(t)

	got, err := repo.GetWorkoutSession(context.Background(), models.NewID())
	if err != nil {
		t.Fatalf("GetWorkoutSession failed: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestUpsertReplacesSubtree(t *testing.T) {
	repo, _, clock := setupTestRepo(t)
	ctx := context.Background()

	s := benchSession("2024-12-18")
	if err := repo.UpsertSession(ctx, s); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	firstCreated := s.CreatedAt
	firstUpdated := s.UpdatedAt

	// Drop one exercise and one set.
	s.Exercises = s.Exercises[:1]
	s.Exercises[0].Sets = s.Exercises[0].Sets[:1]
	if err := repo.UpsertSession(ctx, s); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, _ := repo.GetWorkoutSession(ctx, s.ID)
	if len(got.Exercises) != 1 || len(got.Exercises[0].Sets) != 1 {
		t.Errorf("expected subtree to be replaced, got %d exercises", len(got.Exercises))
	}
	if !got.CreatedAt.Equal(firstCreated) {
		t.Errorf("CreatedAt changed: %v -> %v", firstCreated, got.CreatedAt)
	}
	if !got.UpdatedAt.After(firstUpdated) {
		t.Errorf("UpdatedAt should move forward even with a frozen clock: %v -> %v", firstUpdated, got.UpdatedAt)
	}

	all, _ := repo.ListSessions(ctx, false)
	if len(all) != 1 {
		t.Errorf("expected 1 session after replace, got %d", len(all))
	}

	clock.Advance(time.Hour)
	s.WithNotes("later")
	if err := repo.UpsertSession(ctx, s); err != nil {
		t.Fatalf("third upsert: %v", err)
	}
	if !s.UpdatedAt.Equal(clock.Now()) {
		t.Errorf("UpdatedAt = %v, want %v", s.UpdatedAt, clock.Now())
	}
}

func TestUpsertPreserveTimestamps(t *testing.T) {
	repo, _, _ := setupTestRepo(t)
	ctx := context.Background()

	s := benchSession("2024-12-10")
	remote := time.Date(2024, 12, 10, 7, 30, 0, 0, time.UTC)
	s.CreatedAt = remote
	s.UpdatedAt = remote

	if err := repo.UpsertSessionWithOptions(ctx, s, UpsertOptions{PreserveTimestamps: true}); err != nil {
		t.Fatalf("UpsertSessionWithOptions failed: %v", err)
	}
	got, _ := repo.GetWorkoutSession(ctx, s.ID)
	if !got.UpdatedAt.Equal(remote) {
		t.Errorf("UpdatedAt = %v, want preserved %v", got.UpdatedAt, remote)
	}
}

func TestUpsertCanonicalizesIDs(t *testing.T) {
	repo, _, _ := setupTestRepo(t)
	ctx := context.Background()

	s := &models.WorkoutSession{
		ID:          "draft",
		PerformedOn: "2024-12-18",
		Exercises: []models.WorkoutExercise{{
			ID:      "draft-ex",
			NameRaw: "Curl",
			Sets:    []models.WorkoutSet{{ID: "draft-set", Reps: 10, WeightText: "30"}},
		}},
	}
	if err := repo.UpsertSession(ctx, s); err != nil {
		t.Fatalf("UpsertSession failed: %v", err)
	}
	if err := models.ValidateIDs(s); err != nil {
		t.Errorf("caller copy should carry canonical ids: %v", err)
	}
	got, _ := repo.GetWorkoutSession(ctx, s.ID)
	if got == nil {
		t.Fatal("expected stored session under canonical id")
	}
}

func TestListSessionsOrdering(t *testing.T) {
	repo, _, _ := setupTestRepo(t)
	ctx := context.Background()

	for _, day := range []string{"2024-12-01", "2024-12-18", "2024-12-10"} {
		if err := repo.UpsertSession(ctx, models.NewSession(day, nil)); err != nil {
			t.Fatalf("UpsertSession %s: %v", day, err)
		}
	}

	sessions, err := repo.ListSessions(ctx, false)
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	want := []string{"2024-12-18", "2024-12-10", "2024-12-01"}
	for i, w := range want {
		if sessions[i].PerformedOn != w {
			t.Errorf("sessions[%d] = %s, want %s", i, sessions[i].PerformedOn, w)
		}
	}
}

func TestSoftDeleteKeepsTombstone(t *testing.T) {
	repo, _, clock := setupTestRepo(t)
	ctx := context.Background()

	s := benchSession("2024-12-18")
	_ = repo.UpsertSession(ctx, s)
	clock.Advance(time.Minute)

	if err := repo.SoftDeleteSession(ctx, s.ID); err != nil {
		t.Fatalf("SoftDeleteSession failed: %v", err)
	}

	visible, _ := repo.ListSessions(ctx, false)
	if len(visible) != 0 {
		t.Errorf("tombstone should be hidden, got %d sessions", len(visible))
	}
	all, _ := repo.ListSessions(ctx, true)
	if len(all) != 1 || !all[0].IsDeleted() {
		t.Fatalf("expected tombstone in full listing, got %+v", all)
	}
	if !all[0].UpdatedAt.Equal(clock.Now()) {
		t.Errorf("tombstone should bump UpdatedAt, got %v", all[0].UpdatedAt)
	}

	if err := repo.SoftDeleteSession(ctx, models.NewID()); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteSession(t *testing.T) {
	repo, _, _ := setupTestRepo(t)
	ctx := context.Background()

	s := benchSession("2024-12-18")
	_ = repo.UpsertSession(ctx, s)

	if err := repo.DeleteSession(ctx, s.ID); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	all, _ := repo.ListSessions(ctx, true)
	if len(all) != 0 {
		t.Errorf("expected no sessions, got %d", len(all))
	}
	if err := repo.DeleteSession(ctx, s.ID); err != nil {
		t.Errorf("deleting a missing session should be a no-op: %v", err)
	}
}

func TestCompactRemovesOldTombstones(t *testing.T) {
	repo, _, clock := setupTestRepo(t)
	ctx := context.Background()

	old := benchSession("2024-11-01")
	recent := benchSession("2024-12-01")
	live := benchSession("2024-12-18")
	for _, s := range []*models.WorkoutSession{old, recent, live} {
		_ = repo.UpsertSession(ctx, s)
	}

	_ = repo.SoftDeleteSession(ctx, old.ID)
	clock.Advance(30 * 24 * time.Hour)
	_ = repo.SoftDeleteSession(ctx, recent.ID)

	removed, err := repo.Compact(ctx, clock.Now().Add(-7*24*time.Hour))
	if err != nil {
		t.Fatalf("Compact failed: %v", err)
	}
	if len(removed) != 1 || removed[0] != old.ID {
		t.Errorf("removed = %v, want [%s]", removed, old.ID)
	}

	all, _ := repo.ListSessions(ctx, true)
	if len(all) != 2 {
		t.Errorf("expected 2 sessions left, got %d", len(all))
	}
}

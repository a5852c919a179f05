// ABOUTME: Tests for the dual-write repository manager.
// ABOUTME: Covers local-first writes, tolerated cloud failures and intent replay.
package manager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/harperreed/lifts/internal/auth"
	"github.com/harperreed/lifts/internal/models"
	"github.com/harperreed/lifts/internal/outbox"
	"github.com/harperreed/lifts/internal/storage"
	"github.com/harperreed/lifts/internal/storage/storagetest"
)

type fixture struct {
	mgr   *Manager
	local *storage.LocalRepository
	cloud *storagetest.Memory
	log   *outbox.Log
}

func setup(t *testing.T, user string) fixture {
	t.Helper()
	kv, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	local := storage.NewLocalRepository(kv)
	cloud := storagetest.NewMemory()
	cloud.RequireCanonicalIDs = true
	log := outbox.New(kv)

	mgr := New(local, log,
		WithCloud(cloud, auth.Static(user)),
		WithLogger(zaptest.NewLogger(t)),
	)
	return fixture{mgr: mgr, local: local, cloud: cloud, log: log}
}

func newSession() *models.WorkoutSession {
	s := models.NewSession("2024-12-18", nil)
	models.MergeExercises(s, []models.ParsedExercise{
		{Name: "Deadlift", Reps: []int{5}, Weights: []string{"140kg"}},
	}, nil, s.CreatedAt)
	return s
}

func TestUpsertWritesLocalThenCloud(t *testing.T) {
	f := setup(t, "u1")
	ctx := context.Background()

	s := newSession()
	require.NoError(t, f.mgr.UpsertSession(ctx, s))

	local, err := f.local.GetWorkoutSession(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, local)

	remote, err := f.cloud.GetWorkoutSession(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, remote)
	assert.True(t, remote.UpdatedAt.Equal(local.UpdatedAt), "cloud should get the locally stamped copy")

	pending, err := f.mgr.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCloudFailureIsToleratedAndQueued(t *testing.T) {
	f := setup(t, "u1")
	ctx := context.Background()
	f.cloud.FailAll = errors.New("offline")

	s := newSession()
	require.NoError(t, f.mgr.UpsertSession(ctx, s), "local success must not be undone by a cloud failure")

	got, err := f.mgr.GetWorkoutSession(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	pending, err := f.mgr.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, outbox.OpUpsert, pending[0].Op)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.Equal(t, "offline", pending[0].LastError)

	f.cloud.FailAll = nil
	applied, err := f.mgr.Replay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, f.cloud.Len())

	pending, err = f.mgr.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestLocalFailureAbortsBeforeCloud(t *testing.T) {
	f := setup(t, "u1")
	ctx := context.Background()

	err := f.mgr.SoftDeleteSession(ctx, models.NewID())
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Empty(t, f.cloud.SoftDeletes)
	assert.Empty(t, f.cloud.Upserts)

	pending, err := f.mgr.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSoftDeletePropagatesTombstone(t *testing.T) {
	f := setup(t, "u1")
	ctx := context.Background()

	s := newSession()
	require.NoError(t, f.mgr.UpsertSession(ctx, s))
	require.NoError(t, f.mgr.SoftDeleteSession(ctx, s.ID))

	visible, err := f.mgr.ListSessions(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, visible)

	remote, err := f.cloud.GetWorkoutSession(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, remote)
	assert.True(t, remote.IsDeleted())
}

func TestDeleteRemovesEverywhere(t *testing.T) {
	f := setup(t, "u1")
	ctx := context.Background()

	s := newSession()
	require.NoError(t, f.mgr.UpsertSession(ctx, s))
	require.NoError(t, f.mgr.DeleteSession(ctx, s.ID))

	assert.Equal(t, 0, f.cloud.Len())
	got, err := f.mgr.GetWorkoutSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSignedOutWritesStayLocal(t *testing.T) {
	f := setup(t, "")
	ctx := context.Background()

	s := newSession()
	require.NoError(t, f.mgr.UpsertSession(ctx, s))

	assert.Equal(t, 0, f.cloud.Len())
	pending, err := f.mgr.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)

	applied, err := f.mgr.Replay(ctx)
	require.NoError(t, err)
	assert.Zero(t, applied)
}

func TestLocalOnlyManager(t *testing.T) {
	kv, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	mgr := New(storage.NewLocalRepository(kv), outbox.New(kv))
	require.NoError(t, mgr.UpsertSession(context.Background(), newSession()))

	applied, err := mgr.Replay(context.Background())
	require.NoError(t, err)
	assert.Zero(t, applied)
}

func TestReplaySkipsOtherUsersIntents(t *testing.T) {
	f := setup(t, "u1")
	ctx := context.Background()

	_, err := f.log.Record(outbox.OpDelete, models.NewID(), "someone-else")
	require.NoError(t, err)

	applied, err := f.mgr.Replay(ctx)
	require.NoError(t, err)
	assert.Zero(t, applied)

	pending, err := f.mgr.Pending()
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestReplayKeepsNewerCloudCopy(t *testing.T) {
	f := setup(t, "u1")
	ctx := context.Background()
	f.cloud.FailAll = errors.New("offline")

	s := newSession().WithTitle("laptop")
	require.NoError(t, f.mgr.UpsertSession(ctx, s))

	// Another device pushed a later edit while this one was offline.
	newer := s.Clone().WithTitle("phone")
	newer.UpdatedAt = s.UpdatedAt.Add(time.Hour)
	f.cloud.Seed(newer)
	f.cloud.FailAll = nil

	_, err := f.mgr.Replay(ctx)
	require.NoError(t, err)

	remote, err := f.cloud.GetWorkoutSession(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, remote)
	assert.Equal(t, "phone", *remote.Title)
	assert.Empty(t, f.cloud.Upserts, "an older local copy must not be pushed")

	pending, err := f.mgr.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending, "the intent is settled; the next pull brings the newer copy down")
}

func TestReplayPushesNewerLocalCopy(t *testing.T) {
	f := setup(t, "u1")
	ctx := context.Background()
	f.cloud.FailAll = errors.New("offline")

	s := newSession().WithTitle("laptop")
	require.NoError(t, f.mgr.UpsertSession(ctx, s))

	older := s.Clone().WithTitle("phone")
	older.UpdatedAt = s.UpdatedAt.Add(-time.Hour)
	f.cloud.Seed(older)
	f.cloud.FailAll = nil

	applied, err := f.mgr.Replay(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	remote, err := f.cloud.GetWorkoutSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "laptop", *remote.Title)
}

func TestReplayedTombstoneKeepsNewerCloudEdit(t *testing.T) {
	f := setup(t, "u1")
	ctx := context.Background()

	s := newSession()
	require.NoError(t, f.mgr.UpsertSession(ctx, s))
	f.cloud.FailAll = errors.New("offline")
	require.NoError(t, f.mgr.SoftDeleteSession(ctx, s.ID))

	tombstone, err := f.local.GetWorkoutSession(ctx, s.ID)
	require.NoError(t, err)
	edited := s.Clone().WithTitle("edited later")
	edited.UpdatedAt = tombstone.UpdatedAt.Add(time.Hour)
	f.cloud.Seed(edited)
	f.cloud.FailAll = nil

	_, err = f.mgr.Replay(ctx)
	require.NoError(t, err)

	remote, err := f.cloud.GetWorkoutSession(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, remote.IsDeleted())
	assert.Equal(t, "edited later", *remote.Title)
}

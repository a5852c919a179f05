// ABOUTME: Tests for the pending cloud write log.
// ABOUTME: Covers record, replace, fail and complete over an in-memory KV.
package outbox

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harperreed/lifts/internal/storage"
)

func newTestLog(t *testing.T) (*Log, *storage.BadgerKV) {
	t.Helper()
	kv, err := storage.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	now := time.Date(2024, 12, 18, 9, 0, 0, 0, time.UTC)
	log := New(kv).WithClock(func() time.Time {
		now = now.Add(time.Second)
		return now
	})
	return log, kv
}

func TestRecordAndComplete(t *testing.T) {
	log, kv := newTestLog(t)

	a, err := log.Record(OpUpsert, "s1", "u1")
	require.NoError(t, err)
	b, err := log.Record(OpSoftDelete, "s2", "u1")
	require.NoError(t, err)

	pending, err := log.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, a.ID, pending[0].ID)
	assert.Equal(t, b.ID, pending[1].ID)

	require.NoError(t, log.Complete(a.ID))
	require.NoError(t, log.Complete(b.ID))

	pending, err = log.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, err = kv.Get(Key)
	assert.ErrorIs(t, err, storage.ErrNotFound, "an empty log should not leave a key behind")
}

func TestFailKeepsIntentAndCountsAttempts(t *testing.T) {
	log, _ := newTestLog(t)

	in, err := log.Record(OpUpsert, "s1", "u1")
	require.NoError(t, err)
	require.NoError(t, log.Fail(in.ID, errors.New("network down")))
	require.NoError(t, log.Fail(in.ID, errors.New("still down")))

	pending, err := log.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 2, pending[0].Attempts)
	assert.Equal(t, "still down", pending[0].LastError)
}

func TestRecordReplacesSameSessionAndOp(t *testing.T) {
	log, _ := newTestLog(t)

	first, err := log.Record(OpUpsert, "s1", "u1")
	require.NoError(t, err)
	require.NoError(t, log.Fail(first.ID, errors.New("timeout")))

	second, err := log.Record(OpUpsert, "s1", "u1")
	require.NoError(t, err)

	pending, err := log.Pending()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].ID)
	assert.Equal(t, 1, pending[0].Attempts)
}

func TestCompleteUnknownIsNoop(t *testing.T) {
	log, _ := newTestLog(t)
	assert.NoError(t, log.Complete("missing"))
	assert.NoError(t, log.Fail("missing", errors.New("x")))
}

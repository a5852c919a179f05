// ABOUTME: Per-user sync watermarks persisted in the device KV.
// ABOUTME: Absent keys mean never migrated and never synced.
package sync

import (
	"errors"
	"fmt"
	"time"

	"github.com/harperreed/lifts/internal/storage"
)

const (
	migratedKeyPrefix   = "has_migrated_to_cloud:"
	migratedAtKeyPrefix = "migrated_at:"
	lastSyncKeyPrefix   = "last_sync_at:"
)

// SyncState is the sync progress of one user on this device.
type SyncState struct {
	UserID     string
	Migrated   bool
	MigratedAt *time.Time
	LastSyncAt *time.Time
}

// StateStore reads and writes SyncState.
type StateStore struct {
	kv storage.KV
}

// NewStateStore creates a StateStore over kv.
func NewStateStore(kv storage.KV) *StateStore {
	return &StateStore{kv: kv}
}

// Load returns the state of userID.
func (s *StateStore) Load(userID string) (SyncState, error) {
	state := SyncState{UserID: userID}

	flag, err := s.get(migratedKeyPrefix + userID)
	if err != nil {
		return state, err
	}
	state.Migrated = flag == "true"

	if state.MigratedAt, err = s.getTime(migratedAtKeyPrefix + userID); err != nil {
		return state, err
	}
	if state.LastSyncAt, err = s.getTime(lastSyncKeyPrefix + userID); err != nil {
		return state, err
	}
	return state, nil
}

// Save persists state. Nil timestamps and a false flag remove their keys.
func (s *StateStore) Save(state SyncState) error {
	if state.UserID == "" {
		return errors.New("save sync state: empty user id")
	}
	if state.Migrated {
		if err := s.kv.Set(migratedKeyPrefix+state.UserID, []byte("true")); err != nil {
			return fmt.Errorf("save migration flag: %w", err)
		}
	} else if err := s.kv.Delete(migratedKeyPrefix + state.UserID); err != nil {
		return fmt.Errorf("clear migration flag: %w", err)
	}
	if err := s.setTime(migratedAtKeyPrefix+state.UserID, state.MigratedAt); err != nil {
		return err
	}
	return s.setTime(lastSyncKeyPrefix+state.UserID, state.LastSyncAt)
}

// Reset forgets all sync progress of userID, forcing a full migration.
func (s *StateStore) Reset(userID string) error {
	return s.Save(SyncState{UserID: userID})
}

func (s *StateStore) get(key string) (string, error) {
	raw, err := s.kv.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", key, err)
	}
	return string(raw), nil
}

func (s *StateStore) getTime(key string) (*time.Time, error) {
	raw, err := s.get(key)
	if err != nil || raw == "" {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", key, err)
	}
	return &t, nil
}

func (s *StateStore) setTime(key string, t *time.Time) error {
	if t == nil {
		if err := s.kv.Delete(key); err != nil {
			return fmt.Errorf("clear %s: %w", key, err)
		}
		return nil
	}
	if err := s.kv.Set(key, []byte(t.UTC().Format(time.RFC3339Nano))); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	return nil
}

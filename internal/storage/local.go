// ABOUTME: LocalRepository persists workout sessions as one JSON blob in a device KV.
// ABOUTME: Runs the schema migration on every read path and keeps tombstones for sync.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/harperreed/lifts/internal/models"
)

var _ Repository = (*LocalRepository)(nil)

// Keys used by the local repository.
const (
	SessionsKey    = "workoutSessions"
	VersionKey     = "workout_data_version"
	BackupKey      = "workoutSessions.backup"
	versionUnknown = DataVersion("")
)

// LocalRepository is the on-device, always-available store.
type LocalRepository struct {
	kv     KV
	newID  models.IDFactory
	now    func() time.Time
	logger *zap.Logger

	mu      sync.Mutex
	checked bool
}

// LocalOption configures a LocalRepository.
type LocalOption func(*LocalRepository)

// WithIDFactory injects the id generator used for new and canonicalized ids.
func WithIDFactory(f models.IDFactory) LocalOption {
	return func(r *LocalRepository) { r.newID = f }
}

// WithClock injects the time source.
func WithClock(now func() time.Time) LocalOption {
	return func(r *LocalRepository) { r.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) LocalOption {
	return func(r *LocalRepository) { r.logger = l }
}

// NewLocalRepository creates a repository over kv.
func NewLocalRepository(kv KV, opts ...LocalOption) *LocalRepository {
	r := &LocalRepository{
		kv:     kv,
		newID:  models.NewID,
		now:    func() time.Time { return time.Now().UTC() },
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r
}

// ListSessions returns sessions ordered by PerformedOn, newest first, with
// sets ordered by SetIndex.
func (r *LocalRepository) ListSessions(ctx context.Context, includeDeleted bool) ([]*models.WorkoutSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, err := r.loadMigrated()
	if err != nil {
		return nil, err
	}

	out := make([]*models.WorkoutSession, 0, len(sessions))
	for i := range sessions {
		s := &sessions[i]
		if s.IsDeleted() && !includeDeleted {
			continue
		}
		for ei := range s.Exercises {
			s.Exercises[ei].SortSets()
		}
		out = append(out, s)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PerformedOn != out[j].PerformedOn {
			return out[i].PerformedOn > out[j].PerformedOn
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// GetWorkoutSession returns the session with id, or nil if none exists.
// Tombstoned sessions are returned so callers can see the deletion.
func (r *LocalRepository) GetWorkoutSession(ctx context.Context, id string) (*models.WorkoutSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, err := r.loadMigrated()
	if err != nil {
		return nil, err
	}
	i := indexOf(sessions, id)
	if i < 0 {
		return nil, nil
	}
	s := sessions[i]
	for ei := range s.Exercises {
		s.Exercises[ei].SortSets()
	}
	return &s, nil
}

// UpsertSession replaces or appends the session, stamping UpdatedAt.
func (r *LocalRepository) UpsertSession(ctx context.Context, s *models.WorkoutSession) error {
	return r.UpsertSessionWithOptions(ctx, s, UpsertOptions{})
}

// UpsertSessionWithOptions is UpsertSession with timestamp control. The
// caller's session is updated with the stored ids and timestamps.
func (r *LocalRepository) UpsertSessionWithOptions(ctx context.Context, s *models.WorkoutSession, opts UpsertOptions) error {
	if s == nil {
		return errors.New("upsert session: nil session")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, err := r.loadMigrated()
	if err != nil {
		return err
	}

	incoming := s.Clone()
	now := r.now()
	i := indexOf(sessions, incoming.ID)

	if !opts.PreserveTimestamps {
		var existing *models.WorkoutSession
		if i >= 0 {
			existing = &sessions[i]
		}
		stampUpsert(incoming, existing, now)
	}

	one := []models.WorkoutSession{*incoming}
	Canonicalize(one, r.newID, now)
	*incoming = one[0]

	// Canonicalization may have replaced a legacy id on a new session.
	if i < 0 {
		i = indexOf(sessions, incoming.ID)
	}
	if i >= 0 {
		sessions[i] = *incoming
	} else {
		sessions = append(sessions, *incoming)
	}

	if err := r.save(sessions); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	*s = *incoming.Clone()
	return nil
}

// stampUpsert applies the local write clock: CreatedAt is kept from the
// existing copy, UpdatedAt moves strictly forward. Stamps are cut to the
// microsecond precision of the cloud database so a round trip compares equal.
func stampUpsert(incoming, existing *models.WorkoutSession, now time.Time) {
	now = now.Truncate(time.Microsecond)
	if existing != nil && !existing.CreatedAt.IsZero() {
		incoming.CreatedAt = existing.CreatedAt
	}
	if incoming.CreatedAt.IsZero() {
		incoming.CreatedAt = now
	}
	if existing != nil && !now.After(existing.UpdatedAt) {
		now = existing.UpdatedAt.Add(time.Millisecond)
	}
	incoming.UpdatedAt = now
}

// SoftDeleteSession tombstones the session so the deletion syncs.
func (r *LocalRepository) SoftDeleteSession(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, err := r.loadMigrated()
	if err != nil {
		return err
	}
	i := indexOf(sessions, id)
	if i < 0 {
		return fmt.Errorf("soft delete session %s: %w", id, ErrNotFound)
	}

	s := &sessions[i]
	if s.IsDeleted() {
		return nil
	}
	now := r.now().Truncate(time.Microsecond)
	if !now.After(s.UpdatedAt) {
		now = s.UpdatedAt.Add(time.Millisecond)
	}
	s.DeletedAt = &now
	s.UpdatedAt = now

	if err := r.save(sessions); err != nil {
		return fmt.Errorf("soft delete session: %w", err)
	}
	return nil
}

// DeleteSession physically removes the session. Missing ids are a no-op.
func (r *LocalRepository) DeleteSession(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, err := r.loadMigrated()
	if err != nil {
		return err
	}
	i := indexOf(sessions, id)
	if i < 0 {
		return nil
	}
	sessions = append(sessions[:i], sessions[i+1:]...)

	if err := r.save(sessions); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Compact hard-deletes tombstones whose deletion is older than olderThan.
// It returns the ids removed.
func (r *LocalRepository) Compact(ctx context.Context, olderThan time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, err := r.loadMigrated()
	if err != nil {
		return nil, err
	}

	var removed []string
	kept := sessions[:0]
	for _, s := range sessions {
		if s.DeletedAt != nil && s.DeletedAt.Before(olderThan) {
			removed = append(removed, s.ID)
			continue
		}
		kept = append(kept, s)
	}
	if len(removed) == 0 {
		return nil, nil
	}

	if err := r.save(kept); err != nil {
		return nil, fmt.Errorf("compact sessions: %w", err)
	}
	r.logger.Info("compacted tombstones", zap.Int("removed", len(removed)))
	return removed, nil
}

// Migrate runs the read-path migration explicitly and returns the version
// the data is at afterwards.
func (r *LocalRepository) Migrate(ctx context.Context) (DataVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.checked = false
	if err := r.ensureMigrated(); err != nil {
		return versionUnknown, err
	}
	return r.readVersion()
}

// DataVersion reports the persisted schema marker without migrating.
func (r *LocalRepository) DataVersion(ctx context.Context) (DataVersion, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readVersion()
}

func (r *LocalRepository) readVersion() (DataVersion, error) {
	raw, err := r.kv.Get(VersionKey)
	if errors.Is(err, ErrNotFound) {
		return VersionLegacy, nil
	}
	if err != nil {
		return versionUnknown, fmt.Errorf("read data version: %w", err)
	}
	return DataVersion(raw), nil
}

// ensureMigrated upgrades persisted data to CurrentVersion. Whenever a
// record or the whole blob cannot be upgraded, the raw blob is kept under
// BackupKey. Records that did upgrade are persisted, and the marker still
// advances so the store stays usable.
func (r *LocalRepository) ensureMigrated() error {
	if r.checked {
		return nil
	}

	version, err := r.readVersion()
	if err != nil {
		return err
	}
	if version == CurrentVersion {
		r.checked = true
		return nil
	}

	raw, err := r.kv.Get(SessionsKey)
	if errors.Is(err, ErrNotFound) {
		raw = nil
	} else if err != nil {
		return fmt.Errorf("read sessions: %w", err)
	}

	if len(raw) > 0 {
		if err := r.migrateBlob(raw, version); err != nil {
			return err
		}
	}

	if err := r.kv.Set(VersionKey, []byte(CurrentVersion)); err != nil {
		return fmt.Errorf("write data version: %w", err)
	}
	r.checked = true
	return nil
}

func (r *LocalRepository) migrateBlob(raw []byte, version DataVersion) error {
	log := r.logger.With(zap.String("from", string(version)))

	sessions, rejected, err := MigrateBlob(raw, version, r.newID, r.now())
	if err != nil {
		log.Error("workout data migration failed", zap.Error(err))
		if berr := r.kv.Set(BackupKey, raw); berr != nil {
			return fmt.Errorf("back up sessions: %w", berr)
		}
		if derr := r.kv.Delete(SessionsKey); derr != nil {
			return fmt.Errorf("reset sessions: %w", derr)
		}
		return nil
	}

	if len(rejected) > 0 {
		for _, rec := range rejected {
			log.Error("workout session could not be migrated",
				zap.Int("index", rec.Index), zap.Error(rec.Err))
		}
		if berr := r.kv.Set(BackupKey, raw); berr != nil {
			return fmt.Errorf("back up sessions: %w", berr)
		}
	}

	if err := r.save(sessions); err != nil {
		return fmt.Errorf("persist migrated sessions: %w", err)
	}
	log.Info("migrated workout data",
		zap.String("to", string(CurrentVersion)),
		zap.Int("sessions", len(sessions)),
		zap.Int("rejected", len(rejected)))
	return nil
}

func (r *LocalRepository) loadMigrated() ([]models.WorkoutSession, error) {
	if err := r.ensureMigrated(); err != nil {
		return nil, err
	}
	return r.load()
}

func (r *LocalRepository) load() ([]models.WorkoutSession, error) {
	raw, err := r.kv.Get(SessionsKey)
	if errors.Is(err, ErrNotFound) {
		return []models.WorkoutSession{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sessions: %w", err)
	}
	if len(raw) == 0 {
		return []models.WorkoutSession{}, nil
	}
	var sessions []models.WorkoutSession
	if err := json.Unmarshal(raw, &sessions); err != nil {
		return nil, fmt.Errorf("decode sessions: %w", err)
	}
	return sessions, nil
}

func (r *LocalRepository) save(sessions []models.WorkoutSession) error {
	if sessions == nil {
		sessions = []models.WorkoutSession{}
	}
	data, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("encode sessions: %w", err)
	}
	return r.kv.Set(SessionsKey, data)
}

func indexOf(sessions []models.WorkoutSession, id string) int {
	for i := range sessions {
		if sessions[i].ID == id {
			return i
		}
	}
	return -1
}

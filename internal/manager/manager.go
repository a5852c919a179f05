// ABOUTME: Dual-write repository facade: local first, then cloud.
// ABOUTME: Unconfirmed cloud writes are kept in a write-ahead log and replayed later.
package manager

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/harperreed/lifts/internal/auth"
	"github.com/harperreed/lifts/internal/models"
	"github.com/harperreed/lifts/internal/outbox"
	"github.com/harperreed/lifts/internal/storage"
)

var _ storage.Repository = (*Manager)(nil)

// Manager reads from the local repository and writes to both.
type Manager struct {
	local  storage.Repository
	cloud  storage.Repository
	log    *outbox.Log
	users  auth.UserSource
	logger *zap.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithCloud enables cloud writes. Without it the manager is local-only.
func WithCloud(cloud storage.Repository, users auth.UserSource) Option {
	return func(m *Manager) {
		m.cloud = cloud
		m.users = users
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// New creates a Manager over local, recording pending cloud writes in log.
func New(local storage.Repository, log *outbox.Log, opts ...Option) *Manager {
	m := &Manager{
		local:  local,
		log:    log,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Local returns the local repository.
func (m *Manager) Local() storage.Repository {
	return m.local
}

// ListSessions reads from the local repository.
func (m *Manager) ListSessions(ctx context.Context, includeDeleted bool) ([]*models.WorkoutSession, error) {
	return m.local.ListSessions(ctx, includeDeleted)
}

// GetWorkoutSession reads from the local repository.
func (m *Manager) GetWorkoutSession(ctx context.Context, id string) (*models.WorkoutSession, error) {
	return m.local.GetWorkoutSession(ctx, id)
}

// UpsertSession writes locally, then to the cloud. A cloud failure is
// logged and kept for replay; only a local failure is returned.
func (m *Manager) UpsertSession(ctx context.Context, s *models.WorkoutSession) error {
	if err := m.local.UpsertSession(ctx, s); err != nil {
		return err
	}
	m.mirror(ctx, outbox.OpUpsert, s.ID, func(ctx context.Context) error {
		return m.cloud.UpsertSession(ctx, s)
	})
	return nil
}

// SoftDeleteSession tombstones locally, then in the cloud.
func (m *Manager) SoftDeleteSession(ctx context.Context, id string) error {
	if err := m.local.SoftDeleteSession(ctx, id); err != nil {
		return err
	}
	m.mirror(ctx, outbox.OpSoftDelete, id, m.softDeleteInCloud(id))
	return nil
}

// DeleteSession removes locally, then in the cloud.
func (m *Manager) DeleteSession(ctx context.Context, id string) error {
	if err := m.local.DeleteSession(ctx, id); err != nil {
		return err
	}
	m.mirror(ctx, outbox.OpDelete, id, func(ctx context.Context) error {
		return m.cloud.DeleteSession(ctx, id)
	})
	return nil
}

// softDeleteInCloud pushes the local tombstone so it keeps the local
// deletion time; a session the cloud has never seen gets created as a
// tombstone.
func (m *Manager) softDeleteInCloud(id string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		s, err := m.local.GetWorkoutSession(ctx, id)
		if err != nil {
			return err
		}
		if s == nil {
			return m.cloud.SoftDeleteSession(ctx, id)
		}
		return m.pushIfNewer(ctx, s)
	}
}

// pushIfNewer upserts s unless the cloud already holds a copy at least as
// recent.
func (m *Manager) pushIfNewer(ctx context.Context, s *models.WorkoutSession) error {
	remote, err := m.cloud.GetWorkoutSession(ctx, s.ID)
	if err != nil {
		return err
	}
	if !s.NewerThan(remote) {
		m.logger.Debug("cloud copy is newer; leaving it for the next pull",
			zap.String("session_id", s.ID),
			zap.Time("local_updated_at", s.UpdatedAt),
			zap.Time("cloud_updated_at", remote.UpdatedAt))
		return nil
	}
	return m.cloud.UpsertSession(ctx, s)
}

func (m *Manager) mirror(ctx context.Context, op outbox.Op, sessionID string, write func(context.Context) error) {
	if m.cloud == nil {
		return
	}
	userID, err := auth.OptionalUserID(ctx, m.users)
	if err != nil {
		m.logger.Warn("cannot resolve user for cloud write", zap.Error(err))
		return
	}
	if userID == "" {
		// Signed out: the first sync after sign-in migrates everything.
		return
	}

	intent, err := m.log.Record(op, sessionID, userID)
	if err != nil {
		m.logger.Warn("record pending cloud write failed",
			zap.String("session_id", sessionID), zap.Error(err))
	}

	if err := write(ctx); err != nil {
		m.logger.Warn("cloud write failed; will retry on next sync",
			zap.String("op", string(op)),
			zap.String("session_id", sessionID),
			zap.Error(err))
		if intent.ID != "" {
			if ferr := m.log.Fail(intent.ID, err); ferr != nil {
				m.logger.Warn("update pending cloud write failed", zap.Error(ferr))
			}
		}
		return
	}

	if intent.ID != "" {
		if err := m.log.Complete(intent.ID); err != nil {
			m.logger.Warn("clear pending cloud write failed", zap.Error(err))
		}
	}
}

// Replay retries every pending cloud write of the signed-in user and
// returns how many were resolved. A pending upsert never overwrites a cloud
// copy that is at least as recent. Failures stay pending.
func (m *Manager) Replay(ctx context.Context) (int, error) {
	if m.cloud == nil {
		return 0, nil
	}
	userID, err := auth.OptionalUserID(ctx, m.users)
	if err != nil || userID == "" {
		return 0, err
	}

	pending, err := m.log.Pending()
	if err != nil {
		return 0, fmt.Errorf("replay: %w", err)
	}

	applied := 0
	var errs []error
	for _, in := range pending {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		if in.UserID != "" && in.UserID != userID {
			continue
		}

		if err := m.apply(ctx, in); err != nil {
			m.logger.Warn("replay of pending cloud write failed",
				zap.String("op", string(in.Op)),
				zap.String("session_id", in.SessionID),
				zap.Int("attempts", in.Attempts+1),
				zap.Error(err))
			if ferr := m.log.Fail(in.ID, err); ferr != nil {
				errs = append(errs, ferr)
			}
			continue
		}
		if err := m.log.Complete(in.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		applied++
	}
	return applied, errors.Join(errs...)
}

func (m *Manager) apply(ctx context.Context, in outbox.Intent) error {
	switch in.Op {
	case outbox.OpUpsert:
		s, err := m.local.GetWorkoutSession(ctx, in.SessionID)
		if err != nil {
			return err
		}
		if s == nil {
			// Purged locally since; nothing left to push.
			return nil
		}
		return m.pushIfNewer(ctx, s)
	case outbox.OpSoftDelete:
		return m.softDeleteInCloud(in.SessionID)(ctx)
	case outbox.OpDelete:
		return m.cloud.DeleteSession(ctx, in.SessionID)
	default:
		return fmt.Errorf("unknown op %q", in.Op)
	}
}

// Pending returns the outstanding cloud writes.
func (m *Manager) Pending() ([]outbox.Intent, error) {
	return m.log.Pending()
}

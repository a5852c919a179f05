// ABOUTME: Bidirectional sync between the local store and the cloud.
// ABOUTME: One-time migration, then pull/push reconciliation by last-writer-wins.
package sync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/harperreed/lifts/internal/auth"
	"github.com/harperreed/lifts/internal/models"
	"github.com/harperreed/lifts/internal/observability"
	"github.com/harperreed/lifts/internal/storage"
)

// LocalStore is the local repository as the engine needs it: pulled
// sessions must keep their cloud timestamps.
type LocalStore interface {
	storage.Repository
	UpsertSessionWithOptions(ctx context.Context, s *models.WorkoutSession, opts storage.UpsertOptions) error
}

// Replayer re-applies cloud writes that failed earlier.
type Replayer interface {
	Replay(ctx context.Context) (int, error)
}

// Result summarizes one run.
type Result struct {
	Pulled int
	Pushed int
	Failed []string
}

// Engine reconciles local and cloud state. Calls must not overlap.
type Engine struct {
	local    LocalStore
	cloud    storage.Repository
	state    *StateStore
	users    auth.UserSource
	replayer Replayer
	now      func() time.Time
	logger   *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithReplayer runs r at the start of every SyncNow.
func WithReplayer(r Replayer) Option {
	return func(e *Engine) { e.replayer = r }
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewEngine creates an Engine.
func NewEngine(local LocalStore, cloud storage.Repository, state *StateStore, users auth.UserSource, opts ...Option) *Engine {
	e := &Engine{
		local:  local,
		cloud:  cloud,
		state:  state,
		users:  users,
		now:    func() time.Time { return time.Now().UTC() },
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) currentUser(ctx context.Context) (string, error) {
	if e.users == nil {
		return "", auth.ErrNotAuthenticated
	}
	return e.users.CurrentUserID(ctx)
}

// State returns the persisted sync state of the signed-in user.
func (e *Engine) State(ctx context.Context) (SyncState, error) {
	userID, err := e.currentUser(ctx)
	if err != nil {
		return SyncState{}, err
	}
	return e.state.Load(userID)
}

// MigrateLocalToCloud pushes every local session, tombstones included, the
// first time a user syncs from this device. Later calls are no-ops.
// Sessions that fail are logged and listed in Result.Failed; the migration
// is still marked done.
func (e *Engine) MigrateLocalToCloud(ctx context.Context) (res Result, err error) {
	defer func() { observability.RecordRun("migrate", err) }()

	userID, err := e.currentUser(ctx)
	if err != nil {
		return res, fmt.Errorf("migrate to cloud: %w", err)
	}
	state, err := e.state.Load(userID)
	if err != nil {
		return res, fmt.Errorf("migrate to cloud: %w", err)
	}
	if state.Migrated {
		return res, nil
	}

	sessions, err := e.local.ListSessions(ctx, true)
	if err != nil {
		return res, fmt.Errorf("migrate to cloud: list local: %w", err)
	}

	log := e.logger.With(zap.String("user_id", userID))
	for _, s := range sessions {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := e.cloud.UpsertSession(ctx, s); err != nil {
			log.Warn("migrate session failed", zap.String("session_id", s.ID), zap.Error(err))
			res.Failed = append(res.Failed, s.ID)
			continue
		}
		res.Pushed++
	}

	now := e.now()
	state.Migrated = true
	state.MigratedAt = &now
	state.LastSyncAt = &now
	if err := e.state.Save(state); err != nil {
		return res, fmt.Errorf("migrate to cloud: %w", err)
	}

	observability.RecordTransfers(0, res.Pushed, len(res.Failed))
	observability.RecordWatermark(now)
	log.Info("migrated local sessions to cloud",
		zap.Int("pushed", res.Pushed), zap.Int("failed", len(res.Failed)))
	return res, nil
}

// SyncNow replays pending writes, pulls sessions the cloud has newer,
// pushes sessions changed locally since the last sync, then advances the
// watermark to the time the run started. Equal timestamps transfer
// nothing. The watermark only moves when both listings succeed.
func (e *Engine) SyncNow(ctx context.Context) (res Result, err error) {
	defer func() { observability.RecordRun("sync", err) }()

	userID, err := e.currentUser(ctx)
	if err != nil {
		return res, fmt.Errorf("sync: %w", err)
	}
	state, err := e.state.Load(userID)
	if err != nil {
		return res, fmt.Errorf("sync: %w", err)
	}
	log := e.logger.With(zap.String("user_id", userID))
	start := e.now()

	if e.replayer != nil {
		n, err := e.replayer.Replay(ctx)
		if err != nil {
			log.Warn("replay of pending cloud writes failed", zap.Error(err))
		}
		observability.RecordReplayed(n)
	}

	cloudSessions, err := e.cloud.ListSessions(ctx, true)
	if err != nil {
		return res, fmt.Errorf("sync: list cloud: %w", err)
	}
	localSessions, err := e.local.ListSessions(ctx, true)
	if err != nil {
		return res, fmt.Errorf("sync: list local: %w", err)
	}

	localByID := index(localSessions)
	cloudByID := index(cloudSessions)

	for _, cs := range cloudSessions {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !cs.NewerThan(localByID[cs.ID]) {
			continue
		}
		pulled := cs.Clone()
		if err := e.local.UpsertSessionWithOptions(ctx, pulled, storage.UpsertOptions{PreserveTimestamps: true}); err != nil {
			log.Warn("pull session failed", zap.String("session_id", cs.ID), zap.Error(err))
			res.Failed = append(res.Failed, cs.ID)
			continue
		}
		cloudByID[cs.ID] = pulled
		res.Pulled++
	}

	localSessions, err = e.local.ListSessions(ctx, true)
	if err != nil {
		return res, fmt.Errorf("sync: list local: %w", err)
	}

	for _, ls := range localSessions {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if state.LastSyncAt != nil && !ls.UpdatedAt.After(*state.LastSyncAt) {
			continue
		}
		if !ls.NewerThan(cloudByID[ls.ID]) {
			continue
		}
		if err := e.cloud.UpsertSession(ctx, ls); err != nil {
			log.Warn("push session failed", zap.String("session_id", ls.ID), zap.Error(err))
			res.Failed = append(res.Failed, ls.ID)
			continue
		}
		res.Pushed++
	}

	state.LastSyncAt = &start
	if err := e.state.Save(state); err != nil {
		return res, fmt.Errorf("sync: %w", err)
	}

	observability.RecordTransfers(res.Pulled, res.Pushed, len(res.Failed))
	observability.RecordWatermark(start)
	log.Info("sync complete",
		zap.Int("pulled", res.Pulled),
		zap.Int("pushed", res.Pushed),
		zap.Int("failed", len(res.Failed)))
	return res, nil
}

func index(sessions []*models.WorkoutSession) map[string]*models.WorkoutSession {
	m := make(map[string]*models.WorkoutSession, len(sessions))
	for _, s := range sessions {
		m[s.ID] = s
	}
	return m
}

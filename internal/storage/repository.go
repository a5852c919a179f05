// ABOUTME: Repository interface for workout session storage.
// ABOUTME: Shared contract of the local store, the cloud store and the manager facade.
package storage

import (
	"context"
	"errors"

	"github.com/harperreed/lifts/internal/models"
)

// ErrNotFound is returned when a key or session does not exist.
var ErrNotFound = errors.New("not found")

// Repository defines the storage interface for workout sessions.
// This interface allows swapping implementations (e.g., for testing).
type Repository interface {
	// ListSessions returns stored sessions. Tombstoned sessions are only
	// included when includeDeleted is true.
	ListSessions(ctx context.Context, includeDeleted bool) ([]*models.WorkoutSession, error)

	// GetWorkoutSession returns the session with the given id, or nil if
	// there is none.
	GetWorkoutSession(ctx context.Context, id string) (*models.WorkoutSession, error)

	// UpsertSession replaces the full exercise/set subtree of the session.
	UpsertSession(ctx context.Context, s *models.WorkoutSession) error

	// DeleteSession physically removes a session.
	DeleteSession(ctx context.Context, id string) error

	// SoftDeleteSession marks a session deleted, keeping a tombstone that
	// propagates through sync.
	SoftDeleteSession(ctx context.Context, id string) error
}

// UpsertOptions tunes how an upsert stamps timestamps.
type UpsertOptions struct {
	// PreserveTimestamps keeps the incoming UpdatedAt/CreatedAt instead of
	// stamping the current time. Sync uses it so a pulled session keeps the
	// timestamp it has on the other side.
	PreserveTimestamps bool
}

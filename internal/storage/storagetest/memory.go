// ABOUTME: In-memory Repository for tests of the manager, sync engine and tools.
// ABOUTME: Stores sessions verbatim like the cloud does and supports injected failures.
package storagetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harperreed/lifts/internal/models"
	"github.com/harperreed/lifts/internal/storage"
)

var _ storage.Repository = (*Memory)(nil)

// Memory is a map-backed Repository. Upserts keep the caller's timestamps
// at microsecond precision, as Postgres timestamptz does.
type Memory struct {
	mu       sync.Mutex
	sessions map[string]*models.WorkoutSession

	// Now stamps tombstones; defaults to time.Now.
	Now func() time.Time
	// RequireCanonicalIDs rejects trees that fail models.ValidateIDs.
	RequireCanonicalIDs bool
	// FailList makes ListSessions return this error.
	FailList error
	// FailUpsert makes UpsertSession fail for the given session ids.
	FailUpsert map[string]error
	// FailAll makes every write fail.
	FailAll error

	Upserts     []string
	SoftDeletes []string
	Deletes     []string
}

// NewMemory creates an empty Memory repository.
func NewMemory() *Memory {
	return &Memory{
		sessions:   make(map[string]*models.WorkoutSession),
		FailUpsert: make(map[string]error),
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

// Seed stores sessions without recording them as upserts.
func (m *Memory) Seed(sessions ...*models.WorkoutSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range sessions {
		m.sessions[s.ID] = atDatabasePrecision(s)
	}
}

// ListSessions returns copies ordered by PerformedOn, newest first.
func (m *Memory) ListSessions(ctx context.Context, includeDeleted bool) ([]*models.WorkoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailList != nil {
		return nil, m.FailList
	}
	out := make([]*models.WorkoutSession, 0, len(m.sessions))
	for _, s := range m.sessions {
		if s.IsDeleted() && !includeDeleted {
			continue
		}
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PerformedOn != out[j].PerformedOn {
			return out[i].PerformedOn > out[j].PerformedOn
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// GetWorkoutSession returns a copy of the session or nil.
func (m *Memory) GetWorkoutSession(ctx context.Context, id string) (*models.WorkoutSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return s.Clone(), nil
}

// UpsertSession stores a copy of s as given.
func (m *Memory) UpsertSession(ctx context.Context, s *models.WorkoutSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailAll != nil {
		return m.FailAll
	}
	if err := m.FailUpsert[s.ID]; err != nil {
		return err
	}
	if m.RequireCanonicalIDs {
		if err := models.ValidateIDs(s); err != nil {
			return fmt.Errorf("upsert session: %w", err)
		}
	}
	m.sessions[s.ID] = atDatabasePrecision(s)
	m.Upserts = append(m.Upserts, s.ID)
	return nil
}

// SoftDeleteSession tombstones the session.
func (m *Memory) SoftDeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailAll != nil {
		return m.FailAll
	}
	s, ok := m.sessions[id]
	if !ok {
		return fmt.Errorf("soft delete session %s: %w", id, storage.ErrNotFound)
	}
	now := m.Now().Truncate(time.Microsecond)
	s.DeletedAt = &now
	s.UpdatedAt = now
	m.SoftDeletes = append(m.SoftDeletes, id)
	return nil
}

// DeleteSession removes the session.
func (m *Memory) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailAll != nil {
		return m.FailAll
	}
	delete(m.sessions, id)
	m.Deletes = append(m.Deletes, id)
	return nil
}

// Len returns the number of stored sessions, tombstones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// atDatabasePrecision returns a copy of s with every timestamp truncated to
// the microsecond.
func atDatabasePrecision(s *models.WorkoutSession) *models.WorkoutSession {
	c := s.Clone()
	truncate := func(t *time.Time) { *t = t.Truncate(time.Microsecond) }
	truncate(&c.CreatedAt)
	truncate(&c.UpdatedAt)
	if c.DeletedAt != nil {
		truncate(c.DeletedAt)
	}
	for ei := range c.Exercises {
		e := &c.Exercises[ei]
		truncate(&e.CreatedAt)
		truncate(&e.UpdatedAt)
		for xi := range e.Sets {
			truncate(&e.Sets[xi].CreatedAt)
			truncate(&e.Sets[xi].UpdatedAt)
		}
	}
	return c
}

// ABOUTME: Identifier helpers: UUIDv4 validation and the injectable ID factory.
// ABOUTME: Cloud writes require every session, exercise and set id to be UUIDv4.
package models

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrInvalidID is returned when an entity id is not a canonical UUIDv4.
var ErrInvalidID = errors.New("invalid id")

// IDFactory produces new entity identifiers. Tests inject deterministic ones.
type IDFactory func() string

// NewID is the default IDFactory, producing random UUIDv4 strings.
func NewID() string {
	return uuid.NewString()
}

// IsUUIDv4 reports whether s is a hyphenated RFC 4122 version 4 UUID.
func IsUUIDv4(s string) bool {
	if len(s) != 36 {
		return false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return false
	}
	return id.Version() == 4 && id.Variant() == uuid.RFC4122
}

// ValidateIDs checks that every id in the session tree is UUIDv4 and that
// each child points at its owning parent.
func ValidateIDs(s *WorkoutSession) error {
	if !IsUUIDv4(s.ID) {
		return fmt.Errorf("session %q: %w", s.ID, ErrInvalidID)
	}
	for _, e := range s.Exercises {
		if !IsUUIDv4(e.ID) {
			return fmt.Errorf("exercise %q: %w", e.ID, ErrInvalidID)
		}
		if e.SessionID != s.ID {
			return fmt.Errorf("exercise %s references session %q, want %s: %w", e.ID, e.SessionID, s.ID, ErrInvalidID)
		}
		for _, set := range e.Sets {
			if !IsUUIDv4(set.ID) {
				return fmt.Errorf("set %q: %w", set.ID, ErrInvalidID)
			}
			if set.ExerciseID != e.ID {
				return fmt.Errorf("set %s references exercise %q, want %s: %w", set.ID, set.ExerciseID, e.ID, ErrInvalidID)
			}
		}
	}
	return nil
}

// ABOUTME: Lookup and logging helpers shared by the CLI and MCP server.
// ABOUTME: Resolves id prefixes and folds parsed exercises into the day's session.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harperreed/lifts/internal/models"
)

// ErrAmbiguous is returned when an id prefix matches more than one session.
var ErrAmbiguous = errors.New("ambiguous id prefix")

// ResolveSession finds a session by full id or unique id prefix,
// tombstones included.
func ResolveSession(ctx context.Context, repo Repository, ref string) (*models.WorkoutSession, error) {
	ref = strings.ToLower(strings.TrimSpace(ref))
	if ref == "" {
		return nil, fmt.Errorf("resolve session: empty id")
	}
	if models.IsUUIDv4(ref) {
		s, err := repo.GetWorkoutSession(ctx, ref)
		if err != nil {
			return nil, err
		}
		if s == nil {
			return nil, fmt.Errorf("session %s: %w", ref, ErrNotFound)
		}
		return s, nil
	}

	sessions, err := repo.ListSessions(ctx, true)
	if err != nil {
		return nil, err
	}
	var match *models.WorkoutSession
	for _, s := range sessions {
		if !strings.HasPrefix(s.ID, ref) {
			continue
		}
		if match != nil {
			return nil, fmt.Errorf("session %s: %w", ref, ErrAmbiguous)
		}
		match = s
	}
	if match == nil {
		return nil, fmt.Errorf("session %s: %w", ref, ErrNotFound)
	}
	return match, nil
}

// SessionOn returns the most recently created live session performed on
// date, or nil.
func SessionOn(ctx context.Context, repo Repository, date string) (*models.WorkoutSession, error) {
	sessions, err := repo.ListSessions(ctx, false)
	if err != nil {
		return nil, err
	}
	for _, s := range sessions {
		if s.PerformedOn == date {
			return s, nil
		}
	}
	return nil, nil
}

// LogExercises appends parsed exercises to the session performed on date,
// creating the session if there is none, and saves it.
func LogExercises(ctx context.Context, repo Repository, date string, parsed []models.ParsedExercise, now time.Time) (*models.WorkoutSession, error) {
	if _, err := time.Parse(models.DateLayout, date); err != nil {
		return nil, fmt.Errorf("invalid date %q: want YYYY-MM-DD", date)
	}
	for _, p := range parsed {
		if strings.TrimSpace(p.Name) == "" {
			return nil, errors.New("exercise name is required")
		}
		for _, r := range p.Reps {
			if r < 0 {
				return nil, fmt.Errorf("%s: reps must not be negative, got %d", p.Name, r)
			}
		}
	}

	s, err := SessionOn(ctx, repo, date)
	if err != nil {
		return nil, err
	}
	if s == nil {
		s = models.NewSession(date, nil)
		s.CreatedAt = now
	}
	models.MergeExercises(s, parsed, nil, now)

	if err := repo.UpsertSession(ctx, s); err != nil {
		return nil, fmt.Errorf("log exercises: %w", err)
	}
	return s, nil
}

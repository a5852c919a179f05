// ABOUTME: WorkoutSession, WorkoutExercise and WorkoutSet models for lift tracking.
// ABOUTME: A session owns its exercises, an exercise owns its sets.
package models

import (
	"sort"
	"time"
)

// DateLayout is the calendar-date format of WorkoutSession.PerformedOn.
const DateLayout = "2006-01-02"

// WorkoutSession is the root aggregate: a day's training with its exercises.
type WorkoutSession struct {
	ID          string            `json:"id"`
	UserID      *string           `json:"userId,omitempty"`
	PerformedOn string            `json:"performedOn"`
	Title       *string           `json:"title,omitempty"`
	Notes       *string           `json:"notes,omitempty"`
	Source      *string           `json:"source,omitempty"`
	Exercises   []WorkoutExercise `json:"exercises"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
	DeletedAt   *time.Time        `json:"deletedAt,omitempty"`
}

// WorkoutExercise is one movement performed within a session.
type WorkoutExercise struct {
	ID                  string               `json:"id"`
	SessionID           string               `json:"sessionId"`
	NameRaw             string               `json:"nameRaw"`
	NameCanonical       *string              `json:"nameCanonical,omitempty"`
	PrimaryMuscleGroup  *string              `json:"primaryMuscleGroup,omitempty"`
	MuscleContributions []MuscleContribution `json:"muscleContributions,omitempty"`
	Sets                []WorkoutSet         `json:"sets"`
	CreatedAt           time.Time            `json:"createdAt"`
	UpdatedAt           time.Time            `json:"updatedAt"`
}

// MuscleContribution attributes a fraction of an exercise's volume to a muscle group.
type MuscleContribution struct {
	Muscle string  `json:"muscle"`
	Weight float64 `json:"weight"`
}

// WorkoutSet is a single set. SetIndex defines display order.
type WorkoutSet struct {
	ID           string    `json:"id"`
	ExerciseID   string    `json:"exerciseId"`
	SetIndex     int       `json:"setIndex"`
	Reps         int       `json:"reps"`
	WeightText   string    `json:"weightText"`
	WeightKg     *float64  `json:"weightKg,omitempty"`
	IsBodyweight bool      `json:"isBodyweight"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// NewSession creates an empty session for the given date with a fresh ID.
func NewSession(performedOn string, newID IDFactory) *WorkoutSession {
	if newID == nil {
		newID = NewID
	}
	now := time.Now().UTC()
	return &WorkoutSession{
		ID:          newID(),
		PerformedOn: performedOn,
		Exercises:   []WorkoutExercise{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// WithTitle sets the session title.
func (s *WorkoutSession) WithTitle(title string) *WorkoutSession {
	s.Title = &title
	return s
}

// WithNotes sets notes on the session.
func (s *WorkoutSession) WithNotes(notes string) *WorkoutSession {
	s.Notes = &notes
	return s
}

// WithSource records where the session came from (manual, parser, import).
func (s *WorkoutSession) WithSource(source string) *WorkoutSession {
	s.Source = &source
	return s
}

// WithUser assigns the owning user.
func (s *WorkoutSession) WithUser(userID string) *WorkoutSession {
	s.UserID = &userID
	return s
}

// IsDeleted reports whether the session carries a tombstone.
func (s *WorkoutSession) IsDeleted() bool {
	return s.DeletedAt != nil
}

// NewerThan reports whether s was updated strictly after other.
// Equal timestamps are treated as already in sync.
func (s *WorkoutSession) NewerThan(other *WorkoutSession) bool {
	if other == nil {
		return true
	}
	return s.UpdatedAt.After(other.UpdatedAt)
}

// SetCount returns the number of sets across all exercises.
func (s *WorkoutSession) SetCount() int {
	n := 0
	for _, e := range s.Exercises {
		n += len(e.Sets)
	}
	return n
}

// SortSets orders the exercise's sets by SetIndex.
func (e *WorkoutExercise) SortSets() {
	sort.SliceStable(e.Sets, func(i, j int) bool {
		return e.Sets[i].SetIndex < e.Sets[j].SetIndex
	})
}

// Clone returns a deep copy of the session.
func (s *WorkoutSession) Clone() *WorkoutSession {
	if s == nil {
		return nil
	}
	c := *s
	c.UserID = cloneString(s.UserID)
	c.Title = cloneString(s.Title)
	c.Notes = cloneString(s.Notes)
	c.Source = cloneString(s.Source)
	if s.DeletedAt != nil {
		d := *s.DeletedAt
		c.DeletedAt = &d
	}
	c.Exercises = make([]WorkoutExercise, len(s.Exercises))
	for i, e := range s.Exercises {
		ce := e
		ce.NameCanonical = cloneString(e.NameCanonical)
		ce.PrimaryMuscleGroup = cloneString(e.PrimaryMuscleGroup)
		if e.MuscleContributions != nil {
			ce.MuscleContributions = append([]MuscleContribution(nil), e.MuscleContributions...)
		}
		ce.Sets = make([]WorkoutSet, len(e.Sets))
		for j, set := range e.Sets {
			cs := set
			if set.WeightKg != nil {
				w := *set.WeightKg
				cs.WeightKg = &w
			}
			ce.Sets[j] = cs
		}
		c.Exercises[i] = ce
	}
	return &c
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// ABOUTME: Merge helpers that turn flat exercise records into sessions and sets.
// ABOUTME: ZipSets holds the padding rule shared by legacy migration and logging.
package models

import (
	"strconv"
	"strings"
	"time"
)

const poundsToKg = 0.45359237

// SetValues is one zipped (reps, weight) pair.
type SetValues struct {
	Reps       int
	WeightText string
}

// ZipSets pairs parallel reps and weights arrays into sets. The result has
// max(len(reps), len(weights), declared) entries; missing reps become 0 and
// missing weights become "0".
func ZipSets(reps []int, weights []string, declared int) []SetValues {
	n := max(len(reps), len(weights), declared)
	out := make([]SetValues, n)
	for i := range out {
		out[i] = SetValues{Reps: 0, WeightText: "0"}
		if i < len(reps) {
			out[i].Reps = reps[i]
		}
		if i < len(weights) {
			out[i].WeightText = weights[i]
		}
	}
	return out
}

// ParsedExercise is a flat exercise record as produced by the workout parser.
type ParsedExercise struct {
	Name    string
	Sets    int
	Reps    []int
	Weights []string
}

// ParseWeight interprets free-form weight text. Explicit kg and lb suffixes
// yield a kilogram value; bare numbers have no known unit and yield nil.
func ParseWeight(text string) (kg *float64, bodyweight bool) {
	t := strings.ToLower(strings.TrimSpace(text))
	switch t {
	case "bodyweight", "bw", "body weight":
		return nil, true
	}

	factor := 0.0
	switch {
	case strings.HasSuffix(t, "kg"):
		t, factor = strings.TrimSuffix(t, "kg"), 1
	case strings.HasSuffix(t, "lbs"):
		t, factor = strings.TrimSuffix(t, "lbs"), poundsToKg
	case strings.HasSuffix(t, "lb"):
		t, factor = strings.TrimSuffix(t, "lb"), poundsToKg
	default:
		return nil, false
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
	if err != nil {
		return nil, false
	}
	v *= factor
	return &v, false
}

// NewSets builds WorkoutSets for an exercise starting at setIndex start.
func NewSets(exerciseID string, values []SetValues, start int, newID IDFactory, now time.Time) []WorkoutSet {
	sets := make([]WorkoutSet, 0, len(values))
	for i, v := range values {
		kg, bw := ParseWeight(v.WeightText)
		sets = append(sets, WorkoutSet{
			ID:           newID(),
			ExerciseID:   exerciseID,
			SetIndex:     start + i,
			Reps:         v.Reps,
			WeightText:   v.WeightText,
			WeightKg:     kg,
			IsBodyweight: bw,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}
	return sets
}

// MergeExercises folds parsed exercises into the session. An exercise whose
// name matches an existing one (case-insensitive) gets the new sets appended
// after its last set; otherwise a new exercise is added.
func MergeExercises(s *WorkoutSession, parsed []ParsedExercise, newID IDFactory, now time.Time) {
	if newID == nil {
		newID = NewID
	}
	for _, p := range parsed {
		values := ZipSets(p.Reps, p.Weights, p.Sets)

		idx := -1
		for i := range s.Exercises {
			if strings.EqualFold(strings.TrimSpace(s.Exercises[i].NameRaw), strings.TrimSpace(p.Name)) {
				idx = i
				break
			}
		}

		if idx >= 0 {
			e := &s.Exercises[idx]
			next := 0
			for _, set := range e.Sets {
				if set.SetIndex >= next {
					next = set.SetIndex + 1
				}
			}
			e.Sets = append(e.Sets, NewSets(e.ID, values, next, newID, now)...)
			e.UpdatedAt = now
			continue
		}

		e := WorkoutExercise{
			ID:        newID(),
			SessionID: s.ID,
			NameRaw:   p.Name,
			CreatedAt: now,
			UpdatedAt: now,
		}
		e.Sets = NewSets(e.ID, values, 0, newID, now)
		s.Exercises = append(s.Exercises, e)
	}
	s.UpdatedAt = now
}

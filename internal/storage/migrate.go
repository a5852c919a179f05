// ABOUTME: Schema-version migration of the persisted session blob.
// ABOUTME: Upgrades legacy flat records to sessions/exercises/sets and canonicalizes ids.

package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/harperreed/lifts/internal/models"
)

// DataVersion is the value of the persisted schema marker.
type DataVersion string

const (
	// VersionLegacy is implied when no marker has been written yet.
	VersionLegacy DataVersion = "v0"
	// VersionNormalized marks session/exercise/set shaped data.
	VersionNormalized DataVersion = "v1"
	// VersionCanonical marks normalized data whose ids are all UUIDv4.
	VersionCanonical DataVersion = "v2"

	// CurrentVersion is the version every read path migrates to.
	CurrentVersion = VersionCanonical
)

// RejectedRecord is a persisted record that could not be upgraded.
type RejectedRecord struct {
	Index int
	Raw   json.RawMessage
	Err   error
}

// MigrateBlob upgrades a persisted sessions blob written at version from to
// CurrentVersion. Records that fail to decode are returned in rejected and
// left out; every other record is upgraded. An error means the blob itself
// is not a JSON array. Running it on its own output is a no-op.
func MigrateBlob(raw []byte, from DataVersion, newID models.IDFactory, now time.Time) (sessions []models.WorkoutSession, rejected []RejectedRecord, err error) {
	var records []json.RawMessage
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, nil, fmt.Errorf("decode sessions blob: %w", err)
	}

	sessions = make([]models.WorkoutSession, 0, len(records))
	for i, rec := range records {
		s, err := decodeRecord(rec, from)
		if err != nil {
			rejected = append(rejected, RejectedRecord{
				Index: i,
				Raw:   rec,
				Err:   fmt.Errorf("decode session %d: %w", i, err),
			})
			continue
		}
		sessions = append(sessions, s)
	}

	Canonicalize(sessions, newID, now)
	return sessions, rejected, nil
}

func decodeRecord(rec json.RawMessage, from DataVersion) (models.WorkoutSession, error) {
	if from == VersionLegacy && isLegacyRecord(rec) {
		return upgradeLegacy(rec)
	}
	var s models.WorkoutSession
	err := json.Unmarshal(rec, &s)
	return s, err
}

// Canonicalize replaces every id that is not UUIDv4 with a fresh one.
// Within one call the same original id maps to the same new id unless a
// second entity reuses it, in which case that entity gets a fresh id.
// Conforming ids pass through unchanged. Child references are pointed at
// their owner's canonical id and missing timestamps default to now.
func Canonicalize(sessions []models.WorkoutSession, newID models.IDFactory, now time.Time) {
	if newID == nil {
		newID = models.NewID
	}
	c := &canonicalizer{
		newID:   newID,
		mapped:  make(map[string]string),
		claimed: make(map[string]bool),
	}

	for si := range sessions {
		s := &sessions[si]
		s.ID = c.entity(s.ID)
		stampMissing(&s.CreatedAt, &s.UpdatedAt, now)
		if s.Exercises == nil {
			s.Exercises = []models.WorkoutExercise{}
		}

		for ei := range s.Exercises {
			e := &s.Exercises[ei]
			e.ID = c.entity(e.ID)
			e.SessionID = s.ID
			stampMissing(&e.CreatedAt, &e.UpdatedAt, now)
			if e.Sets == nil {
				e.Sets = []models.WorkoutSet{}
			}

			for xi := range e.Sets {
				set := &e.Sets[xi]
				set.ID = c.entity(set.ID)
				set.ExerciseID = e.ID
				stampMissing(&set.CreatedAt, &set.UpdatedAt, now)
			}
		}
	}
}

type canonicalizer struct {
	newID   models.IDFactory
	mapped  map[string]string
	claimed map[string]bool
}

// entity returns the canonical id for one entity. A legacy id shared by two
// distinct entities would collide as a primary key, so the second entity
// gets its own fresh id.
func (c *canonicalizer) entity(orig string) string {
	if models.IsUUIDv4(orig) {
		return orig
	}
	if orig == "" {
		return c.newID()
	}
	id, ok := c.mapped[orig]
	if !ok {
		id = c.newID()
		c.mapped[orig] = id
	}
	if c.claimed[id] {
		return c.newID()
	}
	c.claimed[id] = true
	return id
}

func stampMissing(createdAt, updatedAt *time.Time, now time.Time) {
	if createdAt.IsZero() {
		*createdAt = now
	}
	if updatedAt.IsZero() {
		*updatedAt = now
	}
}

// isLegacyRecord detects the pre-normalization shape: a top-level date with
// flat exercise entries instead of performedOn with nested sets.
func isLegacyRecord(rec json.RawMessage) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(rec, &probe); err != nil {
		return false
	}
	if _, ok := probe["performedOn"]; !ok {
		if _, ok := probe["date"]; ok {
			return true
		}
	}
	var exercises []map[string]json.RawMessage
	if err := json.Unmarshal(probe["exercises"], &exercises); err != nil {
		return false
	}
	for _, e := range exercises {
		if isLegacyExercise(e) {
			return true
		}
	}
	return false
}

func isLegacyExercise(e map[string]json.RawMessage) bool {
	if _, ok := e["exercise"]; ok {
		return true
	}
	if sets, ok := e["sets"]; ok {
		return !bytes.HasPrefix(bytes.TrimSpace(sets), []byte("["))
	}
	_, hasReps := e["reps"]
	_, hasWeights := e["weights"]
	return hasReps || hasWeights
}

type legacySession struct {
	ID          string            `json:"id"`
	Date        string            `json:"date"`
	PerformedOn string            `json:"performedOn"`
	UserID      *string           `json:"userId"`
	Title       *string           `json:"title"`
	Notes       *string           `json:"notes"`
	Source      *string           `json:"source"`
	Exercises   []json.RawMessage `json:"exercises"`
	CreatedAt   legacyTime        `json:"createdAt"`
	UpdatedAt   legacyTime        `json:"updatedAt"`
}

type legacyExercise struct {
	ID        string       `json:"id"`
	Exercise  string       `json:"exercise"`
	Name      string       `json:"name"`
	Sets      flexInt      `json:"sets"`
	Reps      []flexInt    `json:"reps"`
	Weights   []flexString `json:"weights"`
	Notes     *string      `json:"notes"`
	CreatedAt legacyTime   `json:"createdAt"`
	UpdatedAt legacyTime   `json:"updatedAt"`
}

func upgradeLegacy(rec json.RawMessage) (models.WorkoutSession, error) {
	var ls legacySession
	if err := json.Unmarshal(rec, &ls); err != nil {
		return models.WorkoutSession{}, fmt.Errorf("decode legacy session: %w", err)
	}

	performedOn := ls.PerformedOn
	if performedOn == "" {
		performedOn = normalizeDate(ls.Date)
	}

	s := models.WorkoutSession{
		ID:          ls.ID,
		UserID:      ls.UserID,
		PerformedOn: performedOn,
		Title:       ls.Title,
		Notes:       ls.Notes,
		Source:      ls.Source,
		Exercises:   make([]models.WorkoutExercise, 0, len(ls.Exercises)),
		CreatedAt:   time.Time(ls.CreatedAt),
		UpdatedAt:   time.Time(ls.UpdatedAt),
	}

	for i, raw := range ls.Exercises {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(raw, &probe); err != nil {
			return models.WorkoutSession{}, fmt.Errorf("decode exercise %d: %w", i, err)
		}
		if !isLegacyExercise(probe) {
			var e models.WorkoutExercise
			if err := json.Unmarshal(raw, &e); err != nil {
				return models.WorkoutSession{}, fmt.Errorf("decode exercise %d: %w", i, err)
			}
			s.Exercises = append(s.Exercises, e)
			continue
		}

		var le legacyExercise
		if err := json.Unmarshal(raw, &le); err != nil {
			return models.WorkoutSession{}, fmt.Errorf("decode legacy exercise %d: %w", i, err)
		}
		s.Exercises = append(s.Exercises, le.toExercise(s.ID))
	}

	return s, nil
}

func (le legacyExercise) toExercise(sessionID string) models.WorkoutExercise {
	name := le.Exercise
	if name == "" {
		name = le.Name
	}

	reps := make([]int, len(le.Reps))
	for i, r := range le.Reps {
		reps[i] = max(int(r), 0)
	}
	weights := make([]string, len(le.Weights))
	for i, w := range le.Weights {
		weights[i] = string(w)
	}

	created := time.Time(le.CreatedAt)
	updated := time.Time(le.UpdatedAt)
	e := models.WorkoutExercise{
		ID:        le.ID,
		SessionID: sessionID,
		NameRaw:   name,
		CreatedAt: created,
		UpdatedAt: updated,
	}

	values := models.ZipSets(reps, weights, int(le.Sets))
	e.Sets = make([]models.WorkoutSet, len(values))
	for i, v := range values {
		kg, bw := models.ParseWeight(v.WeightText)
		e.Sets[i] = models.WorkoutSet{
			ExerciseID:   le.ID,
			SetIndex:     i,
			Reps:         v.Reps,
			WeightText:   v.WeightText,
			WeightKg:     kg,
			IsBodyweight: bw,
			CreatedAt:    created,
			UpdatedAt:    updated,
		}
	}
	return e
}

// normalizeDate reduces a legacy date or timestamp to YYYY-MM-DD.
func normalizeDate(s string) string {
	s = strings.TrimSpace(s)
	if _, err := time.Parse(models.DateLayout, s); err == nil {
		return s
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.Format(models.DateLayout)
	}
	if len(s) >= 10 {
		if _, err := time.Parse(models.DateLayout, s[:10]); err == nil {
			return s[:10]
		}
	}
	return s
}

// flexInt accepts a JSON number or a numeric string.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	s := strings.Trim(string(b), `"`)
	if s == "" {
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("parse number %q: %w", s, err)
	}
	*f = flexInt(n)
	return nil
}

// flexString accepts a JSON string or number and keeps its text.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = "0"
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	*f = flexString(strings.TrimSpace(string(b)))
	return nil
}

// legacyTime accepts RFC 3339 strings or epoch milliseconds. Anything else
// decodes to the zero time and is stamped during canonicalization.
type legacyTime time.Time

func (l *legacyTime) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			*l = legacyTime(t)
		}
		return nil
	}
	var ms float64
	if err := json.Unmarshal(b, &ms); err == nil && ms > 0 {
		*l = legacyTime(time.UnixMilli(int64(ms)).UTC())
	}
	return nil
}

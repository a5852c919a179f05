// ABOUTME: Postgres-backed workout repository scoped to the signed-in user.
// ABOUTME: Upserts a session tree in one transaction and cleans up orphaned exercises.
package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"go.uber.org/zap"

	"github.com/harperreed/lifts/internal/auth"
	"github.com/harperreed/lifts/internal/models"
	"github.com/harperreed/lifts/internal/storage"
)

var _ storage.Repository = (*Repository)(nil)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

const (
	existingExerciseIDsSQL = `SELECT id::text FROM workout_exercises WHERE session_id = $1`

	exerciseBelongsSQL = `SELECT EXISTS(SELECT 1 FROM workout_exercises WHERE id = $1 AND session_id = $2)`

	deleteStaleSetsSQL = `DELETE FROM workout_sets
        WHERE exercise_id = ANY($1::uuid[]) AND NOT (id = ANY($2::uuid[]))`

	deleteOrphanSetsSQL = `DELETE FROM workout_sets WHERE exercise_id = ANY($1::uuid[])`

	deleteOrphanExercisesSQL = `DELETE FROM workout_exercises WHERE id = ANY($1::uuid[]) AND session_id = $2`

	softDeleteSessionSQL = `UPDATE workout_sessions SET deleted_at = $2, updated_at = $2
        WHERE id = $1 AND user_id = $3 AND deleted_at IS NULL`

	deleteSessionSQL = `DELETE FROM workout_sessions WHERE id = $1 AND user_id = $2`
)

// Repository is the remote, authoritative store of a user's sessions.
type Repository struct {
	db     DB
	tx     *TxManager
	users  auth.UserSource
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Repository.
type Option func(*Repository)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Repository) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock injects the time source used for tombstones.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// NewRepository constructs a Repository over db. users supplies the
// tenant for every call.
func NewRepository(db DB, users auth.UserSource, opts ...Option) *Repository {
	r := &Repository{
		db:     db,
		tx:     NewTxManager(db),
		users:  users,
		now:    func() time.Time { return time.Now().UTC() },
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Repository) requireUser(ctx context.Context) (string, error) {
	if r.users == nil {
		return "", auth.ErrNotAuthenticated
	}
	return r.users.CurrentUserID(ctx)
}

// ListSessions returns the user's sessions, newest first. Without a
// signed-in user it returns an empty list.
func (r *Repository) ListSessions(ctx context.Context, includeDeleted bool) ([]*models.WorkoutSession, error) {
	userID, err := auth.OptionalUserID(ctx, r.users)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		return []*models.WorkoutSession{}, nil
	}

	var out []*models.WorkoutSession
	err = r.tx.RunInTx(ctx, userID, func(ctx context.Context) error {
		out, err = r.loadTrees(ctx, userID, "", includeDeleted)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}

// GetWorkoutSession returns one session tree, or nil if it does not exist
// for the current user. Tombstoned sessions are returned.
func (r *Repository) GetWorkoutSession(ctx context.Context, id string) (*models.WorkoutSession, error) {
	userID, err := auth.OptionalUserID(ctx, r.users)
	if err != nil {
		return nil, err
	}
	if userID == "" || !models.IsUUIDv4(id) {
		return nil, nil
	}

	var out []*models.WorkoutSession
	err = r.tx.RunInTx(ctx, userID, func(ctx context.Context) error {
		out, err = r.loadTrees(ctx, userID, id, true)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out[0], nil
}

// UpsertSession writes the session, its exercises and its sets so that the
// stored tree equals s. Every id must be UUIDv4; nothing is sent otherwise.
func (r *Repository) UpsertSession(ctx context.Context, s *models.WorkoutSession) error {
	if s == nil {
		return errors.New("upsert session: nil session")
	}
	if err := models.ValidateIDs(s); err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}
	userID, err := r.requireUser(ctx)
	if err != nil {
		return fmt.Errorf("upsert session: %w", err)
	}

	err = r.tx.RunInTx(ctx, userID, func(ctx context.Context) error {
		return r.upsertTree(ctx, userID, s)
	})
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", s.ID, err)
	}
	return nil
}

func (r *Repository) upsertTree(ctx context.Context, userID string, s *models.WorkoutSession) error {
	q := QuerierFromCtx(ctx, r.db)
	log := r.logger.With(zap.String("session_id", s.ID))

	previous, err := r.exerciseIDs(ctx, s.ID)
	if err != nil {
		return err
	}

	if err := r.upsertSessionRow(ctx, userID, s); err != nil {
		return err
	}

	if len(s.Exercises) > 0 {
		if err := r.upsertExerciseRows(ctx, s); err != nil {
			return err
		}
	}

	var verified []models.WorkoutExercise
	for _, e := range s.Exercises {
		var ok bool
		if err := q.QueryRow(ctx, exerciseBelongsSQL, e.ID, s.ID).Scan(&ok); err != nil {
			return mapError(err, "verify exercise", e.ID)
		}
		if !ok {
			log.Warn("exercise not owned by session after upsert; skipping its sets",
				zap.String("exercise_id", e.ID))
			continue
		}
		verified = append(verified, e)
	}

	if err := r.replaceSets(ctx, verified); err != nil {
		return err
	}

	current := make(map[string]bool, len(s.Exercises))
	for _, e := range s.Exercises {
		current[e.ID] = true
	}
	var orphans []string
	for _, id := range previous {
		if !current[id] {
			orphans = append(orphans, id)
		}
	}
	if len(orphans) > 0 {
		err := r.tx.RunInSavepoint(ctx, func(ctx context.Context) error {
			q := QuerierFromCtx(ctx, r.db)
			if _, err := q.Exec(ctx, deleteOrphanSetsSQL, orphans); err != nil {
				return fmt.Errorf("delete orphan sets: %w", err)
			}
			if _, err := q.Exec(ctx, deleteOrphanExercisesSQL, orphans, s.ID); err != nil {
				return fmt.Errorf("delete orphan exercises: %w", err)
			}
			return nil
		})
		if err != nil {
			log.Warn("orphan cleanup failed", zap.Strings("exercise_ids", orphans), zap.Error(err))
		}
	}
	return nil
}

func (r *Repository) exerciseIDs(ctx context.Context, sessionID string) ([]string, error) {
	rows, err := QuerierFromCtx(ctx, r.db).Query(ctx, existingExerciseIDsSQL, sessionID)
	if err != nil {
		return nil, mapError(err, "list exercises of session", sessionID)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan exercise id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) upsertSessionRow(ctx context.Context, userID string, s *models.WorkoutSession) error {
	query, args, err := psql.Insert("workout_sessions").
		Columns("id", "user_id", "performed_on", "title", "notes", "source", "created_at", "updated_at", "deleted_at").
		Values(s.ID, userID, s.PerformedOn, s.Title, s.Notes, s.Source, s.CreatedAt, s.UpdatedAt, s.DeletedAt).
		Suffix(`ON CONFLICT (id) DO UPDATE SET
            performed_on = EXCLUDED.performed_on,
            title = EXCLUDED.title,
            notes = EXCLUDED.notes,
            source = EXCLUDED.source,
            updated_at = EXCLUDED.updated_at,
            deleted_at = EXCLUDED.deleted_at
            WHERE workout_sessions.user_id = EXCLUDED.user_id`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build session upsert: %w", err)
	}
	if _, err := QuerierFromCtx(ctx, r.db).Exec(ctx, query, args...); err != nil {
		return mapError(err, "upsert session row", s.ID)
	}
	return nil
}

func (r *Repository) upsertExerciseRows(ctx context.Context, s *models.WorkoutSession) error {
	b := psql.Insert("workout_exercises").
		Columns("id", "session_id", "name_raw", "name_canonical", "primary_muscle_group",
			"muscle_contributions", "created_at", "updated_at")
	for _, e := range s.Exercises {
		contributions, err := encodeContributions(e.MuscleContributions)
		if err != nil {
			return err
		}
		b = b.Values(e.ID, s.ID, e.NameRaw, e.NameCanonical, e.PrimaryMuscleGroup,
			contributions, e.CreatedAt, e.UpdatedAt)
	}
	query, args, err := b.Suffix(`ON CONFLICT (id) DO UPDATE SET
            name_raw = EXCLUDED.name_raw,
            name_canonical = EXCLUDED.name_canonical,
            primary_muscle_group = EXCLUDED.primary_muscle_group,
            muscle_contributions = EXCLUDED.muscle_contributions,
            updated_at = EXCLUDED.updated_at
            WHERE workout_exercises.session_id = EXCLUDED.session_id`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build exercise upsert: %w", err)
	}
	if _, err := QuerierFromCtx(ctx, r.db).Exec(ctx, query, args...); err != nil {
		return mapError(err, "upsert exercises of session", s.ID)
	}
	return nil
}

// replaceSets makes the stored sets of each exercise equal its Sets.
func (r *Repository) replaceSets(ctx context.Context, exercises []models.WorkoutExercise) error {
	if len(exercises) == 0 {
		return nil
	}
	q := QuerierFromCtx(ctx, r.db)

	exerciseIDs := make([]string, 0, len(exercises))
	setIDs := []string{}
	b := psql.Insert("workout_sets").
		Columns("id", "exercise_id", "set_index", "reps", "weight_text", "weight_kg",
			"is_bodyweight", "created_at", "updated_at")
	for _, e := range exercises {
		exerciseIDs = append(exerciseIDs, e.ID)
		for _, set := range e.Sets {
			setIDs = append(setIDs, set.ID)
			b = b.Values(set.ID, e.ID, set.SetIndex, set.Reps, set.WeightText, set.WeightKg,
				set.IsBodyweight, set.CreatedAt, set.UpdatedAt)
		}
	}

	if _, err := q.Exec(ctx, deleteStaleSetsSQL, exerciseIDs, setIDs); err != nil {
		return mapError(err, "delete stale sets of exercises", fmt.Sprint(exerciseIDs))
	}
	if len(setIDs) == 0 {
		return nil
	}

	query, args, err := b.Suffix(`ON CONFLICT (id) DO UPDATE SET
            set_index = EXCLUDED.set_index,
            reps = EXCLUDED.reps,
            weight_text = EXCLUDED.weight_text,
            weight_kg = EXCLUDED.weight_kg,
            is_bodyweight = EXCLUDED.is_bodyweight,
            updated_at = EXCLUDED.updated_at
            WHERE workout_sets.exercise_id = EXCLUDED.exercise_id`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build set upsert: %w", err)
	}
	if _, err := q.Exec(ctx, query, args...); err != nil {
		return mapError(err, "upsert sets", fmt.Sprint(exerciseIDs))
	}
	return nil
}

// SoftDeleteSession tombstones the session.
func (r *Repository) SoftDeleteSession(ctx context.Context, id string) error {
	if !models.IsUUIDv4(id) {
		return fmt.Errorf("soft delete session %q: %w", id, models.ErrInvalidID)
	}
	userID, err := r.requireUser(ctx)
	if err != nil {
		return fmt.Errorf("soft delete session: %w", err)
	}

	return r.tx.RunInTx(ctx, userID, func(ctx context.Context) error {
		if _, err := QuerierFromCtx(ctx, r.db).Exec(ctx, softDeleteSessionSQL, id, r.now(), userID); err != nil {
			return mapError(err, "soft delete session", id)
		}
		return nil
	})
}

// DeleteSession removes the session; exercises and sets cascade.
func (r *Repository) DeleteSession(ctx context.Context, id string) error {
	if !models.IsUUIDv4(id) {
		return fmt.Errorf("delete session %q: %w", id, models.ErrInvalidID)
	}
	userID, err := r.requireUser(ctx)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	return r.tx.RunInTx(ctx, userID, func(ctx context.Context) error {
		if _, err := QuerierFromCtx(ctx, r.db).Exec(ctx, deleteSessionSQL, id, userID); err != nil {
			return mapError(err, "delete session", id)
		}
		return nil
	})
}

// loadTrees reads sessions with three queries and assembles their trees.
// An empty sessionID loads every session of the user.
func (r *Repository) loadTrees(ctx context.Context, userID, sessionID string, includeDeleted bool) ([]*models.WorkoutSession, error) {
	sessions, err := r.selectSessions(ctx, userID, sessionID, includeDeleted)
	if err != nil || len(sessions) == 0 {
		return sessions, err
	}

	byID := make(map[string]*models.WorkoutSession, len(sessions))
	ids := make([]string, 0, len(sessions))
	for _, s := range sessions {
		byID[s.ID] = s
		ids = append(ids, s.ID)
	}

	exercises, err := r.selectExercises(ctx, ids)
	if err != nil {
		return nil, err
	}
	exIDs := make([]string, 0, len(exercises))
	for _, e := range exercises {
		exIDs = append(exIDs, e.ID)
	}

	sets := map[string][]models.WorkoutSet{}
	if len(exIDs) > 0 {
		if sets, err = r.selectSets(ctx, exIDs); err != nil {
			return nil, err
		}
	}

	for _, e := range exercises {
		e.Sets = sets[e.ID]
		if e.Sets == nil {
			e.Sets = []models.WorkoutSet{}
		}
		e.SortSets()
		if s, ok := byID[e.SessionID]; ok {
			s.Exercises = append(s.Exercises, *e)
		}
	}
	return sessions, nil
}

func (r *Repository) selectSessions(ctx context.Context, userID, sessionID string, includeDeleted bool) ([]*models.WorkoutSession, error) {
	b := psql.Select("id::text", "user_id", "to_char(performed_on, 'YYYY-MM-DD')", "title", "notes", "source",
		"created_at", "updated_at", "deleted_at").
		From("workout_sessions").
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("performed_on DESC", "created_at DESC")
	if sessionID != "" {
		b = b.Where(squirrel.Eq{"id": sessionID})
	}
	if !includeDeleted {
		b = b.Where(squirrel.Eq{"deleted_at": nil})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build session query: %w", err)
	}

	rows, err := QuerierFromCtx(ctx, r.db).Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "select sessions of user", userID)
	}
	defer rows.Close()

	out := []*models.WorkoutSession{}
	for rows.Next() {
		var (
			s   models.WorkoutSession
			uid string
		)
		if err := rows.Scan(&s.ID, &uid, &s.PerformedOn, &s.Title, &s.Notes, &s.Source,
			&s.CreatedAt, &s.UpdatedAt, &s.DeletedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		s.UserID = &uid
		s.Exercises = []models.WorkoutExercise{}
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (r *Repository) selectExercises(ctx context.Context, sessionIDs []string) ([]*models.WorkoutExercise, error) {
	query, args, err := psql.Select("id::text", "session_id::text", "name_raw", "name_canonical",
		"primary_muscle_group", "muscle_contributions", "created_at", "updated_at").
		From("workout_exercises").
		Where("session_id = ANY(?::uuid[])", sessionIDs).
		OrderBy("created_at", "id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build exercise query: %w", err)
	}

	rows, err := QuerierFromCtx(ctx, r.db).Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "select exercises of sessions", fmt.Sprint(sessionIDs))
	}
	defer rows.Close()

	var out []*models.WorkoutExercise
	for rows.Next() {
		var (
			e             models.WorkoutExercise
			contributions []byte
		)
		if err := rows.Scan(&e.ID, &e.SessionID, &e.NameRaw, &e.NameCanonical, &e.PrimaryMuscleGroup,
			&contributions, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan exercise: %w", err)
		}
		if e.MuscleContributions, err = decodeContributions(contributions); err != nil {
			return nil, fmt.Errorf("exercise %s: %w", e.ID, err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (r *Repository) selectSets(ctx context.Context, exerciseIDs []string) (map[string][]models.WorkoutSet, error) {
	query, args, err := psql.Select("id::text", "exercise_id::text", "set_index", "reps", "weight_text",
		"weight_kg", "is_bodyweight", "created_at", "updated_at").
		From("workout_sets").
		Where("exercise_id = ANY(?::uuid[])", exerciseIDs).
		OrderBy("exercise_id", "set_index").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build set query: %w", err)
	}

	rows, err := QuerierFromCtx(ctx, r.db).Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "select sets of exercises", fmt.Sprint(exerciseIDs))
	}
	defer rows.Close()

	out := make(map[string][]models.WorkoutSet)
	for rows.Next() {
		var s models.WorkoutSet
		if err := rows.Scan(&s.ID, &s.ExerciseID, &s.SetIndex, &s.Reps, &s.WeightText,
			&s.WeightKg, &s.IsBodyweight, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan set: %w", err)
		}
		out[s.ExerciseID] = append(out[s.ExerciseID], s)
	}
	return out, rows.Err()
}

func encodeContributions(c []models.MuscleContribution) ([]byte, error) {
	if len(c) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode muscle contributions: %w", err)
	}
	return data, nil
}

func decodeContributions(data []byte) ([]models.MuscleContribution, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var c []models.MuscleContribution
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode muscle contributions: %w", err)
	}
	return c, nil
}

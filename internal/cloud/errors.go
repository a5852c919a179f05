// ABOUTME: Maps pgx and Postgres errors onto repository errors.
// ABOUTME: Context cancellation passes through untouched.
package cloud

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/harperreed/lifts/internal/models"
	"github.com/harperreed/lifts/internal/storage"
)

// mapError converts pgx/pgconn errors to repository errors.
func mapError(err error, entity, id string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s %s: %w", entity, id, err)
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", entity, id, storage.ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503": // foreign_key_violation
			return fmt.Errorf("%s %s: %w", entity, id, storage.ErrNotFound)
		case "22P02": // invalid_text_representation, e.g. a malformed uuid
			return fmt.Errorf("%s %s: %w", entity, id, models.ErrInvalidID)
		}
	}

	return fmt.Errorf("%s %s: %w", entity, id, err)
}

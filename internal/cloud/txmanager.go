// ABOUTME: Transaction manager using the context pattern.
// ABOUTME: Scopes each transaction to a user for row-level security and supports savepoints.
package cloud

import (
	"context"
	"fmt"
)

const setUserSQL = `SELECT set_config('app.user_id', $1, true)`

// TxManager manages database transactions using the context pattern.
type TxManager struct {
	db DB
}

// NewTxManager creates a new TxManager.
func NewTxManager(db DB) *TxManager {
	return &TxManager{db: db}
}

// RunInTx executes fn within a transaction whose row-level security
// context is userID.
// On success: commits.
// On error from fn: rolls back and returns the error.
// On panic from fn: rolls back and re-panics.
func (m *TxManager) RunInTx(ctx context.Context, userID string, fn func(ctx context.Context) error) (err error) {
	tx, err := m.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback(ctx)
			panic(r)
		}
	}()

	if _, err := tx.Exec(ctx, setUserSQL, userID); err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("set user context: %w", err)
	}

	if err := fn(withTx(ctx, tx)); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("rollback failed: %w (original error: %v)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// RunInSavepoint executes fn inside a savepoint of the context's
// transaction. A failure rolls back to the savepoint and leaves the outer
// transaction usable. It requires a transaction in ctx.
func (m *TxManager) RunInSavepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, ok := txFromCtx(ctx)
	if !ok {
		return fmt.Errorf("savepoint: no transaction in context")
	}

	sp, err := tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin savepoint: %w", err)
	}

	if err := fn(withTx(ctx, sp)); err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return fmt.Errorf("rollback savepoint failed: %w (original error: %v)", rbErr, err)
		}
		return err
	}

	if err := sp.Commit(ctx); err != nil {
		return fmt.Errorf("release savepoint: %w", err)
	}
	return nil
}

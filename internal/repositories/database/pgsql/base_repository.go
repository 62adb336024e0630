package pgsql

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SscSPs/bank_posting_core/internal/apperrors"
	portsrepo "github.com/SscSPs/bank_posting_core/internal/core/ports/repositories"
)

// Postgres SQLSTATE codes the repositories react to.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgUniqueViolation      = "23505"
)

const maxTxAttempts = 3

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

var (
	_ querier = (*pgxpool.Pool)(nil)
	_ querier = (pgx.Tx)(nil)

	_ portsrepo.TransactionManager = (*BaseRepository)(nil)
)

// BaseRepository provides common functionality for all repositories
type BaseRepository struct {
	Pool *pgxpool.Pool
}

// Begin starts a new database transaction
func (r *BaseRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := r.Pool.Begin(ctx)
	if err != nil {
		return nil, classify(err, "failed to begin transaction")
	}
	return tx, nil
}

// Commit commits a transaction. A failure here leaves the outcome unknown to the caller.
func (r *BaseRepository) Commit(ctx context.Context, tx pgx.Tx) error {
	if err := tx.Commit(ctx); err != nil {
		if retryable(err) {
			return classify(err, "failed to commit transaction")
		}
		return apperrors.NewAppError(apperrors.CodeStoreFatal, "failed to commit transaction", err)
	}
	return nil
}

// Rollback rolls back a transaction
func (r *BaseRepository) Rollback(ctx context.Context, tx pgx.Tx) error {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return classify(err, "failed to rollback transaction")
	}
	return nil
}

// WithTx runs fn in a transaction, retrying serialization failures and deadlocks
// with a short quadratic backoff.
func (r *BaseRepository) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = r.runTx(ctx, fn)
		if err == nil || !retryable(err) || attempt == maxTxAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff(attempt)):
		}
	}
	return err
}

func (r *BaseRepository) runTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := r.Begin(ctx)
	if err != nil {
		return err
	}
	defer r.Rollback(ctx, tx) // Will be ignored if transaction is committed successfully

	if err := fn(tx); err != nil {
		return err
	}
	return r.Commit(ctx, tx)
}

func backoff(attempt int) time.Duration {
	base := 20 * time.Millisecond
	return time.Duration(attempt*attempt)*base + time.Duration(rand.Int64N(int64(10*time.Millisecond)))
}

// retryable reports whether the statement may succeed if the transaction is run again.
func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Code == apperrors.CodeStoreTransient && errors.As(appErr.Err, &pgErr) &&
			(pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected)
	}
	return false
}

// classify maps a driver error onto the error kinds callers act on.
func classify(err error, msg string) error {
	if err == nil {
		return nil
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", msg, apperrors.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%s: %w: %s", msg, apperrors.ErrDuplicate, pgErr.ConstraintName)
		case pgSerializationFailure, pgDeadlockDetected:
			return apperrors.NewAppError(apperrors.CodeStoreTransient, msg, err)
		default:
			return apperrors.NewAppError(apperrors.CodeStoreFatal, msg, err)
		}
	}
	// Connection-level failures and cancelled contexts: safe to retry under idempotency.
	return apperrors.NewAppError(apperrors.CodeStoreTransient, msg, err)
}

package repository

import (
	"context"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/GTDGit/gtd_backoffice/internal/utils"
)

// maxTxRetries bounds internal retries on serialization conflicts before the
// error is surfaced as TRANSIENT_CONFLICT. Overridable via SetTxRetryLimit.
var maxTxRetries = 3

// SetTxRetryLimit sets the retry bound for transactional conflicts. Called
// once during startup; values below 1 are ignored.
func SetTxRetryLimit(n int) {
	if n >= 1 {
		maxTxRetries = n
	}
}

// runInTx executes fn inside a transaction, committing on success and rolling
// back on error. Serialization failures and deadlocks are retried a bounded
// number of times; a rolled-back transaction leaves no partial effects.
func runInTx(ctx context.Context, db *sqlx.DB, fn func(tx *sqlx.Tx) error) error {
	var lastErr error
	for attempt := 0; attempt <= maxTxRetries; attempt++ {
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return utils.ErrStorageUnavailable
		}

		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			if isSerializationFailure(err) {
				lastErr = err
				continue
			}
			return err
		}

		if err := tx.Commit(); err != nil {
			if isSerializationFailure(err) {
				lastErr = err
				continue
			}
			return utils.ErrStorageUnavailable
		}
		return nil
	}
	log.Warn().Err(lastErr).Int("attempts", maxTxRetries+1).Msg("Transaction retries exhausted")
	return utils.ErrTransientConflict
}

// isSerializationFailure reports whether err is a retryable concurrency error
// (serialization_failure or deadlock_detected).
func isSerializationFailure(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "40001" || pqErr.Code == "40P01"
	}
	return false
}

// isUniqueViolation reports whether err is a unique constraint violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

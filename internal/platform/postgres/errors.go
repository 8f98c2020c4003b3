package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/phrazzld/snippet-runner/internal/engine"
)

// PostgreSQL error codes
const (
	// uniqueViolationCode is the PostgreSQL error code for unique constraint violations
	uniqueViolationCode = "23505"

	// foreignKeyViolationCode is the PostgreSQL error code for foreign key violations
	foreignKeyViolationCode = "23503"

	// serializationFailureCode is raised when concurrent transactions conflict
	serializationFailureCode = "40001"

	// deadlockDetectedCode is raised when the server breaks a deadlock
	deadlockDetectedCode = "40P01"

	// tooManyConnectionsCode is raised when the server refuses a new session
	tooManyConnectionsCode = "53300"

	// lockNotAvailableCode is raised by NOWAIT lock requests
	lockNotAvailableCode = "55P03"
)

// Error classes (first two characters of SQLSTATE).
const (
	classDataException       = "22"
	classIntegrityConstraint = "23"
	classConnectionException = "08"
	classOperatorIntervened  = "57"
)

// MapError maps a database error onto the engine error vocabulary so the
// pipeline can classify it:
//
//   - sql.ErrNoRows becomes engine.ErrNotFound
//   - data exceptions and integrity violations become engine.ErrBadInput
//   - serialization failures, deadlocks, connection loss, admin shutdown,
//     timeouts and cancellations become engine.ErrRetryable
//   - everything else becomes engine.ErrUnrecoverable
//
// Errors that already carry an engine category are returned unchanged.
func MapError(op string, err error) error {
	if err == nil {
		return nil
	}

	var engErr *engine.Error
	if errors.As(err, &engErr) {
		return err
	}

	if errors.Is(err, sql.ErrNoRows) {
		return engine.NewError(op, engine.ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		e := engine.NewError(op, classifyCode(pgErr.Code), err)
		e.Code = sqlStateNumber(pgErr.Code)
		return e
	}

	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, driver.ErrBadConn),
		errors.Is(err, sql.ErrConnDone),
		pgconn.Timeout(err),
		pgconn.SafeToRetry(err):
		return engine.NewError(op, engine.ErrRetryable, err)
	}

	return engine.NewError(op, engine.ErrUnrecoverable, err)
}

func classifyCode(code string) error {
	switch code {
	case serializationFailureCode, deadlockDetectedCode, tooManyConnectionsCode, lockNotAvailableCode:
		return engine.ErrRetryable
	}
	switch {
	case strings.HasPrefix(code, classIntegrityConstraint), strings.HasPrefix(code, classDataException):
		return engine.ErrBadInput
	case strings.HasPrefix(code, classConnectionException), strings.HasPrefix(code, classOperatorIntervened):
		return engine.ErrRetryable
	default:
		return engine.ErrUnrecoverable
	}
}

// sqlStateNumber returns the numeric value of a SQLSTATE made only of
// digits, zero otherwise.
func sqlStateNumber(code string) int {
	n := 0
	for _, c := range code {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// IsUniqueViolation checks if the given error is a PostgreSQL unique constraint violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

// IsForeignKeyViolation checks if the given error is a PostgreSQL foreign key constraint violation.
func IsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolationCode
}

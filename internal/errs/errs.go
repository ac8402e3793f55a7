// Package errs defines the error taxonomy shared across the raw loader and
// staging transformer: a small set of kinds, each carrying whether the
// underlying failure is safe to retry.
package errs

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Kind classifies a failure into one of the categories the loader knows how
// to react to.
type Kind string

const (
	// KindParse marks a malformed delimited-file chunk. Fatal for the file,
	// never retryable.
	KindParse Kind = "PARSE_ERROR"
	// KindValidation marks a single row that failed transformation or
	// validation. Routed to the rejection table, never fatal.
	KindValidation Kind = "VALIDATION_ERROR"
	// KindDatabase marks a database failure. Retryable is set per-instance
	// based on Postgres error classification.
	KindDatabase Kind = "DATABASE_ERROR"
	// KindConstraint marks a constraint violation. Fails the batch, never
	// retried.
	KindConstraint Kind = "CONSTRAINT_VIOLATION"
	// KindIdempotency marks a file already processed. Warning-level, yields
	// an empty result.
	KindIdempotency Kind = "IDEMPOTENCY_CONFLICT"
	// KindFileNotFound marks a missing source object. Fatal for the file.
	KindFileNotFound Kind = "FILE_NOT_FOUND"
	// KindPermission marks an access-denied failure reading a source object.
	// Fatal for the file.
	KindPermission Kind = "PERMISSION_ERROR"
	// KindMemory marks a resource-exhaustion failure. Retryable.
	KindMemory Kind = "MEMORY_ERROR"
	// KindTimeout marks an operation that exceeded its deadline. Retryable.
	KindTimeout Kind = "TIMEOUT_ERROR"
	// KindTransformation marks a single row that failed type coercion.
	// Routed to the rejection table, never fatal.
	KindTransformation Kind = "TRANSFORMATION_ERROR"
)

// Error wraps an underlying error with a Kind and whether retrying the
// operation that produced it is expected to help.
type Error struct {
	Kind      Kind
	Err       error
	Retryable bool
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an *Error of the given kind wrapping err.
func New(kind Kind, retryable bool, err error) *Error {
	return &Error{Kind: kind, Err: err, Retryable: retryable}
}

// Newf builds an *Error of the given kind from a formatted message.
func Newf(kind Kind, retryable bool, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...), Retryable: retryable}
}

// IsRetryable reports whether err is an *Error marked retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}

	return false
}

// KindOf returns the Kind carried by err, or "" if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return ""
}

// pqConnectionClass is the SQLSTATE class prefix for connection exceptions.
const pqConnectionClass = "08"

// transientClasses are SQLSTATE class prefixes considered safe to retry:
// connection exception and insufficient resources. Deadlock and query
// cancellation paths, which Postgres surfaces as classes 40 and 57, are
// handled below by exact code instead of class.
var transientClasses = map[string]bool{
	pqConnectionClass: true,
	"53":              true,
}

// transientCodes are specific SQLSTATE codes outside the transient classes
// above that are still worth retrying (serialization failure, deadlock
// detected, lock not available, query canceled).
var transientCodes = map[string]bool{
	"40001": true,
	"40P01": true,
	"55P03": true,
	"57014": true,
}

// ClassifyDatabaseError inspects a database/sql error and wraps it as a
// KindDatabase *Error, marking it retryable when the underlying Postgres
// error code indicates a transient condition (connection loss, deadlock,
// serialization failure) rather than a permanent one (syntax error,
// constraint violation).
func ClassifyDatabaseError(err error) *Error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error

	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)
		if len(code) >= 2 && (transientClasses[code[:2]] || transientCodes[code]) {
			return New(KindDatabase, true, err)
		}

		if len(code) >= 2 && code[:2] == "23" {
			return New(KindConstraint, false, err)
		}

		return New(KindDatabase, false, err)
	}

	// Driver-level errors (e.g. connection already closed, context
	// deadline) without a *pq.Error are treated as transient: the caller
	// almost always wants one more attempt before giving up.
	return New(KindDatabase, true, err)
}

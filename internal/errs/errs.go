// Package errs defines the error taxonomy shared by the store, the
// lifecycle components and the reconciliation coordinator.
//
//   - Transient: store or gateway timeout; retried with backoff, bounded
//   - Conflict: a conditional write lost a race; re-read and retry once
//   - NotFound: an expected record is missing; often a valid state
//   - Invariant: persisted state breaks a model invariant; logged loudly,
//     never auto-corrected
package errs

import (
	"errors"
	"fmt"

	"github.com/lwidev/therockqc/internal/model"
)

// Code categorizes errors.
type Code string

const (
	CodeTransient Code = "TRANSIENT_IO"
	CodeConflict  Code = "CONFLICT"
	CodeNotFound  Code = "NOT_FOUND"
	CodeInvariant Code = "INVARIANT_VIOLATION"
)

// Error is a categorized error with the operation and member it concerns.
type Error struct {
	Code     Code
	Op       string
	MemberID model.MemberID
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.MemberID != "" {
		msg += fmt.Sprintf(" (member=%s)", e.MemberID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable I/O failure.
func Transient(op string, err error) *Error {
	return &Error{Code: CodeTransient, Op: op, Err: err}
}

// Conflict reports a lost conditional write.
func Conflict(op string, id model.MemberID) *Error {
	return &Error{Code: CodeConflict, Op: op, MemberID: id}
}

// NotFound reports a missing record.
func NotFound(op string, id model.MemberID) *Error {
	return &Error{Code: CodeNotFound, Op: op, MemberID: id}
}

// Invariant reports a broken model invariant.
func Invariant(op string, id model.MemberID, format string, args ...any) *Error {
	return &Error{Code: CodeInvariant, Op: op, MemberID: id, Err: fmt.Errorf(format, args...)}
}

func hasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsTransient returns true if err is a retryable I/O failure.
// Uses errors.As to handle wrapped errors.
func IsTransient(err error) bool { return hasCode(err, CodeTransient) }

// IsConflict returns true if err is a lost conditional write.
func IsConflict(err error) bool { return hasCode(err, CodeConflict) }

// IsNotFound returns true if err reports a missing record.
func IsNotFound(err error) bool { return hasCode(err, CodeNotFound) }

// IsInvariant returns true if err reports a broken invariant.
func IsInvariant(err error) bool { return hasCode(err, CodeInvariant) }

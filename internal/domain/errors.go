package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound              = errors.New("document not found")
	ErrForbidden             = errors.New("document does not belong to user")
	ErrMalformedPrecondition = errors.New("malformed precondition")
	ErrVersionMismatch       = errors.New("version mismatch")
	ErrPreconditionRequired  = errors.New("precondition required")
	ErrInvariantViolation    = errors.New("invariant violation")
	ErrStoreUnavailable      = errors.New("store unavailable")
	ErrHistoryNotRetained    = errors.New("history is not retained for this document type")
	ErrUnknownType           = errors.New("unknown document type")
)

// PreconditionError reports why a conditional request was rejected. Err is one
// of ErrMalformedPrecondition, ErrVersionMismatch or ErrPreconditionRequired.
type PreconditionError struct {
	Err      error
	Header   string
	Expected int64
	// Current is -1 when the stored version is unknown.
	Current int64
}

func (e *PreconditionError) Error() string {
	switch {
	case errors.Is(e.Err, ErrMalformedPrecondition):
		return fmt.Sprintf("%v: %q is not a document version", e.Err, e.Header)
	case errors.Is(e.Err, ErrVersionMismatch) && e.Current >= 0:
		return fmt.Sprintf("%v: expected version %d but document is at version %d", e.Err, e.Expected, e.Current)
	case errors.Is(e.Err, ErrVersionMismatch):
		return fmt.Sprintf("%v: document changed after version %d", e.Err, e.Expected)
	default:
		return e.Err.Error()
	}
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}

// Code is the machine readable reason sent to clients.
func (e *PreconditionError) Code() string {
	switch {
	case errors.Is(e.Err, ErrMalformedPrecondition):
		return "malformed_precondition"
	case errors.Is(e.Err, ErrVersionMismatch):
		return "version_mismatch"
	case errors.Is(e.Err, ErrPreconditionRequired):
		return "precondition_required"
	default:
		return "precondition_failed"
	}
}

// Reason is the human readable explanation attached to the If-Match field.
func (e *PreconditionError) Reason() string {
	switch {
	case errors.Is(e.Err, ErrMalformedPrecondition):
		return "must be a non-negative integer document version"
	case errors.Is(e.Err, ErrVersionMismatch) && e.Current >= 0:
		return fmt.Sprintf("version %d is stale, document is at version %d", e.Expected, e.Current)
	case errors.Is(e.Err, ErrVersionMismatch):
		return fmt.Sprintf("version %d is stale, document was modified concurrently", e.Expected)
	case errors.Is(e.Err, ErrPreconditionRequired):
		return "required for this operation"
	default:
		return e.Err.Error()
	}
}

// NewVersionMismatch builds the error returned when a stored version no longer
// matches the one the client observed.
func NewVersionMismatch(expected, current int64) *PreconditionError {
	return &PreconditionError{Err: ErrVersionMismatch, Expected: expected, Current: current}
}

// InvariantError carries context for an internal consistency failure.
type InvariantError struct {
	Type    string
	ID      string
	Version int64
	Detail  string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%v: %s/%s@%d: %s", ErrInvariantViolation, e.Type, e.ID, e.Version, e.Detail)
}

func (e *InvariantError) Unwrap() error {
	return ErrInvariantViolation
}

// Unavailable wraps an infrastructure failure so callers can classify it as
// ErrStoreUnavailable while keeping the cause.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}

/*
errors.go - Error taxonomy for the ledger

PURPOSE:
  Every failure the ledger reports falls into one of six kinds. Callers
  match kinds with errors.Is against the sentinels below; the boundary
  layer turns them into a stable machine-readable code with Code().

ERROR KINDS:
  ErrValidation            malformed or missing input, rejected before any write
  ErrNotFound              referenced customer, entry or movement is missing
  ErrDuplicateName         customer name already taken
  ErrAlreadySettled        settling a debt line twice
  ErrUnsupportedCorrection reversal requested for a kind that is not reversible
  ErrStorage               the store could not read or commit

RETRIES:
  Nothing is retried automatically. Only ErrStorage may be worth a retry by
  the caller; every other kind is terminal for that request.

SEE ALSO:
  - engine.go: raises these errors
  - api/handlers.go: maps Code() to HTTP status
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation            = errors.New("validation error")
	ErrNotFound              = errors.New("not found")
	ErrDuplicateName         = errors.New("duplicate customer name")
	ErrAlreadySettled        = errors.New("debt item already settled")
	ErrUnsupportedCorrection = errors.New("unsupported correction")
	ErrStorage               = errors.New("storage error")
)

// =============================================================================
// STRUCTURED ERROR
// =============================================================================

// Error carries the kind, the operation that failed, a human-readable
// message and the underlying cause, if any.
type Error struct {
	Kind    error
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func newError(kind error, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Validationf builds a validation error.
func Validationf(op, format string, args ...any) error {
	return newError(ErrValidation, op, format, args...)
}

// NotFoundf builds a not-found error.
func NotFoundf(op, format string, args ...any) error {
	return newError(ErrNotFound, op, format, args...)
}

// StorageError wraps a failure of the underlying store. A nil err yields nil.
// Errors that already carry a ledger kind, including the typed errors
// below, are returned unchanged.
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var le *Error
	if errors.As(err, &le) || IsClientError(err) {
		return err
	}
	return &Error{Kind: ErrStorage, Op: op, Message: "storage failure", Err: err}
}

// DuplicateNameError is returned when a customer name is already taken.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("customer %q already exists", e.Name)
}

func (e *DuplicateNameError) Unwrap() error { return ErrDuplicateName }

// AlreadySettledError is returned when a debt line is settled twice.
type AlreadySettledError struct {
	EntryID EntryID
}

func (e *AlreadySettledError) Error() string {
	return fmt.Sprintf("debt item %d is already settled", e.EntryID)
}

func (e *AlreadySettledError) Unwrap() error { return ErrAlreadySettled }

// UnsupportedCorrectionError is returned when a reversal is requested for an
// event that cannot be reversed without guessing.
type UnsupportedCorrectionError struct {
	Kind   Kind
	ID     int64
	Reason string
}

func (e *UnsupportedCorrectionError) Error() string {
	return fmt.Sprintf("cannot reverse %s %d: %s", e.Kind, e.ID, e.Reason)
}

func (e *UnsupportedCorrectionError) Unwrap() error { return ErrUnsupportedCorrection }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// Error codes exposed at the boundary. They are part of the API contract.
const (
	CodeValidation            = "VALIDATION_ERROR"
	CodeNotFound              = "NOT_FOUND"
	CodeDuplicateName         = "DUPLICATE_NAME"
	CodeAlreadySettled        = "ALREADY_SETTLED"
	CodeUnsupportedCorrection = "UNSUPPORTED_CORRECTION"
	CodeStorage               = "STORAGE_ERROR"
)

// Code returns the stable machine-readable code for err. Errors without a
// ledger kind are reported as storage errors.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrDuplicateName):
		return CodeDuplicateName
	case errors.Is(err, ErrAlreadySettled):
		return CodeAlreadySettled
	case errors.Is(err, ErrUnsupportedCorrection):
		return CodeUnsupportedCorrection
	default:
		return CodeStorage
	}
}

// IsClientError returns true if the error is due to the caller's input.
func IsClientError(err error) bool {
	return Code(err) != CodeStorage
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorage)
}

package booking

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrIdentifierCollision marks a candidate pair that is already taken,
	// either reported by the probe or by the unique index on insert.
	ErrIdentifierCollision = errors.New("identifier collision")
	// ErrIdentifierExhaustion is returned when every attempt collided.
	ErrIdentifierExhaustion = errors.New("could not allocate a unique appointment number, try again")

	ErrAppointmentNotFound  = errors.New("appointment not found")
	ErrAppointmentCompleted = errors.New("appointment is completed")
	ErrForbidden            = errors.New("not allowed to modify this appointment")
	ErrRateLimited          = errors.New("too many bookings, slow down")
)

// PrerequisiteMissingError lists every SAD number that is not registered.
type PrerequisiteMissingError struct {
	Missing []string
}

func (e *PrerequisiteMissingError) Error() string {
	return fmt.Sprintf("sad declarations not registered: %s", strings.Join(e.Missing, ", "))
}

type InvalidPayloadError struct {
	Reason string
}

func (e *InvalidPayloadError) Error() string {
	return "invalid booking: " + e.Reason
}

func invalid(format string, args ...any) error {
	return &InvalidPayloadError{Reason: fmt.Sprintf(format, args...)}
}

// ChildWriteFailedError is returned when the T1 records could not be written
// after the appointment row was. CompensationErr is set when the compensating
// delete failed as well and the parent row may still exist.
type ChildWriteFailedError struct {
	AppointmentID     uint64
	AppointmentNumber string
	WeighbridgeNumber string
	Err               error
	CompensationErr   error
}

func (e *ChildWriteFailedError) Error() string {
	if e.CompensationErr != nil {
		return fmt.Sprintf("write t1 records for %s: %v (compensation failed: %v)", e.AppointmentNumber, e.Err, e.CompensationErr)
	}
	return fmt.Sprintf("write t1 records for %s: %v (appointment rolled back)", e.AppointmentNumber, e.Err)
}

func (e *ChildWriteFailedError) Unwrap() error { return e.Err }

// Compensated reports whether the orphaned parent row was removed.
func (e *ChildWriteFailedError) Compensated() bool { return e.CompensationErr == nil }

// TransientStoreError wraps a store or registry call that failed because the
// backend was unreachable or slow.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("%s: store unavailable: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error { return e.Err }

// Timeout reports whether the call ran into its per-call deadline.
func (e *TransientStoreError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

const (
	CodeInvalidPayload       = "invalid_payload"
	CodePrerequisiteMissing  = "prerequisite_missing"
	CodeIdentifierExhaustion = "identifier_exhaustion"
	CodeChildWriteFailed     = "child_write_failed"
	CodeTransientStore       = "store_unavailable"
	CodeNotFound             = "not_found"
	CodeCompleted            = "appointment_completed"
	CodeForbidden            = "forbidden"
	CodeRateLimited          = "rate_limited"
	CodeInternal             = "internal"
)

// Classify maps an error returned by this package onto a stable code.
func Classify(err error) string {
	var (
		invalidErr   *InvalidPayloadError
		missingErr   *PrerequisiteMissingError
		childErr     *ChildWriteFailedError
		transientErr *TransientStoreError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &invalidErr):
		return CodeInvalidPayload
	case errors.As(err, &missingErr):
		return CodePrerequisiteMissing
	case errors.Is(err, ErrIdentifierExhaustion):
		return CodeIdentifierExhaustion
	case errors.As(err, &childErr):
		return CodeChildWriteFailed
	case errors.As(err, &transientErr):
		return CodeTransientStore
	case errors.Is(err, ErrAppointmentNotFound):
		return CodeNotFound
	case errors.Is(err, ErrAppointmentCompleted):
		return CodeCompleted
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	default:
		return CodeInternal
	}
}

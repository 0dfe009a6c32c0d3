package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by repo and service functions when the requested
// resource does not exist in the database.
// Handlers should map this to HTTP 404.
var ErrNotFound = errors.New("not found")

// ErrValidation is returned by service functions when input fails business
// rule validation (e.g. rating out of range, meeting point too far from the route).
// Handlers should map this to HTTP 422 Unprocessable Entity.
var ErrValidation = errors.New("validation error")

// ErrConflict is returned when an invariant-violating state already exists:
// an open session for the driver, a duplicate membership, a second start.
var ErrConflict = errors.New("conflict")

// ErrCapacityExceeded is returned when a join targets a full session.
var ErrCapacityExceeded = errors.New("capacity exceeded")

// ErrAlreadyInTrip is returned when a passenger already holds a joined membership.
var ErrAlreadyInTrip = errors.New("already in trip")

// ErrInvalidTransition is returned when a state machine edge does not exist
// from the current state (terminal sessions, non-pending stops).
var ErrInvalidTransition = errors.New("invalid transition")

// ErrPermissionDenied is returned when location permissions were refused.
// It is not retryable without user intervention.
var ErrPermissionDenied = errors.New("permission denied")

// ErrForbidden is returned when the caller is not the actor allowed to
// perform the operation (e.g. a passenger trying to start a trip).
var ErrForbidden = errors.New("forbidden")

// ErrRemoteUnavailable is returned when the backing store cannot be reached.
var ErrRemoteUnavailable = errors.New("remote unavailable")

// ErrPartialWrite is returned when a multi-step creation failed after its
// first step and the compensation could not remove the partial parent.
var ErrPartialWrite = errors.New("partial write")

// GeofenceError reports a meeting point that lies too far from the route.
// It matches ErrValidation under errors.Is.
type GeofenceError struct {
	Distance  float64
	Threshold float64
}

func (e *GeofenceError) Error() string {
	return fmt.Sprintf("%s: meeting point is %.0f meters too far from the route", ErrValidation, e.Overage())
}

// Overage is how many meters beyond the threshold the point lies.
func (e *GeofenceError) Overage() float64 {
	if e.Distance <= e.Threshold {
		return 0
	}
	return e.Distance - e.Threshold
}

func (e *GeofenceError) Unwrap() error { return ErrValidation }

package domain

import (
	"context"
	"errors"
	"fmt"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency.

var (
	// Location provider errors
	ErrPermissionDenied    = errors.New("location permission denied")
	ErrPositionUnavailable = errors.New("position unavailable")
	ErrTimeout             = errors.New("location request timed out")
	ErrUnknownSubscription = errors.New("unknown watch subscription")

	// Persistence errors
	ErrPersistence  = errors.New("persistence unavailable")
	ErrCorruptState = errors.New("persisted state is corrupt")

	// Catalog errors
	ErrInvalidCatalog = errors.New("invalid location catalog")

	// Session errors
	ErrAlreadyStarted = errors.New("session already started")
	ErrStopped        = errors.New("session stopped")
)

// ─── Location Error Classification ──────────────────────────────────────────

// LocationErrorKind is the classification reported to the presenter when a
// reading fails.
type LocationErrorKind int

const (
	LocationErrorUnknown LocationErrorKind = iota
	LocationErrorPermissionDenied
	LocationErrorPositionUnavailable
	LocationErrorTimeout
)

// String returns a human-readable kind.
func (k LocationErrorKind) String() string {
	switch k {
	case LocationErrorPermissionDenied:
		return "permission_denied"
	case LocationErrorPositionUnavailable:
		return "position_unavailable"
	case LocationErrorTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Message returns the user-facing text for the kind.
func (k LocationErrorKind) Message() string {
	switch k {
	case LocationErrorPermissionDenied:
		return "Unable to get location: Permission denied"
	case LocationErrorPositionUnavailable:
		return "Unable to get location: Position unavailable"
	case LocationErrorTimeout:
		return "Unable to get location: Request timeout"
	default:
		return "Unable to get location: Unknown error"
	}
}

// LocationErrorKindFromCode maps the platform geolocation error codes
// (1 permission denied, 2 position unavailable, 3 timeout).
func LocationErrorKindFromCode(code int) LocationErrorKind {
	switch code {
	case 1:
		return LocationErrorPermissionDenied
	case 2:
		return LocationErrorPositionUnavailable
	case 3:
		return LocationErrorTimeout
	default:
		return LocationErrorUnknown
	}
}

// LocationError is a provider failure carrying its classification.
type LocationError struct {
	Kind LocationErrorKind
	Err  error
}

// NewLocationError builds a LocationError whose cause is the sentinel for kind.
func NewLocationError(kind LocationErrorKind) *LocationError {
	return &LocationError{Kind: kind, Err: kind.sentinel()}
}

func (e *LocationError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("location error: %s", e.Kind)
	}
	return fmt.Sprintf("location error: %s: %v", e.Kind, e.Err)
}

func (e *LocationError) Unwrap() error { return e.Err }

func (k LocationErrorKind) sentinel() error {
	switch k {
	case LocationErrorPermissionDenied:
		return ErrPermissionDenied
	case LocationErrorPositionUnavailable:
		return ErrPositionUnavailable
	case LocationErrorTimeout:
		return ErrTimeout
	default:
		return errors.New("unknown location error")
	}
}

// ClassifyLocationError maps any provider error onto a LocationErrorKind.
// Context deadlines count as timeouts.
func ClassifyLocationError(err error) LocationErrorKind {
	if err == nil {
		return LocationErrorUnknown
	}
	var le *LocationError
	if errors.As(err, &le) {
		return le.Kind
	}
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return LocationErrorPermissionDenied
	case errors.Is(err, ErrPositionUnavailable):
		return LocationErrorPositionUnavailable
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return LocationErrorTimeout
	default:
		return LocationErrorUnknown
	}
}

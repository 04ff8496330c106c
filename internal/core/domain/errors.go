package domain

import "github.com/pkg/errors"

var (
	// Store outcomes.
	ErrNotFound = errors.New("call record not found")
	ErrConflict = errors.New("call record conflict")

	// Negotiation outcomes surfaced to the user as bad input.
	ErrInvalidCallID     = errors.New("invalid call id")
	ErrRemoteDescription = errors.New("remote description rejected")

	// Connection capability.
	ErrInvalidState = errors.New("invalid connection state")

	// Lifecycle.
	ErrMediaDenied = errors.New("media acquisition denied")
	ErrWrongPhase  = errors.New("action not valid in current phase")
	ErrCallQuit    = errors.New("call quit")
	ErrStopped     = errors.New("call service stopped")
)

// IsBadInput reports whether err is something the user can correct by
// entering a different call id.
func IsBadInput(err error) bool {
	return errors.Is(err, ErrInvalidCallID) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrRemoteDescription)
}

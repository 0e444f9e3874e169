package domain

import "errors"

// Domain errors
var (
	ErrPetNotFound      = errors.New("pet not found in registry")
	ErrUserNotFound     = errors.New("user not found")
	ErrSessionNotFound  = errors.New("no stored session")
	ErrNoIdentity       = errors.New("no user identity")
	ErrNotConnected     = errors.New("socket not connected")
	ErrMalformedEvent   = errors.New("malformed event payload")
	ErrUnknownEventType = errors.New("unknown event type")
	ErrMutationRejected = errors.New("mutation rejected by authority")
	ErrInvalidPetName   = errors.New("invalid pet name")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrInternalError    = errors.New("internal server error")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrPetNotFound) || errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrSessionNotFound)
}

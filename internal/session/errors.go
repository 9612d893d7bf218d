package session

import "errors"

// Lifecycle errors. The API layer maps these onto the HTTP error taxonomy;
// not-found, expired and inactive are distinct so clients can react
// differently.
var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionExpired      = errors.New("session has expired")
	ErrSessionInactive     = errors.New("session is no longer active")
	ErrCapacityExceeded    = errors.New("session participant capacity exceeded")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrUnauthorized        = errors.New("requester is not the session creator")
)

// Validation errors for create/join input.
var (
	ErrInvalidDuration    = errors.New("session duration must be between 1 and 10080 minutes")
	ErrEmptySessionName   = errors.New("session name cannot be empty")
	ErrEmptyDisplayName   = errors.New("display name cannot be empty")
	ErrDisplayNameTooLong = errors.New("display name cannot exceed 100 characters")
	ErrInvalidAvatarColor = errors.New("avatar color must be a valid hex color (e.g. #FF5733)")
)

package service

import "errors"

// Expected, typed outcomes of dispatch operations. Handlers render these as
// specific messages and status codes; anything else is a storage fault and is
// propagated as-is.
var (
	// ErrForbidden means the actor's role does not permit the action
	ErrForbidden = errors.New("role does not permit this action")
	// ErrNotOwner means the actor is not the donor that created the offer
	ErrNotOwner = errors.New("not the owner of this offer")
	// ErrNotClaimant means the actor is not the agent that claimed the offer
	ErrNotClaimant = errors.New("not the claiming agent for this offer")
	// ErrInvalidTransition means the offer status does not permit the action
	ErrInvalidTransition = errors.New("offer status does not permit this action")
	// ErrAlreadyClaimed means another agent won the claim race
	ErrAlreadyClaimed = errors.New("offer has already been claimed")
	// ErrNotFound means the offer or account does not exist
	ErrNotFound = errors.New("not found")
	// ErrEmailTaken means the registration email is already in use
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidCredentials means login or password verification failed
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// ValidationError reports malformed or missing input, detected before any
// mutation takes place
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// NewValidationError creates a validation error with a caller-facing message
func NewValidationError(message string) error {
	return &ValidationError{Message: message}
}

// IsValidationError checks whether err is a validation failure
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

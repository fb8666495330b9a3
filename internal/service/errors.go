package service

import "errors"

// Precondition errors: rejected before any store or matcher call. Handlers
// map these to 4xx responses; they never surface as an authenticationStatus.
var (
	ErrNoPendingPattern  = errors.New("no pending pattern on session")
	ErrInsufficientTrust = errors.New("session trust level too low")
	ErrNotOwner          = errors.New("note does not belong to user")
)

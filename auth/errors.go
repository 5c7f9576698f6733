package auth

import (
	"errors"
	"fmt"
)

// Caller-visible failures are drawn from this fixed set of generic
// messages. No message may contain a submitted token, a storage key, or
// any other internal detail.
var (
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrTokenMalformed         = errors.New("invalid token format")
	ErrTokenNotFound          = errors.New("token not found")
	ErrTokenRevoked           = errors.New("token has been revoked")
	ErrTokenAlreadyRevoked    = errors.New("token already revoked")
	ErrStorageUnavailable     = errors.New("token storage is not configured")
)

// DomainError rejects an OAuth identity whose email is outside the hosted
// domain. The message names only the allowed domain, never the rejected
// address.
type DomainError struct {
	Domain string
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("Only @%s accounts are allowed", e.Domain)
}

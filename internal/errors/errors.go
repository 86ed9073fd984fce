package errors

import (
	"errors"
	"fmt"
)

// Common error types for the session relay service
var (
	// Session errors
	ErrNoSession       = errors.New("no session")
	ErrSessionExpired  = errors.New("session expired")
	ErrInvalidToken    = errors.New("invalid token")
	ErrMissingRefresh  = errors.New("missing refresh token")
	ErrRefreshRejected = errors.New("refresh token rejected")

	// Sign-in flow errors
	ErrInvalidState = errors.New("invalid state parameter")
	ErrInvalidNonce = errors.New("invalid nonce")

	// Relay errors
	ErrUnknownRelayTarget = errors.New("unknown relay target")
	ErrInvalidRelayTarget = errors.New("invalid relay target")

	// Watcher errors
	ErrAlreadyMounted = errors.New("watcher already mounted")
	ErrNotMounted     = errors.New("watcher not mounted")

	// Broadcast / storage errors
	ErrChannelClosed = errors.New("channel closed")

	// General errors
	ErrNotFound    = errors.New("not found")
	ErrInternal    = errors.New("internal error")
	ErrUnsupported = errors.New("unsupported operation")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

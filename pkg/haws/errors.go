package haws

import (
	"errors"
	"fmt"
)

var (
	// ErrCancelled reports an operation aborted by the caller or by a
	// permanent disconnect.
	ErrCancelled = errors.New("haws: cancelled")

	// ErrDisconnected reports an operation dropped because the transport
	// went away before a reply arrived.
	ErrDisconnected = errors.New("haws: disconnected")

	// ErrNotConnected reports an operation that requires an established
	// session on a client that has none and will not retry it.
	ErrNotConnected = errors.New("haws: not connected")
)

// AuthError reports that the server rejected the access token. The session
// does not reconnect with the same token on its own.
type AuthError struct {
	Message string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("haws: authentication failed: %s", e.Message)
}

// TokenError reports that the token provider could not supply a token.
type TokenError struct {
	Err error
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("haws: token unavailable: %v", e.Err)
}

func (e *TokenError) Unwrap() error {
	return e.Err
}

// CommandError is a failure reported by the server for a specific command,
// or an HTTP status >= 400 on the REST path (Code is the status then).
type CommandError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("haws: command failed (%s): %s", e.Code, e.Message)
}

// errorKind projects an error to a comparable shape for deduplicating
// redundant phase transitions. Object identity is not meaningful here.
func errorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrDisconnected):
		return "disconnected"
	}
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return "auth:" + authErr.Message
	}
	var tokenErr *TokenError
	if errors.As(err, &tokenErr) {
		return "token:" + tokenErr.Error()
	}
	return "err:" + err.Error()
}

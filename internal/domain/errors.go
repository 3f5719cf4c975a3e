package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrClientClosed is returned when a request is submitted after shutdown
var ErrClientClosed = errors.New("client is closed")

// ErrTimeout marks a request that exceeded its deadline
var ErrTimeout = fmt.Errorf("request timed out: %w", context.DeadlineExceeded)

// AuthError reports missing credentials or a failed token/login handshake
type AuthError struct {
	Op  string
	Err error
}

func (e *AuthError) Error() string {
	if e.Err == nil {
		return "auth failed: " + e.Op
	}
	return fmt.Sprintf("auth failed: %s: %v", e.Op, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ProtocolError reports a non-2xx response, a non-zero return_code or a malformed payload
type ProtocolError struct {
	Endpoint   string
	StatusCode int
	ReturnCode string
	Message    string
}

func (e *ProtocolError) Error() string {
	if e.ReturnCode != "" {
		return fmt.Sprintf("%s: return_code %s: %s", e.Endpoint, e.ReturnCode, e.Message)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Endpoint, e.StatusCode, e.Message)
}

// IsAuthError reports whether err carries an AuthError
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsTimeout reports whether err is a deadline failure
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

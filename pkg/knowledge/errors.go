package knowledge

import (
	"errors"
	"fmt"
)

// ValidationError reports a malformed Entry, metadata block or message.
// Operations failing validation are never sent and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// GatewayError reports a transport failure or a non-200 response from the
// remote store. Write paths buffer on it; read paths swallow it.
type GatewayError struct {
	Op         string // "add", "search", "health" or "stats"
	StatusCode int    // 0 when the request never produced a response
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway %s failed (status %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("gateway %s failed: %v", e.Op, e.Err)
}

// Unwrap supports errors.Is / errors.As on the underlying cause.
func (e *GatewayError) Unwrap() error {
	return e.Err
}

// IsValidationError returns true if err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsGatewayError returns true if err is or wraps a *GatewayError.
func IsGatewayError(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge)
}

func invalid(field, format string, a ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, a...)}
}

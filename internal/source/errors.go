package source

import (
	"errors"
	"fmt"
)

// Standard source errors
var (
	// ErrAuthenticationExpired is returned when the source rejects the current
	// access token; it triggers exactly one refresh-and-retry
	ErrAuthenticationExpired = errors.New("authentication expired")

	// ErrReauthenticationRequired is returned when a refreshed token is also
	// rejected; the tenant must reconnect the source
	ErrReauthenticationRequired = errors.New("reauthentication required")

	// ErrRateLimitExceeded is returned when the source keeps rate-limiting
	// after bounded backoff
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrSourceUnavailable is returned for network failures and server errors
	// that are not authentication failures
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrUnknownEntity is returned when an entity is outside the connector's
	// fixed catalog
	ErrUnknownEntity = errors.New("unknown entity")

	// ErrConnectorNotFound is returned when no connector is registered for a
	// source type
	ErrConnectorNotFound = errors.New("connector not found")
)

// Error wraps source-specific failures with the source type and operation.
// This gives every connector a consistent error shape.
type Error struct {
	SourceType string
	Operation  string
	Cause      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.SourceType, e.Operation, e.Cause)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Cause, target)
}

// WrapError wraps an error with source context.
// If the error is already a source Error, it returns it as-is.
func WrapError(sourceType, operation string, err error) error {
	if err == nil {
		return nil
	}

	// Don't double-wrap
	var srcErr *Error
	if errors.As(err, &srcErr) {
		return err
	}

	return &Error{
		SourceType: sourceType,
		Operation:  operation,
		Cause:      err,
	}
}

// IsAuthenticationExpired checks if an error indicates a rejected access token
func IsAuthenticationExpired(err error) bool {
	return errors.Is(err, ErrAuthenticationExpired)
}

// IsReauthenticationRequired checks if an error means the tenant must
// reconnect the source
func IsReauthenticationRequired(err error) bool {
	return errors.Is(err, ErrReauthenticationRequired)
}

// IsRateLimited checks if an error indicates exhausted rate-limit retries
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimitExceeded)
}

// IsUnavailable checks if an error indicates a non-auth source failure
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrSourceUnavailable)
}

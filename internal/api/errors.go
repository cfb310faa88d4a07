// Package api is the client for the document extraction gateway: method
// dispatch, multipart submission, status polling, simulation launch and
// artifact download.
package api

import (
	"errors"
	"fmt"

	"github.com/docsim/docsim-client/internal/models"
)

// ValidationError reports bad or missing local input. It is raised before
// any network call is made.
type ValidationError struct {
	Method models.ExtractionMethod
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Method == "" {
		return fmt.Sprintf("invalid submission: %s %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s submission: %s %s", e.Method, e.Field, e.Reason)
}

// TransportError reports a network failure or an unexpected HTTP status.
// StatusCode is zero when no response was received.
type TransportError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("%s failed: status %d: %s", e.Op, e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s failed: status %d", e.Op, e.StatusCode)
	default:
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// AuthError reports a missing credential or a 401 from the gateway.
// It is never retried.
type AuthError struct {
	Op     string
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Reason)
}

// IsAuthError reports whether err is or wraps an *AuthError.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsValidationError reports whether err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// StatusCode returns the HTTP status carried by a *TransportError, or 0.
func StatusCode(err error) int {
	var te *TransportError
	if errors.As(err, &te) {
		return te.StatusCode
	}
	return 0
}

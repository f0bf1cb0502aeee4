// Package renga provides a Go client for the Renga notebook execution API.
package renga

import (
	"errors"
	"fmt"
)

// Error represents an error from the Renga API with the HTTP status code
// and the server's error message.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("renga: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// IsNotFound returns true if the error is a 404.
func IsNotFound(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 404
	}
	return false
}

// IsUnauthorized returns true if the error is a 401.
func IsUnauthorized(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 401
	}
	return false
}

// IsConflict returns true if the error is a 409. The run endpoints answer
// 409 when another run is already in flight for the notebook.
func IsConflict(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 409
	}
	return false
}

// IsInvalidState returns true if the error is a 422. Approval and cancel
// endpoints answer 422 when the notebook is not in the state the operation
// requires.
func IsInvalidState(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 422
	}
	return false
}

// IsRateLimited returns true if the error is a 429 (Too Many Requests).
func IsRateLimited(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 429
	}
	return false
}

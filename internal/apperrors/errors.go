// Package apperrors provides common static errors used throughout the application.
package apperrors

import (
	"errors"
	"fmt"
)

// HTTPError represents an HTTP error with a status code.
type HTTPError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("HTTP %d", e.StatusCode)
}

// NewHTTPError creates a new HTTPError.
func NewHTTPError(statusCode int, body string) *HTTPError {
	return &HTTPError{StatusCode: statusCode, Body: body}
}

// Common static errors used throughout the application.
var (
	// ErrUnsupportedTarget is returned when a sync target is a folder instead of a document.
	ErrUnsupportedTarget = errors.New("media sync does not support folders")

	// ErrTargetNotFound is returned when an explicit sync target does not exist in the vault.
	ErrTargetNotFound = errors.New("target document not found")

	// ErrFileTooLarge is returned when a remote file exceeds the maximum size limit.
	ErrFileTooLarge = errors.New("file exceeds maximum size limit")

	// ErrEmptyResponse is returned when a remote resource has no body.
	ErrEmptyResponse = errors.New("empty response body")

	// ErrNotGitRepository is returned when a snapshot commit is requested but the vault is not a git repository.
	ErrNotGitRepository = errors.New("vault is not a git repository")

	// ErrInvalidSaveDirectory is returned when a save directory value cannot be parsed.
	ErrInvalidSaveDirectory = errors.New("save directory must be one of: default, attachment, custom")

	// ErrVaultPathRequired is returned when no vault path is configured.
	ErrVaultPathRequired = errors.New("vault path required (--vault or MEDIASYNC_VAULT env var)")

	// ErrNothingToForget is returned when forget is called without names or --all.
	ErrNothingToForget = errors.New("document names or --all required")
)

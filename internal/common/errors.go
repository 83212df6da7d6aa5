// Package common provides shared utilities and types used across the application.
package common

import (
	"context"
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Database errors.
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEntry = errors.New("duplicate entry")

	// Pipeline errors.
	ErrAIProcessing        = errors.New("ai processing failed")
	ErrMaxAttemptsExceeded = errors.New("max processing attempts exceeded")
	ErrAlreadyUploaded     = errors.New("note already uploaded")

	// Upload errors.
	ErrUploadTransport = errors.New("upload transport failure")
	ErrUploadRejected  = errors.New("upload rejected by destination")

	// Batch errors.
	ErrBatchCompleted = errors.New("batch already completed")
	ErrBatchCancelled = errors.New("batch cancelled")
	ErrNotBatchMember = errors.New("note is not a member of the batch")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// IsRetryable determines if an error should trigger a retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var retryableErr *RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.Retryable
	}

	if errors.Is(err, ErrRateLimit) ||
		errors.Is(err, ErrUploadTransport) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return false
}

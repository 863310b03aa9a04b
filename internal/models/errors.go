package models

import (
	"errors"
	"fmt"
)

var (
	// ErrSourceUnavailable means a provider could not be reached within its
	// retry budget.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrValidation marks a raw record that failed normalization.
	ErrValidation = errors.New("validation failed")
	// ErrPersistence marks a failed storage write.
	ErrPersistence = errors.New("persistence failed")
	// ErrRefreshFailed is returned when every targeted state failed.
	ErrRefreshFailed = errors.New("refresh failed")
	// ErrRefreshInProgress is returned when a refresh is already running.
	ErrRefreshInProgress = errors.New("refresh already in progress")
	// ErrNotFound is returned by stores for absent partitions and documents.
	ErrNotFound = errors.New("not found")
)

// SourceUnavailableError carries the provider and the last underlying error.
type SourceUnavailableError struct {
	Provider string
	Attempts int
	Err      error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("%s: source unavailable after %d attempt(s): %v", e.Provider, e.Attempts, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

func (e *SourceUnavailableError) Is(target error) bool {
	return target == ErrSourceUnavailable
}

// ValidationError explains why a raw record was dropped.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid record: " + e.Reason
	}
	return fmt.Sprintf("invalid record: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Package errors provides a lightweight structured error type for
// category-based classification of build session failures.
package errors

import (
	"fmt"
)

// Category classifies a session error for reporting and recovery.
type Category string

const (
	// User-facing project and input errors
	CategoryProject  Category = "project"
	CategoryProtocol Category = "protocol"

	// Persisted storage errors
	CategoryStorage Category = "storage"

	// Build and runtime errors
	CategoryBuild    Category = "build"
	CategoryInternal Category = "internal"
)

// SessionError is a structured error with a category and optional cause.
type SessionError struct {
	Category Category       `json:"category"`
	Message  string         `json:"message"`
	Cause    error          `json:"cause,omitempty"`
	Context  map[string]any `json:"context,omitempty"`
}

// Error implements the error interface.
func (e *SessionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Category, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Category, e.Message)
}

// Unwrap supports errors.Is/As chains.
func (e *SessionError) Unwrap() error {
	return e.Cause
}

// WithContext attaches structured context to the error.
func (e *SessionError) WithContext(key string, value any) *SessionError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// New creates a SessionError without a cause.
func New(category Category, message string) *SessionError {
	return &SessionError{Category: category, Message: message}
}

// Wrap creates a SessionError wrapping an existing error.
func Wrap(err error, category Category, message string) *SessionError {
	return &SessionError{Category: category, Message: message, Cause: err}
}

// Internal is shorthand for an internal-category error.
func Internal(message string) *SessionError {
	return New(CategoryInternal, message)
}

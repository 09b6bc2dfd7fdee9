// Package services implements the flow engine's write paths and read-side
// queries: the flow store, the priority resolver, the flow selector,
// execution queries and statistics.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/autoflow/pkg/persistence"
)

var (
	// Validation errors (400 Bad Request).
	ErrInvalidRequest    = errors.New("invalid request")
	ErrEmptyOwnerID      = errors.New("owner ID cannot be empty")
	ErrFlowNameRequired  = errors.New("flow name is required")
	ErrInvalidPriority   = errors.New("priority must be a positive integer")
	ErrDuplicatePriority = errors.New("priorities in a reassignment must be unique")
	ErrDuplicateFlowID   = errors.New("a flow can appear only once in a reassignment")
	ErrInvalidStatus     = errors.New("invalid execution status")
	ErrInvalidPolicy     = errors.New("invalid failure policy")

	// Not found errors (404 Not Found).
	ErrFlowNotFound      = persistence.ErrFlowNotFound
	ErrExecutionNotFound = persistence.ErrExecutionNotFound

	// Conflict errors (409 Conflict).
	ErrPriorityTaken = persistence.ErrPriorityTaken
)

// ErrorKind classifies a service error for callers that map it to a response.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindConflict   ErrorKind = "conflict"
	KindNotFound   ErrorKind = "not_found"
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Kind    ErrorKind
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{Kind: KindValidation, Op: op, Code: code, Message: message, Err: err}
}

// NewConflictError creates a new conflict error with context.
func NewConflictError(op, code, message string, err error) *ServiceError {
	return &ServiceError{Kind: KindConflict, Op: op, Code: code, Message: message, Err: err}
}

// NewNotFoundError creates a new not found error with context.
func NewNotFoundError(op, code, message string, err error) *ServiceError {
	return &ServiceError{Kind: KindNotFound, Op: op, Code: code, Message: message, Err: err}
}

func kindOf(err error) ErrorKind {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Kind
	}

	return ""
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return kindOf(err) == KindValidation
}

// IsConflictError checks if an error is a business logic conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return kindOf(err) == KindConflict
}

// IsNotFoundError checks if an error is a missing or foreign entity that should return HTTP 404.
func IsNotFoundError(err error) bool {
	return kindOf(err) == KindNotFound
}

func validationFailed(op string, err error) error {
	return NewValidationError(op, "validation_failed", err.Error(), err)
}

func flowNotFound(op, flowID string, err error) error {
	return NewNotFoundError(op, "flow_not_found", "flow "+flowID+" not found", err)
}

func requireOwner(op, ownerID string) error {
	if ownerID == "" {
		return NewValidationError(op, "owner_required", ErrEmptyOwnerID.Error(), ErrEmptyOwnerID)
	}

	return nil
}

package shared

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Common domain errors
var (
	ErrNotFound            = NewDomainError("NOT_FOUND", "Resource not found")
	ErrAlreadyExists       = NewDomainError("ALREADY_EXISTS", "Resource already exists")
	ErrInvalidInput        = NewDomainError("INVALID_INPUT", "Invalid input provided")
	ErrInvalidAmount       = NewDomainError("INVALID_AMOUNT", "Amount must be positive")
	ErrConcurrencyConflict = NewDomainError("CONCURRENCY_CONFLICT", "Resource was modified by another process")
	ErrPermissionDenied    = NewDomainError("PERMISSION_DENIED", "Access to this business is denied")
	ErrTransientStore      = NewDomainError("STORE_UNAVAILABLE", "Record store is unavailable")
)

// StoreError wraps a failure reported by the record store for a single
// operation. errors.Is(err, ErrTransientStore) holds for every StoreError.
type StoreError struct {
	Op   string
	Path string
	Err  error
}

// NewStoreError creates a StoreError for the given operation and path
func NewStoreError(op, path string, err error) *StoreError {
	return &StoreError{Op: op, Path: path, Err: err}
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is reports StoreError as a transient store failure
func (e *StoreError) Is(target error) bool {
	return target == ErrTransientStore
}

// PermissionError carries the reason a user was refused access to a business.
type PermissionError struct {
	UserID     string
	BusinessID string
	Reason     string
}

// NewPermissionError creates a PermissionError
func NewPermissionError(userID, businessID, reason string) *PermissionError {
	return &PermissionError{UserID: userID, BusinessID: businessID, Reason: reason}
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("user %s has no access to business %s: %s", e.UserID, e.BusinessID, e.Reason)
}

// Is reports PermissionError as ErrPermissionDenied
func (e *PermissionError) Is(target error) bool {
	return target == ErrPermissionDenied
}

// IsNotFound reports whether err is, or wraps, ErrNotFound
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

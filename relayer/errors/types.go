// Package errors defines the relayer's error taxonomy. Every failure in
// the mirror pipeline is classified as transient (retried with backoff),
// idempotent-benign (skipped), or fatal for the affected event, and the
// classification lives on the error value itself so callers never guess.
package errors

import (
	"fmt"
)

// ErrorCode categorizes relay errors.
type ErrorCode string

const (
	// ErrCodeValidation indicates input validation errors.
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeNetwork indicates network-level connectivity errors.
	ErrCodeNetwork ErrorCode = "NETWORK"

	// ErrCodeRPC indicates ledger RPC errors.
	ErrCodeRPC ErrorCode = "RPC"

	// ErrCodeTimeout indicates an operation exceeded its deadline.
	ErrCodeTimeout ErrorCode = "TIMEOUT"

	// ErrCodeDatabase indicates local store operation errors.
	ErrCodeDatabase ErrorCode = "DATABASE"

	// ErrCodeTransaction indicates destination transaction errors.
	ErrCodeTransaction ErrorCode = "TRANSACTION"

	// ErrCodeIntegrity indicates data-integrity violations (bad root,
	// duplicate participant, malformed payload). Fatal per event.
	ErrCodeIntegrity ErrorCode = "INTEGRITY"

	// ErrCodeConfig indicates configuration errors.
	ErrCodeConfig ErrorCode = "CONFIG"

	// ErrCodeInternal indicates internal system errors.
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// RelayError is an error tied to a chain and an error class.
type RelayError struct {
	Code    ErrorCode
	Chain   string
	Message string
	Cause   error
}

// New creates a RelayError.
func New(code ErrorCode, chain, message string, cause error) *RelayError {
	return &RelayError{
		Code:    code,
		Chain:   chain,
		Message: message,
		Cause:   cause,
	}
}

// Error implements the error interface.
func (e *RelayError) Error() string {
	if e.Chain != "" {
		return fmt.Sprintf("[%s:%s] %s", e.Chain, e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *RelayError) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the error class is transient.
func (e *RelayError) IsRetryable() bool {
	switch e.Code {
	case ErrCodeNetwork, ErrCodeRPC, ErrCodeTimeout:
		return true
	default:
		return false
	}
}

// Constructors for the common classes.

// NewValidationError creates a validation error.
func NewValidationError(chain, message string) *RelayError {
	return New(ErrCodeValidation, chain, message, nil)
}

// NewNetworkError creates a network error.
func NewNetworkError(chain, message string, cause error) *RelayError {
	return New(ErrCodeNetwork, chain, message, cause)
}

// NewRPCError creates an RPC error.
func NewRPCError(chain, message string, cause error) *RelayError {
	return New(ErrCodeRPC, chain, message, cause)
}

// NewTimeoutError creates a timeout error.
func NewTimeoutError(chain, message string) *RelayError {
	return New(ErrCodeTimeout, chain, message, nil)
}

// NewDatabaseError creates a database error.
func NewDatabaseError(chain, message string, cause error) *RelayError {
	return New(ErrCodeDatabase, chain, message, cause)
}

// NewTransactionError creates a destination transaction error.
func NewTransactionError(chain, message string, cause error) *RelayError {
	return New(ErrCodeTransaction, chain, message, cause)
}

// NewIntegrityError creates a data-integrity error. Integrity errors are
// fatal for the affected event and must never advance the cursor.
func NewIntegrityError(chain, message string, cause error) *RelayError {
	return New(ErrCodeIntegrity, chain, message, cause)
}

// NewConfigError creates a configuration error.
func NewConfigError(chain, message string) *RelayError {
	return New(ErrCodeConfig, chain, message, nil)
}

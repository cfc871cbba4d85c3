// Package errors provides standardized error types for the domain layer.
// These errors enable consistent categorization across the explorer and
// liquidation pipelines: transient failures are retryable, invariant
// violations are not.
package errors

import (
	"errors"
	"fmt"
)

// Standard error categories
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrInvalidInput indicates invalid input was provided
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict indicates a conflict with the current state
	ErrConflict = errors.New("conflict")

	// ErrServiceUnavailable indicates an upstream dependency is temporarily unavailable
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrAllProvidersFailed indicates every provider in a capability list failed
	ErrAllProvidersFailed = errors.New("all providers failed")

	// ErrBlockHeadUnavailable indicates no provider could return a block head
	ErrBlockHeadUnavailable = errors.New("block head unavailable")

	// ErrEmptyPrice indicates no mark price or last trade price exists for a market
	ErrEmptyPrice = errors.New("price is empty")

	// ErrIncompatibleAmountAndPrice indicates a fill with an amount but no price,
	// or a price but no amount. This is a data-integrity bug, never retried.
	ErrIncompatibleAmountAndPrice = errors.New("incompatible amount and price")

	// ErrTransactionCommit indicates a ledger transaction commit failed and the
	// liquidation request should be parked for retry
	ErrTransactionCommit = errors.New("transaction commit failed")

	// ErrWatermarkRegression indicates an attempt to move a block watermark backwards
	ErrWatermarkRegression = errors.New("watermark regression")

	// ErrDoubleSpend indicates a fill would exceed the amount of its parent
	ErrDoubleSpend = errors.New("double spend detected")

	// ErrBrokerInactive indicates the external settlement broker is not accepting orders
	ErrBrokerInactive = errors.New("broker inactive")

	// ErrOrderTooSmall indicates the broker rejected an order below its minimum size
	ErrOrderTooSmall = errors.New("order below broker minimum")
)

// DomainError represents a domain-specific error with additional context
type DomainError struct {
	Err       error
	Code      string
	Message   string
	Retryable bool
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is checks if the error matches the target
func (e *DomainError) Is(target error) bool {
	if e.Err != nil {
		return errors.Is(e.Err, target)
	}
	return false
}

// NewDomainError creates a new domain error
func NewDomainError(err error, code, message string) *DomainError {
	return &DomainError{Err: err, Code: code, Message: message}
}

// WithRetryable marks the error as retryable
func (e *DomainError) WithRetryable(retryable bool) *DomainError {
	e.Retryable = retryable
	return e
}

// ProviderError wraps a single provider failure during failover iteration
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %s: %v", e.Provider, e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// AllProvidersFailedError aggregates the per-provider failures of one capability call
type AllProvidersFailedError struct {
	Op       string
	Failures []*ProviderError
}

func (e *AllProvidersFailedError) Error() string {
	return fmt.Sprintf("%s: all %d providers failed", e.Op, len(e.Failures))
}

func (e *AllProvidersFailedError) Unwrap() error {
	return ErrAllProvidersFailed
}

// TransactionCommitError wraps a database error from a ledger commit so the
// caller can park the request in transactions_failed and retry later
type TransactionCommitError struct {
	RequestID string
	Err       error
}

func (e *TransactionCommitError) Error() string {
	return fmt.Sprintf("liquidation request %s: commit wallet transactions: %v", e.RequestID, e.Err)
}

func (e *TransactionCommitError) Unwrap() error {
	return ErrTransactionCommit
}

// ServiceUnavailableError creates a retryable unavailability error
func ServiceUnavailableError(service string, err error) *DomainError {
	return &DomainError{
		Err:       ErrServiceUnavailable,
		Code:      "SERVICE_UNAVAILABLE",
		Message:   fmt.Sprintf("%s service is temporarily unavailable", service),
		Retryable: true,
	}
}

// NotFoundError creates a not found error
func NotFoundError(resource string) *DomainError {
	return &DomainError{
		Err:     ErrNotFound,
		Code:    fmt.Sprintf("%s_NOT_FOUND", resource),
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsRetryable reports whether the unit of work may be re-attempted.
// Invariant violations are never retryable.
func IsRetryable(err error) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Retryable
	}
	switch {
	case errors.Is(err, ErrServiceUnavailable),
		errors.Is(err, ErrEmptyPrice),
		errors.Is(err, ErrTransactionCommit),
		errors.Is(err, ErrAllProvidersFailed),
		errors.Is(err, ErrBlockHeadUnavailable):
		return true
	}
	return false
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

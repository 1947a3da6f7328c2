package models

import (
	"errors"
	"fmt"
	"strings"
)

// Category classifies a fulfillment error for retry decisions and user messaging
type Category string

const (
	// CategoryValidation is a missing or malformed input, always a caller bug
	CategoryValidation Category = "validation"
	// CategorySimulation is a proof or state mismatch found before signing
	CategorySimulation Category = "simulation"
	// CategoryUserRejection is the signer declining the transaction
	CategoryUserRejection Category = "user_rejection"
	// CategoryExecution is a broadcast or mining failure
	CategoryExecution Category = "execution"
	// CategoryQuote is a failed bridge quote, including no route
	CategoryQuote Category = "quote"
	// CategoryBridgeExecution is a failed bridge execution
	CategoryBridgeExecution Category = "bridge_execution"
	// CategoryCeilingExceeded stops the automatic retry path
	CategoryCeilingExceeded Category = "ceiling_exceeded"
)

// Error is the structured error surfaced by the settlement pipeline
type Error struct {
	Category   Category
	IntentHash string
	Attempt    int
	NoRoute    bool
	Reason     string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Category))
	b.WriteString(" error")
	if e.IntentHash != "" {
		fmt.Fprintf(&b, " for intent %s", e.IntentHash)
	}
	if e.Attempt > 0 {
		fmt.Fprintf(&b, " (attempt %d)", e.Attempt)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidationError builds a validation error
func NewValidationError(intentHash, reason string) *Error {
	return &Error{Category: CategoryValidation, IntentHash: intentHash, Reason: reason}
}

// NewSimulationError builds a simulation error carrying the revert reason
func NewSimulationError(intentHash, revertReason string, err error) *Error {
	return &Error{Category: CategorySimulation, IntentHash: intentHash, Reason: revertReason, Err: err}
}

// NewUserRejection builds a user rejection error
func NewUserRejection(intentHash string, err error) *Error {
	return &Error{Category: CategoryUserRejection, IntentHash: intentHash, Err: err}
}

// NewExecutionError builds a broadcast or mining error
func NewExecutionError(intentHash, reason string, err error) *Error {
	return &Error{Category: CategoryExecution, IntentHash: intentHash, Reason: reason, Err: err}
}

// NewQuoteError builds a quote error
func NewQuoteError(intentHash string, attempt int, noRoute bool, err error) *Error {
	return &Error{Category: CategoryQuote, IntentHash: intentHash, Attempt: attempt, NoRoute: noRoute, Err: err}
}

// NewBridgeExecutionError builds a bridge execution error
func NewBridgeExecutionError(intentHash string, attempt int, err error) *Error {
	return &Error{Category: CategoryBridgeExecution, IntentHash: intentHash, Attempt: attempt, Err: err}
}

// NewCeilingExceededError wraps the error that pushed a retry counter over its ceiling
func NewCeilingExceededError(intentHash string, attempt int, err error) *Error {
	return &Error{Category: CategoryCeilingExceeded, IntentHash: intentHash, Attempt: attempt, Err: err}
}

// CategoryOf returns the category of the outermost structured error in the chain, or an empty category
func CategoryOf(err error) Category {
	var e *Error
	if errors.As(err, &e) {
		return e.Category
	}
	return ""
}

// IsCategory reports whether err is a structured error of the given category
func IsCategory(err error, category Category) bool {
	return CategoryOf(err) == category
}

package services

import (
	"errors"
	"fmt"
)

// Sentinel errors surfaced by the checkout and reconciliation flows.
var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrPaymentNotFound = errors.New("payment not found")
	ErrProductNotFound = errors.New("product not found")

	// ErrBadSignature means a client or webhook signature did not verify.
	ErrBadSignature = errors.New("signature mismatch")
)

// ValidationError describes malformed or inconsistent input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// GatewayError wraps a failure talking to the payment gateway. Timeout is set
// when the call exceeded its deadline, so callers can tell a slow gateway
// from a rejecting one.
type GatewayError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("gateway %s timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("gateway %s failed: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// ConflictError marks a contradictory state transition, e.g. a capture signal
// for a payment already recorded as FAILED. Terminal payment states are never
// overwritten by the opposite outcome.
type ConflictError struct {
	IntentID string
	From     string
	To       string
	Source   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflicting transition %s -> %s for intent %s (source %s)", e.From, e.To, e.IntentID, e.Source)
}

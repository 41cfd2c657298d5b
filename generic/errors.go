/*
errors.go - Centralized error types for the balance engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers (API handlers, transfer processors) classify failures with the
  helpers at the bottom rather than matching on messages.

ERROR CATEGORIES:
  1. Arithmetic errors - Overflow / underflow of the uint64 amount domain
  2. Validation errors - Malformed ranges, amounts or transfers
  3. Invariant errors  - Internal assertions on canonical ledgers
  4. Store errors      - Persistence failures and idempotency conflicts

RETRIES:
  None of these are transient. An operation that fails has made no
  change visible, and repeating it with the same input fails the same way.

SEE ALSO:
  - math.go: Raises OverflowError / UnderflowError
  - ranges/errors.go: InvalidRangeError
  - store.go: Uses the store errors
*/
package generic

import (
	"errors"
	"fmt"

	"github.com/bitbadges/balance-engine/ranges"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrOverflow is returned when a sum or product leaves the uint64 domain.
	ErrOverflow = errors.New("amount overflow")

	// ErrUnderflow is returned when a subtraction would go below zero.
	ErrUnderflow = errors.New("amount underflow")

	// ErrInvalidAmount is returned for amounts that are not whole,
	// non-negative numbers.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrEmptyGroup flags a balance group with no ranges about to be
	// persisted. Canonicalisation drops such groups, so seeing this means
	// an internal bug.
	ErrEmptyGroup = errors.New("empty balance group")

	// ErrInvariantViolation flags any other broken ledger invariant.
	ErrInvariantViolation = errors.New("ledger invariant violation")

	// ErrInsufficientBalance is returned when a transfer debits more than
	// the sender holds.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidTransfer is returned for malformed transfers.
	ErrInvalidTransfer = errors.New("invalid transfer")

	// ErrDuplicateIdempotencyKey is returned when a transfer with the same
	// idempotency key already exists. This is expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrDuplicateTransferID is returned when a client-supplied transfer ID
	// is already in the log.
	ErrDuplicateTransferID = errors.New("duplicate transfer id")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// OverflowError reports the operands of an overflowing operation.
type OverflowError struct {
	Op   string // "add", "mul"
	A, B Amount
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("amount overflow: %s of %s and %s exceeds the uint64 range", e.Op, e.A, e.B)
}

func (e *OverflowError) Unwrap() error { return ErrOverflow }

// UnderflowError reports a subtraction of B from a smaller A.
type UnderflowError struct {
	A, B Amount
}

func (e *UnderflowError) Error() string {
	return fmt.Sprintf("amount underflow: cannot subtract %s from %s", e.B, e.A)
}

func (e *UnderflowError) Unwrap() error { return ErrUnderflow }

// InvariantError describes which group of a ledger is malformed.
type InvariantError struct {
	Amount Amount
	Reason string
	Err    error // ErrEmptyGroup or ErrInvariantViolation
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%v: group %s: %s", e.Err, e.Amount, e.Reason)
}

func (e *InvariantError) Unwrap() error { return e.Err }

// InsufficientBalanceError reports a debit the sender cannot cover.
// It unwraps to both ErrInsufficientBalance and the underlying cause.
type InsufficientBalanceError struct {
	Holder    HolderID
	Ranges    []ranges.Range
	Requested Amount
	Cause     error
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: %s cannot send %s of %v: %v",
		e.Holder, e.Requested, e.Ranges, e.Cause)
}

func (e *InsufficientBalanceError) Unwrap() []error {
	return []error{ErrInsufficientBalance, e.Cause}
}

// InvalidTransferError explains why a transfer was rejected up front.
type InvalidTransferError struct {
	TransferID TransferID
	Reason     string
}

func (e *InvalidTransferError) Error() string {
	if e.TransferID == "" {
		return "invalid transfer: " + e.Reason
	}
	return fmt.Sprintf("invalid transfer %s: %s", e.TransferID, e.Reason)
}

func (e *InvalidTransferError) Unwrap() error { return ErrInvalidTransfer }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ranges.ErrInvalidRange) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrOverflow) ||
		errors.Is(err, ErrUnderflow) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidTransfer)
}

// IsConflict returns true if the request collides with existing state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateIdempotencyKey) || errors.Is(err, ErrDuplicateTransferID)
}

// IsInvariantViolation returns true for internal ledger assertions.
func IsInvariantViolation(err error) bool {
	return errors.Is(err, ErrEmptyGroup) || errors.Is(err, ErrInvariantViolation)
}

/*
errors.go - Centralized error types for the coin ledger

PURPOSE:
  All error types in one place for consistency and discoverability.
  The API layer maps these to HTTP status codes; it never inspects
  error strings.

ERROR CATEGORIES:
  1. Validation errors - Malformed, missing or non-positive input
  2. Policy errors - Cap exceeded, insufficient balance
  3. Lifecycle errors - Unknown redemption, illegal status transition
  4. Store errors - Persistence failures (retryable, rolled back)

USAGE:
  Structured errors unwrap to their sentinel:

    var capErr *coin.CapExceededError
    if errors.As(err, &capErr) { ... capErr.Remaining ... }
    if errors.Is(err, coin.ErrCapExceeded) { ... }

SEE ALSO:
  - api/handlers.go: writeLedgerError() maps these to HTTP
*/
package coin

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidRequest is returned for missing user ids, non-positive
	// amounts, and amounts outside the allowed exchange range.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidAmount is a more specific ErrInvalidRequest for coin counts.
	ErrInvalidAmount = fmt.Errorf("%w: amount must be positive", ErrInvalidRequest)

	// ErrCapExceeded is returned when a redemption would push the monthly
	// redeemed counter above the cap.
	ErrCapExceeded = errors.New("monthly redeem cap exceeded")

	// ErrInsufficientBalance is returned when an exchange needs more coins
	// than earned minus redeemed.
	ErrInsufficientBalance = errors.New("insufficient coins")

	// ErrRedemptionNotFound is returned when a redemption id does not exist.
	ErrRedemptionNotFound = errors.New("redemption not found")

	// ErrInvalidTransition is returned when a terminal redemption would change status.
	ErrInvalidTransition = errors.New("invalid redemption status transition")

	// ErrStoreUnavailable wraps persistence failures. The mutation was rolled back.
	ErrStoreUnavailable = errors.New("ledger store unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// CapExceededError provides details about a cap breach.
type CapExceededError struct {
	UserID    string
	Redeemed  int64
	Requested int64
	Cap       int64
}

func (e *CapExceededError) Error() string {
	return fmt.Sprintf("monthly redeem cap exceeded: redeemed %d + requested %d > cap %d",
		e.Redeemed, e.Requested, e.Cap)
}

func (e *CapExceededError) Unwrap() error {
	return ErrCapExceeded
}

// Remaining is how many coins could still have been redeemed.
func (e *CapExceededError) Remaining() int64 {
	if r := e.Cap - e.Redeemed; r > 0 {
		return r
	}
	return 0
}

// InsufficientBalanceError provides details about a balance shortage.
type InsufficientBalanceError struct {
	UserID    string
	Available int64
	Requested int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient coins: available %d, requested %d, shortfall %d",
		e.Available, e.Requested, e.Requested-e.Available)
}

func (e *InsufficientBalanceError) Unwrap() error {
	return ErrInsufficientBalance
}

// TransitionError reports a rejected status change.
type TransitionError struct {
	ID   RedemptionID
	From RedemptionStatus
	To   RedemptionStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("redemption %d: cannot move from %s to %s", e.ID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// storeError tags a persistence failure with ErrStoreUnavailable while
// keeping the driver error reachable through errors.Is/As.
type storeError struct {
	op  string
	err error
}

func (e *storeError) Error() string {
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

func (e *storeError) Unwrap() []error {
	return []error{ErrStoreUnavailable, e.err}
}

func wrapStore(op string, err error) error {
	if err == nil || isDomainError(err) {
		return err
	}
	return &storeError{op: op, err: err}
}

func isDomainError(err error) bool {
	return IsClientError(err) || IsNotFound(err) || errors.Is(err, ErrStoreUnavailable)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

// IsClientError returns true if the error is due to caller input or policy.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrCapExceeded) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidTransition)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRedemptionNotFound)
}

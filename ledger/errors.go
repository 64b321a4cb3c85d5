/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Transient infrastructure failures - retried internally (ErrConflict)
  2. Idempotency violations - recoverable, surfaced (ErrAlreadyReversed)
  3. Not-found conditions - caller-correctable
  4. Invariant breaches - fatal, logged loudly, never silently corrected

NOTE:
  Policy denials (self-target, duplicate, quota exhausted) are NOT errors.
  They are zero-amount successful results carrying a DenyReason.
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrConflict is returned when the store reports that a transaction was
	// invalidated by a concurrent writer. The engine retries internally up to
	// a bound; callers only see this after retries are exhausted.
	ErrConflict = errors.New("transaction conflict")

	// ErrAlreadyReversed is returned when reversing an entry whose reversed
	// flag is already set. The balance is never double-subtracted.
	ErrAlreadyReversed = errors.New("entry already reversed")

	// ErrEntryNotFound is returned when a referenced ledger entry doesn't exist.
	ErrEntryNotFound = errors.New("ledger entry not found")

	// ErrPolicyNotFound is returned when no policy exists for a category.
	ErrPolicyNotFound = errors.New("policy not found")

	// ErrInvariantBreach indicates corrupted account state (e.g. a negative
	// balance observed on read). This should never occur and points at a
	// defect; it is surfaced loudly rather than masked.
	ErrInvariantBreach = errors.New("ledger invariant breach")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvariantBreachError reports what was observed and where.
type InvariantBreachError struct {
	AccountID AccountID
	Category  Category
	Detail    string
}

func (e *InvariantBreachError) Error() string {
	return fmt.Sprintf("invariant breach for %s/%s: %s", e.AccountID, e.Category, e.Detail)
}

func (e *InvariantBreachError) Unwrap() error { return ErrInvariantBreach }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrAlreadyReversed)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrEntryNotFound) ||
		errors.Is(err, ErrPolicyNotFound)
}

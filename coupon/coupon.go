/*
Package coupon implements the coupon lifecycle state machine.

PURPOSE:
  Coupons are discrete, named grants handed out by the shop: a free charter
  fare, a half fare, a tackle discount. Unlike points they carry an explicit
  state machine:

      Issued ──use(secret)──▶ Used      (terminal)
         └──────revoke───────▶ Revoked  (terminal)

  Use is gated by a shared secret typed in at the counter; Revoke is
  administrator-only. Both transitions are atomic compare-and-set operations
  on the coupon's state, and both emit a best-effort notification whose
  failure never rolls back the transition.

SEE ALSO:
  - lifecycle.go: The transition logic
  - notify/: The best-effort dispatcher
*/
package coupon

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/marlin/loyalty-engine/ledger"
)

// =============================================================================
// COUPON
// =============================================================================

type ID string

type State string

const (
	StateIssued  State = "issued"
	StateUsed    State = "used"
	StateRevoked State = "revoked"
)

// Terminal reports whether no further transitions are allowed.
func (s State) Terminal() bool { return s == StateUsed || s == StateRevoked }

type Coupon struct {
	ID        ID
	AccountID ledger.AccountID
	Reason    string
	IssuedAt  time.Time

	// IsHalf marks a half-fare coupon; a full coupon covers the whole fare.
	IsHalf bool

	State  State
	UsedAt *time.Time
}

// DiscountRate returns the fraction of the fare the coupon covers.
func (c Coupon) DiscountRate() decimal.Decimal {
	if c.IsHalf {
		return decimal.NewFromFloat(0.5)
	}
	return decimal.NewFromInt(1)
}

// Discounted returns the fare after applying the coupon, rounded to whole
// currency units (fares are quoted in yen-style whole amounts).
func (c Coupon) Discounted(fare decimal.Decimal) decimal.Decimal {
	return fare.Sub(fare.Mul(c.DiscountRate())).Round(0)
}

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrInvalidState is returned when a transition is attempted from a state
	// that doesn't allow it (e.g. using an already-used coupon).
	ErrInvalidState = errors.New("coupon not in expected state")

	// ErrInvalidSecret is returned when the supplied secret doesn't match.
	// The coupon's state is untouched.
	ErrInvalidSecret = errors.New("invalid coupon secret")

	// ErrNotFound is returned when no coupon exists for the ID.
	ErrNotFound = errors.New("coupon not found")
)

// =============================================================================
// STORE
// =============================================================================

// Store persists coupons. Transition is the only mutation and is an atomic
// compare-and-set: it succeeds only when the coupon is still in `from`.
type Store interface {
	Get(ctx context.Context, id ID) (*Coupon, error)
	Put(ctx context.Context, c Coupon) error
	ByAccount(ctx context.Context, accountID ledger.AccountID) ([]Coupon, error)

	// Transition moves id from one state to another atomically. Returns
	// ErrInvalidState when the current state is not `from`, ErrNotFound when
	// the coupon doesn't exist. usedAt is stamped only on transitions to Used.
	Transition(ctx context.Context, id ID, from, to State, usedAt *time.Time) error
}

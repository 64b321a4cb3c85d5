/*
reversal.go - Compensating reversal of committed entries

PURPOSE:
  When the event that triggered an award disappears (a comment is deleted,
  a coupon revoked), the award must be undone - exactly once. Reverse marks
  the entry, subtracts its amount from the balance (clamped at zero), and,
  when the entry belongs to today, hands the quota back so a different target
  can still earn it the same day.

PAST DAYS ARE CLOSED:
  If the entry's day-key is in the past, its historical quota window is left
  untouched. Quota accounting for past days is a closed ledger; only the
  balance moves.
*/
package ledger

import (
	"context"
	"fmt"
)

// =============================================================================
// REVERSAL HANDLER
// =============================================================================

// ReversalHandler atomically reverses one prior ledger entry.
type ReversalHandler struct {
	Store Store
	Clock Clock

	// MaxAttempts overrides DefaultMaxAttempts when > 0.
	MaxAttempts int
}

// NewReversalHandler creates a handler with the system clock.
func NewReversalHandler(store Store) *ReversalHandler {
	return &ReversalHandler{Store: store, Clock: SystemClock{}}
}

// Reverse undoes the entry's effect and returns the resulting balance.
// Idempotency: a second call for the same entry fails with ErrAlreadyReversed
// and changes nothing; the balance moves by the entry's amount exactly once.
func (r *ReversalHandler) Reverse(ctx context.Context, entryID EntryID) (int64, error) {
	attempts := r.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}

	var newBalance int64
	err := runWithRetry(ctx, attempts, "reversal", func() error {
		return r.Store.Update(ctx, func(tx Txn) error {
			entry, err := tx.Entry(ctx, entryID)
			if err != nil {
				return err
			}
			if entry.Reversed {
				return ErrAlreadyReversed
			}

			balance, err := tx.Balance(ctx, entry.AccountID, entry.Category)
			if err != nil {
				return err
			}

			if err := tx.MarkReversed(ctx, entryID); err != nil {
				return err
			}

			newBalance = balance - entry.Amount
			if newBalance < 0 {
				newBalance = 0
			}
			if err := tx.SetBalance(ctx, entry.AccountID, entry.Category, newBalance); err != nil {
				return err
			}

			// Only awards consumed quota; reversing a debit entry leaves
			// windows alone.
			today := DayKeyAt(r.Clock.Now())
			if entry.Amount <= 0 || entry.Day != today {
				return nil
			}

			window, err := tx.Window(ctx, entry.AccountID, entry.Category, today)
			if err != nil {
				return err
			}
			if window == nil {
				// An entry dated today implies a window was written with it.
				return &InvariantBreachError{
					AccountID: entry.AccountID,
					Category:  entry.Category,
					Detail:    fmt.Sprintf("no quota window for today while reversing entry %s", entryID),
				}
			}

			window.AwardedTotal -= entry.Amount
			if window.AwardedTotal < 0 {
				window.AwardedTotal = 0
			}
			window.LastUpdated = r.Clock.Now()
			return tx.PutWindow(ctx, *window)
		})
	})
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

/*
ledger.go - Transactional award and debit engine

PURPOSE:
  LedgerStore is the only writer of account balances. Every award runs as a
  single atomic read-decide-write cycle: read balance, quota window, and dedup
  entries; evaluate the policy; write the entry, updated balance, and updated
  window in one commit. On a write conflict the whole cycle re-runs from
  fresh reads, bounded by a fixed attempt count with jittered backoff.

WHY RE-READ ON RETRY?
  Two awards racing on the same account must each observe a consistent quota
  snapshot at their successful commit. Reusing stale reads across attempts
  would let the sum of grants overshoot the daily cap; re-reading guarantees
  the cap holds regardless of arrival order.

DENIALS VS ERRORS:
  Self-target, duplicate-target and quota-exhausted outcomes are successful
  results with Granted=0 and a DenyReason. Only infrastructure failures
  (exhausted retries, store errors) surface as errors.

SEE ALSO:
  - policy.go: The pure decision evaluated inside the transaction
  - reversal.go: Compensating reversal of committed entries
*/
package ledger

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// LEDGER STORE
// =============================================================================

const (
	// DefaultMaxAttempts bounds optimistic retries before surfacing ErrConflict.
	DefaultMaxAttempts = 5

	// retryBackoffBase is the backoff unit; attempt n sleeps up to n*base.
	retryBackoffBase = 10 * time.Millisecond
)

// LedgerStore performs atomic award and debit mutations.
type LedgerStore struct {
	Store    Store
	Policies PolicyStore
	Clock    Clock

	// MaxAttempts overrides DefaultMaxAttempts when > 0.
	MaxAttempts int

	engine PolicyEngine
	quota  QuotaTracker
}

// New creates a LedgerStore with the system clock.
func New(store Store, policies PolicyStore) *LedgerStore {
	return &LedgerStore{Store: store, Policies: policies, Clock: SystemClock{}}
}

func (l *LedgerStore) attempts() int {
	if l.MaxAttempts > 0 {
		return l.MaxAttempts
	}
	return DefaultMaxAttempts
}

// =============================================================================
// AWARD
// =============================================================================

// Award grants points to an account for a triggering event. The policy for
// the category is fetched fresh per transaction so admin changes apply to the
// next call, not the next restart.
func (l *LedgerStore) Award(ctx context.Context, accountID AccountID, category Category, targetRef string, selfTarget bool) (AwardResult, error) {
	var result AwardResult

	err := l.withRetry(ctx, func() error {
		policy, err := l.Policies.Policy(ctx, category)
		if err != nil {
			return err
		}

		return l.Store.Update(ctx, func(tx Txn) error {
			now := l.Clock.Now()
			today := DayKeyAt(now)

			balance, err := tx.Balance(ctx, accountID, category)
			if err != nil {
				return err
			}
			if balance < 0 {
				return l.breach(accountID, category, fmt.Sprintf("negative balance %d read during award", balance))
			}

			window, err := tx.Window(ctx, accountID, category, today)
			if err != nil {
				return err
			}

			var dedup []Entry
			if policy.DedupScope == DedupPerTarget {
				dedup, err = tx.EntriesByTarget(ctx, accountID, category, targetRef)
				if err != nil {
					return err
				}
			}

			remaining := l.quota.Remaining(policy, window)
			decision := l.engine.Evaluate(policy, EvaluateInput{
				SelfTarget:     selfTarget,
				ExistingDedup:  dedup,
				QuotaRemaining: remaining,
			})

			if decision.Awardable <= 0 {
				result = AwardResult{
					Granted:      0,
					NewBalance:   balance,
					LimitReached: decision.Reason == DenyQuotaExhausted,
					DenyReason:   decision.Reason,
				}
				return nil
			}

			entry := Entry{
				ID:        EntryID(uuid.NewString()),
				AccountID: accountID,
				Category:  category,
				Amount:    decision.Awardable,
				Source:    sourceForTarget(targetRef),
				TargetRef: targetRef,
				Day:       today,
				CreatedAt: now,
			}
			if err := tx.PutEntry(ctx, entry); err != nil {
				return err
			}
			if err := tx.SetBalance(ctx, accountID, category, balance+decision.Awardable); err != nil {
				return err
			}

			updated := QuotaWindow{
				AccountID:    accountID,
				Category:     category,
				Day:          today,
				AwardedTotal: decision.Awardable,
				EventCount:   1,
				LastUpdated:  now,
			}
			if window != nil {
				updated.AwardedTotal += window.AwardedTotal
				updated.EventCount += window.EventCount
			}
			if updated.AwardedTotal > policy.DailyCap {
				return l.breach(accountID, category, fmt.Sprintf("window total %d would exceed cap %d", updated.AwardedTotal, policy.DailyCap))
			}
			if err := tx.PutWindow(ctx, updated); err != nil {
				return err
			}

			result = AwardResult{
				EntryID:      entry.ID,
				Granted:      decision.Awardable,
				NewBalance:   balance + decision.Awardable,
				LimitReached: updated.AwardedTotal >= policy.DailyCap,
			}
			return nil
		})
	})

	if err != nil {
		return AwardResult{}, err
	}
	return result, nil
}

// sourceForTarget infers the entry source from the targetRef shape. Domain
// adapters build targetRefs with a known prefix; anything else is treated as
// a manual adjustment.
func sourceForTarget(targetRef string) Source {
	switch {
	case strings.HasPrefix(targetRef, "photo/"):
		return SourceComment
	case strings.HasPrefix(targetRef, "game/"):
		return SourceGameScore
	case strings.HasPrefix(targetRef, "stamp/"):
		return SourceStamp
	default:
		return SourceAdminAdjust
	}
}

// =============================================================================
// DEBIT
// =============================================================================

// Debit subtracts points unconditionally, clamping the balance at zero.
// Used for manual administrative deduction; quota windows are untouched.
// Returns the resulting balance.
func (l *LedgerStore) Debit(ctx context.Context, accountID AccountID, category Category, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("debit amount must be positive, got %d", amount)
	}

	var newBalance int64
	err := l.withRetry(ctx, func() error {
		return l.Store.Update(ctx, func(tx Txn) error {
			now := l.Clock.Now()

			balance, err := tx.Balance(ctx, accountID, category)
			if err != nil {
				return err
			}
			if balance < 0 {
				return l.breach(accountID, category, fmt.Sprintf("negative balance %d read during debit", balance))
			}

			debited := amount
			if debited > balance {
				debited = balance
			}

			entry := Entry{
				ID:        EntryID(uuid.NewString()),
				AccountID: accountID,
				Category:  category,
				Amount:    -debited,
				Source:    SourceAdminAdjust,
				Day:       DayKeyAt(now),
				CreatedAt: now,
			}
			if err := tx.PutEntry(ctx, entry); err != nil {
				return err
			}

			newBalance = balance - debited
			return tx.SetBalance(ctx, accountID, category, newBalance)
		})
	})
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

// =============================================================================
// READS
// =============================================================================

// RemainingQuota returns today's remaining allowance for account+category.
func (l *LedgerStore) RemainingQuota(ctx context.Context, accountID AccountID, category Category) (int64, error) {
	policy, err := l.Policies.Policy(ctx, category)
	if err != nil {
		return 0, err
	}

	var remaining int64
	err = l.Store.View(ctx, func(tx Txn) error {
		window, err := tx.Window(ctx, accountID, category, DayKeyAt(l.Clock.Now()))
		if err != nil {
			return err
		}
		remaining = l.quota.Remaining(policy, window)
		return nil
	})
	return remaining, err
}

// Balance returns the current balance for account+category.
func (l *LedgerStore) Balance(ctx context.Context, accountID AccountID, category Category) (int64, error) {
	var balance int64
	err := l.Store.View(ctx, func(tx Txn) error {
		var err error
		balance, err = tx.Balance(ctx, accountID, category)
		return err
	})
	return balance, err
}

// FindByTarget returns the non-reversed entries for account+category+targetRef.
// Delete/revoke flows use this to locate the entry to reverse.
func (l *LedgerStore) FindByTarget(ctx context.Context, accountID AccountID, category Category, targetRef string) ([]Entry, error) {
	var entries []Entry
	err := l.Store.View(ctx, func(tx Txn) error {
		var err error
		entries, err = tx.EntriesByTarget(ctx, accountID, category, targetRef)
		return err
	})
	return entries, err
}

// =============================================================================
// RETRY LOOP
// =============================================================================

// withRetry re-runs fn on conflict, up to the attempt bound.
func (l *LedgerStore) withRetry(ctx context.Context, fn func() error) error {
	return runWithRetry(ctx, l.attempts(), "ledger transaction", fn)
}

// runWithRetry re-runs fn on conflict, up to attempts, sleeping a jittered
// backoff between attempts and honoring context cancellation. Non-conflict
// errors abort immediately. Shared by awards, debits, and reversals.
func runWithRetry(ctx context.Context, attempts int, label string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil || !IsRetryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		backoff := time.Duration(attempt) * retryBackoffBase
		jitter := time.Duration(rand.Int63n(int64(retryBackoffBase)))
		select {
		case <-time.After(backoff + jitter):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%s: retries exhausted after %d attempts: %w", label, attempts, err)
}

// breach logs loudly and returns an invariant error. The transaction aborts;
// corrupted state is never silently corrected.
func (l *LedgerStore) breach(accountID AccountID, category Category, detail string) error {
	err := &InvariantBreachError{AccountID: accountID, Category: category, Detail: detail}
	log.Printf("INVARIANT BREACH: %v", err)
	return err
}

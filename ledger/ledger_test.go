package ledger_test

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marlin/loyalty-engine/ledger"
	"github.com/marlin/loyalty-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func june10() time.Time {
	return time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)
}

func newTestLedger(t *testing.T, policies ...ledger.Policy) (*ledger.LedgerStore, *store.Memory) {
	t.Helper()

	mem := store.NewMemory()
	ctx := context.Background()
	if len(policies) == 0 {
		policies = []ledger.Policy{communityPolicy()}
	}
	for _, p := range policies {
		require.NoError(t, mem.SavePolicy(ctx, p))
	}

	l := ledger.New(mem, mem)
	l.Clock = ledger.FixedClock{T: june10()}
	return l, mem
}

func target(n int) string {
	return fmt.Sprintf("photo/p%d/comment/c%d", n, n)
}

// =============================================================================
// AWARD TESTS
// =============================================================================

func TestAward_GrantsUnitAndUpdatesBalance(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	result, err := l.Award(ctx, "acct-1", "community_point", target(1), false)
	require.NoError(t, err)

	assert.EqualValues(t, 1, result.Granted)
	assert.EqualValues(t, 1, result.NewBalance)
	assert.False(t, result.LimitReached)
	assert.Empty(t, result.DenyReason)
	assert.NotEmpty(t, result.EntryID)
}

func TestAward_DailyCapSequence(t *testing.T) {
	// GIVEN: dailyCap=10, unitAward=1
	// WHEN: 12 awards with distinct targets on the same day
	// THEN: First 10 grant 1 point each; calls 11-12 grant 0 with
	//       limit_reached; final balance is exactly 10

	l, _ := newTestLedger(t)
	ctx := context.Background()

	var total int64
	for i := 1; i <= 12; i++ {
		result, err := l.Award(ctx, "acct-1", "community_point", target(i), false)
		require.NoError(t, err)
		total += result.Granted

		if i <= 10 {
			assert.EqualValues(t, 1, result.Granted, "call %d", i)
		} else {
			assert.EqualValues(t, 0, result.Granted, "call %d", i)
			assert.True(t, result.LimitReached, "call %d", i)
			assert.Equal(t, ledger.DenyQuotaExhausted, result.DenyReason, "call %d", i)
		}
	}

	assert.EqualValues(t, 10, total)

	balance, err := l.Balance(ctx, "acct-1", "community_point")
	require.NoError(t, err)
	assert.EqualValues(t, 10, balance)
}

func TestAward_DuplicateTarget_SecondCallDenied(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	first, err := l.Award(ctx, "acct-1", "community_point", target(1), false)
	require.NoError(t, err)
	assert.EqualValues(t, 1, first.Granted)

	second, err := l.Award(ctx, "acct-1", "community_point", target(1), false)
	require.NoError(t, err)
	assert.EqualValues(t, 0, second.Granted)
	assert.Equal(t, ledger.DenyDuplicateTarget, second.DenyReason)

	// Balance unchanged by the denial
	balance, err := l.Balance(ctx, "acct-1", "community_point")
	require.NoError(t, err)
	assert.EqualValues(t, 1, balance)
}

func TestAward_SelfTarget_DeniedWithoutMutation(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	result, err := l.Award(ctx, "acct-1", "community_point", target(1), true)
	require.NoError(t, err)
	assert.EqualValues(t, 0, result.Granted)
	assert.Equal(t, ledger.DenySelfTarget, result.DenyReason)

	balance, err := l.Balance(ctx, "acct-1", "community_point")
	require.NoError(t, err)
	assert.EqualValues(t, 0, balance)

	remaining, err := l.RemainingQuota(ctx, "acct-1", "community_point")
	require.NoError(t, err)
	assert.EqualValues(t, 10, remaining)
}

func TestAward_UnknownCategory_Errors(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.Award(context.Background(), "acct-1", "mystery_point", target(1), false)
	assert.ErrorIs(t, err, ledger.ErrPolicyNotFound)
}

func TestAward_DifferentAccountsDoNotShareQuota(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		_, err := l.Award(ctx, "acct-1", "community_point", target(i), false)
		require.NoError(t, err)
	}

	// acct-2 still has its full allowance
	result, err := l.Award(ctx, "acct-2", "community_point", target(1), false)
	require.NoError(t, err)
	assert.EqualValues(t, 1, result.Granted)
}

func TestAward_PolicyChangeAppliesToNextCall(t *testing.T) {
	// GIVEN: An account at 3 awarded points
	// WHEN: An admin lowers the daily cap to 3
	// THEN: The next award is quota-denied; prior entries are untouched

	l, mem := newTestLedger(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := l.Award(ctx, "acct-1", "community_point", target(i), false)
		require.NoError(t, err)
	}

	p := communityPolicy()
	p.DailyCap = 3
	require.NoError(t, mem.SavePolicy(ctx, p))

	result, err := l.Award(ctx, "acct-1", "community_point", target(4), false)
	require.NoError(t, err)
	assert.EqualValues(t, 0, result.Granted)
	assert.Equal(t, ledger.DenyQuotaExhausted, result.DenyReason)
	assert.True(t, result.LimitReached)
}

func TestAward_NegativeBalanceSurfacesInvariantBreach(t *testing.T) {
	// GIVEN: A balance record corrupted to a negative value
	// WHEN: Awarding or debiting
	// THEN: The transaction aborts with ErrInvariantBreach; the state is
	//       never silently corrected

	l, mem := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, mem.Update(ctx, func(tx ledger.Txn) error {
		return tx.SetBalance(ctx, "acct-1", "community_point", -5)
	}))

	_, err := l.Award(ctx, "acct-1", "community_point", target(1), false)
	assert.ErrorIs(t, err, ledger.ErrInvariantBreach)

	_, err = l.Debit(ctx, "acct-1", "community_point", 1)
	assert.ErrorIs(t, err, ledger.ErrInvariantBreach)

	// The corrupted value is left in place for inspection
	balance, err := l.Balance(ctx, "acct-1", "community_point")
	require.NoError(t, err)
	assert.EqualValues(t, -5, balance)
}

func TestAward_SourceInferredFromTarget(t *testing.T) {
	l, mem := newTestLedger(t)
	ctx := context.Background()

	for _, ref := range []string{
		"photo/p1/comment/c1",
		"game/g1/session/s1",
		"stamp/s1",
		"promo-credit-2025",
	} {
		_, err := l.Award(ctx, "acct-1", "community_point", ref, false)
		require.NoError(t, err)
	}

	entries, err := mem.Entries(ctx, "acct-1", "community_point")
	require.NoError(t, err)
	require.Len(t, entries, 4)

	bySource := map[string]ledger.Source{}
	for _, e := range entries {
		bySource[e.TargetRef] = e.Source
	}
	assert.Equal(t, ledger.SourceComment, bySource["photo/p1/comment/c1"])
	assert.Equal(t, ledger.SourceGameScore, bySource["game/g1/session/s1"])
	assert.Equal(t, ledger.SourceStamp, bySource["stamp/s1"])
	assert.Equal(t, ledger.SourceAdminAdjust, bySource["promo-credit-2025"])
}

// =============================================================================
// DEBIT TESTS
// =============================================================================

func TestDebit_SubtractsAndClampsAtZero(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		_, err := l.Award(ctx, "acct-1", "community_point", target(i), false)
		require.NoError(t, err)
	}

	balance, err := l.Debit(ctx, "acct-1", "community_point", 3)
	require.NoError(t, err)
	assert.EqualValues(t, 2, balance)

	// Over-debit clamps at zero, never negative
	balance, err = l.Debit(ctx, "acct-1", "community_point", 100)
	require.NoError(t, err)
	assert.EqualValues(t, 0, balance)
}

func TestDebit_DoesNotTouchQuota(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()

	for i := 1; i <= 10; i++ {
		_, err := l.Award(ctx, "acct-1", "community_point", target(i), false)
		require.NoError(t, err)
	}

	_, err := l.Debit(ctx, "acct-1", "community_point", 5)
	require.NoError(t, err)

	// Quota stays exhausted: debits don't reopen the day
	remaining, err := l.RemainingQuota(ctx, "acct-1", "community_point")
	require.NoError(t, err)
	assert.EqualValues(t, 0, remaining)
}

func TestDebit_RejectsNonPositiveAmount(t *testing.T) {
	l, _ := newTestLedger(t)

	_, err := l.Debit(context.Background(), "acct-1", "community_point", 0)
	assert.Error(t, err)
}

// =============================================================================
// RETRY TESTS
// =============================================================================

// conflictStore injects conflicts for the first n Update calls.
type conflictStore struct {
	*store.Memory
	remaining atomic.Int32
}

func (c *conflictStore) Update(ctx context.Context, fn func(ledger.Txn) error) error {
	if c.remaining.Add(-1) >= 0 {
		return ledger.ErrConflict
	}
	return c.Memory.Update(ctx, fn)
}

func TestAward_RetriesThroughTransientConflicts(t *testing.T) {
	// GIVEN: A store that conflicts on the first 3 attempts
	// WHEN: Awarding
	// THEN: The call succeeds within the 5-attempt bound

	mem := store.NewMemory()
	require.NoError(t, mem.SavePolicy(context.Background(), communityPolicy()))

	cs := &conflictStore{Memory: mem}
	cs.remaining.Store(3)

	l := ledger.New(cs, mem)
	l.Clock = ledger.FixedClock{T: june10()}

	result, err := l.Award(context.Background(), "acct-1", "community_point", target(1), false)
	require.NoError(t, err)
	assert.EqualValues(t, 1, result.Granted)
}

func TestAward_SurfacesConflictAfterExhaustingRetries(t *testing.T) {
	mem := store.NewMemory()
	require.NoError(t, mem.SavePolicy(context.Background(), communityPolicy()))

	cs := &conflictStore{Memory: mem}
	cs.remaining.Store(100)

	l := ledger.New(cs, mem)
	l.Clock = ledger.FixedClock{T: june10()}
	l.MaxAttempts = 3

	_, err := l.Award(context.Background(), "acct-1", "community_point", target(1), false)
	assert.ErrorIs(t, err, ledger.ErrConflict)
}

// =============================================================================
// CONCURRENCY TESTS
// =============================================================================

func TestAward_ConcurrentCallsNeverOvershootCap(t *testing.T) {
	// GIVEN: dailyCap=10, unitAward=1, 25 simultaneous awards with distinct
	//        targets on the same account
	// WHEN: All complete
	// THEN: Exactly 10 grants summing to the cap, no lost updates

	l, _ := newTestLedger(t)
	ctx := context.Background()

	const calls = 25
	var granted atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < calls; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			result, err := l.Award(ctx, "acct-1", "community_point", target(n), false)
			if err != nil {
				t.Errorf("award %d: %v", n, err)
				return
			}
			granted.Add(result.Granted)
		}(i)
	}
	wg.Wait()

	assert.EqualValues(t, 10, granted.Load())

	balance, err := l.Balance(ctx, "acct-1", "community_point")
	require.NoError(t, err)
	assert.EqualValues(t, 10, balance)

	remaining, err := l.RemainingQuota(ctx, "acct-1", "community_point")
	require.NoError(t, err)
	assert.EqualValues(t, 0, remaining)
}

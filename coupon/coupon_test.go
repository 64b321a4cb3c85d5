package coupon_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marlin/loyalty-engine/coupon"
	"github.com/marlin/loyalty-engine/ledger"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const testSecret = "counter-secret"

func newLifecycle(t *testing.T) (*coupon.Lifecycle, coupon.Store) {
	t.Helper()

	mem := coupon.NewMemory()
	l := coupon.NewLifecycle(mem, coupon.StaticSecret(testSecret), nil)
	l.Clock = ledger.FixedClock{T: time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)}
	return l, mem
}

func issue(t *testing.T, l *coupon.Lifecycle) coupon.Coupon {
	t.Helper()

	c, err := l.Issue(context.Background(), "acct-1", "season opener", false)
	require.NoError(t, err)
	return c
}

// =============================================================================
// LIFECYCLE TESTS
// =============================================================================

func TestIssue_CreatesIssuedCoupon(t *testing.T) {
	l, store := newLifecycle(t)

	c := issue(t, l)
	assert.Equal(t, coupon.StateIssued, c.State)
	assert.NotEmpty(t, c.ID)
	assert.Nil(t, c.UsedAt)

	got, err := store.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, coupon.StateIssued, got.State)
}

func TestUse_TransitionsToUsed(t *testing.T) {
	l, store := newLifecycle(t)
	ctx := context.Background()

	c := issue(t, l)
	require.NoError(t, l.Use(ctx, c.ID, testSecret))

	got, err := store.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, coupon.StateUsed, got.State)
	require.NotNil(t, got.UsedAt)
	assert.True(t, got.State.Terminal())
}

func TestUse_SecondCallFails(t *testing.T) {
	// Used is terminal: a second redemption attempt is rejected.

	l, _ := newLifecycle(t)
	ctx := context.Background()

	c := issue(t, l)
	require.NoError(t, l.Use(ctx, c.ID, testSecret))

	err := l.Use(ctx, c.ID, testSecret)
	assert.ErrorIs(t, err, coupon.ErrInvalidState)
}

func TestUse_WrongSecretLeavesStateUntouched(t *testing.T) {
	l, store := newLifecycle(t)
	ctx := context.Background()

	c := issue(t, l)
	err := l.Use(ctx, c.ID, "wrong")
	assert.ErrorIs(t, err, coupon.ErrInvalidSecret)

	got, err := store.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, coupon.StateIssued, got.State)
	assert.Nil(t, got.UsedAt)

	// Still redeemable with the right secret afterwards
	require.NoError(t, l.Use(ctx, c.ID, testSecret))
}

func TestUse_UnknownCoupon(t *testing.T) {
	l, _ := newLifecycle(t)

	err := l.Use(context.Background(), "no-such-coupon", testSecret)
	assert.ErrorIs(t, err, coupon.ErrNotFound)
}

func TestRevoke_BlocksLaterUse(t *testing.T) {
	l, store := newLifecycle(t)
	ctx := context.Background()

	c := issue(t, l)
	require.NoError(t, l.Revoke(ctx, c.ID))

	got, err := store.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, coupon.StateRevoked, got.State)

	// Revoked is terminal in both directions
	assert.ErrorIs(t, l.Use(ctx, c.ID, testSecret), coupon.ErrInvalidState)
	assert.ErrorIs(t, l.Revoke(ctx, c.ID), coupon.ErrInvalidState)
}

func TestRevoke_UsedCouponRejected(t *testing.T) {
	l, _ := newLifecycle(t)
	ctx := context.Background()

	c := issue(t, l)
	require.NoError(t, l.Use(ctx, c.ID, testSecret))

	assert.ErrorIs(t, l.Revoke(ctx, c.ID), coupon.ErrInvalidState)
}

func TestByAccount_ListsOwnCouponsOnly(t *testing.T) {
	l, store := newLifecycle(t)
	ctx := context.Background()

	_, err := l.Issue(ctx, "acct-1", "a", false)
	require.NoError(t, err)
	_, err = l.Issue(ctx, "acct-1", "b", true)
	require.NoError(t, err)
	_, err = l.Issue(ctx, "acct-2", "c", false)
	require.NoError(t, err)

	mine, err := store.ByAccount(ctx, "acct-1")
	require.NoError(t, err)
	assert.Len(t, mine, 2)
}

// =============================================================================
// DISCOUNT TESTS
// =============================================================================

func TestDiscounted_FullCouponZeroesFare(t *testing.T) {
	c := coupon.Coupon{IsHalf: false}
	fare := decimal.NewFromInt(12000)

	assert.True(t, c.Discounted(fare).IsZero())
}

func TestDiscounted_HalfCouponRoundsToWholeUnits(t *testing.T) {
	c := coupon.Coupon{IsHalf: true}

	got := c.Discounted(decimal.NewFromInt(12500))
	assert.True(t, got.Equal(decimal.NewFromInt(6250)), "got %s", got)

	// Odd fares round to whole currency units
	got = c.Discounted(decimal.NewFromInt(9999))
	assert.True(t, got.Equal(decimal.NewFromInt(5000)), "got %s", got)
}

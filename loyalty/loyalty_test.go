package loyalty_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marlin/loyalty-engine/ledger"
	"github.com/marlin/loyalty-engine/ledger/store"
	"github.com/marlin/loyalty-engine/loyalty"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newFlows(t *testing.T) (*loyalty.CommentAwards, *loyalty.GameScores, *loyalty.Stamps, *ledger.LedgerStore) {
	t.Helper()

	mem := store.NewMemory()
	ctx := context.Background()
	require.NoError(t, loyalty.SeedPolicies(ctx, mem))

	clock := ledger.FixedClock{T: time.Date(2025, time.June, 10, 12, 0, 0, 0, time.UTC)}
	l := ledger.New(mem, mem)
	l.Clock = clock
	rev := ledger.NewReversalHandler(mem)
	rev.Clock = clock

	return &loyalty.CommentAwards{Ledger: l, Reversals: rev},
		&loyalty.GameScores{Ledger: l},
		&loyalty.Stamps{Ledger: l},
		l
}

// =============================================================================
// COMMENT FLOW TESTS
// =============================================================================

func TestCommentCreated_AwardsCommunityPoint(t *testing.T) {
	comments, _, _, l := newFlows(t)
	ctx := context.Background()

	result, err := comments.CommentCreated(ctx, "angler-1", "angler-2", "photo-9", "comment-1")
	require.NoError(t, err)
	assert.EqualValues(t, 1, result.Granted)

	balance, err := l.Balance(ctx, "angler-1", loyalty.CategoryCommunity)
	require.NoError(t, err)
	assert.EqualValues(t, 1, balance)
}

func TestCommentCreated_OwnPhotoEarnsNothing(t *testing.T) {
	comments, _, _, _ := newFlows(t)

	result, err := comments.CommentCreated(context.Background(), "angler-1", "angler-1", "photo-9", "comment-1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, result.Granted)
	assert.Equal(t, ledger.DenySelfTarget, result.DenyReason)
}

func TestCommentCreated_SameCommentTwiceDeduplicated(t *testing.T) {
	comments, _, _, _ := newFlows(t)
	ctx := context.Background()

	_, err := comments.CommentCreated(ctx, "angler-1", "angler-2", "photo-9", "comment-1")
	require.NoError(t, err)

	again, err := comments.CommentCreated(ctx, "angler-1", "angler-2", "photo-9", "comment-1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, again.Granted)
	assert.Equal(t, ledger.DenyDuplicateTarget, again.DenyReason)
}

func TestCommentDeleted_ReversesTheAward(t *testing.T) {
	comments, _, _, _ := newFlows(t)
	ctx := context.Background()

	_, err := comments.CommentCreated(ctx, "angler-1", "angler-2", "photo-9", "comment-1")
	require.NoError(t, err)

	balance, err := comments.CommentDeleted(ctx, "angler-1", "photo-9", "comment-1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, balance)

	// Deleting again finds nothing to reverse and reports the balance as-is
	balance, err = comments.CommentDeleted(ctx, "angler-1", "photo-9", "comment-1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, balance)
}

func TestCommentDeleted_DeniedCommentIsANoOp(t *testing.T) {
	comments, _, _, _ := newFlows(t)
	ctx := context.Background()

	// Own photo: no award was ever granted
	_, err := comments.CommentCreated(ctx, "angler-1", "angler-1", "photo-9", "comment-1")
	require.NoError(t, err)

	balance, err := comments.CommentDeleted(ctx, "angler-1", "photo-9", "comment-1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, balance)
}

// =============================================================================
// GAME AND STAMP FLOW TESTS
// =============================================================================

func TestScoreSubmitted_AwardsGamePoints(t *testing.T) {
	_, games, _, l := newFlows(t)
	ctx := context.Background()

	result, err := games.ScoreSubmitted(ctx, "angler-1", "casting", "session-1")
	require.NoError(t, err)
	assert.EqualValues(t, 5, result.Granted)

	// Resubmitting the same session earns nothing more
	again, err := games.ScoreSubmitted(ctx, "angler-1", "casting", "session-1")
	require.NoError(t, err)
	assert.EqualValues(t, 0, again.Granted)

	balance, err := l.Balance(ctx, "angler-1", loyalty.CategoryGame)
	require.NoError(t, err)
	assert.EqualValues(t, 5, balance)
}

func TestStampCollected_AwardsStampPoints(t *testing.T) {
	_, _, stamps, _ := newFlows(t)

	result, err := stamps.StampCollected(context.Background(), "angler-1", "stamp-2025-06-10")
	require.NoError(t, err)
	assert.EqualValues(t, 10, result.Granted)
}

// =============================================================================
// SEEDING TESTS
// =============================================================================

func TestApplyPolicies_UnchangedPolicyKeepsVersion(t *testing.T) {
	// Re-applying the same rules (a server restart with the same config)
	// must not bump versions; a real change must.

	mem := store.NewMemory()
	ctx := context.Background()

	desired := []ledger.Policy{{
		Category:   loyalty.CategoryCommunity,
		UnitAward:  1,
		DailyCap:   10,
		DedupScope: ledger.DedupPerTarget,
	}}
	require.NoError(t, loyalty.ApplyPolicies(ctx, mem, desired))
	require.NoError(t, loyalty.ApplyPolicies(ctx, mem, desired))

	got, err := mem.Policy(ctx, loyalty.CategoryCommunity)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.Version)

	desired[0].DailyCap = 20
	require.NoError(t, loyalty.ApplyPolicies(ctx, mem, desired))

	got, err = mem.Policy(ctx, loyalty.CategoryCommunity)
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.Version)
	assert.EqualValues(t, 20, got.DailyCap)
}

func TestSeedPolicies_KeepsAdminEdits(t *testing.T) {
	mem := store.NewMemory()
	ctx := context.Background()

	edited := ledger.Policy{
		Category:   loyalty.CategoryCommunity,
		UnitAward:  2,
		DailyCap:   4,
		DedupScope: ledger.DedupNone,
	}
	require.NoError(t, mem.SavePolicy(ctx, edited))

	require.NoError(t, loyalty.SeedPolicies(ctx, mem))

	got, err := mem.Policy(ctx, loyalty.CategoryCommunity)
	require.NoError(t, err)
	assert.EqualValues(t, 2, got.UnitAward)
	assert.EqualValues(t, 4, got.DailyCap)

	// Missing categories were filled in
	_, err = mem.Policy(ctx, loyalty.CategoryStamp)
	require.NoError(t, err)
}

/*
Package loyalty specializes the ledger engine for the charter-boat club.

PURPOSE:
  The engine in ledger/ is category-agnostic. This package names the concrete
  reward buckets the club runs - community points for photo comments, game
  points for mini-game scores, stamp points for boarding stamps - and wraps
  each flow in a thin adapter that supplies the targetRef and selfTarget
  inputs. Every award/spend flow in the product is one of these adapters plus
  configuration; no flow talks to balances directly.

CATEGORIES:
  community_point:  Earned by commenting on catch photos. One award per
                    photo+comment pair, capped per day, own photos excluded.
  game_point:       Earned from mini-game score submissions.
  stamp_point:      Earned by collecting boarding stamps.

SEE ALSO:
  - ledger/: The engine these adapters configure
  - coupon/: Discrete named grants, a separate lifecycle
*/
package loyalty

import (
	"context"
	"fmt"

	"github.com/marlin/loyalty-engine/ledger"
)

// =============================================================================
// CATEGORIES
// =============================================================================

const (
	CategoryCommunity ledger.Category = "community_point"
	CategoryGame      ledger.Category = "game_point"
	CategoryStamp     ledger.Category = "stamp_point"
)

// DefaultPolicies are the shipped rules; admins edit them at runtime through
// the policy store.
func DefaultPolicies() []ledger.Policy {
	return []ledger.Policy{
		{
			Category:           CategoryCommunity,
			UnitAward:          1,
			DailyCap:           10,
			DedupScope:         ledger.DedupPerTarget,
			SelfTargetExcluded: true,
		},
		{
			Category:   CategoryGame,
			UnitAward:  5,
			DailyCap:   25,
			DedupScope: ledger.DedupPerTarget,
		},
		{
			Category:   CategoryStamp,
			UnitAward:  10,
			DailyCap:   50,
			DedupScope: ledger.DedupPerTarget,
		},
	}
}

// SeedPolicies installs defaults for any category that has no policy yet.
// Existing (possibly admin-edited) policies are left alone.
func SeedPolicies(ctx context.Context, policies ledger.PolicyStore) error {
	for _, p := range DefaultPolicies() {
		if _, err := policies.Policy(ctx, p.Category); err == nil {
			continue
		} else if !ledger.IsNotFound(err) {
			return err
		}
		if err := policies.SavePolicy(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// ApplyPolicies upserts the desired policies, writing only when the stored
// rules actually differ. An unchanged policy keeps its version, so restarting
// the server with the same config file is a no-op.
func ApplyPolicies(ctx context.Context, policies ledger.PolicyStore, desired []ledger.Policy) error {
	for _, p := range desired {
		existing, err := policies.Policy(ctx, p.Category)
		if err == nil && sameRules(existing, p) {
			continue
		}
		if err != nil && !ledger.IsNotFound(err) {
			return err
		}
		if err := policies.SavePolicy(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// sameRules compares everything but the version.
func sameRules(a, b ledger.Policy) bool {
	return a.UnitAward == b.UnitAward &&
		a.DailyCap == b.DailyCap &&
		a.DedupScope == b.DedupScope &&
		a.SelfTargetExcluded == b.SelfTargetExcluded
}

// =============================================================================
// TARGET REFS
// =============================================================================

// CommentTarget identifies one comment on one catch photo.
func CommentTarget(photoID, commentID string) string {
	return fmt.Sprintf("photo/%s/comment/%s", photoID, commentID)
}

// GameTarget identifies one score submission in one game session.
func GameTarget(gameID, sessionID string) string {
	return fmt.Sprintf("game/%s/session/%s", gameID, sessionID)
}

// StampTarget identifies one boarding stamp.
func StampTarget(stampID string) string {
	return fmt.Sprintf("stamp/%s", stampID)
}

// =============================================================================
// COMMENT AWARDS
// =============================================================================

// CommentAwards wires photo-comment events into the engine.
type CommentAwards struct {
	Ledger    *ledger.LedgerStore
	Reversals *ledger.ReversalHandler
}

// CommentCreated awards community points to the commenter. Commenting on
// your own photo is a self-target and earns nothing when the policy
// excludes it.
func (a *CommentAwards) CommentCreated(ctx context.Context, commenter, photoOwner ledger.AccountID, photoID, commentID string) (ledger.AwardResult, error) {
	return a.Ledger.Award(ctx, commenter, CategoryCommunity, CommentTarget(photoID, commentID), commenter == photoOwner)
}

// CommentDeleted reverses the award for a now-deleted comment, if one was
// granted. Returns the resulting balance; a comment that never earned points
// (denied, or already reversed) leaves the balance unchanged.
func (a *CommentAwards) CommentDeleted(ctx context.Context, commenter ledger.AccountID, photoID, commentID string) (int64, error) {
	entries, err := a.Ledger.FindByTarget(ctx, commenter, CategoryCommunity, CommentTarget(photoID, commentID))
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return a.Ledger.Balance(ctx, commenter, CategoryCommunity)
	}
	return a.Reversals.Reverse(ctx, entries[0].ID)
}

// =============================================================================
// GAME SCORES
// =============================================================================

// GameScores wires mini-game score submissions into the engine.
type GameScores struct {
	Ledger *ledger.LedgerStore
}

// ScoreSubmitted awards game points for one session. A resubmitted session
// is deduplicated by the engine.
func (g *GameScores) ScoreSubmitted(ctx context.Context, accountID ledger.AccountID, gameID, sessionID string) (ledger.AwardResult, error) {
	return g.Ledger.Award(ctx, accountID, CategoryGame, GameTarget(gameID, sessionID), false)
}

// =============================================================================
// STAMPS
// =============================================================================

// Stamps wires boarding-stamp collection into the engine.
type Stamps struct {
	Ledger *ledger.LedgerStore
}

func (s *Stamps) StampCollected(ctx context.Context, accountID ledger.AccountID, stampID string) (ledger.AwardResult, error) {
	return s.Ledger.Award(ctx, accountID, CategoryStamp, StampTarget(stampID), false)
}

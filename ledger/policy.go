/*
policy.go - Pure award decision logic

PURPOSE:
  PolicyEngine decides whether an account may be awarded points for an event,
  and how many. QuotaTracker computes the remaining daily allowance. Both are
  pure arithmetic over values the transaction already read: no I/O, no clocks,
  fully unit-testable in isolation.

DECISION ORDER:
  1. Self-target exclusion (commenting on your own photo earns nothing)
  2. Per-target deduplication (one award per photo+comment pair)
  3. Quota: min(unit award, remaining allowance today)

A zero awardable amount always carries a DenyReason so callers can tell the
member why nothing was granted.
*/
package ledger

// =============================================================================
// POLICY ENGINE
// =============================================================================

// EvaluateInput is everything the decision needs, gathered by the caller
// inside its transaction.
type EvaluateInput struct {
	// SelfTarget is true when the account is the owner of the target event.
	SelfTarget bool

	// ExistingDedup holds non-reversed entries with the same targetRef and
	// category. The caller must exclude any in-flight entry for the current
	// event and all reversed entries before passing them in.
	ExistingDedup []Entry

	// QuotaRemaining is the allowance left in today's window.
	QuotaRemaining int64
}

// Decision is the outcome of an evaluation.
type Decision struct {
	Awardable int64
	Reason    DenyReason // empty when Awardable > 0
}

// PolicyEngine is a stateless decision function.
type PolicyEngine struct{}

// Evaluate computes the awardable amount under the given policy.
// Pure and deterministic given its inputs.
func (PolicyEngine) Evaluate(p Policy, in EvaluateInput) Decision {
	if p.SelfTargetExcluded && in.SelfTarget {
		return Decision{Awardable: 0, Reason: DenySelfTarget}
	}

	if p.DedupScope == DedupPerTarget && len(in.ExistingDedup) > 0 {
		return Decision{Awardable: 0, Reason: DenyDuplicateTarget}
	}

	awardable := p.UnitAward
	if in.QuotaRemaining < awardable {
		awardable = in.QuotaRemaining
	}
	if awardable <= 0 {
		return Decision{Awardable: 0, Reason: DenyQuotaExhausted}
	}
	return Decision{Awardable: awardable}
}

// =============================================================================
// QUOTA TRACKER
// =============================================================================

// QuotaTracker computes remaining daily allowance from a quota window.
type QuotaTracker struct{}

// Remaining returns max(0, dailyCap - awardedTotal) for the window, or the
// full daily cap when no window exists yet for the day.
func (QuotaTracker) Remaining(p Policy, w *QuotaWindow) int64 {
	if w == nil {
		return p.DailyCap
	}
	remaining := p.DailyCap - w.AwardedTotal
	if remaining < 0 {
		return 0
	}
	return remaining
}

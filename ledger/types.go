/*
Package ledger provides the core rewards ledger and quota engine.

PURPOSE:
  This package contains the domain-agnostic types and algorithms for awarding
  and debiting member points. Whether the points come from community comments,
  mini-game scores, or stamp cards, the same engine decides eligibility,
  enforces daily caps and per-target deduplication, and performs the mutation
  atomically against shared account state.

KEY CONCEPTS IN THIS FILE (types.go):
  - Category: A named reward bucket with its own balance and policy
  - Entry: An immutable ledger record of one award or debit
  - QuotaWindow: Per account/category/day record of points awarded so far
  - Policy: The admin-editable rules for a category (unit award, daily cap,
    dedup scope, self-target exclusion)
  - DayKey: Calendar-date bucket for quota windows, derived in UTC

DESIGN PRINCIPLES:
  1. Immutability: Entries are never edited, only reversed
  2. Type Safety: Strong typing for IDs prevents mixing account/entry IDs
  3. Determinism: Policy decisions are pure functions of their inputs
  4. Auditability: Quota windows for past days are never recomputed

SEE ALSO:
  - policy.go: PolicyEngine and QuotaTracker decision logic
  - ledger.go: LedgerStore transactional award/debit
  - reversal.go: Compensating reversal of prior entries
  - store.go: Persistence and transaction interfaces
*/
package ledger

import (
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type AccountID string
type EntryID string
type Category string

// DayKey is a calendar-date identifier ("2006-01-02") used to bucket quota
// windows. It is always derived in UTC so every caller in the process agrees
// on where a day starts.
type DayKey string

// DayKeyAt derives the day key for a point in time.
func DayKeyAt(t time.Time) DayKey {
	return DayKey(t.UTC().Format("2006-01-02"))
}

// =============================================================================
// CLOCK - Injectable time source
// =============================================================================

// Clock supplies the current time. Production code uses SystemClock; tests
// inject a fixed clock to pin day boundaries.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// FixedClock always returns the same instant.
type FixedClock struct {
	T time.Time
}

func (c FixedClock) Now() time.Time { return c.T }

// =============================================================================
// ENTRY - Immutable record of one award or debit
// =============================================================================

type Source string

const (
	SourceComment     Source = "comment"
	SourceGameScore   Source = "game_score"
	SourceStamp       Source = "stamp"
	SourceAdminAdjust Source = "admin_adjust"
)

// Entry is one row of the ledger. Amount is signed: awards are positive,
// debits negative. An entry, once reversed, is never reversed again.
type Entry struct {
	ID        EntryID
	AccountID AccountID
	Category  Category
	Amount    int64
	Source    Source

	// TargetRef is an opaque key identifying the triggering event, e.g. a
	// photo+comment pair. Together with Category it forms the dedup key when
	// the policy's dedup scope is per-target.
	TargetRef string

	Day       DayKey
	CreatedAt time.Time
	Reversed  bool
}

// =============================================================================
// QUOTA WINDOW - Per account/category/day award accounting
// =============================================================================

// QuotaWindow tracks how much has been awarded to an account in one category
// on one calendar day. Created lazily on the first award of the day, never
// deleted. AwardedTotal never exceeds the daily cap in effect at award time.
type QuotaWindow struct {
	AccountID    AccountID
	Category     Category
	Day          DayKey
	AwardedTotal int64
	EventCount   int
	LastUpdated  time.Time
}

// =============================================================================
// POLICY - Admin-editable rules per category
// =============================================================================

type DedupScope string

const (
	DedupNone      DedupScope = "none"
	DedupPerTarget DedupScope = "per-target"
)

// Policy is the ruleset for one category. Changes apply prospectively only:
// existing entries and quota windows are never retroactively altered.
type Policy struct {
	Category           Category
	UnitAward          int64 // points granted per qualifying event, >= 1
	DailyCap           int64 // max points per account per day, >= 1
	DedupScope         DedupScope
	SelfTargetExcluded bool
	Version            int
}

// =============================================================================
// AWARD RESULT - Outcome of one award attempt
// =============================================================================

// DenyReason explains a zero-amount award. Denials are normal outcomes, not
// errors: the call succeeds and carries the reason back to the caller.
type DenyReason string

const (
	DenySelfTarget      DenyReason = "self_target"
	DenyDuplicateTarget DenyReason = "duplicate_target"
	DenyQuotaExhausted  DenyReason = "quota_exhausted"
)

type AwardResult struct {
	EntryID      EntryID // set only when Granted > 0
	Granted      int64
	NewBalance   int64
	LimitReached bool
	DenyReason   DenyReason // empty when points were granted
}

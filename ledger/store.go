/*
store.go - Persistence interfaces for the ledger engine

PURPOSE:
  Defines the contract between the engine and the underlying document store.
  The store must provide one thing beyond plain reads: an atomic
  read-modify-write transaction over a small set of records, with conflict
  detection. The engine never takes an application-level lock; per-account
  linearizability comes entirely from the store's transaction primitive.

TRANSACTION CONTRACT:
  Update(ctx, fn) runs fn against a transactional view. All reads inside fn
  observe a consistent snapshot; all writes commit atomically or not at all.
  If a concurrent writer invalidates the transaction, Update returns
  ErrConflict and the engine re-runs the whole read-decide-write cycle with
  fresh reads. Implementations may realize this as a database transaction,
  an optimistic-lock loop, or a single-writer lock - the contract is the same.

IMPLEMENTATIONS:
  - store/sqlite: production SQLite store
  - ledger/store: in-memory store for tests and dev

SEE ALSO:
  - ledger.go: Award/Debit built on these interfaces
  - reversal.go: Reverse built on these interfaces
*/
package ledger

import "context"

// =============================================================================
// TXN - Transactional view over one account's ledger state
// =============================================================================

// Txn is the read/write surface available inside a store transaction.
// Balances never go negative through this interface: the engine clamps
// debits and reversals at zero before writing.
type Txn interface {
	// Balance returns the current balance for account+category.
	// A missing balance record reads as zero.
	Balance(ctx context.Context, accountID AccountID, category Category) (int64, error)

	// SetBalance writes the balance for account+category.
	SetBalance(ctx context.Context, accountID AccountID, category Category, balance int64) error

	// Window returns the quota window for account+category+day,
	// or nil if none exists yet.
	Window(ctx context.Context, accountID AccountID, category Category, day DayKey) (*QuotaWindow, error)

	// PutWindow upserts a quota window.
	PutWindow(ctx context.Context, w QuotaWindow) error

	// EntriesByTarget returns non-reversed entries matching
	// account+category+targetRef. This is the dedup query; callers only
	// issue it when the policy's dedup scope requires it.
	EntriesByTarget(ctx context.Context, accountID AccountID, category Category, targetRef string) ([]Entry, error)

	// Entry returns an entry by ID, or ErrEntryNotFound.
	Entry(ctx context.Context, id EntryID) (*Entry, error)

	// PutEntry appends a new ledger entry.
	PutEntry(ctx context.Context, e Entry) error

	// MarkReversed sets the reversed flag on an entry. The only permitted
	// mutation of an existing entry.
	MarkReversed(ctx context.Context, id EntryID) error
}

// =============================================================================
// STORE - Transaction runner plus read-only queries
// =============================================================================

// Store is the engine's persistence dependency.
type Store interface {
	// Update executes fn within an atomic transaction. Returns ErrConflict
	// (possibly wrapped) when invalidated by a concurrent writer; the engine
	// retries with fresh reads.
	Update(ctx context.Context, fn func(Txn) error) error

	// View executes fn against a read-only consistent view.
	View(ctx context.Context, fn func(Txn) error) error

	// Entries returns all entries for account+category, newest first.
	Entries(ctx context.Context, accountID AccountID, category Category) ([]Entry, error)
}

// =============================================================================
// POLICY STORE - Slowly-changing shared configuration
// =============================================================================

// PolicyStore provides policy snapshots. The engine fetches a fresh snapshot
// per transaction rather than caching process-wide, so an admin cap change
// takes effect on the next award rather than after a restart.
type PolicyStore interface {
	// Policy returns the current policy for a category, or ErrPolicyNotFound.
	Policy(ctx context.Context, category Category) (Policy, error)

	// SavePolicy creates or updates a policy, bumping its version.
	SavePolicy(ctx context.Context, p Policy) error

	// Policies returns all configured policies.
	Policies(ctx context.Context) ([]Policy, error)
}

/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements ledger.Store, ledger.PolicyStore, and coupon.Store on SQLite.
  In production the same patterns apply to any document/SQL store that offers
  atomic read-modify-write transactions - only dialect details differ.

TRANSACTION MAPPING:
  ledger.Store.Update runs inside an IMMEDIATE transaction. When SQLite
  reports the database busy or locked (a concurrent writer holds the lock),
  the error maps to ledger.ErrConflict and the engine retries the whole
  read-decide-write cycle with fresh reads.

KEY TABLES:
  balances:      One row per account+category. Mutated only through Txn.
  entries:       The ledger. Rows are immutable except the reversed flag.
  quota_windows: Per account/category/day award accounting. Never deleted.
  coupons:       State machine records, transitions via compare-and-set.
  policies:      Versioned per-category rules, edited by admins.

WAL MODE:
  Opened with WAL for better concurrency: readers don't block, single writer
  at a time, better crash recovery.

SEE ALSO:
  - ledger/store.go: Interface contracts
  - ledger/store/memory.go: In-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/marlin/loyalty-engine/coupon"
	"github.com/marlin/loyalty-engine/ledger"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a SQLite store at the given path. Use ":memory:" for an
// in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	-- Balances (one row per account+category, engine-mutated only)
	CREATE TABLE IF NOT EXISTS balances (
		account_id TEXT NOT NULL,
		category   TEXT NOT NULL,
		balance    INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (account_id, category)
	);

	-- Ledger entries (immutable except the reversed flag)
	CREATE TABLE IF NOT EXISTS entries (
		id         TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		category   TEXT NOT NULL,
		amount     INTEGER NOT NULL,
		source     TEXT NOT NULL,
		target_ref TEXT NOT NULL DEFAULT '',
		day_key    TEXT NOT NULL,
		reversed   INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	-- Dedup lookup (hot path inside the award transaction)
	CREATE INDEX IF NOT EXISTS idx_entries_target
		ON entries(account_id, category, target_ref)
		WHERE target_ref != '';

	CREATE INDEX IF NOT EXISTS idx_entries_account
		ON entries(account_id, category, created_at DESC);

	-- Quota windows (created lazily, never deleted - audit trail)
	CREATE TABLE IF NOT EXISTS quota_windows (
		account_id    TEXT NOT NULL,
		category      TEXT NOT NULL,
		day_key       TEXT NOT NULL,
		awarded_total INTEGER NOT NULL DEFAULT 0,
		event_count   INTEGER NOT NULL DEFAULT 0,
		last_updated  TEXT NOT NULL,
		PRIMARY KEY (account_id, category, day_key)
	);

	-- Coupons
	CREATE TABLE IF NOT EXISTS coupons (
		id         TEXT PRIMARY KEY,
		account_id TEXT NOT NULL,
		reason     TEXT NOT NULL DEFAULT '',
		is_half    INTEGER NOT NULL DEFAULT 0,
		state      TEXT NOT NULL,
		issued_at  TEXT NOT NULL,
		used_at    TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_coupons_account
		ON coupons(account_id, issued_at DESC);

	-- Policies (versioned, prospective-only edits)
	CREATE TABLE IF NOT EXISTS policies (
		category             TEXT PRIMARY KEY,
		unit_award           INTEGER NOT NULL,
		daily_cap            INTEGER NOT NULL,
		dedup_scope          TEXT NOT NULL,
		self_target_excluded INTEGER NOT NULL DEFAULT 0,
		version              INTEGER NOT NULL DEFAULT 1,
		updated_at           TEXT NOT NULL
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// isConflict reports whether err is SQLite's concurrent-writer signal.
func isConflict(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

// =============================================================================
// LEDGER STORE (ledger.Store interface)
// =============================================================================

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Update runs fn inside an IMMEDIATE transaction. Busy/locked errors surface
// as ledger.ErrConflict so the engine re-runs with fresh reads.
func (s *Store) Update(ctx context.Context, fn func(ledger.Txn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		if isConflict(err) {
			return fmt.Errorf("begin: %w", ledger.ErrConflict)
		}
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&sqliteTxn{q: sqlTx}); err != nil {
		if isConflict(err) {
			return fmt.Errorf("%v: %w", err, ledger.ErrConflict)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		if isConflict(err) {
			return fmt.Errorf("commit: %w", ledger.ErrConflict)
		}
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// View runs fn against the database without a write lock.
func (s *Store) View(ctx context.Context, fn func(ledger.Txn) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&sqliteTxn{q: s.db})
}

// Entries returns all entries for account+category, newest first.
func (s *Store) Entries(ctx context.Context, accountID ledger.AccountID, category ledger.Category) ([]ledger.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, category, amount, source, target_ref, day_key, reversed, created_at
		FROM entries
		WHERE account_id = ? AND category = ?
		ORDER BY created_at DESC`,
		accountID, category,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// =============================================================================
// TXN
// =============================================================================

type sqliteTxn struct {
	q querier
}

func (t *sqliteTxn) Balance(ctx context.Context, accountID ledger.AccountID, category ledger.Category) (int64, error) {
	var balance int64
	err := t.q.QueryRowContext(ctx,
		"SELECT balance FROM balances WHERE account_id = ? AND category = ?",
		accountID, category,
	).Scan(&balance)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return balance, err
}

func (t *sqliteTxn) SetBalance(ctx context.Context, accountID ledger.AccountID, category ledger.Category, balance int64) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO balances (account_id, category, balance) VALUES (?, ?, ?)
		ON CONFLICT(account_id, category) DO UPDATE SET balance = excluded.balance`,
		accountID, category, balance,
	)
	return err
}

func (t *sqliteTxn) Window(ctx context.Context, accountID ledger.AccountID, category ledger.Category, day ledger.DayKey) (*ledger.QuotaWindow, error) {
	var w ledger.QuotaWindow
	var lastUpdated string
	err := t.q.QueryRowContext(ctx, `
		SELECT account_id, category, day_key, awarded_total, event_count, last_updated
		FROM quota_windows
		WHERE account_id = ? AND category = ? AND day_key = ?`,
		accountID, category, day,
	).Scan(&w.AccountID, &w.Category, &w.Day, &w.AwardedTotal, &w.EventCount, &lastUpdated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	w.LastUpdated, _ = time.Parse(time.RFC3339, lastUpdated)
	return &w, nil
}

func (t *sqliteTxn) PutWindow(ctx context.Context, w ledger.QuotaWindow) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO quota_windows (account_id, category, day_key, awarded_total, event_count, last_updated)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(account_id, category, day_key) DO UPDATE SET
			awarded_total = excluded.awarded_total,
			event_count = excluded.event_count,
			last_updated = excluded.last_updated`,
		w.AccountID, w.Category, w.Day, w.AwardedTotal, w.EventCount,
		w.LastUpdated.UTC().Format(time.RFC3339),
	)
	return err
}

func (t *sqliteTxn) EntriesByTarget(ctx context.Context, accountID ledger.AccountID, category ledger.Category, targetRef string) ([]ledger.Entry, error) {
	rows, err := t.q.QueryContext(ctx, `
		SELECT id, account_id, category, amount, source, target_ref, day_key, reversed, created_at
		FROM entries
		WHERE account_id = ? AND category = ? AND target_ref = ? AND reversed = 0
		ORDER BY created_at ASC`,
		accountID, category, targetRef,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries by target: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (t *sqliteTxn) Entry(ctx context.Context, id ledger.EntryID) (*ledger.Entry, error) {
	row := t.q.QueryRowContext(ctx, `
		SELECT id, account_id, category, amount, source, target_ref, day_key, reversed, created_at
		FROM entries WHERE id = ?`,
		id,
	)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, ledger.ErrEntryNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (t *sqliteTxn) PutEntry(ctx context.Context, e ledger.Entry) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO entries (id, account_id, category, amount, source, target_ref, day_key, reversed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.AccountID, e.Category, e.Amount, e.Source, e.TargetRef, e.Day,
		boolToInt(e.Reversed), e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	return err
}

func (t *sqliteTxn) MarkReversed(ctx context.Context, id ledger.EntryID) error {
	res, err := t.q.ExecContext(ctx, "UPDATE entries SET reversed = 1 WHERE id = ?", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrEntryNotFound
	}
	return nil
}

// =============================================================================
// SCANNING
// =============================================================================

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (ledger.Entry, error) {
	var e ledger.Entry
	var reversed int
	var createdAt string

	err := row.Scan(&e.ID, &e.AccountID, &e.Category, &e.Amount, &e.Source,
		&e.TargetRef, &e.Day, &reversed, &createdAt)
	if err != nil {
		return e, err
	}
	e.Reversed = reversed != 0
	e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return e, nil
}

func scanEntries(rows *sql.Rows) ([]ledger.Entry, error) {
	var entries []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// =============================================================================
// POLICY STORE (ledger.PolicyStore interface)
// =============================================================================

// Policy returns the current policy for a category.
func (s *Store) Policy(ctx context.Context, category ledger.Category) (ledger.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p ledger.Policy
	var selfExcluded int
	err := s.db.QueryRowContext(ctx, `
		SELECT category, unit_award, daily_cap, dedup_scope, self_target_excluded, version
		FROM policies WHERE category = ?`,
		category,
	).Scan(&p.Category, &p.UnitAward, &p.DailyCap, &p.DedupScope, &selfExcluded, &p.Version)
	if err == sql.ErrNoRows {
		return ledger.Policy{}, ledger.ErrPolicyNotFound
	}
	if err != nil {
		return ledger.Policy{}, err
	}
	p.SelfTargetExcluded = selfExcluded != 0
	return p, nil
}

// SavePolicy upserts a policy, bumping the version on update.
func (s *Store) SavePolicy(ctx context.Context, p ledger.Policy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO policies (category, unit_award, daily_cap, dedup_scope, self_target_excluded, version, updated_at)
		VALUES (?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT(category) DO UPDATE SET
			unit_award = excluded.unit_award,
			daily_cap = excluded.daily_cap,
			dedup_scope = excluded.dedup_scope,
			self_target_excluded = excluded.self_target_excluded,
			version = policies.version + 1,
			updated_at = excluded.updated_at`,
		p.Category, p.UnitAward, p.DailyCap, p.DedupScope, boolToInt(p.SelfTargetExcluded),
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// Policies returns all configured policies.
func (s *Store) Policies(ctx context.Context) ([]ledger.Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT category, unit_award, daily_cap, dedup_scope, self_target_excluded, version
		FROM policies ORDER BY category`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var policies []ledger.Policy
	for rows.Next() {
		var p ledger.Policy
		var selfExcluded int
		if err := rows.Scan(&p.Category, &p.UnitAward, &p.DailyCap, &p.DedupScope, &selfExcluded, &p.Version); err != nil {
			return nil, err
		}
		p.SelfTargetExcluded = selfExcluded != 0
		policies = append(policies, p)
	}
	return policies, rows.Err()
}

// =============================================================================
// COUPON STORE (coupon.Store interface)
// =============================================================================

func (s *Store) Get(ctx context.Context, id coupon.ID) (*coupon.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := scanCoupon(s.db.QueryRowContext(ctx, `
		SELECT id, account_id, reason, is_half, state, issued_at, used_at
		FROM coupons WHERE id = ?`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, coupon.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) Put(ctx context.Context, c coupon.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var usedAt any
	if c.UsedAt != nil {
		usedAt = c.UsedAt.UTC().Format(time.RFC3339)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO coupons (id, account_id, reason, is_half, state, issued_at, used_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.AccountID, c.Reason, boolToInt(c.IsHalf), c.State,
		c.IssuedAt.UTC().Format(time.RFC3339), usedAt,
	)
	return err
}

func (s *Store) ByAccount(ctx context.Context, accountID ledger.AccountID) ([]coupon.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, reason, is_half, state, issued_at, used_at
		FROM coupons WHERE account_id = ? ORDER BY issued_at DESC`,
		accountID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var coupons []coupon.Coupon
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, err
		}
		coupons = append(coupons, c)
	}
	return coupons, rows.Err()
}

// Transition is the atomic compare-and-set on coupon state.
func (s *Store) Transition(ctx context.Context, id coupon.ID, from, to coupon.State, usedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var usedAtVal any
	if usedAt != nil {
		usedAtVal = usedAt.UTC().Format(time.RFC3339)
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE coupons SET state = ?, used_at = COALESCE(?, used_at) WHERE id = ? AND state = ?",
		to, usedAtVal, id, from,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	// Distinguish missing coupon from wrong state.
	var exists int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM coupons WHERE id = ?", id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return coupon.ErrNotFound
	}
	return coupon.ErrInvalidState
}

func scanCoupon(row rowScanner) (coupon.Coupon, error) {
	var c coupon.Coupon
	var isHalf int
	var issuedAt string
	var usedAt sql.NullString

	err := row.Scan(&c.ID, &c.AccountID, &c.Reason, &isHalf, &c.State, &issuedAt, &usedAt)
	if err != nil {
		return c, err
	}
	c.IsHalf = isHalf != 0
	c.IssuedAt, _ = time.Parse(time.RFC3339, issuedAt)
	if usedAt.Valid {
		t, _ := time.Parse(time.RFC3339, usedAt.String)
		c.UsedAt = &t
	}
	return c, nil
}

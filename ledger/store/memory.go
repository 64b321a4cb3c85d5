// Package store provides ledger.Store implementations.
package store

import (
	"context"
	"sync"

	"github.com/marlin/loyalty-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory holds all ledger state behind one mutex. Update serializes writers,
// so the transaction contract holds trivially: fn sees a consistent snapshot
// and either commits in full or is rolled back.
type Memory struct {
	mu sync.RWMutex

	balances map[balanceKey]int64
	windows  map[windowKey]ledger.QuotaWindow
	entries  map[ledger.EntryID]ledger.Entry
	order    []ledger.EntryID // insertion order for listing
	policies map[ledger.Category]ledger.Policy
}

type balanceKey struct {
	AccountID ledger.AccountID
	Category  ledger.Category
}

type windowKey struct {
	AccountID ledger.AccountID
	Category  ledger.Category
	Day       ledger.DayKey
}

func NewMemory() *Memory {
	return &Memory{
		balances: make(map[balanceKey]int64),
		windows:  make(map[windowKey]ledger.QuotaWindow),
		entries:  make(map[ledger.EntryID]ledger.Entry),
		policies: make(map[ledger.Category]ledger.Policy),
	}
}

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Update executes fn under the write lock. On error, state is restored from
// a snapshot so partial writes never leak.
func (m *Memory) Update(ctx context.Context, fn func(ledger.Txn) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := m.snapshot()
	if err := fn(&memoryTxn{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

// View executes fn against a consistent snapshot. It takes the write lock
// rather than a separate read-only view type; fn must not write.
func (m *Memory) View(ctx context.Context, fn func(ledger.Txn) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(&memoryTxn{parent: m})
}

func (m *Memory) Entries(ctx context.Context, accountID ledger.AccountID, category ledger.Category) ([]ledger.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []ledger.Entry
	for i := len(m.order) - 1; i >= 0; i-- {
		e := m.entries[m.order[i]]
		if e.AccountID == accountID && e.Category == category {
			result = append(result, e)
		}
	}
	return result, nil
}

// =============================================================================
// SNAPSHOT / RESTORE
// =============================================================================

type memorySnapshot struct {
	balances map[balanceKey]int64
	windows  map[windowKey]ledger.QuotaWindow
	entries  map[ledger.EntryID]ledger.Entry
	order    []ledger.EntryID
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		balances: make(map[balanceKey]int64, len(m.balances)),
		windows:  make(map[windowKey]ledger.QuotaWindow, len(m.windows)),
		entries:  make(map[ledger.EntryID]ledger.Entry, len(m.entries)),
		order:    append([]ledger.EntryID{}, m.order...),
	}
	for k, v := range m.balances {
		s.balances[k] = v
	}
	for k, v := range m.windows {
		s.windows[k] = v
	}
	for k, v := range m.entries {
		s.entries[k] = v
	}
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.balances = s.balances
	m.windows = s.windows
	m.entries = s.entries
	m.order = s.order
}

// =============================================================================
// TXN
// =============================================================================

type memoryTxn struct {
	parent *Memory
}

func (t *memoryTxn) Balance(_ context.Context, accountID ledger.AccountID, category ledger.Category) (int64, error) {
	return t.parent.balances[balanceKey{accountID, category}], nil
}

func (t *memoryTxn) SetBalance(_ context.Context, accountID ledger.AccountID, category ledger.Category, balance int64) error {
	t.parent.balances[balanceKey{accountID, category}] = balance
	return nil
}

func (t *memoryTxn) Window(_ context.Context, accountID ledger.AccountID, category ledger.Category, day ledger.DayKey) (*ledger.QuotaWindow, error) {
	w, ok := t.parent.windows[windowKey{accountID, category, day}]
	if !ok {
		return nil, nil
	}
	copied := w
	return &copied, nil
}

func (t *memoryTxn) PutWindow(_ context.Context, w ledger.QuotaWindow) error {
	t.parent.windows[windowKey{w.AccountID, w.Category, w.Day}] = w
	return nil
}

func (t *memoryTxn) EntriesByTarget(_ context.Context, accountID ledger.AccountID, category ledger.Category, targetRef string) ([]ledger.Entry, error) {
	var result []ledger.Entry
	for _, id := range t.parent.order {
		e := t.parent.entries[id]
		if e.AccountID == accountID && e.Category == category && e.TargetRef == targetRef && !e.Reversed {
			result = append(result, e)
		}
	}
	return result, nil
}

func (t *memoryTxn) Entry(_ context.Context, id ledger.EntryID) (*ledger.Entry, error) {
	e, ok := t.parent.entries[id]
	if !ok {
		return nil, ledger.ErrEntryNotFound
	}
	copied := e
	return &copied, nil
}

func (t *memoryTxn) PutEntry(_ context.Context, e ledger.Entry) error {
	if _, exists := t.parent.entries[e.ID]; !exists {
		t.parent.order = append(t.parent.order, e.ID)
	}
	t.parent.entries[e.ID] = e
	return nil
}

func (t *memoryTxn) MarkReversed(_ context.Context, id ledger.EntryID) error {
	e, ok := t.parent.entries[id]
	if !ok {
		return ledger.ErrEntryNotFound
	}
	e.Reversed = true
	t.parent.entries[id] = e
	return nil
}

// =============================================================================
// POLICY STORE
// =============================================================================

func (m *Memory) Policy(_ context.Context, category ledger.Category) (ledger.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.policies[category]
	if !ok {
		return ledger.Policy{}, ledger.ErrPolicyNotFound
	}
	return p, nil
}

func (m *Memory) SavePolicy(_ context.Context, p ledger.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.policies[p.Category]; ok {
		p.Version = existing.Version + 1
	} else if p.Version == 0 {
		p.Version = 1
	}
	m.policies[p.Category] = p
	return nil
}

func (m *Memory) Policies(_ context.Context) ([]ledger.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]ledger.Policy, 0, len(m.policies))
	for _, p := range m.policies {
		result = append(result, p)
	}
	return result, nil
}

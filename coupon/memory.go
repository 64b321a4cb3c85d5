package coupon

import (
	"context"
	"sync"
	"time"

	"github.com/marlin/loyalty-engine/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu      sync.RWMutex
	coupons map[ID]Coupon
	order   []ID
}

func NewMemory() *Memory {
	return &Memory{coupons: make(map[ID]Coupon)}
}

func (m *Memory) Get(_ context.Context, id ID) (*Coupon, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.coupons[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := c
	return &copied, nil
}

func (m *Memory) Put(_ context.Context, c Coupon) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.coupons[c.ID]; !exists {
		m.order = append(m.order, c.ID)
	}
	m.coupons[c.ID] = c
	return nil
}

func (m *Memory) ByAccount(_ context.Context, accountID ledger.AccountID) ([]Coupon, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []Coupon
	for i := len(m.order) - 1; i >= 0; i-- {
		if c := m.coupons[m.order[i]]; c.AccountID == accountID {
			result = append(result, c)
		}
	}
	return result, nil
}

// Transition is the atomic compare-and-set on state.
func (m *Memory) Transition(_ context.Context, id ID, from, to State, usedAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.coupons[id]
	if !ok {
		return ErrNotFound
	}
	if c.State != from {
		return ErrInvalidState
	}
	c.State = to
	if to == StateUsed {
		c.UsedAt = usedAt
	}
	m.coupons[id] = c
	return nil
}

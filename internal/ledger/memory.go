package ledger

import (
	"context"
	"sync"
)

// Memory keeps balances in process. Used for development and tests.
type Memory struct {
	mu       sync.Mutex
	start    int64
	balances map[string]int64
	refs     map[string]struct{}
}

func NewMemory(startingBalance int64) *Memory {
	return &Memory{
		start:    startingBalance,
		balances: make(map[string]int64),
		refs:     make(map[string]struct{}),
	}
}

func (m *Memory) Debit(ctx context.Context, uid string, amount int64, ref string) (int64, error) {
	return m.apply(uid, -amount, amount, ref)
}

func (m *Memory) Credit(ctx context.Context, uid string, amount int64, ref string) (int64, error) {
	return m.apply(uid, amount, amount, ref)
}

func (m *Memory) apply(uid string, delta, amount int64, ref string) (int64, error) {
	if err := validate(uid, amount, ref); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.balanceLocked(uid)
	if _, seen := m.refs[ref]; seen {
		return cur, nil
	}
	m.refs[ref] = struct{}{}
	next := max(cur+delta, 0)
	m.balances[uid] = next
	return next, nil
}

func (m *Memory) Balance(ctx context.Context, uid string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balanceLocked(uid), nil
}

func (m *Memory) balanceLocked(uid string) int64 {
	if b, ok := m.balances[uid]; ok {
		return b
	}
	return m.start
}

func (m *Memory) Ping(ctx context.Context) error { return nil }

func (m *Memory) Close() error { return nil }

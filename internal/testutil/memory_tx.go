package testutil

import (
	"context"
	"sync"
)

// MemoryTxManager satisfies the services' TransactionManager contract for
// in-memory stores. The memory stores have no rollback, so it serializes the
// transactional sections under one lock instead; the concurrency guarantees
// the services rely on (check-and-set, revision guards) still come from the
// stores themselves.
type MemoryTxManager struct {
	mu sync.Mutex
}

// NewMemoryTxManager creates a transaction manager for in-memory stores.
func NewMemoryTxManager() *MemoryTxManager {
	return &MemoryTxManager{}
}

func (m *MemoryTxManager) ExecuteInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx)
}

package testutil

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type holdKey struct {
	patientID uuid.UUID
	category  string
}

// MemoryLegalHoldStore is an in-memory legal hold store. Like the Postgres
// implementation, placing a hold over an active one is a no-op and releasing
// an unheld category succeeds silently.
type MemoryLegalHoldStore struct {
	mu    sync.Mutex
	holds map[holdKey]bool
}

// NewMemoryLegalHoldStore creates an empty in-memory hold store.
func NewMemoryLegalHoldStore() *MemoryLegalHoldStore {
	return &MemoryLegalHoldStore{holds: make(map[holdKey]bool)}
}

func (s *MemoryLegalHoldStore) Place(ctx context.Context, patientID uuid.UUID, dataCategory, reason string, placedBy uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.holds[holdKey{patientID, dataCategory}] = true
	return nil
}

func (s *MemoryLegalHoldStore) Release(ctx context.Context, patientID uuid.UUID, dataCategory string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.holds, holdKey{patientID, dataCategory})
	return nil
}

func (s *MemoryLegalHoldStore) HasHold(ctx context.Context, patientID uuid.UUID, dataCategory string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.holds[holdKey{patientID, dataCategory}], nil
}

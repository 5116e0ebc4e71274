package testutil

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/compliance-engine/internal/domain/dsr"
	"github.com/carebridge/compliance-engine/internal/domain/errors"
)

// MemoryRequestStore is an in-memory dsr.Store with the same optimistic
// revision guard as the Postgres implementation.
type MemoryRequestStore struct {
	mu       sync.Mutex
	requests map[uuid.UUID]*dsr.Request
}

// NewMemoryRequestStore creates an empty in-memory request store.
func NewMemoryRequestStore() *MemoryRequestStore {
	return &MemoryRequestStore{requests: make(map[uuid.UUID]*dsr.Request)}
}

func (s *MemoryRequestStore) Create(ctx context.Context, r *dsr.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.requests[r.ID]; exists {
		return errors.NewConflictError("request already exists")
	}
	s.requests[r.ID] = cloneRequest(r)
	return nil
}

func (s *MemoryRequestStore) GetByID(ctx context.Context, id uuid.UUID) (*dsr.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, errors.NewNotFoundError("data subject request")
	}
	return cloneRequest(r), nil
}

func (s *MemoryRequestStore) Update(ctx context.Context, r *dsr.Request, expectedRevision int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.requests[r.ID]
	if !ok {
		return errors.NewNotFoundError("data subject request")
	}
	if stored.Revision != expectedRevision {
		return errors.NewConflictError("request was modified by another operation")
	}
	cp := cloneRequest(r)
	cp.Revision = expectedRevision + 1
	s.requests[r.ID] = cp
	r.Revision = cp.Revision
	return nil
}

func (s *MemoryRequestStore) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*dsr.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*dsr.Request
	for _, r := range s.requests {
		if r.PatientID == patientID {
			out = append(out, cloneRequest(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	return out, nil
}

func (s *MemoryRequestStore) ListOverdue(ctx context.Context, now time.Time) ([]*dsr.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*dsr.Request
	for _, r := range s.requests {
		if (r.Status == dsr.StatusPending || r.Status == dsr.StatusInProgress) && r.DueAt.Before(now) {
			out = append(out, cloneRequest(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueAt.Before(out[j].DueAt) })
	return out, nil
}

func (s *MemoryRequestStore) ListPending(ctx context.Context, limit int) ([]*dsr.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*dsr.Request
	for _, r := range s.requests {
		if r.Status == dsr.StatusPending {
			out = append(out, cloneRequest(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryRequestStore) HasOpenRequests(ctx context.Context, patientID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.requests {
		if r.PatientID == patientID &&
			(r.Status == dsr.StatusPending || r.Status == dsr.StatusInProgress) {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryRequestStore) ListDisposable(ctx context.Context, category string, cutoff time.Time) ([]*dsr.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*dsr.Request
	for _, r := range s.requests {
		if !r.Status.IsTerminal() || r.DisposedAt != nil {
			continue
		}
		if !r.UpdatedAt.Before(cutoff) {
			continue
		}
		if !coversCategory(r.Scope, category) {
			continue
		}
		out = append(out, cloneRequest(r))
	}
	return out, nil
}

func (s *MemoryRequestStore) MarkDisposed(ctx context.Context, id uuid.UUID, action string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok || r.DisposedAt != nil {
		return errors.NewNotFoundError("undisposed request")
	}
	disposedAt := at
	r.DisposedAt = &disposedAt
	r.DisposalAction = action
	return nil
}

func cloneRequest(r *dsr.Request) *dsr.Request {
	cp := *r
	cp.Scope = append([]string(nil), r.Scope...)
	if r.ResponsePayload != nil {
		cp.ResponsePayload = make(map[string]interface{}, len(r.ResponsePayload))
		for k, v := range r.ResponsePayload {
			cp.ResponsePayload[k] = v
		}
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	if r.AssignedTo != nil {
		id := *r.AssignedTo
		cp.AssignedTo = &id
	}
	if r.DisposedAt != nil {
		t := *r.DisposedAt
		cp.DisposedAt = &t
	}
	return &cp
}

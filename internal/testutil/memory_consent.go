package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/compliance-engine/internal/domain/consent"
	"github.com/carebridge/compliance-engine/internal/domain/errors"
)

// MemoryConsentStore is an in-memory consent.Store honoring the same
// concurrency contract as the Postgres implementation: Transition is a
// check-and-set on the prior status, Renew enforces the unique
// (patient, type, version) constraint under one lock.
type MemoryConsentStore struct {
	mu       sync.Mutex
	consents map[uuid.UUID]*consent.Consent
}

// NewMemoryConsentStore creates an empty in-memory consent store.
func NewMemoryConsentStore() *MemoryConsentStore {
	return &MemoryConsentStore{consents: make(map[uuid.UUID]*consent.Consent)}
}

func (s *MemoryConsentStore) Create(ctx context.Context, c *consent.Consent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.consents {
		if existing.PatientID == c.PatientID && existing.Type == c.Type &&
			existing.Status == consent.StatusActive {
			return errors.NewConflictError("an active consent already exists for this patient and type")
		}
		if existing.PatientID == c.PatientID && existing.Type == c.Type &&
			existing.Version == c.Version {
			return errors.NewConflictError("consent version already exists")
		}
	}
	s.consents[c.ID] = cloneConsent(c)
	return nil
}

func (s *MemoryConsentStore) GetByID(ctx context.Context, id uuid.UUID) (*consent.Consent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.consents[id]
	if !ok {
		return nil, errors.NewNotFoundError("consent")
	}
	return cloneConsent(c), nil
}

func (s *MemoryConsentStore) GetActive(ctx context.Context, patientID uuid.UUID, consentType consent.Type) (*consent.Consent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.consents {
		if c.PatientID == patientID && c.Type == consentType && c.Status == consent.StatusActive {
			return cloneConsent(c), nil
		}
	}
	return nil, errors.NewNotFoundError("active consent")
}

func (s *MemoryConsentStore) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*consent.Consent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*consent.Consent
	for _, c := range s.consents {
		if c.PatientID == patientID {
			out = append(out, cloneConsent(c))
		}
	}
	return out, nil
}

func (s *MemoryConsentStore) Transition(ctx context.Context, c *consent.Consent, from consent.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.consents[c.ID]
	if !ok {
		return errors.NewNotFoundError("consent")
	}
	if stored.Status != from {
		return errors.NewConflictError("consent was modified by another operation")
	}
	s.consents[c.ID] = cloneConsent(c)
	return nil
}

func (s *MemoryConsentStore) Renew(ctx context.Context, archived *consent.Consent, next *consent.Consent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.consents[archived.ID]
	if !ok {
		return errors.NewNotFoundError("consent")
	}
	if stored.Status != consent.StatusActive {
		return errors.NewConflictError("consent is no longer active")
	}
	for _, existing := range s.consents {
		if existing.PatientID == next.PatientID && existing.Type == next.Type &&
			existing.Version == next.Version {
			return errors.NewConflictError("consent version already exists")
		}
	}
	s.consents[archived.ID] = cloneConsent(archived)
	s.consents[next.ID] = cloneConsent(next)
	return nil
}

func (s *MemoryConsentStore) ListExpiringBefore(ctx context.Context, cutoff time.Time) ([]*consent.Consent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*consent.Consent
	for _, c := range s.consents {
		if c.Status == consent.StatusActive && c.ExpiryDate != nil && c.ExpiryDate.Before(cutoff) {
			out = append(out, cloneConsent(c))
		}
	}
	return out, nil
}

func (s *MemoryConsentStore) ListDisposable(ctx context.Context, category string, cutoff time.Time) ([]*consent.Consent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*consent.Consent
	for _, c := range s.consents {
		if !c.Status.IsTerminal() || c.DisposedAt != nil {
			continue
		}
		if !c.UpdatedAt.Before(cutoff) {
			continue
		}
		if !coversCategory(c.DataCategories, category) {
			continue
		}
		out = append(out, cloneConsent(c))
	}
	return out, nil
}

func (s *MemoryConsentStore) MarkDisposed(ctx context.Context, id uuid.UUID, action string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.consents[id]
	if !ok || c.DisposedAt != nil {
		return errors.NewNotFoundError("undisposed consent")
	}
	disposedAt := at
	c.DisposedAt = &disposedAt
	c.DisposalAction = action
	return nil
}

func cloneConsent(c *consent.Consent) *consent.Consent {
	cp := *c
	cp.DataCategories = append([]string(nil), c.DataCategories...)
	cp.ThirdParties = append([]string(nil), c.ThirdParties...)
	if c.ExpiryDate != nil {
		t := *c.ExpiryDate
		cp.ExpiryDate = &t
	}
	if c.RevokedDate != nil {
		t := *c.RevokedDate
		cp.RevokedDate = &t
	}
	if c.DisposedAt != nil {
		t := *c.DisposedAt
		cp.DisposedAt = &t
	}
	return &cp
}

func coversCategory(categories []string, category string) bool {
	for _, c := range categories {
		if c == category {
			return true
		}
	}
	return false
}

package consent

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the versioned persistence contract for consents. Implementations
// write the accompanying audit entries in the same transaction as the entity
// mutation; a transition without its audit entry must be unobservable.
//
// Concurrency contract: Transition performs a check-and-set against the
// expected prior status and fails with a conflict error when the row moved
// underneath the caller. Renew relies on the unique
// (patient_id, consent_type, version) index so that exactly one of two racing
// renewals succeeds.
type Store interface {
	// Create persists version 1 of a consent. Fails with a conflict error if
	// an ACTIVE consent already exists for (patient, type).
	Create(ctx context.Context, c *Consent) error

	// GetByID retrieves one consent version.
	GetByID(ctx context.Context, id uuid.UUID) (*Consent, error)

	// GetActive returns the single ACTIVE version for (patient, type), or a
	// not-found error when none exists.
	GetActive(ctx context.Context, patientID uuid.UUID, consentType Type) (*Consent, error)

	// ListByPatient returns all consent versions for a patient.
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Consent, error)

	// Transition persists a status change, guarded by the status the caller
	// read (check-and-set). Conflict error when zero rows matched.
	Transition(ctx context.Context, c *Consent, from Status) error

	// Renew atomically archives the current version and inserts its ACTIVE
	// successor. Partial application must not be observable; a racing renewal
	// fails with a conflict error.
	Renew(ctx context.Context, archived *Consent, next *Consent) error

	// ListExpiringBefore returns ACTIVE consents whose expiry date has passed.
	ListExpiringBefore(ctx context.Context, cutoff time.Time) ([]*Consent, error)

	// ListDisposable returns undisposed terminal consents covering a data
	// category and last modified before the cutoff. Retention sweep input.
	ListDisposable(ctx context.Context, category string, cutoff time.Time) ([]*Consent, error)

	// MarkDisposed records the disposal outcome for a swept consent so that
	// re-running the sweep never double-counts it.
	MarkDisposed(ctx context.Context, id uuid.UUID, action string, at time.Time) error
}

package dsr

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the persistence contract for data-subject requests. Mutations are
// serialized per aggregate by an optimistic revision check; the accompanying
// audit entry commits in the same transaction.
type Store interface {
	// Create persists a new request together with its RECEIVED audit entry.
	Create(ctx context.Context, r *Request) error

	// GetByID retrieves one request.
	GetByID(ctx context.Context, id uuid.UUID) (*Request, error)

	// Update persists the request guarded by the revision the caller read;
	// the stored revision is incremented. Conflict error when the guard
	// matches zero rows.
	Update(ctx context.Context, r *Request, expectedRevision int) error

	// ListByPatient returns all requests for a patient, newest first.
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Request, error)

	// ListOverdue returns open requests whose SLA deadline has passed at now.
	ListOverdue(ctx context.Context, now time.Time) ([]*Request, error)

	// ListPending returns PENDING requests oldest first, at most limit.
	ListPending(ctx context.Context, limit int) ([]*Request, error)

	// HasOpenRequests reports whether the patient has any PENDING or
	// IN_PROGRESS request. Retention sweep exclusion input.
	HasOpenRequests(ctx context.Context, patientID uuid.UUID) (bool, error)

	// ListDisposable returns undisposed terminal requests last modified
	// before the cutoff whose scope covers the data category.
	ListDisposable(ctx context.Context, category string, cutoff time.Time) ([]*Request, error)

	// MarkDisposed records the disposal outcome for a swept request.
	MarkDisposed(ctx context.Context, id uuid.UUID, action string, at time.Time) error
}

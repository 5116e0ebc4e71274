package dsr

import (
	"context"

	"github.com/google/uuid"

	"github.com/carebridge/compliance-engine/internal/domain/audit"
)

// TransactionManager scopes a function to one logical transaction.
type TransactionManager interface {
	ExecuteInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// AuditRecorder is the write path to the audit trail.
type AuditRecorder interface {
	Record(ctx context.Context, entry *audit.Entry) error
}

// PatientDirectory resolves patient identities. Implemented by the caller.
type PatientDirectory interface {
	Exists(ctx context.Context, patientID uuid.UUID) (bool, error)
	GetFullName(ctx context.Context, patientID uuid.UUID) (string, error)
}

// LegalHoldChecker reports active legal holds on a patient's data category.
type LegalHoldChecker interface {
	HasHold(ctx context.Context, patientID uuid.UUID, dataCategory string) (bool, error)
}

// DataErasureGateway performs the actual disposal of patient data held by
// surrounding systems.
type DataErasureGateway interface {
	Erase(ctx context.Context, patientID uuid.UUID, dataCategory string) error
	Anonymize(ctx context.Context, patientID uuid.UUID, dataCategory string) error
}

// ProcessingActivityRegistry suspends processing activities for a purpose the
// patient objected to.
type ProcessingActivityRegistry interface {
	Suspend(ctx context.Context, patientID uuid.UUID, purpose string) error
}

// PatientRecordService exposes the patient/medical/billing data surface the
// processor reads from and corrects through. Snapshot with nil categories
// returns all data categories.
type PatientRecordService interface {
	Snapshot(ctx context.Context, patientID uuid.UUID, categories []string) (map[string]interface{}, error)

	// Rectify applies field corrections. A validation error from the
	// collaborator means the target fields are not rectifiable (for example
	// legally-mandated immutable fields) and rejects the request.
	Rectify(ctx context.Context, patientID uuid.UUID, fields []string, note string) error
}

// RestrictionStore marks processing-restriction flags that the external
// data-access layer consults before touching a category.
type RestrictionStore interface {
	SetRestriction(ctx context.Context, patientID uuid.UUID, dataCategory string) error
	IsRestricted(ctx context.Context, patientID uuid.UUID, dataCategory string) (bool, error)
}

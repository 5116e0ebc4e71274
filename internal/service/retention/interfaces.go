package retention

import (
	"context"

	"github.com/google/uuid"

	"github.com/carebridge/compliance-engine/internal/domain/audit"
)

// TransactionManager scopes a function to one logical transaction: every
// store write issued inside fn commits together or not at all.
type TransactionManager interface {
	ExecuteInTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// AuditRecorder is the write path to the audit trail. Record participates in
// the transaction carried by the context.
type AuditRecorder interface {
	Record(ctx context.Context, entry *audit.Entry) error
}

// LegalHoldChecker reports active legal holds on a patient's data category.
type LegalHoldChecker interface {
	HasHold(ctx context.Context, patientID uuid.UUID, dataCategory string) (bool, error)
}

// DataErasureGateway performs the actual disposal of patient data.
type DataErasureGateway interface {
	Erase(ctx context.Context, patientID uuid.UUID, dataCategory string) error
	Anonymize(ctx context.Context, patientID uuid.UUID, dataCategory string) error
}

// SweepLease makes sweep runs mutually exclusive system-wide. Acquire does
// not block: when the lease is already held it returns acquired=false and the
// sweep run aborts immediately.
type SweepLease interface {
	Acquire(ctx context.Context) (release func(context.Context) error, acquired bool, err error)
}

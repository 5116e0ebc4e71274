package consent

import (
	"context"

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

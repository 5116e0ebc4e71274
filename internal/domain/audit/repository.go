package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ChainHead is the tail position of a stream's hash chain.
type ChainHead struct {
	SequenceNum int64
	EntryHash   string
}

// Store is the append-only persistence contract for audit entries. There is
// deliberately no update or delete operation; entries are immutable once
// written. An Append issued inside a transaction carried by the context
// commits together with the business mutation it accompanies.
type Store interface {
	// Append persists a sealed entry. Fails with a storage error only.
	Append(ctx context.Context, entry *Entry) error

	// Head returns the current chain tail for a stream, or a zero ChainHead
	// when the stream is empty. Callers sealing a new entry read the head
	// inside the same transaction as the Append that follows; implementations
	// must hold back concurrent sealers of the same stream until that
	// transaction ends so two sealers never read the same head.
	Head(ctx context.Context, stream Stream) (ChainHead, error)

	// GetByID retrieves a single entry.
	GetByID(ctx context.Context, id uuid.UUID) (*Entry, error)

	// ListByTarget returns all entries for one aggregate, in sequence order.
	ListByTarget(ctx context.Context, stream Stream, targetID uuid.UUID) ([]*Entry, error)

	// ListByStream returns entries for a stream in sequence order, bounded by
	// the given time window. Used by chain verification and reporting.
	ListByStream(ctx context.Context, stream Stream, from, to time.Time) ([]*Entry, error)
}

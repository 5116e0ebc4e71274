// Package audit implements the trail recorder, the only component that
// writes audit entries.
package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/carebridge/compliance-engine/internal/domain/audit"
	"github.com/carebridge/compliance-engine/internal/domain/errors"
	"github.com/carebridge/compliance-engine/internal/metrics"
)

// Recorder appends immutable entries to the audit trail. It is safe for use
// from concurrent goroutines; per-stream sealing is serialized so sequence
// numbers stay contiguous.
//
// Record participates in any transaction carried by the context, so the
// business mutation and its audit entry commit together or not at all.
type Recorder struct {
	store    audit.Store
	logger   *zap.Logger
	metrics  *metrics.Registry
	verifier *audit.ChainVerifier

	mu sync.Mutex
	// streamLocks serializes sealing per stream within this process. The
	// store's Head contract serializes sealers across transactions and
	// instances; these locks keep local goroutines from queueing on the
	// database lock instead.
	streamLocks map[audit.Stream]*sync.Mutex
}

// NewRecorder creates a recorder over an append-only store.
func NewRecorder(store audit.Store, logger *zap.Logger, reg *metrics.Registry) *Recorder {
	return &Recorder{
		store:       store,
		logger:      logger,
		metrics:     reg,
		verifier:    audit.NewChainVerifier(),
		streamLocks: make(map[audit.Stream]*sync.Mutex),
	}
}

// Record seals and appends an entry. It fails only with a storage error;
// callers treat that failure as fatal to the enclosing transaction.
func (r *Recorder) Record(ctx context.Context, entry *audit.Entry) error {
	if entry == nil {
		return errors.NewStorageError("nil audit entry")
	}
	if err := entry.Validate(); err != nil {
		return errors.NewStorageError("invalid audit entry").WithCause(err)
	}

	lock := r.streamLock(entry.Stream)
	lock.Lock()
	defer lock.Unlock()

	head, err := r.store.Head(ctx, entry.Stream)
	if err != nil {
		return errors.NewStorageError("failed to read audit chain head").WithCause(err)
	}

	if !entry.IsSealed() {
		if err := entry.Seal(head.SequenceNum+1, head.EntryHash); err != nil {
			return errors.NewStorageError("failed to seal audit entry").WithCause(err)
		}
	}

	if err := r.store.Append(ctx, entry); err != nil {
		return errors.NewStorageError("failed to append audit entry").WithCause(err)
	}

	r.metrics.AuditEntriesAppended(ctx, entry.Stream.String(), entry.Action.String())
	r.logger.Debug("audit entry recorded",
		zap.String("stream", entry.Stream.String()),
		zap.String("action", entry.Action.String()),
		zap.String("target_id", entry.TargetID.String()),
		zap.Int64("sequence", entry.SequenceNum),
	)
	return nil
}

// VerifyChain validates the hash chain of one stream over a time window.
func (r *Recorder) VerifyChain(ctx context.Context, stream audit.Stream, from, to time.Time) (*audit.ChainVerificationResult, error) {
	entries, err := r.store.ListByStream(ctx, stream, from, to)
	if err != nil {
		return nil, errors.NewStorageError("failed to list audit entries").WithCause(err)
	}

	result := r.verifier.VerifySequential(stream, entries)
	if !result.IsValid {
		r.logger.Warn("audit chain verification found breaks",
			zap.String("stream", stream.String()),
			zap.Int("entries_verified", result.EntriesVerified),
			zap.Int("breaks", len(result.Breaks)),
		)
	}
	return result, nil
}

func (r *Recorder) streamLock(stream audit.Stream) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.streamLocks[stream]
	if !ok {
		lock = &sync.Mutex{}
		r.streamLocks[stream] = lock
	}
	return lock
}

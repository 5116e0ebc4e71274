package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/compliance-engine/internal/domain/audit"
	"github.com/carebridge/compliance-engine/internal/domain/errors"
)

// MemoryAuditStore is an in-memory, append-only audit.Store. Like the
// Postgres implementation it exposes no mutation beyond Append.
type MemoryAuditStore struct {
	mu      sync.Mutex
	streams map[audit.Stream][]*audit.Entry
}

// NewMemoryAuditStore creates an empty in-memory audit store.
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{streams: make(map[audit.Stream][]*audit.Entry)}
}

func (s *MemoryAuditStore) Append(ctx context.Context, entry *audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.streams[entry.Stream]
	if len(entries) > 0 && entries[len(entries)-1].SequenceNum >= entry.SequenceNum {
		return errors.NewStorageError("sequence number already taken")
	}
	s.streams[entry.Stream] = append(entries, entry)
	return nil
}

func (s *MemoryAuditStore) Head(ctx context.Context, stream audit.Stream) (audit.ChainHead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.streams[stream]
	if len(entries) == 0 {
		return audit.ChainHead{}, nil
	}
	tail := entries[len(entries)-1]
	return audit.ChainHead{SequenceNum: tail.SequenceNum, EntryHash: tail.EntryHash}, nil
}

func (s *MemoryAuditStore) GetByID(ctx context.Context, id uuid.UUID) (*audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, entries := range s.streams {
		for _, e := range entries {
			if e.ID == id {
				return e, nil
			}
		}
	}
	return nil, errors.NewNotFoundError("audit entry")
}

func (s *MemoryAuditStore) ListByTarget(ctx context.Context, stream audit.Stream, targetID uuid.UUID) ([]*audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*audit.Entry
	for _, e := range s.streams[stream] {
		if e.TargetID == targetID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryAuditStore) ListByStream(ctx context.Context, stream audit.Stream, from, to time.Time) ([]*audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*audit.Entry
	for _, e := range s.streams[stream] {
		if !from.IsZero() && e.Timestamp.Before(from) {
			continue
		}
		if !to.IsZero() && e.Timestamp.After(to) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

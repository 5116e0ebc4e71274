package database

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebridge/compliance-engine/internal/domain/audit"
	"github.com/carebridge/compliance-engine/internal/domain/errors"
)

// AuditStore implements audit.Store on PostgreSQL. Each stream maps to its
// own append-only table; the tables carry no UPDATE or DELETE path in this
// codebase and are additionally protected by database triggers that reject
// both statements.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates an audit store over the pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

func tableFor(stream audit.Stream) (string, error) {
	switch stream {
	case audit.StreamConsent:
		return "consent_audit", nil
	case audit.StreamRequest:
		return "request_audit", nil
	}
	return "", errors.NewStorageError(fmt.Sprintf("unknown audit stream %q", stream))
}

const auditColumns = `
	id, sequence_num, target_id, patient_id, action, actor_id,
	occurred_at, prior_state_hash, details, previous_hash, entry_hash`

func (s *AuditStore) Append(ctx context.Context, entry *audit.Entry) error {
	table, err := tableFor(entry.Stream)
	if err != nil {
		return err
	}

	details, err := json.Marshal(entry.Details)
	if err != nil {
		return errors.NewStorageError("failed to marshal entry details").WithCause(err)
	}

	q := queryFrom(ctx, s.pool)
	_, err = q.Exec(ctx, `
		INSERT INTO `+table+` (
			id, sequence_num, target_id, patient_id, action, actor_id,
			occurred_at, prior_state_hash, details, previous_hash, entry_hash
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, entry.ID, entry.SequenceNum, entry.TargetID, entry.PatientID,
		string(entry.Action), entry.ActorID, entry.Timestamp,
		entry.PriorStateHash, details, entry.PreviousHash, entry.EntryHash)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.NewStorageError("audit sequence number already taken").WithCause(err)
		}
		return errors.NewStorageError("failed to append audit entry").WithCause(err)
	}
	return nil
}

func (s *AuditStore) Head(ctx context.Context, stream audit.Stream) (audit.ChainHead, error) {
	table, err := tableFor(stream)
	if err != nil {
		return audit.ChainHead{}, err
	}

	q := queryFrom(ctx, s.pool)

	// Serializes sealing per stream across transactions and instances. Row
	// locks cannot do this: appends insert new rows, so a blocked reader
	// would re-read a stale tail after the lock holder commits. The advisory
	// lock is held until the caller's transaction ends, which is why Head
	// must run inside the same transaction as the Append that follows.
	if _, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1)::bigint)`, table); err != nil {
		return audit.ChainHead{}, errors.NewStorageError("failed to lock audit stream").WithCause(err)
	}

	var head audit.ChainHead
	err = q.QueryRow(ctx, `
		SELECT sequence_num, entry_hash
		FROM `+table+`
		ORDER BY sequence_num DESC
		LIMIT 1
	`).Scan(&head.SequenceNum, &head.EntryHash)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return audit.ChainHead{}, nil
		}
		return audit.ChainHead{}, errors.NewStorageError("failed to read audit chain head").WithCause(err)
	}
	return head, nil
}

func (s *AuditStore) GetByID(ctx context.Context, id uuid.UUID) (*audit.Entry, error) {
	q := queryFrom(ctx, s.pool)
	for _, stream := range []audit.Stream{audit.StreamConsent, audit.StreamRequest} {
		table, err := tableFor(stream)
		if err != nil {
			return nil, err
		}
		row := q.QueryRow(ctx, `SELECT`+auditColumns+` FROM `+table+` WHERE id = $1`, id)
		entry, err := scanEntry(row, stream)
		if err == nil {
			return entry, nil
		}
		if !errors.IsNotFound(err) {
			return nil, err
		}
	}
	return nil, errors.NewNotFoundError("audit entry")
}

func (s *AuditStore) ListByTarget(ctx context.Context, stream audit.Stream, targetID uuid.UUID) ([]*audit.Entry, error) {
	table, err := tableFor(stream)
	if err != nil {
		return nil, err
	}

	q := queryFrom(ctx, s.pool)
	rows, err := q.Query(ctx, `
		SELECT`+auditColumns+`
		FROM `+table+`
		WHERE target_id = $1
		ORDER BY sequence_num
	`, targetID)
	if err != nil {
		return nil, errors.NewStorageError("failed to list audit entries").WithCause(err)
	}
	defer rows.Close()
	return scanEntries(rows, stream)
}

func (s *AuditStore) ListByStream(ctx context.Context, stream audit.Stream, from, to time.Time) ([]*audit.Entry, error) {
	table, err := tableFor(stream)
	if err != nil {
		return nil, err
	}

	query := `SELECT` + auditColumns + ` FROM ` + table + ` WHERE 1=1`
	args := []any{}
	if !from.IsZero() {
		args = append(args, from)
		query += fmt.Sprintf(" AND occurred_at >= $%d", len(args))
	}
	if !to.IsZero() {
		args = append(args, to)
		query += fmt.Sprintf(" AND occurred_at <= $%d", len(args))
	}
	query += " ORDER BY sequence_num"

	q := queryFrom(ctx, s.pool)
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.NewStorageError("failed to list audit entries").WithCause(err)
	}
	defer rows.Close()
	return scanEntries(rows, stream)
}

func scanEntry(row pgx.Row, stream audit.Stream) (*audit.Entry, error) {
	var e audit.Entry
	var action string
	var details []byte
	err := row.Scan(
		&e.ID, &e.SequenceNum, &e.TargetID, &e.PatientID, &action, &e.ActorID,
		&e.Timestamp, &e.PriorStateHash, &details, &e.PreviousHash, &e.EntryHash,
	)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.NewNotFoundError("audit entry")
		}
		return nil, errors.NewStorageError("failed to scan audit entry").WithCause(err)
	}
	e.Stream = stream
	e.Action = audit.Action(action)
	if len(details) > 0 {
		if err := json.Unmarshal(details, &e.Details); err != nil {
			return nil, errors.NewStorageError("failed to unmarshal entry details").WithCause(err)
		}
	}
	return &e, nil
}

func scanEntries(rows pgx.Rows, stream audit.Stream) ([]*audit.Entry, error) {
	var out []*audit.Entry
	for rows.Next() {
		e, err := scanEntry(rows, stream)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError("failed to iterate audit entries").WithCause(err)
	}
	return out, nil
}

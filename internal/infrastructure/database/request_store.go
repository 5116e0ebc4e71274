package database

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebridge/compliance-engine/internal/domain/dsr"
	"github.com/carebridge/compliance-engine/internal/domain/errors"
)

// RequestStore implements dsr.Store on PostgreSQL. Writes are guarded by an
// optimistic revision column; an update whose expected revision no longer
// matches affects zero rows and surfaces as a conflict.
type RequestStore struct {
	pool *pgxpool.Pool
}

// NewRequestStore creates a request store over the pool.
func NewRequestStore(pool *pgxpool.Pool) *RequestStore {
	return &RequestStore{pool: pool}
}

const requestColumns = `
	id, patient_id, request_type, status, scope, description,
	received_at, due_at, completed_at, assigned_to,
	response_payload, rejection_reason, revision,
	created_at, updated_at, disposed_at, disposal_action`

func (s *RequestStore) Create(ctx context.Context, r *dsr.Request) error {
	payload, err := json.Marshal(r.ResponsePayload)
	if err != nil {
		return errors.NewStorageError("failed to marshal response payload").WithCause(err)
	}

	q := queryFrom(ctx, s.pool)
	_, err = q.Exec(ctx, `
		INSERT INTO data_subject_requests (
			id, patient_id, request_type, status, scope, description,
			received_at, due_at, completed_at, assigned_to,
			response_payload, rejection_reason, revision,
			created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`, r.ID, r.PatientID, string(r.Type), string(r.Status), r.Scope, r.Description,
		r.ReceivedAt, r.DueAt, r.CompletedAt, r.AssignedTo,
		payload, r.RejectionReason, r.Revision,
		r.CreatedAt, r.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.NewConflictError("request already exists")
		}
		return errors.NewStorageError("failed to insert request").WithCause(err)
	}
	return nil
}

func (s *RequestStore) GetByID(ctx context.Context, id uuid.UUID) (*dsr.Request, error) {
	q := queryFrom(ctx, s.pool)
	row := q.QueryRow(ctx, `SELECT`+requestColumns+` FROM data_subject_requests WHERE id = $1`, id)
	return scanRequest(row)
}

func (s *RequestStore) Update(ctx context.Context, r *dsr.Request, expectedRevision int) error {
	payload, err := json.Marshal(r.ResponsePayload)
	if err != nil {
		return errors.NewStorageError("failed to marshal response payload").WithCause(err)
	}

	q := queryFrom(ctx, s.pool)
	tag, err := q.Exec(ctx, `
		UPDATE data_subject_requests
		SET status = $1, completed_at = $2, assigned_to = $3,
		    response_payload = $4, rejection_reason = $5,
		    revision = revision + 1, updated_at = $6
		WHERE id = $7 AND revision = $8
	`, string(r.Status), r.CompletedAt, r.AssignedTo,
		payload, r.RejectionReason, r.UpdatedAt, r.ID, expectedRevision)
	if err != nil {
		return errors.NewStorageError("failed to update request").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NewConflictError("request was modified by another operation")
	}
	r.Revision = expectedRevision + 1
	return nil
}

func (s *RequestStore) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*dsr.Request, error) {
	q := queryFrom(ctx, s.pool)
	rows, err := q.Query(ctx, `
		SELECT`+requestColumns+`
		FROM data_subject_requests
		WHERE patient_id = $1
		ORDER BY received_at DESC
	`, patientID)
	if err != nil {
		return nil, errors.NewStorageError("failed to list requests").WithCause(err)
	}
	defer rows.Close()
	return scanRequests(rows)
}

func (s *RequestStore) ListOverdue(ctx context.Context, now time.Time) ([]*dsr.Request, error) {
	q := queryFrom(ctx, s.pool)
	rows, err := q.Query(ctx, `
		SELECT`+requestColumns+`
		FROM data_subject_requests
		WHERE status IN ('PENDING', 'IN_PROGRESS') AND due_at < $1
		ORDER BY due_at
	`, now)
	if err != nil {
		return nil, errors.NewStorageError("failed to list overdue requests").WithCause(err)
	}
	defer rows.Close()
	return scanRequests(rows)
}

func (s *RequestStore) ListPending(ctx context.Context, limit int) ([]*dsr.Request, error) {
	q := queryFrom(ctx, s.pool)
	rows, err := q.Query(ctx, `
		SELECT`+requestColumns+`
		FROM data_subject_requests
		WHERE status = 'PENDING'
		ORDER BY received_at
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, errors.NewStorageError("failed to list pending requests").WithCause(err)
	}
	defer rows.Close()
	return scanRequests(rows)
}

func (s *RequestStore) HasOpenRequests(ctx context.Context, patientID uuid.UUID) (bool, error) {
	q := queryFrom(ctx, s.pool)
	var open bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM data_subject_requests
			WHERE patient_id = $1 AND status IN ('PENDING', 'IN_PROGRESS')
		)
	`, patientID).Scan(&open)
	if err != nil {
		return false, errors.NewStorageError("failed to check open requests").WithCause(err)
	}
	return open, nil
}

func (s *RequestStore) ListDisposable(ctx context.Context, category string, cutoff time.Time) ([]*dsr.Request, error) {
	q := queryFrom(ctx, s.pool)
	rows, err := q.Query(ctx, `
		SELECT`+requestColumns+`
		FROM data_subject_requests
		WHERE status IN ('COMPLETED', 'REJECTED', 'ESCALATED')
		  AND disposed_at IS NULL
		  AND updated_at < $1
		  AND $2 = ANY(scope)
		ORDER BY updated_at
	`, cutoff, category)
	if err != nil {
		return nil, errors.NewStorageError("failed to list disposable requests").WithCause(err)
	}
	defer rows.Close()
	return scanRequests(rows)
}

func (s *RequestStore) MarkDisposed(ctx context.Context, id uuid.UUID, action string, at time.Time) error {
	q := queryFrom(ctx, s.pool)
	tag, err := q.Exec(ctx, `
		UPDATE data_subject_requests
		SET disposed_at = $1, disposal_action = $2
		WHERE id = $3 AND disposed_at IS NULL
	`, at, action, id)
	if err != nil {
		return errors.NewStorageError("failed to mark request disposed").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NewNotFoundError("undisposed request")
	}
	return nil
}

func scanRequest(row pgx.Row) (*dsr.Request, error) {
	var r dsr.Request
	var requestType, status string
	var payload []byte
	err := row.Scan(
		&r.ID, &r.PatientID, &requestType, &status, &r.Scope, &r.Description,
		&r.ReceivedAt, &r.DueAt, &r.CompletedAt, &r.AssignedTo,
		&payload, &r.RejectionReason, &r.Revision,
		&r.CreatedAt, &r.UpdatedAt, &r.DisposedAt, &r.DisposalAction,
	)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.NewNotFoundError("data subject request")
		}
		return nil, errors.NewStorageError("failed to scan request").WithCause(err)
	}
	r.Type = dsr.Type(requestType)
	r.Status = dsr.Status(status)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &r.ResponsePayload); err != nil {
			return nil, errors.NewStorageError("failed to unmarshal response payload").WithCause(err)
		}
	}
	return &r, nil
}

func scanRequests(rows pgx.Rows) ([]*dsr.Request, error) {
	var out []*dsr.Request
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError("failed to iterate requests").WithCause(err)
	}
	return out, nil
}

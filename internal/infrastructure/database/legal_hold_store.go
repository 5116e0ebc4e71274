package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebridge/compliance-engine/internal/domain/errors"
)

// LegalHoldStore tracks litigation holds on patient data categories. A hold
// blocks erasure and retention disposal for the category until released.
type LegalHoldStore struct {
	pool *pgxpool.Pool
}

// NewLegalHoldStore creates a legal hold store over the pool.
func NewLegalHoldStore(pool *pgxpool.Pool) *LegalHoldStore {
	return &LegalHoldStore{pool: pool}
}

// Place records a hold on one of the patient's data categories.
func (s *LegalHoldStore) Place(ctx context.Context, patientID uuid.UUID, dataCategory, reason string, placedBy uuid.UUID) error {
	q := queryFrom(ctx, s.pool)
	_, err := q.Exec(ctx, `
		INSERT INTO legal_holds (id, patient_id, data_category, reason, placed_by, placed_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (patient_id, data_category) WHERE released_at IS NULL
		DO NOTHING
	`, uuid.New(), patientID, dataCategory, reason, placedBy, time.Now().UTC())
	if err != nil {
		return errors.NewStorageError("failed to place legal hold").WithCause(err)
	}
	return nil
}

// Release lifts any active hold on the patient's data category.
func (s *LegalHoldStore) Release(ctx context.Context, patientID uuid.UUID, dataCategory string) error {
	q := queryFrom(ctx, s.pool)
	_, err := q.Exec(ctx, `
		UPDATE legal_holds SET released_at = $3
		WHERE patient_id = $1 AND data_category = $2 AND released_at IS NULL
	`, patientID, dataCategory, time.Now().UTC())
	if err != nil {
		return errors.NewStorageError("failed to release legal hold").WithCause(err)
	}
	return nil
}

// HasHold reports whether an active hold covers the patient's data category.
func (s *LegalHoldStore) HasHold(ctx context.Context, patientID uuid.UUID, dataCategory string) (bool, error) {
	q := queryFrom(ctx, s.pool)
	var held bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM legal_holds
			WHERE patient_id = $1 AND data_category = $2 AND released_at IS NULL
		)
	`, patientID, dataCategory).Scan(&held)
	if err != nil {
		return false, errors.NewStorageError("failed to check legal hold").WithCause(err)
	}
	return held, nil
}

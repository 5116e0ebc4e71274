package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebridge/compliance-engine/internal/domain/errors"
)

// RestrictionStore persists processing-restriction flags. The data-access
// layers of surrounding systems consult these flags before touching a
// restricted category.
type RestrictionStore struct {
	pool *pgxpool.Pool
}

// NewRestrictionStore creates a restriction store over the pool.
func NewRestrictionStore(pool *pgxpool.Pool) *RestrictionStore {
	return &RestrictionStore{pool: pool}
}

// SetRestriction flags the patient's data category as restricted. Setting an
// already-restricted category is a no-op.
func (s *RestrictionStore) SetRestriction(ctx context.Context, patientID uuid.UUID, dataCategory string) error {
	q := queryFrom(ctx, s.pool)
	_, err := q.Exec(ctx, `
		INSERT INTO processing_restrictions (id, patient_id, data_category, restricted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (patient_id, data_category) DO NOTHING
	`, uuid.New(), patientID, dataCategory, time.Now().UTC())
	if err != nil {
		return errors.NewStorageError("failed to set processing restriction").WithCause(err)
	}
	return nil
}

// IsRestricted reports whether processing is restricted for the category.
func (s *RestrictionStore) IsRestricted(ctx context.Context, patientID uuid.UUID, dataCategory string) (bool, error) {
	q := queryFrom(ctx, s.pool)
	var restricted bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM processing_restrictions
			WHERE patient_id = $1 AND data_category = $2
		)
	`, patientID, dataCategory).Scan(&restricted)
	if err != nil {
		return false, errors.NewStorageError("failed to check processing restriction").WithCause(err)
	}
	return restricted, nil
}

package database

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/carebridge/compliance-engine/internal/domain/consent"
	"github.com/carebridge/compliance-engine/internal/domain/errors"
)

// uniqueViolation is the PostgreSQL error code for unique constraint breaks.
const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// ConsentStore implements consent.Store on PostgreSQL. Uniqueness of the
// ACTIVE version per (patient, type) and of (patient, type, version) is
// enforced by database indexes, so racing writers are resolved by the
// database rather than by application locks.
type ConsentStore struct {
	pool *pgxpool.Pool
}

// NewConsentStore creates a consent store over the pool.
func NewConsentStore(pool *pgxpool.Pool) *ConsentStore {
	return &ConsentStore{pool: pool}
}

const consentColumns = `
	id, patient_id, consent_type, version, status,
	consent_date, expiry_date, revoked_date,
	data_categories, third_parties, retention_policy_id,
	created_by, created_at, updated_at, disposed_at, disposal_action`

func (s *ConsentStore) Create(ctx context.Context, c *consent.Consent) error {
	q := queryFrom(ctx, s.pool)
	_, err := q.Exec(ctx, `
		INSERT INTO consents (
			id, patient_id, consent_type, version, status,
			consent_date, expiry_date, revoked_date,
			data_categories, third_parties, retention_policy_id,
			created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, c.ID, c.PatientID, string(c.Type), c.Version, string(c.Status),
		c.ConsentDate, c.ExpiryDate, c.RevokedDate,
		c.DataCategories, c.ThirdParties, c.RetentionPolicyID,
		c.CreatedBy, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.NewConflictError("an active consent already exists for this patient and type")
		}
		return errors.NewStorageError("failed to insert consent").WithCause(err)
	}
	return nil
}

func (s *ConsentStore) GetByID(ctx context.Context, id uuid.UUID) (*consent.Consent, error) {
	q := queryFrom(ctx, s.pool)
	row := q.QueryRow(ctx, `SELECT`+consentColumns+` FROM consents WHERE id = $1`, id)
	return scanConsent(row)
}

func (s *ConsentStore) GetActive(ctx context.Context, patientID uuid.UUID, consentType consent.Type) (*consent.Consent, error) {
	q := queryFrom(ctx, s.pool)
	row := q.QueryRow(ctx, `
		SELECT`+consentColumns+`
		FROM consents
		WHERE patient_id = $1 AND consent_type = $2 AND status = 'ACTIVE'
	`, patientID, string(consentType))
	c, err := scanConsent(row)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.NewNotFoundError("active consent")
		}
		return nil, err
	}
	return c, nil
}

func (s *ConsentStore) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*consent.Consent, error) {
	q := queryFrom(ctx, s.pool)
	rows, err := q.Query(ctx, `
		SELECT`+consentColumns+`
		FROM consents
		WHERE patient_id = $1
		ORDER BY consent_type, version
	`, patientID)
	if err != nil {
		return nil, errors.NewStorageError("failed to list consents").WithCause(err)
	}
	defer rows.Close()
	return scanConsents(rows)
}

func (s *ConsentStore) Transition(ctx context.Context, c *consent.Consent, from consent.Status) error {
	q := queryFrom(ctx, s.pool)
	tag, err := q.Exec(ctx, `
		UPDATE consents
		SET status = $1, revoked_date = $2, updated_at = $3
		WHERE id = $4 AND status = $5
	`, string(c.Status), c.RevokedDate, c.UpdatedAt, c.ID, string(from))
	if err != nil {
		return errors.NewStorageError("failed to update consent").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NewConflictError("consent was modified by another operation")
	}
	return nil
}

func (s *ConsentStore) Renew(ctx context.Context, archived *consent.Consent, next *consent.Consent) error {
	q := queryFrom(ctx, s.pool)

	tag, err := q.Exec(ctx, `
		UPDATE consents
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = 'ACTIVE'
	`, string(archived.Status), archived.UpdatedAt, archived.ID)
	if err != nil {
		return errors.NewStorageError("failed to archive consent").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NewConflictError("consent is no longer active")
	}

	_, err = q.Exec(ctx, `
		INSERT INTO consents (
			id, patient_id, consent_type, version, status,
			consent_date, expiry_date, revoked_date,
			data_categories, third_parties, retention_policy_id,
			created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, next.ID, next.PatientID, string(next.Type), next.Version, string(next.Status),
		next.ConsentDate, next.ExpiryDate, next.RevokedDate,
		next.DataCategories, next.ThirdParties, next.RetentionPolicyID,
		next.CreatedBy, next.CreatedAt, next.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return errors.NewConflictError("consent version already exists")
		}
		return errors.NewStorageError("failed to insert renewed consent").WithCause(err)
	}
	return nil
}

func (s *ConsentStore) ListExpiringBefore(ctx context.Context, cutoff time.Time) ([]*consent.Consent, error) {
	q := queryFrom(ctx, s.pool)
	rows, err := q.Query(ctx, `
		SELECT`+consentColumns+`
		FROM consents
		WHERE status = 'ACTIVE' AND expiry_date IS NOT NULL AND expiry_date < $1
		ORDER BY expiry_date
	`, cutoff)
	if err != nil {
		return nil, errors.NewStorageError("failed to list expiring consents").WithCause(err)
	}
	defer rows.Close()
	return scanConsents(rows)
}

func (s *ConsentStore) ListDisposable(ctx context.Context, category string, cutoff time.Time) ([]*consent.Consent, error) {
	q := queryFrom(ctx, s.pool)
	rows, err := q.Query(ctx, `
		SELECT`+consentColumns+`
		FROM consents
		WHERE status IN ('EXPIRED', 'REVOKED', 'ARCHIVED')
		  AND disposed_at IS NULL
		  AND updated_at < $1
		  AND $2 = ANY(data_categories)
		ORDER BY updated_at
	`, cutoff, category)
	if err != nil {
		return nil, errors.NewStorageError("failed to list disposable consents").WithCause(err)
	}
	defer rows.Close()
	return scanConsents(rows)
}

func (s *ConsentStore) MarkDisposed(ctx context.Context, id uuid.UUID, action string, at time.Time) error {
	q := queryFrom(ctx, s.pool)
	tag, err := q.Exec(ctx, `
		UPDATE consents
		SET disposed_at = $1, disposal_action = $2
		WHERE id = $3 AND disposed_at IS NULL
	`, at, action, id)
	if err != nil {
		return errors.NewStorageError("failed to mark consent disposed").WithCause(err)
	}
	if tag.RowsAffected() == 0 {
		return errors.NewNotFoundError("undisposed consent")
	}
	return nil
}

func scanConsent(row pgx.Row) (*consent.Consent, error) {
	var c consent.Consent
	var consentType, status string
	err := row.Scan(
		&c.ID, &c.PatientID, &consentType, &c.Version, &status,
		&c.ConsentDate, &c.ExpiryDate, &c.RevokedDate,
		&c.DataCategories, &c.ThirdParties, &c.RetentionPolicyID,
		&c.CreatedBy, &c.CreatedAt, &c.UpdatedAt, &c.DisposedAt, &c.DisposalAction,
	)
	if err != nil {
		if stderrors.Is(err, pgx.ErrNoRows) {
			return nil, errors.NewNotFoundError("consent")
		}
		return nil, errors.NewStorageError("failed to scan consent").WithCause(err)
	}
	c.Type = consent.Type(consentType)
	c.Status = consent.Status(status)
	return &c, nil
}

func scanConsents(rows pgx.Rows) ([]*consent.Consent, error) {
	var out []*consent.Consent
	for rows.Next() {
		c, err := scanConsent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorageError("failed to iterate consents").WithCause(err)
	}
	return out, nil
}

// Package consent implements the consent lifecycle manager.
package consent

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/carebridge/compliance-engine/internal/domain/audit"
	"github.com/carebridge/compliance-engine/internal/domain/consent"
	"github.com/carebridge/compliance-engine/internal/domain/errors"
	"github.com/carebridge/compliance-engine/internal/metrics"
	"github.com/carebridge/compliance-engine/internal/service/authz"
)

// Manager implements the consent state machine on top of the consent store
// and the audit trail recorder. Every mutation writes its audit entry in the
// same transaction.
type Manager struct {
	logger   *zap.Logger
	store    consent.Store
	recorder AuditRecorder
	tx       TransactionManager
	policy   authz.Policy
	metrics  *metrics.Registry
	validate *validator.Validate
}

// NewManager creates a consent lifecycle manager.
func NewManager(
	logger *zap.Logger,
	store consent.Store,
	recorder AuditRecorder,
	tx TransactionManager,
	policy authz.Policy,
	reg *metrics.Registry,
) *Manager {
	return &Manager{
		logger:   logger,
		store:    store,
		recorder: recorder,
		tx:       tx,
		policy:   policy,
		metrics:  reg,
		validate: validator.New(),
	}
}

// CreateRequest carries the attributes of a new consent.
type CreateRequest struct {
	PatientID         uuid.UUID  `validate:"required"`
	ConsentType       string     `validate:"required"`
	ConsentDate       time.Time  `validate:"required"`
	ExpiryDate        *time.Time `validate:"omitempty"`
	DataCategories    []string   `validate:"dive,required"`
	ThirdParties      []string   `validate:"dive,required"`
	RetentionPolicyID string     `validate:"required"`
	CreatedBy         uuid.UUID  `validate:"required"`

	// Activate creates the consent directly in ACTIVE status when signature
	// capture already happened upstream.
	Activate bool
}

// Create writes a new consent version 1 and its CREATED audit entry
// atomically; immediate activation adds an ACTIVATED entry in the same
// transaction. Fails with a conflict error when an ACTIVE consent already
// exists for (patient, type).
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*consent.Consent, error) {
	if err := m.validate.Struct(req); err != nil {
		return nil, errors.NewValidationError("INVALID_CREATE_REQUEST", "invalid consent create request").WithCause(err)
	}

	consentType, err := consent.ParseType(req.ConsentType)
	if err != nil {
		return nil, err
	}

	c, err := consent.NewConsent(req.PatientID, consentType, consent.Details{
		ConsentDate:       req.ConsentDate,
		ExpiryDate:        req.ExpiryDate,
		DataCategories:    req.DataCategories,
		ThirdParties:      req.ThirdParties,
		RetentionPolicyID: req.RetentionPolicyID,
	}, req.CreatedBy)
	if err != nil {
		return nil, err
	}
	if req.Activate {
		if err := c.Activate(); err != nil {
			return nil, err
		}
	}

	entry, err := audit.NewEntry(audit.StreamConsent, c.ID, c.PatientID, req.CreatedBy, audit.ActionConsentCreated)
	if err != nil {
		return nil, err
	}
	entry.WithDetail("consent_type", c.Type.String()).
		WithDetail("initial_status", c.Status.String()).
		WithDetail("data_categories", c.DataCategories)

	var activated *audit.Entry
	if c.Status == consent.StatusActive {
		activated, err = audit.NewEntry(audit.StreamConsent, c.ID, c.PatientID, req.CreatedBy, audit.ActionConsentActivated)
		if err != nil {
			return nil, err
		}
		activated.WithDetail("consent_type", c.Type.String())
	}

	err = m.tx.ExecuteInTransaction(ctx, func(ctx context.Context) error {
		if err := m.store.Create(ctx, c); err != nil {
			return err
		}
		if err := m.recorder.Record(ctx, entry); err != nil {
			return err
		}
		if activated != nil {
			return m.recorder.Record(ctx, activated)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.metrics.ConsentTransition(ctx, audit.ActionConsentCreated.String())
	m.logger.Info("consent created",
		zap.String("consent_id", c.ID.String()),
		zap.String("patient_id", c.PatientID.String()),
		zap.String("consent_type", c.Type.String()),
		zap.String("status", c.Status.String()),
	)
	return c, nil
}

// Revoke marks a consent REVOKED and records the transition. Revocation is
// visible to the request processor immediately (same store, read-committed).
func (m *Manager) Revoke(ctx context.Context, consentID uuid.UUID, reason string, actor authz.Actor) error {
	c, err := m.store.GetByID(ctx, consentID)
	if err != nil {
		return err
	}
	if !m.policy.CanRevokeConsent(actor, c) {
		return errors.NewForbiddenError("actor is not permitted to revoke this consent")
	}

	prior := c.Snapshot()
	from := c.Status
	now := time.Now().UTC()
	if err := c.Revoke(now); err != nil {
		return err
	}

	entry, err := audit.NewEntry(audit.StreamConsent, c.ID, c.PatientID, actor.ID, audit.ActionConsentRevoked)
	if err != nil {
		return err
	}
	entry.WithPriorState(prior).WithDetail("reason", reason)

	err = m.tx.ExecuteInTransaction(ctx, func(ctx context.Context) error {
		if err := m.store.Transition(ctx, c, from); err != nil {
			return err
		}
		return m.recorder.Record(ctx, entry)
	})
	if err != nil {
		return err
	}

	m.metrics.ConsentTransition(ctx, audit.ActionConsentRevoked.String())
	m.logger.Info("consent revoked",
		zap.String("consent_id", c.ID.String()),
		zap.String("patient_id", c.PatientID.String()),
		zap.String("reason", reason),
	)
	return nil
}

// Renew archives the current version and creates its ACTIVE successor in one
// transaction, with one audit entry per affected row. Exactly one of two
// racing renewals succeeds; the loser gets a conflict error and must retry
// against the new active version.
func (m *Manager) Renew(ctx context.Context, consentID uuid.UUID, newExpiry time.Time, actor authz.Actor) (*consent.Consent, error) {
	c, err := m.store.GetByID(ctx, consentID)
	if err != nil {
		return nil, err
	}
	if !m.policy.CanRenewConsent(actor, c) {
		return nil, errors.NewForbiddenError("actor is not permitted to renew this consent")
	}

	now := time.Now().UTC()
	next, err := c.NextVersion(newExpiry, now, actor.ID)
	if err != nil {
		return nil, err
	}

	prior := c.Snapshot()
	if err := c.Archive(now); err != nil {
		return nil, err
	}

	renewedEntry, err := audit.NewEntry(audit.StreamConsent, c.ID, c.PatientID, actor.ID, audit.ActionConsentRenewed)
	if err != nil {
		return nil, err
	}
	renewedEntry.WithPriorState(prior).
		WithDetail("superseded_by", next.ID.String()).
		WithDetail("superseded_by_version", next.Version)

	createdEntry, err := audit.NewEntry(audit.StreamConsent, next.ID, next.PatientID, actor.ID, audit.ActionConsentCreated)
	if err != nil {
		return nil, err
	}
	createdEntry.WithDetail("renewed_from", c.ID.String()).
		WithDetail("version", next.Version).
		WithDetail("expiry_date", next.ExpiryDate)

	err = m.tx.ExecuteInTransaction(ctx, func(ctx context.Context) error {
		if err := m.store.Renew(ctx, c, next); err != nil {
			return err
		}
		if err := m.recorder.Record(ctx, renewedEntry); err != nil {
			return err
		}
		return m.recorder.Record(ctx, createdEntry)
	})
	if err != nil {
		return nil, err
	}

	m.metrics.ConsentTransition(ctx, audit.ActionConsentRenewed.String())
	m.logger.Info("consent renewed",
		zap.String("consent_id", c.ID.String()),
		zap.String("next_id", next.ID.String()),
		zap.Int("next_version", next.Version),
	)
	return next, nil
}

// GetActive returns the unique ACTIVE, unexpired consent for (patient, type).
func (m *Manager) GetActive(ctx context.Context, patientID uuid.UUID, consentType consent.Type) (*consent.Consent, error) {
	c, err := m.store.GetActive(ctx, patientID, consentType)
	if err != nil {
		return nil, err
	}
	if !c.IsActive(time.Now().UTC()) {
		return nil, errors.NewNotFoundError("active consent")
	}
	return c, nil
}

// ExpireDue transitions ACTIVE consents whose expiry date has passed to
// EXPIRED, one transaction per consent. Failures on individual consents are
// logged and do not abort the pass. Returns the number expired.
func (m *Manager) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	due, err := m.store.ListExpiringBefore(ctx, now)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, c := range due {
		if err := ctx.Err(); err != nil {
			return expired, errors.NewInternalError("expiry pass cancelled").WithCause(err)
		}

		prior := c.Snapshot()
		from := c.Status
		if err := c.Expire(now); err != nil {
			continue
		}

		entry, err := audit.NewEntry(audit.StreamConsent, c.ID, c.PatientID, c.CreatedBy, audit.ActionConsentExpired)
		if err != nil {
			m.logger.Error("failed to build expiry audit entry", zap.Error(err))
			continue
		}
		entry.WithPriorState(prior).WithDetail("expiry_date", c.ExpiryDate)

		err = m.tx.ExecuteInTransaction(ctx, func(ctx context.Context) error {
			if err := m.store.Transition(ctx, c, from); err != nil {
				return err
			}
			return m.recorder.Record(ctx, entry)
		})
		if err != nil {
			// A conflict here means another writer moved the row first.
			m.logger.Warn("failed to expire consent",
				zap.String("consent_id", c.ID.String()),
				zap.Error(err),
			)
			continue
		}

		m.metrics.ConsentTransition(ctx, audit.ActionConsentExpired.String())
		expired++
	}
	return expired, nil
}

// Package legalhold manages litigation holds on patient data categories.
// An active hold blocks erasure requests and retention disposal for the
// category until a compliance officer releases it.
package legalhold

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/carebridge/compliance-engine/internal/domain/errors"
	"github.com/carebridge/compliance-engine/internal/service/authz"
)

// Store persists holds. Place on an already-held category is a no-op, as is
// Release on an unheld one.
type Store interface {
	Place(ctx context.Context, patientID uuid.UUID, dataCategory, reason string, placedBy uuid.UUID) error
	Release(ctx context.Context, patientID uuid.UUID, dataCategory string) error
	HasHold(ctx context.Context, patientID uuid.UUID, dataCategory string) (bool, error)
}

// Manager gates hold placement and release behind the role policy. It also
// satisfies the hold-checker contracts of the request processor and the
// retention sweep, so every hold consumer goes through one surface.
type Manager struct {
	logger *zap.Logger
	store  Store
	policy authz.Policy
}

// NewManager creates a legal hold manager.
func NewManager(logger *zap.Logger, store Store, policy authz.Policy) *Manager {
	return &Manager{logger: logger, store: store, policy: policy}
}

// Place puts a hold on one of the patient's data categories.
func (m *Manager) Place(ctx context.Context, patientID uuid.UUID, dataCategory, reason string, actor authz.Actor) error {
	if !m.policy.CanManageLegalHolds(actor) {
		return errors.NewForbiddenError("actor is not permitted to place legal holds")
	}
	if patientID == uuid.Nil || dataCategory == "" {
		return errors.NewValidationError("INVALID_HOLD", "legal hold requires a patient and a data category")
	}
	if reason == "" {
		return errors.NewValidationError("INVALID_HOLD", "legal hold requires a reason")
	}

	if err := m.store.Place(ctx, patientID, dataCategory, reason, actor.ID); err != nil {
		return err
	}

	m.logger.Info("legal hold placed",
		zap.String("patient_id", patientID.String()),
		zap.String("data_category", dataCategory),
		zap.String("placed_by", actor.ID.String()),
	)
	return nil
}

// Release lifts any active hold on the patient's data category.
func (m *Manager) Release(ctx context.Context, patientID uuid.UUID, dataCategory string, actor authz.Actor) error {
	if !m.policy.CanManageLegalHolds(actor) {
		return errors.NewForbiddenError("actor is not permitted to release legal holds")
	}
	if patientID == uuid.Nil || dataCategory == "" {
		return errors.NewValidationError("INVALID_HOLD", "legal hold requires a patient and a data category")
	}

	if err := m.store.Release(ctx, patientID, dataCategory); err != nil {
		return err
	}

	m.logger.Info("legal hold released",
		zap.String("patient_id", patientID.String()),
		zap.String("data_category", dataCategory),
		zap.String("released_by", actor.ID.String()),
	)
	return nil
}

// HasHold reports whether an active hold covers the patient's data category.
func (m *Manager) HasHold(ctx context.Context, patientID uuid.UUID, dataCategory string) (bool, error) {
	return m.store.HasHold(ctx, patientID, dataCategory)
}

package fixtures

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/compliance-engine/internal/domain/consent"
)

// ConsentBuilder builds test Consent entities
type ConsentBuilder struct {
	t           *testing.T
	patientID   uuid.UUID
	consentType consent.Type
	consentDate time.Time
	expiryDate  *time.Time
	categories  []string
	parties     []string
	policyID    string
	createdBy   uuid.UUID
	status      consent.Status
}

// NewConsentBuilder creates a ConsentBuilder with defaults
func NewConsentBuilder(t *testing.T) *ConsentBuilder {
	t.Helper()
	expiry := time.Now().UTC().Add(365 * 24 * time.Hour)
	return &ConsentBuilder{
		t:           t,
		patientID:   uuid.New(),
		consentType: consent.TypeGeneralTreatment,
		consentDate: time.Now().UTC().Add(-time.Hour),
		expiryDate:  &expiry,
		categories:  []string{"demographics", "clinical_notes"},
		policyID:    "clinical-7y",
		createdBy:   uuid.New(),
		status:      consent.StatusActive,
	}
}

// WithPatient sets the patient ID
func (b *ConsentBuilder) WithPatient(id uuid.UUID) *ConsentBuilder {
	b.patientID = id
	return b
}

// WithType sets the consent type
func (b *ConsentBuilder) WithType(t consent.Type) *ConsentBuilder {
	b.consentType = t
	return b
}

// WithExpiry sets the expiry date
func (b *ConsentBuilder) WithExpiry(expiry time.Time) *ConsentBuilder {
	b.expiryDate = &expiry
	return b
}

// WithoutExpiry clears the expiry date
func (b *ConsentBuilder) WithoutExpiry() *ConsentBuilder {
	b.expiryDate = nil
	return b
}

// WithCategories sets the data categories
func (b *ConsentBuilder) WithCategories(categories ...string) *ConsentBuilder {
	b.categories = categories
	return b
}

// WithThirdParties sets the third parties
func (b *ConsentBuilder) WithThirdParties(parties ...string) *ConsentBuilder {
	b.parties = parties
	return b
}

// WithRetentionPolicy sets the retention policy ID
func (b *ConsentBuilder) WithRetentionPolicy(id string) *ConsentBuilder {
	b.policyID = id
	return b
}

// WithStatus sets the final status the built consent should land in
func (b *ConsentBuilder) WithStatus(status consent.Status) *ConsentBuilder {
	b.status = status
	return b
}

// Build constructs the consent, walking it through the lifecycle to the
// requested status.
func (b *ConsentBuilder) Build() *consent.Consent {
	b.t.Helper()
	c, err := consent.NewConsent(b.patientID, b.consentType, consent.Details{
		ConsentDate:       b.consentDate,
		ExpiryDate:        b.expiryDate,
		DataCategories:    b.categories,
		ThirdParties:      b.parties,
		RetentionPolicyID: b.policyID,
	}, b.createdBy)
	require.NoError(b.t, err)

	now := time.Now().UTC()
	switch b.status {
	case consent.StatusPending:
	case consent.StatusActive:
		require.NoError(b.t, c.Activate())
	case consent.StatusRevoked:
		require.NoError(b.t, c.Activate())
		require.NoError(b.t, c.Revoke(now))
	case consent.StatusArchived:
		require.NoError(b.t, c.Activate())
		require.NoError(b.t, c.Archive(now))
	case consent.StatusExpired:
		require.NoError(b.t, c.Activate())
		past := now.Add(-time.Minute)
		c.ExpiryDate = &past
		require.NoError(b.t, c.Expire(now))
	}
	return c
}

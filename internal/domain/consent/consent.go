package consent

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/compliance-engine/internal/domain/errors"
)

// Consent is one immutable version of a patient's consent terms. Renewal
// creates a new version rather than mutating the old one; at most one ACTIVE
// version exists per (patient, consent type) at any time.
type Consent struct {
	ID          uuid.UUID
	PatientID   uuid.UUID
	Type        Type
	Version     int
	Status      Status
	ConsentDate time.Time
	ExpiryDate  *time.Time
	RevokedDate *time.Time

	DataCategories    []string
	ThirdParties      []string
	RetentionPolicyID string

	CreatedBy uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time

	// Disposal markers set by the retention sweep. A disposed record never
	// re-enters the sweep's candidate set.
	DisposedAt     *time.Time
	DisposalAction string
}

// Status is the lifecycle state of one consent version.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusActive   Status = "ACTIVE"
	StatusExpired  Status = "EXPIRED"
	StatusRevoked  Status = "REVOKED"
	StatusArchived Status = "ARCHIVED"
)

func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether no transition out of the status exists.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusExpired, StatusRevoked, StatusArchived:
		return true
	case StatusPending, StatusActive:
		return false
	}
	return false
}

// ParseStatus parses a string into a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusActive, StatusExpired, StatusRevoked, StatusArchived:
		return Status(s), nil
	default:
		return "", errors.NewValidationError("INVALID_STATUS", fmt.Sprintf("invalid consent status: %s", s))
	}
}

// Type identifies what the patient consented to.
type Type string

const (
	TypeGeneralTreatment     Type = "GENERAL_TREATMENT"
	TypeDataSharing          Type = "DATA_SHARING"
	TypeResearch             Type = "RESEARCH"
	TypeMarketing            Type = "MARKETING"
	TypeThirdPartyDisclosure Type = "THIRD_PARTY_DISCLOSURE"
)

func (t Type) String() string {
	return string(t)
}

// ParseType parses a string into a consent Type.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeGeneralTreatment, TypeDataSharing, TypeResearch, TypeMarketing, TypeThirdPartyDisclosure:
		return Type(s), nil
	default:
		return "", errors.NewValidationError("INVALID_TYPE", fmt.Sprintf("invalid consent type: %s", s))
	}
}

// Details carries the caller-supplied attributes of a new consent version.
type Details struct {
	ConsentDate       time.Time
	ExpiryDate        *time.Time
	DataCategories    []string
	ThirdParties      []string
	RetentionPolicyID string
}

// NewConsent creates version 1 of a consent in PENDING status with validation.
func NewConsent(patientID uuid.UUID, consentType Type, details Details, createdBy uuid.UUID) (*Consent, error) {
	if patientID == uuid.Nil {
		return nil, errors.NewValidationError("INVALID_PATIENT", "patient ID is required")
	}
	if _, err := ParseType(string(consentType)); err != nil {
		return nil, err
	}
	if createdBy == uuid.Nil {
		return nil, errors.NewValidationError("INVALID_ACTOR", "creating actor ID is required")
	}
	if details.ConsentDate.IsZero() {
		return nil, errors.NewValidationError("MISSING_CONSENT_DATE", "consent date is required")
	}
	if details.ExpiryDate != nil && !details.ExpiryDate.After(details.ConsentDate) {
		return nil, errors.NewValidationError("INVALID_EXPIRY",
			"expiry date must be strictly after consent date")
	}

	now := time.Now().UTC()
	return &Consent{
		ID:                uuid.New(),
		PatientID:         patientID,
		Type:              consentType,
		Version:           1,
		Status:            StatusPending,
		ConsentDate:       details.ConsentDate,
		ExpiryDate:        details.ExpiryDate,
		DataCategories:    append([]string(nil), details.DataCategories...),
		ThirdParties:      append([]string(nil), details.ThirdParties...),
		RetentionPolicyID: details.RetentionPolicyID,
		CreatedBy:         createdBy,
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// Activate moves a PENDING consent to ACTIVE. Signature capture itself is an
// external concern; the engine only records the transition.
func (c *Consent) Activate() error {
	if c.Status != StatusPending {
		return errors.NewConflictError(
			fmt.Sprintf("consent %s is %s, only PENDING consent can be activated", c.ID, c.Status))
	}
	c.Status = StatusActive
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// Revoke marks the consent REVOKED. REVOKED is irreversible.
func (c *Consent) Revoke(now time.Time) error {
	switch c.Status {
	case StatusRevoked:
		return errors.NewConflictError(fmt.Sprintf("consent %s is already revoked", c.ID))
	case StatusArchived:
		return errors.NewConflictError(fmt.Sprintf("consent %s is archived and cannot be revoked", c.ID))
	case StatusExpired:
		return errors.NewConflictError(fmt.Sprintf("consent %s has expired and cannot be revoked", c.ID))
	case StatusPending, StatusActive:
	}

	ts := now.UTC()
	c.Status = StatusRevoked
	c.RevokedDate = &ts
	c.UpdatedAt = ts
	return nil
}

// Archive marks the consent superseded by a renewal.
func (c *Consent) Archive(now time.Time) error {
	if c.Status != StatusActive {
		return errors.NewConflictError(
			fmt.Sprintf("consent %s is %s, only ACTIVE consent can be archived", c.ID, c.Status))
	}
	c.Status = StatusArchived
	c.UpdatedAt = now.UTC()
	return nil
}

// Expire marks an ACTIVE consent whose expiry date has passed as EXPIRED.
func (c *Consent) Expire(now time.Time) error {
	if c.Status != StatusActive {
		return errors.NewConflictError(
			fmt.Sprintf("consent %s is %s, only ACTIVE consent can expire", c.ID, c.Status))
	}
	if c.ExpiryDate == nil || now.Before(*c.ExpiryDate) {
		return errors.NewValidationError("NOT_DUE", "consent expiry date has not passed")
	}
	c.Status = StatusExpired
	c.UpdatedAt = now.UTC()
	return nil
}

// NextVersion builds the ACTIVE successor version created by a renewal.
// The receiver is left untouched; archiving it is the caller's step in the
// same transaction.
func (c *Consent) NextVersion(newExpiry time.Time, now time.Time, actorID uuid.UUID) (*Consent, error) {
	if c.Status != StatusActive {
		return nil, errors.NewConflictError(
			fmt.Sprintf("consent %s is %s, only ACTIVE consent can be renewed", c.ID, c.Status))
	}
	if !newExpiry.After(now) {
		return nil, errors.NewValidationError("INVALID_EXPIRY", "new expiry date must be in the future")
	}

	ts := now.UTC()
	expiry := newExpiry.UTC()
	return &Consent{
		ID:                uuid.New(),
		PatientID:         c.PatientID,
		Type:              c.Type,
		Version:           c.Version + 1,
		Status:            StatusActive,
		ConsentDate:       ts,
		ExpiryDate:        &expiry,
		DataCategories:    append([]string(nil), c.DataCategories...),
		ThirdParties:      append([]string(nil), c.ThirdParties...),
		RetentionPolicyID: c.RetentionPolicyID,
		CreatedBy:         actorID,
		CreatedAt:         ts,
		UpdatedAt:         ts,
	}, nil
}

// IsActive reports whether the consent is ACTIVE and unexpired at now.
func (c *Consent) IsActive(now time.Time) bool {
	if c.Status != StatusActive {
		return false
	}
	if c.ExpiryDate != nil && !now.Before(*c.ExpiryDate) {
		return false
	}
	return true
}

// CoversCategory reports whether a data category is within the consent scope.
func (c *Consent) CoversCategory(category string) bool {
	for _, dc := range c.DataCategories {
		if dc == category {
			return true
		}
	}
	return false
}

// StateSnapshot is the JSON-serializable fingerprint of consent state used as
// an audit entry's prior-state hash input.
type StateSnapshot struct {
	ID        uuid.UUID `json:"id"`
	Version   int       `json:"version"`
	Status    Status    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot captures the current state for audit fingerprinting.
func (c *Consent) Snapshot() StateSnapshot {
	return StateSnapshot{
		ID:        c.ID,
		Version:   c.Version,
		Status:    c.Status,
		UpdatedAt: c.UpdatedAt,
	}
}

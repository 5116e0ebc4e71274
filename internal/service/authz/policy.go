// Package authz provides capability checks for engine operations, decoupled
// from any transport so CLI, API, and batch callers share one policy.
package authz

import (
	"github.com/google/uuid"

	"github.com/carebridge/compliance-engine/internal/domain/consent"
	"github.com/carebridge/compliance-engine/internal/domain/dsr"
)

// Actor is the caller on whose behalf an operation runs.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// Role is a closed set of engine roles.
type Role string

const (
	RolePatient           Role = "patient"
	RoleComplianceOfficer Role = "compliance_officer"
	RoleSystem            Role = "system"
)

// Policy answers capability questions for engine operations.
type Policy interface {
	CanRevokeConsent(actor Actor, c *consent.Consent) bool
	CanRenewConsent(actor Actor, c *consent.Consent) bool
	CanProcessRequest(actor Actor, r *dsr.Request) bool
	CanManageLegalHolds(actor Actor) bool
}

// RolePolicy is the default role-based policy: patients act on their own
// records, compliance officers and the system act on any.
type RolePolicy struct{}

// NewRolePolicy returns the default policy.
func NewRolePolicy() *RolePolicy {
	return &RolePolicy{}
}

func (p *RolePolicy) CanRevokeConsent(actor Actor, c *consent.Consent) bool {
	switch actor.Role {
	case RoleComplianceOfficer, RoleSystem:
		return true
	case RolePatient:
		return actor.ID == c.PatientID
	}
	return false
}

func (p *RolePolicy) CanRenewConsent(actor Actor, c *consent.Consent) bool {
	switch actor.Role {
	case RoleComplianceOfficer, RoleSystem:
		return true
	case RolePatient:
		return actor.ID == c.PatientID
	}
	return false
}

func (p *RolePolicy) CanProcessRequest(actor Actor, r *dsr.Request) bool {
	switch actor.Role {
	case RoleComplianceOfficer, RoleSystem:
		return true
	case RolePatient:
		return false
	}
	return false
}

// Legal holds are a litigation instrument; patients never place or lift them.
func (p *RolePolicy) CanManageLegalHolds(actor Actor) bool {
	switch actor.Role {
	case RoleComplianceOfficer, RoleSystem:
		return true
	}
	return false
}

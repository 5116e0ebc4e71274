package dsr

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/compliance-engine/internal/domain/errors"
)

// Request is a data-subject rights request (GDPR Art. 15-21). Multiple
// requests of the same type are allowed per patient over time.
type Request struct {
	ID          uuid.UUID
	PatientID   uuid.UUID
	Type        Type
	Status      Status
	Scope       []string
	Description string

	ReceivedAt  time.Time
	DueAt       time.Time
	CompletedAt *time.Time
	AssignedTo  *uuid.UUID

	ResponsePayload map[string]interface{}
	RejectionReason string

	// Revision guards optimistic concurrency at the store layer. It is a
	// persistence detail, unrelated to consent versioning.
	Revision int

	CreatedAt time.Time
	UpdatedAt time.Time

	// Disposal markers set by the retention sweep.
	DisposedAt     *time.Time
	DisposalAction string
}

// Type enumerates the recognized request types.
type Type string

const (
	TypeAccess            Type = "ACCESS"
	TypeRectification     Type = "RECTIFICATION"
	TypeErasure           Type = "ERASURE"
	TypeRestriction       Type = "RESTRICTION"
	TypePortability       Type = "PORTABILITY"
	TypeObjection         Type = "OBJECTION"
	TypeAutomatedDecision Type = "AUTOMATED_DECISION"
)

func (t Type) String() string {
	return string(t)
}

// ParseType parses a string into a request Type.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case TypeAccess, TypeRectification, TypeErasure, TypeRestriction,
		TypePortability, TypeObjection, TypeAutomatedDecision:
		return Type(s), nil
	default:
		return "", errors.NewValidationError("INVALID_REQUEST_TYPE",
			fmt.Sprintf("invalid request type: %s", s))
	}
}

// Status is the request lifecycle state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusRejected   Status = "REJECTED"
	StatusEscalated  Status = "ESCALATED"
)

func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether the engine performs no further transitions.
// ESCALATED is a dead end requiring manual external resolution.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusRejected, StatusEscalated:
		return true
	case StatusPending, StatusInProgress:
		return false
	}
	return false
}

// ParseStatus parses a string into a Status.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPending, StatusInProgress, StatusCompleted, StatusRejected, StatusEscalated:
		return Status(s), nil
	default:
		return "", errors.NewValidationError("INVALID_STATUS",
			fmt.Sprintf("invalid request status: %s", s))
	}
}

// NewRequest creates a PENDING request. The SLA deadline is computed once
// here and never mutated afterwards.
func NewRequest(patientID uuid.UUID, requestType Type, scope []string, description string, receivedAt time.Time, sla time.Duration) (*Request, error) {
	if patientID == uuid.Nil {
		return nil, errors.NewValidationError("INVALID_PATIENT", "patient ID is required")
	}
	if _, err := ParseType(string(requestType)); err != nil {
		return nil, err
	}
	if sla <= 0 {
		return nil, errors.NewValidationError("INVALID_SLA", "SLA duration must be positive")
	}

	received := receivedAt.UTC()
	return &Request{
		ID:          uuid.New(),
		PatientID:   patientID,
		Type:        requestType,
		Status:      StatusPending,
		Scope:       append([]string(nil), scope...),
		Description: description,
		ReceivedAt:  received,
		DueAt:       received.Add(sla),
		Revision:    1,
		CreatedAt:   received,
		UpdatedAt:   received,
	}, nil
}

// Start moves PENDING to IN_PROGRESS. Re-entry on an already IN_PROGRESS
// request is a no-op so that retried processing is idempotent.
func (r *Request) Start(actorID uuid.UUID, now time.Time) error {
	switch r.Status {
	case StatusInProgress:
		return nil
	case StatusPending:
		r.Status = StatusInProgress
		if actorID != uuid.Nil {
			r.AssignedTo = &actorID
		}
		r.UpdatedAt = now.UTC()
		return nil
	case StatusCompleted, StatusRejected, StatusEscalated:
		return errors.NewConflictError(
			fmt.Sprintf("request %s is %s and cannot be reprocessed", r.ID, r.Status))
	}
	return errors.NewInternalError(fmt.Sprintf("unknown request status %q", r.Status))
}

// Complete marks the request COMPLETED with its response payload.
func (r *Request) Complete(payload map[string]interface{}, now time.Time) error {
	if r.Status != StatusInProgress {
		return errors.NewConflictError(
			fmt.Sprintf("request %s is %s, only IN_PROGRESS requests can complete", r.ID, r.Status))
	}
	ts := now.UTC()
	r.Status = StatusCompleted
	r.CompletedAt = &ts
	r.ResponsePayload = payload
	r.UpdatedAt = ts
	return nil
}

// Reject marks the request REJECTED with a mandatory reason.
func (r *Request) Reject(reason string, now time.Time) error {
	if reason == "" {
		return errors.NewValidationError("MISSING_REASON", "rejection reason is required")
	}
	if r.Status != StatusInProgress {
		return errors.NewConflictError(
			fmt.Sprintf("request %s is %s, only IN_PROGRESS requests can be rejected", r.ID, r.Status))
	}
	r.Status = StatusRejected
	r.RejectionReason = reason
	r.UpdatedAt = now.UTC()
	return nil
}

// Escalate hands the request off for manual external resolution.
func (r *Request) Escalate(now time.Time) error {
	if r.Status != StatusInProgress {
		return errors.NewConflictError(
			fmt.Sprintf("request %s is %s, only IN_PROGRESS requests can be escalated", r.ID, r.Status))
	}
	r.Status = StatusEscalated
	r.UpdatedAt = now.UTC()
	return nil
}

// IsOverdue reports whether the SLA deadline has passed while the request is
// still open.
func (r *Request) IsOverdue(now time.Time) bool {
	if r.Status != StatusPending && r.Status != StatusInProgress {
		return false
	}
	return now.After(r.DueAt)
}

// StateSnapshot is the JSON-serializable fingerprint of request state used as
// an audit entry's prior-state hash input.
type StateSnapshot struct {
	ID        uuid.UUID `json:"id"`
	Status    Status    `json:"status"`
	Revision  int       `json:"revision"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot captures the current state for audit fingerprinting.
func (r *Request) Snapshot() StateSnapshot {
	return StateSnapshot{
		ID:        r.ID,
		Status:    r.Status,
		Revision:  r.Revision,
		UpdatedAt: r.UpdatedAt,
	}
}

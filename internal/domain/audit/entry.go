package audit

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/compliance-engine/internal/domain/errors"
)

// Stream identifies the append-only audit table an entry belongs to.
type Stream string

const (
	StreamConsent Stream = "consent_audit"
	StreamRequest Stream = "request_audit"
)

func (s Stream) String() string {
	return string(s)
}

// ParseStream parses a string into a Stream.
func ParseStream(s string) (Stream, error) {
	switch Stream(s) {
	case StreamConsent:
		return StreamConsent, nil
	case StreamRequest:
		return StreamRequest, nil
	default:
		return "", errors.NewValidationError("INVALID_STREAM", fmt.Sprintf("invalid audit stream: %s", s))
	}
}

// Action names the business transition an entry records.
type Action string

const (
	// Consent stream actions.
	ActionConsentCreated   Action = "CREATED"
	ActionConsentActivated Action = "ACTIVATED"
	ActionConsentRenewed   Action = "RENEWED"
	ActionConsentRevoked   Action = "REVOKED"
	ActionConsentExpired   Action = "EXPIRED"

	// Request stream actions.
	ActionRequestReceived  Action = "RECEIVED"
	ActionRequestCompleted Action = "COMPLETED"
	ActionRequestRejected  Action = "REJECTED"
	ActionRequestEscalated Action = "ESCALATED"

	// Retention stream actions (recorded against the owning entity's stream).
	ActionRecordDeleted    Action = "DELETED"
	ActionRecordAnonymized Action = "ANONYMIZED"
	ActionDisposalFailed   Action = "DISPOSAL_FAILED"
)

func (a Action) String() string {
	return string(a)
}

// Entry is an immutable audit record. Once sealed it carries its position in
// the per-stream hash chain and must never be modified; no update or delete
// API exists anywhere in the engine.
type Entry struct {
	ID          uuid.UUID              `json:"id"`
	Stream      Stream                 `json:"stream"`
	SequenceNum int64                  `json:"sequence_num"`
	TargetID    uuid.UUID              `json:"target_id"`
	PatientID   uuid.UUID              `json:"patient_id"`
	Action      Action                 `json:"action"`
	ActorID     uuid.UUID              `json:"actor_id"`
	Timestamp   time.Time              `json:"timestamp"`

	// PriorStateHash fingerprints the aggregate state the action was applied
	// to, so replays of a transition are distinguishable from the original.
	PriorStateHash string                 `json:"prior_state_hash,omitempty"`
	Details        map[string]interface{} `json:"details,omitempty"`

	PreviousHash string `json:"previous_hash"`
	EntryHash    string `json:"entry_hash"`

	sealed bool
}

// NewEntry creates an unsealed audit entry with validation.
func NewEntry(stream Stream, targetID, patientID, actorID uuid.UUID, action Action) (*Entry, error) {
	if _, err := ParseStream(string(stream)); err != nil {
		return nil, err
	}
	if targetID == uuid.Nil {
		return nil, errors.NewValidationError("MISSING_TARGET_ID", "target ID is required")
	}
	if patientID == uuid.Nil {
		return nil, errors.NewValidationError("MISSING_PATIENT_ID", "patient ID is required")
	}
	if actorID == uuid.Nil {
		return nil, errors.NewValidationError("MISSING_ACTOR_ID", "actor ID is required")
	}
	if action == "" {
		return nil, errors.NewValidationError("MISSING_ACTION", "action is required")
	}

	return &Entry{
		ID:        uuid.New(),
		Stream:    stream,
		TargetID:  targetID,
		PatientID: patientID,
		Action:    action,
		ActorID:   actorID,
		Timestamp: time.Now().UTC(),
		Details:   make(map[string]interface{}),
	}, nil
}

// WithPriorState records a fingerprint of the aggregate state the transition
// was applied to. The argument is any JSON-serializable snapshot.
func (e *Entry) WithPriorState(state interface{}) *Entry {
	if e.sealed {
		return e
	}
	b, err := json.Marshal(state)
	if err != nil {
		return e
	}
	sum := sha256.Sum256(b)
	e.PriorStateHash = fmt.Sprintf("%x", sum)
	return e
}

// WithDetail attaches a detail field to an unsealed entry.
func (e *Entry) WithDetail(key string, value interface{}) *Entry {
	if e.sealed {
		return e
	}
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Seal assigns the entry its chain position and computes its hash. After
// sealing the entry is immutable.
func (e *Entry) Seal(sequenceNum int64, previousHash string) error {
	if e.sealed {
		return errors.NewConflictError("audit entry is already sealed")
	}
	if sequenceNum <= 0 {
		return errors.NewValidationError("INVALID_SEQUENCE", "sequence number must be positive")
	}

	e.SequenceNum = sequenceNum
	e.PreviousHash = previousHash

	hash, err := e.computeHash()
	if err != nil {
		return err
	}
	e.EntryHash = hash
	e.sealed = true
	return nil
}

// IsSealed reports whether the entry has been made immutable.
func (e *Entry) IsSealed() bool {
	return e.sealed
}

// VerifyHash recomputes the entry hash and reports whether it matches the
// stored one. Used by chain verification; does not mutate the entry.
func (e *Entry) VerifyHash() (bool, error) {
	hash, err := e.computeHash()
	if err != nil {
		return false, err
	}
	return hash == e.EntryHash, nil
}

func (e *Entry) computeHash() (string, error) {
	// Deterministic representation over the immutable chain-relevant fields.
	hashData := map[string]interface{}{
		"id":               e.ID.String(),
		"stream":           string(e.Stream),
		"sequence_num":     e.SequenceNum,
		"target_id":        e.TargetID.String(),
		"patient_id":       e.PatientID.String(),
		"action":           string(e.Action),
		"actor_id":         e.ActorID.String(),
		"timestamp_nano":   e.Timestamp.UnixNano(),
		"prior_state_hash": e.PriorStateHash,
		"previous_hash":    e.PreviousHash,
	}

	b, err := json.Marshal(hashData)
	if err != nil {
		return "", errors.NewInternalError("failed to marshal entry hash data").WithCause(err)
	}
	sum := sha256.Sum256(b)
	return fmt.Sprintf("%x", sum), nil
}

// Validate performs structural validation of a sealed entry.
func (e *Entry) Validate() error {
	if _, err := ParseStream(string(e.Stream)); err != nil {
		return err
	}
	if e.TargetID == uuid.Nil {
		return errors.NewValidationError("MISSING_TARGET_ID", "target ID is required")
	}
	if e.ActorID == uuid.Nil {
		return errors.NewValidationError("MISSING_ACTOR_ID", "actor ID is required")
	}
	if e.Action == "" {
		return errors.NewValidationError("MISSING_ACTION", "action is required")
	}
	if e.sealed && e.EntryHash == "" {
		return errors.NewValidationError("MISSING_HASH", "sealed entry must carry its hash")
	}
	return nil
}

package fixtures

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/compliance-engine/internal/domain/dsr"
)

// RequestBuilder builds test data subject Request entities
type RequestBuilder struct {
	t           *testing.T
	patientID   uuid.UUID
	requestType dsr.Type
	scope       []string
	description string
	receivedAt  time.Time
	sla         time.Duration
	status      dsr.Status
}

// NewRequestBuilder creates a RequestBuilder with defaults
func NewRequestBuilder(t *testing.T) *RequestBuilder {
	t.Helper()
	return &RequestBuilder{
		t:           t,
		patientID:   uuid.New(),
		requestType: dsr.TypeAccess,
		scope:       []string{"demographics"},
		receivedAt:  time.Now().UTC(),
		sla:         30 * 24 * time.Hour,
		status:      dsr.StatusPending,
	}
}

// WithPatient sets the patient ID
func (b *RequestBuilder) WithPatient(id uuid.UUID) *RequestBuilder {
	b.patientID = id
	return b
}

// WithType sets the request type
func (b *RequestBuilder) WithType(t dsr.Type) *RequestBuilder {
	b.requestType = t
	return b
}

// WithScope sets the data categories in scope
func (b *RequestBuilder) WithScope(scope ...string) *RequestBuilder {
	b.scope = scope
	return b
}

// WithReceivedAt sets the intake timestamp
func (b *RequestBuilder) WithReceivedAt(at time.Time) *RequestBuilder {
	b.receivedAt = at
	return b
}

// WithSLA sets the SLA window used to compute the deadline
func (b *RequestBuilder) WithSLA(sla time.Duration) *RequestBuilder {
	b.sla = sla
	return b
}

// WithStatus sets the final status the built request should land in
func (b *RequestBuilder) WithStatus(status dsr.Status) *RequestBuilder {
	b.status = status
	return b
}

// Build constructs the request, walking it to the requested status.
func (b *RequestBuilder) Build() *dsr.Request {
	b.t.Helper()
	r, err := dsr.NewRequest(b.patientID, b.requestType, b.scope, b.description, b.receivedAt, b.sla)
	require.NoError(b.t, err)

	now := time.Now().UTC()
	actor := uuid.New()
	switch b.status {
	case dsr.StatusPending:
	case dsr.StatusInProgress:
		require.NoError(b.t, r.Start(actor, now))
	case dsr.StatusCompleted:
		require.NoError(b.t, r.Start(actor, now))
		require.NoError(b.t, r.Complete(map[string]interface{}{"records": 1}, now))
	case dsr.StatusRejected:
		require.NoError(b.t, r.Start(actor, now))
		require.NoError(b.t, r.Reject("test rejection", now))
	case dsr.StatusEscalated:
		require.NoError(b.t, r.Start(actor, now))
		require.NoError(b.t, r.Escalate(now))
	}
	return r
}

package audit

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/compliance-engine/internal/domain/errors"
)

func newTestEntry(t *testing.T, action Action) *Entry {
	t.Helper()
	e, err := NewEntry(StreamConsent, uuid.New(), uuid.New(), uuid.New(), action)
	require.NoError(t, err)
	return e
}

func TestNewEntry(t *testing.T) {
	tests := []struct {
		name      string
		stream    Stream
		targetID  uuid.UUID
		patientID uuid.UUID
		actorID   uuid.UUID
		action    Action
		wantErr   bool
	}{
		{
			name:      "valid consent entry",
			stream:    StreamConsent,
			targetID:  uuid.New(),
			patientID: uuid.New(),
			actorID:   uuid.New(),
			action:    ActionConsentCreated,
		},
		{
			name:      "valid request entry",
			stream:    StreamRequest,
			targetID:  uuid.New(),
			patientID: uuid.New(),
			actorID:   uuid.New(),
			action:    ActionRequestReceived,
		},
		{
			name:      "unknown stream",
			stream:    Stream("billing_audit"),
			targetID:  uuid.New(),
			patientID: uuid.New(),
			actorID:   uuid.New(),
			action:    ActionConsentCreated,
			wantErr:   true,
		},
		{
			name:      "missing target",
			stream:    StreamConsent,
			patientID: uuid.New(),
			actorID:   uuid.New(),
			action:    ActionConsentCreated,
			wantErr:   true,
		},
		{
			name:     "missing actor",
			stream:   StreamConsent,
			targetID: uuid.New(), patientID: uuid.New(),
			action:  ActionConsentCreated,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewEntry(tt.stream, tt.targetID, tt.patientID, tt.actorID, tt.action)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.NotEqual(t, uuid.Nil, e.ID)
			assert.NotZero(t, e.Timestamp)
			assert.False(t, e.IsSealed())
		})
	}
}

func TestEntrySeal(t *testing.T) {
	t.Run("sealing computes the entry hash", func(t *testing.T) {
		e := newTestEntry(t, ActionConsentCreated)
		require.NoError(t, e.Seal(1, ""))
		assert.True(t, e.IsSealed())
		assert.NotEmpty(t, e.EntryHash)
		assert.Equal(t, int64(1), e.SequenceNum)

		ok, err := e.VerifyHash()
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("sealing twice conflicts", func(t *testing.T) {
		e := newTestEntry(t, ActionConsentCreated)
		require.NoError(t, e.Seal(1, ""))
		err := e.Seal(2, e.EntryHash)
		require.Error(t, err)
		assert.True(t, errors.IsConflict(err))
	})

	t.Run("rejects non-positive sequence numbers", func(t *testing.T) {
		e := newTestEntry(t, ActionConsentCreated)
		err := e.Seal(0, "")
		require.Error(t, err)
		assert.True(t, errors.IsValidation(err))
	})

	t.Run("sealed entries ignore detail and prior-state mutation", func(t *testing.T) {
		e := newTestEntry(t, ActionConsentRevoked)
		e.WithDetail("reason", "patient request")
		require.NoError(t, e.Seal(1, ""))

		e.WithDetail("reason", "tampered")
		e.WithPriorState(map[string]string{"status": "tampered"})

		assert.Equal(t, "patient request", e.Details["reason"])
		assert.Empty(t, e.PriorStateHash)

		ok, err := e.VerifyHash()
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("field tampering is detectable after sealing", func(t *testing.T) {
		e := newTestEntry(t, ActionConsentRevoked)
		require.NoError(t, e.Seal(1, ""))

		e.Action = ActionConsentCreated

		ok, err := e.VerifyHash()
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestEntryWithPriorState(t *testing.T) {
	e := newTestEntry(t, ActionConsentRevoked)
	e.WithPriorState(map[string]interface{}{"status": "ACTIVE", "version": 2})
	assert.Len(t, e.PriorStateHash, 64, "sha-256 hex digest")

	other := newTestEntry(t, ActionConsentRevoked)
	other.WithPriorState(map[string]interface{}{"status": "ACTIVE", "version": 3})
	assert.NotEqual(t, e.PriorStateHash, other.PriorStateHash)
}

package dsr_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/compliance-engine/internal/domain/dsr"
	"github.com/carebridge/compliance-engine/internal/domain/errors"
)

const testSLA = 30 * 24 * time.Hour

func TestNewRequest(t *testing.T) {
	received := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	t.Run("computes the due date once from receipt", func(t *testing.T) {
		r, err := dsr.NewRequest(uuid.New(), dsr.TypeAccess, []string{"demographics"}, "", received, testSLA)
		require.NoError(t, err)
		assert.Equal(t, dsr.StatusPending, r.Status)
		assert.Equal(t, received, r.ReceivedAt)
		assert.Equal(t, received.Add(testSLA), r.DueAt)
		assert.Equal(t, 1, r.Revision)
	})

	t.Run("rejects missing patient", func(t *testing.T) {
		_, err := dsr.NewRequest(uuid.Nil, dsr.TypeAccess, nil, "", received, testSLA)
		require.Error(t, err)
		assert.True(t, errors.IsValidation(err))
	})

	t.Run("rejects unknown type", func(t *testing.T) {
		_, err := dsr.NewRequest(uuid.New(), dsr.Type("PURGE"), nil, "", received, testSLA)
		require.Error(t, err)
		assert.True(t, errors.IsValidation(err))
	})
}

func TestRequestDueDateImmutable(t *testing.T) {
	received := time.Now().UTC()
	r, err := dsr.NewRequest(uuid.New(), dsr.TypeErasure, []string{"clinical_notes"}, "", received, testSLA)
	require.NoError(t, err)
	dueAt := r.DueAt

	now := received.Add(time.Hour)
	require.NoError(t, r.Start(uuid.New(), now))
	assert.Equal(t, dueAt, r.DueAt)

	require.NoError(t, r.Complete(map[string]interface{}{"erased": 1}, now.Add(time.Hour)))
	assert.Equal(t, dueAt, r.DueAt, "due date never moves after intake")
}

func TestRequestTransitions(t *testing.T) {
	now := time.Now().UTC()
	actor := uuid.New()

	newRequest := func(t *testing.T) *dsr.Request {
		r, err := dsr.NewRequest(uuid.New(), dsr.TypeAccess, []string{"demographics"}, "", now, testSLA)
		require.NoError(t, err)
		return r
	}

	t.Run("start is idempotent on in-progress", func(t *testing.T) {
		r := newRequest(t)
		require.NoError(t, r.Start(actor, now))
		assert.Equal(t, dsr.StatusInProgress, r.Status)
		require.NoError(t, r.Start(actor, now))
		assert.Equal(t, dsr.StatusInProgress, r.Status)
	})

	t.Run("start conflicts on terminal status", func(t *testing.T) {
		r := newRequest(t)
		require.NoError(t, r.Start(actor, now))
		require.NoError(t, r.Complete(nil, now))
		err := r.Start(actor, now)
		require.Error(t, err)
		assert.True(t, errors.IsConflict(err))
	})

	t.Run("complete sets completion timestamp", func(t *testing.T) {
		r := newRequest(t)
		require.NoError(t, r.Start(actor, now))
		require.NoError(t, r.Complete(map[string]interface{}{"records": 3}, now))
		assert.Equal(t, dsr.StatusCompleted, r.Status)
		require.NotNil(t, r.CompletedAt)
		assert.Equal(t, now, *r.CompletedAt)
	})

	t.Run("reject requires a reason", func(t *testing.T) {
		r := newRequest(t)
		require.NoError(t, r.Start(actor, now))
		err := r.Reject("", now)
		require.Error(t, err)
		assert.True(t, errors.IsValidation(err))
		require.NoError(t, r.Reject("all categories subject to legal hold", now))
		assert.Equal(t, dsr.StatusRejected, r.Status)
	})

	t.Run("terminal statuses accept no further transitions", func(t *testing.T) {
		r := newRequest(t)
		require.NoError(t, r.Start(actor, now))
		require.NoError(t, r.Escalate(now))
		for _, attempt := range []error{
			r.Complete(nil, now),
			r.Reject("late", now),
			r.Escalate(now),
		} {
			require.Error(t, attempt)
			assert.True(t, errors.IsConflict(attempt))
		}
	})
}

func TestRequestIsOverdue(t *testing.T) {
	received := time.Now().UTC()
	r, err := dsr.NewRequest(uuid.New(), dsr.TypePortability, []string{"demographics"}, "", received, testSLA)
	require.NoError(t, err)

	assert.False(t, r.IsOverdue(received.Add(testSLA-time.Minute)))
	assert.True(t, r.IsOverdue(received.Add(testSLA+time.Minute)))

	require.NoError(t, r.Start(uuid.New(), received))
	require.NoError(t, r.Complete(nil, received.Add(time.Hour)))
	assert.False(t, r.IsOverdue(received.Add(testSLA+time.Minute)), "terminal requests are never overdue")
}

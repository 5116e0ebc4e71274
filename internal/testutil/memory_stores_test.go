package testutil_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/compliance-engine/internal/domain/consent"
	"github.com/carebridge/compliance-engine/internal/domain/dsr"
	"github.com/carebridge/compliance-engine/internal/domain/errors"
	"github.com/carebridge/compliance-engine/internal/testutil"
	"github.com/carebridge/compliance-engine/internal/testutil/fixtures"
)

// The memory stores mirror the Postgres disposal contract: marking acts only
// on undisposed rows and reports not-found otherwise.
func TestMemoryMarkDisposedGuard(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()

	t.Run("consent marks once", func(t *testing.T) {
		store := testutil.NewMemoryConsentStore()
		c := fixtures.NewConsentBuilder(t).
			WithStatus(consent.StatusRevoked).
			Build()
		require.NoError(t, store.Create(ctx, c))

		require.NoError(t, store.MarkDisposed(ctx, c.ID, "DELETE", now))

		err := store.MarkDisposed(ctx, c.ID, "ANONYMIZE", now)
		require.Error(t, err)
		assert.True(t, errors.IsNotFound(err))

		stored, err := store.GetByID(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, "DELETE", stored.DisposalAction, "second mark does not overwrite the first")
	})

	t.Run("request marks once", func(t *testing.T) {
		store := testutil.NewMemoryRequestStore()
		r := fixtures.NewRequestBuilder(t).
			WithStatus(dsr.StatusCompleted).
			Build()
		require.NoError(t, store.Create(ctx, r))

		require.NoError(t, store.MarkDisposed(ctx, r.ID, "DELETE", now))

		err := store.MarkDisposed(ctx, r.ID, "DELETE", now)
		require.Error(t, err)
		assert.True(t, errors.IsNotFound(err))
	})

	t.Run("unknown ids are not found", func(t *testing.T) {
		err := testutil.NewMemoryConsentStore().MarkDisposed(ctx, uuid.New(), "DELETE", now)
		assert.True(t, errors.IsNotFound(err))

		err = testutil.NewMemoryRequestStore().MarkDisposed(ctx, uuid.New(), "DELETE", now)
		assert.True(t, errors.IsNotFound(err))
	})
}

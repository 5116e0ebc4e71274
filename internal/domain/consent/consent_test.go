package consent_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/compliance-engine/internal/domain/consent"
	"github.com/carebridge/compliance-engine/internal/domain/errors"
)

func validDetails(t *testing.T) consent.Details {
	t.Helper()
	expiry := time.Now().UTC().Add(365 * 24 * time.Hour)
	return consent.Details{
		ConsentDate:       time.Now().UTC().Add(-time.Hour),
		ExpiryDate:        &expiry,
		DataCategories:    []string{"demographics", "clinical_notes"},
		RetentionPolicyID: "clinical-7y",
	}
}

func TestNewConsent(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(d *consent.Details)
		wantErr  bool
		validate func(t *testing.T, c *consent.Consent)
	}{
		{
			name: "creates pending version 1",
			validate: func(t *testing.T, c *consent.Consent) {
				assert.NotEqual(t, uuid.Nil, c.ID)
				assert.Equal(t, consent.StatusPending, c.Status)
				assert.Equal(t, 1, c.Version)
				assert.NotZero(t, c.CreatedAt)
				assert.NotZero(t, c.UpdatedAt)
				assert.Nil(t, c.RevokedDate)
				assert.Nil(t, c.DisposedAt)
			},
		},
		{
			name: "accepts indefinite consent without expiry",
			mutate: func(d *consent.Details) {
				d.ExpiryDate = nil
			},
			validate: func(t *testing.T, c *consent.Consent) {
				assert.Nil(t, c.ExpiryDate)
			},
		},
		{
			name: "rejects expiry equal to consent date",
			mutate: func(d *consent.Details) {
				d.ExpiryDate = &d.ConsentDate
			},
			wantErr: true,
		},
		{
			name: "rejects expiry before consent date",
			mutate: func(d *consent.Details) {
				before := d.ConsentDate.Add(-time.Hour)
				d.ExpiryDate = &before
			},
			wantErr: true,
		},
		{
			name: "rejects zero consent date",
			mutate: func(d *consent.Details) {
				d.ConsentDate = time.Time{}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			details := validDetails(t)
			if tt.mutate != nil {
				tt.mutate(&details)
			}
			c, err := consent.NewConsent(uuid.New(), consent.TypeDataSharing, details, uuid.New())
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.IsValidation(err))
				return
			}
			require.NoError(t, err)
			tt.validate(t, c)
		})
	}
}

func TestConsentLifecycle(t *testing.T) {
	now := time.Now().UTC()

	t.Run("activate moves pending to active", func(t *testing.T) {
		c, err := consent.NewConsent(uuid.New(), consent.TypeResearch, validDetails(t), uuid.New())
		require.NoError(t, err)
		require.NoError(t, c.Activate())
		assert.Equal(t, consent.StatusActive, c.Status)
	})

	t.Run("activate fails from non-pending", func(t *testing.T) {
		c, err := consent.NewConsent(uuid.New(), consent.TypeResearch, validDetails(t), uuid.New())
		require.NoError(t, err)
		require.NoError(t, c.Activate())
		err = c.Activate()
		require.Error(t, err)
		assert.True(t, errors.IsConflict(err))
	})

	t.Run("revoke sets revoked date", func(t *testing.T) {
		c, err := consent.NewConsent(uuid.New(), consent.TypeMarketing, validDetails(t), uuid.New())
		require.NoError(t, err)
		require.NoError(t, c.Activate())
		require.NoError(t, c.Revoke(now))
		assert.Equal(t, consent.StatusRevoked, c.Status)
		require.NotNil(t, c.RevokedDate)
		assert.Equal(t, now, *c.RevokedDate)
	})

	t.Run("revoke of terminal consent conflicts", func(t *testing.T) {
		c, err := consent.NewConsent(uuid.New(), consent.TypeMarketing, validDetails(t), uuid.New())
		require.NoError(t, err)
		require.NoError(t, c.Activate())
		require.NoError(t, c.Revoke(now))
		err = c.Revoke(now)
		require.Error(t, err)
		assert.True(t, errors.IsConflict(err))
	})

	t.Run("expire requires a passed expiry date", func(t *testing.T) {
		c, err := consent.NewConsent(uuid.New(), consent.TypeGeneralTreatment, validDetails(t), uuid.New())
		require.NoError(t, err)
		require.NoError(t, c.Activate())

		err = c.Expire(now)
		require.Error(t, err)

		past := now.Add(-time.Minute)
		c.ExpiryDate = &past
		require.NoError(t, c.Expire(now))
		assert.Equal(t, consent.StatusExpired, c.Status)
	})
}

func TestConsentNextVersion(t *testing.T) {
	now := time.Now().UTC()
	actor := uuid.New()

	c, err := consent.NewConsent(uuid.New(), consent.TypeDataSharing, validDetails(t), uuid.New())
	require.NoError(t, err)
	require.NoError(t, c.Activate())

	newExpiry := now.Add(2 * 365 * 24 * time.Hour)
	next, err := c.NextVersion(newExpiry, now, actor)
	require.NoError(t, err)

	assert.NotEqual(t, c.ID, next.ID)
	assert.Equal(t, c.PatientID, next.PatientID)
	assert.Equal(t, c.Type, next.Type)
	assert.Equal(t, c.Version+1, next.Version)
	assert.Equal(t, consent.StatusActive, next.Status)
	assert.Equal(t, now, next.ConsentDate)
	require.NotNil(t, next.ExpiryDate)
	assert.Equal(t, newExpiry, *next.ExpiryDate)
	assert.Equal(t, c.DataCategories, next.DataCategories)

	t.Run("fails when current version is not active", func(t *testing.T) {
		require.NoError(t, c.Archive(now))
		_, err := c.NextVersion(newExpiry, now, actor)
		require.Error(t, err)
		assert.True(t, errors.IsConflict(err))
	})

	t.Run("rejects expiry not after renewal date", func(t *testing.T) {
		fresh, err := consent.NewConsent(uuid.New(), consent.TypeDataSharing, validDetails(t), uuid.New())
		require.NoError(t, err)
		require.NoError(t, fresh.Activate())
		_, err = fresh.NextVersion(now.Add(-time.Hour), now, actor)
		require.Error(t, err)
		assert.True(t, errors.IsValidation(err))
	})
}

func TestConsentIsActive(t *testing.T) {
	now := time.Now().UTC()

	c, err := consent.NewConsent(uuid.New(), consent.TypeGeneralTreatment, validDetails(t), uuid.New())
	require.NoError(t, err)

	assert.False(t, c.IsActive(now), "pending consent is not active")
	require.NoError(t, c.Activate())
	assert.True(t, c.IsActive(now))

	past := now.Add(-time.Minute)
	c.ExpiryDate = &past
	assert.False(t, c.IsActive(now), "passed expiry means not active regardless of status")
}

func TestConsentCoversCategory(t *testing.T) {
	c, err := consent.NewConsent(uuid.New(), consent.TypeDataSharing, validDetails(t), uuid.New())
	require.NoError(t, err)

	assert.True(t, c.CoversCategory("demographics"))
	assert.False(t, c.CoversCategory("genomic_data"))
}

func TestParseType(t *testing.T) {
	for _, s := range []string{"GENERAL_TREATMENT", "DATA_SHARING", "RESEARCH", "MARKETING", "THIRD_PARTY_DISCLOSURE"} {
		_, err := consent.ParseType(s)
		assert.NoError(t, err, s)
	}
	_, err := consent.ParseType("BIOMETRIC")
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

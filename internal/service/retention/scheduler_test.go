package retention_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	domainaudit "github.com/carebridge/compliance-engine/internal/domain/audit"
	domainconsent "github.com/carebridge/compliance-engine/internal/domain/consent"
	domaindsr "github.com/carebridge/compliance-engine/internal/domain/dsr"
	"github.com/carebridge/compliance-engine/internal/domain/errors"
	domainretention "github.com/carebridge/compliance-engine/internal/domain/retention"
	"github.com/carebridge/compliance-engine/internal/metrics"
	auditsvc "github.com/carebridge/compliance-engine/internal/service/audit"
	retentionsvc "github.com/carebridge/compliance-engine/internal/service/retention"
	"github.com/carebridge/compliance-engine/internal/testutil"
	"github.com/carebridge/compliance-engine/internal/testutil/fixtures"
)

type mockHoldChecker struct {
	mock.Mock
}

func (m *mockHoldChecker) HasHold(ctx context.Context, patientID uuid.UUID, dataCategory string) (bool, error) {
	args := m.Called(ctx, patientID, dataCategory)
	return args.Bool(0), args.Error(1)
}

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) Erase(ctx context.Context, patientID uuid.UUID, dataCategory string) error {
	args := m.Called(ctx, patientID, dataCategory)
	return args.Error(0)
}

func (m *mockGateway) Anonymize(ctx context.Context, patientID uuid.UUID, dataCategory string) error {
	args := m.Called(ctx, patientID, dataCategory)
	return args.Error(0)
}

// failingAuditStore wraps the memory audit store and rejects appends while
// tripped. Toggled between runs only.
type failingAuditStore struct {
	*testutil.MemoryAuditStore
	fail bool
}

func (s *failingAuditStore) Append(ctx context.Context, entry *domainaudit.Entry) error {
	if s.fail {
		return errors.NewStorageError("audit store unavailable")
	}
	return s.MemoryAuditStore.Append(ctx, entry)
}

// fakeLease is an in-process SweepLease.
type fakeLease struct {
	held bool
}

func (l *fakeLease) Acquire(ctx context.Context) (func(context.Context) error, bool, error) {
	if l.held {
		return nil, false, nil
	}
	l.held = true
	return func(context.Context) error {
		l.held = false
		return nil
	}, true, nil
}

type sweepEnv struct {
	scheduler   *retentionsvc.Scheduler
	consents    *testutil.MemoryConsentStore
	requests    *testutil.MemoryRequestStore
	auditStore  *testutil.MemoryAuditStore
	auditAppend *failingAuditStore
	holds       *mockHoldChecker
	gateway     *mockGateway
	lease       *fakeLease
}

func newSweepEnv(t *testing.T, policies []domainretention.Policy) *sweepEnv {
	t.Helper()
	logger := zaptest.NewLogger(t)
	env := &sweepEnv{
		consents:   testutil.NewMemoryConsentStore(),
		requests:   testutil.NewMemoryRequestStore(),
		auditStore: testutil.NewMemoryAuditStore(),
		holds:      &mockHoldChecker{},
		gateway:    &mockGateway{},
		lease:      &fakeLease{},
	}
	env.auditAppend = &failingAuditStore{MemoryAuditStore: env.auditStore}
	recorder := auditsvc.NewRecorder(env.auditAppend, logger, metrics.NewDefaultRegistry())

	cfg := retentionsvc.DefaultConfig()
	cfg.Workers = 2
	cfg.GatewayRPS = 100

	scheduler, err := retentionsvc.NewScheduler(
		logger, cfg, policies,
		env.consents, env.requests,
		env.holds, env.gateway, recorder,
		testutil.NewMemoryTxManager(), env.lease,
		metrics.NewDefaultRegistry(),
	)
	require.NoError(t, err)
	env.scheduler = scheduler
	return env
}

func clinicalPolicies() []domainretention.Policy {
	return []domainretention.Policy{
		{
			ID:              "clinical-7y",
			DataCategory:    "clinical_notes",
			RetentionPeriod: 7 * 365 * 24 * time.Hour,
			DisposalAction:  domainretention.DisposalAnonymize,
		},
		{
			ID:              "billing-10y",
			DataCategory:    "billing",
			RetentionPeriod: 10 * 365 * 24 * time.Hour,
			DisposalAction:  domainretention.DisposalDelete,
		},
		{
			ID:             "legal-forever",
			DataCategory:   "legal",
			DisposalAction: domainretention.DisposalRetainPermanent,
		},
	}
}

// seedExpiredConsent stores a revoked consent whose last modification is far
// past every policy cutoff.
func (env *sweepEnv) seedExpiredConsent(t *testing.T, categories ...string) *domainconsent.Consent {
	t.Helper()
	c := fixtures.NewConsentBuilder(t).
		WithCategories(categories...).
		WithStatus(domainconsent.StatusRevoked).
		Build()
	c.UpdatedAt = time.Now().UTC().Add(-11 * 365 * 24 * time.Hour)
	require.NoError(t, env.consents.Create(context.Background(), c))
	return c
}

func (env *sweepEnv) seedExpiredRequest(t *testing.T, categories ...string) *domaindsr.Request {
	t.Helper()
	r := fixtures.NewRequestBuilder(t).
		WithScope(categories...).
		WithStatus(domaindsr.StatusCompleted).
		Build()
	r.UpdatedAt = time.Now().UTC().Add(-11 * 365 * 24 * time.Hour)
	require.NoError(t, env.requests.Create(context.Background(), r))
	return r
}

func TestSweepDisposal(t *testing.T) {
	ctx := context.Background()

	t.Run("anonymizes and deletes per policy with one audit entry each", func(t *testing.T) {
		env := newSweepEnv(t, clinicalPolicies())
		clinical := env.seedExpiredConsent(t, "clinical_notes")
		billing := env.seedExpiredRequest(t, "billing")

		env.holds.On("HasHold", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)
		env.gateway.On("Anonymize", mock.Anything, clinical.PatientID, "clinical_notes").Return(nil).Once()
		env.gateway.On("Erase", mock.Anything, billing.PatientID, "billing").Return(nil).Once()

		result, err := env.scheduler.Run(ctx, false)
		require.NoError(t, err)
		assert.Equal(t, 2, result.RecordsProcessed)
		assert.Equal(t, 1, result.RecordsDeleted)
		assert.Equal(t, 1, result.RecordsAnonymized)
		assert.Empty(t, result.Errors)

		env.gateway.AssertExpectations(t)

		consentEntries, err := env.auditStore.ListByTarget(ctx, domainaudit.StreamConsent, clinical.ID)
		require.NoError(t, err)
		require.Len(t, consentEntries, 1)
		assert.Equal(t, domainaudit.ActionRecordAnonymized, consentEntries[0].Action)
		assert.Equal(t, "clinical-7y", consentEntries[0].Details["retention_policy"])

		requestEntries, err := env.auditStore.ListByTarget(ctx, domainaudit.StreamRequest, billing.ID)
		require.NoError(t, err)
		require.Len(t, requestEntries, 1)
		assert.Equal(t, domainaudit.ActionRecordDeleted, requestEntries[0].Action)

		stored, err := env.consents.GetByID(ctx, clinical.ID)
		require.NoError(t, err)
		require.NotNil(t, stored.DisposedAt)
		assert.Equal(t, "ANONYMIZE", stored.DisposalAction)
	})

	t.Run("second run disposes nothing", func(t *testing.T) {
		env := newSweepEnv(t, clinicalPolicies())
		clinical := env.seedExpiredConsent(t, "clinical_notes")

		env.holds.On("HasHold", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)
		env.gateway.On("Anonymize", mock.Anything, clinical.PatientID, "clinical_notes").Return(nil).Once()

		first, err := env.scheduler.Run(ctx, false)
		require.NoError(t, err)
		assert.Equal(t, 1, first.RecordsProcessed)

		second, err := env.scheduler.Run(ctx, false)
		require.NoError(t, err)
		assert.Zero(t, second.RecordsProcessed)
		env.gateway.AssertNumberOfCalls(t, "Anonymize", 1)
	})

	t.Run("records within the retention window stay", func(t *testing.T) {
		env := newSweepEnv(t, clinicalPolicies())
		recent := fixtures.NewConsentBuilder(t).
			WithCategories("clinical_notes").
			WithStatus(domainconsent.StatusRevoked).
			Build()
		require.NoError(t, env.consents.Create(ctx, recent))

		env.holds.On("HasHold", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)

		result, err := env.scheduler.Run(ctx, false)
		require.NoError(t, err)
		assert.Zero(t, result.RecordsProcessed)
	})
}

func TestSweepExclusions(t *testing.T) {
	ctx := context.Background()

	t.Run("legal hold excludes the record", func(t *testing.T) {
		env := newSweepEnv(t, clinicalPolicies())
		held := env.seedExpiredConsent(t, "clinical_notes")

		env.holds.On("HasHold", mock.Anything, held.PatientID, "clinical_notes").Return(true, nil)

		result, err := env.scheduler.Run(ctx, false)
		require.NoError(t, err)
		assert.Zero(t, result.RecordsProcessed)
		env.gateway.AssertNotCalled(t, "Anonymize", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("open request excludes the patient's records", func(t *testing.T) {
		env := newSweepEnv(t, clinicalPolicies())
		c := env.seedExpiredConsent(t, "clinical_notes")

		open := fixtures.NewRequestBuilder(t).
			WithPatient(c.PatientID).
			WithStatus(domaindsr.StatusPending).
			Build()
		require.NoError(t, env.requests.Create(ctx, open))

		env.holds.On("HasHold", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)

		result, err := env.scheduler.Run(ctx, false)
		require.NoError(t, err)
		assert.Zero(t, result.RecordsProcessed)
	})

	t.Run("retain-permanent categories are never swept", func(t *testing.T) {
		env := newSweepEnv(t, clinicalPolicies())
		env.seedExpiredConsent(t, "legal")

		env.holds.On("HasHold", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)

		result, err := env.scheduler.Run(ctx, false)
		require.NoError(t, err)
		assert.Zero(t, result.RecordsProcessed)
	})
}

func TestSweepDryRun(t *testing.T) {
	ctx := context.Background()
	env := newSweepEnv(t, clinicalPolicies())
	c := env.seedExpiredConsent(t, "clinical_notes")

	env.holds.On("HasHold", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)

	result, err := env.scheduler.Run(ctx, true)
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Equal(t, 1, result.RecordsProcessed)
	assert.Zero(t, result.RecordsDeleted)
	assert.Zero(t, result.RecordsAnonymized)

	env.gateway.AssertNotCalled(t, "Anonymize", mock.Anything, mock.Anything, mock.Anything)

	stored, err := env.consents.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.DisposedAt, "dry run leaves disposal markers untouched")

	entries, err := env.auditStore.ListByTarget(ctx, domainaudit.StreamConsent, c.ID)
	require.NoError(t, err)
	assert.Empty(t, entries, "dry run writes no per-record audit entries")
}

func TestSweepLeaseExclusion(t *testing.T) {
	ctx := context.Background()
	env := newSweepEnv(t, clinicalPolicies())

	release, acquired, err := env.lease.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, acquired)

	_, err = env.scheduler.Run(ctx, false)
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err), "a concurrent sweep aborts immediately")

	require.NoError(t, release(ctx))

	env.holds.On("HasHold", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)
	result, err := env.scheduler.Run(ctx, false)
	require.NoError(t, err)
	assert.Zero(t, result.RecordsProcessed)
}

func TestSweepPartialFailure(t *testing.T) {
	ctx := context.Background()
	env := newSweepEnv(t, clinicalPolicies())
	failing := env.seedExpiredConsent(t, "clinical_notes")
	healthy := env.seedExpiredConsent(t, "clinical_notes")

	env.holds.On("HasHold", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)
	env.gateway.On("Anonymize", mock.Anything, failing.PatientID, "clinical_notes").
		Return(errors.NewStorageError("downstream unavailable")).Once()
	env.gateway.On("Anonymize", mock.Anything, healthy.PatientID, "clinical_notes").Return(nil).Once()

	result, err := env.scheduler.Run(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, result.RecordsProcessed)
	assert.Equal(t, 1, result.RecordsAnonymized)
	require.Len(t, result.Errors, 1)

	failedEntries, err := env.auditStore.ListByTarget(ctx, domainaudit.StreamConsent, failing.ID)
	require.NoError(t, err)
	require.Len(t, failedEntries, 1)
	assert.Equal(t, domainaudit.ActionDisposalFailed, failedEntries[0].Action)

	stored, err := env.consents.GetByID(ctx, failing.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.DisposedAt, "failed disposal stays in the candidate set")

	// The failed record is retried on the next run.
	env.gateway.On("Anonymize", mock.Anything, failing.PatientID, "clinical_notes").Return(nil).Once()
	retry, err := env.scheduler.Run(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, retry.RecordsProcessed)
	assert.Equal(t, 1, retry.RecordsAnonymized)
}

func TestSweepMarkerRequiresAuditEntry(t *testing.T) {
	ctx := context.Background()
	env := newSweepEnv(t, clinicalPolicies())
	c := env.seedExpiredConsent(t, "clinical_notes")

	env.holds.On("HasHold", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)
	env.gateway.On("Anonymize", mock.Anything, c.PatientID, "clinical_notes").Return(nil).Twice()

	env.auditAppend.fail = true
	first, err := env.scheduler.Run(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, first.RecordsProcessed)
	assert.Zero(t, first.RecordsAnonymized)
	require.Len(t, first.Errors, 1)

	stored, err := env.consents.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.DisposedAt, "a record is never marked disposed without its audit entry")

	entries, err := env.auditStore.ListByTarget(ctx, domainaudit.StreamConsent, c.ID)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Once the audit store recovers, the next sweep retries the whole step.
	env.auditAppend.fail = false
	second, err := env.scheduler.Run(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, second.RecordsProcessed)
	assert.Equal(t, 1, second.RecordsAnonymized)

	entries, err = env.auditStore.ListByTarget(ctx, domainaudit.StreamConsent, c.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domainaudit.ActionRecordAnonymized, entries[0].Action)

	stored, err = env.consents.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.DisposedAt)
}

func TestSweepOverlappingPolicies(t *testing.T) {
	ctx := context.Background()
	env := newSweepEnv(t, clinicalPolicies())
	c := env.seedExpiredConsent(t, "clinical_notes", "billing")

	env.holds.On("HasHold", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)
	env.gateway.On("Anonymize", mock.Anything, c.PatientID, "clinical_notes").Return(nil).Once()

	// The record matches both the clinical and the billing policy; the first
	// matching policy wins and the record is disposed of exactly once.
	result, err := env.scheduler.Run(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RecordsProcessed)
	assert.Equal(t, 1, result.RecordsAnonymized)
	assert.Zero(t, result.RecordsDeleted)
	assert.Empty(t, result.Errors)
	env.gateway.AssertNotCalled(t, "Erase", mock.Anything, mock.Anything, mock.Anything)

	entries, err := env.auditStore.ListByTarget(ctx, domainaudit.StreamConsent, c.ID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, domainaudit.ActionRecordAnonymized, entries[0].Action)
	assert.Equal(t, "clinical-7y", entries[0].Details["retention_policy"])
}

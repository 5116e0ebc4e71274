// Package retention implements the periodic data-retention sweep.
package retention

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/carebridge/compliance-engine/internal/domain/audit"
	"github.com/carebridge/compliance-engine/internal/domain/consent"
	"github.com/carebridge/compliance-engine/internal/domain/dsr"
	"github.com/carebridge/compliance-engine/internal/domain/errors"
	"github.com/carebridge/compliance-engine/internal/domain/retention"
	"github.com/carebridge/compliance-engine/internal/metrics"
)

// Config holds the scheduler's tunables.
type Config struct {
	// Workers bounds the candidate-level parallelism within one sweep.
	Workers int
	// GatewayRPS bounds calls into the erasure gateway.
	GatewayRPS int
	// GatewayTimeout bounds each individual gateway call.
	GatewayTimeout time.Duration
	// Interval is the period between sweeps when running on the timer.
	Interval time.Duration
}

// DefaultConfig returns conservative sweep defaults.
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		GatewayRPS:     20,
		GatewayTimeout: 15 * time.Second,
		Interval:       24 * time.Hour,
	}
}

// SweepResult accumulates the outcome of one sweep.
type SweepResult struct {
	DryRun            bool          `json:"dry_run"`
	StartedAt         time.Time     `json:"started_at"`
	Duration          time.Duration `json:"duration"`
	RecordsProcessed  int           `json:"records_processed"`
	RecordsDeleted    int           `json:"records_deleted"`
	RecordsAnonymized int           `json:"records_anonymized"`
	Errors            []string      `json:"errors,omitempty"`
}

// candidate is one record the sweep may dispose of.
type candidate struct {
	stream    audit.Stream
	id        uuid.UUID
	patientID uuid.UUID
	category  string
	action    retention.DisposalAction
	policyID  string
	mark      func(ctx context.Context, action string, at time.Time) error
}

// Scheduler runs the retention sweep: it consults retention policies, selects
// expired records not blocked by legal holds or open requests, and disposes
// of them through the erasure gateway, one audit entry per candidate.
type Scheduler struct {
	logger   *zap.Logger
	cfg      Config
	policies []retention.Policy
	consents consent.Store
	requests dsr.Store
	holds    LegalHoldChecker
	gateway  DataErasureGateway
	recorder AuditRecorder
	tx       TransactionManager
	lease    SweepLease
	metrics  *metrics.Registry
	limiter  *rate.Limiter

	// actorID identifies the sweep itself in audit entries.
	actorID uuid.UUID
}

// NewScheduler creates a retention scheduler. Policies are validated at
// construction so a misconfigured category fails fast rather than mid-sweep.
func NewScheduler(
	logger *zap.Logger,
	cfg Config,
	policies []retention.Policy,
	consents consent.Store,
	requests dsr.Store,
	holds LegalHoldChecker,
	gateway DataErasureGateway,
	recorder AuditRecorder,
	tx TransactionManager,
	lease SweepLease,
	reg *metrics.Registry,
) (*Scheduler, error) {
	for _, p := range policies {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.GatewayRPS <= 0 {
		cfg.GatewayRPS = DefaultConfig().GatewayRPS
	}
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = DefaultConfig().GatewayTimeout
	}

	return &Scheduler{
		logger:   logger,
		cfg:      cfg,
		policies: policies,
		consents: consents,
		requests: requests,
		holds:    holds,
		gateway:  gateway,
		recorder: recorder,
		tx:       tx,
		lease:    lease,
		metrics:  reg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.GatewayRPS), cfg.GatewayRPS),
		actorID:  uuid.New(),
	}, nil
}

// Start runs sweeps on a timer until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	interval := s.cfg.Interval
	if interval <= 0 {
		interval = DefaultConfig().Interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("retention scheduler started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retention scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.Run(ctx, false); err != nil {
				if errors.IsConflict(err) {
					s.logger.Warn("skipping sweep, another sweep holds the lease")
					continue
				}
				s.logger.Error("retention sweep failed", zap.Error(err))
			}
		}
	}
}

// Run executes one sweep. A dry run selects candidates and produces the same
// result shape without disposing of anything. Failures on individual
// candidates are accumulated; a failure to acquire the lease aborts the run.
func (s *Scheduler) Run(ctx context.Context, dryRun bool) (*SweepResult, error) {
	release, acquired, err := s.lease.Acquire(ctx)
	if err != nil {
		return nil, errors.NewStorageError("failed to acquire sweep lease").WithCause(err)
	}
	if !acquired {
		return nil, errors.NewConflictError("a retention sweep is already running")
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := release(releaseCtx); err != nil {
			s.logger.Error("failed to release sweep lease", zap.Error(err))
		}
	}()

	now := time.Now().UTC()
	result := &SweepResult{DryRun: dryRun, StartedAt: now}

	candidates, err := s.selectCandidates(ctx, now)
	if err != nil {
		return nil, err
	}

	if dryRun {
		result.RecordsProcessed = len(candidates)
		result.Duration = time.Since(now)
		s.metrics.SweepCompleted(ctx, float64(result.Duration.Milliseconds()),
			0, 0, int64(result.RecordsProcessed), true)
		s.logger.Info("retention dry run completed",
			zap.Int("candidates", result.RecordsProcessed))
		return result, nil
	}

	s.disposeAll(ctx, candidates, now, result)

	result.Duration = time.Since(now)
	s.metrics.SweepCompleted(ctx, float64(result.Duration.Milliseconds()),
		int64(result.RecordsDeleted), int64(result.RecordsAnonymized),
		int64(result.RecordsProcessed), false)
	s.logger.Info("retention sweep completed",
		zap.Int("processed", result.RecordsProcessed),
		zap.Int("deleted", result.RecordsDeleted),
		zap.Int("anonymized", result.RecordsAnonymized),
		zap.Int("errors", len(result.Errors)),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// selectCandidates builds the candidate set: per policy, undisposed records
// past their retention cutoff, excluding anything under an active legal hold
// or belonging to a patient with an open request. Already-disposed records
// never re-enter the set, which is what makes a re-run idempotent. A record
// matching several policies enters once, under the first matching policy.
func (s *Scheduler) selectCandidates(ctx context.Context, now time.Time) ([]candidate, error) {
	type key struct {
		stream audit.Stream
		id     uuid.UUID
	}
	seen := make(map[key]bool)

	var candidates []candidate
	for _, policy := range s.policies {
		if policy.DisposalAction == retention.DisposalRetainPermanent {
			continue
		}
		cutoff := policy.Cutoff(now)

		consents, err := s.consents.ListDisposable(ctx, policy.DataCategory, cutoff)
		if err != nil {
			return nil, err
		}
		for _, c := range consents {
			k := key{audit.StreamConsent, c.ID}
			if seen[k] {
				continue
			}
			seen[k] = true
			candidates = append(candidates, candidate{
				stream:    audit.StreamConsent,
				id:        c.ID,
				patientID: c.PatientID,
				category:  policy.DataCategory,
				action:    policy.DisposalAction,
				policyID:  policy.ID,
				mark:      s.markConsent(c.ID),
			})
		}

		requests, err := s.requests.ListDisposable(ctx, policy.DataCategory, cutoff)
		if err != nil {
			return nil, err
		}
		for _, r := range requests {
			k := key{audit.StreamRequest, r.ID}
			if seen[k] {
				continue
			}
			seen[k] = true
			candidates = append(candidates, candidate{
				stream:    audit.StreamRequest,
				id:        r.ID,
				patientID: r.PatientID,
				category:  policy.DataCategory,
				action:    policy.DisposalAction,
				policyID:  policy.ID,
				mark:      s.markRequest(r.ID),
			})
		}
	}

	// Exclusion pass: legal holds and open requests.
	eligible := candidates[:0]
	for _, cand := range candidates {
		held, err := s.holds.HasHold(ctx, cand.patientID, cand.category)
		if err != nil {
			return nil, err
		}
		if held {
			continue
		}
		open, err := s.requests.HasOpenRequests(ctx, cand.patientID)
		if err != nil {
			return nil, err
		}
		if open {
			continue
		}
		eligible = append(eligible, cand)
	}
	return eligible, nil
}

// disposeAll fans candidates out over a bounded worker pool. Cancellation is
// cooperative: in-flight candidates finish their disposal-plus-marking step,
// unstarted candidates are left for the next sweep.
func (s *Scheduler) disposeAll(ctx context.Context, candidates []candidate, now time.Time, result *SweepResult) {
	work := make(chan candidate)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < s.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for cand := range work {
				deleted, anonymized, err := s.dispose(ctx, cand, now)
				mu.Lock()
				result.RecordsProcessed++
				if deleted {
					result.RecordsDeleted++
				}
				if anonymized {
					result.RecordsAnonymized++
				}
				if err != nil {
					result.Errors = append(result.Errors,
						fmt.Sprintf("%s %s: %v", cand.stream, cand.id, err))
				}
				mu.Unlock()
			}
		}()
	}

feed:
	for _, cand := range candidates {
		select {
		case <-ctx.Done():
			break feed
		case work <- cand:
		}
	}
	close(work)
	wg.Wait()
}

// dispose handles one candidate: rate-limited, time-bounded gateway call,
// disposal marker, and one audit entry regardless of outcome.
func (s *Scheduler) dispose(ctx context.Context, cand candidate, now time.Time) (deleted, anonymized bool, err error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return false, false, errors.NewInternalError("sweep cancelled").WithCause(err)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	defer cancel()

	var action audit.Action
	switch cand.action {
	case retention.DisposalDelete:
		err = s.gateway.Erase(callCtx, cand.patientID, cand.category)
		action = audit.ActionRecordDeleted
	case retention.DisposalAnonymize:
		err = s.gateway.Anonymize(callCtx, cand.patientID, cand.category)
		action = audit.ActionRecordAnonymized
	case retention.DisposalRetainPermanent:
		return false, false, nil
	}
	if err != nil && callCtx.Err() == context.DeadlineExceeded {
		err = errors.NewTimeoutError("erasure gateway")
	}

	entry, entryErr := audit.NewEntry(cand.stream, cand.id, cand.patientID, s.actorID, action)
	if entryErr != nil {
		return false, false, entryErr
	}
	entry.WithDetail("retention_policy", cand.policyID).
		WithDetail("data_category", cand.category)

	if err != nil {
		entry.Action = audit.ActionDisposalFailed
		entry.WithDetail("error", err.Error())
		recErr := s.tx.ExecuteInTransaction(ctx, func(ctx context.Context) error {
			return s.recorder.Record(ctx, entry)
		})
		if recErr != nil {
			s.logger.Error("failed to record disposal-failure audit entry",
				zap.String("target_id", cand.id.String()), zap.Error(recErr))
		}
		return false, false, err
	}

	// Marker and audit entry commit together. If either fails the record
	// stays unmarked and the next sweep retries the whole step.
	txErr := s.tx.ExecuteInTransaction(ctx, func(ctx context.Context) error {
		if err := s.recorder.Record(ctx, entry); err != nil {
			return err
		}
		return cand.mark(ctx, cand.action.String(), now)
	})
	if txErr != nil {
		s.logger.Error("failed to commit disposal",
			zap.String("target_id", cand.id.String()), zap.Error(txErr))
		return false, false, txErr
	}

	switch cand.action {
	case retention.DisposalDelete:
		return true, false, nil
	case retention.DisposalAnonymize:
		return false, true, nil
	}
	return false, false, nil
}

func (s *Scheduler) markConsent(id uuid.UUID) func(context.Context, string, time.Time) error {
	return func(ctx context.Context, action string, at time.Time) error {
		return s.consents.MarkDisposed(ctx, id, action, at)
	}
}

func (s *Scheduler) markRequest(id uuid.UUID) func(context.Context, string, time.Time) error {
	return func(ctx context.Context, action string, at time.Time) error {
		return s.requests.MarkDisposed(ctx, id, action, at)
	}
}

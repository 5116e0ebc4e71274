// Package dsr implements the data-subject request processor.
package dsr

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/carebridge/compliance-engine/internal/domain/audit"
	"github.com/carebridge/compliance-engine/internal/domain/dsr"
	"github.com/carebridge/compliance-engine/internal/domain/errors"
	"github.com/carebridge/compliance-engine/internal/metrics"
	"github.com/carebridge/compliance-engine/internal/service/authz"
)

// Config holds the processor's tunables. Every value comes from the injected
// configuration, never from globals.
type Config struct {
	// SLA is the fixed window between receipt and the due date (30 days).
	SLA time.Duration
	// CollaboratorTimeout bounds every downstream collaborator call.
	CollaboratorTimeout time.Duration
	// PortabilityFormat is the default export format.
	PortabilityFormat string
}

// DefaultConfig returns the regulatory defaults.
func DefaultConfig() Config {
	return Config{
		SLA:                 30 * 24 * time.Hour,
		CollaboratorTimeout: 10 * time.Second,
		PortabilityFormat:   "json",
	}
}

// Processor implements the per-type request pipeline on top of the request
// store and the audit trail recorder.
type Processor struct {
	logger   *zap.Logger
	cfg      Config
	store    dsr.Store
	recorder AuditRecorder
	tx       TransactionManager
	policy   authz.Policy
	metrics  *metrics.Registry
	validate *validator.Validate

	// systemActorID attributes audit entries written by the automated drain.
	systemActorID uuid.UUID

	patients     PatientDirectory
	legalHolds   LegalHoldChecker
	erasure      DataErasureGateway
	activities   ProcessingActivityRegistry
	records      PatientRecordService
	restrictions RestrictionStore
}

// NewProcessor creates a data-subject request processor.
func NewProcessor(
	logger *zap.Logger,
	cfg Config,
	store dsr.Store,
	recorder AuditRecorder,
	tx TransactionManager,
	policy authz.Policy,
	reg *metrics.Registry,
	patients PatientDirectory,
	legalHolds LegalHoldChecker,
	erasure DataErasureGateway,
	activities ProcessingActivityRegistry,
	records PatientRecordService,
	restrictions RestrictionStore,
) *Processor {
	return &Processor{
		logger:        logger,
		cfg:           cfg,
		store:         store,
		recorder:      recorder,
		tx:            tx,
		policy:        policy,
		metrics:       reg,
		validate:      validator.New(),
		systemActorID: uuid.New(),
		patients:      patients,
		legalHolds:    legalHolds,
		erasure:       erasure,
		activities:    activities,
		records:       records,
		restrictions:  restrictions,
	}
}

// SubmitRequest carries a new data-subject request.
type SubmitRequest struct {
	PatientID   uuid.UUID `validate:"required"`
	RequestType string    `validate:"required"`
	Scope       []string  `validate:"dive,required"`
	Description string
	SubmittedBy uuid.UUID `validate:"required"`
}

// Submit registers a new request. The SLA due date is computed once here and
// never mutated afterwards.
func (p *Processor) Submit(ctx context.Context, req SubmitRequest) (*dsr.Request, error) {
	if err := p.validate.Struct(req); err != nil {
		return nil, errors.NewValidationError("INVALID_SUBMIT_REQUEST", "invalid request submission").WithCause(err)
	}

	requestType, err := dsr.ParseType(req.RequestType)
	if err != nil {
		return nil, err
	}

	exists, err := p.checkPatient(ctx, req.PatientID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.NewNotFoundError("patient")
	}

	r, err := dsr.NewRequest(req.PatientID, requestType, req.Scope, req.Description, time.Now().UTC(), p.cfg.SLA)
	if err != nil {
		return nil, err
	}

	entry, err := audit.NewEntry(audit.StreamRequest, r.ID, r.PatientID, req.SubmittedBy, audit.ActionRequestReceived)
	if err != nil {
		return nil, err
	}
	entry.WithDetail("request_type", r.Type.String()).
		WithDetail("scope", r.Scope).
		WithDetail("due_at", r.DueAt)

	err = p.tx.ExecuteInTransaction(ctx, func(ctx context.Context) error {
		if err := p.store.Create(ctx, r); err != nil {
			return err
		}
		return p.recorder.Record(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	p.logger.Info("data-subject request submitted",
		zap.String("request_id", r.ID.String()),
		zap.String("patient_id", r.PatientID.String()),
		zap.String("type", r.Type.String()),
		zap.Time("due_at", r.DueAt),
	)
	return r, nil
}

// Result is the structured outcome of processing one request.
type Result struct {
	RequestID        uuid.UUID              `json:"request_id"`
	Status           dsr.Status             `json:"status"`
	Payload          map[string]interface{} `json:"payload,omitempty"`
	ErasedData       []string               `json:"erased_data,omitempty"`
	LegalObligations []string               `json:"legal_obligations,omitempty"`
	RejectionReason  string                 `json:"rejection_reason,omitempty"`
}

// Process dispatches the request to its type handler. On entry the request
// moves PENDING to IN_PROGRESS (idempotent re-entry for retried processing);
// on exit exactly one audit entry records the terminal status.
func (p *Processor) Process(ctx context.Context, requestID uuid.UUID, actor authz.Actor) (*Result, error) {
	start := time.Now()

	r, err := p.store.GetByID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !p.policy.CanProcessRequest(actor, r) {
		return nil, errors.NewForbiddenError("actor is not permitted to process this request")
	}
	if r.Status.IsTerminal() {
		return nil, errors.NewConflictError("request has already reached a terminal status")
	}

	now := time.Now().UTC()
	if r.Status == dsr.StatusPending {
		rev := r.Revision
		if err := r.Start(actor.ID, now); err != nil {
			return nil, err
		}
		if err := p.store.Update(ctx, r, rev); err != nil {
			return nil, err
		}
	}

	outcome, err := p.dispatch(ctx, r)
	if err != nil {
		// Hard failures (unknown patient, storage, timeout) leave the request
		// IN_PROGRESS for a later retry; no terminal audit entry is written.
		return nil, err
	}

	prior := r.Snapshot()
	rev := r.Revision
	var action audit.Action
	switch outcome.status {
	case dsr.StatusCompleted:
		if err := r.Complete(outcome.payload, now); err != nil {
			return nil, err
		}
		action = audit.ActionRequestCompleted
	case dsr.StatusRejected:
		if err := r.Reject(outcome.rejectionReason, now); err != nil {
			return nil, err
		}
		action = audit.ActionRequestRejected
	case dsr.StatusEscalated:
		if err := r.Escalate(now); err != nil {
			return nil, err
		}
		action = audit.ActionRequestEscalated
	default:
		return nil, errors.NewInternalError("handler returned a non-terminal status")
	}

	entry, err := audit.NewEntry(audit.StreamRequest, r.ID, r.PatientID, actor.ID, action)
	if err != nil {
		return nil, err
	}
	entry.WithPriorState(prior).
		WithDetail("request_type", r.Type.String()).
		WithDetail("terminal_status", r.Status.String())
	if len(outcome.erased) > 0 {
		entry.WithDetail("erased_data", outcome.erased)
	}
	if len(outcome.legalObligations) > 0 {
		entry.WithDetail("legal_obligations", outcome.legalObligations)
	}
	if outcome.rejectionReason != "" {
		entry.WithDetail("rejection_reason", outcome.rejectionReason)
	}

	err = p.tx.ExecuteInTransaction(ctx, func(ctx context.Context) error {
		if err := p.store.Update(ctx, r, rev); err != nil {
			return err
		}
		return p.recorder.Record(ctx, entry)
	})
	if err != nil {
		return nil, err
	}

	p.metrics.RequestProcessed(ctx, r.Type.String(), r.Status.String(),
		float64(time.Since(start).Milliseconds()))
	p.logger.Info("data-subject request processed",
		zap.String("request_id", r.ID.String()),
		zap.String("type", r.Type.String()),
		zap.String("status", r.Status.String()),
		zap.Duration("duration", time.Since(start)),
	)

	return &Result{
		RequestID:        r.ID,
		Status:           r.Status,
		Payload:          outcome.payload,
		ErasedData:       outcome.erased,
		LegalObligations: outcome.legalObligations,
		RejectionReason:  outcome.rejectionReason,
	}, nil
}

// GetOverdueRequests returns open requests past their SLA deadline. Overdue
// requests are surfaced rather than auto-escalated; escalation is a human
// decision made by the caller.
func (p *Processor) GetOverdueRequests(ctx context.Context, now time.Time) ([]*dsr.Request, error) {
	return p.store.ListOverdue(ctx, now)
}

// ProcessPending drains up to limit PENDING requests under the system actor.
// A failed request is logged and skipped; retryable failures leave the
// request IN_PROGRESS for a later Process call to resume.
func (p *Processor) ProcessPending(ctx context.Context, limit int) (int, error) {
	pending, err := p.store.ListPending(ctx, limit)
	if err != nil {
		return 0, err
	}

	actor := authz.Actor{ID: p.systemActorID, Role: authz.RoleSystem}
	processed := 0
	for _, r := range pending {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		if _, err := p.Process(ctx, r.ID, actor); err != nil {
			p.logger.Warn("pending request processing failed",
				zap.String("request_id", r.ID.String()),
				zap.Bool("retryable", errors.IsRetryable(err)),
				zap.Error(err),
			)
			continue
		}
		processed++
	}
	return processed, nil
}

func (p *Processor) checkPatient(ctx context.Context, patientID uuid.UUID) (bool, error) {
	var exists bool
	err := p.callCollaborator(ctx, "patient directory", func(ctx context.Context) error {
		var err error
		exists, err = p.patients.Exists(ctx, patientID)
		return err
	})
	return exists, err
}

// callCollaborator bounds a downstream call by the configured budget and maps
// deadline expiry to a retryable timeout error.
func (p *Processor) callCollaborator(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, p.cfg.CollaboratorTimeout)
	defer cancel()

	err := fn(callCtx)
	if err == nil {
		return nil
	}
	if callCtx.Err() == context.DeadlineExceeded {
		return errors.NewTimeoutError(name)
	}
	return err
}

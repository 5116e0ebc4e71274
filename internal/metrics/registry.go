// Package metrics holds the engine's domain-specific instruments.
package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Registry holds all domain-specific metrics for the compliance engine.
// A nil *Registry is valid and records nothing, so tests can skip wiring.
type Registry struct {
	meter metric.Meter

	// Consent lifecycle
	consentTransitions metric.Int64Counter

	// Data-subject requests
	requestsProcessed  metric.Int64Counter
	requestDuration    metric.Float64Histogram

	// Retention sweeps
	sweepDuration   metric.Float64Histogram
	sweepDisposals  metric.Int64Counter
	sweepCandidates metric.Int64Counter

	// Audit trail
	auditAppends metric.Int64Counter
}

// NewRegistry creates the engine metric instruments on the given meter.
func NewRegistry(meter metric.Meter) (*Registry, error) {
	r := &Registry{meter: meter}
	var err error

	if r.consentTransitions, err = meter.Int64Counter(
		"compliance.consent.transitions",
		metric.WithDescription("Consent lifecycle transitions by action"),
	); err != nil {
		return nil, fmt.Errorf("creating consent transition counter: %w", err)
	}

	if r.requestsProcessed, err = meter.Int64Counter(
		"compliance.dsr.processed",
		metric.WithDescription("Data-subject requests processed by type and terminal status"),
	); err != nil {
		return nil, fmt.Errorf("creating request counter: %w", err)
	}

	if r.requestDuration, err = meter.Float64Histogram(
		"compliance.dsr.processing_duration_ms",
		metric.WithDescription("Data-subject request processing duration"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("creating request duration histogram: %w", err)
	}

	if r.sweepDuration, err = meter.Float64Histogram(
		"compliance.retention.sweep_duration_ms",
		metric.WithDescription("Retention sweep duration"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, fmt.Errorf("creating sweep duration histogram: %w", err)
	}

	if r.sweepDisposals, err = meter.Int64Counter(
		"compliance.retention.disposals",
		metric.WithDescription("Records disposed by the retention sweep, by action"),
	); err != nil {
		return nil, fmt.Errorf("creating disposal counter: %w", err)
	}

	if r.sweepCandidates, err = meter.Int64Counter(
		"compliance.retention.candidates",
		metric.WithDescription("Candidate records examined by the retention sweep"),
	); err != nil {
		return nil, fmt.Errorf("creating candidate counter: %w", err)
	}

	if r.auditAppends, err = meter.Int64Counter(
		"compliance.audit.appends",
		metric.WithDescription("Audit entries appended by stream and action"),
	); err != nil {
		return nil, fmt.Errorf("creating audit append counter: %w", err)
	}

	return r, nil
}

// NewDefaultRegistry builds a registry on the global meter provider.
// Instrument creation only fails on invalid names, so this panics instead of
// returning an error.
func NewDefaultRegistry() *Registry {
	r, err := NewRegistry(otel.Meter("compliance-engine"))
	if err != nil {
		panic(err)
	}
	return r
}

// ConsentTransition records one consent lifecycle transition.
func (r *Registry) ConsentTransition(ctx context.Context, action string) {
	if r == nil {
		return
	}
	r.consentTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

// RequestProcessed records one processed data-subject request.
func (r *Registry) RequestProcessed(ctx context.Context, requestType, status string, durationMs float64) {
	if r == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("type", requestType),
		attribute.String("status", status),
	)
	r.requestsProcessed.Add(ctx, 1, attrs)
	r.requestDuration.Record(ctx, durationMs, attrs)
}

// SweepCompleted records the outcome of one retention sweep.
func (r *Registry) SweepCompleted(ctx context.Context, durationMs float64, deleted, anonymized, candidates int64, dryRun bool) {
	if r == nil {
		return
	}
	mode := attribute.Bool("dry_run", dryRun)
	r.sweepDuration.Record(ctx, durationMs, metric.WithAttributes(mode))
	r.sweepCandidates.Add(ctx, candidates, metric.WithAttributes(mode))
	r.sweepDisposals.Add(ctx, deleted, metric.WithAttributes(mode, attribute.String("action", "delete")))
	r.sweepDisposals.Add(ctx, anonymized, metric.WithAttributes(mode, attribute.String("action", "anonymize")))
}

// AuditEntriesAppended records one audit append.
func (r *Registry) AuditEntriesAppended(ctx context.Context, stream, action string) {
	if r == nil {
		return
	}
	r.auditAppends.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stream", stream),
		attribute.String("action", action),
	))
}

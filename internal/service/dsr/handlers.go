package dsr

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/carebridge/compliance-engine/internal/domain/dsr"
	"github.com/carebridge/compliance-engine/internal/domain/errors"
)

// handlerOutcome is what a type handler decides: the terminal status plus the
// structured result payload.
type handlerOutcome struct {
	status           dsr.Status
	payload          map[string]interface{}
	erased           []string
	legalObligations []string
	rejectionReason  string
}

func completed(payload map[string]interface{}) *handlerOutcome {
	return &handlerOutcome{status: dsr.StatusCompleted, payload: payload}
}

func rejected(reason string) *handlerOutcome {
	return &handlerOutcome{status: dsr.StatusRejected, rejectionReason: reason}
}

// dispatch routes a request to its handler. The switch is exhaustive over the
// closed type set; an unknown type can only come from corrupted storage.
func (p *Processor) dispatch(ctx context.Context, r *dsr.Request) (*handlerOutcome, error) {
	switch r.Type {
	case dsr.TypeAccess:
		return p.handleAccess(ctx, r)
	case dsr.TypeRectification:
		return p.handleRectification(ctx, r)
	case dsr.TypeErasure:
		return p.handleErasure(ctx, r)
	case dsr.TypeRestriction:
		return p.handleRestriction(ctx, r)
	case dsr.TypePortability:
		return p.handlePortability(ctx, r)
	case dsr.TypeObjection:
		return p.handleObjection(ctx, r)
	case dsr.TypeAutomatedDecision:
		// No automated resolution exists for Art. 22 objections; hand off.
		return &handlerOutcome{status: dsr.StatusEscalated}, nil
	}
	return nil, errors.NewInternalError("unhandled request type " + r.Type.String())
}

// handleAccess assembles a read-only snapshot of the scoped data categories
// (all categories when scope is empty).
func (p *Processor) handleAccess(ctx context.Context, r *dsr.Request) (*handlerOutcome, error) {
	exists, err := p.checkPatient(ctx, r.PatientID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.NewNotFoundError("patient")
	}

	var fullName string
	if err := p.callCollaborator(ctx, "patient directory", func(ctx context.Context) error {
		var err error
		fullName, err = p.patients.GetFullName(ctx, r.PatientID)
		return err
	}); err != nil {
		return nil, err
	}

	var snapshot map[string]interface{}
	if err := p.callCollaborator(ctx, "patient records", func(ctx context.Context) error {
		var err error
		snapshot, err = p.records.Snapshot(ctx, r.PatientID, r.Scope)
		return err
	}); err != nil {
		return nil, err
	}

	return completed(map[string]interface{}{
		"patient_id":   r.PatientID.String(),
		"patient_name": fullName,
		"data":         snapshot,
		"generated_at": time.Now().UTC(),
	}), nil
}

// handleRectification delegates field corrections to the patient-record
// collaborator. A validation error from the collaborator means the fields are
// not rectifiable and rejects the request.
func (p *Processor) handleRectification(ctx context.Context, r *dsr.Request) (*handlerOutcome, error) {
	err := p.callCollaborator(ctx, "patient records", func(ctx context.Context) error {
		return p.records.Rectify(ctx, r.PatientID, r.Scope, r.Description)
	})
	if err != nil {
		if errors.IsValidation(err) {
			return rejected(err.Error()), nil
		}
		return nil, err
	}

	return completed(map[string]interface{}{
		"rectified_fields": r.Scope,
	}), nil
}

// handleErasure implements partial-success erasure: held categories are
// excluded and reported under legalObligations, the rest are erased. The
// request is rejected only when every category is held, in which case the
// erasure gateway is never called.
func (p *Processor) handleErasure(ctx context.Context, r *dsr.Request) (*handlerOutcome, error) {
	if len(r.Scope) == 0 {
		return rejected("erasure request has an empty scope"), nil
	}

	var erasable, held []string
	for _, category := range r.Scope {
		var hasHold bool
		err := p.callCollaborator(ctx, "legal hold checker", func(ctx context.Context) error {
			var err error
			hasHold, err = p.legalHolds.HasHold(ctx, r.PatientID, category)
			return err
		})
		if err != nil {
			return nil, err
		}
		if hasHold {
			held = append(held, category)
		} else {
			erasable = append(erasable, category)
		}
	}

	if len(erasable) == 0 {
		out := rejected("all categories subject to legal hold")
		out.legalObligations = held
		return out, nil
	}

	var erased []string
	for _, category := range erasable {
		category := category
		err := p.callCollaborator(ctx, "erasure gateway", func(ctx context.Context) error {
			return p.erasure.Erase(ctx, r.PatientID, category)
		})
		if err != nil {
			return nil, err
		}
		erased = append(erased, category)
	}

	out := completed(map[string]interface{}{
		"erasedData":       erased,
		"legalObligations": held,
	})
	out.erased = erased
	out.legalObligations = held
	return out, nil
}

// handleRestriction marks restriction flags on the scoped categories.
// Categories already under restriction are reported back rather than re-set.
func (p *Processor) handleRestriction(ctx context.Context, r *dsr.Request) (*handlerOutcome, error) {
	if len(r.Scope) == 0 {
		return rejected("restriction request has an empty scope"), nil
	}

	var restricted, alreadyRestricted []string
	for _, category := range r.Scope {
		category := category

		var existing bool
		err := p.callCollaborator(ctx, "restriction store", func(ctx context.Context) error {
			var err error
			existing, err = p.restrictions.IsRestricted(ctx, r.PatientID, category)
			return err
		})
		if err != nil {
			return nil, err
		}
		if existing {
			alreadyRestricted = append(alreadyRestricted, category)
			continue
		}

		err = p.callCollaborator(ctx, "restriction store", func(ctx context.Context) error {
			return p.restrictions.SetRestriction(ctx, r.PatientID, category)
		})
		if err != nil {
			return nil, err
		}
		restricted = append(restricted, category)
	}

	return completed(map[string]interface{}{
		"restricted_categories":         restricted,
		"already_restricted_categories": alreadyRestricted,
	}), nil
}

// handlePortability produces a structured machine-readable export of the
// scoped categories with an integrity checksum.
func (p *Processor) handlePortability(ctx context.Context, r *dsr.Request) (*handlerOutcome, error) {
	var snapshot map[string]interface{}
	if err := p.callCollaborator(ctx, "patient records", func(ctx context.Context) error {
		var err error
		snapshot, err = p.records.Snapshot(ctx, r.PatientID, r.Scope)
		return err
	}); err != nil {
		return nil, err
	}

	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, errors.NewInternalError("failed to serialize export").WithCause(err)
	}
	sum := sha256.Sum256(data)

	return completed(map[string]interface{}{
		"format":      p.cfg.PortabilityFormat,
		"data":        snapshot,
		"size_bytes":  len(data),
		"checksum":    hex.EncodeToString(sum[:]),
		"exported_at": time.Now().UTC(),
	}), nil
}

// handleObjection suspends processing activities tied to the objected
// purposes via the external processing-activity registry.
func (p *Processor) handleObjection(ctx context.Context, r *dsr.Request) (*handlerOutcome, error) {
	if len(r.Scope) == 0 {
		return rejected("objection request names no processing purpose"), nil
	}

	for _, purpose := range r.Scope {
		purpose := purpose
		err := p.callCollaborator(ctx, "processing activity registry", func(ctx context.Context) error {
			return p.activities.Suspend(ctx, r.PatientID, purpose)
		})
		if err != nil {
			return nil, err
		}
	}

	return completed(map[string]interface{}{
		"suspended_purposes": r.Scope,
	}), nil
}

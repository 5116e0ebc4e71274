package retention

import (
	"fmt"
	"time"

	"github.com/carebridge/compliance-engine/internal/domain/errors"
)

// DisposalAction is what the retention sweep does with an expired record.
type DisposalAction string

const (
	DisposalDelete          DisposalAction = "DELETE"
	DisposalAnonymize       DisposalAction = "ANONYMIZE"
	DisposalRetainPermanent DisposalAction = "RETAIN_PERMANENT"
)

func (a DisposalAction) String() string {
	return string(a)
}

// ParseDisposalAction parses a string into a DisposalAction.
func ParseDisposalAction(s string) (DisposalAction, error) {
	switch DisposalAction(s) {
	case DisposalDelete, DisposalAnonymize, DisposalRetainPermanent:
		return DisposalAction(s), nil
	default:
		return "", errors.NewValidationError("INVALID_DISPOSAL_ACTION",
			fmt.Sprintf("invalid disposal action: %s", s))
	}
}

// Policy maps one data category to a retention duration and disposal action.
// Policies are configuration; the engine never mutates them at runtime.
type Policy struct {
	ID              string
	DataCategory    string
	RetentionPeriod time.Duration
	DisposalAction  DisposalAction
}

// Validate checks policy configuration at load time.
func (p Policy) Validate() error {
	if p.ID == "" {
		return errors.NewValidationError("MISSING_POLICY_ID", "retention policy ID is required")
	}
	if p.DataCategory == "" {
		return errors.NewValidationError("MISSING_CATEGORY",
			fmt.Sprintf("retention policy %s has no data category", p.ID))
	}
	if _, err := ParseDisposalAction(string(p.DisposalAction)); err != nil {
		return err
	}
	if p.DisposalAction != DisposalRetainPermanent && p.RetentionPeriod <= 0 {
		return errors.NewValidationError("INVALID_RETENTION_PERIOD",
			fmt.Sprintf("retention policy %s needs a positive retention period", p.ID))
	}
	return nil
}

// Cutoff computes the last-modified bound for the sweep's candidate set.
func (p Policy) Cutoff(now time.Time) time.Time {
	return now.Add(-p.RetentionPeriod)
}

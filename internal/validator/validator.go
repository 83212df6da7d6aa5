// Package validator evaluates cleaned notes against the rule catalog.
package validator

import (
	"github.com/Veraticus/notesync/internal/catalog"
	"github.com/Veraticus/notesync/internal/model"
)

// Validator applies catalog requirements to note text. It keeps no state
// between calls; the snapshot passed in decides which rules apply.
type Validator struct{}

// New creates a validator.
func New() *Validator {
	return &Validator{}
}

// Validate emits one check per requirement in snap and tallies the result.
func (v *Validator) Validate(noteText string, snap *catalog.Snapshot) model.ValidationReport {
	reqs := snap.Requirements()
	checks := make([]model.ValidationCheck, 0, len(reqs))

	for _, req := range reqs {
		passed, detail := req.Predicate.Evaluate(noteText)
		check := model.ValidationCheck{
			ID:       req.ID,
			Name:     req.Name,
			Priority: req.Priority,
			Passed:   passed,
		}
		if !passed {
			check.Message = req.ErrorMessage
			if check.Message == "" {
				check.Message = req.Name + " failed"
			}
			check.Details = detail
		}
		checks = append(checks, check)
	}

	return model.NewValidationReport(checks)
}

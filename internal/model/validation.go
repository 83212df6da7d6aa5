package model

import "fmt"

// Priority ranks validation requirements.
type Priority string

// Priority constants.
const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Priorities lists every priority from most to least severe.
var Priorities = []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow}

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// ParsePriority converts s into a Priority.
func ParsePriority(s string) (Priority, error) {
	p := Priority(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown priority %q", s)
	}
	return p, nil
}

// ValidationCheck is the outcome of one requirement on one validator run.
type ValidationCheck struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Priority Priority `json:"priority"`
	Message  string   `json:"message,omitempty"`
	Details  string   `json:"details,omitempty"`
	Passed   bool     `json:"passed"`
}

// ValidationReport aggregates the checks of one validator run.
type ValidationReport struct {
	Checks           []ValidationCheck
	Total            int
	Passed           int
	Failed           int
	CriticalFailures int
}

// NewValidationReport tallies checks into a report.
func NewValidationReport(checks []ValidationCheck) ValidationReport {
	report := ValidationReport{
		Checks: checks,
		Total:  len(checks),
	}
	for _, check := range checks {
		if check.Passed {
			report.Passed++
			continue
		}
		report.Failed++
		if check.Priority == PriorityCritical {
			report.CriticalFailures++
		}
	}
	return report
}

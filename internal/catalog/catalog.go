// Package catalog holds the declarative validation requirements, intervention
// triggers and prompt templates that drive the pipeline. A catalog is loaded
// into an immutable Snapshot; callers never edit rules in place.
package catalog

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/Veraticus/notesync/internal/model"
)

// ErrInvalidCatalog is returned when a catalog document fails validation.
var ErrInvalidCatalog = errors.New("invalid rule catalog")

// PredicateKind names how a requirement inspects the note text.
type PredicateKind string

// Predicate kinds.
const (
	PredicateContains    PredicateKind = "contains"
	PredicateNotContains PredicateKind = "not_contains"
	PredicateRegex       PredicateKind = "regex"
	PredicateNotRegex    PredicateKind = "not_regex"
	PredicateMinLength   PredicateKind = "min_length"
	PredicateMaxLength   PredicateKind = "max_length"
	PredicateSection     PredicateKind = "section"
)

// Predicate is the declarative condition a note must satisfy.
type Predicate struct {
	re            *regexp.Regexp
	Kind          PredicateKind
	Value         string
	Length        int
	CaseSensitive bool
}

// Requirement is one rule catalog entry.
type Requirement struct {
	ID           string
	Name         string
	Priority     model.Priority
	Description  string
	ErrorMessage string
	Predicate    Predicate
}

// TriggerKind names the condition an intervention trigger evaluates.
type TriggerKind string

// Trigger kinds.
const (
	TriggerLowTier          TriggerKind = "low_tier"
	TriggerUnmatched        TriggerKind = "unmatched"
	TriggerAmbiguousMatch   TriggerKind = "ambiguous_match"
	TriggerConfidenceBelow  TriggerKind = "confidence_below"
	TriggerCriticalFailures TriggerKind = "critical_failures"
	TriggerFailureRatio     TriggerKind = "failure_ratio"
	TriggerProcessingFailed TriggerKind = "processing_failed"
)

var triggerKinds = []TriggerKind{
	TriggerLowTier, TriggerUnmatched, TriggerAmbiguousMatch, TriggerConfidenceBelow,
	TriggerCriticalFailures, TriggerFailureRatio, TriggerProcessingFailed,
}

// InterventionTrigger is a named condition that forces human review.
type InterventionTrigger struct {
	ID          string
	Description string
	Kind        TriggerKind
	Threshold   float64
}

// Prompts are the two AI prompt templates.
type Prompts struct {
	Initial      string
	Verification string
}

// PromptData is the data available to prompt templates.
type PromptData struct {
	VisitDate   time.Time
	Note        string
	PatientName string
}

// Snapshot is an immutable, validated rule catalog.
type Snapshot struct {
	loadedAt     time.Time
	initial      *template.Template
	verification *template.Template
	version      string
	prompts      Prompts
	requirements []Requirement
	triggers     []InterventionTrigger
}

// Version returns the catalog version label.
func (s *Snapshot) Version() string { return s.version }

// LoadedAt returns when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// Prompts returns the raw prompt templates.
func (s *Snapshot) Prompts() Prompts { return s.prompts }

// Requirements returns a copy of the requirements in catalog order.
func (s *Snapshot) Requirements() []Requirement {
	out := make([]Requirement, len(s.requirements))
	copy(out, s.requirements)
	return out
}

// Triggers returns a copy of the intervention triggers.
func (s *Snapshot) Triggers() []InterventionTrigger {
	out := make([]InterventionTrigger, len(s.triggers))
	copy(out, s.triggers)
	return out
}

// RequirementsByPriority groups requirements for display.
func (s *Snapshot) RequirementsByPriority() map[model.Priority][]Requirement {
	grouped := make(map[model.Priority][]Requirement, len(model.Priorities))
	for _, req := range s.requirements {
		grouped[req.Priority] = append(grouped[req.Priority], req)
	}
	return grouped
}

// RenderInitial renders the initial cleaning prompt.
func (s *Snapshot) RenderInitial(data PromptData) (string, error) {
	return render(s.initial, data)
}

// RenderVerification renders the self-correction prompt.
func (s *Snapshot) RenderVerification(data PromptData) (string, error) {
	return render(s.verification, data)
}

func render(tmpl *template.Template, data PromptData) (string, error) {
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", fmt.Errorf("failed to render prompt %s: %w", tmpl.Name(), err)
	}
	return b.String(), nil
}

// New validates the parts and builds a Snapshot.
func New(version string, prompts Prompts, requirements []Requirement, triggers []InterventionTrigger) (*Snapshot, error) {
	var problems []string

	if strings.TrimSpace(prompts.Initial) == "" {
		problems = append(problems, "initial prompt is empty")
	}
	if strings.TrimSpace(prompts.Verification) == "" {
		problems = append(problems, "verification prompt is empty")
	}

	initial, err := template.New("initial").Option("missingkey=error").Parse(prompts.Initial)
	if err != nil {
		problems = append(problems, fmt.Sprintf("initial prompt: %v", err))
	}
	verification, err := template.New("verification").Option("missingkey=error").Parse(prompts.Verification)
	if err != nil {
		problems = append(problems, fmt.Sprintf("verification prompt: %v", err))
	}

	reqs := make([]Requirement, len(requirements))
	seen := make(map[string]bool, len(requirements))
	for i, req := range requirements {
		if req.ID == "" {
			problems = append(problems, fmt.Sprintf("requirement %d has no id", i))
		} else if seen[req.ID] {
			problems = append(problems, fmt.Sprintf("duplicate requirement id %q", req.ID))
		}
		seen[req.ID] = true

		if !req.Priority.Valid() {
			problems = append(problems, fmt.Sprintf("requirement %q: unknown priority %q", req.ID, req.Priority))
		}
		if req.Name == "" {
			req.Name = req.ID
		}

		compiled, perr := compilePredicate(req.Predicate)
		if perr != nil {
			problems = append(problems, fmt.Sprintf("requirement %q: %v", req.ID, perr))
		}
		req.Predicate = compiled
		reqs[i] = req
	}

	trigs := make([]InterventionTrigger, len(triggers))
	seenTrig := make(map[string]bool, len(triggers))
	for i, trig := range triggers {
		if trig.ID == "" {
			problems = append(problems, fmt.Sprintf("trigger %d has no id", i))
		} else if seenTrig[trig.ID] {
			problems = append(problems, fmt.Sprintf("duplicate trigger id %q", trig.ID))
		}
		seenTrig[trig.ID] = true

		if !knownTrigger(trig.Kind) {
			problems = append(problems, fmt.Sprintf("trigger %q: unknown kind %q", trig.ID, trig.Kind))
		}
		if trig.Description == "" {
			trig.Description = trig.ID
		}
		trigs[i] = trig
	}

	if len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCatalog, strings.Join(problems, "; "))
	}

	return &Snapshot{
		version:      version,
		loadedAt:     time.Now(),
		prompts:      prompts,
		initial:      initial,
		verification: verification,
		requirements: reqs,
		triggers:     trigs,
	}, nil
}

func knownTrigger(kind TriggerKind) bool {
	for _, k := range triggerKinds {
		if k == kind {
			return true
		}
	}
	return false
}

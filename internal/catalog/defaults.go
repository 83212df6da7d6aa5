package catalog

import "github.com/Veraticus/notesync/internal/model"

// DefaultVersion labels the built-in catalog.
const DefaultVersion = "builtin-1"

const defaultInitialPrompt = `You are reformatting a clinical visit note for import into an EHR.
Patient: {{.PatientName}}
Visit date: {{.VisitDate.Format "2006-01-02"}}

Rewrite the note below into these sections, in order, each heading on its own line:
Chief Complaint:
History of Present Illness:
Assessment:
Plan:

Keep every clinical fact. Do not invent findings, medications or doses.
Remove filler words, timestamps and transcription artifacts.
Return only the reformatted note.

NOTE:
{{.Note}}`

const defaultVerificationPrompt = `You are checking a reformatted clinical note against formatting rules.
Patient: {{.PatientName}}

Correct the note below so that:
- the Chief Complaint, History of Present Illness, Assessment and Plan sections are present and non-empty
- no placeholder text such as [unclear], TODO or ??? remains
- medications keep their original doses and units

Return only the corrected note.

NOTE:
{{.Note}}`

// Default returns the built-in catalog.
func Default() *Snapshot {
	s, err := New(DefaultVersion, Prompts{
		Initial:      defaultInitialPrompt,
		Verification: defaultVerificationPrompt,
	}, defaultRequirements(), defaultTriggers())
	if err != nil {
		panic("built-in catalog is invalid: " + err.Error())
	}
	return s
}

func defaultRequirements() []Requirement {
	return []Requirement{
		{
			ID:           "assessment-section",
			Name:         "Assessment present",
			Priority:     model.PriorityCritical,
			Description:  "The note documents an assessment.",
			ErrorMessage: "Assessment section is missing or empty",
			Predicate:    Predicate{Kind: PredicateSection, Value: "Assessment"},
		},
		{
			ID:           "plan-section",
			Name:         "Plan present",
			Priority:     model.PriorityCritical,
			Description:  "The note documents a plan of care.",
			ErrorMessage: "Plan section is missing or empty",
			Predicate:    Predicate{Kind: PredicateSection, Value: "Plan"},
		},
		{
			ID:           "no-placeholders",
			Name:         "No placeholder text",
			Priority:     model.PriorityCritical,
			Description:  "Transcription placeholders must be resolved before upload.",
			ErrorMessage: "Note contains unresolved placeholder text",
			Predicate:    Predicate{Kind: PredicateNotRegex, Value: `\[(unclear|inaudible|blank)\]|\?\?\?|\bTODO\b`},
		},
		{
			ID:           "chief-complaint",
			Name:         "Chief complaint present",
			Priority:     model.PriorityHigh,
			Description:  "The note states the reason for the visit.",
			ErrorMessage: "Chief Complaint section is missing or empty",
			Predicate:    Predicate{Kind: PredicateSection, Value: "Chief Complaint"},
		},
		{
			ID:           "hpi-section",
			Name:         "HPI present",
			Priority:     model.PriorityHigh,
			Description:  "The note includes a history of present illness.",
			ErrorMessage: "History of Present Illness section is missing or empty",
			Predicate:    Predicate{Kind: PredicateSection, Value: "History of Present Illness"},
		},
		{
			ID:           "minimum-length",
			Name:         "Minimum length",
			Priority:     model.PriorityMedium,
			Description:  "Very short notes usually mean the transform dropped content.",
			ErrorMessage: "Note is shorter than expected",
			Predicate:    Predicate{Kind: PredicateMinLength, Length: 80},
		},
		{
			ID:           "no-markdown",
			Name:         "No markdown formatting",
			Priority:     model.PriorityLow,
			Description:  "The destination renders plain text only.",
			ErrorMessage: "Note contains markdown formatting",
			Predicate:    Predicate{Kind: PredicateNotRegex, Value: "(?m)^\\s*(#{1,6}\\s|\\*\\*|```)"},
		},
	}
}

func defaultTriggers() []InterventionTrigger {
	return []InterventionTrigger{
		{ID: "critical-failures", Kind: TriggerCriticalFailures, Description: "Critical validation check failed"},
		{ID: "low-confidence-match", Kind: TriggerLowTier, Description: "Low-confidence patient match"},
		{ID: "ambiguous-match", Kind: TriggerAmbiguousMatch, Description: "Multiple equally plausible destination records"},
		{ID: "unmatched", Kind: TriggerUnmatched, Description: "No destination record matched"},
		{ID: "failure-ratio", Kind: TriggerFailureRatio, Threshold: 0.5, Description: "More than half of validation checks failed"},
		{ID: "processing-failed", Kind: TriggerProcessingFailed, Description: "AI processing failed"},
	}
}

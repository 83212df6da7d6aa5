package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/notesync/internal/model"
)

const testYAML = `version: "2024-06"
prompts:
  initial: "Clean this note for {{.PatientName}}: {{.Note}}"
  verification: "Verify: {{.Note}}"
requirements:
  critical:
    - id: plan
      name: Plan present
      error_message: Plan missing
      check:
        kind: section
        value: Plan
  high:
    - id: no-todo
      name: No TODO
      error_message: Contains TODO
      check:
        kind: not_contains
        value: TODO
  low:
    - id: long-enough
      name: Long enough
      error_message: Too short
      check:
        kind: min_length
        length: 10
intervention_triggers:
  - id: crit
    kind: critical_failures
    description: Critical check failed
  - id: ratio
    kind: failure_ratio
    threshold: 0.5
    description: Too many failures
`

const testTOML = `version = "2024-06-toml"

[prompts]
initial = "Clean: {{.Note}}"
verification = "Verify: {{.Note}}"

[[requirements.critical]]
id = "assessment"
name = "Assessment present"
error_message = "Assessment missing"
[requirements.critical.check]
kind = "section"
value = "Assessment"

[[intervention_triggers]]
id = "low"
kind = "low_tier"
description = "Low confidence match"
`

func TestParse_YAML(t *testing.T) {
	s, err := Parse([]byte(testYAML), FormatYAML)
	require.NoError(t, err)

	assert.Equal(t, "2024-06", s.Version())
	reqs := s.Requirements()
	require.Len(t, reqs, 3)
	assert.Equal(t, model.PriorityCritical, reqs[0].Priority)
	assert.Equal(t, model.PriorityHigh, reqs[1].Priority)
	assert.Equal(t, model.PriorityLow, reqs[2].Priority)
	assert.Len(t, s.Triggers(), 2)
	assert.Equal(t, 0.5, s.Triggers()[1].Threshold)

	prompt, err := s.RenderInitial(PromptData{PatientName: "Jane Doe", Note: "raw"})
	require.NoError(t, err)
	assert.Equal(t, "Clean this note for Jane Doe: raw", prompt)
}

func TestParse_TOML(t *testing.T) {
	s, err := Parse([]byte(testTOML), FormatTOML)
	require.NoError(t, err)

	assert.Equal(t, "2024-06-toml", s.Version())
	require.Len(t, s.Requirements(), 1)
	assert.Equal(t, PredicateSection, s.Requirements()[0].Predicate.Kind)
	require.Len(t, s.Triggers(), 1)
	assert.Equal(t, TriggerLowTier, s.Triggers()[0].Kind)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{
			name: "unknown field",
			doc:  "version: x\nbogus: 1\n",
		},
		{
			name: "missing prompts",
			doc:  "version: x\n",
		},
		{
			name: "bad regex",
			doc: `version: x
prompts: {initial: "a", verification: "b"}
requirements:
  high:
    - id: r
      error_message: e
      check: {kind: regex, value: "("}
`,
		},
		{
			name: "duplicate ids",
			doc: `version: x
prompts: {initial: "a", verification: "b"}
requirements:
  high:
    - {id: r, error_message: e, check: {kind: contains, value: a}}
  low:
    - {id: r, error_message: e, check: {kind: contains, value: b}}
`,
		},
		{
			name: "unknown trigger kind",
			doc: `version: x
prompts: {initial: "a", verification: "b"}
intervention_triggers:
  - {id: t, kind: moon_phase}
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc), FormatYAML)
			assert.ErrorIs(t, err, ErrInvalidCatalog)
		})
	}
}

func TestEncode_RoundTrip(t *testing.T) {
	for _, format := range []Format{FormatYAML, FormatTOML} {
		t.Run(string(format), func(t *testing.T) {
			orig := Default()
			data, err := Encode(orig, format)
			require.NoError(t, err)

			parsed, err := Parse(data, format)
			require.NoError(t, err)

			assert.Equal(t, orig.Version(), parsed.Version())
			assert.Equal(t, orig.Prompts(), parsed.Prompts())
			require.Len(t, parsed.Requirements(), len(orig.Requirements()))
			for i, req := range orig.Requirements() {
				got := parsed.Requirements()[i]
				assert.Equal(t, req.ID, got.ID)
				assert.Equal(t, req.Priority, got.Priority)
				assert.Equal(t, req.Predicate.Kind, got.Predicate.Kind)
				assert.Equal(t, req.Predicate.Value, got.Predicate.Value)
			}
			assert.Equal(t, orig.Triggers(), parsed.Triggers())
		})
	}
}

func TestPredicate_Evaluate(t *testing.T) {
	compile := func(p Predicate) Predicate {
		t.Helper()
		c, err := compilePredicate(p)
		require.NoError(t, err)
		return c
	}

	note := "Chief Complaint: cough\nAssessment:\n  Viral URI\nPlan:\n\nFollow-up:\n"

	tests := []struct {
		name string
		pred Predicate
		want bool
	}{
		{"contains case-insensitive", compile(Predicate{Kind: PredicateContains, Value: "VIRAL"}), true},
		{"contains case-sensitive", compile(Predicate{Kind: PredicateContains, Value: "VIRAL", CaseSensitive: true}), false},
		{"not contains", compile(Predicate{Kind: PredicateNotContains, Value: "TODO"}), true},
		{"regex", compile(Predicate{Kind: PredicateRegex, Value: `chief\s+complaint`}), true},
		{"not regex", compile(Predicate{Kind: PredicateNotRegex, Value: `\?\?\?`}), true},
		{"section inline content", compile(Predicate{Kind: PredicateSection, Value: "Chief Complaint"}), true},
		{"section content on next line", compile(Predicate{Kind: PredicateSection, Value: "Assessment"}), true},
		{"section followed by heading", compile(Predicate{Kind: PredicateSection, Value: "Plan"}), false},
		{"section missing", compile(Predicate{Kind: PredicateSection, Value: "Medications"}), false},
		{"min length", compile(Predicate{Kind: PredicateMinLength, Length: 500}), false},
		{"max length", compile(Predicate{Kind: PredicateMaxLength, Length: 500}), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, detail := tt.pred.Evaluate(note)
			assert.Equal(t, tt.want, got)
			if !got {
				assert.NotEmpty(t, detail)
			}
		})
	}
}

func TestStore_Swap(t *testing.T) {
	first := Default()
	store := NewStore(first)

	held := store.Current()
	second, err := Parse([]byte(testYAML), FormatYAML)
	require.NoError(t, err)

	prev := store.Swap(second)
	assert.Same(t, first, prev)
	assert.Same(t, second, store.Current())
	// A snapshot captured before the swap is unchanged.
	assert.Equal(t, DefaultVersion, held.Version())
}

func TestStore_Watch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testYAML), 0o600))

	store := NewStore(Default())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	swapped := make(chan *Snapshot, 16)
	done := make(chan error, 1)
	go func() {
		done <- store.Watch(ctx, path, nil, func(s *Snapshot) { swapped <- s })
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	updated := []byte(testYAML[len(`version: "2024-06"`):])
	updated = append([]byte(`version: "2024-07"`), updated...)
	require.NoError(t, os.WriteFile(path, updated, 0o600))

	select {
	case s := <-swapped:
		assert.Equal(t, "2024-07", s.Version())
		assert.Equal(t, "2024-07", store.Current().Version())
	case <-time.After(5 * time.Second):
		t.Fatal("catalog was not reloaded")
	}

	cancel()
	require.NoError(t, <-done)
}

func TestDefault(t *testing.T) {
	s := Default()
	grouped := s.RequirementsByPriority()
	assert.NotEmpty(t, grouped[model.PriorityCritical])
	assert.NotEmpty(t, s.Triggers())
}

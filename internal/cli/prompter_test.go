package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/notesync/internal/model"
)

func flaggedResult() *model.ProcessingResult {
	return &model.ProcessingResult{
		ID:                        "r-1",
		PatientName:               "Jane Doe",
		VisitDate:                 time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC),
		FinalCleanedNote:          "SUBJECTIVE: cough for three days.",
		ProcessingStatus:          model.ProcessingValidated,
		ReviewStatus:              model.ReviewPending,
		MatchTier:                 model.TierLow,
		TotalChecks:               3,
		PassedChecks:              2,
		FailedChecks:              1,
		RequiresHumanIntervention: true,
		InterventionReasons:       []string{"Low-confidence patient match"},
		Checks: []model.ValidationCheck{
			{ID: "plan", Name: "Plan section present", Priority: model.PriorityHigh, Message: "missing PLAN"},
			{ID: "subjective", Name: "Subjective section present", Priority: model.PriorityHigh, Passed: true},
		},
	}
}

func TestPrompter_ReviewNote(t *testing.T) {
	tests := []struct {
		name          string
		input         string
		expected      Decision
		expectAborted bool
	}{
		{
			name:     "approve without notes",
			input:    "a\n\n",
			expected: Decision{Status: model.ReviewApproved},
		},
		{
			name:     "approve with notes",
			input:    "A\nchecked against chart\n",
			expected: Decision{Status: model.ReviewApproved, Notes: "checked against chart"},
		},
		{
			name:     "needs revision requires a note",
			input:    "n\n\nadd the plan section\n",
			expected: Decision{Status: model.ReviewNeedsRevision, Notes: "add the plan section"},
		},
		{
			name:     "reject",
			input:    "r\nwrong patient\n",
			expected: Decision{Status: model.ReviewRejected, Notes: "wrong patient"},
		},
		{
			name:     "invalid choice then skip",
			input:    "x\ns\n",
			expected: Decision{Skipped: true},
		},
		{
			name:          "quit",
			input:         "q\n",
			expectAborted: true,
		},
		{
			name:          "input ends",
			input:         "",
			expectAborted: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			p := NewPrompter(strings.NewReader(tt.input), &out)

			got, err := p.ReviewNote(context.Background(), flaggedResult())

			if tt.expectAborted {
				assert.ErrorIs(t, err, ErrReviewAborted)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestPrompter_ShowsWhyNoteNeedsReview(t *testing.T) {
	var out bytes.Buffer
	p := NewPrompter(strings.NewReader("s\n"), &out)

	_, err := p.ReviewNote(context.Background(), flaggedResult())
	require.NoError(t, err)

	text := out.String()
	assert.Contains(t, text, "Jane Doe")
	assert.Contains(t, text, "Low-confidence patient match")
	assert.Contains(t, text, "Plan section present")
	assert.NotContains(t, text, "Subjective section present")
	assert.Contains(t, text, "SUBJECTIVE: cough")
}

func TestPrompter_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewPrompter(strings.NewReader("a\n"), &bytes.Buffer{})
	_, err := p.ReviewNote(ctx, flaggedResult())
	assert.ErrorIs(t, err, ErrInputCancelled)
}

func TestPrompter_Stats(t *testing.T) {
	var out bytes.Buffer
	p := NewPrompter(strings.NewReader("a\n\nr\ndup\ns\nn\nfix\n"), &out)
	p.SetTotal(4)

	for range 4 {
		_, err := p.ReviewNote(context.Background(), flaggedResult())
		require.NoError(t, err)
	}

	stats := p.Stats()
	assert.Equal(t, 3, stats.Reviewed())
	assert.Equal(t, 1, stats.Approved)
	assert.Equal(t, 1, stats.Rejected)
	assert.Equal(t, 1, stats.NeedsRevision)
	assert.Equal(t, 1, stats.Skipped)

	p.ShowCompletion()
	assert.Contains(t, out.String(), "Review Session Complete")
}

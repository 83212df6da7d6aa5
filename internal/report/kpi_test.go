package report

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/notesync/internal/model"
	"github.com/Veraticus/notesync/internal/service"
	"github.com/Veraticus/notesync/internal/testutil"
)

func TestFromStats(t *testing.T) {
	tests := []struct {
		name           string
		stats          *service.PipelineStats
		wantCompletion float64
		wantMatch      float64
	}{
		{
			name: "empty",
			stats: &service.PipelineStats{
				ByTier:             map[model.Tier]int{},
				ByProcessingStatus: map[model.ProcessingStatus]int{},
			},
		},
		{
			name: "mixed",
			stats: &service.PipelineStats{
				Total:              8,
				ByTier:             map[model.Tier]int{model.TierHigh: 4, model.TierMedium: 2, model.TierLow: 1, model.TierUnmatched: 1},
				ByProcessingStatus: map[model.ProcessingStatus]int{model.ProcessingValidated: 6, model.ProcessingFailed: 1, model.ProcessingPending: 1},
			},
			wantCompletion: 0.75,
			wantMatch:      0.75,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k := FromStats("b1", tt.stats)
			assert.Equal(t, "b1", k.BatchID)
			assert.InDelta(t, tt.wantCompletion, k.CompletionRate, 1e-9)
			assert.InDelta(t, tt.wantMatch, k.MatchSuccessRate, 1e-9)
			assert.Len(t, k.Rows(), 19)
		})
	}
}

func TestCompute(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	high := db.SeedResult(testutil.Note("n1", "Jane Doe", "2024-01-15"), model.TierHigh, "b1")
	db.SeedResult(testutil.Note("n2", "Bob Smith", "2024-01-16"), model.TierUnmatched, "b1")
	db.SeedResult(testutil.Note("n3", "Sam Roe", "2024-01-17"), model.TierMedium, "b2")

	high.Step1Note = "draft"
	high.Step2Note = testutil.CleanNote
	high.FinalCleanedNote = testutil.CleanNote
	for _, next := range []model.ProcessingStatus{model.ProcessingStep1Done, model.ProcessingStep2Done, model.ProcessingValidated} {
		require.NoError(t, high.Transition(next))
	}
	require.NoError(t, db.Storage.UpdateProcessingResult(ctx, high))

	all, err := Compute(ctx, db.Storage, "")
	require.NoError(t, err)
	assert.Equal(t, 3, all.Total)
	assert.Equal(t, 1, all.Funnel.Validated)
	assert.Equal(t, 2, all.Funnel.Pending)
	assert.InDelta(t, 2.0/3.0, all.MatchSuccessRate, 1e-9)

	b1, err := Compute(ctx, db.Storage, "b1")
	require.NoError(t, err)
	assert.Equal(t, 2, b1.Total)
	assert.Equal(t, 1, b1.Match.High)
	assert.Equal(t, 1, b1.Match.Unmatched)
	assert.InDelta(t, 0.5, b1.CompletionRate, 1e-9)
	assert.Equal(t, 2, b1.Uploads.NotUploaded)
}

package upload

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/notesync/internal/batch"
	"github.com/Veraticus/notesync/internal/common"
	"github.com/Veraticus/notesync/internal/model"
	"github.com/Veraticus/notesync/internal/service"
	"github.com/Veraticus/notesync/internal/testutil"
)

func fastOptions() Options {
	return Options{
		Concurrency: 3,
		Retry: service.RetryOptions{
			MaxAttempts:  3,
			InitialDelay: time.Millisecond,
			MaxDelay:     5 * time.Millisecond,
			Multiplier:   2,
		},
	}
}

type setup struct {
	db   *testutil.TestDB
	dest *testutil.FakeDestination
	orch *Orchestrator
}

func newSetup(t *testing.T) *setup {
	t.Helper()
	db := testutil.SetupTestDB(t)
	dest := testutil.NewFakeDestination()
	return &setup{
		db:   db,
		dest: dest,
		orch: NewOrchestrator(db.Storage, dest, batch.NewTracker(db.Storage, nil), nil, nil, fastOptions()),
	}
}

// validatedResult stores a validated note with the given review decision and
// critical failure count.
func (s *setup) validatedResult(t *testing.T, noteID string, tier model.Tier, decision model.ReviewStatus, critical int) *model.ProcessingResult {
	t.Helper()
	result := s.db.SeedResult(testutil.Note(noteID, "Patient "+noteID, "2024-01-15"), tier, "b1")

	result.Step1Note = "draft"
	result.Step2Note = testutil.CleanNote
	result.FinalCleanedNote = testutil.CleanNote
	for _, next := range []model.ProcessingStatus{model.ProcessingStep1Done, model.ProcessingStep2Done, model.ProcessingValidated} {
		require.NoError(t, result.Transition(next))
	}
	result.TotalChecks = 7
	result.FailedChecks = critical
	result.PassedChecks = 7 - critical
	result.CriticalFailures = critical
	if critical > 0 {
		result.RequiresHumanIntervention = true
		result.InterventionReasons = []string{"Critical validation check failed"}
	}
	if decision != model.ReviewPending {
		require.NoError(t, result.SetReviewStatus(decision))
	}
	require.NoError(t, s.db.Storage.UpdateProcessingResult(context.Background(), result))
	return result
}

func TestUpload_ClassifiesOutcomes(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()

	ok := s.validatedResult(t, "ok", model.TierHigh, model.ReviewApproved, 0)
	pending := s.validatedResult(t, "pending", model.TierHigh, model.ReviewPending, 0)
	revise := s.validatedResult(t, "revise", model.TierHigh, model.ReviewNeedsRevision, 0)
	critical := s.validatedResult(t, "critical", model.TierHigh, model.ReviewApproved, 1)
	rejected := s.validatedResult(t, "rejected", model.TierHigh, model.ReviewApproved, 0)
	down := s.validatedResult(t, "down", model.TierHigh, model.ReviewApproved, 0)
	flaky := s.validatedResult(t, "flaky", model.TierHigh, model.ReviewApproved, 0)
	s.db.SeedBatch("b1", ok, pending, revise, critical, rejected, down, flaky)

	s.dest.FailNext(rejected.ID, fmt.Errorf("%w: signed note conflict", common.ErrUploadRejected))
	transport := fmt.Errorf("%w: 503", common.ErrUploadTransport)
	s.dest.FailNext(down.ID, transport, transport, transport)
	s.dest.FailNext(flaky.ID, transport)

	ids := []string{ok.ID, pending.ID, revise.ID, critical.ID, rejected.ID, down.ID, flaky.ID, "missing"}
	summary, err := s.orch.Upload(ctx, ids)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Success)
	assert.Equal(t, 2, summary.Failure)
	assert.Equal(t, 4, summary.Flagged)
	assert.Len(t, summary.Outcomes, len(ids))
	assert.Equal(t, "missing", summary.Outcomes[7].ResultID)

	tests := []struct {
		id        string
		status    model.UploadStatus
		wantTries int
	}{
		{ok.ID, model.UploadUploaded, 1},
		{pending.ID, model.UploadFlagged, 0},
		{revise.ID, model.UploadFlagged, 0},
		{critical.ID, model.UploadFlagged, 0},
		{rejected.ID, model.UploadFlagged, 1},
		{down.ID, model.UploadFailed, 3},
		{flaky.ID, model.UploadUploaded, 2},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			stored := s.db.MustResult(tt.id)
			assert.Equal(t, tt.status, stored.UploadStatus)
			assert.Equal(t, tt.wantTries, s.dest.Attempts(tt.id), "pushes sent")

			attempts, err := s.db.Storage.ListUploadAttempts(ctx, tt.id)
			require.NoError(t, err)
			require.Len(t, attempts, 1)
			assert.Equal(t, tt.status, attempts[0].Status)
			assert.Equal(t, tt.wantTries, attempts[0].Tries)
			if tt.status == model.UploadUploaded {
				assert.NotNil(t, stored.UploadedAt)
			} else {
				assert.NotEmpty(t, attempts[0].Detail)
			}
		})
	}

	run := s.db.MustBatch("b1")
	assert.Equal(t, 2, run.UploadedCount)
	assert.Equal(t, 1, run.UploadFailedCount, "the missing id has no batch")
	assert.Equal(t, 4, run.UploadFlaggedCount)
}

func TestUpload_PendingReviewIsNeverSent(t *testing.T) {
	s := newSetup(t)
	result := s.validatedResult(t, "n1", model.TierHigh, model.ReviewPending, 0)

	summary, err := s.orch.Upload(context.Background(), []string{result.ID})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Flagged)
	assert.Zero(t, s.dest.Attempts(result.ID))
	assert.Empty(t, s.dest.Pushed())
}

func TestUpload_AlreadyUploadedIsSkipped(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()
	result := s.validatedResult(t, "n1", model.TierHigh, model.ReviewApproved, 0)
	s.db.SeedBatch("b1", result)

	first, err := s.orch.Upload(ctx, []string{result.ID, result.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Success)
	assert.Equal(t, 1, first.Skipped)

	second, err := s.orch.Upload(ctx, []string{result.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, second.Skipped)
	assert.Zero(t, second.Success)

	assert.Len(t, s.dest.Pushed(), 1)
	assert.Equal(t, 1, s.db.MustBatch("b1").UploadedCount)
}

func TestUpload_RepeatedRequestsCountNoteOnce(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()
	result := s.validatedResult(t, "n1", model.TierHigh, model.ReviewPending, 0)
	s.db.SeedBatch("b1", result)

	for range 3 {
		summary, err := s.orch.Upload(ctx, []string{result.ID})
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Flagged)
	}
	assert.Equal(t, 1, s.db.MustBatch("b1").UploadFlaggedCount)

	stored := s.db.MustResult(result.ID)
	require.NoError(t, stored.SetReviewStatus(model.ReviewApproved))
	require.NoError(t, s.db.Storage.UpdateProcessingResult(ctx, stored))

	summary, err := s.orch.Upload(ctx, []string{result.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Success)

	run := s.db.MustBatch("b1")
	assert.Equal(t, 1, run.UploadedCount)
	assert.Zero(t, run.UploadFlaggedCount)
}

func TestUpload_FailedNoteCanBeRetried(t *testing.T) {
	s := newSetup(t)
	ctx := context.Background()
	result := s.validatedResult(t, "n1", model.TierHigh, model.ReviewApproved, 0)
	s.db.SeedBatch("b1", result)

	transport := fmt.Errorf("%w: connection reset", common.ErrUploadTransport)
	s.dest.FailNext(result.ID, transport, transport, transport)

	first, err := s.orch.Upload(ctx, []string{result.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Failure)
	assert.Equal(t, model.UploadFailed, s.db.MustResult(result.ID).UploadStatus)

	second, err := s.orch.Upload(ctx, []string{result.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, second.Success)
	assert.Equal(t, model.UploadUploaded, s.db.MustResult(result.ID).UploadStatus)

	run := s.db.MustBatch("b1")
	assert.Zero(t, run.UploadFailedCount, "the note moved from failed to uploaded")
	assert.Equal(t, 1, run.UploadedCount)

	attempts, err := s.db.Storage.ListUploadAttempts(ctx, result.ID)
	require.NoError(t, err)
	assert.Len(t, attempts, 2)
}

func TestUpload_AddressesMatchedRecord(t *testing.T) {
	s := newSetup(t)
	matched := s.validatedResult(t, "n1", model.TierHigh, model.ReviewApproved, 0)
	unmatched := s.validatedResult(t, "n2", model.TierUnmatched, model.ReviewApproved, 0)

	_, err := s.orch.Upload(context.Background(), []string{matched.ID, unmatched.ID})
	require.NoError(t, err)

	byID := make(map[string]*string)
	for _, req := range s.dest.Pushed() {
		byID[req.ResultID] = req.DestinationID
		assert.Equal(t, testutil.CleanNote, req.Note)
	}
	require.Contains(t, byID, matched.ID)
	require.NotNil(t, byID[matched.ID])
	assert.Equal(t, "d-n1", *byID[matched.ID])
	assert.Nil(t, byID[unmatched.ID])
}

func TestUpload_ManyNotesConcurrently(t *testing.T) {
	s := newSetup(t)
	ids := make([]string, 12)
	results := make([]*model.ProcessingResult, len(ids))
	for i := range ids {
		results[i] = s.validatedResult(t, fmt.Sprintf("n%02d", i), model.TierHigh, model.ReviewApproved, 0)
		ids[i] = results[i].ID
	}
	s.db.SeedBatch("b1", results...)

	summary, err := s.orch.Upload(context.Background(), ids)
	require.NoError(t, err)
	assert.Equal(t, 12, summary.Success)
	assert.Equal(t, 12, s.db.MustBatch("b1").UploadedCount)
}

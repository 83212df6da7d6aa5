package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/notesync/internal/common"
	"github.com/Veraticus/notesync/internal/model"
)

func newBatch(id string, total int) *model.BatchRun {
	return &model.BatchRun{
		ID:         "run-" + id,
		BatchID:    id,
		StartDate:  day("2024-01-01"),
		EndDate:    day("2024-01-31"),
		TotalNotes: total,
		Status:     model.BatchRunning,
	}
}

// applyOutcome mirrors how the tracker folds an outcome into a batch.
func applyOutcome(next model.Outcome) func(*model.BatchRun, *model.Outcome) (*model.Outcome, error) {
	return func(run *model.BatchRun, prev *model.Outcome) (*model.Outcome, error) {
		changed, err := run.ApplyOutcome(prev, next, time.Now())
		if err != nil || !changed {
			return nil, err
		}
		return &next, nil
	}
}

func TestCreateBatch(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	require.NoError(t, store.CreateBatch(ctx, newBatch("b1", 2), []string{"r2", "r1"}))

	got, err := store.GetBatch(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.TotalNotes)
	assert.Equal(t, model.BatchRunning, got.Status)
	assert.Nil(t, got.CompletedAt)

	members, err := store.ListBatchMembers(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, []string{"r1", "r2"}, members)

	err = store.CreateBatch(ctx, newBatch("b1", 0), nil)
	assert.ErrorIs(t, err, common.ErrDuplicateEntry)

	err = store.CreateBatch(ctx, newBatch("b2", 3), []string{"r1"})
	assert.ErrorIs(t, err, ErrInvalidBatch)

	_, err = store.GetBatch(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestUpdateBatchMember_CountsAndCompletes(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	require.NoError(t, store.CreateBatch(ctx, newBatch("b1", 3), []string{"r1", "r2", "r3"}))

	run, err := store.UpdateBatchMember(ctx, "b1", "r1", applyOutcome(model.OutcomeSuccess))
	require.NoError(t, err)
	assert.Equal(t, 1, run.ProcessedNotes)

	// Reporting the same outcome twice does not double count.
	run, err = store.UpdateBatchMember(ctx, "b1", "r1", applyOutcome(model.OutcomeSuccess))
	require.NoError(t, err)
	assert.Equal(t, 1, run.ProcessedNotes)
	assert.Equal(t, 1, run.SuccessCount)

	_, err = store.UpdateBatchMember(ctx, "b1", "r2", applyOutcome(model.OutcomeFailed))
	require.NoError(t, err)

	// A retried note moves between counters without changing processed.
	run, err = store.UpdateBatchMember(ctx, "b1", "r2", applyOutcome(model.OutcomeNeedsReview))
	require.NoError(t, err)
	assert.Equal(t, 2, run.ProcessedNotes)
	assert.Equal(t, 0, run.FailedCount)
	assert.Equal(t, 1, run.NeedsReviewCount)

	run, err = store.UpdateBatchMember(ctx, "b1", "r3", applyOutcome(model.OutcomeFailed))
	require.NoError(t, err)
	assert.Equal(t, model.BatchCompleted, run.Status)
	require.NotNil(t, run.CompletedAt)

	stored, err := store.GetBatch(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 3, stored.ProcessedNotes)
	assert.Equal(t, 1, stored.SuccessCount)
	assert.Equal(t, 1, stored.NeedsReviewCount)
	assert.Equal(t, 1, stored.FailedCount)
	assert.Equal(t, model.BatchCompleted, stored.Status)
	assert.NotNil(t, stored.CompletedAt)

	_, err = store.UpdateBatchMember(ctx, "b1", "r3", applyOutcome(model.OutcomeSuccess))
	assert.ErrorIs(t, err, model.ErrBatchClosed)
}

func TestUpdateBatchMember_Errors(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()
	require.NoError(t, store.CreateBatch(ctx, newBatch("b1", 1), []string{"r1"}))

	_, err := store.UpdateBatchMember(ctx, "b1", "stranger", applyOutcome(model.OutcomeSuccess))
	assert.ErrorIs(t, err, common.ErrNotBatchMember)

	_, err = store.UpdateBatchMember(ctx, "nope", "r1", applyOutcome(model.OutcomeSuccess))
	assert.ErrorIs(t, err, common.ErrNotFound)

	_, err = store.UpdateBatchMember(ctx, "b1", "r1", nil)
	assert.ErrorIs(t, err, ErrNilParameter)

	// A failing update leaves the batch untouched.
	_, err = store.UpdateBatchMember(ctx, "b1", "r1", applyOutcome(model.Outcome("bogus")))
	require.Error(t, err)
	run, err := store.GetBatch(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, 0, run.ProcessedNotes)
}

func TestUploadCountsAndCancel(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	statuses := []model.UploadStatus{model.UploadFailed, model.UploadFlagged, model.UploadFlagged, model.UploadNotUploaded}
	ids := make([]string, len(statuses))
	for i, status := range statuses {
		note := seedNote(t, store, fmt.Sprintf("n%d", i), "Jane Doe", "2024-01-15")
		result := newResult(note, model.TierHigh)
		result.UploadStatus = status
		require.NoError(t, store.CreateProcessingResult(ctx, result))
		ids[i] = result.ID
	}
	require.NoError(t, store.CreateBatch(ctx, newBatch("b1", len(ids)), ids))

	// Refreshing twice must not double count.
	require.NoError(t, store.RefreshUploadCounts(ctx, "b1"))
	require.NoError(t, store.RefreshUploadCounts(ctx, "b1"))
	require.NoError(t, store.SetBatchCancelled(ctx, "b1"))

	run, err := store.GetBatch(ctx, "b1")
	require.NoError(t, err)
	assert.Zero(t, run.UploadedCount)
	assert.Equal(t, 1, run.UploadFailedCount)
	assert.Equal(t, 2, run.UploadFlaggedCount)
	assert.True(t, run.Cancelled)

	assert.ErrorIs(t, store.RefreshUploadCounts(ctx, "missing"), common.ErrNotFound)
	assert.ErrorIs(t, store.SetBatchCancelled(ctx, "missing"), common.ErrNotFound)
}

func TestListBatches(t *testing.T) {
	store, cleanup := createTestStorage(t)
	defer cleanup()
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"older", "newer", "newest"} {
		run := newBatch(id, 0)
		run.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, store.CreateBatch(ctx, run, nil))
	}

	runs, err := store.ListBatches(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "newest", runs[0].BatchID)
	assert.Equal(t, "newer", runs[1].BatchID)
}

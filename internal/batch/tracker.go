// Package batch owns BatchRun counters. No other component mutates them.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Veraticus/notesync/internal/common"
	"github.com/Veraticus/notesync/internal/model"
	"github.com/Veraticus/notesync/internal/service"
)

// Tracker aggregates per-note outcomes into batch runs.
type Tracker struct {
	store  service.Storage
	logger *slog.Logger
	now    func() time.Time
}

// NewTracker creates a tracker persisting to store.
func NewTracker(store service.Storage, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{store: store, logger: logger, now: time.Now}
}

// CreateBatch starts a batch over the given processing result ids. A batch
// without members is complete from the start.
func (t *Tracker) CreateBatch(ctx context.Context, resultIDs []string, dates model.DateRange) (*model.BatchRun, error) {
	now := t.now()
	id := uuid.New()
	run := &model.BatchRun{
		ID:         id.String(),
		BatchID:    fmt.Sprintf("batch-%s-%s", now.Format("20060102"), id.String()[:8]),
		StartDate:  model.DateOnly(dates.Start),
		EndDate:    model.DateOnly(dates.End),
		TotalNotes: len(resultIDs),
		Status:     model.BatchRunning,
		CreatedAt:  now,
	}
	if run.TotalNotes == 0 {
		run.Status = model.BatchCompleted
		run.CompletedAt = &now
	}

	if err := t.store.CreateBatch(ctx, run, resultIDs); err != nil {
		return nil, fmt.Errorf("failed to create batch: %w", err)
	}

	t.logger.Info("Batch created", "batch_id", run.BatchID, "notes", run.TotalNotes)
	return run, nil
}

// OnStageComplete records how a member note resolved. Reporting the same
// outcome again is a no-op, and a changed outcome moves the count between
// counters while the batch is running. Completed batches return
// common.ErrBatchCompleted.
func (t *Tracker) OnStageComplete(ctx context.Context, batchID, resultID string, outcome model.Outcome) (*model.BatchRun, error) {
	run, err := t.store.UpdateBatchMember(ctx, batchID, resultID,
		func(run *model.BatchRun, prev *model.Outcome) (*model.Outcome, error) {
			changed, err := run.ApplyOutcome(prev, outcome, t.now())
			if err != nil || !changed {
				return nil, err
			}
			return &outcome, nil
		})
	if errors.Is(err, model.ErrBatchClosed) {
		return nil, fmt.Errorf("%w: %s", common.ErrBatchCompleted, batchID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to record outcome for %s: %w", resultID, err)
	}

	if run.Status == model.BatchCompleted {
		t.logger.Info("Batch completed",
			"batch_id", batchID,
			"success", run.SuccessCount,
			"needs_review", run.NeedsReviewCount,
			"failed", run.FailedCount)
	}
	return run, nil
}

// Cancel stops new notes of the batch from entering the pipeline. Notes
// already in flight finish.
func (t *Tracker) Cancel(ctx context.Context, batchID string) error {
	if err := t.store.SetBatchCancelled(ctx, batchID); err != nil {
		return fmt.Errorf("failed to cancel batch: %w", err)
	}
	t.logger.Info("Batch cancelled", "batch_id", batchID)
	return nil
}

// IsCancelled reports whether the batch was cancelled.
func (t *Tracker) IsCancelled(ctx context.Context, batchID string) (bool, error) {
	run, err := t.store.GetBatch(ctx, batchID)
	if err != nil {
		return false, err
	}
	return run.Cancelled, nil
}

// RecordUpload brings the batch's upload counters in line with its notes'
// current upload status. Each note counts once however often it was
// requested. Uploads happen after processing, so this is allowed on completed
// batches and never changes their status.
func (t *Tracker) RecordUpload(ctx context.Context, batchID string) error {
	if err := t.store.RefreshUploadCounts(ctx, batchID); err != nil {
		return fmt.Errorf("failed to record uploads: %w", err)
	}
	return nil
}

// Get returns a batch run.
func (t *Tracker) Get(ctx context.Context, batchID string) (*model.BatchRun, error) {
	return t.store.GetBatch(ctx, batchID)
}

// List returns recent batch runs, newest first.
func (t *Tracker) List(ctx context.Context, limit int) ([]model.BatchRun, error) {
	return t.store.ListBatches(ctx, limit)
}

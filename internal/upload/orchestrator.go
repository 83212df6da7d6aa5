// Package upload pushes approved notes to the destination system.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Veraticus/notesync/internal/common"
	"github.com/Veraticus/notesync/internal/connector"
	"github.com/Veraticus/notesync/internal/lock"
	"github.com/Veraticus/notesync/internal/model"
	"github.com/Veraticus/notesync/internal/service"
)

// BatchRecorder refreshes a batch's upload counters.
type BatchRecorder interface {
	RecordUpload(ctx context.Context, batchID string) error
}

// Options configures the orchestrator.
type Options struct {
	Retry       service.RetryOptions
	Concurrency int
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Retry:       service.DefaultRetryOptions(),
		Concurrency: 4,
	}
}

// Outcome is the result of uploading one note.
type Outcome struct {
	ResultID string
	BatchID  string
	Status   model.UploadStatus
	Detail   string
	Tries    int
	Skipped  bool
}

// Summary aggregates the outcomes of one Upload call. Skipped counts notes
// that were already uploaded and were not sent again.
type Summary struct {
	Outcomes []Outcome
	Success  int
	Failure  int
	Flagged  int
	Skipped  int
}

// Orchestrator delivers approved notes with retries and classifies failures.
type Orchestrator struct {
	store   service.Storage
	dest    connector.Destination
	batches BatchRecorder
	locks   *lock.Keyed
	logger  *slog.Logger
	now     func() time.Time
	opts    Options
}

// NewOrchestrator creates an orchestrator. locks must be shared with the
// pipeline and review engine.
func NewOrchestrator(store service.Storage, dest connector.Destination, batches BatchRecorder, locks *lock.Keyed, logger *slog.Logger, opts Options) *Orchestrator {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultOptions().Concurrency
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = service.DefaultRetryOptions()
	}
	if locks == nil {
		locks = lock.NewKeyed()
	}
	return &Orchestrator{
		store:   store,
		dest:    dest,
		batches: batches,
		locks:   locks,
		logger:  common.LoggerOrDefault(logger),
		now:     time.Now,
		opts:    opts,
	}
}

// Upload pushes each id independently. Notes without an approved review or
// with critical failures are flagged and never sent. Transport failures are
// retried with backoff and then counted as failures; destination rejections
// are flagged without retrying.
func (o *Orchestrator) Upload(ctx context.Context, ids []string) (*Summary, error) {
	outcomes := make([]Outcome, len(ids))

	var g errgroup.Group
	g.SetLimit(o.opts.Concurrency)
	for i, id := range ids {
		g.Go(func() error {
			outcomes[i] = o.uploadOne(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	summary := &Summary{Outcomes: outcomes}
	touched := make(map[string]struct{})
	for _, out := range outcomes {
		if out.Skipped {
			summary.Skipped++
			continue
		}
		switch out.Status {
		case model.UploadUploaded:
			summary.Success++
		case model.UploadFlagged:
			summary.Flagged++
		default:
			summary.Failure++
		}
		if out.BatchID != "" {
			touched[out.BatchID] = struct{}{}
		}
	}

	var errs []error
	if o.batches != nil {
		for batchID := range touched {
			if err := o.batches.RecordUpload(context.WithoutCancel(ctx), batchID); err != nil {
				errs = append(errs, fmt.Errorf("batch %s: %w", batchID, err))
			}
		}
	}

	o.logger.Info("Upload finished",
		"notes", len(ids),
		"success", summary.Success,
		"failure", summary.Failure,
		"flagged", summary.Flagged,
		"skipped", summary.Skipped)

	return summary, errors.Join(errs...)
}

func (o *Orchestrator) uploadOne(ctx context.Context, id string) Outcome {
	out := Outcome{ResultID: id, Status: model.UploadFailed}

	release, err := o.locks.Acquire(ctx, id)
	if err != nil {
		out.Detail = err.Error()
		return out
	}
	defer release()

	result, err := o.store.GetProcessingResult(ctx, id)
	if err != nil {
		out.Detail = err.Error()
		o.logger.Warn("Cannot upload note", "note_id", id, "error", err)
		return out
	}
	out.BatchID = result.BatchID

	if result.UploadStatus == model.UploadUploaded {
		out.Status = model.UploadUploaded
		out.Skipped = true
		out.Detail = common.ErrAlreadyUploaded.Error()
		return out
	}

	if blocker := result.UploadBlocker(); blocker != nil {
		out.Status = model.UploadFlagged
		out.Detail = blocker.Error()
		o.logger.Info("Upload refused", "note_id", id, "reason", blocker)
		return o.finish(ctx, result, out)
	}

	var destinationID *string
	match, err := o.store.GetMatchResult(ctx, result.SourceID)
	switch {
	case err == nil && match.IsMatched():
		destinationID = match.DestinationID
	case err != nil && !errors.Is(err, common.ErrNotFound):
		out.Detail = err.Error()
		return o.finish(ctx, result, out)
	}
	req := connector.NewUploadRequest(result, destinationID)

	pushErr := common.WithRetry(ctx, func() error {
		out.Tries++
		err := o.dest.Push(ctx, req)
		if errors.Is(err, common.ErrUploadRejected) {
			return common.Permanent(err)
		}
		return err
	}, o.opts.Retry)

	switch {
	case pushErr == nil:
		out.Status = model.UploadUploaded
	case errors.Is(pushErr, common.ErrUploadRejected):
		out.Status = model.UploadFlagged
		out.Detail = pushErr.Error()
		o.logger.Warn("Destination rejected note", "note_id", id, "error", pushErr)
	default:
		out.Detail = pushErr.Error()
		o.logger.Warn("Upload failed", "note_id", id, "tries", out.Tries, "error", pushErr)
	}
	return o.finish(ctx, result, out)
}

// finish persists the outcome. Bookkeeping outlives a cancelled context so a
// note that reached the destination is never left looking unsent.
func (o *Orchestrator) finish(ctx context.Context, result *model.ProcessingResult, out Outcome) Outcome {
	ctx = context.WithoutCancel(ctx)

	if err := result.SetUploadStatus(out.Status); err != nil {
		o.logger.Error("Invalid upload transition", "note_id", result.ID, "error", err)
		out.Status = model.UploadFailed
		out.Detail = err.Error()
		return out
	}
	if out.Status == model.UploadUploaded {
		now := o.now()
		result.UploadedAt = &now
	}
	if err := o.store.UpdateProcessingResult(ctx, result); err != nil {
		o.logger.Error("Failed to save upload status", "note_id", result.ID, "status", out.Status, "error", err)
	}
	if err := o.store.SaveUploadAttempt(ctx, &model.UploadAttempt{
		ResultID:  result.ID,
		Status:    out.Status,
		Detail:    out.Detail,
		Tries:     out.Tries,
		CreatedAt: o.now(),
	}); err != nil {
		o.logger.Error("Failed to record upload attempt", "note_id", result.ID, "error", err)
	}
	if out.Status == model.UploadUploaded {
		o.logger.Info("Note uploaded", "note_id", result.ID, "tries", out.Tries)
	}
	return out
}

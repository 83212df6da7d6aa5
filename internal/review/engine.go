package review

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Veraticus/notesync/internal/catalog"
	"github.com/Veraticus/notesync/internal/common"
	"github.com/Veraticus/notesync/internal/lock"
	"github.com/Veraticus/notesync/internal/model"
	"github.com/Veraticus/notesync/internal/service"
)

// Runner re-runs a note through the processing pipeline. The caller holds the
// note's lock.
type Runner interface {
	RunLocked(ctx context.Context, result *model.ProcessingResult, snap *catalog.Snapshot, maxAttempts int) (*model.ProcessingResult, error)
}

// Engine applies reviewer decisions and reprocessing requests.
type Engine struct {
	store    service.Storage
	runner   Runner
	catalogs *catalog.Store
	locks    *lock.Keyed
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine creates a review engine. locks must be the set the pipeline uses
// so reviews serialize with in-flight runs of the same note. runner may be nil
// when the engine only records decisions.
func NewEngine(store service.Storage, runner Runner, catalogs *catalog.Store, locks *lock.Keyed, logger *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		runner:   runner,
		catalogs: catalogs,
		locks:    locks,
		logger:   common.LoggerOrDefault(logger),
		now:      time.Now,
	}
}

// SubmitReview records a reviewer decision. Approval is stored even when the
// note has critical failures, but such a note stays ineligible for upload.
func (e *Engine) SubmitReview(ctx context.Context, resultID string, decision model.ReviewStatus, notes, reviewer string) (*model.ProcessingResult, error) {
	if !decision.IsDecision() {
		return nil, fmt.Errorf("%w: %q is not a review decision", model.ErrInvalidTransition, decision)
	}

	release, err := e.locks.Acquire(ctx, resultID)
	if err != nil {
		return nil, err
	}
	defer release()

	result, err := e.store.GetProcessingResult(ctx, resultID)
	if err != nil {
		return nil, err
	}
	if !result.ProcessingStatus.Terminal() {
		return nil, fmt.Errorf("%w: note %s is still %s", model.ErrInvalidTransition, resultID, result.ProcessingStatus)
	}
	if result.UploadStatus == model.UploadUploaded {
		return nil, fmt.Errorf("%w: %s", common.ErrAlreadyUploaded, resultID)
	}

	if result.ReviewStatus != decision {
		if err := result.SetReviewStatus(decision); err != nil {
			return nil, err
		}
	}
	now := e.now()
	result.ReviewNotes = strings.TrimSpace(notes)
	result.Reviewer = reviewer
	result.ReviewedAt = &now

	if err := e.store.UpdateProcessingResult(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to save review: %w", err)
	}
	if err := e.store.SaveReviewEvent(ctx, &model.ReviewEvent{
		ResultID:  resultID,
		Decision:  decision,
		Reviewer:  reviewer,
		Notes:     result.ReviewNotes,
		CreatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("failed to record review event: %w", err)
	}

	logger := e.logger.With("note_id", resultID, "decision", decision, "reviewer", reviewer)
	if decision == model.ReviewApproved && !result.UploadEligible() {
		logger.Warn("Approved note remains blocked from upload", "reason", result.UploadBlocker())
	} else {
		logger.Info("Review submitted")
	}
	return result, nil
}

// Reprocess sends a note back through the pipeline from pending with the
// current catalog. Notes that already used maxAttempts attempts are refused
// with common.ErrMaxAttemptsExceeded.
func (e *Engine) Reprocess(ctx context.Context, resultID string, maxAttempts int) (*model.ProcessingResult, error) {
	if maxAttempts <= 0 {
		return nil, fmt.Errorf("%w: max attempts must be positive", common.ErrInvalidConfig)
	}
	if e.runner == nil {
		return nil, fmt.Errorf("%w: review engine has no pipeline runner", common.ErrInvalidConfig)
	}

	release, err := e.locks.Acquire(ctx, resultID)
	if err != nil {
		return nil, err
	}
	defer release()

	result, err := e.store.GetProcessingResult(ctx, resultID)
	if err != nil {
		return nil, err
	}
	if result.UploadStatus == model.UploadUploaded {
		return nil, fmt.Errorf("%w: %s", common.ErrAlreadyUploaded, resultID)
	}
	if result.ProcessingAttempts >= maxAttempts {
		return nil, common.Permanent(fmt.Errorf("%w: note %s has %d of %d attempts",
			common.ErrMaxAttemptsExceeded, resultID, result.ProcessingAttempts, maxAttempts))
	}

	// A run that stopped mid-way is closed out before the reset.
	if !result.ProcessingStatus.Terminal() && result.ProcessingStatus != model.ProcessingPending {
		result.LastError = "interrupted"
		if err := result.Transition(model.ProcessingFailed); err != nil {
			return nil, err
		}
	}
	if err := result.ResetForReprocessing(); err != nil {
		return nil, err
	}
	if err := e.store.UpdateProcessingResult(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to reset note: %w", err)
	}
	if err := e.store.SaveReviewEvent(ctx, &model.ReviewEvent{
		ResultID:  resultID,
		Decision:  model.ReviewPending,
		Notes:     "reprocessing requested",
		CreatedAt: e.now(),
	}); err != nil {
		return nil, fmt.Errorf("failed to record review event: %w", err)
	}

	snap := e.catalogs.Current()
	e.logger.Info("Reprocessing note",
		"note_id", resultID,
		"attempt", result.ProcessingAttempts+1,
		"max_attempts", maxAttempts,
		"catalog_version", snap.Version())

	return e.runner.RunLocked(ctx, result, snap, maxAttempts)
}

// PendingReviews lists notes that need a human and have no final decision
// yet. An empty batchID lists every batch.
func (e *Engine) PendingReviews(ctx context.Context, batchID string) ([]model.ProcessingResult, error) {
	required := true
	return e.store.ListProcessingResults(ctx, service.ResultFilter{
		RequiresIntervention: &required,
		ReviewStatus:         []model.ReviewStatus{model.ReviewPending, model.ReviewNeedsRevision},
		BatchID:              batchID,
	})
}

// History returns the review events of a note, oldest first.
func (e *Engine) History(ctx context.Context, resultID string) ([]model.ReviewEvent, error) {
	return e.store.ListReviewEvents(ctx, resultID)
}

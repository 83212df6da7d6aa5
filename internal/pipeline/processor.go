// Package pipeline drives processing results through the AI cleaning steps
// and validation.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Veraticus/notesync/internal/catalog"
	"github.com/Veraticus/notesync/internal/common"
	"github.com/Veraticus/notesync/internal/lock"
	"github.com/Veraticus/notesync/internal/model"
	"github.com/Veraticus/notesync/internal/review"
	"github.com/Veraticus/notesync/internal/service"
	"github.com/Veraticus/notesync/internal/validator"
)

// Transformer rewrites a note according to a rendered prompt.
type Transformer interface {
	Transform(ctx context.Context, prompt string) (string, error)
}

// Tracker receives note outcomes for batch bookkeeping.
type Tracker interface {
	OnStageComplete(ctx context.Context, batchID, resultID string, outcome model.Outcome) (*model.BatchRun, error)
	IsCancelled(ctx context.Context, batchID string) (bool, error)
}

// Options configures the processor.
type Options struct {
	Workers     int // Number of notes processed concurrently
	MaxAttempts int // Attempts per note before it stays failed
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Workers:     2,
		MaxAttempts: 3,
	}
}

// Processor runs the step1 → step2 → validation state machine.
type Processor struct {
	store     service.Storage
	ai        Transformer
	tracker   Tracker
	locks     *lock.Keyed
	validator *validator.Validator
	logger    *slog.Logger
	opts      Options
}

// NewProcessor creates a processor. locks must be shared with every other
// component that mutates processing results.
func NewProcessor(store service.Storage, ai Transformer, tracker Tracker, locks *lock.Keyed, logger *slog.Logger, opts Options) *Processor {
	defaults := DefaultOptions()
	if opts.Workers <= 0 {
		opts.Workers = defaults.Workers
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaults.MaxAttempts
	}
	if locks == nil {
		locks = lock.NewKeyed()
	}
	return &Processor{
		store:     store,
		ai:        ai,
		tracker:   tracker,
		locks:     locks,
		validator: validator.New(),
		logger:    common.LoggerOrDefault(logger),
		opts:      opts,
	}
}

// Process runs one note through the pipeline under its lock. Notes that are
// already validated or failed are returned unchanged; reprocessing goes
// through the review engine. A pending note of a cancelled batch is not
// started and common.ErrBatchCancelled is returned.
func (p *Processor) Process(ctx context.Context, resultID string, snap *catalog.Snapshot) (*model.ProcessingResult, error) {
	release, err := p.locks.Acquire(ctx, resultID)
	if err != nil {
		return nil, err
	}
	defer release()

	result, err := p.store.GetProcessingResult(ctx, resultID)
	if err != nil {
		return nil, err
	}
	if result.ProcessingStatus.Terminal() {
		return result, nil
	}
	if result.ProcessingStatus == model.ProcessingPending {
		if err := p.admit(ctx, result); err != nil {
			return result, err
		}
	}
	return p.RunLocked(ctx, result, snap, p.opts.MaxAttempts)
}

// RunLocked runs result from its current status until it is validated or
// failed. AI failures are retried from pending while the note has fewer than
// maxAttempts attempts. The caller must hold the note's lock.
func (p *Processor) RunLocked(ctx context.Context, result *model.ProcessingResult, snap *catalog.Snapshot, maxAttempts int) (*model.ProcessingResult, error) {
	if maxAttempts <= 0 {
		maxAttempts = p.opts.MaxAttempts
	}

	match, err := p.store.GetMatchResult(ctx, result.SourceID)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("failed to load match for %s: %w", result.ID, err)
	}

	for {
		if err := p.attempt(ctx, result, match, snap); err != nil {
			return result, err
		}
		if result.ProcessingStatus != model.ProcessingFailed || result.ProcessingAttempts >= maxAttempts {
			break
		}
		if err := p.admit(ctx, result); err != nil {
			// Cancelled between attempts: the failure stands.
			p.logger.Info("Not retrying note of cancelled batch", "note_id", result.ID, "batch_id", result.BatchID)
			break
		}
		p.logger.Info("Retrying failed note",
			"note_id", result.ID,
			"attempt", result.ProcessingAttempts+1,
			"max_attempts", maxAttempts)
		if err := result.ResetForReprocessing(); err != nil {
			return result, err
		}
	}

	p.report(ctx, result)
	return result, nil
}

// attempt performs one pass over the remaining steps. A returned error means
// the note could not be persisted or the context ended; AI and rendering
// failures are recorded on the result instead.
func (p *Processor) attempt(ctx context.Context, result *model.ProcessingResult, match *model.MatchResult, snap *catalog.Snapshot) error {
	result.ProcessingAttempts++
	result.LastError = ""
	if err := p.store.UpdateProcessingResult(ctx, result); err != nil {
		return fmt.Errorf("failed to start attempt: %w", err)
	}

	logger := p.logger.With("note_id", result.ID, "attempt", result.ProcessingAttempts)
	data := catalog.PromptData{PatientName: result.PatientName, VisitDate: result.VisitDate}

	if result.ProcessingStatus == model.ProcessingPending {
		data.Note = result.RawNote
		out, err := p.transform(ctx, snap.RenderInitial, data)
		if err != nil {
			return p.fail(ctx, result, match, snap, "step1", err)
		}
		result.Step1Note = out
		if err := p.advance(ctx, result, model.ProcessingStep1Done); err != nil {
			return err
		}
		logger.Debug("Initial cleaning done", "chars", len(out))
	}

	if result.ProcessingStatus == model.ProcessingStep1Done {
		data.Note = result.Step1Note
		out, err := p.transform(ctx, snap.RenderVerification, data)
		if err != nil {
			return p.fail(ctx, result, match, snap, "step2", err)
		}
		result.Step2Note = out
		if err := p.advance(ctx, result, model.ProcessingStep2Done); err != nil {
			return err
		}
		logger.Debug("Verification pass done", "chars", len(out))
	}

	if result.ProcessingStatus == model.ProcessingStep2Done {
		report := p.validator.Validate(result.Step2Note, snap)
		result.FinalCleanedNote = result.Step2Note
		result.ApplyReport(report)
		result.RequiresHumanIntervention, result.InterventionReasons = review.Decide(result, match, snap)
		if err := p.advance(ctx, result, model.ProcessingValidated); err != nil {
			return err
		}
		logger.Info("Note validated",
			"passed", report.Passed,
			"failed", report.Failed,
			"critical", report.CriticalFailures,
			"needs_review", result.RequiresHumanIntervention)
	}
	return nil
}

func (p *Processor) transform(ctx context.Context, render func(catalog.PromptData) (string, error), data catalog.PromptData) (string, error) {
	prompt, err := render(data)
	if err != nil {
		return "", err
	}
	return p.ai.Transform(ctx, prompt)
}

func (p *Processor) advance(ctx context.Context, result *model.ProcessingResult, next model.ProcessingStatus) error {
	if err := result.Transition(next); err != nil {
		return err
	}
	if err := p.store.UpdateProcessingResult(ctx, result); err != nil {
		return fmt.Errorf("failed to save %s: %w", next, err)
	}
	return nil
}

// fail marks the note failed. When the context itself ended the note is left
// at its last completed step so a later run resumes there.
func (p *Processor) fail(ctx context.Context, result *model.ProcessingResult, match *model.MatchResult, snap *catalog.Snapshot, step string, cause error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	result.LastError = fmt.Sprintf("%s: %v", step, cause)
	result.RequiresHumanIntervention, result.InterventionReasons = review.Decide(withStatus(result, model.ProcessingFailed), match, snap)
	if err := p.advance(ctx, result, model.ProcessingFailed); err != nil {
		return err
	}

	p.logger.Warn("Note processing failed",
		"note_id", result.ID,
		"step", step,
		"attempt", result.ProcessingAttempts,
		"error", cause)
	return nil
}

// withStatus returns a copy of r carrying status, for deciding before the
// transition is persisted.
func withStatus(r *model.ProcessingResult, status model.ProcessingStatus) *model.ProcessingResult {
	c := *r
	c.ProcessingStatus = status
	return &c
}

// admit checks that the note's batch still accepts notes into pending.
func (p *Processor) admit(ctx context.Context, result *model.ProcessingResult) error {
	if result.BatchID == "" || p.tracker == nil {
		return nil
	}
	cancelled, err := p.tracker.IsCancelled(ctx, result.BatchID)
	if err != nil {
		return fmt.Errorf("failed to check batch %s: %w", result.BatchID, err)
	}
	if cancelled {
		return fmt.Errorf("%w: %s", common.ErrBatchCancelled, result.BatchID)
	}
	return nil
}

// report hands the terminal outcome to the batch tracker. Outcomes for
// completed batches are expected after reprocessing and only logged.
func (p *Processor) report(ctx context.Context, result *model.ProcessingResult) {
	if result.BatchID == "" || p.tracker == nil {
		return
	}
	outcome, err := model.OutcomeOf(result)
	if err != nil {
		p.logger.Error("Cannot derive batch outcome", "note_id", result.ID, "error", err)
		return
	}
	p.recordOutcome(ctx, result, outcome)
}

// reportSkipped counts a note that a cancelled batch never started as failed,
// so the batch still completes. The note itself stays pending and can be
// reprocessed.
func (p *Processor) reportSkipped(ctx context.Context, result *model.ProcessingResult) {
	if result == nil || result.BatchID == "" || p.tracker == nil {
		return
	}
	p.recordOutcome(ctx, result, model.OutcomeFailed)
}

func (p *Processor) recordOutcome(ctx context.Context, result *model.ProcessingResult, outcome model.Outcome) {
	if _, err := p.tracker.OnStageComplete(ctx, result.BatchID, result.ID, outcome); err != nil {
		if errors.Is(err, common.ErrBatchCompleted) {
			p.logger.Debug("Batch already completed, outcome not counted",
				"note_id", result.ID, "batch_id", result.BatchID, "outcome", outcome)
			return
		}
		p.logger.Error("Failed to record batch outcome",
			"note_id", result.ID, "batch_id", result.BatchID, "error", err)
	}
}

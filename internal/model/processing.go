package model

import (
	"fmt"
	"time"
)

// ProcessingResult is the per-note record owned by the pipeline.
type ProcessingResult struct {
	CreatedAt                 time.Time         `json:"created_at"`
	UpdatedAt                 time.Time         `json:"updated_at"`
	VisitDate                 time.Time         `json:"visit_date"`
	ReviewedAt                *time.Time        `json:"reviewed_at,omitempty"`
	UploadedAt                *time.Time        `json:"uploaded_at,omitempty"`
	ID                        string            `json:"id"`
	SourceID                  string            `json:"source_id"`
	BatchID                   string            `json:"batch_id,omitempty"`
	PatientName               string            `json:"patient_name"`
	RawNote                   string            `json:"raw_note"`
	Step1Note                 string            `json:"step1_note,omitempty"`
	Step2Note                 string            `json:"step2_note,omitempty"`
	FinalCleanedNote          string            `json:"final_cleaned_note,omitempty"`
	ProcessingStatus          ProcessingStatus  `json:"processing_status"`
	ReviewStatus              ReviewStatus      `json:"review_status"`
	UploadStatus              UploadStatus      `json:"upload_status"`
	MatchTier                 Tier              `json:"match_tier"`
	LastError                 string            `json:"last_error,omitempty"`
	ReviewNotes               string            `json:"review_notes,omitempty"`
	Reviewer                  string            `json:"reviewer,omitempty"`
	InterventionReasons       []string          `json:"intervention_reasons"`
	Checks                    []ValidationCheck `json:"checks,omitempty"`
	TotalChecks               int               `json:"total_checks"`
	PassedChecks              int               `json:"passed_checks"`
	FailedChecks              int               `json:"failed_checks"`
	CriticalFailures          int               `json:"critical_failures"`
	ProcessingAttempts        int               `json:"processing_attempts"`
	RequiresHumanIntervention bool              `json:"requires_human_intervention"`
}

// NewProcessingResult creates a pending result for a source note.
func NewProcessingResult(id string, note SourceNote, tier Tier) *ProcessingResult {
	now := time.Now()
	return &ProcessingResult{
		ID:               id,
		SourceID:         note.ID,
		PatientName:      note.PatientName,
		VisitDate:        note.VisitDate,
		RawNote:          note.RawText,
		ProcessingStatus: ProcessingPending,
		ReviewStatus:     ReviewPending,
		UploadStatus:     UploadNotUploaded,
		MatchTier:        tier,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Transition moves the processing status along the transition table.
func (r *ProcessingResult) Transition(next ProcessingStatus) error {
	if !r.ProcessingStatus.CanTransitionTo(next) {
		return transitionError("processing", r.ProcessingStatus, next)
	}
	r.ProcessingStatus = next
	r.UpdatedAt = time.Now()
	return nil
}

// SetReviewStatus records a review status change.
func (r *ProcessingResult) SetReviewStatus(next ReviewStatus) error {
	if !r.ReviewStatus.CanTransitionTo(next) {
		return transitionError("review", r.ReviewStatus, next)
	}
	r.ReviewStatus = next
	r.UpdatedAt = time.Now()
	return nil
}

// SetUploadStatus records an upload status change. Moving to uploaded
// requires an approved review and zero critical failures.
func (r *ProcessingResult) SetUploadStatus(next UploadStatus) error {
	if !r.UploadStatus.CanTransitionTo(next) {
		return transitionError("upload", r.UploadStatus, next)
	}
	if next == UploadUploaded {
		if err := r.UploadBlocker(); err != nil {
			return err
		}
	}
	r.UploadStatus = next
	r.UpdatedAt = time.Now()
	return nil
}

// UploadBlocker returns why the result may not be uploaded, or nil.
func (r *ProcessingResult) UploadBlocker() error {
	switch {
	case r.ProcessingStatus != ProcessingValidated:
		return fmt.Errorf("%w: processing status is %s", ErrUploadBlocked, r.ProcessingStatus)
	case r.CriticalFailures > 0:
		return fmt.Errorf("%w: %d critical validation failures", ErrUploadBlocked, r.CriticalFailures)
	case r.ReviewStatus != ReviewApproved:
		return fmt.Errorf("%w: review status is %s", ErrUploadBlocked, r.ReviewStatus)
	}
	return nil
}

// UploadEligible reports whether the result may be pushed to the destination.
func (r *ProcessingResult) UploadEligible() bool {
	return r.UploadBlocker() == nil
}

// ApplyReport copies validator counts and checks onto the result.
func (r *ProcessingResult) ApplyReport(report ValidationReport) {
	r.Checks = report.Checks
	r.TotalChecks = report.Total
	r.PassedChecks = report.Passed
	r.FailedChecks = report.Failed
	r.CriticalFailures = report.CriticalFailures
}

// ResetForReprocessing clears derived state so the note can re-enter the
// pipeline at pending. The raw note and attempt counter are kept.
func (r *ProcessingResult) ResetForReprocessing() error {
	if r.UploadStatus == UploadUploaded {
		return fmt.Errorf("%w: note %s already uploaded", ErrInvalidTransition, r.ID)
	}
	if r.ProcessingStatus != ProcessingPending {
		if err := r.Transition(ProcessingPending); err != nil {
			return err
		}
	}
	if r.ReviewStatus != ReviewPending {
		if err := r.SetReviewStatus(ReviewPending); err != nil {
			return err
		}
	}
	if r.UploadStatus != UploadNotUploaded {
		if err := r.SetUploadStatus(UploadNotUploaded); err != nil {
			return err
		}
	}
	r.Step1Note = ""
	r.Step2Note = ""
	r.FinalCleanedNote = ""
	r.ApplyReport(ValidationReport{})
	r.RequiresHumanIntervention = false
	r.InterventionReasons = nil
	r.LastError = ""
	r.ReviewNotes = ""
	r.Reviewer = ""
	r.ReviewedAt = nil
	return nil
}

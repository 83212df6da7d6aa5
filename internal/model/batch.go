package model

import (
	"errors"
	"fmt"
	"time"
)

// BatchStatus is the lifecycle state of a BatchRun.
type BatchStatus string

// Batch status constants.
const (
	BatchRunning   BatchStatus = "running"
	BatchCompleted BatchStatus = "completed"
)

// Outcome is how a note resolved in the pipeline, as counted by a batch.
type Outcome string

// Outcome constants.
const (
	OutcomeSuccess     Outcome = "success"
	OutcomeNeedsReview Outcome = "needs_review"
	OutcomeFailed      Outcome = "failed"
)

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeSuccess, OutcomeNeedsReview, OutcomeFailed:
		return true
	}
	return false
}

// OutcomeOf derives the batch outcome of a terminal result.
func OutcomeOf(r *ProcessingResult) (Outcome, error) {
	switch r.ProcessingStatus {
	case ProcessingFailed:
		return OutcomeFailed, nil
	case ProcessingValidated:
		if r.RequiresHumanIntervention {
			return OutcomeNeedsReview, nil
		}
		return OutcomeSuccess, nil
	default:
		return "", fmt.Errorf("result %s is not terminal: %s", r.ID, r.ProcessingStatus)
	}
}

// BatchRun aggregates a cohort of notes processed together.
type BatchRun struct {
	StartDate          time.Time   `json:"start_date"`
	EndDate            time.Time   `json:"end_date"`
	CreatedAt          time.Time   `json:"created_at"`
	CompletedAt        *time.Time  `json:"completed_at,omitempty"`
	ID                 string      `json:"id"`
	BatchID            string      `json:"batch_id"`
	Status             BatchStatus `json:"status"`
	TotalNotes         int         `json:"total_notes"`
	ProcessedNotes     int         `json:"processed_notes"`
	SuccessCount       int         `json:"success_count"`
	NeedsReviewCount   int         `json:"needs_review_count"`
	FailedCount        int         `json:"failed_count"`
	UploadedCount      int         `json:"uploaded_count"`
	UploadFailedCount  int         `json:"upload_failed_count"`
	UploadFlaggedCount int         `json:"upload_flagged_count"`
	Cancelled          bool        `json:"cancelled"`
}

// Remaining returns how many members have not resolved yet.
func (b *BatchRun) Remaining() int {
	return b.TotalNotes - b.ProcessedNotes
}

// ErrBatchClosed is returned when an outcome is applied to a completed batch.
var ErrBatchClosed = errors.New("batch is completed")

// ApplyOutcome folds a member's outcome into the counters. prev is the
// outcome already counted for that member, or nil on first report. It reports
// whether anything changed; repeating the same outcome is a no-op.
func (b *BatchRun) ApplyOutcome(prev *Outcome, next Outcome, at time.Time) (bool, error) {
	if !next.Valid() {
		return false, fmt.Errorf("unknown outcome %q", next)
	}
	if b.Status == BatchCompleted {
		return false, ErrBatchClosed
	}
	if prev != nil && *prev == next {
		return false, nil
	}

	if prev == nil {
		b.ProcessedNotes++
	} else {
		*b.counter(*prev)--
	}
	*b.counter(next)++

	if b.ProcessedNotes >= b.TotalNotes {
		b.Status = BatchCompleted
		b.CompletedAt = &at
	}
	return true, nil
}

func (b *BatchRun) counter(o Outcome) *int {
	switch o {
	case OutcomeSuccess:
		return &b.SuccessCount
	case OutcomeNeedsReview:
		return &b.NeedsReviewCount
	default:
		return &b.FailedCount
	}
}

// ReviewEvent is an audit record of one reviewer decision.
type ReviewEvent struct {
	CreatedAt time.Time    `json:"created_at"`
	ResultID  string       `json:"result_id"`
	Decision  ReviewStatus `json:"decision"`
	Reviewer  string       `json:"reviewer"`
	Notes     string       `json:"notes"`
}

// UploadAttempt is an audit record of one upload request for a note.
type UploadAttempt struct {
	CreatedAt time.Time    `json:"created_at"`
	ResultID  string       `json:"result_id"`
	Status    UploadStatus `json:"status"`
	Detail    string       `json:"detail"`
	Tries     int          `json:"tries"`
}

package model

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a status change is not in the transition table.
var ErrInvalidTransition = errors.New("invalid status transition")

// ProcessingStatus tracks a note through the cleaning pipeline.
type ProcessingStatus string

// Processing status constants.
const (
	ProcessingPending   ProcessingStatus = "pending"
	ProcessingStep1Done ProcessingStatus = "step1_done"
	ProcessingStep2Done ProcessingStatus = "step2_done"
	ProcessingValidated ProcessingStatus = "validated"
	ProcessingFailed    ProcessingStatus = "failed"
)

var processingTransitions = map[ProcessingStatus][]ProcessingStatus{
	ProcessingPending:   {ProcessingStep1Done, ProcessingFailed},
	ProcessingStep1Done: {ProcessingStep2Done, ProcessingFailed},
	ProcessingStep2Done: {ProcessingValidated, ProcessingFailed},
	// Terminal states only re-enter the pipeline through reprocessing.
	ProcessingValidated: {ProcessingPending},
	ProcessingFailed:    {ProcessingPending},
}

// Valid reports whether s is a known processing status.
func (s ProcessingStatus) Valid() bool {
	_, ok := processingTransitions[s]
	return ok
}

// Terminal reports whether the pipeline has finished with the note.
func (s ProcessingStatus) Terminal() bool {
	return s == ProcessingValidated || s == ProcessingFailed
}

// CanTransitionTo reports whether next is reachable from s.
func (s ProcessingStatus) CanTransitionTo(next ProcessingStatus) bool {
	return contains(processingTransitions[s], next)
}

// ReviewStatus tracks the human review decision.
type ReviewStatus string

// Review status constants.
const (
	ReviewPending       ReviewStatus = "pending"
	ReviewApproved      ReviewStatus = "approved"
	ReviewNeedsRevision ReviewStatus = "needs_revision"
	ReviewRejected      ReviewStatus = "rejected"
)

var reviewTransitions = map[ReviewStatus][]ReviewStatus{
	ReviewPending:       {ReviewApproved, ReviewNeedsRevision, ReviewRejected},
	ReviewNeedsRevision: {ReviewApproved, ReviewRejected, ReviewPending},
	ReviewApproved:      {ReviewNeedsRevision, ReviewRejected, ReviewPending},
	ReviewRejected:      {ReviewPending},
}

// Valid reports whether s is a known review status.
func (s ReviewStatus) Valid() bool {
	_, ok := reviewTransitions[s]
	return ok
}

// IsDecision reports whether s is a decision a reviewer may submit.
func (s ReviewStatus) IsDecision() bool {
	return s == ReviewApproved || s == ReviewNeedsRevision || s == ReviewRejected
}

// CanTransitionTo reports whether next is reachable from s.
func (s ReviewStatus) CanTransitionTo(next ReviewStatus) bool {
	return contains(reviewTransitions[s], next)
}

// UploadStatus tracks delivery to the destination system.
type UploadStatus string

// Upload status constants.
const (
	UploadNotUploaded UploadStatus = "not_uploaded"
	UploadUploaded    UploadStatus = "uploaded"
	UploadFailed      UploadStatus = "failed"
	UploadFlagged     UploadStatus = "flagged"
)

var uploadTransitions = map[UploadStatus][]UploadStatus{
	UploadNotUploaded: {UploadUploaded, UploadFailed, UploadFlagged},
	UploadFailed:      {UploadUploaded, UploadFailed, UploadFlagged, UploadNotUploaded},
	UploadFlagged:     {UploadUploaded, UploadFailed, UploadFlagged, UploadNotUploaded},
	UploadUploaded:    nil,
}

// Valid reports whether s is a known upload status.
func (s UploadStatus) Valid() bool {
	_, ok := uploadTransitions[s]
	return ok
}

// CanTransitionTo reports whether next is reachable from s.
func (s UploadStatus) CanTransitionTo(next UploadStatus) bool {
	return contains(uploadTransitions[s], next)
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func transitionError[T ~string](kind string, from, to T) error {
	return fmt.Errorf("%w: %s %s -> %s", ErrInvalidTransition, kind, from, to)
}

// ErrUploadBlocked is returned when a result does not satisfy the upload invariants.
var ErrUploadBlocked = errors.New("upload blocked")

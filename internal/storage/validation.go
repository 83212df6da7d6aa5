// Package storage provides the SQLite persistence layer for the pipeline.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Veraticus/notesync/internal/model"
)

// Validation errors.
var (
	ErrNilContext          = errors.New("context cannot be nil")
	ErrEmptyString         = errors.New("string parameter cannot be empty")
	ErrNilParameter        = errors.New("parameter cannot be nil")
	ErrInvalidDateRange    = errors.New("start date must be before end date")
	ErrInvalidStatus       = errors.New("invalid status")
	ErrInvalidSourceNote   = errors.New("invalid source note")
	ErrInvalidDestination  = errors.New("invalid destination record")
	ErrInvalidMatch        = errors.New("invalid match result")
	ErrInvalidResult       = errors.New("invalid processing result")
	ErrInvalidBatch        = errors.New("invalid batch run")
	ErrInvalidTag          = errors.New("invalid tag")
	ErrInvalidCatalogEntry = errors.New("invalid catalog version")
)

// validateContext ensures the context is not nil.
func validateContext(ctx context.Context) error {
	if ctx == nil {
		return ErrNilContext
	}
	return nil
}

// validateString ensures a string parameter is not empty.
func validateString(s string, paramName string) error {
	if strings.TrimSpace(s) == "" {
		return fmt.Errorf("%w: %s", ErrEmptyString, paramName)
	}
	return nil
}

func validateDateRange(r model.DateRange) error {
	if !r.Start.IsZero() && !r.End.IsZero() && r.End.Before(r.Start) {
		return fmt.Errorf("%w: end date %v is before start date %v", ErrInvalidDateRange, r.End, r.Start)
	}
	return nil
}

func validateSourceNote(note *model.SourceNote) error {
	if note.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidSourceNote)
	}
	if strings.TrimSpace(note.PatientName) == "" {
		return fmt.Errorf("%w: %s missing patient name", ErrInvalidSourceNote, note.ID)
	}
	if note.VisitDate.IsZero() {
		return fmt.Errorf("%w: %s missing visit date", ErrInvalidSourceNote, note.ID)
	}
	return nil
}

func validateDestinationRecord(rec *model.DestinationRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidDestination)
	}
	if strings.TrimSpace(rec.PatientName) == "" {
		return fmt.Errorf("%w: %s missing patient name", ErrInvalidDestination, rec.ID)
	}
	if rec.VisitDate.IsZero() {
		return fmt.Errorf("%w: %s missing visit date", ErrInvalidDestination, rec.ID)
	}
	return nil
}

func validateMatchResult(m *model.MatchResult) error {
	if m == nil {
		return fmt.Errorf("%w: match", ErrNilParameter)
	}
	if m.SourceID == "" {
		return fmt.Errorf("%w: missing source ID", ErrInvalidMatch)
	}
	if !m.Tier.Valid() {
		return fmt.Errorf("%w: tier %q", ErrInvalidStatus, m.Tier)
	}
	if m.Confidence < 0 || m.Confidence > 1 {
		return fmt.Errorf("%w: confidence must be between 0 and 1", ErrInvalidMatch)
	}
	if m.Tier == model.TierUnmatched && m.DestinationID != nil {
		return fmt.Errorf("%w: unmatched result cannot name a destination", ErrInvalidMatch)
	}
	return nil
}

func validateProcessingResult(r *model.ProcessingResult) error {
	if r == nil {
		return fmt.Errorf("%w: result", ErrNilParameter)
	}
	if r.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidResult)
	}
	if r.SourceID == "" {
		return fmt.Errorf("%w: %s missing source ID", ErrInvalidResult, r.ID)
	}
	if !r.ProcessingStatus.Valid() || !r.ReviewStatus.Valid() || !r.UploadStatus.Valid() {
		return fmt.Errorf("%w: %s/%s/%s", ErrInvalidStatus, r.ProcessingStatus, r.ReviewStatus, r.UploadStatus)
	}
	if !r.MatchTier.Valid() {
		return fmt.Errorf("%w: tier %q", ErrInvalidStatus, r.MatchTier)
	}
	if r.PassedChecks+r.FailedChecks != r.TotalChecks {
		return fmt.Errorf("%w: %d passed + %d failed != %d total",
			ErrInvalidResult, r.PassedChecks, r.FailedChecks, r.TotalChecks)
	}
	if r.CriticalFailures > 0 && !r.RequiresHumanIntervention {
		return fmt.Errorf("%w: critical failures require human intervention", ErrInvalidResult)
	}
	if r.UploadStatus == model.UploadUploaded {
		if err := r.UploadBlocker(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidResult, err)
		}
	}
	return nil
}

func validateBatchRun(b *model.BatchRun) error {
	if b == nil {
		return fmt.Errorf("%w: batch", ErrNilParameter)
	}
	if b.ID == "" || b.BatchID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidBatch)
	}
	if b.TotalNotes < 0 {
		return fmt.Errorf("%w: negative total", ErrInvalidBatch)
	}
	return validateDateRange(model.DateRange{Start: b.StartDate, End: b.EndDate})
}

func validateTag(tag model.Tag) error {
	if strings.TrimSpace(tag.Name) == "" {
		return fmt.Errorf("%w: missing name", ErrInvalidTag)
	}
	return nil
}

// Package connector provides the source and destination system adapters.
package connector

import (
	"context"
	"time"

	"github.com/Veraticus/notesync/internal/model"
)

// Source hands over clinical notes to be reconciled.
type Source interface {
	SourceNotes(ctx context.Context, dates model.DateRange) ([]model.SourceNote, error)
}

// Destination is the system of record notes are reconciled against and
// uploaded to.
type Destination interface {
	Records(ctx context.Context, dates model.DateRange) ([]model.DestinationRecord, error)
	// Push delivers a cleaned note. Implementations return an error wrapping
	// common.ErrUploadRejected when the destination refuses the note and
	// common.ErrUploadTransport when it could not be reached.
	Push(ctx context.Context, req UploadRequest) error
}

// UploadRequest is a cleaned note addressed to a destination record.
type UploadRequest struct {
	VisitDate     time.Time `json:"visit_date"`
	DestinationID *string   `json:"destination_id,omitempty"`
	ResultID      string    `json:"result_id"`
	SourceID      string    `json:"source_id"`
	PatientName   string    `json:"patient_name"`
	Note          string    `json:"note"`
}

// NewUploadRequest builds the request for an approved result.
func NewUploadRequest(result *model.ProcessingResult, destinationID *string) UploadRequest {
	return UploadRequest{
		ResultID:      result.ID,
		SourceID:      result.SourceID,
		DestinationID: destinationID,
		PatientName:   result.PatientName,
		VisitDate:     model.DateOnly(result.VisitDate),
		Note:          result.FinalCleanedNote,
	}
}

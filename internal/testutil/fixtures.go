package testutil

import (
	"time"

	"github.com/Veraticus/notesync/internal/model"
)

// CleanNote satisfies every requirement of the built-in catalog.
const CleanNote = `Chief Complaint: Persistent dry cough for two weeks.
History of Present Illness: Started after a cold, worse at night, no fever or shortness of breath.
Assessment: Post-viral cough.
Plan: Honey and fluids, return if fever develops or symptoms last beyond three more weeks.`

// NoteMissingPlan fails the critical plan requirement only.
const NoteMissingPlan = `Chief Complaint: Persistent dry cough for two weeks.
History of Present Illness: Started after a cold, worse at night, no fever or shortness of breath.
Assessment: Post-viral cough.`

// NoteWithPlaceholder fails the critical placeholder requirement only.
const NoteWithPlaceholder = `Chief Complaint: Knee pain after a fall.
History of Present Illness: Fell on ice yesterday, swelling [unclear] since then.
Assessment: Knee sprain.
Plan: Ice, compression and ibuprofen 400 mg as needed.`

// Date parses a 2006-01-02 date in UTC and panics on bad input.
func Date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

// Note builds a source note with generic raw text.
func Note(id, patient, visit string) model.SourceNote {
	return model.SourceNote{
		ID:          id,
		PatientName: patient,
		VisitDate:   Date(visit),
		RawText:     "pt here for cough x2 wks um worse at nite no fever plan honey fluids",
	}
}

// Record builds a destination record.
func Record(id, patient, visit string) model.DestinationRecord {
	return model.DestinationRecord{
		ID:          id,
		PatientName: patient,
		VisitDate:   Date(visit),
		Provider:    "Dr. Rivera",
	}
}

package connector

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/notesync/internal/common"
	"github.com/Veraticus/notesync/internal/model"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func january() model.DateRange {
	return model.DateRange{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	}
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "notes.json", `[
		{"id": "n1", "patient_name": "Jane Doe", "visit_date": "2024-01-05", "text": "cough"},
		{"id": "n2", "patient_name": "John Roe", "visit_date": "2024-01-31T15:30:00Z", "text": "knee"},
		{"id": "n3", "patient_name": "Ann Poe", "visit_date": "2024-02-01", "text": "rash"}
	]`)

	notes, err := NewFileSource(path).SourceNotes(context.Background(), january())
	require.NoError(t, err)
	require.Len(t, notes, 2)
	assert.Equal(t, "n1", notes[0].ID)
	assert.Equal(t, "cough", notes[0].RawText)
	assert.Equal(t, time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC), notes[1].VisitDate)
}

func TestFileSource_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := NewFileSource(filepath.Join(dir, "missing.json")).SourceNotes(context.Background(), january())
	assert.Error(t, err)

	bad := writeFile(t, dir, "bad.json", `[{"id": "n1", "visit_date": "Jan 5"}]`)
	_, err = NewFileSource(bad).SourceNotes(context.Background(), january())
	assert.ErrorContains(t, err, "invalid visit date")

	garbage := writeFile(t, dir, "garbage.json", `{not json`)
	_, err = NewFileSource(garbage).SourceNotes(context.Background(), january())
	assert.Error(t, err)
}

func TestFileDestination(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "records.json", `[
		{"id": "d1", "patient_name": "Jane Doe", "visit_date": "2024-01-05", "provider": "Dr. A"},
		{"id": "d2", "patient_name": "John Roe", "visit_date": "2024-01-20", "is_signed": true}
	]`)
	outbox := filepath.Join(dir, "outbox")
	dest := NewFileDestination(path, outbox)
	ctx := context.Background()

	records, err := dest.Records(ctx, model.DateRange{})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Dr. A", records[0].Provider)
	assert.True(t, records[1].IsSigned)

	d1, d2 := "d1", "d2"
	req := UploadRequest{ResultID: "r1", SourceID: "n1", DestinationID: &d1, Note: "clean"}
	require.NoError(t, dest.Push(ctx, req))

	data, err := os.ReadFile(filepath.Join(outbox, "r1.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"note": "clean"`)

	err = dest.Push(ctx, req)
	assert.ErrorIs(t, err, common.ErrUploadRejected, "second delivery is a duplicate")

	err = dest.Push(ctx, UploadRequest{ResultID: "r2", DestinationID: &d2, Note: "x"})
	assert.ErrorIs(t, err, common.ErrUploadRejected, "signed records cannot be overwritten")
	assert.False(t, common.IsRetryable(err))
}

func TestNewUploadRequest(t *testing.T) {
	note := model.SourceNote{ID: "n1", PatientName: "Jane Doe", VisitDate: time.Date(2024, 1, 5, 13, 0, 0, 0, time.UTC)}
	result := model.NewProcessingResult("r1", note, model.TierHigh)
	result.FinalCleanedNote = "final"
	dest := "d1"

	req := NewUploadRequest(result, &dest)
	assert.Equal(t, "r1", req.ResultID)
	assert.Equal(t, "n1", req.SourceID)
	assert.Equal(t, "final", req.Note)
	assert.Equal(t, time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), req.VisitDate)
	assert.Equal(t, &dest, req.DestinationID)
}

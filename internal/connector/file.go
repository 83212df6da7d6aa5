package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Veraticus/notesync/internal/common"
	"github.com/Veraticus/notesync/internal/model"
)

// fileRecord is the on-disk shape shared by source notes and destination
// records. Dates may be written as 2006-01-02 or RFC 3339.
type fileRecord struct {
	ID          string `json:"id"`
	PatientName string `json:"patient_name"`
	VisitDate   string `json:"visit_date"`
	Text        string `json:"text"`
	Provider    string `json:"provider,omitempty"`
	Location    string `json:"location,omitempty"`
	IsSigned    bool   `json:"is_signed,omitempty"`
}

func parseVisitDate(s string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid visit date %q", s)
	}
	return model.DateOnly(t), nil
}

func readRecords(path string) ([]fileRecord, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is operator supplied
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var records []fileRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return records, nil
}

// FileSource reads source notes from a JSON array on disk.
type FileSource struct {
	path string
}

// NewFileSource creates a source backed by the JSON file at path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// SourceNotes returns the notes in the file whose visit date is in dates.
func (s *FileSource) SourceNotes(_ context.Context, dates model.DateRange) ([]model.SourceNote, error) {
	records, err := readRecords(s.path)
	if err != nil {
		return nil, err
	}

	var notes []model.SourceNote
	for i, r := range records {
		visit, err := parseVisitDate(r.VisitDate)
		if err != nil {
			return nil, fmt.Errorf("note at index %d: %w", i, err)
		}
		if !dates.Contains(visit) {
			continue
		}
		notes = append(notes, model.SourceNote{
			ID:          r.ID,
			PatientName: r.PatientName,
			VisitDate:   visit,
			RawText:     r.Text,
		})
	}
	return notes, nil
}

// FileDestination reads destination records from a JSON array and delivers
// uploads as one JSON file per note in an outbox directory.
type FileDestination struct {
	path   string
	outbox string
}

// NewFileDestination creates a destination backed by the records file at
// path, writing uploads into outbox.
func NewFileDestination(path, outbox string) *FileDestination {
	return &FileDestination{path: path, outbox: outbox}
}

// Records returns the destination records whose visit date is in dates.
func (d *FileDestination) Records(_ context.Context, dates model.DateRange) ([]model.DestinationRecord, error) {
	records, err := readRecords(d.path)
	if err != nil {
		return nil, err
	}

	var out []model.DestinationRecord
	for i, r := range records {
		visit, err := parseVisitDate(r.VisitDate)
		if err != nil {
			return nil, fmt.Errorf("record at index %d: %w", i, err)
		}
		if !dates.Contains(visit) {
			continue
		}
		out = append(out, model.DestinationRecord{
			ID:          r.ID,
			PatientName: r.PatientName,
			VisitDate:   visit,
			Provider:    r.Provider,
			Location:    r.Location,
			Text:        r.Text,
			IsSigned:    r.IsSigned,
		})
	}
	return out, nil
}

// Push writes req to the outbox. A note already delivered, or one targeting
// a signed record, is rejected.
func (d *FileDestination) Push(ctx context.Context, req UploadRequest) error {
	if req.DestinationID != nil {
		signed, err := d.isSigned(*req.DestinationID)
		if err != nil {
			return fmt.Errorf("%w: %w", common.ErrUploadTransport, err)
		}
		if signed {
			return fmt.Errorf("%w: destination record %s is signed", common.ErrUploadRejected, *req.DestinationID)
		}
	}

	if err := os.MkdirAll(d.outbox, 0750); err != nil {
		return fmt.Errorf("%w: %w", common.ErrUploadTransport, err)
	}
	name := filepath.Join(d.outbox, sanitizeFileName(req.ResultID)+".json")

	data, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode upload: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", common.ErrUploadTransport, err)
	}

	f, err := os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600) //nolint:gosec // name is sanitized
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: note %s already delivered", common.ErrUploadRejected, req.ResultID)
		}
		return fmt.Errorf("%w: %w", common.ErrUploadTransport, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		return fmt.Errorf("%w: %w", common.ErrUploadTransport, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: %w", common.ErrUploadTransport, err)
	}
	return nil
}

func (d *FileDestination) isSigned(id string) (bool, error) {
	records, err := readRecords(d.path)
	if err != nil {
		return false, err
	}
	for _, r := range records {
		if r.ID == id {
			return r.IsSigned, nil
		}
	}
	return false, nil
}

func sanitizeFileName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, s)
}

package storage

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/Veraticus/notesync/internal/model"
)

// SaveSourceNotes stores source notes. Notes are immutable once ingested, so
// an id that already exists keeps its original content.
func (s *SQLiteStorage) SaveSourceNotes(ctx context.Context, notes []model.SourceNote) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if notes == nil {
		return fmt.Errorf("%w: notes", ErrNilParameter)
	}
	for i := range notes {
		if err := validateSourceNote(&notes[i]); err != nil {
			return fmt.Errorf("source note at index %d: %w", i, err)
		}
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO source_notes (id, patient_name, visit_date, raw_text, length, ingested_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		now := s.now()
		for _, note := range notes {
			if _, err := stmt.ExecContext(ctx,
				note.ID,
				note.PatientName,
				model.DateOnly(note.VisitDate),
				note.RawText,
				note.TextLength(),
				now,
			); err != nil {
				return fmt.Errorf("failed to insert source note %s: %w", note.ID, err)
			}
		}
		return nil
	})
}

// GetSourceNote retrieves a source note by id.
func (s *SQLiteStorage) GetSourceNote(ctx context.Context, id string) (*model.SourceNote, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	var note model.SourceNote
	err := s.db.QueryRowContext(ctx, `
		SELECT id, patient_name, visit_date, raw_text, length
		FROM source_notes
		WHERE id = ?
	`, id).Scan(&note.ID, &note.PatientName, &note.VisitDate, &note.RawText, &note.Length)
	if err != nil {
		return nil, wrapNotFound(err, "source note", id)
	}
	return &note, nil
}

// ListSourceNotes returns source notes whose visit date falls in dates.
func (s *SQLiteStorage) ListSourceNotes(ctx context.Context, dates model.DateRange) ([]model.SourceNote, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateDateRange(dates); err != nil {
		return nil, err
	}

	query, args, err := withDateRange(
		sq.Select("id", "patient_name", "visit_date", "raw_text", "length").From("source_notes"),
		"visit_date", dates,
	).OrderBy("visit_date", "id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query source notes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var notes []model.SourceNote
	for rows.Next() {
		var note model.SourceNote
		if err := rows.Scan(&note.ID, &note.PatientName, &note.VisitDate, &note.RawText, &note.Length); err != nil {
			return nil, fmt.Errorf("failed to scan source note: %w", err)
		}
		notes = append(notes, note)
	}
	return notes, rows.Err()
}

// SaveDestinationRecords upserts a snapshot of destination records.
func (s *SQLiteStorage) SaveDestinationRecords(ctx context.Context, records []model.DestinationRecord) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if records == nil {
		return fmt.Errorf("%w: records", ErrNilParameter)
	}
	for i := range records {
		if err := validateDestinationRecord(&records[i]); err != nil {
			return fmt.Errorf("destination record at index %d: %w", i, err)
		}
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO destination_records (id, patient_name, visit_date, is_signed, provider, location, text, fetched_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				patient_name = excluded.patient_name,
				visit_date = excluded.visit_date,
				is_signed = excluded.is_signed,
				provider = excluded.provider,
				location = excluded.location,
				text = excluded.text,
				fetched_at = excluded.fetched_at
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		now := s.now()
		for _, rec := range records {
			if _, err := stmt.ExecContext(ctx,
				rec.ID,
				rec.PatientName,
				model.DateOnly(rec.VisitDate),
				rec.IsSigned,
				rec.Provider,
				rec.Location,
				rec.Text,
				now,
			); err != nil {
				return fmt.Errorf("failed to upsert destination record %s: %w", rec.ID, err)
			}
		}
		return nil
	})
}

const destinationColumns = "id, patient_name, visit_date, is_signed, provider, location, text"

func scanDestinationRecord(row interface{ Scan(...any) error }) (model.DestinationRecord, error) {
	var rec model.DestinationRecord
	var provider, location, text sql.NullString
	err := row.Scan(&rec.ID, &rec.PatientName, &rec.VisitDate, &rec.IsSigned, &provider, &location, &text)
	rec.Provider = provider.String
	rec.Location = location.String
	rec.Text = text.String
	return rec, err
}

// GetDestinationRecord retrieves a destination record by id.
func (s *SQLiteStorage) GetDestinationRecord(ctx context.Context, id string) (*model.DestinationRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}

	rec, err := scanDestinationRecord(s.db.QueryRowContext(ctx,
		"SELECT "+destinationColumns+" FROM destination_records WHERE id = ?", id))
	if err != nil {
		return nil, wrapNotFound(err, "destination record", id)
	}
	return &rec, nil
}

// ListDestinationRecords returns destination records whose visit date falls in dates.
func (s *SQLiteStorage) ListDestinationRecords(ctx context.Context, dates model.DateRange) ([]model.DestinationRecord, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateDateRange(dates); err != nil {
		return nil, err
	}

	query, args, err := withDateRange(
		sq.Select(destinationColumns).From("destination_records"),
		"visit_date", dates,
	).OrderBy("visit_date", "id").ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query destination records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []model.DestinationRecord
	for rows.Next() {
		rec, err := scanDestinationRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan destination record: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// withDateRange restricts a query to the days covered by dates.
func withDateRange(b sq.SelectBuilder, column string, dates model.DateRange) sq.SelectBuilder {
	if !dates.Start.IsZero() {
		b = b.Where(sq.GtOrEq{column: model.DateOnly(dates.Start)})
	}
	if !dates.End.IsZero() {
		b = b.Where(sq.LtOrEq{column: model.DateOnly(dates.End)})
	}
	return b
}

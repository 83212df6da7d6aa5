package storage

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/Veraticus/notesync/internal/matcher"
	"github.com/Veraticus/notesync/internal/model"
)

// patientKey identifies a patient across spelling variants of their name.
func patientKey(name string) string {
	return matcher.NormalizeName(name)
}

// ListTags returns the tags attached to a patient, or every known tag when
// patientName is empty.
func (s *SQLiteStorage) ListTags(ctx context.Context, patientName string) ([]model.Tag, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	b := sq.Select("t.name", "t.color").From("tags t").OrderBy("t.name")
	if patientName != "" {
		b = b.Join("patient_tags pt ON pt.tag_name = t.name").
			Where(sq.Eq{"pt.patient_key": patientKey(patientName)})
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tags: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tags []model.Tag
	for rows.Next() {
		var tag model.Tag
		if err := rows.Scan(&tag.Name, &tag.Color); err != nil {
			return nil, fmt.Errorf("failed to scan tag: %w", err)
		}
		tags = append(tags, tag)
	}
	return tags, rows.Err()
}

// AddTag attaches tag to a patient, creating the tag or updating its color.
func (s *SQLiteStorage) AddTag(ctx context.Context, patientName string, tag model.Tag) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(patientName, "patientName"); err != nil {
		return err
	}
	if err := validateTag(tag); err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO tags (name, color) VALUES (?, ?)
			ON CONFLICT(name) DO UPDATE SET color = CASE WHEN excluded.color = '' THEN tags.color ELSE excluded.color END
		`, tag.Name, tag.Color); err != nil {
			return fmt.Errorf("failed to save tag: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO patient_tags (patient_key, tag_name, created_at) VALUES (?, ?, ?)
			ON CONFLICT(patient_key, tag_name) DO NOTHING
		`, patientKey(patientName), tag.Name, s.now()); err != nil {
			return fmt.Errorf("failed to attach tag: %w", err)
		}
		return nil
	})
}

// RemoveTag detaches a tag from a patient.
func (s *SQLiteStorage) RemoveTag(ctx context.Context, patientName, tagName string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(patientName, "patientName"); err != nil {
		return err
	}
	if err := validateString(tagName, "tagName"); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM patient_tags WHERE patient_key = ? AND tag_name = ?
	`, patientKey(patientName), tagName)
	if err != nil {
		return fmt.Errorf("failed to remove tag: %w", err)
	}
	return requireRow(res, "tag", tagName)
}

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/Veraticus/notesync/internal/common"
	"github.com/Veraticus/notesync/internal/model"
	"github.com/Veraticus/notesync/internal/service"
)

const resultColumns = `id, source_id, batch_id, patient_name, visit_date, raw_note,
	step1_note, step2_note, final_cleaned_note, processing_status, review_status,
	upload_status, match_tier, last_error, total_checks, passed_checks, failed_checks,
	critical_failures, requires_human_intervention, intervention_reasons,
	processing_attempts, review_notes, reviewer, reviewed_at, uploaded_at,
	created_at, updated_at`

// CreateProcessingResult inserts a new result. A source note has at most one result.
func (s *SQLiteStorage) CreateProcessingResult(ctx context.Context, result *model.ProcessingResult) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateProcessingResult(result); err != nil {
		return err
	}

	reasons, err := encodeReasons(result.InterventionReasons)
	if err != nil {
		return err
	}

	now := s.now()
	if result.CreatedAt.IsZero() {
		result.CreatedAt = now
	}
	result.UpdatedAt = now

	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO processing_results (`+resultColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			result.ID, result.SourceID, result.BatchID, result.PatientName,
			model.DateOnly(result.VisitDate), result.RawNote,
			result.Step1Note, result.Step2Note, result.FinalCleanedNote,
			string(result.ProcessingStatus), string(result.ReviewStatus),
			string(result.UploadStatus), string(result.MatchTier), result.LastError,
			result.TotalChecks, result.PassedChecks, result.FailedChecks,
			result.CriticalFailures, result.RequiresHumanIntervention, reasons,
			result.ProcessingAttempts, result.ReviewNotes, result.Reviewer,
			nullTime(result.ReviewedAt), nullTime(result.UploadedAt),
			result.CreatedAt, result.UpdatedAt,
		)
		if err != nil {
			if isConstraintViolation(err) {
				return fmt.Errorf("%w: processing result for source %s", common.ErrDuplicateEntry, result.SourceID)
			}
			return fmt.Errorf("failed to insert processing result: %w", err)
		}
		return saveChecksTx(ctx, tx, result.ID, result.Checks)
	})
}

// UpdateProcessingResult overwrites the row and its validation checks.
func (s *SQLiteStorage) UpdateProcessingResult(ctx context.Context, result *model.ProcessingResult) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateProcessingResult(result); err != nil {
		return err
	}

	reasons, err := encodeReasons(result.InterventionReasons)
	if err != nil {
		return err
	}
	result.UpdatedAt = s.now()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE processing_results SET
				batch_id = ?,
				step1_note = ?,
				step2_note = ?,
				final_cleaned_note = ?,
				processing_status = ?,
				review_status = ?,
				upload_status = ?,
				match_tier = ?,
				last_error = ?,
				total_checks = ?,
				passed_checks = ?,
				failed_checks = ?,
				critical_failures = ?,
				requires_human_intervention = ?,
				intervention_reasons = ?,
				processing_attempts = ?,
				review_notes = ?,
				reviewer = ?,
				reviewed_at = ?,
				uploaded_at = ?,
				updated_at = ?
			WHERE id = ?
		`,
			result.BatchID, result.Step1Note, result.Step2Note, result.FinalCleanedNote,
			string(result.ProcessingStatus), string(result.ReviewStatus),
			string(result.UploadStatus), string(result.MatchTier), result.LastError,
			result.TotalChecks, result.PassedChecks, result.FailedChecks,
			result.CriticalFailures, result.RequiresHumanIntervention, reasons,
			result.ProcessingAttempts, result.ReviewNotes, result.Reviewer,
			nullTime(result.ReviewedAt), nullTime(result.UploadedAt),
			result.UpdatedAt, result.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update processing result: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("%w: processing result %s", common.ErrNotFound, result.ID)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM validation_checks WHERE result_id = ?`, result.ID); err != nil {
			return fmt.Errorf("failed to clear validation checks: %w", err)
		}
		return saveChecksTx(ctx, tx, result.ID, result.Checks)
	})
}

func saveChecksTx(ctx context.Context, tx *sql.Tx, resultID string, checks []model.ValidationCheck) error {
	if len(checks) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO validation_checks (result_id, position, check_id, name, priority, passed, message, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, c := range checks {
		if _, err := stmt.ExecContext(ctx, resultID, i, c.ID, c.Name, string(c.Priority), c.Passed, c.Message, c.Details); err != nil {
			return fmt.Errorf("failed to insert validation check %s: %w", c.ID, err)
		}
	}
	return nil
}

// GetProcessingResult retrieves a result with its validation checks.
func (s *SQLiteStorage) GetProcessingResult(ctx context.Context, id string) (*model.ProcessingResult, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(id, "id"); err != nil {
		return nil, err
	}
	return s.getProcessingResult(ctx, "id", id)
}

// GetProcessingResultBySource retrieves the result created for a source note.
func (s *SQLiteStorage) GetProcessingResultBySource(ctx context.Context, sourceID string) (*model.ProcessingResult, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(sourceID, "sourceID"); err != nil {
		return nil, err
	}
	return s.getProcessingResult(ctx, "source_id", sourceID)
}

func (s *SQLiteStorage) getProcessingResult(ctx context.Context, column, value string) (*model.ProcessingResult, error) {
	query, args, err := sq.Select(resultColumns).From("processing_results").Where(sq.Eq{column: value}).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	result, err := scanProcessingResult(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, wrapNotFound(err, "processing result", value)
	}

	checks, err := s.getChecks(ctx, s.db, result.ID)
	if err != nil {
		return nil, err
	}
	result.Checks = checks
	return result, nil
}

func (s *SQLiteStorage) getChecks(ctx context.Context, q queryable, resultID string) ([]model.ValidationCheck, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT check_id, name, priority, passed, message, details
		FROM validation_checks
		WHERE result_id = ?
		ORDER BY position
	`, resultID)
	if err != nil {
		return nil, fmt.Errorf("failed to query validation checks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var checks []model.ValidationCheck
	for rows.Next() {
		var c model.ValidationCheck
		var priority string
		if err := rows.Scan(&c.ID, &c.Name, &priority, &c.Passed, &c.Message, &c.Details); err != nil {
			return nil, fmt.Errorf("failed to scan validation check: %w", err)
		}
		c.Priority = model.Priority(priority)
		checks = append(checks, c)
	}
	return checks, rows.Err()
}

// ListProcessingResults returns results matching filter, without their checks.
func (s *SQLiteStorage) ListProcessingResults(ctx context.Context, filter service.ResultFilter) ([]model.ProcessingResult, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	b := sq.Select(resultColumns).From("processing_results").OrderBy("visit_date", "id")
	if filter.BatchID != "" {
		b = b.Where(sq.Eq{"batch_id": filter.BatchID})
	}
	if filter.ProcessingStatus != "" {
		b = b.Where(sq.Eq{"processing_status": string(filter.ProcessingStatus)})
	}
	if len(filter.ReviewStatus) > 0 {
		statuses := make([]string, len(filter.ReviewStatus))
		for i, rs := range filter.ReviewStatus {
			statuses[i] = string(rs)
		}
		b = b.Where(sq.Eq{"review_status": statuses})
	}
	if filter.UploadStatus != "" {
		b = b.Where(sq.Eq{"upload_status": string(filter.UploadStatus)})
	}
	if filter.MatchTier != "" {
		b = b.Where(sq.Eq{"match_tier": string(filter.MatchTier)})
	}
	if filter.RequiresIntervention != nil {
		b = b.Where(sq.Eq{"requires_human_intervention": *filter.RequiresIntervention})
	}
	if filter.Limit > 0 {
		b = b.Limit(uint64(filter.Limit))
	}
	if filter.Offset > 0 {
		b = b.Offset(uint64(filter.Offset))
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query processing results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var results []model.ProcessingResult
	for rows.Next() {
		r, err := scanProcessingResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan processing result: %w", err)
		}
		results = append(results, *r)
	}
	return results, rows.Err()
}

func scanProcessingResult(row interface{ Scan(...any) error }) (*model.ProcessingResult, error) {
	var r model.ProcessingResult
	var batchID sql.NullString
	var processing, review, upload, tier, reasons string
	var reviewedAt, uploadedAt sql.NullTime

	err := row.Scan(
		&r.ID, &r.SourceID, &batchID, &r.PatientName, &r.VisitDate, &r.RawNote,
		&r.Step1Note, &r.Step2Note, &r.FinalCleanedNote, &processing, &review,
		&upload, &tier, &r.LastError, &r.TotalChecks, &r.PassedChecks, &r.FailedChecks,
		&r.CriticalFailures, &r.RequiresHumanIntervention, &reasons,
		&r.ProcessingAttempts, &r.ReviewNotes, &r.Reviewer, &reviewedAt, &uploadedAt,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.BatchID = batchID.String
	r.ProcessingStatus = model.ProcessingStatus(processing)
	r.ReviewStatus = model.ReviewStatus(review)
	r.UploadStatus = model.UploadStatus(upload)
	r.MatchTier = model.Tier(tier)
	r.ReviewedAt = timePtr(reviewedAt)
	r.UploadedAt = timePtr(uploadedAt)
	if err := json.Unmarshal([]byte(reasons), &r.InterventionReasons); err != nil {
		return nil, fmt.Errorf("failed to decode intervention reasons: %w", err)
	}
	return &r, nil
}

func encodeReasons(reasons []string) (string, error) {
	if reasons == nil {
		reasons = []string{}
	}
	data, err := json.Marshal(reasons)
	if err != nil {
		return "", fmt.Errorf("failed to encode intervention reasons: %w", err)
	}
	return string(data), nil
}

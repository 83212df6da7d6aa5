package storage

import (
	"context"
	"fmt"

	"github.com/Veraticus/notesync/internal/model"
)

// SaveReviewEvent appends a reviewer decision to the audit trail.
func (s *SQLiteStorage) SaveReviewEvent(ctx context.Context, event *model.ReviewEvent) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if event == nil {
		return fmt.Errorf("%w: event", ErrNilParameter)
	}
	if err := validateString(event.ResultID, "resultID"); err != nil {
		return err
	}
	if !event.Decision.Valid() {
		return fmt.Errorf("%w: decision %q", ErrInvalidStatus, event.Decision)
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO review_events (result_id, decision, reviewer, notes, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, event.ResultID, string(event.Decision), event.Reviewer, event.Notes, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save review event: %w", err)
	}
	return nil
}

// ListReviewEvents returns a result's review history, oldest first.
func (s *SQLiteStorage) ListReviewEvents(ctx context.Context, resultID string) ([]model.ReviewEvent, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(resultID, "resultID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT result_id, decision, reviewer, notes, created_at
		FROM review_events
		WHERE result_id = ?
		ORDER BY id
	`, resultID)
	if err != nil {
		return nil, fmt.Errorf("failed to query review events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []model.ReviewEvent
	for rows.Next() {
		var e model.ReviewEvent
		var decision string
		if err := rows.Scan(&e.ResultID, &decision, &e.Reviewer, &e.Notes, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan review event: %w", err)
		}
		e.Decision = model.ReviewStatus(decision)
		events = append(events, e)
	}
	return events, rows.Err()
}

// SaveUploadAttempt appends an upload outcome to the audit trail.
func (s *SQLiteStorage) SaveUploadAttempt(ctx context.Context, attempt *model.UploadAttempt) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if attempt == nil {
		return fmt.Errorf("%w: attempt", ErrNilParameter)
	}
	if err := validateString(attempt.ResultID, "resultID"); err != nil {
		return err
	}
	if !attempt.Status.Valid() {
		return fmt.Errorf("%w: upload status %q", ErrInvalidStatus, attempt.Status)
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO upload_attempts (result_id, status, detail, tries, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, attempt.ResultID, string(attempt.Status), attempt.Detail, attempt.Tries, attempt.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save upload attempt: %w", err)
	}
	return nil
}

// ListUploadAttempts returns a result's upload history, oldest first.
func (s *SQLiteStorage) ListUploadAttempts(ctx context.Context, resultID string) ([]model.UploadAttempt, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(resultID, "resultID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT result_id, status, detail, tries, created_at
		FROM upload_attempts
		WHERE result_id = ?
		ORDER BY id
	`, resultID)
	if err != nil {
		return nil, fmt.Errorf("failed to query upload attempts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var attempts []model.UploadAttempt
	for rows.Next() {
		var a model.UploadAttempt
		var status string
		if err := rows.Scan(&a.ResultID, &status, &a.Detail, &a.Tries, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan upload attempt: %w", err)
		}
		a.Status = model.UploadStatus(status)
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

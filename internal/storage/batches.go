package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/Veraticus/notesync/internal/common"
	"github.com/Veraticus/notesync/internal/model"
	"github.com/Veraticus/notesync/internal/service"
)

const batchColumns = `id, batch_id, start_date, end_date, total_notes, processed_notes,
	success_count, needs_review_count, failed_count, uploaded_count,
	upload_failed_count, upload_flagged_count, status, cancelled, created_at, completed_at`

// CreateBatch inserts a batch run and its membership rows and points each
// member's processing result at the batch, all in one transaction.
func (s *SQLiteStorage) CreateBatch(ctx context.Context, run *model.BatchRun, resultIDs []string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateBatchRun(run); err != nil {
		return err
	}
	if run.TotalNotes != len(resultIDs) {
		return fmt.Errorf("%w: total %d does not match %d members", ErrInvalidBatch, run.TotalNotes, len(resultIDs))
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = s.now()
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO batch_runs (`+batchColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			run.ID, run.BatchID, run.StartDate, run.EndDate, run.TotalNotes, run.ProcessedNotes,
			run.SuccessCount, run.NeedsReviewCount, run.FailedCount, run.UploadedCount,
			run.UploadFailedCount, run.UploadFlaggedCount, string(run.Status), run.Cancelled,
			run.CreatedAt, nullTime(run.CompletedAt),
		)
		if err != nil {
			if isConstraintViolation(err) {
				return fmt.Errorf("%w: batch %s", common.ErrDuplicateEntry, run.BatchID)
			}
			return fmt.Errorf("failed to insert batch: %w", err)
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO batch_members (batch_id, result_id, updated_at) VALUES (?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare statement: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for _, id := range resultIDs {
			if _, err := stmt.ExecContext(ctx, run.BatchID, id, run.CreatedAt); err != nil {
				if isConstraintViolation(err) {
					return fmt.Errorf("%w: note %s listed twice in batch", common.ErrDuplicateEntry, id)
				}
				return fmt.Errorf("failed to insert batch member %s: %w", id, err)
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE processing_results SET batch_id = ?, updated_at = ? WHERE id = ?`,
				run.BatchID, run.CreatedAt, id,
			); err != nil {
				return fmt.Errorf("failed to assign %s to batch: %w", id, err)
			}
		}
		return nil
	})
}

// GetBatch retrieves a batch run by its batch id.
func (s *SQLiteStorage) GetBatch(ctx context.Context, batchID string) (*model.BatchRun, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(batchID, "batchID"); err != nil {
		return nil, err
	}
	return getBatchTx(ctx, s.db, batchID)
}

func getBatchTx(ctx context.Context, q queryable, batchID string) (*model.BatchRun, error) {
	run, err := scanBatch(q.QueryRowContext(ctx,
		"SELECT "+batchColumns+" FROM batch_runs WHERE batch_id = ?", batchID))
	if err != nil {
		return nil, wrapNotFound(err, "batch", batchID)
	}
	return run, nil
}

// ListBatches returns the most recent batches first.
func (s *SQLiteStorage) ListBatches(ctx context.Context, limit int) ([]model.BatchRun, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	b := sq.Select(batchColumns).From("batch_runs").OrderBy("created_at DESC", "batch_id")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query batches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []model.BatchRun
	for rows.Next() {
		run, err := scanBatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// ListBatchMembers returns the result ids in a batch.
func (s *SQLiteStorage) ListBatchMembers(ctx context.Context, batchID string) ([]string, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(batchID, "batchID"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT result_id FROM batch_members WHERE batch_id = ? ORDER BY result_id
	`, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query batch members: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan batch member: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateBatchMember runs fn against the batch and the member's recorded
// outcome inside one transaction and persists what fn changed.
func (s *SQLiteStorage) UpdateBatchMember(ctx context.Context, batchID, resultID string, fn service.BatchUpdateFunc) (*model.BatchRun, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(batchID, "batchID"); err != nil {
		return nil, err
	}
	if err := validateString(resultID, "resultID"); err != nil {
		return nil, err
	}
	if fn == nil {
		return nil, fmt.Errorf("%w: fn", ErrNilParameter)
	}

	var updated *model.BatchRun
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		run, err := getBatchTx(ctx, tx, batchID)
		if err != nil {
			return err
		}

		var recorded sql.NullString
		err = tx.QueryRowContext(ctx, `
			SELECT outcome FROM batch_members WHERE batch_id = ? AND result_id = ?
		`, batchID, resultID).Scan(&recorded)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: %s in %s", common.ErrNotBatchMember, resultID, batchID)
		}
		if err != nil {
			return fmt.Errorf("failed to get batch member: %w", err)
		}

		var prev *model.Outcome
		if recorded.Valid {
			o := model.Outcome(recorded.String)
			prev = &o
		}

		next, err := fn(run, prev)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE batch_runs SET
				processed_notes = ?,
				success_count = ?,
				needs_review_count = ?,
				failed_count = ?,
				status = ?,
				completed_at = ?
			WHERE batch_id = ?
		`,
			run.ProcessedNotes, run.SuccessCount, run.NeedsReviewCount, run.FailedCount,
			string(run.Status), nullTime(run.CompletedAt), batchID,
		); err != nil {
			return fmt.Errorf("failed to update batch counters: %w", err)
		}

		if next != nil {
			if _, err := tx.ExecContext(ctx, `
				UPDATE batch_members SET outcome = ?, updated_at = ?
				WHERE batch_id = ? AND result_id = ?
			`, string(*next), s.now(), batchID, resultID); err != nil {
				return fmt.Errorf("failed to update batch member: %w", err)
			}
		}

		updated = run
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// RefreshUploadCounts recounts the batch's members by upload status in a
// single statement, so each note counts once under its current status.
func (s *SQLiteStorage) RefreshUploadCounts(ctx context.Context, batchID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(batchID, "batchID"); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE batch_runs SET
			uploaded_count = (SELECT COUNT(*) FROM processing_results p
				WHERE p.batch_id = batch_runs.batch_id AND p.upload_status = ?),
			upload_failed_count = (SELECT COUNT(*) FROM processing_results p
				WHERE p.batch_id = batch_runs.batch_id AND p.upload_status = ?),
			upload_flagged_count = (SELECT COUNT(*) FROM processing_results p
				WHERE p.batch_id = batch_runs.batch_id AND p.upload_status = ?)
		WHERE batch_id = ?
	`, string(model.UploadUploaded), string(model.UploadFailed), string(model.UploadFlagged), batchID)
	if err != nil {
		return fmt.Errorf("failed to refresh upload counts: %w", err)
	}
	return requireRow(res, "batch", batchID)
}

// SetBatchCancelled marks a batch so no new notes enter the pipeline.
func (s *SQLiteStorage) SetBatchCancelled(ctx context.Context, batchID string) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateString(batchID, "batchID"); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `UPDATE batch_runs SET cancelled = 1 WHERE batch_id = ?`, batchID)
	if err != nil {
		return fmt.Errorf("failed to cancel batch: %w", err)
	}
	return requireRow(res, "batch", batchID)
}

func requireRow(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", common.ErrNotFound, what, id)
	}
	return nil
}

func scanBatch(row interface{ Scan(...any) error }) (*model.BatchRun, error) {
	var run model.BatchRun
	var status string
	var completedAt sql.NullTime
	err := row.Scan(
		&run.ID, &run.BatchID, &run.StartDate, &run.EndDate, &run.TotalNotes, &run.ProcessedNotes,
		&run.SuccessCount, &run.NeedsReviewCount, &run.FailedCount, &run.UploadedCount,
		&run.UploadFailedCount, &run.UploadFlaggedCount, &status, &run.Cancelled,
		&run.CreatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	run.Status = model.BatchStatus(status)
	run.CompletedAt = timePtr(completedAt)
	return &run, nil
}

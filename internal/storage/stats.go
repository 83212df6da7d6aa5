package storage

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/Veraticus/notesync/internal/model"
	"github.com/Veraticus/notesync/internal/service"
)

// GetPipelineStats counts results by each status column. An empty batchID
// covers every result.
func (s *SQLiteStorage) GetPipelineStats(ctx context.Context, batchID string) (*service.PipelineStats, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}

	stats := &service.PipelineStats{
		ByTier:             make(map[model.Tier]int),
		ByProcessingStatus: make(map[model.ProcessingStatus]int),
		ByReviewStatus:     make(map[model.ReviewStatus]int),
		ByUploadStatus:     make(map[model.UploadStatus]int),
	}

	groups := []struct {
		add    func(key string, n int)
		column string
	}{
		{column: "match_tier", add: func(k string, n int) { stats.ByTier[model.Tier(k)] = n }},
		{column: "processing_status", add: func(k string, n int) { stats.ByProcessingStatus[model.ProcessingStatus(k)] = n }},
		{column: "review_status", add: func(k string, n int) { stats.ByReviewStatus[model.ReviewStatus(k)] = n }},
		{column: "upload_status", add: func(k string, n int) { stats.ByUploadStatus[model.UploadStatus(k)] = n }},
	}

	for _, g := range groups {
		b := sq.Select(g.column, "COUNT(*)").From("processing_results").GroupBy(g.column)
		if batchID != "" {
			b = b.Where(sq.Eq{"batch_id": batchID})
		}
		if err := s.countGrouped(ctx, b, g.add); err != nil {
			return nil, fmt.Errorf("failed to count by %s: %w", g.column, err)
		}
	}

	total := sq.Select("COUNT(*)", "COALESCE(SUM(requires_human_intervention), 0)").From("processing_results")
	if batchID != "" {
		total = total.Where(sq.Eq{"batch_id": batchID})
	}
	query, args, err := total.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&stats.Total, &stats.RequiringReview); err != nil {
		return nil, fmt.Errorf("failed to count results: %w", err)
	}

	return stats, nil
}

func (s *SQLiteStorage) countGrouped(ctx context.Context, b sq.SelectBuilder, add func(string, int)) error {
	query, args, err := b.ToSql()
	if err != nil {
		return err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return err
		}
		add(key, n)
	}
	return rows.Err()
}

package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Veraticus/notesync/internal/model"
)

// SaveMatchResult upserts the match for a source note. A source note maps to
// at most one match result.
func (s *SQLiteStorage) SaveMatchResult(ctx context.Context, match *model.MatchResult) error {
	if err := validateContext(ctx); err != nil {
		return err
	}
	if err := validateMatchResult(match); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO match_results (
			source_id, destination_id, tier, confidence, name_score, date_score,
			content_score, candidates, ambiguous, matched_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source_id) DO UPDATE SET
			destination_id = excluded.destination_id,
			tier = excluded.tier,
			confidence = excluded.confidence,
			name_score = excluded.name_score,
			date_score = excluded.date_score,
			content_score = excluded.content_score,
			candidates = excluded.candidates,
			ambiguous = excluded.ambiguous,
			matched_at = excluded.matched_at
	`,
		match.SourceID,
		nullString(match.DestinationID),
		string(match.Tier),
		match.Confidence,
		match.NameScore,
		match.DateScore,
		match.ContentScore,
		match.Candidates,
		match.Ambiguous,
		match.MatchedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save match result: %w", err)
	}
	return nil
}

// GetMatchResult retrieves the match for a source note.
func (s *SQLiteStorage) GetMatchResult(ctx context.Context, sourceID string) (*model.MatchResult, error) {
	if err := validateContext(ctx); err != nil {
		return nil, err
	}
	if err := validateString(sourceID, "sourceID"); err != nil {
		return nil, err
	}

	var match model.MatchResult
	var destID sql.NullString
	var tier string
	err := s.db.QueryRowContext(ctx, `
		SELECT source_id, destination_id, tier, confidence, name_score, date_score,
			content_score, candidates, ambiguous, matched_at
		FROM match_results
		WHERE source_id = ?
	`, sourceID).Scan(
		&match.SourceID,
		&destID,
		&tier,
		&match.Confidence,
		&match.NameScore,
		&match.DateScore,
		&match.ContentScore,
		&match.Candidates,
		&match.Ambiguous,
		&match.MatchedAt,
	)
	if err != nil {
		return nil, wrapNotFound(err, "match result", sourceID)
	}

	match.DestinationID = stringPtr(destID)
	match.Tier = model.Tier(tier)
	return &match, nil
}

package model

import "time"

// Tier is the discretized confidence bucket assigned to a match.
type Tier string

// Tier constants.
const (
	TierHigh      Tier = "high"
	TierMedium    Tier = "medium"
	TierLow       Tier = "low"
	TierUnmatched Tier = "unmatched"
)

// Tier thresholds. TierFor is the only place they are applied.
const (
	HighConfidenceThreshold   = 0.90
	MediumConfidenceThreshold = 0.70
)

// TierFor maps a confidence score to its tier.
func TierFor(score float64) Tier {
	switch {
	case score >= HighConfidenceThreshold:
		return TierHigh
	case score >= MediumConfidenceThreshold:
		return TierMedium
	default:
		return TierLow
	}
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierHigh, TierMedium, TierLow, TierUnmatched:
		return true
	}
	return false
}

// MatchResult pairs a source note with at most one destination record.
type MatchResult struct {
	MatchedAt     time.Time `json:"matched_at"`
	DestinationID *string   `json:"destination_id"`
	SourceID      string    `json:"source_id"`
	Tier          Tier      `json:"tier"`
	Confidence    float64   `json:"confidence"`
	NameScore     float64   `json:"name_score"`
	DateScore     float64   `json:"date_score"`
	ContentScore  float64   `json:"content_score"`
	Candidates    int       `json:"candidates"`
	Ambiguous     bool      `json:"ambiguous"`
}

// IsMatched reports whether a destination record was selected.
func (m MatchResult) IsMatched() bool {
	return m.DestinationID != nil && m.Tier != TierUnmatched
}

// Unmatched builds the result for a note with no usable candidate.
func Unmatched(sourceID string, at time.Time) MatchResult {
	return MatchResult{
		SourceID:  sourceID,
		Tier:      TierUnmatched,
		MatchedAt: at,
	}
}

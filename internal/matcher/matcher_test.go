package matcher

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/notesync/internal/model"
)

var fixedNow = time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)

func newTestMatcher(t *testing.T) *Matcher {
	t.Helper()
	m, err := New(DefaultConfig(), WithClock(func() time.Time { return fixedNow }))
	require.NoError(t, err)
	return m
}

func day(s string) time.Time {
	d, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Jane Doe", "jane doe"},
		{"  JANE   DOE ", "jane doe"},
		{"Doe, Jane", "jane doe"},
		{"José Núñez", "jose nunez"},
		{"Mary-Kate O'Brien", "mary kate obrien"},
		{"Dr. Smith", "dr smith"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeName(tt.in))
		})
	}
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("jane", "jane"))
	assert.Equal(t, 1, levenshtein("jane", "jame"))
	assert.Equal(t, 3, levenshtein("kitten", "sitting"))
	assert.Equal(t, 4, levenshtein("", "jane"))
	assert.Equal(t, 1, levenshtein("zoë", "zoe"))
}

func TestMatch_ExactNameAndDateIsHigh(t *testing.T) {
	m := newTestMatcher(t)
	source := model.SourceNote{ID: "s1", PatientName: "Jane Doe", VisitDate: day("2024-01-05")}
	candidates := []model.DestinationRecord{
		{ID: "d1", PatientName: "Jane Doe", VisitDate: day("2024-01-05")},
	}

	result := m.Match(source, candidates)

	require.NotNil(t, result.DestinationID)
	assert.Equal(t, "d1", *result.DestinationID)
	assert.GreaterOrEqual(t, result.Confidence, 0.95)
	assert.Equal(t, model.TierHigh, result.Tier)
	assert.False(t, result.Ambiguous)
	assert.Equal(t, fixedNow, result.MatchedAt)
}

func TestMatch_DateOutsideWindowIsLow(t *testing.T) {
	m := newTestMatcher(t)
	source := model.SourceNote{ID: "s1", PatientName: "Jane Doe", VisitDate: day("2024-01-05")}
	candidates := []model.DestinationRecord{
		{ID: "d1", PatientName: "Jane Doe", VisitDate: day("2024-02-14")},
	}

	result := m.Match(source, candidates)

	assert.Equal(t, 0.0, result.DateScore)
	assert.Equal(t, model.TierLow, result.Tier)
	assert.True(t, result.IsMatched())
}

func TestMatch_EmptyCandidates(t *testing.T) {
	m := newTestMatcher(t)
	result := m.Match(model.SourceNote{ID: "s1", PatientName: "Jane Doe"}, nil)

	assert.Nil(t, result.DestinationID)
	assert.Equal(t, model.TierUnmatched, result.Tier)
	assert.False(t, result.IsMatched())
}

func TestMatch_BlockingExcludesDistantNames(t *testing.T) {
	m := newTestMatcher(t)
	source := model.SourceNote{ID: "s1", PatientName: "Jane Doe", VisitDate: day("2024-01-05")}
	candidates := []model.DestinationRecord{
		{ID: "d1", PatientName: "John Smith", VisitDate: day("2024-01-05")},
		{ID: "d2", PatientName: "Janice Dow", VisitDate: day("2024-01-05")},
	}

	result := m.Match(source, candidates)

	assert.Equal(t, model.TierUnmatched, result.Tier)
}

func TestMatch_TypoWithinDistance(t *testing.T) {
	m := newTestMatcher(t)
	source := model.SourceNote{ID: "s1", PatientName: "Jane Doe", VisitDate: day("2024-01-05")}
	candidates := []model.DestinationRecord{
		{ID: "d1", PatientName: "Jane Doe", VisitDate: day("2024-01-20")},
		{ID: "d2", PatientName: "Jnae Doe", VisitDate: day("2024-01-05")},
	}

	result := m.Match(source, candidates)

	require.NotNil(t, result.DestinationID)
	assert.Equal(t, 2, result.Candidates)
	assert.Less(t, result.NameScore, 1.0)
}

func TestMatch_TieIsAmbiguousAndLow(t *testing.T) {
	m := newTestMatcher(t)
	source := model.SourceNote{ID: "s1", PatientName: "Jane Doe", VisitDate: day("2024-01-05")}
	candidates := []model.DestinationRecord{
		{ID: "d2", PatientName: "Jane Doe", VisitDate: day("2024-01-05"), Provider: "Dr. A"},
		{ID: "d1", PatientName: "Doe, Jane", VisitDate: day("2024-01-05"), Provider: "Dr. B"},
	}

	result := m.Match(source, candidates)

	assert.True(t, result.Ambiguous)
	assert.Equal(t, model.TierLow, result.Tier)
	assert.Equal(t, 1.0, result.Confidence)
	require.NotNil(t, result.DestinationID)
	assert.Equal(t, "d1", *result.DestinationID, "ties resolve to the lowest id")
}

func TestMatch_ContentBreaksTie(t *testing.T) {
	m := newTestMatcher(t)
	source := model.SourceNote{
		ID:          "s1",
		PatientName: "Jane Doe",
		VisitDate:   day("2024-01-05"),
		RawText:     "follow up for asthma inhaler refill albuterol",
	}
	candidates := []model.DestinationRecord{
		{ID: "d1", PatientName: "Jane Doe", VisitDate: day("2024-01-05"), Text: "knee pain after fall"},
		{ID: "d2", PatientName: "Jane Doe", VisitDate: day("2024-01-05"), Text: "asthma follow up albuterol refill"},
	}

	result := m.Match(source, candidates)

	require.NotNil(t, result.DestinationID)
	assert.Equal(t, "d2", *result.DestinationID)
	assert.False(t, result.Ambiguous)
	assert.Greater(t, result.ContentScore, 0.0)
}

func TestMatch_UnrelatedTextKeepsExactMatchHigh(t *testing.T) {
	m := newTestMatcher(t)
	source := model.SourceNote{
		ID:          "s1",
		PatientName: "Jane Doe",
		VisitDate:   day("2024-01-05"),
		RawText:     "Patient presents with persistent cough and fever",
	}
	candidates := []model.DestinationRecord{
		{ID: "d1", PatientName: "Jane Doe", VisitDate: day("2024-01-05"), Text: "Encounter opened by front desk"},
	}

	result := m.Match(source, candidates)

	require.NotNil(t, result.DestinationID)
	assert.Equal(t, "d1", *result.DestinationID)
	assert.Equal(t, 0.0, result.ContentScore)
	assert.GreaterOrEqual(t, result.Confidence, 0.95)
	assert.Equal(t, model.TierHigh, result.Tier)
}

func TestMatch_Deterministic(t *testing.T) {
	m := newTestMatcher(t)
	source := model.SourceNote{ID: "s1", PatientName: "Jane Doe", VisitDate: day("2024-01-05"), RawText: "cough fever"}
	candidates := []model.DestinationRecord{
		{ID: "d3", PatientName: "Jane Doe", VisitDate: day("2024-01-09"), Text: "cough"},
		{ID: "d1", PatientName: "Jane Do", VisitDate: day("2024-01-06")},
		{ID: "d2", PatientName: "Jane Doe", VisitDate: day("2024-01-12"), Text: "fever cough"},
	}

	first := m.Match(source, candidates)
	for range 20 {
		assert.Equal(t, first, m.Match(source, candidates))
	}

	reversed := []model.DestinationRecord{candidates[2], candidates[1], candidates[0]}
	assert.Equal(t, first, m.Match(source, reversed))
}

func TestMatch_ConfidenceTiers(t *testing.T) {
	m := newTestMatcher(t)
	source := model.SourceNote{ID: "s1", PatientName: "Jane Doe", VisitDate: day("2024-01-05")}

	tests := []struct {
		name   string
		offset int
		want   model.Tier
	}{
		{"same day", 0, model.TierHigh},
		{"ten days", 10, model.TierMedium},
		{"twenty-five days", 25, model.TierLow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := m.Match(source, []model.DestinationRecord{
				{ID: "d1", PatientName: "Jane Doe", VisitDate: day("2024-01-05").AddDate(0, 0, tt.offset)},
			})
			assert.Equal(t, tt.want, result.Tier)
			assert.Equal(t, model.TierFor(result.Confidence), result.Tier)
		})
	}
}

func TestMatchAll_PreservesOrder(t *testing.T) {
	m := newTestMatcher(t)
	var sources []model.SourceNote
	var candidates []model.DestinationRecord
	for i := range 50 {
		name := fmt.Sprintf("Patient Number%03d", i)
		sources = append(sources, model.SourceNote{ID: fmt.Sprintf("s%03d", i), PatientName: name, VisitDate: day("2024-01-05")})
		candidates = append(candidates, model.DestinationRecord{ID: fmt.Sprintf("d%03d", i), PatientName: name, VisitDate: day("2024-01-05")})
	}

	results, err := m.MatchAll(context.Background(), sources, candidates, 4)
	require.NoError(t, err)
	require.Len(t, results, len(sources))

	for i, r := range results {
		assert.Equal(t, sources[i].ID, r.SourceID)
		require.NotNil(t, r.DestinationID)
		// Names differing only in the trailing digits are within the blocking
		// distance, so several candidates survive but the exact one wins.
		assert.Equal(t, candidates[i].ID, *r.DestinationID)
	}
}

func TestMatchAll_Cancelled(t *testing.T) {
	m := newTestMatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.MatchAll(ctx, []model.SourceNote{{ID: "s1", PatientName: "Jane Doe"}}, nil, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.DateWindowDays = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Weights = Weights{}
	assert.Error(t, bad.Validate())

	_, err := New(bad)
	assert.Error(t, err)
}

package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Veraticus/notesync/internal/batch"
	"github.com/Veraticus/notesync/internal/catalog"
	"github.com/Veraticus/notesync/internal/common"
	"github.com/Veraticus/notesync/internal/llm"
	"github.com/Veraticus/notesync/internal/lock"
	"github.com/Veraticus/notesync/internal/matcher"
	"github.com/Veraticus/notesync/internal/model"
	"github.com/Veraticus/notesync/internal/pipeline"
	"github.com/Veraticus/notesync/internal/service"
	"github.com/Veraticus/notesync/internal/testutil"
)

type staticSource []model.SourceNote

func (s staticSource) SourceNotes(_ context.Context, dates model.DateRange) ([]model.SourceNote, error) {
	var out []model.SourceNote
	for _, n := range s {
		if dates.Contains(n.VisitDate) {
			out = append(out, n)
		}
	}
	return out, nil
}

func january() model.DateRange {
	return model.DateRange{Start: testutil.Date("2024-01-01"), End: testutil.Date("2024-01-31")}
}

func newIngester(t *testing.T, db *testutil.TestDB) *Ingester {
	t.Helper()
	m, err := matcher.New(matcher.DefaultConfig())
	require.NoError(t, err)

	source := staticSource{
		testutil.Note("n1", "Jane Doe", "2024-01-15"),
		testutil.Note("n2", "Bob Smith", "2024-01-20"),
		testutil.Note("n3", "Jane Doe", "2024-02-10"),
	}
	dest := testutil.NewFakeDestination(
		testutil.Record("d1", "Doe, Jane", "2024-01-15"),
		testutil.Record("d2", "Alice Walker", "2024-01-20"),
	)
	return New(db.Storage, source, dest, m, batch.NewTracker(db.Storage, nil), nil, 2)
}

func TestIngest_CreatesBatchOfPendingResults(t *testing.T) {
	db := testutil.SetupTestDB(t)
	in := newIngester(t, db)
	ctx := context.Background()

	res, err := in.Ingest(ctx, january())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Notes)
	assert.Equal(t, 2, res.Records)
	assert.Equal(t, 1, res.ByTier[model.TierHigh])
	assert.Equal(t, 1, res.ByTier[model.TierUnmatched])
	require.Len(t, res.ResultIDs, 2)
	require.NotNil(t, res.Batch)
	assert.Equal(t, 2, res.Batch.TotalNotes)

	for _, id := range res.ResultIDs {
		result := db.MustResult(id)
		assert.Equal(t, model.ProcessingPending, result.ProcessingStatus)
		assert.Equal(t, res.Batch.BatchID, result.BatchID)
		assert.NotEmpty(t, result.RawNote)
	}

	match, err := db.Storage.GetMatchResult(ctx, "n1")
	require.NoError(t, err)
	require.NotNil(t, match.DestinationID)
	assert.Equal(t, "d1", *match.DestinationID)

	unmatched, err := db.Storage.GetMatchResult(ctx, "n2")
	require.NoError(t, err)
	assert.Nil(t, unmatched.DestinationID)
	assert.Equal(t, model.TierUnmatched, unmatched.Tier)

	members, err := db.Storage.ListBatchMembers(ctx, res.Batch.BatchID)
	require.NoError(t, err)
	assert.ElementsMatch(t, res.ResultIDs, members)
}

func TestIngest_SkipsNotesWithResults(t *testing.T) {
	db := testutil.SetupTestDB(t)
	in := newIngester(t, db)
	ctx := context.Background()

	_, err := in.Ingest(ctx, january())
	require.NoError(t, err)

	again, err := in.Ingest(ctx, january())
	require.NoError(t, err)
	assert.Equal(t, 2, again.Existing)
	assert.Empty(t, again.ResultIDs)
	assert.Equal(t, model.BatchCompleted, again.Batch.Status)

	results, err := db.Storage.ListProcessingResults(ctx, service.ResultFilter{})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

// batchFailingStore refuses to create batches.
type batchFailingStore struct {
	service.Storage
}

func (batchFailingStore) CreateBatch(context.Context, *model.BatchRun, []string) error {
	return errors.New("disk full")
}

func TestIngest_AdoptsResultsFromFailedIngestion(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	m, err := matcher.New(matcher.DefaultConfig())
	require.NoError(t, err)
	source := staticSource{
		testutil.Note("n1", "Jane Doe", "2024-01-15"),
		testutil.Note("n2", "Bob Smith", "2024-01-20"),
	}
	dest := testutil.NewFakeDestination(testutil.Record("d1", "Doe, Jane", "2024-01-15"))

	failing := batchFailingStore{db.Storage}
	broken := New(failing, source, dest, m, batch.NewTracker(failing, nil), nil, 2)
	_, err = broken.Ingest(ctx, january())
	require.Error(t, err)

	stranded, err := db.Storage.ListProcessingResults(ctx, service.ResultFilter{})
	require.NoError(t, err)
	require.Len(t, stranded, 2)
	for _, r := range stranded {
		assert.Empty(t, r.BatchID)
	}

	healthy := New(db.Storage, source, dest, m, batch.NewTracker(db.Storage, nil), nil, 2)
	res, err := healthy.Ingest(ctx, january())
	require.NoError(t, err)

	assert.Zero(t, res.Existing)
	require.Len(t, res.ResultIDs, 2)
	assert.Equal(t, 2, res.Batch.TotalNotes)
	assert.Equal(t, model.BatchRunning, res.Batch.Status)
	assert.Equal(t, 1, res.ByTier[model.TierHigh])
	assert.Equal(t, 1, res.ByTier[model.TierUnmatched])
	for _, id := range res.ResultIDs {
		assert.Equal(t, res.Batch.BatchID, db.MustResult(id).BatchID)
	}

	results, err := db.Storage.ListProcessingResults(ctx, service.ResultFilter{})
	require.NoError(t, err)
	assert.Len(t, results, 2, "no duplicate results are created")
}

func TestIngest_RejectsInvertedRange(t *testing.T) {
	db := testutil.SetupTestDB(t)
	in := newIngester(t, db)

	_, err := in.Ingest(context.Background(), model.DateRange{
		Start: testutil.Date("2024-02-01"),
		End:   testutil.Date("2024-01-01"),
	})
	assert.ErrorIs(t, err, common.ErrInvalidConfig)
}

func TestRun_ProcessesNewBatch(t *testing.T) {
	db := testutil.SetupTestDB(t)
	in := newIngester(t, db)

	ai := &testutil.ScriptedLLM{Respond: func(prompt string) (string, error) {
		if strings.Contains(prompt, "checking a reformatted clinical note") {
			return testutil.CleanNote, nil
		}
		return "draft", nil
	}}
	transformer := llm.NewTransformer(ai, llm.Config{MaxRetries: 1, RetryDelay: time.Millisecond, RateLimit: 60000}, nil)
	processor := pipeline.NewProcessor(db.Storage, transformer, batch.NewTracker(db.Storage, nil), lock.NewKeyed(), nil, pipeline.DefaultOptions())

	res, summary, err := in.Run(context.Background(), january(), processor, catalog.Default(), nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Validated)
	assert.Equal(t, 1, summary.NeedsReview, "the unmatched note needs review")

	run := db.MustBatch(res.Batch.BatchID)
	assert.Equal(t, model.BatchCompleted, run.Status)
	assert.Equal(t, 2, run.ProcessedNotes)
}

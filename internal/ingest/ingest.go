// Package ingest pulls notes for a date range, matches them against the
// destination snapshot and opens a batch over the new notes.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Veraticus/notesync/internal/batch"
	"github.com/Veraticus/notesync/internal/catalog"
	"github.com/Veraticus/notesync/internal/common"
	"github.com/Veraticus/notesync/internal/connector"
	"github.com/Veraticus/notesync/internal/matcher"
	"github.com/Veraticus/notesync/internal/model"
	"github.com/Veraticus/notesync/internal/pipeline"
	"github.com/Veraticus/notesync/internal/service"
)

// Result describes one ingestion.
type Result struct {
	Batch     *model.BatchRun
	ByTier    map[model.Tier]int
	ResultIDs []string
	Notes     int
	Records   int
	Existing  int
}

// Ingester runs the matching and ingestion step.
type Ingester struct {
	store   service.Storage
	source  connector.Source
	dest    connector.Destination
	matcher *matcher.Matcher
	tracker *batch.Tracker
	logger  *slog.Logger
	workers int
}

// New creates an ingester. workers bounds matching concurrency; zero uses
// one goroutine per CPU.
func New(store service.Storage, source connector.Source, dest connector.Destination, m *matcher.Matcher, tracker *batch.Tracker, logger *slog.Logger, workers int) *Ingester {
	return &Ingester{
		store:   store,
		source:  source,
		dest:    dest,
		matcher: m,
		tracker: tracker,
		logger:  common.LoggerOrDefault(logger),
		workers: workers,
	}
}

// Ingest fetches source notes and destination records for dates, stores the
// snapshots, matches every note and creates a pending processing result per
// new note. Notes that already have a processing result are left alone. The
// new results form one batch run.
func (in *Ingester) Ingest(ctx context.Context, dates model.DateRange) (*Result, error) {
	if !dates.Start.IsZero() && !dates.End.IsZero() && dates.End.Before(dates.Start) {
		return nil, fmt.Errorf("%w: end date %s is before start date %s",
			common.ErrInvalidConfig, dates.End.Format("2006-01-02"), dates.Start.Format("2006-01-02"))
	}

	notes, err := in.source.SourceNotes(ctx, dates)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch source notes: %w", err)
	}
	records, err := in.dest.Records(ctx, dates)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch destination records: %w", err)
	}

	if len(notes) > 0 {
		if err := in.store.SaveSourceNotes(ctx, notes); err != nil {
			return nil, fmt.Errorf("failed to store source notes: %w", err)
		}
	}
	if len(records) > 0 {
		if err := in.store.SaveDestinationRecords(ctx, records); err != nil {
			return nil, fmt.Errorf("failed to store destination records: %w", err)
		}
	}

	res := &Result{
		Notes:   len(notes),
		Records: len(records),
		ByTier:  make(map[model.Tier]int),
	}

	var fresh []model.SourceNote
	var orphans []*model.ProcessingResult
	for _, note := range notes {
		existing, err := in.store.GetProcessingResultBySource(ctx, note.ID)
		switch {
		case err == nil && isOrphan(existing):
			orphans = append(orphans, existing)
		case err == nil:
			res.Existing++
		case errors.Is(err, common.ErrNotFound):
			fresh = append(fresh, note)
		default:
			return nil, fmt.Errorf("failed to check note %s: %w", note.ID, err)
		}
	}

	matches, err := in.matcher.MatchAll(ctx, fresh, records, in.workers)
	if err != nil {
		return nil, err
	}

	// Results left behind by an ingestion that failed before its batch was
	// created join this batch.
	for _, orphan := range orphans {
		res.ByTier[orphan.MatchTier]++
		res.ResultIDs = append(res.ResultIDs, orphan.ID)
	}
	if len(orphans) > 0 {
		in.logger.Warn("Adopting notes from an incomplete ingestion", "notes", len(orphans))
	}

	for i, note := range fresh {
		match := matches[i]
		if err := in.store.SaveMatchResult(ctx, &match); err != nil {
			return nil, fmt.Errorf("failed to store match for %s: %w", note.ID, err)
		}
		res.ByTier[match.Tier]++

		result := model.NewProcessingResult(uuid.NewString(), note, match.Tier)
		if err := in.store.CreateProcessingResult(ctx, result); err != nil {
			return nil, fmt.Errorf("failed to create result for %s: %w", note.ID, err)
		}
		res.ResultIDs = append(res.ResultIDs, result.ID)
	}

	run, err := in.tracker.CreateBatch(ctx, res.ResultIDs, dates)
	if err != nil {
		return nil, err
	}
	res.Batch = run

	in.logger.Info("Ingestion complete",
		"batch_id", run.BatchID,
		"notes", res.Notes,
		"records", res.Records,
		"new", len(fresh),
		"existing", res.Existing,
		"adopted", len(orphans),
		"high", res.ByTier[model.TierHigh],
		"medium", res.ByTier[model.TierMedium],
		"low", res.ByTier[model.TierLow],
		"unmatched", res.ByTier[model.TierUnmatched])
	return res, nil
}

// Run ingests dates and processes the new batch with processor. onIngested,
// when non-nil, sees the batch before processing starts.
func (in *Ingester) Run(ctx context.Context, dates model.DateRange, processor *pipeline.Processor, snap *catalog.Snapshot, onIngested func(*Result), onNote func(pipeline.NoteResult)) (*Result, *pipeline.BatchSummary, error) {
	res, err := in.Ingest(ctx, dates)
	if err != nil {
		return nil, nil, err
	}
	if onIngested != nil {
		onIngested(res)
	}
	summary, err := processor.RunBatch(ctx, res.Batch.BatchID, res.ResultIDs, snap, onNote)
	if err != nil {
		return res, summary, fmt.Errorf("batch %s interrupted: %w", res.Batch.BatchID, err)
	}
	return res, summary, nil
}

// isOrphan reports a result that was created but never joined a batch.
func isOrphan(r *model.ProcessingResult) bool {
	return r.BatchID == "" && r.ProcessingStatus == model.ProcessingPending
}

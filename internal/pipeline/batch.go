package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Veraticus/notesync/internal/catalog"
	"github.com/Veraticus/notesync/internal/common"
	"github.com/Veraticus/notesync/internal/model"
)

// NoteResult is the outcome of one note in a batch run.
type NoteResult struct {
	Error    error
	Result   *model.ProcessingResult
	ResultID string
	Skipped  bool
}

// BatchSummary contains statistics about a batch run.
type BatchSummary struct {
	BatchID        string
	Total          int
	Validated      int
	NeedsReview    int
	Failed         int
	Skipped        int
	Errors         int
	ProcessingTime time.Duration
}

// RunBatch processes ids with a bounded worker pool. Every result is handed
// to onNote (which may be nil) as it finishes. Notes of a cancelled batch that
// have not started are skipped and counted as failed in the batch; notes
// already running finish.
func (p *Processor) RunBatch(ctx context.Context, batchID string, ids []string, snap *catalog.Snapshot, onNote func(NoteResult)) (*BatchSummary, error) {
	start := time.Now()
	summary := &BatchSummary{BatchID: batchID, Total: len(ids)}
	if len(ids) == 0 {
		return summary, nil
	}

	workers := p.opts.Workers
	if workers > len(ids) {
		workers = len(ids)
	}

	p.logger.Info("Starting batch processing",
		"batch_id", batchID,
		"notes", len(ids),
		"workers", workers,
		"catalog_version", snap.Version())

	workChan := make(chan string, len(ids))
	for _, id := range ids {
		workChan <- id
	}
	close(workChan)

	resultsChan := make(chan NoteResult, len(ids))

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(workerID int) {
			defer wg.Done()
			p.worker(ctx, workerID, workChan, resultsChan, snap)
		}(i)
	}

	go func() {
		wg.Wait()
		close(resultsChan)
	}()

	for nr := range resultsChan {
		summary.add(nr)
		if onNote != nil {
			onNote(nr)
		}
	}
	summary.ProcessingTime = time.Since(start)

	p.logger.Info("Batch processing finished",
		"batch_id", batchID,
		"validated", summary.Validated,
		"needs_review", summary.NeedsReview,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"errors", summary.Errors,
		"duration", summary.ProcessingTime)

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

// worker processes notes from the work channel. Each worker owns one note at
// a time.
func (p *Processor) worker(ctx context.Context, workerID int, workChan <-chan string, resultsChan chan<- NoteResult, snap *catalog.Snapshot) {
	for id := range workChan {
		select {
		case <-ctx.Done():
			return
		default:
		}

		p.logger.Debug("Worker picked up note", "worker_id", workerID, "note_id", id)
		result, err := p.Process(ctx, id, snap)
		nr := NoteResult{ResultID: id, Result: result, Error: err}
		if errors.Is(err, common.ErrBatchCancelled) {
			nr.Skipped = true
			nr.Error = nil
			p.reportSkipped(ctx, result)
		}
		resultsChan <- nr
	}
}

func (s *BatchSummary) add(nr NoteResult) {
	switch {
	case nr.Skipped:
		s.Skipped++
	case nr.Error != nil:
		s.Errors++
	case nr.Result == nil:
		s.Errors++
	default:
		outcome, err := model.OutcomeOf(nr.Result)
		if err != nil {
			s.Errors++
			return
		}
		switch outcome {
		case model.OutcomeSuccess:
			s.Validated++
		case model.OutcomeNeedsReview:
			s.NeedsReview++
		case model.OutcomeFailed:
			s.Failed++
		}
	}
}

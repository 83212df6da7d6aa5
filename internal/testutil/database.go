// Package testutil provides shared fixtures for pipeline tests: a migrated
// in-memory store, note fixtures and scripted fakes for the AI provider and
// the destination system.
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/Veraticus/notesync/internal/model"
	"github.com/Veraticus/notesync/internal/storage"
)

// TestDB is a migrated in-memory database scoped to one test.
type TestDB struct {
	Storage *storage.SQLiteStorage
	t       *testing.T
}

// SetupTestDB creates a new in-memory test database. Migrations run and
// cleanup is registered automatically.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})

	return &TestDB{Storage: store, t: t}
}

// SeedNotes stores source notes.
func (db *TestDB) SeedNotes(notes ...model.SourceNote) {
	db.t.Helper()
	if err := db.Storage.SaveSourceNotes(context.Background(), notes); err != nil {
		db.t.Fatalf("failed to seed notes: %v", err)
	}
}

// SeedResult stores note and a pending processing result for it. The result
// id is "r-" followed by the note id.
func (db *TestDB) SeedResult(note model.SourceNote, tier model.Tier, batchID string) *model.ProcessingResult {
	db.t.Helper()
	db.SeedNotes(note)

	result := model.NewProcessingResult("r-"+note.ID, note, tier)
	result.BatchID = batchID
	if err := db.Storage.CreateProcessingResult(context.Background(), result); err != nil {
		db.t.Fatalf("failed to seed result for %s: %v", note.ID, err)
	}

	match := model.MatchResult{SourceID: note.ID, Tier: tier, MatchedAt: time.Now()}
	if tier != model.TierUnmatched {
		dest := "d-" + note.ID
		match.DestinationID = &dest
		match.Confidence = 0.95
		match.Candidates = 1
	}
	if err := db.Storage.SaveMatchResult(context.Background(), &match); err != nil {
		db.t.Fatalf("failed to seed match for %s: %v", note.ID, err)
	}
	return result
}

// SeedBatch stores a running batch over results.
func (db *TestDB) SeedBatch(batchID string, results ...*model.ProcessingResult) *model.BatchRun {
	db.t.Helper()
	ids := make([]string, len(results))
	for i, r := range results {
		ids[i] = r.ID
	}
	run := &model.BatchRun{
		ID:         "run-" + batchID,
		BatchID:    batchID,
		StartDate:  Date("2024-01-01"),
		EndDate:    Date("2024-01-31"),
		TotalNotes: len(ids),
		Status:     model.BatchRunning,
	}
	if err := db.Storage.CreateBatch(context.Background(), run, ids); err != nil {
		db.t.Fatalf("failed to seed batch %s: %v", batchID, err)
	}
	return run
}

// MustResult loads a processing result or fails the test.
func (db *TestDB) MustResult(id string) *model.ProcessingResult {
	db.t.Helper()
	result, err := db.Storage.GetProcessingResult(context.Background(), id)
	if err != nil {
		db.t.Fatalf("failed to load result %s: %v", id, err)
	}
	return result
}

// MustBatch loads a batch or fails the test.
func (db *TestDB) MustBatch(batchID string) *model.BatchRun {
	db.t.Helper()
	run, err := db.Storage.GetBatch(context.Background(), batchID)
	if err != nil {
		db.t.Fatalf("failed to load batch %s: %v", batchID, err)
	}
	return run
}

// Package service defines the interfaces shared by the pipeline components.
package service

import (
	"context"
	"time"

	"github.com/Veraticus/notesync/internal/model"
)

// ResultFilter narrows processing result queries. Zero values match everything.
type ResultFilter struct {
	RequiresIntervention *bool
	BatchID              string
	ProcessingStatus     model.ProcessingStatus
	ReviewStatus         []model.ReviewStatus
	UploadStatus         model.UploadStatus
	MatchTier            model.Tier
	Limit                int
	Offset               int
}

// BatchUpdateFunc mutates a batch inside a storage transaction. prev is the
// outcome already recorded for the member, or nil. The returned outcome is
// stored for the member; returning nil leaves it unchanged.
type BatchUpdateFunc func(run *model.BatchRun, prev *model.Outcome) (*model.Outcome, error)

// Storage defines the contract for our persistence layer.
type Storage interface {
	// Source and destination snapshots
	SaveSourceNotes(ctx context.Context, notes []model.SourceNote) error
	GetSourceNote(ctx context.Context, id string) (*model.SourceNote, error)
	ListSourceNotes(ctx context.Context, dates model.DateRange) ([]model.SourceNote, error)
	SaveDestinationRecords(ctx context.Context, records []model.DestinationRecord) error
	GetDestinationRecord(ctx context.Context, id string) (*model.DestinationRecord, error)
	ListDestinationRecords(ctx context.Context, dates model.DateRange) ([]model.DestinationRecord, error)

	// Match operations
	SaveMatchResult(ctx context.Context, match *model.MatchResult) error
	GetMatchResult(ctx context.Context, sourceID string) (*model.MatchResult, error)

	// Processing result operations
	CreateProcessingResult(ctx context.Context, result *model.ProcessingResult) error
	GetProcessingResult(ctx context.Context, id string) (*model.ProcessingResult, error)
	GetProcessingResultBySource(ctx context.Context, sourceID string) (*model.ProcessingResult, error)
	UpdateProcessingResult(ctx context.Context, result *model.ProcessingResult) error
	ListProcessingResults(ctx context.Context, filter ResultFilter) ([]model.ProcessingResult, error)

	// Batch operations
	CreateBatch(ctx context.Context, run *model.BatchRun, resultIDs []string) error
	GetBatch(ctx context.Context, batchID string) (*model.BatchRun, error)
	ListBatches(ctx context.Context, limit int) ([]model.BatchRun, error)
	ListBatchMembers(ctx context.Context, batchID string) ([]string, error)
	UpdateBatchMember(ctx context.Context, batchID, resultID string, fn BatchUpdateFunc) (*model.BatchRun, error)
	RefreshUploadCounts(ctx context.Context, batchID string) error
	SetBatchCancelled(ctx context.Context, batchID string) error

	// Audit trails
	SaveReviewEvent(ctx context.Context, event *model.ReviewEvent) error
	ListReviewEvents(ctx context.Context, resultID string) ([]model.ReviewEvent, error)
	SaveUploadAttempt(ctx context.Context, attempt *model.UploadAttempt) error
	ListUploadAttempts(ctx context.Context, resultID string) ([]model.UploadAttempt, error)

	// Tag operations
	ListTags(ctx context.Context, patientName string) ([]model.Tag, error)
	AddTag(ctx context.Context, patientName string, tag model.Tag) error
	RemoveTag(ctx context.Context, patientName, tagName string) error

	// Rule catalog versions
	SaveCatalogVersion(ctx context.Context, version CatalogVersion) error
	GetActiveCatalogVersion(ctx context.Context) (*CatalogVersion, error)

	// Reporting
	GetPipelineStats(ctx context.Context, batchID string) (*PipelineStats, error)

	// Database management
	Migrate(ctx context.Context) error
	Close() error
}

// CatalogVersion is a persisted rule catalog document.
type CatalogVersion struct {
	CreatedAt time.Time
	Version   string
	Format    string
	Document  []byte
}

// PipelineStats are raw counts grouped by status, used for KPIs.
type PipelineStats struct {
	ByTier             map[model.Tier]int
	ByProcessingStatus map[model.ProcessingStatus]int
	ByReviewStatus     map[model.ReviewStatus]int
	ByUploadStatus     map[model.UploadStatus]int
	Total              int
	RequiringReview    int
}

// RetryOptions configures retry behavior for operations.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryOptions returns the retry policy used when none is configured.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
}

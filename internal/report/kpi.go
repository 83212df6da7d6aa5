// Package report derives pipeline KPIs from stored results.
package report

import (
	"context"
	"fmt"

	"github.com/Veraticus/notesync/internal/model"
	"github.com/Veraticus/notesync/internal/service"
)

// MatchQuality counts results by match tier.
type MatchQuality struct {
	High      int `json:"high"`
	Medium    int `json:"medium"`
	Low       int `json:"low"`
	Unmatched int `json:"unmatched"`
}

// Funnel counts results by processing status.
type Funnel struct {
	Pending   int `json:"pending"`
	Step1Done int `json:"step1_done"`
	Step2Done int `json:"step2_done"`
	Validated int `json:"validated"`
	Failed    int `json:"failed"`
}

// Reviews counts results by review status.
type Reviews struct {
	RequiringReview int `json:"requiring_review"`
	Pending         int `json:"pending"`
	Approved        int `json:"approved"`
	NeedsRevision   int `json:"needs_revision"`
	Rejected        int `json:"rejected"`
}

// Uploads counts results by upload status.
type Uploads struct {
	NotUploaded int `json:"not_uploaded"`
	Uploaded    int `json:"uploaded"`
	Failed      int `json:"failed"`
	Flagged     int `json:"flagged"`
}

// KPIs summarize the pipeline, optionally for a single batch.
type KPIs struct {
	BatchID          string       `json:"batch_id,omitempty"`
	Match            MatchQuality `json:"match_quality"`
	Funnel           Funnel       `json:"funnel"`
	Reviews          Reviews      `json:"reviews"`
	Uploads          Uploads      `json:"uploads"`
	Total            int          `json:"total"`
	CompletionRate   float64      `json:"completion_rate"`
	MatchSuccessRate float64      `json:"match_success_rate"`
}

// Compute loads counts from store. An empty batchID covers every batch.
func Compute(ctx context.Context, store service.Storage, batchID string) (*KPIs, error) {
	stats, err := store.GetPipelineStats(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline stats: %w", err)
	}
	k := FromStats(batchID, stats)
	return &k, nil
}

// FromStats derives KPIs from raw counts. Rates are zero when there are no
// results.
func FromStats(batchID string, stats *service.PipelineStats) KPIs {
	k := KPIs{
		BatchID: batchID,
		Total:   stats.Total,
		Match: MatchQuality{
			High:      stats.ByTier[model.TierHigh],
			Medium:    stats.ByTier[model.TierMedium],
			Low:       stats.ByTier[model.TierLow],
			Unmatched: stats.ByTier[model.TierUnmatched],
		},
		Funnel: Funnel{
			Pending:   stats.ByProcessingStatus[model.ProcessingPending],
			Step1Done: stats.ByProcessingStatus[model.ProcessingStep1Done],
			Step2Done: stats.ByProcessingStatus[model.ProcessingStep2Done],
			Validated: stats.ByProcessingStatus[model.ProcessingValidated],
			Failed:    stats.ByProcessingStatus[model.ProcessingFailed],
		},
		Reviews: Reviews{
			RequiringReview: stats.RequiringReview,
			Pending:         stats.ByReviewStatus[model.ReviewPending],
			Approved:        stats.ByReviewStatus[model.ReviewApproved],
			NeedsRevision:   stats.ByReviewStatus[model.ReviewNeedsRevision],
			Rejected:        stats.ByReviewStatus[model.ReviewRejected],
		},
		Uploads: Uploads{
			NotUploaded: stats.ByUploadStatus[model.UploadNotUploaded],
			Uploaded:    stats.ByUploadStatus[model.UploadUploaded],
			Failed:      stats.ByUploadStatus[model.UploadFailed],
			Flagged:     stats.ByUploadStatus[model.UploadFlagged],
		},
	}
	if k.Total > 0 {
		k.CompletionRate = float64(k.Funnel.Validated) / float64(k.Total)
		k.MatchSuccessRate = float64(k.Match.High+k.Match.Medium) / float64(k.Total)
	}
	return k
}

// Row is a labelled value for display.
type Row struct {
	Section string
	Label   string
	Value   string
}

// Rows flattens the KPIs for tabular display.
func (k KPIs) Rows() []Row {
	count := func(section, label string, n int) Row {
		return Row{Section: section, Label: label, Value: fmt.Sprintf("%d", n)}
	}
	pct := func(section, label string, v float64) Row {
		return Row{Section: section, Label: label, Value: fmt.Sprintf("%.1f%%", v*100)}
	}
	return []Row{
		count("Match", "High", k.Match.High),
		count("Match", "Medium", k.Match.Medium),
		count("Match", "Low", k.Match.Low),
		count("Match", "Unmatched", k.Match.Unmatched),
		count("Processing", "Pending", k.Funnel.Pending),
		count("Processing", "Step 1 done", k.Funnel.Step1Done),
		count("Processing", "Step 2 done", k.Funnel.Step2Done),
		count("Processing", "Validated", k.Funnel.Validated),
		count("Processing", "Failed", k.Funnel.Failed),
		count("Review", "Requiring review", k.Reviews.RequiringReview),
		count("Review", "Approved", k.Reviews.Approved),
		count("Review", "Needs revision", k.Reviews.NeedsRevision),
		count("Review", "Rejected", k.Reviews.Rejected),
		count("Upload", "Uploaded", k.Uploads.Uploaded),
		count("Upload", "Failed", k.Uploads.Failed),
		count("Upload", "Flagged", k.Uploads.Flagged),
		count("Total", "Notes", k.Total),
		pct("Total", "Completion rate", k.CompletionRate),
		pct("Total", "Match success rate", k.MatchSuccessRate),
	}
}

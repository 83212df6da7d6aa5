package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/Veraticus/notesync/internal/cli"
	"github.com/Veraticus/notesync/internal/common"
	"github.com/Veraticus/notesync/internal/ingest"
	"github.com/Veraticus/notesync/internal/matcher"
	"github.com/Veraticus/notesync/internal/model"
	"github.com/Veraticus/notesync/internal/pipeline"
	"github.com/Veraticus/notesync/internal/service"
)

func batchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Ingest, match and process notes in batches",
		Example: `  # Match and clean every note visited in March
  notesync batch run --from 2024-03-01 --to 2024-03-31

  # Pick up a batch that was interrupted
  notesync batch resume batch-20240401-1a2b3c4d

  # Stop a running batch from admitting more notes
  notesync batch cancel batch-20240401-1a2b3c4d`,
	}

	cmd.AddCommand(batchRunCmd())
	cmd.AddCommand(batchResumeCmd())
	cmd.AddCommand(batchListCmd())
	cmd.AddCommand(batchShowCmd())
	cmd.AddCommand(batchCancelCmd())
	return cmd
}

func parseDateRange(from, to string) (model.DateRange, error) {
	var dates model.DateRange
	var err error
	if from != "" {
		if dates.Start, err = time.Parse(time.DateOnly, from); err != nil {
			return dates, common.NewUserError("--from must look like 2024-03-01", err)
		}
	}
	if to != "" {
		if dates.End, err = time.Parse(time.DateOnly, to); err != nil {
			return dates, common.NewUserError("--to must look like 2024-03-31", err)
		}
	}
	if !dates.Start.IsZero() && !dates.End.IsZero() && dates.End.Before(dates.Start) {
		return dates, common.NewUserError("--to is before --from", common.ErrInvalidConfig)
	}
	return dates, nil
}

func batchRunCmd() *cobra.Command {
	var from, to string
	var noCheckpoint bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Ingest a date range as a new batch and process it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			dates, err := parseDateRange(from, to)
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			unlock, err := runLock(a.settings.Database)
			if err != nil {
				return err
			}
			defer unlock()

			source, err := a.source()
			if err != nil {
				return err
			}
			dest, err := a.destination()
			if err != nil {
				return err
			}
			proc, err := a.processor()
			if err != nil {
				return err
			}
			m, err := matcher.New(a.settings.Matcher)
			if err != nil {
				return fmt.Errorf("%w: %w", common.ErrInvalidConfig, err)
			}

			if !noCheckpoint {
				autoCheckpoint(cmd.Context(), a, "batch-run")
			}

			handler := cli.NewInterruptHandler(cmd.OutOrStdout())
			ctx := handler.HandleInterrupts(cmd.Context(), "notesync batch resume <batch-id>")

			var bar *progressbar.ProgressBar
			in := ingest.New(a.store, source, dest, m, a.tracker, a.logger, a.settings.Pipeline.MatchWorkers)
			res, summary, err := in.Run(ctx, dates, proc, a.catalogs.Current(),
				func(res *ingest.Result) {
					printIngest(cmd, res)
					if len(res.ResultIDs) > 0 {
						bar = cli.NewProgressBar(cmd.OutOrStdout(), len(res.ResultIDs), "Processing notes...")
					}
				},
				func(pipeline.NoteResult) { cli.Advance(bar) })
			if err != nil {
				if res != nil && handler.WasInterrupted() {
					fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("Resume with: notesync batch resume "+res.Batch.BatchID))
				}
				return err
			}

			printSummary(cmd, summary)
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "first visit date to include (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "last visit date to include (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&noCheckpoint, "no-checkpoint", false, "skip the automatic database checkpoint")
	return cmd
}

func batchResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <batch-id>",
		Short: "Continue processing the unfinished notes of a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			unlock, err := runLock(a.settings.Database)
			if err != nil {
				return err
			}
			defer unlock()

			run, err := a.tracker.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if run.Status == model.BatchCompleted {
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("Batch "+run.BatchID+" is already complete."))
				return nil
			}

			ids, err := a.store.ListBatchMembers(cmd.Context(), run.BatchID)
			if err != nil {
				return err
			}
			proc, err := a.processor()
			if err != nil {
				return err
			}

			handler := cli.NewInterruptHandler(cmd.OutOrStdout())
			ctx := handler.HandleInterrupts(cmd.Context(), "notesync batch resume "+run.BatchID)

			bar := cli.NewProgressBar(cmd.OutOrStdout(), len(ids), "Processing notes...")
			summary, err := proc.RunBatch(ctx, run.BatchID, ids, a.catalogs.Current(),
				func(pipeline.NoteResult) { cli.Advance(bar) })
			if err != nil {
				return err
			}
			printSummary(cmd, summary)
			return nil
		},
	}
}

func batchListCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent batches",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			runs, err := a.tracker.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), cli.SubtleStyle.Render("No batches yet."))
				return nil
			}

			rows := make([][]string, 0, len(runs))
			for _, run := range runs {
				status := string(run.Status)
				if run.Cancelled && run.Status != model.BatchCompleted {
					status = "cancelled"
				}
				rows = append(rows, []string{
					run.BatchID,
					cli.StyleStatus(status),
					fmt.Sprintf("%d/%d", run.ProcessedNotes, run.TotalNotes),
					strconv.Itoa(run.SuccessCount),
					strconv.Itoa(run.NeedsReviewCount),
					strconv.Itoa(run.FailedCount),
					strconv.Itoa(run.UploadedCount),
					formatTime(&run.CreatedAt),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Batch", "Status", "Processed", "Success", "Review", "Failed", "Uploaded", "Created"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft}))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of batches to show")
	return cmd
}

func batchShowCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <batch-id>",
		Short: "Show a batch and the state of its notes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			run, err := a.tracker.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			results, err := a.store.ListProcessingResults(cmd.Context(), service.ResultFilter{BatchID: run.BatchID})
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), struct {
					Batch   *model.BatchRun          `json:"batch"`
					Results []model.ProcessingResult `json:"results"`
				}{run, results})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, cli.FormatTitle("Batch "+run.BatchID))
			fmt.Fprintf(out, "  Status: %s  Created: %s  Completed: %s\n",
				cli.StyleStatus(string(run.Status)), formatTime(&run.CreatedAt), formatTime(run.CompletedAt))
			fmt.Fprintf(out, "  Processed %d of %d: %d success, %d needs review, %d failed\n",
				run.ProcessedNotes, run.TotalNotes, run.SuccessCount, run.NeedsReviewCount, run.FailedCount)
			fmt.Fprintf(out, "  Uploads: %d uploaded, %d failed, %d flagged\n\n",
				run.UploadedCount, run.UploadFailedCount, run.UploadFlaggedCount)

			fmt.Fprintln(out, resultsTable(results))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

func batchCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <batch-id>",
		Short: "Stop a batch from admitting further notes",
		Long: `Cancel marks the batch so no further notes enter the pipeline. Notes that
are already in an AI call finish normally.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.tracker.Cancel(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Batch "+args[0]+" cancelled"))
			return nil
		},
	}
}

func resultsTable(results []model.ProcessingResult) string {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		review := "-"
		if r.RequiresHumanIntervention || r.ReviewStatus != model.ReviewPending {
			review = cli.StyleStatus(string(r.ReviewStatus))
		}
		rows = append(rows, []string{
			shortID(r.ID),
			r.PatientName,
			r.VisitDate.Format(time.DateOnly),
			cli.StyleStatus(string(r.MatchTier)),
			cli.StyleStatus(string(r.ProcessingStatus)),
			fmt.Sprintf("%d/%d", r.PassedChecks, r.TotalChecks),
			review,
			cli.StyleStatus(string(r.UploadStatus)),
		})
	}
	return renderTable(
		[]string{"ID", "Patient", "Visit", "Tier", "Processing", "Checks", "Review", "Upload"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft})
}

func printIngest(cmd *cobra.Command, res *ingest.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, cli.FormatTitle("Batch "+res.Batch.BatchID))
	fmt.Fprintf(out, "  %d notes, %d destination records, %d already processed\n", res.Notes, res.Records, res.Existing)
	fmt.Fprintf(out, "  Match tiers: %d high, %d medium, %d low, %d unmatched\n\n",
		res.ByTier[model.TierHigh], res.ByTier[model.TierMedium], res.ByTier[model.TierLow], res.ByTier[model.TierUnmatched])
}

func printSummary(cmd *cobra.Command, s *pipeline.BatchSummary) {
	out := cmd.OutOrStdout()
	content := fmt.Sprintf("%s Validated: %d\n", cli.SuccessIcon, s.Validated) +
		fmt.Sprintf("%s Needs review: %d\n", cli.WarningIcon, s.NeedsReview) +
		fmt.Sprintf("%s Failed: %d\n", cli.ErrorIcon, s.Failed)
	if s.Skipped > 0 {
		content += fmt.Sprintf("Skipped (cancelled): %d\n", s.Skipped)
	}
	if s.Errors > 0 {
		content += cli.ErrorStyle.Render(fmt.Sprintf("Errors: %d (see log)", s.Errors)) + "\n"
	}
	content += fmt.Sprintf("Time: %s", s.ProcessingTime.Round(time.Second))
	fmt.Fprintln(out, cli.RenderBox("Batch "+s.BatchID, content))
}

func autoCheckpoint(ctx context.Context, a *app, operation string) {
	manager, err := a.store.NewCheckpointManager()
	if err != nil {
		a.logger.Warn("Skipping automatic checkpoint", "error", err)
		return
	}
	if info, err := manager.Auto(ctx, operation); err != nil {
		a.logger.Warn("Automatic checkpoint failed", "error", err)
	} else {
		a.logger.Debug("Created automatic checkpoint", "checkpoint", info.ID)
	}
}

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Veraticus/notesync/internal/cli"
	"github.com/Veraticus/notesync/internal/common"
	"github.com/Veraticus/notesync/internal/model"
	"github.com/Veraticus/notesync/internal/service"
)

func uploadCmd() *cobra.Command {
	var batchID string
	var verbose bool

	cmd := &cobra.Command{
		Use:   "upload [result-id...]",
		Short: "Upload cleaned notes to the destination system",
		Long: `Upload pushes validated notes to the destination. Notes that still need a
review decision, or that have critical validation failures, are flagged and
never sent. Transport failures are retried with backoff.`,
		Example: `  # Upload every validated note of a batch
  notesync upload --batch batch-20240401-1a2b3c4d

  # Retry two specific notes
  notesync upload 3f2a91c0 9bd4e211`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if batchID == "" && len(args) == 0 {
				return common.NewUserError("pass result ids or --batch", common.ErrMissingConfig)
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			orchestrator, err := a.uploader()
			if err != nil {
				return err
			}

			ids := make([]string, 0, len(args))
			for _, ref := range args {
				id, err := resolveResultID(cmd, a, ref)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			if batchID != "" {
				results, err := a.store.ListProcessingResults(cmd.Context(), service.ResultFilter{
					BatchID:          batchID,
					ProcessingStatus: model.ProcessingValidated,
				})
				if err != nil {
					return err
				}
				for _, r := range results {
					if r.UploadStatus != model.UploadUploaded {
						ids = append(ids, r.ID)
					}
				}
			}
			if len(ids) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("Nothing to upload."))
				return nil
			}

			handler := cli.NewInterruptHandler(cmd.OutOrStdout())
			ctx := handler.HandleInterrupts(cmd.Context(), uploadResumeHint(batchID, args))

			summary, err := orchestrator.Upload(ctx, ids)

			out := cmd.OutOrStdout()
			if verbose || summary.Failure+summary.Flagged > 0 {
				rows := make([][]string, 0, len(summary.Outcomes))
				for _, o := range summary.Outcomes {
					if !verbose && (o.Status == model.UploadUploaded || o.Skipped) {
						continue
					}
					status := string(o.Status)
					if o.Skipped {
						status = "skipped"
					}
					rows = append(rows, []string{shortID(o.ResultID), cli.StyleStatus(status), strconv.Itoa(o.Tries), o.Detail})
				}
				fmt.Fprintln(out, renderTable([]string{"ID", "Status", "Tries", "Detail"}, rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft}))
			}

			content := fmt.Sprintf("%s Uploaded: %d\n", cli.SuccessIcon, summary.Success) +
				fmt.Sprintf("%s Flagged: %d\n", cli.WarningIcon, summary.Flagged) +
				fmt.Sprintf("%s Failed: %d\n", cli.ErrorIcon, summary.Failure) +
				fmt.Sprintf("Already uploaded: %d", summary.Skipped)
			fmt.Fprintln(out, cli.RenderBox(cli.UploadIcon+" Upload", content))

			if err != nil {
				return fmt.Errorf("failed to record upload counts: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&batchID, "batch", "", "upload the validated notes of this batch")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "list every note, not only problems")
	return cmd
}

// uploadResumeHint repeats the request as it was made. Notes already uploaded
// are skipped on the rerun.
func uploadResumeHint(batchID string, refs []string) string {
	parts := append([]string{"notesync", "upload"}, refs...)
	if batchID != "" {
		parts = append(parts, "--batch", batchID)
	}
	return strings.Join(parts, " ")
}

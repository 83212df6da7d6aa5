package main

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/notesync/internal/cli"
	"github.com/Veraticus/notesync/internal/common"
	"github.com/Veraticus/notesync/internal/model"
)

func reviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review",
		Short: "Review notes that need human attention",
		Example: `  # See what is waiting
  notesync review pending

  # Work through the queue interactively
  notesync review interactive --batch batch-20240401-1a2b3c4d

  # Record a decision directly
  notesync review submit 3f2a... --decision needs_revision --notes "plan section missing"`,
	}

	cmd.AddCommand(reviewPendingCmd())
	cmd.AddCommand(reviewSubmitCmd())
	cmd.AddCommand(reviewInteractiveCmd())
	cmd.AddCommand(reviewHistoryCmd())
	return cmd
}

func parseDecision(s string) (model.ReviewStatus, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "approve", "approved":
		return model.ReviewApproved, nil
	case "revise", "needs_revision", "needs-revision":
		return model.ReviewNeedsRevision, nil
	case "reject", "rejected":
		return model.ReviewRejected, nil
	default:
		return "", common.NewUserError("--decision must be approve, needs_revision or reject", model.ErrInvalidTransition)
	}
}

func defaultReviewer() string {
	if name := os.Getenv("NOTESYNC_REVIEWER"); name != "" {
		return name
	}
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return ""
}

func reviewPendingCmd() *cobra.Command {
	var batchID string

	cmd := &cobra.Command{
		Use:   "pending",
		Short: "List notes waiting for a review decision",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			results, err := a.reviewOnly().PendingReviews(cmd.Context(), batchID)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Nothing to review."))
				return nil
			}

			rows := make([][]string, 0, len(results))
			for _, r := range results {
				rows = append(rows, []string{
					shortID(r.ID),
					r.PatientName,
					r.VisitDate.Format(time.DateOnly),
					cli.StyleStatus(string(r.ReviewStatus)),
					strings.Join(r.InterventionReasons, "; "),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Patient", "Visit", "Review", "Reasons"}, rows, nil))
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo(fmt.Sprintf("%d notes need review", len(results))))
			return nil
		},
	}

	cmd.Flags().StringVar(&batchID, "batch", "", "only show notes of this batch")
	return cmd
}

func reviewSubmitCmd() *cobra.Command {
	var decision, notes, reviewer string

	cmd := &cobra.Command{
		Use:   "submit <result-id>",
		Short: "Record a review decision for a note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status, err := parseDecision(decision)
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := resolveResultID(cmd, a, args[0])
			if err != nil {
				return err
			}
			result, err := a.reviewOnly().SubmitReview(cmd.Context(), id, status, notes, reviewer)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("%s marked %s", result.PatientName, result.ReviewStatus)))
			if result.ReviewStatus == model.ReviewApproved {
				if blocker := result.UploadBlocker(); blocker != nil {
					fmt.Fprintln(cmd.OutOrStdout(), cli.FormatWarning("Still blocked from upload: "+blocker.Error()))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&decision, "decision", "d", "", "approve, needs_revision or reject")
	cmd.Flags().StringVar(&notes, "notes", "", "reviewer notes")
	cmd.Flags().StringVar(&reviewer, "reviewer", defaultReviewer(), "reviewer name")
	_ = cmd.MarkFlagRequired("decision")
	return cmd
}

func reviewInteractiveCmd() *cobra.Command {
	var batchID, reviewer string

	cmd := &cobra.Command{
		Use:   "interactive",
		Short: "Step through the review queue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			engine := a.reviewOnly()
			queue, err := engine.PendingReviews(cmd.Context(), batchID)
			if err != nil {
				return err
			}
			if len(queue) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Nothing to review."))
				return nil
			}

			handler := cli.NewInterruptHandler(cmd.OutOrStdout())
			ctx := handler.HandleInterrupts(cmd.Context(), "notesync review interactive")

			prompter := cli.NewPrompter(cmd.InOrStdin(), cmd.OutOrStdout())
			prompter.SetTotal(len(queue))
			defer prompter.ShowCompletion()

			for i := range queue {
				decision, err := prompter.ReviewNote(ctx, &queue[i])
				if errors.Is(err, cli.ErrReviewAborted) || errors.Is(err, cli.ErrInputCancelled) {
					return nil
				}
				if err != nil {
					return err
				}
				if decision.Skipped {
					continue
				}
				if _, err := engine.SubmitReview(ctx, queue[i].ID, decision.Status, decision.Notes, reviewer); err != nil {
					fmt.Fprintln(cmd.OutOrStdout(), cli.FormatError(err.Error()))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&batchID, "batch", "", "only review notes of this batch")
	cmd.Flags().StringVar(&reviewer, "reviewer", defaultReviewer(), "reviewer name")
	return cmd
}

func reviewHistoryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <result-id>",
		Short: "Show the review decisions recorded for a note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			id, err := resolveResultID(cmd, a, args[0])
			if err != nil {
				return err
			}
			events, err := a.reviewOnly().History(cmd.Context(), id)
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(events))
			for _, e := range events {
				rows = append(rows, []string{formatTime(&e.CreatedAt), cli.StyleStatus(string(e.Decision)), e.Reviewer, e.Notes})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"When", "Decision", "Reviewer", "Notes"}, rows, nil))
			return nil
		},
	}
}

func reprocessCmd() *cobra.Command {
	var maxAttempts int

	cmd := &cobra.Command{
		Use:   "reprocess <result-id>",
		Short: "Send a note back through the pipeline with the current rule catalog",
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

			engine, err := a.reviewEngine()
			if err != nil {
				return err
			}
			id, err := resolveResultID(cmd, a, args[0])
			if err != nil {
				return err
			}
			if maxAttempts <= 0 {
				maxAttempts = a.settings.Pipeline.MaxAttempts
			}

			result, err := engine.Reprocess(cmd.Context(), id, maxAttempts)
			if errors.Is(err, common.ErrMaxAttemptsExceeded) {
				return common.NewUserError(fmt.Sprintf("note already used %d attempts; raise --max-attempts to try again", maxAttempts), err)
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s %s is now %s (attempt %d)\n",
				cli.SuccessIcon, result.PatientName, cli.StyleStatus(string(result.ProcessingStatus)), result.ProcessingAttempts)
			for _, reason := range result.InterventionReasons {
				fmt.Fprintln(cmd.OutOrStdout(), "  • "+reason)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "attempt cap (default pipeline.max_attempts)")
	return cmd
}

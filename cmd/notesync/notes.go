package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Veraticus/notesync/internal/cli"
	"github.com/Veraticus/notesync/internal/common"
	"github.com/Veraticus/notesync/internal/model"
	"github.com/Veraticus/notesync/internal/service"
)

// resolveResultID accepts a result id, a unique id prefix as printed in
// tables, or a source note id.
func resolveResultID(cmd *cobra.Command, a *app, ref string) (string, error) {
	ctx := cmd.Context()

	if _, err := a.store.GetProcessingResult(ctx, ref); err == nil {
		return ref, nil
	} else if !errors.Is(err, common.ErrNotFound) {
		return "", err
	}

	if r, err := a.store.GetProcessingResultBySource(ctx, ref); err == nil {
		return r.ID, nil
	} else if !errors.Is(err, common.ErrNotFound) {
		return "", err
	}

	all, err := a.store.ListProcessingResults(ctx, service.ResultFilter{})
	if err != nil {
		return "", err
	}
	var found []string
	for _, r := range all {
		if strings.HasPrefix(r.ID, ref) {
			found = append(found, r.ID)
		}
	}
	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		return "", common.NewUserError("no note matches "+ref, common.ErrNotFound)
	default:
		return "", common.NewUserError(fmt.Sprintf("%q matches %d notes; use a longer id", ref, len(found)), common.ErrNotFound)
	}
}

func notesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notes",
		Short: "Inspect processed notes",
	}
	cmd.AddCommand(notesShowCmd())
	cmd.AddCommand(notesListCmd())
	return cmd
}

func notesShowCmd() *cobra.Command {
	var asJSON, showRaw bool

	cmd := &cobra.Command{
		Use:   "show <result-id>",
		Short: "Show a note with its validation checks, review and upload history",
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
			ctx := cmd.Context()
			result, err := a.store.GetProcessingResult(ctx, id)
			if err != nil {
				return err
			}
			match, err := a.store.GetMatchResult(ctx, result.SourceID)
			if err != nil && !errors.Is(err, common.ErrNotFound) {
				return err
			}
			events, err := a.store.ListReviewEvents(ctx, id)
			if err != nil {
				return err
			}
			attempts, err := a.store.ListUploadAttempts(ctx, id)
			if err != nil {
				return err
			}
			tags, err := a.store.ListTags(ctx, result.PatientName)
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), struct {
					Result  *model.ProcessingResult `json:"result"`
					Match   *model.MatchResult      `json:"match,omitempty"`
					Reviews []model.ReviewEvent     `json:"reviews"`
					Uploads []model.UploadAttempt   `json:"uploads"`
					Tags    []model.Tag             `json:"tags"`
				}{result, match, events, attempts, tags})
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, cli.FormatTitle(result.PatientName+" · "+result.VisitDate.Format(time.DateOnly)))
			fmt.Fprintf(out, "  Result: %s  Source: %s  Batch: %s\n", result.ID, result.SourceID, result.BatchID)
			fmt.Fprintf(out, "  Processing: %s (attempts %d)  Review: %s  Upload: %s\n",
				cli.StyleStatus(string(result.ProcessingStatus)), result.ProcessingAttempts,
				cli.StyleStatus(string(result.ReviewStatus)), cli.StyleStatus(string(result.UploadStatus)))
			if match != nil {
				dest := "-"
				if match.DestinationID != nil {
					dest = *match.DestinationID
				}
				fmt.Fprintf(out, "  Match: %s %.2f → %s (%d candidates)\n",
					cli.StyleStatus(string(match.Tier)), match.Confidence, dest, match.Candidates)
			}
			if len(tags) > 0 {
				names := make([]string, len(tags))
				for i, t := range tags {
					names[i] = t.Name
				}
				fmt.Fprintf(out, "  Tags: %s\n", strings.Join(names, ", "))
			}
			if result.LastError != "" {
				fmt.Fprintln(out, "  "+cli.FormatError(result.LastError))
			}
			for _, reason := range result.InterventionReasons {
				fmt.Fprintln(out, "  "+cli.FormatWarning(reason))
			}

			if len(result.Checks) > 0 {
				rows := make([][]string, 0, len(result.Checks))
				for _, c := range result.Checks {
					mark := cli.SuccessStyle.Render(cli.SuccessIcon)
					if !c.Passed {
						mark = cli.ErrorStyle.Render(cli.ErrorIcon)
					}
					rows = append(rows, []string{mark, string(c.Priority), c.Name, c.Message})
				}
				fmt.Fprintln(out)
				fmt.Fprintln(out, renderTable([]string{"", "Priority", "Check", "Message"}, rows, nil))
			}

			if len(events) > 0 {
				fmt.Fprintln(out, cli.BoldStyle.Render("\nReview history"))
				for _, e := range events {
					fmt.Fprintf(out, "  %s %s %s %s\n", formatTime(&e.CreatedAt), e.Decision, e.Reviewer, e.Notes)
				}
			}
			if len(attempts) > 0 {
				fmt.Fprintln(out, cli.BoldStyle.Render("\nUpload attempts"))
				for _, u := range attempts {
					fmt.Fprintf(out, "  %s %s (%d tries) %s\n", formatTime(&u.CreatedAt), u.Status, u.Tries, u.Detail)
				}
			}

			text := result.FinalCleanedNote
			label := "Cleaned note"
			if showRaw || text == "" {
				text, label = result.RawNote, "Raw note"
			}
			fmt.Fprintln(out, cli.RenderBox(label, text))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	cmd.Flags().BoolVar(&showRaw, "raw", false, "show the raw source note instead of the cleaned one")
	return cmd
}

func notesListCmd() *cobra.Command {
	var batchID, status, tier string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notes filtered by batch, processing status or match tier",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			filter := service.ResultFilter{
				BatchID:          batchID,
				ProcessingStatus: model.ProcessingStatus(status),
				MatchTier:        model.Tier(tier),
				Limit:            limit,
			}
			if status != "" && !filter.ProcessingStatus.Valid() {
				return common.NewUserError("unknown processing status "+status, common.ErrInvalidConfig)
			}
			if tier != "" && !filter.MatchTier.Valid() {
				return common.NewUserError("unknown match tier "+tier, common.ErrInvalidConfig)
			}

			results, err := a.store.ListProcessingResults(cmd.Context(), filter)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), resultsTable(results))
			return nil
		},
	}

	cmd.Flags().StringVar(&batchID, "batch", "", "batch id")
	cmd.Flags().StringVar(&status, "status", "", "processing status")
	cmd.Flags().StringVar(&tier, "tier", "", "match tier")
	cmd.Flags().IntVarP(&limit, "limit", "n", 100, "maximum notes to list")
	return cmd
}

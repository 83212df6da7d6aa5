package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Veraticus/notesync/internal/cli"
	"github.com/Veraticus/notesync/internal/report"
)

func kpisCmd() *cobra.Command {
	var batchID string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "kpis",
		Short: "Show match quality, pipeline funnel, review and upload counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			k, err := report.Compute(cmd.Context(), a.store, batchID)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), k)
			}

			title := "All batches"
			if batchID != "" {
				title = "Batch " + batchID
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.TitleStyle.Render(cli.ChartIcon+" "+title))

			rows := make([][]string, 0, 19)
			last := ""
			for _, r := range k.Rows() {
				section := r.Section
				if section == last {
					section = ""
				}
				last = r.Section
				rows = append(rows, []string{section, r.Label, r.Value})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Section", "Metric", "Value"}, rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight}))
			return nil
		},
	}

	cmd.Flags().StringVar(&batchID, "batch", "", "limit to one batch")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

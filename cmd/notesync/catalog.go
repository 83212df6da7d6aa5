package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Veraticus/notesync/internal/catalog"
	"github.com/Veraticus/notesync/internal/cli"
	"github.com/Veraticus/notesync/internal/common"
	"github.com/Veraticus/notesync/internal/service"
	"github.com/Veraticus/notesync/internal/storage"
)

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect and update the rule catalog",
		Long: `The rule catalog holds the validation requirements, intervention triggers and
AI prompt templates. The active catalog is catalog.path when configured,
otherwise the most recently loaded catalog, otherwise the built-in default.`,
		Example: `  # Export the active catalog, edit it, and load it back
  notesync catalog export -o rules.yaml
  notesync catalog load rules.yaml

  # Reload the catalog whenever the file changes
  notesync catalog watch rules.toml`,
	}

	cmd.AddCommand(catalogShowCmd())
	cmd.AddCommand(catalogLoadCmd())
	cmd.AddCommand(catalogExportCmd())
	cmd.AddCommand(catalogWatchCmd())
	return cmd
}

func catalogShowCmd() *cobra.Command {
	var showPrompts bool

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the active rule catalog",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			snap := a.catalogs.Current()
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, cli.FormatTitle("Rule catalog "+snap.Version()))

			reqRows := make([][]string, 0, len(snap.Requirements()))
			for _, r := range snap.Requirements() {
				reqRows = append(reqRows, []string{r.ID, string(r.Priority), r.Name, string(r.Predicate.Kind)})
			}
			fmt.Fprintln(out, renderTable([]string{"Requirement", "Priority", "Name", "Check"}, reqRows, nil))

			trigRows := make([][]string, 0, len(snap.Triggers()))
			for _, t := range snap.Triggers() {
				threshold := "-"
				if t.Threshold != 0 {
					threshold = strconv.FormatFloat(t.Threshold, 'f', -1, 64)
				}
				trigRows = append(trigRows, []string{t.ID, string(t.Kind), threshold, t.Description})
			}
			fmt.Fprintln(out, renderTable([]string{"Trigger", "Kind", "Threshold", "Description"}, trigRows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft}))

			if showPrompts {
				fmt.Fprintln(out, cli.RenderBox("Initial prompt", snap.Prompts().Initial))
				fmt.Fprintln(out, cli.RenderBox("Verification prompt", snap.Prompts().Verification))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&showPrompts, "prompts", false, "also print the prompt templates")
	return cmd
}

func catalogLoadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load <file>",
		Short: "Validate a catalog file and make it the active catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			snap, err := saveCatalogFile(cmd.Context(), a.store, args[0])
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Loaded catalog %s (%d requirements, %d triggers)",
				snap.Version(), len(snap.Requirements()), len(snap.Triggers()))))
			if a.settings.CatalogPath != "" {
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatWarning("catalog.path is set and takes precedence over loaded catalogs"))
			}
			return nil
		},
	}
}

func catalogExportCmd() *cobra.Command {
	var format, output string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the active catalog as YAML or TOML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			f := catalog.Format(strings.ToLower(format))
			if output != "" && !cmd.Flags().Changed("format") {
				detected, err := catalog.FormatForPath(output)
				if err != nil {
					return err
				}
				f = detected
			}

			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			data, err := catalog.Encode(a.catalogs.Current(), f)
			if err != nil {
				return err
			}
			if output == "" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0600); err != nil {
				return fmt.Errorf("failed to write %s: %w", output, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Wrote "+output))
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", string(catalog.FormatYAML), "yaml or toml")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func catalogWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <file>",
		Short: "Reload the catalog from a file whenever it changes",
		Long: `watch runs until interrupted. Each valid version of the file is stored as
the active catalog; invalid edits are logged and ignored.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			path := args[0]
			snap, err := saveCatalogFile(cmd.Context(), a.store, path)
			if err != nil {
				return err
			}
			a.catalogs.Swap(snap)

			format, err := catalog.FormatForPath(path)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatInfo("Watching "+path+" (Ctrl+C to stop)"))
			return a.catalogs.Watch(cmd.Context(), path, a.logger, func(next *catalog.Snapshot) {
				data, err := catalog.Encode(next, format)
				if err == nil {
					err = a.store.SaveCatalogVersion(context.WithoutCancel(cmd.Context()), service.CatalogVersion{
						Version:  next.Version(),
						Format:   string(format),
						Document: data,
					})
				}
				if err != nil {
					a.logger.Error("Failed to store reloaded catalog", "version", next.Version(), "error", err)
					return
				}
				fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess("Catalog "+next.Version()+" is now active"))
			})
		},
	}
}

// saveCatalogFile validates path and stores it as the newest catalog version.
func saveCatalogFile(ctx context.Context, store *storage.SQLiteStorage, path string) (*catalog.Snapshot, error) {
	format, err := catalog.FormatForPath(path)
	if err != nil {
		return nil, common.NewUserError("catalog files must end in .yaml, .yml or .toml", err)
	}
	data, err := os.ReadFile(path) //nolint:gosec // path is provided by the operator
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	snap, err := catalog.Parse(data, format)
	if err != nil {
		return nil, common.NewUserError("catalog "+path+" is invalid", err)
	}
	if err := store.SaveCatalogVersion(ctx, service.CatalogVersion{
		Version:  snap.Version(),
		Format:   string(format),
		Document: data,
	}); err != nil {
		return nil, err
	}
	return snap, nil
}

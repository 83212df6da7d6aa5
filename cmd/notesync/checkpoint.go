package main

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/notesync/internal/cli"
	"github.com/Veraticus/notesync/internal/config"
	"github.com/Veraticus/notesync/internal/storage"
)

func checkpointCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Manage database checkpoints",
		Long: `Create, list, restore, and delete database checkpoints.

batch run takes an automatic checkpoint before ingesting; the five most
recent automatic checkpoints are kept.`,
		Example: `  # Snapshot before loading a new rule catalog
  notesync checkpoint create --tag pre-catalog-v3

  # Roll back
  notesync checkpoint restore pre-catalog-v3`,
	}

	cmd.AddCommand(createCheckpointCmd())
	cmd.AddCommand(listCheckpointsCmd())
	cmd.AddCommand(restoreCheckpointCmd())
	cmd.AddCommand(deleteCheckpointCmd())
	return cmd
}

// withCheckpoints opens the database and hands fn its checkpoint manager.
func withCheckpoints(cmd *cobra.Command, fn func(*storage.CheckpointManager) error) error {
	settings, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	store, err := initStorage(cmd.Context(), settings.Database)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	manager, err := store.NewCheckpointManager()
	if err != nil {
		return fmt.Errorf("failed to create checkpoint manager: %w", err)
	}
	return fn(manager)
}

func confirm(cmd *cobra.Command, question string) bool {
	fmt.Fprintf(cmd.OutOrStdout(), "%s (y/N) ", question)
	answer, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer)), "y")
}

func createCheckpointCmd() *cobra.Command {
	var tag, description string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new checkpoint",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCheckpoints(cmd, func(manager *storage.CheckpointManager) error {
				info, err := manager.Create(cmd.Context(), tag, description)
				if err != nil {
					return fmt.Errorf("failed to create checkpoint: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Created checkpoint %s (%s)\n",
					cli.SuccessStyle.Render(cli.SuccessIcon), cli.InfoStyle.Render(info.ID), formatFileSize(info.FileSize))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&tag, "tag", "t", "", "checkpoint name (generated when empty)")
	cmd.Flags().StringVarP(&description, "description", "d", "", "description of the checkpoint")
	return cmd
}

func listCheckpointsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all checkpoints",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withCheckpoints(cmd, func(manager *storage.CheckpointManager) error {
				checkpoints, err := manager.List(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to list checkpoints: %w", err)
				}
				if len(checkpoints) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), cli.SubtleStyle.Render("No checkpoints found."))
					return nil
				}

				rows := make([][]string, 0, len(checkpoints))
				for _, cp := range checkpoints {
					kind := "manual"
					if cp.IsAuto {
						kind = "auto"
					}
					rows = append(rows, []string{
						cp.ID,
						formatRelativeTime(cp.CreatedAt),
						formatFileSize(cp.FileSize),
						fmt.Sprintf("%d", cp.RowCounts["processing_results"]),
						fmt.Sprintf("%d", cp.RowCounts["batch_runs"]),
						kind,
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"Name", "Created", "Size", "Notes", "Batches", "Type"}, rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft}))
				return nil
			})
		},
	}
}

func restoreCheckpointCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "restore <checkpoint-id>",
		Short: "Replace the database with a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if !force && !confirm(cmd, cli.FormatWarning("This replaces the current database with checkpoint "+id+". Continue?")) {
				fmt.Fprintln(cmd.OutOrStdout(), cli.SubtleStyle.Render("Restore cancelled."))
				return nil
			}

			settings, err := config.Load(viper.GetViper())
			if err != nil {
				return err
			}
			unlock, err := runLock(settings.Database)
			if err != nil {
				return err
			}
			defer unlock()

			return withCheckpoints(cmd, func(manager *storage.CheckpointManager) error {
				if err := manager.Restore(cmd.Context(), id); err != nil {
					return fmt.Errorf("failed to restore checkpoint: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Restored from checkpoint %s\n",
					cli.SuccessStyle.Render(cli.SuccessIcon), cli.InfoStyle.Render(id))
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "skip confirmation prompt")
	return cmd
}

func deleteCheckpointCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <checkpoint-id>",
		Short: "Delete a checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			if !force && !confirm(cmd, cli.FormatWarning("Permanently delete checkpoint "+id+"?")) {
				fmt.Fprintln(cmd.OutOrStdout(), cli.SubtleStyle.Render("Deletion cancelled."))
				return nil
			}

			return withCheckpoints(cmd, func(manager *storage.CheckpointManager) error {
				if err := manager.Delete(cmd.Context(), id); err != nil {
					return fmt.Errorf("failed to delete checkpoint: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s Deleted checkpoint %s\n",
					cli.SuccessStyle.Render(cli.SuccessIcon), cli.InfoStyle.Render(id))
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "skip confirmation prompt")
	return cmd
}

func formatRelativeTime(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d.Minutes()), "minute") + " ago"
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hour") + " ago"
	case d < 7*24*time.Hour:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "yesterday"
		}
		return fmt.Sprintf("%d days ago", days)
	default:
		return t.Format("2006-01-02 15:04")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

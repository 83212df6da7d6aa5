package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Veraticus/notesync/internal/cli"
	"github.com/Veraticus/notesync/internal/model"
)

func tagsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tags",
		Short: "Manage patient tags",
		Long: `Tags are labels attached to a patient identity. Spelling variants of a name
("Doe, Jane" and "jane doe") share the same tags.`,
	}
	cmd.AddCommand(tagsListCmd())
	cmd.AddCommand(tagsAddCmd())
	cmd.AddCommand(tagsRemoveCmd())
	return cmd
}

func tagsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [patient]",
		Short: "List the tags of a patient, or every tag",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			patient := ""
			if len(args) == 1 {
				patient = args[0]
			}
			tags, err := a.store.ListTags(cmd.Context(), patient)
			if err != nil {
				return err
			}
			if len(tags) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), cli.SubtleStyle.Render("No tags."))
				return nil
			}
			for _, t := range tags {
				style := cli.InfoStyle
				if t.Color != "" {
					style = lipgloss.NewStyle().Foreground(lipgloss.Color(t.Color))
				}
				fmt.Fprintln(cmd.OutOrStdout(), "  "+style.Render("● "+t.Name))
			}
			return nil
		},
	}
}

func tagsAddCmd() *cobra.Command {
	var color string

	cmd := &cobra.Command{
		Use:   "add <patient> <tag>",
		Short: "Tag a patient",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.AddTag(cmd.Context(), args[0], model.Tag{Name: args[1], Color: color}); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Tagged %s with %s", args[0], args[1])))
			return nil
		},
	}

	cmd.Flags().StringVar(&color, "color", "", "tag color, e.g. #FF6B6B")
	return cmd
}

func tagsRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <patient> <tag>",
		Short: "Remove a tag from a patient",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.store.RemoveTag(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cli.FormatSuccess(fmt.Sprintf("Removed %s from %s", args[1], args[0])))
			return nil
		},
	}
}

// ABOUTME: CLI command for showing one workout session.
// ABOUTME: Prints exercises and their sets in set order.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harperreed/lifts/internal/models"
	"github.com/harperreed/lifts/internal/storage"
)

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show session details",
	Long: `Show a session with its exercises and sets.

The id may be the full UUID or a unique prefix from 'lifts list'.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := storage.ResolveSession(cmd.Context(), repo, args[0])
		if err != nil {
			return fmt.Errorf("failed to get session: %w", err)
		}
		printSession(os.Stdout, s)
		return nil
	},
}

func printSession(w io.Writer, s *models.WorkoutSession) {
	fmt.Fprintf(w, "Session: %s\n", s.ID)
	fmt.Fprintf(w, "Date: %s\n", s.PerformedOn)
	if s.Title != nil {
		fmt.Fprintf(w, "Title: %s\n", *s.Title)
	}
	if s.Notes != nil {
		fmt.Fprintf(w, "Notes: %s\n", *s.Notes)
	}
	fmt.Fprintf(w, "Updated: %s\n", s.UpdatedAt.Local().Format("2006-01-02 15:04"))
	if s.IsDeleted() {
		fmt.Fprintln(w, color.RedString("Deleted: %s", s.DeletedAt.Local().Format("2006-01-02 15:04")))
	}

	faint := color.New(color.Faint)
	for _, e := range s.Exercises {
		fmt.Fprintf(w, "\n%s\n", color.New(color.Bold).Sprint(e.NameRaw))
		for _, set := range e.Sets {
			extra := ""
			if set.WeightKg != nil {
				extra = faint.Sprintf(" (%.1f kg)", *set.WeightKg)
			}
			fmt.Fprintf(w, "  %d. %d × %s%s\n", set.SetIndex+1, set.Reps, set.WeightText, extra)
		}
	}
}

func init() {
	rootCmd.AddCommand(showCmd)
}

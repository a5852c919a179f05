// ABOUTME: CLI command for listing workout sessions.
// ABOUTME: Shows newest sessions first with exercise and set counts.
package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	listLimit   int
	listDeleted bool
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls", "l"},
	Short:   "List workout sessions",
	Long: `List recent workout sessions, newest first.

OUTPUT FORMAT:

  Each line shows: ID  DATE  TITLE  EXERCISES  SETS

  The ID is an 8-character prefix you can use with show and delete.

EXAMPLES:

  lifts list              # Last 20 sessions
  lifts list -n 50        # Last 50 sessions
  lifts list --deleted    # Include soft-deleted sessions`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sessions, err := repo.ListSessions(cmd.Context(), listDeleted)
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}

		if len(sessions) == 0 {
			fmt.Println("No sessions found.")
			return nil
		}
		if listLimit > 0 && len(sessions) > listLimit {
			sessions = sessions[:listLimit]
		}

		faint := color.New(color.Faint)
		for _, s := range sessions {
			title := ""
			if s.Title != nil {
				title = *s.Title
			}
			line := fmt.Sprintf("%s %s %s %d exercise(s), %d set(s)",
				faint.Sprint(s.ID[:8]),
				s.PerformedOn,
				padRight(truncate(title, 24), 24),
				len(s.Exercises),
				s.SetCount())
			if s.IsDeleted() {
				line += color.RedString(" [deleted]")
			}
			fmt.Println(line)
		}

		return nil
	},
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

func padRight(s string, length int) string {
	if len(s) >= length {
		return s
	}
	return s + strings.Repeat(" ", length-len(s))
}

func init() {
	listCmd.Flags().IntVarP(&listLimit, "limit", "n", 20, "max number of results")
	listCmd.Flags().BoolVar(&listDeleted, "deleted", false, "include soft-deleted sessions")
	rootCmd.AddCommand(listCmd)
}

// ABOUTME: CLI command for deleting workout sessions.
// ABOUTME: Soft-deletes by default so the deletion syncs; --hard removes outright.
package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harperreed/lifts/internal/storage"
)

var deleteHard bool

var deleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"del", "rm"},
	Short:   "Delete a workout session",
	Long: `Delete a workout session by its ID or ID prefix.

By default the session is soft-deleted: it disappears from lists, and the
deletion reaches your other devices on their next sync. 'lifts purge'
removes old soft-deleted sessions from this device.

EXAMPLES:

  lifts delete abc12345          # Soft delete by 8-char prefix
  lifts rm abc1 --hard           # Remove permanently, here and in the cloud

CAUTION:

  --hard cannot be undone, and other devices that still hold the session
  may sync it back.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := storage.ResolveSession(cmd.Context(), repo, args[0])
		if err != nil {
			return fmt.Errorf("session not found: %w", err)
		}

		if deleteHard {
			err = repo.DeleteSession(cmd.Context(), s.ID)
		} else {
			err = repo.SoftDeleteSession(cmd.Context(), s.ID)
		}
		if err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}

		color.Yellow("✗ Deleted session")
		fmt.Printf("  %s %s %d set(s)\n",
			color.New(color.Faint).Sprint(s.ID[:8]),
			s.PerformedOn,
			s.SetCount())

		return nil
	},
}

func init() {
	deleteCmd.Flags().BoolVar(&deleteHard, "hard", false, "remove permanently instead of soft-deleting")
	rootCmd.AddCommand(deleteCmd)
}

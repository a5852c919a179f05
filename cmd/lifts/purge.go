// ABOUTME: CLI command for compacting soft-deleted sessions.
// ABOUTME: Removes tombstones older than the configured retention from this device.
package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var purgeOlderThan time.Duration

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove old soft-deleted sessions",
	Long: `Remove soft-deleted sessions whose deletion is older than the retention
period (LIFTS_TOMBSTONE_RETENTION, default 720h) from this device.

Keep the retention longer than the gap between syncs on your other devices,
or a device that has not seen the deletion may sync the session back.

EXAMPLES:

  lifts purge                    # Use the configured retention
  lifts purge --older-than 24h   # Override it`,
	RunE: func(cmd *cobra.Command, args []string) error {
		retention := purgeOlderThan
		if retention == 0 {
			var err error
			if retention, err = cfg.Retention(); err != nil {
				return err
			}
		}

		removed, err := localRepo.Compact(cmd.Context(), time.Now().UTC().Add(-retention))
		if err != nil {
			return fmt.Errorf("failed to purge: %w", err)
		}

		if len(removed) == 0 {
			fmt.Println("Nothing to purge.")
			return nil
		}
		color.Green("✓ Purged %d session(s)", len(removed))
		return nil
	},
}

func init() {
	purgeCmd.Flags().DurationVar(&purgeOlderThan, "older-than", 0, "override the tombstone retention")
	rootCmd.AddCommand(purgeCmd)
}

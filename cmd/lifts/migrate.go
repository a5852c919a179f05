// ABOUTME: CLI command for data migrations.
// ABOUTME: Upgrades the on-device data format and applies the cloud schema.
package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harperreed/lifts/internal/cloud"
)

var migrateCloudSchema bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run data migrations",
	Long: `Upgrade workout data on this device to the current format.

This also runs automatically before every command. Older data is backed up
under workoutSessions.backup before it is rewritten; if the upgrade fails,
the app starts with an empty log and the backup is kept.

With --cloud-schema, the cloud database schema (LIFTS_CLOUD_DSN) is created
or upgraded as well.

USAGE:

  lifts migrate                  # Device data only
  lifts migrate --cloud-schema   # Device data and cloud schema`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		version, err := localRepo.Migrate(ctx)
		if err != nil {
			return fmt.Errorf("device migration failed: %w", err)
		}
		color.Green("✓ Device data at version %s", version)

		if !migrateCloudSchema {
			return nil
		}
		if !cfg.CloudEnabled() {
			return fmt.Errorf("--cloud-schema requires LIFTS_CLOUD_DSN")
		}
		applied, err := cloud.Migrate(ctx, cfg.CloudDSN)
		if err != nil {
			return fmt.Errorf("cloud migration failed: %w", err)
		}
		if len(applied) == 0 {
			fmt.Println("Cloud schema already up to date.")
			return nil
		}
		color.Green("✓ Applied %d cloud migration(s)", len(applied))
		for _, v := range applied {
			fmt.Printf("  %05d\n", v)
		}
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateCloudSchema, "cloud-schema", false, "also migrate the cloud database schema")
	rootCmd.AddCommand(migrateCmd)
}

// ABOUTME: CLI commands for cloud sync.
// ABOUTME: Runs migration and incremental sync, shows status, and resets watermarks.
package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/harperreed/lifts/internal/auth"
	"github.com/harperreed/lifts/internal/charm"
	liftsync "github.com/harperreed/lifts/internal/sync"
)

var (
	syncMetricsFile string
	syncResetDevice bool
)

var errCloudUnavailable = errors.New("cloud sync is not available: set LIFTS_CLOUD_DSN and check the database is reachable")

var syncCmd = &cobra.Command{
	Use:     "sync",
	Aliases: []string{"s"},
	Short:   "Sync sessions with the cloud",
	Long: `Sync workout sessions with your cloud account.

The first sync after signing in uploads every session on this device,
deleted ones included. Later syncs replay cloud writes that failed earlier,
pull sessions changed elsewhere and push sessions changed here. When both
sides changed a session, the most recent change wins.

COMMANDS:

  status      Show watermark, migration state and pending cloud writes
  reset       Forget sync progress so the next sync uploads everything

With --metrics-file, sync counters are written in Prometheus text format
for the node exporter textfile collector.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if engine == nil {
			return errCloudUnavailable
		}
		ctx := cmd.Context()

		// Pulls write one session at a time; back up once at the end instead.
		device, isCharm := store.(*charm.Client)
		if isCharm {
			device.SetAutoSync(false)
			defer device.SetAutoSync(true)
		}

		migrated, err := engine.MigrateLocalToCloud(ctx)
		if err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
		if migrated.Pushed > 0 || len(migrated.Failed) > 0 {
			color.Green("✓ Uploaded %d session(s) from this device", migrated.Pushed)
			printFailed(migrated)
		}

		res, err := engine.SyncNow(ctx)
		if err != nil {
			return fmt.Errorf("sync failed: %w", err)
		}
		color.Green("✓ Sync complete")
		fmt.Printf("  Pulled: %d\n", res.Pulled)
		fmt.Printf("  Pushed: %d\n", res.Pushed)
		printFailed(res)

		if isCharm {
			if err := device.Sync(); err != nil {
				color.Yellow("⚠ Device backup failed: %v", err)
			}
		}

		if syncMetricsFile != "" {
			if err := prometheus.WriteToTextfile(syncMetricsFile, prometheus.DefaultGatherer); err != nil {
				return fmt.Errorf("failed to write metrics: %w", err)
			}
		}
		return nil
	},
}

func printFailed(res liftsync.Result) {
	if len(res.Failed) == 0 {
		return
	}
	color.Yellow("⚠ %d session(s) failed; they will be retried", len(res.Failed))
	for _, id := range res.Failed {
		fmt.Printf("    %s\n", shortID(id))
	}
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		fmt.Println("Backend:", cfg.GetBackend())
		if c, ok := store.(*charm.Client); ok {
			if id, err := c.ID(); err == nil {
				fmt.Println("Charm ID:", id)
			}
			if c.IsReadOnly() {
				color.Yellow("⚠ Device store is read-only (locked by another process)")
			}
		}

		version, err := localRepo.DataVersion(ctx)
		if err != nil {
			return err
		}
		fmt.Println("Data version:", version)

		sessions, err := localRepo.ListSessions(ctx, true)
		if err != nil {
			return err
		}
		fmt.Printf("Local sessions: %d\n", len(sessions))

		pending, err := repo.Pending()
		if err != nil {
			return err
		}
		fmt.Printf("Pending cloud writes: %d\n", len(pending))
		for _, in := range pending {
			fmt.Printf("  %s %s attempts=%d %s\n", in.Op, shortID(in.SessionID), in.Attempts, in.LastError)
		}

		fmt.Println()
		if !cfg.CloudEnabled() {
			color.Yellow("Cloud sync not configured")
			return nil
		}
		userID, err := auth.OptionalUserID(ctx, cfg.Users())
		if err != nil {
			color.Yellow("⚠ Session token invalid: %v", err)
			return nil
		}
		if userID == "" {
			color.Yellow("Signed out")
			fmt.Println("\nRun 'lifts login' to sign in.")
			return nil
		}

		state, err := syncState.Load(userID)
		if err != nil {
			return err
		}
		fmt.Println("User:", userID)
		fmt.Println("Migrated:", yesNo(state.Migrated))
		fmt.Println("Last sync:", formatTime(state.LastSyncAt))
		if engine == nil {
			color.Yellow("⚠ Cloud database unreachable")
		}
		return nil
	},
}

var syncResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget sync progress",
	Long: `Forget the sync watermark and migration flag of the signed-in user, so
the next sync uploads every session on this device again.

With --device (charm backend only), local data is also wiped and restored
from the Charm backup. This is destructive.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := cfg.Users().CurrentUserID(cmd.Context())
		if err != nil {
			return fmt.Errorf("not signed in: %w", err)
		}
		if err := syncState.Reset(userID); err != nil {
			return fmt.Errorf("reset failed: %w", err)
		}
		color.Green("✓ Sync progress reset")

		if !syncResetDevice {
			return nil
		}
		c, ok := store.(*charm.Client)
		if !ok {
			return errors.New("--device requires the charm backend")
		}
		fmt.Println("This will DELETE all local workout data and restore from the Charm backup.")
		fmt.Print("Continue? [y/N]: ")
		var confirm string
		_, _ = fmt.Scanln(&confirm)
		if confirm != "y" && confirm != "Y" {
			fmt.Println("Canceled.")
			return nil
		}
		if err := c.Reset(); err != nil {
			return fmt.Errorf("device reset failed: %w", err)
		}
		color.Green("✓ Local data restored from backup")
		return nil
	},
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func init() {
	syncCmd.Flags().StringVar(&syncMetricsFile, "metrics-file", "", "write Prometheus metrics to this file")
	syncResetCmd.Flags().BoolVar(&syncResetDevice, "device", false, "also restore local data from the Charm backup")

	syncCmd.AddCommand(syncStatusCmd)
	syncCmd.AddCommand(syncResetCmd)
	rootCmd.AddCommand(syncCmd)
}

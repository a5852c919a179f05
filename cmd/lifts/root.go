// ABOUTME: Root Cobra command for lifts CLI.
// ABOUTME: Wires config, logging, device store, cloud and sync via PersistentPre/PostRunE.
package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/harperreed/lifts/internal/cloud"
	"github.com/harperreed/lifts/internal/config"
	"github.com/harperreed/lifts/internal/logging"
	"github.com/harperreed/lifts/internal/manager"
	"github.com/harperreed/lifts/internal/outbox"
	"github.com/harperreed/lifts/internal/storage"
	liftsync "github.com/harperreed/lifts/internal/sync"
)

const cloudConnectTimeout = 5 * time.Second

var (
	cfg       *config.Config
	logger    *zap.Logger
	store     config.Store
	localRepo *storage.LocalRepository
	repo      *manager.Manager
	syncState *liftsync.StateStore
	engine    *liftsync.Engine
	pool      *pgxpool.Pool
)

var rootCmd = &cobra.Command{
	Use:   "lifts",
	Short: "Offline-first strength training log",
	Long: `Lifts records strength training sessions on this device and syncs them
with your cloud account when you are signed in.

QUICK START:

  $ lifts add "Bench Press" 3x5@80kg       # Log 3 sets of 5 at 80kg today
  $ lifts add Squat --reps 5,5,3 --weights 100kg,100kg,110kg
  $ lifts add Pull-up 3x8@bodyweight --date 2024-12-18
  $ lifts list                             # Recent sessions
  $ lifts show abc12345                    # Exercises and sets of a session

SYNC:

  Sessions are saved locally first. With a cloud database configured and a
  session token set, every change is also written to the cloud. Changes
  that could not reach the cloud are retried on the next sync.

  $ lifts login <token>       # Sign in
  $ lifts sync                # Pull and push changes
  $ lifts sync status         # Watermark and pending cloud writes

CONFIGURATION:

  ~/.config/lifts/config.json, overridden by LIFTS_* environment variables:
  LIFTS_BACKEND (charm|badger), LIFTS_DATA_DIR, LIFTS_CLOUD_DSN, LIFTS_TOKEN,
  LIFTS_JWT_SECRET, LIFTS_LOG_LEVEL, LIFTS_TOMBSTONE_RETENTION.

MCP INTEGRATION:

  Run 'lifts mcp' to start the Model Context Protocol server:

  {
    "mcpServers": {
      "lifts": { "command": "lifts", "args": ["mcp"] }
    }
  }`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch cmd.Name() {
		case "version", "help", "install-skill":
			return nil
		}
		return openApp(cmd.Context(), cmd.Name() == "mcp")
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeApp()
	},
}

// openApp loads config and wires the repositories. A configured but
// unreachable cloud leaves the app in local-only mode.
func openApp(ctx context.Context, quiet bool) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var err error
	cfg, err = config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logCfg := logging.Config{
		Level:        cfg.LogLevel,
		File:         cfg.GetLogFile(),
		ConsoleLevel: "warn",
	}
	if quiet {
		// stdout belongs to the MCP protocol; keep the console clean.
		logCfg.Console = io.Discard
	}
	logger, err = logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	store, err = cfg.OpenStorage()
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}

	localRepo = storage.NewLocalRepository(store, storage.WithLogger(logger))
	if _, err := localRepo.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate local data: %w", err)
	}

	syncState = liftsync.NewStateStore(store)
	intents := outbox.New(store)
	engine = nil

	if !cfg.CloudEnabled() {
		repo = manager.New(localRepo, intents, manager.WithLogger(logger))
		return nil
	}

	connectCtx, cancel := context.WithTimeout(ctx, cloudConnectTimeout)
	defer cancel()
	pool, err = cloud.NewPool(connectCtx, cloud.PoolConfig{DSN: cfg.CloudDSN, MaxConns: 4})
	if err != nil {
		logger.Warn("cloud database unavailable; working offline", zap.Error(err))
		pool = nil
		repo = manager.New(localRepo, intents, manager.WithLogger(logger))
		return nil
	}

	users := cfg.Users()
	cloudRepo := cloud.NewRepository(pool, users, cloud.WithLogger(logger))
	repo = manager.New(localRepo, intents,
		manager.WithCloud(cloudRepo, users),
		manager.WithLogger(logger))
	engine = liftsync.NewEngine(localRepo, cloudRepo, syncState, users,
		liftsync.WithReplayer(repo),
		liftsync.WithLogger(logger))
	return nil
}

func closeApp() error {
	if pool != nil {
		pool.Close()
		pool = nil
	}
	if logger != nil {
		_ = logger.Sync()
	}
	if store != nil {
		err := store.Close()
		store = nil
		return err
	}
	return nil
}

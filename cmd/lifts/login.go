// ABOUTME: CLI commands for signing in and out of cloud sync.
// ABOUTME: Stores or mints the session token in the config file.
package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/harperreed/lifts/internal/auth"
)

var (
	loginUser string
	loginTTL  time.Duration
)

var loginCmd = &cobra.Command{
	Use:   "login [token]",
	Short: "Sign in to cloud sync",
	Long: `Sign in by storing a session token.

Pass a token issued by your sync server, or on a self-hosted setup mint one
with --user using the configured LIFTS_JWT_SECRET.

EXAMPLES:

  lifts login eyJhbGciOi...
  lifts login --user me@example.com --ttl 8760h`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		authCfg := auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer}

		var token string
		switch {
		case len(args) == 1:
			token = args[0]
		case loginUser != "":
			var err error
			if token, err = auth.Sign(loginUser, loginTTL, authCfg); err != nil {
				return fmt.Errorf("failed to mint token: %w", err)
			}
		default:
			return errors.New("provide a token or --user")
		}

		claims, err := auth.Parse(token, authCfg)
		if err != nil {
			return fmt.Errorf("token rejected: %w", err)
		}

		cfg.Token = token
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}

		color.Green("✓ Signed in as %s", claims.UserID)
		if !claims.ExpiresAt.IsZero() {
			fmt.Printf("  Expires: %s\n", claims.ExpiresAt.Local().Format("2006-01-02 15:04"))
		}
		fmt.Println("Run 'lifts sync' to upload sessions from this device.")
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out of cloud sync",
	Long: `Remove the stored session token. Local data is kept, and writes stay on
this device until you sign in again.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg.Token = ""
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("failed to save config: %w", err)
		}
		color.Green("✓ Signed out")
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginUser, "user", "", "mint a token for this user id")
	loginCmd.Flags().DurationVar(&loginTTL, "ttl", 30*24*time.Hour, "lifetime of a minted token")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}

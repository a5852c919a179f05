// ABOUTME: Lifts configuration management with backend selection.
// ABOUTME: JSON file at the XDG config path, overridden by LIFTS_* environment variables.

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/harperreed/lifts/internal/auth"
	"github.com/harperreed/lifts/internal/charm"
	"github.com/harperreed/lifts/internal/storage"
)

// Config stores lifts configuration.
// Priority: environment > config file > env-default tags.
type Config struct {
	// Backend selects the device store: "charm" (default, with cloud
	// backup) or "badger" (plain local database under DataDir).
	Backend string `json:"backend,omitempty" env:"LIFTS_BACKEND" env-default:"charm"`

	// DataDir is where the badger backend and log file live.
	// Supports ~ expansion. Defaults to ~/.local/share/lifts.
	DataDir string `json:"data_dir,omitempty" env:"LIFTS_DATA_DIR"`

	// CharmHost overrides the Charm server.
	CharmHost string `json:"charm_host,omitempty" env:"LIFTS_CHARM_HOST"`

	// CloudDSN is the Postgres connection string. Empty disables cloud sync.
	CloudDSN string `json:"cloud_dsn,omitempty" env:"LIFTS_CLOUD_DSN"`

	// Token is the signed-in session token. Empty means signed out.
	Token string `json:"token,omitempty" env:"LIFTS_TOKEN"`

	JWTSecret string `json:"jwt_secret,omitempty" env:"LIFTS_JWT_SECRET"`
	JWTIssuer string `json:"jwt_issuer,omitempty" env:"LIFTS_JWT_ISSUER"`

	LogLevel string `json:"log_level,omitempty" env:"LIFTS_LOG_LEVEL" env-default:"info"`
	// LogFile defaults to lifts.log under DataDir.
	LogFile string `json:"log_file,omitempty" env:"LIFTS_LOG_FILE"`

	// TombstoneRetention is how long soft-deleted sessions are kept
	// before purge removes them, as a Go duration.
	TombstoneRetention string `json:"tombstone_retention,omitempty" env:"LIFTS_TOMBSTONE_RETENTION" env-default:"720h"`
}

// Store is a device key-value store that must be closed.
type Store interface {
	storage.KV
	Close() error
}

// GetBackend returns the configured backend, defaulting to "charm".
func (c *Config) GetBackend() string {
	if c.Backend == "" {
		return "charm"
	}
	return c.Backend
}

// GetDataDir returns the configured data directory with ~ expanded,
// defaulting to the standard XDG data directory.
func (c *Config) GetDataDir() string {
	if c.DataDir == "" {
		return DataDir()
	}
	return ExpandPath(c.DataDir)
}

// GetLogFile returns the log file path.
func (c *Config) GetLogFile() string {
	if c.LogFile == "" {
		return filepath.Join(c.GetDataDir(), "lifts.log")
	}
	return ExpandPath(c.LogFile)
}

// Retention parses TombstoneRetention.
func (c *Config) Retention() (time.Duration, error) {
	if c.TombstoneRetention == "" {
		return 30 * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(c.TombstoneRetention)
	if err != nil {
		return 0, fmt.Errorf("parse tombstone retention: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("tombstone retention must not be negative: %s", c.TombstoneRetention)
	}
	return d, nil
}

// CloudEnabled reports whether a cloud database is configured.
func (c *Config) CloudEnabled() bool {
	return c.CloudDSN != ""
}

// Users returns the source of the signed-in user.
func (c *Config) Users() auth.UserSource {
	return auth.NewTokenSource(c.Token, auth.Config{Secret: c.JWTSecret, Issuer: c.JWTIssuer})
}

// DataDir returns the default data directory.
func DataDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		home, _ := os.UserHomeDir()
		dataDir = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataDir, "lifts")
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if path == "" {
		return ""
	}
	if path == "~" {
		home, _ := os.UserHomeDir()
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// OpenStorage opens the device store for the configured backend.
func (c *Config) OpenStorage() (Store, error) {
	switch backend := c.GetBackend(); backend {
	case "charm":
		client, err := charm.InitClient(charm.Options{Host: c.CharmHost, AutoSync: true})
		if err != nil {
			return nil, err
		}
		return client, nil
	case "badger":
		db, err := storage.OpenBadger(filepath.Join(c.GetDataDir(), "badger"))
		if err != nil {
			return nil, err
		}
		return db, nil
	default:
		return nil, fmt.Errorf("unknown backend: %q", backend)
	}
}

// GetConfigPath returns the config file path.
func GetConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, _ := os.UserHomeDir()
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "lifts", "config.json")
}

// Load reads config from disk and applies the environment. A missing
// file yields environment values and defaults.
func Load() (*Config, error) {
	var cfg Config
	path := GetConfigPath()

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat config %s: %w", path, err)
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("read config env: %w", err)
	}

	if _, err := cfg.Retention(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to disk.
func (c *Config) Save() error {
	path := GetConfigPath()
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

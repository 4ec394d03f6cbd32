// Package config loads the protocol configuration from TOML.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/aura-protocol/aura/internal/freshness"
	"github.com/aura-protocol/aura/internal/ledger"
	"github.com/aura-protocol/aura/internal/zkproof"
	"github.com/aura-protocol/aura/pkg/protocol"
)

// Paths holds XDG-compliant paths for Aura.
type Paths struct {
	ConfigDir   string // ~/.config/aura
	DataDir     string // ~/.local/share/aura
	ConfigFile  string // ~/.config/aura/config.toml
	LedgerPath  string // ~/.local/share/aura/ledger.db
	KeystoreDir string // ~/.local/share/aura/keys
}

// ExpandPath expands ~ to the user's home directory.
// Returns the path unchanged if it doesn't start with ~.
// Panics if home directory cannot be determined when ~ expansion is needed.
func ExpandPath(path string) string {
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			panic(fmt.Sprintf("failed to get home directory: %v", err))
		}
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			panic(fmt.Sprintf("failed to get home directory: %v", err))
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultPaths returns the default XDG-compliant paths.
// Panics if the user's home directory cannot be determined.
func DefaultPaths() Paths {
	home, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Sprintf("failed to get home directory: %v", err))
	}
	configDir := filepath.Join(home, ".config", "aura")
	dataDir := filepath.Join(home, ".local", "share", "aura")

	return Paths{
		ConfigDir:   configDir,
		DataDir:     dataDir,
		ConfigFile:  filepath.Join(configDir, "config.toml"),
		LedgerPath:  filepath.Join(dataDir, "ledger.db"),
		KeystoreDir: filepath.Join(dataDir, "keys"),
	}
}

// EnsureDirectories creates config and data directories if they don't exist.
func (p Paths) EnsureDirectories() error {
	for _, dir := range []string{p.ConfigDir, p.DataDir, p.KeystoreDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0700); err != nil {
			return err
		}
	}
	return nil
}

// Config is the complete protocol configuration.
type Config struct {
	Economy   protocol.Economy `toml:"economy"`
	Policy    protocol.Policy  `toml:"policy"`
	ZK        zkproof.Config   `toml:"zk"`
	Storage   StorageConfig    `toml:"storage"`
	Freshness FreshnessConfig  `toml:"freshness"`
	Log       LogConfig        `toml:"log"`
}

// StorageConfig selects the ledger backend.
type StorageConfig struct {
	Driver string `toml:"driver"` // sqlite or postgres
	DSN    string `toml:"dsn"`
}

// FreshnessConfig holds session nonce settings.
type FreshnessConfig struct {
	TTLSeconds             int `toml:"ttl_seconds"`
	Capacity               int `toml:"capacity"`
	CleanupIntervalSeconds int `toml:"cleanup_interval_seconds"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // json or text
}

// Default returns a Config with the protocol defaults.
func Default() Config {
	paths := DefaultPaths()
	fresh := freshness.DefaultConfig()
	return Config{
		Economy: protocol.DefaultEconomy(),
		Policy:  protocol.DefaultPolicy(),
		ZK:      zkproof.DefaultConfig(),
		Storage: StorageConfig{
			Driver: ledger.DriverSQLite,
			DSN:    paths.LedgerPath,
		},
		Freshness: FreshnessConfig{
			TTLSeconds:             int(fresh.TTL / time.Second),
			Capacity:               fresh.Capacity,
			CleanupIntervalSeconds: int(fresh.CleanupInterval / time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a Config from a TOML file. Keys absent from the file keep
// their defaults. A sqlite DSN with ~ is expanded to the home directory.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}
	if cfg.Storage.Driver == ledger.DriverSQLite {
		cfg.Storage.DSN = ExpandPath(cfg.Storage.DSN)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads path if it exists and returns the defaults otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		return &cfg, nil
	}
	return Load(path)
}

// Validate checks every section.
func (c Config) Validate() error {
	if err := c.Economy.Validate(); err != nil {
		return err
	}
	if err := c.Policy.Validate(); err != nil {
		return err
	}
	if err := c.ZK.Validate(); err != nil {
		return err
	}
	switch c.Storage.Driver {
	case ledger.DriverSQLite, ledger.DriverPostgres:
	default:
		return fmt.Errorf("storage: unknown driver %q", c.Storage.Driver)
	}
	if c.Storage.DSN == "" {
		return errors.New("storage: dsn must be set")
	}
	if c.Freshness.TTLSeconds <= 0 || c.Freshness.Capacity <= 0 || c.Freshness.CleanupIntervalSeconds <= 0 {
		return errors.New("freshness: ttl_seconds, capacity and cleanup_interval_seconds must be positive")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("log: unknown format %q", c.Log.Format)
	}
	return nil
}

// Store converts the section into a freshness store configuration.
func (f FreshnessConfig) Store() freshness.Config {
	return freshness.Config{
		TTL:             time.Duration(f.TTLSeconds) * time.Second,
		Capacity:        f.Capacity,
		CleanupInterval: time.Duration(f.CleanupIntervalSeconds) * time.Second,
	}
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("log: unknown level %q", s)
	}
}

// NewLogger builds the logger described by the section.
func (l LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := ParseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(w, opts)), nil
}

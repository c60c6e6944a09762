package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// configFileName is the optional per-project configuration file. Values
// from it fill only fields the environment left empty, so the
// precedence is environment > file > built-in default.
const configFileName = "codesync.yaml"

// Defaults applied after the environment and file layers.
const (
	defaultWatchInterval = 1 * time.Second
	defaultSyncInterval  = 5 * time.Second
	defaultRemoteTimeout = 30 * time.Second
	// The control surface carries no authentication, so it must not
	// listen beyond loopback unless explicitly configured to.
	defaultControlAddr = "127.0.0.1:8091"
)

// Config holds all configuration for the codesync daemon.
type Config struct {
	// Remote document store endpoint and bearer token.
	RemoteBaseURL string `env:"CODESYNC_REMOTE_URL"`
	RemoteToken   string `env:"CODESYNC_REMOTE_TOKEN"`

	// Directory to sync. Optional at startup: when empty the daemon
	// starts idle and waits for a start call on the control surface,
	// or resumes the directory recorded in persisted state.
	SyncDir string `env:"CODESYNC_DIR"`

	// WatchInterval is the local-change sweep cadence inside the
	// watcher; SyncInterval is the full reconciliation cadence. They
	// are independent, process-wide settings.
	WatchInterval time.Duration `env:"CODESYNC_WATCH_INTERVAL"`
	SyncInterval  time.Duration `env:"CODESYNC_SYNC_INTERVAL"`

	// RemoteTimeout bounds every request to the remote store. A call
	// exceeding it is treated as the store being unavailable.
	RemoteTimeout time.Duration `env:"CODESYNC_REMOTE_TIMEOUT"`

	// Control surface (MCP over HTTP) settings.
	EnableControl bool   `env:"CODESYNC_ENABLE_CONTROL" envDefault:"true"`
	ControlAddr   string `env:"CODESYNC_CONTROL_ADDR"`

	// StatePath overrides the state database location. Empty means
	// the default under the user's home directory.
	StatePath string `env:"CODESYNC_STATE_PATH"`

	// Environment controls log format.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// fileConfig mirrors Config for the yaml layer. Durations are strings
// here because yaml.v3 has no native time.Duration decoding.
type fileConfig struct {
	RemoteURL     string `yaml:"remote_url"`
	RemoteToken   string `yaml:"remote_token"`
	Dir           string `yaml:"dir"`
	WatchInterval string `yaml:"watch_interval"`
	SyncInterval  string `yaml:"sync_interval"`
	RemoteTimeout string `yaml:"remote_timeout"`
	ControlAddr   string `yaml:"control_addr"`
	StatePath     string `yaml:"state_path"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing the remote token to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from the environment, overlaying values
// from codesync.yaml (when present) into fields the environment left
// empty, then applying built-in defaults and validating.
func Load() (*Config, error) {
	return LoadFrom(configFileName)
}

// LoadFrom is Load with an explicit config file path, for tests.
func LoadFrom(filePath string) (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.overlayFile(filePath); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	// Resolve SyncDir to an absolute path at startup. The workspace
	// layer guards against path traversal with string prefix checks,
	// which only work reliably on absolute paths.
	if cfg.SyncDir != "" {
		absDir, err := filepath.Abs(cfg.SyncDir)
		if err != nil {
			return nil, fmt.Errorf("resolving sync dir to absolute path: %w", err)
		}

		cfg.SyncDir = absDir
	}

	return cfg, nil
}

// overlayFile fills empty fields from the yaml config file. A missing
// file is not an error; a malformed one is.
func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("reading %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if c.RemoteBaseURL == "" {
		c.RemoteBaseURL = fc.RemoteURL
	}

	if c.RemoteToken == "" {
		c.RemoteToken = fc.RemoteToken
	}

	if c.SyncDir == "" {
		c.SyncDir = fc.Dir
	}

	if c.ControlAddr == "" {
		c.ControlAddr = fc.ControlAddr
	}

	if c.StatePath == "" {
		c.StatePath = fc.StatePath
	}

	for _, d := range []struct {
		dst *time.Duration
		src string
	}{
		{&c.WatchInterval, fc.WatchInterval},
		{&c.SyncInterval, fc.SyncInterval},
		{&c.RemoteTimeout, fc.RemoteTimeout},
	} {
		if *d.dst != 0 || d.src == "" {
			continue
		}

		parsed, err := time.ParseDuration(d.src)
		if err != nil {
			return fmt.Errorf("parsing duration %q in %s: %w", d.src, path, err)
		}

		*d.dst = parsed
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.WatchInterval == 0 {
		c.WatchInterval = defaultWatchInterval
	}

	if c.SyncInterval == 0 {
		c.SyncInterval = defaultSyncInterval
	}

	if c.RemoteTimeout == 0 {
		c.RemoteTimeout = defaultRemoteTimeout
	}

	if c.ControlAddr == "" {
		c.ControlAddr = defaultControlAddr
	}
}

func (c *Config) validate() error {
	if c.RemoteBaseURL == "" {
		return fmt.Errorf("CODESYNC_REMOTE_URL is required")
	}

	if c.WatchInterval < 0 || c.SyncInterval < 0 || c.RemoteTimeout < 0 {
		return fmt.Errorf("intervals must not be negative")
	}

	return nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Package config loads the antos YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/models"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/process"
	"github.com/mitsuyoshi-yamazaki/AntOS-sub007/internal/scheduler"
)

// Config holds antos configuration.
type Config struct {
	// DataDir holds the database, the lock file and logs.
	DataDir string `yaml:"data_dir"`
	// Database is the SQLite file, relative to DataDir unless absolute.
	Database string `yaml:"database"`
	// LogDir receives kernel.log, relative to DataDir unless absolute.
	LogDir string `yaml:"log_dir"`
	// World is the scenario file used when no world has been saved yet.
	World string `yaml:"world"`

	Kernel    KernelConfig      `yaml:"kernel"`
	Scheduler *scheduler.Config `yaml:"scheduler"`
	TUI       TUIConfig         `yaml:"tui"`

	// Bootstrap lists processes launched by `antos init`.
	Bootstrap []LaunchSpec `yaml:"bootstrap"`
}

// KernelConfig tunes the kernel.
type KernelConfig struct {
	// HistoryLimit is how many tick summaries are kept.
	HistoryLimit int `yaml:"history_limit"`
}

// TUIConfig tunes `antos top`.
type TUIConfig struct {
	// Refresh is the auto-run tick interval.
	Refresh time.Duration `yaml:"refresh"`
}

// LaunchSpec describes one bootstrap process.
type LaunchSpec struct {
	Type      string             `yaml:"type"`
	Args      map[string]string  `yaml:"args,omitempty"`
	DependsOn []models.ProcessID `yaml:"depends_on,omitempty"`
	After     []string           `yaml:"after_types,omitempty"`
}

// LaunchArgs returns the launch arguments and dependencies in kernel form.
func (s LaunchSpec) LaunchArgs() (process.Args, models.Dependencies) {
	args := process.Args{}
	for k, v := range s.Args {
		args[k] = v
	}
	return args, models.Dependencies{Processes: s.DependsOn, Types: s.After}
}

// DefaultConfig returns the default configuration rooted at ~/.antos.
func DefaultConfig() *Config {
	dataDir := ".antos"
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".antos")
	}
	return &Config{
		DataDir:   dataDir,
		Database:  "antos.db",
		LogDir:    "logs",
		Kernel:    KernelConfig{HistoryLimit: 500},
		Scheduler: scheduler.DefaultConfig(),
		TUI:       TUIConfig{Refresh: 500 * time.Millisecond},
	}
}

// Load loads configuration from a YAML file. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if cfg.Scheduler == nil {
		cfg.Scheduler = scheduler.DefaultConfig()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// HomePath returns ~/.antos/config.yaml.
func HomePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home dir: %w", err)
	}
	return filepath.Join(home, ".antos", "config.yaml"), nil
}

// LoadFromHome loads configuration from ~/.antos/config.yaml.
func LoadFromHome() (*Config, error) {
	path, err := HomePath()
	if err != nil {
		return DefaultConfig(), nil
	}
	return Load(path)
}

// Save writes cfg as YAML, creating parent directories if needed.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.Kernel.HistoryLimit < 1 {
		return fmt.Errorf("kernel.history_limit must be at least 1")
	}
	if c.TUI.Refresh <= 0 {
		return fmt.Errorf("tui.refresh must be positive")
	}
	if c.Scheduler != nil {
		if c.Scheduler.Interval <= 0 {
			return fmt.Errorf("scheduler.interval must be positive")
		}
		if c.Scheduler.MaxTicks < 0 || c.Scheduler.MaxConsecutiveErrors < 0 {
			return fmt.Errorf("scheduler limits cannot be negative")
		}
	}
	for i, spec := range c.Bootstrap {
		if spec.Type == "" {
			return fmt.Errorf("bootstrap[%d]: type is required", i)
		}
	}
	return nil
}

// DatabasePath returns the absolute database path.
func (c *Config) DatabasePath() string {
	return c.resolve(c.Database)
}

// LogPath returns the log directory.
func (c *Config) LogPath() string {
	return c.resolve(c.LogDir)
}

// LockPath returns the data-dir lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.DataDir, "antos.lock")
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Kernel.HistoryLimit != 500 || cfg.Scheduler.Interval != time.Second {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
data_dir: /var/lib/antos
world: scenario.yaml
kernel:
  history_limit: 20
scheduler:
  interval: 250ms
  max_ticks: 10
bootstrap:
  - type: haul
    args:
      source: src1
      destination: store1
  - type: monitor
    after_types: [haul]
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.DatabasePath() != "/var/lib/antos/antos.db" {
		t.Errorf("DatabasePath() = %q", cfg.DatabasePath())
	}
	if cfg.Scheduler.Interval != 250*time.Millisecond || cfg.Scheduler.MaxTicks != 10 {
		t.Errorf("Scheduler = %+v", cfg.Scheduler)
	}
	if len(cfg.Bootstrap) != 2 {
		t.Fatalf("Bootstrap = %+v", cfg.Bootstrap)
	}
	args, deps := cfg.Bootstrap[1].LaunchArgs()
	if len(args) != 0 || len(deps.Types) != 1 || deps.Types[0] != "haul" {
		t.Errorf("LaunchArgs() = %v, %+v", args, deps)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"no history", func(c *Config) { c.Kernel.HistoryLimit = 0 }, "history_limit"},
		{"zero interval", func(c *Config) { c.Scheduler.Interval = 0 }, "scheduler.interval"},
		{"zero refresh", func(c *Config) { c.TUI.Refresh = 0 }, "tui.refresh"},
		{"untyped bootstrap", func(c *Config) { c.Bootstrap = []LaunchSpec{{}} }, "bootstrap[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := DefaultConfig()
	cfg.DataDir = "/tmp/antos"
	cfg.Bootstrap = []LaunchSpec{{Type: "sentry", Args: map[string]string{"group": "guards"}}}

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.DataDir != "/tmp/antos" || got.Bootstrap[0].Args["group"] != "guards" {
		t.Errorf("round trip = %+v", got)
	}
	if got.LockPath() != "/tmp/antos/antos.lock" {
		t.Errorf("LockPath() = %q", got.LockPath())
	}
}

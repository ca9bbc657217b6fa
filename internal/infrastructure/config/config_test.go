package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// Point at a path that does not exist: defaults should apply.
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "./data/hearth.db" {
		t.Errorf("Database.Path = %q, want default", cfg.Database.Path)
	}
	if cfg.Devices.FuzzyLimiter != 0.89 {
		t.Errorf("Devices.FuzzyLimiter = %v, want 0.89", cfg.Devices.FuzzyLimiter)
	}
	if cfg.Devices.DefaultMaxDelayDuration() != 60*time.Second {
		t.Errorf("DefaultMaxDelayDuration = %v, want 60s", cfg.Devices.DefaultMaxDelayDuration())
	}
	if !cfg.MQTT.Enabled {
		t.Error("MQTT.Enabled = false, want true by default")
	}
}

func TestLoadFromFile(t *testing.T) {
	yaml := `
site:
  id: test-site
database:
  path: /tmp/test.db
devices:
  status_history_size: 10
  command_history_size: 5
  fuzzy_limiter: 0.75
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.ID != "test-site" {
		t.Errorf("Site.ID = %q, want test-site", cfg.Site.ID)
	}
	if cfg.Devices.StatusHistorySize != 10 {
		t.Errorf("StatusHistorySize = %d, want 10", cfg.Devices.StatusHistorySize)
	}
	if cfg.Devices.FuzzyLimiter != 0.75 {
		t.Errorf("FuzzyLimiter = %v, want 0.75", cfg.Devices.FuzzyLimiter)
	}
	// Untouched sections keep defaults.
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("site: [not: valid"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Load() with malformed YAML should return error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HEARTH_DATABASE_PATH", "/srv/hearth/hearth.db")
	t.Setenv("HEARTH_MQTT_HOST", "broker.local")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/srv/hearth/hearth.db" {
		t.Errorf("Database.Path = %q, want env override", cfg.Database.Path)
	}
	if cfg.MQTT.Broker.Host != "broker.local" {
		t.Errorf("MQTT.Broker.Host = %q, want broker.local", cfg.MQTT.Broker.Host)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(*Config) {},
		},
		{
			name:    "missing site id",
			mutate:  func(c *Config) { c.Site.ID = "" },
			wantErr: "site.id",
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: "database.path",
		},
		{
			name:    "invalid qos",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: "mqtt.qos",
		},
		{
			name:    "zero status history",
			mutate:  func(c *Config) { c.Devices.StatusHistorySize = 0 },
			wantErr: "status_history_size",
		},
		{
			name:    "limiter out of range",
			mutate:  func(c *Config) { c.Devices.FuzzyLimiter = 1.5 },
			wantErr: "fuzzy_limiter",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

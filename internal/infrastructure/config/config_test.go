package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	content := `
fleet:
  id: "test-fleet"
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
api:
  host: "0.0.0.0"
  port: 8080
security:
  jwt:
    secret: "test-secret-key-at-least-32-chars!"
`
	cfg, err := Load(writeConfigFile(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Fleet.ID != "test-fleet" {
		t.Errorf("Fleet.ID = %q, want %q", cfg.Fleet.ID, "test-fleet")
	}
	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.MQTT.Broker.Host != "localhost" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "localhost")
	}
}

func TestLoad_EngineDefaults(t *testing.T) {
	content := `
fleet:
  id: "test-fleet"
database:
  path: "/tmp/test.db"
security:
  jwt:
    disabled: true
`
	cfg, err := Load(writeConfigFile(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Engine.MaxAttempts != 4 {
		t.Errorf("Engine.MaxAttempts = %d, want 4", cfg.Engine.MaxAttempts)
	}
	if cfg.Engine.RetryBackoffMS != 200 {
		t.Errorf("Engine.RetryBackoffMS = %d, want 200", cfg.Engine.RetryBackoffMS)
	}
	if cfg.Engine.AttemptTimeout != 5 {
		t.Errorf("Engine.AttemptTimeout = %d, want 5", cfg.Engine.AttemptTimeout)
	}
	if cfg.Engine.AutoDisableThreshold != 5 {
		t.Errorf("Engine.AutoDisableThreshold = %d, want 5", cfg.Engine.AutoDisableThreshold)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfigFile(t, "invalid: [yaml: content"))
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	content := `
fleet:
  id: "test-fleet"
database:
  path: "/tmp/test.db"
security:
  jwt:
    disabled: true
`
	t.Setenv("FLEETCORE_DATABASE_PATH", "/tmp/override.db")
	t.Setenv("FLEETCORE_MQTT_HOST", "broker.example.com")

	cfg, err := Load(writeConfigFile(t, content))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/override.db" {
		t.Errorf("Database.Path = %q, want env override", cfg.Database.Path)
	}
	if cfg.MQTT.Broker.Host != "broker.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want env override", cfg.MQTT.Broker.Host)
	}
}

func TestConfig_Validate(t *testing.T) {
	validJWTSecret := "test-secret-key-at-least-32-chars!"

	base := func() *Config {
		cfg := defaultConfig()
		cfg.Security.JWT.Secret = validJWTSecret
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "missing fleet id",
			mutate:  func(c *Config) { c.Fleet.ID = "" },
			wantErr: true,
		},
		{
			name:    "missing database path",
			mutate:  func(c *Config) { c.Database.Path = "" },
			wantErr: true,
		},
		{
			name:    "invalid qos",
			mutate:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: true,
		},
		{
			name:    "invalid api port",
			mutate:  func(c *Config) { c.API.Port = 0 },
			wantErr: true,
		},
		{
			name:    "zero max attempts",
			mutate:  func(c *Config) { c.Engine.MaxAttempts = 0 },
			wantErr: true,
		},
		{
			name:    "negative auto-disable threshold",
			mutate:  func(c *Config) { c.Engine.AutoDisableThreshold = -1 },
			wantErr: true,
		},
		{
			name:    "history enabled without url",
			mutate:  func(c *Config) { c.History.Enabled = true },
			wantErr: true,
		},
		{
			name:    "short jwt secret",
			mutate:  func(c *Config) { c.Security.JWT.Secret = "short" },
			wantErr: true,
		},
		{
			name: "missing jwt secret allowed when disabled",
			mutate: func(c *Config) {
				c.Security.JWT.Secret = ""
				c.Security.JWT.Disabled = true
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

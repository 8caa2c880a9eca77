package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/schaermu/vclsync/internal/config"
)

func TestSetupLogger(t *testing.T) {
	// Save original globals.
	origLevel := logLevel
	origFormat := logFormat
	t.Cleanup(func() {
		logLevel = origLevel
		logFormat = origFormat
	})

	for _, tc := range []struct {
		name      string
		logLevel  string
		logFormat string
	}{
		{name: "debug/text", logLevel: "debug", logFormat: "text"},
		{name: "info/json", logLevel: "info", logFormat: "json"},
		{name: "warn/text", logLevel: "warn", logFormat: "text"},
		{name: "error/text", logLevel: "error", logFormat: "text"},
		{name: "unknown/text", logLevel: "unknown", logFormat: "text"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			logLevel = tc.logLevel
			logFormat = tc.logFormat

			logger := setupLogger()
			if logger == nil {
				t.Fatal("setupLogger returned nil")
			}
		})
	}
}

func TestLoadConfig_WithExplicitPath(t *testing.T) {
	origCfgFile := cfgFile
	t.Cleanup(func() { cfgFile = origCfgFile })

	t.Setenv(config.EnvAPIKey, "test-key")
	t.Setenv(config.EnvServiceID, "")
	t.Setenv(config.EnvRedisURL, "")

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	configContent := []byte(`api:
  service_id: "svc789"

lock:
  redis_url: "redis://localhost:6379/1"
`)
	if err := os.WriteFile(configPath, configContent, 0644); err != nil {
		t.Fatal(err)
	}

	cfgFile = configPath

	cfg, err := loadConfig(setupLogger())
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.API.ServiceID != "svc789" {
		t.Errorf("ServiceID = %q, want svc789", cfg.API.ServiceID)
	}
	if cfg.Lock.Name != "vclsync:deploy:svc789" {
		t.Errorf("Lock.Name = %q, want derived default", cfg.Lock.Name)
	}
}

func TestLoadConfig_FromEnv(t *testing.T) {
	origCfgFile := cfgFile
	t.Cleanup(func() { cfgFile = origCfgFile })
	cfgFile = ""

	t.Setenv(config.EnvAPIKey, "test-key")
	t.Setenv(config.EnvServiceID, "svc-env")
	t.Setenv(config.EnvRedisURL, "redis://localhost:6379")

	cfg, err := loadConfig(setupLogger())
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.API.ServiceID != "svc-env" {
		t.Errorf("ServiceID = %q, want svc-env", cfg.API.ServiceID)
	}
}

func TestLoadConfig_MissingRequired(t *testing.T) {
	origCfgFile := cfgFile
	t.Cleanup(func() { cfgFile = origCfgFile })
	cfgFile = ""

	for _, key := range []string{config.EnvAPIKey, config.EnvServiceID, config.EnvRedisURL} {
		t.Setenv(key, "")
		_ = os.Unsetenv(key)
	}

	if _, err := loadConfig(setupLogger()); err == nil {
		t.Fatal("loadConfig without required environment should fail")
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsBadConfig(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing server host", func(c *Config) { c.Server.Host = "" }},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
		{"missing node id", func(c *Config) { c.Server.NodeID = "" }},
		{"missing database host", func(c *Config) { c.Database.Host = "" }},
		{"missing database name", func(c *Config) { c.Database.Database = "" }},
		{"missing database user", func(c *Config) { c.Database.User = "" }},
		{"missing redis host", func(c *Config) { c.Redis.Host = "" }},
		{"missing ledger endpoint", func(c *Config) { c.Ledger.Endpoint = "" }},
		{"zero submit attempts", func(c *Config) { c.Ledger.SubmitAttempts = 0 }},
		{"valuation enabled without endpoint", func(c *Config) {
			c.Valuation.Enabled = true
			c.Valuation.Endpoint = ""
		}},
		{"missing certificate directory", func(c *Config) { c.Certificates.Directory = "" }},
		{"grace longer than deadline", func(c *Config) {
			c.Reconciliation.Grace = time.Hour
			c.Reconciliation.ExtendedDeadline = time.Minute
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestValidateFillsLoggingDefaults(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = ""
	cfg.Logging.Format = ""

	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadReadsFileAndEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := []byte(`
server:
  host: "127.0.0.1"
  port: 9000
  node_id: "engine-test"
ledger:
  endpoint: "http://gateway:8545"
`)
	assert.NoError(t, os.WriteFile(path, content, 0o644))

	t.Setenv("DATABASE_HOST", "db.internal")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load(path)
	assert.NoError(t, err)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "engine-test", cfg.Server.NodeID)
	assert.Equal(t, "http://gateway:8545", cfg.Ledger.Endpoint)

	// Environment overrides win over file values and defaults
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// Untouched sections keep their defaults
	assert.Equal(t, 5, cfg.Ledger.SubmitAttempts)
	assert.Equal(t, 45*time.Second, cfg.Reconciliation.Interval)
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yml"))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, defaultServerPort, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.CORSOrigins)
	assert.Equal(t, defaultDatabasePort, cfg.Database.Port)
	assert.Equal(t, "medwatch_compliance", cfg.Database.DBName)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, defaultRedisAddress, cfg.Redis.Address)
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.RunTimeout)
	assert.Equal(t, defaultConcurrency, cfg.Scheduler.Concurrency)
	assert.Equal(t, defaultErrorThreshold, cfg.Scheduler.ErrorThreshold)
	assert.Equal(t, defaultUserAgent, cfg.Scraper.UserAgent)
}

func TestLoadFromYAML(t *testing.T) {
	path := writeConfigFile(t, `
debug: true
server:
  host: 127.0.0.1
  port: 9090
  read_timeout: 10s
database:
  host: db.internal
  port: 5433
  user: compliance
  dbname: compliance_prod
  sslmode: require
scheduler:
  enabled: true
  run_timeout: 2m
  concurrency: 4
scraper:
  user_agent: TestBot/1.0
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Debug)
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 5433, cfg.Database.Port)
	assert.Equal(t, "require", cfg.Database.SSLMode)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 2*time.Minute, cfg.Scheduler.RunTimeout)
	assert.Equal(t, 4, cfg.Scheduler.Concurrency)
	assert.Equal(t, "TestBot/1.0", cfg.Scraper.UserAgent)

	// Unset sections still get defaults.
	assert.Equal(t, defaultMaxOpenConns, cfg.Database.MaxOpenConns)
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	path := writeConfigFile(t, `
server:
  host: 127.0.0.1
  port: 9090
database:
  host: db.internal
`)
	t.Setenv("SERVER_PORT", "7070")
	t.Setenv("DB_HOST", "env-db.internal")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("APP_DEBUG", "true")
	t.Setenv("CORS_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("REDIS_EVENTS_ENABLED", "true")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "env-db.internal", cfg.Database.Host)
	assert.Equal(t, "secret", cfg.Database.Password)
	assert.True(t, cfg.Debug)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.Server.CORSOrigins)
	assert.True(t, cfg.Redis.Enabled)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfigFile(t, "server: [not a mapping")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		setDefaults(cfg)
		cfg.Database.User = "compliance"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing server host", func(c *Config) { c.Server.Host = "" }, "server.host"},
		{"bad server port", func(c *Config) { c.Server.Port = -1 }, "server.port"},
		{"missing database host", func(c *Config) { c.Database.Host = "" }, "database.host"},
		{"bad database port", func(c *Config) { c.Database.Port = 0 }, "database.port"},
		{"missing database user", func(c *Config) { c.Database.User = "" }, "database.user"},
		{"missing database name", func(c *Config) { c.Database.DBName = "" }, "database.dbname"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

// Package config loads service configuration from YAML with
// environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"time"
)

const (
	defaultServerPort      = 8060
	defaultServerTimeout   = 30
	defaultDatabasePort    = 5432
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 5
	defaultRedisAddress    = "localhost:6379"
	defaultUserAgent       = "MedWatch-ComplianceBot/1.0 (+https://medwatch.example/bot)"
	defaultRunTimeoutMin   = 5
	defaultConcurrency     = 8
	defaultErrorThreshold  = 10
)

type Config struct {
	Debug     bool            `env:"APP_DEBUG" yaml:"debug"`
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Scraper   ScraperConfig   `yaml:"scraper"`
}

type ServerConfig struct {
	Host         string        `env:"SERVER_HOST" yaml:"host"`
	Port         int           `env:"SERVER_PORT" yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	CORSOrigins  []string      `env:"CORS_ORIGINS" yaml:"cors_origins"`
}

type DatabaseConfig struct {
	Host            string        `env:"DB_HOST"     yaml:"host"`
	Port            int           `env:"DB_PORT"     yaml:"port"`
	User            string        `env:"DB_USER"     yaml:"user"`
	Password        string        `env:"DB_PASSWORD" yaml:"password"`
	DBName          string        `env:"DB_NAME"     yaml:"dbname"`
	SSLMode         string        `env:"DB_SSLMODE"  yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig holds Redis connection configuration for event publishing.
type RedisConfig struct {
	Address  string `env:"REDIS_ADDRESS"        yaml:"address"`
	Password string `env:"REDIS_PASSWORD"       yaml:"password"`
	DB       int    `env:"REDIS_DB"             yaml:"db"`
	Enabled  bool   `env:"REDIS_EVENTS_ENABLED" yaml:"enabled"`
}

// SchedulerConfig tunes the scrape scheduler and background sweep.
type SchedulerConfig struct {
	Enabled        bool          `env:"SCHEDULER_ENABLED" yaml:"enabled"`
	RunTimeout     time.Duration `yaml:"run_timeout"`
	Concurrency    int           `yaml:"concurrency"`
	ErrorThreshold int           `yaml:"error_threshold"`
}

// ScraperConfig identifies the service to the sites it monitors.
type ScraperConfig struct {
	UserAgent string `env:"SCRAPER_USER_AGENT" yaml:"user_agent"`
}

func (c *Config) Validate() error {
	if c.Server.Host == "" {
		return errors.New("server.host is required")
	}
	if c.Server.Port <= 0 {
		return errors.New("server.port is required and must be positive")
	}
	if c.Database.Host == "" {
		return errors.New("database.host is required")
	}
	if c.Database.Port <= 0 {
		return errors.New("database.port is required and must be positive")
	}
	if c.Database.User == "" {
		return errors.New("database.user is required")
	}
	if c.Database.DBName == "" {
		return errors.New("database.dbname is required")
	}
	return nil
}

func Load(path string) (*Config, error) {
	cfg, err := load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = defaultServerPort
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultServerTimeout * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultServerTimeout * time.Second
	}
	if len(cfg.Server.CORSOrigins) == 0 {
		cfg.Server.CORSOrigins = []string{
			"http://localhost:3000", // Admin dashboard frontend
		}
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = defaultDatabasePort
	}
	if cfg.Database.User == "" {
		cfg.Database.User = "postgres"
	}
	if cfg.Database.DBName == "" {
		cfg.Database.DBName = "medwatch_compliance"
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = defaultMaxOpenConns
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = defaultMaxIdleConns
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = defaultConnMaxLifetime * time.Minute
	}
	if cfg.Redis.Address == "" {
		cfg.Redis.Address = defaultRedisAddress
	}
	if cfg.Scheduler.RunTimeout == 0 {
		cfg.Scheduler.RunTimeout = defaultRunTimeoutMin * time.Minute
	}
	if cfg.Scheduler.Concurrency == 0 {
		cfg.Scheduler.Concurrency = defaultConcurrency
	}
	if cfg.Scheduler.ErrorThreshold == 0 {
		cfg.Scheduler.ErrorThreshold = defaultErrorThreshold
	}
	if cfg.Scraper.UserAgent == "" {
		cfg.Scraper.UserAgent = defaultUserAgent
	}
	// Note: cfg.Redis.Enabled and cfg.Scheduler.Enabled default to false
	// (feature flags).
}

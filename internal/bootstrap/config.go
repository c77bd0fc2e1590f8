package bootstrap

import (
	"flag"
	"fmt"
	"os"

	"github.com/medwatch/compliance-manager/internal/config"
	"github.com/medwatch/compliance-manager/internal/logger"
)

// LoadConfig loads configuration. Uses the -config flag with a
// CONFIG_PATH environment fallback.
func LoadConfig() (*config.Config, error) {
	configPath := flag.String("config", defaultConfigPath(), "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func defaultConfigPath() string {
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}
	return "config.yml"
}

// CreateLogger creates a logger instance from configuration.
func CreateLogger(cfg *config.Config, version string) (logger.Logger, error) {
	log, err := logger.New(cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return log.With(
		logger.String("service", "compliance-manager"),
		logger.String("version", version),
	), nil
}

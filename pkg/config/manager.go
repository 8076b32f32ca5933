package config

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/relaykit/hubsink/pkg/logger"
)

const (
	// DefaultConfigPath is the default path to the config file
	DefaultConfigPath = "/etc/hubsink/config.yaml"
)

// ConfigManager is the interface for config management
type ConfigManager interface {
	// GetConfig returns the current config
	GetConfig(ctx context.Context) (Config, error)
}

// FileConfigManager implements the ConfigManager interface by reading from a
// file
type FileConfigManager struct {
	// configPath is the path to the config file
	configPath string

	// logger is the logger for the config manager
	logger *zap.SugaredLogger
}

// NewFileConfigManager creates a new FileConfigManager for the default path
func NewFileConfigManager() *FileConfigManager {
	return NewFileConfigManagerWithPath(DefaultConfigPath)
}

// NewFileConfigManagerWithPath creates a new FileConfigManager for the given
// path
func NewFileConfigManagerWithPath(path string) *FileConfigManager {
	return &FileConfigManager{
		configPath: path,
		logger:     logger.For(logger.ComponentConfigManager),
	}
}

// GetConfig returns the current config, always reading fresh from disk. The
// result has defaults applied and has been validated.
func (m *FileConfigManager) GetConfig(ctx context.Context) (Config, error) {
	if err := ctx.Err(); err != nil {
		return Config{}, err
	}

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, fmt.Errorf("config file does not exist: %s", m.configPath)
		}
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse unmarshals raw YAML into a validated config with defaults applied.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// CLIConfig holds specimenctl settings. Pipeline settings (NATS, database) are
// read from the shared service config so operators point the CLI at the same file.
type CLIConfig struct {
	GatewayURL    string `yaml:"gateway_url" mapstructure:"gateway_url"`
	ServiceConfig string `yaml:"service_config" mapstructure:"service_config"`
	Output        string `yaml:"output" mapstructure:"output"`
	path          string
}

// DefaultCLI returns a CLIConfig with default values.
func DefaultCLI() *CLIConfig {
	return &CLIConfig{
		GatewayURL: "http://localhost:8088",
		Output:     "table",
	}
}

// LoadCLI loads configuration for specimenctl.
// Uses $HOME/.specimenctl/config.yaml unless SPECIMENCTL_CONFIG_DIR is set, and
// SPECIMENCTL_* environment variables override the file.
func LoadCLI() (*CLIConfig, error) {
	v := viper.New()

	v.SetDefault("gateway_url", "http://localhost:8088")
	v.SetDefault("service_config", "")
	v.SetDefault("output", "table")

	configDir := os.Getenv("SPECIMENCTL_CONFIG_DIR")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to determine home directory: %w", err)
		}
		configDir = filepath.Join(home, ".specimenctl")
	}

	configPath := filepath.Join(configDir, "config.yaml")
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("SPECIMENCTL")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// the file is optional
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read %s: %w", configPath, err)
		}
	}

	cfg := DefaultCLI()
	cfg.path = configPath

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// Save writes the CLI config to disk.
func (c *CLIConfig) Save() error {
	if c.path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		c.path = filepath.Join(home, ".specimenctl", "config.yaml")
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0700); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(c.path, data, 0600)
}

// Path returns where the config was loaded from or will be saved to.
func (c *CLIConfig) Path() string {
	return c.path
}

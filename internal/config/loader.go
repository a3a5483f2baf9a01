package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"firetick/pkg/logging"
)

const (
	userConfigDir  = ".config/firetick"
	configFileName = "config.yaml"
)

// GetDefaultConfigPathOrPanic returns the per-user configuration directory.
func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}

	return filepath.Join(homeDir, userConfigDir)
}

// GetDefaultConfig returns the configuration defaults applied before the
// config file is read.
func GetDefaultConfig() Config {
	return Config{
		RedirectPort: 8085,
		Firestore: FirestoreConfig{
			Database: "(default)",
		},
	}
}

// LoadConfig loads config.yaml from the specified directory on top of the
// defaults. A missing file yields the defaults; a malformed file is an
// error.
func LoadConfig(configPath string) (Config, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logging.Info("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
			return config, nil
		}
		logging.Info("ConfigLoader", "Error loading config.yaml from %s: %s", configFilePath, err)
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
	}
	logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)
	return config, nil
}

package utils

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

var (
	logger = HarvestLogger("config")
)

//go:embed config_template.yml
var defaultConfig []byte

var DefaultHomePath = defaultHomePath()

func defaultHomePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yml"
	}
	return filepath.Join(home, ".harvester", "config.yml")
}

func InitConfig(configPath string) error {
	if _, err := os.Stat(configPath); err != nil {
		logger.Info().Str("path", configPath).Msg("creating default config")

		dirPath := filepath.Dir(configPath)
		if err = os.MkdirAll(dirPath, os.ModePerm); err != nil {
			logger.Error().Str("directories", dirPath).Msg("failed to create directories")
			panic(err)
		}

		f, err := os.Create(configPath)
		if err != nil {
			logger.Error().Str("config-path", configPath).Msg("failed to create config file")
			panic(err)
		}
		defer f.Close()

		_, err = f.Write(defaultConfig)
		if err != nil {
			logger.Error().Msg("failed to write default config")
		}
		return nil
	}
	return fmt.Errorf("already initialized")
}

func LoadConfig(configPath string) (*Config, error) {
	// Create default config if config doesn't exist
	if _, err := os.Stat(configPath); err != nil {
		logger.Info().Str("path", configPath).Msg("could not find config; creating with default values")

		dirPath := filepath.Dir(configPath)
		if err = os.MkdirAll(dirPath, os.ModePerm); err != nil {
			logger.Error().Str("directories", dirPath).Msg("failed to create directories")
			panic(err)
		}

		f, err := os.Create(configPath)
		if err != nil {
			logger.Error().Str("config-path", configPath).Msg("failed to create config file")
			panic(err)
		}
		defer f.Close()

		_, err = f.Write(defaultConfig)
		if err != nil {
			logger.Error().Msg("failed to write default config")
		}
		return nil, fmt.Errorf("created default config, restart process")
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvOverrides(&config)
	setLogLevel(config.LogLevel)

	return &config, nil
}

// applyEnvOverrides lets secrets and proxy settings come from the
// environment instead of living in the config file.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("ETHERSCAN_KEY"); v != "" {
		config.Etherscan.APIKey = v
	}
	if v := os.Getenv("TRON_KEY"); v != "" {
		config.Tronscan.APIKey = v
	}
	if config.Network.ProxyURL == "" {
		if v := os.Getenv("HTTPS_PROXY"); v != "" {
			config.Network.ProxyURL = v
		}
	}
	if config.Network.CABundle == "" {
		if v := os.Getenv("REQUESTS_CA_BUNDLE"); v != "" {
			config.Network.CABundle = v
		}
	}
}

func GetDestination(config *Config, name string) (Destination, error) {
	for _, dst := range config.Destinations {
		if dst.Name == name {
			return dst, nil
		}
	}
	return Destination{}, fmt.Errorf("destination %s not found", name)
}

func setLogLevel(logLevel string) {
	switch logLevel {
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "none":
		zerolog.SetGlobalLevel(zerolog.Disabled)
	}
}

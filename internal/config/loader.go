package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"mcpstudio/pkg/logging"
)

const (
	userConfigDir      = ".config/mcpstudio"
	configFileName     = "config.yaml"
	tomlConfigFileName = "config.toml"

	EnvCredentialsKey = "MCPSTUDIO_CREDENTIALS_KEY"
	EnvStorageDSN     = "MCPSTUDIO_STORAGE_DSN"
	EnvLogLevel       = "MCPSTUDIO_LOG_LEVEL"
)

func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}

	return filepath.Join(homeDir, userConfigDir)
}

// LoadConfig loads configuration from a single directory. config.yaml is
// preferred over config.toml; with neither present the defaults are used.
// Environment overrides are applied after the file and the result is
// validated.
func LoadConfig(configPath string) (Config, error) {
	config := Default()

	loaded, err := loadFile(configPath, &config)
	if err != nil {
		return Config{}, err
	}
	if !loaded {
		logging.Info("ConfigLoader", "No %s or %s found at %s, using defaults", configFileName, tomlConfigFileName, configPath)
	}

	applyEnv(&config)
	resolvePaths(configPath, &config)

	if err := config.Validate(); err != nil {
		return Config{}, &ConfigurationError{
			FilePath:  configPath,
			ErrorType: "validation",
			Message:   err.Error(),
			Err:       err,
		}
	}
	return config, nil
}

func loadFile(configPath string, config *Config) (bool, error) {
	yamlPath := filepath.Join(configPath, configFileName)
	data, err := os.ReadFile(yamlPath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, config); err != nil {
			return false, parseError(yamlPath, err)
		}
		logging.Info("ConfigLoader", "Loaded configuration from %s", yamlPath)
		return true, nil
	case !errors.Is(err, os.ErrNotExist):
		return false, readError(yamlPath, err)
	}

	tomlPath := filepath.Join(configPath, tomlConfigFileName)
	data, err = os.ReadFile(tomlPath)
	switch {
	case err == nil:
		meta, err := toml.Decode(string(data), config)
		if err != nil {
			return false, parseError(tomlPath, err)
		}
		for _, key := range meta.Undecoded() {
			logging.Warn("ConfigLoader", "Unknown key %q in %s", key.String(), tomlPath)
		}
		logging.Info("ConfigLoader", "Loaded configuration from %s", tomlPath)
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, readError(tomlPath, err)
	}
}

func applyEnv(config *Config) {
	if v := os.Getenv(EnvCredentialsKey); v != "" {
		config.Credentials.Key = v
	}
	if v := os.Getenv(EnvStorageDSN); v != "" {
		config.Storage.DSN = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		config.Logging.Level = v
	}
	for i := range config.OAuth.Integrations {
		integ := &config.OAuth.Integrations[i]
		if integ.ClientSecret == "" && integ.ClientSecretEnv != "" {
			integ.ClientSecret = os.Getenv(integ.ClientSecretEnv)
		}
	}
}

func resolvePaths(base string, config *Config) {
	resolve := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
	resolve(&config.Storage.Path)
	resolve(&config.Credentials.KeyFile)
	resolve(&config.Definitions.Dir)
}

func parseError(path string, err error) error {
	ce := &ConfigurationError{
		FilePath:  path,
		ErrorType: "parse",
		Message:   "malformed configuration",
		Details:   err.Error(),
		Err:       err,
	}
	var perr toml.ParseError
	if errors.As(err, &perr) {
		ce.Details = perr.ErrorWithPosition()
	}
	ce.Suggestions = []string{"check the file syntax and the spelling of duration values such as 30s"}
	return ce
}

func readError(path string, err error) error {
	logging.Info("ConfigLoader", "Error loading %s: %s", path, err)
	return &ConfigurationError{
		FilePath:  path,
		ErrorType: "read",
		Message:   "cannot read configuration",
		Details:   err.Error(),
		Err:       err,
	}
}

package app

import (
	"io"

	"mcpstudio/internal/config"
)

// Config holds the application configuration
type Config struct {
	// Debug forces debug logging regardless of the configured level.
	Debug bool

	// ConfigPath is the configuration directory.
	ConfigPath string

	// Version is reported to remote servers and in logs.
	Version string

	// LogOutput receives log lines. Nil means stderr.
	LogOutput io.Writer

	// Studio is the loaded configuration. NewApplication fills it from
	// ConfigPath when nil.
	Studio *config.Config
}

// NewConfig creates a new application configuration
func NewConfig(debug bool, configPath, version string) *Config {
	return &Config{
		Debug:      debug,
		ConfigPath: configPath,
		Version:    version,
	}
}

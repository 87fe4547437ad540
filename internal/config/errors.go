package config

import (
	"fmt"
	"strings"
)

// ConfigurationError describes a configuration file that could not be used.
type ConfigurationError struct {
	FilePath    string   `json:"filePath"`
	ErrorType   string   `json:"errorType"` // read, parse or validation
	Message     string   `json:"message"`
	Details     string   `json:"details,omitempty"`
	Suggestions []string `json:"suggestions,omitempty"`
	Err         error    `json:"-"`
}

func (ce *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s", ce.FilePath, ce.Message)
}

func (ce *ConfigurationError) Unwrap() error { return ce.Err }

// DetailedError returns a multi-line message with all context, suitable for
// printing to a terminal.
func (ce *ConfigurationError) DetailedError() string {
	parts := []string{
		fmt.Sprintf("Configuration Error in %s", ce.FilePath),
		fmt.Sprintf("  Type: %s", ce.ErrorType),
		fmt.Sprintf("  Error: %s", ce.Message),
	}
	if ce.Details != "" {
		parts = append(parts, fmt.Sprintf("  Details: %s", ce.Details))
	}
	if len(ce.Suggestions) > 0 {
		parts = append(parts, "  Suggestions:")
		for _, s := range ce.Suggestions {
			parts = append(parts, fmt.Sprintf("    - %s", s))
		}
	}
	return strings.Join(parts, "\n")
}

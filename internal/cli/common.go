package cli

import (
	"context"
	"fmt"
	"time"

	"mcpstudio/internal/client"
)

// CheckServerRunning probes the studio health endpoint.
func CheckServerRunning(ctx context.Context, c *client.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return ClassifyConnectionError(c.Health(ctx), c.BaseURL())
}

// FormatSuccess formats a success message for CLI output
func FormatSuccess(msg string) string {
	return fmt.Sprintf("✓ %s", msg)
}

// FormatWarning formats a warning message for CLI output
func FormatWarning(msg string) string {
	return fmt.Sprintf("⚠ %s", msg)
}

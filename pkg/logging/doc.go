// Package logging provides the subsystem-tagged logging facade used across
// mcpstudio.
//
// It wraps log/slog with a handful of package-level helpers so that call sites
// only name their subsystem and a formatted message:
//
//	logging.InitForCLI(logging.LevelInfo, os.Stderr)
//
//	logging.Info("Deployment", "Server %s deployed at %s", id, url)
//	logging.Error("Registry", err, "Failed to persist execution %s", recordID)
//
// Output is either slog text (the default) or JSON, chosen with Init. Every
// entry carries a "subsystem" attribute and, for Error, an "error" attribute.
// Secrets must never be passed as arguments; token types in internal/api
// already render as "[REDACTED]".
package logging

// Package config loads the mcpstudio configuration.
//
// Configuration is read from a single directory. The default directory is
// ~/.config/mcpstudio; commands accept --config-path to override it.
//
// # Configuration Directory
//
// The directory may contain:
//   - config.yaml (or config.toml) with the settings described by Config
//   - servers/ with declarative server definitions (see internal/definitions)
//   - master.key, generated on first start when no key is configured
//   - mcpstudio.db, the default SQLite registry
//
// Missing files are not an error: LoadConfig starts from Default, overlays
// the file, applies environment overrides and resolves relative paths
// against the configuration directory.
//
// # Environment
//
//   - MCPSTUDIO_CREDENTIALS_KEY: base64 master key, wins over credentials.keyFile
//   - MCPSTUDIO_STORAGE_DSN: overrides storage.dsn
//   - MCPSTUDIO_LOG_LEVEL: overrides logging.level
//
// An integration may name its client secret through clientSecretEnv rather
// than writing it into the file.
//
// # Example
//
//	server:
//	  port: 8090
//	storage:
//	  driver: sqlite
//	oauth:
//	  integrations:
//	    - name: drive
//	      clientId: mcpstudio
//	      clientSecretEnv: DRIVE_CLIENT_SECRET
//	      authUrl: https://accounts.example.com/o/oauth2/auth
//	      tokenUrl: https://accounts.example.com/o/oauth2/token
//	      scopes: [files.read]
//	      pkce: true
package config

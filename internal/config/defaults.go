package config

import (
	"time"
)

const (
	DefaultHost = "localhost"
	DefaultPort = 8090

	// DefaultOAuthCallbackPath is where providers redirect after consent.
	DefaultOAuthCallbackPath = "/oauth/callback"

	defaultDatabaseFile    = "mcpstudio.db"
	defaultKeyFile         = "master.key"
	defaultDefinitionsDir  = "servers"
	defaultEventBufferSize = 256
)

// Default returns the configuration used when no file overrides it.
// Relative paths are resolved against the configuration directory by Load.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Storage: StorageConfig{
			Driver:        "sqlite",
			Path:          defaultDatabaseFile,
			MongoDatabase: "mcpstudio",
		},
		Credentials: CredentialsConfig{
			KeyFile: defaultKeyFile,
		},
		OAuth: OAuthConfig{
			RefreshMargin: Duration(60 * time.Second),
			StateTTL:      Duration(10 * time.Minute),
		},
		Protocol: ProtocolConfig{
			ConnectTimeout: Duration(15 * time.Second),
			InvokeTimeout:  Duration(30 * time.Second),
			ProbeTimeout:   Duration(5 * time.Second),
		},
		Deployment: DeploymentConfig{
			Timeout:  Duration(60 * time.Second),
			Recovery: "fail",
		},
		Events: EventsConfig{
			BufferSize: defaultEventBufferSize,
		},
		Definitions: DefinitionsConfig{
			Dir:      defaultDefinitionsDir,
			Watch:    true,
			Debounce: Duration(300 * time.Millisecond),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

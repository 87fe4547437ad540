package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration of mcpstudio.
type Config struct {
	Server      ServerConfig      `yaml:"server" toml:"server"`
	Storage     StorageConfig     `yaml:"storage" toml:"storage"`
	Credentials CredentialsConfig `yaml:"credentials" toml:"credentials"`
	OAuth       OAuthConfig       `yaml:"oauth" toml:"oauth"`
	Protocol    ProtocolConfig    `yaml:"protocol" toml:"protocol"`
	Deployment  DeploymentConfig  `yaml:"deployment" toml:"deployment"`
	Events      EventsConfig      `yaml:"events" toml:"events"`
	Definitions DefinitionsConfig `yaml:"definitions" toml:"definitions"`
	Logging     LoggingConfig     `yaml:"logging" toml:"logging"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host string `yaml:"host,omitempty" toml:"host"`
	Port int    `yaml:"port,omitempty" toml:"port"`
	// PublicURL is the externally reachable base URL, used to build OAuth
	// redirect URLs. Defaults to http://host:port.
	PublicURL string `yaml:"publicUrl,omitempty" toml:"publicUrl"`
	// AllowedOrigins are accepted on the events websocket in addition to the
	// API's own origin.
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty" toml:"allowedOrigins"`
}

// Address is the listen address.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// BaseURL is PublicURL or the URL derived from the listen address.
func (s ServerConfig) BaseURL() string {
	if s.PublicURL != "" {
		return s.PublicURL
	}
	return "http://" + s.Address()
}

// StorageConfig selects the registry backend.
type StorageConfig struct {
	Driver        string `yaml:"driver,omitempty" toml:"driver"` // memory, sqlite, postgres, mongo
	Path          string `yaml:"path,omitempty" toml:"path"`
	DSN           string `yaml:"dsn,omitempty" toml:"dsn"`
	MongoURI      string `yaml:"mongoUri,omitempty" toml:"mongoUri"`
	MongoDatabase string `yaml:"mongoDatabase,omitempty" toml:"mongoDatabase"`
}

// CredentialsConfig locates the master key that seals stored credentials.
// Key (base64) wins over KeyFile; a missing KeyFile is generated.
type CredentialsConfig struct {
	Key     string `yaml:"key,omitempty" toml:"key"`
	KeyFile string `yaml:"keyFile,omitempty" toml:"keyFile"`
}

// OAuthConfig configures the OAuth lifecycle manager.
type OAuthConfig struct {
	RefreshMargin Duration            `yaml:"refreshMargin,omitempty" toml:"refreshMargin"`
	StateTTL      Duration            `yaml:"stateTTL,omitempty" toml:"stateTTL"`
	Integrations  []IntegrationConfig `yaml:"integrations,omitempty" toml:"integrations"`
}

// IntegrationConfig declares one OAuth provider.
type IntegrationConfig struct {
	Name         string `yaml:"name" toml:"name"`
	ClientID     string `yaml:"clientId" toml:"clientId"`
	ClientSecret string `yaml:"clientSecret,omitempty" toml:"clientSecret"`
	// ClientSecretEnv names an environment variable holding the secret.
	ClientSecretEnv string   `yaml:"clientSecretEnv,omitempty" toml:"clientSecretEnv"`
	AuthURL         string   `yaml:"authUrl" toml:"authUrl"`
	TokenURL        string   `yaml:"tokenUrl" toml:"tokenUrl"`
	RevokeURL       string   `yaml:"revokeUrl,omitempty" toml:"revokeUrl"`
	RedirectURL     string   `yaml:"redirectUrl,omitempty" toml:"redirectUrl"`
	Scopes          []string `yaml:"scopes,omitempty" toml:"scopes"`
	PKCE            bool     `yaml:"pkce,omitempty" toml:"pkce"`
	// AuthStyle is "header", "params" or empty for auto detection.
	AuthStyle string `yaml:"authStyle,omitempty" toml:"authStyle"`
}

// ProtocolConfig configures the protocol client.
type ProtocolConfig struct {
	ConnectTimeout Duration `yaml:"connectTimeout,omitempty" toml:"connectTimeout"`
	InvokeTimeout  Duration `yaml:"invokeTimeout,omitempty" toml:"invokeTimeout"`
	ProbeTimeout   Duration `yaml:"probeTimeout,omitempty" toml:"probeTimeout"`
}

// DeploymentConfig configures the deployment state machine.
type DeploymentConfig struct {
	Timeout Duration `yaml:"timeout,omitempty" toml:"timeout"`
	// Recovery is "fail" or "retry" for servers left DEPLOYING by a restart.
	Recovery string `yaml:"recovery,omitempty" toml:"recovery"`
}

// EventsConfig configures the event bus.
type EventsConfig struct {
	BufferSize int `yaml:"bufferSize,omitempty" toml:"bufferSize"`
}

// DefinitionsConfig configures declarative server definitions.
type DefinitionsConfig struct {
	Dir      string   `yaml:"dir,omitempty" toml:"dir"`
	Watch    bool     `yaml:"watch,omitempty" toml:"watch"`
	Debounce Duration `yaml:"debounce,omitempty" toml:"debounce"`
}

// LoggingConfig configures pkg/logging.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty" toml:"level"`
	Format string `yaml:"format,omitempty" toml:"format"` // text or json
}

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// ValidationError is a single invalid field.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (ve ValidationError) Error() string {
	if ve.Field == "" {
		return ve.Message
	}
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "no validation errors"
	}
	if len(ve) == 1 {
		return ve[0].Error()
	}

	var messages []string
	for _, err := range ve {
		messages = append(messages, err.Error())
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

func (ve ValidationErrors) HasErrors() bool {
	return len(ve) > 0
}

// Add adds a new validation error
func (ve *ValidationErrors) Add(field, message string, value ...interface{}) {
	var val interface{}
	if len(value) > 0 {
		val = value[0]
	}
	*ve = append(*ve, ValidationError{Field: field, Value: val, Message: message})
}

var (
	storageDrivers   = []string{"memory", "sqlite", "postgres", "mongo"}
	recoveryPolicies = []string{"fail", "retry"}
	logFormats       = []string{"text", "json"}
	logLevels        = []string{"debug", "info", "warn", "error"}
	authStyles       = []string{"", "header", "params"}
)

// Validate checks the configuration for values the services cannot start with.
func (c Config) Validate() error {
	var errs ValidationErrors

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs.Add("server.port", "must be between 0 and 65535", c.Server.Port)
	}
	if c.Server.PublicURL != "" {
		validateURL(&errs, "server.publicUrl", c.Server.PublicURL)
	}

	validateOneOf(&errs, "storage.driver", c.Storage.Driver, storageDrivers)
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.Path == "" {
			errs.Add("storage.path", "is required for the sqlite driver")
		}
	case "postgres":
		if c.Storage.DSN == "" {
			errs.Add("storage.dsn", "is required for the postgres driver")
		}
	case "mongo":
		if c.Storage.MongoURI == "" {
			errs.Add("storage.mongoUri", "is required for the mongo driver")
		}
	}

	if c.Credentials.Key == "" && c.Credentials.KeyFile == "" {
		errs.Add("credentials", "either key or keyFile must be set")
	}

	validatePositive(&errs, "oauth.refreshMargin", c.OAuth.RefreshMargin)
	validatePositive(&errs, "oauth.stateTTL", c.OAuth.StateTTL)
	seen := make(map[string]bool)
	for i, integ := range c.OAuth.Integrations {
		prefix := fmt.Sprintf("oauth.integrations[%d]", i)
		if integ.Name == "" {
			errs.Add(prefix+".name", "is required")
		} else if seen[integ.Name] {
			errs.Add(prefix+".name", "is duplicated", integ.Name)
		}
		seen[integ.Name] = true
		if integ.ClientID == "" {
			errs.Add(prefix+".clientId", "is required")
		}
		validateURL(&errs, prefix+".authUrl", integ.AuthURL)
		validateURL(&errs, prefix+".tokenUrl", integ.TokenURL)
		if integ.RevokeURL != "" {
			validateURL(&errs, prefix+".revokeUrl", integ.RevokeURL)
		}
		validateOneOf(&errs, prefix+".authStyle", integ.AuthStyle, authStyles)
	}

	validatePositive(&errs, "protocol.connectTimeout", c.Protocol.ConnectTimeout)
	validatePositive(&errs, "protocol.invokeTimeout", c.Protocol.InvokeTimeout)
	validatePositive(&errs, "protocol.probeTimeout", c.Protocol.ProbeTimeout)
	validatePositive(&errs, "deployment.timeout", c.Deployment.Timeout)
	validateOneOf(&errs, "deployment.recovery", c.Deployment.Recovery, recoveryPolicies)

	if c.Events.BufferSize <= 0 {
		errs.Add("events.bufferSize", "must be positive", c.Events.BufferSize)
	}

	validateOneOf(&errs, "logging.level", strings.ToLower(c.Logging.Level), logLevels)
	validateOneOf(&errs, "logging.format", c.Logging.Format, logFormats)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateOneOf(errs *ValidationErrors, field, value string, allowed []string) {
	if slices.Contains(allowed, value) {
		return
	}
	var shown []string
	for _, a := range allowed {
		if a != "" {
			shown = append(shown, a)
		}
	}
	errs.Add(field, "must be one of: "+strings.Join(shown, ", "), value)
}

func validatePositive(errs *ValidationErrors, field string, d Duration) {
	if d <= 0 {
		errs.Add(field, "must be a positive duration", d.String())
	}
}

func validateURL(errs *ValidationErrors, field, raw string) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		errs.Add(field, "must be an absolute URL", raw)
	}
}

package cli

import (
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"mcpstudio/internal/api"
)

// Exit codes returned by the mcpstudio binary.
const (
	ExitOK = 0
	// ExitFailure covers every error that is not an authorization problem.
	ExitFailure = 1
	// ExitAuthRequired means an integration account has to be (re)authorized
	// before the command can succeed.
	ExitAuthRequired = 2
)

// ConnectionErrorType categorizes why the studio endpoint could not be reached.
type ConnectionErrorType int

const (
	ConnectionErrorUnknown ConnectionErrorType = iota
	ConnectionErrorTLS
	ConnectionErrorNetwork
	ConnectionErrorTimeout
	ConnectionErrorDNS
)

// String returns a human-readable name for the connection error type.
func (t ConnectionErrorType) String() string {
	switch t {
	case ConnectionErrorTLS:
		return "TLS certificate error"
	case ConnectionErrorNetwork:
		return "Network error"
	case ConnectionErrorTimeout:
		return "Connection timeout"
	case ConnectionErrorDNS:
		return "DNS resolution error"
	default:
		return "Connection error"
	}
}

// ConnectionError indicates the CLI could not reach the studio.
type ConnectionError struct {
	Endpoint string
	Type     ConnectionErrorType
	Reason   error
}

func (e *ConnectionError) Error() string {
	msg := fmt.Sprintf("%s: cannot reach %s: %v", e.Type, e.Endpoint, e.Reason)
	switch e.Type {
	case ConnectionErrorNetwork:
		msg += "\n\nIs the studio running? Start it with:\n  mcpstudio serve"
	case ConnectionErrorTLS:
		msg += "\n\nCheck the certificate of the endpoint or use an http:// endpoint for local servers."
	case ConnectionErrorDNS:
		msg += "\n\nCheck the host name in --endpoint or " + EnvEndpoint + "."
	}
	return msg
}

func (e *ConnectionError) Unwrap() error { return e.Reason }

// ClassifyConnectionError wraps a transport level error into a
// ConnectionError. Errors returned by the studio API itself, and nil, are
// returned unchanged.
func ClassifyConnectionError(err error, endpoint string) error {
	if err == nil {
		return nil
	}
	var desc *api.ErrorDescriptor
	if errors.As(err, &desc) {
		return err
	}
	var urlErr *url.Error
	if !errors.As(err, &urlErr) {
		var opErr *net.OpError
		if !errors.As(err, &opErr) {
			return err
		}
	}

	ce := &ConnectionError{Endpoint: endpoint, Reason: err}
	var dnsErr *net.DNSError
	switch {
	case isTLSError(err):
		ce.Type = ConnectionErrorTLS
	case errors.As(err, &dnsErr):
		ce.Type = ConnectionErrorDNS
	case isTimeoutError(err):
		ce.Type = ConnectionErrorTimeout
	case isNetworkError(err.Error()):
		ce.Type = ConnectionErrorNetwork
	}
	return ce
}

func isTLSError(err error) bool {
	var certErr x509.CertificateInvalidError
	var hostErr x509.HostnameError
	var unknownAuthErr x509.UnknownAuthorityError
	var systemRootsErr x509.SystemRootsError
	if errors.As(err, &certErr) || errors.As(err, &hostErr) ||
		errors.As(err, &unknownAuthErr) || errors.As(err, &systemRootsErr) {
		return true
	}

	errStr := err.Error()
	for _, keyword := range []string{"x509:", "certificate", "tls:", "TLS handshake"} {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}
	return false
}

func isTimeoutError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded")
}

func isNetworkError(errStr string) bool {
	for _, keyword := range []string{
		"connection refused",
		"connection reset",
		"network is unreachable",
		"no route to host",
		"dial tcp",
		"connect:",
	} {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}
	return false
}

// ExitCode maps an error to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	if desc := api.Describe(err); desc.Kind == api.KindAuth && desc.Code == string(api.AuthReauthorizationRequired) {
		return ExitAuthRequired
	}
	return ExitFailure
}

// FormatError renders err for the terminal, adding guidance for errors the
// user can act on.
func FormatError(err error) string {
	var ce *ConnectionError
	if errors.As(err, &ce) {
		return "Error: " + ce.Error()
	}

	desc := api.Describe(err)
	var b strings.Builder
	fmt.Fprintf(&b, "Error: %s", desc.Message)

	switch desc.Kind {
	case api.KindValidation:
		if issues, ok := desc.Details["issues"].([]any); ok {
			for _, raw := range issues {
				issue, _ := raw.(map[string]any)
				path, _ := issue["path"].(string)
				msg, _ := issue["message"].(string)
				if path == "" {
					fmt.Fprintf(&b, "\n  - %s", msg)
				} else {
					fmt.Fprintf(&b, "\n  - %s: %s", path, msg)
				}
			}
		}
	case api.KindAuth:
		integration, _ := desc.Details["integration"].(string)
		account, _ := desc.Details["account"].(string)
		if desc.Code == string(api.AuthReauthorizationRequired) && integration != "" {
			b.WriteString("\n\nTo authorize, run:\n  mcpstudio auth login " + integration)
			if account != "" {
				b.WriteString(" --account " + account)
			}
		} else if desc.Retryable {
			b.WriteString("\n\nThe provider is temporarily unavailable, retry later.")
		}
	case api.KindNotFound:
		b.WriteString("\n\nList what exists with:\n  mcpstudio server list")
	default:
		if desc.Retryable {
			b.WriteString(" (retryable)")
		}
	}
	return b.String()
}

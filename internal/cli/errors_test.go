package cli

import (
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpstudio/internal/api"
	"mcpstudio/internal/schema"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"plain error", errors.New("boom"), ExitFailure},
		{"reauthorization descriptor", &api.ErrorDescriptor{Kind: api.KindAuth, Code: string(api.AuthReauthorizationRequired)}, ExitAuthRequired},
		{"wrapped auth error", fmt.Errorf("execute: %w", &api.AuthError{Integration: "github", Reason: api.AuthReauthorizationRequired}), ExitAuthRequired},
		{"transient auth", &api.ErrorDescriptor{Kind: api.KindAuth, Code: string(api.AuthTransient), Retryable: true}, ExitFailure},
		{"not found", &api.ErrorDescriptor{Kind: api.KindNotFound, Message: "server x not found"}, ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestFormatError(t *testing.T) {
	t.Run("reauthorization includes login command", func(t *testing.T) {
		err := &api.ErrorDescriptor{
			Kind:    api.KindAuth,
			Code:    string(api.AuthReauthorizationRequired),
			Message: "github credential for ada: reauthorization required",
			Details: map[string]any{"integration": "github", "account": "ada"},
		}
		msg := FormatError(err)
		assert.Contains(t, msg, "Error: github credential for ada")
		assert.Contains(t, msg, "mcpstudio auth login github --account ada")
	})

	t.Run("validation lists issues", func(t *testing.T) {
		err := api.Describe(&api.ValidationError{Subject: "tool", Issues: []schema.Issue{
			{Path: "count", Message: "expected integer"},
		}})
		msg := FormatError(err)
		assert.Contains(t, msg, "  - count: expected integer")
	})

	t.Run("plain error", func(t *testing.T) {
		assert.Equal(t, "Error: boom", FormatError(errors.New("boom")))
	})

	t.Run("connection error suggests serve", func(t *testing.T) {
		err := &ConnectionError{Endpoint: "http://localhost:8090", Type: ConnectionErrorNetwork, Reason: errors.New("connection refused")}
		assert.Contains(t, FormatError(err), "mcpstudio serve")
	})
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassifyConnectionError(t *testing.T) {
	endpoint := "http://localhost:8090"
	wrap := func(err error) error {
		return &url.Error{Op: "Get", URL: endpoint + "/healthz", Err: err}
	}

	tests := []struct {
		name string
		err  error
		want ConnectionErrorType
	}{
		{"refused", wrap(&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connect: connection refused")}), ConnectionErrorNetwork},
		{"dns", wrap(&net.DNSError{Err: "no such host", Name: "studio.invalid"}), ConnectionErrorDNS},
		{"timeout", wrap(timeoutErr{}), ConnectionErrorTimeout},
		{"tls", wrap(x509.UnknownAuthorityError{}), ConnectionErrorTLS},
		{"other", wrap(errors.New("weird")), ConnectionErrorUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ClassifyConnectionError(tt.err, endpoint)
			var ce *ConnectionError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.want, ce.Type)
			assert.Equal(t, endpoint, ce.Endpoint)
		})
	}

	t.Run("api errors pass through", func(t *testing.T) {
		desc := &api.ErrorDescriptor{Kind: api.KindTimeout, Message: "deploy timed out", Details: map[string]any{"timeout": time.Minute.String()}}
		assert.Same(t, desc, ClassifyConnectionError(desc, endpoint))
	})

	t.Run("nil", func(t *testing.T) {
		assert.NoError(t, ClassifyConnectionError(nil, endpoint))
	})
}

func TestConnectionErrorType_String(t *testing.T) {
	assert.Equal(t, "TLS certificate error", ConnectionErrorTLS.String())
	assert.Equal(t, "Connection error", ConnectionErrorUnknown.String())
}

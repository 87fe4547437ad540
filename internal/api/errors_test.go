package api

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"mcpstudio/internal/schema"
)

func TestDescribe(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		kind      ErrorKind
		code      string
		retryable bool
	}{
		{"validation", &ValidationError{Subject: "x", Issues: []schema.Issue{{Path: "a", Message: "bad"}}}, KindValidation, "", false},
		{"timeout", &TimeoutError{ServerID: "s", Operation: "tools/call", Timeout: time.Second}, KindTimeout, "", true},
		{"reauth", &AuthError{Reason: AuthReauthorizationRequired}, KindAuth, "reauthorization_required", false},
		{"transient auth", &AuthError{Reason: AuthTransient}, KindAuth, "transient", true},
		{"invocation", &InvocationError{Tool: "t", Message: "boom"}, KindInvocation, "", false},
		{"discovery", &DiscoveryError{Err: errors.New("x")}, KindDiscovery, "", true},
		{"connect", &ConnectError{Err: errors.New("refused")}, KindConnect, "", true},
		{"wrapped not found", fmt.Errorf("lookup: %w", NewNotFoundError("tool", "t")), KindNotFound, "", false},
		{"conflict", &ConflictError{ResourceType: "server", ResourceName: "s", Message: "busy"}, KindConflict, "", false},
		{"canceled", context.Canceled, KindCanceled, "", false},
		{"other", errors.New("disk on fire"), KindInternal, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := Describe(tt.err)
			assert.Equal(t, tt.kind, d.Kind)
			assert.Equal(t, tt.code, d.Code)
			assert.Equal(t, tt.retryable, d.Retryable)
			assert.NotEmpty(t, d.Message)
		})
	}

	assert.Nil(t, Describe(nil))
}

func TestDescribe_ValidationIssuesInDetails(t *testing.T) {
	d := Describe(&ValidationError{Subject: "p", Issues: []schema.Issue{{Path: "days", Message: "expected integer"}}})
	issues, ok := d.Details["issues"].([]any)
	if assert.True(t, ok) && assert.Len(t, issues, 1) {
		assert.Equal(t, "days", issues[0].(map[string]any)["path"])
	}
}

func TestErrorHelpers(t *testing.T) {
	wrapped := fmt.Errorf("refresh: %w", &AuthError{Integration: "drive", Account: "a", Reason: AuthReauthorizationRequired})
	assert.True(t, IsAuth(wrapped))
	assert.True(t, IsReauthorizationRequired(wrapped))
	assert.False(t, IsReauthorizationRequired(&AuthError{Reason: AuthTransient}))
	assert.True(t, IsTimeout(&TimeoutError{}))
	assert.True(t, IsConnect(fmt.Errorf("x: %w", &ConnectError{})))
	assert.True(t, IsConflict(&ConflictError{}))
	assert.False(t, IsNotFound(errors.New("nope")))
}

func TestConnectError_Unwrap(t *testing.T) {
	base := errors.New("dial tcp: refused")
	err := &ConnectError{ServerID: "s1", URL: "http://x", Err: base}
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "connection to server s1 at http://x failed: dial tcp: refused", err.Error())
}

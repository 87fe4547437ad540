package api

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"mcpstudio/internal/schema"
)

// NotFoundError represents a resource not found error with contextual information.
type NotFoundError struct {
	// ResourceType categorizes the missing resource (server, tool, execution, credential).
	ResourceType string

	// ResourceName is the identifier that was looked up.
	ResourceName string

	// Message overrides the default message when set.
	Message string
}

func (e *NotFoundError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s %s not found", e.ResourceType, e.ResourceName)
}

// IsNotFound checks if an error is or wraps a NotFoundError.
func IsNotFound(err error) bool {
	var notFoundErr *NotFoundError
	return errors.As(err, &notFoundErr)
}

// NewNotFoundError creates a new NotFoundError with the specified resource type and name.
//
// Example:
//
//	return api.NewNotFoundError("server", id)
func NewNotFoundError(resourceType, resourceName string) *NotFoundError {
	return &NotFoundError{
		ResourceType: resourceType,
		ResourceName: resourceName,
	}
}

// ConflictError reports an operation rejected because of the current state of
// a resource, such as deploying a server that is already DEPLOYING or
// registering a duplicate name.
type ConflictError struct {
	ResourceType string
	ResourceName string
	Message      string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.ResourceType, e.ResourceName, e.Message)
}

// IsConflict checks if an error is or wraps a ConflictError.
func IsConflict(err error) bool {
	var conflictErr *ConflictError
	return errors.As(err, &conflictErr)
}

// ValidationError is a parameter or configuration schema violation. It is
// raised before any network traffic and is never retryable.
type ValidationError struct {
	// Subject names what was validated, e.g. "parameters for tool getWeather".
	Subject string
	Issues  []schema.Issue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return fmt.Sprintf("invalid %s", e.Subject)
	}
	return fmt.Sprintf("invalid %s: %s", e.Subject, schema.FormatIssues(e.Issues))
}

// IsValidation checks if an error is or wraps a ValidationError.
func IsValidation(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

func sortIssues(issues []schema.Issue) {
	sort.SliceStable(issues, func(i, j int) bool { return issues[i].Path < issues[j].Path })
}

// ConnectError reports that a server could not be reached or the connection
// was lost.
type ConnectError struct {
	ServerID string
	URL      string
	Err      error
}

func (e *ConnectError) Error() string {
	if e.URL == "" {
		return fmt.Sprintf("connection to server %s failed: %v", e.ServerID, e.Err)
	}
	return fmt.Sprintf("connection to server %s at %s failed: %v", e.ServerID, e.URL, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// IsConnect checks if an error is or wraps a ConnectError.
func IsConnect(err error) bool {
	var connectErr *ConnectError
	return errors.As(err, &connectErr)
}

// TimeoutError reports that an operation exceeded its deadline. The
// connection it ran on is probed before it is used again.
type TimeoutError struct {
	ServerID  string
	Operation string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s on server %s timed out after %s", e.Operation, e.ServerID, e.Timeout)
}

// IsTimeout checks if an error is or wraps a TimeoutError.
func IsTimeout(err error) bool {
	var timeoutErr *TimeoutError
	return errors.As(err, &timeoutErr)
}

// DiscoveryError reports a failure while listing a server's capabilities.
type DiscoveryError struct {
	ServerID string
	Err      error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("capability discovery for server %s failed: %v", e.ServerID, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// InvocationError reports a failure returned by the remote tool.
type InvocationError struct {
	ServerID string
	Tool     string
	Message  string
	// Result carries the remote payload when the tool answered with isError.
	Result *ToolResult
	Err    error
}

func (e *InvocationError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("tool %s on server %s failed: %s", e.Tool, e.ServerID, msg)
}

func (e *InvocationError) Unwrap() error { return e.Err }

// AuthReason distinguishes the two OAuth failure modes.
type AuthReason string

const (
	// AuthReauthorizationRequired means the grant is gone (revoked, expired
	// refresh token, never authorized) and the user must consent again.
	AuthReauthorizationRequired AuthReason = "reauthorization_required"
	// AuthTransient means the provider could not be reached or answered with a
	// retryable failure; the stored grant is still believed valid.
	AuthTransient AuthReason = "transient"
)

// AuthError reports an OAuth credential failure.
type AuthError struct {
	Integration string
	Account     string
	Reason      AuthReason
	Err         error
}

func (e *AuthError) Error() string {
	base := fmt.Sprintf("credential for %s/%s", e.Integration, e.Account)
	switch e.Reason {
	case AuthReauthorizationRequired:
		base += ": reauthorization required"
	default:
		base += ": temporarily unavailable"
	}
	if e.Err != nil {
		base += ": " + e.Err.Error()
	}
	return base
}

func (e *AuthError) Unwrap() error { return e.Err }

// IsAuth checks if an error is or wraps an AuthError.
func IsAuth(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// IsReauthorizationRequired reports whether err means the user has to grant
// access again.
func IsReauthorizationRequired(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr) && authErr.Reason == AuthReauthorizationRequired
}

// SubscriberOverflowError is reported to an event subscriber that fell behind
// and was disconnected.
type SubscriberOverflowError struct {
	SubscriptionID string
	Pattern        string
	Buffer         int
}

func (e *SubscriberOverflowError) Error() string {
	return fmt.Sprintf("subscriber %s (%s) overflowed its buffer of %d events and was dropped", e.SubscriptionID, e.Pattern, e.Buffer)
}

// ErrorKind classifies an ErrorDescriptor.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindConnect    ErrorKind = "connect"
	KindTimeout    ErrorKind = "timeout"
	KindDiscovery  ErrorKind = "discovery"
	KindInvocation ErrorKind = "invocation"
	KindAuth       ErrorKind = "auth"
	KindNotFound   ErrorKind = "not_found"
	KindConflict   ErrorKind = "conflict"
	KindCanceled   ErrorKind = "canceled"
	KindInternal   ErrorKind = "internal"
)

// ErrorDescriptor is the persisted, serialisable description of a failure.
type ErrorDescriptor struct {
	Kind      ErrorKind      `json:"kind" bson:"kind"`
	Code      string         `json:"code,omitempty" bson:"code,omitempty"`
	Message   string         `json:"message" bson:"message"`
	Retryable bool           `json:"retryable" bson:"retryable"`
	Details   map[string]any `json:"details,omitempty" bson:"details,omitempty"`
}

func (d *ErrorDescriptor) Error() string {
	return fmt.Sprintf("%s: %s", d.Kind, d.Message)
}

// Describe converts any error into an ErrorDescriptor.
func Describe(err error) *ErrorDescriptor {
	if err == nil {
		return nil
	}
	var (
		validationErr *ValidationError
		timeoutErr    *TimeoutError
		authErr       *AuthError
		invocationErr *InvocationError
		discoveryErr  *DiscoveryError
		connectErr    *ConnectError
		notFoundErr   *NotFoundError
		conflictErr   *ConflictError
		descriptor    *ErrorDescriptor
	)

	switch {
	case errors.As(err, &descriptor):
		return descriptor
	case errors.As(err, &validationErr):
		issues := make([]any, len(validationErr.Issues))
		for i, is := range validationErr.Issues {
			issues[i] = map[string]any{"path": is.Path, "message": is.Message}
		}
		return &ErrorDescriptor{Kind: KindValidation, Message: err.Error(), Details: map[string]any{"issues": issues}}
	case errors.As(err, &timeoutErr):
		return &ErrorDescriptor{Kind: KindTimeout, Message: err.Error(), Retryable: true,
			Details: map[string]any{"timeout": timeoutErr.Timeout.String()}}
	case errors.As(err, &authErr):
		return &ErrorDescriptor{Kind: KindAuth, Code: string(authErr.Reason), Message: err.Error(),
			Retryable: authErr.Reason == AuthTransient,
			Details:   map[string]any{"integration": authErr.Integration, "account": authErr.Account}}
	case errors.As(err, &invocationErr):
		d := &ErrorDescriptor{Kind: KindInvocation, Message: err.Error()}
		if invocationErr.Result != nil {
			d.Details = map[string]any{"content": invocationErr.Result.Content}
		}
		return d
	case errors.As(err, &discoveryErr):
		return &ErrorDescriptor{Kind: KindDiscovery, Message: err.Error(), Retryable: true}
	case errors.As(err, &connectErr):
		return &ErrorDescriptor{Kind: KindConnect, Message: err.Error(), Retryable: true}
	case errors.As(err, &notFoundErr):
		return &ErrorDescriptor{Kind: KindNotFound, Message: err.Error()}
	case errors.As(err, &conflictErr):
		return &ErrorDescriptor{Kind: KindConflict, Message: err.Error()}
	case errors.Is(err, context.Canceled):
		return &ErrorDescriptor{Kind: KindCanceled, Message: err.Error()}
	}
	return &ErrorDescriptor{Kind: KindInternal, Message: err.Error()}
}

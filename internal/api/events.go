package api

import "time"

// EventType identifies the kind of payload carried by a bus event.
type EventType string

const (
	EventServerRegistered       EventType = "ServerRegistered"
	EventServerUpdated          EventType = "ServerUpdated"
	EventServerDeregistered     EventType = "ServerDeregistered"
	EventServerDeploying        EventType = "ServerDeploying"
	EventServerDeployed         EventType = "ServerDeployed"
	EventServerDeploymentFailed EventType = "ServerDeploymentFailed"
	EventServerDisconnected     EventType = "ServerDisconnected"
	EventServerUndeployed       EventType = "ServerUndeployed"
	EventToolExecutionStarted   EventType = "ToolExecutionStarted"
	EventToolExecutionCompleted EventType = "ToolExecutionCompleted"
	EventCredentialChanged      EventType = "CredentialChanged"
	EventSubscriberOverflow     EventType = "SubscriberOverflow"
)

// Topic helpers. Topics are dot separated so that subscribers can use
// wildcard patterns such as "servers.*" or "executions.>".
const (
	TopicSystem = "system"
)

// ServerTopic is the topic carrying lifecycle events of one server.
func ServerTopic(serverID string) string { return "servers." + serverID }

// ExecutionTopic is the topic carrying execution events of one server.
func ExecutionTopic(serverID string) string { return "executions." + serverID }

// CredentialTopic is the topic carrying credential changes for an integration.
func CredentialTopic(integration string) string { return "credentials." + integration }

// ServerStatePayload accompanies every server lifecycle event.
type ServerStatePayload struct {
	ServerID      string          `json:"serverId"`
	Name          string          `json:"name"`
	From          DeploymentState `json:"from,omitempty"`
	To            DeploymentState `json:"to"`
	DeploymentURL string          `json:"deploymentUrl,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Tools         int             `json:"tools,omitempty"`
	Resources     int             `json:"resources,omitempty"`
	Prompts       int             `json:"prompts,omitempty"`
}

// ExecutionPayload accompanies execution events.
type ExecutionPayload struct {
	ExecutionID string           `json:"executionId"`
	ServerID    string           `json:"serverId"`
	ToolID      string           `json:"toolId"`
	ToolName    string           `json:"toolName"`
	Status      ExecutionStatus  `json:"status,omitempty"`
	Error       *ErrorDescriptor `json:"error,omitempty"`
	DurationMS  int64            `json:"durationMs,omitempty"`
	StartedAt   time.Time        `json:"startedAt"`
}

// CredentialPayload accompanies credential events. It never carries tokens.
type CredentialPayload struct {
	Integration string `json:"integration"`
	Account     string `json:"account"`
	Action      string `json:"action"`
}

// OverflowPayload is the final event delivered to a dropped subscriber.
type OverflowPayload struct {
	SubscriptionID string `json:"subscriptionId"`
	Pattern        string `json:"pattern"`
	Buffer         int    `json:"buffer"`
}

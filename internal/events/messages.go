package events

import (
	"bytes"
	"sync"
	"text/template"

	"mcpstudio/internal/api"
)

// MessageTemplateEngine renders the human readable Message of an event from
// its payload.
type MessageTemplateEngine struct {
	mu        sync.RWMutex
	templates map[api.EventType]*template.Template
}

// NewMessageTemplateEngine creates an engine loaded with the default templates.
func NewMessageTemplateEngine() *MessageTemplateEngine {
	e := &MessageTemplateEngine{templates: make(map[api.EventType]*template.Template)}
	e.loadDefaultTemplates()
	return e
}

func (e *MessageTemplateEngine) loadDefaultTemplates() {
	defaults := map[api.EventType]string{
		api.EventServerRegistered:       "Server {{.Name}} registered",
		api.EventServerUpdated:          "Server {{.Name}} configuration updated",
		api.EventServerDeregistered:     "Server {{.Name}} deregistered",
		api.EventServerDeploying:        "Server {{.Name}} is deploying",
		api.EventServerDeployed:         "Server {{.Name}} deployed at {{.DeploymentURL}} ({{.Tools}} tools, {{.Resources}} resources, {{.Prompts}} prompts)",
		api.EventServerDeploymentFailed: "Server {{.Name}} deployment failed{{if .Reason}}: {{.Reason}}{{end}}",
		api.EventServerDisconnected:     "Server {{.Name}} lost its connection{{if .Reason}}: {{.Reason}}{{end}}",
		api.EventServerUndeployed:       "Server {{.Name}} undeployed",
		api.EventToolExecutionStarted:   "Tool {{.ToolName}} started",
		api.EventToolExecutionCompleted: "Tool {{.ToolName}} finished with {{.Status}}{{if .Error}}: {{.Error.Message}}{{end}}",
		api.EventCredentialChanged:      "Credential {{.Integration}}/{{.Account}} {{.Action}}",
		api.EventSubscriberOverflow:     "Subscription {{.SubscriptionID}} dropped after its buffer of {{.Buffer}} events filled",
	}
	for eventType, text := range defaults {
		e.templates[eventType] = template.Must(template.New(string(eventType)).Parse(text))
	}
}

// SetTemplate overrides the template for an event type.
func (e *MessageTemplateEngine) SetTemplate(eventType api.EventType, text string) error {
	tmpl, err := template.New(string(eventType)).Parse(text)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.templates[eventType] = tmpl
	e.mu.Unlock()
	return nil
}

// Render returns the message for the event type, or "" when no template
// exists or the payload does not fit it.
func (e *MessageTemplateEngine) Render(eventType api.EventType, payload any) string {
	e.mu.RLock()
	tmpl, ok := e.templates[eventType]
	e.mu.RUnlock()
	if !ok || payload == nil {
		return ""
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, payload); err != nil {
		return ""
	}
	return buf.String()
}

package cli

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"mcpstudio/internal/api"
	"mcpstudio/internal/events"
	"mcpstudio/pkg/logging"
)

var (
	stateDeployed    = color.New(color.FgGreen)
	stateDeploying   = color.New(color.FgYellow)
	stateFailed      = color.New(color.FgRed)
	stateNotDeployed = color.New(color.Faint)
)

// StateString colours a deployment state for terminal output.
func StateString(s api.DeploymentState) string {
	switch s {
	case api.StateDeployed:
		return stateDeployed.Sprint(s)
	case api.StateDeploying:
		return stateDeploying.Sprint(s)
	case api.StateFailed:
		return stateFailed.Sprint(s)
	default:
		return stateNotDeployed.Sprint(s)
	}
}

func statusString(s api.ExecutionStatus) string {
	if s == api.ExecutionSucceeded {
		return color.GreenString(string(s))
	}
	return color.RedString(string(s))
}

func age(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

func timestamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// Servers prints a list of servers.
func (p *Printer) Servers(servers []*api.Server) error {
	if ok, err := p.structured(servers); ok {
		return err
	}
	if len(servers) == 0 {
		p.empty("servers")
		return nil
	}
	headers := []string{"name", "state", "transport", "endpoint", "tools", "age"}
	if p.wide() {
		headers = append([]string{"id"}, append(headers, "error")...)
	}
	t := p.newTable(headers...)
	for _, s := range servers {
		row := table.Row{s.Name, StateString(s.State), string(s.Config.Transport), s.Config.Endpoint, len(s.Tools), age(s.CreatedAt)}
		if p.wide() {
			row = append(table.Row{s.ID}, append(row, orDash(s.LastError))...)
		}
		t.AppendRow(row)
	}
	t.Render()
	return nil
}

// Server prints one server with its capabilities.
func (p *Printer) Server(s *api.Server) error {
	if ok, err := p.structured(s); ok {
		return err
	}
	auth := ""
	if s.Config.Auth.Integration != "" {
		auth = s.Config.Auth.Integration
		if s.Config.Auth.Account != "" {
			auth += " (" + s.Config.Auth.Account + ")"
		}
	}
	p.keyValues([][2]string{
		{"Name:", s.Name},
		{"ID:", s.ID},
		{"Description:", s.Description},
		{"State:", StateString(s.State)},
		{"Transport:", string(s.Config.Transport)},
		{"Endpoint:", s.Config.Endpoint},
		{"WebSocket:", s.Config.WebSocketURL},
		{"Deployment URL:", s.DeploymentURL},
		{"Auth:", auth},
		{"Last error:", s.LastError},
		{"Created:", timestamp(s.CreatedAt)},
		{"Updated:", timestamp(s.UpdatedAt)},
	})
	if len(s.Tools) > 0 {
		fmt.Fprintln(p.Out)
		if err := p.Tools(s.Tools); err != nil {
			return err
		}
	}
	if len(s.Resources) > 0 {
		fmt.Fprintln(p.Out)
		if err := p.Resources(s.Resources); err != nil {
			return err
		}
	}
	if len(s.Prompts) > 0 {
		fmt.Fprintln(p.Out)
		return p.Prompts(s.Prompts)
	}
	return nil
}

// Tools prints a list of tools.
func (p *Printer) Tools(tools []api.Tool) error {
	if ok, err := p.structured(tools); ok {
		return err
	}
	if len(tools) == 0 {
		p.empty("tools")
		return nil
	}
	headers := []string{"tool", "source", "params", "description"}
	if p.wide() {
		headers = []string{"id", "tool", "source", "integration", "params", "description"}
	}
	t := p.newTable(headers...)
	for _, tool := range tools {
		if p.wide() {
			t.AppendRow(table.Row{logging.TruncateID(tool.ID), tool.Name, string(tool.Source), orDash(tool.Integration), paramList(tool.Parameters), tool.Description})
			continue
		}
		t.AppendRow(table.Row{tool.Name, string(tool.Source), len(tool.Parameters), truncate(tool.Description, 60)})
	}
	t.Render()
	return nil
}

// Tool prints one tool with its parameters.
func (p *Printer) Tool(tool *api.Tool) error {
	if ok, err := p.structured(tool); ok {
		return err
	}
	p.keyValues([][2]string{
		{"Name:", tool.Name},
		{"ID:", tool.ID},
		{"Source:", string(tool.Source)},
		{"Integration:", tool.Integration},
		{"Description:", tool.Description},
		{"Returns:", string(tool.Returns.Type)},
	})
	if len(tool.Parameters) == 0 {
		return nil
	}
	fmt.Fprintln(p.Out)
	t := p.newTable("parameter", "type", "required", "description")
	for _, param := range tool.Parameters {
		req := ""
		if param.Required {
			req = "yes"
		}
		t.AppendRow(table.Row{param.Name, string(param.Type), req, param.Description})
	}
	t.Render()
	return nil
}

func paramList(params []api.Parameter) string {
	if len(params) == 0 {
		return "-"
	}
	names := make([]string, len(params))
	for i, param := range params {
		names[i] = param.Name
		if param.Required {
			names[i] += "*"
		}
	}
	return strings.Join(names, ",")
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\n", " "))
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// Resources prints a list of resources.
func (p *Printer) Resources(resources []api.Resource) error {
	if ok, err := p.structured(resources); ok {
		return err
	}
	if len(resources) == 0 {
		p.empty("resources")
		return nil
	}
	t := p.newTable("resource", "uri", "type", "description")
	for _, r := range resources {
		t.AppendRow(table.Row{r.Name, r.URI, orDash(r.Type), truncate(r.Description, 60)})
	}
	t.Render()
	return nil
}

// Prompts prints a list of prompt templates.
func (p *Printer) Prompts(prompts []api.PromptTemplate) error {
	if ok, err := p.structured(prompts); ok {
		return err
	}
	if len(prompts) == 0 {
		p.empty("prompts")
		return nil
	}
	t := p.newTable("prompt", "variables", "description")
	for _, pr := range prompts {
		vars := make([]string, len(pr.Variables))
		for i, v := range pr.Variables {
			vars[i] = v.Name
		}
		t.AppendRow(table.Row{pr.Name, orDash(strings.Join(vars, ",")), truncate(pr.Description, 60)})
	}
	t.Render()
	return nil
}

// Execution prints the outcome of one tool execution. In table mode the
// result text is printed as is, followed by the record summary in wide mode.
func (p *Printer) Execution(r *api.ExecutionRecord) error {
	if ok, err := p.structured(r); ok {
		return err
	}
	if r.Error != nil {
		fmt.Fprintln(p.Out, FormatError(r.Error))
	} else if text := r.Result.Text(); text != "" {
		fmt.Fprintln(p.Out, text)
	} else if r.Result != nil && r.Result.Structured != nil {
		if err := (&Printer{Out: p.Out, Format: OutputFormatJSON}).print(r.Result.Structured); err != nil {
			return err
		}
	}
	if p.wide() {
		fmt.Fprintln(p.Out)
		p.keyValues([][2]string{
			{"Execution:", r.ID},
			{"Tool:", r.ToolName},
			{"Status:", statusString(r.Status())},
			{"Actor:", r.Actor},
			{"Started:", timestamp(r.StartedAt)},
			{"Duration:", r.Duration().String()},
		})
	}
	return nil
}

func (p *Printer) print(v any) error {
	_, err := p.structured(v)
	return err
}

// History prints a page of execution records.
func (p *Printer) History(page *api.ExecutionPage) error {
	if ok, err := p.structured(page); ok {
		return err
	}
	if len(page.Records) == 0 {
		p.empty("executions")
		return nil
	}
	headers := []string{"execution", "tool", "status", "duration", "started"}
	if p.wide() {
		headers = append(headers, "actor", "error")
	}
	t := p.newTable(headers...)
	for _, r := range page.Records {
		row := table.Row{r.ID, r.ToolName, statusString(r.Status()), r.Duration().Round(time.Millisecond).String(), timestamp(r.StartedAt)}
		if p.wide() {
			msg := ""
			if r.Error != nil {
				msg = truncate(r.Error.Message, 60)
			}
			row = append(row, orDash(r.Actor), orDash(msg))
		}
		t.AppendRow(row)
	}
	t.Render()
	if page.HasMore && !p.Quiet {
		fmt.Fprintf(p.Err, "Showing %d-%d of %d, use --offset %d for more.\n",
			page.Offset+1, page.Offset+len(page.Records), page.Total, page.Offset+len(page.Records))
	}
	return nil
}

// Credentials prints credential status entries.
func (p *Printer) Credentials(statuses []api.CredentialStatus) error {
	if ok, err := p.structured(statuses); ok {
		return err
	}
	if len(statuses) == 0 {
		p.empty("credentials")
		return nil
	}
	t := p.newTable("integration", "account", "status", "expires", "scopes")
	for _, s := range statuses {
		t.AppendRow(table.Row{s.Integration, s.Account, credentialState(s), orDash(timestamp(s.ExpiresAt)), orDash(strings.Join(s.Scopes, " "))})
	}
	t.Render()
	return nil
}

func credentialState(s api.CredentialStatus) string {
	switch {
	case s.Revoked:
		return color.RedString("revoked")
	case s.Connected:
		return color.GreenString("connected")
	default:
		return color.YellowString("disconnected")
	}
}

// Integrations prints the configured OAuth integration names.
func (p *Printer) Integrations(names []string) error {
	if ok, err := p.structured(names); ok {
		return err
	}
	if len(names) == 0 {
		p.empty("integrations")
		return nil
	}
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	t := p.newTable("integration")
	for _, n := range sorted {
		t.AppendRow(table.Row{n})
	}
	t.Render()
	return nil
}

// Event prints one streamed event. Table output is one line per event; JSON
// output is one compact object per line so it can be piped to jq.
func (p *Printer) Event(e events.Event) error {
	switch p.Format {
	case OutputFormatJSON:
		return json.NewEncoder(p.Out).Encode(e)
	case OutputFormatYAML:
		fmt.Fprintln(p.Out, "---")
		return p.print(e)
	}
	line := fmt.Sprintf("%s  %-24s %-26s %s", e.Timestamp.UTC().Format(time.RFC3339), e.Topic, e.Type, e.Message)
	if p.wide() {
		line = fmt.Sprintf("%6d  %s", e.Sequence, line)
	}
	_, err := fmt.Fprintln(p.Out, strings.TrimRight(line, " "))
	return err
}

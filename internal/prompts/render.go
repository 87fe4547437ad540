// Package prompts renders authored prompt templates.
//
// Templates use text/template syntax with the sprig function library, minus
// the functions that read the process environment.
package prompts

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"mcpstudio/internal/api"
	"mcpstudio/internal/schema"
)

func funcMap() template.FuncMap {
	fm := sprig.TxtFuncMap()
	delete(fm, "env")
	delete(fm, "expandenv")
	return fm
}

func parse(p *api.PromptTemplate) (*template.Template, error) {
	return template.New(p.Name).Funcs(funcMap()).Option("missingkey=error").Parse(p.Template)
}

// Check verifies that an authored prompt has a name, unique variables and a
// template that parses.
func Check(p *api.PromptTemplate) error {
	var issues []schema.Issue
	if strings.TrimSpace(p.Name) == "" {
		issues = append(issues, schema.Issue{Path: "name", Message: "is required"})
	}
	seen := make(map[string]bool, len(p.Variables))
	for i, v := range p.Variables {
		if v.Name == "" {
			issues = append(issues, schema.Issue{Path: fmt.Sprintf("variables[%d].name", i), Message: "is required"})
			continue
		}
		if seen[v.Name] {
			issues = append(issues, schema.Issue{Path: fmt.Sprintf("variables[%d].name", i), Message: fmt.Sprintf("duplicate variable %q", v.Name)})
		}
		seen[v.Name] = true
	}
	if strings.TrimSpace(p.Template) == "" {
		issues = append(issues, schema.Issue{Path: "template", Message: "is required"})
	} else if _, err := parse(p); err != nil {
		issues = append(issues, schema.Issue{Path: "template", Message: err.Error()})
	}
	if len(issues) > 0 {
		return &api.ValidationError{Subject: "prompt " + p.Name, Issues: issues}
	}
	return nil
}

// Render executes the prompt with vars. Missing required variables are
// reported together as a ValidationError; optional variables that are not
// supplied render as empty.
func Render(p *api.PromptTemplate, vars map[string]any) (string, error) {
	if p.Template == "" {
		return "", &api.ValidationError{Subject: "prompt " + p.Name, Issues: []schema.Issue{{
			Path: "template", Message: "prompt has no template; discovered prompts are rendered by their server",
		}}}
	}

	data := make(map[string]any, len(p.Variables)+len(vars))
	var issues []schema.Issue
	for _, v := range p.Variables {
		value, ok := vars[v.Name]
		switch {
		case ok:
			data[v.Name] = value
		case v.Required:
			issues = append(issues, schema.Issue{Path: v.Name, Message: "required variable is missing"})
		default:
			data[v.Name] = ""
		}
	}
	if len(issues) > 0 {
		return "", &api.ValidationError{Subject: "variables for prompt " + p.Name, Issues: issues}
	}
	for k, v := range vars {
		if _, declared := data[k]; !declared {
			data[k] = v
		}
	}

	tmpl, err := parse(p)
	if err != nil {
		return "", fmt.Errorf("parsing prompt %s: %w", p.Name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering prompt %s: %w", p.Name, err)
	}
	return buf.String(), nil
}

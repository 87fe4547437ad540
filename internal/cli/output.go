package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"gopkg.in/yaml.v3"
)

// OutputFormat selects how a Printer renders resources.
type OutputFormat string

const (
	OutputFormatTable OutputFormat = "table"
	OutputFormatWide  OutputFormat = "wide"
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatYAML  OutputFormat = "yaml"
)

// ParseOutputFormat validates s as an output format.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case OutputFormatTable, OutputFormatWide, OutputFormatJSON, OutputFormatYAML:
		return f, nil
	}
	return "", fmt.Errorf("unsupported output format %q (expected table, wide, json or yaml)", s)
}

// Printer renders command results to Out and progress or status lines to Err.
type Printer struct {
	Out       io.Writer
	Err       io.Writer
	Format    OutputFormat
	NoHeaders bool
	Quiet     bool
}

func (p *Printer) wide() bool { return p.Format == OutputFormatWide }

// structured writes v as JSON or YAML and reports whether it did.
func (p *Printer) structured(v any) (bool, error) {
	switch p.Format {
	case OutputFormatJSON:
		enc := json.NewEncoder(p.Out)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case OutputFormatYAML:
		// Round trip through JSON so the YAML keys follow the API field names.
		raw, err := json.Marshal(v)
		if err != nil {
			return true, err
		}
		var generic any
		if err := yaml.Unmarshal(raw, &generic); err != nil {
			return true, err
		}
		enc := yaml.NewEncoder(p.Out)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return true, err
		}
		return true, enc.Close()
	}
	return false, nil
}

// Success prints a confirmation line unless quiet.
func (p *Printer) Success(format string, args ...any) {
	if p.Quiet {
		return
	}
	fmt.Fprintln(p.Err, FormatSuccess(fmt.Sprintf(format, args...)))
}

// Warn prints a warning line. Warnings are shown in quiet mode too.
func (p *Printer) Warn(format string, args ...any) {
	fmt.Fprintln(p.Err, FormatWarning(fmt.Sprintf(format, args...)))
}

func (p *Printer) empty(kind string) {
	if p.Quiet || p.NoHeaders {
		return
	}
	fmt.Fprintf(p.Err, "No %s found.\n", kind)
}

// newTable returns a kubectl-style table writer: no borders, no column
// separators, upper case headers.
func (p *Printer) newTable(headers ...string) table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(p.Out)

	style := table.StyleDefault
	style.Name = "plain"
	style.Box.PaddingLeft = ""
	style.Box.PaddingRight = "   "
	style.Options = table.Options{}
	style.Format.Header = text.FormatUpper
	t.SetStyle(style)

	if !p.NoHeaders && len(headers) > 0 {
		row := make(table.Row, len(headers))
		for i, h := range headers {
			row[i] = h
		}
		t.AppendHeader(row)
	}
	return t
}

// keyValues renders a two column detail view without headers. Empty values
// are skipped.
func (p *Printer) keyValues(pairs [][2]string) {
	t := p.newTable()
	for _, kv := range pairs {
		if kv[1] == "" {
			continue
		}
		t.AppendRow(table.Row{kv[0], kv[1]})
	}
	t.Render()
}

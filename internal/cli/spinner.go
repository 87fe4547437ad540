package cli

import (
	"time"

	"github.com/briandowns/spinner"
)

// Progress shows a spinner on the error stream while fn runs. In quiet mode
// and for structured output fn runs without any decoration.
func (p *Printer) Progress(suffix string, fn func() error) error {
	if p.Quiet || p.Format == OutputFormatJSON || p.Format == OutputFormatYAML {
		return fn()
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(p.Err))
	s.Suffix = " " + suffix
	s.Start()
	defer s.Stop()
	return fn()
}

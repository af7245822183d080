// Package report aggregates per-package results into the outcome of a run.
package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"go.yaml.in/yaml/v3"

	"github.com/quara-dev/repo/pkg/models"
)

// Exit codes of the process.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitUsage   = 2
)

// Summary is the outcome of one run: every result plus the discovery
// errors met on the way. It is the only place pass or fail is decided.
type Summary struct {
	RunID           string                   `yaml:"run_id,omitempty"`
	Action          string                   `yaml:"action,omitempty"`
	OutputDir       string                   `yaml:"output_dir,omitempty"`
	Started         time.Time                `yaml:"started,omitempty"`
	Duration        time.Duration            `yaml:"duration"`
	Success         bool                     `yaml:"ok"`
	Counts          map[models.Status]int    `yaml:"counts"`
	Results         []models.Result          `yaml:"results"`
	DiscoveryErrors []*models.DiscoveryError `yaml:"-"`
}

// New builds a summary. results keep their order.
func New(results []models.Result, discoveryErrors []*models.DiscoveryError) *Summary {
	s := &Summary{
		Results:         results,
		DiscoveryErrors: discoveryErrors,
		Counts:          make(map[models.Status]int),
	}
	s.Success = len(discoveryErrors) == 0
	for _, r := range results {
		s.Counts[r.Status]++
		if !r.Status.OK() {
			s.Success = false
		}
	}
	return s
}

// OK reports whether the run succeeded: no discovery error and every
// package passed. An empty run passes.
func (s *Summary) OK() bool {
	return s.Success
}

// ExitCode returns the process exit code for the run.
func (s *Summary) ExitCode() int {
	if s.Success {
		return ExitOK
	}
	return ExitFailure
}

// Failed returns the results that did not pass, in run order.
func (s *Summary) Failed() []models.Result {
	var out []models.Result
	for _, r := range s.Results {
		if !r.Status.OK() {
			out = append(out, r)
		}
	}
	return out
}

// Artifacts returns every collected artifact, in run order.
func (s *Summary) Artifacts() []string {
	var out []string
	for _, r := range s.Results {
		out = append(out, r.Artifacts...)
	}
	return out
}

// RenderOptions control the human-readable summary.
type RenderOptions struct {
	// NoColor disables colors and styling.
	NoColor bool
	// ShowErrors prints the error text of failed packages.
	ShowErrors bool
}

var statusOrder = []models.Status{
	models.StatusPassed,
	models.StatusFailed,
	models.StatusError,
	models.StatusSkipped,
}

// Render writes one line per package and per discovery error, then a
// totals line.
func (s *Summary) Render(w io.Writer, opts RenderOptions) error {
	p := newPalette(w, opts.NoColor)

	width := len("package")
	for _, r := range s.Results {
		width = max(width, len(r.Name))
	}
	for _, e := range s.DiscoveryErrors {
		width = max(width, len(e.RelPath))
	}

	var b strings.Builder
	title := "Summary"
	if s.Action != "" {
		title = "Summary: " + s.Action
	}
	b.WriteString(p.header(title))
	b.WriteString("\n")

	for _, r := range s.Results {
		fmt.Fprintf(&b, "  %-*s  %-9s  %s  %s\n",
			width, r.Name, r.Action, p.status(r.Status), formatDuration(r.Duration))
		if opts.ShowErrors && r.Error != "" && !r.Status.OK() {
			fmt.Fprintf(&b, "  %-*s  %s\n", width, "", p.dim(r.Error))
		}
	}
	for _, e := range s.DiscoveryErrors {
		fmt.Fprintf(&b, "  %-*s  %-9s  %s  %s\n",
			width, e.RelPath, "discover", p.status(models.StatusError), p.dim(e.Err.Error()))
	}
	if artifacts := s.Artifacts(); len(artifacts) > 0 {
		fmt.Fprintf(&b, "\n  %d artifact(s) in %s\n", len(artifacts), s.OutputDir)
	}

	var parts []string
	for _, st := range statusOrder {
		if n := s.Counts[st]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, st))
		}
	}
	if n := len(s.DiscoveryErrors); n > 0 {
		parts = append(parts, fmt.Sprintf("%d discovery error(s)", n))
	}
	if len(parts) == 0 {
		parts = append(parts, "no packages")
	}
	verdict := p.ok("OK")
	if !s.Success {
		verdict = p.fail("FAILED")
	}
	fmt.Fprintf(&b, "\n%s  %s", verdict, strings.Join(parts, ", "))
	if s.Duration > 0 {
		fmt.Fprintf(&b, " in %s", formatDuration(s.Duration))
	}
	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// yamlDiscoveryError is the serialized form of a discovery error.
type yamlDiscoveryError struct {
	Path  string `yaml:"path"`
	Error string `yaml:"error"`
}

// WriteYAML writes the machine-readable report to path.
func (s *Summary) WriteYAML(path string) error {
	type doc struct {
		Summary         `yaml:",inline"`
		DiscoveryErrors []yamlDiscoveryError `yaml:"discovery_errors,omitempty"`
	}
	d := doc{Summary: *s}
	for _, e := range s.DiscoveryErrors {
		d.DiscoveryErrors = append(d.DiscoveryErrors, yamlDiscoveryError{Path: e.RelPath, Error: e.Err.Error()})
	}

	data, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create report directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "-"
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	default:
		return d.Round(100 * time.Millisecond).String()
	}
}

// palette styles summary text, or leaves it alone without colors.
type palette struct {
	noColor bool
	title   lipgloss.Style
	passed  *color.Color
	failed  *color.Color
	errored *color.Color
	skipped *color.Color
	faint   *color.Color
}

func newPalette(w io.Writer, noColor bool) *palette {
	r := lipgloss.NewRenderer(w)
	p := &palette{
		noColor: noColor,
		title: r.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1),
		passed:  color.New(color.FgGreen),
		failed:  color.New(color.FgRed, color.Bold),
		errored: color.New(color.FgMagenta, color.Bold),
		skipped: color.New(color.FgYellow),
		faint:   color.New(color.Faint),
	}
	if noColor {
		for _, c := range []*color.Color{p.passed, p.failed, p.errored, p.skipped, p.faint} {
			c.DisableColor()
		}
	}
	return p
}

func (p *palette) header(s string) string {
	if p.noColor {
		return s
	}
	return p.title.Render(s)
}

func (p *palette) status(st models.Status) string {
	label := fmt.Sprintf("%-7s", st)
	switch st {
	case models.StatusPassed:
		return p.passed.Sprint(label)
	case models.StatusFailed:
		return p.failed.Sprint(label)
	case models.StatusError:
		return p.errored.Sprint(label)
	default:
		return p.skipped.Sprint(label)
	}
}

func (p *palette) ok(s string) string   { return p.passed.Sprint(s) }
func (p *palette) fail(s string) string { return p.failed.Sprint(s) }
func (p *palette) dim(s string) string  { return p.faint.Sprint(s) }

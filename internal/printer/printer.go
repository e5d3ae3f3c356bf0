// Package printer renders CLI output: colored status lines, task tables and
// JSON.
package printer

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"taskhive/internal/model"
	"taskhive/internal/stats"
)

const (
	FormatTable = "table"
	FormatJSON  = "json"
)

var (
	green  = color.New(color.FgGreen)
	yellow = color.New(color.FgYellow)
	red    = color.New(color.FgRed, color.Bold)
	cyan   = color.New(color.FgCyan)
	faint  = color.New(color.Faint)
)

type Printer struct {
	out    io.Writer
	errOut io.Writer
	format string
}

// New returns a printer writing results to out and diagnostics to errOut.
// Any format other than json means table.
func New(out, errOut io.Writer, format string) *Printer {
	f := FormatTable
	if strings.EqualFold(strings.TrimSpace(format), FormatJSON) {
		f = FormatJSON
	}
	return &Printer{out: out, errOut: errOut, format: f}
}

func (p *Printer) JSONMode() bool { return p.format == FormatJSON }

// Success prints a green line with a checkmark. Suppressed in JSON mode so
// stdout stays parseable.
func (p *Printer) Success(format string, a ...any) {
	if p.JSONMode() {
		return
	}
	green.Fprintf(p.out, "✓ %s\n", fmt.Sprintf(format, a...))
}

func (p *Printer) Warning(format string, a ...any) {
	yellow.Fprintf(p.errOut, "! %s\n", fmt.Sprintf(format, a...))
}

func (p *Printer) Step(format string, a ...any) {
	cyan.Fprintf(p.errOut, "→ %s\n", fmt.Sprintf(format, a...))
}

// Error prints title, explanation and suggestions to errOut and returns a
// plain error carrying the title for cobra.
func (p *Printer) Error(title, explanation string, suggestions []string) error {
	red.Fprintf(p.errOut, "%s\n", title)
	if explanation != "" {
		fmt.Fprintf(p.errOut, "\n%s\n", explanation)
	}
	switch len(suggestions) {
	case 0:
	case 1:
		fmt.Fprintf(p.errOut, "\n%s\n", suggestions[0])
	default:
		fmt.Fprintf(p.errOut, "\nEither:\n")
		for i, s := range suggestions {
			fmt.Fprintf(p.errOut, "  %d. %s\n", i+1, s)
		}
	}
	return fmt.Errorf("%s", title)
}

func (p *Printer) JSON(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Tasks prints a task table, or the slice as JSON.
func (p *Printer) Tasks(tasks []model.Task) error {
	if p.JSONMode() {
		if tasks == nil {
			tasks = []model.Task{}
		}
		return p.JSON(tasks)
	}
	if len(tasks) == 0 {
		faint.Fprintln(p.out, "no tasks")
		return nil
	}
	tw := tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDONE\tPRIORITY\tCATEGORY\tDUE\tTITLE")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, check(t.IsCompleted), t.Priority, dash(t.Category), date(t.DueDate), t.Title)
	}
	return tw.Flush()
}

// Task prints one task as key/value lines.
func (p *Printer) Task(t model.Task) error {
	if p.JSONMode() {
		return p.JSON(t)
	}
	tw := tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "id\t%s\n", t.ID)
	fmt.Fprintf(tw, "title\t%s\n", t.Title)
	if t.Description != "" {
		fmt.Fprintf(tw, "description\t%s\n", t.Description)
	}
	fmt.Fprintf(tw, "priority\t%s\n", t.Priority)
	fmt.Fprintf(tw, "category\t%s\n", dash(t.Category))
	fmt.Fprintf(tw, "due\t%s\n", date(t.DueDate))
	fmt.Fprintf(tw, "done\t%s\n", check(t.IsCompleted))
	return tw.Flush()
}

func (p *Printer) Stats(s model.Stats) error {
	if p.JSONMode() {
		return p.JSON(s)
	}
	fmt.Fprintf(p.out, "total %d  completed %d  pending %d  (%.0f%% done)\n",
		s.Total, s.Completed, s.Pending, stats.CompletionRate(s)*100)
	return nil
}

func (p *Printer) Bulk(res model.BulkResult) error {
	if p.JSONMode() {
		return p.JSON(res)
	}
	switch {
	case res.UpdatedCount > 0:
		p.Success("updated %d task(s)", res.UpdatedCount)
	case res.DeletedCount > 0:
		p.Success("deleted %d task(s)", res.DeletedCount)
	case res.RestoredCount > 0:
		p.Success("restored %d task(s)", res.RestoredCount)
	case res.PurgedCount > 0:
		p.Success("purged %d task(s)", res.PurgedCount)
	default:
		p.Success("nothing to do")
	}
	return nil
}

func check(b bool) string {
	if b {
		return "x"
	}
	return " "
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func date(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.DateOnly)
}

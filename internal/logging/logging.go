// Package logging builds the leveled loggers used by the server, the ops tool
// and the CLI.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

type Options struct {
	Level  string // debug, info, warn, error
	Format string // text or json
	Prefix string
	Writer io.Writer
}

// New returns a logger configured from opts. Unknown levels fall back to info.
func New(opts Options) *log.Logger {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	formatter := log.TextFormatter
	if strings.EqualFold(strings.TrimSpace(opts.Format), "json") {
		formatter = log.JSONFormatter
	}

	return log.NewWithOptions(w, log.Options{
		Level:           ParseLevel(opts.Level),
		Formatter:       formatter,
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Prefix:          opts.Prefix,
	})
}

func ParseLevel(s string) log.Level {
	lvl, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(s)))
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// Discard drops everything. Tests use it.
func Discard() *log.Logger {
	return log.New(io.Discard)
}

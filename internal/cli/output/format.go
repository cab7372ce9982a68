// Package output renders command results as tables, JSON or YAML.
package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Format is an output format selected with -o.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// Formats lists the accepted -o values.
func Formats() []string {
	return []string{string(FormatTable), string(FormatJSON), string(FormatYAML)}
}

// ParseFormat parses a -o value. Empty selects the table format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "table":
		return FormatTable, nil
	case "json":
		return FormatJSON, nil
	case "yaml", "yml":
		return FormatYAML, nil
	}
	return "", fmt.Errorf("invalid output format %q (valid: %s)", s, strings.Join(Formats(), ", "))
}

func (f Format) String() string { return string(f) }

// Printer writes results in one format.
type Printer struct {
	out    io.Writer
	format Format
	color  bool
}

// NewPrinter creates a Printer. color enables ANSI status colors.
func NewPrinter(out io.Writer, format Format, color bool) *Printer {
	return &Printer{out: out, format: format, color: color}
}

// ForFile creates a Printer writing to f, with color only when f is a
// terminal.
func ForFile(f *os.File, format Format) *Printer {
	fd := f.Fd()
	return NewPrinter(f, format, isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd))
}

func (p *Printer) Format() Format     { return p.format }
func (p *Printer) Writer() io.Writer  { return p.out }
func (p *Printer) ColorEnabled() bool { return p.color }

// Print renders data. The table format needs a TableRenderer and falls back
// to JSON for anything else.
func (p *Printer) Print(data any) error {
	switch p.format {
	case FormatTable:
		if r, ok := data.(TableRenderer); ok {
			return PrintTable(p.out, r)
		}
		return PrintJSON(p.out, data)
	case FormatJSON:
		return PrintJSON(p.out, data)
	case FormatYAML:
		return PrintYAML(p.out, data)
	}
	return fmt.Errorf("unknown format: %s", p.format)
}

func (p *Printer) Println(args ...any) {
	_, _ = fmt.Fprintln(p.out, args...)
}

func (p *Printer) Printf(format string, args ...any) {
	_, _ = fmt.Fprintf(p.out, format, args...)
}

const (
	ansiRed    = "31"
	ansiGreen  = "32"
	ansiYellow = "33"
)

func (p *Printer) status(code, msg string) {
	if p.color {
		_, _ = fmt.Fprintf(p.out, "\033[%sm%s\033[0m\n", code, msg)
		return
	}
	_, _ = fmt.Fprintln(p.out, msg)
}

func (p *Printer) Success(msg string) { p.status(ansiGreen, msg) }
func (p *Printer) Error(msg string)   { p.status(ansiRed, msg) }
func (p *Printer) Warning(msg string) { p.status(ansiYellow, msg) }

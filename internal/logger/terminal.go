package logger

import (
	"os"

	"github.com/mattn/go-isatty"
)

// isTerminal reports whether f is attached to a terminal, in which case text
// output is colored.
func isTerminal(f *os.File) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

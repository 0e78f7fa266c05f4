package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
)

// statusf prints a status message to stderr unless quiet mode is set.
func statusf(quiet bool, format string, args ...any) {
	if !quiet {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}

// ANSI color codes used by colorState. Only applied when stdout is a
// terminal, so piped/redirected output stays plain text.
const (
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiRed    = "\x1b[31m"
	ansiReset  = "\x1b[0m"
)

// stdoutIsTerminal reports whether stdout is attached to a terminal,
// deciding whether status output gets colorized.
func stdoutIsTerminal() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// colorState wraps label in a color appropriate to its meaning
// (running/synced = green, paused/pending = yellow, blocked = red) when
// colorize is true, otherwise returns label unchanged.
func colorState(colorize bool, label, kind string) string {
	if !colorize {
		return label
	}

	var code string

	switch kind {
	case "good":
		code = ansiGreen
	case "warn":
		code = ansiYellow
	case "bad":
		code = ansiRed
	default:
		return label
	}

	return code + label + ansiReset
}

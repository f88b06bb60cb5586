package ui

import (
	"os"

	"golang.org/x/term"
)

// IsAgentMode reports whether output is being consumed by an agent rather
// than a human (ACE_AGENT_MODE set). Agent mode skips markdown rendering and
// decoration so the text stays parseable.
func IsAgentMode() bool {
	return os.Getenv("ACE_AGENT_MODE") != ""
}

// ShouldUseColor decides whether styled output is appropriate.
// Precedence: NO_COLOR always wins, CLICOLOR_FORCE forces color on,
// CLICOLOR=0 turns it off, otherwise color requires a TTY.
func ShouldUseColor() bool {
	if _, set := os.LookupEnv("NO_COLOR"); set {
		return false
	}
	if os.Getenv("CLICOLOR_FORCE") != "" && os.Getenv("CLICOLOR_FORCE") != "0" {
		return true
	}
	if os.Getenv("CLICOLOR") == "0" {
		return false
	}
	return term.IsTerminal(int(os.Stdout.Fd()))
}

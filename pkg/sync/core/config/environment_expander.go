package config

import (
	"os"
)

// EnvironmentExpander expands environment variable placeholders within an
// input byte slice.
type EnvironmentExpander interface {
	// Expand replaces ${VAR} or $VAR placeholders in the input and returns the
	// expanded byte slice.
	Expand(input []byte) ([]byte, error)
}

// OsEnvironmentExpander expands placeholders from the process environment.
type OsEnvironmentExpander struct{}

// NewOsEnvironmentExpander creates a new OsEnvironmentExpander.
func NewOsEnvironmentExpander() *OsEnvironmentExpander {
	return &OsEnvironmentExpander{}
}

// Expand replaces ${VAR} or $VAR with the value of the environment variable
// VAR. Unset variables expand to the empty string.
func (e *OsEnvironmentExpander) Expand(input []byte) ([]byte, error) {
	return []byte(os.ExpandEnv(string(input))), nil
}

// Package ports defines the collaborators the installer core consumes:
// process execution, the directory control plane, the service manager,
// the PKI collaborator, payload application and the replication peer.
package ports

import (
	"context"
	"fmt"
	"strings"
)

// Command describes one external process invocation.
type Command struct {
	Argv  []string
	Env   map[string]string
	Stdin string
	// Secrets are substrings that must never reach a log line.
	Secrets []string
}

// String renders the command line with secrets masked.
func (c Command) String() string {
	line := strings.Join(c.Argv, " ")
	for _, s := range c.Secrets {
		if s != "" {
			line = strings.ReplaceAll(line, s, "********")
		}
	}
	return line
}

// CommandResult represents the result of executing a process.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Success returns true if the command exited with code 0.
func (r CommandResult) Success() bool {
	return r.ExitCode == 0
}

// CommandRunner executes external processes synchronously and waits for
// them to exit. A non-zero exit status is reported as *ExternalToolError.
type CommandRunner interface {
	Run(ctx context.Context, cmd Command) (CommandResult, error)
}

// ExternalToolError is returned when a collaborator process exits non-zero.
type ExternalToolError struct {
	Command  string
	ExitCode int
	Stderr   string
}

// Error implements error.
func (e *ExternalToolError) Error() string {
	msg := fmt.Sprintf("command %q exited with status %d", e.Command, e.ExitCode)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

// NewExternalToolError builds an ExternalToolError for cmd and its result.
func NewExternalToolError(cmd Command, result CommandResult) *ExternalToolError {
	return &ExternalToolError{
		Command:  cmd.String(),
		ExitCode: result.ExitCode,
		Stderr:   result.Stderr,
	}
}

// Package mocks provides test doubles for the ports.
package mocks

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/felixgeelhaar/dsinstall/internal/ports"
)

// CommandRunner is a thread-safe test double for ports.CommandRunner.
// Unregistered commands succeed with an empty result unless Strict is set.
type CommandRunner struct {
	Strict bool

	mu      sync.Mutex
	results map[string][]ports.CommandResult
	calls   []ports.Command
}

// NewCommandRunner creates a new CommandRunner mock.
func NewCommandRunner() *CommandRunner {
	return &CommandRunner{
		results: make(map[string][]ports.CommandResult),
	}
}

// AddResult queues a result for argv. Queued results are consumed in order;
// the last one repeats.
func (m *CommandRunner) AddResult(argv []string, result ports.CommandResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := buildKey(argv)
	m.results[key] = append(m.results[key], result)
}

// AddFailure queues a non-zero exit for argv.
func (m *CommandRunner) AddFailure(argv []string, exitCode int, stderr string) {
	m.AddResult(argv, ports.CommandResult{ExitCode: exitCode, Stderr: stderr})
}

// Run records the command and returns its queued result.
func (m *CommandRunner) Run(_ context.Context, cmd ports.Command) (ports.CommandResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, cmd)

	key := buildKey(cmd.Argv)
	queue, ok := m.results[key]
	if !ok {
		if m.Strict {
			return ports.CommandResult{}, fmt.Errorf("no mock result for command: %v", cmd.Argv)
		}
		return ports.CommandResult{}, nil
	}

	result := queue[0]
	if len(queue) > 1 {
		m.results[key] = queue[1:]
	}
	if !result.Success() {
		return result, ports.NewExternalToolError(cmd, result)
	}
	return result, nil
}

// Calls returns all recorded invocations.
func (m *CommandRunner) Calls() []ports.Command {
	m.mu.Lock()
	defer m.mu.Unlock()

	calls := make([]ports.Command, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// Ran reports whether a command whose argv starts with prefix was run.
func (m *CommandRunner) Ran(prefix ...string) bool {
	for _, c := range m.Calls() {
		if strings.HasPrefix(buildKey(c.Argv), buildKey(prefix)) {
			return true
		}
	}
	return false
}

func buildKey(argv []string) string {
	return strings.Join(argv, "\x00")
}

var _ ports.CommandRunner = (*CommandRunner)(nil)

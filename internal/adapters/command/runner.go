// Package command provides the process runner used for instance creation,
// removal and the credential utilities.
package command

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/felixgeelhaar/dsinstall/internal/ports"
)

// RealRunner executes processes and waits for them to exit.
type RealRunner struct {
	logger ports.Logger
}

// NewRealRunner creates a new RealRunner.
func NewRealRunner(logger ports.Logger) *RealRunner {
	return &RealRunner{logger: logger}
}

// Run executes cmd. A non-zero exit is returned as *ports.ExternalToolError
// together with the captured result.
func (r *RealRunner) Run(ctx context.Context, cmd ports.Command) (ports.CommandResult, error) {
	if len(cmd.Argv) == 0 {
		return ports.CommandResult{}, errors.New("empty command")
	}

	r.logger.Debug(ctx, "running command", ports.F("cmd", cmd.String()))

	c := exec.CommandContext(ctx, cmd.Argv[0], cmd.Argv[1:]...)
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), envList(cmd.Env)...)
	}
	if cmd.Stdin != "" {
		c.Stdin = strings.NewReader(cmd.Stdin)
	}

	var stdout, stderr strings.Builder
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	result := ports.CommandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			r.logger.Debug(ctx, "command failed",
				ports.F("cmd", cmd.String()),
				ports.F("exit_code", result.ExitCode))
			return result, ports.NewExternalToolError(cmd, result)
		}
		return result, err
	}

	return result, nil
}

func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	list := make([]string, 0, len(keys))
	for _, k := range keys {
		list = append(list, k+"="+env[k])
	}
	return list
}

var _ ports.CommandRunner = (*RealRunner)(nil)

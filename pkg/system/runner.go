package system

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// CommandRunner executes host commands. Implementations must be safe for
// concurrent use.
type CommandRunner interface {
	// Run executes a command and returns its combined output.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands on the local host via os/exec.
type ExecRunner struct {
	// ExtraEnv is appended to the inherited environment for every command.
	ExtraEnv []string
}

// NewExecRunner creates a runner with a non-interactive Debian frontend, so
// apt and dpkg never prompt during provisioning.
func NewExecRunner() *ExecRunner {
	return &ExecRunner{
		ExtraEnv: []string{"DEBIAN_FRONTEND=noninteractive"},
	}
}

// Run executes the command, returning combined stdout/stderr. On failure the
// error includes a trailing slice of the output for diagnostics.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), r.ExtraEnv...)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("%s %s: %w (output: %s)",
			name, strings.Join(args, " "), err, tail(output, 512))
	}
	return output, nil
}

// tail returns at most n trailing bytes of output, trimmed.
func tail(output []byte, n int) string {
	s := strings.TrimSpace(string(output))
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

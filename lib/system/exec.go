package system

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/onkernel/iconograph/lib/logger"
)

// Runner executes external tools
type Runner interface {
	// Run executes name with args and returns combined output
	Run(ctx context.Context, name string, args ...string) ([]byte, error)

	// RunInteractive executes name attached to the process's stdio
	RunInteractive(ctx context.Context, name string, args ...string) error
}

// ExecRunner runs commands on the host with os/exec
type ExecRunner struct{}

// NewExecRunner creates a host command runner
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	log := logger.FromContext(ctx)
	log.InfoContext(ctx, "exec", "command", name, "args", args)

	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return output, fmt.Errorf("%w: %s %s: %w, output: %s",
			ErrCommandFailed, name, strings.Join(args, " "), err, bytes.TrimSpace(output))
	}
	return output, nil
}

func (r *ExecRunner) RunInteractive(ctx context.Context, name string, args ...string) error {
	log := logger.FromContext(ctx)
	log.InfoContext(ctx, "exec interactive", "command", name, "args", args)

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrCommandFailed, name, err)
	}
	return nil
}

// Chroot returns the argument list to run args inside root with chroot(8)
func Chroot(root string, args ...string) (string, []string) {
	return "chroot", append([]string{root}, args...)
}

// Package command runs the external CLIs (helm, kubectl) the engine drives.
package command

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/openfroyo/deployengine/pkg/telemetry"
)

// ErrTimeout is returned when a command exceeds its timeout.
var ErrTimeout = errors.New("command timed out")

// Command is one invocation of an external binary.
type Command struct {
	// Binary is the executable path or name.
	Binary string

	// Args are passed verbatim, no shell is involved.
	Args []string

	// Env is the full process environment. Nil inherits the current one.
	Env []string

	// Dir is the working directory.
	Dir string

	// Stdin is written to the process standard input.
	Stdin []byte

	// Timeout bounds the invocation; zero means only ctx applies.
	Timeout time.Duration
}

// String renders the command line for logs.
func (c Command) String() string {
	return strings.TrimSpace(c.Binary + " " + strings.Join(c.Args, " "))
}

// Result is the outcome of a command that ran to completion.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration
}

// Success reports whether the command exited with status 0.
func (r *Result) Success() bool {
	return r != nil && r.ExitCode == 0
}

// Runner executes commands. A non-zero exit is reported through Result,
// not as an error; errors mean the command could not run or timed out.
type Runner interface {
	Run(ctx context.Context, cmd Command) (*Result, error)
}

// ExecRunner runs commands as local processes.
type ExecRunner struct {
	logger *telemetry.Logger
}

// NewExecRunner creates a runner logging through logger.
func NewExecRunner(logger *telemetry.Logger) *ExecRunner {
	if logger == nil {
		logger = telemetry.NewNopLogger()
	}
	return &ExecRunner{logger: logger}
}

// Run executes cmd and captures both output streams.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (*Result, error) {
	if cmd.Binary == "" {
		return nil, fmt.Errorf("command binary is required")
	}

	if cmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.Timeout)
		defer cancel()
	}

	c := exec.CommandContext(ctx, cmd.Binary, cmd.Args...)
	c.Env = cmd.Env
	c.Dir = cmd.Dir
	if cmd.Stdin != nil {
		c.Stdin = bytes.NewReader(cmd.Stdin)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	r.logger.WithField("command", cmd.String()).Debug("executing command")

	start := time.Now()
	err := c.Run()
	result := &Result{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	r.logger.WithFields(map[string]interface{}{
		"command":    cmd.String(),
		"stdout_len": len(result.Stdout),
		"stderr_len": len(result.Stderr),
		"duration":   result.Duration.String(),
	}).Debug("command completed")

	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return result, fmt.Errorf("%w: %s after %s", ErrTimeout, cmd.Binary, result.Duration.Round(time.Second))
		}
		return result, ctxErr
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return nil, fmt.Errorf("failed to execute %s: %w", cmd.Binary, err)
	}
	return result, nil
}

// Package runner executes external tools (docker compose, mkcert, package
// managers) with a bounded timeout and a single retry. Synchronous Run calls
// return the captured result; Start returns an asynchronous task handle with
// a separate output stream, which is how the lifecycle supervisor consumes
// long-running compose invocations.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// DefaultTimeout bounds a single external invocation. Hung subprocesses are
// killed when the deadline passes.
const DefaultTimeout = 5 * time.Minute

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrToolUnavailable means the requested tool is not on PATH.
	ErrToolUnavailable = errors.New("tool unavailable")

	// ErrInvocationFailed means the tool ran but exited nonzero.
	ErrInvocationFailed = errors.New("tool invocation failed")
)

// InvocationError carries the tool name, exit code and captured stderr of a
// failed invocation.
type InvocationError struct {
	Tool     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("%s exited %d: %s", e.Tool, e.ExitCode, truncate(e.Stderr, 512))
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// =============================================================================
// Command / Result
// =============================================================================

// Command names an external tool invocation.
type Command struct {
	Name string
	Args []string
	Dir  string            // working directory, empty = inherit
	Env  map[string]string // appended to the inherited environment
}

// Result is the captured outcome of an invocation.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner executes external commands. The interface exists so the pipeline,
// certificate provisioner and supervisor can be tested against a fake.
type Runner interface {
	// LookPath reports whether the named tool is available.
	LookPath(name string) (string, error)
	// Run executes a command synchronously, honoring the runner's timeout.
	Run(ctx context.Context, cmd Command) (Result, error)
	// Start launches a command asynchronously and returns its task handle.
	Start(ctx context.Context, cmd Command) *Task
}

// =============================================================================
// ExecRunner
// =============================================================================

// ExecRunner runs commands via os/exec.
type ExecRunner struct {
	Timeout time.Duration
	Logger  *slog.Logger
}

// NewExecRunner creates a runner with the given per-invocation timeout.
// A zero timeout falls back to DefaultTimeout.
func NewExecRunner(timeout time.Duration, logger *slog.Logger) *ExecRunner {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ExecRunner{Timeout: timeout, Logger: logger.With("component", "runner")}
}

// LookPath reports whether the named tool is on PATH.
func (r *ExecRunner) LookPath(name string) (string, error) {
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrToolUnavailable, name)
	}
	return path, nil
}

// Run executes a command synchronously and captures its output.
// A nonzero exit returns the Result alongside an *InvocationError.
func (r *ExecRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = mergedEnv(cmd.Env)

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	start := time.Now()
	err := c.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
		}
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		r.Logger.Debug("command failed",
			"tool", cmd.Name, "exit_code", res.ExitCode, "duration", time.Since(start))
		return res, &InvocationError{
			Tool:     cmd.Name,
			ExitCode: res.ExitCode,
			Stderr:   res.Stderr,
			Err:      errors.Join(ErrInvocationFailed, err),
		}
	}

	r.Logger.Debug("command completed", "tool", cmd.Name, "duration", time.Since(start))
	return res, nil
}

// RunWithRetry runs a command and retries exactly once on failure, unless the
// context itself was cancelled. External tools in this domain fail transiently
// often enough (daemon warming up, registry hiccup) that a single bounded
// retry is worth it; anything more belongs to the caller.
func RunWithRetry(ctx context.Context, r Runner, cmd Command) (Result, error) {
	res, err := r.Run(ctx, cmd)
	if err == nil || ctx.Err() != nil {
		return res, err
	}
	return r.Run(ctx, cmd)
}

// mergedEnv appends extra variables to the inherited environment.
func mergedEnv(extra map[string]string) []string {
	if len(extra) == 0 {
		return nil // exec uses the inherited environment
	}
	env := os.Environ()
	for k, v := range extra {
		env = append(env, k+"="+v)
	}
	return env
}

package runner

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"sync"
)

// =============================================================================
// Asynchronous Task Handle
// =============================================================================

// Task is the handle for an asynchronously started command: a result channel
// plus a separate stream of output lines. Both channels are closed when the
// command finishes; Done delivers exactly one TaskResult.
type Task struct {
	// Lines receives interleaved stdout/stderr lines while the command runs.
	Lines <-chan string
	// Done receives the final result once the command exits.
	Done <-chan TaskResult
}

// TaskResult is the terminal outcome of an asynchronous command.
type TaskResult struct {
	Result Result
	Err    error
}

// Start launches a command asynchronously. Output lines are streamed on the
// task's Lines channel as they arrive; the full captured output lands in the
// final Result. Cancelling the context kills the process.
func (r *ExecRunner) Start(ctx context.Context, cmd Command) *Task {
	lines := make(chan string, 64)
	done := make(chan TaskResult, 1)
	task := &Task{Lines: lines, Done: done}

	ctx, cancel := context.WithTimeout(ctx, r.Timeout)

	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.Dir = cmd.Dir
	c.Env = mergedEnv(cmd.Env)

	stdout, err := c.StdoutPipe()
	if err != nil {
		cancel()
		failTask(lines, done, err)
		return task
	}
	stderr, err := c.StderrPipe()
	if err != nil {
		cancel()
		failTask(lines, done, err)
		return task
	}

	if err := c.Start(); err != nil {
		cancel()
		failTask(lines, done, errors.Join(ErrInvocationFailed, err))
		return task
	}

	var stdoutBuf, stderrBuf bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(2)
	go streamLines(&wg, stdout, &stdoutBuf, lines)
	go streamLines(&wg, stderr, &stderrBuf, lines)

	go func() {
		defer cancel()
		wg.Wait()
		err := c.Wait()
		close(lines)

		res := Result{Stdout: stdoutBuf.String(), Stderr: stderrBuf.String()}
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
			done <- TaskResult{Result: res, Err: &InvocationError{
				Tool:     cmd.Name,
				ExitCode: res.ExitCode,
				Stderr:   res.Stderr,
				Err:      errors.Join(ErrInvocationFailed, err),
			}}
		} else {
			done <- TaskResult{Result: res}
		}
		close(done)
	}()

	return task
}

// failTask settles a task that never started.
func failTask(lines chan string, done chan TaskResult, err error) {
	close(lines)
	done <- TaskResult{Result: Result{ExitCode: -1}, Err: err}
	close(done)
}

// streamLines copies lines from rc to both the capture buffer and the
// streaming channel.
func streamLines(wg *sync.WaitGroup, rc io.Reader, buf *bytes.Buffer, lines chan<- string) {
	defer wg.Done()
	scanner := bufio.NewScanner(rc)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		buf.WriteString(line)
		buf.WriteByte('\n')
		select {
		case lines <- line:
		default:
			// Slow consumer: keep the capture buffer, drop the stream line.
		}
	}
}

// Package cmdrun executes external commands with streamed output and
// process-group cleanup. Stage actions route all package-manager, build and
// database invocations through here so output lands in the shared progress
// stream and interrupts kill the whole process tree.
package cmdrun

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// MaxScannerBuffer is the maximum size of a single output line.
const MaxScannerBuffer = 1024 * 1024

// ExitError reports a command that finished with a non-zero status.
// The numeric status is propagated as the process exit code on stage failure.
type ExitError struct {
	Code int
	Cmd  string
	Err  error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Cmd, e.Code)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Status extracts the exit status from an error chain. Non-exit errors
// (command not found, context canceled) map to 1.
func Status(err error) int {
	var xerr *ExitError
	if errors.As(err, &xerr) {
		return xerr.Code
	}
	var execErr *exec.ExitError
	if errors.As(err, &execErr) {
		if c := execErr.ExitCode(); c > 0 {
			return c
		}
	}
	return 1
}

// Runner abstracts command execution for testing.
type Runner interface {
	// Run executes a command, streaming merged stdout/stderr line by line.
	Run(ctx context.Context, name string, args ...string) error
	// Output executes a command and returns its combined output.
	Output(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner is the default Runner using os/exec. Sink, when set, receives
// each output line; otherwise output is discarded after capture.
type ExecRunner struct {
	Sink func(line string)
}

// Run starts the command in its own process group, merges stderr into stdout
// and streams lines to Sink. On context cancellation the whole process group
// is killed, not just the direct child.
func (r *ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context already canceled: %w", err)
	}

	// exec.Command, not CommandContext: cancellation is handled via process
	// group kill so descendants don't outlive the run
	cmd := exec.Command(name, args...) //nolint:noctx // process group handles cancellation
	setupProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}

	cleanup := newProcessGroupCleanup(cmd, ctx.Done())

	scanner := bufio.NewScanner(stdout)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, MaxScannerBuffer)
	for scanner.Scan() {
		if r.Sink != nil {
			r.Sink(scanner.Text())
		}
	}
	scanErr := scanner.Err()

	if err := cleanup.Wait(); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("%s interrupted: %w", name, ctx.Err())
		}
		return &ExitError{Code: exitCode(err), Cmd: cmdString(name, args), Err: err}
	}
	if scanErr != nil {
		return fmt.Errorf("read %s output: %w", name, scanErr)
	}
	return nil
}

// Output executes the command and returns combined stdout/stderr.
func (r *ExecRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return out.String(), fmt.Errorf("%s interrupted: %w", name, ctx.Err())
		}
		return out.String(), &ExitError{Code: exitCode(err), Cmd: cmdString(name, args), Err: err}
	}
	return out.String(), nil
}

func exitCode(err error) int {
	var execErr *exec.ExitError
	if errors.As(err, &execErr) {
		if c := execErr.ExitCode(); c > 0 {
			return c
		}
	}
	return 1
}

func cmdString(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}

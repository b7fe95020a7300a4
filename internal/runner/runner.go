// Package runner executes external tools on behalf of release steps.
//
// Steps depend on the Runner interface only, so tests replace it with a spy
// that records invocations and returns scripted results.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	ferrors "git.home.luguber.info/inful/forkpack/internal/foundation/errors"
	"git.home.luguber.info/inful/forkpack/internal/logfields"
)

// ErrBinaryNotFound is returned when the command's executable is not on PATH.
var ErrBinaryNotFound = errors.New("executable not found")

// ErrNonZeroExit matches any ExitError.
var ErrNonZeroExit = errors.New("command exited with non-zero status")

// ExitError reports a process that ran but exited with a non-zero status.
type ExitError struct {
	Command string
	Code    int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s: exit code %d", e.Command, e.Code)
}

// ExitCode returns the process status.
func (e *ExitError) ExitCode() int { return e.Code }

// Is makes errors.Is(err, ErrNonZeroExit) hold for every ExitError.
func (e *ExitError) Is(target error) bool { return target == ErrNonZeroExit }

// Command is a single external invocation.
type Command struct {
	Args []string // argv; Args[0] is the executable
	Dir  string   // working directory; empty means the current directory
	Env  []string // extra KEY=VALUE pairs appended to the process environment
}

// String renders the command line for logs and plans.
func (c Command) String() string {
	return strings.Join(c.Args, " ")
}

// Result captures the outcome of a finished process.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner runs a command to completion. A non-nil error means the command
// failed to start or exited non-zero; Result is still populated when the
// process ran.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// ExecRunner runs commands with os/exec. Output is captured and, when the
// writers are set, mirrored live so long builds show progress.
//
// A started process is never killed: cancelling ctx only prevents new
// commands from starting. The pipeline observes the cancellation before the
// next step, so a Gradle build is not left half written.
type ExecRunner struct {
	Stdout io.Writer
	Stderr io.Writer
}

// NewExecRunner returns a runner that mirrors process output to the given writers.
func NewExecRunner(stdout, stderr io.Writer) *ExecRunner {
	return &ExecRunner{Stdout: stdout, Stderr: stderr}
}

func (r *ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	if len(c.Args) == 0 {
		return Result{ExitCode: -1}, ferrors.CommandError("empty command").Build()
	}
	if err := ctx.Err(); err != nil {
		return Result{ExitCode: -1}, err
	}
	bin, err := exec.LookPath(c.Args[0])
	if err != nil {
		return Result{ExitCode: -1}, ferrors.CommandError(fmt.Sprintf("executable not found: %s", c.Args[0])).
			WithCause(fmt.Errorf("%w: %w", ErrBinaryNotFound, err)).
			WithContext("command", c.String()).
			Build()
	}

	// #nosec G204 -- argv comes from the operator's configuration
	cmd := exec.Command(bin, c.Args[1:]...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = tee(&stdout, r.Stdout)
	cmd.Stderr = tee(&stderr, r.Stderr)

	slog.Debug("Running command", logfields.Command(c.String()), logfields.Path(c.Dir))
	runErr := cmd.Run()

	res := Result{ExitCode: 0, Stdout: stdout.String(), Stderr: stderr.String()}
	if res.Stdout != "" {
		slog.Debug("command stdout", logfields.Command(c.Args[0]), slog.String("output", res.Stdout))
	}
	if res.Stderr != "" && runErr != nil {
		slog.Warn("command stderr", logfields.Command(c.Args[0]), slog.String("error_output", res.Stderr))
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, &ExitError{Command: c.String(), Code: res.ExitCode}
		}
		res.ExitCode = -1
		return res, ferrors.CommandError(fmt.Sprintf("failed to run %s", c.Args[0])).
			WithCause(runErr).
			WithContext("command", c.String()).
			Build()
	}
	return res, nil
}

func tee(buf *bytes.Buffer, w io.Writer) io.Writer {
	if w == nil {
		return buf
	}
	return io.MultiWriter(buf, w)
}

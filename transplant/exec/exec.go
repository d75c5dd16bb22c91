// Package exec runs external commands with separately
// captured output streams and a bounded lifetime.
package exec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Result describes one finished command invocation.
// Stdout and Stderr are captured separately so callers
// can inspect diagnostic output without re-running the
// command.
type Result struct {
	// Cmd is the rendered command line.
	Cmd string
	// ExitCode is the process exit status. -1 when the
	// process did not run or was killed.
	ExitCode int
	// Stdout is the captured standard output.
	Stdout string
	// Stderr is the captured standard error.
	Stderr string
	// Timeout reports whether the context deadline
	// killed the process.
	Timeout bool
}

// Run executes the named command in dir. Pass empty dir
// to use the current working directory. extraEnv entries
// (KEY=value) are appended to the parent environment;
// nil leaves the environment untouched. The command is
// killed when ctx expires and the result is marked as a
// timeout.
func Run(
	ctx context.Context,
	dir string,
	extraEnv []string,
	name string,
	arg ...string,
) (Result, error) {
	const errCtx = "executing command"

	res := Result{
		Cmd:      name + " " + strings.Join(arg, " "),
		ExitCode: -1,
	}

	slog.Info(
		"executing",
		"cmd", name,
		"args", strings.Join(arg, " "),
		"dir", dir,
	)

	cmd := exec.CommandContext(ctx, name, arg...)
	if dir != "" {
		cmd.Dir = dir
	}

	if extraEnv != nil {
		cmd.Env = append(os.Environ(), extraEnv...)
	}

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	res.Stdout = stdout.String()
	res.Stderr = stderr.String()

	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	if err != nil {
		res.Timeout = errors.Is(
			ctx.Err(), context.DeadlineExceeded,
		)

		slog.Info(
			"command failed",
			"cmd", res.Cmd,
			"exit_code", res.ExitCode,
			"timeout", res.Timeout,
		)

		return res, fmt.Errorf(
			"%s: %s: %w", errCtx, res.Cmd, err,
		)
	}

	return res, nil
}

package hg

import (
	"errors"
	"fmt"
	"strings"
)

// CommandError describes a failed hg invocation. It carries
// everything an operator needs to diagnose the failure without
// access to the server host.
type CommandError struct {
	// Cmd is the rendered command line.
	Cmd string
	// ExitCode is the hg process exit status.
	ExitCode int
	// Stdout is the captured standard output.
	Stdout string
	// Stderr is the captured standard error.
	Stderr string
	// Timeout reports whether the invocation was killed
	// by the per-command deadline.
	Timeout bool
}

// Error returns a single-line summary of the failure.
func (e *CommandError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("hg command timed out: %s", e.Cmd)
	}

	return fmt.Sprintf(
		"hg command failed: %s: exit %d: %s",
		e.Cmd, e.ExitCode, strings.TrimSpace(e.Stderr),
	)
}

// AsCommandError unwraps err into a *CommandError.
func AsCommandError(err error) (*CommandError, bool) {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr, true
	}

	return nil, false
}

// Mercurial gives no structured signal for these outcomes, so
// detection matches on stderr text. The exact wording is tied to
// the hg version in use.
const (
	unknownRevisionMarker  = "unknown revision"
	emptyRevisionSetMarker = "empty revision set"
)

// IsUnknownRevision reports whether err is hg telling us a
// revision does not exist. This is the expected outcome when
// probing for a commit, not a fault.
func IsUnknownRevision(err error) bool {
	return stderrContains(err, unknownRevisionMarker)
}

// IsEmptyRevisionSet reports whether err is hg telling us a
// revision set query matched nothing. strip on a clean mirror
// ends this way.
func IsEmptyRevisionSet(err error) bool {
	return stderrContains(err, emptyRevisionSetMarker)
}

func stderrContains(err error, marker string) bool {
	cmdErr, ok := AsCommandError(err)
	if !ok {
		return false
	}

	return strings.Contains(cmdErr.Stderr, marker)
}

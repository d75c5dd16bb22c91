package hg

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/byte4ever/transplant/transplant/exec"
)

// Runner executes a single external command. The default runner
// shells out through the exec package; tests substitute a
// scripted implementation.
type Runner interface {
	Run(
		ctx context.Context,
		dir string,
		extraEnv []string,
		name string,
		arg ...string,
	) (exec.Result, error)
}

// execRunner is the production Runner.
type execRunner struct{}

func (execRunner) Run(
	ctx context.Context,
	dir string,
	extraEnv []string,
	name string,
	arg ...string,
) (exec.Result, error) {
	return exec.Run(ctx, dir, extraEnv, name, arg...)
}

// Client drives a Mercurial binary. The zero value is not
// usable; create with New.
type Client struct {
	// Binary is the hg executable name or path.
	Binary string

	// CollapseExt is the filesystem path of the collapse
	// extension, enabled per-call on Collapse.
	CollapseExt string

	// Timeout bounds each hg invocation. Zero disables the
	// per-command deadline.
	Timeout time.Duration

	runner Runner
}

// Option customises a Client.
type Option func(*Client)

// WithRunner substitutes the command runner. Used by tests.
func WithRunner(r Runner) Option {
	return func(c *Client) { c.runner = r }
}

// WithCollapseExt sets the collapse extension path.
func WithCollapseExt(path string) Option {
	return func(c *Client) { c.CollapseExt = path }
}

// WithTimeout sets the per-invocation deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.Timeout = d }
}

// New creates a Client driving the "hg" binary.
func New(opts ...Option) *Client {
	cli := &Client{
		Binary: "hg",
		runner: execRunner{},
	}

	for _, opt := range opts {
		opt(cli)
	}

	return cli
}

// run invokes hg and converts failures into *CommandError.
func (c *Client) run(
	ctx context.Context,
	dir string,
	extraEnv []string,
	arg ...string,
) (exec.Result, error) {
	if c.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	res, err := c.runner.Run(
		ctx, dir, extraEnv, c.Binary, arg...,
	)
	if err != nil {
		return res, &CommandError{
			Cmd:      res.Cmd,
			ExitCode: res.ExitCode,
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
			Timeout:  res.Timeout,
		}
	}

	return res, nil
}

// Clone clones the remote repository into dir.
func (c *Client) Clone(
	ctx context.Context,
	remote string,
	dir string,
) error {
	_, err := c.run(ctx, "", nil, "clone", remote, dir)

	return err
}

// Pull pulls new changesets into the repository at dir. When
// update is true the working copy is updated to the new tip.
func (c *Client) Pull(
	ctx context.Context,
	dir string,
	update bool,
) error {
	args := []string{"pull"}
	if update {
		args = append(args, "--update")
	}

	_, err := c.run(ctx, dir, nil, args...)

	return err
}

// Update updates the working copy at dir to the tip. When clean
// is true uncommitted changes are discarded.
func (c *Client) Update(
	ctx context.Context,
	dir string,
	clean bool,
) error {
	args := []string{"update"}
	if clean {
		args = append(args, "--clean")
	}

	_, err := c.run(ctx, dir, nil, args...)

	return err
}

// Push pushes the repository at dir to its default remote. A
// repository with nothing to push is not an error: hg signals
// that case with exit status 1 and no other output.
func (c *Client) Push(ctx context.Context, dir string) error {
	_, err := c.run(ctx, dir, nil, "push")
	if err != nil {
		cmdErr, ok := AsCommandError(err)
		if ok && cmdErr.ExitCode == 1 && !cmdErr.Timeout {
			return nil
		}

		return err
	}

	return nil
}

// Tip returns the identifier of the working copy parent at dir.
// A trailing "+" (dirty working copy marker) is stripped.
func (c *Client) Tip(
	ctx context.Context,
	dir string,
) (string, error) {
	res, err := c.run(ctx, dir, nil, "identify", "--id")
	if err != nil {
		return "", err
	}

	id := strings.TrimSpace(res.Stdout)

	return strings.TrimSuffix(id, "+"), nil
}

// Transplant applies the given revisions from sourceDir onto the
// repository at dir, in order. filterScript, when non-empty, is
// passed to hg as the changeset filter; extraEnv entries are
// visible to it. Returns the raw transplant output.
func (c *Client) Transplant(
	ctx context.Context,
	dir string,
	revs []string,
	sourceDir string,
	filterScript string,
	extraEnv []string,
) (string, error) {
	args := []string{
		"--config", "extensions.transplant=",
		"transplant",
		"--source", sourceDir,
	}

	if filterScript != "" {
		args = append(args, "--filter", filterScript)
	}

	args = append(args, revs...)

	res, err := c.run(ctx, dir, extraEnv, args...)
	if err != nil {
		return "", err
	}

	return res.Stdout, nil
}

// Strip removes the changesets matched by revset from the
// repository at dir. Matching nothing is reported as a
// *CommandError for which IsEmptyRevisionSet returns true.
func (c *Client) Strip(
	ctx context.Context,
	dir string,
	revset string,
	noBackup bool,
) error {
	args := []string{
		"--config", "extensions.strip=",
		"strip",
	}

	if noBackup {
		args = append(args, "--no-backup")
	}

	args = append(args, "--rev", revset)

	_, err := c.run(ctx, dir, nil, args...)

	return err
}

// Purge deletes untracked and ignored files from the working
// copy at dir.
func (c *Client) Purge(ctx context.Context, dir string) error {
	_, err := c.run(
		ctx, dir, nil,
		"--config", "extensions.purge=",
		"purge", "--all", "--abort-on-err",
	)

	return err
}

// Collapse squashes the changesets matched by revset into a
// single changeset. An empty message keeps the collapse
// extension's default squash message.
func (c *Client) Collapse(
	ctx context.Context,
	dir string,
	revset string,
	message string,
) error {
	args := []string{
		"--config",
		fmt.Sprintf("extensions.collapse=%s", c.CollapseExt),
		"collapse",
		"--rev", revset,
	}

	if message != "" {
		args = append(args, "--message", message)
	}

	_, err := c.run(ctx, dir, nil, args...)

	return err
}

package engine

import (
	"context"
	"log/slog"

	"github.com/byte4ever/transplant/transplant/hg"
)

// runCleanup rolls the destination mirror back to a clean
// state: revert the working copy, purge untracked files, strip
// anything not yet pushed upstream. The pass is idempotent and
// its own failures never change the operation outcome; they
// are logged for the operator.
func (e *Engine) runCleanup(
	ctx context.Context,
	rn *run,
) state {
	slog.Info("cleaning up", "dst", rn.req.Dst)

	if err := e.cleanupMirror(ctx, rn.dst.Dir); err != nil {
		slog.Error(
			"cleanup failed",
			"dst", rn.req.Dst,
			"error", err,
		)
	}

	return settle(rn)
}

// cleanupMirror performs the cleanup pass on dir. A strip that
// matches nothing means the mirror was already clean and is
// not a failure.
func (e *Engine) cleanupMirror(
	ctx context.Context,
	dir string,
) error {
	if err := e.vcs.Update(ctx, dir, true); err != nil {
		return err
	}

	if err := e.vcs.Purge(ctx, dir); err != nil {
		return err
	}

	err := e.vcs.Strip(ctx, dir, "outgoing()", true)
	if err != nil && !hg.IsEmptyRevisionSet(err) {
		return err
	}

	return nil
}

// Package revset resolves revision set expressions against a
// mirror's history and enforces the per-operation commit
// ceiling.
package revset

import (
	"context"
	"fmt"

	"github.com/byte4ever/transplant/transplant/hg"
)

// Logger is the slice of the version-control adapter the
// resolver needs: an ordered changeset query.
type Logger interface {
	Log(
		ctx context.Context,
		dir string,
		revset string,
	) ([]hg.Commit, error)
}

// TooManyCommitsError reports a revision set that resolved to
// more commits than one operation may move. Raised before any
// mutation, so retrying with a narrower revset is always safe.
type TooManyCommitsError struct {
	Count int
	Limit int
}

// Error implements the error interface.
func (e *TooManyCommitsError) Error() string {
	return fmt.Sprintf(
		"revision set resolves to %d commits which is above "+
			"the %d commit limit",
		e.Count, e.Limit,
	)
}

// Resolver expands revision set expressions with a fixed
// commit-count ceiling.
type Resolver struct {
	vcs   Logger
	limit int
}

// NewResolver creates a resolver enforcing limit.
func NewResolver(vcs Logger, limit int) *Resolver {
	return &Resolver{vcs: vcs, limit: limit}
}

// Limit returns the commit-count ceiling.
func (r *Resolver) Limit() int {
	return r.limit
}

// Resolve expands expr against the history at dir and returns
// the matched commits in hg's order. The ceiling is checked
// after resolution, so an over-limit expression fails without
// touching anything.
func (r *Resolver) Resolve(
	ctx context.Context,
	dir string,
	expr string,
) ([]hg.Commit, error) {
	commits, err := r.vcs.Log(ctx, dir, expr)
	if err != nil {
		return nil, err
	}

	if len(commits) > r.limit {
		return nil, &TooManyCommitsError{
			Count: len(commits),
			Limit: r.limit,
		}
	}

	return commits, nil
}

// LookupCommit probes for a single commit by identifier. An
// unknown revision is the benign not-found outcome, reported
// via ok=false rather than an error.
func (r *Resolver) LookupCommit(
	ctx context.Context,
	dir string,
	id string,
) (*hg.Commit, bool, error) {
	commits, err := r.vcs.Log(ctx, dir, id)
	if err != nil {
		if hg.IsUnknownRevision(err) {
			return nil, false, nil
		}

		return nil, false, err
	}

	if len(commits) == 0 {
		return nil, false, nil
	}

	return &commits[0], true, nil
}

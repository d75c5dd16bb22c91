package engine

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/byte4ever/transplant/transplant/hg"
	"github.com/byte4ever/transplant/transplant/mirror"
	"github.com/byte4ever/transplant/transplant/revset"
)

// MessageEnvVar is the environment variable carrying a message
// override to the external changeset filter script.
const MessageEnvVar = "TRANSPLANT_MESSAGE"

// Adapter is the version-control capability set the engine
// consumes. The hg package provides the production
// implementation; tests script it.
type Adapter interface {
	Log(
		ctx context.Context,
		dir string,
		revset string,
	) ([]hg.Commit, error)
	Update(ctx context.Context, dir string, clean bool) error
	Push(ctx context.Context, dir string) error
	Tip(ctx context.Context, dir string) (string, error)
	Transplant(
		ctx context.Context,
		dir string,
		revs []string,
		sourceDir string,
		filterScript string,
		extraEnv []string,
	) (string, error)
	Strip(
		ctx context.Context,
		dir string,
		revset string,
		noBackup bool,
	) error
	Purge(ctx context.Context, dir string) error
	Collapse(
		ctx context.Context,
		dir string,
		revset string,
		message string,
	) error
}

// Mirrors is the slice of the mirror cache the engine needs:
// refresh plus pairwise locking.
type Mirrors interface {
	EnsureFresh(
		ctx context.Context,
		name string,
		force bool,
	) (*mirror.Mirror, error)
	LockPair(a string, b string) func()
}

// Item is one unit of work: either a single commit or a
// revision set expression, never both. Message, when set,
// overrides the changeset message (for a multi-commit revset
// it becomes the squash message).
type Item struct {
	Commit  string `json:"commit,omitempty"`
	Revset  string `json:"revset,omitempty"`
	Message string `json:"message,omitempty"`
}

// Request names the source and destination repositories and
// the ordered items to move.
type Request struct {
	Src   string `json:"src"`
	Dst   string `json:"dst"`
	Items []Item `json:"items"`
}

// Outcome is the success result of a transplant operation.
type Outcome struct {
	// Tip is the destination's new tip identifier.
	Tip string `json:"tip"`
}

// ValidationError rejects a request before any mirror is
// touched.
type ValidationError struct {
	Msg string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return e.Msg
}

// Config holds the engine's collaborators and policy knobs.
type Config struct {
	// VCS is the version-control adapter.
	VCS Adapter

	// Mirrors is the mirror cache.
	Mirrors Mirrors

	// Registry is the repository registry.
	Registry *mirror.Registry

	// Resolver expands revision sets under the commit
	// ceiling.
	Resolver *revset.Resolver

	// FilterScript is the external changeset filter invoked
	// for message overrides.
	FilterScript string

	// Cleanup enables the post-operation cleanup pass on the
	// destination mirror.
	Cleanup bool
}

// Engine orchestrates transplant operations.
type Engine struct {
	vcs          Adapter
	mirrors      Mirrors
	registry     *mirror.Registry
	resolver     *revset.Resolver
	filterScript string
	cleanup      bool
}

// New creates an Engine.
func New(cfg Config) *Engine {
	return &Engine{
		vcs:          cfg.VCS,
		mirrors:      cfg.Mirrors,
		registry:     cfg.Registry,
		resolver:     cfg.Resolver,
		filterScript: cfg.FilterScript,
		cleanup:      cfg.Cleanup,
	}
}

// run carries the mutable state of one transplant operation
// through the state machine.
type run struct {
	req      Request
	src      *mirror.Mirror
	dst      *mirror.Mirror
	resolved []resolvedItem
	tip      string
	err      error
}

// resolvedItem pairs an item with its expansion. commits is
// nil for direct commit items.
type resolvedItem struct {
	item    Item
	commits []hg.Commit
}

// Transplant moves the requested items from src to dst and
// pushes the result upstream. Both mirrors stay locked for the
// whole operation; concurrent requests touching either name
// are serialized.
func (e *Engine) Transplant(
	ctx context.Context,
	req Request,
) (*Outcome, error) {
	if err := e.validate(req); err != nil {
		return nil, err
	}

	unlock := e.mirrors.LockPair(req.Src, req.Dst)
	defer unlock()

	rn := &run{req: req}

	for st := stateRefresh; !st.terminal(); {
		next := e.step(ctx, st, rn)

		slog.Debug(
			"transplant transition",
			"from", st.String(),
			"to", next.String(),
		)

		st = next
	}

	if rn.err != nil {
		return nil, rn.err
	}

	return &Outcome{Tip: rn.tip}, nil
}

// validate rejects malformed requests before any adapter call.
func (e *Engine) validate(req Request) error {
	switch {
	case req.Src == "":
		return &ValidationError{Msg: "no src"}
	case req.Dst == "":
		return &ValidationError{Msg: "no dst"}
	case len(req.Items) == 0:
		return &ValidationError{Msg: "no items"}
	}

	if !e.registry.Has(req.Src) {
		return &ValidationError{Msg: fmt.Sprintf(
			"unknown src repository: %s", req.Src,
		)}
	}

	if !e.registry.Has(req.Dst) {
		return &ValidationError{Msg: fmt.Sprintf(
			"unknown dst repository: %s", req.Dst,
		)}
	}

	if req.Src == req.Dst {
		return &ValidationError{Msg: fmt.Sprintf(
			"transplant from %s to %s is not allowed",
			req.Src, req.Dst,
		)}
	}

	for i, item := range req.Items {
		set := 0
		if item.Commit != "" {
			set++
		}

		if item.Revset != "" {
			set++
		}

		if set != 1 {
			return &ValidationError{Msg: fmt.Sprintf(
				"item %d must set exactly one of commit "+
					"or revset", i,
			)}
		}
	}

	return nil
}

// refresh force-refreshes both mirrors. They are distinct and
// both locked, so the refreshes run concurrently.
func (e *Engine) refresh(ctx context.Context, rn *run) state {
	grp, grpCtx := errgroup.WithContext(ctx)

	grp.Go(func() error {
		src, err := e.mirrors.EnsureFresh(
			grpCtx, rn.req.Src, true,
		)
		if err != nil {
			return err
		}

		rn.src = src

		return nil
	})

	grp.Go(func() error {
		dst, err := e.mirrors.EnsureFresh(
			grpCtx, rn.req.Dst, true,
		)
		if err != nil {
			return err
		}

		rn.dst = dst

		return nil
	})

	if err := grp.Wait(); err != nil {
		rn.err = err

		// Nothing was mutated on the destination yet, so no
		// cleanup pass is attempted.
		return stateFailed
	}

	return stateResolve
}

// resolve expands every revision set item against the source
// mirror. The commit ceiling is enforced here, before any
// destination mutation, so an over-limit request is a no-op.
func (e *Engine) resolve(ctx context.Context, rn *run) state {
	rn.resolved = make([]resolvedItem, 0, len(rn.req.Items))

	for _, item := range rn.req.Items {
		ri := resolvedItem{item: item}

		if item.Revset != "" {
			commits, err := e.resolver.Resolve(
				ctx, rn.src.Dir, item.Revset,
			)
			if err != nil {
				rn.err = err

				return stateFailed
			}

			ri.commits = commits
		}

		rn.resolved = append(rn.resolved, ri)
	}

	return stateApply
}

// apply transplants each item onto the destination, in request
// order. Later items observe the working copy state left by
// earlier ones; the first failure aborts the rest.
func (e *Engine) apply(ctx context.Context, rn *run) state {
	for _, ri := range rn.resolved {
		if err := e.applyItem(ctx, rn, ri); err != nil {
			rn.err = err

			return e.afterMutation()
		}
	}

	return statePush
}

// push publishes the destination mirror upstream.
func (e *Engine) push(ctx context.Context, rn *run) state {
	slog.Info("pushing", "dst", rn.req.Dst)

	if err := e.vcs.Push(ctx, rn.dst.Dir); err != nil {
		rn.err = err

		return e.afterMutation()
	}

	return stateReport
}

// report reads the destination's new tip.
func (e *Engine) report(ctx context.Context, rn *run) state {
	tip, err := e.vcs.Tip(ctx, rn.dst.Dir)
	if err != nil {
		rn.err = err

		return e.afterMutation()
	}

	rn.tip = tip

	slog.Info("transplant complete", "tip", tip)

	return e.afterMutation()
}

// afterMutation routes through the cleanup state when the
// cleanup policy is enabled.
func (e *Engine) afterMutation() state {
	if e.cleanup {
		return stateCleanup
	}

	return stateSettle
}

// step dispatches one state transition.
func (e *Engine) step(
	ctx context.Context,
	st state,
	rn *run,
) state {
	switch st {
	case stateRefresh:
		return e.refresh(ctx, rn)
	case stateResolve:
		return e.resolve(ctx, rn)
	case stateApply:
		return e.apply(ctx, rn)
	case statePush:
		return e.push(ctx, rn)
	case stateReport:
		return e.report(ctx, rn)
	case stateCleanup:
		return e.runCleanup(ctx, rn)
	case stateSettle:
		return settle(rn)
	default:
		// Terminal states never reach step.
		return st
	}
}

// settle maps the accumulated run outcome to a terminal state.
func settle(rn *run) state {
	if rn.err != nil {
		return stateFailed
	}

	return stateDone
}

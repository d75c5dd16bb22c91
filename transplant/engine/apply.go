package engine

import (
	"context"
	"fmt"
	"log/slog"
)

// applyItem transplants one item onto the destination. A
// revision set expanding to a single commit behaves exactly
// like a direct commit item.
func (e *Engine) applyItem(
	ctx context.Context,
	rn *run,
	ri resolvedItem,
) error {
	item := ri.item

	if item.Commit != "" {
		return e.transplantRevs(
			ctx, rn, []string{item.Commit}, item.Message,
		)
	}

	switch len(ri.commits) {
	case 0:
		slog.Info(
			"revset matched nothing, skipping",
			"revset", item.Revset,
		)

		return nil
	case 1:
		return e.transplantRevs(
			ctx, rn,
			[]string{ri.commits[0].Node},
			item.Message,
		)
	default:
		return e.transplantAndCollapse(ctx, rn, ri)
	}
}

// transplantAndCollapse moves a multi-commit revision set in
// one adapter call, then squashes whatever actually landed on
// the destination into a single changeset. The squash only
// fires when more than one changeset landed, independent of
// how many were requested.
func (e *Engine) transplantAndCollapse(
	ctx context.Context,
	rn *run,
	ri resolvedItem,
) error {
	oldTip, err := e.vcs.Tip(ctx, rn.dst.Dir)
	if err != nil {
		return err
	}

	revs := make([]string, 0, len(ri.commits))
	for _, commit := range ri.commits {
		revs = append(revs, commit.Node)
	}

	// The override message is consumed by the collapse, not
	// the bulk transplant.
	if err := e.transplantRevs(ctx, rn, revs, ""); err != nil {
		return err
	}

	landedExpr := fmt.Sprintf(
		"descendants(children(%s))", oldTip,
	)

	landed, err := e.vcs.Log(ctx, rn.dst.Dir, landedExpr)
	if err != nil {
		return err
	}

	if len(landed) < 2 {
		return nil
	}

	slog.Info(
		"collapsing",
		"revset", landedExpr,
		"count", len(landed),
	)

	return e.vcs.Collapse(
		ctx, rn.dst.Dir, landedExpr, ri.item.Message,
	)
}

// transplantRevs applies the given revisions onto the
// destination and updates its working copy. A non-empty
// message rides the filter script environment handoff.
func (e *Engine) transplantRevs(
	ctx context.Context,
	rn *run,
	revs []string,
	message string,
) error {
	filter := ""

	var env []string

	if message != "" {
		filter = e.filterScript
		env = []string{MessageEnvVar + "=" + message}
	}

	slog.Info(
		"transplanting",
		"revs", revs,
		"src", rn.req.Src,
		"dst", rn.req.Dst,
	)

	out, err := e.vcs.Transplant(
		ctx, rn.dst.Dir, revs, rn.src.Dir, filter, env,
	)
	if err != nil {
		return err
	}

	slog.Debug("hg transplant", "output", out)

	return e.vcs.Update(ctx, rn.dst.Dir, false)
}

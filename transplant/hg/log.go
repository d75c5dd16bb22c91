package hg

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"
)

// Commit is one changeset record as emitted by hg log -Tjson.
// Beyond Node it is pass-through data: the service counts
// commits and forwards them, it never interprets the rest.
type Commit struct {
	Node    string    `json:"node"`
	Rev     int       `json:"rev"`
	Branch  string    `json:"branch"`
	Phase   string    `json:"phase"`
	User    string    `json:"user"`
	Date    []float64 `json:"date"`
	Desc    string    `json:"desc"`
	Parents []string  `json:"parents"`
}

// Log returns the changesets matched by revset, in hg's own
// order. A revset matching nothing yields an empty slice; a
// revset naming an unknown revision yields a *CommandError for
// which IsUnknownRevision returns true.
func (c *Client) Log(
	ctx context.Context,
	dir string,
	revset string,
) ([]Commit, error) {
	const errCtx = "reading changeset log"

	res, err := c.run(
		ctx, dir, nil,
		"log", "--rev", revset, "-Tjson",
	)
	if err != nil {
		return nil, err
	}

	var commits []Commit
	if err := json.Unmarshal(
		[]byte(res.Stdout), &commits,
	); err != nil {
		return nil, fmt.Errorf(
			"%s: parse json: %w", errCtx, err,
		)
	}

	return commits, nil
}

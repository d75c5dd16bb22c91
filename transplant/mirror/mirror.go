package mirror

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"
)

// VCS is the slice of the version-control adapter the cache
// needs to materialise and refresh working copies.
type VCS interface {
	Clone(ctx context.Context, remote string, dir string) error
	Pull(ctx context.Context, dir string, update bool) error
}

// Mirror is a local working copy of a registered repository.
type Mirror struct {
	// Name is the logical repository name.
	Name string
	// Dir is the filesystem location of the working copy.
	Dir string
}

// Cache maps repository names to local mirrors under a common
// working directory, applying a clone-or-refresh policy gated
// by the pull TTL.
type Cache struct {
	registry *Registry
	vcs      VCS
	workdir  string
	ttl      time.Duration

	sf    singleflight.Group
	locks *keyedLocks

	now func() time.Time
}

// NewCache creates a cache materialising mirrors under workdir.
func NewCache(
	registry *Registry,
	vcs VCS,
	workdir string,
	ttl time.Duration,
) *Cache {
	return &Cache{
		registry: registry,
		vcs:      vcs,
		workdir:  workdir,
		ttl:      ttl,
		locks:    newKeyedLocks(),
		now:      time.Now,
	}
}

// Dir returns the deterministic local path for name.
func (c *Cache) Dir(name string) string {
	return filepath.Join(c.workdir, name)
}

// EnsureFresh returns the mirror for name, cloning it on first
// use and pulling when force is set or the last successful pull
// is at least the TTL ago. Within the TTL and without force the
// existing working copy is returned unchanged; stale reads are
// an accepted trade-off. Concurrent refreshes of the same name
// are collapsed into a single underlying operation.
func (c *Cache) EnsureFresh(
	ctx context.Context,
	name string,
	force bool,
) (*Mirror, error) {
	reg, ok := c.registry.Lookup(name)
	if !ok {
		return nil, &UnknownRepositoryError{Name: name}
	}

	dir := c.Dir(name)

	key := fmt.Sprintf("%s|force=%t", name, force)

	_, err, _ := c.sf.Do(key, func() (any, error) {
		return nil, c.refresh(ctx, reg, dir, force)
	})
	if err != nil {
		return nil, err
	}

	return &Mirror{Name: name, Dir: dir}, nil
}

// refresh performs the actual clone-or-pull. The timestamp is
// written only after the operation succeeded, keeping it
// monotonically non-decreasing.
func (c *Cache) refresh(
	ctx context.Context,
	reg Registration,
	dir string,
	force bool,
) error {
	_, statErr := os.Stat(dir)
	if errors.Is(statErr, fs.ErrNotExist) {
		slog.Info("cloning repository", "name", reg.Name)

		if err := c.vcs.Clone(ctx, reg.Remote, dir); err != nil {
			return err
		}

		return c.touch(dir)
	}

	if statErr != nil {
		return fmt.Errorf(
			"checking mirror %s: %w", reg.Name, statErr,
		)
	}

	age := c.now().Sub(lastPullTime(dir))
	if !force && age < c.ttl {
		return nil
	}

	slog.Info(
		"pulling repository",
		"name", reg.Name,
		"forced", force,
	)

	if err := c.vcs.Pull(ctx, dir, true); err != nil {
		return err
	}

	return c.touch(dir)
}

func (c *Cache) touch(dir string) error {
	return recordPullTime(dir, c.now())
}

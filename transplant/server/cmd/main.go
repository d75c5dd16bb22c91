// Command transplantd serves the transplant HTTP API. It
// maintains local mirrors of the configured Mercurial
// repositories and grafts changesets between them on request.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/byte4ever/transplant/transplant/config"
	"github.com/byte4ever/transplant/transplant/engine"
	"github.com/byte4ever/transplant/transplant/hg"
	"github.com/byte4ever/transplant/transplant/mirror"
	"github.com/byte4ever/transplant/transplant/revset"
	"github.com/byte4ever/transplant/transplant/server"
)

const readHeaderTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	const errCtx = "running transplantd"

	configPath := flag.String(
		"config", "config.yaml",
		"Path to the YAML configuration file",
	)

	flag.Parse()

	// A .env file is optional and only feeds the process
	// environment.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	handler, err := newHandler(cfg)
	if err != nil {
		return fmt.Errorf("%s: %w", errCtx, err)
	}

	addr := cfg.ListenAddr
	if port := os.Getenv("PORT"); port != "" {
		addr = ":" + port
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	slog.Info(
		"listening",
		"addr", addr,
		"workdir", cfg.Workdir,
	)

	if err := srv.ListenAndServe(); err != nil {
		return fmt.Errorf("%s: serve: %w", errCtx, err)
	}

	return nil
}

// newHandler assembles the service from its configuration.
func newHandler(cfg *config.Config) (http.Handler, error) {
	const errCtx = "assembling service"

	// The filter script path must survive hg running in the
	// mirror directories.
	filterScript, err := filepath.Abs(cfg.FilterScript)
	if err != nil {
		return nil, fmt.Errorf(
			"%s: filter script: %w", errCtx, err,
		)
	}

	vcs := hg.New(
		hg.WithCollapseExt(cfg.CollapseExt),
		hg.WithTimeout(cfg.CommandTimeout),
	)

	regs := make(
		[]mirror.Registration, 0, len(cfg.Repositories),
	)
	for _, repo := range cfg.Repositories {
		regs = append(regs, mirror.Registration{
			Name:   repo.Name,
			Remote: repo.Path,
		})
	}

	registry := mirror.NewRegistry(regs)

	mirrors := mirror.NewCache(
		registry, vcs, cfg.Workdir, cfg.PullInterval,
	)

	resolver := revset.NewResolver(vcs, cfg.MaxCommits)

	eng := engine.New(engine.Config{
		VCS:          vcs,
		Mirrors:      mirrors,
		Registry:     registry,
		Resolver:     resolver,
		FilterScript: filterScript,
		Cleanup:      cfg.Cleanup,
	})

	srv := server.New(server.Config{
		Engine:   eng,
		Mirrors:  mirrors,
		Resolver: resolver,
		Registry: registry,
	})

	return srv.Router(), nil
}

package server

import (
	"context"
	_ "embed"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	gocache "github.com/patrickmn/go-cache"

	"github.com/byte4ever/transplant/transplant/engine"
	"github.com/byte4ever/transplant/transplant/hg"
	"github.com/byte4ever/transplant/transplant/mirror"
)

//go:embed static/index.html
var indexHTML []byte

// DefaultRevsetCacheTTL bounds how long a resolved revision
// set query is served from memory.
const DefaultRevsetCacheTTL = 30 * time.Second

// Transplanter runs transplant operations.
type Transplanter interface {
	Transplant(
		ctx context.Context,
		req engine.Request,
	) (*engine.Outcome, error)
}

// MirrorProvider refreshes mirrors and hands out their locks.
type MirrorProvider interface {
	EnsureFresh(
		ctx context.Context,
		name string,
		force bool,
	) (*mirror.Mirror, error)
	Lock(name string) func()
}

// Resolver expands revision set expressions.
type Resolver interface {
	Resolve(
		ctx context.Context,
		dir string,
		expr string,
	) ([]hg.Commit, error)
}

// Config holds the server's collaborators.
type Config struct {
	Engine   Transplanter
	Mirrors  MirrorProvider
	Resolver Resolver
	Registry *mirror.Registry

	// RevsetCacheTTL overrides DefaultRevsetCacheTTL when
	// positive.
	RevsetCacheTTL time.Duration
}

// Server is the HTTP front of the transplant service.
type Server struct {
	engine   Transplanter
	mirrors  MirrorProvider
	resolver Resolver
	registry *mirror.Registry

	revsets *gocache.Cache
	metrics *metrics
}

// New creates a Server.
func New(cfg Config) *Server {
	ttl := cfg.RevsetCacheTTL
	if ttl <= 0 {
		ttl = DefaultRevsetCacheTTL
	}

	return &Server{
		engine:   cfg.Engine,
		mirrors:  cfg.Mirrors,
		resolver: cfg.Resolver,
		registry: cfg.Registry,
		revsets:  gocache.New(ttl, 2*ttl),
		metrics:  newMetrics(),
	}
}

// Router builds the HTTP routing table.
func (s *Server) Router() http.Handler {
	rt := chi.NewRouter()

	rt.Use(middleware.Recoverer)
	rt.Use(s.metrics.middleware)

	rt.Get("/healthz", s.handleHealthz)
	rt.Method(http.MethodGet, "/metrics", s.metrics.handler())

	rt.Get("/", s.handleIndex)
	rt.Get("/config.js", s.handleConfigJS)
	rt.Get(
		"/repositories/{repository}/revsets",
		s.handleRevsets,
	)
	rt.Post("/transplant", s.handleTransplant)

	return rt
}

func (s *Server) handleHealthz(
	w http.ResponseWriter,
	_ *http.Request,
) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleIndex(
	w http.ResponseWriter,
	_ *http.Request,
) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(indexHTML)
}

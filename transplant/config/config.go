// Package config loads the service configuration from a YAML
// file. The result is built once at startup and passed to the
// components that need it; nothing reads configuration
// globally.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// Defaults applied when the file leaves a knob unset.
const (
	DefaultListenAddr     = ":5000"
	DefaultPullInterval   = 60 * time.Second
	DefaultMaxCommits     = 100
	DefaultCommandTimeout = 10 * time.Minute
	DefaultFilterScript   = "scripts/transplant_filter.py"
)

// Repository registers one remote repository under a logical
// name.
type Repository struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// Config is the immutable service configuration.
type Config struct {
	// ListenAddr is the HTTP listen address.
	ListenAddr string

	// Workdir holds the local mirrors.
	Workdir string

	// FilterScript is the changeset message filter invoked
	// during message-overridden transplants.
	FilterScript string

	// CollapseExt is the path of the Mercurial collapse
	// extension.
	CollapseExt string

	// PullInterval is the mirror refresh TTL.
	PullInterval time.Duration

	// MaxCommits caps how many commits one revision set may
	// move.
	MaxCommits int

	// Cleanup enables the destination cleanup pass after
	// each transplant operation.
	Cleanup bool

	// CommandTimeout bounds each hg invocation.
	CommandTimeout time.Duration

	// Repositories are the registered repositories.
	Repositories []Repository
}

// fileConfig mirrors the YAML document. Durations are strings
// so operators write "60s" rather than nanosecond counts.
type fileConfig struct {
	ListenAddr     string       `yaml:"listen_addr"`
	Workdir        string       `yaml:"workdir"`
	FilterScript   string       `yaml:"filter_script"`
	CollapseExt    string       `yaml:"collapse_extension"`
	PullInterval   string       `yaml:"pull_interval"`
	MaxCommits     *int         `yaml:"max_commits"`
	Cleanup        bool         `yaml:"cleanup"`
	CommandTimeout string       `yaml:"command_timeout"`
	Repositories   []Repository `yaml:"repositories"`
}

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	const errCtx = "loading configuration"

	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", errCtx, path, err)
	}

	return cfg, nil
}

// Parse builds a Config from raw YAML, applying defaults and
// validating the result.
func Parse(data []byte) (*Config, error) {
	const errCtx = "parsing configuration"

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	cfg := &Config{
		ListenAddr:     fc.ListenAddr,
		Workdir:        fc.Workdir,
		FilterScript:   fc.FilterScript,
		CollapseExt:    fc.CollapseExt,
		PullInterval:   DefaultPullInterval,
		MaxCommits:     DefaultMaxCommits,
		Cleanup:        fc.Cleanup,
		CommandTimeout: DefaultCommandTimeout,
		Repositories:   fc.Repositories,
	}

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}

	if cfg.FilterScript == "" {
		cfg.FilterScript = DefaultFilterScript
	}

	if fc.MaxCommits != nil {
		cfg.MaxCommits = *fc.MaxCommits
	}

	if fc.PullInterval != "" {
		d, err := time.ParseDuration(fc.PullInterval)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: pull_interval: %w", errCtx, err,
			)
		}

		cfg.PullInterval = d
	}

	if fc.CommandTimeout != "" {
		d, err := time.ParseDuration(fc.CommandTimeout)
		if err != nil {
			return nil, fmt.Errorf(
				"%s: command_timeout: %w", errCtx, err,
			)
		}

		cfg.CommandTimeout = d
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Workdir == "" {
		return fmt.Errorf("workdir is required")
	}

	if c.MaxCommits <= 0 {
		return fmt.Errorf(
			"max_commits must be positive, got %d",
			c.MaxCommits,
		)
	}

	if len(c.Repositories) == 0 {
		return fmt.Errorf("at least one repository is required")
	}

	seen := make(map[string]struct{}, len(c.Repositories))

	for i, repo := range c.Repositories {
		if repo.Name == "" {
			return fmt.Errorf("repository %d: name is required", i)
		}

		if repo.Path == "" {
			return fmt.Errorf(
				"repository %q: path is required", repo.Name,
			)
		}

		if _, dup := seen[repo.Name]; dup {
			return fmt.Errorf(
				"repository %q registered twice", repo.Name,
			)
		}

		seen[repo.Name] = struct{}{}
	}

	return nil
}

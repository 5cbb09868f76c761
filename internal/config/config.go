// Package config provides configuration loading for the watcher daemon.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Dozodouzo/gitnotify/internal/registry"
)

const (
	// DefaultPollPeriod is the polling interval used when the
	// configuration does not set one.
	DefaultPollPeriod = 2 * time.Minute

	// DefaultFetchTimeout bounds one sync pass per repository.
	DefaultFetchTimeout = 5 * time.Minute

	// DefaultMaxCommitsPerCycle caps individual commit notifications per
	// poll cycle.
	DefaultMaxCommitsPerCycle = 5

	// DefaultMaxConcurrentSyncs caps concurrent sync passes.
	DefaultMaxConcurrentSyncs = 4

	// DefaultRepoDir is where local mirrors live.
	DefaultRepoDir = "git_repositories"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		// Validate the path to prevent path traversal attacks
		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// PollPeriod is the global polling interval ("2m", "90s"). "0"
	// disables periodic polling; manual triggers still work.
	PollPeriod string `yaml:"pollPeriod,omitempty"`

	// FetchTimeout bounds one sync pass per repository unless the
	// repository overrides it.
	FetchTimeout string `yaml:"fetchTimeout,omitempty"`

	// MaxCommitsPerCycle caps individual commit notifications per poll
	// cycle unless the repository overrides it.
	MaxCommitsPerCycle int `yaml:"maxCommitsPerCycle,omitempty"`

	// MaxConcurrentSyncs caps how many repositories sync at once.
	MaxConcurrentSyncs int64 `yaml:"maxConcurrentSyncs,omitempty"`

	// RepoDir is the directory holding local mirrors and marker state.
	RepoDir string `yaml:"repoDir,omitempty"`

	Metrics *MetricsConfig `yaml:"metrics,omitempty"`

	Repositories []RepositoryConfig `yaml:"repositories"`
}

// MetricsConfig controls the Prometheus scrape endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// RepositoryConfig declares a single tracked repository.
type RepositoryConfig struct {
	// Name is the identifier for this repository
	Name string `yaml:"name" json:"name"`

	// URL is the upstream location (HTTP/HTTPS/SSH/local path)
	URL string `yaml:"url" json:"url"`

	// Branches holds branch names or glob patterns. Empty means all
	// remote branches.
	Branches []string `yaml:"branches,omitempty" json:"branches,omitempty"`

	// Destinations lists the delivery targets subscribed to this
	// repository.
	Destinations []string `yaml:"destinations,omitempty" json:"destinations,omitempty"`

	// Templates are the per-commit format lines. Empty means the
	// built-in default.
	Templates []string `yaml:"templates,omitempty" json:"templates,omitempty"`

	// GroupHeader, when set, is emitted once before each notification
	// batch.
	GroupHeader string `yaml:"groupHeader,omitempty" json:"group_header,omitempty"`

	// SnarfEnabled allows commit-id mention lookups against this
	// repository.
	SnarfEnabled bool `yaml:"snarfEnabled,omitempty" json:"snarf_enabled,omitempty"`

	// AnnounceNewBranches announces newly appearing branches instead of
	// silently baselining them.
	AnnounceNewBranches bool `yaml:"announceNewBranches,omitempty" json:"announce_new_branches,omitempty"`

	// Per-repository overrides of the global settings.
	FetchTimeout       string `yaml:"fetchTimeout,omitempty" json:"fetch_timeout,omitempty"`
	MaxCommitsPerCycle int    `yaml:"maxCommitsPerCycle,omitempty" json:"max_commits_per_cycle,omitempty"`
}

// LoadConfig loads and parses configuration from a YAML file
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	// As of now, this is required because there's no other options to load
	// configuration. Once we add more options, we can remove this check.
	if loaderCfg.path == "" {
		return nil, fmt.Errorf("path is required")
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// GetPollPeriod returns the parsed polling interval, applying the default.
func (c *Config) GetPollPeriod() time.Duration {
	return parseDurationOr(c.PollPeriod, DefaultPollPeriod)
}

// GetFetchTimeout returns the parsed global fetch timeout, applying the
// default.
func (c *Config) GetFetchTimeout() time.Duration {
	return parseDurationOr(c.FetchTimeout, DefaultFetchTimeout)
}

// GetMaxCommitsPerCycle returns the global overflow cap, applying the default.
func (c *Config) GetMaxCommitsPerCycle() int {
	if c.MaxCommitsPerCycle <= 0 {
		return DefaultMaxCommitsPerCycle
	}
	return c.MaxCommitsPerCycle
}

// GetMaxConcurrentSyncs returns the sync concurrency cap, applying the
// default.
func (c *Config) GetMaxConcurrentSyncs() int64 {
	if c.MaxConcurrentSyncs <= 0 {
		return DefaultMaxConcurrentSyncs
	}
	return c.MaxConcurrentSyncs
}

// GetRepoDir returns the mirror directory, applying the default.
func (c *Config) GetRepoDir() string {
	if c.RepoDir == "" {
		return DefaultRepoDir
	}
	return c.RepoDir
}

// MetricsEnabled reports whether the metrics endpoint should be served.
func (c *Config) MetricsEnabled() bool {
	return c.Metrics != nil && c.Metrics.Enabled
}

// Repository converts one declaration into the registry's runtime form,
// filling per-repository overrides from the global settings.
func (c *Config) Repository(rc RepositoryConfig) registry.Repository {
	branches := rc.Branches
	if len(branches) == 0 {
		branches = []string{"*"}
	}

	return registry.Repository{
		Name:                rc.Name,
		RemoteURL:           rc.URL,
		LocalPath:           filepath.Join(c.GetRepoDir(), rc.Name),
		Branches:            branches,
		Destinations:        rc.Destinations,
		Templates:           rc.Templates,
		GroupHeader:         rc.GroupHeader,
		SnarfEnabled:        rc.SnarfEnabled,
		AnnounceNewBranches: rc.AnnounceNewBranches,
		FetchTimeout:        parseDurationOr(rc.FetchTimeout, c.GetFetchTimeout()),
		MaxCommitsPerCycle:  maxCommitsOr(rc.MaxCommitsPerCycle, c.GetMaxCommitsPerCycle()),
	}
}

// Validate performs validation on the configuration
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validateDuration(c.PollPeriod, "pollPeriod"); err != nil {
		return err
	}
	if err := validateDuration(c.FetchTimeout, "fetchTimeout"); err != nil {
		return err
	}
	if c.MaxCommitsPerCycle < 0 {
		return fmt.Errorf("maxCommitsPerCycle must not be negative")
	}
	if c.MaxConcurrentSyncs < 0 {
		return fmt.Errorf("maxConcurrentSyncs must not be negative")
	}

	names := make(map[string]bool)
	for i, repo := range c.Repositories {
		prefix := fmt.Sprintf("repository[%d]", i)
		if repo.Name != "" {
			prefix = fmt.Sprintf("repository[%d] (%s)", i, repo.Name)
		}

		if err := repo.Validate(); err != nil {
			return fmt.Errorf("%s: %w", prefix, err)
		}
		if names[repo.Name] {
			return fmt.Errorf("%s: duplicate repository name", prefix)
		}
		names[repo.Name] = true
	}
	return nil
}

// Validate checks a single repository declaration. It guards every entry
// point that accepts one (the config file and the admin API): the name keys
// the mirror directory under repoDir, so it must never escape it.
func (rc RepositoryConfig) Validate() error {
	if rc.Name == "" {
		return fmt.Errorf("name is required")
	}
	if rc.Name != filepath.Base(rc.Name) || !filepath.IsLocal(rc.Name) {
		return fmt.Errorf("name must not contain path separators")
	}
	if rc.URL == "" {
		return fmt.Errorf("url is required")
	}
	if err := validateDuration(rc.FetchTimeout, "fetchTimeout"); err != nil {
		return err
	}
	if rc.MaxCommitsPerCycle < 0 {
		return fmt.Errorf("maxCommitsPerCycle must not be negative")
	}
	return nil
}

func validateDuration(value, field string) error {
	if value == "" {
		return nil
	}
	if _, err := time.ParseDuration(value); err != nil {
		return fmt.Errorf("%s must be a valid duration (e.g., '2m', '90s'): %w", field, err)
	}
	return nil
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

func maxCommitsOr(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

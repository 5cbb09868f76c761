// Package coordinator drives periodic sync passes across all registered
// repositories. Each repository syncs as an independent unit of work with
// its own deadline, so one slow remote never stalls the others.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	stdsync "sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Dozodouzo/gitnotify/internal/registry"
	gitsync "github.com/Dozodouzo/gitnotify/internal/sync"
	"github.com/Dozodouzo/gitnotify/internal/telemetry"
)

const (
	// defaultMaxConcurrent caps concurrent sync passes when the
	// configuration does not say otherwise.
	defaultMaxConcurrent = 4

	// triggerQueueSize bounds pending manual triggers.
	triggerQueueSize = 16
)

// Config carries the scheduler's runtime parameters.
type Config struct {
	// PollPeriod is the global polling interval. Zero disables periodic
	// polling entirely; manual triggers still run.
	PollPeriod time.Duration

	// MaxConcurrentSyncs caps how many repositories sync at once.
	MaxConcurrentSyncs int64
}

// Coordinator manages background sync scheduling for all repositories.
type Coordinator interface {
	// Start runs the scheduling loop. Blocks until the context is
	// cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop gracefully stops the loop and waits for in-flight passes.
	Stop() error

	// Trigger requests an immediate, out-of-cycle sync of one repository.
	Trigger(name string)

	// Reload swaps the polling interval without disturbing in-flight
	// passes.
	Reload(pollPeriod time.Duration)
}

// defaultCoordinator is the default implementation of Coordinator.
type defaultCoordinator struct {
	engine   gitsync.Engine
	registry *registry.Registry
	config   Config

	syncMetrics *telemetry.SyncMetrics

	// Per-repository in-flight guard: a tick that lands while the
	// previous pass is still running is skipped, not queued.
	mu       stdsync.Mutex
	inflight map[string]bool

	sem *semaphore.Weighted
	wg  stdsync.WaitGroup

	trigger    chan string
	reload     chan time.Duration
	cancelFunc context.CancelFunc
	done       chan struct{}
}

// Option is a function that configures the coordinator.
type Option func(*defaultCoordinator)

// WithSyncMetrics sets the sync metrics for the coordinator.
func WithSyncMetrics(metrics *telemetry.SyncMetrics) Option {
	return func(c *defaultCoordinator) {
		c.syncMetrics = metrics
	}
}

// New creates a coordinator with injected dependencies.
func New(engine gitsync.Engine, reg *registry.Registry, cfg Config, opts ...Option) Coordinator {
	if cfg.MaxConcurrentSyncs <= 0 {
		cfg.MaxConcurrentSyncs = defaultMaxConcurrent
	}

	c := &defaultCoordinator{
		engine:   engine,
		registry: reg,
		config:   cfg,
		inflight: make(map[string]bool),
		sem:      semaphore.NewWeighted(cfg.MaxConcurrentSyncs),
		trigger:  make(chan string, triggerQueueSize),
		reload:   make(chan time.Duration, 1),
		done:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start runs the scheduling loop.
func (c *defaultCoordinator) Start(ctx context.Context) error {
	slog.Info("Starting poll scheduler",
		"poll_period", c.config.PollPeriod,
		"max_concurrent", c.config.MaxConcurrentSyncs)

	coordCtx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel

	var ticker *time.Ticker
	var tick <-chan time.Time
	defer func() {
		if ticker != nil {
			ticker.Stop()
		}
		c.wg.Wait()
		close(c.done)
		slog.Info("Poll scheduler shut down")
	}()

	if c.config.PollPeriod > 0 {
		ticker = time.NewTicker(c.config.PollPeriod)
		tick = ticker.C
		// first pass right away instead of waiting a full period
		c.syncAll(coordCtx)
	} else {
		slog.Info("Periodic polling disabled, waiting for manual triggers")
	}

	for {
		select {
		case <-tick:
			c.syncAll(coordCtx)
		case name := <-c.trigger:
			c.startSync(coordCtx, name)
		case period := <-c.reload:
			if ticker != nil {
				ticker.Stop()
				ticker = nil
				tick = nil
			}
			if period > 0 {
				ticker = time.NewTicker(period)
				tick = ticker.C
			}
			slog.Info("Poll scheduler reloaded", "poll_period", period)
		case <-coordCtx.Done():
			slog.Info("Poll scheduler stopping")
			return nil
		}
	}
}

// Stop gracefully stops the coordinator.
func (c *defaultCoordinator) Stop() error {
	if c.cancelFunc != nil {
		slog.Info("Stopping poll scheduler")
		c.cancelFunc()
		<-c.done
	}
	return nil
}

// Trigger requests an immediate sync of one repository. When the trigger
// queue is full the request is dropped with a warning; the next tick covers
// it.
func (c *defaultCoordinator) Trigger(name string) {
	select {
	case c.trigger <- name:
	case <-c.done:
	default:
		slog.Warn("Trigger queue full, dropping manual sync request", "repository", name)
	}
}

// Reload swaps the polling interval. Last writer wins when reloads pile up.
func (c *defaultCoordinator) Reload(pollPeriod time.Duration) {
	for {
		select {
		case c.reload <- pollPeriod:
			return
		case <-c.done:
			return
		default:
			// drop the stale pending value
			select {
			case <-c.reload:
			default:
			}
		}
	}
}

// syncAll kicks off one pass for every registered repository.
func (c *defaultCoordinator) syncAll(ctx context.Context) {
	repos := c.registry.List()
	c.syncMetrics.RecordRepositories(ctx, int64(len(repos)))
	for _, repo := range repos {
		c.startSync(ctx, repo.Name)
	}
}

// startSync launches one pass unless the repository is already syncing.
func (c *defaultCoordinator) startSync(ctx context.Context, name string) {
	c.mu.Lock()
	if c.inflight[name] {
		c.mu.Unlock()
		slog.Debug("Skipping sync, previous pass still in flight", "repository", name)
		return
	}
	c.inflight[name] = true
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.inflight, name)
			c.mu.Unlock()
		}()

		if err := c.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer c.sem.Release(1)

		c.runSync(ctx, name)
	}()
}

// runSync executes one pass and records its outcome.
func (c *defaultCoordinator) runSync(ctx context.Context, name string) {
	start := time.Now()
	result, err := c.engine.SyncRepository(ctx, name)
	duration := time.Since(start)

	switch {
	case errors.Is(err, registry.ErrNotFound):
		slog.Debug("Repository removed before sync could run", "repository", name)
		return
	case err != nil:
		slog.Error("Sync failed",
			"repository", name,
			"duration", duration.String(),
			"error", err)
	case result.NewCommits > 0 || result.Resets > 0:
		slog.Info("Sync completed",
			"repository", name,
			"branches", result.Branches,
			"new_commits", result.NewCommits,
			"resets", result.Resets,
			"duration", duration.String())
	default:
		slog.Debug("Sync completed, no changes", "repository", name)
	}

	c.syncMetrics.RecordSyncDuration(ctx, name, duration, err == nil)
	if err == nil {
		c.syncMetrics.RecordCommitsNotified(ctx, name, int64(result.NewCommits))
	}
}

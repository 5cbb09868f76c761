// Package sync implements one bounded synchronization pass for a single
// repository: fetch the mirror under a deadline, diff every watched branch
// against its stored marker, hand the resulting events to the dispatcher,
// and only then advance the markers.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Dozodouzo/gitnotify/internal/git"
	"github.com/Dozodouzo/gitnotify/internal/notify"
	"github.com/Dozodouzo/gitnotify/internal/registry"
)

// ErrSyncTimeout reports a pass that exceeded the repository's fetch
// timeout. Markers are left untouched; the next cycle retries from the old
// ones.
var ErrSyncTimeout = errors.New("sync timed out")

// Result summarizes one completed sync pass.
type Result struct {
	Repository string
	Branches   int // branches resolved this pass
	NewCommits int // commits handed to the dispatcher
	Resets     int // non-linear updates handled
	Baselined  int // branches seen for the first time
}

// Engine executes sync passes. Failures inside a pass are returned as tagged
// errors and never propagate further than the caller's log line.
type Engine interface {
	// SyncRepository runs one pass for the named repository.
	SyncRepository(ctx context.Context, name string) (*Result, error)
}

// defaultEngine is the default Engine implementation.
type defaultEngine struct {
	registry   *registry.Registry
	client     git.Client
	dispatcher *notify.Dispatcher
}

// NewEngine creates an Engine over the given registry, client and
// dispatcher.
func NewEngine(reg *registry.Registry, client git.Client, dispatcher *notify.Dispatcher) Engine {
	return &defaultEngine{
		registry:   reg,
		client:     client,
		dispatcher: dispatcher,
	}
}

// SyncRepository runs one pass. The whole pass (fetch plus diff) shares a
// single deadline derived from the repository's fetch timeout.
func (e *defaultEngine) SyncRepository(ctx context.Context, name string) (*Result, error) {
	repo, err := e.registry.Get(name)
	if err != nil {
		return nil, err
	}
	markers, err := e.registry.BranchHeads(name)
	if err != nil {
		return nil, err
	}

	timeout := repo.FetchTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	passCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := e.client.Fetch(passCtx, repo.LocalPath); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s after %s: %w", name, timeout, ErrSyncTimeout)
		}
		return nil, fmt.Errorf("failed to fetch %s: %w", name, err)
	}

	remote, err := e.client.BranchHeads(repo.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read branch heads of %s: %w", name, err)
	}
	names := make([]string, 0, len(remote))
	for branch := range remote {
		names = append(names, branch)
	}
	sort.Strings(names)
	branches := registry.MatchBranches(repo.Branches, names)

	result := &Result{Repository: name, Branches: len(branches)}
	var batches []notify.CommitBatch
	var resets []notify.Reset
	updates := make(map[string]string)

	for _, branch := range branches {
		if err := passCtx.Err(); err != nil {
			return nil, fmt.Errorf("%s after %s: %w", name, timeout, ErrSyncTimeout)
		}

		newHead := remote[branch]
		oldHead, seen := markers[branch]

		switch {
		case !seen:
			// First sighting. Baseline silently, except for a branch
			// that newly appeared on an already-tracked repository
			// when the announce policy is on.
			if repo.AnnounceNewBranches && len(markers) > 0 {
				if batch := e.announceBatch(repo, branch, newHead); batch != nil {
					batches = append(batches, *batch)
					result.NewCommits += len(batch.Commits)
				}
			}
			result.Baselined++
			updates[branch] = newHead

		case oldHead == newHead:
			// up to date, nothing to report

		default:
			commits, err := e.client.CommitsBetween(repo.LocalPath, oldHead, newHead)
			if errors.Is(err, git.ErrNotAncestor) {
				resets = append(resets, notify.Reset{
					Repository: name,
					Branch:     branch,
					NewHead:    newHead,
				})
				result.Resets++
				updates[branch] = newHead
				continue
			}
			if err != nil {
				// One broken branch must not spoil the rest of the
				// pass; the marker stays put and is retried next
				// cycle.
				slog.Error("Failed to enumerate new commits",
					"repository", name,
					"branch", branch,
					"error", err)
				continue
			}
			if len(commits) > 0 {
				batches = append(batches, notify.CommitBatch{
					Repository: name,
					Branch:     branch,
					Commits:    commits,
				})
				result.NewCommits += len(commits)
			}
			updates[branch] = newHead
		}
	}

	// Dispatch first, advance markers after: a crash in between costs at
	// most one duplicate batch, never a silently lost commit.
	if len(batches) > 0 {
		if err := e.dispatcher.DispatchBatches(ctx, repo, batches); err != nil {
			slog.Warn("Notification delivery reported errors",
				"repository", name, "error", err)
		}
	}
	for _, reset := range resets {
		slog.Warn("Branch history rewritten",
			"repository", name, "branch", reset.Branch, "new_head", reset.NewHead)
		if err := e.dispatcher.DispatchReset(ctx, repo, reset); err != nil {
			slog.Warn("Reset notification delivery reported errors",
				"repository", name, "error", err)
		}
	}

	for branch, head := range updates {
		if err := e.registry.UpdateBranchHead(name, branch, head); err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				// removed while the pass was in flight
				slog.Debug("Repository removed mid-sync, dropping marker update",
					"repository", name)
				return result, nil
			}
			return result, err
		}
	}
	return result, nil
}

// announceBatch builds the single-commit batch for a newly discovered
// branch.
func (e *defaultEngine) announceBatch(repo registry.Repository, branch, head string) *notify.CommitBatch {
	commit, err := e.client.CommitByID(repo.LocalPath, head)
	if err != nil {
		slog.Warn("Failed to resolve head of new branch",
			"repository", repo.Name, "branch", branch, "error", err)
		return nil
	}
	return &notify.CommitBatch{
		Repository: repo.Name,
		Branch:     branch,
		Commits:    []git.Commit{*commit},
	}
}

// Package notify turns sync events into rendered lines and fans them out to
// the destinations subscribed to a repository. It also exposes the pull-style
// queries the command layer uses for on-demand display.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/Dozodouzo/gitnotify/internal/format"
	"github.com/Dozodouzo/gitnotify/internal/git"
	"github.com/Dozodouzo/gitnotify/internal/registry"
)

// ErrBranchNotWatched is returned by RecentCommits for a branch outside the
// repository's resolved branch set.
var ErrBranchNotWatched = errors.New("branch is not watched")

// snarfBranch is the branch label used when a commit is shown outside any
// branch context, e.g. a mention lookup.
const snarfBranch = "unknown"

// Dispatcher renders commit events and routes the lines to subscribed
// destinations.
type Dispatcher struct {
	transport Transport
	registry  *registry.Registry
	client    git.Client
}

// NewDispatcher creates a dispatcher sending through transport.
func NewDispatcher(transport Transport, reg *registry.Registry, client git.Client) *Dispatcher {
	return &Dispatcher{
		transport: transport,
		registry:  reg,
		client:    client,
	}
}

// taggedCommit carries the branch a commit arrived on through the merge and
// limit steps.
type taggedCommit struct {
	git.Commit
	branch string
}

// DispatchBatches delivers all commit batches of one sync pass for one
// repository. Commits from all branches are merged chronologically; at most
// MaxCommitsPerCycle are rendered individually, the excess collapses into a
// single summary line. The returned error reports transport failures only;
// by the time it returns, the delivery attempt is complete.
func (d *Dispatcher) DispatchBatches(ctx context.Context, repo registry.Repository, batches []CommitBatch) error {
	var commits []taggedCommit
	for _, batch := range batches {
		for _, c := range batch.Commits {
			commits = append(commits, taggedCommit{Commit: c, branch: batch.Branch})
		}
	}
	if len(commits) == 0 {
		return nil
	}
	sort.SliceStable(commits, func(i, j int) bool {
		return commits[i].When.Before(commits[j].When)
	})

	var lines []format.Line
	if repo.GroupHeader != "" {
		lines = append(lines, format.TextLine(repo.GroupHeader))
	}
	if limit := repo.MaxCommitsPerCycle; limit > 0 && len(commits) > limit {
		lines = append(lines, format.TextLine(fmt.Sprintf(
			"Showing latest %d of %d commits to %s...", limit, len(commits), repo.Name)))
		commits = commits[len(commits)-limit:]
	}
	for _, c := range commits {
		lines = append(lines, format.Render(repo.Templates, d.contextFor(repo, c.branch, c.Commit))...)
	}

	return d.fanOut(ctx, repo, lines)
}

// DispatchReset delivers the fixed-shape notification for a non-linear
// branch update. Reset lines are not templated.
func (d *Dispatcher) DispatchReset(ctx context.Context, repo registry.Repository, reset Reset) error {
	head := reset.NewHead
	if len(head) > 7 {
		head = head[:7]
	}
	line := format.TextLine(fmt.Sprintf(
		"%s: branch %s history was rewritten, now at %s", repo.Name, reset.Branch, head))
	return d.fanOut(ctx, repo, []format.Line{line})
}

// Snarf looks up a commit id mentioned on a destination against the
// snarf-enabled repositories it subscribes to. Returns false when no
// repository knows the commit.
func (d *Dispatcher) Snarf(ctx context.Context, destination, id string) (bool, error) {
	for _, repo := range d.registry.ListForDestination(destination) {
		if !repo.SnarfEnabled {
			continue
		}
		commit, err := d.client.CommitByID(repo.LocalPath, id)
		if err != nil {
			if errors.Is(err, git.ErrCommitNotFound) {
				continue
			}
			return false, err
		}

		lines := []format.Line{format.TextLine(fmt.Sprintf("Talking about %s?", commit.Short()))}
		lines = append(lines, format.Render(repo.Templates, d.contextFor(repo, snarfBranch, *commit))...)
		for _, line := range lines {
			if err := d.transport.Send(ctx, destination, line); err != nil {
				return true, fmt.Errorf("failed to send to %s: %w", destination, err)
			}
		}
		return true, nil
	}
	return false, nil
}

// RecentCommits returns up to count most recent commits on a watched branch,
// newest first. It reads only the local mirror and never touches markers.
func (d *Dispatcher) RecentCommits(name, branch string, count int) ([]git.Commit, error) {
	repo, err := d.registry.Get(name)
	if err != nil {
		return nil, err
	}

	watched, err := d.WatchedBranches(name)
	if err != nil {
		return nil, err
	}
	if !contains(watched, branch) {
		return nil, fmt.Errorf("%s: %w", branch, ErrBranchNotWatched)
	}

	return d.client.RecentCommits(repo.LocalPath, branch, count)
}

// WatchedBranches returns the repository's currently resolved branch set:
// its branch patterns intersected with the remote branches of the mirror.
func (d *Dispatcher) WatchedBranches(name string) ([]string, error) {
	repo, err := d.registry.Get(name)
	if err != nil {
		return nil, err
	}

	heads, err := d.client.BranchHeads(repo.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read branches of %s: %w", name, err)
	}
	remote := make([]string, 0, len(heads))
	for branch := range heads {
		remote = append(remote, branch)
	}
	sort.Strings(remote)
	return registry.MatchBranches(repo.Branches, remote), nil
}

// fanOut sends every line to every subscribed destination. Send failures are
// logged and joined; they never abort the remaining deliveries.
func (d *Dispatcher) fanOut(ctx context.Context, repo registry.Repository, lines []format.Line) error {
	var errs []error
	for _, destination := range repo.Destinations {
		for _, line := range lines {
			if err := d.transport.Send(ctx, destination, line); err != nil {
				slog.Error("Failed to deliver notification",
					"repository", repo.Name,
					"destination", destination,
					"error", err)
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (*Dispatcher) contextFor(repo registry.Repository, branch string, c git.Commit) format.Context {
	return format.Context{
		Author:     c.Author,
		Branch:     branch,
		Hash:       c.Hash,
		Email:      c.Email,
		Message:    c.Message,
		Repository: repo.Name,
		RemoteURL:  repo.RemoteURL,
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

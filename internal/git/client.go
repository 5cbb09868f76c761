// Package git wraps the go-git operations the sync engine needs: cloning a
// repository into a local mirror, fetching it under a deadline, and reading
// branch heads and commit ranges out of the mirror.
package git

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const remoteName = "origin"

// Client defines the version-control operations consumed by the registry and
// the sync engine. All commit enumeration happens against the local mirror;
// only Clone and Fetch touch the network, and both honor their context
// deadline.
type Client interface {
	// Clone creates a local mirror of the remote repository at path.
	Clone(ctx context.Context, url, path string) error

	// Fetch updates the mirror's remote-tracking refs. Deleted remote
	// branches are pruned.
	Fetch(ctx context.Context, path string) error

	// BranchHeads returns the current remote branch heads of the mirror,
	// keyed by branch name.
	BranchHeads(path string) (map[string]string, error)

	// CommitsBetween enumerates the commits on the path (from, to], oldest
	// first. Fails with ErrNotAncestor when from is not an ancestor of to.
	CommitsBetween(path, from, to string) ([]Commit, error)

	// CommitByID resolves a full or abbreviated commit id.
	CommitByID(path, id string) (*Commit, error)

	// RecentCommits returns up to count commits reachable from the remote
	// head of branch, newest first.
	RecentCommits(path, branch string, count int) ([]Commit, error)
}

// defaultClient implements Client using go-git.
type defaultClient struct{}

// NewDefaultClient creates a new go-git backed Client.
func NewDefaultClient() Client {
	return &defaultClient{}
}

// Clone creates a local mirror of the remote repository at path.
func (*defaultClient) Clone(ctx context.Context, url, path string) error {
	_, err := gogit.PlainCloneContext(ctx, path, false, &gogit.CloneOptions{
		URL:        url,
		NoCheckout: true,
		Tags:       gogit.NoTags,
	})
	if err != nil {
		return fmt.Errorf("failed to clone %s: %w", url, err)
	}
	return nil
}

// Fetch updates the mirror's remote-tracking refs.
func (*defaultClient) Fetch(ctx context.Context, path string) error {
	repo, err := gogit.PlainOpen(path)
	if err != nil {
		return fmt.Errorf("failed to open mirror: %w", err)
	}

	err = repo.FetchContext(ctx, &gogit.FetchOptions{
		RemoteName: remoteName,
		Tags:       gogit.NoTags,
		Force:      true,
		Prune:      true,
	})
	if err != nil && !errors.Is(err, gogit.NoErrAlreadyUpToDate) {
		return fmt.Errorf("failed to fetch: %w", err)
	}
	return nil
}

// BranchHeads returns the mirror's remote branch heads keyed by branch name.
func (*defaultClient) BranchHeads(path string) (map[string]string, error) {
	repo, err := gogit.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mirror: %w", err)
	}

	refs, err := repo.References()
	if err != nil {
		return nil, fmt.Errorf("failed to list references: %w", err)
	}

	prefix := remoteName + "/"
	heads := make(map[string]string)
	err = refs.ForEach(func(ref *plumbing.Reference) error {
		if ref.Type() != plumbing.HashReference || !ref.Name().IsRemote() {
			return nil
		}
		short := ref.Name().Short()
		branch := strings.TrimPrefix(short, prefix)
		if branch == short || branch == "HEAD" {
			return nil
		}
		heads[branch] = ref.Hash().String()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk references: %w", err)
	}
	return heads, nil
}

// CommitsBetween enumerates the commits on the path (from, to], oldest first.
func (*defaultClient) CommitsBetween(path, from, to string) ([]Commit, error) {
	repo, err := gogit.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mirror: %w", err)
	}

	fromCommit, err := repo.CommitObject(plumbing.NewHash(from))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", from, err)
	}
	toCommit, err := repo.CommitObject(plumbing.NewHash(to))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", to, err)
	}

	ancestor, err := fromCommit.IsAncestor(toCommit)
	if err != nil {
		return nil, fmt.Errorf("failed ancestry check %s..%s: %w", from, to, err)
	}
	if !ancestor {
		return nil, fmt.Errorf("%s..%s: %w", from, to, ErrNotAncestor)
	}

	// Walk to's history pruned at from. Preorder yields newest first;
	// reverse, then order by committer time like `git rev-list`.
	var commits []Commit
	iter := object.NewCommitPreorderIter(toCommit, nil, []plumbing.Hash{fromCommit.Hash})
	err = iter.ForEach(func(c *object.Commit) error {
		commits = append(commits, newCommit(c))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s..%s: %w", from, to, err)
	}

	for i, j := 0, len(commits)-1; i < j; i, j = i+1, j-1 {
		commits[i], commits[j] = commits[j], commits[i]
	}
	sort.SliceStable(commits, func(i, j int) bool {
		return commits[i].When.Before(commits[j].When)
	})
	return commits, nil
}

// CommitByID resolves a full or abbreviated commit id.
func (*defaultClient) CommitByID(path, id string) (*Commit, error) {
	repo, err := gogit.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mirror: %w", err)
	}

	hash, err := repo.ResolveRevision(plumbing.Revision(id))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", id, ErrCommitNotFound)
	}
	c, err := repo.CommitObject(*hash)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", id, ErrCommitNotFound)
	}

	commit := newCommit(c)
	return &commit, nil
}

// RecentCommits returns up to count commits from the remote head of branch,
// newest first.
func (*defaultClient) RecentCommits(path, branch string, count int) ([]Commit, error) {
	repo, err := gogit.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mirror: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewRemoteReferenceName(remoteName, branch), true)
	if err != nil {
		return nil, fmt.Errorf("branch %s: %w", branch, ErrCommitNotFound)
	}

	iter, err := repo.Log(&gogit.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("failed to read log of %s: %w", branch, err)
	}
	defer iter.Close()

	var commits []Commit
	for len(commits) < count {
		c, err := iter.Next()
		if err != nil {
			break
		}
		commits = append(commits, newCommit(c))
	}
	return commits, nil
}

// newCommit converts a go-git commit object into the client's Commit value.
func newCommit(c *object.Commit) Commit {
	return Commit{
		Hash:    c.Hash.String(),
		Author:  c.Author.Name,
		Email:   c.Author.Email,
		Message: c.Message,
		When:    c.Committer.When,
	}
}

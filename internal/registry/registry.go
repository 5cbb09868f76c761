// Package registry is the source of truth for tracked repositories and their
// per-branch progress markers.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/Dozodouzo/gitnotify/internal/git"
	"github.com/Dozodouzo/gitnotify/internal/state"
)

// ErrDuplicateName is returned by Add when the repository name is taken.
var ErrDuplicateName = errors.New("repository already exists")

// ErrNotFound is returned when a repository name is not registered. After a
// removal, in-flight marker updates observe it and become no-ops.
var ErrNotFound = errors.New("repository not found")

// entry pairs a repository's configuration with its branch markers. The
// markers map is owned by the registry; callers only ever see copies.
type entry struct {
	repo  Repository
	heads map[string]string
}

// Registry holds the set of tracked repositories. Mutations are serialized;
// reads may proceed concurrently with an in-flight sync and observe either
// the pre- or post-sync markers, never a torn state.
type Registry struct {
	client git.Client
	store  state.Store

	mu      sync.RWMutex
	entries map[string]*entry
	pending map[string]struct{}
}

// New creates an empty registry using client for clones and store for marker
// persistence.
func New(client git.Client, store state.Store) *Registry {
	return &Registry{
		client:  client,
		store:   store,
		entries: make(map[string]*entry),
		pending: make(map[string]struct{}),
	}
}

// Add clones the repository and registers it with empty branch markers. The
// name is reserved before the clone so concurrent adds of the same name race
// safely; if the clone fails nothing is left behind.
func (r *Registry) Add(ctx context.Context, repo Repository) error {
	if err := r.reserve(repo.Name); err != nil {
		return err
	}

	// A fresh add never reuses a stale mirror or stale markers.
	_ = os.RemoveAll(repo.LocalPath)
	if err := r.store.Delete(repo.Name); err != nil {
		slog.Warn("Failed to clear stale marker state", "repository", repo.Name, "error", err)
	}

	if err := r.client.Clone(ctx, repo.RemoteURL, repo.LocalPath); err != nil {
		r.release(repo.Name)
		_ = os.RemoveAll(repo.LocalPath)
		return fmt.Errorf("failed to clone %s: %w", repo.Name, err)
	}

	r.commit(repo, make(map[string]string))
	slog.Info("Repository added", "repository", repo.Name, "url", repo.RemoteURL)
	return nil
}

// Bootstrap registers a repository declared in configuration. An existing
// mirror is reused and its persisted markers restored; otherwise the
// repository is cloned and starts with empty markers.
func (r *Registry) Bootstrap(ctx context.Context, repo Repository) error {
	if err := r.reserve(repo.Name); err != nil {
		return err
	}

	if _, err := os.Stat(repo.LocalPath); err != nil {
		if err := r.client.Clone(ctx, repo.RemoteURL, repo.LocalPath); err != nil {
			r.release(repo.Name)
			_ = os.RemoveAll(repo.LocalPath)
			return fmt.Errorf("failed to clone %s: %w", repo.Name, err)
		}
	}

	heads, err := r.store.Load(repo.Name)
	if err != nil {
		slog.Warn("Failed to load marker state, starting from scratch",
			"repository", repo.Name, "error", err)
		heads = nil
	}
	if heads == nil {
		heads = make(map[string]string)
	}

	r.commit(repo, heads)
	slog.Info("Repository registered", "repository", repo.Name, "branches_tracked", len(heads))
	return nil
}

// Remove drops the repository, its persisted markers, and its local mirror.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	delete(r.entries, name)
	r.mu.Unlock()

	if err := r.store.Delete(name); err != nil {
		slog.Warn("Failed to delete marker state", "repository", name, "error", err)
	}
	if err := os.RemoveAll(e.repo.LocalPath); err != nil {
		slog.Warn("Failed to remove local mirror", "repository", name, "error", err)
	}
	slog.Info("Repository removed", "repository", name)
	return nil
}

// Get returns the repository configuration.
func (r *Registry) Get(name string) (Repository, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return Repository{}, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return e.repo, nil
}

// List returns all repositories, ordered by name.
func (r *Registry) List() []Repository {
	r.mu.RLock()
	defer r.mu.RUnlock()

	repos := make([]Repository, 0, len(r.entries))
	for _, e := range r.entries {
		repos = append(repos, e.repo)
	}
	sort.Slice(repos, func(i, j int) bool { return repos[i].Name < repos[j].Name })
	return repos
}

// ListForDestination returns the repositories a destination is subscribed
// to. This is the privacy filter: a destination never sees repositories
// outside its subscriptions.
func (r *Registry) ListForDestination(destination string) []Repository {
	var repos []Repository
	for _, repo := range r.List() {
		if repo.SubscribesTo(destination) {
			repos = append(repos, repo)
		}
	}
	return repos
}

// BranchHeads returns a snapshot of the repository's branch markers.
func (r *Registry) BranchHeads(name string) (map[string]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	heads := make(map[string]string, len(e.heads))
	for branch, head := range e.heads {
		heads[branch] = head
	}
	return heads, nil
}

// UpdateBranchHead advances one branch marker and persists the change. It is
// the only mutation path after a sync; for a name that was removed it fails
// with ErrNotFound, turning the in-flight write into a no-op.
func (r *Registry) UpdateBranchHead(name, branch, head string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	e.heads[branch] = head

	heads := make(map[string]string, len(e.heads))
	for b, h := range e.heads {
		heads[b] = h
	}
	if err := r.store.Save(name, heads); err != nil {
		return fmt.Errorf("failed to persist markers for %s: %w", name, err)
	}
	return nil
}

// reserve claims a name before the clone starts so duplicate adds fail fast
// without holding the lock across network IO.
func (r *Registry) reserve(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[name]; ok {
		return fmt.Errorf("%s: %w", name, ErrDuplicateName)
	}
	if _, ok := r.pending[name]; ok {
		return fmt.Errorf("%s: %w", name, ErrDuplicateName)
	}
	r.pending[name] = struct{}{}
	return nil
}

func (r *Registry) release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, name)
}

// commit finalizes a reservation into a live entry.
func (r *Registry) commit(repo Repository, heads map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, repo.Name)
	r.entries[repo.Name] = &entry{repo: repo, heads: heads}
}

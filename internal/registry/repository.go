package registry

import (
	"path"
	"time"
)

// Repository is the configuration of one tracked repository: where it lives,
// which branches are watched, who receives its notifications, and how its
// commits are rendered.
type Repository struct {
	// Name uniquely identifies the repository in the registry.
	Name string

	// RemoteURL is the upstream location; LocalPath is its local mirror.
	RemoteURL string
	LocalPath string

	// Branches holds branch names or glob patterns ("*" watches every
	// remote branch).
	Branches []string

	// Destinations is the set of delivery targets authorized to receive
	// notifications for this repository.
	Destinations []string

	// Templates are the format lines used to render one commit. Empty
	// means the built-in default.
	Templates []string

	// GroupHeader, when set, is emitted once before each notification
	// batch.
	GroupHeader string

	// SnarfEnabled allows commit-id mention lookups against this
	// repository.
	SnarfEnabled bool

	// AnnounceNewBranches announces the latest commit of a branch that
	// newly appears on an already-tracked repository instead of silently
	// baselining it.
	AnnounceNewBranches bool

	// FetchTimeout bounds one whole sync pass (fetch plus diff).
	FetchTimeout time.Duration

	// MaxCommitsPerCycle caps individual commit notifications per poll
	// cycle; the excess collapses into one summary line.
	MaxCommitsPerCycle int
}

// SubscribesTo reports whether destination is authorized for this repository.
func (r *Repository) SubscribesTo(destination string) bool {
	for _, d := range r.Destinations {
		if d == destination {
			return true
		}
	}
	return false
}

// MatchBranches resolves branch patterns against the remote branch list:
// every remote branch matching any pattern, in pattern order, deduplicated.
func MatchBranches(patterns, remote []string) []string {
	var matched []string
	seen := make(map[string]bool)
	for _, pattern := range patterns {
		for _, branch := range remote {
			if matchBranch(pattern, branch) && !seen[branch] {
				seen[branch] = true
				matched = append(matched, branch)
			}
		}
	}
	return matched
}

// matchBranch applies one pattern to one branch name. A bare "*" matches
// every branch; any other glob does not cross "/". A malformed pattern falls
// back to exact comparison.
func matchBranch(pattern, branch string) bool {
	if pattern == "*" {
		return true
	}
	ok, err := path.Match(pattern, branch)
	if err != nil {
		return pattern == branch
	}
	return ok
}

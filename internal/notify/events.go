package notify

import "github.com/Dozodouzo/gitnotify/internal/git"

// CommitBatch is one "new commits" event produced by a sync pass: the
// ordered commits (oldest first) that arrived on one branch.
type CommitBatch struct {
	Repository string
	Branch     string
	Commits    []git.Commit
}

// Reset signals a non-linear update: the branch head moved to a commit that
// does not descend from the stored marker.
type Reset struct {
	Repository string
	Branch     string
	NewHead    string
}

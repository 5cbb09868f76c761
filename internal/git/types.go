package git

import (
	"errors"
	"strings"
	"time"
)

// ErrNotAncestor is returned by CommitsBetween when the old marker is not an
// ancestor of the new head, i.e. the remote history was rewritten.
var ErrNotAncestor = errors.New("commit is not an ancestor")

// ErrCommitNotFound is returned when a commit id cannot be resolved in the
// local mirror.
var ErrCommitNotFound = errors.New("commit not found")

// shortHashLen is the number of hex digits used for abbreviated commit ids.
const shortHashLen = 7

// Commit is an immutable snapshot of a single commit as fetched from a
// repository mirror. Repository and branch identity travel on the event that
// carries the commit, not on the commit itself.
type Commit struct {
	// Hash is the full hex commit id.
	Hash string

	// Author name and email as recorded in the commit.
	Author string
	Email  string

	// Message is the full commit message.
	Message string

	// When is the committer timestamp, used for chronological ordering.
	When time.Time
}

// Short returns the abbreviated commit id.
func (c Commit) Short() string {
	if len(c.Hash) <= shortHashLen {
		return c.Hash
	}
	return c.Hash[:shortHashLen]
}

// Subject returns the first line of the commit message.
func (c Commit) Subject() string {
	if i := strings.IndexByte(c.Message, '\n'); i >= 0 {
		return c.Message[:i]
	}
	return c.Message
}

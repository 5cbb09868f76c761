package sync

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dozodouzo/gitnotify/internal/format"
	"github.com/Dozodouzo/gitnotify/internal/git"
	"github.com/Dozodouzo/gitnotify/internal/notify"
	"github.com/Dozodouzo/gitnotify/internal/registry"
	"github.com/Dozodouzo/gitnotify/internal/state"
)

// rangeKey identifies one CommitsBetween invocation.
type rangeKey struct{ from, to string }

// fakeClient scripts the mirror state one sync pass observes.
type fakeClient struct {
	fetchErr   error
	fetchCalls int
	onFetch    func()
	heads      map[string]string
	ranges     map[rangeKey][]git.Commit
	rangeErrs  map[rangeKey]error
	byID       map[string]git.Commit
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		heads:     map[string]string{},
		ranges:    map[rangeKey][]git.Commit{},
		rangeErrs: map[rangeKey]error{},
		byID:      map[string]git.Commit{},
	}
}

func (*fakeClient) Clone(context.Context, string, string) error { return nil }

func (f *fakeClient) Fetch(context.Context, string) error {
	f.fetchCalls++
	if f.onFetch != nil {
		f.onFetch()
	}
	return f.fetchErr
}

func (f *fakeClient) BranchHeads(string) (map[string]string, error) {
	return f.heads, nil
}

func (f *fakeClient) CommitsBetween(_, from, to string) ([]git.Commit, error) {
	key := rangeKey{from: from, to: to}
	if err := f.rangeErrs[key]; err != nil {
		return nil, err
	}
	return f.ranges[key], nil
}

func (f *fakeClient) CommitByID(_, id string) (*git.Commit, error) {
	c, ok := f.byID[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, git.ErrCommitNotFound)
	}
	return &c, nil
}

func (*fakeClient) RecentCommits(string, string, int) ([]git.Commit, error) {
	return nil, nil
}

// recordingTransport captures rendered lines.
type recordingTransport struct {
	err  error
	sent []string
}

func (r *recordingTransport) Send(_ context.Context, _ string, line format.Line) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, line.Plain())
	return nil
}

func testCommit(n int) git.Commit {
	return git.Commit{
		Hash:    fmt.Sprintf("%040d", n),
		Author:  "Jane Doe",
		Email:   "jane@example.com",
		Message: fmt.Sprintf("commit %d", n),
		When:    time.Date(2026, 1, 1, 0, 0, n, 0, time.UTC),
	}
}

type fixture struct {
	registry  *registry.Registry
	client    *fakeClient
	transport *recordingTransport
	engine    Engine
}

func newFixture(t *testing.T, repo registry.Repository) *fixture {
	t.Helper()
	dir := t.TempDir()
	repo.LocalPath = filepath.Join(dir, repo.Name)

	client := newFakeClient()
	reg := registry.New(client, state.NewFileStore(filepath.Join(dir, "state.json")))
	require.NoError(t, reg.Add(context.Background(), repo))

	transport := &recordingTransport{}
	dispatcher := notify.NewDispatcher(transport, reg, client)
	return &fixture{
		registry:  reg,
		client:    client,
		transport: transport,
		engine:    NewEngine(reg, client, dispatcher),
	}
}

func watchedRepo() registry.Repository {
	return registry.Repository{
		Name:         "proj",
		RemoteURL:    "https://example.com/proj.git",
		Branches:     []string{"*"},
		Destinations: []string{"ops"},
		FetchTimeout: time.Minute,
	}
}

func TestSyncFirstSightingBaselinesSilently(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, watchedRepo())
	fx.client.heads = map[string]string{"main": "aaa"}

	result, err := fx.engine.SyncRepository(context.Background(), "proj")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Baselined)
	assert.Zero(t, result.NewCommits)
	assert.Empty(t, fx.transport.sent)

	heads, err := fx.registry.BranchHeads("proj")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"main": "aaa"}, heads)
}

func TestSyncAdvancesAndNotifies(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, watchedRepo())
	require.NoError(t, fx.registry.UpdateBranchHead("proj", "main", "aaa"))
	fx.client.heads = map[string]string{"main": "bbb"}
	fx.client.ranges[rangeKey{"aaa", "bbb"}] = []git.Commit{testCommit(1), testCommit(2)}

	result, err := fx.engine.SyncRepository(context.Background(), "proj")
	require.NoError(t, err)
	assert.Equal(t, 2, result.NewCommits)
	assert.Equal(t, []string{
		"[proj|main|Jane Doe] commit 1",
		"[proj|main|Jane Doe] commit 2",
	}, fx.transport.sent)

	heads, err := fx.registry.BranchHeads("proj")
	require.NoError(t, err)
	assert.Equal(t, "bbb", heads["main"])
}

func TestSyncIdempotentWhenUpToDate(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, watchedRepo())
	require.NoError(t, fx.registry.UpdateBranchHead("proj", "main", "aaa"))
	fx.client.heads = map[string]string{"main": "aaa"}

	result, err := fx.engine.SyncRepository(context.Background(), "proj")
	require.NoError(t, err)
	assert.Zero(t, result.NewCommits)
	assert.Empty(t, fx.transport.sent)
}

func TestSyncReset(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, watchedRepo())
	require.NoError(t, fx.registry.UpdateBranchHead("proj", "main", "aaa"))
	fx.client.heads = map[string]string{"main": "fffffff1234"}
	fx.client.rangeErrs[rangeKey{"aaa", "fffffff1234"}] = git.ErrNotAncestor

	result, err := fx.engine.SyncRepository(context.Background(), "proj")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Resets)
	assert.Zero(t, result.NewCommits)

	require.Len(t, fx.transport.sent, 1)
	assert.Equal(t, "proj: branch main history was rewritten, now at fffffff", fx.transport.sent[0])

	// the marker jumps to the new head without commit enumeration
	heads, err := fx.registry.BranchHeads("proj")
	require.NoError(t, err)
	assert.Equal(t, "fffffff1234", heads["main"])
}

func TestSyncFetchTimeout(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, watchedRepo())
	require.NoError(t, fx.registry.UpdateBranchHead("proj", "main", "aaa"))
	fx.client.fetchErr = context.DeadlineExceeded

	_, err := fx.engine.SyncRepository(context.Background(), "proj")
	assert.ErrorIs(t, err, ErrSyncTimeout)

	// markers stay put, the next cycle retries from them
	heads, err := fx.registry.BranchHeads("proj")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"main": "aaa"}, heads)
}

func TestSyncFetchFailure(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, watchedRepo())
	fx.client.fetchErr = errors.New("remote unreachable")

	_, err := fx.engine.SyncRepository(context.Background(), "proj")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrSyncTimeout)
	assert.Empty(t, fx.transport.sent)
}

func TestSyncUnknownRepository(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, watchedRepo())
	_, err := fx.engine.SyncRepository(context.Background(), "ghost")
	assert.ErrorIs(t, err, registry.ErrNotFound)
	assert.Zero(t, fx.client.fetchCalls)
}

func TestSyncNewBranchAnnouncement(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		announce  bool
		wantLines int
	}{
		{name: "announce enabled", announce: true, wantLines: 1},
		{name: "announce disabled", announce: false, wantLines: 0},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			repo := watchedRepo()
			repo.AnnounceNewBranches = tt.announce
			fx := newFixture(t, repo)

			// the repository is already tracked, then a branch appears
			require.NoError(t, fx.registry.UpdateBranchHead("proj", "main", "aaa"))
			head := testCommit(9)
			fx.client.heads = map[string]string{"main": "aaa", "feature": head.Hash}
			fx.client.byID[head.Hash] = head

			result, err := fx.engine.SyncRepository(context.Background(), "proj")
			require.NoError(t, err)
			assert.Equal(t, 1, result.Baselined)
			assert.Len(t, fx.transport.sent, tt.wantLines)

			heads, err := fx.registry.BranchHeads("proj")
			require.NoError(t, err)
			assert.Equal(t, head.Hash, heads["feature"])
		})
	}
}

func TestSyncBranchFailureIsolated(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, watchedRepo())
	require.NoError(t, fx.registry.UpdateBranchHead("proj", "dev", "ccc"))
	require.NoError(t, fx.registry.UpdateBranchHead("proj", "main", "aaa"))
	fx.client.heads = map[string]string{"main": "bbb", "dev": "ddd"}
	fx.client.ranges[rangeKey{"aaa", "bbb"}] = []git.Commit{testCommit(1)}
	fx.client.rangeErrs[rangeKey{"ccc", "ddd"}] = errors.New("object not found")

	result, err := fx.engine.SyncRepository(context.Background(), "proj")
	require.NoError(t, err)
	assert.Equal(t, 1, result.NewCommits)

	// the healthy branch advanced, the broken one will retry next cycle
	heads, err := fx.registry.BranchHeads("proj")
	require.NoError(t, err)
	assert.Equal(t, "bbb", heads["main"])
	assert.Equal(t, "ccc", heads["dev"])
}

func TestSyncAdvancesMarkersDespiteDeliveryFailure(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, watchedRepo())
	require.NoError(t, fx.registry.UpdateBranchHead("proj", "main", "aaa"))
	fx.client.heads = map[string]string{"main": "bbb"}
	fx.client.ranges[rangeKey{"aaa", "bbb"}] = []git.Commit{testCommit(1)}
	fx.transport.err = errors.New("connection reset")

	// delivery was attempted; a crash would cost a duplicate, not a loss
	result, err := fx.engine.SyncRepository(context.Background(), "proj")
	require.NoError(t, err)
	assert.Equal(t, 1, result.NewCommits)

	heads, err := fx.registry.BranchHeads("proj")
	require.NoError(t, err)
	assert.Equal(t, "bbb", heads["main"])
}

func TestSyncRemovedMidPass(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, watchedRepo())
	require.NoError(t, fx.registry.UpdateBranchHead("proj", "main", "aaa"))
	fx.client.heads = map[string]string{"main": "bbb"}
	fx.client.ranges[rangeKey{"aaa", "bbb"}] = []git.Commit{testCommit(1)}

	// the removal lands between the marker snapshot and the marker write;
	// the write must become a no-op instead of resurrecting the repository
	fx.client.onFetch = func() {
		require.NoError(t, fx.registry.Remove("proj"))
	}

	result, err := fx.engine.SyncRepository(context.Background(), "proj")
	require.NoError(t, err)
	assert.Equal(t, 1, result.NewCommits)

	_, err = fx.registry.Get("proj")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

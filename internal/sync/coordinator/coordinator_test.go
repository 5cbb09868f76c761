package coordinator

import (
	"context"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dozodouzo/gitnotify/internal/git"
	"github.com/Dozodouzo/gitnotify/internal/registry"
	"github.com/Dozodouzo/gitnotify/internal/state"
	gitsync "github.com/Dozodouzo/gitnotify/internal/sync"
)

type stubClient struct{}

func (stubClient) Clone(context.Context, string, string) error { return nil }
func (stubClient) Fetch(context.Context, string) error         { return nil }
func (stubClient) BranchHeads(string) (map[string]string, error) {
	return map[string]string{}, nil
}
func (stubClient) CommitsBetween(string, string, string) ([]git.Commit, error) {
	return nil, nil
}
func (stubClient) CommitByID(string, string) (*git.Commit, error) {
	return nil, git.ErrCommitNotFound
}
func (stubClient) RecentCommits(string, string, int) ([]git.Commit, error) {
	return nil, nil
}

// fakeEngine records sync invocations and can hold them open.
type fakeEngine struct {
	mu      stdsync.Mutex
	calls   []string
	started chan string   // receives each repository as its pass starts
	release chan struct{} // when non-nil, passes block until it closes
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{started: make(chan string, 64)}
}

func (f *fakeEngine) SyncRepository(_ context.Context, name string) (*gitsync.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	f.mu.Unlock()

	f.started <- name
	if f.release != nil {
		<-f.release
	}
	return &gitsync.Result{Repository: name}, nil
}

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestRegistry(t *testing.T, names ...string) *registry.Registry {
	t.Helper()
	dir := t.TempDir()
	reg := registry.New(stubClient{}, state.NewFileStore(dir+"/state.json"))
	for _, name := range names {
		require.NoError(t, reg.Add(context.Background(), registry.Repository{
			Name:      name,
			RemoteURL: "https://example.com/" + name + ".git",
			LocalPath: dir + "/" + name,
			Branches:  []string{"*"},
		}))
	}
	return reg
}

// start runs the coordinator in the background and stops it on cleanup.
func start(t *testing.T, c Coordinator) {
	t.Helper()
	go func() {
		_ = c.Start(context.Background())
	}()
	t.Cleanup(func() {
		require.NoError(t, c.Stop())
	})
}

func waitFor(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		assert.Equal(t, want, got)
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for sync of %s", want)
	}
}

func TestCoordinatorTrigger(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	reg := newTestRegistry(t, "proj")
	c := New(engine, reg, Config{PollPeriod: 0})
	start(t, c)

	c.Trigger("proj")
	waitFor(t, engine.started, "proj")
}

func TestCoordinatorInitialPassSyncsEveryRepository(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	reg := newTestRegistry(t, "alpha", "beta")
	c := New(engine, reg, Config{PollPeriod: time.Hour})
	start(t, c)

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		select {
		case name := <-engine.started:
			seen[name] = true
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for initial pass")
		}
	}
	assert.True(t, seen["alpha"])
	assert.True(t, seen["beta"])
}

func TestCoordinatorSkipsRepositoryAlreadySyncing(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	engine.release = make(chan struct{})
	reg := newTestRegistry(t, "proj")
	c := New(engine, reg, Config{PollPeriod: 0})
	start(t, c)

	c.Trigger("proj")
	waitFor(t, engine.started, "proj")

	// the first pass is still in flight, so these are all dropped
	for i := 0; i < 5; i++ {
		c.Trigger("proj")
	}
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, engine.callCount())

	close(engine.release)
}

func TestCoordinatorReloadStartsTicker(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	reg := newTestRegistry(t, "proj")
	c := New(engine, reg, Config{PollPeriod: 0})
	start(t, c)

	// polling was disabled; a reload with a short period turns it on
	c.Reload(10 * time.Millisecond)
	waitFor(t, engine.started, "proj")
}

func TestCoordinatorStopWaitsForInflightPass(t *testing.T) {
	t.Parallel()

	engine := newFakeEngine()
	engine.release = make(chan struct{})
	reg := newTestRegistry(t, "proj")
	c := New(engine, reg, Config{PollPeriod: 0})

	go func() {
		_ = c.Start(context.Background())
	}()
	c.Trigger("proj")
	waitFor(t, engine.started, "proj")

	stopped := make(chan struct{})
	go func() {
		require.NoError(t, c.Stop())
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a pass was in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(engine.release)
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after the pass finished")
	}
}

package mutate

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/signalcache/internal/cache"
	"github.com/sawpanic/signalcache/internal/models"
)

type fakeRemote struct {
	mu      sync.Mutex
	calls   int
	result  bool
	err     error
	started chan string   // receives signalID when a write begins
	release chan struct{} // blocks the write until closed/sent
}

func (f *fakeRemote) MutateSaved(ctx context.Context, signalID string) (bool, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.started != nil {
		f.started <- signalID
	}
	if f.release != nil {
		<-f.release
	}
	return f.result, f.err
}

func (f *fakeRemote) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func sig(id string, savedBy ...string) models.Signal {
	return models.Signal{
		ID:       id,
		Market:   "BTC-USD",
		SavedBy:  models.NewIDSet(savedBy...),
		ViewedBy: models.NewIDSet(),
	}
}

func seededStore() *cache.Store {
	store := cache.NewStore()
	store.SetList("fp-1", models.ListResult{Signals: []models.Signal{sig("x"), sig("y")}, TotalCount: 2})
	store.SetList("fp-2", models.ListResult{Signals: []models.Signal{sig("x")}, TotalCount: 1})
	store.SetDetail(sig("x"))
	return store
}

func TestEngine_ToggleSavedOptimisticCommit(t *testing.T) {
	store := seededStore()
	remote := &fakeRemote{result: true}
	engine := NewEngine(store, remote, nil)

	saved, err := engine.ToggleSaved(context.Background(), "x", "u1")
	require.NoError(t, err)
	assert.True(t, saved)
	assert.Equal(t, 1, remote.callCount(), "exactly one remote write per apply")

	for _, fp := range []models.Fingerprint{"fp-1", "fp-2"} {
		entry, _ := store.GetList(fp)
		for _, s := range entry.Result.Signals {
			if s.ID == "x" {
				assert.True(t, s.SavedBy.Has("u1"), "list %s reflects the toggle", fp)
			}
		}
		assert.True(t, entry.Stale, "affected list %s marked stale after commit", fp)
	}

	detail, _ := store.GetDetail("x")
	assert.True(t, detail.Signal.SavedBy.Has("u1"))
	assert.True(t, detail.Stale)
}

func TestEngine_UntouchedListsNotMarkedStale(t *testing.T) {
	store := seededStore()
	store.SetList("fp-other", models.ListResult{Signals: []models.Signal{sig("z")}, TotalCount: 1})
	engine := NewEngine(store, &fakeRemote{result: true}, nil)

	_, err := engine.ToggleSaved(context.Background(), "x", "u1")
	require.NoError(t, err)

	entry, _ := store.GetList("fp-other")
	assert.False(t, entry.Stale, "lists not containing the target stay fresh")
}

func TestEngine_RollbackRestoresExactState(t *testing.T) {
	store := seededStore()
	before1, _ := store.GetList("fp-1")
	before2, _ := store.GetList("fp-2")
	beforeDetail, _ := store.GetDetail("x")

	remote := &fakeRemote{err: errors.New("503 from upstream")}
	engine := NewEngine(store, remote, nil)

	_, err := engine.ToggleSaved(context.Background(), "x", "u1")
	require.ErrorIs(t, err, ErrMutation)

	after1, _ := store.GetList("fp-1")
	after2, _ := store.GetList("fp-2")
	afterDetail, _ := store.GetDetail("x")
	assert.Equal(t, before1, after1, "fp-1 byte-for-byte restored")
	assert.Equal(t, before2, after2, "fp-2 byte-for-byte restored")
	assert.Equal(t, beforeDetail, afterDetail, "detail byte-for-byte restored")
	assert.Equal(t, 1, remote.callCount(), "no automatic retry")
}

func TestEngine_ToggleUnsave(t *testing.T) {
	store := cache.NewStore()
	store.SetDetail(sig("x", "u1"))
	engine := NewEngine(store, &fakeRemote{result: false}, nil)

	saved, err := engine.ToggleSaved(context.Background(), "x", "u1")
	require.NoError(t, err)
	assert.False(t, saved)

	detail, _ := store.GetDetail("x")
	assert.False(t, detail.Signal.SavedBy.Has("u1"))
}

func TestEngine_ServerDisagreementWins(t *testing.T) {
	// Cache says unsaved, so the speculation adds u1; the server answers
	// that the settled state is unsaved (e.g. the toggle raced a remote
	// unsave). The server's value must end up in the cache.
	store := cache.NewStore()
	store.SetDetail(sig("x"))
	engine := NewEngine(store, &fakeRemote{result: false}, nil)

	saved, err := engine.ToggleSaved(context.Background(), "x", "u1")
	require.NoError(t, err)
	assert.False(t, saved)

	detail, _ := store.GetDetail("x")
	assert.False(t, detail.Signal.SavedBy.Has("u1"))
}

func TestEngine_ConcurrentToggleSameIdentityRejected(t *testing.T) {
	store := seededStore()
	remote := &fakeRemote{result: true, started: make(chan string, 1), release: make(chan struct{})}
	engine := NewEngine(store, remote, nil)

	done := make(chan error, 1)
	go func() {
		_, err := engine.ToggleSaved(context.Background(), "x", "u1")
		done <- err
	}()
	<-remote.started // first toggle is now mid-flight

	_, err := engine.ToggleSaved(context.Background(), "x", "u2")
	assert.ErrorIs(t, err, ErrMutationInFlight)

	close(remote.release)
	require.NoError(t, <-done)

	// Identity is free again once the first apply settles.
	assert.False(t, engine.InFlight("x"))
}

func TestEngine_DifferentIdentitiesDoNotSerialize(t *testing.T) {
	store := seededStore()
	remote := &fakeRemote{result: true, started: make(chan string, 2), release: make(chan struct{})}
	engine := NewEngine(store, remote, nil)

	done := make(chan error, 2)
	go func() {
		_, err := engine.ToggleSaved(context.Background(), "x", "u1")
		done <- err
	}()
	go func() {
		_, err := engine.ToggleSaved(context.Background(), "y", "u1")
		done <- err
	}()

	<-remote.started
	<-remote.started // both in flight concurrently
	close(remote.release)
	require.NoError(t, <-done)
	require.NoError(t, <-done)
}

func TestEngine_InvalidatedCompletionDiscarded(t *testing.T) {
	store := seededStore()
	remote := &fakeRemote{err: errors.New("timeout"), started: make(chan string, 1), release: make(chan struct{})}
	engine := NewEngine(store, remote, nil)

	done := make(chan error, 1)
	go func() {
		_, err := engine.ToggleSaved(context.Background(), "x", "u1")
		done <- err
	}()
	<-remote.started

	// The originating scope is torn down mid-flight; the eventual failed
	// completion must not roll the cache back under whoever owns it now.
	engine.Invalidate("x")
	close(remote.release)
	require.ErrorIs(t, <-done, ErrMutation)

	detail, _ := store.GetDetail("x")
	assert.True(t, detail.Signal.SavedBy.Has("u1"),
		"speculative value left in place; no rollback for invalidated target")
}

func TestEngine_ToggleOnUncachedSignalStillWrites(t *testing.T) {
	store := cache.NewStore()
	remote := &fakeRemote{result: true}
	engine := NewEngine(store, remote, nil)

	saved, err := engine.ToggleSaved(context.Background(), "ghost", "u1")
	require.NoError(t, err)
	assert.True(t, saved)
	assert.Equal(t, 1, remote.callCount())

	_, ok := store.GetDetail("ghost")
	assert.False(t, ok, "no detail entry conjured for uncached signal")
}

package refresh

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/signalcache/internal/cache"
	"github.com/sawpanic/signalcache/internal/models"
)

func seededStore() *cache.Store {
	store := cache.NewStore()
	store.SetList("fp", models.ListResult{Signals: nil, TotalCount: 0})
	return store
}

func TestCoordinator_ManualRefreshInvalidatesAndRuns(t *testing.T) {
	store := seededStore()
	var runs atomic.Int64
	c := New(store, Config{
		Keys: []cache.Key{cache.ListKey("fp")},
		Do: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	}, nil)

	c.Refresh(context.Background())

	assert.Equal(t, int64(1), runs.Load())
	entry, _ := store.GetList("fp")
	assert.True(t, entry.Stale)
	assert.False(t, c.State().IsRefreshing, "flag cleared after completion")
}

func TestCoordinator_SingleFlight(t *testing.T) {
	store := seededStore()
	var runs atomic.Int64
	block := make(chan struct{})
	started := make(chan struct{})
	c := New(store, Config{
		Keys: []cache.Key{cache.ListKey("fp")},
		Do: func(ctx context.Context) error {
			runs.Add(1)
			close(started)
			<-block
			return nil
		},
	}, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Refresh(context.Background())
	}()
	<-started

	// Both of these land while the first is pending.
	c.Refresh(context.Background())
	c.Refresh(context.Background())

	close(block)
	wg.Wait()
	assert.Equal(t, int64(1), runs.Load(), "overlapping calls collapse into one execution")
}

func TestCoordinator_CallbackErrorSwallowedStateReset(t *testing.T) {
	store := seededStore()
	c := New(store, Config{
		Keys: []cache.Key{cache.ListKey("fp")},
		Do:   func(ctx context.Context) error { return errors.New("fetch failed") },
	}, nil)

	c.Refresh(context.Background()) // must not panic or propagate

	assert.False(t, c.State().IsRefreshing)
	entry, _ := store.GetList("fp")
	assert.True(t, entry.Stale, "keys stay stale so the next consumer retries")
}

func TestCoordinator_GestureBelowThresholdNoRefresh(t *testing.T) {
	store := seededStore()
	var runs, haptics atomic.Int64
	c := New(store, Config{
		Threshold:  70,
		Resistance: 0.5,
		Do:         func(ctx context.Context) error { runs.Add(1); return nil },
		OnTrigger:  func() { haptics.Add(1) },
	}, nil)

	c.PointerDown(100, 0)
	c.PointerMove(200) // raw 100 × 0.5 = 50 < 70
	st := c.State()
	assert.Equal(t, 50.0, st.PullDistance)
	assert.False(t, st.CanRefresh)

	c.PointerUp(context.Background())

	assert.Equal(t, int64(0), runs.Load())
	assert.Equal(t, int64(0), haptics.Load())
	assert.Equal(t, State{Phase: PhaseIdle}, c.State(), "fully reset on release")
}

func TestCoordinator_GestureCrossThresholdOneTriggerOneRefresh(t *testing.T) {
	store := seededStore()
	var runs, haptics atomic.Int64
	c := New(store, Config{
		Threshold:  70,
		Resistance: 0.5,
		Keys:       []cache.Key{cache.ListKey("fp")},
		Do:         func(ctx context.Context) error { runs.Add(1); return nil },
		OnTrigger:  func() { haptics.Add(1) },
	}, nil)

	c.PointerDown(0, 0)
	c.PointerMove(140) // 70 ≥ 70: crossing
	c.PointerMove(200) // further past threshold
	c.PointerMove(300)
	assert.Equal(t, int64(1), haptics.Load(), "trigger fires exactly once per gesture")

	st := c.State()
	assert.True(t, st.CanRefresh)
	assert.True(t, st.IsTriggered)

	c.PointerUp(context.Background())
	assert.Equal(t, int64(1), runs.Load(), "exactly one refresh on release")
	assert.Equal(t, State{Phase: PhaseIdle}, c.State())

	entry, _ := store.GetList("fp")
	assert.True(t, entry.Stale)
}

func TestCoordinator_RetriggerRequiresNewGesture(t *testing.T) {
	store := seededStore()
	var haptics atomic.Int64
	c := New(store, Config{Threshold: 10, Resistance: 1, OnTrigger: func() { haptics.Add(1) }}, nil)

	c.PointerDown(0, 0)
	c.PointerMove(20)
	c.PointerUp(context.Background())

	c.PointerDown(0, 0)
	c.PointerMove(20)
	c.PointerUp(context.Background())

	assert.Equal(t, int64(2), haptics.Load(), "one trigger per gesture")
}

func TestCoordinator_GestureIgnoredWhenScrolled(t *testing.T) {
	store := seededStore()
	c := New(store, Config{}, nil)

	c.PointerDown(0, 120) // not at scroll top
	c.PointerMove(500)

	st := c.State()
	assert.Equal(t, PhaseIdle, st.Phase)
	assert.Zero(t, st.PullDistance)
}

func TestCoordinator_GestureIgnoredWhileRefreshing(t *testing.T) {
	store := seededStore()
	block := make(chan struct{})
	started := make(chan struct{})
	c := New(store, Config{
		Do: func(ctx context.Context) error {
			close(started)
			<-block
			return nil
		},
	}, nil)

	go c.Refresh(context.Background())
	<-started

	assert.False(t, c.Enabled())
	c.PointerDown(0, 0)
	assert.Equal(t, PhaseIdle, c.State().Phase, "gesture is a no-op mid-refresh")

	close(block)
}

func TestCoordinator_UpwardDragClampsToZero(t *testing.T) {
	store := seededStore()
	c := New(store, Config{}, nil)

	c.PointerDown(100, 0)
	c.PointerMove(40) // dragged up

	assert.Zero(t, c.State().PullDistance)
	c.PointerUp(context.Background())
}

func TestCoordinator_PanickingCallbackStillResets(t *testing.T) {
	store := seededStore()
	c := New(store, Config{
		Threshold:  10,
		Resistance: 1,
		Do:         func(ctx context.Context) error { panic("boom") },
	}, nil)

	c.PointerDown(0, 0)
	c.PointerMove(50)
	require.Panics(t, func() { c.PointerUp(context.Background()) })

	st := c.State()
	assert.Equal(t, PhaseIdle, st.Phase, "gesture reset even when the callback panics")
	assert.False(t, st.IsRefreshing)
	assert.Zero(t, st.PullDistance)
	assert.False(t, st.IsTriggered)
}

func TestCoordinator_SetEnabledCancelsTracking(t *testing.T) {
	store := seededStore()
	c := New(store, Config{}, nil)

	c.PointerDown(0, 0)
	c.PointerMove(30)
	c.SetEnabled(false)

	assert.Equal(t, PhaseIdle, c.State().Phase)
	c.PointerMove(300)
	assert.Zero(t, c.State().PullDistance)
}

package refresh

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/signalcache/internal/cache"
	"github.com/sawpanic/signalcache/internal/metrics"
)

// Phase is the gesture state machine position.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseTracking   Phase = "tracking"
	PhaseRefreshing Phase = "refreshing"
)

const (
	defaultThreshold  = 70.0
	defaultResistance = 0.5
)

// Config wires one coordinator. Keys are the cache entries invalidated
// on every refresh; Do is the optional refetch callback awaited after
// invalidation; OnTrigger fires once per gesture when the pull first
// crosses the threshold (haptic confirmation).
type Config struct {
	Threshold  float64
	Resistance float64
	Keys       []cache.Key
	Do         func(ctx context.Context) error
	OnTrigger  func()
}

// State is the consumer-facing refresh surface.
type State struct {
	Phase        Phase
	IsRefreshing bool
	PullDistance float64
	CanRefresh   bool
	IsTriggered  bool
}

// Coordinator drives manual and gesture-triggered invalidation.
// Manual refresh is single-flight: calls made while one is pending
// return immediately without a second execution. Gesture tracking
// computes a resistance-damped pull distance from pointer positions and
// invokes the manual path when released past the threshold. Every exit
// from a gesture, including a panicking refresh callback, resets pull
// distance and trigger flags before returning to idle.
type Coordinator struct {
	store   *cache.Store
	cfg     Config
	metrics *metrics.Registry

	mu         sync.Mutex
	enabled    bool
	refreshing bool
	phase      Phase
	startY     float64
	pull       float64
	canRefresh bool
	triggered  bool
}

func New(store *cache.Store, cfg Config, reg *metrics.Registry) *Coordinator {
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaultThreshold
	}
	if cfg.Resistance <= 0 {
		cfg.Resistance = defaultResistance
	}
	return &Coordinator{
		store:   store,
		cfg:     cfg,
		metrics: reg,
		enabled: true,
		phase:   PhaseIdle,
	}
}

// SetEnabled turns gesture tracking on or off wholesale (e.g. while a
// modal owns the pointer).
func (c *Coordinator) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled
	if !enabled {
		c.resetGestureLocked()
	}
}

// Enabled reports whether a new gesture would be tracked right now.
func (c *Coordinator) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled && !c.refreshing
}

// State returns a snapshot of the refresh surface.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Phase:        c.phase,
		IsRefreshing: c.refreshing,
		PullDistance: c.pull,
		CanRefresh:   c.canRefresh,
		IsTriggered:  c.triggered,
	}
}

// Refresh is the manual entry point: invalidate the configured keys and
// await the refetch callback. A refresh already in flight absorbs the
// call. Callback errors are logged and swallowed; the cache keys stay
// marked stale so the next consumer retries.
func (c *Coordinator) Refresh(ctx context.Context) {
	c.refresh(ctx, "manual")
}

func (c *Coordinator) refresh(ctx context.Context, trigger string) {
	c.mu.Lock()
	if c.refreshing {
		c.mu.Unlock()
		c.metrics.RefreshAbsorbed()
		log.Debug().Str("trigger", trigger).Msg("Refresh already in flight, call absorbed")
		return
	}
	c.refreshing = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.refreshing = false
		c.mu.Unlock()
	}()

	c.store.MarkStale(c.cfg.Keys...)
	c.metrics.RefreshRun(trigger)

	if c.cfg.Do == nil {
		return
	}
	if err := c.cfg.Do(ctx); err != nil {
		log.Warn().Err(err).Str("trigger", trigger).Msg("Refresh callback failed")
	}
}

// PointerDown starts gesture tracking. Tracking only begins when the
// container is scrolled to the top and no refresh is in flight, so pull
// gestures never fight ordinary scrolling.
func (c *Coordinator) PointerDown(y, scrollTop float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled || c.refreshing || scrollTop > 0 || c.phase != PhaseIdle {
		return
	}
	c.phase = PhaseTracking
	c.startY = y
	c.pull = 0
	c.canRefresh = false
	c.triggered = false
}

// PointerMove updates the resisted pull distance and fires the one-shot
// trigger side effect on the first threshold crossing.
func (c *Coordinator) PointerMove(y float64) {
	c.mu.Lock()
	if c.phase != PhaseTracking {
		c.mu.Unlock()
		return
	}
	raw := y - c.startY
	if raw < 0 {
		raw = 0
	}
	c.pull = raw * c.cfg.Resistance
	c.canRefresh = c.pull >= c.cfg.Threshold

	fire := c.canRefresh && !c.triggered
	if fire {
		c.triggered = true
	}
	onTrigger := c.cfg.OnTrigger
	c.mu.Unlock()

	if fire && onTrigger != nil {
		onTrigger()
	}
}

// PointerUp ends the gesture: past the threshold it runs one refresh,
// otherwise it resets to idle with no network effect. Gesture state is
// reset on every path out, including a panicking callback.
func (c *Coordinator) PointerUp(ctx context.Context) {
	c.mu.Lock()
	if c.phase != PhaseTracking {
		c.mu.Unlock()
		return
	}
	canRefresh := c.canRefresh
	if canRefresh {
		c.phase = PhaseRefreshing
	} else {
		c.resetGestureLocked()
	}
	c.mu.Unlock()

	if !canRefresh {
		return
	}

	defer func() {
		c.mu.Lock()
		c.resetGestureLocked()
		c.mu.Unlock()
	}()
	c.refresh(ctx, "gesture")
}

// resetGestureLocked zeroes all gesture state. Callers hold c.mu.
func (c *Coordinator) resetGestureLocked() {
	c.phase = PhaseIdle
	c.startY = 0
	c.pull = 0
	c.canRefresh = false
	c.triggered = false
}

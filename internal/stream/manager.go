package stream

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/signalcache/internal/dispatch"
	"github.com/sawpanic/signalcache/internal/metrics"
)

// Manager multiplexes one channel per market scope over a shared
// dispatcher. Channels are reference counted: the first Acquire for a
// scope opens it, the last Release tears it down. Visibility and
// connectivity are process-wide conditions applied to every channel.
type Manager struct {
	subscriber Subscriber
	dispatcher *dispatch.Dispatcher
	sink       EventSink
	backoff    BackoffPolicy
	metrics    *metrics.Registry

	onConnect    func(scope string)
	onDisconnect func(scope string)

	mu       sync.Mutex
	channels map[string]*managedChannel
	visible  bool
	online   bool
}

type managedChannel struct {
	ch   *Channel
	refs int
}

// ManagerConfig wires a manager. Subscriber and Dispatcher are
// required.
type ManagerConfig struct {
	Subscriber   Subscriber
	Dispatcher   *dispatch.Dispatcher
	Sink         EventSink
	Backoff      BackoffPolicy
	Metrics      *metrics.Registry
	OnConnect    func(scope string)
	OnDisconnect func(scope string)
}

func NewManager(cfg ManagerConfig) *Manager {
	return &Manager{
		subscriber:   cfg.Subscriber,
		dispatcher:   cfg.Dispatcher,
		sink:         cfg.Sink,
		backoff:      cfg.Backoff,
		metrics:      cfg.Metrics,
		onConnect:    cfg.OnConnect,
		onDisconnect: cfg.OnDisconnect,
		channels:     make(map[string]*managedChannel),
		visible:      true,
		online:       true,
	}
}

// Acquire subscribes a consumer to scope, opening the channel on first
// use. The channel starts suspended if the process is currently hidden
// or offline.
func (m *Manager) Acquire(ctx context.Context, scope string) *Channel {
	m.mu.Lock()
	defer m.mu.Unlock()

	if mc, ok := m.channels[scope]; ok {
		mc.refs++
		return mc.ch
	}

	ch := NewChannel(ChannelConfig{
		Scope:        scope,
		Subscriber:   m.subscriber,
		Dispatcher:   m.dispatcher,
		Sink:         m.sink,
		Backoff:      m.backoff,
		Metrics:      m.metrics,
		OnConnect:    m.onConnect,
		OnDisconnect: m.onDisconnect,
	})
	ch.Start(ctx)
	if !m.visible || !m.online {
		ch.Suspend()
	}
	m.channels[scope] = &managedChannel{ch: ch, refs: 1}
	log.Info().Str("scope", scope).Msg("Channel acquired")
	return ch
}

// Release drops one consumer reference; the channel closes when the
// last reference goes. In-flight work completing afterwards still
// writes into the shared store, which outlives individual consumers.
func (m *Manager) Release(scope string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	mc, ok := m.channels[scope]
	if !ok {
		return
	}
	mc.refs--
	if mc.refs > 0 {
		return
	}
	mc.ch.Close()
	delete(m.channels, scope)
	log.Info().Str("scope", scope).Msg("Channel released")
}

// Reconnect forces an immediate fresh connect for scope, bypassing any
// backoff in progress.
func (m *Manager) Reconnect(scope string) {
	m.mu.Lock()
	mc, ok := m.channels[scope]
	m.mu.Unlock()
	if ok {
		mc.ch.Reconnect()
	}
}

// SetVisible records tab visibility. Losing visibility suspends every
// channel; regaining it resumes them when the network is also up.
func (m *Manager) SetVisible(visible bool) {
	m.setCondition(func() { m.visible = visible })
}

// SetOnline records network connectivity, with the same suspension
// semantics as SetVisible.
func (m *Manager) SetOnline(online bool) {
	m.setCondition(func() { m.online = online })
}

func (m *Manager) setCondition(apply func()) {
	m.mu.Lock()
	wasLive := m.visible && m.online
	apply()
	isLive := m.visible && m.online
	chs := make([]*Channel, 0, len(m.channels))
	for _, mc := range m.channels {
		chs = append(chs, mc.ch)
	}
	m.mu.Unlock()

	switch {
	case wasLive && !isLive:
		for _, ch := range chs {
			ch.Suspend()
		}
	case !wasLive && isLive:
		for _, ch := range chs {
			ch.Resume()
		}
	}
}

// Status returns the channel status for one scope, or a zero Status in
// CLOSED state if the scope is not held.
func (m *Manager) Status(scope string) Status {
	m.mu.Lock()
	mc, ok := m.channels[scope]
	m.mu.Unlock()
	if !ok {
		return Status{Scope: scope, State: StateClosed}
	}
	return mc.ch.Status()
}

// AnyOpen reports whether at least one held channel is OPEN.
func (m *Manager) AnyOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mc := range m.channels {
		if mc.ch.State() == StateOpen {
			return true
		}
	}
	return false
}

// AnyErrored reports whether at least one held channel carries a
// connection error.
func (m *Manager) AnyErrored() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mc := range m.channels {
		if mc.ch.Status().Err != nil {
			return true
		}
	}
	return false
}

// Scopes lists the scopes currently held.
func (m *Manager) Scopes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.channels))
	for scope := range m.channels {
		out = append(out, scope)
	}
	return out
}

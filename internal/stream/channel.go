package stream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/signalcache/internal/dispatch"
	"github.com/sawpanic/signalcache/internal/metrics"
)

// State is the connection lifecycle position of one channel.
type State string

const (
	StateClosed     State = "closed"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateBackoff    State = "backoff"
	StateSuspended  State = "suspended"
)

type command int

const (
	cmdSuspend command = iota
	cmdResume
	cmdReconnect
	cmdClose
)

// Status is the observability surface of one channel.
type Status struct {
	Scope     string
	State     State
	Connected bool
	Err       error
	LastEvent *dispatch.Event
	Attempts  int
}

// Channel runs the subscription state machine for one scope:
//
//	CLOSED → CONNECTING → OPEN → BACKOFF → CONNECTING → …
//
// with SUSPENDED reachable from any live state on tab-hidden or
// network-offline conditions. Suspension tears the subscription down
// without counting as a failure; resuming attempts a fresh connect.
// Each teardown bumps a generation counter so events delivered by a
// stale subscription are discarded instead of mutating the cache.
type Channel struct {
	scope        string
	sub          Subscriber
	dispatcher   *dispatch.Dispatcher
	sink         EventSink
	backoff      BackoffPolicy
	onConnect    func(scope string)
	onDisconnect func(scope string)
	metrics      *metrics.Registry

	mu         sync.Mutex
	state      State
	attempt    int
	generation uint64
	lastEvent  *dispatch.Event
	lastErr    error

	cmds    chan command
	stopped chan struct{}
}

// ChannelConfig wires one channel. Subscriber and Scope are required;
// everything else is optional.
type ChannelConfig struct {
	Scope        string
	Subscriber   Subscriber
	Dispatcher   *dispatch.Dispatcher
	Sink         EventSink
	Backoff      BackoffPolicy
	OnConnect    func(scope string)
	OnDisconnect func(scope string)
	Metrics      *metrics.Registry
}

func NewChannel(cfg ChannelConfig) *Channel {
	bo := cfg.Backoff
	if bo.Base <= 0 {
		bo = DefaultBackoff()
	}
	return &Channel{
		scope:        cfg.Scope,
		sub:          cfg.Subscriber,
		dispatcher:   cfg.Dispatcher,
		sink:         cfg.Sink,
		backoff:      bo,
		onConnect:    cfg.OnConnect,
		onDisconnect: cfg.OnDisconnect,
		metrics:      cfg.Metrics,
		state:        StateClosed,
		cmds:         make(chan command, 8),
		stopped:      make(chan struct{}),
	}
}

// Start moves the channel to CONNECTING and runs the state machine
// until Close or ctx cancellation.
func (c *Channel) Start(ctx context.Context) {
	c.setState(StateConnecting)
	go c.run(ctx)
}

// Suspend tears down the live subscription without incrementing the
// failure counter. Used on tab-hidden and network-offline transitions.
func (c *Channel) Suspend() { c.send(cmdSuspend) }

// Resume leaves SUSPENDED and attempts a fresh connect.
func (c *Channel) Resume() { c.send(cmdResume) }

// Reconnect tears down any existing subscription, resets the failure
// counter and connects immediately, bypassing backoff.
func (c *Channel) Reconnect() { c.send(cmdReconnect) }

// Close permanently stops the channel.
func (c *Channel) Close() { c.send(cmdClose) }

func (c *Channel) send(cmd command) {
	select {
	case c.cmds <- cmd:
	case <-c.stopped:
	}
}

// Status returns a consistent snapshot of the channel's state.
func (c *Channel) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Scope:     c.scope,
		State:     c.state,
		Connected: c.state == StateOpen,
		Err:       c.lastErr,
		LastEvent: c.lastEvent,
		Attempts:  c.attempt,
	}
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Channel) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Channel) bumpGeneration() uint64 {
	c.mu.Lock()
	c.generation++
	gen := c.generation
	c.mu.Unlock()
	return gen
}

func (c *Channel) run(ctx context.Context) {
	defer close(c.stopped)
	for {
		if ctx.Err() != nil {
			c.setState(StateClosed)
		}
		switch c.State() {
		case StateClosed:
			return
		case StateConnecting:
			c.connect(ctx)
		case StateBackoff:
			c.waitBackoff(ctx)
		case StateSuspended:
			c.waitResume(ctx)
		}
	}
}

// connect performs one subscribe attempt and, on success, holds the
// channel OPEN until the subscription fails, a command arrives, or the
// context ends. Every exit from OPEN fires exactly one disconnect
// callback.
func (c *Channel) connect(ctx context.Context) {
	gen := c.bumpGeneration()
	c.metrics.ReconnectAttempt(c.scope)

	sub, err := c.sub.Subscribe(ctx, c.scope, c.handler(gen))
	if err != nil {
		c.mu.Lock()
		c.lastErr = fmt.Errorf("%w: subscribe %s: %v", ErrConnection, c.scope, err)
		c.state = StateBackoff
		c.mu.Unlock()
		log.Warn().Err(err).Str("scope", c.scope).Msg("Subscribe failed, backing off")
		return
	}

	c.mu.Lock()
	c.attempt = 0
	c.lastErr = nil
	c.state = StateOpen
	c.mu.Unlock()
	c.metrics.SetChannelOpen(c.scope, true)
	if c.onConnect != nil {
		c.onConnect(c.scope)
	}
	log.Info().Str("scope", c.scope).Msg("Channel open")

	defer func() {
		c.metrics.SetChannelOpen(c.scope, false)
		if c.onDisconnect != nil {
			c.onDisconnect(c.scope)
		}
	}()

	for {
		select {
		case err := <-sub.Done():
			_ = sub.Close()
			c.bumpGeneration()
			c.mu.Lock()
			c.lastErr = fmt.Errorf("%w: %v", ErrConnection, err)
			c.state = StateBackoff
			c.mu.Unlock()
			log.Warn().Err(err).Str("scope", c.scope).Msg("Channel lost, backing off")
			return
		case cmd := <-c.cmds:
			switch cmd {
			case cmdSuspend:
				_ = sub.Close()
				c.bumpGeneration()
				c.setState(StateSuspended)
				log.Info().Str("scope", c.scope).Msg("Channel suspended")
				return
			case cmdReconnect:
				_ = sub.Close()
				c.bumpGeneration()
				c.mu.Lock()
				c.attempt = 0
				c.state = StateConnecting
				c.mu.Unlock()
				return
			case cmdClose:
				_ = sub.Close()
				c.bumpGeneration()
				c.setState(StateClosed)
				log.Info().Str("scope", c.scope).Msg("Channel closed")
				return
			case cmdResume:
				// Already open.
			}
		case <-ctx.Done():
			_ = sub.Close()
			c.bumpGeneration()
			c.setState(StateClosed)
			return
		}
	}
}

func (c *Channel) waitBackoff(ctx context.Context) {
	c.mu.Lock()
	delay := c.backoff.Delay(c.attempt)
	c.attempt++
	c.mu.Unlock()

	log.Debug().Str("scope", c.scope).Dur("delay", delay).Msg("Reconnect backoff")
	timer := time.NewTimer(delay)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			c.setState(StateConnecting)
			return
		case cmd := <-c.cmds:
			switch cmd {
			case cmdSuspend:
				c.setState(StateSuspended)
				return
			case cmdReconnect:
				c.mu.Lock()
				c.attempt = 0
				c.state = StateConnecting
				c.mu.Unlock()
				return
			case cmdClose:
				c.setState(StateClosed)
				return
			case cmdResume:
				// Not suspended; keep waiting.
			}
		case <-ctx.Done():
			c.setState(StateClosed)
			return
		}
	}
}

func (c *Channel) waitResume(ctx context.Context) {
	for {
		select {
		case cmd := <-c.cmds:
			switch cmd {
			case cmdResume:
				c.setState(StateConnecting)
				return
			case cmdReconnect:
				c.mu.Lock()
				c.attempt = 0
				c.state = StateConnecting
				c.mu.Unlock()
				return
			case cmdClose:
				c.setState(StateClosed)
				return
			case cmdSuspend:
				// Already suspended.
			}
		case <-ctx.Done():
			c.setState(StateClosed)
			return
		}
	}
}

// handler builds the per-subscription event callback. The captured
// generation discards deliveries from subscriptions that have since
// been torn down.
func (c *Channel) handler(gen uint64) func(dispatch.Event) {
	return func(ev dispatch.Event) {
		c.mu.Lock()
		if gen != c.generation {
			c.mu.Unlock()
			log.Debug().Str("scope", c.scope).Str("signal_id", ev.Signal.ID).Msg("Dropping event from stale subscription")
			return
		}
		if ev.ReceivedAt.IsZero() {
			ev.ReceivedAt = time.Now()
		}
		evCopy := ev
		c.lastEvent = &evCopy
		c.mu.Unlock()

		if c.sink != nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			if err := c.sink.Record(ctx, c.scope, ev); err != nil {
				log.Warn().Err(err).Str("scope", c.scope).Msg("Event journal write failed")
			}
			cancel()
		}
		if c.dispatcher != nil {
			c.dispatcher.Apply(c.scope, ev)
		}
	}
}

package stream

import (
	"context"
	"errors"

	"github.com/sawpanic/signalcache/internal/dispatch"
)

// ErrConnection wraps transport-level failures to open or hold a
// subscription. It is recoverable: the channel state machine backs off
// and retries, surfacing the error as a status flag rather than
// propagating it.
var ErrConnection = errors.New("connection error")

// Subscriber opens one live event subscription for a scope. The
// transport delivers events in receipt order for that scope; ordering
// across scopes is not guaranteed.
type Subscriber interface {
	Subscribe(ctx context.Context, scope string, onEvent func(dispatch.Event)) (Subscription, error)
}

// Subscription is one open subscription. Done yields the terminal
// transport error when the subscription fails; Close tears it down and
// stops event delivery.
type Subscription interface {
	Done() <-chan error
	Close() error
}

// EventSink receives every event a channel accepts, before dispatch.
// Sink failures never block dispatch.
type EventSink interface {
	Record(ctx context.Context, scope string, ev dispatch.Event) error
}

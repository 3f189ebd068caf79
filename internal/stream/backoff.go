package stream

import "time"

// BackoffPolicy computes reconnection delays: exponential from Base,
// capped at Max. The attempt counter is owned by the channel and resets
// to zero on every successful open.
type BackoffPolicy struct {
	Base time.Duration
	Max  time.Duration
}

// DefaultBackoff matches the server contract: 1s, 2s, 4s, ... capped at 30s.
func DefaultBackoff() BackoffPolicy {
	return BackoffPolicy{Base: time.Second, Max: 30 * time.Second}
}

// Delay returns the wait before reconnect attempt number attempt, where
// attempt counts prior consecutive failures (0 for the first retry).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	d := p.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.Max {
			return p.Max
		}
	}
	if d > p.Max {
		return p.Max
	}
	return d
}

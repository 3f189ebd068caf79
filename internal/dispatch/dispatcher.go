package dispatch

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/signalcache/internal/cache"
	"github.com/sawpanic/signalcache/internal/metrics"
	"github.com/sawpanic/signalcache/internal/models"
)

// Dispatcher applies live events to every cache entry they can affect.
// Events are applied atomically per event: all store mutations for one
// event complete before any reader can observe a partial application.
//
// The mutation table:
//
//	created  prepend to every cached list, count+1   no detail effect   aggregate stale
//	updated  replace matching entry in place         replace if cached  aggregate stale
//	expired  set is_expired, never remove            set if cached      aggregate stale
//
// A created event is applied to every cached list regardless of whether
// the signal satisfies that list's filter. Filters are not re-evaluated
// locally; correctness is recovered on the next refetch of the (now
// stale-eligible) list. updated/expired only touch entries that already
// match by identity, so they cannot introduce filter violations.
type Dispatcher struct {
	store   *cache.Store
	metrics *metrics.Registry
}

func NewDispatcher(store *cache.Store, reg *metrics.Registry) *Dispatcher {
	return &Dispatcher{store: store, metrics: reg}
}

// Apply runs the mutation table for one event. Invalid events are
// dropped with a log line; Apply itself is total.
func (d *Dispatcher) Apply(scope string, ev Event) {
	if err := ev.Validate(); err != nil {
		log.Warn().Err(err).Str("scope", scope).Msg("Dropping invalid event")
		return
	}

	start := time.Now()
	switch ev.Kind {
	case EventCreated:
		d.applyCreated(ev.Signal)
	case EventUpdated:
		d.applyUpdated(ev.Signal)
	case EventExpired:
		d.applyExpired(ev.Signal)
	}
	d.store.MarkStale(cache.AggregateKey())

	d.metrics.EventApplied(string(ev.Kind), scope, time.Since(start).Seconds())
	log.Debug().
		Str("kind", string(ev.Kind)).
		Str("scope", scope).
		Str("signal_id", ev.Signal.ID).
		Msg("Event applied to cache")
}

func (d *Dispatcher) applyCreated(sig models.Signal) {
	d.store.MutateAllLists(func(lr models.ListResult) models.ListResult {
		lr.Signals = append([]models.Signal{sig.Clone()}, lr.Signals...)
		lr.TotalCount++
		return lr
	})
}

func (d *Dispatcher) applyUpdated(sig models.Signal) {
	d.store.MutateAllLists(func(lr models.ListResult) models.ListResult {
		for i := range lr.Signals {
			if lr.Signals[i].ID == sig.ID {
				lr.Signals[i] = sig.Clone()
			}
		}
		return lr
	})
	d.store.MutateDetail(sig.ID, func(models.Signal) models.Signal {
		return sig.Clone()
	})
}

func (d *Dispatcher) applyExpired(sig models.Signal) {
	d.store.MutateAllLists(func(lr models.ListResult) models.ListResult {
		for i := range lr.Signals {
			if lr.Signals[i].ID == sig.ID {
				lr.Signals[i].IsExpired = true
			}
		}
		return lr
	})
	d.store.MutateDetail(sig.ID, func(s models.Signal) models.Signal {
		s.IsExpired = true
		return s
	})
}

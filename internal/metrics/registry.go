package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds the Prometheus instruments for the reconciliation
// engine. A nil *Registry is valid everywhere and records nothing, so
// components can be wired without metrics in tests.
type Registry struct {
	EventsApplied    *prometheus.CounterVec
	EventLag         prometheus.Histogram
	ChannelState     *prometheus.GaugeVec
	Reconnects       *prometheus.CounterVec
	OptimisticWrites *prometheus.CounterVec
	Rollbacks        prometheus.Counter
	RefreshRuns      *prometheus.CounterVec
	RefreshCoalesced prometheus.Counter
	CachedLists      prometheus.Gauge
	CachedDetails    prometheus.Gauge
}

// NewRegistry creates the instrument set and registers it on reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		EventsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalcache_events_applied_total",
				Help: "Signal events applied to the cache by kind and scope",
			},
			[]string{"kind", "scope"},
		),
		EventLag: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "signalcache_event_apply_seconds",
				Help:    "Time spent applying one event to every cache entry",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
			},
		),
		ChannelState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "signalcache_channel_open",
				Help: "1 when the scope's subscription channel is open",
			},
			[]string{"scope"},
		),
		Reconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalcache_reconnect_attempts_total",
				Help: "Reconnection attempts by scope",
			},
			[]string{"scope"},
		),
		OptimisticWrites: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalcache_optimistic_writes_total",
				Help: "Optimistic mutations by outcome (committed, rolled_back, rejected, discarded)",
			},
			[]string{"outcome"},
		),
		Rollbacks: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "signalcache_rollbacks_total",
				Help: "Cache restores performed after failed remote writes",
			},
		),
		RefreshRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "signalcache_refresh_runs_total",
				Help: "Refresh executions by trigger (manual, gesture)",
			},
			[]string{"trigger"},
		),
		RefreshCoalesced: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "signalcache_refresh_coalesced_total",
				Help: "Refresh calls absorbed by the single-flight guard",
			},
		),
		CachedLists: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "signalcache_cached_lists",
				Help: "Number of list results currently cached",
			},
		),
		CachedDetails: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "signalcache_cached_details",
				Help: "Number of detail records currently cached",
			},
		),
	}

	reg.MustRegister(
		r.EventsApplied, r.EventLag, r.ChannelState, r.Reconnects,
		r.OptimisticWrites, r.Rollbacks, r.RefreshRuns, r.RefreshCoalesced,
		r.CachedLists, r.CachedDetails,
	)
	return r
}

func (r *Registry) EventApplied(kind, scope string, seconds float64) {
	if r == nil {
		return
	}
	r.EventsApplied.WithLabelValues(kind, scope).Inc()
	r.EventLag.Observe(seconds)
}

func (r *Registry) SetChannelOpen(scope string, open bool) {
	if r == nil {
		return
	}
	v := 0.0
	if open {
		v = 1.0
	}
	r.ChannelState.WithLabelValues(scope).Set(v)
}

func (r *Registry) ReconnectAttempt(scope string) {
	if r == nil {
		return
	}
	r.Reconnects.WithLabelValues(scope).Inc()
}

func (r *Registry) OptimisticWrite(outcome string) {
	if r == nil {
		return
	}
	r.OptimisticWrites.WithLabelValues(outcome).Inc()
	if outcome == "rolled_back" {
		r.Rollbacks.Inc()
	}
}

func (r *Registry) RefreshRun(trigger string) {
	if r == nil {
		return
	}
	r.RefreshRuns.WithLabelValues(trigger).Inc()
}

func (r *Registry) RefreshAbsorbed() {
	if r == nil {
		return
	}
	r.RefreshCoalesced.Inc()
}

func (r *Registry) SetCacheSizes(lists, details int) {
	if r == nil {
		return
	}
	r.CachedLists.Set(float64(lists))
	r.CachedDetails.Set(float64(details))
}

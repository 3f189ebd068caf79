package cache

import (
	"sync"
	"time"

	"github.com/sawpanic/signalcache/internal/models"
)

// Store is the single shared mutable resource of the reconciliation
// engine: list results keyed by query fingerprint, detail records keyed
// by signal identity, and one analytics aggregate, each with freshness
// metadata. Every operation is synchronous and total; mutators never
// fail, they simply skip absent entries. All components mutate through
// the narrow primitives here, never by wholesale replacement, so that
// overlapping mutation sequences compose last-write-wins per entry.
type Store struct {
	mu        sync.RWMutex
	lists     map[models.Fingerprint]*listEntry
	details   map[string]*detailEntry
	aggregate *aggregateEntry

	mirror *DetailMirror
	now    func() time.Time
}

type listEntry struct {
	result    models.ListResult
	fetchedAt time.Time
	stale     bool
}

type detailEntry struct {
	signal    models.Signal
	fetchedAt time.Time
	stale     bool
}

type aggregateEntry struct {
	agg       models.Aggregate
	fetchedAt time.Time
	stale     bool
}

// ListEntry is the caller-facing view of one cached list result.
type ListEntry struct {
	Result    models.ListResult
	FetchedAt time.Time
	Stale     bool
}

// DetailEntry is the caller-facing view of one cached detail record.
type DetailEntry struct {
	Signal    models.Signal
	FetchedAt time.Time
	Stale     bool
}

// AggregateEntry is the caller-facing view of the analytics aggregate.
type AggregateEntry struct {
	Aggregate models.Aggregate
	FetchedAt time.Time
	Stale     bool
}

type Option func(*Store)

// WithDetailMirror attaches a write-through Redis mirror for detail
// records. A nil mirror is equivalent to omitting the option.
func WithDetailMirror(m *DetailMirror) Option {
	return func(s *Store) { s.mirror = m }
}

// WithClock overrides the freshness timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func NewStore(opts ...Option) *Store {
	s := &Store{
		lists:   make(map[models.Fingerprint]*listEntry),
		details: make(map[string]*detailEntry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetList installs a freshly fetched list result, replacing any previous
// entry and clearing its staleness.
func (s *Store) SetList(fp models.Fingerprint, lr models.ListResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists[fp] = &listEntry{result: dedupe(lr.Clone()), fetchedAt: s.now(), stale: false}
}

// GetList returns a deep copy of the entry for fp, if cached.
func (s *Store) GetList(fp models.Fingerprint) (ListEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.lists[fp]
	if !ok {
		return ListEntry{}, false
	}
	return ListEntry{Result: e.result.Clone(), FetchedAt: e.fetchedAt, Stale: e.stale}, true
}

// SetDetail installs a freshly fetched detail record and writes it
// through to the mirror when one is attached.
func (s *Store) SetDetail(sig models.Signal) {
	s.mu.Lock()
	s.details[sig.ID] = &detailEntry{signal: sig.Clone(), fetchedAt: s.now(), stale: false}
	s.mu.Unlock()
	s.mirror.put(sig)
}

// GetDetail returns a deep copy of the detail record for id, if cached.
func (s *Store) GetDetail(id string) (DetailEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.details[id]
	if !ok {
		return DetailEntry{}, false
	}
	return DetailEntry{Signal: e.signal.Clone(), FetchedAt: e.fetchedAt, Stale: e.stale}, true
}

// SetAggregate installs a freshly fetched analytics aggregate.
func (s *Store) SetAggregate(agg models.Aggregate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aggregate = &aggregateEntry{agg: agg.Clone(), fetchedAt: s.now(), stale: false}
}

// GetAggregate returns a copy of the aggregate, if cached.
func (s *Store) GetAggregate() (AggregateEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.aggregate == nil {
		return AggregateEntry{}, false
	}
	return AggregateEntry{Aggregate: s.aggregate.agg.Clone(), FetchedAt: s.aggregate.fetchedAt, Stale: s.aggregate.stale}, true
}

// MutateAllLists applies transform to every cached list result, skipping
// absent ones. The transform receives and returns a value; the store
// re-establishes the no-duplicate-identity invariant afterwards,
// preferring the later value in iteration order when a transform
// introduces a duplicate.
func (s *Store) MutateAllLists(transform func(models.ListResult) models.ListResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for fp, e := range s.lists {
		next := dedupe(transform(e.result.Clone()))
		s.lists[fp] = &listEntry{result: next, fetchedAt: e.fetchedAt, stale: e.stale}
	}
}

// MutateDetail applies transform to the detail record for id, if cached,
// and writes the result through to the mirror.
func (s *Store) MutateDetail(id string, transform func(models.Signal) models.Signal) {
	s.mu.Lock()
	e, ok := s.details[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	next := transform(e.signal.Clone())
	s.details[id] = &detailEntry{signal: next, fetchedAt: e.fetchedAt, stale: e.stale}
	s.mu.Unlock()
	s.mirror.put(next)
}

// MarkStale flags the addressed entries as outdated without refetching.
// Absent keys are ignored.
func (s *Store) MarkStale(keys ...Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		switch k.Kind {
		case KindList:
			if e, ok := s.lists[k.Fingerprint]; ok {
				e.stale = true
			}
		case KindDetail:
			if e, ok := s.details[k.SignalID]; ok {
				e.stale = true
			}
		case KindAggregate:
			if s.aggregate != nil {
				s.aggregate.stale = true
			}
		}
	}
}

// MarkAllListsStale flags every cached list result as outdated.
func (s *Store) MarkAllListsStale() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.lists {
		e.stale = true
	}
}

// ListFingerprints returns the fingerprints of every cached list result.
func (s *Store) ListFingerprints() []models.Fingerprint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Fingerprint, 0, len(s.lists))
	for fp := range s.lists {
		out = append(out, fp)
	}
	return out
}

// ListFingerprintsContaining returns the fingerprints of every cached
// list result that currently holds the given signal identity.
func (s *Store) ListFingerprintsContaining(id string) []models.Fingerprint {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Fingerprint
	for fp, e := range s.lists {
		for _, sig := range e.result.Signals {
			if sig.ID == id {
				out = append(out, fp)
				break
			}
		}
	}
	return out
}

// dedupe enforces the at-most-one-entry-per-identity invariant: the
// earliest position is kept, the value later in iteration order wins,
// and the total count drops by the number of duplicates removed.
func dedupe(lr models.ListResult) models.ListResult {
	seen := make(map[string]int, len(lr.Signals))
	out := lr.Signals[:0]
	for _, sig := range lr.Signals {
		if i, ok := seen[sig.ID]; ok {
			out[i] = sig
			continue
		}
		seen[sig.ID] = len(out)
		out = append(out, sig)
	}
	removed := len(lr.Signals) - len(out)
	lr.Signals = out
	lr.TotalCount -= removed
	if lr.TotalCount < 0 {
		lr.TotalCount = 0
	}
	return lr
}

package cache

import (
	"time"

	"github.com/sawpanic/signalcache/internal/models"
)

// Snapshot is an opaque capture of a set of store entries, including
// which of the addressed keys were absent, so Restore can reproduce the
// exact pre-capture state.
type Snapshot struct {
	lists   map[models.Fingerprint]*capturedList
	details map[string]*capturedDetail
	agg     *capturedAggregate
}

type capturedList struct {
	result    models.ListResult
	fetchedAt time.Time
	stale     bool
}

type capturedDetail struct {
	signal    models.Signal
	fetchedAt time.Time
	stale     bool
}

type capturedAggregate struct {
	present   bool
	agg       models.Aggregate
	fetchedAt time.Time
	stale     bool
}

// Snapshot deep-copies the entries addressed by keys. A key whose entry
// is absent is captured as absent and will be deleted again on restore.
func (s *Store) Snapshot(keys []Key) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		lists:   make(map[models.Fingerprint]*capturedList),
		details: make(map[string]*capturedDetail),
	}
	for _, k := range keys {
		switch k.Kind {
		case KindList:
			if e, ok := s.lists[k.Fingerprint]; ok {
				snap.lists[k.Fingerprint] = &capturedList{result: e.result.Clone(), fetchedAt: e.fetchedAt, stale: e.stale}
			} else {
				snap.lists[k.Fingerprint] = nil
			}
		case KindDetail:
			if e, ok := s.details[k.SignalID]; ok {
				snap.details[k.SignalID] = &capturedDetail{signal: e.signal.Clone(), fetchedAt: e.fetchedAt, stale: e.stale}
			} else {
				snap.details[k.SignalID] = nil
			}
		case KindAggregate:
			if s.aggregate != nil {
				snap.agg = &capturedAggregate{present: true, agg: s.aggregate.agg.Clone(), fetchedAt: s.aggregate.fetchedAt, stale: s.aggregate.stale}
			} else {
				snap.agg = &capturedAggregate{}
			}
		}
	}
	return snap
}

// SnapshotAll captures every list result plus the detail record for id.
// This is the footprint an optimistic mutation can touch.
func (s *Store) SnapshotAll(id string) Snapshot {
	fps := s.ListFingerprints()
	keys := make([]Key, 0, len(fps)+1)
	for _, fp := range fps {
		keys = append(keys, ListKey(fp))
	}
	keys = append(keys, DetailKey(id))
	return s.Snapshot(keys)
}

// Restore puts every captured entry back to its exact captured value,
// deleting entries that were absent at capture time. Entries outside the
// snapshot are untouched.
func (s *Store) Restore(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for fp, c := range snap.lists {
		if c == nil {
			delete(s.lists, fp)
			continue
		}
		s.lists[fp] = &listEntry{result: c.result.Clone(), fetchedAt: c.fetchedAt, stale: c.stale}
	}
	for id, c := range snap.details {
		if c == nil {
			delete(s.details, id)
			continue
		}
		s.details[id] = &detailEntry{signal: c.signal.Clone(), fetchedAt: c.fetchedAt, stale: c.stale}
	}
	if snap.agg != nil {
		if !snap.agg.present {
			s.aggregate = nil
		} else {
			s.aggregate = &aggregateEntry{agg: snap.agg.agg.Clone(), fetchedAt: snap.agg.fetchedAt, stale: snap.agg.stale}
		}
	}
}

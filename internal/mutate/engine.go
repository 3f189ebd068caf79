package mutate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/signalcache/internal/cache"
	"github.com/sawpanic/signalcache/internal/metrics"
	"github.com/sawpanic/signalcache/internal/models"
)

var (
	// ErrMutationInFlight rejects a second concurrent toggle on the same
	// signal identity. Retrying after the first settles is the caller's
	// responsibility.
	ErrMutationInFlight = errors.New("mutation already in flight for signal")

	// ErrMutation wraps a failed remote write. The cache has already
	// been rolled back to its pre-mutation snapshot when this surfaces.
	ErrMutation = errors.New("mutation error")
)

// RemoteWriter issues the server-side saved toggle and returns the
// authoritative new saved state.
type RemoteWriter interface {
	MutateSaved(ctx context.Context, signalID string) (bool, error)
}

// Intent is one in-flight speculative change.
type Intent struct {
	ID        uuid.UUID
	SignalID  string
	UserID    string
	StartedAt time.Time
}

// Engine applies speculative saved-state toggles: snapshot every entry
// the change can touch, mutate synchronously so the UI sees it at once,
// issue the remote write exactly once, then reconcile on success or
// restore the snapshot on failure. At most one intent per identity is
// in flight; a generation counter discards completions whose target was
// invalidated while the write was pending.
type Engine struct {
	store   *cache.Store
	remote  RemoteWriter
	metrics *metrics.Registry

	mu          sync.Mutex
	inflight    map[string]Intent
	generations map[string]uint64
}

func NewEngine(store *cache.Store, remote RemoteWriter, reg *metrics.Registry) *Engine {
	return &Engine{
		store:       store,
		remote:      remote,
		metrics:     reg,
		inflight:    make(map[string]Intent),
		generations: make(map[string]uint64),
	}
}

// ToggleSaved flips user membership in the target signal's saved_by set
// across every cached view, then confirms with the server. It returns
// the settled saved state.
func (e *Engine) ToggleSaved(ctx context.Context, signalID, userID string) (bool, error) {
	intent := Intent{ID: uuid.New(), SignalID: signalID, UserID: userID, StartedAt: time.Now()}

	e.mu.Lock()
	if _, busy := e.inflight[signalID]; busy {
		e.mu.Unlock()
		e.metrics.OptimisticWrite("rejected")
		return false, fmt.Errorf("%w: %s", ErrMutationInFlight, signalID)
	}
	e.inflight[signalID] = intent
	gen := e.generations[signalID]
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.inflight, signalID)
		e.mu.Unlock()
	}()

	// Snapshot before any mutation: the rollback contract is exact,
	// byte-for-byte restoration of every touched entry.
	snap := e.store.SnapshotAll(signalID)

	target := !e.currentSaved(signalID, userID)
	e.applySaved(signalID, userID, target)
	log.Debug().
		Str("intent_id", intent.ID.String()).
		Str("signal_id", signalID).
		Bool("target", target).
		Msg("Optimistic toggle applied")

	newSaved, err := e.remote.MutateSaved(ctx, signalID)
	if err != nil {
		if e.generationIs(signalID, gen) {
			e.store.Restore(snap)
			e.metrics.OptimisticWrite("rolled_back")
			log.Warn().Err(err).Str("signal_id", signalID).Msg("Remote write failed, cache rolled back")
		} else {
			e.metrics.OptimisticWrite("discarded")
			log.Debug().Str("signal_id", signalID).Msg("Discarding failed write for invalidated target")
		}
		return false, fmt.Errorf("%w: %v", ErrMutation, err)
	}

	if !e.generationIs(signalID, gen) {
		e.metrics.OptimisticWrite("discarded")
		return newSaved, nil
	}

	// The server's answer wins if it disagrees with the speculation.
	if newSaved != target {
		e.applySaved(signalID, userID, newSaved)
	}

	// Content already reflects the confirmed value; staleness marking
	// covers drift from events that arrived mid-flight.
	keys := []cache.Key{cache.DetailKey(signalID)}
	for _, fp := range e.store.ListFingerprintsContaining(signalID) {
		keys = append(keys, cache.ListKey(fp))
	}
	e.store.MarkStale(keys...)

	e.metrics.OptimisticWrite("committed")
	return newSaved, nil
}

// Invalidate bumps the generation for signalID so any completion still
// in flight is discarded instead of written into the store. Called when
// the originating scope is torn down.
func (e *Engine) Invalidate(signalID string) {
	e.mu.Lock()
	e.generations[signalID]++
	e.mu.Unlock()
}

// InFlight reports whether a toggle for signalID is currently pending.
func (e *Engine) InFlight(signalID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, busy := e.inflight[signalID]
	return busy
}

func (e *Engine) generationIs(signalID string, gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.generations[signalID] == gen
}

// currentSaved reads the best-known saved state for user: the detail
// record wins, then the first list occurrence, defaulting to unsaved.
func (e *Engine) currentSaved(signalID, userID string) bool {
	if de, ok := e.store.GetDetail(signalID); ok {
		return de.Signal.SavedBy.Has(userID)
	}
	for _, fp := range e.store.ListFingerprintsContaining(signalID) {
		if le, ok := e.store.GetList(fp); ok {
			for _, sig := range le.Result.Signals {
				if sig.ID == signalID {
					return sig.SavedBy.Has(userID)
				}
			}
		}
	}
	return false
}

// applySaved sets the membership across every cached view of the
// signal.
func (e *Engine) applySaved(signalID, userID string, saved bool) {
	setMembership := func(s models.Signal) models.Signal {
		if s.SavedBy == nil {
			s.SavedBy = models.NewIDSet()
		}
		if saved {
			s.SavedBy.Add(userID)
		} else {
			s.SavedBy.Remove(userID)
		}
		return s
	}
	e.store.MutateAllLists(func(lr models.ListResult) models.ListResult {
		for i := range lr.Signals {
			if lr.Signals[i].ID == signalID {
				lr.Signals[i] = setMembership(lr.Signals[i])
			}
		}
		return lr
	})
	e.store.MutateDetail(signalID, setMembership)
}

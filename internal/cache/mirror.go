package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/signalcache/internal/models"
)

const mirrorKeyPrefix = "signalcache:detail:"

// DetailMirror keeps a write-through Redis copy of detail records so a
// restarting process can warm its detail cache. Mirror writes are
// best-effort with a short timeout; a failed write is logged and the
// in-memory store stays authoritative.
type DetailMirror struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewDetailMirror(rdb *redis.Client, ttl time.Duration) *DetailMirror {
	return &DetailMirror{rdb: rdb, ttl: ttl}
}

func (m *DetailMirror) put(sig models.Signal) {
	if m == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	data, err := json.Marshal(sig)
	if err != nil {
		log.Error().Err(err).Str("signal_id", sig.ID).Msg("Failed to encode signal for mirror")
		return
	}
	if err := m.rdb.Set(ctx, mirrorKeyPrefix+sig.ID, data, m.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("signal_id", sig.ID).Msg("Detail mirror write failed")
	}
}

// Fetch loads one mirrored detail record, if present.
func (m *DetailMirror) Fetch(ctx context.Context, id string) (models.Signal, bool, error) {
	data, err := m.rdb.Get(ctx, mirrorKeyPrefix+id).Bytes()
	if err == redis.Nil {
		return models.Signal{}, false, nil
	}
	if err != nil {
		return models.Signal{}, false, fmt.Errorf("mirror get: %w", err)
	}
	var sig models.Signal
	if err := json.Unmarshal(data, &sig); err != nil {
		return models.Signal{}, false, fmt.Errorf("mirror decode: %w", err)
	}
	return sig, true, nil
}

// Warm loads every mirrored detail record into the store, marking each
// one stale so consumers refetch before trusting it.
func (m *DetailMirror) Warm(ctx context.Context, store *Store) (int, error) {
	keys, err := m.rdb.Keys(ctx, mirrorKeyPrefix+"*").Result()
	if err != nil {
		return 0, fmt.Errorf("mirror scan: %w", err)
	}

	loaded := 0
	for _, key := range keys {
		id := strings.TrimPrefix(key, mirrorKeyPrefix)
		sig, ok, err := m.Fetch(ctx, id)
		if err != nil {
			log.Warn().Err(err).Str("signal_id", id).Msg("Skipping unreadable mirror entry")
			continue
		}
		if !ok {
			continue
		}
		store.SetDetail(sig)
		store.MarkStale(DetailKey(sig.ID))
		loaded++
	}

	log.Info().Int("loaded", loaded).Msg("Detail cache warmed from mirror")
	return loaded, nil
}

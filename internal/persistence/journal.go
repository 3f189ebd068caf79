package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/signalcache/internal/dispatch"
)

const journalSchema = `
CREATE TABLE IF NOT EXISTS signal_events (
    id          BIGSERIAL PRIMARY KEY,
    scope       TEXT        NOT NULL,
    kind        TEXT        NOT NULL,
    signal_id   TEXT        NOT NULL,
    payload     JSONB       NOT NULL,
    received_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signal_events_scope_time
    ON signal_events (scope, received_at DESC);
`

// Journal is an append-only record of every event a channel accepts,
// for replay and debugging. It implements stream.EventSink. Writes are
// best-effort from the caller's point of view: a journal failure never
// blocks dispatch.
type Journal struct {
	db *sqlx.DB
}

// Entry is one journaled event row.
type Entry struct {
	ID         int64     `db:"id" json:"id"`
	Scope      string    `db:"scope" json:"scope"`
	Kind       string    `db:"kind" json:"kind"`
	SignalID   string    `db:"signal_id" json:"signal_id"`
	Payload    []byte    `db:"payload" json:"payload"`
	ReceivedAt time.Time `db:"received_at" json:"received_at"`
}

// Open connects to Postgres and ensures the journal table exists.
func Open(dsn string) (*Journal, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal connect: %w", err)
	}
	j := &Journal{db: db}
	if err := j.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Info().Msg("Event journal ready")
	return j, nil
}

// NewJournal wraps an existing connection, used by tests.
func NewJournal(db *sqlx.DB) *Journal {
	return &Journal{db: db}
}

func (j *Journal) migrate() error {
	if _, err := j.db.Exec(journalSchema); err != nil {
		return fmt.Errorf("journal migrate: %w", err)
	}
	return nil
}

// Record appends one event.
func (j *Journal) Record(ctx context.Context, scope string, ev dispatch.Event) error {
	payload, err := json.Marshal(ev.Signal)
	if err != nil {
		return fmt.Errorf("journal encode: %w", err)
	}
	receivedAt := ev.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now()
	}

	_, err = j.db.ExecContext(ctx,
		`INSERT INTO signal_events (scope, kind, signal_id, payload, received_at) VALUES ($1, $2, $3, $4, $5)`,
		scope, string(ev.Kind), ev.Signal.ID, payload, receivedAt)
	if err != nil {
		return fmt.Errorf("journal insert: %w", err)
	}
	return nil
}

// Recent returns the latest events for a scope, newest first.
func (j *Journal) Recent(ctx context.Context, scope string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	var entries []Entry
	err := j.db.SelectContext(ctx, &entries,
		`SELECT id, scope, kind, signal_id, payload, received_at
		   FROM signal_events
		  WHERE scope = $1
		  ORDER BY received_at DESC
		  LIMIT $2`,
		scope, limit)
	if err != nil {
		return nil, fmt.Errorf("journal select: %w", err)
	}
	return entries, nil
}

// Close releases the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}

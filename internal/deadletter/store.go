package deadletter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Entry is one undelivered message.
type Entry struct {
	ID         uuid.UUID
	EventType  string
	Payload    json.RawMessage
	Reason     string
	Attempts   int
	EnqueuedAt time.Time
	RecordedAt time.Time
}

// DB is the subset of pgxpool.Pool used by Store.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Inserter persists entries. Store implements it.
type Inserter interface {
	Insert(ctx context.Context, entries []Entry) (int, error)
}

// Store writes entries to a PostgreSQL table.
type Store struct {
	db    DB
	table string // quoted identifier
}

// NewStore creates a store for table.
func NewStore(db DB, table string) *Store {
	return &Store{
		db:    db,
		table: pgx.Identifier{table}.Sanitize(),
	}
}

// EnsureSchema creates the table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id          UUID PRIMARY KEY,
			event_type  TEXT NOT NULL,
			payload     JSONB,
			reason      TEXT NOT NULL,
			attempts    INTEGER NOT NULL DEFAULT 0,
			enqueued_at TIMESTAMPTZ NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL
		)`, s.table))
	if err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Insert writes entries using pgx.Batch with ON CONFLICT DO NOTHING and
// returns the number of rows inserted.
func (s *Store) Insert(ctx context.Context, entries []Entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, event_type, payload, reason, attempts, enqueued_at, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`, s.table)

	batch := &pgx.Batch{}
	for _, e := range entries {
		var payload any
		if len(e.Payload) > 0 {
			payload = string(e.Payload)
		}
		batch.Queue(query, e.ID, e.EventType, payload, e.Reason, e.Attempts, e.EnqueuedAt, e.RecordedAt)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for range entries {
		ct, err := results.Exec()
		if err != nil {
			return inserted, fmt.Errorf("insert dead letter: %w", err)
		}
		inserted += int(ct.RowsAffected())
	}
	return inserted, nil
}

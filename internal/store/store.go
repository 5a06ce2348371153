// Package store persists the source memories in PostgreSQL. The inverted
// index is a derived cache over this corpus: a full rebuild streams every
// row through the manager's add path.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/recallhq/recall/internal/memory"
	"github.com/recallhq/recall/pkg/config"
	pkgerrors "github.com/recallhq/recall/pkg/errors"
)

const schema = `
CREATE TABLE IF NOT EXISTS memories (
	id         TEXT PRIMARY KEY,
	content    TEXT NOT NULL,
	type       TEXT NOT NULL DEFAULT '',
	tags       TEXT[] NOT NULL DEFAULT '{}',
	source     TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories (created_at);
`

// Store wraps the memories table.
type Store struct {
	db *sql.DB
}

// New opens a connection pool, verifies it with a ping, and ensures the
// schema exists.
func New(cfg config.PostgresConfig) (*Store, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Put inserts or replaces a memory.
func (s *Store) Put(ctx context.Context, mem memory.Memory) error {
	if mem.ID == "" {
		return fmt.Errorf("%w: empty memory id", pkgerrors.ErrInvalidInput)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memories (id, content, type, tags, source, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE SET
			content    = EXCLUDED.content,
			type       = EXCLUDED.type,
			tags       = EXCLUDED.tags,
			source     = EXCLUDED.source,
			updated_at = now()`,
		mem.ID, mem.Content, mem.Type, pq.Array(mem.Tags), mem.Source,
	)
	if err != nil {
		return fmt.Errorf("upserting memory %s: %w", mem.ID, err)
	}
	return nil
}

// Get returns the memory with the given id.
func (s *Store) Get(ctx context.Context, id string) (memory.Memory, error) {
	var mem memory.Memory
	var tags pq.StringArray
	err := s.db.QueryRowContext(ctx, `
		SELECT id, content, type, tags, source, created_at, updated_at
		FROM memories WHERE id = $1`, id,
	).Scan(&mem.ID, &mem.Content, &mem.Type, &tags, &mem.Source, &mem.CreatedAt, &mem.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return memory.Memory{}, fmt.Errorf("memory %s: %w", id, pkgerrors.ErrMemoryNotFound)
	}
	if err != nil {
		return memory.Memory{}, fmt.Errorf("loading memory %s: %w", id, err)
	}
	mem.Tags = tags
	return mem, nil
}

// Delete removes the memory with the given id. Deleting an unknown id is
// not an error, matching the index's removal semantics.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE id = $1`, id); err != nil {
		return fmt.Errorf("deleting memory %s: %w", id, err)
	}
	return nil
}

// All streams the full corpus snapshot in insertion order, for rebuilds.
func (s *Store) All(ctx context.Context) ([]memory.Memory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, content, type, tags, source, created_at, updated_at
		FROM memories ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("listing memories: %w", err)
	}
	defer rows.Close()

	var mems []memory.Memory
	for rows.Next() {
		var mem memory.Memory
		var tags pq.StringArray
		if err := rows.Scan(&mem.ID, &mem.Content, &mem.Type, &tags, &mem.Source,
			&mem.CreatedAt, &mem.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning memory row: %w", err)
		}
		mem.Tags = tags
		mems = append(mems, mem)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating memories: %w", err)
	}
	return mems, nil
}

// Count returns the number of stored memories.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM memories`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting memories: %w", err)
	}
	return n, nil
}

// Close closes the underlying pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Package store provides an optional durability side-channel for the
// Script Registry: a pgx-backed table of published scripts, written to
// on every publish so a restarted process can rehydrate without every
// client re-publishing its scripts. The in-memory registry chain in
// package dyngen is always the runtime authority — this package is
// never on the RT path and a Store failure never blocks a publish.
package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/capital-g/dyngend/internal/domain"
)

// Store persists registry snapshots.
type Store interface {
	// SaveScript upserts the record published under hash.
	SaveScript(ctx context.Context, hash domain.ScriptHash, rec *domain.ScriptRecord) error

	// DeleteScript removes a previously persisted record.
	DeleteScript(ctx context.Context, hash domain.ScriptHash) error

	// LoadAll returns every persisted script, for rehydrating the
	// registry at startup.
	LoadAll(ctx context.Context) (map[domain.ScriptHash]*domain.ScriptRecord, error)

	Close()
}

// PostgresStore is a pgx/v5 pool-backed Store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Open connects to Postgres and ensures the scripts table exists.
func Open(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connecting to postgres: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS dyngen_scripts (
			hash INTEGER PRIMARY KEY,
			record JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`)
	if err != nil {
		return fmt.Errorf("store: ensuring schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveScript(ctx context.Context, hash domain.ScriptHash, rec *domain.ScriptRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: marshaling record: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO dyngen_scripts (hash, record, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (hash) DO UPDATE SET record = $2, updated_at = now()
	`, int32(hash), data)
	if err != nil {
		return fmt.Errorf("store: saving script %d: %w", hash, err)
	}
	return nil
}

func (s *PostgresStore) DeleteScript(ctx context.Context, hash domain.ScriptHash) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dyngen_scripts WHERE hash = $1`, int32(hash))
	if err != nil {
		return fmt.Errorf("store: deleting script %d: %w", hash, err)
	}
	return nil
}

func (s *PostgresStore) LoadAll(ctx context.Context) (map[domain.ScriptHash]*domain.ScriptRecord, error) {
	rows, err := s.pool.Query(ctx, `SELECT hash, record FROM dyngen_scripts`)
	if err != nil {
		return nil, fmt.Errorf("store: loading scripts: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.ScriptHash]*domain.ScriptRecord)
	for rows.Next() {
		var hash int32
		var data []byte
		if err := rows.Scan(&hash, &data); err != nil {
			return nil, fmt.Errorf("store: scanning script row: %w", err)
		}
		var rec domain.ScriptRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("store: unmarshaling script %d: %w", hash, err)
		}
		out[domain.ScriptHash(hash)] = &rec
	}
	return out, rows.Err()
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keycanary.
//
// go-keycanary is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package pgstore keeps canaries in PostgreSQL through a pgx pool. Several
// processes may share one database; the primary key makes canary creation
// safe across them.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jeremyhahn/go-keycanary/pkg/canary"
	"github.com/jeremyhahn/go-keycanary/pkg/types"
)

const uniqueViolation = "23505"

const schema = `
	CREATE TABLE IF NOT EXISTS encryption_key_canaries (
		id                     UUID PRIMARY KEY,
		encrypted_canary_value BYTEA NOT NULL,
		nonce                  BYTEA,
		salt                   BYTEA,
		created_at             TIMESTAMPTZ NOT NULL DEFAULT now()
	)
`

// Store implements canary.Store on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// New returns a store using pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Connect opens a pool for dsn and verifies connectivity.
func Connect(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}
	return New(pool), nil
}

// Migrate creates the canary table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("pgstore: create table: %w", err)
	}
	return nil
}

// FindAll implements canary.Store.
func (s *Store) FindAll(ctx context.Context) ([]*types.EncryptionKeyCanary, error) {
	query := `
		SELECT id, encrypted_canary_value, nonce, salt, created_at
		FROM encryption_key_canaries
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("pgstore: find all: %w", err)
	}
	defer rows.Close()

	var out []*types.EncryptionKeyCanary
	for rows.Next() {
		var c types.EncryptionKeyCanary
		if err := rows.Scan(&c.ID, &c.EncryptedCanaryValue, &c.Nonce, &c.Salt, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("pgstore: scan: %w", err)
		}
		c.CreatedAt = c.CreatedAt.UTC()
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: find all: %w", err)
	}
	return out, nil
}

// Save implements canary.Store.
func (s *Store) Save(ctx context.Context, c *types.EncryptionKeyCanary) (*types.EncryptionKeyCanary, error) {
	stored := canary.Prepare(c)
	query := `
		INSERT INTO encryption_key_canaries (id, encrypted_canary_value, nonce, salt, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := s.pool.Exec(ctx, query, stored.ID, stored.EncryptedCanaryValue, stored.Nonce, stored.Salt, stored.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, fmt.Errorf("%w: %s", canary.ErrDuplicateCanary, stored.ID)
		}
		return nil, fmt.Errorf("pgstore: insert: %w", err)
	}
	return stored, nil
}

// Close closes the pool.
func (s *Store) Close() {
	s.pool.Close()
}

var _ canary.Store = (*Store)(nil)

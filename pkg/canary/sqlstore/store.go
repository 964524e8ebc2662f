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

// Package sqlstore keeps canaries in the encryption_key_canaries table of
// a SQL database through bun.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/jeremyhahn/go-keycanary/pkg/canary"
	"github.com/jeremyhahn/go-keycanary/pkg/types"
)

type canaryRecord struct {
	bun.BaseModel `bun:"table:encryption_key_canaries"`

	ID                   uuid.UUID `bun:"id,pk,type:varchar(36)"`
	EncryptedCanaryValue []byte    `bun:"encrypted_canary_value,notnull"`
	Nonce                []byte    `bun:"nonce"`
	Salt                 []byte    `bun:"salt"`
	CreatedAt            time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
}

// Store implements canary.Store on a bun database.
type Store struct {
	db *bun.DB
}

// New returns a store using db.
func New(db *bun.DB) *Store {
	return &Store{db: db}
}

// OpenSQLite opens a SQLite database with the sqliteshim driver, which
// picks the cgo or pure Go SQLite implementation at build time.
func OpenSQLite(dsn string) (*bun.DB, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open: %w", err)
	}
	return bun.NewDB(sqldb, sqlitedialect.New()), nil
}

// Migrate creates the canary table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.NewCreateTable().Model((*canaryRecord)(nil)).IfNotExists().Exec(ctx)
	if err != nil {
		return fmt.Errorf("sqlstore: create table: %w", err)
	}
	return nil
}

// FindAll implements canary.Store.
func (s *Store) FindAll(ctx context.Context) ([]*types.EncryptionKeyCanary, error) {
	var records []canaryRecord
	err := s.db.NewSelect().
		Model(&records).
		OrderExpr("created_at ASC, id ASC").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlstore: find all: %w", err)
	}

	out := make([]*types.EncryptionKeyCanary, 0, len(records))
	for i := range records {
		out = append(out, fromRecord(&records[i]))
	}
	return out, nil
}

// Save implements canary.Store.
func (s *Store) Save(ctx context.Context, c *types.EncryptionKeyCanary) (*types.EncryptionKeyCanary, error) {
	stored := canary.Prepare(c)
	if _, err := s.db.NewInsert().Model(toRecord(stored)).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %s", canary.ErrDuplicateCanary, stored.ID)
		}
		return nil, fmt.Errorf("sqlstore: insert: %w", err)
	}
	return stored, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func toRecord(c *types.EncryptionKeyCanary) *canaryRecord {
	return &canaryRecord{
		ID:                   c.ID,
		EncryptedCanaryValue: c.EncryptedCanaryValue,
		Nonce:                c.Nonce,
		Salt:                 c.Salt,
		CreatedAt:            c.CreatedAt,
	}
}

func fromRecord(r *canaryRecord) *types.EncryptionKeyCanary {
	return &types.EncryptionKeyCanary{
		ID:                   r.ID,
		EncryptedCanaryValue: r.EncryptedCanaryValue,
		Nonce:                r.Nonce,
		Salt:                 r.Salt,
		CreatedAt:            r.CreatedAt.UTC(),
	}
}

func isUniqueViolation(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "duplicate key")
}

var _ canary.Store = (*Store)(nil)

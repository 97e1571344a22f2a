// Package postgres persists the router configuration as a single JSONB row.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bissquit/push-garden/internal/domain"
	"github.com/bissquit/push-garden/internal/routercfg"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store implements routercfg.Store using PostgreSQL.
type Store struct {
	db *pgxpool.Pool
}

// NewStore creates a new PostgreSQL-backed config store.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Load reads the persisted flags document and merges it over the defaults.
// A missing row yields the defaults untouched.
func (s *Store) Load(ctx context.Context) (domain.RouterConfig, error) {
	var doc []byte
	err := s.db.QueryRow(ctx, `SELECT doc FROM router_config WHERE id = 1`).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return routercfg.Defaults(), nil
		}
		return domain.RouterConfig{}, fmt.Errorf("load router config: %w", err)
	}
	return decodeOverDefaults(doc)
}

// Save applies a partial patch to the stored config and persists the result.
// The read-modify-write runs in a transaction holding a row lock, so
// concurrent patches serialize instead of overwriting each other's fields.
func (s *Store) Save(ctx context.Context, patch routercfg.Patch) (domain.RouterConfig, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.RouterConfig{}, fmt.Errorf("begin save router config: %w", err)
	}
	defer tx.Rollback(ctx)

	cfg := routercfg.Defaults()
	var doc []byte
	err = tx.QueryRow(ctx, `SELECT doc FROM router_config WHERE id = 1 FOR UPDATE`).Scan(&doc)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		// The migration seeds the row, but tolerate its absence.
	case err != nil:
		return domain.RouterConfig{}, fmt.Errorf("load router config: %w", err)
	default:
		if cfg, err = decodeOverDefaults(doc); err != nil {
			return domain.RouterConfig{}, err
		}
	}

	cfg = routercfg.Apply(cfg, patch)

	doc, err = json.Marshal(cfg)
	if err != nil {
		return domain.RouterConfig{}, fmt.Errorf("encode router config: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO router_config (id, doc, updated_at)
		VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = NOW()
	`, doc)
	if err != nil {
		return domain.RouterConfig{}, fmt.Errorf("save router config: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.RouterConfig{}, fmt.Errorf("commit router config: %w", err)
	}
	return cfg, nil
}

// decodeOverDefaults unmarshals the stored document over the defaults
// struct: absent fields keep their default values, present categories
// overwrite per key.
func decodeOverDefaults(doc []byte) (domain.RouterConfig, error) {
	cfg := routercfg.Defaults()
	if err := json.Unmarshal(doc, &cfg); err != nil {
		return domain.RouterConfig{}, fmt.Errorf("decode router config: %w", err)
	}
	return cfg, nil
}

// Package noncecounters persists high-water marks of nonce counters.
package noncecounters

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/dmitrijs2005/spots/internal/dbx"
)

var ErrBlockTooLarge = errors.New("nonce block too large")

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Reserve(ctx context.Context, name string, n uint64) (uint64, error) {
	if n == 0 || n > math.MaxInt64 {
		return 0, ErrBlockTooLarge
	}

	query :=
		`INSERT INTO nonce_counters (name, next)
		 VALUES ($1, $2)
		 ON CONFLICT (name) DO UPDATE SET next = nonce_counters.next + EXCLUDED.next
		 RETURNING next
		 `

	var end int64
	if err := r.db.QueryRowContext(ctx, query, name, int64(n)).Scan(&end); err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	if end < int64(n) {
		return 0, fmt.Errorf("db error: counter %q went backwards", name)
	}

	return uint64(end) - n, nil
}

func (r *PostgresRepository) Exists(ctx context.Context, name string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM nonce_counters WHERE name = $1)`

	var ok bool
	if err := r.db.QueryRowContext(ctx, query, name).Scan(&ok); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return ok, nil
}

func (r *PostgresRepository) Mark(ctx context.Context, name string) error {
	query :=
		`INSERT INTO nonce_counters (name, next)
		 VALUES ($1, 0)
		 ON CONFLICT (name) DO NOTHING
		 `

	if _, err := r.db.ExecContext(ctx, query, name); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Package identitykeys persists encrypted per-user identity keys.
package identitykeys

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/spots/internal/common"
	"github.com/dmitrijs2005/spots/internal/dbx"
	"github.com/dmitrijs2005/spots/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, key *models.IdentityKey) (*models.IdentityKey, error) {
	query :=
		`INSERT INTO identity_keys (user_id, envelope, public_key)
		 VALUES ($1, $2, $3)
		 RETURNING created_at, updated_at
		 `

	err := r.db.QueryRowContext(ctx, query, key.UserID, key.Envelope, key.PublicKey).
		Scan(&key.CreatedAt, &key.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return key, nil
}

func (r *PostgresRepository) Get(ctx context.Context, userID string) (*models.IdentityKey, error) {
	query :=
		`SELECT user_id, envelope, public_key, created_at, updated_at FROM identity_keys
		 WHERE user_id = $1
		 `

	key := &models.IdentityKey{}
	err := r.db.QueryRowContext(ctx, query, userID).
		Scan(&key.UserID, &key.Envelope, &key.PublicKey, &key.CreatedAt, &key.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return key, nil
}

// Replace overwrites the envelope and public key of an existing record.
func (r *PostgresRepository) Replace(ctx context.Context, key *models.IdentityKey) (*models.IdentityKey, error) {
	query :=
		`UPDATE identity_keys SET envelope = $2, public_key = $3, updated_at = now()
		 WHERE user_id = $1
		 RETURNING created_at, updated_at
		 `

	err := r.db.QueryRowContext(ctx, query, key.UserID, key.Envelope, key.PublicKey).
		Scan(&key.CreatedAt, &key.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	return key, nil
}

// ReplaceIf swaps the envelope only while the stored one still equals old.
// It reports false when the row was changed or removed in the meantime.
func (r *PostgresRepository) ReplaceIf(ctx context.Context, key *models.IdentityKey, old []byte) (bool, error) {
	query :=
		`UPDATE identity_keys SET envelope = $2, public_key = $3, updated_at = now()
		 WHERE user_id = $1 AND envelope = $4
		 `

	res, err := r.db.ExecContext(ctx, query, key.UserID, key.Envelope, key.PublicKey, old)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}

	return n == 1, nil
}
